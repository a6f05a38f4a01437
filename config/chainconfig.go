package config

// These raw*Config structs describe the six rule-chain configuration
// shapes (spec §4.8) as mapstructure targets; decodeConfiguration
// fills one of them from a rawRuleChain's generic Configuration map,
// selected by the sibling "pattern" field.

type rawConditionalConfig struct {
	TriggerRule      string   `mapstructure:"trigger-rule"`
	OnTriggerRules   []string `mapstructure:"on-trigger-rules"`
	OnNoTriggerRules []string `mapstructure:"on-no-trigger-rules"`
}

type rawSequentialStage struct {
	Expression     string `mapstructure:"expression"`
	OutputVariable string `mapstructure:"output-variable"`
}

type rawSequentialConfig struct {
	Stages []rawSequentialStage `mapstructure:"stages"`
}

type rawRoutingConfig struct {
	RouterExpression string              `mapstructure:"router-expression"`
	Routes           map[string][]string `mapstructure:"routes"`
	DefaultRoute     string              `mapstructure:"default-route"`
}

type rawAccumulationRule struct {
	ID        string  `mapstructure:"id"`
	Condition string  `mapstructure:"condition"`
	Weight    float64 `mapstructure:"weight"`
	Priority  string  `mapstructure:"priority"`
}

type rawRuleSelection struct {
	Strategy            string  `mapstructure:"strategy"`
	Threshold           float64 `mapstructure:"threshold"`
	MaxRules            int     `mapstructure:"max-rules"`
	MinPriority         string  `mapstructure:"min-priority"`
	ThresholdExpression string  `mapstructure:"threshold-expression"`
}

type rawAccumulativeConfig struct {
	AccumulatorVariable string              `mapstructure:"accumulator-variable"`
	InitialValue        float64             `mapstructure:"initial-value"`
	Rules               []rawAccumulationRule `mapstructure:"accumulation-rules"`
	RuleSelection       rawRuleSelection    `mapstructure:"rule-selection"`
	FinalDecisionRule   string              `mapstructure:"final-decision-rule"`
}

type rawConditionalExecution struct {
	Condition    string   `mapstructure:"condition"`
	OnTrue       struct {
		Rules []string `mapstructure:"rules"`
	} `mapstructure:"on-true"`
	OnFalse struct {
		Rules []string `mapstructure:"rules"`
	} `mapstructure:"on-false"`
}

type rawWorkflowStage struct {
	ID                   string                   `mapstructure:"id"`
	DependsOn            []string                 `mapstructure:"depends-on"`
	Rules                []string                 `mapstructure:"rules"`
	ConditionalExecution *rawConditionalExecution `mapstructure:"conditional-execution"`
	OutputVariable       string                   `mapstructure:"output-variable"`
	FailureAction        string                   `mapstructure:"failure-action"`
}

type rawComplexWorkflowConfig struct {
	Stages []rawWorkflowStage `mapstructure:"stages"`
}

type rawFluentNode struct {
	ID        string         `mapstructure:"id"`
	Rule      string         `mapstructure:"rule"`
	OnSuccess *rawFluentRule `mapstructure:"on-success"`
	OnFailure *rawFluentRule `mapstructure:"on-failure"`
}

type rawFluentRule struct {
	Rule rawFluentNode `mapstructure:"rule"`
}

type rawFluentBuilderConfig struct {
	Root     rawFluentNode `mapstructure:"root-rule"`
	MaxDepth int           `mapstructure:"max-depth"`
}
