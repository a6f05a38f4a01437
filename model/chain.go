package model

// ChainPattern selects which of the six declarative execution patterns a
// RuleChain implements.
type ChainPattern string

const (
	PatternConditional     ChainPattern = "conditional"
	PatternSequential      ChainPattern = "sequential"
	PatternRouting         ChainPattern = "routing"
	PatternAccumulative    ChainPattern = "accumulative"
	PatternComplexWorkflow ChainPattern = "complex-workflow"
	PatternFluentBuilder   ChainPattern = "fluent-builder"
)

// RuleChain is modeled as a sum type: exactly one of the pattern-specific
// configuration fields is populated, selected by Pattern. Dispatch in the
// Rule Chain Executor switches on Pattern rather than using a type switch
// over an interface, since all six configurations are known up front and
// stored in one Registry-held value.
type RuleChain struct {
	ID      string
	Name    string
	Pattern ChainPattern
	Metadata Metadata

	Conditional     *ConditionalChainConfig
	Sequential      *SequentialChainConfig
	Routing         *RoutingChainConfig
	Accumulative    *AccumulativeChainConfig
	ComplexWorkflow *ComplexWorkflowConfig
	FluentBuilder   *FluentBuilderConfig
}

// ConditionalChainConfig backs Pattern 1.
type ConditionalChainConfig struct {
	TriggerRule   string
	OnTriggerRules   []string
	OnNoTriggerRules []string
}

// SequentialStage is one step of Pattern 2.
type SequentialStage struct {
	Expression     string
	OutputVariable string
}

// SequentialChainConfig backs Pattern 2.
type SequentialChainConfig struct {
	Stages []SequentialStage
}

// RoutingChainConfig backs Pattern 3.
type RoutingChainConfig struct {
	RouterExpression string
	Routes           map[string][]string // route key -> rule ids
	DefaultRoute     string
	HasDefault       bool
}

// RulePriorityClass is used by accumulative "priority-based" selection.
type RulePriorityClass string

const (
	PriorityHigh   RulePriorityClass = "HIGH"
	PriorityMedium RulePriorityClass = "MEDIUM"
	PriorityLow    RulePriorityClass = "LOW"
)

// Rank returns an ordinal where HIGH > MEDIUM > LOW, for threshold comparisons.
func (p RulePriorityClass) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	default:
		return 1
	}
}

// AccumulationRule is one scored contributor in Pattern 4.
type AccumulationRule struct {
	ID        string
	Condition string // numeric-returning expression
	Weight    float64
	Priority  RulePriorityClass
}

// SelectionStrategy chooses which AccumulationRules contribute.
type SelectionStrategy string

const (
	SelectAll              SelectionStrategy = "all"
	SelectWeightThreshold  SelectionStrategy = "weight-threshold"
	SelectTopWeighted      SelectionStrategy = "top-weighted"
	SelectPriorityBased    SelectionStrategy = "priority-based"
	SelectDynamicThreshold SelectionStrategy = "dynamic-threshold"
)

// RuleSelectionConfig configures which strategy §4.8 Pattern 4 step 1 uses.
type RuleSelectionConfig struct {
	Strategy           SelectionStrategy
	Threshold          float64
	MaxRules           int
	MinPriority        RulePriorityClass
	ThresholdExpression string
}

// AccumulativeChainConfig backs Pattern 4.
type AccumulativeChainConfig struct {
	AccumulatorVariable string
	InitialValue        float64
	Rules               []AccumulationRule
	Selection           RuleSelectionConfig
	FinalDecisionRule   string
}

// FailureAction controls complex-workflow behavior when a stage fails.
type FailureAction string

const (
	FailureTerminate FailureAction = "terminate"
	FailureContinue  FailureAction = "continue"
)

// ConditionalExecution is the branch form of a workflow stage, as an
// alternative to a flat Rules list (spec §9 Open Question: the uniform
// shape is a plain Rules list OR this ConditionalExecution block, never
// both — mixing the two is rejected at validation time).
type ConditionalExecution struct {
	Condition    string
	OnTrueRules  []string
	OnFalseRules []string
}

// WorkflowStage is one node of the complex-workflow DAG.
type WorkflowStage struct {
	ID                   string
	DependsOn            []string
	Rules                []string
	Conditional          *ConditionalExecution
	OutputVariable       string
	FailureAction        FailureAction
}

// ComplexWorkflowConfig backs Pattern 5.
type ComplexWorkflowConfig struct {
	Stages []WorkflowStage
}

// FluentNode is one node of the Pattern 6 decision tree, recursively
// carrying its success/failure children.
type FluentNode struct {
	ID        string
	Rule      string
	OnSuccess *FluentNode
	OnFailure *FluentNode
}

// FluentBuilderConfig backs Pattern 6.
type FluentBuilderConfig struct {
	Root     *FluentNode
	MaxDepth int // 0 means "use engine default" (spec default 20)
}

// DefaultFluentMaxDepth is invariant 9's default recursion bound.
const DefaultFluentMaxDepth = 20
