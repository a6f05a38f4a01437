package config

import (
	"fmt"
	"strings"

	apexclock "github.com/apex-rules/apex/clock"
	"github.com/apex-rules/apex/model"
)

// builder accumulates validation errors while translating one rawDocument
// into model objects, matching the "structured validation report" in
// spec §4.2 rather than failing on the first problem found.
type builder struct {
	clock   apexclock.Clock
	errs    []string
	subject string // current file path, for error messages
}

func (b *builder) fail(format string, args ...any) {
	b.errs = append(b.errs, fmt.Sprintf("%s: %s", b.subject, fmt.Sprintf(format, args...)))
}

func (b *builder) stamp(m rawEntityMetadata) model.Metadata {
	now := b.clock.Now()
	return model.Metadata{
		Owner:          m.Owner,
		Domain:         m.Domain,
		Tags:           append([]string(nil), m.Tags...),
		EffectiveDate:  m.EffectiveDate,
		ExpirationDate: m.ExpirationDate,
		CreatedAt:      now,
		ModifiedAt:     now,
		Extra:          m.Extra,
	}
}

func toSourceField(raw string) model.SourceField {
	if strings.HasPrefix(raw, "#") {
		return model.SourceField{IsExpression: true, Value: raw}
	}
	return model.SourceField{Value: raw}
}

func (b *builder) fieldMapping(raw rawFieldMapping) model.FieldMapping {
	return model.FieldMapping{
		Source:         toSourceField(raw.SourceField),
		TargetField:    raw.TargetField,
		Transformation: raw.Transformation,
	}
}

func (b *builder) rule(raw rawRule) *model.Rule {
	if raw.ID == "" {
		b.fail("rule missing id")
		return nil
	}
	if raw.Condition == "" {
		b.fail("rule %s missing condition", raw.ID)
	}
	priority := model.DefaultPriority
	if raw.Priority != nil {
		priority = *raw.Priority
	}
	categories := make(map[string]struct{}, len(raw.Categories))
	for _, c := range raw.Categories {
		categories[c] = struct{}{}
	}
	return &model.Rule{
		ID:             raw.ID,
		Name:           raw.Name,
		Condition:      raw.Condition,
		SuccessMessage: raw.Message,
		Severity:       model.ParseSeverity(raw.Severity),
		Priority:       priority,
		Categories:     categories,
		Dependencies:   raw.DependsOn,
		Metadata:       b.stamp(raw.Metadata),
	}
}

func (b *builder) ruleGroup(raw rawRuleGroup) *model.RuleGroup {
	if raw.ID == "" {
		b.fail("rule group missing id")
		return nil
	}
	op := model.Operator(strings.ToUpper(raw.Operator))
	if op != model.OperatorAND && op != model.OperatorOR {
		b.fail("rule group %s has invalid operator %q", raw.ID, raw.Operator)
		op = model.OperatorAND
	}
	priority := model.DefaultPriority
	if raw.Priority != nil {
		priority = *raw.Priority
	}
	shortCircuit := true
	if raw.StopOnFirstFailure != nil {
		shortCircuit = *raw.StopOnFirstFailure
	}

	seen := make(map[int]bool)
	var members []model.RuleReference
	addRef := func(targetID string, isGroup bool, seq int, enabled *bool, override *int) {
		en := true
		if enabled != nil {
			en = *enabled
		}
		if seen[seq] {
			b.fail("rule group %s has duplicate sequence number %d", raw.ID, seq)
		}
		seen[seq] = true
		members = append(members, model.RuleReference{
			TargetID:         targetID,
			TargetIsGroup:    isGroup,
			Sequence:         seq,
			Enabled:          en,
			OverridePriority: override,
		})
	}
	for i, id := range raw.RuleIDs {
		addRef(id, false, i, nil, nil)
	}
	for _, ref := range raw.RuleReferences {
		addRef(ref.RuleID, false, ref.Sequence, ref.Enabled, ref.OverridePriority)
	}
	for _, ref := range raw.RuleGroupReferences {
		addRef(ref.RuleGroupID, true, ref.Sequence, ref.Enabled, ref.OverridePriority)
	}

	categories := make(map[string]struct{}, len(raw.Categories))
	for _, c := range raw.Categories {
		categories[c] = struct{}{}
	}

	return &model.RuleGroup{
		ID:                 raw.ID,
		Name:               raw.Name,
		Operator:           op,
		Priority:           priority,
		Categories:         categories,
		Members:            members,
		ShortCircuit:       shortCircuit,
		Parallel:           raw.ParallelExecution,
		Debug:              raw.Debug,
		StopOnFirstFailure: shortCircuit,
		TimeoutMillis:      raw.TimeoutMillis,
	}
}

func (b *builder) dataset(raw rawDataset) *model.Dataset {
	return &model.Dataset{Rows: raw.Rows, KeyField: raw.KeyField}
}

func (b *builder) lookupSpec(id string, raw *rawLookupSpec) *model.LookupSpec {
	if raw == nil {
		b.fail("enrichment %s of type lookup missing lookup spec", id)
		return nil
	}
	spec := &model.LookupSpec{
		LookupKeyExpr:   raw.LookupKey,
		KeyField:        raw.KeyField,
		CacheEnabled:    raw.CacheEnabled,
		CacheTTLSeconds: raw.CacheTTLSeconds,
		DefaultValues:   raw.DefaultValues,
	}
	for _, fm := range raw.FieldMappings {
		spec.FieldMappings = append(spec.FieldMappings, b.fieldMapping(fm))
	}
	switch strings.ToLower(raw.DatasetRef.Kind) {
	case string(model.DatasetInline), "":
		spec.DatasetKind = model.DatasetInline
		spec.InlineDataset = &model.Dataset{Rows: raw.DatasetRef.Inline, KeyField: raw.DatasetRef.KeyField}
	case string(model.DatasetExternalFile):
		spec.DatasetKind = model.DatasetExternalFile
		spec.ExternalFile = raw.DatasetRef.ExternalFile
	case string(model.DatasetDataSource):
		spec.DatasetKind = model.DatasetDataSource
		spec.DataSourceRef = raw.DatasetRef.DataSource
		spec.QueryRef = raw.DatasetRef.QueryRef
	default:
		b.fail("enrichment %s has unknown dataset-ref kind %q", id, raw.DatasetRef.Kind)
	}
	return spec
}

func (b *builder) conditionalMapping(id string, raw *rawConditionalMapping) *model.ConditionalMappingSpec {
	if raw == nil {
		b.fail("enrichment %s of type conditional-mapping missing spec", id)
		return nil
	}
	out := &model.ConditionalMappingSpec{
		TargetField:      raw.TargetField,
		StopOnFirstMatch: raw.ExecutionSettings.StopOnFirstMatch,
		LogMatchedRule:   raw.ExecutionSettings.LogMatchedRule,
	}
	for _, mr := range raw.MappingRules {
		priority := 0
		if mr.Priority != nil {
			priority = *mr.Priority
		}
		op := model.Operator(strings.ToUpper(mr.Conditions.Operator))
		if op != model.OperatorAND && op != model.OperatorOR {
			op = model.OperatorAND
		}
		out.MappingRules = append(out.MappingRules, model.MappingRule{
			ID:             mr.ID,
			Priority:       priority,
			ConditionOp:    op,
			SubConditions:  mr.Conditions.SubConditions,
			Transformation: mr.Mapping.Transformation,
		})
	}
	return out
}

func (b *builder) auditSpec(id string, raw *rawAuditSpec) *model.AuditSpec {
	if raw == nil {
		b.fail("enrichment %s of type audit missing audit spec", id)
		return nil
	}
	if raw.SinkName == "" {
		b.fail("enrichment %s of type audit missing sink name", id)
	}
	spec := &model.AuditSpec{SinkName: raw.SinkName}
	for _, fm := range raw.Fields {
		spec.Fields = append(spec.Fields, b.fieldMapping(fm))
	}
	return spec
}

func (b *builder) enrichment(raw rawEnrichment) *model.Enrichment {
	if raw.ID == "" {
		b.fail("enrichment missing id")
		return nil
	}
	enabled := true
	if raw.Enabled != nil {
		enabled = *raw.Enabled
	}
	e := &model.Enrichment{
		ID:        raw.ID,
		Type:      model.EnrichmentType(raw.Type),
		Condition: raw.Condition,
		Enabled:   enabled,
		DependsOn: raw.DependsOn,
		Metadata:  b.stamp(raw.Metadata),
	}
	switch e.Type {
	case model.EnrichmentLookup:
		e.Lookup = b.lookupSpec(raw.ID, raw.Lookup)
	case model.EnrichmentField:
		for _, fm := range raw.FieldMappings {
			e.FieldMappings = append(e.FieldMappings, b.fieldMapping(fm))
		}
	case model.EnrichmentCalculation:
		if raw.Calculation == nil {
			b.fail("enrichment %s of type calculation missing spec", raw.ID)
		} else {
			e.Calculation = &model.CalculationSpec{Expression: raw.Calculation.Expression, ResultField: raw.Calculation.ResultField}
		}
	case model.EnrichmentConditionalMapping:
		e.ConditionalMapping = b.conditionalMapping(raw.ID, raw.ConditionalMapping)
	case model.EnrichmentAudit:
		e.Audit = b.auditSpec(raw.ID, raw.Audit)
	default:
		b.fail("enrichment %s has unknown type %q", raw.ID, raw.Type)
	}
	return e
}

func priorityClass(s string) model.RulePriorityClass {
	switch strings.ToUpper(s) {
	case "HIGH":
		return model.PriorityHigh
	case "LOW":
		return model.PriorityLow
	default:
		return model.PriorityMedium
	}
}

func (b *builder) fluentNode(raw rawFluentNode) *model.FluentNode {
	if raw.ID == "" && raw.Rule == "" {
		return nil
	}
	n := &model.FluentNode{ID: raw.ID, Rule: raw.Rule}
	if raw.OnSuccess != nil {
		n.OnSuccess = b.fluentNode(raw.OnSuccess.Rule)
	}
	if raw.OnFailure != nil {
		n.OnFailure = b.fluentNode(raw.OnFailure.Rule)
	}
	return n
}

func (b *builder) ruleChain(raw rawRuleChain) *model.RuleChain {
	if raw.ID == "" {
		b.fail("rule chain missing id")
		return nil
	}
	chain := &model.RuleChain{
		ID:       raw.ID,
		Name:     raw.Name,
		Pattern:  model.ChainPattern(raw.Pattern),
		Metadata: b.stamp(raw.Metadata),
	}
	switch chain.Pattern {
	case model.PatternConditional:
		var cfg rawConditionalConfig
		if err := decodeConfiguration(raw.Configuration, &cfg); err != nil {
			b.fail("chain %s: %v", raw.ID, err)
			return chain
		}
		chain.Conditional = &model.ConditionalChainConfig{
			TriggerRule:      cfg.TriggerRule,
			OnTriggerRules:   cfg.OnTriggerRules,
			OnNoTriggerRules: cfg.OnNoTriggerRules,
		}
	case model.PatternSequential:
		var cfg rawSequentialConfig
		if err := decodeConfiguration(raw.Configuration, &cfg); err != nil {
			b.fail("chain %s: %v", raw.ID, err)
			return chain
		}
		sc := &model.SequentialChainConfig{}
		for _, s := range cfg.Stages {
			sc.Stages = append(sc.Stages, model.SequentialStage{Expression: s.Expression, OutputVariable: s.OutputVariable})
		}
		chain.Sequential = sc
	case model.PatternRouting:
		var cfg rawRoutingConfig
		if err := decodeConfiguration(raw.Configuration, &cfg); err != nil {
			b.fail("chain %s: %v", raw.ID, err)
			return chain
		}
		chain.Routing = &model.RoutingChainConfig{
			RouterExpression: cfg.RouterExpression,
			Routes:           cfg.Routes,
			DefaultRoute:     cfg.DefaultRoute,
			HasDefault:       cfg.DefaultRoute != "",
		}
	case model.PatternAccumulative:
		var cfg rawAccumulativeConfig
		if err := decodeConfiguration(raw.Configuration, &cfg); err != nil {
			b.fail("chain %s: %v", raw.ID, err)
			return chain
		}
		ac := &model.AccumulativeChainConfig{
			AccumulatorVariable: cfg.AccumulatorVariable,
			InitialValue:        cfg.InitialValue,
			FinalDecisionRule:   cfg.FinalDecisionRule,
			Selection: model.RuleSelectionConfig{
				Strategy:            model.SelectionStrategy(cfg.RuleSelection.Strategy),
				Threshold:           cfg.RuleSelection.Threshold,
				MaxRules:            cfg.RuleSelection.MaxRules,
				MinPriority:         priorityClass(cfg.RuleSelection.MinPriority),
				ThresholdExpression: cfg.RuleSelection.ThresholdExpression,
			},
		}
		for _, r := range cfg.Rules {
			weight := r.Weight
			if weight == 0 {
				weight = 1.0
			}
			ac.Rules = append(ac.Rules, model.AccumulationRule{
				ID:        r.ID,
				Condition: r.Condition,
				Weight:    weight,
				Priority:  priorityClass(r.Priority),
			})
		}
		chain.Accumulative = ac
	case model.PatternComplexWorkflow:
		var cfg rawComplexWorkflowConfig
		if err := decodeConfiguration(raw.Configuration, &cfg); err != nil {
			b.fail("chain %s: %v", raw.ID, err)
			return chain
		}
		wc := &model.ComplexWorkflowConfig{}
		for _, s := range cfg.Stages {
			stage := model.WorkflowStage{
				ID:             s.ID,
				DependsOn:      s.DependsOn,
				Rules:          s.Rules,
				OutputVariable: s.OutputVariable,
				FailureAction:  model.FailureAction(s.FailureAction),
			}
			if stage.FailureAction == "" {
				stage.FailureAction = model.FailureTerminate
			}
			if s.ConditionalExecution != nil {
				if len(stage.Rules) > 0 {
					b.fail("chain %s stage %s declares both rules and conditional-execution", raw.ID, s.ID)
				}
				stage.Conditional = &model.ConditionalExecution{
					Condition:    s.ConditionalExecution.Condition,
					OnTrueRules:  s.ConditionalExecution.OnTrue.Rules,
					OnFalseRules: s.ConditionalExecution.OnFalse.Rules,
				}
			}
			wc.Stages = append(wc.Stages, stage)
		}
		chain.ComplexWorkflow = wc
	case model.PatternFluentBuilder:
		var cfg rawFluentBuilderConfig
		if err := decodeConfiguration(raw.Configuration, &cfg); err != nil {
			b.fail("chain %s: %v", raw.ID, err)
			return chain
		}
		chain.FluentBuilder = &model.FluentBuilderConfig{
			Root:     b.fluentNode(cfg.Root),
			MaxDepth: cfg.MaxDepth,
		}
	default:
		b.fail("chain %s has unknown pattern %q", raw.ID, raw.Pattern)
	}
	return chain
}

func (b *builder) scenario(raw rawScenario) *model.Scenario {
	if raw.ID == "" {
		b.fail("scenario missing id")
		return nil
	}
	if raw.BusinessDomain == "" {
		b.fail("scenario %s missing business-domain", raw.ID)
	}
	return &model.Scenario{
		ID:             raw.ID,
		DataTypes:      raw.DataTypes,
		RuleConfigRefs: raw.RuleConfigRefs,
		BusinessDomain: raw.BusinessDomain,
		Metadata:       b.stamp(raw.Metadata),
	}
}
