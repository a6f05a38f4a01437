package enrichment

import (
	"context"
	"fmt"
	"sort"

	"github.com/apex-rules/apex/evaluator"
	"github.com/apex-rules/apex/model"
)

// execute dispatches on enr.Type and mutates working in place, per spec
// §4.6 step 4.
func (e *Engine) execute(ctx EvalContext, enr *model.Enrichment, working map[string]any) error {
	switch enr.Type {
	case model.EnrichmentLookup:
		return e.executeLookup(ctx, enr, working)
	case model.EnrichmentField:
		return e.executeFieldMappings(enr.FieldMappings, working, working)
	case model.EnrichmentCalculation:
		return e.executeCalculation(enr.Calculation, working)
	case model.EnrichmentConditionalMapping:
		return e.executeConditionalMapping(enr.ID, enr.ConditionalMapping, working)
	case model.EnrichmentAudit:
		return e.executeAudit(ctx, enr, working)
	default:
		return fmt.Errorf("enrichment %s: unknown type %q", enr.ID, enr.Type)
	}
}

func (e *Engine) executeLookup(ctx EvalContext, enr *model.Enrichment, working map[string]any) error {
	spec := enr.Lookup
	if spec == nil {
		return fmt.Errorf("enrichment %s: lookup type with no LookupSpec", enr.ID)
	}
	key, err := e.eval.Evaluate(spec.LookupKeyExpr, working, evaluator.KindString)
	if err != nil {
		return err
	}
	keyStr, _ := key.(string)

	goCtx := ctx.Ctx
	if goCtx == nil {
		goCtx = context.Background()
	}
	if e.provider == nil {
		return fmt.Errorf("enrichment %s: lookup requires a dataset provider", enr.ID)
	}
	row, found, err := e.provider.Resolve(goCtx, spec, keyStr)
	if err != nil {
		return err
	}
	if found {
		// Default values are overlaid first so a field-mapping with no
		// matching source in the row still lands a default, then
		// mappings run against the merged row (spec §4.5: "default
		// values... overlaid on null/missing row fields before mapping").
		merged := overlayDefaults(row, spec.DefaultValues)
		return e.executeFieldMappings(spec.FieldMappings, merged, working)
	}
	for field, v := range spec.DefaultValues {
		working[field] = v
	}
	return nil
}

func overlayDefaults(row map[string]any, defaults map[string]any) map[string]any {
	merged := make(map[string]any, len(row)+len(defaults))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range row {
		if v != nil {
			merged[k] = v
		}
	}
	return merged
}

// executeFieldMappings resolves each mapping's source against source
// (the row for a lookup enrichment, or working itself for a plain field
// enrichment), applies the optional transformation, and writes the
// result into working[TargetField].
func (e *Engine) executeFieldMappings(mappings []model.FieldMapping, source, working map[string]any) error {
	for _, m := range mappings {
		value, err := e.resolveSource(m.Source, source, working)
		if err != nil {
			return err
		}
		if m.Transformation != "" {
			env := envWithValue(working, value)
			transformed, err := e.eval.Evaluate(m.Transformation, env, evaluator.KindAny)
			if err != nil {
				return err
			}
			value = transformed
		}
		working[m.TargetField] = value
	}
	return nil
}

// resolveSource implements spec §4.6's "field-mapping semantic
// substitutions": a '#'-prefixed source is an expression evaluated
// against source merged over working (so it can reference both row
// fields and existing facts); otherwise it is a plain key lookup on
// source, falling back to working.
func (e *Engine) resolveSource(sf model.SourceField, source, working map[string]any) (any, error) {
	if sf.IsExpression {
		env := make(map[string]any, len(working)+len(source))
		for k, v := range working {
			env[k] = v
		}
		for k, v := range source {
			env[k] = v
		}
		return e.eval.Evaluate(sf.Value, env, evaluator.KindAny)
	}
	if v, ok := source[sf.Value]; ok {
		return v, nil
	}
	return working[sf.Value], nil
}

func (e *Engine) executeCalculation(spec *model.CalculationSpec, working map[string]any) error {
	if spec == nil {
		return fmt.Errorf("calculation enrichment with no CalculationSpec")
	}
	v, err := e.eval.Evaluate(spec.Expression, working, evaluator.KindAny)
	if err != nil {
		return err
	}
	working[spec.ResultField] = v
	return nil
}

// executeConditionalMapping iterates mapping-rules in ascending priority
// (spec §4.6 step 4, conditional-mapping case). A matched rule is logged
// at info level when spec.LogMatchedRule is set (spec §8 scenario 6:
// "log records executive-review").
func (e *Engine) executeConditionalMapping(enrichmentID string, spec *model.ConditionalMappingSpec, working map[string]any) error {
	if spec == nil {
		return fmt.Errorf("conditional-mapping enrichment with no ConditionalMappingSpec")
	}
	rules := append([]model.MappingRule(nil), spec.MappingRules...)
	sort.Slice(rules, func(i, j int) bool { return rules[i].Priority < rules[j].Priority })

	for _, rule := range rules {
		matched, err := e.evaluateCombined(rule.ConditionOp, rule.SubConditions, working)
		if err != nil {
			return err
		}
		if !matched {
			continue
		}
		v, err := e.eval.Evaluate(rule.Transformation, working, evaluator.KindAny)
		if err != nil {
			return err
		}
		working[spec.TargetField] = v
		if spec.LogMatchedRule {
			e.logger.Infof("enrichment %s: conditional-mapping rule %q matched, %s = %v", enrichmentID, rule.ID, spec.TargetField, v)
		}
		if spec.StopOnFirstMatch {
			return nil
		}
	}
	return nil
}

// executeAudit assembles a record from spec.Fields (resolved the same
// way a field enrichment resolves its mappings, with working as the
// source and the new record as the target) and emits it through the sink registered under
// spec.SinkName. It never writes into working: an audit record is an
// outbound side effect, not a fact (spec §6.4).
func (e *Engine) executeAudit(ctx EvalContext, enr *model.Enrichment, working map[string]any) error {
	spec := enr.Audit
	if spec == nil {
		return fmt.Errorf("enrichment %s: audit type with no AuditSpec", enr.ID)
	}
	sink, ok := e.sinks[spec.SinkName]
	if !ok {
		return fmt.Errorf("enrichment %s: no audit sink registered under %q", enr.ID, spec.SinkName)
	}

	record := make(map[string]any, len(spec.Fields))
	if err := e.executeFieldMappings(spec.Fields, working, record); err != nil {
		return err
	}

	goCtx := ctx.Ctx
	if goCtx == nil {
		goCtx = context.Background()
	}
	return sink.Emit(goCtx, record)
}

func (e *Engine) evaluateCombined(op model.Operator, subConditions []string, working map[string]any) (bool, error) {
	if len(subConditions) == 0 {
		return false, nil
	}
	result := op == model.OperatorAND
	for _, cond := range subConditions {
		v, err := e.eval.EvaluateBool(cond, working)
		if err != nil {
			return false, err
		}
		if op == model.OperatorAND {
			result = result && v
			if !result {
				return false, nil
			}
		} else {
			result = result || v
			if result {
				return true, nil
			}
		}
	}
	return result, nil
}

func envWithValue(working map[string]any, value any) map[string]any {
	env := make(map[string]any, len(working)+1)
	for k, v := range working {
		env[k] = v
	}
	env["value"] = value
	return env
}
