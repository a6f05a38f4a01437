package apex

import (
	"context"
	"fmt"

	"github.com/apex-rules/apex/enrichment"
	"github.com/apex-rules/apex/model"
)

// EvaluateFacts runs the configured default rule set against facts and
// returns one aggregated RuleResult (spec §4.11: "evaluate-facts(facts)
// → RuleResult against a configured default rule set"). Members of the
// default rule set are combined by logical AND, mirroring an implicit
// top-level AND group over whatever rule/group ids WithDefaultRuleSet
// named.
func (e *Engine) EvaluateFacts(ctx context.Context, facts map[string]any) (*model.RuleResult, error) {
	ctx, cancel := e.deadlineFor(ctx)
	defer cancel()
	done := e.monitor.BeginEvaluation()
	defer done()

	if len(e.defaultRuleSet) == 0 {
		return nil, fmt.Errorf("apex: evaluate-facts has no default rule set configured")
	}

	triggered := true
	var allSeverity, failedSeverity model.Severity
	for _, id := range e.defaultRuleSet {
		if err := ctx.Err(); err != nil {
			return nil, &model.TimeoutError{Subject: "evaluate-facts"}
		}
		started := e.clock.Now()
		var res model.RuleResult
		if group, ok := e.registry.Group(id); ok {
			gr := e.groups.Evaluate(group, facts)
			res = model.RuleResult{RuleID: id, Triggered: gr.Triggered, Severity: gr.Severity}
		} else {
			res = e.groups.EvaluateRuleByID(id, facts)
		}
		res.Started = started
		res.Duration = e.clock.Now().Sub(started)
		e.monitor.RecordRule(id, res)
		if res.Error != nil {
			e.logger.Errorf("evaluate-facts: %s failed: %v", id, res.Error)
			return nil, res.Error
		}
		triggered = triggered && res.Triggered
		allSeverity = allSeverity.Max(res.Severity)
		if !res.Triggered {
			failedSeverity = failedSeverity.Max(res.Severity)
		}
	}

	// Severity reflects all evaluated members when the default set
	// triggers, and only the failing members when it does not (spec §9).
	severity := allSeverity
	if !triggered {
		severity = failedSeverity
	}
	return &model.RuleResult{RuleID: "default", Triggered: triggered, Severity: severity}, nil
}

// RunScenario looks up scenarioID, applies its enrichments, then runs
// its referenced rule/group ids, returning per-rule results and the
// enriched fact map (spec §4.11). Rule-config-refs are resolved as ids
// in the already-loaded registry; file-path refs are a Loader-time
// concern (spec §4.2), not something the running engine re-resolves.
func (e *Engine) RunScenario(ctx context.Context, scenarioID string, facts map[string]any) (*model.ScenarioResult, error) {
	ctx, cancel := e.deadlineFor(ctx)
	defer cancel()
	done := e.monitor.BeginEvaluation()
	defer done()

	scenario, ok := e.registry.Scenario(scenarioID)
	if !ok {
		e.logger.Warnf("run-scenario: unknown scenario id %q", scenarioID)
		return &model.ScenarioResult{ScenarioID: scenarioID, Matched: false}, nil
	}
	e.logger.Debugf("run-scenario: dispatching %q", scenarioID)
	return e.runScenario(ctx, scenario, facts)
}

// RunScenariosForType dispatches by inspecting facts[e.dataTypeField]
// and running every scenario whose DataTypes include it, in declaration
// order (spec §4.11: "multiple scenarios may match a type... executed
// in declaration order"; "unknown types return a well-defined unmatched
// result without error").
func (e *Engine) RunScenariosForType(ctx context.Context, facts map[string]any) ([]*model.ScenarioResult, error) {
	dataType, _ := facts[e.dataTypeField].(string)
	matches := e.registry.ScenariosMatching(dataType)
	if len(matches) == 0 {
		e.logger.Warnf("run-scenarios-for-type: no scenario matches data type %q", dataType)
		return []*model.ScenarioResult{{Matched: false}}, nil
	}
	e.logger.Debugf("run-scenarios-for-type: %d scenario(s) match %q", len(matches), dataType)

	results := make([]*model.ScenarioResult, 0, len(matches))
	for _, sc := range matches {
		r, err := e.runScenario(ctx, sc, facts)
		if err != nil {
			return results, err
		}
		results = append(results, r)
	}
	return results, nil
}

func (e *Engine) runScenario(ctx context.Context, scenario *model.Scenario, facts map[string]any) (*model.ScenarioResult, error) {
	enriched, _, err := e.enrich.Apply(enrichment.EvalContext{Facts: facts, Ctx: ctx}, enrichmentsFor(e.registry, scenario))
	if err != nil {
		return nil, err
	}

	result := &model.ScenarioResult{ScenarioID: scenario.ID, Matched: true, EnrichedFacts: enriched}
	for _, refID := range scenario.RuleConfigRefs {
		if err := ctx.Err(); err != nil {
			return nil, &model.TimeoutError{Subject: "run-scenario:" + scenario.ID}
		}
		if group, ok := e.registry.Group(refID); ok {
			gr := e.groups.Evaluate(group, enriched)
			result.RuleResults = append(result.RuleResults, flattenGroupResult(gr)...)
			continue
		}
		res := e.groups.EvaluateRuleByID(refID, enriched)
		result.RuleResults = append(result.RuleResults, res)
	}
	return result, nil
}

func flattenGroupResult(gr *model.GroupResult) []model.RuleResult {
	if len(gr.MemberResults) > 0 {
		return gr.MemberResults
	}
	return []model.RuleResult{{RuleID: gr.GroupID, Triggered: gr.Triggered, Severity: gr.Severity}}
}

// enrichmentsFor returns every registered enrichment, without filtering
// by the scenario or by depends-on; scenarios carry no enrichment list,
// so the Enrichment Engine's own condition/depends-on gating decides
// relevance.
func enrichmentsFor(reg *model.Registry, scenario *model.Scenario) []*model.Enrichment {
	out := make([]*model.Enrichment, 0, len(reg.Enrichments))
	for _, en := range reg.Enrichments {
		out = append(out, en)
	}
	return out
}

// RunChain executes chainID against facts (spec §4.11:
// "run-chain(chain-id, facts) → ChainResult").
func (e *Engine) RunChain(ctx context.Context, chainID string, facts map[string]any) (*model.ChainResult, error) {
	ctx, cancel := e.deadlineFor(ctx)
	defer cancel()
	done := e.monitor.BeginEvaluation()
	defer done()

	rc, ok := e.registry.Chain(chainID)
	if !ok {
		e.logger.Warnf("run-chain: unknown chain id %q", chainID)
		return nil, fmt.Errorf("apex: unknown chain id %q", chainID)
	}
	if err := ctx.Err(); err != nil {
		return nil, &model.TimeoutError{Subject: "run-chain:" + chainID}
	}
	return e.chains.Execute(rc, facts)
}
