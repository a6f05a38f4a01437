package chain

import (
	"fmt"
	"sort"

	"github.com/apex-rules/apex/evaluator"
	"github.com/apex-rules/apex/model"
	"github.com/apex-rules/apex/rulegroup"
)

// Executor runs a RuleChain's configured pattern against a fact map.
type Executor struct {
	eval  *evaluator.Evaluator
	rules *rulegroup.Executor
}

// New builds an Executor. rules resolves individual rule/group ids
// against the same registry the chain's references come from.
func New(eval *evaluator.Evaluator, rules *rulegroup.Executor) *Executor {
	return &Executor{eval: eval, rules: rules}
}

// Execute dispatches on chain.Pattern and returns the resulting
// model.ChainResult. Every pattern records its path in
// ChainedEvaluationContext and is wrapped into the same result shape
// (spec §4.8: "All chain executors produce a ChainResult").
func (x *Executor) Execute(rc *model.RuleChain, facts map[string]any) (*model.ChainResult, error) {
	ctx := NewChainedEvaluationContext(facts)

	switch rc.Pattern {
	case model.PatternConditional:
		return x.runConditional(rc, ctx)
	case model.PatternSequential:
		return x.runSequential(rc, ctx)
	case model.PatternRouting:
		return x.runRouting(rc, ctx)
	case model.PatternAccumulative:
		return x.runAccumulative(rc, ctx)
	case model.PatternComplexWorkflow:
		return x.runComplexWorkflow(rc, ctx)
	case model.PatternFluentBuilder:
		return x.runFluentBuilder(rc, ctx)
	default:
		return nil, fmt.Errorf("chain %s: unknown pattern %q", rc.ID, rc.Pattern)
	}
}

// runRuleList evaluates each rule id in order, recording every result,
// and returns whether all of them triggered (the implicit AND used by
// branch/stage rule lists throughout §4.8).
func (x *Executor) runRuleList(ctx *ChainedEvaluationContext, ids []string) bool {
	allTrue := true
	for _, id := range ids {
		res := x.rules.EvaluateRuleByID(id, ctx.Vars())
		ctx.RecordRule(id, res)
		if res.Error != nil {
			ctx.RecordError(id, res.Error)
			allTrue = false
			continue
		}
		if !res.Triggered {
			allTrue = false
		}
	}
	return allTrue
}

// --- Pattern 1: Conditional Chaining ---

func (x *Executor) runConditional(rc *model.RuleChain, ctx *ChainedEvaluationContext) (*model.ChainResult, error) {
	cfg := rc.Conditional
	if cfg == nil {
		return nil, fmt.Errorf("chain %s: conditional pattern with no configuration", rc.ID)
	}
	trigger := x.rules.EvaluateRuleByID(cfg.TriggerRule, ctx.Vars())
	ctx.RecordRule(cfg.TriggerRule, trigger)
	if trigger.Error != nil {
		ctx.RecordError(cfg.TriggerRule, trigger.Error)
		return ctx.Result(rc.ID, false, nil), nil
	}

	branch := cfg.OnNoTriggerRules
	if trigger.Triggered {
		branch = cfg.OnTriggerRules
	}
	success := x.runRuleList(ctx, branch)
	return ctx.Result(rc.ID, success, trigger.Triggered), nil
}

// --- Pattern 2: Sequential Dependency ---

func (x *Executor) runSequential(rc *model.RuleChain, ctx *ChainedEvaluationContext) (*model.ChainResult, error) {
	cfg := rc.Sequential
	if cfg == nil {
		return nil, fmt.Errorf("chain %s: sequential pattern with no configuration", rc.ID)
	}
	var last any
	for i, stage := range cfg.Stages {
		v, err := x.eval.Evaluate(stage.Expression, ctx.Vars(), evaluator.KindAny)
		key := fmt.Sprintf("stage_%d", i)
		if err != nil {
			ctx.RecordError(key, err)
			ctx.RecordRule(key, model.RuleResult{RuleID: key, Error: err})
			return ctx.Result(rc.ID, false, last), nil
		}
		ctx.Bind(stage.OutputVariable, v)
		ctx.ExecutionPath = append(ctx.ExecutionPath, key)
		last = v
	}
	return ctx.Result(rc.ID, true, last), nil
}

// --- Pattern 3: Result-Based Routing ---

func (x *Executor) runRouting(rc *model.RuleChain, ctx *ChainedEvaluationContext) (*model.ChainResult, error) {
	cfg := rc.Routing
	if cfg == nil {
		return nil, fmt.Errorf("chain %s: routing pattern with no configuration", rc.ID)
	}
	key, err := x.eval.Evaluate(cfg.RouterExpression, ctx.Vars(), evaluator.KindString)
	if err != nil {
		ctx.RecordError("router", err)
		return ctx.Result(rc.ID, false, nil), nil
	}
	routeKey, _ := key.(string)

	ids, matched := cfg.Routes[routeKey]
	if !matched {
		if !cfg.HasDefault {
			return ctx.Result(rc.ID, false, routeKey), nil
		}
		ids = cfg.Routes[cfg.DefaultRoute]
	}
	success := x.runRuleList(ctx, ids)
	return ctx.Result(rc.ID, success, routeKey), nil
}

// --- Pattern 4: Accumulative Chaining ---

func (x *Executor) runAccumulative(rc *model.RuleChain, ctx *ChainedEvaluationContext) (*model.ChainResult, error) {
	cfg := rc.Accumulative
	if cfg == nil {
		return nil, fmt.Errorf("chain %s: accumulative pattern with no configuration", rc.ID)
	}

	selected, err := x.selectAccumulationRules(cfg, ctx)
	if err != nil {
		ctx.RecordError("selection", err)
		return ctx.Result(rc.ID, false, nil), nil
	}
	recordSkippedAccumulationRules(ctx, cfg.Rules, selected)

	accumulator := cfg.InitialValue
	for _, r := range selected {
		n, err := x.eval.EvaluateNumber(r.Condition, ctx.Vars())
		key := "accum_" + r.ID
		if err != nil {
			ctx.RecordError(key, err)
			ctx.RecordRule(key, model.RuleResult{RuleID: r.ID, Error: err})
			continue
		}
		accumulator += n * r.Weight
		ctx.RecordRule(key, model.RuleResult{RuleID: r.ID, Triggered: n != 0})
		ctx.Bind(cfg.AccumulatorVariable, accumulator)
	}
	ctx.Bind(cfg.AccumulatorVariable, accumulator)

	final, err := x.eval.Evaluate(cfg.FinalDecisionRule, ctx.Vars(), evaluator.KindAny)
	if err != nil {
		ctx.RecordError("final-decision", err)
		return ctx.Result(rc.ID, false, accumulator), nil
	}
	ctx.ExecutionPath = append(ctx.ExecutionPath, "final-decision")
	return ctx.Result(rc.ID, true, final), nil
}

// recordSkippedAccumulationRules marks every rule in all that the
// selection strategy excluded from selected (spec §4.8 Pattern 4 step 4:
// "record selected/skipped ids").
func recordSkippedAccumulationRules(ctx *ChainedEvaluationContext, all, selected []model.AccumulationRule) {
	chosen := make(map[string]bool, len(selected))
	for _, r := range selected {
		chosen[r.ID] = true
	}
	for _, r := range all {
		if !chosen[r.ID] {
			ctx.RecordSkipped(r.ID)
		}
	}
}

func (x *Executor) selectAccumulationRules(cfg *model.AccumulativeChainConfig, ctx *ChainedEvaluationContext) ([]model.AccumulationRule, error) {
	switch cfg.Selection.Strategy {
	case model.SelectAll, "":
		return cfg.Rules, nil
	case model.SelectWeightThreshold:
		var out []model.AccumulationRule
		for _, r := range cfg.Rules {
			if r.Weight >= cfg.Selection.Threshold {
				out = append(out, r)
			}
		}
		return out, nil
	case model.SelectTopWeighted:
		ranked := append([]model.AccumulationRule(nil), cfg.Rules...)
		sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Weight > ranked[j].Weight })
		max := cfg.Selection.MaxRules
		if max <= 0 || max > len(ranked) {
			max = len(ranked)
		}
		return ranked[:max], nil
	case model.SelectPriorityBased:
		var out []model.AccumulationRule
		for _, r := range cfg.Rules {
			if r.Priority.Rank() >= cfg.Selection.MinPriority.Rank() {
				out = append(out, r)
			}
		}
		return out, nil
	case model.SelectDynamicThreshold:
		threshold, err := x.eval.EvaluateNumber(cfg.Selection.ThresholdExpression, ctx.Vars())
		if err != nil {
			return nil, err
		}
		var out []model.AccumulationRule
		for _, r := range cfg.Rules {
			if r.Weight >= threshold {
				out = append(out, r)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("accumulative chain: unknown selection strategy %q", cfg.Selection.Strategy)
	}
}
