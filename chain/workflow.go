package chain

import (
	"fmt"
	"sort"

	"github.com/apex-rules/apex/model"
)

// --- Pattern 5: Complex Workflow ---

func (x *Executor) runComplexWorkflow(rc *model.RuleChain, ctx *ChainedEvaluationContext) (*model.ChainResult, error) {
	cfg := rc.ComplexWorkflow
	if cfg == nil {
		return nil, fmt.Errorf("chain %s: complex-workflow pattern with no configuration", rc.ID)
	}

	order, err := topologicalOrder(rc.ID, cfg.Stages)
	if err != nil {
		ctx.RecordError("workflow", err)
		return ctx.Result(rc.ID, false, nil), nil
	}

	byID := make(map[string]model.WorkflowStage, len(cfg.Stages))
	for _, s := range cfg.Stages {
		byID[s.ID] = s
	}

	satisfied := make(map[string]bool)
	skipped := make(map[string]bool)
	terminated := false

	for _, id := range order {
		if terminated {
			break
		}
		stage := byID[id]
		if !allSatisfied(stage.DependsOn, satisfied) {
			skipped[id] = true
			continue
		}
		if anySkipped(stage.DependsOn, skipped) {
			skipped[id] = true
			continue
		}

		ok, out := x.runStage(ctx, stage)
		if stage.OutputVariable != "" {
			ctx.Bind(stage.OutputVariable, out)
		}
		if ok {
			satisfied[id] = true
			continue
		}

		skipped[id] = true
		if stage.FailureAction == model.FailureTerminate || stage.FailureAction == "" {
			ctx.RecordError(id, fmt.Errorf("workflow stage %s failed, failure-action=terminate", id))
			terminated = true
		}
	}

	return ctx.Result(rc.ID, !terminated, nil), nil
}

func (x *Executor) runStage(ctx *ChainedEvaluationContext, stage model.WorkflowStage) (bool, any) {
	if stage.Conditional != nil {
		return x.runConditionalExecution(ctx, stage)
	}
	ok := x.runRuleList(ctx, stage.Rules)
	if len(stage.Rules) == 0 {
		return ok, nil
	}
	last := ctx.StageResults[stage.Rules[len(stage.Rules)-1]]
	return ok, last.Triggered
}

func (x *Executor) runConditionalExecution(ctx *ChainedEvaluationContext, stage model.WorkflowStage) (bool, any) {
	cond := stage.Conditional
	v, err := x.eval.EvaluateBool(cond.Condition, ctx.Vars())
	key := stage.ID + "_condition"
	if err != nil {
		ctx.RecordError(key, err)
		return false, nil
	}
	ctx.RecordRule(key, model.RuleResult{RuleID: key, Triggered: v})

	branch := cond.OnFalseRules
	if v {
		branch = cond.OnTrueRules
	}
	ok := x.runRuleList(ctx, branch)
	return ok, v
}

func allSatisfied(deps []string, satisfied map[string]bool) bool {
	for _, d := range deps {
		if !satisfied[d] {
			return false
		}
	}
	return true
}

func anySkipped(deps []string, skipped map[string]bool) bool {
	for _, d := range deps {
		if skipped[d] {
			return true
		}
	}
	return false
}

// topologicalOrder sorts stages by depends-on edges, breaking ties by
// declaration order to stabilize output (spec §5: "among stages with no
// ordering constraint, declaration order is used"). Returns an error if
// the stage graph has a cycle.
func topologicalOrder(chainID string, stages []model.WorkflowStage) ([]string, error) {
	index := make(map[string]int, len(stages))
	for i, s := range stages {
		index[s.ID] = i
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(stages))
	var order []string

	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		i, ok := index[id]
		if !ok {
			color[id] = black
			return nil
		}
		deps := append([]string(nil), stages[i].DependsOn...)
		sort.Slice(deps, func(a, b int) bool { return index[deps[a]] < index[deps[b]] })
		for _, dep := range deps {
			switch color[dep] {
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			case gray:
				return &model.ChainLimitError{Kind: model.WorkflowCycleRuntime, ChainID: chainID, Detail: fmt.Sprintf("cycle involving stage %s", id)}
			}
		}
		color[id] = black
		order = append(order, id)
		return nil
	}

	ids := make([]string, len(stages))
	for i, s := range stages {
		ids[i] = s.ID
	}
	for _, id := range ids {
		if color[id] == white {
			if err := visit(id); err != nil {
				return nil, err
			}
		}
	}
	return order, nil
}
