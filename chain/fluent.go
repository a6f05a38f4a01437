package chain

import (
	"fmt"

	"github.com/apex-rules/apex/model"
)

// --- Pattern 6: Fluent Builder (Decision Tree) ---

func (x *Executor) runFluentBuilder(rc *model.RuleChain, ctx *ChainedEvaluationContext) (*model.ChainResult, error) {
	cfg := rc.FluentBuilder
	if cfg == nil || cfg.Root == nil {
		return nil, fmt.Errorf("chain %s: fluent-builder pattern with no root node", rc.ID)
	}
	maxDepth := cfg.MaxDepth
	if maxDepth <= 0 {
		maxDepth = model.DefaultFluentMaxDepth
	}

	final, err := x.walkFluent(rc.ID, cfg.Root, ctx, 0, maxDepth)
	if err != nil {
		ctx.RecordError("fluent", err)
		return ctx.Result(rc.ID, false, nil), nil
	}
	return ctx.Result(rc.ID, true, final), nil
}

// walkFluent evaluates node and recurses into the child selected by its
// boolean result, per spec §4.8 Pattern 6: "evaluate current rule;
// branch by boolean; stop at leaf". Each visited rule's result is keyed
// "fluent_rule_<id>_result" and appended to the execution path in
// visitation order.
func (x *Executor) walkFluent(chainID string, node *model.FluentNode, ctx *ChainedEvaluationContext, depth, maxDepth int) (any, error) {
	if depth > maxDepth {
		return nil, &model.ChainLimitError{Kind: model.FluentDepthExceeded, ChainID: chainID, Detail: fmt.Sprintf("depth %d exceeds max %d at node %s", depth, maxDepth, node.ID)}
	}

	res := x.rules.EvaluateRuleByID(node.Rule, ctx.Vars())
	key := fmt.Sprintf("fluent_rule_%s_result", node.ID)
	ctx.RecordRule(key, res)
	if res.Error != nil {
		return nil, res.Error
	}

	child := node.OnFailure
	if res.Triggered {
		child = node.OnSuccess
	}
	if child == nil {
		return res.Triggered, nil
	}
	return x.walkFluent(chainID, child, ctx, depth+1, maxDepth)
}
