package rulegroup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	apexclock "github.com/apex-rules/apex/clock"
	"github.com/apex-rules/apex/evaluator"
	"github.com/apex-rules/apex/model"
	"github.com/apex-rules/apex/recovery"
)

func newTestExecutor(reg *model.Registry) *Executor {
	eval := evaluator.New(apexclock.NewFixed(time.Unix(0, 0)))
	rec := recovery.New(recovery.ContinueWithDefault, eval)
	return New(eval, rec, reg)
}

func TestEvaluateORGroupTriggersOnAnyMember(t *testing.T) {
	reg := model.NewRegistry()
	reg.Rules["big-order"] = &model.Rule{ID: "big-order", Condition: "#order.total >= 500", Severity: model.SeverityWarning}
	reg.Rules["repeat"] = &model.Rule{ID: "repeat", Condition: "#customer.orderCount > 3", Severity: model.SeverityInfo}
	group := &model.RuleGroup{
		ID:       "discount",
		Operator: model.OperatorOR,
		Members: []model.RuleReference{
			{TargetID: "big-order", Sequence: 1, Enabled: true},
			{TargetID: "repeat", Sequence: 2, Enabled: true},
		},
	}

	x := newTestExecutor(reg)
	result := x.Evaluate(group, map[string]any{
		"order":    map[string]any{"total": 620},
		"customer": map[string]any{"orderCount": 1},
	})

	assert.True(t, result.Triggered)
	assert.Equal(t, model.SeverityWarning, result.Severity)
	assert.Contains(t, result.PassedRules, "big-order")
}

func TestEvaluateANDGroupSeverityReflectsOnlyFailingMembersOnFailure(t *testing.T) {
	reg := model.NewRegistry()
	reg.Rules["passes"] = &model.Rule{ID: "passes", Condition: "true", Severity: model.SeverityError}
	reg.Rules["fails"] = &model.Rule{ID: "fails", Condition: "false", Severity: model.SeverityWarning}
	group := &model.RuleGroup{
		ID:       "both",
		Operator: model.OperatorAND,
		Members: []model.RuleReference{
			{TargetID: "passes", Sequence: 1, Enabled: true},
			{TargetID: "fails", Sequence: 2, Enabled: true},
		},
	}

	x := newTestExecutor(reg)
	result := x.Evaluate(group, map[string]any{})
	assert.False(t, result.Triggered)
	assert.Equal(t, model.SeverityWarning, result.Severity)
}

func TestEvaluateANDGroupSeverityReflectsAllMembersOnSuccess(t *testing.T) {
	reg := model.NewRegistry()
	reg.Rules["a"] = &model.Rule{ID: "a", Condition: "true", Severity: model.SeverityInfo}
	reg.Rules["b"] = &model.Rule{ID: "b", Condition: "true", Severity: model.SeverityError}
	group := &model.RuleGroup{
		ID:       "both",
		Operator: model.OperatorAND,
		Members: []model.RuleReference{
			{TargetID: "a", Sequence: 1, Enabled: true},
			{TargetID: "b", Sequence: 2, Enabled: true},
		},
	}

	x := newTestExecutor(reg)
	result := x.Evaluate(group, map[string]any{})
	assert.True(t, result.Triggered)
	assert.Equal(t, model.SeverityError, result.Severity)
}

func TestEvaluateANDGroupRequiresAllMembers(t *testing.T) {
	reg := model.NewRegistry()
	reg.Rules["a"] = &model.Rule{ID: "a", Condition: "true"}
	reg.Rules["b"] = &model.Rule{ID: "b", Condition: "false"}
	group := &model.RuleGroup{
		ID:       "both",
		Operator: model.OperatorAND,
		Members: []model.RuleReference{
			{TargetID: "a", Sequence: 1, Enabled: true},
			{TargetID: "b", Sequence: 2, Enabled: true},
		},
	}

	x := newTestExecutor(reg)
	result := x.Evaluate(group, map[string]any{})
	assert.False(t, result.Triggered)
}

func TestEvaluateShortCircuitSkipsRemainingMembers(t *testing.T) {
	reg := model.NewRegistry()
	reg.Rules["a"] = &model.Rule{ID: "a", Condition: "false"}
	reg.Rules["b"] = &model.Rule{ID: "b", Condition: "true"}
	group := &model.RuleGroup{
		ID:                 "sc",
		Operator:           model.OperatorAND,
		StopOnFirstFailure: true,
		ShortCircuit:       true,
		Members: []model.RuleReference{
			{TargetID: "a", Sequence: 1, Enabled: true},
			{TargetID: "b", Sequence: 2, Enabled: true},
		},
	}

	x := newTestExecutor(reg)
	result := x.Evaluate(group, map[string]any{})
	assert.False(t, result.Triggered)
	assert.Equal(t, 1, result.Evaluated)
}

func TestEvaluateParallelMatchesSequentialOutcome(t *testing.T) {
	reg := model.NewRegistry()
	reg.Rules["a"] = &model.Rule{ID: "a", Condition: "true"}
	reg.Rules["b"] = &model.Rule{ID: "b", Condition: "true"}
	reg.Rules["c"] = &model.Rule{ID: "c", Condition: "true"}
	group := &model.RuleGroup{
		ID:       "par",
		Operator: model.OperatorAND,
		Parallel: true,
		Members: []model.RuleReference{
			{TargetID: "a", Sequence: 1, Enabled: true},
			{TargetID: "b", Sequence: 2, Enabled: true},
			{TargetID: "c", Sequence: 3, Enabled: true},
		},
	}

	x := newTestExecutor(reg)
	result := x.Evaluate(group, map[string]any{})
	assert.True(t, result.Triggered)
	assert.Equal(t, 3, result.Evaluated)
}

func TestEvaluateDebugModeRecordsMemberResults(t *testing.T) {
	reg := model.NewRegistry()
	reg.Rules["a"] = &model.Rule{ID: "a", Condition: "true"}
	group := &model.RuleGroup{
		ID:       "dbg",
		Operator: model.OperatorAND,
		Debug:    true,
		Members:  []model.RuleReference{{TargetID: "a", Sequence: 1, Enabled: true}},
	}

	x := newTestExecutor(reg)
	result := x.Evaluate(group, map[string]any{})
	assert.Len(t, result.MemberResults, 1)
}

func TestEvaluateRuleByIDUnknownReturnsDependencyError(t *testing.T) {
	reg := model.NewRegistry()
	x := newTestExecutor(reg)
	result := x.EvaluateRuleByID("nope", map[string]any{})
	assert.Error(t, result.Error)
	var depErr *model.DependencyError
	assert.ErrorAs(t, result.Error, &depErr)
	assert.Equal(t, model.MissingReference, depErr.Kind)
}

func TestEvaluateFailingConditionRecoversToUntriggered(t *testing.T) {
	reg := model.NewRegistry()
	reg.Rules["bad"] = &model.Rule{ID: "bad", Condition: "#missing.field"}
	x := newTestExecutor(reg)
	result := x.EvaluateRuleByID("bad", map[string]any{})
	assert.NoError(t, result.Error)
	assert.False(t, result.Triggered)
}
