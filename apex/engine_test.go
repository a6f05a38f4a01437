package apex

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apexclock "github.com/apex-rules/apex/clock"
	"github.com/apex-rules/apex/model"
)

func newTestRegistry() *model.Registry {
	reg := model.NewRegistry()
	reg.Rules["big-order"] = &model.Rule{ID: "big-order", Condition: "#order.total >= 500", Severity: model.SeverityWarning}
	reg.Rules["small-order"] = &model.Rule{ID: "small-order", Condition: "#order.total < 100"}
	reg.Groups["discount-checks"] = &model.RuleGroup{
		ID:       "discount-checks",
		Operator: model.OperatorOR,
		Members:  []model.RuleReference{{TargetID: "big-order", Sequence: 1, Enabled: true}},
	}
	return reg
}

func TestEvaluateFactsAgainstDefaultRuleSet(t *testing.T) {
	reg := newTestRegistry()
	e, err := NewEngine(reg, WithClock(apexclock.NewFixed(time.Unix(0, 0))), WithDefaultRuleSet("discount-checks"))
	require.NoError(t, err)

	res, err := e.EvaluateFacts(context.Background(), map[string]any{"order": map[string]any{"total": 620}})
	require.NoError(t, err)
	assert.True(t, res.Triggered)
	assert.Equal(t, model.SeverityWarning, res.Severity)
}

func TestEvaluateFactsSeverityReflectsOnlyFailingMemberOnFailure(t *testing.T) {
	reg := newTestRegistry()
	reg.Rules["big-order"].Severity = model.SeverityError
	reg.Rules["small-order"].Severity = model.SeverityWarning
	e, err := NewEngine(reg, WithClock(apexclock.NewFixed(time.Unix(0, 0))), WithDefaultRuleSet("small-order", "big-order"))
	require.NoError(t, err)

	res, err := e.EvaluateFacts(context.Background(), map[string]any{"order": map[string]any{"total": 620}})
	require.NoError(t, err)
	assert.False(t, res.Triggered)
	assert.Equal(t, model.SeverityWarning, res.Severity)
}

func TestEvaluateFactsWithNoDefaultRuleSetErrors(t *testing.T) {
	reg := newTestRegistry()
	e, err := NewEngine(reg)
	require.NoError(t, err)

	_, err = e.EvaluateFacts(context.Background(), map[string]any{})
	assert.Error(t, err)
}

func TestRunScenarioUnknownIDReturnsUnmatched(t *testing.T) {
	reg := newTestRegistry()
	e, err := NewEngine(reg)
	require.NoError(t, err)

	res, err := e.RunScenario(context.Background(), "nope", map[string]any{})
	require.NoError(t, err)
	assert.False(t, res.Matched)
}

func TestRunScenarioRunsReferencedRules(t *testing.T) {
	reg := newTestRegistry()
	reg.Scenarios["order-review"] = &model.Scenario{
		ID:             "order-review",
		DataTypes:      []string{"order"},
		RuleConfigRefs: []string{"big-order"},
	}
	e, err := NewEngine(reg)
	require.NoError(t, err)

	res, err := e.RunScenario(context.Background(), "order-review", map[string]any{"order": map[string]any{"total": 620}})
	require.NoError(t, err)
	assert.True(t, res.Matched)
	require.Len(t, res.RuleResults, 1)
	assert.True(t, res.RuleResults[0].Triggered)
}

func TestRunScenariosForTypeMatchesByDataTypeField(t *testing.T) {
	reg := newTestRegistry()
	reg.Scenarios["order-review"] = &model.Scenario{
		ID:             "order-review",
		DataTypes:      []string{"order"},
		RuleConfigRefs: []string{"big-order"},
	}
	e, err := NewEngine(reg)
	require.NoError(t, err)

	results, err := e.RunScenariosForType(context.Background(), map[string]any{
		"type":  "order",
		"order": map[string]any{"total": 620},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Matched)
}

func TestRunScenariosForTypeUnknownTypeReturnsUnmatched(t *testing.T) {
	reg := newTestRegistry()
	e, err := NewEngine(reg)
	require.NoError(t, err)

	results, err := e.RunScenariosForType(context.Background(), map[string]any{"type": "mystery"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Matched)
}

func TestRunChainUnknownIDErrors(t *testing.T) {
	reg := newTestRegistry()
	e, err := NewEngine(reg)
	require.NoError(t, err)

	_, err = e.RunChain(context.Background(), "nope", map[string]any{})
	assert.Error(t, err)
}

func TestRunChainExecutesSequentialPattern(t *testing.T) {
	reg := newTestRegistry()
	reg.Chains["risk-score"] = &model.RuleChain{
		ID:      "risk-score",
		Pattern: model.PatternSequential,
		Sequential: &model.SequentialChainConfig{
			Stages: []model.SequentialStage{
				{Expression: "#income / #requested", OutputVariable: "incomeRatio"},
			},
		},
	}
	e, err := NewEngine(reg)
	require.NoError(t, err)

	result, err := e.RunChain(context.Background(), "risk-score", map[string]any{"income": 3000.0, "requested": 12000.0})
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestDeadlineForAppliesDefaultWhenAbsent(t *testing.T) {
	reg := newTestRegistry()
	e, err := NewEngine(reg, WithDefaultDeadline(5*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := e.deadlineFor(context.Background())
	defer cancel()
	_, ok := ctx.Deadline()
	assert.True(t, ok)
}

func TestDeadlineForPreservesExistingDeadline(t *testing.T) {
	reg := newTestRegistry()
	e, err := NewEngine(reg, WithDefaultDeadline(5*time.Millisecond))
	require.NoError(t, err)

	parent, cancelParent := context.WithTimeout(context.Background(), time.Hour)
	defer cancelParent()
	ctx, cancel := e.deadlineFor(parent)
	defer cancel()
	deadline, _ := ctx.Deadline()
	parentDeadline, _ := parent.Deadline()
	assert.Equal(t, parentDeadline, deadline)
}

type fakeAuditSink struct {
	records []map[string]any
}

func (f *fakeAuditSink) Emit(ctx context.Context, record map[string]any) error {
	f.records = append(f.records, record)
	return nil
}

func TestWithAuditSinkIsRegisteredOnEnrichmentEngine(t *testing.T) {
	reg := newTestRegistry()
	reg.Enrichments["log-audit"] = &model.Enrichment{
		ID:      "log-audit",
		Type:    model.EnrichmentAudit,
		Enabled: true,
		Audit: &model.AuditSpec{
			SinkName: "trail",
			Fields:   []model.FieldMapping{{Source: model.SourceField{IsExpression: true, Value: "#order.total"}, TargetField: "total"}},
		},
	}
	reg.Scenarios["order-review"] = &model.Scenario{ID: "order-review", DataTypes: []string{"order"}, RuleConfigRefs: []string{"big-order"}}

	sink := &fakeAuditSink{}
	e, err := NewEngine(reg, WithAuditSink("trail", sink))
	require.NoError(t, err)

	_, err = e.RunScenario(context.Background(), "order-review", map[string]any{"order": map[string]any{"total": 620}})
	require.NoError(t, err)
	require.Len(t, sink.records, 1)
	assert.Equal(t, 620, sink.records[0]["total"])
}
