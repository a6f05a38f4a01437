package enrichment

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apexclock "github.com/apex-rules/apex/clock"
	"github.com/apex-rules/apex/corelog"
	"github.com/apex-rules/apex/evaluator"
	"github.com/apex-rules/apex/lookup"
	"github.com/apex-rules/apex/model"
	"github.com/apex-rules/apex/recovery"
)

func newTestEngine() (*Engine, *lookup.Provider) {
	eval := evaluator.New(apexclock.NewFixed(time.Unix(0, 0)))
	provider := lookup.NewProvider(apexclock.Real{})
	rec := recovery.New(recovery.ContinueWithDefault, eval)
	return New(eval, provider, rec, corelog.Noop{}), provider
}

func TestApplyFieldEnrichmentCopiesAndTransformsValue(t *testing.T) {
	e, _ := newTestEngine()
	enr := &model.Enrichment{
		ID:      "copy-total",
		Type:    model.EnrichmentField,
		Enabled: true,
		FieldMappings: []model.FieldMapping{
			{Source: model.SourceField{IsExpression: true, Value: "#order.total"}, TargetField: "total", Transformation: "#value * 2"},
		},
	}

	enriched, outcomes, err := e.Apply(EvalContext{Facts: map[string]any{"order": map[string]any{"total": 100}}}, []*model.Enrichment{enr})
	require.NoError(t, err)
	assert.Equal(t, 200, enriched["total"])
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Applied)
}

func TestApplyRespectsDependencyOrdering(t *testing.T) {
	e, _ := newTestEngine()
	second := &model.Enrichment{
		ID:        "second",
		Type:      model.EnrichmentCalculation,
		Enabled:   true,
		DependsOn: []string{"first"},
		Calculation: &model.CalculationSpec{
			Expression:  "base + 1",
			ResultField: "afterSecond",
		},
	}
	first := &model.Enrichment{
		ID:      "first",
		Type:    model.EnrichmentCalculation,
		Enabled: true,
		Calculation: &model.CalculationSpec{
			Expression:  "1",
			ResultField: "base",
		},
	}

	enriched, _, err := e.Apply(EvalContext{Facts: map[string]any{}}, []*model.Enrichment{second, first})
	require.NoError(t, err)
	assert.Equal(t, 1, enriched["base"])
	assert.Equal(t, 2, enriched["afterSecond"])
}

func TestApplySkipsDisabledEnrichment(t *testing.T) {
	e, _ := newTestEngine()
	enr := &model.Enrichment{ID: "disabled", Type: model.EnrichmentField, Enabled: false}

	_, outcomes, err := e.Apply(EvalContext{Facts: map[string]any{}}, []*model.Enrichment{enr})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Skipped)
	assert.Equal(t, "disabled", outcomes[0].Reason)
}

func TestApplySkipsWhenConditionFalse(t *testing.T) {
	e, _ := newTestEngine()
	enr := &model.Enrichment{
		ID:        "maybe",
		Type:      model.EnrichmentCalculation,
		Enabled:   true,
		Condition: "#go == true",
		Calculation: &model.CalculationSpec{
			Expression:  "1",
			ResultField: "x",
		},
	}

	enriched, outcomes, err := e.Apply(EvalContext{Facts: map[string]any{"go": false}}, []*model.Enrichment{enr})
	require.NoError(t, err)
	assert.NotContains(t, enriched, "x")
	assert.True(t, outcomes[0].Skipped)
}

func TestApplyConditionalMappingUsesFirstMatchingPriority(t *testing.T) {
	e, _ := newTestEngine()
	enr := &model.Enrichment{
		ID:      "tier",
		Type:    model.EnrichmentConditionalMapping,
		Enabled: true,
		ConditionalMapping: &model.ConditionalMappingSpec{
			TargetField:      "tier",
			StopOnFirstMatch: true,
			MappingRules: []model.MappingRule{
				{ID: "gold", Priority: 1, ConditionOp: model.OperatorAND, SubConditions: []string{"#score >= 90"}, Transformation: `"gold"`},
				{ID: "silver", Priority: 2, ConditionOp: model.OperatorAND, SubConditions: []string{"#score >= 50"}, Transformation: `"silver"`},
			},
		},
	}

	enriched, _, err := e.Apply(EvalContext{Facts: map[string]any{"score": 95}}, []*model.Enrichment{enr})
	require.NoError(t, err)
	assert.Equal(t, "gold", enriched["tier"])
}

type recordingLogger struct {
	lines []string
}

func (r *recordingLogger) Debugf(format string, args ...any) {}
func (r *recordingLogger) Infof(format string, args ...any) {
	r.lines = append(r.lines, fmt.Sprintf(format, args...))
}
func (r *recordingLogger) Warnf(format string, args ...any)  {}
func (r *recordingLogger) Errorf(format string, args ...any) {}
func (r *recordingLogger) With(fields map[string]any) corelog.Logger { return r }

func TestApplyConditionalMappingLogsMatchedRuleWhenEnabled(t *testing.T) {
	eval := evaluator.New(apexclock.NewFixed(time.Unix(0, 0)))
	provider := lookup.NewProvider(apexclock.Real{})
	rec := recovery.New(recovery.ContinueWithDefault, eval)
	logger := &recordingLogger{}
	e := New(eval, provider, rec, logger)

	enr := &model.Enrichment{
		ID:      "tier",
		Type:    model.EnrichmentConditionalMapping,
		Enabled: true,
		ConditionalMapping: &model.ConditionalMappingSpec{
			TargetField:      "tier",
			StopOnFirstMatch: true,
			LogMatchedRule:   true,
			MappingRules: []model.MappingRule{
				{ID: "executive-review", Priority: 1, ConditionOp: model.OperatorAND, SubConditions: []string{"#score >= 90"}, Transformation: `"gold"`},
			},
		},
	}

	_, _, err := e.Apply(EvalContext{Facts: map[string]any{"score": 95}}, []*model.Enrichment{enr})
	require.NoError(t, err)
	require.Len(t, logger.lines, 1)
	assert.Contains(t, logger.lines[0], "executive-review")
}

type fakeSink struct {
	records []map[string]any
}

func (f *fakeSink) Emit(ctx context.Context, record map[string]any) error {
	f.records = append(f.records, record)
	return nil
}

func TestApplyAuditEnrichmentEmitsRecordWithoutMutatingFacts(t *testing.T) {
	e, _ := newTestEngine()
	sink := &fakeSink{}
	e.RegisterSink("trail", sink)

	enr := &model.Enrichment{
		ID:      "log-it",
		Type:    model.EnrichmentAudit,
		Enabled: true,
		Audit: &model.AuditSpec{
			SinkName: "trail",
			Fields: []model.FieldMapping{
				{Source: model.SourceField{IsExpression: true, Value: "#order.total"}, TargetField: "total"},
			},
		},
	}

	enriched, outcomes, err := e.Apply(EvalContext{Facts: map[string]any{"order": map[string]any{"total": 77}}, Ctx: context.Background()}, []*model.Enrichment{enr})
	require.NoError(t, err)
	assert.NotContains(t, enriched, "total")
	require.Len(t, sink.records, 1)
	assert.Equal(t, 77, sink.records[0]["total"])
	assert.True(t, outcomes[0].Applied)
}

func TestApplyAuditEnrichmentMissingSinkErrors(t *testing.T) {
	e, _ := newTestEngine()
	enr := &model.Enrichment{
		ID:      "log-it",
		Type:    model.EnrichmentAudit,
		Enabled: true,
		Audit:   &model.AuditSpec{SinkName: "nonexistent"},
	}

	_, outcomes, err := e.Apply(EvalContext{Facts: map[string]any{}}, []*model.Enrichment{enr})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Error(t, outcomes[0].Err)
}

func TestApplyLookupEnrichmentResolvesFromInlineDataset(t *testing.T) {
	e, _ := newTestEngine()
	enr := &model.Enrichment{
		ID:      "tax-rate",
		Type:    model.EnrichmentLookup,
		Enabled: true,
		Lookup: &model.LookupSpec{
			LookupKeyExpr: "#country",
			DatasetKind:   model.DatasetInline,
			KeyField:      "code",
			InlineDataset: &model.Dataset{
				KeyField: "code",
				Rows:     []map[string]any{{"code": "US", "rate": 0.07}},
			},
			FieldMappings: []model.FieldMapping{
				{Source: model.SourceField{Value: "rate"}, TargetField: "taxRate"},
			},
		},
	}

	enriched, _, err := e.Apply(EvalContext{Facts: map[string]any{"country": "US"}}, []*model.Enrichment{enr})
	require.NoError(t, err)
	assert.Equal(t, 0.07, enriched["taxRate"])
}
