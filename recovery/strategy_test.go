package recovery

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apexclock "github.com/apex-rules/apex/clock"
	"github.com/apex-rules/apex/evaluator"
	"github.com/apex-rules/apex/model"
)

func testEval() *evaluator.Evaluator {
	return evaluator.New(apexclock.NewFixed(time.Unix(0, 0)))
}

func TestRecoverContinueWithDefault(t *testing.T) {
	r := New(ContinueWithDefault, testEval())
	d := r.Recover("rule-1", "#x.y", map[string]any{"x": nil}, errors.New("boom"))
	assert.Equal(t, OutcomeResolved, d.Outcome)
	assert.False(t, d.Value)
}

func TestRecoverSkipRule(t *testing.T) {
	r := New(SkipRule, testEval())
	d := r.Recover("rule-1", "#x.y", map[string]any{}, errors.New("boom"))
	assert.Equal(t, OutcomeOmit, d.Outcome)
}

func TestRecoverFailFast(t *testing.T) {
	r := New(FailFast, testEval())
	d := r.Recover("rule-1", "#x.y", map[string]any{}, errors.New("boom"))
	assert.Equal(t, OutcomeFatal, d.Outcome)
}

func TestRecoverRetryWithSafeExpressionSucceeds(t *testing.T) {
	r := New(RetryWithSafeExpr, testEval())
	d := r.Recover("rule-1", "x.y", map[string]any{}, &model.ExpressionError{Kind: model.NullDereference, Err: errors.New("nil pointer")})
	require.Equal(t, OutcomeResolved, d.Outcome)
	assert.False(t, d.Value)
}

func TestRewriteSafeInjectsSafeNavigation(t *testing.T) {
	assert.Equal(t, "x?.y", RewriteSafe("x.y"))
}

func TestRewriteSafeIdempotent(t *testing.T) {
	assert.Equal(t, "x?.y", RewriteSafe("x?.y"))
}

func TestBuildContextRecordsNamesOnlyNotValues(t *testing.T) {
	ctx := BuildContext("rule-1", "#x.y", map[string]any{"secret": "topsecret"}, errors.New("boom"))
	assert.Equal(t, []string{"secret"}, ctx.AvailableFields)
	m := ctx.AsMap()
	assert.NotContains(t, m, "topsecret")
	assert.Equal(t, "rule-1", m["subject"])
}

func TestClassifyDataSourceErrorPreservesClass(t *testing.T) {
	err := &model.DataSourceError{Class: model.Transient, Err: errors.New("timeout")}
	assert.Equal(t, model.Transient, ClassifyDataSourceError(err))
}

func TestClassifyDataSourceErrorDefaultsToFatal(t *testing.T) {
	assert.Equal(t, model.Fatal, ClassifyDataSourceError(errors.New("unknown")))
}

func TestRecoverable(t *testing.T) {
	assert.True(t, Recoverable(model.Transient))
	assert.True(t, Recoverable(model.DataIntegrity))
	assert.False(t, Recoverable(model.Fatal))
	assert.False(t, Recoverable(model.Configuration))
}
