package evaluator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apexclock "github.com/apex-rules/apex/clock"
	"github.com/apex-rules/apex/model"
)

func newTestEvaluator() *Evaluator {
	return New(apexclock.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestEvaluateBoolSigilAndComparison(t *testing.T) {
	e := newTestEvaluator()
	ok, err := e.EvaluateBool("#order.total >= 500", map[string]any{
		"order": map[string]any{"total": 620},
	})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluateBoolNullCoercesFalse(t *testing.T) {
	e := newTestEvaluator()
	ok, err := e.EvaluateBool("missing", map[string]any{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluateNumber(t *testing.T) {
	e := newTestEvaluator()
	v, err := e.EvaluateNumber("#income / #requested", map[string]any{"income": 9000.0, "requested": 12000.0})
	require.NoError(t, err)
	assert.InDelta(t, 0.75, v, 0.0001)
}

func TestEvaluateNumberWrongTypeErrors(t *testing.T) {
	e := newTestEvaluator()
	_, err := e.EvaluateNumber(`"not a number"`, map[string]any{})
	require.Error(t, err)
	var exprErr *model.ExpressionError
	require.ErrorAs(t, err, &exprErr)
	assert.Equal(t, model.TypeCoercion, exprErr.Kind)
}

func TestCheckSyntaxRejectsBadExpression(t *testing.T) {
	e := newTestEvaluator()
	err := e.CheckSyntax("#a +")
	assert.Error(t, err)
}

func TestSetLiteralConversion(t *testing.T) {
	e := newTestEvaluator()
	ok, err := e.EvaluateBool(`#code in {1,2,3}`, map[string]any{"code": 2})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMethodRenameLowerCamelToExported(t *testing.T) {
	e := newTestEvaluator()
	ok, err := e.EvaluateBool(`#name.contains("oo")`, map[string]any{"name": "foobar"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCompileCacheReusesProgram(t *testing.T) {
	e := newTestEvaluator()
	_, err := e.Evaluate("#x + 1", map[string]any{"x": 1}, KindAny)
	require.NoError(t, err)
	if _, ok := e.cache.Load(Preprocess("#x + 1")); !ok {
		t.Fatal("expected compiled program to be cached")
	}
}
