// Package recovery implements Error Recovery & Classification (spec
// §4.9): the four configurable strategies for handling an expression
// evaluation failure during rule/enrichment evaluation, an error-context
// builder, and the data-store error classifier consumed by pipeline
// callers. Strategy dispatch follows the teacher's aspect pattern
// (builtin/aspect's narrow before/after/on-error hooks) generalized into
// a single decision point rather than an AOP chain, since APEX has one
// well-defined failure site (expression evaluation) rather than an
// arbitrary node graph.
package recovery

import (
	"strings"

	"github.com/apex-rules/apex/evaluator"
	"github.com/apex-rules/apex/model"
)

// Strategy selects how an expression evaluation failure is handled.
type Strategy string

const (
	ContinueWithDefault  Strategy = "CONTINUE_WITH_DEFAULT"
	RetryWithSafeExpr    Strategy = "RETRY_WITH_SAFE_EXPRESSION"
	SkipRule             Strategy = "SKIP_RULE"
	FailFast             Strategy = "FAIL_FAST"
)

// Outcome is what the caller (Rule Group/Chain Executor) should do after
// Recover returns.
type Outcome int

const (
	// OutcomeResolved carries a usable boolean result (Decision.Value):
	// either the error degraded to untriggered (false), or a
	// RETRY_WITH_SAFE_EXPRESSION retry succeeded and produced a real
	// value.
	OutcomeResolved Outcome = iota
	// OutcomeOmit excludes the rule from aggregation entirely, as if it
	// had been disabled.
	OutcomeOmit
	// OutcomeFatal surfaces the error to the caller; evaluation stops.
	OutcomeFatal
)

// Decision is Recover's result.
type Decision struct {
	Outcome Outcome
	Value   bool // meaningful when Outcome == OutcomeResolved
	Message string
	Context *Context
}

// Recoverer applies a Strategy to evaluation failures.
type Recoverer struct {
	strategy Strategy
	eval     *evaluator.Evaluator
}

// New builds a Recoverer using strategy, retrying failed expressions (for
// RETRY_WITH_SAFE_EXPRESSION) through eval.
func New(strategy Strategy, eval *evaluator.Evaluator) *Recoverer {
	return &Recoverer{strategy: strategy, eval: eval}
}

// Recover handles a failed rule/enrichment expression evaluation. subject
// identifies the failing rule/enrichment id for the error context;
// expression is the source text that failed; vars is the evaluation
// environment at time of failure (used to list available variable names
// and, for the retry strategy, to re-run the rewritten expression).
func (r *Recoverer) Recover(subject, expression string, vars map[string]any, cause error) Decision {
	ctx := BuildContext(subject, expression, vars, cause)

	switch r.strategy {
	case SkipRule:
		return Decision{Outcome: OutcomeOmit, Message: cause.Error(), Context: ctx}
	case FailFast:
		return Decision{Outcome: OutcomeFatal, Message: cause.Error(), Context: ctx}
	case RetryWithSafeExpr:
		if r.eval != nil {
			rewritten := RewriteSafe(expression)
			if rewritten != expression {
				if v, err := r.eval.EvaluateBool(rewritten, vars); err == nil {
					return Decision{Outcome: OutcomeResolved, Value: v, Message: "recovered via safe-expression retry: " + cause.Error(), Context: ctx}
				}
			}
		}
		// retry unavailable or also failed: fall back to CONTINUE_WITH_DEFAULT.
		return Decision{Outcome: OutcomeResolved, Value: false, Message: cause.Error(), Context: ctx}
	default: // ContinueWithDefault
		return Decision{Outcome: OutcomeResolved, Value: false, Message: cause.Error(), Context: ctx}
	}
}

// safeRewrites is the fixed table spec §4.9/§7 refers to: "suggestions
// (from a fixed table of rewrites)". Each entry names the class of
// rewrite and the text substitution RewriteSafe applies.
var safeRewrites = []struct {
	name string
	from string
	to   string
}{
	{name: "inject safe navigation on dotted access", from: ".", to: "?."},
}

// RewriteSafe attempts exactly one documented rewrite: converting plain
// member access to safe navigation, so a NULL_DEREFERENCE on retry
// degrades to null instead of erroring again. Every '.' in the
// expression becomes "?.", including those after sigil-prefixed
// variable references (#x.y becomes #x?.y) and those inside numeric or
// string literals; an expression already containing "?." is returned
// unchanged.
func RewriteSafe(expression string) string {
	if !strings.Contains(expression, ".") || strings.Contains(expression, "?.") {
		return expression
	}
	return strings.ReplaceAll(expression, ".", "?.")
}

// Suggestions returns human-readable rewrite suggestions for kind, drawn
// from the fixed table, for the error-context service (spec §4.9).
func Suggestions(kind model.ExpressionErrorKind) []string {
	switch kind {
	case model.NullDereference:
		return []string{"use safe navigation (?.) before the failing member access", "add a null guard: #x != null && #x.field"}
	case model.PropertyAccess:
		return []string{"verify the field name exists on the source value", "check for a typo in the property path"}
	case model.MethodInvocation:
		return []string{"verify the method is supported for this value's type", "check argument count and types"}
	case model.TypeCoercion:
		return []string{"add an explicit cast or conversion before the operation", "verify both operands share a comparable type"}
	case model.SyntaxError:
		return []string{"check for unbalanced brackets or quotes", "verify ternary and boolean operator placement"}
	default:
		return []string{"inspect the expression against the available variable list"}
	}
}
