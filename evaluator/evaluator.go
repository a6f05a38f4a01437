// Package evaluator implements the APEX Expression Evaluator (spec
// §4.1): a side-effect-free expression language evaluated over a
// variable context, built on github.com/expr-lang/expr exactly as the
// teacher's ExprFilterNode/ExprAssignNode components compile and run
// expr-lang programs. APEX's SpEL-shaped surface (the '#' sigil, safe
// navigation, set literals, collection projection/filter/first-match,
// and lowerCamel method names) is adapted onto expr-lang's native
// grammar by the textual rewrite pipeline in rewrite.go, keeping the
// compiled-program cache and evaluation hot path entirely on expr-lang's
// vm.
package evaluator

import (
	"fmt"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	apexclock "github.com/apex-rules/apex/clock"
	"github.com/apex-rules/apex/model"
)

// Kind is a return-type hint for Evaluate, per spec §4.1 contract
// ("value coerced to hint if possible").
type Kind int

const (
	KindAny Kind = iota
	KindBool
	KindString
	KindInt
	KindFloat
	KindList
	KindMap
)

// Evaluator compiles and evaluates APEX expressions. It is safe for
// concurrent use: the compiled-program cache is a sync.Map, and each
// Evaluate call builds its own environment, so parallel rule-group
// members (spec §5) can share one Evaluator without locking.
type Evaluator struct {
	clock   apexclock.Clock
	cache   sync.Map // string -> *vm.Program
}

// New builds an Evaluator bound to clk, which backs the `dates` accessor
// namespace exposed to every expression.
func New(clk apexclock.Clock) *Evaluator {
	return &Evaluator{clock: clk}
}

// Evaluate compiles (or reuses a cached compilation of) source, runs it
// against vars, and coerces the result to hint. vars is never mutated.
func (e *Evaluator) Evaluate(source string, vars map[string]any, hint Kind) (any, error) {
	rewritten := Preprocess(source)
	program, err := e.compile(rewritten)
	if err != nil {
		return nil, &model.ExpressionError{Kind: model.SyntaxError, Expression: source, Err: err}
	}

	env := e.buildEnv(vars)
	out, err := vm.Run(program, env)
	if err != nil {
		return nil, &model.ExpressionError{Kind: classify(err), Expression: source, Err: err}
	}
	out = Unwrap(out)

	coerced, err := coerce(out, hint)
	if err != nil {
		return nil, &model.ExpressionError{Kind: model.TypeCoercion, Expression: source, Err: err}
	}
	return coerced, nil
}

// CheckSyntax compiles source without running it, for the Configuration
// Loader's "expression strings parse" validation step (spec §4.2). A
// successful check also warms the compile cache for later evaluation.
func (e *Evaluator) CheckSyntax(source string) error {
	_, err := e.compile(Preprocess(source))
	return err
}

// EvaluateBool is a convenience wrapper for rule conditions: §4.7
// coerces null to false rather than erroring.
func (e *Evaluator) EvaluateBool(source string, vars map[string]any) (bool, error) {
	v, err := e.Evaluate(source, vars, KindBool)
	if err != nil {
		return false, err
	}
	if v == nil {
		return false, nil
	}
	b, _ := v.(bool)
	return b, nil
}

// EvaluateNumber evaluates an expression expected to return a number
// (used by accumulative-chain conditions, per §4.8 Pattern 4).
func (e *Evaluator) EvaluateNumber(source string, vars map[string]any) (float64, error) {
	v, err := e.Evaluate(source, vars, KindFloat)
	if err != nil {
		return 0, err
	}
	f, ok := v.(float64)
	if !ok {
		return 0, &model.ExpressionError{Kind: model.TypeCoercion, Expression: source, Err: fmt.Errorf("expected numeric result, got %T", v)}
	}
	return f, nil
}

// compile returns a cached *vm.Program for rewritten source, compiling
// on first use. Caching by the verbatim (post-rewrite) source string is
// the performance contract in spec §4.1: a warm-path evaluation against
// a small fact map is then just an env build plus a vm.Run.
func (e *Evaluator) compile(rewrittenSource string) (*vm.Program, error) {
	if cached, ok := e.cache.Load(rewrittenSource); ok {
		return cached.(*vm.Program), nil
	}
	program, err := expr.Compile(rewrittenSource, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}
	actual, _ := e.cache.LoadOrStore(rewrittenSource, program)
	return actual.(*vm.Program), nil
}

// runRaw compiles+runs source (assumed already preprocessed) against
// env, used internally by evalHelper's projection/filter/first-match
// methods where the body text was extracted post-rewrite.
func (e *Evaluator) runRaw(source string, env map[string]any) (any, error) {
	program, err := e.compile(source)
	if err != nil {
		return nil, &model.ExpressionError{Kind: model.SyntaxError, Expression: source, Err: err}
	}
	out, err := vm.Run(program, env)
	if err != nil {
		return nil, &model.ExpressionError{Kind: classify(err), Expression: source, Err: err}
	}
	return out, nil
}

// buildEnv wraps fact values and adds the accessor namespaces (dates,
// uuid) and the projection/filter/first-match helper (__apex) that
// rewrite.go's convertProjections targets.
func (e *Evaluator) buildEnv(vars map[string]any) map[string]any {
	env := make(map[string]any, len(vars)+3)
	for k, v := range vars {
		env[k] = Wrap(v)
	}
	env["dates"] = NewDateAccessor(e.clock)
	env["uuid"] = UUIDAccessor{}
	env["__apex"] = evalHelper{ev: e, env: env}
	return env
}

// coerce converts a raw result to the requested Kind. KindAny performs
// no conversion.
func coerce(v any, hint Kind) (any, error) {
	if hint == KindAny || v == nil {
		return v, nil
	}
	switch hint {
	case KindBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
		return nil, fmt.Errorf("cannot coerce %T to bool", v)
	case KindString:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fmt.Sprint(v), nil
	case KindInt:
		switch n := v.(type) {
		case int:
			return n, nil
		case int64:
			return int(n), nil
		case float64:
			return int(n), nil
		}
		return nil, fmt.Errorf("cannot coerce %T to int", v)
	case KindFloat:
		switch n := v.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		}
		return nil, fmt.Errorf("cannot coerce %T to float64", v)
	case KindList:
		if l, ok := v.([]any); ok {
			return l, nil
		}
		return nil, fmt.Errorf("cannot coerce %T to list", v)
	case KindMap:
		if m, ok := v.(map[string]any); ok {
			return m, nil
		}
		return nil, fmt.Errorf("cannot coerce %T to map", v)
	default:
		return v, nil
	}
}

// classify maps an expr-lang runtime/compile error onto the spec's fixed
// error-kind table (§4.1/§7). expr-lang does not export typed runtime
// errors for these cases, so classification is a best-effort text match
// against its known error phrasing — the same approach the teacher's
// EngineError takes by wrapping the raw error rather than inspecting it.
func classify(err error) model.ExpressionErrorKind {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "nil") && (strings.Contains(msg, "cannot fetch") || strings.Contains(msg, "cannot get") || strings.Contains(msg, "nil pointer")):
		return model.NullDereference
	case strings.Contains(msg, "unknown method") || strings.Contains(msg, "no method") || strings.Contains(msg, "not a function"):
		return model.MethodInvocation
	case strings.Contains(msg, "unknown field") || strings.Contains(msg, "cannot fetch") || strings.Contains(msg, "has no field"):
		return model.PropertyAccess
	case strings.Contains(msg, "cannot convert") || strings.Contains(msg, "invalid operation") || strings.Contains(msg, "mismatched types"):
		return model.TypeCoercion
	case strings.Contains(msg, "unexpected token") || strings.Contains(msg, "syntax error"):
		return model.SyntaxError
	default:
		return model.UnknownKind
	}
}
