package evaluator

import "strings"

// Str, Seq, and Dict give fact values method-call surfaces that match
// spec §4.1's string/collection operations (.contains(), .toUpperCase(),
// .size(), …). expr-lang dispatches method calls through reflection
// against whatever concrete Go type a variable holds, so wrapping
// primitive facts in these thin named types is what makes
// `#name.toUpperCase()` resolvable without a bespoke parser extension.
type Str string

func (s Str) Contains(sub string) bool  { return strings.Contains(string(s), sub) }
func (s Str) ToUpperCase() Str          { return Str(strings.ToUpper(string(s))) }
func (s Str) ToLowerCase() Str          { return Str(strings.ToLower(string(s))) }
func (s Str) Length() int               { return len(string(s)) }
func (s Str) String() string            { return string(s) }

// Seq wraps a list fact so `.contains()`, `.size()`, and `.isEmpty()`
// resolve as methods. Membership is a linear scan, which matches both
// the projection/filter results and the set-literal fallback described
// in evaluator/rewrite.go.
type Seq []any

func (s Seq) Contains(x any) bool {
	for _, item := range s {
		if valuesEqual(item, x) {
			return true
		}
	}
	return false
}

func (s Seq) Size() int      { return len(s) }
func (s Seq) IsEmpty() bool  { return len(s) == 0 }

// Dict wraps a map fact for `.size()`/`.isEmpty()`. Field access (`#m['k']`
// and `#m.k`) is handled natively by expr-lang's indexing/member syntax
// against the underlying map[string]any, which Dict aliases.
type Dict map[string]any

func (d Dict) Size() int     { return len(d) }
func (d Dict) IsEmpty() bool { return len(d) == 0 }

func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case Str:
		if bv, ok := b.(string); ok {
			return string(av) == bv
		}
		if bv, ok := b.(Str); ok {
			return av == bv
		}
	case string:
		if bv, ok := b.(Str); ok {
			return av == string(bv)
		}
	}
	return a == b
}

// Wrap recursively converts raw fact values into the wrapper types above
// so compiled expressions can call the spec's method surface on them.
// Numbers, bools, time.Time, and already-wrapped values pass through
// unchanged.
func Wrap(v any) any {
	switch t := v.(type) {
	case string:
		return Str(t)
	case Str, Seq, Dict:
		return t
	case map[string]any:
		out := make(Dict, len(t))
		for k, val := range t {
			out[k] = Wrap(val)
		}
		return out
	case []any:
		out := make(Seq, len(t))
		for i, val := range t {
			out[i] = Wrap(val)
		}
		return out
	default:
		return v
	}
}

// Unwrap reverses Wrap, for returning clean Go values to callers outside
// the evaluator (e.g. enrichment field assignment).
func Unwrap(v any) any {
	switch t := v.(type) {
	case Str:
		return string(t)
	case Dict:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = Unwrap(val)
		}
		return out
	case Seq:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Unwrap(val)
		}
		return out
	default:
		return v
	}
}
