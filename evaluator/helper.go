package evaluator

import "fmt"

// evalHelper is bound into every evaluation environment as `__apex`. Its
// methods implement the three SpEL-shaped collection operators that
// rewrite.go's convertProjections rewrites `.![body]`, `.?[body]`, and
// `.^[body]` into: Project, Filter, FirstMatch. Each is constructed fresh
// per Evaluate call (see Evaluator.buildEnv) so it closes over that
// call's own environment rather than sharing state across concurrent
// evaluations of the same cached *vm.Program.
type evalHelper struct {
	ev  *Evaluator
	env map[string]any
}

// Project evaluates body once per element of collection (bound as `it`)
// and returns the collected results.
func (h evalHelper) Project(collection any, body string) (any, error) {
	items, err := toIterable(collection)
	if err != nil {
		return nil, err
	}
	out := make(Seq, 0, len(items))
	for _, item := range items {
		v, err := h.ev.runRaw(body, h.childEnv(item))
		if err != nil {
			return nil, err
		}
		out = append(out, Unwrap(v))
	}
	return out, nil
}

// Filter evaluates body once per element of collection and keeps the
// elements for which body evaluates truthy.
func (h evalHelper) Filter(collection any, body string) (any, error) {
	items, err := toIterable(collection)
	if err != nil {
		return nil, err
	}
	out := make(Seq, 0, len(items))
	for _, item := range items {
		v, err := h.ev.runRaw(body, h.childEnv(item))
		if err != nil {
			return nil, err
		}
		if truthy(v) {
			out = append(out, item)
		}
	}
	return out, nil
}

// FirstMatch returns the first element of collection for which body
// evaluates truthy, or nil if none match.
func (h evalHelper) FirstMatch(collection any, body string) (any, error) {
	items, err := toIterable(collection)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		v, err := h.ev.runRaw(body, h.childEnv(item))
		if err != nil {
			return nil, err
		}
		if truthy(v) {
			return item, nil
		}
	}
	return nil, nil
}

// childEnv layers `it` (and, if item is itself a map, its fields as a
// convenience for dotted access inside the body) on top of the outer
// environment, without mutating it.
func (h evalHelper) childEnv(item any) map[string]any {
	child := make(map[string]any, len(h.env)+1)
	for k, v := range h.env {
		child[k] = v
	}
	child["it"] = item
	switch m := item.(type) {
	case Dict:
		for k, v := range m {
			if _, exists := child[k]; !exists {
				child[k] = v
			}
		}
	case map[string]any:
		for k, v := range m {
			if _, exists := child[k]; !exists {
				child[k] = Wrap(v)
			}
		}
	}
	return child
}

func toIterable(v any) ([]any, error) {
	switch t := v.(type) {
	case Seq:
		return []any(t), nil
	case []any:
		return t, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("expected a list for projection/filter/first-match, got %T", v)
	}
}

func truthy(v any) bool {
	v = Unwrap(v)
	b, ok := v.(bool)
	return ok && b
}
