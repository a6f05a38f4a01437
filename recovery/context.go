package recovery

import (
	"sort"

	"github.com/fatih/structs"

	"github.com/apex-rules/apex/model"
)

// Context is the structured failure record spec §4.9 requires: "error
// kind, rule/expression, available variables (names only), suggestions
// (from a fixed table of rewrites)". Recover returns it to its caller in
// Decision.Context; the rule-group executor and the Enrichment Engine do
// not pass it on, and the Performance Monitor does not receive it.
type Context struct {
	Kind             model.ExpressionErrorKind `structs:"kind"`
	Subject          string                    `structs:"subject"`
	Expression       string                    `structs:"expression"`
	AvailableFields  []string                  `structs:"availableFields"`
	Suggestions      []string                  `structs:"suggestions"`
	Message          string                    `structs:"message"`
}

// BuildContext assembles a Context from a failed evaluation. Only
// variable names are recorded — never values — so no fact data leaks
// into logs or audit trails (spec §7: "no stack traces leak expression
// internals").
func BuildContext(subject, expression string, vars map[string]any, cause error) *Context {
	kind := model.UnknownKind
	if exprErr, ok := cause.(*model.ExpressionError); ok {
		kind = exprErr.Kind
	}
	names := make([]string, 0, len(vars))
	for k := range vars {
		names = append(names, k)
	}
	sort.Strings(names)

	return &Context{
		Kind:            kind,
		Subject:         subject,
		Expression:      expression,
		AvailableFields: names,
		Suggestions:     Suggestions(kind),
		Message:         cause.Error(),
	}
}

// AsMap renders the context as a generic map, using fatih/structs to
// walk the tagged fields rather than hand-copying each one — the shape
// callers (logging sinks, the facade's structured failure payload) need
// when they can't import the recovery package's concrete Context type.
func (c *Context) AsMap() map[string]any {
	return structs.Map(c)
}
