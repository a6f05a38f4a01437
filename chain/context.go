// Package chain implements the Rule Chain Executor (spec §4.8): the six
// declarative chain patterns sharing a common ChainedEvaluationContext,
// grounded on the teacher's RuleContext (types/types.go) which threads a
// mutable message plus metadata through a DAG of nodes — here
// specialized to a fact map plus a stage-result map threaded through one
// of six fixed execution shapes instead of an arbitrary node graph.
package chain

import (
	"github.com/apex-rules/apex/model"
)

// ChainedEvaluationContext wraps the input fact map plus accumulated
// stage results and the ordered execution path, per spec §4.8.
type ChainedEvaluationContext struct {
	facts         map[string]any
	StageResults  map[string]model.RuleResult
	ExecutionPath []string
	Errors        map[string]error
	Skipped       []string
}

// NewChainedEvaluationContext snapshots facts so the caller's input map
// is never mutated by chain execution.
func NewChainedEvaluationContext(facts map[string]any) *ChainedEvaluationContext {
	snapshot := make(map[string]any, len(facts))
	for k, v := range facts {
		snapshot[k] = v
	}
	return &ChainedEvaluationContext{
		facts:        snapshot,
		StageResults: make(map[string]model.RuleResult),
		Errors:       make(map[string]error),
	}
}

// Vars returns the evaluation environment for the next expression: the
// current fact snapshot plus a #ruleResults map of stage id to triggered
// flag (no #ruleGroupResults map is added) (spec §4.7: "Exposed publicly
// computed fields for downstream chain use").
func (c *ChainedEvaluationContext) Vars() map[string]any {
	env := make(map[string]any, len(c.facts)+1)
	for k, v := range c.facts {
		env[k] = v
	}
	ruleResults := make(map[string]any, len(c.StageResults))
	for id, r := range c.StageResults {
		ruleResults[id] = r.Triggered
	}
	env["ruleResults"] = ruleResults
	return env
}

// Bind writes name = value into the fact snapshot, for a stage's
// output-variable (spec §4.8 Pattern 2/5).
func (c *ChainedEvaluationContext) Bind(name string, value any) {
	c.facts[name] = value
}

// RecordRule appends a rule outcome to StageResults and ExecutionPath.
func (c *ChainedEvaluationContext) RecordRule(key string, result model.RuleResult) {
	c.StageResults[key] = result
	c.ExecutionPath = append(c.ExecutionPath, key)
}

// RecordError attaches an error to key without halting recording.
func (c *ChainedEvaluationContext) RecordError(key string, err error) {
	c.Errors[key] = err
}

// RecordSkipped notes that id was considered but excluded from
// execution, e.g. an accumulation rule a selection strategy dropped.
func (c *ChainedEvaluationContext) RecordSkipped(id string) {
	c.Skipped = append(c.Skipped, id)
}

// Result builds the final model.ChainResult for chainID.
func (c *ChainedEvaluationContext) Result(chainID string, success bool, finalOutcome any) *model.ChainResult {
	return &model.ChainResult{
		ChainID:        chainID,
		Success:        success,
		FinalOutcome:   finalOutcome,
		StageResults:   c.StageResults,
		ExecutionPath:  c.ExecutionPath,
		Errors:         c.Errors,
		SkippedRuleIDs: c.Skipped,
	}
}
