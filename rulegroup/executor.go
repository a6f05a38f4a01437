// Package rulegroup implements the Rule Group Executor (spec §4.7):
// AND/OR aggregation over an ordered member list, sequential short-
// circuit or bounded-parallel evaluation, debug-mode per-rule recording,
// and severity aggregation. Grounded on the teacher's worker-pool shape
// (engine/scheduler.go's bounded goroutine fan-out over a job slice) for
// the parallel path, and on its sequential fallthrough for the
// short-circuit path.
package rulegroup

import (
	"runtime"
	"sort"
	"sync"

	"github.com/apex-rules/apex/evaluator"
	"github.com/apex-rules/apex/model"
	"github.com/apex-rules/apex/recovery"
)

// Executor evaluates RuleGroups against a fact map.
type Executor struct {
	eval      *evaluator.Evaluator
	recoverer *recovery.Recoverer
	registry  *model.Registry
}

// New builds an Executor resolving rule/group references against reg.
func New(eval *evaluator.Evaluator, recoverer *recovery.Recoverer, reg *model.Registry) *Executor {
	return &Executor{eval: eval, recoverer: recoverer, registry: reg}
}

// Evaluate runs group against vars and returns its aggregated result.
// vars is read-only: parallel members must not observe each other's
// writes (spec §5), so every member evaluates against the same map.
func (x *Executor) Evaluate(group *model.RuleGroup, vars map[string]any) *model.GroupResult {
	members := x.orderedMembers(group)

	useParallel := group.Parallel && len(members) > 1 && !group.Debug
	var memberResults []model.RuleResult
	if useParallel {
		memberResults = x.evaluateParallel(members, vars)
	} else {
		memberResults = x.evaluateSequential(group, members, vars)
	}

	return aggregate(group, memberResults)
}

// orderedMember wraps an enabled reference; members sort by declared
// sequence only (spec §5: "sequential group execution orders members by
// declared sequence number"). OverridePriority plays no part in the order.
type orderedMember struct {
	ref model.RuleReference
}

func (x *Executor) orderedMembers(group *model.RuleGroup) []orderedMember {
	members := make([]orderedMember, 0, len(group.Members))
	for _, m := range group.Members {
		if !m.Enabled {
			continue
		}
		members = append(members, orderedMember{ref: m})
	}
	sort.SliceStable(members, func(i, j int) bool { return members[i].ref.Sequence < members[j].ref.Sequence })
	return members
}

func (x *Executor) evaluateOne(ref model.RuleReference, vars map[string]any) model.RuleResult {
	if ref.TargetIsGroup {
		return x.evaluateNestedGroup(ref, vars)
	}
	return x.evaluateRule(ref, vars)
}

func (x *Executor) evaluateRule(ref model.RuleReference, vars map[string]any) model.RuleResult {
	rule, ok := x.registry.Rule(ref.TargetID)
	if !ok {
		return model.RuleResult{RuleID: ref.TargetID, Error: &model.DependencyError{
			Kind: model.MissingReference, Subject: ref.TargetID, Detail: "rule group member not found in registry",
		}}
	}
	return x.EvaluateRule(rule, vars)
}

// EvaluateRule evaluates a single rule's condition against vars, routing
// failures through the configured Recoverer. Exported so the Rule Chain
// Executor can evaluate individual rule ids (spec §4.8 patterns 1-6 all
// bottom out at single-rule evaluation) without duplicating recovery
// dispatch.
func (x *Executor) EvaluateRule(rule *model.Rule, vars map[string]any) model.RuleResult {
	triggered, err := x.eval.EvaluateBool(rule.Condition, vars)
	if err != nil {
		return x.recoverRule(rule, vars, err)
	}
	msg := ""
	if triggered {
		msg = rule.SuccessMessage
	}
	return model.RuleResult{RuleID: rule.ID, Triggered: triggered, Message: msg, Severity: rule.Severity}
}

// EvaluateRuleByID looks up id in the registry and evaluates it.
func (x *Executor) EvaluateRuleByID(id string, vars map[string]any) model.RuleResult {
	rule, ok := x.registry.Rule(id)
	if !ok {
		return model.RuleResult{RuleID: id, Error: &model.DependencyError{
			Kind: model.MissingReference, Subject: id, Detail: "rule id not found in registry",
		}}
	}
	return x.EvaluateRule(rule, vars)
}

// Registry exposes the bound registry so callers (e.g. the chain
// executor) can resolve group references alongside rule ids.
func (x *Executor) Registry() *model.Registry { return x.registry }

func (x *Executor) recoverRule(rule *model.Rule, vars map[string]any, cause error) model.RuleResult {
	if x.recoverer == nil {
		return model.RuleResult{RuleID: rule.ID, Error: cause, Severity: rule.Severity}
	}
	decision := x.recoverer.Recover(rule.ID, rule.Condition, vars, cause)
	switch decision.Outcome {
	case recovery.OutcomeFatal:
		return model.RuleResult{RuleID: rule.ID, Error: cause, Severity: rule.Severity}
	case recovery.OutcomeOmit:
		return model.RuleResult{RuleID: rule.ID, Triggered: false, Message: "omitted: " + decision.Message, Severity: rule.Severity}
	default: // OutcomeResolved
		return model.RuleResult{RuleID: rule.ID, Triggered: decision.Value, Message: decision.Message, Severity: rule.Severity}
	}
}

// evaluateNestedGroup runs a nested RuleGroup reference and folds its
// aggregated outcome into a single RuleResult so it can be combined like
// any other member.
func (x *Executor) evaluateNestedGroup(ref model.RuleReference, vars map[string]any) model.RuleResult {
	nested, ok := x.registry.Group(ref.TargetID)
	if !ok {
		return model.RuleResult{RuleID: ref.TargetID, Error: &model.DependencyError{
			Kind: model.MissingReference, Subject: ref.TargetID, Detail: "nested rule-group reference not found in registry",
		}}
	}
	result := x.Evaluate(nested, vars)
	return model.RuleResult{RuleID: nested.ID, Triggered: result.Triggered, Severity: result.Severity}
}

func (x *Executor) evaluateSequential(group *model.RuleGroup, members []orderedMember, vars map[string]any) []model.RuleResult {
	results := make([]model.RuleResult, 0, len(members))
	acc := group.Operator == model.OperatorAND // AND starts true, OR starts false
	shortCircuit := group.ShortCircuit && !group.Debug

	for _, m := range members {
		res := x.evaluateOne(m.ref, vars)
		if res.Error == nil {
			if group.Operator == model.OperatorAND {
				acc = acc && res.Triggered
			} else {
				acc = acc || res.Triggered
			}
		}
		results = append(results, res)

		if !shortCircuit {
			continue
		}
		if group.Operator == model.OperatorAND && !acc {
			break
		}
		if group.Operator == model.OperatorOR && acc {
			break
		}
	}
	return results
}

func (x *Executor) evaluateParallel(members []orderedMember, vars map[string]any) []model.RuleResult {
	workers := len(members)
	if hw := runtime.GOMAXPROCS(0); hw < workers {
		workers = hw
	}
	if workers < 1 {
		workers = 1
	}

	results := make([]model.RuleResult, len(members))
	jobs := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for idx := range jobs {
				results[idx] = x.evaluateOne(members[idx].ref, vars)
			}
		}()
	}
	for i := range members {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return results
}

// aggregate folds member results into a GroupResult. Severity is the max
// among all evaluated members when the group triggers, but the max among
// only the failing members when it does not (spec §9).
func aggregate(group *model.RuleGroup, results []model.RuleResult) *model.GroupResult {
	out := &model.GroupResult{GroupID: group.ID}
	triggered := group.Operator == model.OperatorAND

	var allSeverity, failedSeverity model.Severity
	for _, r := range results {
		out.Evaluated++
		if r.Error != nil {
			out.Failed++
			out.FailedRules = append(out.FailedRules, r.RuleID)
			allSeverity = allSeverity.Max(r.Severity)
			failedSeverity = failedSeverity.Max(r.Severity)
			continue
		}
		if r.Triggered {
			out.Passed++
			out.PassedRules = append(out.PassedRules, r.RuleID)
		} else {
			out.Failed++
			out.FailedRules = append(out.FailedRules, r.RuleID)
			failedSeverity = failedSeverity.Max(r.Severity)
		}
		allSeverity = allSeverity.Max(r.Severity)
		if group.Operator == model.OperatorAND {
			triggered = triggered && r.Triggered
		} else {
			triggered = triggered || r.Triggered
		}
	}
	out.Triggered = triggered
	if triggered {
		out.Severity = allSeverity
	} else {
		out.Severity = failedSeverity
	}

	if group.Debug {
		out.MemberResults = results
	}
	return out
}
