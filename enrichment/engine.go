// Package enrichment implements the Enrichment Engine (spec §4.6):
// applying an ordered, dependency-respecting list of enrichments to a
// fact map and producing an enriched copy, grounded on the teacher's
// node-pipeline shape (engine/pipeline.go threads a mutable context
// through an ordered node list) generalized from a linear pipeline to a
// dependency-ordered one.
package enrichment

import (
	"context"
	"fmt"

	"github.com/apex-rules/apex/corelog"
	"github.com/apex-rules/apex/evaluator"
	"github.com/apex-rules/apex/lookup"
	"github.com/apex-rules/apex/model"
	"github.com/apex-rules/apex/recovery"
)

// Engine applies enrichments against a fact map.
type Engine struct {
	eval      *evaluator.Evaluator
	provider  *lookup.Provider
	recoverer *recovery.Recoverer
	logger    corelog.Logger
	sinks     map[string]model.AuditSink
}

// New builds an Engine. provider may be nil if no enrichment in use
// references a lookup dataset. logger may be nil, in which case log
// calls (e.g. conditional-mapping's log-matched-rule) are silently
// dropped via corelog.Noop.
func New(eval *evaluator.Evaluator, provider *lookup.Provider, recoverer *recovery.Recoverer, logger corelog.Logger) *Engine {
	if logger == nil {
		logger = corelog.Noop{}
	}
	return &Engine{eval: eval, provider: provider, recoverer: recoverer, logger: logger, sinks: make(map[string]model.AuditSink)}
}

// RegisterSink binds name to sink, consumed by enrichments of type audit
// (spec §6.4). Mirrors lookup.Provider's RegisterAdapter.
func (e *Engine) RegisterSink(name string, sink model.AuditSink) {
	e.sinks[name] = sink
}

// Outcome records what happened applying one enrichment, surfaced to the
// Performance Monitor and to callers wanting per-enrichment diagnostics.
type Outcome struct {
	EnrichmentID string
	Applied      bool
	Skipped      bool
	Reason       string
	Err          error
}

// Apply runs every enrichment in enrichments against facts, respecting
// depends-on ordering, and returns an enriched copy plus per-enrichment
// outcomes. facts is never mutated (spec §4.6 "observable side effects:
// only modifications to the returned enriched fact map").
func (e *Engine) Apply(ctx EvalContext, enrichments []*model.Enrichment) (map[string]any, []Outcome, error) {
	working := make(map[string]any, len(ctx.Facts))
	for k, v := range ctx.Facts {
		working[k] = v
	}

	ordered, err := orderByDependency(enrichments)
	if err != nil {
		return working, nil, err
	}

	applied := make(map[string]bool)
	var outcomes []Outcome

	for _, enr := range ordered {
		if !enr.Enabled {
			outcomes = append(outcomes, Outcome{EnrichmentID: enr.ID, Skipped: true, Reason: "disabled"})
			continue
		}
		if unmet := unmetDependencies(enr, applied); len(unmet) > 0 {
			outcomes = append(outcomes, Outcome{EnrichmentID: enr.ID, Err: &model.DependencyError{
				Kind: model.MissingReference, Subject: enr.ID,
				Detail: fmt.Sprintf("unmet dependencies after ordering pass: %v", unmet),
			}})
			continue
		}
		if enr.Condition != "" {
			ok, err := e.eval.EvaluateBool(enr.Condition, working)
			if err != nil {
				outcomes = append(outcomes, e.recoverOutcome(enr, working, err))
				continue
			}
			if !ok {
				outcomes = append(outcomes, Outcome{EnrichmentID: enr.ID, Skipped: true, Reason: "condition false"})
				continue
			}
		}

		if err := e.execute(ctx, enr, working); err != nil {
			outcomes = append(outcomes, e.recoverOutcome(enr, working, err))
			continue
		}
		applied[enr.ID] = true
		outcomes = append(outcomes, Outcome{EnrichmentID: enr.ID, Applied: true})
	}

	return working, outcomes, nil
}

// EvalContext carries the facts and a cancellable context for
// data-source-backed lookups (spec §4.5's adapter seam).
type EvalContext struct {
	Facts map[string]any
	Ctx   context.Context
}

func (e *Engine) recoverOutcome(enr *model.Enrichment, working map[string]any, cause error) Outcome {
	if e.recoverer == nil {
		return Outcome{EnrichmentID: enr.ID, Skipped: true, Reason: "recovery disabled: " + cause.Error(), Err: cause}
	}
	decision := e.recoverer.Recover(enr.ID, enr.Condition, working, cause)
	switch decision.Outcome {
	case recovery.OutcomeFatal:
		return Outcome{EnrichmentID: enr.ID, Err: cause}
	default:
		return Outcome{EnrichmentID: enr.ID, Skipped: true, Reason: "recovered: " + decision.Message, Err: cause}
	}
}

func unmetDependencies(enr *model.Enrichment, applied map[string]bool) []string {
	var unmet []string
	for _, dep := range enr.DependsOn {
		if !applied[dep] {
			unmet = append(unmet, dep)
		}
	}
	return unmet
}

// orderByDependency performs a stable topological sort over enrichments'
// depends-on edges so dependents always follow their dependencies,
// preserving declaration order among independent enrichments.
func orderByDependency(enrichments []*model.Enrichment) ([]*model.Enrichment, error) {
	byID := make(map[string]*model.Enrichment, len(enrichments))
	for _, e := range enrichments {
		byID[e.ID] = e
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int)
	var ordered []*model.Enrichment

	var visit func(e *model.Enrichment) error
	visit = func(e *model.Enrichment) error {
		color[e.ID] = gray
		for _, dep := range e.DependsOn {
			depEnr, ok := byID[dep]
			if !ok {
				continue // missing reference is a dependency-analyzer concern, not ordering
			}
			switch color[dep] {
			case white:
				if err := visit(depEnr); err != nil {
					return err
				}
			case gray:
				return &model.DependencyError{Kind: model.Cycle, Subject: e.ID, Detail: "enrichment depends-on cycle involving " + dep}
			}
		}
		color[e.ID] = black
		ordered = append(ordered, e)
		return nil
	}

	for _, e := range enrichments {
		if color[e.ID] == white {
			if err := visit(e); err != nil {
				return nil, err
			}
		}
	}
	return ordered, nil
}
