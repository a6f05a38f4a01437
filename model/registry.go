package model

import "sort"

// Registry is the immutable, keyed store of everything a Loader builds
// from one or more configuration documents: spec §4.4. Once built, a
// Registry is never mutated in place — a reload replaces the pointer
// atomically, matching the teacher's copy-on-reload component registry.
type Registry struct {
	Rules         map[string]*Rule
	Groups        map[string]*RuleGroup
	Enrichments   map[string]*Enrichment
	Chains        map[string]*RuleChain
	Datasets      map[string]*Dataset
	DataSourceRefs map[string]*DataSourceRef
	Scenarios     map[string]*Scenario
	// ScenarioOrder preserves declaration order across merged documents,
	// since spec §4.11 dispatches matching scenarios "in declaration
	// order" and Go maps do not iterate deterministically.
	ScenarioOrder []string
}

// NewRegistry returns an empty, ready-to-populate Registry.
func NewRegistry() *Registry {
	return &Registry{
		Rules:          make(map[string]*Rule),
		Groups:         make(map[string]*RuleGroup),
		Enrichments:    make(map[string]*Enrichment),
		Chains:         make(map[string]*RuleChain),
		Datasets:       make(map[string]*Dataset),
		DataSourceRefs: make(map[string]*DataSourceRef),
		Scenarios:      make(map[string]*Scenario),
	}
}

// Rule returns the rule with the given id, if registered.
func (r *Registry) Rule(id string) (*Rule, bool) { v, ok := r.Rules[id]; return v, ok }

// Group returns the rule group with the given id, if registered.
func (r *Registry) Group(id string) (*RuleGroup, bool) { v, ok := r.Groups[id]; return v, ok }

// Enrichment returns the enrichment with the given id, if registered.
func (r *Registry) Enrichment(id string) (*Enrichment, bool) { v, ok := r.Enrichments[id]; return v, ok }

// Chain returns the rule chain with the given id, if registered.
func (r *Registry) Chain(id string) (*RuleChain, bool) { v, ok := r.Chains[id]; return v, ok }

// Dataset returns the dataset with the given id, if registered.
func (r *Registry) Dataset(id string) (*Dataset, bool) { v, ok := r.Datasets[id]; return v, ok }

// Scenario returns the scenario with the given id, if registered.
func (r *Registry) Scenario(id string) (*Scenario, bool) { v, ok := r.Scenarios[id]; return v, ok }

// RulesByCategory returns every rule tagged with category, ordered by id
// for determinism (spec §8 "byte-identical outputs" under a fixed clock).
func (r *Registry) RulesByCategory(category string) []*Rule {
	var out []*Rule
	for _, rule := range r.Rules {
		if rule.HasCategory(category) {
			out = append(out, rule)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ScenariosMatching returns every scenario declaring dataType, in
// declaration order (spec §4.11: "multiple scenarios may match a type,
// in which case they are all executed in declaration order").
func (r *Registry) ScenariosMatching(dataType string) []*Scenario {
	var out []*Scenario
	for _, id := range r.ScenarioOrder {
		s := r.Scenarios[id]
		if s != nil && s.MatchesDataType(dataType) {
			out = append(out, s)
		}
	}
	return out
}
