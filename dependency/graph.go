// Package dependency implements the Dependency Analyzer (spec §4.3): a
// directed graph over rule groups, enrichments, and complex-workflow
// stages, with cycle and missing-reference detection grounded on the
// teacher's registry-of-ids model (engine/registry.go keys components by
// id rather than by pointer graph, which is exactly the shape a
// dependency analyzer walks).
package dependency

import (
	"fmt"
	"sort"

	"github.com/apex-rules/apex/model"
)

// EdgeKind labels why one node depends on another.
type EdgeKind string

const (
	EdgeGroupToRule       EdgeKind = "GROUP_TO_RULE"
	EdgeGroupToGroup      EdgeKind = "GROUP_TO_GROUP"
	EdgeEnrichmentDepends EdgeKind = "ENRICHMENT_DEPENDS_ON"
	EdgeWorkflowStage     EdgeKind = "WORKFLOW_STAGE_DEPENDS_ON"
)

// Edge is one directed reference from From to To.
type Edge struct {
	Kind EdgeKind
	From string
	To   string
}

// Graph is the reference graph built over one Registry.
type Graph struct {
	edges []Edge
	// adjacency is keyed per namespace so that a rule id and a workflow
	// stage id (which may collide textually) never share a node.
	adjacency map[string][]string
}

// Report is the Analyzer's output: spec §4.3 "missing-reference list,
// cycle list, tree/text reports".
type Report struct {
	MissingReferences []string
	Cycles            [][]string
}

// OK reports whether the registry has no fatal dependency problems.
func (r *Report) OK() bool { return len(r.MissingReferences) == 0 && len(r.Cycles) == 0 }

func (r *Report) asDependencyErrors() []*model.DependencyError {
	var out []*model.DependencyError
	for _, m := range r.MissingReferences {
		out = append(out, &model.DependencyError{Kind: model.MissingReference, Subject: m, Detail: "referenced id not found in registry"})
	}
	for _, cycle := range r.Cycles {
		out = append(out, &model.DependencyError{Kind: model.Cycle, Subject: cycle[0], Detail: fmt.Sprintf("cycle: %v", cycle)})
	}
	return out
}

// Errors returns Report as the typed DependencyError values spec §7
// describes, for callers that want to surface them directly.
func (r *Report) Errors() []*model.DependencyError { return r.asDependencyErrors() }

func node(namespace, id string) string { return namespace + ":" + id }

// Build walks reg and constructs the reference graph: group→rule,
// group→group, enrichment depends-on, and complex-workflow stage
// depends-on edges (spec §4.3).
func Build(reg *model.Registry) *Graph {
	g := &Graph{adjacency: make(map[string][]string)}

	addEdge := func(kind EdgeKind, from, to string) {
		g.edges = append(g.edges, Edge{Kind: kind, From: from, To: to})
		g.adjacency[from] = append(g.adjacency[from], to)
	}

	for _, group := range reg.Groups {
		gnode := node("group", group.ID)
		for _, m := range group.Members {
			if m.TargetIsGroup {
				addEdge(EdgeGroupToGroup, gnode, node("group", m.TargetID))
			} else {
				addEdge(EdgeGroupToRule, gnode, node("rule", m.TargetID))
			}
		}
	}
	for _, e := range reg.Enrichments {
		enode := node("enrichment", e.ID)
		for _, dep := range e.DependsOn {
			addEdge(EdgeEnrichmentDepends, enode, node("enrichment", dep))
		}
	}
	for _, chain := range reg.Chains {
		if chain.Pattern != model.PatternComplexWorkflow || chain.ComplexWorkflow == nil {
			continue
		}
		for _, stage := range chain.ComplexWorkflow.Stages {
			snode := node("stage:"+chain.ID, stage.ID)
			for _, dep := range stage.DependsOn {
				addEdge(EdgeWorkflowStage, snode, node("stage:"+chain.ID, dep))
			}
		}
	}

	return g
}

// Edges returns every edge the graph holds, sorted for determinism.
func (g *Graph) Edges() []Edge {
	out := append([]Edge(nil), g.edges...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	return out
}

// Analyze runs missing-reference and cycle detection over reg, per
// spec §4.3 / §3 invariant 10.
func Analyze(reg *model.Registry) *Report {
	g := Build(reg)
	report := &Report{}

	known := make(map[string]bool)
	for id := range reg.Rules {
		known[node("rule", id)] = true
	}
	for id := range reg.Groups {
		known[node("group", id)] = true
	}
	for id := range reg.Enrichments {
		known[node("enrichment", id)] = true
	}
	for _, chain := range reg.Chains {
		if chain.Pattern == model.PatternComplexWorkflow && chain.ComplexWorkflow != nil {
			for _, s := range chain.ComplexWorkflow.Stages {
				known[node("stage:"+chain.ID, s.ID)] = true
			}
		}
	}

	missing := make(map[string]bool)
	for _, e := range g.edges {
		if !known[e.To] {
			missing[e.To] = true
		}
	}
	for m := range missing {
		report.MissingReferences = append(report.MissingReferences, m)
	}
	sort.Strings(report.MissingReferences)

	report.Cycles = findCycles(g)
	return report
}

// findCycles runs a recursive DFS with a recursion-stack marker over every
// node, returning one cycle path per back edge found. Nodes are visited
// in sorted order so results are deterministic.
func findCycles(g *Graph) [][]string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int)
	var cycles [][]string

	nodes := make([]string, 0, len(g.adjacency))
	for n := range g.adjacency {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)

	var stack []string
	var visit func(n string)
	visit = func(n string) {
		color[n] = gray
		stack = append(stack, n)
		neighbors := append([]string(nil), g.adjacency[n]...)
		sort.Strings(neighbors)
		for _, next := range neighbors {
			switch color[next] {
			case white:
				visit(next)
			case gray:
				cycle := extractCycle(stack, next)
				cycles = append(cycles, cycle)
			}
		}
		stack = stack[:len(stack)-1]
		color[n] = black
	}

	for _, n := range nodes {
		if color[n] == white {
			visit(n)
		}
	}
	return cycles
}

func extractCycle(stack []string, repeated string) []string {
	for i, n := range stack {
		if n == repeated {
			cycle := append([]string(nil), stack[i:]...)
			return append(cycle, repeated)
		}
	}
	return append([]string(nil), stack...)
}

// TextReport renders a tree-shaped text report of the graph's edges,
// grouped by source node, for operator-facing diagnostics.
func TextReport(g *Graph) string {
	byFrom := make(map[string][]Edge)
	for _, e := range g.Edges() {
		byFrom[e.From] = append(byFrom[e.From], e)
	}
	froms := make([]string, 0, len(byFrom))
	for f := range byFrom {
		froms = append(froms, f)
	}
	sort.Strings(froms)

	out := ""
	for _, f := range froms {
		out += f + "\n"
		for _, e := range byFrom[f] {
			out += fmt.Sprintf("  -[%s]-> %s\n", e.Kind, e.To)
		}
	}
	return out
}
