package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/varkeep/internal/ir"
)

// CycleWarning represents a reference cycle between initial expressions.
//
// Cycles are warnings, not errors: resolution is always bounded at runtime
// and definitions may opt in with allow_circular.
type CycleWarning struct {
	Path    []string `json:"path"`    // Cycle path: ["a", "b", "a"]
	Message string   `json:"message"` // Human-readable description
	Level   string   `json:"level"`   // "warning", or "info" when every member allows circular references
}

// AnalyzeCycles performs static cycle analysis over ${key} references.
//
// The algorithm:
//  1. Build key → referenced keys graph from initial expressions
//  2. Use Tarjan's algorithm to find strongly connected components
//  3. Report each SCC with size > 1 or self-loops as a cycle warning
//
// Warnings are sorted by their first path element so output is stable.
func AnalyzeCycles(defs []ir.Definition) []CycleWarning {
	if len(defs) == 0 {
		return []CycleWarning{}
	}

	graph := buildDependencyGraph(defs)
	allowed := make(map[string]bool, len(defs))
	for _, d := range defs {
		allowed[d.Key] = d.Limits.AllowCircularReferences
	}

	warnings := []CycleWarning{}
	for _, scc := range tarjanSCC(graph) {
		if len(scc) > 1 || (len(scc) == 1 && hasSelfLoop(scc[0], graph)) {
			warnings = append(warnings, cycleSCCToWarning(scc, graph, allowed))
		}
	}

	slices.SortFunc(warnings, func(a, b CycleWarning) int {
		return strings.Compare(a.Path[0], b.Path[0])
	})
	return warnings
}

// dependencyGraph maps key → keys referenced by its initial expression.
type dependencyGraph map[string][]string

// buildDependencyGraph constructs the reference graph. Edges to undefined
// keys are dropped; validation reports those separately.
func buildDependencyGraph(defs []ir.Definition) dependencyGraph {
	graph := make(dependencyGraph, len(defs))
	for _, d := range defs {
		graph[d.Key] = []string{}
	}
	for _, d := range defs {
		for _, ref := range ir.References(d.Initial) {
			if _, ok := graph[ref]; ok {
				graph[d.Key] = append(graph[d.Key], ref)
			}
		}
	}
	return graph
}

// hasSelfLoop checks if a node has an edge to itself.
func hasSelfLoop(node string, graph dependencyGraph) bool {
	return slices.Contains(graph[node], node)
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
//
// Nodes are visited in sorted order so results are deterministic.
// Single-node SCCs without self-loops are NOT cycles.
func tarjanSCC(graph dependencyGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		// Set the depth index for v
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// If v is a root node, pop the stack and create an SCC
		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	nodes := make([]string, 0, len(graph))
	for node := range graph {
		nodes = append(nodes, node)
	}
	slices.Sort(nodes)
	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	return sccs
}

// cycleSCCToWarning converts an SCC to a CycleWarning.
func cycleSCCToWarning(scc []string, graph dependencyGraph, allowed map[string]bool) CycleWarning {
	level := "info"
	for _, k := range scc {
		if !allowed[k] {
			level = "warning"
			break
		}
	}

	if len(scc) == 1 {
		key := scc[0]
		return CycleWarning{
			Path:    []string{key, key},
			Message: fmt.Sprintf("Self-referencing initial value: %s → %s", key, key),
			Level:   level,
		}
	}

	path := reconstructCyclePath(scc, graph)
	return CycleWarning{
		Path:    path,
		Message: fmt.Sprintf("Reference cycle detected: %s", strings.Join(path, " → ")),
		Level:   level,
	}
}

// reconstructCyclePath builds a cycle path from an SCC, starting at the
// smallest key and following edges inside the SCC back to the start.
func reconstructCyclePath(scc []string, graph dependencyGraph) []string {
	if len(scc) == 0 {
		return []string{}
	}

	members := slices.Clone(scc)
	slices.Sort(members)
	inSCC := make(map[string]bool, len(members))
	for _, node := range members {
		inSCC[node] = true
	}

	start := members[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)

	for {
		visited[current] = true

		var next string
		for _, neighbor := range graph[current] {
			if inSCC[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}
		if next == "" {
			break
		}

		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}

	return path
}
