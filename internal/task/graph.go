// Package task implements the Task Engine (spec.md §4.9): a Make-like DAG
// of build/config/catalog/pipeline/reservoir/test/clean tasks, each
// fingerprinted for up-to-date skip detection and executed through a
// Provider registered by kind.
package task

import (
	"fmt"

	"github.com/altorun/alto/internal/alterr"
)

// Node is one task in the graph: its declared dependencies, the fact
// inputs its fingerprint is computed over, and the output paths that must
// exist for a fingerprint match to count as up to date.
type Node struct {
	ID         string
	Kind       string
	DependsOn  []string
	InputFiles []string
	Scalars    map[string]any
	Outputs    []string
}

// Graph holds every declared node, keyed by ID, alongside their
// declaration order for deterministic iteration when order doesn't
// otherwise matter.
type Graph struct {
	nodes map[string]*Node
	order []string
}

// NewGraph returns an empty Graph.
func NewGraph() *Graph {
	return &Graph{nodes: make(map[string]*Node)}
}

// AddNode registers n. Duplicate IDs are a ConfigError.
func (g *Graph) AddNode(n *Node) error {
	if _, exists := g.nodes[n.ID]; exists {
		return alterr.NewConfigError(n.ID, fmt.Errorf("duplicate task id %q", n.ID))
	}
	g.nodes[n.ID] = n
	g.order = append(g.order, n.ID)
	return nil
}

// Node returns the node with the given ID.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Closure returns rootID plus every task it transitively depends on, each
// appearing once, in no particular order — TopoSort imposes the order
// execution actually needs.
func (g *Graph) Closure(rootID string) ([]string, error) {
	if _, ok := g.nodes[rootID]; !ok {
		return nil, alterr.NewConfigError(rootID, fmt.Errorf("unknown task %q", rootID))
	}
	seen := map[string]bool{}
	var walk func(id string) error
	walk = func(id string) error {
		if seen[id] {
			return nil
		}
		seen[id] = true
		n, ok := g.nodes[id]
		if !ok {
			return alterr.NewConfigError(id, fmt.Errorf("task %q depends on unknown task %q", rootID, id))
		}
		for _, dep := range n.DependsOn {
			if err := walk(dep); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(rootID); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	return ids, nil
}

// TopoSort orders ids so every task follows all of its dependencies
// (Kahn's algorithm), restricted to the given subset. A cycle anywhere in
// the subset is a ConfigError.
func (g *Graph) TopoSort(ids []string) ([]string, error) {
	inSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		inSet[id] = true
	}

	inDegree := make(map[string]int, len(ids))
	dependents := make(map[string][]string, len(ids))
	for _, id := range ids {
		inDegree[id] = 0
	}
	for _, id := range ids {
		n := g.nodes[id]
		for _, dep := range n.DependsOn {
			if !inSet[dep] {
				continue
			}
			inDegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	// Seed the queue in declaration order so output is deterministic when
	// multiple nodes are simultaneously ready.
	var queue []string
	for _, id := range g.order {
		if inSet[id] && inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	var out []string
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		out = append(out, id)
		for _, dep := range dependents[id] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(out) != len(ids) {
		return nil, alterr.NewConfigError("graph", fmt.Errorf("cycle detected among tasks"))
	}
	return out, nil
}

// Levels groups a topologically sorted id list into dependency-barrier
// levels: every id in level k depends only on ids in levels < k, so all
// ids within one level can execute concurrently.
func (g *Graph) Levels(sorted []string) [][]string {
	depth := make(map[string]int, len(sorted))
	var levels [][]string
	for _, id := range sorted {
		n := g.nodes[id]
		d := 0
		for _, dep := range n.DependsOn {
			if dd, ok := depth[dep]; ok && dd+1 > d {
				d = dd + 1
			}
		}
		depth[id] = d
		for len(levels) <= d {
			levels = append(levels, nil)
		}
		levels[d] = append(levels[d], id)
	}
	return levels
}
