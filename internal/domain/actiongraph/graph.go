// Package actiongraph holds the DAG of pipeline actions, its topological
// batcher and cycle detection.
package actiongraph

import (
	"github.com/Strob0t/moon/internal/domain/action"
)

// RootIndex is the index of the SyncWorkspace node.
const RootIndex = 0

// Graph is a directed graph of action nodes. An edge a -> b means a depends
// on b, so b must complete first. Nodes are unique by label.
type Graph struct {
	nodes      []action.Node
	deps       [][]int
	dependents [][]int
	index      map[string]int
}

// New returns a graph containing only the SyncWorkspace root.
func New() *Graph {
	g := &Graph{index: make(map[string]int)}
	g.AddNode(action.SyncWorkspace())
	return g
}

// AddNode inserts n if no node with the same label exists and returns its index.
func (g *Graph) AddNode(n action.Node) (int, bool) {
	label := n.Label()
	if idx, ok := g.index[label]; ok {
		return idx, false
	}
	idx := len(g.nodes)
	g.nodes = append(g.nodes, n)
	g.deps = append(g.deps, nil)
	g.dependents = append(g.dependents, nil)
	g.index[label] = idx
	return idx, true
}

// AddEdge records that from depends on to. Duplicate edges are ignored;
// self edges are kept so cycle detection can report them.
func (g *Graph) AddEdge(from, to int) {
	for _, d := range g.deps[from] {
		if d == to {
			return
		}
	}
	g.deps[from] = append(g.deps[from], to)
	g.dependents[to] = append(g.dependents[to], from)
}

// UpdateNode replaces the node at idx; the label must stay the same.
func (g *Graph) UpdateNode(idx int, n action.Node) {
	g.nodes[idx] = n
}

// Len returns the number of nodes, root included.
func (g *Graph) Len() int { return len(g.nodes) }

// Node returns the node at idx.
func (g *Graph) Node(idx int) action.Node { return g.nodes[idx] }

// Nodes returns all nodes in insertion order.
func (g *Graph) Nodes() []action.Node {
	return append([]action.Node(nil), g.nodes...)
}

// IndexOf returns the index of the node with label.
func (g *Graph) IndexOf(label string) (int, bool) {
	idx, ok := g.index[label]
	return idx, ok
}

// Dependencies returns the nodes idx depends on.
func (g *Graph) Dependencies(idx int) []int { return g.deps[idx] }

// Dependents returns the nodes that depend on idx.
func (g *Graph) Dependents(idx int) []int { return g.dependents[idx] }

// Labels returns node labels in insertion order.
func (g *Graph) Labels() []string {
	out := make([]string, len(g.nodes))
	for i, n := range g.nodes {
		out[i] = n.Label()
	}
	return out
}

// RunTaskCount returns the number of RunTask nodes.
func (g *Graph) RunTaskCount() int {
	count := 0
	for _, n := range g.nodes {
		if n.IsRunTask() {
			count++
		}
	}
	return count
}
