package actiongraph

import (
	"github.com/Strob0t/moon/internal/domain"
)

// Batch is a set of node indices that may run concurrently.
type Batch []int

// Batches layers the graph with Kahn's algorithm. Batch 0 holds the root,
// each later batch only depends on earlier ones, and persistent RunTask
// nodes are moved into a final batch of their own. A graph without any
// node besides the root yields no batches.
func (g *Graph) Batches() ([]Batch, error) {
	n := len(g.nodes)
	if n <= 1 {
		return nil, nil
	}

	pending := make([]int, n)
	for i := range g.nodes {
		pending[i] = len(g.deps[i])
	}

	var layer Batch
	for i, d := range pending {
		if d == 0 {
			layer = append(layer, i)
		}
	}

	var (
		batches    []Batch
		persistent Batch
		visited    int
	)
	for len(layer) > 0 {
		var next, current Batch
		for _, idx := range layer {
			visited++
			if node := g.nodes[idx]; node.IsRunTask() && node.Persistent {
				persistent = append(persistent, idx)
			} else {
				current = append(current, idx)
			}
			for _, dependent := range g.dependents[idx] {
				pending[dependent]--
				if pending[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		if len(current) > 0 {
			batches = append(batches, current)
		}
		layer = next
	}

	if visited != n {
		if err := g.DetectCycle(); err != nil {
			return nil, err
		}
		return nil, domain.ErrCycleDetected
	}

	if len(persistent) > 0 {
		batches = append(batches, persistent)
	}
	return batches, nil
}
