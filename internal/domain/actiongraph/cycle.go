package actiongraph

import (
	"github.com/Strob0t/moon/internal/domain"
)

// DetectCycle runs Kosaraju's SCC algorithm over every node except the root
// and returns a *domain.CycleError for the first cyclic component found.
// The reported path visits each node of that component exactly once.
func (g *Graph) DetectCycle() error {
	comp := g.cyclicComponent()
	if comp == nil {
		return nil
	}
	return &domain.CycleError{Path: g.componentPath(comp)}
}

// StronglyConnected returns all components, root excluded.
func (g *Graph) StronglyConnected() [][]int {
	n := len(g.nodes)
	visited := make([]bool, n)
	order := make([]int, 0, n)

	var visit func(int)
	visit = func(v int) {
		visited[v] = true
		for _, w := range g.deps[v] {
			if w != RootIndex && !visited[w] {
				visit(w)
			}
		}
		order = append(order, v)
	}
	for v := 1; v < n; v++ {
		if !visited[v] {
			visit(v)
		}
	}

	assigned := make([]bool, n)
	var comps [][]int
	var collect func(int, *[]int)
	collect = func(v int, comp *[]int) {
		assigned[v] = true
		*comp = append(*comp, v)
		for _, w := range g.dependents[v] {
			if w != RootIndex && !assigned[w] {
				collect(w, comp)
			}
		}
	}
	for i := len(order) - 1; i >= 0; i-- {
		v := order[i]
		if assigned[v] {
			continue
		}
		var comp []int
		collect(v, &comp)
		comps = append(comps, comp)
	}
	return comps
}

func (g *Graph) cyclicComponent() []int {
	var best []int
	bestMin := -1
	for _, comp := range g.StronglyConnected() {
		if len(comp) == 1 && !g.hasSelfEdge(comp[0]) {
			continue
		}
		lo := comp[0]
		for _, v := range comp {
			if v < lo {
				lo = v
			}
		}
		if bestMin == -1 || lo < bestMin {
			best, bestMin = comp, lo
		}
	}
	return best
}

func (g *Graph) hasSelfEdge(v int) bool {
	for _, w := range g.deps[v] {
		if w == v {
			return true
		}
	}
	return false
}

// componentPath walks the component depth-first from its lowest index and
// returns node labels in preorder.
func (g *Graph) componentPath(comp []int) []string {
	member := make(map[int]bool, len(comp))
	start := comp[0]
	for _, v := range comp {
		member[v] = true
		if v < start {
			start = v
		}
	}

	seen := make(map[int]bool, len(comp))
	path := make([]string, 0, len(comp))
	var walk func(int)
	walk = func(v int) {
		seen[v] = true
		path = append(path, g.nodes[v].Label())
		for _, w := range g.deps[v] {
			if member[w] && !seen[w] {
				walk(w)
			}
		}
	}
	walk(start)
	return path
}
