// Package projectgraph holds the built, immutable graph of workspace
// projects and answers queries against it.
package projectgraph

import (
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/Strob0t/moon/internal/domain"
	"github.com/Strob0t/moon/internal/domain/project"
	"github.com/Strob0t/moon/internal/domain/target"
	"github.com/Strob0t/moon/internal/domain/task"
)

// Graph is the project graph. Edges are stored as project ids.
type Graph struct {
	projects   map[string]*project.Project
	ids        []string
	aliases    map[string]string
	dependents map[string][]string
}

// New builds a graph from fully built projects. aliases maps alias -> id.
// It fails on dangling dependencies and dependency cycles.
func New(projects []*project.Project, aliases map[string]string) (*Graph, error) {
	g := &Graph{
		projects:   make(map[string]*project.Project, len(projects)),
		aliases:    make(map[string]string, len(aliases)),
		dependents: make(map[string][]string),
	}
	for _, p := range projects {
		if _, ok := g.projects[p.ID]; ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrDuplicateProject, p.ID)
		}
		g.projects[p.ID] = p
		g.ids = append(g.ids, p.ID)
	}
	sort.Strings(g.ids)

	for alias, id := range aliases {
		if _, ok := g.projects[id]; ok {
			g.aliases[alias] = id
		}
	}

	for _, id := range g.ids {
		for _, dep := range g.projects[id].DependencyIDs() {
			if _, ok := g.projects[dep]; !ok {
				return nil, fmt.Errorf("project %s depends on %w %q", id, domain.ErrUnknownProject, dep)
			}
			g.dependents[dep] = append(g.dependents[dep], id)
		}
	}
	for dep := range g.dependents {
		sort.Strings(g.dependents[dep])
	}

	if err := g.checkCycles(); err != nil {
		return nil, err
	}
	return g, nil
}

// IDs returns all project ids, sorted.
func (g *Graph) IDs() []string { return append([]string(nil), g.ids...) }

// Len returns the number of projects.
func (g *Graph) Len() int { return len(g.ids) }

// Projects returns all projects sorted by id.
func (g *Graph) Projects() []*project.Project {
	out := make([]*project.Project, 0, len(g.ids))
	for _, id := range g.ids {
		out = append(out, g.projects[id])
	}
	return out
}

// Aliases returns a copy of the alias -> id map.
func (g *Graph) Aliases() map[string]string {
	out := make(map[string]string, len(g.aliases))
	for k, v := range g.aliases {
		out[k] = v
	}
	return out
}

// ResolveID maps an id or alias to a project id.
func (g *Graph) ResolveID(idOrAlias string) (string, bool) {
	if _, ok := g.projects[idOrAlias]; ok {
		return idOrAlias, true
	}
	id, ok := g.aliases[idOrAlias]
	return id, ok
}

// Get returns the project for an id or alias.
func (g *Graph) Get(idOrAlias string) (*project.Project, error) {
	id, ok := g.ResolveID(idOrAlias)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownProject, idOrAlias)
	}
	return g.projects[id], nil
}

// DependenciesOf returns the direct dependency ids of id.
func (g *Graph) DependenciesOf(id string) []string {
	p, ok := g.projects[id]
	if !ok {
		return nil
	}
	return p.DependencyIDs()
}

// DependentsOf returns the ids of projects that directly depend on id.
func (g *Graph) DependentsOf(id string) []string {
	return append([]string(nil), g.dependents[id]...)
}

// FromPath returns the project owning a workspace-relative path: the one
// with the longest matching source, falling back to the root-level project.
func (g *Graph) FromPath(rel string) (*project.Project, error) {
	rel = strings.TrimPrefix(path.Clean("/"+rel), "/")

	var (
		best    *project.Project
		bestLen = -1
	)
	for _, id := range g.ids {
		p := g.projects[id]
		if p.IsRootLevel() {
			if best == nil {
				best = p
			}
			continue
		}
		if (rel == p.Source || strings.HasPrefix(rel, p.Source+"/")) && len(p.Source) > bestLen {
			best, bestLen = p, len(p.Source)
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: no project owns %q", domain.ErrUnknownProject, rel)
	}
	return best, nil
}

// Task resolves a project-scoped target to its task.
func (g *Graph) Task(t target.Target) (*task.Task, error) {
	pid, ok := t.ProjectID()
	if !ok {
		return nil, fmt.Errorf("%w: %s is not project scoped", domain.ErrUnknownTarget, t)
	}
	p, err := g.Get(pid)
	if err != nil {
		return nil, err
	}
	tk, ok := p.Task(t.TaskID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownTask, t)
	}
	return tk, nil
}

// Tasks returns every task of every project, ordered by project then task id.
func (g *Graph) Tasks() []*task.Task {
	var out []*task.Task
	for _, p := range g.Projects() {
		for _, id := range p.TaskIDs() {
			out = append(out, p.Tasks[id])
		}
	}
	return out
}

// checkCycles performs a colored DFS over project dependencies.
func (g *Graph) checkCycles() error {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(g.ids))
	var stack []string

	var visit func(string) error
	visit = func(id string) error {
		color[id] = grey
		stack = append(stack, id)
		for _, dep := range g.projects[id].DependencyIDs() {
			switch color[dep] {
			case grey:
				start := 0
				for i, s := range stack {
					if s == dep {
						start = i
						break
					}
				}
				return &domain.CycleError{Path: append([]string(nil), stack[start:]...)}
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return nil
	}

	for _, id := range g.ids {
		if color[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

type snapshot struct {
	Projects []*project.Project `json:"projects"`
	Aliases  map[string]string  `json:"aliases"`
}

// MarshalJSON serializes projects and aliases.
func (g *Graph) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshot{Projects: g.Projects(), Aliases: g.aliases})
}

// UnmarshalJSON rebuilds the graph from its serialized form.
func (g *Graph) UnmarshalJSON(b []byte) error {
	var s snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	built, err := New(s.Projects, s.Aliases)
	if err != nil {
		return err
	}
	*g = *built
	return nil
}
