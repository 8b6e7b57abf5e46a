// Package affected computes which projects and tasks are affected by a set
// of touched files.
package affected

import (
	"os"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/Strob0t/moon/internal/domain/project"
	"github.com/Strob0t/moon/internal/domain/projectgraph"
	"github.com/Strob0t/moon/internal/domain/target"
	"github.com/Strob0t/moon/internal/domain/task"
	"github.com/Strob0t/moon/internal/domain/touched"
)

// Scope bounds how far affectedness propagates along dependency edges.
type Scope string

const (
	ScopeNone   Scope = "none"
	ScopeDirect Scope = "direct"
	ScopeDeep   Scope = "deep"
)

// ParseScope converts s into a Scope; unknown values yield ScopeNone.
func ParseScope(s string) Scope {
	switch sc := Scope(strings.ToLower(strings.TrimSpace(s))); sc {
	case ScopeDirect, ScopeDeep:
		return sc
	default:
		return ScopeNone
	}
}

// ReasonKind explains why something was marked affected.
type ReasonKind string

const (
	ReasonTouchedFile       ReasonKind = "touched-file"
	ReasonUpstreamProject   ReasonKind = "upstream-project"
	ReasonDownstreamProject ReasonKind = "downstream-project"
	ReasonUpstreamTask      ReasonKind = "upstream-task"
	ReasonDownstreamTask    ReasonKind = "downstream-task"
	ReasonEnvVar            ReasonKind = "environment-variable"
	ReasonAlwaysAffected    ReasonKind = "always-affected"
)

// Reason is one cause of inclusion. Value is a path, project id, target or
// variable name depending on Kind.
type Reason struct {
	Kind  ReasonKind `json:"kind"`
	Value string     `json:"value,omitempty"`
}

// State records the reasons a project or task is affected.
type State struct {
	Reasons []Reason `json:"reasons"`
}

func (s *State) add(r Reason) {
	for _, existing := range s.Reasons {
		if existing == r {
			return
		}
	}
	s.Reasons = append(s.Reasons, r)
}

// Affected is the result of tracking.
type Affected struct {
	Projects map[string]*State        `json:"projects"`
	Tasks    map[target.Target]*State `json:"tasks"`
}

// IsProjectAffected reports whether id is in the set.
func (a *Affected) IsProjectAffected(id string) bool {
	if a == nil {
		return false
	}
	_, ok := a.Projects[id]
	return ok
}

// IsTaskAffected reports whether t is in the set.
func (a *Affected) IsTaskAffected(t target.Target) bool {
	if a == nil {
		return false
	}
	_, ok := a.Tasks[t]
	return ok
}

// ProjectIDs returns the affected project ids, sorted.
func (a *Affected) ProjectIDs() []string {
	out := make([]string, 0, len(a.Projects))
	for id := range a.Projects {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Options configures scope propagation.
type Options struct {
	ProjectUpstream   Scope
	ProjectDownstream Scope
	TaskUpstream      Scope
	TaskDownstream    Scope
}

// DefaultOptions walks project dependencies deeply. Tasks are only affected
// through their own inputs; their dependencies join a run as predecessors.
func DefaultOptions() Options {
	return Options{
		ProjectUpstream:   ScopeDeep,
		ProjectDownstream: ScopeNone,
		TaskUpstream:      ScopeNone,
		TaskDownstream:    ScopeNone,
	}
}

// Tracker computes an Affected set against a project graph.
type Tracker struct {
	graph   *projectgraph.Graph
	touched touched.Set
	opts    Options
	lookup  func(string) string
}

// NewTracker returns a tracker with default options that reads env vars
// from the process environment.
func NewTracker(g *projectgraph.Graph, files touched.Set) *Tracker {
	return &Tracker{graph: g, touched: files, opts: DefaultOptions(), lookup: os.Getenv}
}

// WithOptions replaces the scope options.
func (t *Tracker) WithOptions(opts Options) *Tracker {
	t.opts = opts
	return t
}

// WithEnv replaces the environment lookup used for input env vars.
func (t *Tracker) WithEnv(lookup func(string) string) *Tracker {
	t.lookup = lookup
	return t
}

// Track evaluates every project and task in the graph.
func (t *Tracker) Track() *Affected {
	a := &Affected{
		Projects: make(map[string]*State),
		Tasks:    make(map[target.Target]*State),
	}
	t.trackProjects(a)
	t.trackTasks(a)
	return a
}

func (t *Tracker) trackProjects(a *Affected) {
	var direct []string
	for _, p := range t.graph.Projects() {
		if file, ok := t.projectTouched(p); ok {
			stateOf(a.Projects, p.ID).add(Reason{Kind: ReasonTouchedFile, Value: file})
			direct = append(direct, p.ID)
		}
	}

	for _, root := range direct {
		walk(root, t.opts.ProjectUpstream, t.graph.DependenciesOf, func(id string) {
			stateOf(a.Projects, id).add(Reason{Kind: ReasonUpstreamProject, Value: root})
		})
		walk(root, t.opts.ProjectDownstream, t.graph.DependentsOf, func(id string) {
			stateOf(a.Projects, id).add(Reason{Kind: ReasonDownstreamProject, Value: root})
		})
	}
}

func (t *Tracker) projectTouched(p *project.Project) (string, bool) {
	files := t.touched.Sorted()
	if len(files) == 0 {
		return "", false
	}
	if p.IsRootLevel() {
		return files[0], true
	}
	for _, f := range files {
		if f == p.Source || strings.HasPrefix(f, p.Source+"/") {
			return f, true
		}
	}
	return "", false
}

func (t *Tracker) trackTasks(a *Affected) {
	tasks := t.graph.Tasks()
	dependents := make(map[target.Target][]target.Target)
	deps := make(map[target.Target][]target.Target)
	for _, tk := range tasks {
		for _, d := range tk.Deps {
			deps[tk.Target] = append(deps[tk.Target], d.Target)
			dependents[d.Target] = append(dependents[d.Target], tk.Target)
		}
	}

	var direct []target.Target
	for _, tk := range tasks {
		if r, ok := t.taskReason(tk); ok {
			stateOf(a.Tasks, tk.Target).add(r)
			direct = append(direct, tk.Target)
		}
	}

	for _, root := range direct {
		value := root.String()
		walk(root, t.opts.TaskUpstream, func(x target.Target) []target.Target { return deps[x] }, func(x target.Target) {
			stateOf(a.Tasks, x).add(Reason{Kind: ReasonUpstreamTask, Value: value})
		})
		walk(root, t.opts.TaskDownstream, func(x target.Target) []target.Target { return dependents[x] }, func(x target.Target) {
			stateOf(a.Tasks, x).add(Reason{Kind: ReasonDownstreamTask, Value: value})
		})
	}
}

// TaskReason reports why a single task is directly affected.
func (t *Tracker) TaskReason(tk *task.Task) (Reason, bool) { return t.taskReason(tk) }

func (t *Tracker) taskReason(tk *task.Task) (Reason, bool) {
	if tk.Metadata.EmptyInputs {
		return Reason{Kind: ReasonAlwaysAffected}, true
	}
	for _, name := range tk.InputEnv {
		if t.lookup(name) != "" {
			return Reason{Kind: ReasonEnvVar, Value: name}, true
		}
	}
	for _, f := range t.touched.Sorted() {
		if MatchesInputs(tk, f) {
			return Reason{Kind: ReasonTouchedFile, Value: f}, true
		}
	}
	return Reason{}, false
}

// MatchesInputs reports whether the workspace-relative file is an input of tk.
// Input files match exactly or as a parent directory; negated globs exclude.
func MatchesInputs(tk *task.Task, file string) bool {
	for _, g := range tk.InputGlobs {
		if strings.HasPrefix(g, "!") {
			if ok, _ := doublestar.Match(g[1:], file); ok {
				return false
			}
		}
	}
	for _, f := range tk.InputFiles {
		if file == f || strings.HasPrefix(file, f+"/") {
			return true
		}
	}
	for _, g := range tk.InputGlobs {
		if strings.HasPrefix(g, "!") {
			continue
		}
		if ok, _ := doublestar.Match(g, file); ok {
			return true
		}
	}
	return false
}

func stateOf[K comparable](m map[K]*State, key K) *State {
	s, ok := m[key]
	if !ok {
		s = &State{}
		m[key] = s
	}
	return s
}

// walk visits nodes reachable from root through next, excluding root itself,
// up to depth 1 for ScopeDirect and to a fixed point for ScopeDeep.
func walk[K comparable](root K, scope Scope, next func(K) []K, visit func(K)) {
	if scope != ScopeDirect && scope != ScopeDeep {
		return
	}
	seen := map[K]bool{root: true}
	frontier := next(root)
	for len(frontier) > 0 {
		var following []K
		for _, n := range frontier {
			if seen[n] {
				continue
			}
			seen[n] = true
			visit(n)
			if scope == ScopeDeep {
				following = append(following, next(n)...)
			}
		}
		frontier = following
	}
}
