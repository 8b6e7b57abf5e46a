package service

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/Strob0t/moon/internal/domain"
	"github.com/Strob0t/moon/internal/domain/action"
	"github.com/Strob0t/moon/internal/domain/actiongraph"
	"github.com/Strob0t/moon/internal/domain/affected"
	"github.com/Strob0t/moon/internal/domain/project"
	"github.com/Strob0t/moon/internal/domain/projectgraph"
	"github.com/Strob0t/moon/internal/domain/target"
	"github.com/Strob0t/moon/internal/domain/task"
	"github.com/Strob0t/moon/internal/domain/toolchain"
)

// RunRequirements controls how requested targets become actions.
type RunRequirements struct {
	// CI skips tasks that opt out of CI runs.
	CI bool
	// CICheck keeps unaffected tasks, marked as required when they run in CI.
	CICheck bool
	// Dependents also runs the tasks that depend on each requested target.
	Dependents bool
	// Interactive forces the requested targets to run interactively.
	Interactive bool
}

// ActionGraphBuilder turns requested targets into an action graph.
type ActionGraphBuilder struct {
	ws       *Workspace
	projects *projectgraph.Graph
	graph    *actiongraph.Graph
	affected *affected.Affected
	primary  []target.Target
}

// NewActionGraphBuilder creates a builder over the project graph.
func NewActionGraphBuilder(ws *Workspace, projects *projectgraph.Graph) *ActionGraphBuilder {
	return &ActionGraphBuilder{
		ws:       ws,
		projects: projects,
		graph:    actiongraph.New(),
	}
}

// SetAffected filters requested targets by the affected set. A nil set
// disables filtering.
func (b *ActionGraphBuilder) SetAffected(a *affected.Affected) {
	b.affected = a
}

// PrimaryTargets returns the targets that were requested, in order.
func (b *ActionGraphBuilder) PrimaryTargets() []target.Target {
	return append([]target.Target(nil), b.primary...)
}

// ResolveLocators expands requested target strings into project scoped
// targets. cwd is the workspace-relative working directory, used for bare
// task ids and relative paths.
func (b *ActionGraphBuilder) ResolveLocators(locators []string, cwd string) ([]target.Target, error) {
	var out []target.Target
	seen := make(map[target.Target]bool)
	add := func(t target.Target) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}

	for _, raw := range locators {
		loc, err := target.ParseLocator(raw)
		if err != nil {
			return nil, err
		}
		var found []target.Target
		switch loc.Kind {
		case target.LocatorQualified:
			found, err = b.expandTarget(loc.Target, cwd)
		case target.LocatorGlob:
			found, err = b.expandGlob(loc.ScopeGlob, loc.TaskGlob)
		case target.LocatorPath:
			var p *project.Project
			p, err = b.projects.FromPath(path.Join(cwd, loc.Path))
			if err == nil {
				found, err = b.projectTarget(p, loc.TaskID)
			}
		case target.LocatorDefaultProject:
			var p *project.Project
			p, err = b.projects.FromPath(cwd)
			if err == nil {
				found, err = b.projectTarget(p, loc.TaskID)
			}
		}
		if err != nil {
			return nil, err
		}
		if len(found) == 0 {
			return nil, fmt.Errorf("%w: no tasks match %q", domain.ErrUnknownTarget, raw)
		}
		for _, t := range found {
			add(t)
		}
	}
	return out, nil
}

// expandTarget resolves a parsed target; scopes other than a project expand
// to every matching project that declares the task.
func (b *ActionGraphBuilder) expandTarget(t target.Target, cwd string) ([]target.Target, error) {
	switch t.Scope.Kind {
	case target.ScopeProject:
		p, err := b.projects.Get(t.Scope.ID)
		if err != nil {
			return nil, err
		}
		return b.projectTarget(p, t.TaskID)
	case target.ScopeSelf:
		p, err := b.projects.FromPath(cwd)
		if err != nil {
			return nil, err
		}
		return b.projectTarget(p, t.TaskID)
	case target.ScopeDeps:
		p, err := b.projects.FromPath(cwd)
		if err != nil {
			return nil, err
		}
		return b.matching(p.DependencyIDs(), t.TaskID), nil
	case target.ScopeTag:
		var ids []string
		for _, p := range b.projects.Projects() {
			if p.HasTag(t.Scope.ID) {
				ids = append(ids, p.ID)
			}
		}
		return b.matching(ids, t.TaskID), nil
	default:
		return b.matching(b.projects.IDs(), t.TaskID), nil
	}
}

// expandGlob matches project ids (or tags, with a leading '#') and task ids.
func (b *ActionGraphBuilder) expandGlob(scopeGlob, taskGlob string) ([]target.Target, error) {
	if _, err := doublestar.Match(taskGlob, ""); err != nil {
		return nil, fmt.Errorf("%w: bad task glob %q", domain.ErrUnknownTarget, taskGlob)
	}
	var out []target.Target
	for _, p := range b.projects.Projects() {
		if !scopeMatches(p, scopeGlob) {
			continue
		}
		for _, id := range p.TaskIDs() {
			if ok, _ := doublestar.Match(taskGlob, id); ok && !p.Tasks[id].Options.Internal {
				out = append(out, p.Tasks[id].Target)
			}
		}
	}
	return out, nil
}

func scopeMatches(p *project.Project, glob string) bool {
	if tag, ok := strings.CutPrefix(glob, "#"); ok {
		for _, t := range p.Tags {
			if m, _ := doublestar.Match(tag, t); m {
				return true
			}
		}
		return false
	}
	m, _ := doublestar.Match(glob, p.ID)
	return m
}

func (b *ActionGraphBuilder) projectTarget(p *project.Project, taskID string) ([]target.Target, error) {
	t, ok := p.Task(taskID)
	if !ok {
		return nil, fmt.Errorf("%w: %s:%s", domain.ErrUnknownTask, p.ID, taskID)
	}
	if t.Options.Internal {
		return nil, fmt.Errorf("%w: %s is internal and cannot be run directly", domain.ErrUnknownTask, t.Target)
	}
	return []target.Target{t.Target}, nil
}

func (b *ActionGraphBuilder) matching(ids []string, taskID string) []target.Target {
	sort.Strings(ids)
	var out []target.Target
	for _, id := range ids {
		p, err := b.projects.Get(id)
		if err != nil {
			continue
		}
		if t, ok := p.Task(taskID); ok && !t.Options.Internal {
			out = append(out, t.Target)
		}
	}
	return out
}

// RunTargets adds a RunTask action for every target. Targets filtered out
// by the affected set are skipped unless reqs.CICheck is set. It returns the
// number of targets that were added.
func (b *ActionGraphBuilder) RunTargets(targets []target.Target, reqs RunRequirements) (int, error) {
	added := 0
	for _, t := range targets {
		p, tk, err := b.lookup(t)
		if err != nil {
			return added, err
		}
		if reqs.CI && !tk.ShouldRunInCI() {
			continue
		}

		required := false
		if b.affected != nil && !b.affected.IsTaskAffected(t) {
			if !reqs.CICheck {
				continue
			}
			required = tk.ShouldRunInCI()
		}

		idx, err := b.runTask(p, tk, reqs.Interactive, nil)
		if err != nil {
			return added, err
		}
		if required {
			n := b.graph.Node(idx)
			n.Required = true
			b.graph.UpdateNode(idx, n)
		}
		b.primary = append(b.primary, t)
		added++

		if reqs.Dependents {
			if err := b.runDependents(t, map[target.Target]bool{t: true}); err != nil {
				return added, err
			}
		}
	}
	return added, nil
}

// Build validates the graph and returns it.
func (b *ActionGraphBuilder) Build() (*actiongraph.Graph, error) {
	if err := b.graph.DetectCycle(); err != nil {
		return nil, err
	}
	return b.graph, nil
}

func (b *ActionGraphBuilder) lookup(t target.Target) (*project.Project, *task.Task, error) {
	pid, ok := t.ProjectID()
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s is not project scoped", domain.ErrUnknownTarget, t)
	}
	p, err := b.projects.Get(pid)
	if err != nil {
		return nil, nil, err
	}
	tk, ok := p.Task(t.TaskID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", domain.ErrUnknownTask, t)
	}
	return p, tk, nil
}

// runtimeFor resolves the runtime a project's task runs with.
func (b *ActionGraphBuilder) runtimeFor(p *project.Project, t *task.Task) toolchain.Runtime {
	pl := b.ws.Platforms.Get(t.Platform)
	if pl.Type().IsSystem() {
		return toolchain.System()
	}
	return pl.RuntimeFromConfig(p.RuntimeVersion)
}

func (b *ActionGraphBuilder) setupToolchain(rt toolchain.Runtime) int {
	idx, created := b.graph.AddNode(action.SetupToolchain(rt))
	if created {
		b.graph.AddEdge(idx, actiongraph.RootIndex)
	}
	return idx
}

func (b *ActionGraphBuilder) installDeps(rt toolchain.Runtime, p *project.Project) int {
	setup := b.setupToolchain(rt)
	node := action.InstallDeps(rt, "")
	if b.ws.Platforms.ForRuntime(rt).RequiresProjectInstall(p) {
		node = action.InstallDeps(rt, p.ID)
	}
	idx, created := b.graph.AddNode(node)
	if created {
		b.graph.AddEdge(idx, setup)
	}
	return idx
}

// syncProject adds the sync node of p and of every project it depends on.
func (b *ActionGraphBuilder) syncProject(rt toolchain.Runtime, p *project.Project) int {
	setup := b.setupToolchain(rt)
	idx, created := b.graph.AddNode(action.SyncProject(rt, p.ID))
	if !created {
		return idx
	}
	b.graph.AddEdge(idx, setup)
	for _, depID := range p.DependencyIDs() {
		dep, err := b.projects.Get(depID)
		if err != nil {
			continue
		}
		b.syncProject(b.projectRuntime(dep), dep)
	}
	return idx
}

// projectRuntime is the runtime of a project's own platform.
func (b *ActionGraphBuilder) projectRuntime(p *project.Project) toolchain.Runtime {
	pl := b.ws.Platforms.Get(p.Platform)
	if pl.Type().IsSystem() {
		return toolchain.System()
	}
	return pl.RuntimeFromConfig(p.RuntimeVersion)
}

// runTask adds the RunTask node of t with its install, sync and task
// dependencies. visiting guards against recursing into a dependency cycle;
// the cycle itself is left in the graph for DetectCycle to report.
func (b *ActionGraphBuilder) runTask(p *project.Project, t *task.Task, interactive bool, visiting map[target.Target]bool) (int, error) {
	rt := b.runtimeFor(p, t)
	node := action.RunTask(rt, t.Target, t.IsPersistent(), interactive || t.IsInteractive())
	idx, created := b.graph.AddNode(node)
	if !created {
		return idx, nil
	}
	if visiting == nil {
		visiting = make(map[target.Target]bool)
	}
	visiting[t.Target] = true
	defer delete(visiting, t.Target)

	b.graph.AddEdge(idx, b.installDeps(rt, p))
	b.graph.AddEdge(idx, b.syncProject(rt, p))

	prev := -1
	for _, dep := range t.Deps {
		depProject, depTask, err := b.lookup(dep.Target)
		if err != nil {
			if dep.Optional {
				continue
			}
			return idx, err
		}
		var depIdx int
		if visiting[dep.Target] {
			depIdx, _ = b.graph.IndexOf(b.labelFor(depProject, depTask))
		} else if depIdx, err = b.runTask(depProject, depTask, false, visiting); err != nil {
			return idx, err
		}
		b.graph.AddEdge(idx, depIdx)
		if !t.Options.RunDepsInParallel && prev >= 0 {
			b.graph.AddEdge(depIdx, prev)
		}
		prev = depIdx
	}
	return idx, nil
}

func (b *ActionGraphBuilder) labelFor(p *project.Project, t *task.Task) string {
	return action.RunTask(b.runtimeFor(p, t), t.Target, t.IsPersistent(), t.IsInteractive()).Label()
}

// runDependents adds every task of a dependent project that depends on t,
// recursively.
func (b *ActionGraphBuilder) runDependents(t target.Target, seen map[target.Target]bool) error {
	pid, _ := t.ProjectID()
	candidates := append([]string{pid}, b.projects.DependentsOf(pid)...)
	for _, id := range candidates {
		p, err := b.projects.Get(id)
		if err != nil {
			return err
		}
		for _, taskID := range p.TaskIDs() {
			dependent := p.Tasks[taskID]
			if seen[dependent.Target] || dependent.IsPersistent() || !dependsOn(dependent, t) {
				continue
			}
			seen[dependent.Target] = true
			if _, err := b.runTask(p, dependent, false, nil); err != nil {
				return err
			}
			if err := b.runDependents(dependent.Target, seen); err != nil {
				return err
			}
		}
	}
	return nil
}

func dependsOn(t *task.Task, dep target.Target) bool {
	for _, d := range t.Deps {
		if d.Target == dep {
			return true
		}
	}
	return false
}
