package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/moon/internal/cache"
	"github.com/Strob0t/moon/internal/config"
	"github.com/Strob0t/moon/internal/domain/project"
	"github.com/Strob0t/moon/internal/domain/projectgraph"
	"github.com/Strob0t/moon/internal/domain/task"
	"github.com/Strob0t/moon/internal/domain/toolchain"
	"github.com/Strob0t/moon/internal/hasher"
)

// rootProjectID is the id given to a project at the workspace root.
const rootProjectID = "root"

var invalidIDChars = regexp.MustCompile(`[^a-z0-9_-]+`)

// skippedDirs are never discovered as projects by globs.
var skippedDirs = map[string]bool{"node_modules": true, ".git": true, ".svn": true, ".moon": true}

// graphState is the serialized project graph cache.
type graphState struct {
	Hash  string          `json:"hash"`
	Graph json.RawMessage `json:"graph,omitempty"`
}

// ProjectGraphBuilder discovers and builds the projects of a workspace.
type ProjectGraphBuilder struct {
	ws *Workspace
}

// NewProjectGraphBuilder creates a builder for ws.
func NewProjectGraphBuilder(ws *Workspace) *ProjectGraphBuilder {
	return &ProjectGraphBuilder{ws: ws}
}

// Build returns the project graph, reusing the cached graph when no
// configuration changed since it was written.
func (b *ProjectGraphBuilder) Build(ctx context.Context) (*projectgraph.Graph, error) {
	sources, err := b.Discover(ctx)
	if err != nil {
		return nil, err
	}
	aliases, err := b.aliases(ctx, sources)
	if err != nil {
		return nil, err
	}

	hash, err := b.fingerprint(sources, aliases)
	if err != nil {
		slog.WarnContext(ctx, "project graph fingerprint failed, not caching", "error", err)
	}
	state := cache.Load[graphState](b.ws.Cache, cache.ProjectGraphStatePath)
	if hash != "" && state.Data.Hash == hash && len(state.Data.Graph) > 0 {
		var g projectgraph.Graph
		if err := json.Unmarshal(state.Data.Graph, &g); err == nil {
			slog.DebugContext(ctx, "project graph loaded from cache", "hash", hash, "projects", g.Len())
			return &g, nil
		}
		slog.WarnContext(ctx, "cached project graph unreadable, rebuilding", "error", err)
	}

	g, err := b.build(ctx, sources, aliases)
	if err != nil {
		return nil, err
	}

	if hash != "" {
		data, err := json.Marshal(g)
		if err == nil {
			state.Data = graphState{Hash: hash, Graph: data}
			err = state.Save()
		}
		if err != nil {
			slog.WarnContext(ctx, "project graph not cached", "error", err)
		}
	}
	return g, nil
}

// Discover returns project id -> workspace-relative source. Explicit sources
// come first; duplicate ids keep the first source seen.
func (b *ProjectGraphBuilder) Discover(ctx context.Context) (map[string]string, error) {
	cfg := b.ws.Config.Projects
	sources := make(map[string]string)
	add := func(id, source string) {
		if existing, ok := sources[id]; ok {
			if existing != source {
				slog.WarnContext(ctx, "duplicate project id, keeping first", "project", id, "source", existing, "ignored", source)
			}
			return
		}
		sources[id] = source
	}

	ids := make([]string, 0, len(cfg.Sources))
	for id := range cfg.Sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		add(id, cleanSource(cfg.Sources[id]))
	}

	var include, exclude []string
	for _, g := range cfg.Globs {
		if strings.HasPrefix(g, "!") {
			exclude = append(exclude, strings.TrimPrefix(g[1:], "./"))
		} else {
			include = append(include, strings.TrimPrefix(g, "./"))
		}
	}

	fsys := os.DirFS(b.ws.Root)
	for _, pattern := range include {
		if pattern == "." || pattern == "" {
			add(rootProjectID, ".")
			continue
		}
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return nil, &config.Error{Path: config.WorkspaceFile, Err: fmt.Errorf("projects glob %q: %w", pattern, err)}
		}
		sort.Strings(matches)
		for _, m := range matches {
			dir := m
			if path.Base(m) == config.ProjectFile {
				dir = path.Dir(m)
			}
			if !b.isProjectDir(ctx, dir, exclude) {
				continue
			}
			add(cleanID(path.Base(dir)), dir)
		}
	}
	return sources, nil
}

func (b *ProjectGraphBuilder) isProjectDir(ctx context.Context, dir string, exclude []string) bool {
	if dir == "." || dir == "" {
		return false
	}
	for _, part := range strings.Split(dir, "/") {
		if skippedDirs[part] || strings.HasPrefix(part, ".") {
			return false
		}
	}
	for _, ex := range exclude {
		if ok, _ := doublestar.Match(ex, dir); ok {
			return false
		}
	}
	info, err := os.Stat(filepath.Join(b.ws.Root, filepath.FromSlash(dir)))
	if err != nil || !info.IsDir() {
		return false
	}
	if b.ws.vcsEnabled() && b.ws.Vcs.IsIgnored(ctx, dir) {
		return false
	}
	return true
}

// aliases collects alias -> id from every enabled platform.
func (b *ProjectGraphBuilder) aliases(ctx context.Context, sources map[string]string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pl := range b.ws.Platforms.Enabled() {
		found, err := pl.LoadProjectGraphAliases(ctx, sources)
		if err != nil {
			return nil, err
		}
		for alias, id := range found {
			if _, taken := sources[alias]; taken {
				continue
			}
			if _, ok := out[alias]; !ok {
				out[alias] = id
			}
		}
	}
	return out, nil
}

// fingerprint hashes every input of a graph build: the workspace root,
// sources, aliases and the content of each configuration and manifest file.
func (b *ProjectGraphBuilder) fingerprint(sources, aliases map[string]string) (string, error) {
	fp := hasher.NewGraphFingerprint()
	fp.WorkspaceRoot = b.ws.Root
	for id, src := range sources {
		fp.Sources[id] = src
	}
	for alias, id := range aliases {
		fp.Aliases[alias] = id
	}
	_, err := os.Stat("/.dockerenv")
	fp.InContainer = err == nil

	files, err := config.Files(b.ws.Root)
	if err != nil {
		return "", err
	}
	var manifests []string
	for _, pl := range b.ws.Platforms.Enabled() {
		if m := pl.ManifestFile(); m != "" {
			manifests = append(manifests, m)
		}
	}
	for _, src := range sources {
		files = append(files, path.Join(src, config.ProjectFile))
		for _, m := range manifests {
			files = append(files, path.Join(src, m))
		}
	}
	for _, rel := range files {
		data, err := os.ReadFile(filepath.Join(b.ws.Root, filepath.FromSlash(rel)))
		if err != nil {
			continue
		}
		fp.Configs[rel] = strconv.FormatUint(xxhash.Sum64(data), 16)
	}

	h := hasher.New("project-graph")
	if err := h.Add(fp); err != nil {
		return "", err
	}
	return h.Generate(), nil
}

// pendingDeps holds the unresolved task deps of one project.
type pendingDeps map[string][]config.TaskDependency

func (b *ProjectGraphBuilder) build(ctx context.Context, sources, aliases map[string]string) (*projectgraph.Graph, error) {
	ids := make([]string, 0, len(sources))
	for id := range sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var (
		mu       sync.Mutex
		projects = make(map[string]*project.Project, len(ids))
		pending  = make(map[string]pendingDeps, len(ids))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, id := range ids {
		g.Go(func() error {
			p, deps, err := b.buildProject(gctx, id, sources[id], aliases)
			if err != nil {
				return fmt.Errorf("project %s: %w", id, err)
			}
			mu.Lock()
			projects[id] = p
			pending[id] = deps
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		p := projects[id]
		for _, taskID := range p.TaskIDs() {
			if err := resolveDeps(p, p.Tasks[taskID], pending[id][taskID], projects, aliases); err != nil {
				return nil, fmt.Errorf("project %s: %w", id, err)
			}
		}
	}

	list := make([]*project.Project, 0, len(ids))
	for _, id := range ids {
		list = append(list, projects[id])
	}
	return projectgraph.New(list, aliases)
}

func (b *ProjectGraphBuilder) buildProject(ctx context.Context, id, source string, aliases map[string]string) (*project.Project, pendingDeps, error) {
	root := filepath.Join(b.ws.Root, filepath.FromSlash(source))
	cfg, found, err := config.LoadProject(root)
	if err != nil {
		return nil, nil, err
	}

	p := &project.Project{
		ID:           id,
		Source:       source,
		Root:         root,
		Language:     cfg.Language,
		Type:         project.ParseType(cfg.Type),
		Stack:        project.Stack(cfg.Stack),
		Tags:         append([]string(nil), cfg.Tags...),
		Dependencies: make(map[string]project.Dependency),
		Tasks:        make(map[string]*task.Task),
		Env:          cfg.Env,
		Owners:       project.Owners{DefaultOwner: cfg.Owners.DefaultOwner, Paths: cfg.Owners.Paths},
	}
	if found {
		p.ConfigPath = path.Join(source, config.ProjectFile)
	}
	if p.Language == "" {
		p.Language = project.DetectLanguage(root)
	}
	if p.Stack == "" {
		p.Stack = project.StackUnknown
	}
	p.Platform = toolchain.ParsePlatform(cfg.Platform)
	if cfg.Platform == "" {
		p.Platform = project.DefaultPlatform(p.Language, root)
	}
	if !b.ws.Platforms.IsEnabled(p.Platform) {
		p.Platform = toolchain.PlatformSystem
	}
	if cfg.Toolchain.Node != nil && p.Platform == toolchain.PlatformNode {
		p.RuntimeVersion = cfg.Toolchain.Node.Version
	}
	for alias, target := range aliases {
		if target == id {
			p.Aliases = append(p.Aliases, alias)
		}
	}
	sort.Strings(p.Aliases)

	for _, d := range cfg.DependsOn {
		depID := d.ID
		if resolved, ok := aliases[depID]; ok {
			depID = resolved
		}
		if depID == id {
			continue
		}
		scope := project.DependencyScope(d.Scope)
		if scope == "" {
			scope = project.ScopeProduction
		}
		p.Dependencies[depID] = project.Dependency{ID: depID, Scope: scope, Source: project.SourceExplicit}
	}

	pl := b.ws.Platforms.Get(p.Platform)
	implicit, err := pl.LoadProjectImplicitDependencies(ctx, p, aliases)
	if err != nil {
		return nil, nil, err
	}
	for _, d := range implicit {
		if _, ok := p.Dependencies[d.ID]; !ok && d.ID != id {
			p.Dependencies[d.ID] = d
		}
	}

	inherited := b.inherit(p, cfg)
	p.FileGroups = inherited.fileGroups

	inferred, err := pl.LoadProjectTasks(ctx, p)
	if err != nil {
		return nil, nil, err
	}
	for taskID, t := range inferred {
		if _, ok := inherited.tasks[taskID]; !ok {
			if _, local := cfg.Tasks[taskID]; !local {
				inherited.tasks[taskID] = t
			}
		}
	}
	for taskID, local := range cfg.Tasks {
		if base, ok := inherited.tasks[taskID]; ok {
			inherited.tasks[taskID] = mergeTaskConfig(base, local)
		} else {
			inherited.tasks[taskID] = local
		}
	}

	deps := make(pendingDeps, len(inherited.tasks))
	ex := &expander{ws: b.ws, p: p}
	for taskID, tc := range inherited.tasks {
		var implicitInputs []string
		if _, isInherited := inherited.origin[taskID]; isInherited {
			tc.Deps = append(append([]config.TaskDependency(nil), inherited.implicitDeps...), tc.Deps...)
			implicitInputs = inherited.implicitInputs
		}
		t, raw, err := ex.expand(taskID, tc, implicitInputs)
		if err != nil {
			return nil, nil, err
		}
		p.Tasks[taskID] = t
		deps[taskID] = raw
	}
	return p, deps, nil
}

// inheritedConfig is the result of layering tasks files for one project.
type inheritedConfig struct {
	tasks          map[string]config.Task
	origin         map[string]bool
	fileGroups     map[string][]string
	implicitDeps   []config.TaskDependency
	implicitInputs []string
}

// inherit layers the tasks files matching p's lookup order, broadest first,
// then applies the project's include, exclude and rename filters.
func (b *ProjectGraphBuilder) inherit(p *project.Project, cfg *config.Project) inheritedConfig {
	out := inheritedConfig{
		tasks:      make(map[string]config.Task),
		origin:     make(map[string]bool),
		fileGroups: make(map[string][]string),
	}
	for _, key := range config.LookupOrder(string(p.Platform), p.Language, string(p.Type)) {
		it, ok := b.ws.InheritedTasks[key]
		if !ok {
			continue
		}
		for name, files := range it.FileGroups {
			out.fileGroups[name] = files
		}
		for id, t := range it.Tasks {
			t.Options = it.TaskOptions.Overlay(t.Options)
			if base, ok := out.tasks[id]; ok {
				t = mergeTaskConfig(base, t)
			}
			out.tasks[id] = t
		}
		out.implicitDeps = append(out.implicitDeps, it.ImplicitDeps...)
		out.implicitInputs = append(out.implicitInputs, it.ImplicitInputs...)
	}
	for name, files := range cfg.FileGroups {
		out.fileGroups[name] = files
	}

	filter := cfg.Workspace.InheritedTasks
	if filter.Include != nil {
		allowed := make(map[string]bool, len(*filter.Include))
		for _, id := range *filter.Include {
			allowed[id] = true
		}
		for id := range out.tasks {
			if !allowed[id] {
				delete(out.tasks, id)
			}
		}
	}
	for _, id := range filter.Exclude {
		delete(out.tasks, id)
	}
	for from, to := range filter.Rename {
		if t, ok := out.tasks[from]; ok {
			delete(out.tasks, from)
			out.tasks[to] = t
		}
	}
	for id := range out.tasks {
		out.origin[id] = true
	}
	return out
}

// mergeTaskConfig layers next over base using next's merge strategies.
func mergeTaskConfig(base, next config.Task) config.Task {
	out := base
	out.Options = base.Options.Overlay(next.Options)
	strategy := func(s *string) task.MergeStrategy {
		if s == nil {
			return task.MergeAppend
		}
		return task.MergeStrategy(*s)
	}

	if next.Description != "" {
		out.Description = next.Description
	}
	if !next.Command.IsEmpty() {
		out.Command = next.Command
		out.Script = ""
	}
	if next.Script != "" {
		out.Script = next.Script
		out.Command = config.Argv{}
	}
	out.Args = config.NewArgv(task.MergeSlices(strategy(out.Options.MergeArgs), base.Args.Words, next.Args.Words)...)
	out.Deps = task.MergeSlices(strategy(out.Options.MergeDeps), base.Deps, next.Deps)
	out.Env = task.MergeMaps(strategy(out.Options.MergeEnv), base.Env, next.Env)
	out.Inputs = mergePaths(strategy(out.Options.MergeInputs), base.Inputs, next.Inputs)
	out.Outputs = mergePaths(strategy(out.Options.MergeOutputs), base.Outputs, next.Outputs)
	if next.Platform != "" {
		out.Platform = next.Platform
	}
	if next.Type != "" {
		out.Type = next.Type
	}
	if next.Local != nil {
		out.Local = next.Local
	}
	return out
}

// mergePaths keeps the difference between "not declared" (nil) and an
// explicitly empty list.
func mergePaths(strategy task.MergeStrategy, base, next *[]string) *[]string {
	switch {
	case next == nil:
		return base
	case base == nil:
		return next
	}
	merged := task.MergeSlices(strategy, *base, *next)
	return &merged
}

// cleanID turns a directory name into a valid project id.
func cleanID(name string) string {
	id := invalidIDChars.ReplaceAllString(strings.ToLower(name), "-")
	id = strings.TrimLeft(id, "-_")
	if id == "" {
		return rootProjectID
	}
	return id
}

func cleanSource(s string) string {
	s = path.Clean(strings.TrimPrefix(filepath.ToSlash(s), "./"))
	if s == "" || s == "/" {
		return "."
	}
	return strings.TrimPrefix(s, "/")
}
