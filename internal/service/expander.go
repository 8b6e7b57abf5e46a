package service

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/Strob0t/moon/internal/config"
	"github.com/Strob0t/moon/internal/domain"
	"github.com/Strob0t/moon/internal/domain/project"
	"github.com/Strob0t/moon/internal/domain/target"
	"github.com/Strob0t/moon/internal/domain/task"
	"github.com/Strob0t/moon/internal/domain/toolchain"
)

// defaultInputs is used when a task declares no inputs at all.
var defaultInputs = []string{"**/*"}

// expander turns merged task configuration into expanded tasks for one project.
type expander struct {
	ws *Workspace
	p  *project.Project
}

// expand builds the task id of e.p from cfg. Dependencies are returned raw;
// they can only be resolved once every project exists.
func (e *expander) expand(id string, cfg config.Task, implicitInputs []string) (*task.Task, []config.TaskDependency, error) {
	tgt, err := target.New(e.p.ID, id)
	if err != nil {
		return nil, nil, err
	}
	t := &task.Task{
		ID:          id,
		Target:      tgt,
		Description: cfg.Description,
		Platform:    e.taskPlatform(cfg.Platform),
	}
	t.Metadata.RootLevel = e.p.IsRootLevel()

	if t.Options, err = taskOptions(cfg, e.ws.Config.Runner); err != nil {
		return nil, nil, fmt.Errorf("task %s: %w", tgt, err)
	}
	for i, f := range t.Options.EnvFiles {
		t.Options.EnvFiles[i] = e.workspaceRelative(f)
	}

	switch {
	case cfg.Script != "":
		t.Script = cfg.Script
	case cfg.Command.HasShellSyntax():
		t.Script = cfg.Command.Raw
		if t.Script == "" {
			t.Script = strings.Join(cfg.Command.Words, " ")
		}
	case cfg.Command.IsEmpty():
		t.Command = "noop"
		t.Args = append(t.Args, cfg.Args.Words...)
	default:
		t.Command = cfg.Command.Words[0]
		t.Args = append(append(t.Args, cfg.Command.Words[1:]...), cfg.Args.Words...)
	}

	if err := e.expandOutputs(t, cfg.Outputs); err != nil {
		return nil, nil, fmt.Errorf("task %s: %w", tgt, err)
	}
	if err := e.expandInputs(t, cfg.Inputs, implicitInputs); err != nil {
		return nil, nil, fmt.Errorf("task %s: %w", tgt, err)
	}

	t.Type = task.ParseType(cfg.Type)
	if t.Type == "" {
		switch {
		case t.HasOutputs():
			t.Type = task.TypeBuild
		case t.Options.Persistent:
			t.Type = task.TypeRun
		default:
			t.Type = task.TypeTest
		}
	}

	tokens := e.tokenReplacer(t)
	t.Command = tokens.Replace(t.Command)
	t.Script = tokens.Replace(t.Script)
	if t.Args, err = e.expandArgs(t, tokens); err != nil {
		return nil, nil, fmt.Errorf("task %s: %w", tgt, err)
	}
	t.Env = task.MergeMaps(task.MergeAppend, e.p.Env, cfg.Env)
	for k, v := range t.Env {
		t.Env[k] = tokens.Replace(v)
	}

	t.Metadata.Expanded = true
	return t, cfg.Deps, nil
}

// taskPlatform picks the task's platform, falling back to system when the
// platform is not enabled in the toolchain.
func (e *expander) taskPlatform(configured string) toolchain.Platform {
	pl := e.p.Platform
	if configured != "" {
		pl = toolchain.ParsePlatform(configured)
	}
	if pl.IsSystem() || !e.ws.Platforms.IsEnabled(pl) {
		return toolchain.PlatformSystem
	}
	return pl
}

func (e *expander) expandInputs(t *task.Task, declared *[]string, implicit []string) error {
	var raw []string
	switch {
	case declared == nil:
		raw = append(raw, defaultInputs...)
	case len(*declared) == 0:
		t.Metadata.EmptyInputs = true
	default:
		raw = append(raw, *declared...)
	}
	if !t.Metadata.EmptyInputs {
		raw = append(raw, implicit...)
	}
	for _, f := range t.Options.EnvFiles {
		raw = append(raw, "/"+f)
	}

	var files, globs, env []string
	for _, r := range raw {
		in, err := task.ParseInputPath(r)
		if err != nil {
			return fmt.Errorf("input %q: %w", r, err)
		}
		t.Inputs = append(t.Inputs, in)

		switch {
		case in.Kind == task.EnvVar:
			env = append(env, in.Value)
		case in.Kind == task.TokenFunc:
			f, g, err := e.tokenPaths(in)
			if err != nil {
				return err
			}
			files = append(files, f...)
			globs = append(globs, g...)
		case in.IsGlob():
			globs = append(globs, in.WorkspaceRelative(e.p.Source))
		default:
			files = append(files, in.WorkspaceRelative(e.p.Source))
		}
	}

	outputs := make(map[string]bool, len(t.OutputFiles))
	for _, o := range t.OutputFiles {
		outputs[o] = true
	}
	kept := files[:0]
	for _, f := range files {
		if !outputs[f] {
			kept = append(kept, f)
		}
	}

	t.InputFiles = sortedUnique(kept)
	t.InputGlobs = sortedUnique(globs)
	t.InputEnv = sortedUnique(env)
	return nil
}

func (e *expander) expandOutputs(t *task.Task, declared *[]string) error {
	if declared == nil {
		return nil
	}
	var files, globs []string
	for _, r := range *declared {
		out, err := task.ParseInputPath(r)
		if err != nil {
			return fmt.Errorf("output %q: %w", r, err)
		}
		switch {
		case out.Kind == task.EnvVar:
			return fmt.Errorf("output %q: environment variables are not outputs", r)
		case out.Negated:
			return fmt.Errorf("output %q: outputs cannot be negated", r)
		case out.Kind == task.TokenFunc:
			f, g, err := e.tokenPaths(out)
			if err != nil {
				return err
			}
			files = append(files, f...)
			globs = append(globs, g...)
		case out.IsGlob():
			globs = append(globs, out.WorkspaceRelative(e.p.Source))
		default:
			files = append(files, out.WorkspaceRelative(e.p.Source))
		}
		t.Outputs = append(t.Outputs, out)
	}
	t.OutputFiles = sortedUnique(files)
	t.OutputGlobs = sortedUnique(globs)
	return nil
}

// tokenPaths resolves a file group token to workspace-relative files and globs.
func (e *expander) tokenPaths(in task.InputPath) (files, globs []string, err error) {
	fn, name, _ := in.TokenFunction()
	switch fn {
	case "group":
		return e.fileGroup(name)
	case "globs":
		_, globs, err = e.fileGroup(name)
		return nil, globs, err
	case "files":
		files, err = e.groupFiles(name)
		return files, nil, err
	case "dirs":
		files, err = e.groupDirs(name)
		return files, nil, err
	case "root":
		root, err := e.groupRoot(name)
		if err != nil {
			return nil, nil, err
		}
		return []string{root}, nil, nil
	default:
		return nil, nil, fmt.Errorf("token %s is not valid here", in.Value)
	}
}

// fileGroup returns the declared entries of a file group, workspace-relative.
func (e *expander) fileGroup(name string) (files, globs []string, err error) {
	entries, ok := e.p.FileGroups[name]
	if !ok {
		return nil, nil, fmt.Errorf("unknown file group %q in project %s", name, e.p.ID)
	}
	for _, raw := range entries {
		in, err := task.ParseInputPath(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("file group %s: %w", name, err)
		}
		switch {
		case in.IsGlob():
			globs = append(globs, in.WorkspaceRelative(e.p.Source))
		case in.IsFile():
			files = append(files, in.WorkspaceRelative(e.p.Source))
		}
	}
	return files, globs, nil
}

// groupFiles returns the existing files of a group, walking its globs.
func (e *expander) groupFiles(name string) ([]string, error) {
	return e.groupMatches(name, func(d fs.FileInfo) bool { return !d.IsDir() })
}

// groupDirs returns the existing directories of a group, walking its globs.
func (e *expander) groupDirs(name string) ([]string, error) {
	return e.groupMatches(name, func(d fs.FileInfo) bool { return d.IsDir() })
}

func (e *expander) groupMatches(name string, keep func(fs.FileInfo) bool) ([]string, error) {
	files, globs, err := e.fileGroup(name)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, f := range files {
		if info, err := os.Stat(filepath.Join(e.ws.Root, filepath.FromSlash(f))); err == nil && keep(info) {
			out = append(out, f)
		}
	}
	matches, err := globWorkspace(e.ws.Root, globs)
	if err != nil {
		return nil, fmt.Errorf("file group %s: %w", name, err)
	}
	for _, m := range matches {
		if info, err := os.Stat(filepath.Join(e.ws.Root, filepath.FromSlash(m))); err == nil && keep(info) {
			out = append(out, m)
		}
	}
	return sortedUnique(out), nil
}

// groupRoot returns the lowest directory shared by the group's files.
func (e *expander) groupRoot(name string) (string, error) {
	dirs, err := e.groupDirs(name)
	if err != nil {
		return "", err
	}
	if len(dirs) == 0 {
		return e.p.Source, nil
	}
	root := dirs[0]
	for _, d := range dirs[1:] {
		for root != "." && d != root && !strings.HasPrefix(d, root+"/") {
			root = path.Dir(root)
		}
	}
	return root, nil
}

// expandArgs replaces variable tokens and expands file group and @in/@out
// tokens in arguments. Paths are rendered relative to the project root.
func (e *expander) expandArgs(t *task.Task, tokens *strings.Replacer) ([]string, error) {
	var out []string
	for _, arg := range t.Args {
		if !strings.HasPrefix(arg, "@") {
			out = append(out, tokens.Replace(arg))
			continue
		}
		in, err := task.ParseInputPath(arg)
		if err != nil || in.Kind != task.TokenFunc {
			out = append(out, tokens.Replace(arg))
			continue
		}
		fn, a, _ := in.TokenFunction()
		switch fn {
		case "in", "out":
			list := t.Inputs
			if fn == "out" {
				list = t.Outputs
			}
			idx, err := strconv.Atoi(a)
			if err != nil || idx < 0 || idx >= len(list) {
				return nil, fmt.Errorf("token %s: index out of range", arg)
			}
			out = append(out, e.projectRelative(list[idx].WorkspaceRelative(e.p.Source)))
		default:
			files, globs, err := e.tokenPaths(in)
			if err != nil {
				return nil, err
			}
			for _, f := range files {
				out = append(out, e.projectRelative(f))
			}
			for _, g := range globs {
				out = append(out, e.projectRelative(g))
			}
		}
	}
	return out, nil
}

// tokenReplacer substitutes variable tokens. Longer names come first so
// that $project never shadows $projectRoot.
func (e *expander) tokenReplacer(t *task.Task) *strings.Replacer {
	return strings.NewReplacer(
		"$workspaceRoot", e.ws.Root,
		"$projectSource", e.p.Source,
		"$projectRoot", e.p.Root,
		"$projectType", string(e.p.Type),
		"$project", e.p.ID,
		"$language", e.p.Language,
		"$taskType", string(t.Type),
		"$target", t.Target.String(),
		"$task", t.ID,
	)
}

func (e *expander) workspaceRelative(p string) string {
	if strings.HasPrefix(p, "/") {
		return path.Clean(strings.TrimPrefix(p, "/"))
	}
	return path.Join(e.p.Source, p)
}

func (e *expander) projectRelative(rel string) string {
	if e.p.IsRootLevel() {
		return rel
	}
	if r, err := filepath.Rel(filepath.FromSlash(e.p.Source), filepath.FromSlash(rel)); err == nil {
		return filepath.ToSlash(r)
	}
	return rel
}

// taskOptions resolves configured options over the defaults and the runner
// settings. Local tasks default to persistent, uncached and streamed.
func taskOptions(cfg config.Task, runner config.Runner) (task.Options, error) {
	o := task.DefaultOptions()
	if runner.OutputStyle != "" {
		style, err := task.ParseOutputStyle(runner.OutputStyle)
		if err != nil {
			return o, err
		}
		o.OutputStyle = style
	}
	o.RetryCount = clampRetry(runner.RetryCount)

	if cfg.Local != nil && *cfg.Local {
		o.Persistent = true
		o.Cache = false
		o.RunInCI = false
		o.OutputStyle = task.OutputStream
	}

	c := cfg.Options
	if c.AffectedFiles != nil {
		o.AffectedFiles = task.AffectedFiles(*c.AffectedFiles)
	}
	setOpt(&o.AffectedPassInputs, c.AffectedPassInputs)
	setOpt(&o.AllowFailure, c.AllowFailure)
	setOpt(&o.Cache, c.Cache)
	setOpt(&o.Internal, c.Internal)
	setOpt(&o.Interactive, c.Interactive)
	setOpt(&o.Persistent, c.Persistent)
	setOpt(&o.RunDepsInParallel, c.RunDepsInParallel)
	setOpt(&o.RunInCI, c.RunInCI)
	setOpt(&o.RunFromWorkspaceRoot, c.RunFromWorkspaceRoot)
	setOpt(&o.Mutex, c.Mutex)
	if c.EnvFile != nil {
		o.EnvFiles = append([]string(nil), (*c.EnvFile)...)
	}
	for _, m := range []struct {
		dst *task.MergeStrategy
		src *string
	}{
		{&o.MergeArgs, c.MergeArgs},
		{&o.MergeDeps, c.MergeDeps},
		{&o.MergeEnv, c.MergeEnv},
		{&o.MergeInputs, c.MergeInputs},
		{&o.MergeOutputs, c.MergeOutputs},
	} {
		if m.src != nil {
			*m.dst = task.MergeStrategy(*m.src)
		}
	}
	if c.OutputStyle != nil {
		style, err := task.ParseOutputStyle(*c.OutputStyle)
		if err != nil {
			return o, err
		}
		o.OutputStyle = style
	}
	if c.RetryCount != nil {
		o.RetryCount = clampRetry(*c.RetryCount)
	}
	if c.Shell != nil {
		v := *c.Shell
		o.Shell = &v
	}
	if c.UnixShell != nil {
		o.UnixShell = task.UnixShell(*c.UnixShell)
	}
	if c.WindowsShell != nil {
		o.WindowsShell = task.WindowsShell(*c.WindowsShell)
	}

	if o.Interactive {
		o.Cache = false
		o.RunInCI = false
	}
	return o, nil
}

func setOpt[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func clampRetry(n int) uint8 {
	switch {
	case n < 0:
		return 0
	case n > 255:
		return 255
	default:
		return uint8(n)
	}
}

// resolveDeps rewrites the dependency scopes of t against all projects.
func resolveDeps(p *project.Project, t *task.Task, raw []config.TaskDependency, projects map[string]*project.Project, aliases map[string]string) error {
	seen := make(map[target.Target]bool)
	add := func(dep task.Dependency) error {
		if dep.Target == t.Target || seen[dep.Target] {
			return nil
		}
		depProject := projects[dep.Target.Scope.ID]
		depTask, ok := depProject.Task(dep.Target.TaskID)
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrUnknownTask, dep.Target)
		}
		if depTask.IsPersistent() && !t.IsPersistent() {
			return fmt.Errorf("%w: %s cannot depend on persistent task %s", domain.ErrPersistentDependency, t.Target, dep.Target)
		}
		if t.IsBuildType() && depTask.Type == task.TypeRun {
			return fmt.Errorf("%w: build task %s cannot depend on run task %s", domain.ErrInvalidTaskDependency, t.Target, dep.Target)
		}
		seen[dep.Target] = true
		t.Deps = append(t.Deps, dep)
		return nil
	}

	for _, d := range raw {
		tgt, err := target.Parse(d.Target)
		if err != nil {
			return fmt.Errorf("task %s: %w", t.Target, err)
		}
		base := task.Dependency{Args: d.Args.Words, Env: d.Env, Optional: d.Optional}

		var candidates []string
		explicit := false
		switch tgt.Scope.Kind {
		case target.ScopeSelf:
			candidates, explicit = []string{p.ID}, true
		case target.ScopeProject:
			id := tgt.Scope.ID
			if resolved, ok := aliases[id]; ok {
				id = resolved
			}
			if _, ok := projects[id]; !ok {
				return fmt.Errorf("task %s: %w %q", t.Target, domain.ErrUnknownProject, tgt.Scope.ID)
			}
			candidates, explicit = []string{id}, true
		case target.ScopeDeps:
			candidates = p.DependencyIDs()
		case target.ScopeTag:
			for id, other := range projects {
				if id != p.ID && other.HasTag(tgt.Scope.ID) {
					candidates = append(candidates, id)
				}
			}
		case target.ScopeAll:
			for id := range projects {
				if id != p.ID {
					candidates = append(candidates, id)
				}
			}
		}
		sort.Strings(candidates)

		for _, id := range candidates {
			if _, ok := projects[id].Task(tgt.TaskID); !ok {
				if explicit && !d.Optional {
					return fmt.Errorf("task %s: %w: %s:%s", t.Target, domain.ErrUnknownTask, id, tgt.TaskID)
				}
				continue
			}
			dep := base
			dep.Target, _ = target.New(id, tgt.TaskID)
			if err := add(dep); err != nil {
				return err
			}
		}
	}
	return nil
}

func sortedUnique(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := append([]string(nil), in...)
	sort.Strings(out)
	j := 0
	for i := range out {
		if i == 0 || out[i] != out[j-1] {
			out[j] = out[i]
			j++
		}
	}
	return out[:j]
}

// globWorkspace expands workspace-relative globs; "!" patterns exclude.
func globWorkspace(root string, patterns []string) ([]string, error) {
	var include, exclude []string
	for _, p := range patterns {
		if strings.HasPrefix(p, "!") {
			exclude = append(exclude, p[1:])
		} else {
			include = append(include, p)
		}
	}

	fsys := os.DirFS(root)
	var out []string
	for _, pattern := range include {
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			if errors.Is(err, doublestar.ErrBadPattern) {
				return nil, fmt.Errorf("glob %q: %w", pattern, err)
			}
			return nil, err
		}
	next:
		for _, m := range matches {
			for _, ex := range exclude {
				if ok, _ := doublestar.Match(ex, m); ok {
					continue next
				}
			}
			out = append(out, m)
		}
	}
	return sortedUnique(out), nil
}
