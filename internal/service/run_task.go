package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cespare/xxhash/v2"
	"github.com/joho/godotenv"
	"github.com/kballard/go-shellquote"

	"github.com/Strob0t/moon/internal/cache"
	"github.com/Strob0t/moon/internal/domain/action"
	"github.com/Strob0t/moon/internal/domain/affected"
	"github.com/Strob0t/moon/internal/domain/event"
	"github.com/Strob0t/moon/internal/domain/project"
	"github.com/Strob0t/moon/internal/domain/task"
	"github.com/Strob0t/moon/internal/domain/toolchain"
	"github.com/Strob0t/moon/internal/hasher"
	"github.com/Strob0t/moon/internal/port/platform"
	"github.com/Strob0t/moon/internal/process"
)

// taskRun holds what a RunTask action needs across its attempts.
type taskRun struct {
	p        *Pipeline
	actx     *ActionContext
	a        *action.Action
	project  *project.Project
	task     *task.Task
	platform platform.Platform
	runtime  toolchain.Runtime
	stateDir string
}

// runTask hashes, hydrates or executes, and archives a task target.
func (p *Pipeline) runTask(ctx context.Context, actx *ActionContext, a *action.Action) (action.Status, error) {
	t, err := p.projects.Task(a.Node.Target)
	if err != nil {
		return action.StatusInvalid, err
	}
	pid, _ := a.Node.Target.ProjectID()
	proj, err := p.projects.Get(pid)
	if err != nil {
		return action.StatusInvalid, err
	}
	// Tasks kept by a CI check must pass.
	a.AllowFailure = t.Options.AllowFailure && !a.Node.Required

	r := &taskRun{
		p:        p,
		actx:     actx,
		a:        a,
		project:  proj,
		task:     t,
		platform: p.ws.Platforms.Get(t.Platform),
		runtime:  a.Node.Runtime,
		stateDir: p.ws.Cache.StateDir(t.Target),
	}

	if t.IsNoop() {
		att := a.BeginAttempt(action.AttemptNoOperation)
		att.Finish(action.StatusPassed)
		return action.StatusPassed, nil
	}

	hash, err := r.generateHash(ctx)
	if err != nil {
		return action.StatusFailed, err
	}
	a.Hash = hash
	actx.SetTargetHash(t.Target, hash)

	if t.IsCacheable() && cache.CurrentMode().Readable() {
		if status, ok := r.hydrate(ctx); ok {
			return status, nil
		}
	}

	if name := t.Options.Mutex; name != "" {
		att := a.BeginAttempt(action.AttemptMutexAcquisition)
		mu := actx.NamedMutex(name)
		if err := mu.Acquire(ctx, 1); err != nil {
			att.Finish(action.StatusFailed)
			return action.StatusFailed, fmt.Errorf("acquire mutex %q: %w", name, err)
		}
		defer mu.Release(1)
		att.Finish(action.StatusPassed)
	}

	if a.Node.Interactive {
		if err := actx.interactive.Acquire(ctx, 1); err != nil {
			return action.StatusFailed, err
		}
		defer actx.interactive.Release(1)
	}

	p.emitter.Emit(ctx, event.Event{Type: event.TypeTaskRunning, Action: a, Target: t.Target, Project: proj.ID, Hash: hash})
	status, err := r.execute(ctx)
	p.emitter.Emit(ctx, event.Event{Type: event.TypeTaskRan, Action: a, Target: t.Target, Project: proj.ID, Hash: hash})
	if err != nil {
		return status, err
	}

	if t.IsCacheable() && t.HasOutputs() && cache.CurrentMode().Writable() {
		r.archive(ctx)
	}
	return status, nil
}

// generateHash combines platform contributions, the task fingerprint,
// dependency hashes, passthrough args and the project manifest.
func (r *taskRun) generateHash(ctx context.Context) (string, error) {
	att := r.a.BeginAttempt(action.AttemptHashGeneration)
	hash, err := r.buildHash(ctx)
	if err != nil {
		att.Finish(action.StatusFailed)
		return "", fmt.Errorf("hash %s: %w", r.task.Target, err)
	}
	att.Finish(action.StatusPassed)
	return hash, nil
}

func (r *taskRun) buildHash(ctx context.Context) (string, error) {
	cfg := r.p.ws.Config.Hasher
	h := hasher.New(r.task.Target.String())
	if err := r.platform.HashRunTarget(ctx, r.project, r.runtime, h, cfg); err != nil {
		return "", err
	}

	fp := hasher.NewTaskFingerprint(r.project, r.task)
	inputs, err := r.inputHashes(ctx)
	if err != nil {
		return "", err
	}
	fp.Inputs = inputs
	for _, name := range r.task.InputEnv {
		fp.InputEnv[name] = os.Getenv(name)
	}
	for _, dep := range r.task.Deps {
		if depHash, ok := r.actx.TargetHash(dep.Target); ok {
			fp.Deps[dep.Target.String()] = depHash
		}
	}
	if r.actx.IsPrimary(r.task.Target) {
		fp.AppendPassthrough(r.actx.PassthroughArgs)
	}
	if err := h.Add(fp); err != nil {
		return "", err
	}

	if mf := r.platform.ManifestFile(); mf != "" {
		if err := r.platform.HashManifestDeps(ctx, filepath.Join(r.project.Root, mf), h, cfg); err != nil {
			return "", err
		}
	}

	hash := h.Generate()
	if manifest, err := h.Manifest(); err == nil {
		if err := r.p.ws.Cache.SaveManifest(hash, manifest); err != nil {
			slog.WarnContext(ctx, "save hash manifest", "target", r.task.Target.String(), "hash", hash, "error", err)
		}
	}
	return hash, nil
}

// inputHashes resolves input files and globs to existing files and hashes
// their content, through the VCS when one is attached.
func (r *taskRun) inputHashes(ctx context.Context) (map[string]string, error) {
	files, err := r.inputFiles(ctx)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return map[string]string{}, nil
	}
	if r.p.ws.vcsEnabled() {
		return r.p.ws.Vcs.FileHashes(ctx, files)
	}
	return hashFiles(r.p.ws.Root, files)
}

func (r *taskRun) inputFiles(ctx context.Context) ([]string, error) {
	root := r.p.ws.Root
	fsys := os.DirFS(root)
	outputs := cache.Outputs{Files: r.task.OutputFiles, Globs: r.task.OutputGlobs}
	ignore := r.p.ws.Config.Hasher.IgnorePatterns

	seen := make(map[string]bool)
	add := func(rel string) {
		if excludedInput(rel) || outputs.Matches(rel) || ignored(ignore, rel) {
			return
		}
		seen[rel] = true
	}

	for _, f := range r.task.InputFiles {
		info, err := os.Stat(filepath.Join(root, filepath.FromSlash(f)))
		switch {
		case errors.Is(err, fs.ErrNotExist):
			if r.p.ws.Config.Hasher.WarnOnMissingInputs {
				slog.WarnContext(ctx, "input file does not exist", "target", r.task.Target.String(), "path", f)
			}
		case err != nil:
			return nil, err
		case info.IsDir():
			matches, err := doublestar.Glob(fsys, path.Join(f, "**", "*"), doublestar.WithFilesOnly())
			if err != nil {
				return nil, err
			}
			for _, m := range matches {
				add(m)
			}
		default:
			add(f)
		}
	}

	var negated []string
	for _, g := range r.task.InputGlobs {
		if neg, ok := strings.CutPrefix(g, "!"); ok {
			negated = append(negated, neg)
			continue
		}
		matches, err := doublestar.Glob(fsys, g, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("glob input %s: %w", g, err)
		}
		for _, m := range matches {
			add(m)
		}
	}

	out := make([]string, 0, len(seen))
	for f := range seen {
		if !ignored(negated, f) {
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out, nil
}

// excludedInput skips VCS metadata, installed packages and the moon cache.
func excludedInput(rel string) bool {
	if strings.HasPrefix(rel, ".moon/cache/") {
		return true
	}
	for _, seg := range strings.Split(rel, "/") {
		if seg == ".git" || seg == ".svn" || seg == "node_modules" {
			return true
		}
	}
	return false
}

func ignored(patterns []string, rel string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// hashFiles hashes file content directly, for workspaces without a VCS.
func hashFiles(root string, files []string) (map[string]string, error) {
	out := make(map[string]string, len(files))
	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(f)))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[f] = fmt.Sprintf("%016x", xxhash.Sum64(data))
	}
	return out, nil
}

// hydrate asks the subscribers for a cache hit and restores the outputs.
func (r *taskRun) hydrate(ctx context.Context) (action.Status, bool) {
	t := r.task
	att := r.a.BeginAttempt(action.AttemptOutputHydration)

	flow := r.p.emitter.Emit(ctx, event.Event{Type: event.TypeTargetOutputCacheCheck, Target: t.Target, Project: r.project.ID, Hash: r.a.Hash})
	if flow.Kind != event.FlowReturn {
		att.Finish(action.StatusSkipped)
		return "", false
	}
	location := flow.Value

	r.p.emitter.Emit(ctx, event.Event{Type: event.TypeTargetOutputHydrating, Target: t.Target, Hash: r.a.Hash, Location: location})
	outputs := cache.Outputs{Files: t.OutputFiles, Globs: t.OutputGlobs}
	ok, res, err := r.p.ws.Cache.Hydrate(r.a.Hash, r.project.Source, outputs, r.stateDir)
	if err != nil || !ok {
		if err != nil {
			slog.WarnContext(ctx, "hydrate outputs", "target", t.Target.String(), "hash", r.a.Hash, "error", err)
		}
		att.Finish(action.StatusSkipped)
		return "", false
	}
	r.p.emitter.Emit(ctx, event.Event{Type: event.TypeTargetOutputHydrated, Target: t.Target, Hash: r.a.Hash, Location: location})
	slog.DebugContext(ctx, "hydrated outputs", "target", t.Target.String(), "hash", r.a.Hash,
		"location", location, "restored", res.Restored, "unchanged", res.Unchanged)

	stdout, _ := os.ReadFile(filepath.Join(r.stateDir, cache.StdoutLog))
	stderr, _ := os.ReadFile(filepath.Join(r.stateDir, cache.StderrLog))
	r.printOutput(r.outputStyle(), true, stdout, stderr)

	att.Finish(action.StatusPassed)
	if location == event.LocationRemote {
		return action.StatusCachedFromRemote, true
	}
	return action.StatusCached, true
}

// execute spawns the task, retrying failures up to the retry count.
func (r *taskRun) execute(ctx context.Context) (action.Status, error) {
	cmd, err := r.command(ctx)
	if err != nil {
		return action.StatusFailed, err
	}
	if r.p.ws.Config.Runner.LogRunningCommand {
		slog.InfoContext(ctx, "running command", "target", r.task.Target.String(), "command", cmd.Line(), "cwd", cmd.Cwd)
	}

	style := r.outputStyle()
	attempts := 1 + int(r.task.Options.RetryCount)
	var lastErr error
	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			return action.StatusFailed, context.Cause(ctx)
		}
		att := r.a.BeginAttempt(action.AttemptTaskExecution)
		out, err := cmd.Exec(ctx, process.Options{
			Stream:      style == task.OutputStream,
			Interactive: r.a.Node.Interactive,
			Stdout:      r.p.Stdout,
			Stderr:      r.p.Stderr,
		})
		if out != nil {
			att.Execution = &action.Execution{
				ExitCode: out.ExitCode,
				Stdout:   process.Tail(out.Stdout, process.MaxCapture),
				Stderr:   process.Tail(out.Stderr, process.MaxCapture),
			}
			r.saveLogs(ctx, out)
		}

		if err == nil {
			att.Finish(action.StatusPassed)
			r.a.Flaky = i > 0
			if out != nil && style != task.OutputStream {
				r.printOutput(style, true, out.Stdout, out.Stderr)
			}
			return action.StatusPassed, nil
		}

		att.Finish(action.StatusFailed)
		lastErr = err
		if out != nil && style != task.OutputStream {
			r.printOutput(style, false, out.Stdout, out.Stderr)
		}
		if i+1 < attempts {
			slog.WarnContext(ctx, "task failed, retrying", "target", r.task.Target.String(), "attempt", i+1, "error", err)
		}
	}
	return action.StatusFailed, lastErr
}

// command builds the process of the task with its environment.
func (r *taskRun) command(ctx context.Context) (*process.Command, error) {
	t, proj, ws := r.task, r.project, r.p.ws
	workingDir := proj.Root
	if t.Options.RunFromWorkspaceRoot {
		workingDir = ws.Root
	}
	cmd, err := r.platform.CreateRunTargetCommand(ctx, proj, t, r.runtime, workingDir)
	if err != nil {
		return nil, err
	}
	if cmd.Env == nil {
		cmd.Env = map[string]string{}
	}

	if len(t.Options.EnvFiles) > 0 {
		var paths []string
		for _, f := range t.Options.EnvFiles {
			abs := filepath.Join(ws.Root, filepath.FromSlash(f))
			if _, err := os.Stat(abs); err == nil {
				paths = append(paths, abs)
			}
		}
		if len(paths) > 0 {
			fileEnv, err := godotenv.Read(paths...)
			if err != nil {
				return nil, fmt.Errorf("load env files of %s: %w", t.Target, err)
			}
			for k, v := range fileEnv {
				if _, ok := cmd.Env[k]; !ok {
					cmd.Env[k] = v
				}
			}
		}
	}

	cmd.SetEnv("MOON_WORKSPACE_ROOT", ws.Root).
		SetEnv("MOON_WORKING_DIR", workingDir).
		SetEnv("MOON_PROJECT_ID", proj.ID).
		SetEnv("MOON_PROJECT_ROOT", proj.Root).
		SetEnv("MOON_PROJECT_SOURCE", proj.Source).
		SetEnv("MOON_TARGET", t.Target.String())

	var extra []string
	if mode := t.Options.AffectedFiles; mode != "" && mode != task.AffectedOff {
		files := r.affectedFiles(workingDir)
		if mode.PassesEnv() {
			cmd.SetEnv("MOON_AFFECTED_FILES", strings.Join(files, " "))
		}
		if mode.PassesArgs() {
			extra = append(extra, files...)
		}
	}
	if r.actx.IsPrimary(t.Target) {
		extra = append(extra, r.actx.PassthroughArgs...)
	}
	if len(extra) > 0 {
		if cmd.Script != "" {
			cmd.Script += " " + shellquote.Join(extra...)
		} else {
			cmd.Args = append(cmd.Args, extra...)
		}
	}
	return cmd, nil
}

// affectedFiles lists touched files that are inputs of the task, relative to
// dir. Without any, the inputs themselves are passed when requested, else ".".
func (r *taskRun) affectedFiles(dir string) []string {
	var files []string
	for _, f := range r.actx.Touched.Sorted() {
		if affected.MatchesInputs(r.task, f) {
			files = append(files, f)
		}
	}
	if len(files) == 0 && r.task.Options.AffectedPassInputs {
		files = append(files, r.task.InputFiles...)
	}
	if len(files) == 0 {
		return []string{"."}
	}

	out := make([]string, 0, len(files))
	for _, f := range files {
		rel, err := filepath.Rel(dir, filepath.Join(r.p.ws.Root, filepath.FromSlash(f)))
		if err != nil {
			rel = f
		}
		out = append(out, filepath.ToSlash(rel))
	}
	return out
}

// outputStyle defaults to streaming when this is the only requested target.
func (r *taskRun) outputStyle() task.OutputStyle {
	if s := r.task.Options.OutputStyle; s != "" {
		return s
	}
	if r.a.Node.Interactive || r.task.IsPersistent() {
		return task.OutputStream
	}
	if len(r.actx.PrimaryTargets) == 1 && r.actx.IsPrimary(r.task.Target) {
		return task.OutputStream
	}
	return task.OutputBuffer
}

// printOutput writes captured output according to style.
func (r *taskRun) printOutput(style task.OutputStyle, passed bool, stdout, stderr []byte) {
	switch style {
	case task.OutputNone, task.OutputStream:
		return
	case task.OutputBufferOnlyFailure:
		if passed {
			return
		}
	case task.OutputHash:
		r.p.write(r.p.Stdout, []byte(r.a.Hash+"\n"))
		return
	}
	r.p.write(r.p.Stdout, prefixLines(r.task.Target.String(), stdout))
	r.p.write(r.p.Stderr, prefixLines(r.task.Target.String(), stderr))
}

func prefixLines(prefix string, data []byte) []byte {
	if len(data) == 0 {
		return nil
	}
	var b strings.Builder
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		b.WriteString(prefix)
		b.WriteString(" | ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// saveLogs keeps the last output in the state dir, where archives pick it up.
func (r *taskRun) saveLogs(ctx context.Context, out *process.Output) {
	if !cache.CurrentMode().Writable() {
		return
	}
	if err := os.MkdirAll(r.stateDir, 0o755); err != nil {
		slog.WarnContext(ctx, "create state dir", "target", r.task.Target.String(), "error", err)
		return
	}
	for name, data := range map[string][]byte{cache.StdoutLog: out.Stdout, cache.StderrLog: out.Stderr} {
		if err := os.WriteFile(filepath.Join(r.stateDir, name), data, 0o644); err != nil {
			slog.WarnContext(ctx, "save task log", "target", r.task.Target.String(), "file", name, "error", err)
		}
	}
}

// archive packs the outputs; failures only warn.
func (r *taskRun) archive(ctx context.Context) {
	t := r.task
	att := r.a.BeginAttempt(action.AttemptArchiveCreation)
	r.p.emitter.Emit(ctx, event.Event{Type: event.TypeTargetOutputArchiving, Target: t.Target, Hash: r.a.Hash})

	outputs := cache.Outputs{Files: t.OutputFiles, Globs: t.OutputGlobs}
	ok, err := r.p.ws.Cache.Archive(r.a.Hash, r.project.Source, outputs, r.stateDir)
	if err != nil {
		slog.WarnContext(ctx, "archive outputs", "target", t.Target.String(), "hash", r.a.Hash, "error", err)
		att.Finish(action.StatusSkipped)
		return
	}
	if !ok {
		att.Finish(action.StatusSkipped)
		return
	}
	r.p.emitter.Emit(ctx, event.Event{Type: event.TypeTargetOutputArchived, Target: t.Target, Hash: r.a.Hash})
	att.Finish(action.StatusPassed)
}
