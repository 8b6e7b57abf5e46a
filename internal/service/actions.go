package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/Strob0t/moon/internal/cache"
	"github.com/Strob0t/moon/internal/domain/action"
	"github.com/Strob0t/moon/internal/domain/event"
	"github.com/Strob0t/moon/internal/domain/project"
	"github.com/Strob0t/moon/internal/hasher"
)

const (
	codeownersPath = ".github/CODEOWNERS"
	generatedNote  = "Automatically generated by moon. DO NOT MODIFY!"
)

// syncWorkspace regenerates the CODEOWNERS file and VCS hooks when enabled.
// Both are skipped when their content hash matches the last sync.
func (p *Pipeline) syncWorkspace(ctx context.Context) (action.Status, error) {
	cfg := p.ws.Config
	if !cfg.Codeowners.SyncOnRun && !cfg.VCS.SyncHooks {
		return action.StatusSkipped, nil
	}
	p.emitter.Emit(ctx, event.Event{Type: event.TypeWorkspaceSyncing})

	state := cache.Load[cache.WorkspaceState](p.ws.Cache, cache.WorkspaceStatePath)
	changed := false

	if cfg.Codeowners.SyncOnRun {
		content := renderCodeowners(cfg.Codeowners.GlobalPaths, p.projects.Projects())
		dest := filepath.Join(p.ws.Root, filepath.FromSlash(codeownersPath))
		wrote, hash, err := writeGenerated(dest, content, state.Data.CodeownersHash, 0o644)
		if err != nil {
			return action.StatusFailed, fmt.Errorf("sync codeowners: %w", err)
		}
		state.Data.CodeownersHash = hash
		changed = changed || wrote
	}

	if cfg.VCS.SyncHooks && p.ws.vcsEnabled() && len(cfg.VCS.Hooks) > 0 {
		hash, wrote, err := p.syncHooks(ctx, state.Data.HooksHash)
		if err != nil {
			return action.StatusFailed, fmt.Errorf("sync vcs hooks: %w", err)
		}
		state.Data.HooksHash = hash
		changed = changed || wrote
	}

	state.Data.LastSyncTime = time.Now().UnixMilli()
	if err := state.Save(); err != nil {
		slog.WarnContext(ctx, "save workspace state", "error", err)
	}
	p.emitter.Emit(ctx, event.Event{Type: event.TypeWorkspaceSynced})

	if !changed {
		return action.StatusSkipped, nil
	}
	return action.StatusPassed, nil
}

// renderCodeowners builds a GitHub style CODEOWNERS file. Project paths are
// anchored at the project source.
func renderCodeowners(global map[string][]string, projects []*project.Project) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", generatedNote)

	if len(global) > 0 {
		b.WriteString("\n# (workspace)\n")
		writeOwnerLines(&b, "", global, "")
	}

	sorted := append([]*project.Project(nil), projects...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	for _, proj := range sorted {
		if len(proj.Owners.Paths) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n# %s\n", proj.ID)
		writeOwnerLines(&b, proj.Source, proj.Owners.Paths, proj.Owners.DefaultOwner)
	}
	return b.String()
}

func writeOwnerLines(b *strings.Builder, source string, paths map[string][]string, defaultOwner string) {
	keys := make([]string, 0, len(paths))
	for k := range paths {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, pattern := range keys {
		owners := paths[pattern]
		if len(owners) == 0 && defaultOwner != "" {
			owners = []string{defaultOwner}
		}
		if len(owners) == 0 {
			continue
		}
		full := strings.TrimPrefix(pattern, "/")
		if source != "" && source != "." {
			full = source + "/" + full
		}
		fmt.Fprintf(b, "/%s %s\n", full, strings.Join(owners, " "))
	}
}

// syncHooks writes one script per configured hook into the VCS hooks dir.
func (p *Pipeline) syncHooks(ctx context.Context, lastHash string) (string, bool, error) {
	dir, err := p.ws.Vcs.HooksDir(ctx)
	if err != nil || dir == "" {
		return lastHash, false, err
	}

	names := make([]string, 0, len(p.ws.Config.VCS.Hooks))
	for name := range p.ws.Config.VCS.Hooks {
		names = append(names, name)
	}
	sort.Strings(names)

	scripts := make(map[string]string, len(names))
	d := xxhash.New()
	for _, name := range names {
		var b strings.Builder
		fmt.Fprintf(&b, "#!/bin/sh\n# %s\n\n", generatedNote)
		for _, cmd := range p.ws.Config.VCS.Hooks[name] {
			b.WriteString(cmd)
			b.WriteByte('\n')
		}
		scripts[name] = b.String()
		_, _ = d.WriteString(name)
		_, _ = d.WriteString(scripts[name])
	}
	hash := fmt.Sprintf("%016x", d.Sum64())

	if hash == lastHash && hooksPresent(dir, names) {
		return hash, false, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return lastHash, false, err
	}
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(scripts[name]), 0o755); err != nil {
			return lastHash, false, err
		}
	}
	slog.DebugContext(ctx, "synced vcs hooks", "dir", dir, "hooks", names)
	return hash, true, nil
}

func hooksPresent(dir string, names []string) bool {
	for _, n := range names {
		if _, err := os.Stat(filepath.Join(dir, n)); err != nil {
			return false
		}
	}
	return true
}

// writeGenerated writes content to dest unless its hash equals lastHash and
// the file still exists. It returns whether the file was written.
func writeGenerated(dest, content, lastHash string, perm os.FileMode) (bool, string, error) {
	hash := fmt.Sprintf("%016x", xxhash.Sum64String(content))
	if hash == lastHash {
		if _, err := os.Stat(dest); err == nil {
			return false, hash, nil
		}
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return false, lastHash, err
	}
	if err := os.WriteFile(dest, []byte(content), perm); err != nil {
		return false, lastHash, err
	}
	return true, hash, nil
}

// setupToolchain installs or verifies the runtime of the node.
func (p *Pipeline) setupToolchain(ctx context.Context, a *action.Action) (action.Status, error) {
	rt := a.Node.Runtime
	if rt.Platform.IsSystem() {
		return action.StatusSkipped, nil
	}
	pl := p.ws.Platforms.ForRuntime(rt)

	state := cache.Load[cache.ToolchainState](p.ws.Cache, cache.ToolchainStatePath)
	if state.Data.LastVersions == nil {
		state.Data.LastVersions = map[string]string{}
	}

	p.emitter.Emit(ctx, event.Event{Type: event.TypeToolInstalling, Runtime: rt})
	if err := pl.SetupToolchain(ctx); err != nil {
		return action.StatusFailed, err
	}
	installed, err := pl.SetupTool(ctx, rt, state.Data.LastVersions)
	if err != nil {
		return action.StatusFailed, err
	}
	p.emitter.Emit(ctx, event.Event{Type: event.TypeToolInstalled, Runtime: rt, Installed: installed})

	state.Data.LastVersions[rt.Key()] = rt.Requirement.String()
	if err := state.Save(); err != nil {
		slog.WarnContext(ctx, "save toolchain state", "runtime", rt.String(), "error", err)
	}

	if installed == 0 {
		return action.StatusSkipped, nil
	}
	return action.StatusPassed, nil
}

// installDeps installs dependencies of the workspace, or of one project when
// the node names it. The install is skipped when the manifests hash the same
// as the last install and no lockfile changed since.
func (p *Pipeline) installDeps(ctx context.Context, a *action.Action) (action.Status, error) {
	rt := a.Node.Runtime
	if rt.Platform.IsSystem() {
		return action.StatusSkipped, nil
	}
	pl := p.ws.Platforms.ForRuntime(rt)

	dir := p.ws.Root
	if a.Node.Project != "" {
		proj, err := p.projects.Get(a.Node.Project)
		if err != nil {
			return action.StatusFailed, err
		}
		dir = proj.Root
	}

	fp := hasher.DepsInstallFingerprint{
		Runtime:   rt.String(),
		Project:   a.Node.Project,
		Manifests: map[string]string{},
	}
	files := append([]string{}, pl.Lockfiles()...)
	if mf := pl.ManifestFile(); mf != "" {
		files = append(files, mf)
	}
	var lockTime time.Time
	for i, name := range files {
		abs := filepath.Join(dir, name)
		data, err := os.ReadFile(abs)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return action.StatusFailed, fmt.Errorf("read %s: %w", name, err)
		}
		fp.Manifests[name] = fmt.Sprintf("%016x", xxhash.Sum64(data))
		if i < len(pl.Lockfiles()) {
			if info, err := os.Stat(abs); err == nil && info.ModTime().After(lockTime) {
				lockTime = info.ModTime()
			}
		}
	}

	h := hasher.New("deps-install")
	if err := h.Add(fp); err != nil {
		return action.StatusFailed, err
	}
	hash := h.Generate()

	state := cache.Load[cache.DepsState](p.ws.Cache, cache.DepsStatePath(rt, a.Node.Project))
	if state.Data.LastHash == hash && state.Data.InstalledSince(lockTime) {
		slog.DebugContext(ctx, "dependencies up to date", "runtime", rt.String(), "project", a.Node.Project)
		return action.StatusSkipped, nil
	}

	if state.Data.LastInstallTime == 0 && p.offline(ctx) {
		slog.WarnContext(ctx, "no internet connection, skipping dependency install", "runtime", rt.String(), "project", a.Node.Project)
		return action.StatusSkipped, nil
	}

	p.emitter.Emit(ctx, event.Event{Type: event.TypeDependenciesInstalling, Runtime: rt, Project: a.Node.Project})
	if err := pl.InstallDeps(ctx, rt, dir); err != nil {
		return action.StatusFailed, err
	}
	p.emitter.Emit(ctx, event.Event{Type: event.TypeDependenciesInstalled, Runtime: rt, Project: a.Node.Project})

	// The install may rewrite the lockfile; its new mtime must not retrigger.
	state.Data = cache.DepsState{LastHash: hash, LastInstallTime: time.Now().UnixMilli()}
	if err := state.Save(); err != nil {
		slog.WarnContext(ctx, "save deps state", "runtime", rt.String(), "error", err)
	}
	return action.StatusPassed, nil
}

// syncProject lets the project's platform reconcile its manifest with the
// project graph.
func (p *Pipeline) syncProject(ctx context.Context, a *action.Action) (action.Status, error) {
	proj, err := p.projects.Get(a.Node.Project)
	if err != nil {
		return action.StatusFailed, err
	}
	deps := make(map[string]*project.Project, len(proj.Dependencies))
	for _, id := range proj.DependencyIDs() {
		if dep, err := p.projects.Get(id); err == nil {
			deps[id] = dep
		}
	}

	p.emitter.Emit(ctx, event.Event{Type: event.TypeProjectSyncing, Runtime: a.Node.Runtime, Project: proj.ID})
	changed, err := p.ws.Platforms.Get(proj.Platform).SyncProject(ctx, proj, deps)
	if err != nil {
		return action.StatusFailed, err
	}
	p.emitter.Emit(ctx, event.Event{Type: event.TypeProjectSynced, Runtime: a.Node.Runtime, Project: proj.ID})

	if changed {
		return action.StatusPassed, nil
	}
	return action.StatusSkipped, nil
}
