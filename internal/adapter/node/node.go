// Package node implements the node.js platform: package.json aware aliases,
// implicit dependencies, inferred tasks, dependency hashing and installs.
package node

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/Strob0t/moon/internal/adapter/system"
	"github.com/Strob0t/moon/internal/config"
	"github.com/Strob0t/moon/internal/domain/project"
	"github.com/Strob0t/moon/internal/domain/task"
	"github.com/Strob0t/moon/internal/domain/toolchain"
	"github.com/Strob0t/moon/internal/hasher"
	"github.com/Strob0t/moon/internal/process"
)

const manifestCacheSize = 512

// packageRunners are binaries that are resolved from PATH rather than
// node_modules/.bin.
var packageRunners = map[string]bool{
	"node": true, "npm": true, "npx": true, "pnpm": true, "pnpx": true,
	"yarn": true, "bun": true, "bunx": true, "corepack": true,
}

// Node is the node.js platform.
type Node struct {
	cfg           config.Node
	workspaceRoot string
	manifests     *manifestCache
	goos          string
	execCommand   func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// New creates the node platform for the workspace at root.
func New(workspaceRoot string, cfg config.Node) (*Node, error) {
	manifests, err := newManifestCache(manifestCacheSize)
	if err != nil {
		return nil, fmt.Errorf("node: manifest cache: %w", err)
	}
	return &Node{
		cfg:           cfg,
		workspaceRoot: workspaceRoot,
		manifests:     manifests,
		goos:          runtime.GOOS,
		execCommand:   exec.CommandContext,
	}, nil
}

// Type returns toolchain.PlatformNode.
func (n *Node) Type() toolchain.Platform { return toolchain.PlatformNode }

// Matches reports whether p (or rt when given) is node.
func (n *Node) Matches(p toolchain.Platform, rt *toolchain.Runtime) bool {
	if rt != nil {
		return rt.Platform == toolchain.PlatformNode
	}
	return p == toolchain.PlatformNode
}

// RuntimeFromConfig pins the project override, else the workspace version.
func (n *Node) RuntimeFromConfig(version string) toolchain.Runtime {
	if version == "" {
		version = n.cfg.Version
	}
	return toolchain.NewRuntime(toolchain.PlatformNode, version)
}

func (n *Node) IsToolchainEnabled() bool { return true }

func (n *Node) SetupToolchain(context.Context) error    { return nil }
func (n *Node) TeardownToolchain(context.Context) error { return nil }

// SetupTool verifies that the node binary on PATH satisfies rt. It counts
// one installed tool whenever the detected version differs from the last one
// recorded in lastVersions.
func (n *Node) SetupTool(ctx context.Context, rt toolchain.Runtime, lastVersions map[string]string) (int, error) {
	cmd := n.execCommand(ctx, "node", "--version")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			err = fmt.Errorf("%s: %w", strings.TrimSpace(stderr.String()), err)
		}
		return 0, fmt.Errorf("node: detect version: %w", err)
	}

	found := strings.TrimPrefix(strings.TrimSpace(stdout.String()), "v")
	if !rt.Requirement.IsGlobal() && !versionSatisfies(found, rt.Requirement.Version) {
		return 0, fmt.Errorf("node: version %s required, found %s", rt.Requirement.Version, found)
	}
	if lastVersions[rt.Key()] == found {
		return 0, nil
	}
	lastVersions[rt.Key()] = found
	return 1, nil
}

// versionSatisfies reports whether found equals want or lies within the
// major/minor line want names, e.g. "20" or "20.11".
func versionSatisfies(found, want string) bool {
	want = strings.TrimPrefix(want, "v")
	return found == want || strings.HasPrefix(found, want+".")
}

// ManifestFile returns "package.json".
func (n *Node) ManifestFile() string { return ManifestFile }

// Lockfiles lists the lockfiles of the configured package manager.
func (n *Node) Lockfiles() []string { return lockfileFor(n.cfg.PackageManager) }

// RequiresProjectInstall reports whether a non-root project carries its own lockfile.
func (n *Node) RequiresProjectInstall(p *project.Project) bool {
	if p.IsRootLevel() {
		return false
	}
	for _, name := range n.Lockfiles() {
		if _, err := os.Stat(filepath.Join(p.Root, name)); err == nil {
			return true
		}
	}
	return false
}

// InstallDeps runs the package manager's install in workingDir.
func (n *Node) InstallDeps(ctx context.Context, _ toolchain.Runtime, workingDir string) error {
	cmd := process.NewCommand(n.cfg.PackageManager, n.installArgs(workingDir)...)
	cmd.Cwd = workingDir
	cmd.PathPrefixes = []string{filepath.Join(n.workspaceRoot, "node_modules", ".bin")}

	opts := process.Options{Stream: os.Getenv("MOON_TEST_HIDE_INSTALL_OUTPUT") == ""}
	slog.Info("installing dependencies", "command", cmd.Line(), "dir", workingDir)
	if _, err := cmd.Exec(ctx, opts); err != nil {
		return fmt.Errorf("node: install: %w", err)
	}
	return nil
}

func (n *Node) installArgs(dir string) []string {
	frozen := os.Getenv("CI") != "" && n.hasLockfile(dir)
	switch n.cfg.PackageManager {
	case "npm":
		if frozen {
			return []string{"ci"}
		}
		return []string{"install"}
	default:
		if frozen {
			return []string{"install", "--frozen-lockfile"}
		}
		return []string{"install"}
	}
}

func (n *Node) hasLockfile(dir string) bool {
	for _, name := range n.Lockfiles() {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}

// HashManifestDeps adds the declared dependencies of a package.json.
func (n *Node) HashManifestDeps(_ context.Context, manifestPath string, h *hasher.Hasher, _ config.Hasher) error {
	m, err := n.manifests.Read(filepath.Dir(manifestPath))
	if err != nil || m == nil {
		return err
	}
	rel, err := filepath.Rel(n.workspaceRoot, manifestPath)
	if err != nil {
		rel = manifestPath
	}
	return h.Add(hasher.ManifestDeps{
		Manifest:     filepath.ToSlash(rel),
		Dependencies: m.AllDependencies(),
	})
}

// HashRunTarget adds the runtime and the project's dependency versions:
// resolved from the lockfile with accuracy optimization, declared ranges
// otherwise.
func (n *Node) HashRunTarget(_ context.Context, p *project.Project, rt toolchain.Runtime, h *hasher.Hasher, cfg config.Hasher) error {
	if err := h.Add(hasher.NewRuntimeFingerprint(rt)); err != nil {
		return err
	}
	m, err := n.manifests.Read(p.Root)
	if err != nil || m == nil {
		return err
	}

	declared := m.AllDependencies()
	resolved := hasher.ResolvedDeps{Dependencies: make(map[string][]string, len(declared))}

	if cfg.Optimization == "accuracy" {
		versions, err := n.lockfileVersions(p)
		if err != nil {
			return fmt.Errorf("node: read lockfile: %w", err)
		}
		for name, rng := range declared {
			if v, ok := versions[name]; ok {
				resolved.Dependencies[name] = v
			} else {
				resolved.Dependencies[name] = []string{rng}
			}
		}
	} else {
		for name, rng := range declared {
			resolved.Dependencies[name] = []string{rng}
		}
	}
	return h.Add(resolved)
}

// lockfileVersions prefers the project's own lockfile over the workspace one.
func (n *Node) lockfileVersions(p *project.Project) (map[string][]string, error) {
	if n.RequiresProjectInstall(p) {
		return resolvedVersions(p.Root, n.cfg.PackageManager)
	}
	return resolvedVersions(n.workspaceRoot, n.cfg.PackageManager)
}

// CreateRunTargetCommand builds the task process with node_modules/.bin of
// the project and the workspace prepended to PATH.
func (n *Node) CreateRunTargetCommand(_ context.Context, p *project.Project, t *task.Task, _ toolchain.Runtime, workingDir string) (*process.Command, error) {
	cmd, err := system.BuildCommand(n.goos, t, workingDir)
	if err != nil {
		return nil, err
	}
	cmd.PathPrefixes = binDirs(p.Root, n.workspaceRoot)
	if t.Script == "" && !packageRunners[t.Command] && !t.Options.UsesShell() {
		if bin := localBinary(p.Root, n.workspaceRoot, t.Command); bin != "" {
			cmd.Bin = bin
		}
	}
	if n.cfg.Version != "" {
		cmd.SetEnv("PROTO_NODE_VERSION", n.cfg.Version)
	}
	return cmd, nil
}

func binDirs(projectRoot, workspaceRoot string) []string {
	dirs := []string{filepath.Join(projectRoot, "node_modules", ".bin")}
	if projectRoot != workspaceRoot {
		dirs = append(dirs, filepath.Join(workspaceRoot, "node_modules", ".bin"))
	}
	return dirs
}

// LoadProjectGraphAliases maps package names to project ids. Sources are
// workspace-relative project directories.
func (n *Node) LoadProjectGraphAliases(_ context.Context, sources map[string]string) (map[string]string, error) {
	ids := make([]string, 0, len(sources))
	for id := range sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	aliases := make(map[string]string)
	for _, id := range ids {
		m, err := n.manifests.Read(filepath.Join(n.workspaceRoot, filepath.FromSlash(sources[id])))
		if err != nil {
			return nil, fmt.Errorf("node: aliases for %s: %w", id, err)
		}
		if m == nil || m.Name == "" || m.Name == id {
			continue
		}
		if owner, taken := aliases[m.Name]; taken {
			slog.Warn("node: package name already used as alias", "alias", m.Name, "project", id, "owner", owner)
			continue
		}
		aliases[m.Name] = id
	}
	return aliases, nil
}

// LoadProjectImplicitDependencies turns package.json dependencies on other
// workspace packages into project dependencies.
func (n *Node) LoadProjectImplicitDependencies(_ context.Context, p *project.Project, aliases map[string]string) ([]project.Dependency, error) {
	m, err := n.manifests.Read(p.Root)
	if err != nil || m == nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var deps []project.Dependency
	add := func(section map[string]string, scope project.DependencyScope) {
		names := make([]string, 0, len(section))
		for name := range section {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			id, ok := aliases[name]
			if !ok || id == p.ID || seen[id] {
				continue
			}
			seen[id] = true
			deps = append(deps, project.Dependency{ID: id, Scope: scope, Source: project.SourceImplicit})
		}
	}
	add(m.Dependencies, project.ScopeProduction)
	add(m.DevDependencies, project.ScopeDevelopment)
	add(m.PeerDependencies, project.ScopePeer)
	return deps, nil
}

// LoadProjectTasks infers one task per package.json script.
func (n *Node) LoadProjectTasks(_ context.Context, p *project.Project) (map[string]config.Task, error) {
	if !n.cfg.InferTasksFromScripts {
		return nil, nil
	}
	m, err := n.manifests.Read(p.Root)
	if err != nil || m == nil {
		return nil, err
	}

	tasks := make(map[string]config.Task, len(m.Scripts))
	for _, name := range m.ScriptNames() {
		id := scriptTaskID(name, m.Scripts)
		if id == "" {
			continue
		}
		platform := string(toolchain.PlatformNode)
		tasks[id] = config.Task{
			Command:  config.NewArgv(n.cfg.PackageManager, "run", name),
			Platform: platform,
		}
	}
	return tasks, nil
}

// lifecycleScripts run implicitly during installs and publishes.
var lifecycleScripts = map[string]bool{
	"install": true, "preinstall": true, "postinstall": true,
	"prepare": true, "prepublish": true, "prepublishOnly": true,
	"prepack": true, "postpack": true, "publish": true,
}

// scriptTaskID turns a script name into a task id, e.g. "build:prod" into
// "build-prod". Lifecycle scripts and pre/post hooks of other scripts yield "".
func scriptTaskID(script string, scripts map[string]string) string {
	if lifecycleScripts[script] {
		return ""
	}
	if rest, ok := strings.CutPrefix(script, "pre"); ok && scripts[rest] != "" {
		return ""
	}
	if rest, ok := strings.CutPrefix(script, "post"); ok && scripts[rest] != "" {
		return ""
	}
	var b strings.Builder
	for _, r := range script {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return strings.Trim(b.String(), "-")
}

// localBinary finds bin in the project's or the workspace's node_modules/.bin.
func localBinary(projectRoot, workspaceRoot, bin string) string {
	if strings.ContainsAny(bin, `/\`) {
		return ""
	}
	for _, dir := range binDirs(projectRoot, workspaceRoot) {
		candidate := filepath.Join(dir, bin)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}
