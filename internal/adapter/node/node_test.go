package node

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/Strob0t/moon/internal/config"
	"github.com/Strob0t/moon/internal/domain/project"
	"github.com/Strob0t/moon/internal/domain/target"
	"github.com/Strob0t/moon/internal/domain/task"
	"github.com/Strob0t/moon/internal/domain/toolchain"
	"github.com/Strob0t/moon/internal/hasher"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newNode(t *testing.T, root string, mutate func(*config.Node)) *Node {
	t.Helper()
	cfg := config.DefaultNode()
	cfg.InferTasksFromScripts = true
	if mutate != nil {
		mutate(&cfg)
	}
	n, err := New(root, cfg)
	if err != nil {
		t.Fatal(err)
	}
	return n
}

// workspace lays out web -> ui (production) and web -> tools (development).
func workspace(t *testing.T) (string, map[string]*project.Project) {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "apps/web/package.json"), `{
  "name": "web",
  "version": "0.1.0",
  "scripts": {"build": "vite build", "prebuild": "rm -rf dist", "test:unit": "vitest", "postinstall": "husky"},
  "dependencies": {"@acme/ui": "workspace:*", "react": "^18.2.0"},
  "devDependencies": {"@acme/tools": "*"}
}`)
	writeFile(t, filepath.Join(root, "packages/ui/package.json"), `{"name": "@acme/ui", "version": "2.1.0"}`)
	writeFile(t, filepath.Join(root, "packages/tools/package.json"), `{"name": "@acme/tools", "version": "1.0.0"}`)

	projects := map[string]*project.Project{
		"web":   {ID: "web", Source: "apps/web", Root: filepath.Join(root, "apps/web")},
		"ui":    {ID: "ui", Source: "packages/ui", Root: filepath.Join(root, "packages/ui")},
		"tools": {ID: "tools", Source: "packages/tools", Root: filepath.Join(root, "packages/tools")},
	}
	return root, projects
}

func sources(projects map[string]*project.Project) map[string]string {
	out := make(map[string]string, len(projects))
	for id, p := range projects {
		out[id] = p.Source
	}
	return out
}

func TestParseManifest(t *testing.T) {
	m, err := parseManifest([]byte(`{"name":"abc","version":"1.0.0","dependencies":{"x":"^1"},"scripts":{"lint":"eslint ."},"private":true}`))
	if err != nil {
		t.Fatal(err)
	}
	if m.Name != "abc" || m.Version != "1.0.0" {
		t.Errorf("name/version = %q/%q", m.Name, m.Version)
	}
	if m.Dependencies["x"] != "^1" || m.Scripts["lint"] != "eslint ." {
		t.Errorf("manifest = %+v", m)
	}
	if len(m.DevDependencies) != 0 {
		t.Errorf("devDependencies = %v", m.DevDependencies)
	}
}

func TestAliasesAndImplicitDependencies(t *testing.T) {
	root, projects := workspace(t)
	n := newNode(t, root, nil)
	ctx := context.Background()

	aliases, err := n.LoadProjectGraphAliases(ctx, sources(projects))
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{"@acme/ui": "ui", "@acme/tools": "tools"}
	if !reflect.DeepEqual(aliases, want) {
		t.Errorf("aliases = %v, want %v", aliases, want)
	}

	deps, err := n.LoadProjectImplicitDependencies(ctx, projects["web"], aliases)
	if err != nil {
		t.Fatal(err)
	}
	wantDeps := []project.Dependency{
		{ID: "ui", Scope: project.ScopeProduction, Source: project.SourceImplicit},
		{ID: "tools", Scope: project.ScopeDevelopment, Source: project.SourceImplicit},
	}
	if !reflect.DeepEqual(deps, wantDeps) {
		t.Errorf("deps = %+v, want %+v", deps, wantDeps)
	}
}

func TestLoadProjectTasks(t *testing.T) {
	root, projects := workspace(t)
	n := newNode(t, root, func(c *config.Node) { c.PackageManager = "pnpm" })

	tasks, err := n.LoadProjectTasks(context.Background(), projects["web"])
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 2 {
		t.Fatalf("tasks = %v, want build and test-unit", tasks)
	}
	build, ok := tasks["build"]
	if !ok {
		t.Fatal("missing build task")
	}
	if got := build.Command.Words; !reflect.DeepEqual(got, []string{"pnpm", "run", "build"}) {
		t.Errorf("build command = %q", got)
	}
	if _, ok := tasks["test-unit"]; !ok {
		t.Errorf("script test:unit should become test-unit, got %v", tasks)
	}

	off := newNode(t, root, func(c *config.Node) { c.InferTasksFromScripts = false })
	if tasks, _ := off.LoadProjectTasks(context.Background(), projects["web"]); tasks != nil {
		t.Errorf("inference disabled, got %v", tasks)
	}
}

func TestScriptTaskID(t *testing.T) {
	scripts := map[string]string{"build": "x", "prebuild": "x", "prettier": "x", "postcss": "x"}
	tests := []struct{ in, want string }{
		{"build", "build"},
		{"prebuild", ""},
		{"prettier", "prettier"},
		{"postcss", "postcss"},
		{"postinstall", ""},
		{"build:prod", "build-prod"},
	}
	for _, tt := range tests {
		if got := scriptTaskID(tt.in, scripts); got != tt.want {
			t.Errorf("scriptTaskID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSyncProject_Idempotent(t *testing.T) {
	root, projects := workspace(t)
	n := newNode(t, root, func(c *config.Node) { c.PackageManager = "pnpm" })
	writeFile(t, filepath.Join(root, "apps/web/package.json"), `{
  "name": "web",
  "version": "0.1.0",
  "scripts": {"build": "vite build"}
}`)
	web := projects["web"]
	web.Dependencies = map[string]project.Dependency{
		"ui":    {ID: "ui", Scope: project.ScopeProduction},
		"tools": {ID: "tools", Scope: project.ScopePeer},
	}
	ctx := context.Background()

	changed, err := n.SyncProject(ctx, web, projects)
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Fatal("first sync should modify package.json")
	}
	data, err := os.ReadFile(filepath.Join(web.Root, "package.json"))
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	if !strings.Contains(text, `"@acme/ui": "workspace:*"`) {
		t.Errorf("missing ui dependency:\n%s", text)
	}
	if !strings.Contains(text, `"@acme/tools": "^1.0.0"`) {
		t.Errorf("missing tools peer dependency:\n%s", text)
	}
	if !(strings.Index(text, `"name"`) < strings.Index(text, `"scripts"`) &&
		strings.Index(text, `"scripts"`) < strings.Index(text, `"dependencies"`)) {
		t.Errorf("key order not preserved:\n%s", text)
	}

	changed, err = n.SyncProject(ctx, web, projects)
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("second sync without changes should report no modification")
	}
}

func TestVersionFor(t *testing.T) {
	p := &project.Project{Root: "/ws/apps/web"}
	dep := &project.Project{Root: "/ws/packages/ui"}
	m := &manifest{Name: "@acme/ui", Version: "2.1.0"}

	tests := []struct {
		pm, format, section, want string
	}{
		{"pnpm", "workspace", "dependencies", "workspace:*"},
		{"npm", "workspace", "dependencies", "file:../../packages/ui"},
		{"yarn", "star", "devDependencies", "*"},
		{"yarn", "file", "dependencies", "file:../../packages/ui"},
		{"pnpm", "workspace", "peerDependencies", "^2.1.0"},
	}
	for _, tt := range tests {
		n := &Node{cfg: config.Node{PackageManager: tt.pm, DependencyVersionFormat: tt.format}}
		if got := n.versionFor(p, dep, m, tt.section); got != tt.want {
			t.Errorf("versionFor(%s, %s, %s) = %q, want %q", tt.pm, tt.format, tt.section, got, tt.want)
		}
	}
}

func TestResolvedVersions(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "package-lock.json"), `{
  "lockfileVersion": 3,
  "packages": {
    "": {"name": "root"},
    "node_modules/react": {"version": "18.2.0"},
    "node_modules/@scope/pkg": {"version": "1.0.0"},
    "node_modules/a/node_modules/react": {"version": "17.0.2"}
  }
}`)
	got, err := resolvedVersions(dir, "npm")
	if err != nil {
		t.Fatal(err)
	}
	want := map[string][]string{"react": {"17.0.2", "18.2.0"}, "@scope/pkg": {"1.0.0"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("npm = %v, want %v", got, want)
	}

	writeFile(t, filepath.Join(dir, "pnpm-lock.yaml"), `lockfileVersion: '9.0'
packages:
  react@18.2.0:
    resolution: {integrity: sha512-x}
  '@scope/pkg@1.0.0(react@18.2.0)':
    resolution: {integrity: sha512-y}
`)
	got, err = resolvedVersions(dir, "pnpm")
	if err != nil {
		t.Fatal(err)
	}
	want = map[string][]string{"react": {"18.2.0"}, "@scope/pkg": {"1.0.0"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("pnpm = %v, want %v", got, want)
	}

	writeFile(t, filepath.Join(dir, "yarn.lock"), `# yarn lockfile v1

"react@^18.0.0", react@^18.2.0:
  version "18.2.0"
  resolved "https://registry.yarnpkg.com/react/-/react-18.2.0.tgz"

"@scope/pkg@^1.0.0":
  version "1.0.0"
`)
	got, err = resolvedVersions(dir, "yarn")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("yarn = %v, want %v", got, want)
	}

	empty, err := resolvedVersions(t.TempDir(), "npm")
	if err != nil || len(empty) != 0 {
		t.Errorf("missing lockfile = %v, %v", empty, err)
	}
}

func TestHashRunTarget_Optimization(t *testing.T) {
	root, projects := workspace(t)
	writeFile(t, filepath.Join(root, "package-lock.json"), `{"packages": {"node_modules/react": {"version": "18.3.1"}}}`)
	n := newNode(t, root, nil)
	rt := toolchain.NewRuntime(toolchain.PlatformNode, "20.11.0")
	ctx := context.Background()

	hashFor := func(optimization string) string {
		h := hasher.New("web:build")
		if err := n.HashRunTarget(ctx, projects["web"], rt, h, config.Hasher{Optimization: optimization}); err != nil {
			t.Fatal(err)
		}
		manifest, err := h.Manifest()
		if err != nil {
			t.Fatal(err)
		}
		return string(manifest)
	}

	if m := hashFor("accuracy"); !strings.Contains(m, "18.3.1") {
		t.Errorf("accuracy should hash resolved versions:\n%s", m)
	}
	if m := hashFor("performance"); !strings.Contains(m, "^18.2.0") || strings.Contains(m, "18.3.1") {
		t.Errorf("performance should hash declared ranges:\n%s", m)
	}
}

func TestSetupTool(t *testing.T) {
	n := newNode(t, t.TempDir(), nil)
	n.execCommand = func(ctx context.Context, _ string, _ ...string) *exec.Cmd {
		return exec.CommandContext(ctx, "echo", "v20.11.1")
	}
	ctx := context.Background()
	last := map[string]string{}

	rt := toolchain.NewRuntime(toolchain.PlatformNode, "20")
	installed, err := n.SetupTool(ctx, rt, last)
	if err != nil {
		t.Fatal(err)
	}
	if installed != 1 || last[rt.Key()] != "20.11.1" {
		t.Errorf("installed = %d, last = %v", installed, last)
	}
	if installed, _ = n.SetupTool(ctx, rt, last); installed != 0 {
		t.Errorf("second setup installed = %d, want 0", installed)
	}

	if _, err := n.SetupTool(ctx, toolchain.NewRuntime(toolchain.PlatformNode, "18"), last); err == nil {
		t.Error("expected version mismatch error")
	}
}

func TestCreateRunTargetCommand(t *testing.T) {
	root, projects := workspace(t)
	n := newNode(t, root, nil)
	web := projects["web"]
	writeFile(t, filepath.Join(web.Root, "node_modules/.bin/vite"), "#!/bin/sh\n")

	off := false
	tk := &task.Task{
		Target:  target.MustParse("web:build"),
		Command: "vite",
		Args:    []string{"build"},
		Options: task.DefaultOptions(),
	}
	tk.Options.Shell = &off

	cmd, err := n.CreateRunTargetCommand(context.Background(), web, tk, n.RuntimeFromConfig(""), web.Root)
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Bin != filepath.Join(web.Root, "node_modules/.bin/vite") {
		t.Errorf("Bin = %q", cmd.Bin)
	}
	wantPath := []string{filepath.Join(web.Root, "node_modules/.bin"), filepath.Join(root, "node_modules/.bin")}
	if !reflect.DeepEqual(cmd.PathPrefixes, wantPath) {
		t.Errorf("PathPrefixes = %v", cmd.PathPrefixes)
	}
}

func TestRequiresProjectInstall(t *testing.T) {
	root, projects := workspace(t)
	n := newNode(t, root, nil)
	if n.RequiresProjectInstall(projects["web"]) {
		t.Error("no project lockfile yet")
	}
	writeFile(t, filepath.Join(projects["web"].Root, "package-lock.json"), "{}")
	if !n.RequiresProjectInstall(projects["web"]) {
		t.Error("project lockfile should require a project install")
	}
}
