package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeConfig(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.VCS.Manager != "git" {
		t.Errorf("expected vcs manager git, got %s", cfg.VCS.Manager)
	}
	if !cfg.Runner.BailOnError {
		t.Error("expected bailOnError to default to true")
	}
	if cfg.Runner.CacheLifetime != "7 days" {
		t.Errorf("expected cache lifetime 7 days, got %s", cfg.Runner.CacheLifetime)
	}
	if cfg.Cache.Compression != "gzip" {
		t.Errorf("expected gzip compression, got %s", cfg.Cache.Compression)
	}
	if err := cfg.validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestLoadWorkspace_MissingFile(t *testing.T) {
	cfg, err := LoadWorkspace(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.VCS.DefaultBranch != "master" {
		t.Errorf("expected defaults, got %+v", cfg.VCS)
	}
}

func TestLoadWorkspace_YAMLOverride(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, WorkspaceFile, `
projects:
  - "apps/*"
  - "packages/*"
vcs:
  defaultBranch: main
runner:
  concurrency: 4
  bailOnError: false
cache:
  compression: zstd
`)

	cfg, err := LoadWorkspace(root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(cfg.Projects.Globs, []string{"apps/*", "packages/*"}) {
		t.Errorf("globs = %v", cfg.Projects.Globs)
	}
	if cfg.VCS.DefaultBranch != "main" || cfg.Runner.Concurrency != 4 || cfg.Runner.BailOnError {
		t.Errorf("yaml values not applied: %+v %+v", cfg.VCS, cfg.Runner)
	}
	if cfg.VCS.Manager != "git" {
		t.Error("unset fields must keep their defaults")
	}
	if cfg.Cache.Compression != "zstd" {
		t.Errorf("compression = %s", cfg.Cache.Compression)
	}
}

func TestLoadWorkspace_EnvOverridesYAML(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, WorkspaceFile, "runner:\n  concurrency: 4\n")
	t.Setenv("MOON_CONCURRENCY", "9")
	t.Setenv("MOON_LOG_LEVEL", "debug")
	t.Setenv("MOON_REMOTE_CACHE_ENDPOINT", "localhost:9000")
	t.Setenv("MOON_REMOTE_CACHE_BUCKET", "moon")

	cfg, err := LoadWorkspace(root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Runner.Concurrency != 9 {
		t.Errorf("concurrency = %d, want 9", cfg.Runner.Concurrency)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %s", cfg.Logging.Level)
	}
	if !cfg.RemoteCache.Enabled() {
		t.Error("remote cache should be enabled from env")
	}
}

func TestLoadWorkspace_ProjectShapes(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		sources map[string]string
		globs   []string
	}{
		{"map", "projects:\n  app: apps/app\n  root: .\n", map[string]string{"app": "apps/app", "root": "."}, nil},
		{"globs", "projects: ['apps/*']\n", nil, []string{"apps/*"}},
		{"both", "projects:\n  sources:\n    app: apps/app\n  globs: ['libs/*']\n", map[string]string{"app": "apps/app"}, []string{"libs/*"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeConfig(t, root, WorkspaceFile, tt.yaml)
			cfg, err := LoadWorkspace(root)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(cfg.Projects.Sources, tt.sources) || !reflect.DeepEqual(cfg.Projects.Globs, tt.globs) {
				t.Errorf("projects = %+v", cfg.Projects)
			}
		})
	}
}

func TestLoadWorkspace_ValidationError(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"manager", "vcs:\n  manager: hg\n"},
		{"retry", "runner:\n  retryCount: 300\n"},
		{"lifetime", "runner:\n  cacheLifetime: soon\n"},
		{"style", "runner:\n  outputStyle: loud\n"},
		{"compression", "cache:\n  compression: lz4\n"},
		{"malformed", "runner: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeConfig(t, root, WorkspaceFile, tt.yaml)
			_, err := LoadWorkspace(root)
			var cfgErr *Error
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected *config.Error, got %v", err)
			}
			if filepath.Base(cfgErr.Path) != "workspace.yml" {
				t.Errorf("error path = %s", cfgErr.Path)
			}
		})
	}
}

func TestLoadToolchain(t *testing.T) {
	root := t.TempDir()
	tc, err := LoadToolchain(root)
	if err != nil || tc.Node != nil {
		t.Fatalf("missing file: node=%v err=%v", tc.Node, err)
	}

	writeConfig(t, root, ToolchainFile, "node:\n  version: 20.1.0\n  packageManager: pnpm\n")
	tc, err = LoadToolchain(root)
	if err != nil {
		t.Fatal(err)
	}
	if tc.Node == nil || tc.Node.Version != "20.1.0" || tc.Node.PackageManager != "pnpm" {
		t.Fatalf("node = %+v", tc.Node)
	}
	if !tc.Node.SyncProjectWorkspaceDependencies {
		t.Error("unset node fields must keep their defaults")
	}

	t.Setenv("MOON_NODE_VERSION", "22.0.0")
	tc, err = LoadToolchain(root)
	if err != nil {
		t.Fatal(err)
	}
	if tc.Node.Version != "22.0.0" {
		t.Errorf("env override not applied: %s", tc.Node.Version)
	}
}

func TestLoadProject(t *testing.T) {
	dir := t.TempDir()
	if _, ok, err := LoadProject(dir); ok || err != nil {
		t.Fatalf("missing moon.yml: ok=%v err=%v", ok, err)
	}

	writeConfig(t, dir, ProjectFile, `
language: typescript
type: library
dependsOn:
  - base
  - id: tooling
    scope: development
tasks:
  build:
    command: tsc --build
    deps: ['^:build', {target: 'codegen:run', optional: true}]
    inputs: []
    outputs: [dist]
    options:
      affectedFiles: true
      envFile: true
      retryCount: 2
  lint:
    command: eslint . && prettier --check .
  test:
    command: [vitest, run]
`)

	cfg, ok, err := LoadProject(dir)
	if err != nil || !ok {
		t.Fatalf("LoadProject: ok=%v err=%v", ok, err)
	}
	if len(cfg.DependsOn) != 2 || cfg.DependsOn[0].ID != "base" || cfg.DependsOn[1].Scope != "development" {
		t.Errorf("dependsOn = %+v", cfg.DependsOn)
	}

	build := cfg.Tasks["build"]
	if !reflect.DeepEqual(build.Command.Words, []string{"tsc", "--build"}) {
		t.Errorf("command = %v", build.Command.Words)
	}
	if len(build.Deps) != 2 || build.Deps[0].Target != "^:build" || !build.Deps[1].Optional {
		t.Errorf("deps = %+v", build.Deps)
	}
	if build.Inputs == nil || len(*build.Inputs) != 0 {
		t.Error("explicit empty inputs must be distinguishable from missing inputs")
	}
	if build.Options.AffectedFiles == nil || *build.Options.AffectedFiles != "both" {
		t.Errorf("affectedFiles = %v", build.Options.AffectedFiles)
	}
	if build.Options.EnvFile == nil || (*build.Options.EnvFile)[0] != ".env" {
		t.Errorf("envFile = %v", build.Options.EnvFile)
	}

	if !cfg.Tasks["lint"].Command.HasShellSyntax() {
		t.Error("lint command should be detected as shell syntax")
	}
	if cfg.Tasks["test"].Inputs != nil {
		t.Error("missing inputs must stay nil")
	}
	if cfg.Tasks["test"].Command.Raw != "" {
		t.Error("list commands have no raw form")
	}
}

func TestLoadProject_InvalidTask(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"script and command", "tasks:\n  a:\n    command: x\n    script: y\n"},
		{"negated output", "tasks:\n  a:\n    command: x\n    outputs: ['!dist']\n"},
		{"merge", "tasks:\n  a:\n    command: x\n    options:\n      mergeArgs: sideways\n"},
		{"scope", "dependsOn:\n  - id: a\n    scope: sometimes\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeConfig(t, dir, ProjectFile, tt.yaml)
			_, _, err := LoadProject(dir)
			var cfgErr *Error
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected *config.Error, got %v", err)
			}
		})
	}
}

func TestLoadInheritedTasks(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, InheritedFile, "implicitInputs: ['/.moon/*.yml']\ntasks:\n  lint:\n    command: eslint\n")
	writeConfig(t, root, InheritedDir+"/node-library.yml", "tasks:\n  build:\n    command: tsc\n")

	got, err := LoadInheritedTasks(root)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := got[GlobalLookupKey].Tasks["lint"]; !ok {
		t.Errorf("global tasks = %+v", got[GlobalLookupKey])
	}
	if _, ok := got["node-library"].Tasks["build"]; !ok {
		t.Errorf("node-library tasks = %+v", got["node-library"])
	}

	files, err := Files(root)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{".moon/tasks.yml", ".moon/tasks/node-library.yml"}
	if !reflect.DeepEqual(files, want) {
		t.Errorf("Files = %v, want %v", files, want)
	}
}

func TestLookupOrder(t *testing.T) {
	got := LookupOrder("node", "typescript", "library")
	want := []string{"*", "node", "typescript", "node-library", "typescript-library"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("LookupOrder = %v, want %v", got, want)
	}
	if got := LookupOrder("system", "unknown", "unknown"); !reflect.DeepEqual(got, []string{"*", "system"}) {
		t.Errorf("LookupOrder(system) = %v", got)
	}
}

func TestTaskOptions_Overlay(t *testing.T) {
	yes, no := true, false
	base := TaskOptions{Cache: &yes, Persistent: &no}
	got := base.Overlay(TaskOptions{Cache: &no})
	if *got.Cache || got.Persistent == nil || *got.Persistent {
		t.Errorf("overlay = %+v", got)
	}
}

func TestFindRoot(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, WorkspaceFile, "")
	nested := filepath.Join(root, "apps", "web")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := FindRoot(nested)
	if err != nil {
		t.Fatal(err)
	}
	if got != root {
		t.Errorf("FindRoot = %s, want %s", got, root)
	}

	other := t.TempDir()
	t.Setenv("MOON_WORKSPACE_ROOT", other)
	if got, _ := FindRoot(nested); got != other {
		t.Errorf("env override ignored: %s", got)
	}
}
