package platform_test

import (
	"context"
	"testing"

	"github.com/Strob0t/moon/internal/config"
	"github.com/Strob0t/moon/internal/domain/project"
	"github.com/Strob0t/moon/internal/domain/task"
	"github.com/Strob0t/moon/internal/domain/toolchain"
	"github.com/Strob0t/moon/internal/hasher"
	"github.com/Strob0t/moon/internal/port/platform"
	"github.com/Strob0t/moon/internal/process"
)

// fakePlatform is a minimal Platform for registry tests.
type fakePlatform struct {
	kind    toolchain.Platform
	enabled bool
}

func (f *fakePlatform) Type() toolchain.Platform { return f.kind }

func (f *fakePlatform) Matches(p toolchain.Platform, rt *toolchain.Runtime) bool {
	if rt != nil {
		return rt.Platform == f.kind
	}
	return p == f.kind
}

func (f *fakePlatform) RuntimeFromConfig(version string) toolchain.Runtime {
	return toolchain.NewRuntime(f.kind, version)
}

func (f *fakePlatform) IsToolchainEnabled() bool { return f.enabled }
func (f *fakePlatform) SetupToolchain(context.Context) error { return nil }
func (f *fakePlatform) TeardownToolchain(context.Context) error { return nil }
func (f *fakePlatform) ManifestFile() string { return "" }
func (f *fakePlatform) Lockfiles() []string  { return nil }
func (f *fakePlatform) RequiresProjectInstall(*project.Project) bool { return false }

func (f *fakePlatform) SetupTool(context.Context, toolchain.Runtime, map[string]string) (int, error) {
	return 0, nil
}

func (f *fakePlatform) InstallDeps(context.Context, toolchain.Runtime, string) error { return nil }

func (f *fakePlatform) SyncProject(context.Context, *project.Project, map[string]*project.Project) (bool, error) {
	return false, nil
}

func (f *fakePlatform) HashManifestDeps(context.Context, string, *hasher.Hasher, config.Hasher) error {
	return nil
}

func (f *fakePlatform) HashRunTarget(context.Context, *project.Project, toolchain.Runtime, *hasher.Hasher, config.Hasher) error {
	return nil
}

func (f *fakePlatform) CreateRunTargetCommand(_ context.Context, _ *project.Project, t *task.Task, _ toolchain.Runtime, dir string) (*process.Command, error) {
	cmd := process.NewCommand(t.Command, t.Args...)
	cmd.Cwd = dir
	return cmd, nil
}

func (f *fakePlatform) LoadProjectGraphAliases(context.Context, map[string]string) (map[string]string, error) {
	return nil, nil
}

func (f *fakePlatform) LoadProjectImplicitDependencies(context.Context, *project.Project, map[string]string) ([]project.Dependency, error) {
	return nil, nil
}

func (f *fakePlatform) LoadProjectTasks(context.Context, *project.Project) (map[string]config.Task, error) {
	return nil, nil
}

func TestRegistry_SystemLast(t *testing.T) {
	system := &fakePlatform{kind: toolchain.PlatformSystem, enabled: true}
	node := &fakePlatform{kind: toolchain.PlatformNode, enabled: true}
	r := platform.NewRegistry(system)
	r.Register(node)

	list := r.List()
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if list[len(list)-1] != system {
		t.Error("system platform must be listed last")
	}
}

func TestRegistry_Get(t *testing.T) {
	system := &fakePlatform{kind: toolchain.PlatformSystem, enabled: true}
	node := &fakePlatform{kind: toolchain.PlatformNode, enabled: true}
	deno := &fakePlatform{kind: toolchain.PlatformDeno}
	r := platform.NewRegistry(system)
	r.Register(node)
	r.Register(deno)

	tests := []struct {
		name string
		in   toolchain.Platform
		want platform.Platform
	}{
		{"enabled", toolchain.PlatformNode, node},
		{"disabled falls back", toolchain.PlatformDeno, system},
		{"unregistered falls back", toolchain.PlatformRust, system},
		{"system", toolchain.PlatformSystem, system},
		{"unknown", toolchain.PlatformUnknown, system},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Get(tt.in); got != tt.want {
				t.Errorf("Get(%s) = %s", tt.in, got.Type())
			}
		})
	}
}

func TestRegistry_ForRuntimeAndEnabled(t *testing.T) {
	system := &fakePlatform{kind: toolchain.PlatformSystem}
	node := &fakePlatform{kind: toolchain.PlatformNode, enabled: true}
	r := platform.NewRegistry(system)
	r.Register(node)

	if got := r.ForRuntime(toolchain.NewRuntime(toolchain.PlatformNode, "20.0.0")); got != node {
		t.Errorf("ForRuntime(node) = %s", got.Type())
	}
	if got := r.ForRuntime(toolchain.System()); got != system {
		t.Errorf("ForRuntime(system) = %s", got.Type())
	}
	if n := len(r.Enabled()); n != 2 {
		t.Errorf("Enabled() = %d platforms, want 2 (system is always enabled)", n)
	}
	if !r.IsEnabled(toolchain.PlatformNode) || !r.IsEnabled(toolchain.PlatformSystem) {
		t.Error("node and system should be enabled")
	}
	if r.IsEnabled(toolchain.PlatformPython) {
		t.Error("python is not registered")
	}
}

func TestWrap(t *testing.T) {
	if platform.Wrap(toolchain.PlatformNode, "install", nil) != nil {
		t.Error("Wrap(nil) should be nil")
	}
	err := platform.Wrap(toolchain.PlatformNode, "install", context.Canceled)
	if got := err.Error(); got != "node platform: install: context canceled" {
		t.Errorf("Error() = %q", got)
	}
}
