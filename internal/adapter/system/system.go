// Package system implements the fallback platform that runs task commands
// directly on the host.
package system

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/Strob0t/moon/internal/config"
	"github.com/Strob0t/moon/internal/domain/project"
	"github.com/Strob0t/moon/internal/domain/task"
	"github.com/Strob0t/moon/internal/domain/toolchain"
	"github.com/Strob0t/moon/internal/hasher"
	"github.com/Strob0t/moon/internal/process"
)

// Platform is the host platform. It claims every task no other platform does.
type Platform struct {
	goos string
}

// New returns the system platform for the current host.
func New() *Platform {
	return &Platform{goos: runtime.GOOS}
}

// Type returns toolchain.PlatformSystem.
func (p *Platform) Type() toolchain.Platform { return toolchain.PlatformSystem }

// Matches reports true for the system platform and for unknown platforms.
func (p *Platform) Matches(pl toolchain.Platform, rt *toolchain.Runtime) bool {
	if rt != nil {
		return rt.Platform.IsSystem()
	}
	return pl.IsSystem()
}

// RuntimeFromConfig always returns the host runtime.
func (p *Platform) RuntimeFromConfig(string) toolchain.Runtime { return toolchain.System() }

// IsToolchainEnabled reports true; the host is always available.
func (p *Platform) IsToolchainEnabled() bool { return true }

func (p *Platform) SetupToolchain(context.Context) error    { return nil }
func (p *Platform) TeardownToolchain(context.Context) error { return nil }

// SetupTool installs nothing.
func (p *Platform) SetupTool(context.Context, toolchain.Runtime, map[string]string) (int, error) {
	return 0, nil
}

func (p *Platform) ManifestFile() string { return "" }
func (p *Platform) Lockfiles() []string  { return nil }

func (p *Platform) RequiresProjectInstall(*project.Project) bool { return false }

func (p *Platform) InstallDeps(context.Context, toolchain.Runtime, string) error { return nil }

// SyncProject has no manifest to reconcile.
func (p *Platform) SyncProject(context.Context, *project.Project, map[string]*project.Project) (bool, error) {
	return false, nil
}

func (p *Platform) HashManifestDeps(context.Context, string, *hasher.Hasher, config.Hasher) error {
	return nil
}

func (p *Platform) HashRunTarget(context.Context, *project.Project, toolchain.Runtime, *hasher.Hasher, config.Hasher) error {
	return nil
}

// CreateRunTargetCommand spawns the declared command, or the script through
// the task's shell.
func (p *Platform) CreateRunTargetCommand(_ context.Context, _ *project.Project, t *task.Task, _ toolchain.Runtime, workingDir string) (*process.Command, error) {
	return BuildCommand(p.goos, t, workingDir)
}

func (p *Platform) LoadProjectGraphAliases(context.Context, map[string]string) (map[string]string, error) {
	return map[string]string{}, nil
}

func (p *Platform) LoadProjectImplicitDependencies(context.Context, *project.Project, map[string]string) ([]project.Dependency, error) {
	return nil, nil
}

func (p *Platform) LoadProjectTasks(context.Context, *project.Project) (map[string]config.Task, error) {
	return nil, nil
}

// BuildCommand turns a task into a process command for goos. Scripts always
// run through a shell; commands do unless options.shell is false.
func BuildCommand(goos string, t *task.Task, workingDir string) (*process.Command, error) {
	cmd := &process.Command{Env: map[string]string{}, Cwd: workingDir}
	for k, v := range t.Env {
		cmd.Env[k] = v
	}

	if t.Script != "" {
		cmd.Script = t.Script
		cmd.Shell = ShellFor(goos, t.Options)
		return cmd, nil
	}
	if t.Command == "" {
		return nil, fmt.Errorf("task %s has no command", t.Target)
	}

	cmd.Bin, cmd.Args = t.Command, append([]string(nil), t.Args...)
	if goos == "windows" {
		cmd.Bin, cmd.Args = translateWindowsScript(cmd.Bin, cmd.Args)
	}
	if t.Options.UsesShell() {
		cmd.Shell = ShellFor(goos, t.Options)
	}
	return cmd, nil
}

// ShellFor returns the shell configured by opts for goos.
func ShellFor(goos string, opts task.Options) *process.Shell {
	if goos == "windows" {
		switch opts.WindowsShell {
		case task.WindowsBash, task.WindowsElvish, task.WindowsFish, task.WindowsMurex, task.WindowsNu, task.WindowsXonsh:
			return &process.Shell{Bin: string(opts.WindowsShell), Args: []string{"-c"}}
		default:
			return &process.Shell{Bin: "pwsh", Args: []string{"-NoLogo", "-NoProfile", "-Command"}}
		}
	}
	switch opts.UnixShell {
	case task.UnixPwsh:
		return &process.Shell{Bin: "pwsh", Args: []string{"-NoLogo", "-NoProfile", "-Command"}}
	case "":
		return &process.Shell{Bin: string(task.UnixBash), Args: []string{"-c"}}
	default:
		return &process.Shell{Bin: string(opts.UnixShell), Args: []string{"-c"}}
	}
}

// translateWindowsScript runs script files through the interpreter their
// extension implies, since windows cannot execute them directly.
func translateWindowsScript(bin string, args []string) (string, []string) {
	switch strings.ToLower(filepath.Ext(bin)) {
	case ".ps1":
		return "pwsh", append([]string{"-NoLogo", "-NoProfile", "-File", bin}, args...)
	case ".sh":
		return "bash", append([]string{bin}, args...)
	case ".cmd", ".bat":
		return "cmd", append([]string{"/d", "/c", bin}, args...)
	default:
		return bin, args
	}
}
