// Package platform defines the toolchain platform port: how tasks of a
// language ecosystem get a runtime, dependencies and process commands.
package platform

import (
	"context"
	"fmt"

	"github.com/Strob0t/moon/internal/config"
	"github.com/Strob0t/moon/internal/domain/project"
	"github.com/Strob0t/moon/internal/domain/task"
	"github.com/Strob0t/moon/internal/domain/toolchain"
	"github.com/Strob0t/moon/internal/hasher"
	"github.com/Strob0t/moon/internal/process"
)

// Platform is the port interface for a language toolchain.
type Platform interface {
	// Type returns the platform this implementation serves.
	Type() toolchain.Platform

	// Matches reports whether the implementation handles the platform, or
	// the runtime when rt is non-nil.
	Matches(p toolchain.Platform, rt *toolchain.Runtime) bool

	// RuntimeFromConfig returns the runtime for a project; version is the
	// project's override and may be empty.
	RuntimeFromConfig(version string) toolchain.Runtime

	// IsToolchainEnabled reports whether the toolchain is configured.
	IsToolchainEnabled() bool

	SetupToolchain(ctx context.Context) error
	TeardownToolchain(ctx context.Context) error

	// SetupTool makes the runtime available and returns how many tools were
	// newly installed. lastVersions maps runtime keys to the last installed version.
	SetupTool(ctx context.Context, rt toolchain.Runtime, lastVersions map[string]string) (int, error)

	// ManifestFile is the project manifest name, or "" when the platform has none.
	ManifestFile() string

	// Lockfiles lists dependency lockfile names, most preferred first.
	Lockfiles() []string

	// RequiresProjectInstall reports whether a project installs its own dependencies.
	RequiresProjectInstall(p *project.Project) bool

	// InstallDeps installs dependencies in workingDir.
	InstallDeps(ctx context.Context, rt toolchain.Runtime, workingDir string) error

	// SyncProject reconciles a project's manifest with its dependencies and
	// reports whether anything changed.
	SyncProject(ctx context.Context, p *project.Project, deps map[string]*project.Project) (bool, error)

	// HashManifestDeps adds the dependencies of a manifest to h.
	HashManifestDeps(ctx context.Context, manifestPath string, h *hasher.Hasher, cfg config.Hasher) error

	// HashRunTarget adds platform contributions for running a task of p.
	HashRunTarget(ctx context.Context, p *project.Project, rt toolchain.Runtime, h *hasher.Hasher, cfg config.Hasher) error

	// CreateRunTargetCommand builds the process for task t.
	CreateRunTargetCommand(ctx context.Context, p *project.Project, t *task.Task, rt toolchain.Runtime, workingDir string) (*process.Command, error)

	// LoadProjectGraphAliases returns alias -> project id for the given id -> source map.
	LoadProjectGraphAliases(ctx context.Context, sources map[string]string) (map[string]string, error)

	// LoadProjectImplicitDependencies infers dependencies from manifests.
	LoadProjectImplicitDependencies(ctx context.Context, p *project.Project, aliases map[string]string) ([]project.Dependency, error)

	// LoadProjectTasks infers tasks from manifests.
	LoadProjectTasks(ctx context.Context, p *project.Project) (map[string]config.Task, error)
}

// Error is a failure reported by a platform operation.
type Error struct {
	Platform toolchain.Platform
	Op       string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s platform: %s: %v", e.Platform, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap returns err as an *Error, or nil when err is nil.
func Wrap(p toolchain.Platform, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Platform: p, Op: op, Err: err}
}
