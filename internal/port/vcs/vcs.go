// Package vcs defines the version control port (interface) consumed by the
// affected-files computation and the workspace sync.
package vcs

import (
	"context"

	"github.com/Strob0t/moon/internal/domain/touched"
	"github.com/Strob0t/moon/internal/port/cache"
	"github.com/Strob0t/moon/internal/vcspool"
)

// Vcs is the port interface for a version control system checkout.
type Vcs interface {
	// Name returns the unique identifier for this adapter (e.g. "git", "svn").
	Name() string

	// IsEnabled reports whether the workspace is a checkout of this VCS.
	IsEnabled() bool

	// IsShallowCheckout reports whether history is truncated.
	IsShallowCheckout(ctx context.Context) (bool, error)

	// DefaultBranch returns the configured default branch.
	DefaultBranch(ctx context.Context) (string, error)

	// LocalBranch returns the checked out branch.
	LocalBranch(ctx context.Context) (string, error)

	// LocalRevision returns the checked out revision.
	LocalRevision(ctx context.Context) (string, error)

	// TouchedFiles returns the working tree changes.
	TouchedFiles(ctx context.Context) (*touched.Files, error)

	// TouchedFilesAgainstPrevious returns the changes introduced by rev.
	TouchedFilesAgainstPrevious(ctx context.Context, rev string) (*touched.Files, error)

	// TouchedFilesBetween returns the changes between base and head.
	TouchedFilesBetween(ctx context.Context, base, head string) (*touched.Files, error)

	// FileHashes returns a stable content hash for each workspace-relative path.
	// Paths that do not exist are omitted.
	FileHashes(ctx context.Context, paths []string) (map[string]string, error)

	// IsIgnored reports whether a workspace-relative path is ignored.
	IsIgnored(ctx context.Context, path string) bool

	// HooksDir returns the absolute directory hook scripts are written to,
	// or "" when the VCS has no hooks.
	HooksDir(ctx context.Context) (string, error)
}

// Config is passed to adapter factories.
type Config struct {
	Root             string
	DefaultBranch    string
	RemoteCandidates []string
	Pool             *vcspool.Pool
	Memo             cache.HashMemo
}
