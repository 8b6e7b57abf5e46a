// Package gitlocal implements the vcs.Vcs interface using local git CLI commands.
package gitlocal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Strob0t/moon/internal/domain/touched"
	"github.com/Strob0t/moon/internal/port/cache"
	"github.com/Strob0t/moon/internal/port/vcs"
	"github.com/Strob0t/moon/internal/vcspool"
)

const managerName = "git"

// emptyTree is the object id of git's empty tree, used as the parent of a
// root commit.
const emptyTree = "4b825dc642cb6eb9a060e54bf8d69288fbee4904"

// hashBatchSize bounds the paths passed to a single hash-object process.
const hashBatchSize = 2500


// Git inspects a git checkout via the git CLI.
type Git struct {
	root             string
	defaultBranch    string
	remoteCandidates []string
	pool             *vcspool.Pool
	memo             cache.HashMemo
	execCommand      func(ctx context.Context, name string, args ...string) *exec.Cmd

	once   sync.Once
	prefix string // workspace root relative to the repository root, "" when equal
	topErr error
}

// New creates a Git adapter for the workspace at cfg.Root.
func New(cfg vcs.Config) *Git {
	memo := cfg.Memo
	if memo == nil {
		memo = cache.Nop{}
	}
	branch := cfg.DefaultBranch
	if branch == "" {
		branch = "master"
	}
	return &Git{
		root:             cfg.Root,
		defaultBranch:    branch,
		remoteCandidates: cfg.RemoteCandidates,
		pool:             cfg.Pool,
		memo:             memo,
		execCommand:      exec.CommandContext,
	}
}

// Name returns "git".
func (g *Git) Name() string { return managerName }

// IsEnabled reports whether the workspace root is inside a git work tree.
func (g *Git) IsEnabled() bool {
	dir := g.root
	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return false
		}
		dir = parent
	}
}

// IsShallowCheckout reports whether the repository has truncated history.
func (g *Git) IsShallowCheckout(ctx context.Context) (bool, error) {
	out, err := g.run(ctx, nil, "rev-parse", "--is-shallow-repository")
	if err != nil {
		return false, fmt.Errorf("gitlocal: shallow check: %w", err)
	}
	return strings.TrimSpace(out) == "true", nil
}

// DefaultBranch returns the configured default branch.
func (g *Git) DefaultBranch(_ context.Context) (string, error) {
	return g.defaultBranch, nil
}

// LocalBranch returns the checked out branch, or "" when detached.
func (g *Git) LocalBranch(ctx context.Context) (string, error) {
	out, err := g.run(ctx, nil, "branch", "--show-current")
	if err != nil {
		return "", fmt.Errorf("gitlocal: get branch: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// LocalRevision returns the commit id of HEAD.
func (g *Git) LocalRevision(ctx context.Context) (string, error) {
	out, err := g.run(ctx, nil, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("gitlocal: get revision: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// TouchedFiles returns staged, unstaged and untracked changes of the work tree.
func (g *Git) TouchedFiles(ctx context.Context) (*touched.Files, error) {
	out, err := g.run(ctx, nil, "status", "--porcelain", "--untracked-files=all", "-z")
	if err != nil {
		return nil, fmt.Errorf("gitlocal: status: %w", err)
	}
	if err := g.resolvePrefix(ctx); err != nil {
		return nil, err
	}
	files := parseStatus(out, g.prefix)
	files.Normalize()
	return files, nil
}

// TouchedFilesAgainstPrevious returns the files changed by rev.
func (g *Git) TouchedFilesAgainstPrevious(ctx context.Context, rev string) (*touched.Files, error) {
	if rev == "" {
		rev = "HEAD"
	}
	parent := rev + "~1"
	if _, err := g.run(ctx, nil, "rev-parse", "--verify", "--quiet", parent); err != nil {
		parent = emptyTree
	}
	return g.diff(ctx, parent, rev)
}

// TouchedFilesBetween returns the files changed between the merge base of
// base and head, and head. base resolves against the remote candidates
// when a remote tracking branch exists.
func (g *Git) TouchedFilesBetween(ctx context.Context, base, head string) (*touched.Files, error) {
	if base == "" {
		base = g.defaultBranch
	}
	if head == "" {
		head = "HEAD"
	}
	base = g.resolveRef(ctx, base)

	from := base
	if out, err := g.run(ctx, nil, "merge-base", base, head); err == nil {
		if mb := strings.TrimSpace(out); mb != "" {
			from = mb
		}
	}
	return g.diff(ctx, from, head)
}

func (g *Git) diff(ctx context.Context, from, to string) (*touched.Files, error) {
	out, err := g.run(ctx, nil, "--no-pager", "diff", "--name-status", "--no-color", "--relative", "-z", from, to)
	if err != nil {
		return nil, fmt.Errorf("gitlocal: diff %s..%s: %w", from, to, err)
	}
	files := parseNameStatus(out)
	files.Normalize()
	return files, nil
}

// resolveRef prefers <remote>/<ref> when that remote tracking branch exists.
func (g *Git) resolveRef(ctx context.Context, ref string) string {
	for _, remote := range g.remoteCandidates {
		candidate := remote + "/" + ref
		if _, err := g.run(ctx, nil, "show-ref", "--verify", "--quiet", "refs/remotes/"+candidate); err == nil {
			return candidate
		}
	}
	return ref
}

// FileHashes returns git blob ids for the given workspace-relative paths.
// Missing paths and directories are omitted.
func (g *Git) FileHashes(ctx context.Context, paths []string) (map[string]string, error) {
	hashes := make(map[string]string, len(paths))
	keys := make(map[string]string, len(paths))
	var pending []string

	for _, p := range paths {
		info, err := os.Stat(filepath.Join(g.root, filepath.FromSlash(p)))
		if err != nil || info.IsDir() {
			continue
		}
		key := cache.StatKey(p, info.Size(), info.ModTime())
		if h, ok := g.memo.Lookup(key); ok {
			hashes[p] = h
			continue
		}
		keys[p] = key
		pending = append(pending, p)
	}

	for start := 0; start < len(pending); start += hashBatchSize {
		end := min(start+hashBatchSize, len(pending))
		batch := pending[start:end]

		stdin := strings.NewReader(strings.Join(batch, "\n") + "\n")
		out, err := g.run(ctx, stdin, "hash-object", "--stdin-paths")
		if err != nil {
			return nil, fmt.Errorf("gitlocal: hash-object: %w", err)
		}
		lines := strings.Split(strings.TrimSpace(out), "\n")
		if len(lines) != len(batch) {
			return nil, fmt.Errorf("gitlocal: hash-object returned %d hashes for %d paths", len(lines), len(batch))
		}
		for i, p := range batch {
			h := strings.TrimSpace(lines[i])
			hashes[p] = h
			g.memo.Remember(keys[p], h)
		}
	}
	return hashes, nil
}

// IsIgnored reports whether git ignores the workspace-relative path.
func (g *Git) IsIgnored(ctx context.Context, p string) bool {
	_, err := g.run(ctx, nil, "check-ignore", "--quiet", p)
	return err == nil
}

// HooksDir returns the absolute hooks directory of the repository.
func (g *Git) HooksDir(ctx context.Context) (string, error) {
	out, err := g.run(ctx, nil, "rev-parse", "--git-path", "hooks")
	if err != nil {
		return "", fmt.Errorf("gitlocal: hooks dir: %w", err)
	}
	dir := strings.TrimSpace(out)
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(g.root, dir)
	}
	return dir, nil
}

// resolvePrefix computes where the workspace sits inside the repository so
// that repository-relative status paths can be made workspace-relative.
func (g *Git) resolvePrefix(ctx context.Context) error {
	g.once.Do(func() {
		out, err := g.run(ctx, nil, "rev-parse", "--show-prefix")
		if err != nil {
			g.topErr = fmt.Errorf("gitlocal: resolve prefix: %w", err)
			return
		}
		g.prefix = strings.TrimSuffix(strings.TrimSpace(out), "/")
	})
	return g.topErr
}

// run executes a git command inside the pool and returns its stdout.
func (g *Git) run(ctx context.Context, stdin io.Reader, args ...string) (string, error) {
	return vcspool.Do(ctx, g.pool, func() (string, error) {
		cmd := g.execCommand(ctx, "git", args...)
		cmd.Dir = g.root
		cmd.Stdin = stdin

		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) && stderr.Len() == 0 {
				return "", err
			}
			return "", fmt.Errorf("%s: %w", strings.TrimSpace(stderr.String()), err)
		}
		return stdout.String(), nil
	})
}

// parseStatus parses `git status --porcelain -z` output. Paths are relative
// to the repository root; entries outside prefix are dropped.
func parseStatus(out, prefix string) *touched.Files {
	files := &touched.Files{}
	entries := strings.Split(out, "\x00")

	for i := 0; i < len(entries); i++ {
		entry := entries[i]
		if len(entry) < 4 {
			continue
		}
		x, y := entry[0], entry[1]
		file, ok := workspaceRelative(entry[3:], prefix)

		// Renames and copies carry the original path as the next entry.
		if x == 'R' || x == 'C' {
			if x == 'R' && i+1 < len(entries) {
				if old, inside := workspaceRelative(entries[i+1], prefix); inside {
					files.Deleted = append(files.Deleted, old)
				}
			}
			i++
		}
		if !ok {
			continue
		}

		switch {
		case x == '?' && y == '?':
			files.Untracked = append(files.Untracked, file)
			continue
		case x == 'A' || y == 'A' || x == 'C' || x == 'R':
			files.Added = append(files.Added, file)
		case x == 'D' || y == 'D':
			files.Deleted = append(files.Deleted, file)
		case x == 'M' || y == 'M' || x == 'T' || y == 'T' || x == 'U' || y == 'U':
			files.Modified = append(files.Modified, file)
		}

		if x != ' ' && x != '?' {
			files.Staged = append(files.Staged, file)
		}
		if y != ' ' && y != '?' {
			files.Unstaged = append(files.Unstaged, file)
		}
	}
	return files
}

// parseNameStatus parses `git diff --name-status -z` output.
func parseNameStatus(out string) *touched.Files {
	files := &touched.Files{}
	fields := strings.Split(out, "\x00")

	for i := 0; i < len(fields); i++ {
		status := fields[i]
		if status == "" {
			continue
		}
		if i+1 >= len(fields) {
			break
		}
		switch status[0] {
		case 'R', 'C':
			if i+2 >= len(fields) {
				return files
			}
			old, next := fields[i+1], fields[i+2]
			i += 2
			if status[0] == 'R' {
				files.Deleted = append(files.Deleted, old)
			}
			files.Added = append(files.Added, next)
		case 'A':
			i++
			files.Added = append(files.Added, fields[i])
		case 'D':
			i++
			files.Deleted = append(files.Deleted, fields[i])
		default:
			i++
			files.Modified = append(files.Modified, fields[i])
		}
	}
	return files
}

func workspaceRelative(p, prefix string) (string, bool) {
	p = path.Clean(p)
	if prefix == "" {
		return p, true
	}
	if !strings.HasPrefix(p, prefix+"/") {
		return "", false
	}
	return strings.TrimPrefix(p, prefix+"/"), true
}
