// Package svn implements the vcs.Vcs interface for Subversion working copies using the svn CLI.
package svn

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/Strob0t/moon/internal/domain/touched"
	"github.com/Strob0t/moon/internal/port/cache"
	"github.com/Strob0t/moon/internal/port/vcs"
	"github.com/Strob0t/moon/internal/vcspool"
)

const managerName = "svn"

// Svn inspects a Subversion working copy via the svn CLI.
type Svn struct {
	root          string
	defaultBranch string
	pool          *vcspool.Pool
	memo          cache.HashMemo
	execCommand   func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// New creates an Svn adapter for the working copy at cfg.Root.
func New(cfg vcs.Config) *Svn {
	memo := cfg.Memo
	if memo == nil {
		memo = cache.Nop{}
	}
	branch := cfg.DefaultBranch
	if branch == "" || branch == "master" {
		branch = "trunk"
	}
	return &Svn{
		root:          cfg.Root,
		defaultBranch: branch,
		pool:          cfg.Pool,
		memo:          memo,
		execCommand:   exec.CommandContext,
	}
}

// Name returns "svn".
func (s *Svn) Name() string { return managerName }

// IsEnabled reports whether the workspace root is inside a working copy.
func (s *Svn) IsEnabled() bool {
	dir := s.root
	for {
		if _, err := os.Stat(filepath.Join(dir, ".svn")); err == nil {
			return true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return false
		}
		dir = parent
	}
}

// IsShallowCheckout is always false; working copies carry no history.
func (s *Svn) IsShallowCheckout(_ context.Context) (bool, error) { return false, nil }

// DefaultBranch returns the configured default branch ("trunk" by default).
func (s *Svn) DefaultBranch(_ context.Context) (string, error) { return s.defaultBranch, nil }

// LocalBranch derives the branch from the working copy's relative URL.
func (s *Svn) LocalBranch(ctx context.Context) (string, error) {
	out, err := s.runSVN(ctx, "info", "--show-item", "relative-url")
	if err != nil {
		return "", fmt.Errorf("svn: info: %w", err)
	}
	return branchFromURL(strings.TrimSpace(out)), nil
}

// LocalRevision returns the working copy revision.
func (s *Svn) LocalRevision(ctx context.Context) (string, error) {
	out, err := s.runSVN(ctx, "info", "--show-item", "revision")
	if err != nil {
		return "", fmt.Errorf("svn: info: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// TouchedFiles returns local modifications of the working copy.
func (s *Svn) TouchedFiles(ctx context.Context) (*touched.Files, error) {
	out, err := s.runSVN(ctx, "status", "--non-interactive")
	if err != nil {
		return nil, fmt.Errorf("svn: status: %w", err)
	}
	files := parseStatus(out)
	files.Normalize()
	return files, nil
}

// TouchedFilesAgainstPrevious returns the files changed in revision rev.
// An empty rev uses the working copy revision.
func (s *Svn) TouchedFilesAgainstPrevious(ctx context.Context, rev string) (*touched.Files, error) {
	if rev == "" || rev == "HEAD" {
		r, err := s.LocalRevision(ctx)
		if err != nil {
			return nil, err
		}
		rev = r
	}
	if _, err := strconv.Atoi(rev); err != nil {
		return nil, fmt.Errorf("svn: revision %q is not numeric", rev)
	}
	out, err := s.runSVN(ctx, "diff", "--summarize", "--non-interactive", "-c", rev)
	if err != nil {
		return nil, fmt.Errorf("svn: diff -c %s: %w", rev, err)
	}
	files := parseSummary(out, "")
	files.Normalize()
	return files, nil
}

// TouchedFilesBetween returns the files that differ between two branches or
// revisions. An empty head compares against the working copy.
func (s *Svn) TouchedFilesBetween(ctx context.Context, base, head string) (*touched.Files, error) {
	if base == "" {
		base = s.defaultBranch
	}
	_, baseNumErr := strconv.Atoi(base)
	_, headNumErr := strconv.Atoi(head)

	var args []string
	var urlPrefix string
	switch {
	case baseNumErr == nil && headNumErr == nil:
		args = []string{"diff", "--summarize", "--non-interactive", "-r", base + ":" + head}
	default:
		newURL := "."
		if head != "" && head != "HEAD" {
			newURL = branchURL(head)
		}
		args = []string{"diff", "--summarize", "--non-interactive", "--old=" + branchURL(base), "--new=" + newURL}
		urlPrefix = newURL
	}

	out, err := s.runSVN(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("svn: diff %s..%s: %w", base, head, err)
	}
	if strings.HasPrefix(urlPrefix, "^/") {
		// Summaries of URL diffs print absolute URLs.
		root, err := s.runSVN(ctx, "info", "--show-item", "repos-root-url")
		if err != nil {
			return nil, fmt.Errorf("svn: repos root: %w", err)
		}
		urlPrefix = strings.TrimSpace(root) + "/" + strings.TrimPrefix(urlPrefix, "^/")
	} else {
		urlPrefix = ""
	}
	files := parseSummary(out, urlPrefix)
	files.Normalize()
	return files, nil
}

// FileHashes returns xxhash digests of file contents; svn exposes no
// content hash for working copy files.
func (s *Svn) FileHashes(ctx context.Context, paths []string) (map[string]string, error) {
	hashes := make(map[string]string, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		abs := filepath.Join(s.root, filepath.FromSlash(p))
		info, err := os.Stat(abs)
		if err != nil || info.IsDir() {
			continue
		}
		key := cache.StatKey(p, info.Size(), info.ModTime())
		if h, ok := s.memo.Lookup(key); ok {
			hashes[p] = h
			continue
		}
		data, err := os.ReadFile(abs)
		if err != nil {
			return nil, fmt.Errorf("svn: hash %s: %w", p, err)
		}
		h := strconv.FormatUint(xxhash.Sum64(data), 16)
		hashes[p] = h
		s.memo.Remember(key, h)
	}
	return hashes, nil
}

// IsIgnored reports whether svn:ignore rules cover the path.
func (s *Svn) IsIgnored(ctx context.Context, p string) bool {
	out, err := s.runSVN(ctx, "status", "--no-ignore", "--non-interactive", p)
	if err != nil {
		return false
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "I") {
			return true
		}
	}
	return false
}

// HooksDir returns "": svn hooks live on the server.
func (s *Svn) HooksDir(_ context.Context) (string, error) { return "", nil }

// runSVN executes an svn command in the workspace root and returns stdout.
func (s *Svn) runSVN(ctx context.Context, args ...string) (string, error) {
	return vcspool.Do(ctx, s.pool, func() (string, error) {
		cmd := s.execCommand(ctx, "svn", args...)
		cmd.Dir = s.root

		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			return "", fmt.Errorf("%s: %w", strings.TrimSpace(stderr.String()), err)
		}
		return stdout.String(), nil
	})
}

// parseStatus parses `svn status` output. The first column is the item
// state; the path starts at column 8.
func parseStatus(out string) *touched.Files {
	files := &touched.Files{}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if len(line) < 9 {
			continue
		}
		file := path.Clean(filepath.ToSlash(strings.TrimSpace(line[8:])))
		switch line[0] {
		case 'A':
			files.Added = append(files.Added, file)
		case 'D', '!':
			files.Deleted = append(files.Deleted, file)
		case 'M', 'R', 'C', '~':
			files.Modified = append(files.Modified, file)
		case '?':
			files.Untracked = append(files.Untracked, file)
			continue
		default:
			if line[1] == 'M' {
				files.Modified = append(files.Modified, file)
			} else {
				continue
			}
		}
		files.Unstaged = append(files.Unstaged, file)
	}
	return files
}

// parseSummary parses `svn diff --summarize` output, stripping urlPrefix
// from absolute URLs.
func parseSummary(out, urlPrefix string) *touched.Files {
	files := &touched.Files{}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if len(line) < 9 {
			continue
		}
		file := strings.TrimSpace(line[8:])
		if urlPrefix != "" {
			file = strings.TrimPrefix(strings.TrimPrefix(file, urlPrefix), "/")
		}
		file = path.Clean(filepath.ToSlash(file))
		switch line[0] {
		case 'A':
			files.Added = append(files.Added, file)
		case 'D':
			files.Deleted = append(files.Deleted, file)
		case 'M':
			files.Modified = append(files.Modified, file)
		case ' ':
			if line[1] == 'M' {
				files.Modified = append(files.Modified, file)
			}
		}
	}
	return files
}

func branchFromURL(rel string) string {
	rel = strings.TrimPrefix(rel, "^/")
	if rest, ok := strings.CutPrefix(rel, "branches/"); ok {
		name, _, _ := strings.Cut(rest, "/")
		return name
	}
	if rest, ok := strings.CutPrefix(rel, "tags/"); ok {
		name, _, _ := strings.Cut(rest, "/")
		return name
	}
	return "trunk"
}

func branchURL(branch string) string {
	if branch == "trunk" || strings.HasPrefix(branch, "branches/") || strings.HasPrefix(branch, "tags/") {
		return "^/" + branch
	}
	return "^/branches/" + branch
}
