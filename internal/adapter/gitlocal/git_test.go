package gitlocal

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/Strob0t/moon/internal/port/vcs"
)

// Compile-time interface check.
var _ vcs.Vcs = (*Git)(nil)

func TestParseStatus(t *testing.T) {
	out := strings.Join([]string{
		"M  apps/web/src/index.ts",
		" M packages/lib/a.ts",
		"A  packages/lib/new.ts",
		" D packages/lib/gone.ts",
		"R  packages/lib/renamed.ts",
		"packages/lib/original.ts",
		"?? notes.txt",
		"",
	}, "\x00")

	files := parseStatus(out, "")
	files.Normalize()

	if !reflect.DeepEqual(files.Modified, []string{"apps/web/src/index.ts", "packages/lib/a.ts"}) {
		t.Errorf("modified = %v", files.Modified)
	}
	if !reflect.DeepEqual(files.Added, []string{"packages/lib/new.ts", "packages/lib/renamed.ts"}) {
		t.Errorf("added = %v", files.Added)
	}
	if !reflect.DeepEqual(files.Deleted, []string{"packages/lib/gone.ts", "packages/lib/original.ts"}) {
		t.Errorf("deleted = %v", files.Deleted)
	}
	if !reflect.DeepEqual(files.Untracked, []string{"notes.txt"}) {
		t.Errorf("untracked = %v", files.Untracked)
	}
	if !reflect.DeepEqual(files.Staged, []string{"apps/web/src/index.ts", "packages/lib/new.ts", "packages/lib/renamed.ts"}) {
		t.Errorf("staged = %v", files.Staged)
	}
	if !reflect.DeepEqual(files.Unstaged, []string{"packages/lib/a.ts", "packages/lib/gone.ts"}) {
		t.Errorf("unstaged = %v", files.Unstaged)
	}
	if len(files.All) != 7 {
		t.Errorf("all = %v", files.All)
	}
}

func TestParseStatus_Prefix(t *testing.T) {
	out := "M  monorepo/apps/a.ts\x00M  other/b.ts\x00"
	files := parseStatus(out, "monorepo")
	files.Normalize()
	if !reflect.DeepEqual(files.All, []string{"apps/a.ts"}) {
		t.Errorf("all = %v", files.All)
	}
}

func TestParseNameStatus(t *testing.T) {
	out := strings.Join([]string{"M", "a.ts", "A", "b.ts", "D", "c.ts", "R087", "old.ts", "new.ts", "T", "d.ts", ""}, "\x00")
	files := parseNameStatus(out)
	files.Normalize()

	if !reflect.DeepEqual(files.Modified, []string{"a.ts", "d.ts"}) {
		t.Errorf("modified = %v", files.Modified)
	}
	if !reflect.DeepEqual(files.Added, []string{"b.ts", "new.ts"}) {
		t.Errorf("added = %v", files.Added)
	}
	if !reflect.DeepEqual(files.Deleted, []string{"c.ts", "old.ts"}) {
		t.Errorf("deleted = %v", files.Deleted)
	}
}

// mockExecCommand replaces git with echo so no repository is needed.
func mockExecCommand(output string) func(ctx context.Context, name string, args ...string) *exec.Cmd {
	return func(ctx context.Context, _ string, _ ...string) *exec.Cmd {
		return exec.CommandContext(ctx, "echo", output) //nolint:gosec // test only
	}
}

func TestShallowWithMock(t *testing.T) {
	if _, err := exec.LookPath("echo"); err != nil {
		t.Skip("echo not available")
	}
	g := New(vcs.Config{Root: t.TempDir()})
	g.execCommand = mockExecCommand("true")

	shallow, err := g.IsShallowCheckout(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !shallow {
		t.Fatal("expected shallow checkout")
	}
}

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available in test environment")
	}
}

func git(t *testing.T, dir string, args ...string) string {
	t.Helper()
	full := append([]string{"-c", "user.name=moon", "-c", "user.email=moon@example.com", "-c", "commit.gpgsign=false"}, args...)
	cmd := exec.Command("git", full...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
	return strings.TrimSpace(string(out))
}

func write(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func initTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	git(t, dir, "init", "-q", "-b", "main")
	write(t, dir, "packages/a/index.ts", "export const a = 1\n")
	write(t, dir, "packages/b/index.ts", "export const b = 1\n")
	git(t, dir, "add", ".")
	git(t, dir, "commit", "-q", "-m", "initial commit")
	return dir
}

func TestGit_WorkingTree(t *testing.T) {
	requireGit(t)
	dir := initTestRepo(t)
	ctx := context.Background()
	g := New(vcs.Config{Root: dir, DefaultBranch: "main"})

	if !g.IsEnabled() {
		t.Fatal("expected git to be enabled")
	}
	if shallow, err := g.IsShallowCheckout(ctx); err != nil || shallow {
		t.Fatalf("shallow = %v, %v", shallow, err)
	}
	if branch, err := g.LocalBranch(ctx); err != nil || branch != "main" {
		t.Fatalf("branch = %q, %v", branch, err)
	}

	write(t, dir, "packages/a/index.ts", "export const a = 2\n")
	write(t, dir, "packages/c/new.ts", "new\n")

	files, err := g.TouchedFiles(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(files.Modified, []string{"packages/a/index.ts"}) {
		t.Errorf("modified = %v", files.Modified)
	}
	if !reflect.DeepEqual(files.Untracked, []string{"packages/c/new.ts"}) {
		t.Errorf("untracked = %v", files.Untracked)
	}
}

func TestGit_Revisions(t *testing.T) {
	requireGit(t)
	dir := initTestRepo(t)
	ctx := context.Background()
	g := New(vcs.Config{Root: dir, DefaultBranch: "main"})

	first, err := g.TouchedFilesAgainstPrevious(ctx, "HEAD")
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Added) != 2 {
		t.Errorf("root commit should add both files, got %v", first.Added)
	}

	git(t, dir, "checkout", "-q", "-b", "feature")
	write(t, dir, "packages/b/index.ts", "export const b = 2\n")
	git(t, dir, "commit", "-q", "-am", "change b")

	between, err := g.TouchedFilesBetween(ctx, "main", "HEAD")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(between.All, []string{"packages/b/index.ts"}) {
		t.Errorf("between = %v", between.All)
	}
}

func TestGit_FileHashes(t *testing.T) {
	requireGit(t)
	dir := initTestRepo(t)
	ctx := context.Background()
	memo := &mapMemo{m: map[string]string{}}
	g := New(vcs.Config{Root: dir, Memo: memo})

	hashes, err := g.FileHashes(ctx, []string{"packages/a/index.ts", "missing.ts", "packages"})
	if err != nil {
		t.Fatal(err)
	}
	want := git(t, dir, "hash-object", "packages/a/index.ts")
	if len(hashes) != 1 || hashes["packages/a/index.ts"] != want {
		t.Fatalf("hashes = %v, want %s", hashes, want)
	}
	if len(memo.m) != 1 {
		t.Fatalf("expected the hash to be memoized, memo = %v", memo.m)
	}

	g.execCommand = func(context.Context, string, ...string) *exec.Cmd {
		t.Fatal("memoized hashes must not spawn git")
		return nil
	}
	again, err := g.FileHashes(ctx, []string{"packages/a/index.ts"})
	if err != nil || again["packages/a/index.ts"] != want {
		t.Fatalf("memoized = %v, %v", again, err)
	}
}

func TestGit_IsIgnored(t *testing.T) {
	requireGit(t)
	dir := initTestRepo(t)
	write(t, dir, ".gitignore", "dist/\n")
	g := New(vcs.Config{Root: dir})

	if !g.IsIgnored(context.Background(), "dist/out.js") {
		t.Error("dist/out.js should be ignored")
	}
	if g.IsIgnored(context.Background(), "packages/a/index.ts") {
		t.Error("tracked file must not be ignored")
	}
}

type mapMemo struct {
	m map[string]string
}

func (c *mapMemo) Lookup(key string) (string, bool) {
	v, ok := c.m[key]
	return v, ok
}

func (c *mapMemo) Remember(key, hash string) { c.m[key] = hash }

func (c *mapMemo) Delete(_ context.Context, key string) error {
	delete(c.m, key)
	return nil
}
