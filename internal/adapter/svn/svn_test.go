package svn

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/Strob0t/moon/internal/port/vcs"
)

// Compile-time interface check.
var _ vcs.Vcs = (*Svn)(nil)

// mockExecCommand replaces svn with printf so no working copy is needed.
func mockExecCommand(t *testing.T, output string) func(ctx context.Context, name string, args ...string) *exec.Cmd {
	t.Helper()
	if _, err := exec.LookPath("printf"); err != nil {
		t.Skip("printf not available")
	}
	return func(ctx context.Context, _ string, _ ...string) *exec.Cmd {
		return exec.CommandContext(ctx, "printf", "%s", output) //nolint:gosec // test only
	}
}

func TestName(t *testing.T) {
	s := New(vcs.Config{})
	if s.Name() != "svn" {
		t.Fatalf("expected 'svn', got %q", s.Name())
	}
	if b, _ := s.DefaultBranch(context.Background()); b != "trunk" {
		t.Fatalf("expected trunk default branch, got %q", b)
	}
}

func TestParseStatus(t *testing.T) {
	out := "M       apps/web/index.ts\n" +
		"A       libs/new.ts\n" +
		"D       libs/old.ts\n" +
		"?       scratch.txt\n" +
		" M      libs/props\n" +
		"!       libs/missing.ts\n"
	files := parseStatus(out)
	files.Normalize()

	if !reflect.DeepEqual(files.Modified, []string{"apps/web/index.ts", "libs/props"}) {
		t.Errorf("modified = %v", files.Modified)
	}
	if !reflect.DeepEqual(files.Added, []string{"libs/new.ts"}) {
		t.Errorf("added = %v", files.Added)
	}
	if !reflect.DeepEqual(files.Deleted, []string{"libs/missing.ts", "libs/old.ts"}) {
		t.Errorf("deleted = %v", files.Deleted)
	}
	if !reflect.DeepEqual(files.Untracked, []string{"scratch.txt"}) {
		t.Errorf("untracked = %v", files.Untracked)
	}
	if len(files.Unstaged) != 5 {
		t.Errorf("unstaged = %v", files.Unstaged)
	}
}

func TestParseSummary_URLPrefix(t *testing.T) {
	out := "M       https://svn.example.com/repo/branches/x/libs/a.ts\n" +
		"A       https://svn.example.com/repo/branches/x/libs/b.ts\n"
	files := parseSummary(out, "https://svn.example.com/repo/branches/x")
	files.Normalize()
	if !reflect.DeepEqual(files.All, []string{"libs/a.ts", "libs/b.ts"}) {
		t.Errorf("all = %v", files.All)
	}
}

func TestBranchFromURL(t *testing.T) {
	tests := map[string]string{
		"^/trunk":                "trunk",
		"^/trunk/apps":           "trunk",
		"^/branches/feature/sub": "feature",
		"^/tags/v1":              "v1",
	}
	for in, want := range tests {
		if got := branchFromURL(in); got != want {
			t.Errorf("branchFromURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTouchedFilesWithMock(t *testing.T) {
	s := New(vcs.Config{Root: t.TempDir()})
	s.execCommand = mockExecCommand(t, "M       a.ts\n?       b.ts\n")

	files, err := s.TouchedFiles(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(files.All, []string{"a.ts", "b.ts"}) {
		t.Errorf("all = %v", files.All)
	}
}

func TestLocalBranchWithMock(t *testing.T) {
	s := New(vcs.Config{Root: t.TempDir()})
	s.execCommand = mockExecCommand(t, "^/branches/release\n")

	branch, err := s.LocalBranch(context.Background())
	if err != nil || branch != "release" {
		t.Fatalf("branch = %q, %v", branch, err)
	}
}

func TestFileHashes(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := New(vcs.Config{Root: root})

	first, err := s.FileHashes(context.Background(), []string{"a.txt", "missing.txt"})
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 1 || first["a.txt"] == "" {
		t.Fatalf("hashes = %v", first)
	}

	second, _ := s.FileHashes(context.Background(), []string{"a.txt"})
	if second["a.txt"] != first["a.txt"] {
		t.Fatal("hash must be stable")
	}
}
