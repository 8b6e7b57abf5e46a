package service

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Strob0t/moon/internal/cache"
	"github.com/Strob0t/moon/internal/config"
	"github.com/Strob0t/moon/internal/domain/event"
	"github.com/Strob0t/moon/internal/domain/projectgraph"
	"github.com/Strob0t/moon/internal/domain/touched"
)

// fakeVcs is an in-memory Vcs. A zero value reports a disabled VCS.
type fakeVcs struct {
	enabled       bool
	shallow       bool
	branch        string
	defaultBranch string
	revision      string
	files         touched.Files
	hooksDir      string

	mu    sync.Mutex
	calls []string
	base  string
	head  string
}

func (f *fakeVcs) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeVcs) Name() string    { return "fake" }
func (f *fakeVcs) IsEnabled() bool { return f.enabled }

func (f *fakeVcs) IsShallowCheckout(context.Context) (bool, error) { return f.shallow, nil }
func (f *fakeVcs) DefaultBranch(context.Context) (string, error)   { return f.defaultBranch, nil }
func (f *fakeVcs) LocalBranch(context.Context) (string, error)     { return f.branch, nil }
func (f *fakeVcs) LocalRevision(context.Context) (string, error)   { return f.revision, nil }

func (f *fakeVcs) TouchedFiles(context.Context) (*touched.Files, error) {
	f.record("working-tree")
	files := f.files
	return &files, nil
}

func (f *fakeVcs) TouchedFilesAgainstPrevious(_ context.Context, rev string) (*touched.Files, error) {
	f.record("previous")
	f.head = rev
	files := f.files
	return &files, nil
}

func (f *fakeVcs) TouchedFilesBetween(_ context.Context, base, head string) (*touched.Files, error) {
	f.record("between")
	f.base, f.head = base, head
	files := f.files
	return &files, nil
}

func (f *fakeVcs) FileHashes(_ context.Context, paths []string) (map[string]string, error) {
	out := make(map[string]string, len(paths))
	for _, p := range paths {
		out[p] = "hash-" + p
	}
	return out, nil
}

func (f *fakeVcs) IsIgnored(context.Context, string) bool { return false }

func (f *fakeVcs) HooksDir(context.Context) (string, error) { return f.hooksDir, nil }

// writeFiles creates files under root; keys are slash separated paths.
func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

// newTestWorkspace writes files into a temp dir and loads it as a workspace
// backed by v. A workspace.yml is added when files has none.
func newTestWorkspace(t *testing.T, files map[string]string, v *fakeVcs) *Workspace {
	t.Helper()
	cache.ResetMode()
	root := t.TempDir()
	if _, ok := files[config.WorkspaceFile]; !ok {
		files[config.WorkspaceFile] = "projects:\n  - 'apps/*'\n  - 'libs/*'\n"
	}
	writeFiles(t, root, files)
	return loadTestWorkspace(t, root, v)
}

// loadTestWorkspace loads an existing workspace directory backed by v.
func loadTestWorkspace(t *testing.T, root string, v *fakeVcs) *Workspace {
	t.Helper()
	cfg, err := config.LoadWorkspace(root)
	if err != nil {
		t.Fatalf("LoadWorkspace: %v", err)
	}
	tc, err := config.LoadToolchain(root)
	if err != nil {
		t.Fatalf("LoadToolchain: %v", err)
	}
	inherited, err := config.LoadInheritedTasks(root)
	if err != nil {
		t.Fatalf("LoadInheritedTasks: %v", err)
	}
	engine, err := cache.New(root, cache.CompressionGzip)
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	platforms, err := NewPlatformRegistry(root, tc)
	if err != nil {
		t.Fatalf("NewPlatformRegistry: %v", err)
	}
	if v == nil {
		v = &fakeVcs{}
	}
	return &Workspace{
		Root:           root,
		Config:         cfg,
		Toolchain:      tc,
		InheritedTasks: inherited,
		Cache:          engine,
		Vcs:            v,
		Platforms:      platforms,
	}
}

func buildGraph(t *testing.T, ws *Workspace) *projectgraph.Graph {
	t.Helper()
	g, err := NewProjectGraphBuilder(ws).Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return g
}

// recorder is a subscriber that keeps every event type it sees.
type recorder struct {
	mu     sync.Mutex
	events []event.Event
	answer *event.Flow
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) OnEmit(_ context.Context, ev *event.Event) (event.Flow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *ev)
	if ev.Type == event.TypeTargetOutputCacheCheck && r.answer != nil {
		return *r.answer, nil
	}
	return event.Continue(), nil
}

func (r *recorder) count(typ event.Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}
