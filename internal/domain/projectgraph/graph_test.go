package projectgraph_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/Strob0t/moon/internal/domain"
	"github.com/Strob0t/moon/internal/domain/project"
	"github.com/Strob0t/moon/internal/domain/projectgraph"
	"github.com/Strob0t/moon/internal/domain/target"
	"github.com/Strob0t/moon/internal/domain/task"
)

func proj(id, source string, deps ...string) *project.Project {
	p := &project.Project{
		ID:           id,
		Source:       source,
		Dependencies: map[string]project.Dependency{},
		Tasks:        map[string]*task.Task{},
	}
	for _, d := range deps {
		p.Dependencies[d] = project.Dependency{ID: d, Scope: project.ScopeProduction, Source: project.SourceExplicit}
	}
	return p
}

func TestNew_Queries(t *testing.T) {
	a := proj("a", "apps/a", "b")
	b := proj("b", "packages/b", "c")
	c := proj("c", "packages/c")
	c.Tasks["build"] = &task.Task{ID: "build", Target: target.MustParse("c:build")}

	g, err := projectgraph.New([]*project.Project{a, b, c}, map[string]string{"@scope/c": "c"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if got := g.DependenciesOf("a"); len(got) != 1 || got[0] != "b" {
		t.Errorf("DependenciesOf(a) = %v", got)
	}
	if got := g.DependentsOf("c"); len(got) != 1 || got[0] != "b" {
		t.Errorf("DependentsOf(c) = %v", got)
	}

	p, err := g.Get("@scope/c")
	if err != nil || p.ID != "c" {
		t.Fatalf("Get(alias) = %v, %v", p, err)
	}
	if _, err := g.Get("missing"); !errors.Is(err, domain.ErrUnknownProject) {
		t.Errorf("expected ErrUnknownProject, got %v", err)
	}

	if _, err := g.Task(target.MustParse("c:build")); err != nil {
		t.Errorf("Task(c:build): %v", err)
	}
	if _, err := g.Task(target.MustParse("c:lint")); !errors.Is(err, domain.ErrUnknownTask) {
		t.Errorf("expected ErrUnknownTask, got %v", err)
	}
}

func TestNew_UnknownDependency(t *testing.T) {
	_, err := projectgraph.New([]*project.Project{proj("a", "a", "ghost")}, nil)
	if !errors.Is(err, domain.ErrUnknownProject) {
		t.Fatalf("expected ErrUnknownProject, got %v", err)
	}
}

func TestNew_Cycle(t *testing.T) {
	_, err := projectgraph.New([]*project.Project{
		proj("a", "a", "b"),
		proj("b", "b", "c"),
		proj("c", "c", "a"),
	}, nil)
	var cycle *domain.CycleError
	if !errors.As(err, &cycle) {
		t.Fatalf("expected CycleError, got %v", err)
	}
	if len(cycle.Path) != 3 {
		t.Errorf("path = %v", cycle.Path)
	}
}

func TestFromPath(t *testing.T) {
	g, err := projectgraph.New([]*project.Project{
		proj("root", "."),
		proj("app", "apps/app"),
		proj("app-web", "apps/app/web"),
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		path string
		want string
	}{
		{"apps/app/src/main.go", "app"},
		{"apps/app/web/index.ts", "app-web"},
		{"README.md", "root"},
		{"apps/application/x", "root"},
	}
	for _, tt := range tests {
		p, err := g.FromPath(tt.path)
		if err != nil {
			t.Fatalf("FromPath(%q): %v", tt.path, err)
		}
		if p.ID != tt.want {
			t.Errorf("FromPath(%q) = %s, want %s", tt.path, p.ID, tt.want)
		}
	}
}

func TestJSONRoundTrip(t *testing.T) {
	g, err := projectgraph.New([]*project.Project{proj("a", "a", "b"), proj("b", "b")}, map[string]string{"pkg-b": "b"})
	if err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(g)
	if err != nil {
		t.Fatal(err)
	}
	var back projectgraph.Graph
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back.Len() != 2 {
		t.Fatalf("Len = %d", back.Len())
	}
	if id, ok := back.ResolveID("pkg-b"); !ok || id != "b" {
		t.Errorf("alias lost: %q %v", id, ok)
	}
	if got := back.DependentsOf("b"); len(got) != 1 || got[0] != "a" {
		t.Errorf("DependentsOf(b) = %v", got)
	}
}
