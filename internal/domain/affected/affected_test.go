package affected_test

import (
	"sort"
	"strings"
	"testing"

	"github.com/Strob0t/moon/internal/domain/affected"
	"github.com/Strob0t/moon/internal/domain/project"
	"github.com/Strob0t/moon/internal/domain/projectgraph"
	"github.com/Strob0t/moon/internal/domain/target"
	"github.com/Strob0t/moon/internal/domain/task"
	"github.com/Strob0t/moon/internal/domain/touched"
)

func proj(id, source string, deps ...string) *project.Project {
	p := &project.Project{
		ID:           id,
		Source:       source,
		Dependencies: map[string]project.Dependency{},
		Tasks:        map[string]*task.Task{},
	}
	for _, d := range deps {
		p.Dependencies[d] = project.Dependency{ID: d, Scope: project.ScopeProduction}
	}
	return p
}

func addTask(p *project.Project, id string, mutate func(*task.Task)) *task.Task {
	tk := &task.Task{ID: id, Target: target.MustParse(p.ID + ":" + id)}
	if mutate != nil {
		mutate(tk)
	}
	p.Tasks[id] = tk
	return tk
}

func noEnv(string) string { return "" }

func TestTaskAffectedByTouchedGlob(t *testing.T) {
	p1 := proj("p1", "packages/p1")
	addTask(p1, "test", func(tk *task.Task) {
		tk.InputGlobs = []string{"packages/p1/src/**/*"}
	})
	g, err := projectgraph.New([]*project.Project{p1}, nil)
	if err != nil {
		t.Fatal(err)
	}

	a := affected.NewTracker(g, touched.NewSet("packages/p1/src/x.ts")).WithEnv(noEnv).Track()

	tgt := target.MustParse("p1:test")
	if !a.IsTaskAffected(tgt) {
		t.Fatal("p1:test should be affected")
	}
	want := affected.Reason{Kind: affected.ReasonTouchedFile, Value: "packages/p1/src/x.ts"}
	if got := a.Tasks[tgt].Reasons; len(got) != 1 || got[0] != want {
		t.Errorf("reasons = %v, want [%v]", got, want)
	}
}

func TestTaskNotAffected(t *testing.T) {
	p1 := proj("p1", "packages/p1")
	addTask(p1, "test", func(tk *task.Task) {
		tk.InputGlobs = []string{"packages/p1/src/**/*"}
		tk.InputFiles = []string{"packages/p1/package.json"}
		tk.InputEnv = []string{"TEST_MODE"}
	})
	g, err := projectgraph.New([]*project.Project{p1}, nil)
	if err != nil {
		t.Fatal(err)
	}

	a := affected.NewTracker(g, touched.NewSet("packages/p1/README.md", "packages/p2/src/x.ts")).WithEnv(noEnv).Track()
	if a.IsTaskAffected(target.MustParse("p1:test")) {
		t.Fatal("p1:test must not be affected")
	}
	if !a.IsProjectAffected("p1") {
		t.Fatal("project p1 is touched by its README")
	}
}

func TestTaskAffectedByEnvAndEmptyInputs(t *testing.T) {
	p := proj("p", "p")
	addTask(p, "env", func(tk *task.Task) { tk.InputEnv = []string{"DEPLOY"} })
	addTask(p, "always", func(tk *task.Task) { tk.Metadata.EmptyInputs = true })
	g, err := projectgraph.New([]*project.Project{p}, nil)
	if err != nil {
		t.Fatal(err)
	}

	env := func(k string) string {
		if k == "DEPLOY" {
			return "1"
		}
		return ""
	}
	a := affected.NewTracker(g, touched.NewSet()).WithEnv(env).Track()

	if r := a.Tasks[target.MustParse("p:env")]; r == nil || r.Reasons[0].Kind != affected.ReasonEnvVar {
		t.Errorf("p:env reasons = %v", r)
	}
	if r := a.Tasks[target.MustParse("p:always")]; r == nil || r.Reasons[0].Kind != affected.ReasonAlwaysAffected {
		t.Errorf("p:always reasons = %v", r)
	}
}

func TestNegatedGlobExcludes(t *testing.T) {
	tk := &task.Task{InputGlobs: []string{"p/src/**/*", "!p/src/**/*.test.ts"}}
	if affected.MatchesInputs(tk, "p/src/a.test.ts") {
		t.Error("negated glob should exclude test file")
	}
	if !affected.MatchesInputs(tk, "p/src/a.ts") {
		t.Error("source file should match")
	}
}

func TestProjectScopePropagation(t *testing.T) {
	projects := []*project.Project{
		proj("a", "a", "b"),
		proj("b", "b", "c"),
		proj("c", "c"),
		proj("d", "d", "a"),
	}
	g, err := projectgraph.New(projects, nil)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		opts affected.Options
		want []string
	}{
		{"deep upstream", affected.Options{ProjectUpstream: affected.ScopeDeep}, []string{"a", "b", "c"}},
		{"direct upstream", affected.Options{ProjectUpstream: affected.ScopeDirect}, []string{"a", "b"}},
		{"deep downstream", affected.Options{ProjectDownstream: affected.ScopeDeep}, []string{"a", "d"}},
		{"none", affected.Options{}, []string{"a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := affected.NewTracker(g, touched.NewSet("a/main.go")).WithOptions(tt.opts).WithEnv(noEnv).Track()
			got := a.ProjectIDs()
			sort.Strings(got)
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("affected = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRootProjectAffectedByAnyFile(t *testing.T) {
	g, err := projectgraph.New([]*project.Project{proj("root", "."), proj("app", "apps/app")}, nil)
	if err != nil {
		t.Fatal(err)
	}
	a := affected.NewTracker(g, touched.NewSet("docs/readme.md")).WithEnv(noEnv).Track()
	if !a.IsProjectAffected("root") {
		t.Error("root project should be affected")
	}
	if a.IsProjectAffected("app") {
		t.Error("app should not be affected")
	}
}

func TestTaskScopePropagation(t *testing.T) {
	web := proj("web", "apps/web", "ui")
	ui := proj("ui", "libs/ui")
	addTask(ui, "build", func(tk *task.Task) { tk.InputGlobs = []string{"libs/ui/src/**/*"} })
	addTask(web, "build", func(tk *task.Task) {
		tk.InputGlobs = []string{"apps/web/src/**/*"}
		tk.Deps = []task.Dependency{{Target: target.MustParse("ui:build")}}
	})
	g, err := projectgraph.New([]*project.Project{web, ui}, nil)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		opts   affected.Options
		uiHit  bool
		reason affected.ReasonKind
	}{
		{name: "defaults only follow inputs", opts: affected.DefaultOptions()},
		{
			name:   "opt-in upstream tasks",
			opts:   affected.Options{TaskUpstream: affected.ScopeDeep},
			uiHit:  true,
			reason: affected.ReasonUpstreamTask,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := affected.NewTracker(g, touched.NewSet("apps/web/src/a.ts")).WithOptions(tt.opts).WithEnv(noEnv).Track()
			if !a.IsTaskAffected(target.MustParse("web:build")) {
				t.Fatal("web:build should be affected by its own input")
			}
			uiBuild := target.MustParse("ui:build")
			if got := a.IsTaskAffected(uiBuild); got != tt.uiHit {
				t.Fatalf("ui:build affected = %v, want %v (reasons %v)", got, tt.uiHit, a.Tasks[uiBuild])
			}
			if tt.uiHit && a.Tasks[uiBuild].Reasons[0].Kind != tt.reason {
				t.Errorf("ui:build reasons = %v", a.Tasks[uiBuild].Reasons)
			}
		})
	}
}
