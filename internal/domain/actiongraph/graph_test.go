package actiongraph_test

import (
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/Strob0t/moon/internal/domain"
	"github.com/Strob0t/moon/internal/domain/action"
	"github.com/Strob0t/moon/internal/domain/actiongraph"
	"github.com/Strob0t/moon/internal/domain/target"
	"github.com/Strob0t/moon/internal/domain/toolchain"
)

func runTask(g *actiongraph.Graph, s string, persistent bool) int {
	idx, _ := g.AddNode(action.RunTask(toolchain.System(), target.MustParse(s), persistent, false))
	return idx
}

func batchLabels(g *actiongraph.Graph, batches []actiongraph.Batch) [][]string {
	out := make([][]string, len(batches))
	for i, b := range batches {
		for _, idx := range b {
			out[i] = append(out[i], g.Node(idx).Label())
		}
		sort.Strings(out[i])
	}
	return out
}

func TestBatches_ChainedProjects(t *testing.T) {
	g := actiongraph.New()
	sys := toolchain.System()

	setup, _ := g.AddNode(action.SetupToolchain(sys))
	g.AddEdge(setup, actiongraph.RootIndex)
	install, _ := g.AddNode(action.InstallDeps(sys, ""))
	g.AddEdge(install, setup)

	var prev int
	for i, id := range []string{"c", "b", "a"} {
		sync, _ := g.AddNode(action.SyncProject(sys, id))
		g.AddEdge(sync, setup)
		run := runTask(g, id+":build", false)
		g.AddEdge(run, install)
		g.AddEdge(run, sync)
		if i > 0 {
			g.AddEdge(run, prev)
		}
		prev = run
	}

	batches, err := g.Batches()
	if err != nil {
		t.Fatalf("Batches: %v", err)
	}
	got := batchLabels(g, batches)
	want := [][]string{
		{"SyncWorkspace"},
		{"SetupToolchain(system)"},
		{"InstallWorkspaceDeps(system)", "SyncProject(system, a)", "SyncProject(system, b)", "SyncProject(system, c)"},
		{"RunTask(c:build)"},
		{"RunTask(b:build)"},
		{"RunTask(a:build)"},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d batches %v, want %d", len(got), got, len(want))
	}
	for i := range want {
		if strings.Join(got[i], ",") != strings.Join(want[i], ",") {
			t.Errorf("batch %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestBatches_PersistentLast(t *testing.T) {
	g := actiongraph.New()
	setup, _ := g.AddNode(action.SetupToolchain(toolchain.System()))
	g.AddEdge(setup, actiongraph.RootIndex)

	dev := runTask(g, "app:dev-server", true)
	g.AddEdge(dev, setup)
	unit := runTask(g, "app:unit-test", false)
	g.AddEdge(unit, setup)
	e2e := runTask(g, "app:e2e", false)
	g.AddEdge(e2e, unit)

	batches, err := g.Batches()
	if err != nil {
		t.Fatalf("Batches: %v", err)
	}
	last := batches[len(batches)-1]
	if len(last) != 1 || last[0] != dev {
		t.Fatalf("final batch = %v, want [%d]", last, dev)
	}

	position := make(map[int]int)
	for i, b := range batches {
		for _, idx := range b {
			position[idx] = i
		}
	}
	for idx := 0; idx < g.Len(); idx++ {
		if g.Node(idx).Persistent {
			continue
		}
		for _, dep := range g.Dependencies(idx) {
			if position[dep] >= position[idx] {
				t.Errorf("%s scheduled before its dependency %s", g.Node(idx).Label(), g.Node(dep).Label())
			}
		}
	}
}

func TestBatches_Empty(t *testing.T) {
	batches, err := actiongraph.New().Batches()
	if err != nil {
		t.Fatal(err)
	}
	if len(batches) != 0 {
		t.Fatalf("expected no batches, got %v", batches)
	}
}

func TestBatches_Cycle(t *testing.T) {
	g := actiongraph.New()
	a := runTask(g, "p:a", false)
	b := runTask(g, "p:b", false)
	c := runTask(g, "p:c", false)
	g.AddEdge(a, actiongraph.RootIndex)
	g.AddEdge(a, b)
	g.AddEdge(b, c)
	g.AddEdge(c, a)

	_, err := g.Batches()
	if !errors.Is(err, domain.ErrCycleDetected) {
		t.Fatalf("expected cycle error, got %v", err)
	}
	var cycle *domain.CycleError
	if !errors.As(err, &cycle) {
		t.Fatalf("expected *CycleError, got %T", err)
	}
	if len(cycle.Path) != 3 {
		t.Fatalf("path = %v, want 3 nodes", cycle.Path)
	}
	seen := make(map[string]bool)
	for _, label := range cycle.Path {
		if seen[label] {
			t.Errorf("label %s visited twice", label)
		}
		seen[label] = true
	}
	if cycle.Path[0] != "RunTask(p:a)" {
		t.Errorf("path should start at lowest index, got %v", cycle.Path)
	}
}

func TestDetectCycle_Acyclic(t *testing.T) {
	g := actiongraph.New()
	a := runTask(g, "p:a", false)
	b := runTask(g, "p:b", false)
	g.AddEdge(a, b)
	g.AddEdge(b, actiongraph.RootIndex)
	if err := g.DetectCycle(); err != nil {
		t.Fatalf("unexpected cycle: %v", err)
	}
}

func TestAddNode_DedupesByLabel(t *testing.T) {
	g := actiongraph.New()
	first, inserted := g.AddNode(action.SetupToolchain(toolchain.System()))
	if !inserted {
		t.Fatal("first insert should report inserted")
	}
	second, inserted := g.AddNode(action.SetupToolchain(toolchain.System()))
	if inserted || first != second {
		t.Fatalf("duplicate node inserted: %d vs %d", first, second)
	}
}
