package hasher_test

import (
	"encoding/json"
	"testing"

	"github.com/Strob0t/moon/internal/domain/project"
	"github.com/Strob0t/moon/internal/domain/target"
	"github.com/Strob0t/moon/internal/domain/task"
	"github.com/Strob0t/moon/internal/domain/toolchain"
	"github.com/Strob0t/moon/internal/hasher"
)

func TestGenerate_InsertionOrderIndependent(t *testing.T) {
	a := hasher.New("a")
	b := hasher.New("b")

	runtime := hasher.NewRuntimeFingerprint(toolchain.NewRuntime(toolchain.PlatformNode, "20.0.0"))
	deps := hasher.ResolvedDeps{Dependencies: map[string][]string{"react": {"18.2.0"}, "vite": {"5.0.0"}}}

	for _, c := range []any{runtime, deps} {
		if err := a.Add(c); err != nil {
			t.Fatal(err)
		}
	}
	for _, c := range []any{deps, runtime} {
		if err := b.Add(c); err != nil {
			t.Fatal(err)
		}
	}

	if a.Generate() != b.Generate() {
		t.Fatalf("hashes differ: %s vs %s", a.Generate(), b.Generate())
	}
	if len(a.Generate()) != 64 {
		t.Fatalf("hash length = %d", len(a.Generate()))
	}
}

func TestGenerate_MapOrderIndependent(t *testing.T) {
	first := map[string]string{}
	second := map[string]string{}
	keys := []string{"z", "a", "m", "b", "y"}
	for _, k := range keys {
		first[k] = k
	}
	for i := len(keys) - 1; i >= 0; i-- {
		second[keys[i]] = keys[i]
	}

	a, b := hasher.New("a"), hasher.New("b")
	_ = a.Add(first)
	_ = b.Add(second)
	if a.Generate() != b.Generate() {
		t.Fatal("map iteration order leaked into the hash")
	}
}

func TestGenerate_Empty(t *testing.T) {
	h := hasher.New("empty")
	if h.Generate() == "" {
		t.Fatal("empty hasher must still produce a digest")
	}
}

func TestGenerate_LabelNotMixedIn(t *testing.T) {
	a, b := hasher.New("one"), hasher.New("two")
	_ = a.Add("x")
	_ = b.Add("x")
	if a.Generate() != b.Generate() {
		t.Fatal("label must not affect the digest")
	}
}

func TestAdd_SerializeError(t *testing.T) {
	h := hasher.New("bad")
	if err := h.Add(make(chan int)); err == nil {
		t.Fatal("expected serialization error")
	}
}

func TestTaskFingerprint(t *testing.T) {
	p := &project.Project{
		ID: "app",
		Dependencies: map[string]project.Dependency{
			"lib-b": {ID: "lib-b"},
			"lib-a": {ID: "lib-a"},
		},
	}
	tk := &task.Task{
		Target:      target.MustParse("app:build"),
		Command:     "tsc",
		Args:        []string{"--build", "--pretty"},
		OutputGlobs: []string{"app/dist/**/*"},
		OutputFiles: []string{"app/lib"},
		Platform:    toolchain.PlatformNode,
	}

	fp := hasher.NewTaskFingerprint(p, tk)
	fp.AppendPassthrough([]string{"--watch"})

	if got := fp.ProjectDeps; len(got) != 2 || got[0] != "lib-a" {
		t.Errorf("ProjectDeps = %v", got)
	}
	if got := fp.Args; got[len(got)-1] != "--watch" {
		t.Errorf("passthrough args must be appended last: %v", got)
	}
	if fp.Outputs[0] != "app/dist/**/*" || fp.Outputs[1] != "app/lib" {
		t.Errorf("Outputs = %v", fp.Outputs)
	}

	h := hasher.New("app:build")
	if err := h.Add(fp); err != nil {
		t.Fatal(err)
	}
	manifest, err := h.Manifest()
	if err != nil {
		t.Fatal(err)
	}
	var decoded []map[string]any
	if err := json.Unmarshal(manifest, &decoded); err != nil {
		t.Fatalf("manifest is not a JSON array: %v", err)
	}
	if decoded[0]["target"] != "app:build" {
		t.Errorf("manifest target = %v", decoded[0]["target"])
	}
}
