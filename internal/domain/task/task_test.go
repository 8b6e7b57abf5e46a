package task_test

import (
	"testing"

	"github.com/Strob0t/moon/internal/domain/task"
)

func TestParseInputPath(t *testing.T) {
	tests := []struct {
		raw     string
		kind    task.InputKind
		wsRel   string
		negated bool
	}{
		{"src/index.ts", task.ProjectFile, "packages/p1/src/index.ts", false},
		{"src/**/*", task.ProjectGlob, "packages/p1/src/**/*", false},
		{"/tsconfig.json", task.WorkspaceFile, "tsconfig.json", false},
		{"/configs/*.json", task.WorkspaceGlob, "configs/*.json", false},
		{"!**/*.test.ts", task.ProjectGlob, "!packages/p1/**/*.test.ts", true},
		{"$NODE_ENV", task.EnvVar, "NODE_ENV", false},
		{"@files(sources)", task.TokenFunc, "@files(sources)", false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			p, err := task.ParseInputPath(tt.raw)
			if err != nil {
				t.Fatalf("ParseInputPath(%q): %v", tt.raw, err)
			}
			if p.Kind != tt.kind {
				t.Errorf("kind = %v, want %v", p.Kind, tt.kind)
			}
			if p.Negated != tt.negated {
				t.Errorf("negated = %v, want %v", p.Negated, tt.negated)
			}
			if got := p.WorkspaceRelative("packages/p1"); got != tt.wsRel {
				t.Errorf("WorkspaceRelative = %q, want %q", got, tt.wsRel)
			}
			if p.String() != tt.raw {
				t.Errorf("String() = %q, want %q", p.String(), tt.raw)
			}
		})
	}
}

func TestTokenFunction(t *testing.T) {
	p, err := task.ParseInputPath("@globs(tests)")
	if err != nil {
		t.Fatal(err)
	}
	fn, arg, ok := p.TokenFunction()
	if !ok || fn != "globs" || arg != "tests" {
		t.Fatalf("TokenFunction() = %q, %q, %v", fn, arg, ok)
	}
}

func TestMergeSlices(t *testing.T) {
	base := []string{"a", "b"}
	next := []string{"c"}

	if got := task.MergeSlices(task.MergeAppend, base, next); len(got) != 3 || got[2] != "c" {
		t.Errorf("append = %v", got)
	}
	if got := task.MergeSlices(task.MergePrepend, base, next); len(got) != 3 || got[0] != "c" {
		t.Errorf("prepend = %v", got)
	}
	if got := task.MergeSlices(task.MergeReplace, base, next); len(got) != 1 || got[0] != "c" {
		t.Errorf("replace = %v", got)
	}
}

func TestMergeMaps(t *testing.T) {
	base := map[string]string{"A": "1", "B": "1"}
	next := map[string]string{"B": "2"}

	if got := task.MergeMaps(task.MergeAppend, base, next); got["B"] != "2" || got["A"] != "1" {
		t.Errorf("append = %v", got)
	}
	if got := task.MergeMaps(task.MergePrepend, base, next); got["B"] != "1" {
		t.Errorf("prepend = %v", got)
	}
	if got := task.MergeMaps(task.MergeReplace, base, next); len(got) != 1 {
		t.Errorf("replace = %v", got)
	}
}

func TestIsNoop(t *testing.T) {
	for _, cmd := range []string{"nop", "noop", "no-op"} {
		tk := &task.Task{Command: cmd}
		if !tk.IsNoop() {
			t.Errorf("%q should be a no-op", cmd)
		}
	}
	if (&task.Task{Command: "noop", Script: "echo hi"}).IsNoop() {
		t.Error("task with script must not be a no-op")
	}
}
