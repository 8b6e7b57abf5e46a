// Package task defines the Task domain entity: a runnable command of a project
// together with its inputs, outputs, dependencies and options.
package task

import (
	"github.com/Strob0t/moon/internal/domain/target"
	"github.com/Strob0t/moon/internal/domain/toolchain"
)

// Type classifies a task by what it produces.
type Type string

const (
	TypeBuild Type = "build"
	TypeRun   Type = "run"
	TypeTest  Type = "test"
)

// ParseType converts a config string into a Type; empty or unknown values return "".
func ParseType(s string) Type {
	switch t := Type(s); t {
	case TypeBuild, TypeRun, TypeTest:
		return t
	default:
		return ""
	}
}

// noopCommands are commands that never spawn a process.
var noopCommands = map[string]bool{"nop": true, "noop": true, "no-op": true}

// Dependency is a reference from one task to another, after scope expansion.
type Dependency struct {
	Target   target.Target     `json:"target"`
	Args     []string          `json:"args,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
	Optional bool              `json:"optional,omitempty"`
}

// Metadata holds facts derived during expansion.
type Metadata struct {
	EmptyInputs bool `json:"emptyInputs,omitempty"`
	RootLevel   bool `json:"rootLevel,omitempty"`
	Expanded    bool `json:"expanded,omitempty"`
}

// Task is a fully expanded task. All paths are workspace-relative and slash-separated.
type Task struct {
	ID          string             `json:"id"`
	Target      target.Target      `json:"target"`
	Description string             `json:"description,omitempty"`
	Command     string             `json:"command"`
	Args        []string           `json:"args,omitempty"`
	Script      string             `json:"script,omitempty"`
	Env         map[string]string  `json:"env,omitempty"`
	Deps        []Dependency       `json:"deps,omitempty"`
	Inputs      []InputPath        `json:"inputs,omitempty"`
	InputFiles  []string           `json:"inputFiles,omitempty"`
	InputGlobs  []string           `json:"inputGlobs,omitempty"`
	InputEnv    []string           `json:"inputEnv,omitempty"`
	Outputs     []InputPath        `json:"outputs,omitempty"`
	OutputFiles []string           `json:"outputFiles,omitempty"`
	OutputGlobs []string           `json:"outputGlobs,omitempty"`
	Platform    toolchain.Platform `json:"platform"`
	Type        Type               `json:"type"`
	Options     Options            `json:"options"`
	Metadata    Metadata           `json:"metadata"`
}

// IsNoop reports whether the task is a placeholder that runs nothing.
func (t *Task) IsNoop() bool {
	return t.Script == "" && noopCommands[t.Command]
}

// IsPersistent reports whether the task is a long-running process.
func (t *Task) IsPersistent() bool { return t.Options.Persistent }

// IsInteractive reports whether the task needs the user's terminal.
func (t *Task) IsInteractive() bool { return t.Options.Interactive }

// IsBuildType reports whether the task produces outputs.
func (t *Task) IsBuildType() bool { return t.Type == TypeBuild }

// HasOutputs reports whether any outputs were declared.
func (t *Task) HasOutputs() bool {
	return len(t.OutputFiles) > 0 || len(t.OutputGlobs) > 0
}

// ShouldRunInCI reports whether the task participates in CI runs.
func (t *Task) ShouldRunInCI() bool {
	return t.Options.RunInCI && !t.Options.Persistent && !t.Options.Interactive
}

// IsCacheable reports whether outputs may be hydrated from or archived into the cache.
func (t *Task) IsCacheable() bool {
	return t.Options.Cache && !t.Options.Persistent && !t.Options.Interactive
}
