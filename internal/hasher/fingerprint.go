package hasher

import (
	"sort"

	"github.com/Strob0t/moon/internal/domain/project"
	"github.com/Strob0t/moon/internal/domain/task"
	"github.com/Strob0t/moon/internal/domain/toolchain"
)

// TaskFingerprint is the canonical description of a task run.
type TaskFingerprint struct {
	Command     string             `json:"command"`
	Args        []string           `json:"args"`
	Deps        map[string]string  `json:"deps"`
	Env         map[string]string  `json:"env"`
	Inputs      map[string]string  `json:"inputs"`
	InputEnv    map[string]string  `json:"inputEnv"`
	InputGlobs  []string           `json:"inputGlobs"`
	Outputs     []string           `json:"outputs"`
	Platform    toolchain.Platform `json:"platform"`
	ProjectDeps []string           `json:"projectDeps"`
	Target      string             `json:"target"`
	Version     string             `json:"version"`
}

// NewTaskFingerprint fills the parts of the fingerprint derived from the
// task definition. Inputs, InputEnv and Deps are left to the caller.
func NewTaskFingerprint(p *project.Project, t *task.Task) *TaskFingerprint {
	command := t.Command
	if t.Script != "" {
		command = t.Script
	}
	outputs := make([]string, 0, len(t.OutputFiles)+len(t.OutputGlobs))
	outputs = append(outputs, t.OutputFiles...)
	outputs = append(outputs, t.OutputGlobs...)

	env := make(map[string]string, len(t.Env))
	for k, v := range t.Env {
		env[k] = v
	}

	return &TaskFingerprint{
		Command:     command,
		Args:        sortedCopy(t.Args),
		Deps:        map[string]string{},
		Env:         env,
		Inputs:      map[string]string{},
		InputEnv:    map[string]string{},
		InputGlobs:  sortedCopy(t.InputGlobs),
		Outputs:     sortedCopy(outputs),
		Platform:    t.Platform,
		ProjectDeps: p.DependencyIDs(),
		Target:      t.Target.String(),
		Version:     Version,
	}
}

// AppendPassthrough adds passthrough arguments after the sorted task args.
func (f *TaskFingerprint) AppendPassthrough(args []string) {
	f.Args = append(f.Args, args...)
}

// RuntimeFingerprint identifies the toolchain a target runs with.
type RuntimeFingerprint struct {
	Platform toolchain.Platform `json:"platform"`
	Version  string             `json:"version"`
}

// NewRuntimeFingerprint describes rt.
func NewRuntimeFingerprint(rt toolchain.Runtime) RuntimeFingerprint {
	return RuntimeFingerprint{Platform: rt.Platform, Version: rt.Requirement.String()}
}

// ResolvedDeps maps a package name to the versions resolved by a lockfile.
type ResolvedDeps struct {
	Dependencies map[string][]string `json:"dependencies"`
}

// ManifestDeps lists dependencies declared in a package manifest.
type ManifestDeps struct {
	Manifest     string            `json:"manifest"`
	Dependencies map[string]string `json:"dependencies"`
}

// GraphFingerprint identifies the inputs of a project graph build.
// WorkspaceRoot is included because built projects hold absolute paths.
type GraphFingerprint struct {
	Aliases       map[string]string `json:"aliases"`
	Configs       map[string]string `json:"configs"`
	Sources       map[string]string `json:"sources"`
	Version       string            `json:"version"`
	WorkspaceRoot string            `json:"workspaceRoot"`
	InContainer   bool              `json:"inContainer"`
}

// NewGraphFingerprint returns an empty graph fingerprint stamped with Version.
func NewGraphFingerprint() *GraphFingerprint {
	return &GraphFingerprint{
		Aliases: map[string]string{},
		Configs: map[string]string{},
		Sources: map[string]string{},
		Version: Version,
	}
}

// DepsInstallFingerprint identifies the manifests a dependency install saw.
type DepsInstallFingerprint struct {
	Runtime   string            `json:"runtime"`
	Project   string            `json:"project,omitempty"`
	Manifests map[string]string `json:"manifests"`
}

func sortedCopy(in []string) []string {
	out := append([]string{}, in...)
	sort.Strings(out)
	return out
}
