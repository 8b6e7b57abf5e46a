// Package project defines the Project domain entity of a workspace.
package project

import (
	"sort"

	"github.com/Strob0t/moon/internal/domain/task"
	"github.com/Strob0t/moon/internal/domain/toolchain"
)

// Type classifies a project.
type Type string

const (
	TypeApplication Type = "application"
	TypeLibrary     Type = "library"
	TypeTool        Type = "tool"
	TypeUnknown     Type = "unknown"
)

// ParseType converts a config string into a Type.
func ParseType(s string) Type {
	switch t := Type(s); t {
	case TypeApplication, TypeLibrary, TypeTool:
		return t
	default:
		return TypeUnknown
	}
}

// Stack describes where the project runs.
type Stack string

const (
	StackBackend        Stack = "backend"
	StackFrontend       Stack = "frontend"
	StackInfrastructure Stack = "infrastructure"
	StackSystems        Stack = "systems"
	StackUnknown        Stack = "unknown"
)

// DependencyScope describes how a project depends on another.
type DependencyScope string

const (
	ScopeProduction  DependencyScope = "production"
	ScopeDevelopment DependencyScope = "development"
	ScopePeer        DependencyScope = "peer"
	ScopeBuild       DependencyScope = "build"
	ScopeRoot        DependencyScope = "root"
)

// DependencySource records whether a dependency was declared or inferred.
type DependencySource string

const (
	SourceExplicit DependencySource = "explicit"
	SourceImplicit DependencySource = "implicit"
)

// Dependency is an edge to another project, stored by id.
type Dependency struct {
	ID     string           `json:"id"`
	Scope  DependencyScope  `json:"scope"`
	Source DependencySource `json:"source"`
}

// Owners drives CODEOWNERS generation.
type Owners struct {
	DefaultOwner string              `json:"defaultOwner,omitempty"`
	Paths        map[string][]string `json:"paths,omitempty"`
}

// Project is an immutable, fully built project of the workspace.
type Project struct {
	ID           string                `json:"id"`
	Source       string                `json:"source"` // workspace-relative, "." for the root
	Root         string                `json:"root"`   // absolute
	Language     string                `json:"language"`
	Platform     toolchain.Platform    `json:"platform"`
	Type         Type                  `json:"type"`
	Stack        Stack                 `json:"stack"`
	Tags         []string              `json:"tags,omitempty"`
	Aliases      []string              `json:"aliases,omitempty"`
	Dependencies map[string]Dependency `json:"dependencies,omitempty"`
	Tasks        map[string]*task.Task `json:"tasks,omitempty"`
	FileGroups   map[string][]string   `json:"fileGroups,omitempty"`
	Owners       Owners                `json:"owners,omitempty"`
	Env          map[string]string     `json:"env,omitempty"`
	ConfigPath   string                `json:"configPath,omitempty"`
	// RuntimeVersion overrides the toolchain version for this project.
	RuntimeVersion string `json:"runtimeVersion,omitempty"`
}

// IsRootLevel reports whether the project lives at the workspace root.
func (p *Project) IsRootLevel() bool {
	return p.Source == "." || p.Source == ""
}

// DependencyIDs returns the ids of all dependencies, sorted.
func (p *Project) DependencyIDs() []string {
	ids := make([]string, 0, len(p.Dependencies))
	for id := range p.Dependencies {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// TaskIDs returns the ids of all tasks, sorted.
func (p *Project) TaskIDs() []string {
	ids := make([]string, 0, len(p.Tasks))
	for id := range p.Tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Task returns the task with the given id.
func (p *Project) Task(id string) (*task.Task, bool) {
	t, ok := p.Tasks[id]
	return t, ok
}

// HasTag reports whether the project carries tag.
func (p *Project) HasTag(tag string) bool {
	for _, t := range p.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
