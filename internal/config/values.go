package config

import (
	"fmt"
	"sort"

	"github.com/kballard/go-shellquote"
	"gopkg.in/yaml.v3"
)

// Projects is the workspace project list. It accepts a map of id to source,
// a list of globs, or an object with both.
type Projects struct {
	Sources map[string]string `yaml:"sources"`
	Globs   []string          `yaml:"globs"`
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (p *Projects) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.SequenceNode:
		return n.Decode(&p.Globs)
	case yaml.MappingNode:
		if hasKey(n, "sources") || hasKey(n, "globs") {
			type plain Projects
			var v plain
			if err := n.Decode(&v); err != nil {
				return err
			}
			*p = Projects(v)
			return nil
		}
		return n.Decode(&p.Sources)
	default:
		return fmt.Errorf("line %d: projects must be a map, a list of globs, or {sources, globs}", n.Line)
	}
}

// Argv is a command or argument list written either as a single string or a
// list of strings. Raw keeps the string form so shell syntax survives.
type Argv struct {
	Raw   string
	Words []string
}

// NewArgv returns an Argv from words.
func NewArgv(words ...string) Argv { return Argv{Words: words} }

// UnmarshalYAML implements yaml.Unmarshaler.
func (a *Argv) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		words, err := shellquote.Split(n.Value)
		if err != nil {
			return fmt.Errorf("line %d: %w", n.Line, err)
		}
		a.Raw = n.Value
		a.Words = words
		return nil
	case yaml.SequenceNode:
		a.Raw = ""
		return n.Decode(&a.Words)
	default:
		return fmt.Errorf("line %d: expected a string or a list of strings", n.Line)
	}
}

// IsEmpty reports whether no words were given.
func (a Argv) IsEmpty() bool { return len(a.Words) == 0 }

// HasShellSyntax reports whether the raw string uses operators that only a
// shell can interpret.
func (a Argv) HasShellSyntax() bool {
	for _, w := range a.Words {
		switch w {
		case "&&", "||", "|", ";", ">", ">>", "<", "2>", "2>&1", "&":
			return true
		}
	}
	return false
}

// AffectedFilesOption accepts true, false, "args", "env" or "both".
type AffectedFilesOption string

// UnmarshalYAML implements yaml.Unmarshaler.
func (o *AffectedFilesOption) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: affectedFiles must be a boolean or string", n.Line)
	}
	switch n.Value {
	case "true":
		*o = "both"
	case "false", "off":
		*o = "off"
	case "args", "env", "both":
		*o = AffectedFilesOption(n.Value)
	default:
		return fmt.Errorf("line %d: invalid affectedFiles %q", n.Line, n.Value)
	}
	return nil
}

// EnvFileOption accepts true (".env"), a path, or a list of paths.
type EnvFileOption []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (o *EnvFileOption) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		switch n.Value {
		case "true":
			*o = EnvFileOption{".env"}
		case "false":
			*o = EnvFileOption{}
		default:
			*o = EnvFileOption{n.Value}
		}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := n.Decode(&list); err != nil {
			return err
		}
		*o = list
		return nil
	default:
		return fmt.Errorf("line %d: envFile must be a boolean, a path or a list", n.Line)
	}
}

// TaskDependency is an entry of a task's deps, written as a target string or
// an object.
type TaskDependency struct {
	Target   string            `yaml:"target"`
	Args     Argv              `yaml:"args"`
	Env      map[string]string `yaml:"env"`
	Optional bool              `yaml:"optional"`
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *TaskDependency) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		*d = TaskDependency{Target: n.Value}
		return nil
	}
	type plain TaskDependency
	var v plain
	if err := n.Decode(&v); err != nil {
		return err
	}
	*d = TaskDependency(v)
	return nil
}

// ProjectDependency is an entry of dependsOn, written as an id or an object.
type ProjectDependency struct {
	ID    string `yaml:"id"`
	Scope string `yaml:"scope"`
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *ProjectDependency) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		*d = ProjectDependency{ID: n.Value}
		return nil
	}
	type plain ProjectDependency
	var v plain
	if err := n.Decode(&v); err != nil {
		return err
	}
	*d = ProjectDependency(v)
	return nil
}

// OwnersPaths is written either as a list of paths owned by the default
// owner or as a map of path to owners.
type OwnersPaths map[string][]string

// UnmarshalYAML implements yaml.Unmarshaler.
func (o *OwnersPaths) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.SequenceNode:
		var list []string
		if err := n.Decode(&list); err != nil {
			return err
		}
		m := make(OwnersPaths, len(list))
		for _, p := range list {
			m[p] = nil
		}
		*o = m
		return nil
	case yaml.MappingNode:
		var m map[string][]string
		if err := n.Decode(&m); err != nil {
			return err
		}
		*o = m
		return nil
	default:
		return fmt.Errorf("line %d: owners.paths must be a list or a map", n.Line)
	}
}

// Sorted returns the owned paths in lexical order.
func (o OwnersPaths) Sorted() []string {
	out := make([]string, 0, len(o))
	for p := range o {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func hasKey(n *yaml.Node, key string) bool {
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return true
		}
	}
	return false
}
