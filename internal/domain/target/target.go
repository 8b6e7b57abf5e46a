// Package target defines the canonical task reference `scope:task`.
package target

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/Strob0t/moon/internal/domain"
)

// ScopeKind identifies which projects a target applies to.
type ScopeKind int

const (
	ScopeAll ScopeKind = iota
	ScopeDeps
	ScopeSelf
	ScopeProject
	ScopeTag
)

// Scope is the left-hand side of a target.
type Scope struct {
	Kind ScopeKind
	ID   string // project id for ScopeProject, tag for ScopeTag
}

func (s Scope) String() string {
	switch s.Kind {
	case ScopeDeps:
		return "^"
	case ScopeSelf:
		return "~"
	case ScopeProject:
		return s.ID
	case ScopeTag:
		return "#" + s.ID
	default:
		return ""
	}
}

// Target is a parsed `scope:task` reference.
type Target struct {
	Scope  Scope
	TaskID string
}

var (
	targetPattern = regexp.MustCompile(`^(?P<scope>(?:[A-Za-z@#_][0-9A-Za-z/._-]*|\^|~))?:(?P<task>[0-9A-Za-z/._-]+)$`)
	idPattern     = regexp.MustCompile(`^[A-Za-z0-9_@][0-9A-Za-z/._-]*$`)
)

// Parse parses a target string such as `app:build`, `^:build`, `~:lint`,
// `#frontend:test` or `:build`.
func Parse(s string) (Target, error) {
	m := targetPattern.FindStringSubmatch(s)
	if m == nil {
		return Target{}, fmt.Errorf("%w: invalid target %q", domain.ErrUnknownTarget, s)
	}
	scope, task := m[1], m[2]

	t := Target{TaskID: task}
	switch {
	case scope == "":
		t.Scope = Scope{Kind: ScopeAll}
	case scope == "^":
		t.Scope = Scope{Kind: ScopeDeps}
	case scope == "~":
		t.Scope = Scope{Kind: ScopeSelf}
	case strings.HasPrefix(scope, "#"):
		tag := scope[1:]
		if tag == "" {
			return Target{}, fmt.Errorf("%w: empty tag in %q", domain.ErrUnknownTarget, s)
		}
		t.Scope = Scope{Kind: ScopeTag, ID: tag}
	default:
		t.Scope = Scope{Kind: ScopeProject, ID: scope}
	}
	return t, nil
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(s string) Target {
	t, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return t
}

// New returns a project-scoped target.
func New(projectID, taskID string) (Target, error) {
	if !idPattern.MatchString(projectID) {
		return Target{}, fmt.Errorf("%w: invalid project id %q", domain.ErrUnknownTarget, projectID)
	}
	return Parse(projectID + ":" + taskID)
}

// String renders the target in its canonical form; Parse(t.String()) == t.
func (t Target) String() string {
	return t.Scope.String() + ":" + t.TaskID
}

// ProjectID returns the owning project id for project-scoped targets.
func (t Target) ProjectID() (string, bool) {
	if t.Scope.Kind != ScopeProject {
		return "", false
	}
	return t.Scope.ID, true
}

// IsAllTask reports whether the target matches the task in every project.
func (t Target) IsAllTask() bool { return t.Scope.Kind == ScopeAll }

// MarshalText implements encoding.TextMarshaler so targets can be map keys.
func (t Target) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Target) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MarshalJSON encodes the target as its string form; the zero target encodes as "".
func (t Target) MarshalJSON() ([]byte, error) {
	if t.TaskID == "" {
		return json.Marshal("")
	}
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes a target from its string form.
func (t *Target) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*t = Target{}
		return nil
	}
	return t.UnmarshalText([]byte(s))
}
