package task

import (
	"encoding/json"
	"fmt"
	"path"
	"regexp"
	"strings"
)

// InputKind is the variant of an InputPath.
type InputKind int

const (
	ProjectFile InputKind = iota
	ProjectGlob
	WorkspaceFile
	WorkspaceGlob
	EnvVar
	TokenFunc
)

var (
	envVarPattern    = regexp.MustCompile(`^\$[A-Z_][A-Z0-9_]*$`)
	tokenFuncPattern = regexp.MustCompile(`^@(group|files|globs|dirs|root|in|out)\(([0-9A-Za-z_.-]+)\)$`)
)

// InputPath is a declared input or output before expansion.
type InputPath struct {
	Kind    InputKind `json:"kind"`
	Value   string    `json:"value"`
	Negated bool      `json:"negated,omitempty"`
}

// ParseInputPath classifies a raw config entry.
//
//	$VAR            environment variable
//	@files(name)    file-group token
//	/path, /glob/*  workspace-relative
//	path, glob/*    project-relative
//	!glob           negated glob (either scope)
func ParseInputPath(raw string) (InputPath, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return InputPath{}, fmt.Errorf("empty input path")
	}

	if envVarPattern.MatchString(s) {
		return InputPath{Kind: EnvVar, Value: s[1:]}, nil
	}
	if tokenFuncPattern.MatchString(s) {
		return InputPath{Kind: TokenFunc, Value: s}, nil
	}

	negated := strings.HasPrefix(s, "!")
	if negated {
		s = s[1:]
	}

	workspace := strings.HasPrefix(s, "/")
	s = strings.TrimPrefix(strings.TrimPrefix(s, "/"), "./")
	if s == "" {
		s = "."
	}
	glob := negated || IsGlob(s)

	p := InputPath{Value: s, Negated: negated}
	switch {
	case workspace && glob:
		p.Kind = WorkspaceGlob
	case workspace:
		p.Kind = WorkspaceFile
	case glob:
		p.Kind = ProjectGlob
	default:
		p.Kind = ProjectFile
	}
	return p, nil
}

// TokenFunction splits a TokenFunc value into its function and argument.
func (p InputPath) TokenFunction() (fn, arg string, ok bool) {
	m := tokenFuncPattern.FindStringSubmatch(p.Value)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// IsGlob reports whether the path is a glob pattern.
func (p InputPath) IsGlob() bool { return p.Kind == ProjectGlob || p.Kind == WorkspaceGlob }

// IsFile reports whether the path is a literal file or directory.
func (p InputPath) IsFile() bool { return p.Kind == ProjectFile || p.Kind == WorkspaceFile }

// WorkspaceRelative resolves the path against projectSource. Negated globs keep their "!".
func (p InputPath) WorkspaceRelative(projectSource string) string {
	var out string
	switch p.Kind {
	case WorkspaceFile, WorkspaceGlob:
		out = path.Clean(p.Value)
	case ProjectFile, ProjectGlob:
		out = path.Join(projectSource, p.Value)
	default:
		return p.Value
	}
	out = strings.TrimPrefix(out, "./")
	if p.Negated {
		return "!" + out
	}
	return out
}

// String renders the path back in config form.
func (p InputPath) String() string {
	switch p.Kind {
	case EnvVar:
		return "$" + p.Value
	case TokenFunc:
		return p.Value
	}
	s := p.Value
	if p.Kind == WorkspaceFile || p.Kind == WorkspaceGlob {
		s = "/" + s
	}
	if p.Negated {
		s = "!" + s
	}
	return s
}

// MarshalJSON encodes the path in config form.
func (p InputPath) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON parses the config form.
func (p *InputPath) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseInputPath(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// IsGlob reports whether s contains glob metacharacters.
func IsGlob(s string) bool {
	return strings.ContainsAny(s, "*?[{")
}
