package target

import (
	"fmt"
	"strings"

	"github.com/Strob0t/moon/internal/domain"
)

// LocatorKind distinguishes the shapes a requested target may take on the command line.
type LocatorKind int

const (
	// LocatorQualified is a fully parsed target, e.g. `app:build` or `#tag:test`.
	LocatorQualified LocatorKind = iota
	// LocatorGlob matches project ids and/or task ids with glob patterns, e.g. `app-*:build`.
	LocatorGlob
	// LocatorPath maps a relative directory to the project that owns it, e.g. `./apps/web:build`.
	LocatorPath
	// LocatorDefaultProject is a bare task id resolved against the project of the working directory.
	LocatorDefaultProject
)

// Locator is an unresolved target request.
type Locator struct {
	Kind      LocatorKind
	Original  string
	Target    Target // LocatorQualified
	ScopeGlob string // LocatorGlob; may start with '#' for tag globs
	TaskGlob  string // LocatorGlob
	Path      string // LocatorPath
	TaskID    string // LocatorPath, LocatorDefaultProject
}

// ParseLocator classifies and parses a requested target.
func ParseLocator(s string) (Locator, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Locator{}, fmt.Errorf("%w: empty target", domain.ErrUnknownTarget)
	}

	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		if IsGlob(s) {
			return Locator{Kind: LocatorGlob, Original: s, ScopeGlob: "*", TaskGlob: s}, nil
		}
		return Locator{Kind: LocatorDefaultProject, Original: s, TaskID: s}, nil
	}

	scope, task := s[:idx], s[idx+1:]
	if task == "" {
		return Locator{}, fmt.Errorf("%w: missing task in %q", domain.ErrUnknownTarget, s)
	}

	if strings.HasPrefix(scope, "./") || strings.HasPrefix(scope, "../") || scope == "." {
		return Locator{Kind: LocatorPath, Original: s, Path: scope, TaskID: task}, nil
	}

	if IsGlob(scope) || IsGlob(task) {
		if scope == "" {
			scope = "*"
		}
		return Locator{Kind: LocatorGlob, Original: s, ScopeGlob: scope, TaskGlob: task}, nil
	}

	t, err := Parse(s)
	if err != nil {
		return Locator{}, err
	}
	return Locator{Kind: LocatorQualified, Original: s, Target: t}, nil
}

// IsGlob reports whether s contains glob metacharacters.
func IsGlob(s string) bool {
	return strings.ContainsAny(s, "*?[{")
}
