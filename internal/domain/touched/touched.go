// Package touched defines the VCS-derived set of changed files.
package touched

import (
	"path"
	"sort"
	"strings"
)

// Status selects which class of touched files to consider.
type Status string

const (
	StatusAdded     Status = "added"
	StatusAll       Status = "all"
	StatusDeleted   Status = "deleted"
	StatusModified  Status = "modified"
	StatusStaged    Status = "staged"
	StatusUnstaged  Status = "unstaged"
	StatusUntracked Status = "untracked"
)

// Files groups workspace-relative paths by change status. All is the union.
type Files struct {
	Added     []string `json:"added"`
	Deleted   []string `json:"deleted"`
	Modified  []string `json:"modified"`
	Staged    []string `json:"staged"`
	Unstaged  []string `json:"unstaged"`
	Untracked []string `json:"untracked"`
	All       []string `json:"all"`
}

// Normalize sorts and de-duplicates every list and recomputes All.
func (f *Files) Normalize() {
	f.Added = uniq(f.Added)
	f.Deleted = uniq(f.Deleted)
	f.Modified = uniq(f.Modified)
	f.Staged = uniq(f.Staged)
	f.Unstaged = uniq(f.Unstaged)
	f.Untracked = uniq(f.Untracked)

	all := make([]string, 0, len(f.Added)+len(f.Deleted)+len(f.Modified)+len(f.Untracked))
	all = append(all, f.Added...)
	all = append(all, f.Deleted...)
	all = append(all, f.Modified...)
	all = append(all, f.Staged...)
	all = append(all, f.Unstaged...)
	all = append(all, f.Untracked...)
	f.All = uniq(all)
}

// Select returns the files matching any of the statuses. An empty selection means all.
func (f *Files) Select(statuses ...Status) []string {
	if len(statuses) == 0 {
		return append([]string(nil), f.All...)
	}
	var out []string
	for _, s := range statuses {
		switch s {
		case StatusAll:
			out = append(out, f.All...)
		case StatusAdded:
			out = append(out, f.Added...)
		case StatusDeleted:
			out = append(out, f.Deleted...)
		case StatusModified:
			out = append(out, f.Modified...)
		case StatusStaged:
			out = append(out, f.Staged...)
		case StatusUnstaged:
			out = append(out, f.Unstaged...)
		case StatusUntracked:
			out = append(out, f.Untracked...)
		}
	}
	return uniq(out)
}

// Set is a lookup set of workspace-relative, slash-separated paths.
type Set map[string]struct{}

// NewSet builds a Set from paths, cleaning each entry.
func NewSet(paths ...string) Set {
	s := make(Set, len(paths))
	for _, p := range paths {
		if p = Clean(p); p != "" {
			s[p] = struct{}{}
		}
	}
	return s
}

// Has reports whether p is in the set.
func (s Set) Has(p string) bool {
	_, ok := s[p]
	return ok
}

// Sorted returns the set members in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Clean converts p into a slash-separated workspace-relative path.
func Clean(p string) string {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if p == "" {
		return ""
	}
	p = path.Clean(strings.TrimPrefix(p, "./"))
	if p == "." {
		return ""
	}
	return strings.TrimPrefix(p, "/")
}

func uniq(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, p := range in {
		p = Clean(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
