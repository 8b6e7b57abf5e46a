package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/Strob0t/moon/internal/domain/project"
)

// sectionFor maps a dependency scope to the package.json section it lives in.
func sectionFor(scope project.DependencyScope) string {
	switch scope {
	case project.ScopeProduction:
		return "dependencies"
	case project.ScopeDevelopment:
		return "devDependencies"
	case project.ScopePeer:
		return "peerDependencies"
	default:
		return ""
	}
}

// SyncProject adds every workspace dependency of p that package.json does
// not declare yet. Existing entries are never rewritten, so a second run
// without changes reports false. Key order of the manifest is preserved.
func (n *Node) SyncProject(_ context.Context, p *project.Project, deps map[string]*project.Project) (bool, error) {
	if !n.cfg.SyncProjectWorkspaceDependencies {
		return false, nil
	}
	path := filepath.Join(p.Root, ManifestFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("node: sync %s: %w", p.ID, err)
	}

	doc := orderedmap.New[string, json.RawMessage]()
	if err := json.Unmarshal(data, doc); err != nil {
		return false, fmt.Errorf("node: sync %s: parse %s: %w", p.ID, ManifestFile, err)
	}

	sections := make(map[string]*orderedmap.OrderedMap[string, string])
	section := func(name string) (*orderedmap.OrderedMap[string, string], error) {
		if s, ok := sections[name]; ok {
			return s, nil
		}
		s := orderedmap.New[string, string]()
		if raw, ok := doc.Get(name); ok {
			if err := json.Unmarshal(raw, s); err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
		}
		sections[name] = s
		return s, nil
	}

	var changed []string
	for _, id := range p.DependencyIDs() {
		dep, ok := deps[id]
		name := sectionFor(p.Dependencies[id].Scope)
		if !ok || name == "" {
			continue
		}
		depManifest, err := n.manifests.Read(dep.Root)
		if err != nil {
			return false, fmt.Errorf("node: sync %s: %w", p.ID, err)
		}
		if depManifest == nil || depManifest.Name == "" {
			continue
		}

		s, err := section(name)
		if err != nil {
			return false, fmt.Errorf("node: sync %s: %w", p.ID, err)
		}
		if _, declared := s.Get(depManifest.Name); declared {
			continue
		}
		s.Set(depManifest.Name, n.versionFor(p, dep, depManifest, name))
		changed = append(changed, name)
	}
	if len(changed) == 0 {
		return false, nil
	}

	for _, name := range changed {
		raw, err := json.Marshal(sections[name])
		if err != nil {
			return false, fmt.Errorf("node: sync %s: %w", p.ID, err)
		}
		doc.Set(name, raw)
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return false, fmt.Errorf("node: sync %s: %w", p.ID, err)
	}
	if err := os.WriteFile(path, append(out, '\n'), 0o644); err != nil {
		return false, fmt.Errorf("node: sync %s: %w", p.ID, err)
	}
	n.manifests.Forget(p.Root)
	return true, nil
}

// versionFor renders the version range used for a workspace dependency.
func (n *Node) versionFor(p, dep *project.Project, depManifest *manifest, section string) string {
	if section == "peerDependencies" && depManifest.Version != "" {
		return "^" + depManifest.Version
	}
	format := n.cfg.DependencyVersionFormat
	if format == "workspace" && n.cfg.PackageManager == "npm" {
		format = "file"
	}
	switch format {
	case "star":
		return "*"
	case "file":
		rel, err := filepath.Rel(p.Root, dep.Root)
		if err != nil {
			return "*"
		}
		return "file:" + filepath.ToSlash(rel)
	default:
		return "workspace:*"
	}
}
