package node

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/buger/jsonparser"
	lru "github.com/hashicorp/golang-lru/v2"
)

// ManifestFile is the name of a node package manifest.
const ManifestFile = "package.json"

// manifest holds the parts of package.json this platform reads.
type manifest struct {
	Name             string
	Version          string
	Dependencies     map[string]string
	DevDependencies  map[string]string
	PeerDependencies map[string]string
	Scripts          map[string]string
}

// AllDependencies merges every dependency section, production winning.
func (m *manifest) AllDependencies() map[string]string {
	out := make(map[string]string)
	for _, section := range []map[string]string{m.PeerDependencies, m.DevDependencies, m.Dependencies} {
		for k, v := range section {
			out[k] = v
		}
	}
	return out
}

// ScriptNames returns the script names, sorted.
func (m *manifest) ScriptNames() []string {
	names := make([]string, 0, len(m.Scripts))
	for n := range m.Scripts {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func parseManifest(data []byte) (*manifest, error) {
	m := &manifest{}
	var err error
	if m.Name, err = optionalString(data, "name"); err != nil {
		return nil, err
	}
	if m.Version, err = optionalString(data, "version"); err != nil {
		return nil, err
	}
	if m.Dependencies, err = stringMap(data, "dependencies"); err != nil {
		return nil, err
	}
	if m.DevDependencies, err = stringMap(data, "devDependencies"); err != nil {
		return nil, err
	}
	if m.PeerDependencies, err = stringMap(data, "peerDependencies"); err != nil {
		return nil, err
	}
	if m.Scripts, err = stringMap(data, "scripts"); err != nil {
		return nil, err
	}
	return m, nil
}

func optionalString(data []byte, key string) (string, error) {
	s, err := jsonparser.GetString(data, key)
	if errors.Is(err, jsonparser.KeyPathNotFoundError) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%s: %w", key, err)
	}
	return s, nil
}

func stringMap(data []byte, keys ...string) (map[string]string, error) {
	out := make(map[string]string)
	err := jsonparser.ObjectEach(data, func(k, v []byte, t jsonparser.ValueType, _ int) error {
		if t != jsonparser.String {
			return nil
		}
		key, err := jsonparser.ParseString(k)
		if err != nil {
			return err
		}
		val, err := jsonparser.ParseString(v)
		if err != nil {
			return err
		}
		out[key] = val
		return nil
	}, keys...)
	if errors.Is(err, jsonparser.KeyPathNotFoundError) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%v: %w", keys, err)
	}
	return out, nil
}

type cachedManifest struct {
	size    int64
	modTime time.Time
	m       *manifest
}

// manifestCache keeps parsed manifests until the file on disk changes.
type manifestCache struct {
	lru *lru.Cache[string, cachedManifest]
}

func newManifestCache(size int) (*manifestCache, error) {
	c, err := lru.New[string, cachedManifest](size)
	if err != nil {
		return nil, err
	}
	return &manifestCache{lru: c}, nil
}

// Read returns the manifest in dir, or nil when it has none.
func (c *manifestCache) Read(dir string) (*manifest, error) {
	path := filepath.Join(dir, ManifestFile)
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if hit, ok := c.lru.Get(path); ok && hit.size == info.Size() && hit.modTime.Equal(info.ModTime()) {
		return hit.m, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := parseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	c.lru.Add(path, cachedManifest{size: info.Size(), modTime: info.ModTime(), m: m})
	return m, nil
}

// Forget drops the cached manifest of dir.
func (c *manifestCache) Forget(dir string) {
	c.lru.Remove(filepath.Join(dir, ManifestFile))
}
