// Package cache implements the local cache engine: state records, hash
// manifests and content-addressed output archives under .moon/cache.
package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Strob0t/moon/internal/domain/target"
	"github.com/Strob0t/moon/internal/domain/toolchain"
)

const cacheDirTag = `Signature: 8a477f597d28d172789f06886806bc55
# This file is a cache directory tag created by moon.
# For information about cache directory tags see https://bford.info/cachedir/
`

// Compression selects the output archive format.
type Compression string

const (
	CompressionGzip Compression = "gzip"
	CompressionZstd Compression = "zstd"
)

// ParseCompression defaults to gzip for empty or unknown values.
func ParseCompression(s string) Compression {
	if Compression(strings.ToLower(strings.TrimSpace(s))) == CompressionZstd {
		return CompressionZstd
	}
	return CompressionGzip
}

// Extension returns the archive file extension, including the tar part.
func (c Compression) Extension() string {
	if c == CompressionZstd {
		return ".tar.zst"
	}
	return ".tar.gz"
}

// Engine owns the cache directory of a workspace.
type Engine struct {
	WorkspaceRoot string
	Dir           string
	HashesDir     string
	OutputsDir    string
	StatesDir     string
	Compression   Compression
}

// New prepares <workspaceRoot>/.moon/cache and its subdirectories.
func New(workspaceRoot string, compression Compression) (*Engine, error) {
	dir := filepath.Join(workspaceRoot, ".moon", "cache")
	e := &Engine{
		WorkspaceRoot: workspaceRoot,
		Dir:           dir,
		HashesDir:     filepath.Join(dir, "hashes"),
		OutputsDir:    filepath.Join(dir, "outputs"),
		StatesDir:     filepath.Join(dir, "states"),
		Compression:   compression,
	}
	if e.Compression == "" {
		e.Compression = CompressionGzip
	}

	for _, d := range []string{e.HashesDir, e.OutputsDir, e.StatesDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir %s: %w", d, err)
		}
	}

	tag := filepath.Join(dir, "CACHEDIR.TAG")
	if _, err := os.Stat(tag); errors.Is(err, fs.ErrNotExist) {
		if err := writeFileAtomic(tag, []byte(cacheDirTag), 0o644); err != nil {
			return nil, fmt.Errorf("write CACHEDIR.TAG: %w", err)
		}
	}
	return e, nil
}

// ArchivePath returns the output archive location for hash.
func (e *Engine) ArchivePath(hash string) string {
	return filepath.Join(e.OutputsDir, hash+e.Compression.Extension())
}

// HasArchive reports whether an archive for hash exists locally.
func (e *Engine) HasArchive(hash string) bool {
	_, err := os.Stat(e.ArchivePath(hash))
	return err == nil
}

// ManifestPath returns the hash manifest location for hash.
func (e *Engine) ManifestPath(hash string) string {
	return filepath.Join(e.HashesDir, hash+".json")
}

// SaveManifest writes the hash manifest unless it exists or the cache is not writable.
func (e *Engine) SaveManifest(hash string, data []byte) error {
	if !CurrentMode().Writable() {
		return nil
	}
	p := e.ManifestPath(hash)
	if _, err := os.Stat(p); err == nil {
		return nil
	}
	return writeFileAtomic(p, data, 0o644)
}

// StateDir returns the absolute state directory of a task target.
func (e *Engine) StateDir(t target.Target) string {
	return filepath.Join(e.StatesDir, filepath.FromSlash(stateKey(t)))
}

func stateKey(t target.Target) string {
	if pid, ok := t.ProjectID(); ok {
		return pid + "/" + t.TaskID
	}
	return strings.ReplaceAll(t.String(), ":", "_")
}

// Relative paths of well-known state files, relative to the cache dir.
const (
	ToolchainStatePath    = "states/toolchain.json"
	WorkspaceStatePath    = "states/workspaceState.json"
	ProjectGraphStatePath = "states/projectGraph.json"
	RunReportPath         = "runReport.json"
)

// RunStatePath is the lastRunState.json path of t.
func RunStatePath(t target.Target) string {
	return "states/" + stateKey(t) + "/lastRunState.json"
}

// DepsStatePath is the install state path of a runtime, optionally per project.
func DepsStatePath(rt toolchain.Runtime, project string) string {
	name := rt.Key()
	if project != "" {
		name += "-" + project
	}
	return "states/deps/" + name + ".json"
}

// writeFileAtomic writes data to a temp file next to path, then renames it.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// WriteFile atomically writes a file under the cache dir when writable.
func (e *Engine) WriteFile(rel string, data []byte) error {
	if !CurrentMode().Writable() {
		return nil
	}
	if err := writeFileAtomic(filepath.Join(e.Dir, filepath.FromSlash(rel)), data, 0o644); err != nil {
		slog.Warn("cache write failed", "path", rel, "error", err)
		return err
	}
	return nil
}
