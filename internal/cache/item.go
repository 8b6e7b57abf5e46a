package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Item is a JSON record loaded from the cache directory. Reads are skipped
// when the mode forbids them and Save is a no-op when writes are forbidden;
// Data stays usable either way.
type Item[T any] struct {
	Data T
	path string
}

// Load reads the record at rel (relative to the cache dir), returning a
// zero value when it is missing, unreadable or malformed.
func Load[T any](e *Engine, rel string) *Item[T] {
	item := &Item[T]{path: filepath.Join(e.Dir, filepath.FromSlash(rel))}
	if !CurrentMode().Readable() {
		return item
	}

	data, err := os.ReadFile(item.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("cache read failed", "path", rel, "error", err)
		}
		return item
	}
	if err := json.Unmarshal(data, &item.Data); err != nil {
		slog.Warn("cache record malformed, ignoring", "path", rel, "error", err)
		var zero T
		item.Data = zero
	}
	return item
}

// Path returns the absolute file path of the record.
func (i *Item[T]) Path() string { return i.path }

// Save writes the record atomically.
func (i *Item[T]) Save() error {
	if !CurrentMode().Writable() {
		return nil
	}
	data, err := json.MarshalIndent(i.Data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(i.path), err)
	}
	if err := writeFileAtomic(i.path, data, 0o644); err != nil {
		return fmt.Errorf("save %s: %w", i.path, err)
	}
	return nil
}

// RunState is the last run of a task target.
type RunState struct {
	Target      string `json:"target"`
	ExitCode    int    `json:"exitCode"`
	Hash        string `json:"hash"`
	LastRunTime int64  `json:"lastRunTime"`
}

// DepsState records the last successful dependency install.
type DepsState struct {
	LastHash        string `json:"lastHash"`
	LastInstallTime int64  `json:"lastInstallTime"`
}

// InstalledSince reports whether an install happened at or after t.
func (s DepsState) InstalledSince(t time.Time) bool {
	return s.LastInstallTime != 0 && s.LastInstallTime >= t.UnixMilli()
}

// ToolchainState records versions set up per platform.
type ToolchainState struct {
	LastVersions map[string]string `json:"lastVersions"`
}

// WorkspaceState records hashes of generated workspace files.
type WorkspaceState struct {
	CodeownersHash string `json:"codeownersHash,omitempty"`
	HooksHash      string `json:"hooksHash,omitempty"`
	LastSyncTime   int64  `json:"lastSyncTime,omitempty"`
}
