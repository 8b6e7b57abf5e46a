package cache

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
)

// HydrateResult summarizes a hydration.
type HydrateResult struct {
	Restored  int
	Unchanged int
	Ignored   int
}

// Hydrate restores outputs/<hash> into the workspace. Only members covered by
// the currently declared outputs are restored, files whose size and content
// already match are left alone, and the root logs are written into stateDir.
// It returns false when the cache is not readable or no archive exists.
func (e *Engine) Hydrate(hash, projectSource string, outputs Outputs, stateDir string) (bool, HydrateResult, error) {
	var res HydrateResult
	if !CurrentMode().Readable() || !e.HasArchive(hash) {
		return false, res, nil
	}

	f, err := os.Open(e.ArchivePath(hash))
	if err != nil {
		return false, res, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	r, closeFn, err := e.decompressor(f)
	if err != nil {
		return false, res, fmt.Errorf("read archive %s: %w", hash, err)
	}
	defer closeFn()

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return false, res, fmt.Errorf("read archive %s: %w", hash, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		data, err := io.ReadAll(tr)
		if err != nil {
			return false, res, fmt.Errorf("read member %s: %w", hdr.Name, err)
		}

		if hdr.Name == StdoutLog || hdr.Name == StderrLog {
			if err := writeFileAtomic(filepath.Join(stateDir, hdr.Name), data, 0o644); err != nil {
				return false, res, fmt.Errorf("restore %s: %w", hdr.Name, err)
			}
			continue
		}

		rel, err := workspacePath(projectSource, hdr.Name)
		if err != nil {
			slog.Warn("skipping archive member", "hash", hash, "error", err)
			res.Ignored++
			continue
		}
		if !outputs.Matches(rel) {
			res.Ignored++
			continue
		}

		dest := filepath.Join(e.WorkspaceRoot, filepath.FromSlash(rel))
		if sameContent(dest, data) {
			res.Unchanged++
			continue
		}
		if err := writeFileAtomic(dest, data, os.FileMode(hdr.Mode).Perm()); err != nil {
			return false, res, fmt.Errorf("restore %s: %w", rel, err)
		}
		res.Restored++
	}

	return true, res, nil
}

func sameContent(path string, data []byte) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() || info.Size() != int64(len(data)) {
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	d := xxhash.New()
	if _, err := io.Copy(d, f); err != nil {
		return false
	}
	return d.Sum64() == xxhash.Sum64(data)
}
