package cache

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Log file names stored at the archive root and in a task's state dir.
const (
	StdoutLog = "stdout.log"
	StderrLog = "stderr.log"
)

// Outputs are the declared, workspace-relative outputs of a task.
type Outputs struct {
	Files []string
	Globs []string
}

// Empty reports whether nothing was declared.
func (o Outputs) Empty() bool { return len(o.Files) == 0 && len(o.Globs) == 0 }

// Matches reports whether the workspace-relative path is covered by a
// declared file, a directory containing it, or a glob.
func (o Outputs) Matches(rel string) bool {
	for _, f := range o.Files {
		if rel == f || strings.HasPrefix(rel, f+"/") {
			return true
		}
	}
	for _, g := range o.Globs {
		if ok, _ := doublestar.Match(g, rel); ok {
			return true
		}
	}
	return false
}

// Expand resolves outputs to existing regular files under root, sorted.
func (o Outputs) Expand(root string) ([]string, error) {
	seen := make(map[string]struct{})
	add := func(rel string) { seen[rel] = struct{}{} }

	for _, f := range o.Files {
		abs := filepath.Join(root, filepath.FromSlash(f))
		info, err := os.Stat(abs)
		if err != nil {
			continue
		}
		if !info.IsDir() {
			add(f)
			continue
		}
		err = filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
			if err != nil || !d.Type().IsRegular() {
				return err
			}
			rel, err := filepath.Rel(root, p)
			if err != nil {
				return err
			}
			add(filepath.ToSlash(rel))
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk output %s: %w", f, err)
		}
	}

	fsys := os.DirFS(root)
	for _, g := range o.Globs {
		matches, err := doublestar.Glob(fsys, g, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("glob output %s: %w", g, err)
		}
		for _, m := range matches {
			add(m)
		}
	}

	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

// Archive packs outputs, stored relative to projectSource, together with the
// logs found in stateDir into outputs/<hash>. It returns false when the cache
// is not writable, nothing was declared or the archive already exists.
func (e *Engine) Archive(hash, projectSource string, outputs Outputs, stateDir string) (bool, error) {
	if !CurrentMode().Writable() || outputs.Empty() || e.HasArchive(hash) {
		return false, nil
	}

	files, err := outputs.Expand(e.WorkspaceRoot)
	if err != nil {
		return false, err
	}

	dest := e.ArchivePath(hash)
	tmp, err := os.CreateTemp(e.OutputsDir, filepath.Base(dest)+".tmp.*")
	if err != nil {
		return false, fmt.Errorf("create archive: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	cw, err := e.compressor(tmp)
	if err != nil {
		return false, err
	}
	tw := tar.NewWriter(cw)

	for _, rel := range files {
		member, err := relativeTo(projectSource, rel)
		if err != nil {
			return false, err
		}
		if err := addFile(tw, filepath.Join(e.WorkspaceRoot, filepath.FromSlash(rel)), member); err != nil {
			return false, fmt.Errorf("archive %s: %w", rel, err)
		}
	}
	for _, log := range []string{StdoutLog, StderrLog} {
		p := filepath.Join(stateDir, log)
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := addFile(tw, p, log); err != nil {
			return false, fmt.Errorf("archive %s: %w", log, err)
		}
	}

	if err := tw.Close(); err != nil {
		return false, fmt.Errorf("finish tar: %w", err)
	}
	if err := cw.Close(); err != nil {
		return false, fmt.Errorf("finish compression: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return false, err
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return false, fmt.Errorf("commit archive: %w", err)
	}

	slog.Debug("archived outputs", "hash", hash, "files", len(files))
	return true, nil
}

func (e *Engine) compressor(w io.Writer) (io.WriteCloser, error) {
	if e.Compression == CompressionZstd {
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedFastest))
	}
	return gzip.NewWriterLevel(w, gzip.DefaultCompression)
}

func (e *Engine) decompressor(r io.Reader) (io.Reader, func(), error) {
	if e.Compression == CompressionZstd {
		d, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return d, d.Close, nil
	}
	g, err := gzip.NewReader(r)
	if err != nil {
		return nil, nil, err
	}
	return g, func() { _ = g.Close() }, nil
}

func addFile(tw *tar.Writer, abs, name string) error {
	info, err := os.Stat(abs)
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = name
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	f, err := os.Open(abs)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(tw, f)
	return err
}

// relativeTo converts a workspace-relative path into one relative to the
// project source. Outputs outside the project keep a "../" prefix.
func relativeTo(projectSource, rel string) (string, error) {
	if projectSource == "" || projectSource == "." {
		return rel, nil
	}
	r, err := filepath.Rel(filepath.FromSlash(projectSource), filepath.FromSlash(rel))
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(r), nil
}

// workspacePath maps an archive member back to a workspace-relative path and
// rejects members that would escape the workspace.
func workspacePath(projectSource, member string) (string, error) {
	p := path.Clean(path.Join(projectSource, member))
	if p == ".." || strings.HasPrefix(p, "../") || path.IsAbs(p) {
		return "", fmt.Errorf("archive member %q escapes the workspace", member)
	}
	return p, nil
}
