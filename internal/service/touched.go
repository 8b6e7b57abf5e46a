package service

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/Strob0t/moon/internal/domain"
	"github.com/Strob0t/moon/internal/domain/touched"
)

// TouchedOptions selects which changes count as touched.
type TouchedOptions struct {
	// Base and Head bound a revision range; empty values fall back to
	// MOON_BASE/MOON_HEAD, then the default branch and HEAD.
	Base string `json:"base,omitempty"`
	Head string `json:"head,omitempty"`
	// Local diffs the working tree instead of a revision range.
	Local bool `json:"local"`
	// DefaultBranch compares against the previous revision when the
	// checkout is on the default branch.
	DefaultBranch bool `json:"defaultBranch"`
	// Status filters the result; empty keeps every status.
	Status []touched.Status `json:"status,omitempty"`
}

// TouchedResult is the outcome of a touched-files query. It is also the
// JSON document accepted on stdin.
type TouchedResult struct {
	Files   []string       `json:"files"`
	Options TouchedOptions `json:"options"`
	// Shallow is set when the history needed for the query was missing.
	Shallow bool `json:"shallow,omitempty"`
}

// Set returns the touched files as a set.
func (r *TouchedResult) Set() touched.Set {
	if r == nil {
		return touched.NewSet()
	}
	return touched.NewSet(r.Files...)
}

// QueryTouchedFiles asks the VCS for the touched files. The working tree
// is used when opts.Local is set; otherwise a revision range is diffed, or
// the previous revision when on the default branch with no explicit base.
func QueryTouchedFiles(ctx context.Context, ws *Workspace, opts TouchedOptions) (*TouchedResult, error) {
	res := &TouchedResult{Files: []string{}, Options: opts}
	if !ws.vcsEnabled() {
		slog.WarnContext(ctx, "no version control detected, nothing is touched")
		return res, nil
	}

	var (
		files *touched.Files
		err   error
	)
	if opts.Local {
		files, err = ws.Vcs.TouchedFiles(ctx)
	} else {
		files, err = queryRevisions(ctx, ws, &res.Options)
		if errors.Is(err, domain.ErrShallowCheckout) {
			res.Shallow = true
			slog.WarnContext(ctx, "shallow checkout, touched files could not be determined")
			return res, nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("touched files: %w", err)
	}

	files.Normalize()
	res.Files = files.Select(opts.Status...)
	slog.DebugContext(ctx, "touched files", "count", len(res.Files), "local", opts.Local,
		"base", res.Options.Base, "head", res.Options.Head)
	return res, nil
}

func queryRevisions(ctx context.Context, ws *Workspace, opts *TouchedOptions) (*touched.Files, error) {
	shallow, err := ws.Vcs.IsShallowCheckout(ctx)
	if err != nil {
		return nil, err
	}
	if shallow {
		return nil, domain.ErrShallowCheckout
	}

	explicitBase := opts.Base != "" || os.Getenv("MOON_BASE") != ""
	base := firstNonEmpty(opts.Base, os.Getenv("MOON_BASE"))
	head := firstNonEmpty(opts.Head, os.Getenv("MOON_HEAD"))

	defaultBranch, err := ws.Vcs.DefaultBranch(ctx)
	if err != nil {
		return nil, err
	}
	if base == "" {
		base = defaultBranch
	}

	if !explicitBase {
		branch, err := ws.Vcs.LocalBranch(ctx)
		if err != nil {
			return nil, err
		}
		if opts.DefaultBranch || branch == defaultBranch {
			rev := head
			if rev == "" {
				if rev, err = ws.Vcs.LocalRevision(ctx); err != nil {
					return nil, err
				}
			}
			opts.Head = rev
			return ws.Vcs.TouchedFilesAgainstPrevious(ctx, rev)
		}
	}

	if head == "" {
		head = "HEAD"
	}
	opts.Base, opts.Head = base, head
	return ws.Vcs.TouchedFilesBetween(ctx, base, head)
}

// ReadTouchedFiles parses piped touched files. A payload starting with '{'
// is a TouchedResult document; anything else is one path per line.
func ReadTouchedFiles(r io.Reader) (*TouchedResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read touched files: %w", err)
	}
	trimmed := bytes.TrimSpace(data)
	if bytes.HasPrefix(trimmed, []byte("{")) {
		var res TouchedResult
		if err := json.Unmarshal(trimmed, &res); err != nil {
			return nil, fmt.Errorf("parse touched files: %w", err)
		}
		res.Files = touched.NewSet(res.Files...).Sorted()
		return &res, nil
	}

	var paths []string
	sc := bufio.NewScanner(bytes.NewReader(trimmed))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			paths = append(paths, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read touched files: %w", err)
	}
	return &TouchedResult{Files: touched.NewSet(paths...).Sorted()}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
