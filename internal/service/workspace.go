// Package service builds the project and action graphs of a workspace and
// runs the action pipeline.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/Strob0t/moon/internal/adapter/node"
	"github.com/Strob0t/moon/internal/adapter/ristretto"
	"github.com/Strob0t/moon/internal/adapter/system"
	"github.com/Strob0t/moon/internal/cache"
	"github.com/Strob0t/moon/internal/config"
	portcache "github.com/Strob0t/moon/internal/port/cache"
	"github.com/Strob0t/moon/internal/port/platform"
	"github.com/Strob0t/moon/internal/port/vcs"
	"github.com/Strob0t/moon/internal/vcspool"
)

// memoCost bounds the in-process file hash memo.
const memoCost = 64 << 20

// Workspace is the loaded workspace: configuration plus the collaborators
// every other service shares. It is read-only once loaded.
type Workspace struct {
	Root           string
	Config         *config.Workspace
	Toolchain      *config.Toolchain
	InheritedTasks map[string]*config.InheritedTasks
	Cache          *cache.Engine
	Vcs            vcs.Vcs
	Platforms      *platform.Registry
}

// LoadWorkspace finds the workspace containing start and loads it.
// The VCS adapter named by vcs.manager must have been registered.
func LoadWorkspace(ctx context.Context, start string) (*Workspace, error) {
	root, err := config.FindRoot(start)
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadWorkspace(root)
	if err != nil {
		return nil, err
	}
	tc, err := config.LoadToolchain(root)
	if err != nil {
		return nil, err
	}
	inherited, err := config.LoadInheritedTasks(root)
	if err != nil {
		return nil, err
	}

	engine, err := cache.New(root, cache.ParseCompression(cfg.Cache.Compression))
	if err != nil {
		return nil, fmt.Errorf("cache engine: %w", err)
	}

	var memo portcache.HashMemo = portcache.Nop{}
	if rc, err := ristretto.New(memoCost); err == nil {
		memo = rc
	} else {
		slog.Warn("file hash memo disabled", "error", err)
	}

	v, err := vcs.New(cfg.VCS.Manager, vcs.Config{
		Root:             root,
		DefaultBranch:    cfg.VCS.DefaultBranch,
		RemoteCandidates: cfg.VCS.RemoteCandidates,
		Pool:             vcspool.NewPool(cfg.VCS.MaxConcurrent),
		Memo:             memo,
	})
	if err != nil {
		return nil, fmt.Errorf("vcs: %w", err)
	}

	platforms, err := NewPlatformRegistry(root, tc)
	if err != nil {
		return nil, err
	}

	slog.DebugContext(ctx, "workspace loaded", "root", root, "vcs", v.Name(), "vcs_enabled", v.IsEnabled())
	return &Workspace{
		Root:           root,
		Config:         cfg,
		Toolchain:      tc,
		InheritedTasks: inherited,
		Cache:          engine,
		Vcs:            v,
		Platforms:      platforms,
	}, nil
}

// NewPlatformRegistry registers every configured platform. System is
// always present and always consulted last.
func NewPlatformRegistry(root string, tc *config.Toolchain) (*platform.Registry, error) {
	reg := platform.NewRegistry(system.New())
	if tc != nil && tc.Node != nil {
		n, err := node.New(root, *tc.Node)
		if err != nil {
			return nil, err
		}
		reg.Register(n)
	}
	return reg, nil
}

// vcsEnabled reports whether a usable VCS is attached.
func (w *Workspace) vcsEnabled() bool {
	return w.Vcs != nil && w.Vcs.IsEnabled()
}

// RelativeDir converts an absolute directory into a workspace-relative,
// slash separated path; "." for the root or anything outside it.
func (w *Workspace) RelativeDir(dir string) string {
	rel, err := filepath.Rel(w.Root, dir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "."
	}
	return filepath.ToSlash(rel)
}
