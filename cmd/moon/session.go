package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/Strob0t/moon/internal/adapter/localcache"
	moonnats "github.com/Strob0t/moon/internal/adapter/nats"
	moonotel "github.com/Strob0t/moon/internal/adapter/otel"
	"github.com/Strob0t/moon/internal/adapter/s3cache"
	"github.com/Strob0t/moon/internal/cache"
	"github.com/Strob0t/moon/internal/domain/affected"
	"github.com/Strob0t/moon/internal/domain/projectgraph"
	"github.com/Strob0t/moon/internal/domain/touched"
	"github.com/Strob0t/moon/internal/logger"
	"github.com/Strob0t/moon/internal/port/subscriber"
	"github.com/Strob0t/moon/internal/service"
)

const telemetryFlushTimeout = 5 * time.Second

// session holds the loaded workspace for a single command invocation.
type session struct {
	ws    *service.Workspace
	runID string
	// cwd is the workspace-relative working directory.
	cwd string

	projects *projectgraph.Graph
	closers  []func()
}

// openSession loads the workspace around the working directory, installs
// the configured logger and stamps a fresh run id into ctx.
func openSession(ctx context.Context) (context.Context, *session, error) {
	wd, err := os.Getwd()
	if err != nil {
		return ctx, nil, fmt.Errorf("working directory: %w", err)
	}
	ws, err := service.LoadWorkspace(ctx, wd)
	if err != nil {
		return ctx, nil, err
	}

	log, closer := logger.New(ws.Config.Logging)
	slog.SetDefault(log)

	s := &session{
		ws:      ws,
		runID:   uuid.NewString(),
		cwd:     ws.RelativeDir(wd),
		closers: []func(){closer.Close},
	}
	ctx = logger.WithRunID(ctx, s.runID)

	mode := cache.ModeFromEnv()
	slog.DebugContext(ctx, "session opened", "root", ws.Root, "cwd", s.cwd, "cache_mode", mode.String())
	return ctx, s, nil
}

// close releases everything the session opened, newest first.
func (s *session) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// projectGraph builds the project graph once per session.
func (s *session) projectGraph(ctx context.Context) (*projectgraph.Graph, error) {
	if s.projects != nil {
		return s.projects, nil
	}
	g, err := service.NewProjectGraphBuilder(s.ws).Build(ctx)
	if err != nil {
		return nil, err
	}
	s.projects = g
	return g, nil
}

// emitter wires the pipeline subscribers. The remote cache runs before the
// local one so a download lands before the local lookup. Optional
// subscribers that fail to start are logged and left out.
func (s *session) emitter(ctx context.Context) *subscriber.Emitter {
	cfg := s.ws.Config
	em := subscriber.NewEmitter(s.runID)

	if cfg.RemoteCache.Enabled() {
		rc, err := s3cache.New(cfg.RemoteCache, s.ws.Cache)
		if err != nil {
			slog.WarnContext(ctx, "remote cache disabled", "endpoint", cfg.RemoteCache.Endpoint, "error", err)
		} else {
			em.Subscribe(rc)
		}
	}

	em.Subscribe(localcache.New(s.ws.Cache))

	if cfg.Notifier.NatsURL != "" {
		n, err := moonnats.Connect(ctx, cfg.Notifier)
		if err != nil {
			slog.WarnContext(ctx, "event notifier disabled", "url", cfg.Notifier.NatsURL, "error", err)
		} else {
			em.Subscribe(n)
			s.closers = append(s.closers, func() { _ = n.Close() })
		}
	}

	shutdown, err := moonotel.Init(ctx, cfg.Telemetry, version)
	if err != nil {
		slog.WarnContext(ctx, "telemetry disabled", "endpoint", cfg.Telemetry.OTLPEndpoint, "error", err)
		return em
	}
	s.closers = append(s.closers, func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), telemetryFlushTimeout)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown", "error", err)
		}
	})
	sub, err := moonotel.NewSubscriber()
	if err != nil {
		slog.WarnContext(ctx, "telemetry subscriber disabled", "error", err)
		return em
	}
	em.Subscribe(sub)
	return em
}

// touchedFiles reads the touched files from stdin when it is piped, and
// asks the VCS otherwise.
func (s *session) touchedFiles(ctx context.Context, opts service.TouchedOptions) (*service.TouchedResult, error) {
	if stdinPiped() {
		slog.DebugContext(ctx, "reading touched files from stdin")
		return service.ReadTouchedFiles(os.Stdin)
	}
	return service.QueryTouchedFiles(ctx, s.ws, opts)
}

// affected computes the affected set. On a shallow checkout nothing is
// touched in CI; elsewhere filtering is disabled and nil is returned.
func (s *session) affected(ctx context.Context, opts service.TouchedOptions, ci bool) (*affected.Affected, touched.Set, error) {
	g, err := s.projectGraph(ctx)
	if err != nil {
		return nil, nil, err
	}
	res, err := s.touchedFiles(ctx, opts)
	if err != nil {
		return nil, nil, err
	}

	if res.Shallow {
		if !ci {
			slog.WarnContext(ctx, "shallow checkout, affected filtering disabled")
			return nil, nil, nil
		}
		slog.WarnContext(ctx, "shallow checkout, treating nothing as touched")
		res.Files = nil
	}

	files := res.Set()
	slog.DebugContext(ctx, "touched files", "count", len(files))
	a := affected.NewTracker(g, files).
		WithOptions(affected.DefaultOptions()).
		WithEnv(os.Getenv).
		Track()
	return a, files, nil
}

// isCI reports whether the CI environment variable marks a CI run.
func isCI() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("CI"))) {
	case "", "0", "false", "no":
		return false
	default:
		return true
	}
}

// stdinPiped reports whether stdin is a pipe or file rather than a terminal.
func stdinPiped() bool {
	if term.IsTerminal(int(os.Stdin.Fd())) { //nolint:gosec // fd fits in int
		return false
	}
	info, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&(os.ModeNamedPipe|os.ModeCharDevice) == os.ModeNamedPipe || info.Mode().IsRegular()
}
