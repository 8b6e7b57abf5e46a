package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Strob0t/moon/internal/cache"
	"github.com/Strob0t/moon/internal/domain"
	"github.com/Strob0t/moon/internal/domain/action"
	"github.com/Strob0t/moon/internal/domain/actiongraph"
	"github.com/Strob0t/moon/internal/domain/event"
	"github.com/Strob0t/moon/internal/domain/projectgraph"
	"github.com/Strob0t/moon/internal/port/subscriber"
)

// errDependencyFailed marks actions skipped because a predecessor failed.
var errDependencyFailed = errors.New("a dependency failed")

// Pipeline executes an action graph batch by batch.
type Pipeline struct {
	ws       *Workspace
	projects *projectgraph.Graph
	emitter  *subscriber.Emitter

	// Concurrency bounds the actions running at once; 0 uses the CPU count.
	Concurrency int
	// BailOnError stops the run at the first failed task.
	BailOnError bool
	// Stdout and Stderr receive task output; they default to the process streams.
	Stdout io.Writer
	Stderr io.Writer

	outMu   sync.Mutex
	offline func(context.Context) bool
}

// RunResult is the outcome of a pipeline run.
type RunResult struct {
	Actions  []*action.Action `json:"actions"`
	Duration time.Duration    `json:"duration"`
	Aborted  bool             `json:"aborted"`
	Err      error            `json:"-"`
}

// Failed reports whether any action failed without being allowed to.
func (r *RunResult) Failed() bool {
	if r.Err != nil {
		return true
	}
	for _, a := range r.Actions {
		if a.HasFailed() && !a.AllowFailure {
			return true
		}
	}
	return false
}

// Flaky returns the actions that only passed after a retry.
func (r *RunResult) Flaky() []*action.Action {
	var out []*action.Action
	for _, a := range r.Actions {
		if a.Flaky {
			out = append(out, a)
		}
	}
	return out
}

// NewPipeline creates a pipeline configured from the workspace runner settings.
func NewPipeline(ws *Workspace, projects *projectgraph.Graph, emitter *subscriber.Emitter) *Pipeline {
	return &Pipeline{
		ws:          ws,
		projects:    projects,
		emitter:     emitter,
		Concurrency: ws.Config.Runner.Concurrency,
		BailOnError: ws.Config.Runner.BailOnError,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
		offline:     probeOffline,
	}
}

// Run executes g. Batches run in order; actions of a batch run in parallel.
// The returned error is the first error that stopped the run.
func (p *Pipeline) Run(ctx context.Context, g *actiongraph.Graph, actx *ActionContext) (*RunResult, error) {
	start := time.Now()
	batches, err := g.Batches()
	if err != nil {
		return nil, err
	}

	concurrency := p.Concurrency
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	p.emitter.Emit(runCtx, event.Event{Type: event.TypePipelineStarted})
	slog.DebugContext(ctx, "pipeline started", "actions", g.Len(), "batches", len(batches), "concurrency", concurrency)

	var (
		sem     = semaphore.NewWeighted(int64(concurrency))
		actions = make([]*action.Action, g.Len())
		blocked = make([]bool, g.Len())

		errMu    sync.Mutex
		firstErr error
	)
	// bail records the first failure and cancels the run, which stops new
	// launches and signals running children. Failures caused by an outer
	// cancellation are reported as such below.
	bail := func(a *action.Action) {
		if ctx.Err() != nil || !a.ShouldBail(p.BailOnError) {
			return
		}
		errMu.Lock()
		defer errMu.Unlock()
		if firstErr != nil {
			slog.WarnContext(ctx, "action failed after cancellation", "action", a.Label, "error", a.Err())
			return
		}
		firstErr = fmt.Errorf("%s: %w", a.Label, a.Err())
		cancel(firstErr)
	}

	for bi, batch := range batches {
		if runCtx.Err() != nil {
			break
		}

		var wg sync.WaitGroup
		for _, idx := range batch {
			if runCtx.Err() != nil {
				break
			}
			a := action.New(g.Node(idx), idx)

			if p.hasFailedDependency(g, idx, actions, blocked) {
				actions[idx] = a
				blocked[idx] = true
				a.Start()
				a.SetError(errDependencyFailed)
				a.Finish(action.StatusSkipped)
				continue
			}

			// Persistent tasks never finish, so they cannot hold a slot.
			bounded := !a.Node.Persistent
			if bounded {
				if err := sem.Acquire(runCtx, 1); err != nil {
					break
				}
			}
			if runCtx.Err() != nil {
				if bounded {
					sem.Release(1)
				}
				break
			}
			actions[idx] = a
			wg.Add(1)
			go func() {
				defer wg.Done()
				if bounded {
					defer sem.Release(1)
				}
				p.runAction(runCtx, actx, a)
				bail(a)
			}()
		}
		wg.Wait()
		slog.DebugContext(ctx, "batch finished", "batch", bi, "size", len(batch))
	}

	if firstErr == nil && ctx.Err() != nil {
		firstErr = fmt.Errorf("%w: %w", domain.ErrCancelled, context.Cause(ctx))
	}

	res := &RunResult{Duration: time.Since(start), Aborted: firstErr != nil, Err: firstErr}
	for _, a := range actions {
		if a != nil {
			res.Actions = append(res.Actions, a)
		}
	}

	finished := event.Event{
		Type:     event.TypePipelineFinished,
		Actions:  res.Actions,
		Duration: res.Duration,
		Aborted:  res.Aborted,
	}
	if firstErr != nil {
		finished.Error = firstErr.Error()
	}
	// Subscribers still get the final event when the run was interrupted.
	p.emitter.Emit(context.WithoutCancel(ctx), finished)

	p.saveReport(ctx, res)
	p.cleanCache(ctx)
	return res, firstErr
}

func (p *Pipeline) hasFailedDependency(g *actiongraph.Graph, idx int, actions []*action.Action, blocked []bool) bool {
	for _, dep := range g.Dependencies(idx) {
		if blocked[dep] {
			return true
		}
		if a := actions[dep]; a == nil || (a.HasFailed() && !a.AllowFailure) {
			return true
		}
	}
	return false
}

// runAction drives the lifecycle of one action and emits its events.
func (p *Pipeline) runAction(ctx context.Context, actx *ActionContext, a *action.Action) {
	a.Start()
	p.emitter.Emit(ctx, event.Event{Type: event.TypeActionStarted, Action: a, Target: a.Node.Target, Runtime: a.Node.Runtime})

	var (
		status action.Status
		err    error
	)
	switch a.Node.Kind {
	case action.KindSyncWorkspace:
		status, err = p.syncWorkspace(ctx)
	case action.KindSetupToolchain:
		status, err = p.setupToolchain(ctx, a)
	case action.KindInstallDeps:
		status, err = p.installDeps(ctx, a)
	case action.KindSyncProject:
		status, err = p.syncProject(ctx, a)
	case action.KindRunTask:
		status, err = p.runTask(ctx, actx, a)
	default:
		err = fmt.Errorf("unknown action %q", a.Node.Kind)
	}

	if err != nil {
		a.Fail(err)
		slog.ErrorContext(ctx, "action failed", "action", a.Label, "status", string(a.Status), "error", err)
	} else {
		a.Finish(status)
		slog.DebugContext(ctx, "action finished", "action", a.Label, "status", string(status), "duration", a.Duration)
	}

	ev := event.Event{Type: event.TypeActionFinished, Action: a, Target: a.Node.Target, Runtime: a.Node.Runtime, Hash: a.Hash}
	if err != nil {
		ev.Error = err.Error()
	}
	p.emitter.Emit(ctx, ev)
}

// saveReport writes the final action list to runReport.json as an array.
func (p *Pipeline) saveReport(ctx context.Context, res *RunResult) {
	if !cache.CurrentMode().Writable() {
		return
	}
	data, err := json.MarshalIndent(res.Actions, "", "  ")
	if err != nil {
		slog.WarnContext(ctx, "encode run report", "error", err)
		return
	}
	if err := p.ws.Cache.WriteFile(cache.RunReportPath, data); err != nil {
		slog.WarnContext(ctx, "save run report", "error", err)
	}
}

func (p *Pipeline) cleanCache(ctx context.Context) {
	runner := p.ws.Config.Runner
	if !runner.AutoCleanCache || runner.CacheLifetime == "" {
		return
	}
	lifetime, err := cache.ParseLifetime(runner.CacheLifetime)
	if err != nil {
		slog.WarnContext(ctx, "invalid cache lifetime", "lifetime", runner.CacheLifetime, "error", err)
		return
	}
	stats, err := p.ws.Cache.CleanStale(lifetime)
	if err != nil {
		slog.WarnContext(ctx, "clean stale cache", "error", err)
		return
	}
	if stats.FilesDeleted > 0 {
		slog.DebugContext(ctx, "cleaned stale cache", "files", stats.FilesDeleted, "bytes", stats.BytesSaved)
	}
}

// write serializes output blocks of concurrent tasks.
func (p *Pipeline) write(w io.Writer, data []byte) {
	if len(data) == 0 {
		return
	}
	p.outMu.Lock()
	defer p.outMu.Unlock()
	_, _ = w.Write(data)
}
