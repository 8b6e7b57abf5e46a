// Package localcache answers pipeline cache checks from the workspace's
// local output archives and records the last run of every task.
package localcache

import (
	"context"
	"fmt"

	"github.com/Strob0t/moon/internal/cache"
	"github.com/Strob0t/moon/internal/domain/event"
)

// Subscriber is the local cache event subscriber.
type Subscriber struct {
	engine *cache.Engine
}

// New creates a subscriber backed by engine.
func New(engine *cache.Engine) *Subscriber {
	return &Subscriber{engine: engine}
}

// Name returns "local-cache".
func (s *Subscriber) Name() string { return event.LocationLocal }

// OnEmit answers cache checks with event.LocationLocal when an archive for
// the hash exists, and saves lastRunState.json once a task ran.
func (s *Subscriber) OnEmit(_ context.Context, ev *event.Event) (event.Flow, error) {
	switch ev.Type {
	case event.TypeTargetOutputCacheCheck:
		if ev.Hash != "" && cache.CurrentMode().Readable() && s.engine.HasArchive(ev.Hash) {
			return event.Return(event.LocationLocal), nil
		}

	case event.TypeTaskRan:
		if ev.Action == nil || ev.Hash == "" {
			break
		}
		exitCode := 0
		if last := ev.Action.LastExecution(); last != nil && last.Execution != nil {
			exitCode = last.Execution.ExitCode
		}
		item := cache.Load[cache.RunState](s.engine, cache.RunStatePath(ev.Target))
		item.Data = cache.RunState{
			Target:      ev.Target.String(),
			ExitCode:    exitCode,
			Hash:        ev.Hash,
			LastRunTime: ev.Time.UnixMilli(),
		}
		if err := item.Save(); err != nil {
			return event.Continue(), fmt.Errorf("save run state of %s: %w", ev.Target, err)
		}
	}
	return event.Continue(), nil
}
