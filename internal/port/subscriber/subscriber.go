// Package subscriber defines the pipeline event subscriber port and the
// ordered emitter that dispatches events to subscribers.
package subscriber

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Strob0t/moon/internal/domain/event"
)

// Subscriber reacts to pipeline events. Returning a Break or Return flow stops
// the event from reaching later subscribers.
type Subscriber interface {
	// Name identifies the subscriber in logs.
	Name() string

	// OnEmit handles a single event.
	OnEmit(ctx context.Context, e *event.Event) (event.Flow, error)
}

type entry struct {
	mu  sync.Mutex
	sub Subscriber
}

// Emitter dispatches events to subscribers in registration order. Each
// subscriber sees events one at a time, in the order they were emitted.
type Emitter struct {
	runID string

	mu   sync.RWMutex
	subs []*entry
}

// NewEmitter creates an Emitter that stamps runID on every event.
func NewEmitter(runID string, subs ...Subscriber) *Emitter {
	e := &Emitter{runID: runID}
	for _, s := range subs {
		e.Subscribe(s)
	}
	return e
}

// RunID returns the id stamped on emitted events.
func (e *Emitter) RunID() string { return e.runID }

// Subscribe appends s to the subscriber list.
func (e *Emitter) Subscribe(s Subscriber) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subs = append(e.subs, &entry{sub: s})
}

// Names returns the subscriber names in dispatch order.
func (e *Emitter) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, len(e.subs))
	for i, en := range e.subs {
		names[i] = en.sub.Name()
	}
	return names
}

// Emit sends ev to each subscriber until one returns Break or Return, and
// returns that flow. Subscriber errors are logged and do not stop dispatch.
func (e *Emitter) Emit(ctx context.Context, ev event.Event) event.Flow {
	ev.RunID = e.runID
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	e.mu.RLock()
	subs := e.subs
	e.mu.RUnlock()

	for _, en := range subs {
		en.mu.Lock()
		flow, err := en.sub.OnEmit(ctx, &ev)
		en.mu.Unlock()

		if err != nil {
			slog.WarnContext(ctx, "subscriber failed", "subscriber", en.sub.Name(), "event", string(ev.Type), "error", err)
			continue
		}
		if flow.Kind != event.FlowContinue {
			return flow
		}
	}
	return event.Continue()
}
