package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Closer flushes and stops a logger.
type Closer interface {
	Close()
}

type nopCloser struct{}

func (nopCloser) Close() {}

// AsyncHandler moves record formatting and writing off the task goroutines.
// A single writer drains the queue, so records keep their emission order.
// Records that do not fit into the queue are dropped and counted; Close
// reports the count through the wrapped handler.
type AsyncHandler struct {
	inner slog.Handler
	q     *queue
}

// queue is shared by an AsyncHandler and every handler derived from it.
type queue struct {
	ch      chan queued
	done    chan struct{}
	once    sync.Once
	dropped atomic.Int64
	root    slog.Handler
}

// queued pairs a record with the handler chain that must write it, so
// handlers derived through WithAttrs keep their attributes.
type queued struct {
	handler slog.Handler
	rec     slog.Record
}

// NewAsyncHandler wraps inner with a queue of the given capacity.
func NewAsyncHandler(inner slog.Handler, capacity int) *AsyncHandler {
	q := &queue{
		ch:   make(chan queued, capacity),
		done: make(chan struct{}),
		root: inner,
	}
	go q.drain()
	return &AsyncHandler{inner: inner, q: q}
}

func (q *queue) drain() {
	defer close(q.done)
	for r := range q.ch {
		_ = r.handler.Handle(context.Background(), r.rec)
	}
}

func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues a copy of rec, or drops it when the queue is full.
func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	select {
	case h.q.ch <- queued{handler: h.inner, rec: rec.Clone()}:
	default:
		h.q.dropped.Add(1)
	}
	return nil
}

func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), q: h.q}
}

func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), q: h.q}
}

// DroppedCount returns the number of dropped records.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.q.dropped.Load()
}

// Close drains the queue and waits for the writer. Calling it again is a no-op.
func (h *AsyncHandler) Close() {
	h.q.once.Do(func() {
		close(h.q.ch)
		<-h.q.done
		if n := h.q.dropped.Load(); n > 0 {
			rec := slog.NewRecord(time.Now(), slog.LevelWarn, "log records dropped", 0)
			rec.AddAttrs(slog.Int64("dropped", n))
			_ = h.q.root.Handle(context.Background(), rec)
		}
	})
}
