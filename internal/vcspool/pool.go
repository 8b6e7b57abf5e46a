// Package vcspool bounds concurrent VCS CLI invocations.
package vcspool

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// Pool limits concurrent VCS processes with a weighted semaphore. Every
// adapter shares one pool so that hashing many files or querying several
// revisions at once cannot exhaust process slots.
type Pool struct {
	sem   *semaphore.Weighted
	limit int
}

// NewPool creates a Pool that allows at most limit concurrent operations.
// A limit below 1 uses the number of CPUs.
func NewPool(limit int) *Pool {
	if limit < 1 {
		limit = runtime.NumCPU()
	}
	return &Pool{sem: semaphore.NewWeighted(int64(limit)), limit: limit}
}

// Limit returns the configured concurrency.
func (p *Pool) Limit() int {
	if p == nil {
		return 0
	}
	return p.limit
}

// Run acquires a slot, runs fn, and releases the slot. It returns ctx.Err()
// when cancelled while waiting. A nil pool runs fn directly.
func (p *Pool) Run(ctx context.Context, fn func() error) error {
	if p == nil || p.sem == nil {
		return fn()
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn()
}

// Do runs fn inside the pool and returns its value.
func Do[T any](ctx context.Context, p *Pool, fn func() (T, error)) (T, error) {
	var out T
	err := p.Run(ctx, func() error {
		v, err := fn()
		out = v
		return err
	})
	return out, err
}
