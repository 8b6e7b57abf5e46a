package service

import (
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/Strob0t/moon/internal/domain/target"
	"github.com/Strob0t/moon/internal/domain/touched"
)

// ActionContext is the state shared by every action of one pipeline run.
type ActionContext struct {
	// Touched is nil unless the run was filtered by affected files.
	Touched         touched.Set
	PassthroughArgs []string
	PrimaryTargets  []target.Target

	mu      sync.Mutex
	mutexes map[string]*semaphore.Weighted

	hashMu sync.RWMutex
	hashes map[target.Target]string

	interactive *semaphore.Weighted
}

// NewActionContext creates the shared state of a run.
func NewActionContext(files touched.Set, passthrough []string, primary []target.Target) *ActionContext {
	return &ActionContext{
		Touched:         files,
		PassthroughArgs: passthrough,
		PrimaryTargets:  primary,
		mutexes:         make(map[string]*semaphore.Weighted),
		hashes:          make(map[target.Target]string),
		interactive:     semaphore.NewWeighted(1),
	}
}

// NamedMutex returns the pipeline-wide lock for name, creating it on first use.
func (c *ActionContext) NamedMutex(name string) *semaphore.Weighted {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.mutexes[name]
	if !ok {
		m = semaphore.NewWeighted(1)
		c.mutexes[name] = m
	}
	return m
}

// SetTargetHash records the hash a task run resolved to.
func (c *ActionContext) SetTargetHash(t target.Target, hash string) {
	c.hashMu.Lock()
	c.hashes[t] = hash
	c.hashMu.Unlock()
}

// TargetHash returns the recorded hash of t.
func (c *ActionContext) TargetHash(t target.Target) (string, bool) {
	c.hashMu.RLock()
	defer c.hashMu.RUnlock()
	h, ok := c.hashes[t]
	return h, ok
}

// IsPrimary reports whether t was requested directly.
func (c *ActionContext) IsPrimary(t target.Target) bool {
	for _, p := range c.PrimaryTargets {
		if p == t {
			return true
		}
	}
	return false
}
