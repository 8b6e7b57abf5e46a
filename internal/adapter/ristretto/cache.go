// Package ristretto memoizes file content hashes in process with
// dgraph-io/ristretto, so repeated hashing of an unchanged file skips the
// VCS round trip.
package ristretto

import (
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/Strob0t/moon/internal/port/cache"
)

var _ cache.HashMemo = (*Memo)(nil)

// ttl bounds how long a hash is trusted; the stat key already changes with
// the file, this only ages out entries of deleted files.
const ttl = 10 * time.Minute

// Memo is a size bounded hash memo.
type Memo struct {
	c *ristretto.Cache[string, string]
}

// New creates a memo holding at most maxCostBytes of keys and hashes.
func New(maxCostBytes int64) (*Memo, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, string]{
		// A stat key plus a hash is around a hundred bytes.
		NumCounters: max(maxCostBytes/10, 1000),
		MaxCost:     maxCostBytes,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, err
	}
	return &Memo{c: c}, nil
}

// Lookup returns the memoized hash for key.
func (m *Memo) Lookup(key string) (string, bool) {
	return m.c.Get(key)
}

// Remember stores hash under key. The write is visible to the next Lookup;
// admission may still reject it.
func (m *Memo) Remember(key, hash string) {
	m.c.SetWithTTL(key, hash, int64(len(key)+len(hash)), ttl)
	m.c.Wait()
}

// HitRatio reports the share of lookups answered from memory.
func (m *Memo) HitRatio() float64 {
	return m.c.Metrics.Ratio()
}

// Close releases the cache goroutines.
func (m *Memo) Close() {
	m.c.Close()
}
