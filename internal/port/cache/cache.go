// Package cache defines the in-process memo of file content hashes shared
// by the VCS adapters.
package cache

import (
	"strconv"
	"time"
)

// HashMemo remembers content hashes keyed by StatKey. Implementations must
// be safe for concurrent use; a miss only costs a recomputation.
type HashMemo interface {
	Lookup(key string) (hash string, ok bool)
	Remember(key, hash string)
}

// Nop is a HashMemo that never remembers anything.
type Nop struct{}

func (Nop) Lookup(string) (string, bool) { return "", false }
func (Nop) Remember(string, string)      {}

// StatKey builds a memo key for a file's content from facts that change
// whenever the content does.
func StatKey(path string, size int64, modTime time.Time) string {
	return path + "\x00" + strconv.FormatInt(size, 10) + "\x00" + strconv.FormatInt(modTime.UnixNano(), 10)
}
