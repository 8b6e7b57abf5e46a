package cache

import (
	"os"
	"strings"
	"sync/atomic"
)

// Mode controls whether the cache may be read from and written to.
type Mode int32

const (
	ModeReadWrite Mode = iota
	ModeOff
	ModeRead
	ModeWrite
)

// ParseMode converts a MOON_CACHE value; unknown values yield ModeReadWrite.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off":
		return ModeOff
	case "read":
		return ModeRead
	case "write":
		return ModeWrite
	default:
		return ModeReadWrite
	}
}

func (m Mode) String() string {
	switch m {
	case ModeOff:
		return "off"
	case ModeRead:
		return "read"
	case ModeWrite:
		return "write"
	default:
		return "read-write"
	}
}

// Readable reports whether cached data may be read.
func (m Mode) Readable() bool { return m == ModeReadWrite || m == ModeRead }

// Writable reports whether cached data may be written.
func (m Mode) Writable() bool { return m == ModeReadWrite || m == ModeWrite }

var mode atomic.Int32

// SetMode sets the process-wide cache mode.
func SetMode(m Mode) { mode.Store(int32(m)) }

// CurrentMode returns the process-wide cache mode.
func CurrentMode() Mode { return Mode(mode.Load()) }

// ModeFromEnv sets the process-wide mode from MOON_CACHE and returns it.
func ModeFromEnv() Mode {
	m := ParseMode(os.Getenv("MOON_CACHE"))
	SetMode(m)
	return m
}

// ResetMode restores the default mode.
func ResetMode() { SetMode(ModeReadWrite) }
