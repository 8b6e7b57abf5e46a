package cache

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// CleanStats reports what CleanStale removed.
type CleanStats struct {
	FilesDeleted int
	BytesSaved   uint64
}

// CleanStale deletes files older than lifetime under hashes/, outputs/ and states/.
func (e *Engine) CleanStale(lifetime time.Duration) (CleanStats, error) {
	var stats CleanStats
	cutoff := time.Now().Add(-lifetime)

	for _, dir := range []string{e.HashesDir, e.OutputsDir, e.StatesDir} {
		err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}
			if d.IsDir() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			if info.ModTime().After(cutoff) {
				return nil
			}
			if err := os.Remove(p); err != nil {
				return nil
			}
			stats.FilesDeleted++
			stats.BytesSaved += uint64(info.Size())
			return nil
		})
		if err != nil {
			return stats, fmt.Errorf("clean %s: %w", dir, err)
		}
	}
	return stats, nil
}

var lifetimePart = regexp.MustCompile(`(\d+)\s*([A-Za-z]+)`)

// ParseLifetime parses human durations such as "7 days", "12h" or
// "1 day 6 hours". Go duration strings are accepted as well.
func ParseLifetime(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty lifetime")
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	parts := lifetimePart.FindAllStringSubmatch(s, -1)
	if len(parts) == 0 {
		return 0, fmt.Errorf("invalid lifetime %q", s)
	}
	if rest := strings.TrimSpace(lifetimePart.ReplaceAllString(s, "")); rest != "" {
		return 0, fmt.Errorf("invalid lifetime %q", s)
	}

	var total time.Duration
	for _, m := range parts {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, fmt.Errorf("invalid lifetime %q: %w", s, err)
		}
		unit, ok := lifetimeUnit(m[2])
		if !ok {
			return 0, fmt.Errorf("invalid lifetime unit %q", m[2])
		}
		total += time.Duration(n) * unit
	}
	return total, nil
}

func lifetimeUnit(u string) (time.Duration, bool) {
	switch strings.ToLower(u) {
	case "s", "sec", "secs", "second", "seconds":
		return time.Second, true
	case "m", "min", "mins", "minute", "minutes":
		return time.Minute, true
	case "h", "hr", "hrs", "hour", "hours":
		return time.Hour, true
	case "d", "day", "days":
		return 24 * time.Hour, true
	case "w", "week", "weeks":
		return 7 * 24 * time.Hour, true
	case "month", "months":
		return 30 * 24 * time.Hour, true
	case "y", "year", "years":
		return 365 * 24 * time.Hour, true
	}
	return 0, false
}
