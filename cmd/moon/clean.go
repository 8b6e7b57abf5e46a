package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"

	"github.com/Strob0t/moon/internal/cache"
)

// runClean implements "moon clean [--lifetime <duration>]".
func runClean(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("clean", flag.ContinueOnError)
	lifetime := fs.String("lifetime", "", `maximum age of cache entries to keep, e.g. "7 days" (default: runner.cacheLifetime)`)
	if help, err := parseFlags(fs, args); help || err != nil {
		return err
	}

	ctx, s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	raw := *lifetime
	if raw == "" {
		raw = s.ws.Config.Runner.CacheLifetime
	}
	d, err := cache.ParseLifetime(raw)
	if err != nil {
		return fmt.Errorf("%w: lifetime: %w", errUsage, err)
	}

	stats, err := s.ws.Cache.CleanStale(d)
	if err != nil {
		return err
	}
	slog.DebugContext(ctx, "cache cleaned", "files", stats.FilesDeleted, "bytes", stats.BytesSaved, "lifetime", d)
	fmt.Printf("Deleted %d files and saved %s\n", stats.FilesDeleted, humanize.Bytes(stats.BytesSaved))
	return nil
}
