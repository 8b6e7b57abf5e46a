// Package s3cache shares task output archives through an S3 compatible
// bucket. Hits are reported as event.LocationRemote.
package s3cache

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/Strob0t/moon/internal/cache"
	"github.com/Strob0t/moon/internal/config"
	"github.com/Strob0t/moon/internal/domain/event"
	"github.com/Strob0t/moon/internal/resilience"
)

// Subscriber downloads archives on cache checks and uploads new ones.
type Subscriber struct {
	store   objectStore
	engine  *cache.Engine
	prefix  string
	timeout time.Duration
	breaker *resilience.Breaker
	policy  resilience.RetryPolicy
}

// New connects to the bucket described by cfg.
func New(cfg config.RemoteCache, engine *cache.Engine) (*Subscriber, error) {
	store, err := newMinioStore(cfg)
	if err != nil {
		return nil, err
	}
	return newSubscriber(store, engine, cfg), nil
}

func newSubscriber(store objectStore, engine *cache.Engine, cfg config.RemoteCache) *Subscriber {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxFailures := cfg.MaxFailures
	if maxFailures <= 0 {
		maxFailures = 5
	}
	return &Subscriber{
		store:   store,
		engine:  engine,
		prefix:  cfg.Prefix,
		timeout: timeout,
		breaker: resilience.NewBreaker("remote-cache", maxFailures, time.Minute),
		policy:  resilience.DefaultRetryPolicy(),
	}
}

// Name returns "remote-cache".
func (s *Subscriber) Name() string { return event.LocationRemote }

// OnEmit handles cache checks and finished archives. Remote failures are
// returned as errors, which the emitter logs before moving on.
func (s *Subscriber) OnEmit(ctx context.Context, ev *event.Event) (event.Flow, error) {
	if ev.Hash == "" {
		return event.Continue(), nil
	}
	switch ev.Type {
	case event.TypeTargetOutputCacheCheck:
		if !cache.CurrentMode().Readable() || s.engine.HasArchive(ev.Hash) {
			return event.Continue(), nil
		}
		found, err := s.download(ctx, ev.Hash)
		if err != nil {
			return event.Continue(), fmt.Errorf("download %s: %w", ev.Hash, err)
		}
		if found {
			return event.Return(event.LocationRemote), nil
		}

	case event.TypeTargetOutputArchived:
		if !cache.CurrentMode().Writable() || !s.engine.HasArchive(ev.Hash) {
			return event.Continue(), nil
		}
		if err := s.upload(ctx, ev.Hash); err != nil {
			return event.Continue(), fmt.Errorf("upload %s: %w", ev.Hash, err)
		}
	}
	return event.Continue(), nil
}

func (s *Subscriber) download(ctx context.Context, hash string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	key := s.archiveKey(hash)
	found := false
	err := resilience.Retry(ctx, s.breaker, s.policy, func(ctx context.Context) error {
		ok, err := s.store.Exists(ctx, key)
		if err != nil || !ok {
			return err
		}
		if err := s.store.Download(ctx, key, s.engine.ArchivePath(hash)); err != nil {
			return err
		}
		found = true
		return nil
	})
	if found {
		slog.DebugContext(ctx, "remote cache hit", "hash", hash, "key", key)
	}
	return found, err
}

func (s *Subscriber) upload(ctx context.Context, hash string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	uploads := []struct{ key, path, contentType string }{
		{s.archiveKey(hash), s.engine.ArchivePath(hash), contentType(s.engine.Compression)},
		{s.manifestKey(hash), s.engine.ManifestPath(hash), "application/json"},
	}
	for _, u := range uploads {
		if _, err := os.Stat(u.path); err != nil {
			continue
		}
		err := resilience.Retry(ctx, s.breaker, s.policy, func(ctx context.Context) error {
			exists, err := s.store.Exists(ctx, u.key)
			if err != nil || exists {
				return err
			}
			return s.store.Upload(ctx, u.key, u.path, u.contentType)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Subscriber) archiveKey(hash string) string {
	return path.Join(s.prefix, "outputs", filepath.Base(s.engine.ArchivePath(hash)))
}

func (s *Subscriber) manifestKey(hash string) string {
	return path.Join(s.prefix, "hashes", hash+".json")
}

func contentType(c cache.Compression) string {
	if c == cache.CompressionZstd {
		return "application/zstd"
	}
	return "application/gzip"
}
