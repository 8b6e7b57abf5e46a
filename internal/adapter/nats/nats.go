// Package nats publishes pipeline events to a NATS JetStream stream so that
// external systems can follow a run.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/moon/internal/config"
	"github.com/Strob0t/moon/internal/domain/event"
	"github.com/Strob0t/moon/internal/resilience"
)

// publisher is the part of JetStream the notifier needs.
type publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Close()
}

type jetStream struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// connect establishes a connection to NATS and ensures the stream exists.
func connect(ctx context.Context, cfg config.Notifier) (*jetStream, error) {
	nc, err := nats.Connect(cfg.NatsURL, nats.Name("moon"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     cfg.Stream,
		Subjects: []string{cfg.Subject + ".>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Debug("nats connected", "url", cfg.NatsURL, "stream", cfg.Stream)
	return &jetStream{nc: nc, js: js}, nil
}

func (j *jetStream) Publish(ctx context.Context, subject string, data []byte) error {
	if _, err := j.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

func (j *jetStream) Close() { j.nc.Close() }

// Notifier forwards every pipeline event as JSON. It never changes the flow
// of an event.
type Notifier struct {
	pub     publisher
	subject string
	timeout time.Duration
	breaker *resilience.Breaker
}

// Connect dials cfg.NatsURL and returns a ready Notifier.
func Connect(ctx context.Context, cfg config.Notifier) (*Notifier, error) {
	if cfg.Subject == "" {
		cfg.Subject = "moon.pipeline"
	}
	if cfg.Stream == "" {
		cfg.Stream = "MOON"
	}
	js, err := connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return newNotifier(js, cfg.Subject), nil
}

func newNotifier(pub publisher, subject string) *Notifier {
	return &Notifier{
		pub:     pub,
		subject: subject,
		timeout: 5 * time.Second,
		breaker: resilience.NewBreaker("notifier", 3, 30*time.Second),
	}
}

// Name returns "notifier".
func (n *Notifier) Name() string { return "notifier" }

// Subject returns the subject ev is published on, for example
// "moon.pipeline.task.ran".
func (n *Notifier) Subject(t event.Type) string {
	return n.subject + "." + strings.ReplaceAll(string(t), "_", "-")
}

// OnEmit publishes ev. Publish failures are returned for logging only.
func (n *Notifier) OnEmit(ctx context.Context, ev *event.Event) (event.Flow, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return event.Continue(), fmt.Errorf("notifier: encode %s: %w", ev.Type, err)
	}
	subject := n.Subject(ev.Type)
	err = n.breaker.Execute(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, n.timeout)
		defer cancel()
		return n.pub.Publish(ctx, subject, data)
	})
	if err != nil {
		return event.Continue(), fmt.Errorf("notifier: %w", err)
	}
	return event.Continue(), nil
}

// Close shuts down the NATS connection.
func (n *Notifier) Close() error {
	n.pub.Close()
	return nil
}
