package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/Strob0t/moon/internal/domain/event"
)

// Subscriber turns pipeline events into spans and metrics. One pipeline span
// parents a span per action.
type Subscriber struct {
	tracer  trace.Tracer
	metrics *Metrics

	pipelineCtx  context.Context
	pipelineSpan trace.Span
	actions      map[string]trace.Span
}

// NewSubscriber uses the global providers installed by Init.
func NewSubscriber() (*Subscriber, error) {
	return newSubscriber(otel.GetTracerProvider(), otel.GetMeterProvider())
}

func newSubscriber(tp trace.TracerProvider, mp metric.MeterProvider) (*Subscriber, error) {
	m, err := NewMetrics(mp.Meter(instrumentationName))
	if err != nil {
		return nil, err
	}
	return &Subscriber{
		tracer:  tp.Tracer(instrumentationName),
		metrics: m,
		actions: make(map[string]trace.Span),
	}, nil
}

// Name returns "telemetry".
func (s *Subscriber) Name() string { return "telemetry" }

// OnEmit records ev. It always continues.
func (s *Subscriber) OnEmit(ctx context.Context, ev *event.Event) (event.Flow, error) {
	switch ev.Type {
	case event.TypePipelineStarted:
		s.pipelineCtx, s.pipelineSpan = s.tracer.Start(ctx, "pipeline",
			trace.WithTimestamp(ev.Time),
			trace.WithAttributes(attribute.String("run.id", ev.RunID)),
		)

	case event.TypeActionStarted:
		if ev.Action == nil {
			break
		}
		parent := s.pipelineCtx
		if parent == nil {
			parent = ctx
		}
		_, span := s.tracer.Start(parent, ev.Action.Label,
			trace.WithTimestamp(ev.Time),
			trace.WithAttributes(
				attribute.String("run.id", ev.RunID),
				attribute.String("action.kind", string(ev.Action.Node.Kind)),
			),
		)
		s.actions[ev.Action.Label] = span

	case event.TypeActionFinished:
		if ev.Action == nil {
			break
		}
		a := ev.Action
		attrs := metric.WithAttributes(
			attribute.String("action.kind", string(a.Node.Kind)),
			attribute.String("action.status", string(a.Status)),
		)
		s.metrics.Actions.Add(ctx, 1, attrs)
		s.metrics.ActionDuration.Record(ctx, a.Duration.Seconds(), attrs)

		span, ok := s.actions[a.Label]
		if !ok {
			break
		}
		delete(s.actions, a.Label)
		span.SetAttributes(attribute.String("action.status", string(a.Status)))
		if a.Hash != "" {
			span.SetAttributes(attribute.String("action.hash", a.Hash))
		}
		if a.HasFailed() {
			span.SetStatus(codes.Error, a.Error)
		}
		span.End(trace.WithTimestamp(ev.Time))

	case event.TypeTargetOutputHydrated:
		s.metrics.CacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("cache.location", ev.Location)))

	case event.TypePipelineFinished:
		s.metrics.Pipelines.Add(ctx, 1, metric.WithAttributes(attribute.Bool("pipeline.aborted", ev.Aborted)))
		s.metrics.PipelineDuration.Record(ctx, ev.Duration.Seconds())

		for label, span := range s.actions {
			span.End(trace.WithTimestamp(ev.Time))
			delete(s.actions, label)
		}
		if s.pipelineSpan != nil {
			if ev.Aborted {
				s.pipelineSpan.SetStatus(codes.Error, ev.Error)
			}
			s.pipelineSpan.End(trace.WithTimestamp(ev.Time))
			s.pipelineSpan, s.pipelineCtx = nil, nil
		}
	}
	return event.Continue(), nil
}
