package otel

import (
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/Strob0t/moon"

// Metrics holds the pipeline metric instruments.
type Metrics struct {
	Actions          metric.Int64Counter
	ActionDuration   metric.Float64Histogram
	CacheHits        metric.Int64Counter
	Pipelines        metric.Int64Counter
	PipelineDuration metric.Float64Histogram
}

// NewMetrics creates all metric instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.Actions, err = meter.Int64Counter("moon.actions",
		metric.WithDescription("Number of finished actions by kind and status"))
	if err != nil {
		return nil, err
	}

	m.ActionDuration, err = meter.Float64Histogram("moon.action.duration_seconds",
		metric.WithDescription("Action duration in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	m.CacheHits, err = meter.Int64Counter("moon.cache.hits",
		metric.WithDescription("Number of task outputs hydrated from a cache"))
	if err != nil {
		return nil, err
	}

	m.Pipelines, err = meter.Int64Counter("moon.pipelines",
		metric.WithDescription("Number of finished pipelines"))
	if err != nil {
		return nil, err
	}

	m.PipelineDuration, err = meter.Float64Histogram("moon.pipeline.duration_seconds",
		metric.WithDescription("Pipeline duration in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
