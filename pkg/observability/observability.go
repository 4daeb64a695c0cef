package observability

import (
	"context"
	"sync"
)

// Global default instances - these are the main entry points for the package users
var (
	// DefaultLogger is the default logger instance
	DefaultLogger Logger = NewStandardLogger("semcache")

	// DefaultMetricsClient is the default metrics client instance
	DefaultMetricsClient MetricsClient = NewMetricsClient()

	defaultStartSpan StartSpanFunc = NoopStartSpan
	startSpanMu      sync.RWMutex

	// metricsSink receives every metric recorded through the default client
	metricsSink func(kind, name string, value float64, labels map[string]string)
	sinkMu      sync.RWMutex
)

// StartSpanFunc is a function that creates and starts a new span
type StartSpanFunc func(ctx context.Context, name string) (context.Context, Span)

// StartSpan starts a span using the configured tracer. Before tracing is
// initialized this is a no-op, so callers never need to guard their spans.
func StartSpan(ctx context.Context, name string) (context.Context, Span) {
	startSpanMu.RLock()
	fn := defaultStartSpan
	startSpanMu.RUnlock()
	return fn(ctx, name)
}

// SetStartSpan replaces the span factory used by StartSpan
func SetStartSpan(fn StartSpanFunc) {
	startSpanMu.Lock()
	defer startSpanMu.Unlock()
	if fn == nil {
		fn = NoopStartSpan
	}
	defaultStartSpan = fn
}

// SetMetricsSink installs the exporter callback for the default metrics client
func SetMetricsSink(fn func(kind, name string, value float64, labels map[string]string)) {
	sinkMu.Lock()
	defer sinkMu.Unlock()
	metricsSink = fn
}

// Initialize configures tracing and wires it into StartSpan. Logging and
// metrics work without initialization; tracing is opt-in.
func Initialize(cfg TracingConfig) (func(), error) {
	if !cfg.Enabled {
		SetStartSpan(NoopStartSpan)
		return func() {}, nil
	}

	shutdown, err := InitTracing(cfg)
	if err != nil {
		return nil, err
	}

	SetStartSpan(startOtelSpan)
	return shutdown, nil
}
