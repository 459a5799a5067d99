package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "streamforge"

// Metrics holds all StreamForge metric instruments.
type Metrics struct {
	ExecutionsStarted  metric.Int64Counter
	ExecutionsFinished metric.Int64Counter
	ExecutionsExpired  metric.Int64Counter
	EventsAppended     metric.Int64Counter
	ActiveStreams      metric.Int64UpDownCounter
	ToolCalls          metric.Int64Counter
	DeployDuration     metric.Float64Histogram
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsFrom(otel.Meter(meterName))
}

// NewMetricsFrom creates all metric instruments on meter.
func NewMetricsFrom(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.ExecutionsStarted, err = meter.Int64Counter("streamforge.executions.started",
		metric.WithDescription("Number of executions started"))
	if err != nil {
		return nil, err
	}

	m.ExecutionsFinished, err = meter.Int64Counter("streamforge.executions.finished",
		metric.WithDescription("Number of executions that reached a terminal status"))
	if err != nil {
		return nil, err
	}

	m.ExecutionsExpired, err = meter.Int64Counter("streamforge.executions.expired",
		metric.WithDescription("Number of executions evicted by the sweeper"))
	if err != nil {
		return nil, err
	}

	m.EventsAppended, err = meter.Int64Counter("streamforge.events.appended",
		metric.WithDescription("Number of events appended to execution buffers"))
	if err != nil {
		return nil, err
	}

	m.ActiveStreams, err = meter.Int64UpDownCounter("streamforge.streams.active",
		metric.WithDescription("Number of attached stream connections"))
	if err != nil {
		return nil, err
	}

	m.ToolCalls, err = meter.Int64Counter("streamforge.toolcalls",
		metric.WithDescription("Number of agent tool calls"))
	if err != nil {
		return nil, err
	}

	m.DeployDuration, err = meter.Float64Histogram("streamforge.deploy.duration_seconds",
		metric.WithDescription("Deploy pipeline duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
