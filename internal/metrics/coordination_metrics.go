package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("coordination-metrics")

// CoordinationMetrics provides metrics collection for the daemon sync path
type CoordinationMetrics struct {
	eventsReceivedCounter     metric.Int64Counter
	eventsAppliedCounter      metric.Int64Counter
	eventsDroppedCounter      metric.Int64Counter
	commandsDispatchedCounter metric.Int64Counter
	commandsCompletedCounter  metric.Int64Counter
	commandDurationHistogram  metric.Float64Histogram
	commandsInflightGauge     metric.Int64UpDownCounter
	reconnectsCounter         metric.Int64Counter
	wsClientsGauge            metric.Int64UpDownCounter
}

// NewCoordinationMetrics creates a new coordination metrics collector
func NewCoordinationMetrics() (*CoordinationMetrics, error) {
	eventsReceivedCounter, err := meter.Int64Counter(
		"khive_gateway.events.received",
		metric.WithDescription("Total number of frames received from the daemon stream"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	eventsAppliedCounter, err := meter.Int64Counter(
		"khive_gateway.events.applied",
		metric.WithDescription("Total number of events applied to the state store"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	eventsDroppedCounter, err := meter.Int64Counter(
		"khive_gateway.events.dropped",
		metric.WithDescription("Total number of events dropped before application"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	commandsDispatchedCounter, err := meter.Int64Counter(
		"khive_gateway.commands.dispatched",
		metric.WithDescription("Total number of commands dispatched to the daemon"),
		metric.WithUnit("{command}"),
	)
	if err != nil {
		return nil, err
	}

	commandsCompletedCounter, err := meter.Int64Counter(
		"khive_gateway.commands.completed",
		metric.WithDescription("Total number of commands resolved, by outcome"),
		metric.WithUnit("{command}"),
	)
	if err != nil {
		return nil, err
	}

	commandDurationHistogram, err := meter.Float64Histogram(
		"khive_gateway.command.duration",
		metric.WithDescription("Duration of command round trips in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	commandsInflightGauge, err := meter.Int64UpDownCounter(
		"khive_gateway.commands.inflight",
		metric.WithDescription("Number of commands currently awaiting a result"),
		metric.WithUnit("{command}"),
	)
	if err != nil {
		return nil, err
	}

	reconnectsCounter, err := meter.Int64Counter(
		"khive_gateway.transport.reconnects",
		metric.WithDescription("Total number of reconnect attempts to the daemon stream"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	wsClientsGauge, err := meter.Int64UpDownCounter(
		"khive_gateway.ws.clients",
		metric.WithDescription("Number of dashboard WebSocket clients attached"),
		metric.WithUnit("{client}"),
	)
	if err != nil {
		return nil, err
	}

	return &CoordinationMetrics{
		eventsReceivedCounter:     eventsReceivedCounter,
		eventsAppliedCounter:      eventsAppliedCounter,
		eventsDroppedCounter:      eventsDroppedCounter,
		commandsDispatchedCounter: commandsDispatchedCounter,
		commandsCompletedCounter:  commandsCompletedCounter,
		commandDurationHistogram:  commandDurationHistogram,
		commandsInflightGauge:     commandsInflightGauge,
		reconnectsCounter:         reconnectsCounter,
		wsClientsGauge:            wsClientsGauge,
	}, nil
}

// RecordEventReceived records one raw frame arriving from the daemon stream
func (cm *CoordinationMetrics) RecordEventReceived(ctx context.Context) {
	cm.eventsReceivedCounter.Add(ctx, 1)
}

// RecordEventApplied records one event fully applied to the store
func (cm *CoordinationMetrics) RecordEventApplied(ctx context.Context, eventType string) {
	cm.eventsAppliedCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("event.type", eventType),
		),
	)
}

// RecordEventDropped records one event dropped before application
func (cm *CoordinationMetrics) RecordEventDropped(ctx context.Context, reason string) {
	cm.eventsDroppedCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("drop.reason", reason),
		),
	)
}

// RecordCommandDispatched records a command entering the pending set
func (cm *CoordinationMetrics) RecordCommandDispatched(ctx context.Context, command string, priority string) {
	cm.commandsDispatchedCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("command.name", command),
			attribute.String("command.priority", priority),
		),
	)
	cm.commandsInflightGauge.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("command.name", command),
		),
	)
}

// RecordCommandCompleted records a command leaving the pending set, with its
// outcome and round-trip duration
func (cm *CoordinationMetrics) RecordCommandCompleted(ctx context.Context, command string, outcome string, duration time.Duration) {
	cm.commandsCompletedCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("command.name", command),
			attribute.String("command.outcome", outcome),
		),
	)
	cm.commandDurationHistogram.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("command.name", command),
			attribute.String("command.outcome", outcome),
		),
	)
	cm.commandsInflightGauge.Add(ctx, -1,
		metric.WithAttributes(
			attribute.String("command.name", command),
		),
	)
}

// RecordReconnect records one reconnect attempt against the daemon stream
func (cm *CoordinationMetrics) RecordReconnect(ctx context.Context, consecutiveFailures int) {
	cm.reconnectsCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.Int("transport.consecutive_failures", consecutiveFailures),
		),
	)
}

// RecordClientAttached records a dashboard WebSocket client attaching
func (cm *CoordinationMetrics) RecordClientAttached(ctx context.Context) {
	cm.wsClientsGauge.Add(ctx, 1)
}

// RecordClientDetached records a dashboard WebSocket client detaching
func (cm *CoordinationMetrics) RecordClientDetached(ctx context.Context) {
	cm.wsClientsGauge.Add(ctx, -1)
}
