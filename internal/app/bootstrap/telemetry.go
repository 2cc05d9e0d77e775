package bootstrap

import (
	"github.com/conversahq/conversa-platform/internal/engine"
	"github.com/conversahq/conversa-platform/internal/events"
	"github.com/conversahq/conversa-platform/internal/observability/metrics"
	"github.com/conversahq/conversa-platform/pkg/logging"
)

// BuildTelemetry assembles the fire-and-forget sink fan-out: structured
// logs always, Prometheus counters when metrics are wired, and durable
// outbox rows when the pgx pool is available.
func BuildTelemetry(m *metrics.EngineMetrics, outbox *events.OutboxStore, logger *logging.Logger) engine.Telemetry {
	if logger == nil {
		logger = logging.Default()
	}

	sinks := []engine.Telemetry{engine.NewLogTelemetry(logger)}
	if m != nil {
		sinks = append(sinks, engine.NewMetricsTelemetry(m))
	}
	if outbox != nil {
		sinks = append(sinks, events.NewOutboxTelemetry(outbox, logger))
	}
	return engine.NewMultiTelemetry(logger, sinks...)
}
