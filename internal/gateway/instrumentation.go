package gateway

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/rbright/reelnote/internal/gateway"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)

	joins, _         = meter.Int64Counter("reelnote.gateway.joins", metric.WithDescription("Connection attempts by outcome"))
	droppedFrames, _ = meter.Int64Counter("reelnote.gateway.dropped_frames", metric.WithDescription("Outbound frames dropped for slow clients"))
)

func recordJoin(ctx context.Context, outcome string) {
	joins.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func recordDroppedFrame() {
	droppedFrames.Add(context.Background(), 1)
}
