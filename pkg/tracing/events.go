package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/swarmhq/swarmd/pkg/bus"
	"github.com/swarmhq/swarmd/pkg/swarm"
)

// EventSubscriber returns a bus subscriber that records every
// orchestration event as a span. Failure events are marked as errors so
// trace backends can surface them.
func EventSubscriber() bus.Subscriber {
	tracer := Tracer("swarmd/orchestration")
	return func(ctx context.Context, event swarm.Event) {
		attrs := []attribute.KeyValue{
			attribute.String("swarm.id", event.SwarmID),
			attribute.String("event.type", string(event.Type)),
		}
		if event.TaskID != "" {
			attrs = append(attrs, attribute.String("task.id", event.TaskID))
		}
		if count, ok := event.Details["retry_count"].(int); ok {
			attrs = append(attrs, attribute.Int("task.retry_count", count))
		}

		_, span := tracer.Start(ctx, "orchestration."+string(event.Type))
		span.SetAttributes(attrs...)
		if event.Type == swarm.EventFail {
			span.SetStatus(codes.Error, "task failed")
		}
		span.End()
	}
}
