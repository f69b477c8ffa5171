package stores

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/openfroyo/topd/pkg/telemetry"
)

// EventRecorder returns a subscriber that appends published events to the
// store. Write failures are logged, never returned to the publisher.
func EventRecorder(ctx context.Context, store Store, logger zerolog.Logger) telemetry.EventSubscriber {
	return func(e telemetry.Event) {
		record := &Event{
			EventID:     e.ID,
			Type:        e.Type,
			Level:       e.Level,
			Environment: e.Environment,
			Namespace:   e.Namespace,
			Message:     e.Message,
			Timestamp:   e.Timestamp,
		}
		if len(e.Data) > 0 {
			if data, err := json.Marshal(e.Data); err == nil {
				details := string(data)
				record.Details = &details
			}
		}

		if err := store.AppendEvent(ctx, record); err != nil {
			logger.Warn().Err(err).Str("event_type", e.Type).Msg("Failed to record event")
		}
	}
}
