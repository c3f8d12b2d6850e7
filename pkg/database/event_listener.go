package database

import (
	"context"
	"encoding/json"
	"time"

	"medcoder/internal/utils"
	"medcoder/pkg/events"
)

// EventRecorder is an events.Listener that appends every case-scoped
// pipeline event to the store. Events without a case id (backend health
// chatter) are not persisted.
type EventRecorder struct {
	store  Store
	logger utils.ExtendedLogger
}

// NewEventRecorder wraps a store as an event listener.
func NewEventRecorder(store Store, logger utils.ExtendedLogger) *EventRecorder {
	return &EventRecorder{store: store, logger: logger}
}

// HandleEvent implements events.Listener.
func (r *EventRecorder) HandleEvent(event events.Event) {
	if event.CaseID == "" {
		return
	}
	payload, err := json.Marshal(event.Data)
	if err != nil {
		r.logger.WithError(err).Warnf("dropping unserializable %s event", event.Type)
		payload = nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.store.AppendEvent(ctx, CaseEvent{
		CaseID:    event.CaseID,
		EventType: string(event.Type),
		Timestamp: event.Timestamp,
		Payload:   string(payload),
	}); err != nil {
		r.logger.WithError(err).Warnf("persisting %s event failed", event.Type)
	}
}
