package events

import (
	"sync"
	"time"

	"medcoder/internal/utils"
)

// Listener receives every dispatched event. Implementations must be safe
// for concurrent calls; the dispatcher does not serialize listeners.
type Listener interface {
	HandleEvent(event Event)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(event Event)

func (f ListenerFunc) HandleEvent(event Event) { f(event) }

// Dispatcher fans events out to registered listeners.
type Dispatcher struct {
	mu        sync.RWMutex
	listeners []Listener
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Register adds a listener. Registration order is delivery order.
func (d *Dispatcher) Register(l Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, l)
}

// Emit wraps the payload in an envelope and delivers it synchronously.
func (d *Dispatcher) Emit(data EventData) {
	if d == nil {
		return
	}
	event := Event{
		Type:      data.GetEventType(),
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	if wb, ok := data.(withBase); ok {
		event.CaseID = wb.baseData().CaseID
	}
	d.mu.RLock()
	listeners := make([]Listener, len(d.listeners))
	copy(listeners, d.listeners)
	d.mu.RUnlock()
	for _, l := range listeners {
		l.HandleEvent(event)
	}
}

type withBase interface {
	baseData() BaseEventData
}

func (b BaseEventData) baseData() BaseEventData { return b }

// NewLoggingListener logs every event at debug with its type and case id.
func NewLoggingListener(logger utils.ExtendedLogger) Listener {
	return ListenerFunc(func(event Event) {
		logger.WithField("case_id", event.CaseID).
			Debugf("event %s", event.Type)
	})
}
