package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDispatcherDelivery(t *testing.T) {
	d := NewDispatcher()
	var got []Event
	d.Register(ListenerFunc(func(e Event) {
		got = append(got, e)
	}))

	d.Emit(StageStartEvent{
		BaseEventData: NewBase("case-9", "corr-1", "orchestrator"),
		Stage:         "procedure_coding",
		Attempt:       1,
	})
	d.Emit(BackendFailoverEvent{
		BaseEventData: NewBase("case-9", "", "backend"),
		Stage:         "modifier_assignment",
		FromEndpoint:  "A",
		ToEndpoint:    "B",
		FailureCount:  3,
	})

	assert.Len(t, got, 2)
	assert.Equal(t, StageStart, got[0].Type)
	assert.Equal(t, "case-9", got[0].CaseID)
	assert.Equal(t, BackendFailover, got[1].Type)
}

func TestNilDispatcherIsSafe(t *testing.T) {
	var d *Dispatcher
	assert.NotPanics(t, func() {
		d.Emit(WorkflowErrorEvent{BaseEventData: NewBase("c", "", ""), Error: "x"})
	})
}
