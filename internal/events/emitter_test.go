package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubscribeAndEmit(t *testing.T) {
	e := NewEmitter(nil)

	var got []Event
	e.Subscribe(JobStarted, func(ev Event) {
		got = append(got, ev)
	})

	e.Emit(Event{Type: JobStarted, Stage: "validation"})
	e.Emit(Event{Type: JobCompleted})

	assert.Len(t, got, 1)
	assert.Equal(t, JobStarted, got[0].Type)
	assert.Equal(t, "validation", got[0].Stage)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	e := NewEmitter(nil)

	count := 0
	unsub := e.Subscribe(StageCompleted, func(Event) { count++ })

	e.Emit(Event{Type: StageCompleted})
	unsub()
	e.Emit(Event{Type: StageCompleted})

	assert.Equal(t, 1, count)
}

func TestPanickingHandlerDoesNotBlockOthers(t *testing.T) {
	e := NewEmitter(nil)

	delivered := false
	e.Subscribe(JobFailed, func(Event) { panic("listener bug") })
	e.Subscribe(JobFailed, func(Event) { delivered = true })

	e.Emit(Event{Type: JobFailed})

	assert.True(t, delivered)
}

func TestRemoveAllListeners(t *testing.T) {
	e := NewEmitter(nil)

	count := 0
	e.Subscribe(JobProgress, func(Event) { count++ })
	e.Subscribe(JobCancelled, func(Event) { count++ })

	e.RemoveAllListeners()
	e.Emit(Event{Type: JobProgress})
	e.Emit(Event{Type: JobCancelled})

	assert.Zero(t, count)
}
