package events

import (
	"log/slog"
	"sync"
)

// Type names an orchestrator event.
type Type string

const (
	JobStarted         Type = "jobStarted"
	JobProgress        Type = "jobProgress"
	JobCompleted       Type = "jobCompleted"
	JobFailed          Type = "jobFailed"
	JobCancelled       Type = "jobCancelled"
	StageCompleted     Type = "stageCompleted"
	StageFailed        Type = "stageFailed"
	StageRetried       Type = "stageRetried"
	WorkflowRolledBack Type = "workflowRolledBack"
)

// Event carries the mutated job plus, for stage events, the stage name and
// its result or error.
type Event struct {
	Type  Type
	Job   any
	Stage string
	Data  any
	Err   error
}

// Handler receives published events.
type Handler func(Event)

// Emitter is a small typed pub/sub bus. Subscribing returns an unsubscribe
// func so listeners cannot accumulate unbounded.
type Emitter struct {
	mu     sync.RWMutex
	nextID int
	subs   map[Type]map[int]Handler
	logger *slog.Logger
}

func NewEmitter(logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{
		subs:   make(map[Type]map[int]Handler),
		logger: logger,
	}
}

// Subscribe registers a handler for an event type and returns an
// unsubscribe func.
func (e *Emitter) Subscribe(t Type, h Handler) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.subs[t] == nil {
		e.subs[t] = make(map[int]Handler)
	}
	id := e.nextID
	e.nextID++
	e.subs[t][id] = h

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.subs[t], id)
	}
}

// Emit delivers the event synchronously to every subscriber, in no
// particular order. A panicking handler is recovered and logged so one bad
// listener cannot take down the workflow.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	handlers := make([]Handler, 0, len(e.subs[ev.Type]))
	for _, h := range e.subs[ev.Type] {
		handlers = append(handlers, h)
	}
	e.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("event handler panicked", "event", string(ev.Type), "panic", r)
				}
			}()
			h(ev)
		}()
	}
}

// RemoveAllListeners drops every subscription.
func (e *Emitter) RemoveAllListeners() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subs = make(map[Type]map[int]Handler)
}
