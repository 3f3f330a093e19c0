// Package bus republishes orchestrator events onto NATS so UIs and other
// services can follow workflow progress in real time.
package bus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/mkalinski-dev/materio/internal/events"
	"github.com/mkalinski-dev/materio/internal/models"
)

const subjectPrefix = "materio.workflow"

// Bridge forwards every orchestrator event to a NATS subject named after
// the event type, e.g. materio.workflow.jobCompleted.
type Bridge struct {
	nc          *nats.Conn
	logger      *slog.Logger
	unsubscribe []func()
}

// envelope is the wire form of one forwarded event.
type envelope struct {
	Type        string    `json:"type"`
	JobID       string    `json:"job_id,omitempty"`
	WorkspaceID string    `json:"workspace_id,omitempty"`
	Status      string    `json:"status,omitempty"`
	Stage       string    `json:"stage,omitempty"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

func Connect(url string, logger *slog.Logger) (*Bridge, error) {
	if logger == nil {
		logger = slog.Default()
	}

	nc, err := nats.Connect(url,
		nats.Name("materio-api"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}

	logger.Info("connected to nats", "url", url)
	return &Bridge{nc: nc, logger: logger}, nil
}

// Attach subscribes the bridge to every event type on the emitter.
func (b *Bridge) Attach(emitter *events.Emitter) {
	types := []events.Type{
		events.JobStarted, events.JobProgress, events.JobCompleted,
		events.JobFailed, events.JobCancelled,
		events.StageCompleted, events.StageFailed, events.StageRetried,
		events.WorkflowRolledBack,
	}
	for _, t := range types {
		t := t
		unsub := emitter.Subscribe(t, func(ev events.Event) {
			b.publish(t, ev)
		})
		b.unsubscribe = append(b.unsubscribe, unsub)
	}
}

func (b *Bridge) publish(t events.Type, ev events.Event) {
	env := envelope{
		Type:      string(t),
		Stage:     ev.Stage,
		Timestamp: time.Now(),
	}
	if job, ok := ev.Job.(*models.WorkflowJob); ok && job != nil {
		env.JobID = job.ID
		env.WorkspaceID = job.WorkspaceID
		env.Status = string(job.Status)
	}
	if ev.Err != nil {
		env.Error = ev.Err.Error()
	}

	payload, err := json.Marshal(env)
	if err != nil {
		b.logger.Error("marshal workflow event", "type", string(t), "error", err)
		return
	}

	subject := subjectPrefix + "." + string(t)
	if err := b.nc.Publish(subject, payload); err != nil {
		b.logger.Error("publish workflow event", "subject", subject, "error", err)
	}
}

// Close detaches from the emitter and drains the connection.
func (b *Bridge) Close() {
	for _, unsub := range b.unsubscribe {
		unsub()
	}
	b.unsubscribe = nil

	if b.nc != nil {
		if err := b.nc.Drain(); err != nil {
			b.logger.Error("drain nats connection", "error", err)
		}
	}
}
