// Package history carries audit events about performances to external sinks.
// Events are append-only and never read back by the supervisor.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind is the type of an audit event.
type Kind string

const (
	KindPerformanceStarted Kind = "performance_started"
	KindPerformanceStopped Kind = "performance_stopped"
	KindPerformerRestarted Kind = "performer_restarted"
	KindPerformerFailed    Kind = "performer_failed"
	KindMemoryExceeded     Kind = "memory_exceeded"
)

// DefaultTable is the relational table and index name events are written to.
const DefaultTable = "orchestral_performances"

// Event is one audit record.
type Event struct {
	ID            string         `json:"id"`
	Kind          Kind           `json:"event"`
	PerformerName string         `json:"performer_name"`
	Environment   string         `json:"environment"`
	Payload       map[string]any `json:"data,omitempty"`
	OccurredAt    time.Time      `json:"occurred_at"`
}

// NewEvent stamps a fresh ID on an event.
func NewEvent(kind Kind, performer, environment string, payload map[string]any, at time.Time) Event {
	return Event{
		ID:            uuid.NewString(),
		Kind:          kind,
		PerformerName: performer,
		Environment:   environment,
		Payload:       payload,
		OccurredAt:    at.UTC(),
	}
}

// PayloadJSON encodes the payload for text columns; an empty payload is "{}".
func (e Event) PayloadJSON() string {
	if len(e.Payload) == 0 {
		return "{}"
	}
	b, err := json.Marshal(e.Payload)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Sink is a destination for audit events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Emit sends e to every sink; failures are logged and joined.
func Emit(ctx context.Context, log *slog.Logger, sinks []Sink, e Event) error {
	var errs []error
	for _, s := range sinks {
		if err := s.Send(ctx, e); err != nil {
			if log != nil {
				log.Warn("audit sink failed", "event", e.Kind, "performer", e.PerformerName, "error", err)
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

var _ Sink = (*Recorder)(nil)

func (r *Recorder) Send(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of everything recorded.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfKind returns recorded events of kind k.
func (r *Recorder) OfKind(k Kind) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}
