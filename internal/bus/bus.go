// Package bus publishes evaluation progress events to interested consumers.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Bus defines the interface for event bus implementations.
type Bus interface {
	// Publish publishes an event to a topic.
	Publish(ctx context.Context, topic string, event Event) error

	// Subscribe subscribes to events on a topic.
	Subscribe(ctx context.Context, topic string, handler Handler) error

	// Close closes the bus and releases resources.
	Close() error
}

// Event represents a bus event.
type Event struct {
	// ID is the unique event identifier.
	ID string `json:"id"`

	// Type is the event type (e.g., "judgment.recorded").
	Type string `json:"type"`

	// Source is the component that generated the event.
	Source string `json:"source"`

	// Timestamp is when the event was created, in Unix milliseconds.
	Timestamp int64 `json:"timestamp"`

	// RunID links the events of one evaluation run.
	RunID string `json:"run_id,omitempty"`

	// Payload contains the event data.
	Payload any `json:"payload"`
}

// Event types.
const (
	TypeRunStarted       = "run.started"
	TypeQuerySynthesized = "query.synthesized"
	TypeJudgmentRecorded = "judgment.recorded"
	TypePairSkipped      = "pair.skipped"
	TypeTaskSkipped      = "task.skipped"
	TypeRunFinished      = "run.finished"
)

// DefaultTopic carries every evaluation event.
const DefaultTopic = "rice-eval.events"

// NewEvent creates an event with a fresh ID.
func NewEvent(eventType, source, runID string, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UnixMilli(),
		RunID:     runID,
		Payload:   payload,
	}
}

// Emitter publishes events of one source to a fixed topic. A nil Emitter
// or one without a bus drops events.
type Emitter struct {
	bus    Bus
	topic  string
	source string
}

// NewEmitter creates an emitter.
func NewEmitter(b Bus, topic, source string) *Emitter {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Emitter{bus: b, topic: topic, source: source}
}

// Emit publishes one event.
func (e *Emitter) Emit(ctx context.Context, eventType, runID string, payload any) error {
	if e == nil || e.bus == nil {
		return nil
	}
	return e.bus.Publish(ctx, e.topic, NewEvent(eventType, e.source, runID, payload))
}

// Subscribe registers handler on the emitter's topic. A nil Emitter or one
// without a bus delivers nothing.
func (e *Emitter) Subscribe(ctx context.Context, handler Handler) error {
	if e == nil || e.bus == nil {
		return nil
	}
	return e.bus.Subscribe(ctx, e.topic, handler)
}
