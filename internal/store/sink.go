package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tideflow-io/tideflow/internal/events"
)

// InstanceRecord is the persisted form of an instance snapshot.
type InstanceRecord struct {
	InstanceID   string    `json:"instance_id"`
	DefinitionID string    `json:"definition_id"`
	Version      string    `json:"version,omitempty"`
	Status       string    `json:"status"`
	ErrorCode    string    `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at,omitempty"`
	Depth        int       `json:"depth"`
	ParentID     string    `json:"parent_id,omitempty"`
}

// EventRecord is the persisted form of one stream event.
type EventRecord struct {
	InstanceID string          `json:"instance_id"`
	Sequence   uint64          `json:"sequence"`
	NodeID     string          `json:"node_id,omitempty"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// EventFromBus converts a bus event into its persisted form.
func EventFromBus(ev events.Event) *EventRecord {
	rec := &EventRecord{
		InstanceID: ev.InstanceID,
		Sequence:   ev.Sequence,
		NodeID:     ev.NodeID,
		Type:       ev.Type,
		Timestamp:  ev.Timestamp,
	}
	if ev.Payload != nil {
		if b, err := json.Marshal(ev.Payload); err == nil {
			rec.Payload = b
		}
	}
	return rec
}

// Sink is the write-only audit log. The engine's in-memory state stays
// authoritative: sink failures are logged by the caller, never surfaced
// into instance execution.
type Sink interface {
	RecordInstance(ctx context.Context, rec *InstanceRecord) error
	RecordEvent(ctx context.Context, rec *EventRecord) error
	Close() error
}

// NopSink discards everything.
type NopSink struct{}

// NewNopSink creates a sink that discards all writes.
func NewNopSink() *NopSink { return &NopSink{} }

func (*NopSink) RecordInstance(context.Context, *InstanceRecord) error { return nil }
func (*NopSink) RecordEvent(context.Context, *EventRecord) error       { return nil }
func (*NopSink) Close() error                                          { return nil }

var _ Sink = (*NopSink)(nil)
