package events

import (
	"context"
	"time"
)

// Event is one entry in an instance's totally-ordered event stream.
// Sequence is monotonic per instance and assigned by the publisher.
type Event struct {
	InstanceID string    `json:"instance_id"`
	NodeID     string    `json:"node_id,omitempty"`
	Type       string    `json:"type"`
	Sequence   uint64    `json:"sequence"`
	Timestamp  time.Time `json:"timestamp"`
	Payload    any       `json:"payload,omitempty"`
}

// Filter specifies which events a subscriber wants to receive.
type Filter struct {
	InstanceID string   `json:"instance_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// Bus provides pub/sub for instance execution events.
type Bus interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(ctx context.Context, filter Filter) (<-chan Event, func(), error)
}
