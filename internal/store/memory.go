package store

import (
	"context"
	"sync"
)

// MemorySink keeps records in memory. Used in tests and as a default when
// no database path is configured.
type MemorySink struct {
	mu        sync.Mutex
	instances map[string]*InstanceRecord
	events    []*EventRecord
}

// NewMemorySink creates an in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{instances: make(map[string]*InstanceRecord)}
}

func (s *MemorySink) RecordInstance(_ context.Context, rec *InstanceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.instances[rec.InstanceID] = &cp
	return nil
}

func (s *MemorySink) RecordEvent(_ context.Context, rec *EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.events = append(s.events, &cp)
	return nil
}

func (s *MemorySink) Close() error { return nil }

// Instance returns the last recorded snapshot for an instance, or nil.
func (s *MemorySink) Instance(instanceID string) *InstanceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.instances[instanceID]
	if !ok {
		return nil
	}
	cp := *rec
	return &cp
}

// Events returns all recorded events for an instance in append order.
func (s *MemorySink) Events(instanceID string) []*EventRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*EventRecord
	for _, ev := range s.events {
		if ev.InstanceID == instanceID {
			cp := *ev
			out = append(out, &cp)
		}
	}
	return out
}

var _ Sink = (*MemorySink)(nil)
