package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func publish(t *testing.T, b *MemoryBus, instanceID, eventType string, seq uint64) {
	t.Helper()
	require.NoError(t, b.Publish(context.Background(), Event{
		InstanceID: instanceID,
		Type:       eventType,
		Sequence:   seq,
		Timestamp:  time.Now().UTC(),
	}))
}

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestPublishReachesSubscriber(t *testing.T) {
	b := NewMemoryBus()

	ch, cancel, err := b.Subscribe(context.Background(), Filter{})
	require.NoError(t, err)
	defer cancel()

	publish(t, b, "i1", "node_started", 1)
	publish(t, b, "i1", "node_completed", 2)

	ev := receive(t, ch)
	assert.Equal(t, "node_started", ev.Type)
	assert.Equal(t, uint64(1), ev.Sequence)

	ev = receive(t, ch)
	assert.Equal(t, "node_completed", ev.Type)
	assert.Equal(t, uint64(2), ev.Sequence)
}

func TestFilterByInstance(t *testing.T) {
	b := NewMemoryBus()

	ch, cancel, err := b.Subscribe(context.Background(), Filter{InstanceID: "i1"})
	require.NoError(t, err)
	defer cancel()

	publish(t, b, "i2", "node_started", 1)
	publish(t, b, "i1", "node_started", 1)

	ev := receive(t, ch)
	assert.Equal(t, "i1", ev.InstanceID)
	assert.Empty(t, ch)
}

func TestFilterByEventType(t *testing.T) {
	b := NewMemoryBus()

	ch, cancel, err := b.Subscribe(context.Background(), Filter{
		EventTypes: []string{"instance_completed", "instance_failed"},
	})
	require.NoError(t, err)
	defer cancel()

	publish(t, b, "i1", "node_started", 1)
	publish(t, b, "i1", "instance_completed", 2)

	ev := receive(t, ch)
	assert.Equal(t, "instance_completed", ev.Type)
	assert.Empty(t, ch)
}

func TestCancelStopsDelivery(t *testing.T) {
	b := NewMemoryBus()

	ch, cancel, err := b.Subscribe(context.Background(), Filter{})
	require.NoError(t, err)

	cancel()
	publish(t, b, "i1", "node_started", 1)
	assert.Empty(t, ch)
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	b := NewMemoryBus()

	ch, cancel, err := b.Subscribe(context.Background(), Filter{})
	require.NoError(t, err)
	defer cancel()

	// Nobody reads: fill the buffer and then some. Publish must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultChannelBuffer+10; i++ {
			publish(t, b, "i1", "node_started", uint64(i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber channel")
	}
	assert.Len(t, ch, defaultChannelBuffer)
}

func TestMultipleSubscribersEachReceive(t *testing.T) {
	b := NewMemoryBus()

	ch1, cancel1, err := b.Subscribe(context.Background(), Filter{})
	require.NoError(t, err)
	defer cancel1()
	ch2, cancel2, err := b.Subscribe(context.Background(), Filter{})
	require.NoError(t, err)
	defer cancel2()

	publish(t, b, "i1", "node_started", 1)

	assert.Equal(t, "node_started", receive(t, ch1).Type)
	assert.Equal(t, "node_started", receive(t, ch2).Type)
}

func TestPublishWithCancelledContext(t *testing.T) {
	b := NewMemoryBus()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Publish(ctx, Event{InstanceID: "i1", Type: "x"})
	require.Error(t, err)

	_, _, err = b.Subscribe(ctx, Filter{})
	require.Error(t, err)
}
