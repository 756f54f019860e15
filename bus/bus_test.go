package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	b := New(nil)
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: EventServiceStarted, ServiceID: "ingest"})

	select {
	case event := <-ch:
		assert.Equal(t, EventServiceStarted, event.Type)
		assert.Equal(t, "ingest", event.ServiceID)
		assert.False(t, event.Timestamp.IsZero(), "timestamp is stamped on publish")
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	b := New(nil)
	first := b.Subscribe()
	second := b.Subscribe()
	defer b.Unsubscribe(first)
	defer b.Unsubscribe(second)

	require.Equal(t, 2, b.SubscriberCount())
	b.Publish(Event{Type: EventTaskCompleted, ServiceID: "task:abc"})

	for _, ch := range []chan Event{first, second} {
		select {
		case event := <-ch:
			assert.Equal(t, EventTaskCompleted, event.Type)
		case <-time.After(time.Second):
			t.Fatal("subscriber missed event")
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(nil)
	ch := b.Subscribe()
	b.Unsubscribe(ch)
	assert.Equal(t, 0, b.SubscriberCount())

	b.Publish(Event{Type: EventServiceStopped, ServiceID: "ingest"})

	select {
	case <-ch:
		t.Fatal("unsubscribed channel received event")
	default:
	}
}

func TestPublishNeverBlocksOnFullSubscriber(t *testing.T) {
	b := New(nil)
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Fill the buffer and then some; Publish must return regardless.
	done := make(chan struct{})
	go func() {
		for i := 0; i < SubscriberChannelBufferSize+10; i++ {
			b.Publish(Event{Type: EventServiceStarted, ServiceID: "ingest"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
}
