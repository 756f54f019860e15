// Package bus provides the publish/subscribe fabric carrying lifecycle
// events between the scheduling engine and reactive consumers (auto-pause
// on budget exhaustion, websocket fan-out, CLI watchers).
package bus

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// SubscriberChannelBufferSize is the buffer size for subscriber channels.
// Publishing never blocks: a subscriber that falls this far behind drops
// events.
const SubscriberChannelBufferSize = 100

// EventType tags a lifecycle event.
type EventType string

const (
	EventServiceStarted  EventType = "service.started"
	EventServiceErrored  EventType = "service.errored"
	EventServicePaused   EventType = "service.paused"
	EventServiceResumed  EventType = "service.resumed"
	EventServiceStopped  EventType = "service.stopped"
	EventBudgetExhausted EventType = "budget.exhausted"
	EventTaskCompleted   EventType = "task.completed"
	EventTaskErrored     EventType = "task.errored"
)

// Event is one lifecycle occurrence. ServiceID identifies the entity the
// event concerns (a registry service id or a task:<id> key).
type Event struct {
	Type      EventType              `json:"type"`
	ServiceID string                 `json:"service_id"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Bus is an in-process event bus with buffered, drop-on-overflow delivery.
type Bus struct {
	mu          sync.RWMutex
	subscribers []chan Event
	logger      *zap.SugaredLogger
}

// New creates an event bus. logger may be nil for tests.
func New(logger *zap.SugaredLogger) *Bus {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Bus{
		subscribers: make([]chan Event, 0),
		logger:      logger,
	}
}

// Publish delivers an event to all subscribers without blocking.
// The event's timestamp is stamped here if unset.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// Channel full: subscriber is too slow, drop rather than stall
			// the publisher.
			b.logger.Debugw("Dropping event for slow subscriber",
				"type", event.Type,
				"service_id", event.ServiceID)
		}
	}
}

// Subscribe returns a channel that receives published events.
// The caller is responsible for calling Unsubscribe when done.
func (b *Bus) Subscribe() chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, SubscriberChannelBufferSize)
	b.subscribers = append(b.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber channel from the bus.
// The channel is NOT closed by this method - callers should close it
// themselves after unsubscribing if needed. This prevents double-close
// panics.
func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subscribers {
		if sub == ch {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			return
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
