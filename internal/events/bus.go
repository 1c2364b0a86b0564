// Package events provides a fire-and-forget in-process event bus used to
// notify outer layers (API, UI push channels) about state changes.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Type identifies an event kind.
type Type string

const (
	TypeDownloadUpdated   Type = "download_updated"
	TypeDownloadInitiated Type = "download_initiated"
	TypeDownloadCompleted Type = "download_completed"
	TypeDownloadFailed    Type = "download_failed"
	TypeDownloadCancelled Type = "download_cancelled"
	TypeDownloadPaused    Type = "download_paused"
	TypeDownloadResumed   Type = "download_resumed"
	TypeDownloadCleared   Type = "download_cleared"
	TypeJobUpdated        Type = "job_updated"
	TypeLogEntry          Type = "log_entry"
)

// Event is a broadcast message.
type Event struct {
	Type      Type        `json:"type"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Publisher is the producer side of the bus. Publish never blocks.
type Publisher interface {
	Publish(eventType Type, payload interface{})
}

// Bus fans events out to subscribers over buffered channels. A slow
// subscriber drops events rather than blocking publishers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int]chan Event
	nextID      int
	logger      zerolog.Logger
}

// Compile-time check that Bus is a Publisher.
var _ Publisher = (*Bus)(nil)

// subscriberBuffer is the per-subscriber channel capacity.
const subscriberBuffer = 64

// NewBus creates an event bus.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		subscribers: make(map[int]chan Event),
		logger:      logger.With().Str("component", "events").Logger(),
	}
}

// Subscribe registers a new subscriber. The returned cancel function
// unregisters it and closes the channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, subscriberBuffer)
	b.subscribers[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish broadcasts an event to all subscribers without blocking.
func (b *Bus) Publish(eventType Type, payload interface{}) {
	event := Event{
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			b.logger.Debug().
				Int("subscriber", id).
				Str("type", string(eventType)).
				Msg("Subscriber buffer full, dropping event")
		}
	}
}
