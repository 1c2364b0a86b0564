package events

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestBus_PublishReachesSubscribers(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	ch1, cancel1 := bus.Subscribe()
	defer cancel1()
	ch2, cancel2 := bus.Subscribe()
	defer cancel2()

	bus.Publish(TypeDownloadUpdated, map[string]int64{"id": 7})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case event := <-ch:
			if event.Type != TypeDownloadUpdated {
				t.Errorf("subscriber %d: expected type %s, got %s", i, TypeDownloadUpdated, event.Type)
			}
			if event.Timestamp.IsZero() {
				t.Errorf("subscriber %d: expected timestamp set", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: timed out waiting for event", i)
		}
	}
}

func TestBus_CancelStopsDelivery(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	ch, cancel := bus.Subscribe()
	cancel()

	// Publishing after cancel must not panic, and the channel is closed.
	bus.Publish(TypeDownloadUpdated, nil)

	if _, ok := <-ch; ok {
		t.Error("expected channel closed after cancel")
	}

	// Cancel is safe to call twice.
	cancel()
}

func TestBus_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	ch, cancel := bus.Subscribe()
	defer cancel()

	// Fill the buffer and then some; Publish must never block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer*2; i++ {
			bus.Publish(TypeLogEntry, i)
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	// The subscriber still sees the buffered prefix.
	received := 0
	for {
		select {
		case <-ch:
			received++
			continue
		default:
		}
		break
	}
	if received != subscriberBuffer {
		t.Errorf("expected %d buffered events, got %d", subscriberBuffer, received)
	}
}
