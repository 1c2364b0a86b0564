package download

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/medialoom/medialoom/internal/events"
)

const (
	// Fast polling while transfers are moving
	activeInterval = 2 * time.Second
	// Slow polling when nothing is active
	idleInterval = 30 * time.Second
)

// Broadcaster periodically refreshes the enriched download view and
// publishes it on the event bus. Polling is adaptive: fast while
// downloads are active, slow when the queue is idle. Completion times are
// stamped here when a live transfer first reports completed.
type Broadcaster struct {
	service *Service
	bus     events.Publisher
	logger  zerolog.Logger

	stopCh    chan struct{}
	stoppedCh chan struct{}
	triggerCh chan struct{}
	mu        sync.Mutex
	running   bool
}

// NewBroadcaster creates a download broadcaster.
func NewBroadcaster(service *Service, bus events.Publisher, logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		service: service,
		bus:     bus,
		logger:  logger.With().Str("component", "download-broadcaster").Logger(),
	}
}

// Start begins periodic polling.
func (b *Broadcaster) Start() {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.stopCh = make(chan struct{})
	b.stoppedCh = make(chan struct{})
	b.triggerCh = make(chan struct{}, 1)
	b.mu.Unlock()

	go b.run()
	b.logger.Info().
		Dur("activeInterval", activeInterval).
		Dur("idleInterval", idleInterval).
		Msg("Download broadcaster started with adaptive polling")
}

// Stop halts polling and waits for the loop to exit.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	close(b.stopCh)
	b.mu.Unlock()

	<-b.stoppedCh
	b.logger.Info().Msg("Download broadcaster stopped")
}

// Trigger forces an immediate poll and switches to fast polling. Call
// after initiating or resuming a download.
func (b *Broadcaster) Trigger() {
	b.mu.Lock()
	running := b.running
	b.mu.Unlock()
	if !running {
		return
	}

	// Non-blocking send; a pending trigger already covers this one.
	select {
	case b.triggerCh <- struct{}{}:
	default:
	}
}

func (b *Broadcaster) run() {
	defer close(b.stoppedCh)

	hasActive := b.poll()

	interval := idleInterval
	if hasActive {
		interval = activeInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-b.triggerCh:
			b.poll()
			if interval != activeInterval {
				interval = activeInterval
				ticker.Reset(interval)
			}
		case <-ticker.C:
			hasActive := b.poll()
			newInterval := idleInterval
			if hasActive {
				newInterval = activeInterval
			}
			if newInterval != interval {
				interval = newInterval
				ticker.Reset(interval)
			}
		}
	}
}

// poll refreshes the enriched view, stamps new completions, and publishes
// the snapshot. Returns whether any download is still moving.
func (b *Broadcaster) poll() bool {
	ctx, cancel := context.WithTimeout(context.Background(), perClientTimeout+5*time.Second)
	defer cancel()

	enriched, err := b.service.List(ctx, FilterAll)
	if err != nil {
		b.logger.Warn().Err(err).Msg("Failed to refresh download view")
		return false
	}

	for _, d := range enriched {
		if d.Status == StatusCompleted && d.CompletedAt == nil {
			if err := b.service.MarkCompleted(ctx, d.ID, time.Now()); err != nil {
				b.logger.Warn().Err(err).Int64("id", d.ID).Msg("Failed to stamp completion")
			}
		}
	}

	if b.bus != nil {
		b.bus.Publish(events.TypeDownloadUpdated, enriched)
	}

	for _, d := range enriched {
		switch d.Status {
		case StatusDownloading, StatusChecking:
			return true
		}
	}
	return false
}
