package download

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/medialoom/medialoom/internal/downloadclient"
	"github.com/medialoom/medialoom/internal/downloadclient/types"
	"github.com/medialoom/medialoom/internal/store"
)

const (
	// maxConcurrentClients bounds the status fan-out.
	maxConcurrentClients = 10
	// perClientTimeout caps one client's List call so an unreachable
	// backend cannot stall the aggregation.
	perClientTimeout = 30 * time.Second
)

// transferKey identifies a live transfer across all backends.
type transferKey struct {
	clientName string
	transferID string
}

// Aggregator fans out to every enabled client for live transfer state and
// merges the results onto persisted download records. One client's
// failure is isolated: it logs and contributes nothing.
type Aggregator struct {
	store    *store.Store
	registry *downloadclient.Registry
	logger   zerolog.Logger
}

// NewAggregator creates a status aggregator.
func NewAggregator(st *store.Store, registry *downloadclient.Registry, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		store:    st,
		registry: registry,
		logger:   logger.With().Str("component", "status-aggregator").Logger(),
	}
}

// Snapshot collects live transfers from all enabled clients, at most
// maxConcurrentClients in flight at once.
func (a *Aggregator) Snapshot(ctx context.Context) (map[transferKey]types.Transfer, error) {
	configs, err := a.store.ListClients(ctx, true)
	if err != nil {
		return nil, err
	}

	sem := semaphore.NewWeighted(maxConcurrentClients)
	var wg sync.WaitGroup
	var mu sync.Mutex
	merged := make(map[transferKey]types.Transfer)

	for _, row := range configs {
		cfg := row.ClientConfig()
		wg.Add(1)
		go func() {
			defer wg.Done()

			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)

			transfers := a.listClient(ctx, cfg)

			mu.Lock()
			for _, t := range transfers {
				merged[transferKey{clientName: cfg.Name, transferID: t.ID}] = t
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	return merged, nil
}

// listClient fetches one client's transfer list with a per-call timeout.
// Errors are logged and yield an empty result set.
func (a *Aggregator) listClient(ctx context.Context, cfg *types.ClientConfig) []types.Transfer {
	client, err := a.registry.Client(cfg)
	if err != nil {
		a.logger.Warn().
			Err(err).
			Str("client", cfg.Name).
			Str("type", string(cfg.Type)).
			Msg("Failed to build client for status poll")
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, perClientTimeout)
	defer cancel()

	transfers, err := client.List(callCtx)
	if err != nil {
		a.logger.Warn().
			Err(err).
			Str("client", cfg.Name).
			Msg("Failed to list transfers, skipping client")
		return nil
	}
	return transfers
}

// Enrich merges live transfer state onto persisted downloads. Records
// with no live entry derive their status from stored fields in priority
// order: imported, completed, failed, missing.
func (a *Aggregator) Enrich(downloads []*store.Download, live map[transferKey]types.Transfer) []*EnrichedDownload {
	enriched := make([]*EnrichedDownload, 0, len(downloads))
	for _, d := range downloads {
		e := &EnrichedDownload{Download: d}

		if t, ok := live[transferKey{clientName: d.ClientName, transferID: d.TransferID}]; ok {
			e.Status = statusFromState(t.State)
			e.Progress = t.Progress
			e.DownloadSpeed = t.DownloadSpeed
			e.UploadSpeed = t.UploadSpeed
			e.ETA = t.ETA
			e.Ratio = t.Ratio
			e.SavePath = t.SavePath
			e.Live = true
		} else {
			e.Status = derivedStatus(d)
			if e.Status == StatusImported || e.Status == StatusCompleted {
				e.Progress = 100
			}
		}

		enriched = append(enriched, e)
	}
	return enriched
}

func derivedStatus(d *store.Download) Status {
	switch {
	case d.ImportedAt != nil:
		return StatusImported
	case d.CompletedAt != nil:
		return StatusCompleted
	case d.ErrorMessage != nil:
		return StatusFailed
	default:
		return StatusMissing
	}
}
