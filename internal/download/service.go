// Package download orchestrates content acquisition: duplicate guarding,
// reference resolution, client selection, transfer submission, and the
// live status view over persisted download records.
package download

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/medialoom/medialoom/internal/acquire"
	"github.com/medialoom/medialoom/internal/downloadclient"
	"github.com/medialoom/medialoom/internal/downloadclient/types"
	"github.com/medialoom/medialoom/internal/events"
	"github.com/medialoom/medialoom/internal/store"
)

var ErrClientError = errors.New("download client error")

// InitiateRequest describes one acquisition to start.
type InitiateRequest struct {
	Title       string `json:"title"`
	DownloadURL string `json:"downloadUrl"`
	IndexerName string `json:"indexerName,omitempty"`

	// ClientName forces a specific backend; empty selects by protocol
	// and priority.
	ClientName string         `json:"clientName,omitempty"`
	Protocol   types.Protocol `json:"protocol,omitempty"`

	MediaItemID  *int64 `json:"mediaItemId,omitempty"`
	EpisodeID    *int64 `json:"episodeId,omitempty"`
	MediaType    string `json:"mediaType,omitempty"` // movie, show, music, book
	SeasonPack   bool   `json:"seasonPack,omitempty"`
	SeasonNumber *int64 `json:"seasonNumber,omitempty"`

	Quality  *string `json:"quality,omitempty"`
	Size     *int64  `json:"size,omitempty"`
	Seeders  *int64  `json:"seeders,omitempty"`
	Leechers *int64  `json:"leechers,omitempty"`
}

// Service provides acquisition and download lifecycle operations.
type Service struct {
	store      *store.Store
	registry   *downloadclient.Registry
	resolver   *acquire.Resolver
	aggregator *Aggregator
	guard      *Guard
	publisher  events.Publisher
	logger     zerolog.Logger
}

// NewService creates a download service.
func NewService(
	st *store.Store,
	registry *downloadclient.Registry,
	resolver *acquire.Resolver,
	publisher events.Publisher,
	logger zerolog.Logger,
) *Service {
	return &Service{
		store:      st,
		registry:   registry,
		resolver:   resolver,
		aggregator: NewAggregator(st, registry, logger),
		guard:      NewGuard(st),
		publisher:  publisher,
		logger:     logger.With().Str("component", "download").Logger(),
	}
}

// Aggregator exposes the status aggregator for schedulers.
func (s *Service) Aggregator() *Aggregator {
	return s.aggregator
}

// Initiate runs the full acquisition chain: duplicate guard, reference
// resolution, client selection, submission, and record creation. The
// first failing step aborts the operation.
func (s *Service) Initiate(ctx context.Context, req InitiateRequest) (*store.Download, error) {
	if err := s.guard.Check(ctx, req); err != nil {
		return nil, err
	}

	result, err := s.resolver.Resolve(ctx, req.DownloadURL, req.IndexerName)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("title", req.Title).
			Str("indexer", req.IndexerName).
			Msg("Failed to resolve download reference")
		return nil, err
	}

	protocol := req.Protocol
	if protocol == "" {
		protocol = inferProtocol(result)
	}

	cfg, err := s.selectClient(ctx, req.ClientName, protocol)
	if err != nil {
		return nil, err
	}

	client, err := s.registry.Client(cfg)
	if err != nil {
		return nil, err
	}

	input := types.AddInput{Name: req.Title}
	if result.MagnetURI != "" {
		input.MagnetURI = result.MagnetURI
	} else {
		input.FileContent = result.FileContent
		input.FileType = result.FileType
	}

	transferID, err := client.Add(ctx, input, types.AddOptions{Category: cfg.Category})
	if err != nil {
		s.publishAudit(events.TypeDownloadFailed, req.Title, cfg.Name, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrClientError, err)
	}

	d, err := s.store.CreateDownload(ctx, &store.Download{
		Title:        req.Title,
		DownloadURL:  req.DownloadURL,
		IndexerName:  req.IndexerName,
		ClientName:   cfg.Name,
		TransferID:   transferID,
		MediaItemID:  req.MediaItemID,
		EpisodeID:    req.EpisodeID,
		Protocol:     string(protocol),
		Quality:      req.Quality,
		Size:         req.Size,
		Seeders:      req.Seeders,
		Leechers:     req.Leechers,
		SeasonPack:   req.SeasonPack,
		SeasonNumber: req.SeasonNumber,
	})
	if err != nil {
		return nil, err
	}

	s.publishAudit(events.TypeDownloadInitiated, req.Title, cfg.Name, "")
	s.publishUpdated(d.ID)

	s.logger.Info().
		Int64("id", d.ID).
		Str("title", req.Title).
		Str("client", cfg.Name).
		Str("transferId", transferID).
		Str("protocol", string(protocol)).
		Msg("Initiated download")

	return d, nil
}

// selectClient resolves the configured client to use.
func (s *Service) selectClient(ctx context.Context, name string, protocol types.Protocol) (*types.ClientConfig, error) {
	rows, err := s.store.ListClients(ctx, true)
	if err != nil {
		return nil, err
	}
	configs := make([]*types.ClientConfig, 0, len(rows))
	for _, row := range rows {
		configs = append(configs, row.ClientConfig())
	}
	return downloadclient.Select(configs, name, protocol)
}

// inferProtocol picks the wire protocol implied by the resolved input.
func inferProtocol(result *acquire.Result) types.Protocol {
	if result.FileType == types.FileTypeNZB {
		return types.ProtocolUsenet
	}
	return types.ProtocolTorrent
}

// List returns the enriched download view, optionally filtered.
func (s *Service) List(ctx context.Context, filter Filter) ([]*EnrichedDownload, error) {
	downloads, err := s.store.ListDownloads(ctx)
	if err != nil {
		return nil, err
	}

	live, err := s.aggregator.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	enriched := s.aggregator.Enrich(downloads, live)
	if filter == "" || filter == FilterAll {
		return enriched, nil
	}

	filtered := make([]*EnrichedDownload, 0, len(enriched))
	for _, d := range enriched {
		if filter.Matches(d) {
			filtered = append(filtered, d)
		}
	}
	return filtered, nil
}

// Get returns one enriched download.
func (s *Service) Get(ctx context.Context, id int64) (*EnrichedDownload, error) {
	d, err := s.store.GetDownload(ctx, id)
	if err != nil {
		return nil, err
	}

	live, err := s.aggregator.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	return s.aggregator.Enrich([]*store.Download{d}, live)[0], nil
}

// Pause pauses the backend transfer for a download.
func (s *Service) Pause(ctx context.Context, id int64) error {
	d, client, err := s.clientFor(ctx, id)
	if err != nil {
		return err
	}
	if err := client.Pause(ctx, d.TransferID); err != nil {
		return fmt.Errorf("%w: %v", ErrClientError, err)
	}
	s.publishAudit(events.TypeDownloadPaused, d.Title, d.ClientName, "")
	s.publishUpdated(id)
	return nil
}

// Resume resumes the backend transfer for a download.
func (s *Service) Resume(ctx context.Context, id int64) error {
	d, client, err := s.clientFor(ctx, id)
	if err != nil {
		return err
	}
	if err := client.Resume(ctx, d.TransferID); err != nil {
		return fmt.Errorf("%w: %v", ErrClientError, err)
	}
	s.publishAudit(events.TypeDownloadResumed, d.Title, d.ClientName, "")
	s.publishUpdated(id)
	return nil
}

// Cancel removes the transfer from its backend, deleting downloaded data,
// and drops the local record. Backend removal failure for an already-gone
// transfer does not block the local delete.
func (s *Service) Cancel(ctx context.Context, id int64) error {
	d, client, err := s.clientFor(ctx, id)
	if err != nil {
		return err
	}

	if err := client.Remove(ctx, d.TransferID, true); err != nil {
		s.logger.Debug().
			Err(err).
			Int64("id", id).
			Str("client", d.ClientName).
			Msg("Failed to remove transfer from client during cancel")
	}

	if err := s.store.DeleteDownload(ctx, id); err != nil {
		return err
	}

	s.publishAudit(events.TypeDownloadCancelled, d.Title, d.ClientName, "")
	s.publishUpdated(id)
	return nil
}

// Clear removes a finished download's record. The backend transfer is
// removed without deleting files; a failure there is logged and the local
// record is deleted regardless.
func (s *Service) Clear(ctx context.Context, id int64) error {
	d, err := s.store.GetDownload(ctx, id)
	if err != nil {
		return err
	}

	if client, cerr := s.buildClient(ctx, d.ClientName); cerr == nil {
		if rerr := client.Remove(ctx, d.TransferID, false); rerr != nil {
			s.logger.Debug().
				Err(rerr).
				Int64("id", id).
				Str("client", d.ClientName).
				Msg("Failed to remove transfer from client during clear")
		}
	} else {
		s.logger.Debug().
			Err(cerr).
			Int64("id", id).
			Str("client", d.ClientName).
			Msg("Failed to reach client during clear")
	}

	if err := s.store.DeleteDownload(ctx, id); err != nil {
		return err
	}

	s.publishAudit(events.TypeDownloadCleared, d.Title, d.ClientName, "")
	s.publishUpdated(id)
	return nil
}

// MarkCompleted stamps the completion time on a download.
func (s *Service) MarkCompleted(ctx context.Context, id int64, at time.Time) error {
	if err := s.store.SetDownloadCompleted(ctx, id, at); err != nil {
		return err
	}
	s.publishAudit(events.TypeDownloadCompleted, "", "", "")
	s.publishUpdated(id)
	return nil
}

// MarkImported stamps the import time on a download.
func (s *Service) MarkImported(ctx context.Context, id int64) error {
	if err := s.store.SetDownloadImported(ctx, id, time.Now()); err != nil {
		return err
	}
	s.publishUpdated(id)
	return nil
}

// MarkImportFailed stamps the import failure time and bumps the retry
// counter.
func (s *Service) MarkImportFailed(ctx context.Context, id int64) error {
	if err := s.store.SetDownloadImportFailed(ctx, id, time.Now()); err != nil {
		return err
	}
	s.publishUpdated(id)
	return nil
}

// SetError records a failure on a download record.
func (s *Service) SetError(ctx context.Context, id int64, message string) error {
	if err := s.store.SetDownloadError(ctx, id, message); err != nil {
		return err
	}
	s.publishUpdated(id)
	return nil
}

// clientFor loads a download and an adapter bound to its backend.
func (s *Service) clientFor(ctx context.Context, id int64) (*store.Download, types.Client, error) {
	d, err := s.store.GetDownload(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	client, err := s.buildClient(ctx, d.ClientName)
	if err != nil {
		return nil, nil, err
	}
	return d, client, nil
}

func (s *Service) buildClient(ctx context.Context, clientName string) (types.Client, error) {
	row, err := s.store.GetClientByName(ctx, clientName)
	if err != nil {
		return nil, err
	}
	return s.registry.Client(row.ClientConfig())
}

func (s *Service) publishUpdated(id int64) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(events.TypeDownloadUpdated, map[string]int64{"id": id})
}

func (s *Service) publishAudit(eventType events.Type, title, clientName, errMsg string) {
	if s.publisher == nil {
		return
	}
	payload := map[string]string{}
	if title != "" {
		payload["title"] = title
	}
	if clientName != "" {
		payload["client"] = clientName
	}
	if errMsg != "" {
		payload["error"] = errMsg
	}
	s.publisher.Publish(eventType, payload)
}
