package download

import (
	"context"
	"errors"
	"fmt"

	"github.com/medialoom/medialoom/internal/store"
)

var ErrDuplicateDownload = errors.New("duplicate download")

// Guard blocks acquisitions that would duplicate an in-flight download or
// an already-materialized media file. The check-then-create sequence is
// not transactional; concurrent initiations for the same target can both
// pass (see the query-time scoping below).
type Guard struct {
	store *store.Store
}

// NewGuard creates a duplicate guard on the store.
func NewGuard(st *store.Store) *Guard {
	return &Guard{store: st}
}

// Check validates an initiation request against both duplicate checks.
func (g *Guard) Check(ctx context.Context, req InitiateRequest) error {
	if err := g.checkActiveDownloads(ctx, req); err != nil {
		return err
	}
	return g.checkExistingMediaFiles(ctx, req)
}

// checkActiveDownloads scopes the in-flight lookup by the narrowest
// association the request carries: episode, season pack, media item, or
// the raw URL when nothing is associated.
func (g *Guard) checkActiveDownloads(ctx context.Context, req InitiateRequest) error {
	var (
		count int64
		err   error
	)
	switch {
	case req.EpisodeID != nil:
		count, err = g.store.CountActiveDownloadsByEpisode(ctx, *req.EpisodeID)
	case req.SeasonPack && req.MediaItemID != nil && req.SeasonNumber != nil:
		count, err = g.store.CountActiveDownloadsBySeason(ctx, *req.MediaItemID, *req.SeasonNumber)
	case req.MediaItemID != nil:
		count, err = g.store.CountActiveDownloadsByMediaItem(ctx, *req.MediaItemID)
	default:
		count, err = g.store.CountActiveDownloadsByURL(ctx, req.DownloadURL)
	}
	if err != nil {
		return fmt.Errorf("failed to check active downloads: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("%w: an active download already exists", ErrDuplicateDownload)
	}
	return nil
}

// checkExistingMediaFiles blocks a download whose target already has a
// materialized file. Show-level requests that are not season packs skip
// the check, since a show may need several independent season downloads.
// Unassociated downloads skip it entirely.
func (g *Guard) checkExistingMediaFiles(ctx context.Context, req InitiateRequest) error {
	var (
		count int64
		err   error
	)
	switch {
	case req.EpisodeID != nil:
		count, err = g.store.CountMediaFilesByEpisode(ctx, *req.EpisodeID)
	case req.SeasonPack && req.MediaItemID != nil && req.SeasonNumber != nil:
		count, err = g.store.CountMediaFilesBySeason(ctx, *req.MediaItemID, *req.SeasonNumber)
	case req.MediaItemID != nil && req.MediaType == "movie":
		count, err = g.store.CountMediaFilesByMediaItem(ctx, *req.MediaItemID)
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to check existing media files: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("%w: a media file already exists for this target", ErrDuplicateDownload)
	}
	return nil
}
