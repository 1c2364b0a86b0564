package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// MediaItem is a movie, show, album or book in the library.
type MediaItem struct {
	ID        int64
	Title     string
	MediaType string
	CreatedAt time.Time
}

// Episode is one episode of a show.
type Episode struct {
	ID            int64
	MediaItemID   int64
	SeasonNumber  int
	EpisodeNumber int
	Title         string
	CreatedAt     time.Time
}

// MediaFile is a materialized file belonging to a media item or episode.
type MediaFile struct {
	ID          int64
	MediaItemID *int64
	EpisodeID   *int64
	Path        string
	Size        int64
	Quality     string
	CreatedAt   time.Time
}

// CreateMediaItem inserts a media item.
func (s *Store) CreateMediaItem(ctx context.Context, title, mediaType string) (*MediaItem, error) {
	var m MediaItem
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO media_items (title, media_type) VALUES (?, ?)
		RETURNING id, title, media_type, created_at`,
		title, mediaType,
	).Scan(&m.ID, &m.Title, &m.MediaType, &m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create media item: %w", err)
	}
	return &m, nil
}

// CreateEpisode inserts an episode.
func (s *Store) CreateEpisode(ctx context.Context, mediaItemID int64, seasonNumber, episodeNumber int, title string) (*Episode, error) {
	var e Episode
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO episodes (media_item_id, season_number, episode_number, title)
		VALUES (?, ?, ?, ?)
		RETURNING id, media_item_id, season_number, episode_number, title, created_at`,
		mediaItemID, seasonNumber, episodeNumber, title,
	).Scan(&e.ID, &e.MediaItemID, &e.SeasonNumber, &e.EpisodeNumber, &e.Title, &e.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create episode: %w", err)
	}
	return &e, nil
}

// CreateMediaFile inserts a media file row.
func (s *Store) CreateMediaFile(ctx context.Context, f *MediaFile) (*MediaFile, error) {
	var created MediaFile
	var mediaItemID, episodeID sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO media_files (media_item_id, episode_id, path, size, quality)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id, media_item_id, episode_id, path, size, quality, created_at`,
		toNullInt64(f.MediaItemID), toNullInt64(f.EpisodeID), f.Path, f.Size, f.Quality,
	).Scan(&created.ID, &mediaItemID, &episodeID, &created.Path, &created.Size, &created.Quality, &created.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create media file: %w", err)
	}
	created.MediaItemID = fromNullInt64(mediaItemID)
	created.EpisodeID = fromNullInt64(episodeID)
	return &created, nil
}

// CountMediaFilesByEpisode counts files already linked to an episode.
func (s *Store) CountMediaFilesByEpisode(ctx context.Context, episodeID int64) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM media_files WHERE episode_id = ?`, episodeID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count media files: %w", err)
	}
	return count, nil
}

// CountMediaFilesBySeason counts files on any episode of the given season.
func (s *Store) CountMediaFilesBySeason(ctx context.Context, mediaItemID, seasonNumber int64) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM media_files mf
		JOIN episodes e ON e.id = mf.episode_id
		WHERE e.media_item_id = ? AND e.season_number = ?`,
		mediaItemID, seasonNumber).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count media files: %w", err)
	}
	return count, nil
}

// CountMediaFilesByMediaItem counts files linked directly to a media item.
func (s *Store) CountMediaFilesByMediaItem(ctx context.Context, mediaItemID int64) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM media_files WHERE media_item_id = ?`, mediaItemID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count media files: %w", err)
	}
	return count, nil
}
