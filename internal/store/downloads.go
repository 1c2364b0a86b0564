package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var ErrDownloadNotFound = errors.New("download not found")

// Download is a persisted transfer record. The table holds only
// currently-relevant transfers; history lives in the events stream.
type Download struct {
	ID             int64
	Title          string
	DownloadURL    string
	IndexerName    string
	ClientName     string
	TransferID     string
	MediaItemID    *int64
	EpisodeID      *int64
	LibraryPath    *string
	Protocol       string
	Quality        *string
	Size           *int64
	Seeders        *int64
	Leechers       *int64
	SeasonPack     bool
	SeasonNumber   *int64
	CompletedAt    *time.Time
	ImportedAt     *time.Time
	ImportFailedAt *time.Time
	ImportAttempts int
	ErrorMessage   *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

const downloadColumns = `id, title, download_url, indexer_name, client_name, transfer_id,
	media_item_id, episode_id, library_path, protocol, quality, size, seeders, leechers,
	season_pack, season_number, completed_at, imported_at, import_failed_at,
	import_attempts, error_message, created_at, updated_at`

func scanDownload(row interface{ Scan(...interface{}) error }) (*Download, error) {
	var d Download
	var mediaItemID, episodeID, size, seeders, leechers, seasonNumber sql.NullInt64
	var libraryPath, quality, errorMessage sql.NullString
	var completedAt, importedAt, importFailedAt sql.NullTime
	var seasonPack int64

	err := row.Scan(
		&d.ID, &d.Title, &d.DownloadURL, &d.IndexerName, &d.ClientName, &d.TransferID,
		&mediaItemID, &episodeID, &libraryPath, &d.Protocol, &quality, &size, &seeders, &leechers,
		&seasonPack, &seasonNumber, &completedAt, &importedAt, &importFailedAt,
		&d.ImportAttempts, &errorMessage, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.MediaItemID = fromNullInt64(mediaItemID)
	d.EpisodeID = fromNullInt64(episodeID)
	d.LibraryPath = fromNullString(libraryPath)
	d.Quality = fromNullString(quality)
	d.Size = fromNullInt64(size)
	d.Seeders = fromNullInt64(seeders)
	d.Leechers = fromNullInt64(leechers)
	d.SeasonPack = seasonPack == 1
	d.SeasonNumber = fromNullInt64(seasonNumber)
	d.CompletedAt = fromNullTime(completedAt)
	d.ImportedAt = fromNullTime(importedAt)
	d.ImportFailedAt = fromNullTime(importFailedAt)
	d.ErrorMessage = fromNullString(errorMessage)
	return &d, nil
}

// CreateDownload inserts a download record.
func (s *Store) CreateDownload(ctx context.Context, d *Download) (*Download, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO downloads (title, download_url, indexer_name, client_name, transfer_id,
			media_item_id, episode_id, library_path, protocol, quality, size, seeders, leechers,
			season_pack, season_number)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING `+downloadColumns,
		d.Title, d.DownloadURL, d.IndexerName, d.ClientName, d.TransferID,
		toNullInt64(d.MediaItemID), toNullInt64(d.EpisodeID),
		nullStringPtr(d.LibraryPath), d.Protocol, nullStringPtr(d.Quality),
		toNullInt64(d.Size), toNullInt64(d.Seeders), toNullInt64(d.Leechers),
		boolToInt64(d.SeasonPack), toNullInt64(d.SeasonNumber),
	)
	created, err := scanDownload(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create download: %w", err)
	}
	return created, nil
}

// GetDownload retrieves a download by id.
func (s *Store) GetDownload(ctx context.Context, id int64) (*Download, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+downloadColumns+` FROM downloads WHERE id = ?`, id)
	d, err := scanDownload(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDownloadNotFound
		}
		return nil, fmt.Errorf("failed to get download: %w", err)
	}
	return d, nil
}

// ListDownloads returns all download records.
func (s *Store) ListDownloads(ctx context.Context) ([]*Download, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+downloadColumns+` FROM downloads ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list downloads: %w", err)
	}
	defer rows.Close()

	var downloads []*Download
	for rows.Next() {
		d, err := scanDownload(rows)
		if err != nil {
			return nil, err
		}
		downloads = append(downloads, d)
	}
	return downloads, rows.Err()
}

// DeleteDownload removes a download record.
func (s *Store) DeleteDownload(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM downloads WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete download: %w", err)
	}
	return nil
}

// SetDownloadCompleted stamps the completion time.
func (s *Store) SetDownloadCompleted(ctx context.Context, id int64, at time.Time) error {
	return s.execDownloadUpdate(ctx, id,
		`UPDATE downloads SET completed_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, at)
}

// SetDownloadImported stamps the import time.
func (s *Store) SetDownloadImported(ctx context.Context, id int64, at time.Time) error {
	return s.execDownloadUpdate(ctx, id,
		`UPDATE downloads SET imported_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, at)
}

// SetDownloadImportFailed stamps the import failure time and bumps the
// retry counter.
func (s *Store) SetDownloadImportFailed(ctx context.Context, id int64, at time.Time) error {
	return s.execDownloadUpdate(ctx, id,
		`UPDATE downloads SET import_failed_at = ?, import_attempts = import_attempts + 1,
			updated_at = CURRENT_TIMESTAMP WHERE id = ?`, at)
}

// SetDownloadError records an error message on the download.
func (s *Store) SetDownloadError(ctx context.Context, id int64, message string) error {
	return s.execDownloadUpdate(ctx, id,
		`UPDATE downloads SET error_message = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, message)
}

func (s *Store) execDownloadUpdate(ctx context.Context, id int64, query string, arg interface{}) error {
	res, err := s.db.ExecContext(ctx, query, arg, id)
	if err != nil {
		return fmt.Errorf("failed to update download: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrDownloadNotFound
	}
	return nil
}

// activeDownloadFilter selects records that are still in flight: no
// completion time and no error recorded.
const activeDownloadFilter = `completed_at IS NULL AND error_message IS NULL`

// CountActiveDownloadsByEpisode counts in-flight downloads for an episode.
func (s *Store) CountActiveDownloadsByEpisode(ctx context.Context, episodeID int64) (int64, error) {
	return s.countDownloads(ctx,
		`SELECT COUNT(*) FROM downloads WHERE `+activeDownloadFilter+` AND episode_id = ?`, episodeID)
}

// CountActiveDownloadsBySeason counts in-flight season-pack downloads for
// a media item and season.
func (s *Store) CountActiveDownloadsBySeason(ctx context.Context, mediaItemID, seasonNumber int64) (int64, error) {
	return s.countDownloads(ctx,
		`SELECT COUNT(*) FROM downloads WHERE `+activeDownloadFilter+`
			AND media_item_id = ? AND season_pack = 1 AND season_number = ?`,
		mediaItemID, seasonNumber)
}

// CountActiveDownloadsByMediaItem counts in-flight downloads attached
// directly to a media item.
func (s *Store) CountActiveDownloadsByMediaItem(ctx context.Context, mediaItemID int64) (int64, error) {
	return s.countDownloads(ctx,
		`SELECT COUNT(*) FROM downloads WHERE `+activeDownloadFilter+` AND media_item_id = ?`, mediaItemID)
}

// CountActiveDownloadsByURL counts in-flight downloads with no media
// association, matched by their source URL.
func (s *Store) CountActiveDownloadsByURL(ctx context.Context, downloadURL string) (int64, error) {
	return s.countDownloads(ctx,
		`SELECT COUNT(*) FROM downloads WHERE `+activeDownloadFilter+` AND download_url = ?`, downloadURL)
}

func (s *Store) countDownloads(ctx context.Context, query string, args ...interface{}) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count downloads: %w", err)
	}
	return count, nil
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
