package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var ErrJobNotFound = errors.New("transcode job not found")

// TranscodeJob is a persisted derived-artifact job. Unique per
// (media_file_id, resolution, job_type).
type TranscodeJob struct {
	ID             int64
	MediaFileID    int64
	Resolution     string
	JobType        string
	Status         string
	Progress       float64
	OutputPath     *string
	OutputSize     *int64
	ErrorMessage   *string
	UserID         *int64
	StartedAt      *time.Time
	CompletedAt    *time.Time
	LastAccessedAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

const jobColumns = `id, media_file_id, resolution, job_type, status, progress,
	output_path, output_size, error_message, user_id,
	started_at, completed_at, last_accessed_at, created_at, updated_at`

func scanJob(row interface{ Scan(...interface{}) error }) (*TranscodeJob, error) {
	var j TranscodeJob
	var outputPath, errorMessage sql.NullString
	var outputSize, userID sql.NullInt64
	var startedAt, completedAt, lastAccessedAt sql.NullTime

	err := row.Scan(
		&j.ID, &j.MediaFileID, &j.Resolution, &j.JobType, &j.Status, &j.Progress,
		&outputPath, &outputSize, &errorMessage, &userID,
		&startedAt, &completedAt, &lastAccessedAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.OutputPath = fromNullString(outputPath)
	j.OutputSize = fromNullInt64(outputSize)
	j.ErrorMessage = fromNullString(errorMessage)
	j.UserID = fromNullInt64(userID)
	j.StartedAt = fromNullTime(startedAt)
	j.CompletedAt = fromNullTime(completedAt)
	j.LastAccessedAt = fromNullTime(lastAccessedAt)
	return &j, nil
}

// CreateJob inserts a pending transcode job.
func (s *Store) CreateJob(ctx context.Context, mediaFileID int64, resolution, jobType string, userID *int64) (*TranscodeJob, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO transcode_jobs (media_file_id, resolution, job_type, status, user_id)
		VALUES (?, ?, ?, 'pending', ?)
		RETURNING `+jobColumns,
		mediaFileID, resolution, jobType, toNullInt64(userID),
	)
	created, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create transcode job: %w", err)
	}
	return created, nil
}

// GetJob retrieves a job by id.
func (s *Store) GetJob(ctx context.Context, id int64) (*TranscodeJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM transcode_jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get transcode job: %w", err)
	}
	return j, nil
}

// GetJobByKey retrieves a job by its unique (media file, resolution, type) key.
func (s *Store) GetJobByKey(ctx context.Context, mediaFileID int64, resolution, jobType string) (*TranscodeJob, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM transcode_jobs
		WHERE media_file_id = ? AND resolution = ? AND job_type = ?`,
		mediaFileID, resolution, jobType)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get transcode job: %w", err)
	}
	return j, nil
}

// UpdateJobProgress moves a job into transcoding and records progress.
// The start time is stamped only once; later updates keep the original.
func (s *Store) UpdateJobProgress(ctx context.Context, id int64, progress float64) (*TranscodeJob, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE transcode_jobs
		SET status = 'transcoding', progress = ?,
			started_at = COALESCE(started_at, CURRENT_TIMESTAMP),
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
		RETURNING `+jobColumns,
		progress, id)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to update transcode job: %w", err)
	}
	return j, nil
}

// CompleteJob moves a job to ready with its output artifact.
func (s *Store) CompleteJob(ctx context.Context, id int64, outputPath string, outputSize int64) (*TranscodeJob, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE transcode_jobs
		SET status = 'ready', progress = 1.0, output_path = ?, output_size = ?,
			completed_at = CURRENT_TIMESTAMP, last_accessed_at = CURRENT_TIMESTAMP,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
		RETURNING `+jobColumns,
		outputPath, outputSize, id)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to complete transcode job: %w", err)
	}
	return j, nil
}

// FailJob moves a job to failed with an error message.
func (s *Store) FailJob(ctx context.Context, id int64, message string) (*TranscodeJob, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE transcode_jobs
		SET status = 'failed', error_message = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
		RETURNING `+jobColumns,
		message, id)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to fail transcode job: %w", err)
	}
	return j, nil
}

// TouchJob bumps last_accessed_at for cache aging.
func (s *Store) TouchJob(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE transcode_jobs
		SET last_accessed_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to touch transcode job: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a job row.
func (s *Store) DeleteJob(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM transcode_jobs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete transcode job: %w", err)
	}
	return nil
}

// ListStaleJobs returns ready jobs whose last access is older than the
// cutoff, candidates for eviction.
func (s *Store) ListStaleJobs(ctx context.Context, cutoff time.Time) ([]*TranscodeJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM transcode_jobs
		WHERE status = 'ready' AND last_accessed_at IS NOT NULL AND last_accessed_at < ?
		ORDER BY last_accessed_at ASC`,
		cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale transcode jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*TranscodeJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}
