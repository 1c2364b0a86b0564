// Package transcode tracks on-demand derived-artifact jobs: download
// quality transcodes and streaming/direct-play sessions, with cache-style
// aging and cross-type cancellation.
package transcode

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/medialoom/medialoom/internal/events"
	"github.com/medialoom/medialoom/internal/store"
)

// Job types.
const (
	TypeDownload = "download"
	TypeStream   = "stream"
	TypeDirect   = "direct"
)

// Job statuses.
const (
	StatusPending     = "pending"
	StatusTranscoding = "transcoding"
	StatusReady       = "ready"
	StatusFailed      = "failed"
)

// WorkerPool cancels in-flight download-type transcodes. Cancel reports
// whether a worker was found; a missing worker is not an error.
type WorkerPool interface {
	Cancel(mediaFileID int64, resolution string) bool
}

// SessionSupervisor stops stream/direct playback sessions. Stop reports
// whether a session was found; a missing session is not an error.
type SessionSupervisor interface {
	Stop(mediaFileID, userID int64) bool
}

// Manager drives the transcode job state machine on top of the store.
type Manager struct {
	store      *store.Store
	workers    WorkerPool
	supervisor SessionSupervisor
	publisher  events.Publisher
	logger     zerolog.Logger
}

// NewManager creates a transcode job manager. workers and supervisor may
// be nil; cancellation then only deletes the job row.
func NewManager(st *store.Store, workers WorkerPool, supervisor SessionSupervisor, publisher events.Publisher, logger zerolog.Logger) *Manager {
	return &Manager{
		store:      st,
		workers:    workers,
		supervisor: supervisor,
		publisher:  publisher,
		logger:     logger.With().Str("component", "transcode").Logger(),
	}
}

// GetOrCreate returns the job for a (media file, resolution, type) key,
// creating a pending one if none exists. An existing job has its access
// time touched.
func (m *Manager) GetOrCreate(ctx context.Context, mediaFileID int64, resolution, jobType string, userID *int64) (*store.TranscodeJob, error) {
	job, err := m.store.GetJobByKey(ctx, mediaFileID, resolution, jobType)
	if err == nil {
		if job.Status == StatusReady {
			if terr := m.store.TouchJob(ctx, job.ID); terr != nil {
				m.logger.Debug().Err(terr).Int64("id", job.ID).Msg("Failed to touch job")
			}
		}
		return job, nil
	}
	if !errors.Is(err, store.ErrJobNotFound) {
		return nil, err
	}

	job, err = m.store.CreateJob(ctx, mediaFileID, resolution, jobType, userID)
	if err != nil {
		// A concurrent creator may have won the unique-key race.
		if existing, gerr := m.store.GetJobByKey(ctx, mediaFileID, resolution, jobType); gerr == nil {
			return existing, nil
		}
		return nil, err
	}

	m.publishUpdated(job.ID)
	m.logger.Info().
		Int64("id", job.ID).
		Int64("mediaFileId", mediaFileID).
		Str("resolution", resolution).
		Str("type", jobType).
		Msg("Created transcode job")
	return job, nil
}

// UpdateProgress records progress, moving the job into transcoding. The
// start time is stamped on the first update only.
func (m *Manager) UpdateProgress(ctx context.Context, id int64, progress float64) (*store.TranscodeJob, error) {
	job, err := m.store.UpdateJobProgress(ctx, id, progress)
	if err != nil {
		return nil, err
	}
	m.publishUpdated(id)
	return job, nil
}

// Complete moves a job to ready and records its output artifact.
func (m *Manager) Complete(ctx context.Context, id int64, outputPath string, outputSize int64) (*store.TranscodeJob, error) {
	job, err := m.store.CompleteJob(ctx, id, outputPath, outputSize)
	if err != nil {
		return nil, err
	}
	m.publishUpdated(id)
	m.logger.Info().
		Int64("id", id).
		Str("outputPath", outputPath).
		Int64("outputSize", outputSize).
		Msg("Transcode job ready")
	return job, nil
}

// Fail moves a job to failed with an error message.
func (m *Manager) Fail(ctx context.Context, id int64, message string) (*store.TranscodeJob, error) {
	job, err := m.store.FailJob(ctx, id, message)
	if err != nil {
		return nil, err
	}
	m.publishUpdated(id)
	m.logger.Warn().
		Int64("id", id).
		Str("error", message).
		Msg("Transcode job failed")
	return job, nil
}

// Touch bumps a job's access time for cache aging.
func (m *Manager) Touch(ctx context.Context, id int64) error {
	return m.store.TouchJob(ctx, id)
}

// Cancel stops a job's underlying work and deletes its row. Cancellation
// dispatches on job type: download jobs go to the worker pool, stream and
// direct jobs to the session supervisor. A downstream worker or session
// that is already gone is treated as success. For download jobs the
// output file is removed best-effort.
func (m *Manager) Cancel(ctx context.Context, id int64) error {
	job, err := m.store.GetJob(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			return nil
		}
		return err
	}

	switch job.JobType {
	case TypeDownload:
		if m.workers != nil {
			found := m.workers.Cancel(job.MediaFileID, job.Resolution)
			m.logger.Debug().
				Int64("id", id).
				Bool("workerFound", found).
				Msg("Cancelled download transcode worker")
		}
	case TypeStream, TypeDirect:
		if m.supervisor != nil && job.UserID != nil {
			found := m.supervisor.Stop(job.MediaFileID, *job.UserID)
			m.logger.Debug().
				Int64("id", id).
				Bool("sessionFound", found).
				Msg("Stopped playback session")
		}
	}

	if err := m.store.DeleteJob(ctx, id); err != nil {
		return err
	}

	if job.JobType == TypeDownload && job.OutputPath != nil {
		if rerr := os.Remove(*job.OutputPath); rerr != nil && !os.IsNotExist(rerr) {
			m.logger.Debug().
				Err(rerr).
				Str("path", *job.OutputPath).
				Msg("Failed to remove transcode output")
		}
	}

	m.publishUpdated(id)
	m.logger.Info().
		Int64("id", id).
		Str("type", job.JobType).
		Msg("Cancelled transcode job")
	return nil
}

// EvictStale cancels ready jobs whose last access is older than maxAge.
func (m *Manager) EvictStale(ctx context.Context, maxAge time.Duration) (int, error) {
	stale, err := m.store.ListStaleJobs(ctx, time.Now().Add(-maxAge))
	if err != nil {
		return 0, err
	}

	evicted := 0
	for _, job := range stale {
		if err := m.Cancel(ctx, job.ID); err != nil {
			m.logger.Warn().Err(err).Int64("id", job.ID).Msg("Failed to evict stale job")
			continue
		}
		evicted++
	}

	if evicted > 0 {
		m.logger.Info().Int("count", evicted).Msg("Evicted stale transcode jobs")
	}
	return evicted, nil
}

func (m *Manager) publishUpdated(id int64) {
	if m.publisher == nil {
		return
	}
	m.publisher.Publish(events.TypeJobUpdated, map[string]int64{"id": id})
}
