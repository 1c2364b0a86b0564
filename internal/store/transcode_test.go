package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func createTestMediaFile(t *testing.T, st *Store) *MediaFile {
	t.Helper()
	ctx := context.Background()

	item, err := st.CreateMediaItem(ctx, "Some Movie", "movie")
	if err != nil {
		t.Fatalf("CreateMediaItem() failed: %v", err)
	}
	file, err := st.CreateMediaFile(ctx, &MediaFile{
		MediaItemID: &item.ID,
		Path:        "/library/Some Movie/movie.mkv",
		Size:        4294967296,
		Quality:     "2160p",
	})
	if err != nil {
		t.Fatalf("CreateMediaFile() failed: %v", err)
	}
	return file
}

func TestJobLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	file := createTestMediaFile(t, st)

	job, err := st.CreateJob(ctx, file.ID, "1080p", "download", nil)
	if err != nil {
		t.Fatalf("CreateJob() failed: %v", err)
	}
	if job.Status != "pending" {
		t.Errorf("expected pending status, got %s", job.Status)
	}
	if job.StartedAt != nil {
		t.Error("expected no start time on a pending job")
	}

	job, err = st.UpdateJobProgress(ctx, job.ID, 0.25)
	if err != nil {
		t.Fatalf("UpdateJobProgress() failed: %v", err)
	}
	if job.Status != "transcoding" || job.Progress != 0.25 {
		t.Errorf("unexpected job after progress update: %+v", job)
	}
	if job.StartedAt == nil {
		t.Fatal("expected start time to be stamped")
	}
	firstStart := *job.StartedAt

	// Further progress updates keep the original start time.
	job, err = st.UpdateJobProgress(ctx, job.ID, 0.5)
	if err != nil {
		t.Fatalf("UpdateJobProgress() failed: %v", err)
	}
	if !job.StartedAt.Equal(firstStart) {
		t.Errorf("expected start time %v preserved, got %v", firstStart, job.StartedAt)
	}

	job, err = st.CompleteJob(ctx, job.ID, "/cache/movie-1080p.mp4", 1073741824)
	if err != nil {
		t.Fatalf("CompleteJob() failed: %v", err)
	}
	if job.Status != "ready" || job.Progress != 1.0 {
		t.Errorf("unexpected completed job: %+v", job)
	}
	if job.OutputPath == nil || *job.OutputPath != "/cache/movie-1080p.mp4" {
		t.Errorf("unexpected output path %v", job.OutputPath)
	}
	if job.CompletedAt == nil || job.LastAccessedAt == nil {
		t.Error("expected completion and access stamps on ready job")
	}
}

func TestFailJob(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	file := createTestMediaFile(t, st)

	job, err := st.CreateJob(ctx, file.ID, "720p", "stream", nil)
	if err != nil {
		t.Fatalf("CreateJob() failed: %v", err)
	}

	job, err = st.FailJob(ctx, job.ID, "encoder crashed")
	if err != nil {
		t.Fatalf("FailJob() failed: %v", err)
	}
	if job.Status != "failed" {
		t.Errorf("expected failed status, got %s", job.Status)
	}
	if job.ErrorMessage == nil || *job.ErrorMessage != "encoder crashed" {
		t.Errorf("unexpected error message %v", job.ErrorMessage)
	}
}

func TestGetJobByKey(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	file := createTestMediaFile(t, st)

	created, err := st.CreateJob(ctx, file.ID, "1080p", "download", nil)
	if err != nil {
		t.Fatalf("CreateJob() failed: %v", err)
	}

	got, err := st.GetJobByKey(ctx, file.ID, "1080p", "download")
	if err != nil {
		t.Fatalf("GetJobByKey() failed: %v", err)
	}
	if got.ID != created.ID {
		t.Errorf("expected job %d, got %d", created.ID, got.ID)
	}

	if _, err := st.GetJobByKey(ctx, file.ID, "720p", "download"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound for other resolution, got %v", err)
	}
}

func TestCreateJob_DuplicateKeyRejected(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	file := createTestMediaFile(t, st)

	if _, err := st.CreateJob(ctx, file.ID, "1080p", "download", nil); err != nil {
		t.Fatalf("CreateJob() failed: %v", err)
	}
	if _, err := st.CreateJob(ctx, file.ID, "1080p", "download", nil); err == nil {
		t.Error("expected unique constraint violation for duplicate key")
	}

	// A different resolution or type is a different job.
	if _, err := st.CreateJob(ctx, file.ID, "720p", "download", nil); err != nil {
		t.Errorf("CreateJob() with other resolution failed: %v", err)
	}
	if _, err := st.CreateJob(ctx, file.ID, "1080p", "stream", nil); err != nil {
		t.Errorf("CreateJob() with other type failed: %v", err)
	}
}

func TestTouchJob(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	file := createTestMediaFile(t, st)

	job, err := st.CreateJob(ctx, file.ID, "1080p", "download", nil)
	if err != nil {
		t.Fatalf("CreateJob() failed: %v", err)
	}

	if err := st.TouchJob(ctx, job.ID); err != nil {
		t.Fatalf("TouchJob() failed: %v", err)
	}
	got, err := st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob() failed: %v", err)
	}
	if got.LastAccessedAt == nil {
		t.Error("expected last access stamp after touch")
	}

	if err := st.TouchJob(ctx, 9999); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestListStaleJobs(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	file := createTestMediaFile(t, st)

	ready, err := st.CreateJob(ctx, file.ID, "1080p", "download", nil)
	if err != nil {
		t.Fatalf("CreateJob() failed: %v", err)
	}
	if _, err := st.CompleteJob(ctx, ready.ID, "/cache/out.mp4", 100); err != nil {
		t.Fatalf("CompleteJob() failed: %v", err)
	}

	// Pending jobs are never stale regardless of age.
	if _, err := st.CreateJob(ctx, file.ID, "720p", "download", nil); err != nil {
		t.Fatalf("CreateJob() failed: %v", err)
	}

	stale, err := st.ListStaleJobs(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("ListStaleJobs() failed: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != ready.ID {
		t.Errorf("expected only the ready job to be stale, got %+v", stale)
	}

	stale, err = st.ListStaleJobs(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ListStaleJobs() failed: %v", err)
	}
	if len(stale) != 0 {
		t.Errorf("expected no stale jobs with past cutoff, got %d", len(stale))
	}
}
