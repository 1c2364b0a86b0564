package transcode

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/medialoom/medialoom/internal/events"
	"github.com/medialoom/medialoom/internal/store"
	"github.com/medialoom/medialoom/internal/testutil"
)

type fakeWorkerPool struct {
	cancelled [][2]interface{}
	found     bool
}

func (p *fakeWorkerPool) Cancel(mediaFileID int64, resolution string) bool {
	p.cancelled = append(p.cancelled, [2]interface{}{mediaFileID, resolution})
	return p.found
}

type fakeSupervisor struct {
	stopped [][2]int64
	found   bool
}

func (s *fakeSupervisor) Stop(mediaFileID, userID int64) bool {
	s.stopped = append(s.stopped, [2]int64{mediaFileID, userID})
	return s.found
}

type capturePublisher struct {
	types []events.Type
}

func (p *capturePublisher) Publish(eventType events.Type, _ interface{}) {
	p.types = append(p.types, eventType)
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	tdb := testutil.NewTestDB(t)
	t.Cleanup(tdb.Close)
	return store.New(tdb.Conn)
}

func createTestMediaFile(t *testing.T, st *store.Store) *store.MediaFile {
	t.Helper()

	item, err := st.CreateMediaItem(context.Background(), "Some Movie", "movie")
	if err != nil {
		t.Fatalf("failed to create media item: %v", err)
	}
	file, err := st.CreateMediaFile(context.Background(), &store.MediaFile{
		MediaItemID: &item.ID,
		Path:        "/library/Some Movie/Some.Movie.2024.mkv",
		Size:        4 << 30,
		Quality:     "1080p",
	})
	if err != nil {
		t.Fatalf("failed to create media file: %v", err)
	}
	return file
}

func TestManager_GetOrCreateIdempotent(t *testing.T) {
	st := newTestStore(t)
	file := createTestMediaFile(t, st)
	pub := &capturePublisher{}
	mgr := NewManager(st, nil, nil, pub, zerolog.Nop())

	job, err := mgr.GetOrCreate(context.Background(), file.ID, "720p", TypeDownload, nil)
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if job.Status != StatusPending {
		t.Errorf("expected pending status, got %s", job.Status)
	}
	if len(pub.types) != 1 || pub.types[0] != events.TypeJobUpdated {
		t.Errorf("expected one job_updated event, got %v", pub.types)
	}

	again, err := mgr.GetOrCreate(context.Background(), file.ID, "720p", TypeDownload, nil)
	if err != nil {
		t.Fatalf("second GetOrCreate() error = %v", err)
	}
	if again.ID != job.ID {
		t.Errorf("expected same job, got %d and %d", job.ID, again.ID)
	}
	if len(pub.types) != 1 {
		t.Errorf("expected no event for existing job, got %v", pub.types)
	}

	// A different resolution is a different job.
	other, err := mgr.GetOrCreate(context.Background(), file.ID, "480p", TypeDownload, nil)
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if other.ID == job.ID {
		t.Error("expected distinct job for distinct resolution")
	}
}

func TestManager_GetOrCreateTouchesReadyJob(t *testing.T) {
	st := newTestStore(t)
	file := createTestMediaFile(t, st)
	mgr := NewManager(st, nil, nil, nil, zerolog.Nop())

	job, err := mgr.GetOrCreate(context.Background(), file.ID, "720p", TypeDownload, nil)
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if _, err := mgr.Complete(context.Background(), job.ID, "/cache/out.mp4", 123); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	ready, err := mgr.GetOrCreate(context.Background(), file.ID, "720p", TypeDownload, nil)
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if ready.Status != StatusReady {
		t.Errorf("expected ready status, got %s", ready.Status)
	}
	if ready.LastAccessedAt == nil {
		t.Error("expected access stamp on ready job")
	}
}

func TestManager_ProgressAndFailure(t *testing.T) {
	st := newTestStore(t)
	file := createTestMediaFile(t, st)
	pub := &capturePublisher{}
	mgr := NewManager(st, nil, nil, pub, zerolog.Nop())

	job, err := mgr.GetOrCreate(context.Background(), file.ID, "720p", TypeDownload, nil)
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}

	updated, err := mgr.UpdateProgress(context.Background(), job.ID, 0.4)
	if err != nil {
		t.Fatalf("UpdateProgress() error = %v", err)
	}
	if updated.Status != StatusTranscoding {
		t.Errorf("expected transcoding status, got %s", updated.Status)
	}
	if updated.Progress != 0.4 {
		t.Errorf("expected progress 0.4, got %v", updated.Progress)
	}
	if updated.StartedAt == nil {
		t.Error("expected start stamp")
	}

	failed, err := mgr.Fail(context.Background(), job.ID, "encoder crashed")
	if err != nil {
		t.Fatalf("Fail() error = %v", err)
	}
	if failed.Status != StatusFailed {
		t.Errorf("expected failed status, got %s", failed.Status)
	}
	if failed.ErrorMessage == nil || *failed.ErrorMessage != "encoder crashed" {
		t.Errorf("expected error message recorded, got %v", failed.ErrorMessage)
	}
}

func TestManager_CancelDownloadJob(t *testing.T) {
	st := newTestStore(t)
	file := createTestMediaFile(t, st)
	workers := &fakeWorkerPool{found: true}
	supervisor := &fakeSupervisor{}
	mgr := NewManager(st, workers, supervisor, nil, zerolog.Nop())

	job, err := mgr.GetOrCreate(context.Background(), file.ID, "720p", TypeDownload, nil)
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}

	output := filepath.Join(t.TempDir(), "out.mp4")
	if err := os.WriteFile(output, []byte("video"), 0o644); err != nil {
		t.Fatalf("failed to write output file: %v", err)
	}
	if _, err := mgr.Complete(context.Background(), job.ID, output, 5); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	if err := mgr.Cancel(context.Background(), job.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	if len(workers.cancelled) != 1 {
		t.Fatalf("expected one worker cancellation, got %d", len(workers.cancelled))
	}
	if workers.cancelled[0][0] != file.ID || workers.cancelled[0][1] != "720p" {
		t.Errorf("unexpected cancellation key: %v", workers.cancelled[0])
	}
	if len(supervisor.stopped) != 0 {
		t.Error("expected no session stop for a download job")
	}
	if _, err := st.GetJob(context.Background(), job.ID); !errors.Is(err, store.ErrJobNotFound) {
		t.Errorf("expected job row deleted, got %v", err)
	}
	if _, err := os.Stat(output); !os.IsNotExist(err) {
		t.Errorf("expected output file removed, got %v", err)
	}
}

func TestManager_CancelStreamJobStopsSession(t *testing.T) {
	st := newTestStore(t)
	file := createTestMediaFile(t, st)
	workers := &fakeWorkerPool{}
	supervisor := &fakeSupervisor{found: true}
	mgr := NewManager(st, workers, supervisor, nil, zerolog.Nop())

	userID := int64(7)
	job, err := mgr.GetOrCreate(context.Background(), file.ID, "1080p", TypeStream, &userID)
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}

	if err := mgr.Cancel(context.Background(), job.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if len(supervisor.stopped) != 1 {
		t.Fatalf("expected one session stop, got %d", len(supervisor.stopped))
	}
	if supervisor.stopped[0] != [2]int64{file.ID, 7} {
		t.Errorf("unexpected stop key: %v", supervisor.stopped[0])
	}
	if len(workers.cancelled) != 0 {
		t.Error("expected no worker cancellation for a stream job")
	}
}

func TestManager_CancelMissingJobIsNoop(t *testing.T) {
	st := newTestStore(t)
	mgr := NewManager(st, nil, nil, nil, zerolog.Nop())

	if err := mgr.Cancel(context.Background(), 9999); err != nil {
		t.Errorf("expected nil for missing job, got %v", err)
	}
}

func TestManager_EvictStale(t *testing.T) {
	st := newTestStore(t)
	file := createTestMediaFile(t, st)
	mgr := NewManager(st, nil, nil, nil, zerolog.Nop())

	ready, err := mgr.GetOrCreate(context.Background(), file.ID, "720p", TypeDownload, nil)
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if _, err := mgr.Complete(context.Background(), ready.ID, "/cache/out.mp4", 5); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	pending, err := mgr.GetOrCreate(context.Background(), file.ID, "480p", TypeDownload, nil)
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}

	// A negative age puts the cutoff in the future, so the ready job's
	// just-set access stamp counts as stale.
	evicted, err := mgr.EvictStale(context.Background(), -time.Hour)
	if err != nil {
		t.Fatalf("EvictStale() error = %v", err)
	}
	if evicted != 1 {
		t.Errorf("expected 1 eviction, got %d", evicted)
	}
	if _, err := st.GetJob(context.Background(), ready.ID); !errors.Is(err, store.ErrJobNotFound) {
		t.Errorf("expected ready job evicted, got %v", err)
	}
	if _, err := st.GetJob(context.Background(), pending.ID); err != nil {
		t.Errorf("expected pending job untouched, got %v", err)
	}

	// With a generous age nothing qualifies.
	evicted, err = mgr.EvictStale(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("EvictStale() error = %v", err)
	}
	if evicted != 0 {
		t.Errorf("expected no evictions, got %d", evicted)
	}
}
