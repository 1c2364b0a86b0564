package download

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/medialoom/medialoom/internal/acquire"
	"github.com/medialoom/medialoom/internal/downloadclient"
	"github.com/medialoom/medialoom/internal/downloadclient/types"
	"github.com/medialoom/medialoom/internal/events"
	"github.com/medialoom/medialoom/internal/store"
)

const testMagnet = "magnet:?xt=urn:btih:c12fe1c06bba254a9dc9f519b335aa7c1367a88a&dn=Some.Show.S01E01"

func newTestService(t *testing.T, st *store.Store, registry *downloadclient.Registry, bus *recordingBus) *Service {
	t.Helper()
	resolver := acquire.NewResolver(nil, nil, zerolog.Nop())
	return NewService(st, registry, resolver, bus, zerolog.Nop())
}

func TestService_Initiate(t *testing.T) {
	st := newTestStore(t)
	createClientRow(t, st, "main", types.ClientTypeQBittorrent, 1)

	fake := &fakeClient{addID: "hash1"}
	registry := fakeRegistry(t, map[types.ClientType]*fakeClient{
		types.ClientTypeQBittorrent: fake,
	})
	bus := &recordingBus{}
	svc := newTestService(t, st, registry, bus)

	d, err := svc.Initiate(context.Background(), InitiateRequest{
		Title:       "Some.Show.S01E01.1080p",
		DownloadURL: testMagnet,
		IndexerName: "some-indexer",
	})
	if err != nil {
		t.Fatalf("Initiate() error = %v", err)
	}

	if d.ClientName != "main" {
		t.Errorf("expected client main, got %q", d.ClientName)
	}
	if d.TransferID != "hash1" {
		t.Errorf("expected transfer id hash1, got %q", d.TransferID)
	}
	if d.Protocol != string(types.ProtocolTorrent) {
		t.Errorf("expected torrent protocol, got %q", d.Protocol)
	}
	if fake.addCalls != 1 {
		t.Fatalf("expected 1 Add call, got %d", fake.addCalls)
	}
	if fake.lastInput.MagnetURI != testMagnet {
		t.Errorf("expected magnet passed through, got %q", fake.lastInput.MagnetURI)
	}
	if fake.lastInput.Name != "Some.Show.S01E01.1080p" {
		t.Errorf("expected title as name hint, got %q", fake.lastInput.Name)
	}

	stored, err := st.GetDownload(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("expected persisted record: %v", err)
	}
	if stored.IndexerName != "some-indexer" {
		t.Errorf("expected indexer name persisted, got %q", stored.IndexerName)
	}

	if !bus.has(events.TypeDownloadInitiated) {
		t.Error("expected download_initiated event")
	}
	if !bus.has(events.TypeDownloadUpdated) {
		t.Error("expected download_updated event")
	}
}

func TestService_InitiateDuplicateRejected(t *testing.T) {
	st := newTestStore(t)
	createClientRow(t, st, "main", types.ClientTypeQBittorrent, 1)

	fake := &fakeClient{addID: "hash1"}
	registry := fakeRegistry(t, map[types.ClientType]*fakeClient{
		types.ClientTypeQBittorrent: fake,
	})
	svc := newTestService(t, st, registry, &recordingBus{})

	req := InitiateRequest{Title: "some-release", DownloadURL: testMagnet}
	if _, err := svc.Initiate(context.Background(), req); err != nil {
		t.Fatalf("first Initiate() error = %v", err)
	}

	_, err := svc.Initiate(context.Background(), req)
	if !errors.Is(err, ErrDuplicateDownload) {
		t.Fatalf("expected ErrDuplicateDownload, got %v", err)
	}
	if fake.addCalls != 1 {
		t.Errorf("expected no second Add call, got %d", fake.addCalls)
	}
}

func TestService_InitiateClientAddFails(t *testing.T) {
	st := newTestStore(t)
	createClientRow(t, st, "main", types.ClientTypeQBittorrent, 1)

	registry := fakeRegistry(t, map[types.ClientType]*fakeClient{
		types.ClientTypeQBittorrent: {addErr: errors.New("connection refused")},
	})
	bus := &recordingBus{}
	svc := newTestService(t, st, registry, bus)

	_, err := svc.Initiate(context.Background(), InitiateRequest{
		Title:       "some-release",
		DownloadURL: testMagnet,
	})
	if !errors.Is(err, ErrClientError) {
		t.Fatalf("expected ErrClientError, got %v", err)
	}

	if !bus.has(events.TypeDownloadFailed) {
		t.Error("expected download_failed event")
	}
	downloads, err := st.ListDownloads(context.Background())
	if err != nil {
		t.Fatalf("failed to list downloads: %v", err)
	}
	if len(downloads) != 0 {
		t.Errorf("expected no record after failed submission, got %d", len(downloads))
	}
}

func TestService_InitiateNoClientsConfigured(t *testing.T) {
	st := newTestStore(t)
	registry := fakeRegistry(t, map[types.ClientType]*fakeClient{})
	svc := newTestService(t, st, registry, &recordingBus{})

	_, err := svc.Initiate(context.Background(), InitiateRequest{
		Title:       "some-release",
		DownloadURL: testMagnet,
	})
	if !errors.Is(err, downloadclient.ErrNoClientsConfigured) {
		t.Fatalf("expected ErrNoClientsConfigured, got %v", err)
	}
}

func TestService_InitiateNamedClient(t *testing.T) {
	st := newTestStore(t)
	createClientRow(t, st, "main", types.ClientTypeTransmission, 1)
	createClientRow(t, st, "backup", types.ClientTypeQBittorrent, 10)

	qbit := &fakeClient{addID: "hash-qbit"}
	trans := &fakeClient{addID: "hash-trans"}
	registry := fakeRegistry(t, map[types.ClientType]*fakeClient{
		types.ClientTypeQBittorrent:  qbit,
		types.ClientTypeTransmission: trans,
	})
	svc := newTestService(t, st, registry, &recordingBus{})

	d, err := svc.Initiate(context.Background(), InitiateRequest{
		Title:       "some-release",
		DownloadURL: testMagnet,
		ClientName:  "backup",
	})
	if err != nil {
		t.Fatalf("Initiate() error = %v", err)
	}
	if d.ClientName != "backup" {
		t.Errorf("expected forced client backup, got %q", d.ClientName)
	}
	if qbit.addCalls != 1 || trans.addCalls != 0 {
		t.Errorf("expected submission to backup only, got qbit=%d trans=%d", qbit.addCalls, trans.addCalls)
	}
}

func TestService_ListFiltersActive(t *testing.T) {
	st := newTestStore(t)
	createClientRow(t, st, "main", types.ClientTypeQBittorrent, 1)

	registry := fakeRegistry(t, map[types.ClientType]*fakeClient{
		types.ClientTypeQBittorrent: {transfers: []types.Transfer{
			{ID: "t1", State: types.StateDownloading, Progress: 30},
			{ID: "t2", State: types.StateSeeding, Progress: 100},
		}},
	})
	svc := newTestService(t, st, registry, &recordingBus{})

	mk := func(title, transferID string) *store.Download {
		d, err := st.CreateDownload(context.Background(), &store.Download{
			Title:       title,
			DownloadURL: "https://indexer.example/dl/" + transferID,
			ClientName:  "main",
			TransferID:  transferID,
			Protocol:    "torrent",
		})
		if err != nil {
			t.Fatalf("failed to create download: %v", err)
		}
		return d
	}

	mk("downloading", "t1")
	imported := mk("imported-but-seeding", "t2")
	if err := st.SetDownloadImported(context.Background(), imported.ID, time.Now()); err != nil {
		t.Fatalf("failed to mark imported: %v", err)
	}
	mk("vanished", "gone")

	active, err := svc.List(context.Background(), FilterActive)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected 1 active download, got %d", len(active))
	}
	if active[0].Title != "downloading" {
		t.Errorf("expected the downloading record, got %q", active[0].Title)
	}

	all, err := svc.List(context.Background(), FilterAll)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 downloads unfiltered, got %d", len(all))
	}

	failed, err := svc.List(context.Background(), FilterFailed)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(failed) != 1 || failed[0].Title != "vanished" {
		t.Errorf("expected the vanished record under failed, got %d", len(failed))
	}
}

func TestService_PauseResume(t *testing.T) {
	st := newTestStore(t)
	createClientRow(t, st, "main", types.ClientTypeQBittorrent, 1)

	fake := &fakeClient{addID: "hash1"}
	registry := fakeRegistry(t, map[types.ClientType]*fakeClient{
		types.ClientTypeQBittorrent: fake,
	})
	bus := &recordingBus{}
	svc := newTestService(t, st, registry, bus)

	d, err := svc.Initiate(context.Background(), InitiateRequest{
		Title:       "some-release",
		DownloadURL: testMagnet,
	})
	if err != nil {
		t.Fatalf("Initiate() error = %v", err)
	}

	if err := svc.Pause(context.Background(), d.ID); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	if !bus.has(events.TypeDownloadPaused) {
		t.Error("expected download_paused event")
	}
	if err := svc.Resume(context.Background(), d.ID); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if !bus.has(events.TypeDownloadResumed) {
		t.Error("expected download_resumed event")
	}

	fake.pauseErr = types.ErrNotSupported
	if err := svc.Pause(context.Background(), d.ID); !errors.Is(err, ErrClientError) {
		t.Errorf("expected ErrClientError for unsupported pause, got %v", err)
	}
}

func TestService_CancelRemovesRecordDespiteBackendError(t *testing.T) {
	st := newTestStore(t)
	createClientRow(t, st, "main", types.ClientTypeQBittorrent, 1)

	fake := &fakeClient{addID: "hash1", removeErr: types.ErrNotFound}
	registry := fakeRegistry(t, map[types.ClientType]*fakeClient{
		types.ClientTypeQBittorrent: fake,
	})
	bus := &recordingBus{}
	svc := newTestService(t, st, registry, bus)

	d, err := svc.Initiate(context.Background(), InitiateRequest{
		Title:       "some-release",
		DownloadURL: testMagnet,
	})
	if err != nil {
		t.Fatalf("Initiate() error = %v", err)
	}

	if err := svc.Cancel(context.Background(), d.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if len(fake.removeCalls) != 1 || fake.removeCalls[0] != "hash1" {
		t.Errorf("expected backend remove for hash1, got %v", fake.removeCalls)
	}
	if _, err := st.GetDownload(context.Background(), d.ID); !errors.Is(err, store.ErrDownloadNotFound) {
		t.Errorf("expected record deleted, got %v", err)
	}
	if !bus.has(events.TypeDownloadCancelled) {
		t.Error("expected download_cancelled event")
	}
}

func TestService_ClearWithGoneBackendStillDeletes(t *testing.T) {
	st := newTestStore(t)
	registry := fakeRegistry(t, map[types.ClientType]*fakeClient{})
	bus := &recordingBus{}
	svc := newTestService(t, st, registry, bus)

	// The record references a client configuration that no longer exists.
	d, err := st.CreateDownload(context.Background(), &store.Download{
		Title:       "orphaned",
		DownloadURL: "https://indexer.example/dl/1",
		ClientName:  "decommissioned",
		TransferID:  "hash1",
		Protocol:    "torrent",
	})
	if err != nil {
		t.Fatalf("failed to create download: %v", err)
	}

	if err := svc.Clear(context.Background(), d.ID); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if _, err := st.GetDownload(context.Background(), d.ID); !errors.Is(err, store.ErrDownloadNotFound) {
		t.Errorf("expected record deleted, got %v", err)
	}
	if !bus.has(events.TypeDownloadCleared) {
		t.Error("expected download_cleared event")
	}
}

func TestService_MarkImportFailed(t *testing.T) {
	st := newTestStore(t)
	createClientRow(t, st, "main", types.ClientTypeQBittorrent, 1)

	registry := fakeRegistry(t, map[types.ClientType]*fakeClient{
		types.ClientTypeQBittorrent: {addID: "hash1"},
	})
	svc := newTestService(t, st, registry, &recordingBus{})

	d, err := svc.Initiate(context.Background(), InitiateRequest{
		Title:       "some-release",
		DownloadURL: testMagnet,
	})
	if err != nil {
		t.Fatalf("Initiate() error = %v", err)
	}

	if err := svc.MarkImportFailed(context.Background(), d.ID); err != nil {
		t.Fatalf("MarkImportFailed() error = %v", err)
	}
	stored, err := st.GetDownload(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("failed to get download: %v", err)
	}
	if stored.ImportFailedAt == nil {
		t.Error("expected import failure stamp")
	}
	if stored.ImportAttempts != 1 {
		t.Errorf("expected 1 import attempt, got %d", stored.ImportAttempts)
	}
}
