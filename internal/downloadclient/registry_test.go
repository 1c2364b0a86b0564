package downloadclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/medialoom/medialoom/internal/downloadclient/types"
)

func TestDefaultRegistry_CoversAllTypes(t *testing.T) {
	registry := DefaultRegistry()

	for _, ct := range types.AllClientTypes() {
		client, err := registry.Client(&types.ClientConfig{Type: ct, Host: "localhost", Port: 1234})
		if err != nil {
			t.Errorf("Client(%s) failed: %v", ct, err)
			continue
		}
		if client.Type() != ct {
			t.Errorf("adapter for %s reports type %s", ct, client.Type())
		}
	}
}

func TestRegistry_UnknownTypeFailsClosed(t *testing.T) {
	registry := DefaultRegistry()

	_, err := registry.Client(&types.ClientConfig{Type: "aria2"})
	if !errors.Is(err, ErrAdapterNotFound) {
		t.Errorf("expected ErrAdapterNotFound, got %v", err)
	}
}

func TestRegistry_RejectsUnknownRegistration(t *testing.T) {
	registry := NewRegistry()

	err := registry.Register("made-up", func(cfg *types.ClientConfig) types.Client { return nil })
	if !errors.Is(err, ErrUnknownClientType) {
		t.Errorf("expected ErrUnknownClientType, got %v", err)
	}
}

func TestRegistry_RejectsDuplicateRegistration(t *testing.T) {
	registry := NewRegistry()

	factory := func(cfg *types.ClientConfig) types.Client { return nil }
	if err := registry.Register(types.ClientTypeQBittorrent, factory); err != nil {
		t.Fatalf("first registration failed: %v", err)
	}
	if err := registry.Register(types.ClientTypeQBittorrent, factory); err == nil {
		t.Error("expected error on duplicate registration")
	}
}

// stubClient carries an identity so instance reuse is observable.
type stubClient struct {
	types.Client
	build int
}

func (s *stubClient) Type() types.ClientType { return types.ClientTypeQBittorrent }

func TestRegistry_ReusesAdapterInstance(t *testing.T) {
	registry := NewRegistry()

	builds := 0
	err := registry.Register(types.ClientTypeQBittorrent, func(cfg *types.ClientConfig) types.Client {
		builds++
		return &stubClient{build: builds}
	})
	if err != nil {
		t.Fatalf("registration failed: %v", err)
	}

	cfg := &types.ClientConfig{Name: "main", Type: types.ClientTypeQBittorrent, Host: "localhost", Port: 8080}

	first, err := registry.Client(cfg)
	if err != nil {
		t.Fatalf("Client() failed: %v", err)
	}
	second, err := registry.Client(cfg)
	if err != nil {
		t.Fatalf("Client() failed: %v", err)
	}
	if first != second {
		t.Error("expected the same adapter instance for an unchanged config")
	}
	if builds != 1 {
		t.Errorf("expected 1 build, got %d", builds)
	}

	// An edited config evicts the cached instance.
	changed := *cfg
	changed.Port = 9090
	third, err := registry.Client(&changed)
	if err != nil {
		t.Fatalf("Client() failed: %v", err)
	}
	if third == first {
		t.Error("expected a rebuilt adapter after a config change")
	}
	if builds != 2 {
		t.Errorf("expected 2 builds, got %d", builds)
	}
}

func TestRegistry_HTTPFetchStateSurvivesLookups(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("payload"))
	}))
	defer server.Close()

	registry := DefaultRegistry()
	cfg := &types.ClientConfig{
		Name:     "fetch",
		Type:     types.ClientTypeHTTPFetch,
		WatchDir: t.TempDir(),
	}

	adder, err := registry.Client(cfg)
	if err != nil {
		t.Fatalf("Client() failed: %v", err)
	}
	id, err := adder.Add(context.Background(), types.AddInput{URL: server.URL + "/archive.zip"}, types.AddOptions{})
	if err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	// A later lookup, as the status aggregator performs, must see the
	// transfer started through the first one.
	lister, err := registry.Client(cfg)
	if err != nil {
		t.Fatalf("Client() failed: %v", err)
	}
	transfers, err := lister.List(context.Background())
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	found := false
	for _, tr := range transfers {
		if tr.ID == id {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected transfer %s visible through second lookup, got %d transfers", id, len(transfers))
	}

	if err := lister.Remove(context.Background(), id, true); err != nil {
		t.Errorf("Remove() through second lookup failed: %v", err)
	}
}

func TestRegistry_Types(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(types.ClientTypeSABnzbd, func(cfg *types.ClientConfig) types.Client { return nil }); err != nil {
		t.Fatalf("registration failed: %v", err)
	}

	got := registry.Types()
	if len(got) != 1 || got[0] != types.ClientTypeSABnzbd {
		t.Errorf("unexpected types %v", got)
	}
}
