package download

import (
	"context"
	"sync"
	"testing"

	"github.com/medialoom/medialoom/internal/downloadclient"
	"github.com/medialoom/medialoom/internal/downloadclient/types"
	"github.com/medialoom/medialoom/internal/events"
	"github.com/medialoom/medialoom/internal/store"
	"github.com/medialoom/medialoom/internal/testutil"
)

// fakeClient is a scriptable adapter for service and aggregator tests.
type fakeClient struct {
	clientType types.ClientType

	addID     string
	addErr    error
	addCalls  int
	lastInput types.AddInput

	transfers []types.Transfer
	listErr   error

	removeErr   error
	removeCalls []string

	pauseErr  error
	resumeErr error
}

var _ types.Client = (*fakeClient)(nil)

func (f *fakeClient) Type() types.ClientType   { return f.clientType }
func (f *fakeClient) Protocol() types.Protocol { return types.ProtocolForClient(f.clientType) }

func (f *fakeClient) Test(context.Context) (*types.ClientInfo, error) {
	return &types.ClientInfo{Name: string(f.clientType)}, nil
}

func (f *fakeClient) Add(_ context.Context, input types.AddInput, _ types.AddOptions) (string, error) {
	f.addCalls++
	f.lastInput = input
	return f.addID, f.addErr
}

func (f *fakeClient) List(context.Context) ([]types.Transfer, error) {
	return f.transfers, f.listErr
}

func (f *fakeClient) Remove(_ context.Context, id string, _ bool) error {
	f.removeCalls = append(f.removeCalls, id)
	return f.removeErr
}

func (f *fakeClient) Pause(context.Context, string) error  { return f.pauseErr }
func (f *fakeClient) Resume(context.Context, string) error { return f.resumeErr }

// fakeRegistry builds a registry whose factories return the given fakes,
// keyed by client type.
func fakeRegistry(t *testing.T, fakes map[types.ClientType]*fakeClient) *downloadclient.Registry {
	t.Helper()

	registry := downloadclient.NewRegistry()
	for ct, fake := range fakes {
		fake.clientType = ct
		f := fake
		if err := registry.Register(ct, func(cfg *types.ClientConfig) types.Client { return f }); err != nil {
			t.Fatalf("failed to register fake for %s: %v", ct, err)
		}
	}
	return registry
}

// recordingBus captures published events for assertions.
type recordingBus struct {
	mu     sync.Mutex
	events []events.Type
}

var _ events.Publisher = (*recordingBus)(nil)

func (b *recordingBus) Publish(eventType events.Type, _ interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, eventType)
}

func (b *recordingBus) has(eventType events.Type) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.events {
		if e == eventType {
			return true
		}
	}
	return false
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	tdb := testutil.NewTestDB(t)
	t.Cleanup(tdb.Close)
	return store.New(tdb.Conn)
}

// createClientRow persists an enabled client configuration of the given type.
func createClientRow(t *testing.T, st *store.Store, name string, ct types.ClientType, priority int) {
	t.Helper()

	if _, err := st.CreateClient(context.Background(), &store.DownloadClientRow{
		Name:     name,
		Type:     string(ct),
		Host:     "localhost",
		Port:     1234,
		Priority: priority,
		Enabled:  true,
	}); err != nil {
		t.Fatalf("failed to create client row: %v", err)
	}
}
