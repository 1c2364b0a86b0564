package downloadclient

import (
	"errors"
	"fmt"
	"sync"

	"github.com/medialoom/medialoom/internal/downloadclient/blackhole"
	"github.com/medialoom/medialoom/internal/downloadclient/httpfetch"
	"github.com/medialoom/medialoom/internal/downloadclient/nzbget"
	"github.com/medialoom/medialoom/internal/downloadclient/qbittorrent"
	"github.com/medialoom/medialoom/internal/downloadclient/rtorrent"
	"github.com/medialoom/medialoom/internal/downloadclient/sabnzbd"
	"github.com/medialoom/medialoom/internal/downloadclient/transmission"
	"github.com/medialoom/medialoom/internal/downloadclient/types"
)

var (
	ErrUnknownClientType = errors.New("unknown client type")
	ErrAdapterNotFound   = errors.New("no adapter registered for client type")
)

// Factory builds an adapter bound to one configured backend.
type Factory func(cfg *types.ClientConfig) types.Client

// cacheEntry holds one built adapter with the config it was built from.
type cacheEntry struct {
	cfg    types.ClientConfig
	client types.Client
}

// Registry maps backend types to adapter factories. Factories are
// registered once at startup; lookups fail closed on unknown types.
// Built adapters are cached per configuration name so callers share one
// instance per backend — adapters that hold in-process state (httpfetch
// transfer tracking) depend on this. A changed config evicts the entry.
type Registry struct {
	factories map[types.ClientType]Factory

	mu      sync.Mutex
	clients map[string]cacheEntry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[types.ClientType]Factory),
		clients:   make(map[string]cacheEntry),
	}
}

// Register binds a factory to a client type. Types outside the closed set and
// duplicate registrations are rejected here rather than at call time.
func (r *Registry) Register(clientType types.ClientType, factory Factory) error {
	known := false
	for _, ct := range types.AllClientTypes() {
		if ct == clientType {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("%w: %s", ErrUnknownClientType, clientType)
	}
	if _, exists := r.factories[clientType]; exists {
		return fmt.Errorf("adapter already registered for client type %s", clientType)
	}
	r.factories[clientType] = factory
	return nil
}

// Client returns the adapter for the given configuration, building it on
// first use. Subsequent calls with an unchanged config return the same
// instance.
func (r *Registry) Client(cfg *types.ClientConfig) (types.Client, error) {
	factory, ok := r.factories[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAdapterNotFound, cfg.Type)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.clients[cfg.Name]; ok && entry.cfg == *cfg {
		return entry.client, nil
	}

	client := factory(cfg)
	r.clients[cfg.Name] = cacheEntry{cfg: *cfg, client: client}
	return client, nil
}

// Types returns the registered client types.
func (r *Registry) Types() []types.ClientType {
	out := make([]types.ClientType, 0, len(r.factories))
	for ct := range r.factories {
		out = append(out, ct)
	}
	return out
}

// DefaultRegistry returns a registry with all built-in adapters registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	register := func(ct types.ClientType, f Factory) {
		if err := r.Register(ct, f); err != nil {
			// All built-in types are members of the closed set.
			panic(err)
		}
	}
	register(types.ClientTypeQBittorrent, func(cfg *types.ClientConfig) types.Client { return qbittorrent.NewFromConfig(cfg) })
	register(types.ClientTypeTransmission, func(cfg *types.ClientConfig) types.Client { return transmission.NewFromConfig(cfg) })
	register(types.ClientTypeRTorrent, func(cfg *types.ClientConfig) types.Client { return rtorrent.NewFromConfig(cfg) })
	register(types.ClientTypeBlackhole, func(cfg *types.ClientConfig) types.Client { return blackhole.NewFromConfig(cfg) })
	register(types.ClientTypeSABnzbd, func(cfg *types.ClientConfig) types.Client { return sabnzbd.NewFromConfig(cfg) })
	register(types.ClientTypeNZBGet, func(cfg *types.ClientConfig) types.Client { return nzbget.NewFromConfig(cfg) })
	register(types.ClientTypeHTTPFetch, func(cfg *types.ClientConfig) types.Client { return httpfetch.NewFromConfig(cfg) })
	return r
}
