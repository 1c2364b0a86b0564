package downloadclient

import (
	"errors"
	"fmt"

	"github.com/medialoom/medialoom/internal/downloadclient/types"
)

var (
	ErrClientNotFound      = errors.New("download client not found")
	ErrNoClientsConfigured = errors.New("no download clients configured")
)

// Select picks the client configuration that should handle an acquisition.
//
// When name is non-empty it must match an enabled config. Otherwise configs
// are filtered by protocol compatibility (empty protocol = no filtering) and
// the lowest priority value wins. Ties resolve to iteration order; that is an
// implementation choice, not a guarantee.
func Select(configs []*types.ClientConfig, name string, protocol types.Protocol) (*types.ClientConfig, error) {
	if name != "" {
		for _, cfg := range configs {
			if cfg.Enabled && cfg.Name == name {
				return cfg, nil
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrClientNotFound, name)
	}

	var best *types.ClientConfig
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		if protocol != "" && types.ProtocolForClient(cfg.Type) != protocol {
			continue
		}
		if best == nil || cfg.Priority < best.Priority {
			best = cfg
		}
	}
	if best == nil {
		return nil, ErrNoClientsConfigured
	}
	return best, nil
}
