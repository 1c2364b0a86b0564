// Package blackhole implements a watch-folder download client. Files
// are dropped into a directory that an external program is expected to
// pick up; the adapter itself never talks to the network.
package blackhole

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/medialoom/medialoom/internal/downloadclient/types"
)

// Client implements a filesystem watch-folder client that satisfies the
// types.Client interface.
type Client struct {
	config types.ClientConfig
}

// Compile-time check that Client implements the adapter contract.
var _ types.Client = (*Client)(nil)

// NewFromConfig creates a client from a ClientConfig.
func NewFromConfig(cfg *types.ClientConfig) *Client {
	return &Client{config: *cfg}
}

// Type returns the client type.
func (c *Client) Type() types.ClientType {
	return types.ClientTypeBlackhole
}

// Protocol returns the protocol.
func (c *Client) Protocol() types.Protocol {
	return types.ProtocolTorrent
}

// Test verifies the watch directory exists and is writable.
func (c *Client) Test(ctx context.Context) (*types.ClientInfo, error) {
	if c.config.WatchDir == "" {
		return nil, fmt.Errorf("no watch directory configured")
	}

	info, err := os.Stat(c.config.WatchDir)
	if err != nil {
		return nil, fmt.Errorf("watch directory not accessible: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch path %s is not a directory", c.config.WatchDir)
	}

	probe, err := os.CreateTemp(c.config.WatchDir, ".probe-*")
	if err != nil {
		return nil, fmt.Errorf("watch directory not writable: %w", err)
	}
	probe.Close()
	os.Remove(probe.Name())

	return &types.ClientInfo{Name: "Blackhole"}, nil
}

// Add writes the download into the watch directory. Magnet links are
// written as .magnet files containing the URI; file content is written
// with its native extension. The returned id is the dropped filename.
func (c *Client) Add(ctx context.Context, input types.AddInput, opts types.AddOptions) (string, error) {
	name := sanitizeName(input.Name)
	if name == "" {
		name = "download"
	}

	var filename string
	var content []byte

	switch {
	case input.MagnetURI != "":
		filename = name + ".magnet"
		content = []byte(input.MagnetURI)
	case len(input.FileContent) > 0:
		ext := ".torrent"
		if input.FileType == types.FileTypeNZB {
			ext = ".nzb"
		}
		filename = name + ext
		content = input.FileContent
	default:
		return "", fmt.Errorf("no magnet URI or file content provided")
	}

	path := filepath.Join(c.config.WatchDir, filename)

	// Write via a temp file so the watcher never sees a partial drop.
	tmp, err := os.CreateTemp(c.config.WatchDir, ".drop-*")
	if err != nil {
		return "", fmt.Errorf("failed to create file in watch directory: %w", err)
	}
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to move file into watch directory: %w", err)
	}

	return filename, nil
}

// List reports the files still sitting in the watch directory. A file
// that is gone was picked up by the external program, so it no longer
// appears; callers treat a missing transfer as handed off.
func (c *Client) List(ctx context.Context) ([]types.Transfer, error) {
	entries, err := os.ReadDir(c.config.WatchDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read watch directory: %w", err)
	}

	var transfers []types.Transfer
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		switch filepath.Ext(entry.Name()) {
		case ".torrent", ".nzb", ".magnet":
		default:
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		transfers = append(transfers, types.Transfer{
			ID:       entry.Name(),
			Name:     strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name())),
			State:    types.StateQueued,
			Size:     info.Size(),
			SavePath: c.config.WatchDir,
		})
	}

	return transfers, nil
}

// Remove deletes the dropped file if it is still in the watch directory.
func (c *Client) Remove(ctx context.Context, id string, deleteFiles bool) error {
	if filepath.Base(id) != id {
		return fmt.Errorf("invalid blackhole id %q", id)
	}

	err := os.Remove(filepath.Join(c.config.WatchDir, id))
	if os.IsNotExist(err) {
		return types.ErrNotFound
	}
	return err
}

// Pause is not supported; the external program controls the download.
func (c *Client) Pause(ctx context.Context, id string) error {
	return types.ErrNotSupported
}

// Resume is not supported; the external program controls the download.
func (c *Client) Resume(ctx context.Context, id string) error {
	return types.ErrNotSupported
}

// sanitizeName strips path separators and other characters that are
// unsafe in filenames.
func sanitizeName(name string) string {
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
	)
	return strings.TrimSpace(replacer.Replace(name))
}
