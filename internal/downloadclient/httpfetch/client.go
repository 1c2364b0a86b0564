// Package httpfetch implements a direct HTTP download client. Each Add
// starts a background fetch into a local directory; progress is tracked
// in memory, so transfers do not survive a restart.
package httpfetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medialoom/medialoom/internal/downloadclient/types"
)

// Client implements a direct HTTP downloader that satisfies the
// types.Client interface.
type Client struct {
	config     types.ClientConfig
	httpClient *http.Client

	mu        sync.Mutex
	transfers map[string]*transfer
}

// Compile-time check that Client implements the adapter contract.
var _ types.Client = (*Client)(nil)

// transfer tracks the state of one in-flight or finished fetch.
type transfer struct {
	id          string
	name        string
	path        string
	size        int64
	downloaded  int64
	state       types.TransferState
	err         string
	startedAt   time.Time
	completedAt time.Time
	cancel      context.CancelFunc
}

// NewFromConfig creates a client from a ClientConfig.
func NewFromConfig(cfg *types.ClientConfig) *Client {
	return &Client{
		config: *cfg,
		httpClient: &http.Client{
			Timeout: 0, // downloads can run for a long time
		},
		transfers: make(map[string]*transfer),
	}
}

// Type returns the client type.
func (c *Client) Type() types.ClientType {
	return types.ClientTypeHTTPFetch
}

// Protocol returns the protocol.
func (c *Client) Protocol() types.Protocol {
	return types.ProtocolTorrent
}

// Test verifies the download directory exists and is writable.
func (c *Client) Test(ctx context.Context) (*types.ClientInfo, error) {
	dir := c.downloadDir()
	if dir == "" {
		return nil, fmt.Errorf("no download directory configured")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("download directory not accessible: %w", err)
	}

	probe, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return nil, fmt.Errorf("download directory not writable: %w", err)
	}
	probe.Close()
	os.Remove(probe.Name())

	return &types.ClientInfo{Name: "HTTP Fetch"}, nil
}

// Add starts a background fetch of the URL and returns a generated id.
func (c *Client) Add(ctx context.Context, input types.AddInput, opts types.AddOptions) (string, error) {
	if input.URL == "" {
		return "", fmt.Errorf("no URL provided")
	}

	dir := opts.DownloadDir
	if dir == "" {
		dir = c.downloadDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create download directory: %w", err)
	}

	name := input.Name
	if name == "" {
		name = filepath.Base(strings.SplitN(input.URL, "?", 2)[0])
	}
	if name == "" || name == "." || name == "/" {
		name = "download"
	}

	fetchCtx, cancel := context.WithCancel(context.Background())
	t := &transfer{
		id:        uuid.New().String(),
		name:      name,
		path:      filepath.Join(dir, name),
		state:     types.StateDownloading,
		startedAt: time.Now(),
		cancel:    cancel,
	}

	c.mu.Lock()
	c.transfers[t.id] = t
	c.mu.Unlock()

	go c.fetch(fetchCtx, t, input.URL)

	return t.id, nil
}

func (c *Client) fetch(ctx context.Context, t *transfer, url string) {
	err := c.doFetch(ctx, t, url)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		t.state = types.StateError
		t.err = err.Error()
		return
	}
	t.state = types.StateCompleted
	t.completedAt = time.Now()
}

func (c *Client) doFetch(ctx context.Context, t *transfer, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	c.mu.Lock()
	t.size = resp.ContentLength
	c.mu.Unlock()

	out, err := os.Create(t.path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer out.Close()

	buf := make([]byte, 128*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				return fmt.Errorf("failed to write file: %w", writeErr)
			}
			c.mu.Lock()
			t.downloaded += int64(n)
			c.mu.Unlock()
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("failed to read response: %w", readErr)
		}
	}
}

// List returns a snapshot of all tracked fetches.
func (c *Client) List(ctx context.Context) ([]types.Transfer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	transfers := make([]types.Transfer, 0, len(c.transfers))
	for _, t := range c.transfers {
		var progress float64
		if t.size > 0 {
			progress = float64(t.downloaded) / float64(t.size) * 100
		}
		if t.state == types.StateCompleted {
			progress = 100
		}

		var speed int64
		if t.state == types.StateDownloading {
			if elapsed := time.Since(t.startedAt).Seconds(); elapsed > 0 {
				speed = int64(float64(t.downloaded) / elapsed)
			}
		}

		transfers = append(transfers, types.Transfer{
			ID:             t.id,
			Name:           t.name,
			State:          t.state,
			Progress:       progress,
			Size:           t.size,
			DownloadedSize: t.downloaded,
			DownloadSpeed:  speed,
			ETA:            -1,
			SavePath:       filepath.Dir(t.path),
			CompletedAt:    t.completedAt,
			Error:          t.err,
		})
	}

	return transfers, nil
}

// Remove cancels an in-flight fetch and drops it from tracking.
func (c *Client) Remove(ctx context.Context, id string, deleteFiles bool) error {
	c.mu.Lock()
	t, ok := c.transfers[id]
	if ok {
		delete(c.transfers, id)
	}
	c.mu.Unlock()

	if !ok {
		return types.ErrNotFound
	}

	t.cancel()
	if deleteFiles {
		if err := os.Remove(t.path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// Pause is not supported; HTTP fetches run to completion.
func (c *Client) Pause(ctx context.Context, id string) error {
	return types.ErrNotSupported
}

// Resume is not supported; HTTP fetches run to completion.
func (c *Client) Resume(ctx context.Context, id string) error {
	return types.ErrNotSupported
}

func (c *Client) downloadDir() string {
	if c.config.WatchDir != "" {
		return c.config.WatchDir
	}
	return c.config.Category
}
