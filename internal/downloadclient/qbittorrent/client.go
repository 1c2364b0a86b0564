// Package qbittorrent implements a qBittorrent Web API v2 client.
package qbittorrent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/medialoom/medialoom/internal/downloadclient/types"
)

// Client implements a qBittorrent Web API client that satisfies the types.Client interface.
type Client struct {
	config     types.ClientConfig
	httpClient *http.Client
	baseURL    string
	loggedIn   bool
}

// Compile-time check that Client implements the adapter contract.
var _ types.Client = (*Client)(nil)

// NewFromConfig creates a client from a ClientConfig.
func NewFromConfig(cfg *types.ClientConfig) *Client {
	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}

	urlBase := strings.Trim(cfg.URLBase, "/")
	baseURL := fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port)
	if urlBase != "" {
		baseURL += "/" + urlBase
	}

	// The jar carries the SID session cookie issued by auth/login.
	jar, _ := cookiejar.New(nil)

	return &Client{
		config: *cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Jar:     jar,
		},
		baseURL: baseURL,
	}
}

// Type returns the client type.
func (c *Client) Type() types.ClientType {
	return types.ClientTypeQBittorrent
}

// Protocol returns the protocol.
func (c *Client) Protocol() types.Protocol {
	return types.ProtocolTorrent
}

// Test verifies the client connection and returns version info.
func (c *Client) Test(ctx context.Context) (*types.ClientInfo, error) {
	if err := c.login(ctx); err != nil {
		return nil, err
	}

	body, err := c.get(ctx, "/api/v2/app/version", nil)
	if err != nil {
		return nil, err
	}

	return &types.ClientInfo{
		Name:    "qBittorrent",
		Version: strings.TrimSpace(string(body)),
	}, nil
}

// Add submits a transfer and returns the torrent info hash.
func (c *Client) Add(ctx context.Context, input types.AddInput, opts types.AddOptions) (string, error) {
	if err := c.login(ctx); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	var hash string
	switch {
	case input.MagnetURI != "":
		hash = InfoHashFromMagnet(input.MagnetURI)
		if err := writer.WriteField("urls", input.MagnetURI); err != nil {
			return "", err
		}
	case input.URL != "":
		if err := writer.WriteField("urls", input.URL); err != nil {
			return "", err
		}
	case len(input.FileContent) > 0:
		h, err := InfoHashFromTorrent(input.FileContent)
		if err != nil {
			return "", fmt.Errorf("failed to parse torrent file: %w", err)
		}
		hash = h
		part, err := writer.CreateFormFile("torrents", "download.torrent")
		if err != nil {
			return "", err
		}
		if _, err := part.Write(input.FileContent); err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("no magnet, URL, or file content provided")
	}

	category := opts.Category
	if category == "" {
		category = c.config.Category
	}
	if category != "" {
		if err := writer.WriteField("category", category); err != nil {
			return "", err
		}
	}
	if opts.DownloadDir != "" {
		if err := writer.WriteField("savepath", opts.DownloadDir); err != nil {
			return "", err
		}
	}
	if opts.Paused {
		if err := writer.WriteField("paused", "true"); err != nil {
			return "", err
		}
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v2/torrents/add", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	if strings.TrimSpace(string(body)) == "Fails." {
		return "", fmt.Errorf("qBittorrent rejected the torrent")
	}

	return hash, nil
}

// torrentInfo mirrors the fields we use from torrents/info.
type torrentInfo struct {
	Hash         string  `json:"hash"`
	Name         string  `json:"name"`
	State        string  `json:"state"`
	Progress     float64 `json:"progress"`
	Size         int64   `json:"size"`
	Downloaded   int64   `json:"downloaded"`
	DLSpeed      int64   `json:"dlspeed"`
	UPSpeed      int64   `json:"upspeed"`
	ETA          int64   `json:"eta"`
	Ratio        float64 `json:"ratio"`
	SavePath     string  `json:"save_path"`
	CompletionOn int64   `json:"completion_on"`
}

// List returns all torrents.
func (c *Client) List(ctx context.Context) ([]types.Transfer, error) {
	if err := c.login(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	if c.config.Category != "" {
		params.Set("category", c.config.Category)
	}

	body, err := c.get(ctx, "/api/v2/torrents/info", params)
	if err != nil {
		return nil, err
	}

	var torrents []torrentInfo
	if err := json.Unmarshal(body, &torrents); err != nil {
		return nil, fmt.Errorf("failed to unmarshal torrent list: %w", err)
	}

	transfers := make([]types.Transfer, 0, len(torrents))
	for _, t := range torrents {
		transfer := types.Transfer{
			ID:             t.Hash,
			Name:           t.Name,
			State:          mapState(t.State),
			Progress:       t.Progress * 100, // Convert from 0-1 to 0-100
			Size:           t.Size,
			DownloadedSize: t.Downloaded,
			DownloadSpeed:  t.DLSpeed,
			UploadSpeed:    t.UPSpeed,
			ETA:            t.ETA,
			Ratio:          t.Ratio,
			SavePath:       t.SavePath,
		}
		if t.CompletionOn > 0 {
			transfer.CompletedAt = time.Unix(t.CompletionOn, 0)
		}
		if t.State == "error" || t.State == "missingFiles" {
			transfer.Error = t.State
		}
		transfers = append(transfers, transfer)
	}

	return transfers, nil
}

// Remove removes a torrent.
func (c *Client) Remove(ctx context.Context, id string, deleteFiles bool) error {
	form := url.Values{}
	form.Set("hashes", id)
	form.Set("deleteFiles", fmt.Sprintf("%t", deleteFiles))
	return c.postForm(ctx, "/api/v2/torrents/delete", form)
}

// Pause stops a torrent.
func (c *Client) Pause(ctx context.Context, id string) error {
	form := url.Values{}
	form.Set("hashes", id)
	return c.postForm(ctx, "/api/v2/torrents/pause", form)
}

// Resume starts a torrent.
func (c *Client) Resume(ctx context.Context, id string) error {
	form := url.Values{}
	form.Set("hashes", id)
	return c.postForm(ctx, "/api/v2/torrents/resume", form)
}

// login authenticates against auth/login and stores the SID cookie in the jar.
func (c *Client) login(ctx context.Context) error {
	if c.loggedIn {
		return nil
	}

	form := url.Values{}
	form.Set("username", c.config.Username)
	form.Set("password", c.config.Password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v2/auth/login",
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return types.ErrAuthFailed
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	if strings.TrimSpace(string(body)) != "Ok." {
		return types.ErrAuthFailed
	}

	c.loggedIn = true
	return nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		// Session expired; force a re-login on the next call.
		c.loggedIn = false
		return nil, types.ErrAuthFailed
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values) error {
	if err := c.login(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path,
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return types.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return nil
}

// mapState maps qBittorrent torrent states to transfer states.
func mapState(state string) types.TransferState {
	switch state {
	case "downloading", "stalledDL", "metaDL", "forcedDL":
		return types.StateDownloading
	case "uploading", "stalledUP", "forcedUP":
		return types.StateSeeding
	case "pausedDL", "stoppedDL":
		return types.StatePaused
	case "pausedUP", "stoppedUP":
		return types.StateCompleted
	case "checkingDL", "checkingUP", "checkingResumeData", "allocating":
		return types.StateChecking
	case "queuedDL", "queuedUP":
		return types.StateQueued
	case "error", "missingFiles":
		return types.StateError
	default:
		return types.StateUnknown
	}
}
