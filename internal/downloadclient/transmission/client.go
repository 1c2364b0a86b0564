// Package transmission implements a Transmission RPC client.
package transmission

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/medialoom/medialoom/internal/downloadclient/types"
)

const sessionIDHeader = "X-Transmission-Session-Id"

// torrentFields are requested on every torrent-get call.
var torrentFields = []string{
	"id", "name", "status", "percentDone",
	"totalSize", "downloadDir", "hashString",
	"eta", "rateDownload", "rateUpload",
	"downloadedEver", "sizeWhenDone", "uploadRatio", "doneDate",
	"error", "errorString",
}

// Client implements a Transmission RPC client that satisfies the types.Client interface.
type Client struct {
	config     types.ClientConfig
	sessionID  string
	httpClient *http.Client
}

// Compile-time check that Client implements the adapter contract.
var _ types.Client = (*Client)(nil)

// NewFromConfig creates a client from a ClientConfig.
func NewFromConfig(cfg *types.ClientConfig) *Client {
	return &Client{
		config: *cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Type returns the client type.
func (c *Client) Type() types.ClientType {
	return types.ClientTypeTransmission
}

// Protocol returns the protocol.
func (c *Client) Protocol() types.Protocol {
	return types.ProtocolTorrent
}

// Test verifies the client connection and returns version info.
func (c *Client) Test(ctx context.Context) (*types.ClientInfo, error) {
	resp, err := c.call(ctx, "session-get", nil)
	if err != nil {
		return nil, err
	}

	info := &types.ClientInfo{Name: "Transmission"}
	if version, ok := resp.Arguments["version"].(string); ok {
		info.Version = version
	}
	return info, nil
}

// Add submits a transfer and returns the torrent hash.
func (c *Client) Add(ctx context.Context, input types.AddInput, opts types.AddOptions) (string, error) {
	args := make(map[string]interface{})

	switch {
	case input.MagnetURI != "":
		args["filename"] = input.MagnetURI
	case input.URL != "":
		args["filename"] = input.URL
	case len(input.FileContent) > 0:
		args["metainfo"] = base64.StdEncoding.EncodeToString(input.FileContent)
	default:
		return "", fmt.Errorf("no magnet, URL, or file content provided")
	}

	if opts.DownloadDir != "" {
		args["download-dir"] = opts.DownloadDir
	}
	if opts.Paused {
		args["paused"] = true
	}

	resp, err := c.call(ctx, "torrent-add", args)
	if err != nil {
		return "", err
	}

	return extractTorrentID(resp)
}

// List returns all torrents.
func (c *Client) List(ctx context.Context) ([]types.Transfer, error) {
	args := map[string]interface{}{"fields": torrentFields}

	resp, err := c.call(ctx, "torrent-get", args)
	if err != nil {
		return nil, err
	}

	torrentsRaw, ok := resp.Arguments["torrents"].([]interface{})
	if !ok {
		return []types.Transfer{}, nil
	}

	transfers := make([]types.Transfer, 0, len(torrentsRaw))
	for _, t := range torrentsRaw {
		torrent, ok := t.(map[string]interface{})
		if !ok {
			continue
		}
		transfers = append(transfers, mapToTransfer(torrent))
	}

	return transfers, nil
}

// Remove removes a torrent.
func (c *Client) Remove(ctx context.Context, id string, deleteFiles bool) error {
	args := map[string]interface{}{
		"ids":               []string{id},
		"delete-local-data": deleteFiles,
	}
	_, err := c.call(ctx, "torrent-remove", args)
	return err
}

// Pause stops a torrent.
func (c *Client) Pause(ctx context.Context, id string) error {
	_, err := c.call(ctx, "torrent-stop", map[string]interface{}{"ids": []string{id}})
	return err
}

// Resume starts a torrent.
func (c *Client) Resume(ctx context.Context, id string) error {
	_, err := c.call(ctx, "torrent-start", map[string]interface{}{"ids": []string{id}})
	return err
}

// rpcRequest represents a Transmission RPC request.
type rpcRequest struct {
	Method    string                 `json:"method"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// rpcResponse represents a Transmission RPC response.
type rpcResponse struct {
	Result    string                 `json:"result"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

func (c *Client) call(ctx context.Context, method string, args map[string]interface{}) (*rpcResponse, error) {
	req, err := c.buildRPCRequest(ctx, method, args)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return c.handleSessionConflict(ctx, resp, method, args)
	}

	return parseRPCResponse(resp)
}

func (c *Client) buildRPCRequest(ctx context.Context, method string, args map[string]interface{}) (*http.Request, error) {
	scheme := "http"
	if c.config.UseSSL {
		scheme = "https"
	}
	url := fmt.Sprintf("%s://%s:%d/transmission/rpc", scheme, c.config.Host, c.config.Port)

	body, err := json.Marshal(rpcRequest{Method: method, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.sessionID != "" {
		req.Header.Set(sessionIDHeader, c.sessionID)
	}
	if c.config.Username != "" {
		auth := base64.StdEncoding.EncodeToString([]byte(c.config.Username + ":" + c.config.Password))
		req.Header.Set("Authorization", "Basic "+auth)
	}

	return req, nil
}

func (c *Client) handleSessionConflict(ctx context.Context, resp *http.Response, method string, args map[string]interface{}) (*rpcResponse, error) {
	c.sessionID = resp.Header.Get(sessionIDHeader)
	if c.sessionID == "" {
		return nil, fmt.Errorf("received 409 but no session ID in response")
	}
	return c.call(ctx, method, args)
}

func parseRPCResponse(resp *http.Response) (*rpcResponse, error) {
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, types.ErrAuthFailed
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if rpcResp.Result != "success" {
		return nil, fmt.Errorf("RPC error: %s", rpcResp.Result)
	}

	return &rpcResp, nil
}

// mapToTransfer converts a Transmission torrent response to a Transfer.
func mapToTransfer(torrent map[string]interface{}) types.Transfer {
	state := mapState(getInt(torrent, "status"))
	progress := getFloat(torrent, "percentDone") * 100 // Convert from 0-1 to 0-100

	transfer := types.Transfer{
		ID:             getString(torrent, "hashString"),
		Name:           getString(torrent, "name"),
		State:          state,
		Progress:       progress,
		Size:           int64(getFloat(torrent, "sizeWhenDone")),
		DownloadedSize: int64(getFloat(torrent, "downloadedEver")),
		DownloadSpeed:  int64(getFloat(torrent, "rateDownload")),
		UploadSpeed:    int64(getFloat(torrent, "rateUpload")),
		ETA:            int64(getFloat(torrent, "eta")),
		Ratio:          getFloat(torrent, "uploadRatio"),
		SavePath:       getString(torrent, "downloadDir"),
	}

	if doneDate := int64(getFloat(torrent, "doneDate")); doneDate > 0 {
		transfer.CompletedAt = time.Unix(doneDate, 0)
	}

	if errNum := getInt(torrent, "error"); errNum > 0 {
		transfer.Error = getString(torrent, "errorString")
		transfer.State = types.StateError
	}

	return transfer
}

// extractTorrentID extracts the torrent hash from an add response.
// Transmission reports already-known torrents under torrent-duplicate.
func extractTorrentID(resp *rpcResponse) (string, error) {
	for _, key := range []string{"torrent-added", "torrent-duplicate"} {
		added, ok := resp.Arguments[key].(map[string]interface{})
		if !ok {
			continue
		}
		if hashString, ok := added["hashString"].(string); ok {
			return hashString, nil
		}
		if id, ok := added["id"].(float64); ok {
			return fmt.Sprintf("%d", int(id)), nil
		}
	}
	return "", fmt.Errorf("could not extract torrent ID from response")
}

// mapState maps Transmission status codes to transfer states.
func mapState(status int) types.TransferState {
	switch status {
	case 0: // Stopped
		return types.StatePaused
	case 1: // Queued to verify
		return types.StateQueued
	case 2: // Verifying
		return types.StateChecking
	case 3: // Queued to download
		return types.StateQueued
	case 4: // Downloading
		return types.StateDownloading
	case 5: // Queued to seed
		return types.StateSeeding
	case 6: // Seeding
		return types.StateSeeding
	default:
		return types.StateUnknown
	}
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func getInt(m map[string]interface{}, key string) int {
	if v, ok := m[key].(float64); ok {
		return int(v)
	}
	return 0
}

func getFloat(m map[string]interface{}, key string) float64 {
	if v, ok := m[key].(float64); ok {
		return v
	}
	return 0
}
