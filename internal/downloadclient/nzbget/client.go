// Package nzbget implements an NZBGet JSON-RPC client.
package nzbget

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/medialoom/medialoom/internal/downloadclient/types"
)

// Client implements an NZBGet JSON-RPC client that satisfies the types.Client interface.
type Client struct {
	config     types.ClientConfig
	httpClient *http.Client
	baseURL    string
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
	baseURL += "/jsonrpc"

	return &Client{
		config: *cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL: baseURL,
	}
}

// Type returns the client type.
func (c *Client) Type() types.ClientType {
	return types.ClientTypeNZBGet
}

// Protocol returns the protocol.
func (c *Client) Protocol() types.Protocol {
	return types.ProtocolUsenet
}

// Test verifies the client connection and returns version info.
func (c *Client) Test(ctx context.Context) (*types.ClientInfo, error) {
	var version string
	if err := c.call(ctx, "version", nil, &version); err != nil {
		return nil, err
	}
	return &types.ClientInfo{Name: "NZBGet", Version: version}, nil
}

// Add submits an NZB and returns the NZBGet group id.
// The append method takes either a URL or base64 file content; NZBGet
// returns a positive id on success.
func (c *Client) Add(ctx context.Context, input types.AddInput, opts types.AddOptions) (string, error) {
	category := opts.Category
	if category == "" {
		category = c.config.Category
	}

	name := input.Name
	if name == "" {
		name = "download"
	}

	var content string
	switch {
	case input.URL != "":
		content = input.URL
	case len(input.FileContent) > 0:
		content = base64.StdEncoding.EncodeToString(input.FileContent)
	default:
		return "", fmt.Errorf("no URL or file content provided")
	}

	params := []interface{}{
		name + ".nzb", // NZBFilename
		content,       // Content: URL or base64 data
		category,      // Category
		0,             // Priority
		false,         // AddToTop
		opts.Paused,   // AddPaused
		"",            // DupeKey
		0,             // DupeScore
		"SCORE",       // DupeMode
		[]interface{}{}, // PPParameters
	}

	var id int64
	if err := c.call(ctx, "append", params, &id); err != nil {
		return "", err
	}
	if id <= 0 {
		return "", fmt.Errorf("NZBGet did not accept the NZB")
	}

	return strconv.FormatInt(id, 10), nil
}

// group mirrors the fields we use from listgroups entries.
type group struct {
	NZBID            int64  `json:"NZBID"`
	NZBName          string `json:"NZBName"`
	Status           string `json:"Status"`
	FileSizeLo       int64  `json:"FileSizeLo"`
	FileSizeHi       int64  `json:"FileSizeHi"`
	RemainingSizeLo  int64  `json:"RemainingSizeLo"`
	RemainingSizeHi  int64  `json:"RemainingSizeHi"`
	DownloadedSizeLo int64  `json:"DownloadedSizeLo"`
	DownloadedSizeHi int64  `json:"DownloadedSizeHi"`
	DestDir          string `json:"DestDir"`
}

// historyEntry mirrors the fields we use from history entries.
type historyEntry struct {
	NZBID       int64  `json:"NZBID"`
	Name        string `json:"Name"`
	Status      string `json:"Status"`
	FileSizeLo  int64  `json:"FileSizeLo"`
	FileSizeHi  int64  `json:"FileSizeHi"`
	DestDir     string `json:"DestDir"`
	HistoryTime int64  `json:"HistoryTime"`
}

// List merges the active queue and the history into one transfer list.
func (c *Client) List(ctx context.Context) ([]types.Transfer, error) {
	var groups []group
	if err := c.call(ctx, "listgroups", []interface{}{0}, &groups); err != nil {
		return nil, err
	}

	var status struct {
		DownloadRate int64 `json:"DownloadRate"`
	}
	if err := c.call(ctx, "status", nil, &status); err != nil {
		return nil, err
	}

	transfers := make([]types.Transfer, 0, len(groups))
	for _, g := range groups {
		size := joinLoHi(g.FileSizeLo, g.FileSizeHi)
		remaining := joinLoHi(g.RemainingSizeLo, g.RemainingSizeHi)
		downloaded := joinLoHi(g.DownloadedSizeLo, g.DownloadedSizeHi)

		var progress float64
		if size > 0 {
			progress = float64(size-remaining) / float64(size) * 100
		}

		var eta int64 = -1
		if status.DownloadRate > 0 && remaining > 0 {
			eta = remaining / status.DownloadRate
		}

		transfers = append(transfers, types.Transfer{
			ID:             strconv.FormatInt(g.NZBID, 10),
			Name:           g.NZBName,
			State:          mapGroupState(g.Status),
			Progress:       progress,
			Size:           size,
			DownloadedSize: downloaded,
			DownloadSpeed:  status.DownloadRate,
			ETA:            eta,
			SavePath:       g.DestDir,
		})
	}

	var history []historyEntry
	if err := c.call(ctx, "history", []interface{}{false}, &history); err != nil {
		return nil, err
	}

	for _, h := range history {
		transfer := types.Transfer{
			ID:             strconv.FormatInt(h.NZBID, 10),
			Name:           h.Name,
			Size:           joinLoHi(h.FileSizeLo, h.FileSizeHi),
			DownloadedSize: joinLoHi(h.FileSizeLo, h.FileSizeHi),
			Progress:       100,
			SavePath:       h.DestDir,
		}
		if h.HistoryTime > 0 {
			transfer.CompletedAt = time.Unix(h.HistoryTime, 0)
		}
		// History statuses are TOTAL/DETAIL pairs, e.g. SUCCESS/ALL.
		switch {
		case strings.HasPrefix(h.Status, "SUCCESS"):
			transfer.State = types.StateCompleted
		case strings.HasPrefix(h.Status, "FAILURE"):
			transfer.State = types.StateError
			transfer.Error = h.Status
		default:
			transfer.State = types.StateUnknown
		}
		transfers = append(transfers, transfer)
	}

	return transfers, nil
}

// Remove removes a download from the queue or the history.
func (c *Client) Remove(ctx context.Context, id string, deleteFiles bool) error {
	nzbID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid NZBGet id %q: %w", id, err)
	}

	command := "GroupDelete"
	if deleteFiles {
		command = "GroupFinalDelete"
	}
	if err := c.editQueue(ctx, command, nzbID); err != nil {
		return err
	}

	// Completed items live in the history, not the queue.
	return c.editQueue(ctx, "HistoryFinalDelete", nzbID)
}

// Pause pauses a queued download.
func (c *Client) Pause(ctx context.Context, id string) error {
	nzbID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid NZBGet id %q: %w", id, err)
	}
	return c.editQueue(ctx, "GroupPause", nzbID)
}

// Resume resumes a paused download.
func (c *Client) Resume(ctx context.Context, id string) error {
	nzbID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid NZBGet id %q: %w", id, err)
	}
	return c.editQueue(ctx, "GroupResume", nzbID)
}

func (c *Client) editQueue(ctx context.Context, command string, nzbID int64) error {
	var ok bool
	if err := c.call(ctx, "editqueue", []interface{}{command, "", []int64{nzbID}}, &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("NZBGet rejected %s for id %d", command, nzbID)
	}
	return nil
}

// rpcRequest represents an NZBGet JSON-RPC request.
type rpcRequest struct {
	Method string        `json:"method"`
	Params []interface{} `json:"params,omitempty"`
}

// rpcResponse represents an NZBGet JSON-RPC response.
type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	body, err := json.Marshal(rpcRequest{Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if c.config.Username != "" {
		req.SetBasicAuth(c.config.Username, c.config.Password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return types.ErrAuthFailed
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if rpcResp.Error != nil {
		return fmt.Errorf("RPC error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}

	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("failed to unmarshal result: %w", err)
		}
	}

	return nil
}

// mapGroupState maps NZBGet group statuses to transfer states.
func mapGroupState(status string) types.TransferState {
	switch status {
	case "DOWNLOADING", "FETCHING":
		return types.StateDownloading
	case "PAUSED":
		return types.StatePaused
	case "QUEUED", "PP_QUEUED":
		return types.StateQueued
	case "VERIFYING_SOURCES", "VERIFYING_REPAIRED", "REPAIRING", "UNPACKING", "LOADING_PARS", "MOVING":
		return types.StateChecking
	default:
		return types.StateUnknown
	}
}

// joinLoHi reassembles NZBGet's split 64-bit sizes.
func joinLoHi(lo, hi int64) int64 {
	return hi<<32 | lo&0xFFFFFFFF
}
