// Package sabnzbd implements a SABnzbd API client.
package sabnzbd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/medialoom/medialoom/internal/downloadclient/types"
)

// Client implements a SABnzbd API client that satisfies the types.Client interface.
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
	return types.ClientTypeSABnzbd
}

// Protocol returns the protocol.
func (c *Client) Protocol() types.Protocol {
	return types.ProtocolUsenet
}

// Test verifies the client connection and returns version info.
func (c *Client) Test(ctx context.Context) (*types.ClientInfo, error) {
	body, err := c.get(ctx, url.Values{"mode": {"version"}})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal version response: %w", err)
	}

	return &types.ClientInfo{Name: "SABnzbd", Version: resp.Version}, nil
}

// Add submits an NZB and returns the SABnzbd nzo id.
func (c *Client) Add(ctx context.Context, input types.AddInput, opts types.AddOptions) (string, error) {
	category := opts.Category
	if category == "" {
		category = c.config.Category
	}

	switch {
	case input.URL != "" || input.MagnetURI != "":
		ref := input.URL
		if ref == "" {
			ref = input.MagnetURI
		}
		params := url.Values{
			"mode": {"addurl"},
			"name": {ref},
		}
		if category != "" {
			params.Set("cat", category)
		}
		if opts.Paused {
			params.Set("priority", "-2") // paused priority
		}
		body, err := c.get(ctx, params)
		if err != nil {
			return "", err
		}
		return extractNzoID(body)
	case len(input.FileContent) > 0:
		return c.addFile(ctx, input, category, opts.Paused)
	default:
		return "", fmt.Errorf("no URL or file content provided")
	}
}

func (c *Client) addFile(ctx context.Context, input types.AddInput, category string, paused bool) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	name := input.Name
	if name == "" {
		name = "download"
	}
	part, err := writer.CreateFormFile("name", name+".nzb")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(input.FileContent); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	params := url.Values{
		"mode":   {"addfile"},
		"output": {"json"},
		"apikey": {c.config.APIKey},
	}
	if category != "" {
		params.Set("cat", category)
	}
	if paused {
		params.Set("priority", "-2")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api?"+params.Encode(), &buf)
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

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	return extractNzoID(body)
}

// queueResponse mirrors the slots we use from mode=queue.
type queueResponse struct {
	Queue struct {
		KBPerSec string `json:"kbpersec"`
		Slots    []struct {
			NzoID      string `json:"nzo_id"`
			Filename   string `json:"filename"`
			Status     string `json:"status"`
			MB         string `json:"mb"`
			MBLeft     string `json:"mbleft"`
			Percentage string `json:"percentage"`
			TimeLeft   string `json:"timeleft"`
		} `json:"slots"`
	} `json:"queue"`
}

// historyResponse mirrors the slots we use from mode=history.
type historyResponse struct {
	History struct {
		Slots []struct {
			NzoID       string `json:"nzo_id"`
			Name        string `json:"name"`
			Status      string `json:"status"`
			Bytes       int64  `json:"bytes"`
			Storage     string `json:"storage"`
			Completed   int64  `json:"completed"`
			FailMessage string `json:"fail_message"`
		} `json:"slots"`
	} `json:"history"`
}

// List merges the live queue and the history into one transfer list.
func (c *Client) List(ctx context.Context) ([]types.Transfer, error) {
	queueBody, err := c.get(ctx, url.Values{"mode": {"queue"}})
	if err != nil {
		return nil, err
	}

	var queue queueResponse
	if err := json.Unmarshal(queueBody, &queue); err != nil {
		return nil, fmt.Errorf("failed to unmarshal queue response: %w", err)
	}

	speed := int64(parseFloat(queue.Queue.KBPerSec) * 1024)

	transfers := make([]types.Transfer, 0, len(queue.Queue.Slots))
	for _, slot := range queue.Queue.Slots {
		size := int64(parseFloat(slot.MB) * 1024 * 1024)
		left := int64(parseFloat(slot.MBLeft) * 1024 * 1024)

		transfers = append(transfers, types.Transfer{
			ID:             slot.NzoID,
			Name:           slot.Filename,
			State:          mapQueueState(slot.Status),
			Progress:       parseFloat(slot.Percentage),
			Size:           size,
			DownloadedSize: size - left,
			DownloadSpeed:  speed,
			ETA:            parseTimeLeft(slot.TimeLeft),
		})
	}

	historyBody, err := c.get(ctx, url.Values{"mode": {"history"}})
	if err != nil {
		return nil, err
	}

	var history historyResponse
	if err := json.Unmarshal(historyBody, &history); err != nil {
		return nil, fmt.Errorf("failed to unmarshal history response: %w", err)
	}

	for _, slot := range history.History.Slots {
		transfer := types.Transfer{
			ID:             slot.NzoID,
			Name:           slot.Name,
			Size:           slot.Bytes,
			DownloadedSize: slot.Bytes,
			Progress:       100,
			SavePath:       slot.Storage,
		}
		if slot.Completed > 0 {
			transfer.CompletedAt = time.Unix(slot.Completed, 0)
		}
		switch slot.Status {
		case "Completed":
			transfer.State = types.StateCompleted
		case "Failed":
			transfer.State = types.StateError
			transfer.Error = slot.FailMessage
		default:
			// Verifying/Repairing/Extracting post-processing stages.
			transfer.State = types.StateChecking
		}
		transfers = append(transfers, transfer)
	}

	return transfers, nil
}

// Remove removes a download from the queue or the history.
func (c *Client) Remove(ctx context.Context, id string, deleteFiles bool) error {
	params := url.Values{
		"mode":  {"queue"},
		"name":  {"delete"},
		"value": {id},
	}
	if deleteFiles {
		params.Set("del_files", "1")
	}
	if _, err := c.get(ctx, params); err != nil {
		return err
	}

	// Completed items live in the history, not the queue.
	params = url.Values{
		"mode":  {"history"},
		"name":  {"delete"},
		"value": {id},
	}
	_, err := c.get(ctx, params)
	return err
}

// Pause pauses a queued download.
func (c *Client) Pause(ctx context.Context, id string) error {
	_, err := c.get(ctx, url.Values{
		"mode":  {"queue"},
		"name":  {"pause"},
		"value": {id},
	})
	return err
}

// Resume resumes a paused download.
func (c *Client) Resume(ctx context.Context, id string) error {
	_, err := c.get(ctx, url.Values{
		"mode":  {"queue"},
		"name":  {"resume"},
		"value": {id},
	})
	return err
}

func (c *Client) get(ctx context.Context, params url.Values) ([]byte, error) {
	params.Set("output", "json")
	params.Set("apikey", c.config.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, types.ErrAuthFailed
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	// API errors come back as 200 with an error field.
	var apiErr struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
		if strings.Contains(strings.ToLower(apiErr.Error), "api key") {
			return nil, types.ErrAuthFailed
		}
		return nil, fmt.Errorf("SABnzbd error: %s", apiErr.Error)
	}

	return body, nil
}

func extractNzoID(body []byte) (string, error) {
	var resp struct {
		Status bool     `json:"status"`
		NzoIDs []string `json:"nzo_ids"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to unmarshal add response: %w", err)
	}
	if !resp.Status || len(resp.NzoIDs) == 0 {
		return "", fmt.Errorf("SABnzbd did not accept the NZB")
	}
	return resp.NzoIDs[0], nil
}

// mapQueueState maps SABnzbd queue slot statuses to transfer states.
func mapQueueState(status string) types.TransferState {
	switch status {
	case "Downloading", "Fetching":
		return types.StateDownloading
	case "Paused":
		return types.StatePaused
	case "Queued", "Grabbing":
		return types.StateQueued
	case "Checking", "Verifying", "Repairing", "Extracting":
		return types.StateChecking
	default:
		return types.StateUnknown
	}
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}

// parseTimeLeft converts SABnzbd's H:MM:SS estimate to seconds.
func parseTimeLeft(s string) int64 {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return -1
	}
	var total int64
	for _, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return -1
		}
		total = total*60 + n
	}
	return total
}
