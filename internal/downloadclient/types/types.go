// Package types defines shared types for download client adapters.
package types

import (
	"context"
	"errors"
	"time"
)

// Common errors for download client adapters.
var (
	ErrNotSupported = errors.New("operation not supported by this client")
	ErrAuthFailed   = errors.New("authentication failed")
	ErrNotFound     = errors.New("transfer not found")
)

// Protocol represents the download protocol a client speaks.
type Protocol string

const (
	ProtocolTorrent Protocol = "torrent"
	ProtocolUsenet  Protocol = "usenet"
)

// ClientType identifies a download client backend.
type ClientType string

const (
	ClientTypeQBittorrent  ClientType = "qbittorrent"
	ClientTypeTransmission ClientType = "transmission"
	ClientTypeRTorrent     ClientType = "rtorrent"
	ClientTypeBlackhole    ClientType = "blackhole"
	ClientTypeSABnzbd      ClientType = "sabnzbd"
	ClientTypeNZBGet       ClientType = "nzbget"
	ClientTypeHTTPFetch    ClientType = "httpfetch"
)

// AllClientTypes is the closed set of supported backends.
func AllClientTypes() []ClientType {
	return []ClientType{
		ClientTypeQBittorrent,
		ClientTypeTransmission,
		ClientTypeRTorrent,
		ClientTypeBlackhole,
		ClientTypeSABnzbd,
		ClientTypeNZBGet,
		ClientTypeHTTPFetch,
	}
}

// ProtocolForClient returns the protocol for a given client type.
// Blackhole and httpfetch accept both torrent and NZB payloads, so they
// report the torrent protocol but are matched leniently by the selector.
func ProtocolForClient(clientType ClientType) Protocol {
	switch clientType {
	case ClientTypeQBittorrent, ClientTypeTransmission, ClientTypeRTorrent, ClientTypeBlackhole, ClientTypeHTTPFetch:
		return ProtocolTorrent
	case ClientTypeSABnzbd, ClientTypeNZBGet:
		return ProtocolUsenet
	default:
		return ""
	}
}

// ClientConfig holds a configured download client backend.
type ClientConfig struct {
	Name     string
	Type     ClientType
	Host     string
	Port     int
	Username string
	Password string
	UseSSL   bool
	APIKey   string // For clients that use API keys (SABnzbd)
	Category string // Default category/label for downloads
	URLBase  string // URL path prefix (rTorrent RPC mount, qBittorrent behind proxy)
	WatchDir string // Drop directory for the blackhole client
	Priority int    // Lower value = preferred by the selector
	Enabled  bool
}

// ClientInfo describes a reachable backend, returned by Test.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// FileType classifies fetched payload bytes.
type FileType string

const (
	FileTypeTorrent FileType = "torrent"
	FileTypeNZB     FileType = "nzb"
)

// AddInput is the adapter-ready form of a download reference.
// Exactly one of MagnetURI, URL, or FileContent is set.
type AddInput struct {
	MagnetURI   string
	URL         string
	FileContent []byte
	FileType    FileType // set when FileContent is
	Name        string   // display name hint for clients that accept one
}

// AddOptions specifies options for adding a download.
type AddOptions struct {
	DownloadDir string
	Category    string
	Paused      bool
}

// TransferState is the closed state vocabulary reported by adapters.
type TransferState string

const (
	StateQueued      TransferState = "queued"
	StateDownloading TransferState = "downloading"
	StateSeeding     TransferState = "seeding"
	StatePaused      TransferState = "paused"
	StateChecking    TransferState = "checking"
	StateCompleted   TransferState = "completed"
	StateError       TransferState = "error"
	StateUnknown     TransferState = "unknown"
)

// Transfer represents a live transfer reported by a backend.
type Transfer struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	State          TransferState `json:"state"`
	Progress       float64       `json:"progress"` // 0-100
	Size           int64         `json:"size"`
	DownloadedSize int64         `json:"downloadedSize"`
	DownloadSpeed  int64         `json:"downloadSpeed"` // bytes/sec
	UploadSpeed    int64         `json:"uploadSpeed"`   // bytes/sec (torrents only)
	ETA            int64         `json:"eta"`           // seconds, -1 if unavailable
	Ratio          float64       `json:"ratio"`
	SavePath       string        `json:"savePath"`
	CompletedAt    time.Time     `json:"completedAt,omitempty"`
	Error          string        `json:"error,omitempty"`
}

// Client is the uniform capability contract implemented per backend protocol.
// Callers never branch on backend type outside the registry and selector.
type Client interface {
	Type() ClientType
	Protocol() Protocol

	// Test verifies reachability and credentials.
	Test(ctx context.Context) (*ClientInfo, error)

	// Add submits a transfer and returns the backend-assigned id.
	Add(ctx context.Context, input AddInput, opts AddOptions) (string, error)

	// List returns all transfers known to the backend.
	List(ctx context.Context) ([]Transfer, error)

	Remove(ctx context.Context, id string, deleteFiles bool) error
	Pause(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error
}
