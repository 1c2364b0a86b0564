package download

import (
	"github.com/medialoom/medialoom/internal/downloadclient/types"
	"github.com/medialoom/medialoom/internal/store"
)

// Status is the closed vocabulary a download's live or derived state maps
// into.
type Status string

const (
	StatusDownloading Status = "downloading"
	StatusSeeding     Status = "seeding"
	StatusCompleted   Status = "completed"
	StatusPaused      Status = "paused"
	StatusChecking    Status = "checking"
	StatusFailed      Status = "failed"
	StatusUnknown     Status = "unknown"
	StatusImported    Status = "imported"
	StatusMissing     Status = "missing"
)

// statusFromState maps a backend transfer state onto the status vocabulary.
func statusFromState(state types.TransferState) Status {
	switch state {
	case types.StateDownloading, types.StateQueued:
		return StatusDownloading
	case types.StateSeeding:
		return StatusSeeding
	case types.StateCompleted:
		return StatusCompleted
	case types.StatePaused:
		return StatusPaused
	case types.StateChecking:
		return StatusChecking
	case types.StateError:
		return StatusFailed
	default:
		return StatusUnknown
	}
}

// EnrichedDownload is the read-time merge of a persisted download with its
// backend's live transfer telemetry. It is never persisted; a fresh view
// is constructed on every read.
type EnrichedDownload struct {
	*store.Download

	Status        Status  `json:"status"`
	Progress      float64 `json:"progress"`
	DownloadSpeed int64   `json:"downloadSpeed"`
	UploadSpeed   int64   `json:"uploadSpeed"`
	ETA           int64   `json:"eta"`
	Ratio         float64 `json:"ratio"`
	SavePath      string  `json:"savePath,omitempty"`
	Live          bool    `json:"live"`
}

// Filter narrows an enriched download listing.
type Filter string

const (
	FilterAll       Filter = "all"
	FilterActive    Filter = "active"
	FilterCompleted Filter = "completed"
	FilterImported  Filter = "imported"
	FilterFailed    Filter = "failed"
)

// Matches reports whether an enriched download passes the filter.
func (f Filter) Matches(d *EnrichedDownload) bool {
	switch f {
	case FilterActive:
		if d.ImportedAt != nil {
			return false
		}
		switch d.Status {
		case StatusDownloading, StatusSeeding, StatusChecking, StatusPaused:
			return true
		}
		return false
	case FilterCompleted:
		return d.Status == StatusCompleted
	case FilterImported:
		return d.ImportedAt != nil
	case FilterFailed:
		return d.Status == StatusFailed || d.Status == StatusMissing || d.ImportFailedAt != nil
	default:
		return true
	}
}
