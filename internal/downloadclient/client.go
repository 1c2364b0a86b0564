// Package downloadclient provides download client abstractions and implementations.
package downloadclient

import (
	"github.com/medialoom/medialoom/internal/downloadclient/types"
)

// Re-export types for convenience.
// This allows external packages to use downloadclient.Client instead of types.Client.

type (
	Protocol      = types.Protocol
	ClientType    = types.ClientType
	ClientConfig  = types.ClientConfig
	ClientInfo    = types.ClientInfo
	Client        = types.Client
	AddInput      = types.AddInput
	AddOptions    = types.AddOptions
	FileType      = types.FileType
	Transfer      = types.Transfer
	TransferState = types.TransferState
)

// Re-export constants.
const (
	ProtocolTorrent = types.ProtocolTorrent
	ProtocolUsenet  = types.ProtocolUsenet

	ClientTypeQBittorrent  = types.ClientTypeQBittorrent
	ClientTypeTransmission = types.ClientTypeTransmission
	ClientTypeRTorrent     = types.ClientTypeRTorrent
	ClientTypeBlackhole    = types.ClientTypeBlackhole
	ClientTypeSABnzbd      = types.ClientTypeSABnzbd
	ClientTypeNZBGet       = types.ClientTypeNZBGet
	ClientTypeHTTPFetch    = types.ClientTypeHTTPFetch

	StateQueued      = types.StateQueued
	StateDownloading = types.StateDownloading
	StateSeeding     = types.StateSeeding
	StatePaused      = types.StatePaused
	StateChecking    = types.StateChecking
	StateCompleted   = types.StateCompleted
	StateError       = types.StateError
	StateUnknown     = types.StateUnknown

	FileTypeTorrent = types.FileTypeTorrent
	FileTypeNZB     = types.FileTypeNZB
)

// Re-export errors.
var (
	ErrNotSupported = types.ErrNotSupported
	ErrAuthFailed   = types.ErrAuthFailed
	ErrNotFound     = types.ErrNotFound
)

// Re-export functions.
var ProtocolForClient = types.ProtocolForClient
