package types

import "time"

type Role string

const (
	RoleUpload   Role = "upload"
	RoleDownload Role = "download"
)

// SessionInfo is a snapshot of one transfer connection.
type SessionInfo struct {
	ID          string     `json:"id"`
	Role        Role       `json:"role"`
	Platform    string     `json:"platform"`
	Name        string     `json:"name"`
	RemoteAddr  string     `json:"remoteAddr"`
	State       string     `json:"state"`
	Transferred int64      `json:"transferred"`
	Total       int64      `json:"total"` // -1 until negotiated
	Percent     int        `json:"percent"`
	SHA256      string     `json:"sha256,omitempty"`
	StartedAt   time.Time  `json:"startedAt"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// StatusResponse is returned by the self status endpoint.
type StatusResponse struct {
	Running          bool          `json:"running"`
	UploadInProgress bool          `json:"uploadInProgress"`
	NotifyWSEnabled  bool          `json:"notify_ws_enabled"`
	Platforms        []string      `json:"platforms"`
	Active           []SessionInfo `json:"active"`
	Recent           []SessionInfo `json:"recent"`
}
