package types

const (
	NotifyTypeTransferStart   = "transfer_start"
	NotifyTypeTransferEnd     = "transfer_end"
	NotifyTypeTransferAborted = "transfer_aborted"
)

// Notification represents a notification message structure
type Notification struct {
	Type    string         `json:"type,omitempty"`    // Notification type, e.g. "transfer_start", "transfer_end", etc.
	Title   string         `json:"title,omitempty"`   // Notification title
	Message string         `json:"message,omitempty"` // Notification message/content
	Data    map[string]any `json:"data,omitempty"`    // Additional data fields
}
