package domain

import "encoding/json"

// SendResult is the normalized outcome of one gateway call. Ordinary
// API-level failures arrive as Success=false with a human-readable Error;
// only transport and timeout conditions surface as Go errors from the
// client.
type SendResult struct {
	Success   bool            `json:"success"`
	MessageID string          `json:"messageId,omitempty"`
	Error     string          `json:"error,omitempty"`
	Details   json.RawMessage `json:"details,omitempty"`
}
