package models

import "time"

// ConnectionEvent is an immutable entry in a user's connection ledger
type ConnectionEvent struct {
	ID            int64     `json:"id"`
	UserID        int64     `json:"user_id"`
	SourceAddress string    `json:"source_address"`
	EventType     string    `json:"event_type"`
	Timestamp     time.Time `json:"timestamp"`
}

// Event type constants
const (
	EventMFAValidation = "mfa_validation"
	EventConnect       = "connect"
	EventDisconnect    = "disconnect"
)
