package models

import "time"

// CredentialState is the lifecycle state of a user's VPN credential
type CredentialState string

// Credential states
const (
	StateNone    CredentialState = "none"
	StateActive  CredentialState = "active"
	StateRevoked CredentialState = "revoked"
)

// PendingOp records an issuer call whose outcome has not been persisted yet
type PendingOp string

// Pending operations
const (
	PendingNone   PendingOp = ""
	PendingIssue  PendingOp = "issue"
	PendingRevoke PendingOp = "revoke"
)

// CredentialRecord is the single VPN credential record held for a user
type CredentialRecord struct {
	ID              int64           `json:"id"`
	UserID          int64           `json:"user_id"`
	ClientID        string          `json:"client_id"`
	State           CredentialState `json:"state"`
	MFASecret       string          `json:"-"` // sealed at rest, never exposed
	RenderedProfile string          `json:"-"`
	PendingOp       PendingOp       `json:"pending_op,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	RevokedAt       *time.Time      `json:"revoked_at,omitempty"`
}

// HasMFA reports whether a second factor secret is configured
func (r *CredentialRecord) HasMFA() bool {
	return r.MFASecret != ""
}

// ActiveCredential is an active record joined with the owning user's identity
type ActiveCredential struct {
	UserID    int64     `json:"user_id"`
	ClientID  string    `json:"client_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	MFA       bool      `json:"mfa_enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
