package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/adamscao/vpnaccess/internal/models"
)

// CredentialRepository handles VPN credential record data access.
// State transitions are conditional updates so concurrent writers cannot
// both move a record into (or out of) the active state.
type CredentialRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewCredentialRepository creates a new credential repository
func NewCredentialRepository(db *sql.DB) *CredentialRepository {
	return &CredentialRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

const credentialColumns = `
	id, user_id, client_id, state, mfa_secret, rendered_profile,
	pending_op, created_at, updated_at, revoked_at
`

// Get retrieves the credential record for a user
func (r *CredentialRepository) Get(ctx context.Context, userID int64) (*models.CredentialRecord, error) {
	query := `SELECT ` + credentialColumns + ` FROM vpn_credentials WHERE user_id = ?`

	rec := &models.CredentialRecord{}
	var revokedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&rec.ID,
		&rec.UserID,
		&rec.ClientID,
		&rec.State,
		&rec.MFASecret,
		&rec.RenderedProfile,
		&rec.PendingOp,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&revokedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("credential for user %d: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}

	if revokedAt.Valid {
		t := revokedAt.Time
		rec.RevokedAt = &t
	}

	return rec, nil
}

// MarkPending records that an issuer call is about to run for the user.
// A record in state none is created when the user has none yet.
func (r *CredentialRepository) MarkPending(ctx context.Context, userID int64, clientID string, op models.PendingOp) error {
	query := `
		INSERT INTO vpn_credentials (user_id, client_id, state, pending_op, created_at, updated_at)
		VALUES (?, ?, 'none', ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			pending_op = excluded.pending_op,
			updated_at = excluded.updated_at
	`

	now := r.now()
	if _, err := r.db.ExecContext(ctx, query, userID, clientID, string(op), now, now); err != nil {
		return fmt.Errorf("failed to mark pending %s: %w", op, err)
	}

	return nil
}

// ClearPending removes the pending marker without touching the state
func (r *CredentialRepository) ClearPending(ctx context.Context, userID int64) error {
	query := `UPDATE vpn_credentials SET pending_op = '', updated_at = ? WHERE user_id = ?`

	if _, err := r.db.ExecContext(ctx, query, r.now(), userID); err != nil {
		return fmt.Errorf("failed to clear pending operation: %w", err)
	}

	return nil
}

// Activate moves the user's record into the active state with fresh
// material. It fails with ErrAlreadyActive when the record is already active.
func (r *CredentialRepository) Activate(ctx context.Context, rec *models.CredentialRecord) error {
	query := `
		INSERT INTO vpn_credentials (
			user_id, client_id, state, mfa_secret, rendered_profile,
			pending_op, created_at, updated_at, revoked_at
		)
		VALUES (?, ?, 'active', ?, ?, '', ?, ?, NULL)
		ON CONFLICT(user_id) DO UPDATE SET
			client_id        = excluded.client_id,
			state            = 'active',
			mfa_secret       = excluded.mfa_secret,
			rendered_profile = excluded.rendered_profile,
			pending_op       = '',
			updated_at       = excluded.updated_at,
			revoked_at       = NULL
		WHERE vpn_credentials.state <> 'active'
	`

	now := r.now()
	result, err := r.db.ExecContext(ctx, query,
		rec.UserID,
		rec.ClientID,
		rec.MFASecret,
		rec.RenderedProfile,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to activate credential: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrAlreadyActive
	}

	rec.State = models.StateActive
	rec.PendingOp = models.PendingNone
	rec.UpdatedAt = now
	rec.RevokedAt = nil

	return nil
}

// MarkRevoked moves an active record to revoked. It fails with ErrNotActive
// when no active record exists for the user.
func (r *CredentialRepository) MarkRevoked(ctx context.Context, userID int64) error {
	query := `
		UPDATE vpn_credentials
		SET state = 'revoked', pending_op = '', updated_at = ?, revoked_at = ?
		WHERE user_id = ? AND state = 'active'
	`

	now := r.now()
	result, err := r.db.ExecContext(ctx, query, now, now, userID)
	if err != nil {
		return fmt.Errorf("failed to revoke credential: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotActive
	}

	return nil
}

// ListActive lists active credentials joined with the owning user
func (r *CredentialRepository) ListActive(ctx context.Context) ([]*models.ActiveCredential, error) {
	query := `
		SELECT c.user_id, c.client_id, u.name, u.email, u.role,
		       c.mfa_secret <> '', c.created_at, c.updated_at
		FROM vpn_credentials c
		JOIN users u ON c.user_id = u.id
		WHERE c.state = 'active'
		ORDER BY c.updated_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list active credentials: %w", err)
	}
	defer rows.Close()

	active := []*models.ActiveCredential{}

	for rows.Next() {
		c := &models.ActiveCredential{}
		err := rows.Scan(
			&c.UserID,
			&c.ClientID,
			&c.Name,
			&c.Email,
			&c.Role,
			&c.MFA,
			&c.CreatedAt,
			&c.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan active credential: %w", err)
		}

		active = append(active, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate active credentials: %w", err)
	}

	return active, nil
}
