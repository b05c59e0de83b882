package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/adamscao/vpnaccess/internal/models"
)

// History limits
const (
	DefaultHistoryLimit = 10
	MaxHistoryLimit     = 100
)

// ConnectionRepository is the append-only connection ledger
type ConnectionRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewConnectionRepository creates a new connection ledger repository
func NewConnectionRepository(db *sql.DB) *ConnectionRepository {
	return &ConnectionRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Append writes one event stamped with the server clock
func (r *ConnectionRepository) Append(ctx context.Context, userID int64, sourceAddress, eventType string) (*models.ConnectionEvent, error) {
	query := `
		INSERT INTO vpn_connections (user_id, source_address, event_type, created_at)
		VALUES (?, ?, ?, ?)
	`

	now := r.now()
	result, err := r.db.ExecContext(ctx, query, userID, sourceAddress, eventType, now)
	if err != nil {
		return nil, fmt.Errorf("failed to append connection event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return &models.ConnectionEvent{
		ID:            id,
		UserID:        userID,
		SourceAddress: sourceAddress,
		EventType:     eventType,
		Timestamp:     now,
	}, nil
}

// Query returns the user's most recent events, newest first
func (r *ConnectionRepository) Query(ctx context.Context, userID int64, limit int) ([]*models.ConnectionEvent, error) {
	query := `
		SELECT id, user_id, source_address, event_type, created_at
		FROM vpn_connections
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, userID, ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query connection history: %w", err)
	}
	defer rows.Close()

	events := []*models.ConnectionEvent{}

	for rows.Next() {
		e := &models.ConnectionEvent{}
		if err := rows.Scan(&e.ID, &e.UserID, &e.SourceAddress, &e.EventType, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan connection event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate connection events: %w", err)
	}

	return events, nil
}

// Prune deletes events older than the given time
func (r *ConnectionRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	query := `
		DELETE FROM vpn_connections
		WHERE created_at < ?
	`

	result, err := r.db.ExecContext(ctx, query, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune connection events: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return count, nil
}

// ClampLimit applies the default and upper bound to a history limit
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}
