package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aria-ai/aria/pkg/models"
)

// ActivityStore is the append-only activity journal.
type ActivityStore struct {
	db *sql.DB
}

// Record appends an activity row.
func (s *ActivityStore) Record(ctx context.Context, a *models.Activity) error {
	if a == nil || a.Action == "" {
		return fmt.Errorf("activity action is required")
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO activities (id, action, details, session_id, created_at)
		 VALUES (?,?,?,?,?)`,
		a.ID, a.Action, []byte(a.Details), a.SessionID, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record activity: %w", err)
	}
	return nil
}

// List returns activities newest first, cursor-paged on (created_at, id).
func (s *ActivityStore) List(ctx context.Context, limit int, pageCursor string) ([]*models.Activity, string, error) {
	limit = clampLimit(limit)
	c, err := decodeCursor(pageCursor)
	if err != nil {
		return nil, "", err
	}

	var args []any
	query := `SELECT id, action, details, session_id, created_at FROM activities`
	if c.ID != "" {
		query += ` WHERE created_at < ? OR (created_at = ? AND id > ?)`
		args = append(args, c.CreatedAt, c.CreatedAt, c.ID)
	}
	query += ` ORDER BY created_at DESC, id ASC LIMIT ?`
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()

	var out []*models.Activity
	for rows.Next() {
		var a models.Activity
		var details []byte
		if err := rows.Scan(&a.ID, &a.Action, &details, &a.SessionID, &a.CreatedAt); err != nil {
			return nil, "", fmt.Errorf("scan activity: %w", err)
		}
		a.Details = details
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("list activities: %w", err)
	}

	var next string
	if len(out) > limit {
		out = out[:limit]
		last := out[len(out)-1]
		next = encodeCursor(last.CreatedAt, last.ID)
	}
	return out, next, nil
}

// ListSince returns activities newer than a point in time, oldest first.
// The pattern recognizer reads its 30 day window through this.
func (s *ActivityStore) ListSince(ctx context.Context, since time.Time) ([]*models.Activity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, action, details, session_id, created_at FROM activities
		 WHERE created_at >= ? ORDER BY created_at ASC, id ASC`, since)
	if err != nil {
		return nil, fmt.Errorf("list activities since: %w", err)
	}
	defer rows.Close()

	var out []*models.Activity
	for rows.Next() {
		var a models.Activity
		var details []byte
		if err := rows.Scan(&a.ID, &a.Action, &details, &a.SessionID, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		a.Details = details
		out = append(out, &a)
	}
	return out, rows.Err()
}
