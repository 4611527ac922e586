package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aria-ai/aria/pkg/models"
)

// SessionStore persists session records.
type SessionStore struct {
	db *sql.DB
}

const sessionColumns = `id, kind, state, parent_session_id, agent_id, created_at, last_active_at`

// Create inserts a session. Kind is derived from the id when unset.
func (s *SessionStore) Create(ctx context.Context, sess *models.Session) error {
	if sess == nil || sess.ID == "" {
		return fmt.Errorf("session id is required")
	}
	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	if sess.LastActiveAt.IsZero() {
		sess.LastActiveAt = now
	}
	if sess.Kind == "" {
		sess.Kind = models.KindFromSessionID(sess.ID)
	}
	if sess.State == "" {
		sess.State = models.SessionActive
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`) VALUES (?,?,?,?,?,?,?)`,
		sess.ID, sess.Kind, sess.State, sess.ParentSessionID, sess.AgentID,
		sess.CreatedAt, sess.LastActiveAt,
	)
	if isDuplicate(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// Get returns a session by id.
func (s *SessionStore) Get(ctx context.Context, id string) (*models.Session, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// Touch bumps last_active_at.
func (s *SessionStore) Touch(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_active_at = ? WHERE id = ?`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetState transitions a session's lifecycle state.
func (s *SessionStore) SetState(ctx context.Context, id string, state models.SessionState) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET state = ? WHERE id = ?`, state, id)
	if err != nil {
		return fmt.Errorf("set session state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByState returns sessions in a state, least recently active first,
// so prune sweeps see the stalest sessions at the front.
func (s *SessionStore) ListByState(ctx context.Context, state models.SessionState, limit int) ([]*models.Session, error) {
	limit = clampLimit(limit)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE state = ?
		 ORDER BY last_active_at ASC, id ASC LIMIT ?`, state, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// ListIdleSince returns active sessions whose last activity predates the
// cutoff.
func (s *SessionStore) ListIdleSince(ctx context.Context, cutoff time.Time) ([]*models.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE state = ? AND last_active_at < ?
		 ORDER BY last_active_at ASC`, models.SessionActive, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list idle sessions: %w", err)
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Delete removes a session row. The manager wipes working memory first.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSession(row rowScanner) (*models.Session, error) {
	var sess models.Session
	if err := row.Scan(
		&sess.ID, &sess.Kind, &sess.State, &sess.ParentSessionID,
		&sess.AgentID, &sess.CreatedAt, &sess.LastActiveAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return &sess, nil
}
