package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aria-ai/aria/pkg/models"
)

// InvocationStore is the append-only skill invocation audit trail.
type InvocationStore struct {
	db *sql.DB
}

const invocationColumns = `id, skill, tool, args_hash, success, latency_ms,
	tokens, error, session_id, started_at, ended_at`

// Record appends one audit row.
func (s *InvocationStore) Record(ctx context.Context, inv *models.SkillInvocation) error {
	if inv == nil || inv.Skill == "" || inv.Tool == "" {
		return fmt.Errorf("invocation skill and tool are required")
	}
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO skill_invocations (`+invocationColumns+`)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		inv.ID, inv.Skill, inv.Tool, inv.ArgsHash, inv.Success, inv.LatencyMS,
		inv.Tokens, inv.Error, inv.SessionID, inv.StartedAt, inv.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("record invocation: %w", err)
	}
	return nil
}

// RecordBatch appends rows in one transaction. The audit flusher calls
// this; a failed batch is retried whole.
func (s *InvocationStore) RecordBatch(ctx context.Context, invs []*models.SkillInvocation) error {
	if len(invs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO skill_invocations (`+invocationColumns+`)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("record batch: %w", err)
	}
	defer stmt.Close()

	for _, inv := range invs {
		if inv.ID == "" {
			inv.ID = uuid.NewString()
		}
		if _, err := stmt.ExecContext(ctx,
			inv.ID, inv.Skill, inv.Tool, inv.ArgsHash, inv.Success,
			inv.LatencyMS, inv.Tokens, inv.Error, inv.SessionID,
			inv.StartedAt, inv.EndedAt,
		); err != nil {
			return fmt.Errorf("record batch: %w", err)
		}
	}
	return tx.Commit()
}

// ListRecent returns the newest invocations for a skill. Empty skill
// matches all.
func (s *InvocationStore) ListRecent(ctx context.Context, skill string, limit int) ([]*models.SkillInvocation, error) {
	limit = clampLimit(limit)
	query := `SELECT ` + invocationColumns + ` FROM skill_invocations`
	var args []any
	if skill != "" {
		query += ` WHERE skill = ?`
		args = append(args, skill)
	}
	query += ` ORDER BY started_at DESC, id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list invocations: %w", err)
	}
	defer rows.Close()

	var out []*models.SkillInvocation
	for rows.Next() {
		var inv models.SkillInvocation
		if err := rows.Scan(
			&inv.ID, &inv.Skill, &inv.Tool, &inv.ArgsHash, &inv.Success,
			&inv.LatencyMS, &inv.Tokens, &inv.Error, &inv.SessionID,
			&inv.StartedAt, &inv.EndedAt,
		); err != nil {
			return nil, fmt.Errorf("scan invocation: %w", err)
		}
		out = append(out, &inv)
	}
	return out, rows.Err()
}

// Stats summarizes recent invocations for one skill or agent model.
type Stats struct {
	Count      int
	Successes  int
	AvgLatency time.Duration
	TotalCost  float64
}

// RecentStats aggregates the newest n invocations for a skill.
func (s *InvocationStore) RecentStats(ctx context.Context, skill string, n int) (Stats, error) {
	invs, err := s.ListRecent(ctx, skill, n)
	if err != nil {
		return Stats{}, err
	}
	var st Stats
	var totalMS int64
	for _, inv := range invs {
		st.Count++
		if inv.Success {
			st.Successes++
		}
		totalMS += inv.LatencyMS
	}
	if st.Count > 0 {
		st.AvgLatency = time.Duration(totalMS/int64(st.Count)) * time.Millisecond
	}
	return st, nil
}

// PruneOlderThan deletes audit rows past the retention horizon.
func (s *InvocationStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM skill_invocations WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune invocations: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
