package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aria-ai/aria/pkg/models"
)

// JobStore persists heartbeat job state and run idempotency markers.
type JobStore struct {
	db *sql.DB
}

// UpsertState writes a job's operational record. The scheduler calls
// this at sync (schedule, delivery, enabled) and after each run.
func (s *JobStore) UpsertState(ctx context.Context, js *models.JobState) error {
	if js == nil || js.JobID == "" {
		return fmt.Errorf("job id is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_state (job_id, schedule, command, delivery, enabled, last_run_at, last_error)
		 VALUES (?,?,?,?,?,?,?)
		 ON CONFLICT(job_id) DO UPDATE SET
		   schedule = excluded.schedule,
		   command = excluded.command,
		   delivery = excluded.delivery,
		   enabled = excluded.enabled,
		   last_run_at = excluded.last_run_at,
		   last_error = excluded.last_error`,
		js.JobID, js.Schedule, js.Command, js.Delivery, js.Enabled,
		nullableTime(js.LastRunAt), js.LastError,
	)
	if err != nil {
		return fmt.Errorf("upsert job state: %w", err)
	}
	return nil
}

// GetState returns a job's operational record.
func (s *JobStore) GetState(ctx context.Context, jobID string) (*models.JobState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT job_id, schedule, command, delivery, enabled, last_run_at, last_error
		 FROM job_state WHERE job_id = ?`, jobID)
	return scanJobState(row)
}

// ListStates returns every job record ordered by id.
func (s *JobStore) ListStates(ctx context.Context) ([]*models.JobState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, schedule, command, delivery, enabled, last_run_at, last_error
		 FROM job_state ORDER BY job_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list job states: %w", err)
	}
	defer rows.Close()

	var out []*models.JobState
	for rows.Next() {
		js, err := scanJobState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, js)
	}
	return out, rows.Err()
}

// DeleteState removes a job no longer present in the jobs file.
func (s *JobStore) DeleteState(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM job_state WHERE job_id = ?`, jobID)
	if err != nil {
		return fmt.Errorf("delete job state: %w", err)
	}
	return nil
}

// ClaimRun records a run for (job, minute bucket). The second claim for
// the same bucket returns false, which is how restarts and overlapping
// schedulers get at-most-once dispatch.
func (s *JobStore) ClaimRun(ctx context.Context, jobID string, minute time.Time) (bool, error) {
	bucket := minute.UTC().Truncate(time.Minute).Format("2006-01-02T15:04")
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_runs (job_id, minute, ran_at) VALUES (?,?,?)`,
		jobID, bucket, time.Now().UTC())
	if isDuplicate(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim run: %w", err)
	}
	return true, nil
}

// PruneRuns deletes idempotency markers older than the cutoff.
func (s *JobStore) PruneRuns(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM job_runs WHERE ran_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune job runs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func scanJobState(row rowScanner) (*models.JobState, error) {
	var js models.JobState
	var lastRun sql.NullTime
	if err := row.Scan(
		&js.JobID, &js.Schedule, &js.Command, &js.Delivery, &js.Enabled,
		&lastRun, &js.LastError,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan job state: %w", err)
	}
	if lastRun.Valid {
		js.LastRunAt = lastRun.Time
	}
	return &js, nil
}
