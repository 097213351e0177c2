package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Job outcome values recorded in the registry.
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"
	OutcomeOverlap   = "overlap"
	OutcomeDisabled  = "disabled"
)

// GetJobRecord returns the registry row for a job, or nil if the job has
// never run.
func (s *Service) GetJobRecord(ctx context.Context, id string) (*JobRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, last_start, last_end, outcome, retries, next_run FROM jobs WHERE id = ?`, id)

	var (
		rec                JobRecord
		lastStart, lastEnd sql.NullString
		outcome            sql.NullString
		nextRun            sql.NullString
	)
	err := row.Scan(&rec.ID, &lastStart, &lastEnd, &outcome, &rec.Retries, &nextRun)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job record: %w", err)
	}
	rec.LastStart = parseTimePtr(lastStart)
	rec.LastEnd = parseTimePtr(lastEnd)
	if outcome.Valid {
		rec.Outcome = outcome.String
	}
	rec.NextRun = parseTimePtr(nextRun)
	return &rec, nil
}

// RecordJobStart marks a job as started now.
func (s *Service) RecordJobStart(ctx context.Context, id string, start time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, last_start, last_end, outcome, retries)
		VALUES (?, ?, NULL, NULL, 0)
		ON CONFLICT(id) DO UPDATE SET last_start = excluded.last_start,
			last_end = NULL, outcome = NULL, retries = 0`,
		id, formatTime(start))
	if err != nil {
		return fmt.Errorf("failed to record job start: %w", err)
	}
	return nil
}

// RecordJobEnd marks a job as finished with the given outcome and transient
// retry count.
func (s *Service) RecordJobEnd(ctx context.Context, id string, end time.Time, outcome string, retries int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, last_end, outcome, retries)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET last_end = excluded.last_end,
			outcome = excluded.outcome, retries = excluded.retries`,
		id, formatTime(end), outcome, retries)
	if err != nil {
		return fmt.Errorf("failed to record job end: %w", err)
	}
	return nil
}

// RecordJobOutcome writes only the outcome for a job (overlap, disabled)
// without touching its run timestamps.
func (s *Service) RecordJobOutcome(ctx context.Context, id, outcome string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, outcome) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET outcome = excluded.outcome`,
		id, outcome)
	if err != nil {
		return fmt.Errorf("failed to record job outcome: %w", err)
	}
	return nil
}

// RecordJobNextRun stores the next scheduled firing time.
func (s *Service) RecordJobNextRun(ctx context.Context, id string, next time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, next_run) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET next_run = excluded.next_run`,
		id, formatTime(next))
	if err != nil {
		return fmt.Errorf("failed to record job next run: %w", err)
	}
	return nil
}
