package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"clinic-frontdesk/pkg"
)

// Repository wraps database operations for the call log.  A single
// postgres database backs it.
type Repository struct {
	DB *sql.DB
}

// NewRepository constructs a new Repository from an existing sql.DB.
// The caller is responsible for managing the DB connection lifecycle.
func NewRepository(db *sql.DB) *Repository { return &Repository{DB: db} }

// CreateCallLog inserts a new call record and returns its row id, which
// doubles as the unique suffix of the call's context key.
func (r *Repository) CreateCallLog(ctx context.Context, e *pkg.CallLogEntry) (int64, error) {
	status := e.Status
	if status == "" {
		status = pkg.StatusInProgress
	}
	var id int64
	err := r.DB.QueryRowContext(ctx,
		`INSERT INTO call_logs (direction, from_number, to_number, status, payload, patient_summary)
         VALUES ($1, $2, $3, $4, $5, $6)
         RETURNING id`,
		e.Direction, e.From, e.To, status, e.Payload, e.PatientSummary,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create call log: %w", err)
	}
	return id, nil
}

// UpdateCallStatus records a status transition and, for terminal
// statuses, stamps received_at and the reported duration via payload.
func (r *Repository) UpdateCallStatus(ctx context.Context, id int64, status pkg.CallStatus, durationSeconds int) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE call_logs
         SET status = $1,
             received_at = CASE WHEN $2 THEN NOW() ELSE received_at END,
             payload = CASE WHEN $3 > 0 THEN jsonb_set(COALESCE(NULLIF(payload, '')::jsonb, '{}'::jsonb), '{duration_seconds}', to_jsonb($3::int))::text ELSE payload END
         WHERE id = $4`,
		status, status != pkg.StatusInProgress, durationSeconds, id,
	)
	if err != nil {
		return fmt.Errorf("update call status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("update call status: no call log with id %d", id)
	}
	return nil
}

// AttachPatientSummary stores the post-call conversation summary on the
// call record.
func (r *Repository) AttachPatientSummary(ctx context.Context, id int64, summary string) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE call_logs SET patient_summary = $1 WHERE id = $2`, summary, id)
	return err
}

// GetCallLog loads one call record by id.
func (r *Repository) GetCallLog(ctx context.Context, id int64) (*pkg.CallLogEntry, error) {
	var e pkg.CallLogEntry
	var payload, summary sql.NullString
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, direction, from_number, to_number, status, sent_at, received_at, payload, patient_summary
         FROM call_logs WHERE id = $1`, id,
	).Scan(&e.ID, &e.Direction, &e.From, &e.To, &e.Status, &e.SentAt, &e.ReceivedAt, &payload, &summary)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("no call log with id %d", id)
		}
		return nil, err
	}
	e.Payload = payload.String
	e.PatientSummary = summary.String
	return &e, nil
}

// ListRecentCalls returns the most recent call records, newest first.
func (r *Repository) ListRecentCalls(ctx context.Context, limit int) ([]pkg.CallLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, direction, from_number, to_number, status, sent_at, received_at, payload, patient_summary
         FROM call_logs ORDER BY sent_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []pkg.CallLogEntry
	for rows.Next() {
		var e pkg.CallLogEntry
		var payload, summary sql.NullString
		if err := rows.Scan(&e.ID, &e.Direction, &e.From, &e.To, &e.Status, &e.SentAt, &e.ReceivedAt, &payload, &summary); err != nil {
			return nil, err
		}
		e.Payload = payload.String
		e.PatientSummary = summary.String
		out = append(out, e)
	}
	return out, rows.Err()
}
