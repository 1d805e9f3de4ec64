package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/atlasfin/atlas/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			job_id TEXT PRIMARY KEY,
			request TEXT NOT NULL,
			status TEXT NOT NULL,
			session TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			ended_at DATETIME,
			result TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON jobs(status, created_at)`,
		`CREATE TABLE IF NOT EXISTS job_events (
			job_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			ts INTEGER NOT NULL,
			type TEXT NOT NULL,
			payload TEXT,
			PRIMARY KEY (job_id, seq),
			FOREIGN KEY (job_id) REFERENCES jobs(job_id)
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateJob assigns a fresh id and queued status.
func (s *SQLiteStore) CreateJob(ctx context.Context, req domain.JobRequest) (*domain.Job, error) {
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job request: %w", err)
	}

	job := &domain.Job{
		JobID:     "job_" + uuid.New().String()[:8],
		Request:   req,
		Status:    domain.JobStatusQueued,
		CreatedAt: time.Now(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (job_id, request, status, created_at) VALUES (?, ?, ?, ?)`,
		job.JobID, string(reqJSON), job.Status, job.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert job: %w", err)
	}
	return job, nil
}

// GetJob returns a job or ErrNotFound.
func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT job_id, request, status, session, created_at, ended_at, result FROM jobs WHERE job_id = ?`,
		jobID,
	)
	return scanJob(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var job domain.Job
	var reqJSON string
	var session sql.NullString
	var endedAt sql.NullTime
	var result sql.NullString

	err := row.Scan(&job.JobID, &reqJSON, &job.Status, &session, &job.CreatedAt, &endedAt, &result)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	if err := json.Unmarshal([]byte(reqJSON), &job.Request); err != nil {
		return nil, fmt.Errorf("failed to decode job request: %w", err)
	}
	if session.Valid {
		job.Session = session.String
	}
	if endedAt.Valid {
		job.EndedAt = &endedAt.Time
	}
	if result.Valid && result.String != "" {
		var envelope domain.ResultEnvelope
		if err := json.Unmarshal([]byte(result.String), &envelope); err != nil {
			return nil, fmt.Errorf("failed to decode result envelope: %w", err)
		}
		job.Result = &envelope
	}
	return &job, nil
}

// ListJobs returns jobs, newest first, optionally filtered by status.
func (s *SQLiteStore) ListJobs(ctx context.Context, status domain.JobStatus) ([]domain.Job, error) {
	query := `SELECT job_id, request, status, session, created_at, ended_at, result FROM jobs`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// SetJobSession records the sandbox session assigned to a job.
func (s *SQLiteStore) SetJobSession(ctx context.Context, jobID, session string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET session = ? WHERE job_id = ?`, session, jobID)
	if err != nil {
		return fmt.Errorf("failed to set job session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Transition moves a job along the status lattice inside one transaction, so
// concurrent writers serialize per job id.
func (s *SQLiteStore) Transition(ctx context.Context, jobID string, next domain.JobStatus, envelope *domain.ResultEnvelope) error {
	if next.Terminal() && envelope == nil {
		return fmt.Errorf("terminal transition to %s requires a result envelope", next)
	}
	if !next.Terminal() && envelope != nil {
		return fmt.Errorf("non-terminal transition to %s must not carry a result envelope", next)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current domain.JobStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM jobs WHERE job_id = ?`, jobID).Scan(&current)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read job status: %w", err)
	}

	if !current.CanTransition(next) {
		return &InvalidTransitionError{JobID: jobID, From: current, To: next}
	}

	if next.Terminal() {
		resultJSON, err := json.Marshal(envelope)
		if err != nil {
			return fmt.Errorf("failed to encode result envelope: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE jobs SET status = ?, ended_at = ?, result = ? WHERE job_id = ?`,
			next, time.Now(), string(resultJSON), jobID,
		)
		if err != nil {
			return fmt.Errorf("failed to update job: %w", err)
		}
	} else {
		_, err = tx.ExecContext(ctx, `UPDATE jobs SET status = ? WHERE job_id = ?`, next, jobID)
		if err != nil {
			return fmt.Errorf("failed to update job: %w", err)
		}
	}

	return tx.Commit()
}

// AppendEvent records a progress event with the next per-job sequence number.
func (s *SQLiteStore) AppendEvent(ctx context.Context, jobID string, typ domain.JobEventType, payload json.RawMessage) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM job_events WHERE job_id = ?`, jobID,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to compute event sequence: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO job_events (job_id, seq, ts, type, payload) VALUES (?, ?, ?, ?, ?)`,
		jobID, seq, time.Now().UnixMilli(), typ, string(payload),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return seq, nil
}

// ListEvents returns events with seq greater than afterSeq, in order.
func (s *SQLiteStore) ListEvents(ctx context.Context, jobID string, afterSeq int64) ([]domain.JobEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, seq, ts, type, payload FROM job_events WHERE job_id = ? AND seq > ? ORDER BY seq`,
		jobID, afterSeq,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []domain.JobEvent
	for rows.Next() {
		var ev domain.JobEvent
		var payload sql.NullString
		if err := rows.Scan(&ev.JobID, &ev.Seq, &ev.Ts, &ev.Type, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if payload.Valid {
			ev.Payload = json.RawMessage(payload.String)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
