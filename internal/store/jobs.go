package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/sqlinline"
)

// ErrJobNotFound is returned when a job id resolves to no row.
var ErrJobNotFound = errors.New("store: job not found")

// NewJobParams captures the insert payload for a generation job. Exactly one
// of RowID and VariantRowID must be set.
type NewJobParams struct {
	RowID        string
	VariantRowID string
	TeamID       string
	Payload      domain.RequestPayload
	PromptJobID  string
}

// InsertJob enqueues a generation job and returns its id.
func (s *Store) InsertJob(ctx context.Context, p NewJobParams) (string, error) {
	if (p.RowID == "") == (p.VariantRowID == "") {
		return "", errors.New("store: exactly one of row id and variant row id is required")
	}
	payload, err := json.Marshal(p.Payload)
	if err != nil {
		return "", fmt.Errorf("store: encode payload: %w", err)
	}
	row := s.sql.QueryRow(ctx, sqlinline.QInsertJob,
		nullable(p.RowID), nullable(p.VariantRowID), p.TeamID, payload, p.PromptJobID)
	var id string
	if err := row.Scan(&id); err != nil {
		return "", fmt.Errorf("store: insert job: %w", err)
	}
	return id, nil
}

// GetJob loads a single job by id.
func (s *Store) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QGetJob, id)
	job, err := scanJob(row)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("store: get job: %w", err)
	}
	return job, nil
}

// ClaimJobsWithCapacity atomically claims up to the remaining capacity of
// queued jobs, flipping them to submitted. Safe under concurrent dispatchers.
func (s *Store) ClaimJobsWithCapacity(ctx context.Context, maxConcurrency int, activeWindow time.Duration) ([]*domain.Job, error) {
	rows, err := s.sql.Query(ctx, sqlinline.QClaimJobsWithCapacity, maxConcurrency, activeWindow.Milliseconds())
	if err != nil {
		return nil, fmt.Errorf("store: claim jobs: %w", err)
	}
	defer rows.Close()
	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan claimed job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: claim jobs: %w", err)
	}
	return jobs, nil
}

// SetJobSubmitted records the provider-assigned request id.
func (s *Store) SetJobSubmitted(ctx context.Context, id, providerRequestID string) error {
	_, err := s.sql.Exec(ctx, sqlinline.QSetJobSubmitted, id, providerRequestID)
	return err
}

// SetJobRunning promotes a submitted job once the provider reports progress.
func (s *Store) SetJobRunning(ctx context.Context, id string) error {
	_, err := s.sql.Exec(ctx, sqlinline.QSetJobRunning, id)
	return err
}

// RequeueJob returns a claimed job to the queue, e.g. while its prompt is
// still being generated.
func (s *Store) RequeueJob(ctx context.Context, id string) error {
	_, err := s.sql.Exec(ctx, sqlinline.QRequeueJob, id)
	return err
}

// FailJob terminally fails a job with a categorized error string. Already
// terminal jobs are left untouched.
func (s *Store) FailJob(ctx context.Context, id, categorizedError string) error {
	_, err := s.sql.Exec(ctx, sqlinline.QFailJob, id, categorizedError)
	return err
}

// BeginSaving performs the finalize CAS. It returns false when another
// finalizer already claimed the job, in which case the caller must treat the
// job as already succeeded.
func (s *Store) BeginSaving(ctx context.Context, id string) (bool, error) {
	tag, err := s.sql.Exec(ctx, sqlinline.QBeginSaving, id)
	if err != nil {
		return false, fmt.Errorf("store: begin saving: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// SetJobSucceeded marks a job terminally succeeded.
func (s *Store) SetJobSucceeded(ctx context.Context, id string) error {
	_, err := s.sql.Exec(ctx, sqlinline.QSetJobSucceeded, id)
	return err
}

// SpliceJobPrompt writes generated prompt text into the stored payload and
// resolves the dependency link.
func (s *Store) SpliceJobPrompt(ctx context.Context, id, prompt string) error {
	_, err := s.sql.Exec(ctx, sqlinline.QSpliceJobPrompt, id, prompt)
	return err
}

// QueuePosition counts queued or submitted jobs in the same team created
// before the given instant.
func (s *Store) QueuePosition(ctx context.Context, teamID string, createdAt time.Time) (int, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QQueuePosition, teamID, createdAt)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("store: queue position: %w", err)
	}
	return n, nil
}

// ListUnfinishedJobIDs returns ids of jobs that still need polling.
func (s *Store) ListUnfinishedJobIDs(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.sql.Query(ctx, sqlinline.QListUnfinishedJobIDs, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list unfinished: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Cleanup fail-paths. Callers treat errors as best-effort.

func (s *Store) FailJobsMissingProviderID(ctx context.Context, olderThan time.Duration, reason string) (int64, error) {
	tag, err := s.sql.Exec(ctx, sqlinline.QFailJobsMissingProviderID, olderThan.Milliseconds(), reason)
	return tag.RowsAffected(), err
}

func (s *Store) FailStaleJobs(ctx context.Context, ceiling time.Duration, reason string) (int64, error) {
	tag, err := s.sql.Exec(ctx, sqlinline.QFailStaleJobs, ceiling.Milliseconds(), reason)
	return tag.RowsAffected(), err
}

func (s *Store) FailStuckQueuedJobs(ctx context.Context, olderThan time.Duration, reason string) (int64, error) {
	tag, err := s.sql.Exec(ctx, sqlinline.QFailStuckQueuedJobs, olderThan.Milliseconds(), reason)
	return tag.RowsAffected(), err
}

// CompleteDependentJobs splices the generated text into every dependent job
// still in flight and resolves their prompt links.
func (s *Store) CompleteDependentJobs(ctx context.Context, promptJobID, text string) (int64, error) {
	tag, err := s.sql.Exec(ctx, sqlinline.QCompleteDependentJobs, promptJobID, text)
	return tag.RowsAffected(), err
}

// FailDependentJobs fails every dependent job with the propagated message.
func (s *Store) FailDependentJobs(ctx context.Context, promptJobID, categorizedError string) (int64, error) {
	tag, err := s.sql.Exec(ctx, sqlinline.QFailDependentJobs, promptJobID, categorizedError)
	return tag.RowsAffected(), err
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		j       domain.Job
		payload []byte
	)
	if err := row.Scan(
		&j.ID, &j.RowID, &j.VariantRowID, &j.TeamID, &j.Status, &payload,
		&j.ProviderRequestID, &j.PromptJobID, &j.PromptStatus, &j.ErrorMessage,
		&j.CreatedAt, &j.UpdatedAt,
	); err != nil {
		return nil, err
	}
	decoded, err := domain.DecodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("decode request payload: %w", err)
	}
	j.RequestPayload = decoded
	return &j, nil
}

// nullable maps "" to NULL for uuid columns.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
