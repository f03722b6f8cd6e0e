package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/sqlinline"
)

// ErrPromptJobNotFound is returned when a prompt job id resolves to no row.
var ErrPromptJobNotFound = errors.New("store: prompt job not found")

// NewPromptJobParams captures the insert payload for a prompt job.
type NewPromptJobParams struct {
	Operation        domain.PromptOperation
	ReferenceURLs    []string
	TargetURL        string
	ExistingPrompt   string
	UserInstructions string
	SwapMode         string
	Priority         int
	MaxRetries       int
}

// InsertPromptJob enqueues prompt-text work and returns its id.
func (s *Store) InsertPromptJob(ctx context.Context, p NewPromptJobParams) (string, error) {
	refs := p.ReferenceURLs
	if refs == nil {
		refs = []string{}
	}
	row := s.sql.QueryRow(ctx, sqlinline.QInsertPromptJob,
		string(p.Operation), refs, p.TargetURL, p.ExistingPrompt,
		p.UserInstructions, p.SwapMode, p.Priority, p.MaxRetries)
	var id string
	if err := row.Scan(&id); err != nil {
		return "", fmt.Errorf("store: insert prompt job: %w", err)
	}
	return id, nil
}

// GetPromptJob loads one prompt job by id.
func (s *Store) GetPromptJob(ctx context.Context, id string) (*domain.PromptGenerationJob, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QGetPromptJob, id)
	job, err := scanPromptJob(row)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, ErrPromptJobNotFound
		}
		return nil, fmt.Errorf("store: get prompt job: %w", err)
	}
	return job, nil
}

// ClaimPromptJobs atomically claims a batch, priority-ordered with an
// oldest-first tiebreak, skipping jobs inside their backoff window.
func (s *Store) ClaimPromptJobs(ctx context.Context, limit int) ([]*domain.PromptGenerationJob, error) {
	rows, err := s.sql.Query(ctx, sqlinline.QClaimPromptJobs, limit)
	if err != nil {
		return nil, fmt.Errorf("store: claim prompt jobs: %w", err)
	}
	defer rows.Close()
	var jobs []*domain.PromptGenerationJob
	for rows.Next() {
		job, err := scanPromptJob(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan claimed prompt job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: claim prompt jobs: %w", err)
	}
	return jobs, nil
}

// CompletePromptJob stores the generated text on a processing job.
func (s *Store) CompletePromptJob(ctx context.Context, id, text string) error {
	_, err := s.sql.Exec(ctx, sqlinline.QCompletePromptJob, id, text)
	return err
}

// FailPromptJob terminally fails a prompt job.
func (s *Store) FailPromptJob(ctx context.Context, id, categorizedError string) error {
	_, err := s.sql.Exec(ctx, sqlinline.QFailPromptJob, id, categorizedError)
	return err
}

// RetryPromptJob requeues a processing job with an incremented retry count
// and a backoff window.
func (s *Store) RetryPromptJob(ctx context.Context, id, lastError string, backoff time.Duration) error {
	_, err := s.sql.Exec(ctx, sqlinline.QRetryPromptJob, id, lastError, backoff.Milliseconds())
	return err
}

// CountQueuedPromptJobs reports the current queue depth.
func (s *Store) CountQueuedPromptJobs(ctx context.Context) (int, error) {
	var n int
	if err := s.sql.QueryRow(ctx, sqlinline.QCountQueuedPromptJobs).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count queued prompt jobs: %w", err)
	}
	return n, nil
}

// Recovery pass, once per scheduler tick.

func (s *Store) RequeueStuckPromptJobs(ctx context.Context, stuckAfter time.Duration) ([]string, error) {
	return s.execReturningIDs(ctx, sqlinline.QRequeueStuckPromptJobs, stuckAfter.Milliseconds())
}

func (s *Store) FailExhaustedStuckPromptJobs(ctx context.Context, stuckAfter time.Duration, reason string) ([]string, error) {
	return s.execReturningIDs(ctx, sqlinline.QFailExhaustedStuckPromptJobs, stuckAfter.Milliseconds(), reason)
}

func (s *Store) BoostAgedPromptJobs(ctx context.Context, olderThan time.Duration, priority int) error {
	_, err := s.sql.Exec(ctx, sqlinline.QBoostAgedPromptJobs, olderThan.Milliseconds(), priority)
	return err
}

func (s *Store) FailAncientPromptJobs(ctx context.Context, olderThan time.Duration, reason string) ([]string, error) {
	return s.execReturningIDs(ctx, sqlinline.QFailAncientPromptJobs, olderThan.Milliseconds(), reason)
}

func (s *Store) execReturningIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.sql.Query(ctx, query, args...)
	if err != nil {
		return nil, err
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

func scanPromptJob(row pgx.Row) (*domain.PromptGenerationJob, error) {
	var j domain.PromptGenerationJob
	if err := row.Scan(
		&j.ID, &j.Operation, &j.ReferenceURLs, &j.TargetURL, &j.ExistingPrompt,
		&j.UserInstructions, &j.SwapMode, &j.Status, &j.Priority, &j.RetryCount,
		&j.MaxRetries, &j.GeneratedPrompt, &j.ErrorMessage,
		&j.CreatedAt, &j.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &j, nil
}
