// Package promptqueue schedules vision-LLM prompt work: generating swap
// prompts from reference and target images, and enhancing prompts the user
// already has. Claims go through the relational store, so any number of
// instances can run the loop without double-processing.
package promptqueue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/faults"
	"server/internal/metrics"
	"server/internal/providers/vision"
	"server/internal/store"
)

// Store is the slice of the data layer the queue needs.
type Store interface {
	InsertPromptJob(ctx context.Context, p store.NewPromptJobParams) (string, error)
	ClaimPromptJobs(ctx context.Context, limit int) ([]*domain.PromptGenerationJob, error)
	CompletePromptJob(ctx context.Context, id, text string) error
	FailPromptJob(ctx context.Context, id, categorizedError string) error
	RetryPromptJob(ctx context.Context, id, lastError string, backoff time.Duration) error
	RequeueStuckPromptJobs(ctx context.Context, stuckAfter time.Duration) ([]string, error)
	FailExhaustedStuckPromptJobs(ctx context.Context, stuckAfter time.Duration, reason string) ([]string, error)
	BoostAgedPromptJobs(ctx context.Context, olderThan time.Duration, priority int) error
	FailAncientPromptJobs(ctx context.Context, olderThan time.Duration, reason string) ([]string, error)
	CompleteDependentJobs(ctx context.Context, promptJobID, text string) (int64, error)
	FailDependentJobs(ctx context.Context, promptJobID, categorizedError string) (int64, error)
	CountQueuedPromptJobs(ctx context.Context) (int, error)
}

// LLM produces prompt text from images.
type LLM interface {
	GeneratePrompt(ctx context.Context, req vision.GenerateRequest) (string, error)
	EnhancePrompt(ctx context.Context, req vision.EnhanceRequest) (string, error)
}

// Config carries the queue tunables.
type Config struct {
	Tick        time.Duration
	BatchSize   int
	CallTimeout time.Duration
	MaxRetries  int
}

// Recovery thresholds. Processing claims that never completed are returned to
// the queue; jobs past the ceiling are abandoned outright. stuckAfter must
// exceed the LLM call timeout or in-flight calls get requeued under them.
const (
	stuckAfter    = 30 * time.Minute
	boostAfter    = time.Hour
	boostPriority = 10
	ancientAfter  = 24 * time.Hour

	fastRetryBase = 5 * time.Second
	slowRetryBase = 30 * time.Second
	maxRetryDelay = 10 * time.Minute
)

// Queue runs the prompt scheduler.
type Queue struct {
	store  Store
	llm    LLM
	logger zerolog.Logger
	cfg    Config

	// Single-flight guard: overlapping ticks collapse into one scan.
	scanning atomic.Bool
	wake     chan struct{}
	now      func() time.Time
}

func New(st Store, llm LLM, logger zerolog.Logger, cfg Config) *Queue {
	if cfg.Tick <= 0 {
		cfg.Tick = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 3
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 25 * time.Minute
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Queue{
		store:  st,
		llm:    llm,
		logger: logger.With().Str("component", "prompt_queue").Logger(),
		cfg:    cfg,
		wake:   make(chan struct{}, 1),
		now:    time.Now,
	}
}

// EnqueueParams is the caller-facing enqueue payload.
type EnqueueParams struct {
	ReferenceURLs    []string
	TargetURL        string
	ExistingPrompt   string
	UserInstructions string
	SwapMode         string
	Priority         int
}

// EnqueueGeneration queues a generate-from-images prompt job.
func (q *Queue) EnqueueGeneration(ctx context.Context, p EnqueueParams) (string, error) {
	id, err := q.store.InsertPromptJob(ctx, store.NewPromptJobParams{
		Operation:     domain.PromptOpGenerate,
		ReferenceURLs: p.ReferenceURLs,
		TargetURL:     p.TargetURL,
		SwapMode:      p.SwapMode,
		Priority:      p.Priority,
		MaxRetries:    q.cfg.MaxRetries,
	})
	if err != nil {
		return "", err
	}
	q.Wake()
	return id, nil
}

// EnqueueEnhancement queues an enhance-existing-prompt job.
func (q *Queue) EnqueueEnhancement(ctx context.Context, p EnqueueParams) (string, error) {
	id, err := q.store.InsertPromptJob(ctx, store.NewPromptJobParams{
		Operation:        domain.PromptOpEnhance,
		ReferenceURLs:    p.ReferenceURLs,
		TargetURL:        p.TargetURL,
		ExistingPrompt:   p.ExistingPrompt,
		UserInstructions: p.UserInstructions,
		SwapMode:         p.SwapMode,
		Priority:         p.Priority,
		MaxRetries:       q.cfg.MaxRetries,
	})
	if err != nil {
		return "", err
	}
	q.Wake()
	return id, nil
}

// Wake requests an immediate scan without waiting for the ticker.
func (q *Queue) Wake() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Run ticks until ctx is cancelled. Call from a dedicated goroutine.
func (q *Queue) Run(ctx context.Context) {
	ticker := time.NewTicker(q.cfg.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-q.wake:
		}
		q.runScan(ctx)
	}
}

// runScan performs one recovery-then-drain pass. Re-entrant calls no-op.
func (q *Queue) runScan(ctx context.Context) {
	if !q.scanning.CompareAndSwap(false, true) {
		return
	}
	defer q.scanning.Store(false)
	metrics.PromptQueueTicks.Inc()

	q.recoveryPass(ctx)

	if depth, err := q.store.CountQueuedPromptJobs(ctx); err == nil {
		metrics.PromptQueueDepth.Set(float64(depth))
	}

	for {
		batch, err := q.store.ClaimPromptJobs(ctx, q.cfg.BatchSize)
		if err != nil {
			q.logger.Error().Err(err).Msg("claim prompt jobs failed")
			return
		}
		if len(batch) == 0 {
			return
		}
		var wg sync.WaitGroup
		for _, pj := range batch {
			pj := pj
			wg.Add(1)
			go func() {
				defer wg.Done()
				q.processJob(ctx, pj)
			}()
		}
		wg.Wait()
		// A short batch means the queue is drained.
		if len(batch) < q.cfg.BatchSize {
			return
		}
	}
}

// recoveryPass rescues claims orphaned by crashes and ages out hopeless work.
// Everything here is best-effort.
func (q *Queue) recoveryPass(ctx context.Context) {
	if ids, err := q.store.RequeueStuckPromptJobs(ctx, stuckAfter); err != nil {
		q.logger.Warn().Err(err).Msg("requeue stuck prompt jobs failed")
	} else if len(ids) > 0 {
		q.logger.Info().Int("jobs", len(ids)).Msg("requeued stuck prompt jobs")
	}

	reason := faults.Wrap(faults.PromptGenerationFailed, "retries exhausted while stuck")
	if ids, err := q.store.FailExhaustedStuckPromptJobs(ctx, stuckAfter, reason); err != nil {
		q.logger.Warn().Err(err).Msg("fail exhausted prompt jobs failed")
	} else {
		q.propagateFailures(ctx, ids, reason)
	}

	if err := q.store.BoostAgedPromptJobs(ctx, boostAfter, boostPriority); err != nil {
		q.logger.Warn().Err(err).Msg("boost aged prompt jobs failed")
	}

	ancientReason := faults.Wrap(faults.Timeout, "stuck in queue for 24+ hours")
	if ids, err := q.store.FailAncientPromptJobs(ctx, ancientAfter, ancientReason); err != nil {
		q.logger.Warn().Err(err).Msg("fail ancient prompt jobs failed")
	} else {
		q.propagateFailures(ctx, ids, ancientReason)
	}
}

func (q *Queue) propagateFailures(ctx context.Context, promptJobIDs []string, reason string) {
	for _, id := range promptJobIDs {
		n, err := q.store.FailDependentJobs(ctx, id, reason)
		if err != nil {
			q.logger.Warn().Err(err).Str("prompt_job_id", id).Msg("fail dependent jobs failed")
			continue
		}
		if n > 0 {
			q.logger.Info().Str("prompt_job_id", id).Int64("jobs", n).Msg("failed dependent generation jobs")
		}
	}
}

// processJob runs one LLM call with its own timeout and records the outcome.
func (q *Queue) processJob(ctx context.Context, pj *domain.PromptGenerationJob) {
	callCtx, cancel := context.WithTimeout(ctx, q.cfg.CallTimeout)
	defer cancel()

	var text string
	var err error
	switch pj.Operation {
	case domain.PromptOpEnhance:
		text, err = q.llm.EnhancePrompt(callCtx, vision.EnhanceRequest{
			ExistingPrompt:   pj.ExistingPrompt,
			UserInstructions: pj.UserInstructions,
			ReferenceURLs:    pj.ReferenceURLs,
			TargetURL:        pj.TargetURL,
			SwapMode:         pj.SwapMode,
		})
	default:
		text, err = q.llm.GeneratePrompt(callCtx, vision.GenerateRequest{
			ReferenceURLs: pj.ReferenceURLs,
			TargetURL:     pj.TargetURL,
			SwapMode:      pj.SwapMode,
		})
	}
	if err != nil {
		q.handleFailure(ctx, pj, err)
		return
	}

	if err := q.store.CompletePromptJob(ctx, pj.ID, text); err != nil {
		q.logger.Error().Err(err).Str("prompt_job_id", pj.ID).Msg("complete prompt job failed")
		return
	}
	if n, err := q.store.CompleteDependentJobs(ctx, pj.ID, text); err != nil {
		q.logger.Warn().Err(err).Str("prompt_job_id", pj.ID).Msg("complete dependent jobs failed")
	} else if n > 0 {
		q.logger.Info().Str("prompt_job_id", pj.ID).Int64("jobs", n).Msg("spliced prompt into waiting jobs")
	}
	metrics.PromptJobsProcessed.WithLabelValues("completed").Inc()
}

func (q *Queue) handleFailure(ctx context.Context, pj *domain.PromptGenerationJob, callErr error) {
	cat := faults.ClassifyError(callErr)
	stored := faults.Wrap(cat, callErr.Error())

	if pj.RetriesLeft() {
		delay := retryDelay(cat, pj.RetryCount)
		if err := q.store.RetryPromptJob(ctx, pj.ID, stored, delay); err != nil {
			q.logger.Error().Err(err).Str("prompt_job_id", pj.ID).Msg("schedule retry failed")
			return
		}
		// Re-scan once the backoff expires rather than waiting for luck.
		time.AfterFunc(delay+time.Second, q.Wake)
		metrics.PromptJobsProcessed.WithLabelValues("retried").Inc()
		q.logger.Warn().Err(callErr).Str("prompt_job_id", pj.ID).Dur("backoff", delay).Msg("prompt job retry scheduled")
		return
	}

	if err := q.store.FailPromptJob(ctx, pj.ID, stored); err != nil {
		q.logger.Error().Err(err).Str("prompt_job_id", pj.ID).Msg("fail prompt job failed")
		return
	}
	q.propagateFailures(ctx, []string{pj.ID}, faults.Wrap(faults.PromptGenerationFailed, callErr.Error()))
	metrics.PromptJobsProcessed.WithLabelValues("failed").Inc()
	q.logger.Error().Err(callErr).Str("prompt_job_id", pj.ID).Msg("prompt job failed permanently")
}

// retryDelay backs off exponentially per attempt. Timeouts and network blips
// retry sooner than semantic failures, which rarely fix themselves quickly.
func retryDelay(cat faults.Category, attempt int) time.Duration {
	base := slowRetryBase
	if cat == faults.Timeout || cat == faults.NetworkError {
		base = fastRetryBase
	}
	delay := base << attempt
	if delay > maxRetryDelay || delay <= 0 {
		delay = maxRetryDelay
	}
	return delay
}
