// Package dispatch claims capacity-bounded batches of generation jobs,
// resolves prompt dependencies, signs inputs, and submits work to the
// synthesis provider. The store's atomic capacity claim is the only
// concurrency control; everything around it is best-effort.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"server/internal/domain"
	"server/internal/faults"
	"server/internal/metrics"
	"server/internal/providers/synthesis"
)

// Store is the slice of the data layer the dispatcher needs.
type Store interface {
	ClaimJobsWithCapacity(ctx context.Context, maxConcurrency int, activeWindow time.Duration) ([]*domain.Job, error)
	FailJobsMissingProviderID(ctx context.Context, olderThan time.Duration, reason string) (int64, error)
	FailStaleJobs(ctx context.Context, ceiling time.Duration, reason string) (int64, error)
	FailStuckQueuedJobs(ctx context.Context, olderThan time.Duration, reason string) (int64, error)
	MarkRowsRunning(ctx context.Context, rowIDs []string) error
	MarkVariantRowsRunning(ctx context.Context, variantRowIDs []string) error
	GetPromptJob(ctx context.Context, id string) (*domain.PromptGenerationJob, error)
	SpliceJobPrompt(ctx context.Context, id, prompt string) error
	RequeueJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id, categorizedError string) error
	SetJobSubmitted(ctx context.Context, id, providerRequestID string) error
	RecomputeRowStatus(ctx context.Context, rowID, variantRowID string) error
}

// Submitter posts one generation request and returns the provider request id.
type Submitter interface {
	Submit(ctx context.Context, model string, req synthesis.Request) (string, error)
}

// URLSigner issues short-lived signed URLs for storage paths.
type URLSigner interface {
	SignPath(path string, ttl time.Duration) (string, error)
}

// Kicker requests another dispatch pass without waiting for it.
type Kicker interface {
	Kick()
}

// Config carries the dispatcher tunables.
type Config struct {
	MaxConcurrency  int
	ActiveWindow    time.Duration
	StaleJobCeiling time.Duration
	SignTTL         time.Duration
	CleanupEvery    time.Duration
}

// Timeouts for the self-healing cleanup pass.
const (
	orphanAge       = 2 * time.Minute
	stuckInQueueAge = 2 * time.Minute
	cleanupTimeBox  = 5 * time.Second
)

// Dispatcher drives the claim/submit pipeline.
type Dispatcher struct {
	store    Store
	provider Submitter
	signer   URLSigner
	logger   zerolog.Logger
	cfg      Config

	kicker Kicker
	now    func() time.Time

	// Process-scoped cleanup watermark. Advisory only: it resets on restart
	// and races between instances, which costs at most an extra cleanup run.
	mu          sync.Mutex
	lastCleanup time.Time
}

// New constructs a Dispatcher. Zero config fields get conservative defaults.
func New(store Store, provider Submitter, signer URLSigner, logger zerolog.Logger, cfg Config) *Dispatcher {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 3
	}
	if cfg.ActiveWindow <= 0 {
		cfg.ActiveWindow = 30 * time.Minute
	}
	if cfg.StaleJobCeiling <= 0 {
		cfg.StaleJobCeiling = time.Hour
	}
	if cfg.SignTTL <= 0 {
		cfg.SignTTL = 600 * time.Second
	}
	if cfg.CleanupEvery <= 0 {
		cfg.CleanupEvery = time.Minute
	}
	return &Dispatcher{
		store:    store,
		provider: provider,
		signer:   signer,
		logger:   logger.With().Str("component", "dispatcher").Logger(),
		cfg:      cfg,
		now:      time.Now,
	}
}

// SetKicker wires the re-trigger used after claims. Optional.
func (d *Dispatcher) SetKicker(k Kicker) {
	d.kicker = k
}

// Dispatch runs one claim/submit pass and returns the number of jobs claimed.
// A claim failure is the only error ever surfaced; the cleanup pass and the
// re-trigger are swallowed by design.
func (d *Dispatcher) Dispatch(ctx context.Context) (int, error) {
	metrics.DispatchRuns.Inc()
	d.cleanupPass(ctx)

	jobs, err := d.store.ClaimJobsWithCapacity(ctx, d.cfg.MaxConcurrency, d.cfg.ActiveWindow)
	if err != nil {
		return 0, fmt.Errorf("dispatch: claim: %w", err)
	}
	metrics.JobsClaimed.Add(float64(len(jobs)))
	d.markParentsRunning(ctx, jobs)

	var g errgroup.Group
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			// One job's failure must not abort its siblings.
			defer func() {
				if r := recover(); r != nil {
					d.logger.Error().Str("job_id", job.ID).Interface("panic", r).Msg("job processing panicked")
					d.failJob(ctx, job, faults.Unknown, fmt.Sprintf("panic: %v", r))
				}
			}()
			d.processJob(ctx, job)
			return nil
		})
	}
	_ = g.Wait()

	d.maybeSpawnCleanup()
	if len(jobs) > 0 && d.kicker != nil {
		// Drain remaining capacity without awaiting the result.
		d.kicker.Kick()
	}
	return len(jobs), nil
}

// cleanupPass fails orphaned, stale and never-claimed jobs. Errors are logged
// and swallowed; this must never block the primary path.
func (d *Dispatcher) cleanupPass(ctx context.Context) {
	type pass struct {
		reason string
		run    func() (int64, error)
	}
	passes := []pass{
		{"no_provider_request_id", func() (int64, error) {
			return d.store.FailJobsMissingProviderID(ctx, orphanAge, faults.Wrap(faults.Timeout, "no provider request id"))
		}},
		{"stale", func() (int64, error) {
			return d.store.FailStaleJobs(ctx, d.cfg.StaleJobCeiling, "stale: auto-cleanup")
		}},
		{"stuck_in_queue", func() (int64, error) {
			return d.store.FailStuckQueuedJobs(ctx, stuckInQueueAge, faults.Wrap(faults.Timeout, "stuck in queue"))
		}},
	}
	for _, p := range passes {
		n, err := p.run()
		if err != nil {
			d.logger.Warn().Err(err).Str("reason", p.reason).Msg("cleanup pass failed")
			continue
		}
		if n > 0 {
			metrics.CleanupFailures.WithLabelValues(p.reason).Add(float64(n))
			d.logger.Info().Int64("jobs", n).Str("reason", p.reason).Msg("cleanup failed stuck jobs")
		}
	}
}

// maybeSpawnCleanup fires a time-boxed asynchronous cleanup at most once per
// rolling window. Never awaited.
func (d *Dispatcher) maybeSpawnCleanup() {
	d.mu.Lock()
	if d.now().Sub(d.lastCleanup) < d.cfg.CleanupEvery {
		d.mu.Unlock()
		return
	}
	d.lastCleanup = d.now()
	d.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeBox)
		defer cancel()
		d.cleanupPass(ctx)
	}()
}

func (d *Dispatcher) markParentsRunning(ctx context.Context, jobs []*domain.Job) {
	rowIDs := distinct(jobs, func(j *domain.Job) string { return j.RowID })
	variantIDs := distinct(jobs, func(j *domain.Job) string { return j.VariantRowID })
	if err := d.store.MarkRowsRunning(ctx, rowIDs); err != nil {
		d.logger.Warn().Err(err).Msg("mark rows running failed")
	}
	if err := d.store.MarkVariantRowsRunning(ctx, variantIDs); err != nil {
		d.logger.Warn().Err(err).Msg("mark variant rows running failed")
	}
}

func distinct(jobs []*domain.Job, key func(*domain.Job) string) []string {
	seen := map[string]bool{}
	var out []string
	for _, j := range jobs {
		k := key(j)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}

// processJob runs steps (a)-(g) for one claimed job.
func (d *Dispatcher) processJob(ctx context.Context, job *domain.Job) {
	if !d.resolvePromptDependency(ctx, job) {
		return
	}

	payload := job.RequestPayload
	images, ok := d.signImages(ctx, job)
	if !ok {
		return
	}

	w, h := synthesis.ClampDimensions(payload.Width, payload.Height)
	req := synthesis.BuilderFor(payload.GenerationModel).Build(synthesis.BuildParams{
		Prompt: payload.Prompt,
		Images: images,
		Width:  w,
		Height: h,
	})

	providerID, err := d.provider.Submit(ctx, payload.GenerationModel, req)
	if err != nil {
		d.failJob(ctx, job, classifySubmitErr(err), err.Error())
		return
	}
	if err := d.store.SetJobSubmitted(ctx, job.ID, providerID); err != nil {
		d.logger.Error().Err(err).Str("job_id", job.ID).Msg("persist provider request id failed")
		d.failJob(ctx, job, faults.DatabaseError, err.Error())
		return
	}
	metrics.JobsSubmitted.Inc()
	d.logger.Info().Str("job_id", job.ID).Str("provider_request_id", providerID).Msg("job submitted")
}

// resolvePromptDependency returns false when the job must not proceed to
// submission this pass.
func (d *Dispatcher) resolvePromptDependency(ctx context.Context, job *domain.Job) bool {
	if job.PromptJobID == "" || job.PromptStatus != domain.PromptStatusGenerating {
		return true
	}
	pj, err := d.store.GetPromptJob(ctx, job.PromptJobID)
	if err != nil {
		d.logger.Warn().Err(err).Str("job_id", job.ID).Msg("prompt dependency lookup failed, requeueing")
		d.requeue(ctx, job)
		return false
	}
	switch pj.Status {
	case domain.PromptJobCompleted:
		if err := d.store.SpliceJobPrompt(ctx, job.ID, pj.GeneratedPrompt); err != nil {
			d.failJob(ctx, job, faults.DatabaseError, err.Error())
			return false
		}
		// Continue processing in the same pass with the fresh text.
		job.RequestPayload.Prompt = pj.GeneratedPrompt
		job.PromptStatus = domain.PromptStatusCompleted
		return true
	case domain.PromptJobFailed:
		msg := pj.ErrorMessage
		if msg == "" {
			msg = "prompt generation failed"
		}
		d.failJob(ctx, job, faults.PromptGenerationFailed, msg)
		return false
	default:
		d.requeue(ctx, job)
		return false
	}
}

// signImages signs references then the target, in that order. Unsignable
// references degrade the request to target-only; an unsignable target fails
// the job.
func (d *Dispatcher) signImages(ctx context.Context, job *domain.Job) ([]string, bool) {
	payload := job.RequestPayload
	var images []string
	for _, ref := range payload.ReferenceImagePaths {
		signed, err := d.signer.SignPath(ref, d.cfg.SignTTL)
		if err != nil {
			d.logger.Warn().Err(err).Str("job_id", job.ID).Str("path", ref).Msg("reference image unsignable, dropping")
			continue
		}
		images = append(images, signed)
	}
	target, err := d.signer.SignPath(payload.TargetImagePath, d.cfg.SignTTL)
	if err != nil {
		d.failJob(ctx, job, faults.ImagePathInvalid, fmt.Sprintf("target image unsignable: %s", payload.TargetImagePath))
		return nil, false
	}
	return append(images, target), true
}

func (d *Dispatcher) requeue(ctx context.Context, job *domain.Job) {
	if err := d.store.RequeueJob(ctx, job.ID); err != nil {
		d.logger.Error().Err(err).Str("job_id", job.ID).Msg("requeue failed")
		return
	}
	metrics.JobsRequeued.Inc()
}

func (d *Dispatcher) failJob(ctx context.Context, job *domain.Job, cat faults.Category, msg string) {
	stored := faults.Wrap(cat, msg)
	if err := d.store.FailJob(ctx, job.ID, stored); err != nil {
		d.logger.Error().Err(err).Str("job_id", job.ID).Msg("fail job write failed")
	}
	if err := d.store.RecomputeRowStatus(ctx, job.RowID, job.VariantRowID); err != nil {
		d.logger.Warn().Err(err).Str("job_id", job.ID).Msg("aggregate recompute failed")
	}
	metrics.JobsFailed.WithLabelValues(string(cat)).Inc()
	d.logger.Info().Str("job_id", job.ID).Str("error", stored).Msg("job failed")
}

func classifySubmitErr(err error) faults.Category {
	if errors.Is(err, synthesis.ErrRequestIDMissing) {
		return faults.ProviderIDMissing
	}
	var statusErr *synthesis.StatusError
	if errors.As(err, &statusErr) {
		return faults.Classify(nil, statusErr.Code, statusErr.Body)
	}
	return faults.ClassifyError(err)
}
