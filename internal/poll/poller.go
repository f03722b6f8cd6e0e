// Package poll advances generation jobs by asking the synthesis provider for
// their current state. Every transition is provider-driven; the poller never
// invents progress. Finalization is idempotent: the saving CAS guarantees at
// most one caller mirrors outputs and marks the job succeeded.
package poll

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/faults"
	"server/internal/metrics"
	"server/internal/providers/synthesis"
	"server/internal/storage"
)

// Store is the slice of the data layer the poller needs.
type Store interface {
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	SetJobRunning(ctx context.Context, id string) error
	FailJob(ctx context.Context, id, categorizedError string) error
	BeginSaving(ctx context.Context, id string) (bool, error)
	SetJobSucceeded(ctx context.Context, id string) error
	QueuePosition(ctx context.Context, teamID string, createdAt time.Time) (int, error)
	RecomputeRowStatus(ctx context.Context, rowID, variantRowID string) error
	HasOutputForJob(ctx context.Context, job *domain.Job) (bool, error)
	SiblingImageSources(ctx context.Context, rowID string) ([]string, error)
	InsertOutputImage(ctx context.Context, job *domain.Job, img domain.OutputImage) (bool, error)
	ListUnfinishedJobIDs(ctx context.Context, limit int) ([]string, error)
}

// ResultFetcher reads one prediction result from the provider.
type ResultFetcher interface {
	Result(ctx context.Context, requestID string) (*synthesis.Prediction, error)
}

// ObjectStore persists mirrored outputs.
type ObjectStore interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
}

// Kicker nudges the dispatcher without waiting for it.
type Kicker interface {
	Kick()
}

// Ages after which a job with no provider request id is considered stuck.
// All are measured from created_at except savingStuckAge, which uses
// updated_at so that slow but progressing saves are not cut off.
const (
	nudgeAge           = 10 * time.Second
	nudgeSampleEvery   = 20 * time.Second
	submittedOrphanAge = 30 * time.Second
	missingIDAge       = 60 * time.Second
	queuedCeilingAge   = 120 * time.Second
	savingStuckAge     = 600 * time.Second

	maxOutputBytes = 64 << 20
)

// Result is what one poll observed.
type Result struct {
	JobID         string
	Status        domain.JobStatus
	QueuePosition int
	Error         string
}

// Poller inspects one job at a time.
type Poller struct {
	store    Store
	provider ResultFetcher
	files    ObjectStore
	client   *http.Client
	logger   zerolog.Logger
	kicker   Kicker
	now      func() time.Time

	// Nudge sampling is process-scoped on purpose: multiple instances
	// nudging independently only costs extra no-op dispatch passes.
	mu        sync.Mutex
	lastNudge time.Time
}

func New(store Store, provider ResultFetcher, files ObjectStore, logger zerolog.Logger) *Poller {
	return &Poller{
		store:    store,
		provider: provider,
		files:    files,
		client:   &http.Client{Timeout: 2 * time.Minute},
		logger:   logger.With().Str("component", "poller").Logger(),
		now:      time.Now,
	}
}

// SetKicker wires the dispatcher nudge. Optional.
func (p *Poller) SetKicker(k Kicker) {
	p.kicker = k
}

// Poll advances one job and reports what it observed. Transient trouble
// (provider unreachable, storage hiccups, even a panic in the mirror path)
// reports the job as still running without mutating it; the next poll retries.
func (p *Poller) Poll(ctx context.Context, jobID string) (res Result, err error) {
	job, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Str("job_id", jobID).Interface("panic", r).Msg("poll panicked")
			res = Result{JobID: jobID, Status: domain.JobStatusRunning}
			err = nil
		}
	}()

	if job.Status.Terminal() {
		metrics.PollRequests.WithLabelValues(string(job.Status)).Inc()
		return Result{JobID: job.ID, Status: job.Status, Error: job.ErrorMessage}, nil
	}

	if job.ProviderRequestID == "" {
		res := p.pollUnsubmitted(ctx, job)
		metrics.PollRequests.WithLabelValues(string(res.Status)).Inc()
		return res, nil
	}

	res = p.pollSubmitted(ctx, job)
	metrics.PollRequests.WithLabelValues(string(res.Status)).Inc()
	return res, nil
}

// pollUnsubmitted applies the layered age policy to jobs the dispatcher has
// not handed to the provider yet.
func (p *Poller) pollUnsubmitted(ctx context.Context, job *domain.Job) Result {
	now := p.now()
	age := job.Age(now)

	if job.Status == domain.JobStatusQueued && age > nudgeAge {
		p.maybeNudge()
	}

	switch {
	case job.Status == domain.JobStatusSubmitted && age > submittedOrphanAge:
		return p.failJob(ctx, job, faults.Timeout, "submitted without provider request id")
	case (job.Status == domain.JobStatusQueued || job.Status == domain.JobStatusSaving) && age > missingIDAge:
		return p.failJob(ctx, job, faults.Timeout, "no provider request id")
	case job.Status == domain.JobStatusQueued && age > queuedCeilingAge:
		return p.failJob(ctx, job, faults.Timeout, "stuck in queue too long")
	case job.Status == domain.JobStatusSaving && now.Sub(job.UpdatedAt) > savingStuckAge:
		return p.failJob(ctx, job, faults.Timeout, "stuck in saving")
	}

	res := Result{JobID: job.ID, Status: job.Status}
	res.QueuePosition = p.queuePosition(ctx, job)
	return res
}

// queuePosition counts earlier queued or submitted work in the same team.
// Best-effort: a read failure just reports position zero.
func (p *Poller) queuePosition(ctx context.Context, job *domain.Job) int {
	pos, err := p.store.QueuePosition(ctx, job.TeamID, job.CreatedAt)
	if err != nil {
		return 0
	}
	return pos
}

// pollSubmitted asks the provider once and maps its answer.
func (p *Poller) pollSubmitted(ctx context.Context, job *domain.Job) Result {
	pred, err := p.provider.Result(ctx, job.ProviderRequestID)
	if err != nil {
		// Transient by definition: the job keeps its state and gets re-polled.
		p.logger.Warn().Err(err).Str("job_id", job.ID).Msg("provider result fetch failed")
		return Result{JobID: job.ID, Status: job.Status, QueuePosition: p.queuePosition(ctx, job)}
	}

	switch {
	case pred.InFlight():
		if job.Status == domain.JobStatusSubmitted {
			if err := p.store.SetJobRunning(ctx, job.ID); err != nil {
				p.logger.Warn().Err(err).Str("job_id", job.ID).Msg("promote to running failed")
			} else {
				job.Status = domain.JobStatusRunning
			}
		}
		return Result{JobID: job.ID, Status: job.Status, QueuePosition: p.queuePosition(ctx, job)}
	case pred.Succeeded():
		return p.finalize(ctx, job, pred)
	default:
		msg := pred.Error
		if msg == "" {
			msg = fmt.Sprintf("provider reported status %q", pred.Status)
		}
		return p.failJob(ctx, job, faults.Classify(nil, 0, msg), msg)
	}
}

// finalize mirrors the first output and marks the job succeeded, exactly once.
// Losing the saving CAS means another poller finished first; report success.
// Errors past the CAS leave the job in saving, where the stuck-in-saving
// policy eventually reclaims it.
func (p *Poller) finalize(ctx context.Context, job *domain.Job, pred *synthesis.Prediction) Result {
	won, err := p.store.BeginSaving(ctx, job.ID)
	if err != nil {
		p.logger.Warn().Err(err).Str("job_id", job.ID).Msg("begin saving failed")
		return Result{JobID: job.ID, Status: job.Status}
	}
	if !won {
		return Result{JobID: job.ID, Status: domain.JobStatusSucceeded}
	}

	if len(pred.Outputs) == 0 {
		return p.failJob(ctx, job, faults.Unknown, "provider reported success with no outputs")
	}
	src := pred.Outputs[0]

	mirrored, err := p.outputAlreadyMirrored(ctx, job, src)
	if err != nil {
		p.logger.Warn().Err(err).Str("job_id", job.ID).Msg("duplicate check failed")
		return Result{JobID: job.ID, Status: domain.JobStatusSaving}
	}
	if !mirrored {
		if err := p.mirrorOutput(ctx, job, src); err != nil {
			p.logger.Error().Err(err).Str("job_id", job.ID).Msg("mirror output failed")
			return Result{JobID: job.ID, Status: domain.JobStatusSaving}
		}
	}

	if err := p.store.SetJobSucceeded(ctx, job.ID); err != nil {
		p.logger.Error().Err(err).Str("job_id", job.ID).Msg("mark succeeded failed")
		return Result{JobID: job.ID, Status: domain.JobStatusSaving}
	}
	if err := p.store.RecomputeRowStatus(ctx, job.RowID, job.VariantRowID); err != nil {
		p.logger.Warn().Err(err).Str("job_id", job.ID).Msg("aggregate recompute failed")
	}
	if p.kicker != nil {
		p.kicker.Kick()
	}
	metrics.JobsFinalized.Inc()
	p.logger.Info().Str("job_id", job.ID).Msg("job finalized")
	return Result{JobID: job.ID, Status: domain.JobStatusSucceeded}
}

// outputAlreadyMirrored layers two duplicate checks: an exact per-job artifact
// lookup, then a filename heuristic against sibling outputs of the same row.
// The heuristic catches re-submissions where a retried job produced the same
// provider file under a different job id.
func (p *Poller) outputAlreadyMirrored(ctx context.Context, job *domain.Job, src string) (bool, error) {
	has, err := p.store.HasOutputForJob(ctx, job)
	if err != nil {
		return false, err
	}
	if has {
		return true, nil
	}
	if job.IsVariant() || job.RowID == "" {
		return false, nil
	}
	siblings, err := p.store.SiblingImageSources(ctx, job.RowID)
	if err != nil {
		return false, err
	}
	prefix := filenamePrefix(src)
	if prefix == "" {
		return false, nil
	}
	for _, sib := range siblings {
		if filenamePrefix(sib) == prefix {
			return true, nil
		}
	}
	return false, nil
}

// filenamePrefix extracts the base filename without extension or query string.
func filenamePrefix(rawURL string) string {
	s := rawURL
	if i := strings.IndexByte(s, '?'); i >= 0 {
		s = s[:i]
	}
	base := path.Base(s)
	if i := strings.IndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	if base == "." || base == "/" {
		return ""
	}
	return base
}

// mirrorOutput downloads the provider file, stores it with a thumbnail and
// records the artifact. The insert is idempotent on job id.
func (p *Poller) mirrorOutput(ctx context.Context, job *domain.Job, src string) error {
	data, err := p.download(ctx, src)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}

	name := path.Base(strings.SplitN(src, "?", 2)[0])
	if name == "." || name == "/" || name == "" {
		name = job.ID + ".png"
	}
	key := fmt.Sprintf("outputs/%s/%s", job.ID, name)
	if _, err := p.files.Write(ctx, key, data); err != nil {
		return fmt.Errorf("store output: %w", err)
	}

	img := domain.OutputImage{
		JobID:       job.ID,
		StorageKey:  key,
		SourceURL:   src,
		IsGenerated: true,
	}
	if thumb, w, h, err := storage.Thumbnail(data); err != nil {
		p.logger.Warn().Err(err).Str("job_id", job.ID).Msg("thumbnail failed, storing original only")
	} else {
		thumbKey := fmt.Sprintf("thumbnails/%s/%s.jpg", job.ID, strings.TrimSuffix(name, path.Ext(name)))
		if _, err := p.files.Write(ctx, thumbKey, thumb); err == nil {
			img.ThumbnailKey = thumbKey
		}
		img.Width = w
		img.Height = h
	}

	inserted, err := p.store.InsertOutputImage(ctx, job, img)
	if err != nil {
		return fmt.Errorf("record artifact: %w", err)
	}
	if !inserted {
		p.logger.Debug().Str("job_id", job.ID).Msg("artifact already recorded")
	}
	return nil
}

func (p *Poller) download(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d fetching output", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxOutputBytes))
}

func (p *Poller) failJob(ctx context.Context, job *domain.Job, cat faults.Category, msg string) Result {
	stored := faults.Wrap(cat, msg)
	if err := p.store.FailJob(ctx, job.ID, stored); err != nil {
		p.logger.Error().Err(err).Str("job_id", job.ID).Msg("fail job write failed")
		return Result{JobID: job.ID, Status: job.Status}
	}
	if err := p.store.RecomputeRowStatus(ctx, job.RowID, job.VariantRowID); err != nil {
		p.logger.Warn().Err(err).Str("job_id", job.ID).Msg("aggregate recompute failed")
	}
	if p.kicker != nil {
		p.kicker.Kick()
	}
	metrics.JobsFailed.WithLabelValues(string(cat)).Inc()
	return Result{JobID: job.ID, Status: domain.JobStatusFailed, Error: stored}
}

func (p *Poller) maybeNudge() {
	if p.kicker == nil {
		return
	}
	p.mu.Lock()
	if p.now().Sub(p.lastNudge) < nudgeSampleEvery {
		p.mu.Unlock()
		return
	}
	p.lastNudge = p.now()
	p.mu.Unlock()
	p.kicker.Kick()
}
