package poll

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// JobPoller is what the pool drives. Satisfied by *Poller.
type JobPoller interface {
	Poll(ctx context.Context, jobID string) (Result, error)
}

// Lister enumerates jobs that still need polling.
type Lister interface {
	ListUnfinishedJobIDs(ctx context.Context, limit int) ([]string, error)
}

// Per-job poll cadence. Backoff grows while a job stays non-terminal so that
// long renders do not get hammered.
const (
	initialBackoff = 2 * time.Second
	backoffFactor  = 1.5
	maxBackoff     = 15 * time.Second
	scanBatch      = 256
)

// Pool owns polling for the whole process: it scans for unfinished jobs and
// fans them out to a fixed set of workers, each job on its own backoff clock.
// Clients never poll; they read job state through the API.
type Pool struct {
	poller  JobPoller
	lister  Lister
	logger  zerolog.Logger
	workers int
	scan    time.Duration
	now     func() time.Time

	mu      sync.Mutex
	nextAt  map[string]time.Time
	backoff map[string]time.Duration
}

func NewPool(poller JobPoller, lister Lister, workers int, scanEvery time.Duration, logger zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if scanEvery <= 0 {
		scanEvery = 2 * time.Second
	}
	return &Pool{
		poller:  poller,
		lister:  lister,
		logger:  logger.With().Str("component", "poll_pool").Logger(),
		workers: workers,
		scan:    scanEvery,
		now:     time.Now,
		nextAt:  map[string]time.Time{},
		backoff: map[string]time.Duration{},
	}
}

// Run blocks until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) {
	jobs := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker(ctx, jobs)
		}()
	}

	ticker := time.NewTicker(p.scan)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return
		case <-ticker.C:
			p.scanOnce(ctx, jobs)
		}
	}
}

func (p *Pool) scanOnce(ctx context.Context, jobs chan<- string) {
	ids, err := p.lister.ListUnfinishedJobIDs(ctx, scanBatch)
	if err != nil {
		p.logger.Warn().Err(err).Msg("scan failed")
		return
	}
	p.forget(ids)
	now := p.now()
	for _, id := range ids {
		if !p.due(id, now) {
			continue
		}
		select {
		case jobs <- id:
		case <-ctx.Done():
			return
		default:
			// Workers are saturated; the job stays due for the next scan.
			return
		}
	}
}

func (p *Pool) worker(ctx context.Context, jobs <-chan string) {
	for id := range jobs {
		res, err := p.poller.Poll(ctx, id)
		if err != nil {
			p.logger.Warn().Err(err).Str("job_id", id).Msg("poll failed")
			continue
		}
		if res.Status.Terminal() {
			p.drop(id)
			continue
		}
		p.bump(id)
	}
}

func (p *Pool) due(id string, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	at, ok := p.nextAt[id]
	if !ok {
		p.nextAt[id] = now
		p.backoff[id] = initialBackoff
		return true
	}
	return !now.Before(at)
}

func (p *Pool) bump(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b := p.backoff[id]
	if b <= 0 {
		b = initialBackoff
	}
	p.nextAt[id] = p.now().Add(b)
	b = time.Duration(float64(b) * backoffFactor)
	if b > maxBackoff {
		b = maxBackoff
	}
	p.backoff[id] = b
}

func (p *Pool) drop(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.nextAt, id)
	delete(p.backoff, id)
}

// forget clears tracking for jobs that left the unfinished set between scans,
// keeping the maps bounded.
func (p *Pool) forget(current []string) {
	seen := make(map[string]bool, len(current))
	for _, id := range current {
		seen[id] = true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for id := range p.nextAt {
		if !seen[id] {
			delete(p.nextAt, id)
			delete(p.backoff, id)
		}
	}
}
