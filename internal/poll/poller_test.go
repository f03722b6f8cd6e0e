package poll

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/providers/synthesis"
)

type pollStore struct {
	mu sync.Mutex

	job *domain.Job

	savingGrants int
	savingCalls  int

	running    bool
	succeeded  bool
	failedWith string
	recomputed int

	hasOutput bool
	siblings  []string
	inserted  []domain.OutputImage
	queuePos  int
}

func (s *pollStore) GetJob(_ context.Context, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.job == nil || s.job.ID != id {
		return nil, errors.New("job not found")
	}
	copied := *s.job
	return &copied, nil
}

func (s *pollStore) SetJobRunning(_ context.Context, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
	s.job.Status = domain.JobStatusRunning
	return nil
}

func (s *pollStore) FailJob(_ context.Context, _ string, categorized string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failedWith = categorized
	s.job.Status = domain.JobStatusFailed
	s.job.ErrorMessage = categorized
	return nil
}

func (s *pollStore) BeginSaving(_ context.Context, _ string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.savingCalls++
	if s.savingGrants > 0 {
		s.savingGrants--
		s.job.Status = domain.JobStatusSaving
		return true, nil
	}
	return false, nil
}

func (s *pollStore) SetJobSucceeded(_ context.Context, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.succeeded = true
	s.job.Status = domain.JobStatusSucceeded
	return nil
}

func (s *pollStore) QueuePosition(_ context.Context, _ string, _ time.Time) (int, error) {
	return s.queuePos, nil
}

func (s *pollStore) RecomputeRowStatus(_ context.Context, _, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recomputed++
	return nil
}

func (s *pollStore) HasOutputForJob(_ context.Context, _ *domain.Job) (bool, error) {
	return s.hasOutput, nil
}

func (s *pollStore) SiblingImageSources(_ context.Context, _ string) ([]string, error) {
	return s.siblings, nil
}

func (s *pollStore) InsertOutputImage(_ context.Context, _ *domain.Job, img domain.OutputImage) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserted = append(s.inserted, img)
	return true, nil
}

func (s *pollStore) ListUnfinishedJobIDs(_ context.Context, _ int) ([]string, error) {
	if s.job != nil && !s.job.Status.Terminal() {
		return []string{s.job.ID}, nil
	}
	return nil, nil
}

type fakeFetcher struct {
	mu    sync.Mutex
	pred  *synthesis.Prediction
	err   error
	calls int
}

func (f *fakeFetcher) Result(_ context.Context, _ string) (*synthesis.Prediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.pred, nil
}

type memFiles struct {
	mu   sync.Mutex
	keys []string
}

func (m *memFiles) Write(_ context.Context, key string, _ []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = append(m.keys, key)
	return "/" + key, nil
}

func submittedJob(status domain.JobStatus, providerID string, age time.Duration) *domain.Job {
	now := time.Now()
	return &domain.Job{
		ID:                "job-1",
		RowID:             "row-1",
		Status:            status,
		ProviderRequestID: providerID,
		CreatedAt:         now.Add(-age),
		UpdatedAt:         now.Add(-age),
		RequestPayload: domain.RequestPayload{
			TargetImagePath: "targets/t.png",
			GenerationModel: "bytedance/seedream-v4-edit",
		},
	}
}

func newTestPoller(store *pollStore, fetcher *fakeFetcher, files *memFiles) *Poller {
	if files == nil {
		files = &memFiles{}
	}
	return New(store, fetcher, files, zerolog.Nop())
}

func TestPollTerminalShortCircuits(t *testing.T) {
	store := &pollStore{job: submittedJob(domain.JobStatusSucceeded, "req-1", time.Minute)}
	fetcher := &fakeFetcher{}
	p := newTestPoller(store, fetcher, nil)

	res, err := p.Poll(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if res.Status != domain.JobStatusSucceeded {
		t.Fatalf("status = %s, want succeeded", res.Status)
	}
	if fetcher.calls != 0 {
		t.Errorf("provider calls = %d, want 0", fetcher.calls)
	}
}

func TestPollTimeoutPolicy(t *testing.T) {
	tests := []struct {
		name     string
		status   domain.JobStatus
		age      time.Duration
		wantFail bool
		wantMsg  string
	}{
		{"fresh queued survives", domain.JobStatusQueued, 5 * time.Second, false, ""},
		{"queued at 30s survives", domain.JobStatusQueued, 30 * time.Second, false, ""},
		{"submitted under 30s survives", domain.JobStatusSubmitted, 25 * time.Second, false, ""},
		{"submitted over 30s fails", domain.JobStatusSubmitted, 35 * time.Second, true, "submitted without provider request id"},
		{"queued over 60s fails", domain.JobStatusQueued, 65 * time.Second, true, "no provider request id"},
		{"queued over 120s fails", domain.JobStatusQueued, 125 * time.Second, true, "no provider request id"},
		{"saving over 600s fails", domain.JobStatusSaving, 700 * time.Second, true, "no provider request id"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := &pollStore{job: submittedJob(tc.status, "", tc.age)}
			p := newTestPoller(store, &fakeFetcher{}, nil)

			res, err := p.Poll(context.Background(), "job-1")
			if err != nil {
				t.Fatalf("Poll: %v", err)
			}
			if tc.wantFail {
				if res.Status != domain.JobStatusFailed {
					t.Fatalf("status = %s, want failed", res.Status)
				}
				if !strings.HasPrefix(store.failedWith, "timeout: ") {
					t.Errorf("stored error = %q, want timeout category", store.failedWith)
				}
				if !strings.Contains(store.failedWith, tc.wantMsg) {
					t.Errorf("stored error = %q, want %q", store.failedWith, tc.wantMsg)
				}
				return
			}
			if res.Status != tc.status {
				t.Fatalf("status = %s, want %s unchanged", res.Status, tc.status)
			}
			if store.failedWith != "" {
				t.Errorf("job failed unexpectedly: %s", store.failedWith)
			}
		})
	}
}

func TestPollNudgesDispatcherForAgedQueuedJob(t *testing.T) {
	store := &pollStore{job: submittedJob(domain.JobStatusQueued, "", 15*time.Second), queuePos: 2}
	p := newTestPoller(store, &fakeFetcher{}, nil)
	kicker := &countKicker{}
	p.SetKicker(kicker)

	res, err := p.Poll(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if res.Status != domain.JobStatusQueued {
		t.Fatalf("status = %s, want queued", res.Status)
	}
	if res.QueuePosition != 2 {
		t.Errorf("queue position = %d, want 2", res.QueuePosition)
	}
	if kicker.count() != 1 {
		t.Errorf("kicks = %d, want 1", kicker.count())
	}

	// Second poll inside the sampling window must not nudge again.
	if _, err := p.Poll(context.Background(), "job-1"); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if kicker.count() != 1 {
		t.Errorf("kicks after re-poll = %d, want 1", kicker.count())
	}
}

func TestPollPromotesSubmittedToRunning(t *testing.T) {
	store := &pollStore{job: submittedJob(domain.JobStatusSubmitted, "req-1", 5*time.Second), queuePos: 3}
	fetcher := &fakeFetcher{pred: &synthesis.Prediction{Status: synthesis.StatusProcessing}}
	p := newTestPoller(store, fetcher, nil)

	res, err := p.Poll(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if res.Status != domain.JobStatusRunning {
		t.Fatalf("status = %s, want running", res.Status)
	}
	if !store.running {
		t.Error("job was not promoted to running")
	}
	if res.QueuePosition != 3 {
		t.Errorf("queue position = %d, want 3", res.QueuePosition)
	}
}

func TestPollAbsentStatusTreatedAsInFlight(t *testing.T) {
	store := &pollStore{job: submittedJob(domain.JobStatusRunning, "req-1", 5*time.Second)}
	fetcher := &fakeFetcher{pred: &synthesis.Prediction{}}
	p := newTestPoller(store, fetcher, nil)

	res, err := p.Poll(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if res.Status != domain.JobStatusRunning {
		t.Fatalf("status = %s, want running", res.Status)
	}
}

func TestPollTransientProviderErrorKeepsState(t *testing.T) {
	store := &pollStore{job: submittedJob(domain.JobStatusRunning, "req-1", 5*time.Second)}
	fetcher := &fakeFetcher{err: errors.New("connection reset by peer")}
	p := newTestPoller(store, fetcher, nil)

	res, err := p.Poll(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if res.Status != domain.JobStatusRunning {
		t.Fatalf("status = %s, want running", res.Status)
	}
	if store.failedWith != "" {
		t.Errorf("job failed on transient error: %s", store.failedWith)
	}
}

func TestPollProviderFailureCategorized(t *testing.T) {
	store := &pollStore{job: submittedJob(domain.JobStatusRunning, "req-1", 5*time.Second)}
	fetcher := &fakeFetcher{pred: &synthesis.Prediction{
		Status: synthesis.StatusFailed,
		Error:  "insufficient credit balance for this request",
	}}
	p := newTestPoller(store, fetcher, nil)

	res, err := p.Poll(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if res.Status != domain.JobStatusFailed {
		t.Fatalf("status = %s, want failed", res.Status)
	}
	if !strings.HasPrefix(store.failedWith, "credits_insufficient: ") {
		t.Errorf("stored error = %q, want credits_insufficient category", store.failedWith)
	}
	if store.recomputed != 1 {
		t.Errorf("aggregate recompute calls = %d, want 1", store.recomputed)
	}
}

func outputServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("not-really-a-png"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPollFinalizesSucceededJob(t *testing.T) {
	srv := outputServer(t)
	store := &pollStore{
		job:          submittedJob(domain.JobStatusRunning, "req-1", 5*time.Second),
		savingGrants: 1,
	}
	fetcher := &fakeFetcher{pred: &synthesis.Prediction{
		Status:  synthesis.StatusCompleted,
		Outputs: []string{srv.URL + "/outputs/abc123.png"},
	}}
	files := &memFiles{}
	p := newTestPoller(store, fetcher, files)
	kicker := &countKicker{}
	p.SetKicker(kicker)

	res, err := p.Poll(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if res.Status != domain.JobStatusSucceeded {
		t.Fatalf("status = %s, want succeeded", res.Status)
	}
	if !store.succeeded {
		t.Error("job not marked succeeded")
	}
	if len(store.inserted) != 1 {
		t.Fatalf("artifacts = %d, want 1", len(store.inserted))
	}
	if store.inserted[0].StorageKey != "outputs/job-1/abc123.png" {
		t.Errorf("storage key = %q", store.inserted[0].StorageKey)
	}
	if store.recomputed != 1 {
		t.Errorf("aggregate recompute calls = %d, want 1", store.recomputed)
	}
	if kicker.count() != 1 {
		t.Errorf("kicks = %d, want 1", kicker.count())
	}
}

func TestPollFinalizesAtMostOnce(t *testing.T) {
	srv := outputServer(t)
	store := &pollStore{
		job:          submittedJob(domain.JobStatusRunning, "req-1", 5*time.Second),
		savingGrants: 1,
	}
	fetcher := &fakeFetcher{pred: &synthesis.Prediction{
		Status:  synthesis.StatusSucceeded,
		Outputs: []string{srv.URL + "/outputs/abc123.png"},
	}}
	p := newTestPoller(store, fetcher, &memFiles{})

	if _, err := p.Poll(context.Background(), "job-1"); err != nil {
		t.Fatalf("first poll: %v", err)
	}
	// Re-poll after success must short-circuit on terminal state.
	res, err := p.Poll(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("second poll: %v", err)
	}
	if res.Status != domain.JobStatusSucceeded {
		t.Fatalf("status = %s, want succeeded", res.Status)
	}
	if len(store.inserted) != 1 {
		t.Errorf("artifacts = %d, want exactly 1", len(store.inserted))
	}
	if store.savingCalls != 1 {
		t.Errorf("saving CAS attempts = %d, want 1", store.savingCalls)
	}
}

func TestPollLosingSavingRaceReportsSuccess(t *testing.T) {
	store := &pollStore{
		job:          submittedJob(domain.JobStatusRunning, "req-1", 5*time.Second),
		savingGrants: 0,
	}
	fetcher := &fakeFetcher{pred: &synthesis.Prediction{
		Status:  synthesis.StatusSucceeded,
		Outputs: []string{"https://cdn.test/outputs/abc123.png"},
	}}
	p := newTestPoller(store, fetcher, &memFiles{})

	res, err := p.Poll(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if res.Status != domain.JobStatusSucceeded {
		t.Fatalf("status = %s, want succeeded", res.Status)
	}
	if len(store.inserted) != 0 {
		t.Errorf("artifacts = %d, want 0 for the losing poller", len(store.inserted))
	}
}

func TestPollSiblingPrefixSuppressesMirror(t *testing.T) {
	store := &pollStore{
		job:          submittedJob(domain.JobStatusRunning, "req-1", 5*time.Second),
		savingGrants: 1,
		siblings:     []string{"https://other.cdn/files/abc123.webp?token=x"},
	}
	fetcher := &fakeFetcher{pred: &synthesis.Prediction{
		Status:  synthesis.StatusSucceeded,
		Outputs: []string{"https://cdn.test/outputs/abc123.png"},
	}}
	files := &memFiles{}
	p := newTestPoller(store, fetcher, files)

	res, err := p.Poll(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if res.Status != domain.JobStatusSucceeded {
		t.Fatalf("status = %s, want succeeded", res.Status)
	}
	if len(store.inserted) != 0 {
		t.Errorf("artifacts = %d, want 0 when sibling already mirrored", len(store.inserted))
	}
	if len(files.keys) != 0 {
		t.Errorf("stored files = %v, want none", files.keys)
	}
}

func TestPollVariantJobSkipsSiblingHeuristic(t *testing.T) {
	srv := outputServer(t)
	job := submittedJob(domain.JobStatusRunning, "req-1", 5*time.Second)
	job.RowID = ""
	job.VariantRowID = "vr-1"
	store := &pollStore{
		job:          job,
		savingGrants: 1,
		siblings:     []string{"https://other.cdn/files/abc123.webp"},
	}
	fetcher := &fakeFetcher{pred: &synthesis.Prediction{
		Status:  synthesis.StatusSucceeded,
		Outputs: []string{srv.URL + "/outputs/abc123.png"},
	}}
	p := newTestPoller(store, fetcher, &memFiles{})

	res, err := p.Poll(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if res.Status != domain.JobStatusSucceeded {
		t.Fatalf("status = %s, want succeeded", res.Status)
	}
	if len(store.inserted) != 1 {
		t.Errorf("artifacts = %d, want 1 for variant job", len(store.inserted))
	}
}

func TestFilenamePrefix(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://cdn.test/outputs/abc123.png", "abc123"},
		{"https://cdn.test/outputs/abc123.webp?token=zzz", "abc123"},
		{"", ""},
	}
	for _, tc := range tests {
		if got := filenamePrefix(tc.url); got != tc.want {
			t.Errorf("filenamePrefix(%q) = %q, want %q", tc.url, got, tc.want)
		}
	}
}

type countKicker struct {
	mu sync.Mutex
	n  int
}

func (c *countKicker) Kick() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *countKicker) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
