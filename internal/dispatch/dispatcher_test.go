package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/providers/synthesis"
)

type fakeStore struct {
	mu sync.Mutex

	claimed  []*domain.Job
	claimErr error

	promptJobs map[string]*domain.PromptGenerationJob

	submitted map[string]string
	failed    map[string]string
	requeued  []string
	spliced   map[string]string

	rowsRunning        []string
	variantRowsRunning []string
	recomputed         []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		promptJobs: map[string]*domain.PromptGenerationJob{},
		submitted:  map[string]string{},
		failed:     map[string]string{},
		spliced:    map[string]string{},
	}
}

func (f *fakeStore) ClaimJobsWithCapacity(_ context.Context, _ int, _ time.Duration) ([]*domain.Job, error) {
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	jobs := f.claimed
	f.claimed = nil
	return jobs, nil
}

func (f *fakeStore) FailJobsMissingProviderID(context.Context, time.Duration, string) (int64, error) {
	return 0, nil
}

func (f *fakeStore) FailStaleJobs(context.Context, time.Duration, string) (int64, error) {
	return 0, nil
}

func (f *fakeStore) FailStuckQueuedJobs(context.Context, time.Duration, string) (int64, error) {
	return 0, nil
}

func (f *fakeStore) MarkRowsRunning(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rowsRunning = append(f.rowsRunning, ids...)
	return nil
}

func (f *fakeStore) MarkVariantRowsRunning(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.variantRowsRunning = append(f.variantRowsRunning, ids...)
	return nil
}

func (f *fakeStore) GetPromptJob(_ context.Context, id string) (*domain.PromptGenerationJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pj, ok := f.promptJobs[id]
	if !ok {
		return nil, errors.New("prompt job not found")
	}
	return pj, nil
}

func (f *fakeStore) SpliceJobPrompt(_ context.Context, id, prompt string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spliced[id] = prompt
	return nil
}

func (f *fakeStore) RequeueJob(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requeued = append(f.requeued, id)
	return nil
}

func (f *fakeStore) FailJob(_ context.Context, id, categorized string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[id] = categorized
	return nil
}

func (f *fakeStore) SetJobSubmitted(_ context.Context, id, providerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted[id] = providerID
	return nil
}

func (f *fakeStore) RecomputeRowStatus(_ context.Context, rowID, variantRowID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recomputed = append(f.recomputed, rowID+"/"+variantRowID)
	return nil
}

type fakeSubmitter struct {
	mu       sync.Mutex
	err      error
	requests []synthesis.Request
	nextID   int
}

func (f *fakeSubmitter) Submit(_ context.Context, _ string, req synthesis.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.requests = append(f.requests, req)
	f.nextID++
	return fmt.Sprintf("req-%d", f.nextID), nil
}

type fakeSigner struct {
	failPaths map[string]bool
}

func (f *fakeSigner) SignPath(p string, _ time.Duration) (string, error) {
	if f.failPaths[p] {
		return "", errors.New("cannot sign")
	}
	return "https://cdn.test/" + p + "?sig=abc", nil
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

func testJob(id string) *domain.Job {
	return &domain.Job{
		ID:     id,
		RowID:  "row-1",
		Status: domain.JobStatusSubmitted,
		RequestPayload: domain.RequestPayload{
			ReferenceImagePaths: []string{"refs/a.png"},
			TargetImagePath:     "targets/t.png",
			Prompt:              "swap the face",
			Width:               2048,
			Height:              2048,
			GenerationModel:     "bytedance/seedream-v4-edit",
		},
	}
}

func newTestDispatcher(store *fakeStore, sub *fakeSubmitter, signer *fakeSigner) *Dispatcher {
	if signer == nil {
		signer = &fakeSigner{}
	}
	return New(store, sub, signer, zerolog.Nop(), Config{MaxConcurrency: 3})
}

func TestDispatchSubmitsClaimedJobs(t *testing.T) {
	store := newFakeStore()
	store.claimed = []*domain.Job{testJob("j1"), testJob("j2"), testJob("j3")}
	sub := &fakeSubmitter{}
	d := newTestDispatcher(store, sub, nil)
	kicker := &countKicker{}
	d.SetKicker(kicker)

	claimed, err := d.Dispatch(context.Background())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if claimed != 3 {
		t.Fatalf("claimed = %d, want 3", claimed)
	}
	if len(store.submitted) != 3 {
		t.Fatalf("submitted = %d jobs, want 3", len(store.submitted))
	}
	for id, providerID := range store.submitted {
		if providerID == "" {
			t.Errorf("job %s submitted without provider id", id)
		}
	}
	if kicker.n != 1 {
		t.Errorf("kicks = %d, want 1", kicker.n)
	}
	if len(store.rowsRunning) != 1 || store.rowsRunning[0] != "row-1" {
		t.Errorf("rows marked running = %v, want [row-1]", store.rowsRunning)
	}
}

func TestDispatchNoKickWhenNothingClaimed(t *testing.T) {
	store := newFakeStore()
	d := newTestDispatcher(store, &fakeSubmitter{}, nil)
	kicker := &countKicker{}
	d.SetKicker(kicker)

	claimed, err := d.Dispatch(context.Background())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if claimed != 0 || kicker.n != 0 {
		t.Fatalf("claimed = %d kicks = %d, want 0/0", claimed, kicker.n)
	}
}

func TestDispatchClaimErrorSurfaced(t *testing.T) {
	store := newFakeStore()
	store.claimErr = errors.New("connection refused")
	d := newTestDispatcher(store, &fakeSubmitter{}, nil)

	if _, err := d.Dispatch(context.Background()); err == nil {
		t.Fatal("expected claim error")
	}
}

func TestDispatchCompletedPromptSplicedBeforeSubmit(t *testing.T) {
	job := testJob("j1")
	job.PromptJobID = "pj-1"
	job.PromptStatus = domain.PromptStatusGenerating
	job.RequestPayload.Prompt = ""

	store := newFakeStore()
	store.claimed = []*domain.Job{job}
	store.promptJobs["pj-1"] = &domain.PromptGenerationJob{
		ID:              "pj-1",
		Status:          domain.PromptJobCompleted,
		GeneratedPrompt: "a detailed swap prompt",
	}
	sub := &fakeSubmitter{}
	d := newTestDispatcher(store, sub, nil)

	if _, err := d.Dispatch(context.Background()); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if store.spliced["j1"] != "a detailed swap prompt" {
		t.Fatalf("spliced prompt = %q", store.spliced["j1"])
	}
	if len(sub.requests) != 1 {
		t.Fatalf("submit count = %d, want 1", len(sub.requests))
	}
	if sub.requests[0].Prompt != "a detailed swap prompt" {
		t.Errorf("submitted prompt = %q, want spliced text", sub.requests[0].Prompt)
	}
}

func TestDispatchFailedPromptFailsJob(t *testing.T) {
	job := testJob("j1")
	job.PromptJobID = "pj-1"
	job.PromptStatus = domain.PromptStatusGenerating

	store := newFakeStore()
	store.claimed = []*domain.Job{job}
	store.promptJobs["pj-1"] = &domain.PromptGenerationJob{
		ID:           "pj-1",
		Status:       domain.PromptJobFailed,
		ErrorMessage: "vision model unreachable",
	}
	d := newTestDispatcher(store, &fakeSubmitter{}, nil)

	if _, err := d.Dispatch(context.Background()); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	got := store.failed["j1"]
	if !strings.HasPrefix(got, "prompt_generation_failed: ") {
		t.Fatalf("stored error = %q, want prompt_generation_failed category", got)
	}
	if len(store.recomputed) != 1 {
		t.Errorf("aggregate recompute calls = %d, want 1", len(store.recomputed))
	}
}

func TestDispatchPendingPromptRequeues(t *testing.T) {
	job := testJob("j1")
	job.PromptJobID = "pj-1"
	job.PromptStatus = domain.PromptStatusGenerating

	store := newFakeStore()
	store.claimed = []*domain.Job{job}
	store.promptJobs["pj-1"] = &domain.PromptGenerationJob{ID: "pj-1", Status: domain.PromptJobProcessing}
	sub := &fakeSubmitter{}
	d := newTestDispatcher(store, sub, nil)

	if _, err := d.Dispatch(context.Background()); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(store.requeued) != 1 || store.requeued[0] != "j1" {
		t.Fatalf("requeued = %v, want [j1]", store.requeued)
	}
	if len(sub.requests) != 0 {
		t.Errorf("submit count = %d, want 0", len(sub.requests))
	}
}

func TestDispatchUnsignableTargetFailsJob(t *testing.T) {
	store := newFakeStore()
	store.claimed = []*domain.Job{testJob("j1")}
	signer := &fakeSigner{failPaths: map[string]bool{"targets/t.png": true}}
	sub := &fakeSubmitter{}
	d := newTestDispatcher(store, sub, signer)

	if _, err := d.Dispatch(context.Background()); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !strings.HasPrefix(store.failed["j1"], "image_path_invalid: ") {
		t.Fatalf("stored error = %q, want image_path_invalid category", store.failed["j1"])
	}
	if len(sub.requests) != 0 {
		t.Errorf("submit count = %d, want 0", len(sub.requests))
	}
}

func TestDispatchDropsUnsignableReferences(t *testing.T) {
	store := newFakeStore()
	store.claimed = []*domain.Job{testJob("j1")}
	signer := &fakeSigner{failPaths: map[string]bool{"refs/a.png": true}}
	sub := &fakeSubmitter{}
	d := newTestDispatcher(store, sub, signer)

	if _, err := d.Dispatch(context.Background()); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(sub.requests) != 1 {
		t.Fatalf("submit count = %d, want 1", len(sub.requests))
	}
	if len(sub.requests[0].Images) != 1 {
		t.Fatalf("images = %v, want target only", sub.requests[0].Images)
	}
	if !strings.Contains(sub.requests[0].Images[0], "targets/t.png") {
		t.Errorf("last image = %q, want signed target", sub.requests[0].Images[0])
	}
}

func TestDispatchSubmitErrorCategorized(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantPrefix string
	}{
		{"insufficient credits", &synthesis.StatusError{Code: 402, Body: "payment required"}, "credits_insufficient: "},
		{"rate limited", &synthesis.StatusError{Code: 429, Body: "slow down"}, "rate_limited: "},
		{"missing provider id", synthesis.ErrRequestIDMissing, "provider_id_missing: "},
		{"timeout", context.DeadlineExceeded, "timeout: "},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := newFakeStore()
			store.claimed = []*domain.Job{testJob("j1")}
			d := newTestDispatcher(store, &fakeSubmitter{err: tc.err}, nil)

			if _, err := d.Dispatch(context.Background()); err != nil {
				t.Fatalf("Dispatch: %v", err)
			}
			if !strings.HasPrefix(store.failed["j1"], tc.wantPrefix) {
				t.Fatalf("stored error = %q, want prefix %q", store.failed["j1"], tc.wantPrefix)
			}
		})
	}
}

func TestTriggerCoalescesKicks(t *testing.T) {
	store := newFakeStore()
	d := newTestDispatcher(store, &fakeSubmitter{}, nil)
	tr := NewTrigger(d, 1, zerolog.Nop())

	// All three must return immediately even with no consumer running.
	tr.Kick()
	tr.Kick()
	tr.Kick()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tr.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("trigger did not stop on cancel")
	}
}
