// Package handlers exposes the orchestration engine over HTTP. Handlers stay
// thin: validation plus one call into an engine or the store.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/poll"
	"server/internal/promptqueue"
	"server/internal/store"
)

// JobStore is the job-facing slice of the store.
type JobStore interface {
	InsertJob(ctx context.Context, p store.NewJobParams) (string, error)
	GetPromptJob(ctx context.Context, id string) (*domain.PromptGenerationJob, error)
}

// JobPoller reports the current state of one job.
type JobPoller interface {
	Poll(ctx context.Context, jobID string) (poll.Result, error)
}

// DispatchRunner runs one dispatch pass synchronously.
type DispatchRunner interface {
	Dispatch(ctx context.Context) (int, error)
}

// Kicker requests a dispatch pass without waiting for it.
type Kicker interface {
	Kick()
}

// PromptEnqueuer accepts prompt-text work.
type PromptEnqueuer interface {
	EnqueueGeneration(ctx context.Context, p promptqueue.EnqueueParams) (string, error)
	EnqueueEnhancement(ctx context.Context, p promptqueue.EnqueueParams) (string, error)
}

// FileReader loads stored objects for the signed-file gateway.
type FileReader interface {
	Read(ctx context.Context, key string) ([]byte, error)
}

// SignatureVerifier checks signed-URL query parameters for a storage key.
type SignatureVerifier interface {
	Verify(key string, query url.Values) error
}

type App struct {
	Jobs       JobStore
	Poller     JobPoller
	Dispatcher DispatchRunner
	Trigger    Kicker
	Prompts    PromptEnqueuer
	Files      FileReader
	Verifier   SignatureVerifier
	Logger     zerolog.Logger
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]any{
		"error":   code,
		"message": message,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}
