package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"server/internal/domain"
	"server/internal/faults"
	"server/internal/gateway"
	"server/internal/middleware"
	"server/internal/store"
)

type createJobRequest struct {
	RowID               string   `json:"row_id"`
	VariantRowID        string   `json:"variant_row_id"`
	TeamID              string   `json:"team_id"`
	ReferenceImagePaths []string `json:"reference_image_paths"`
	TargetImagePath     string   `json:"target_image_path"`
	Prompt              string   `json:"prompt"`
	Width               int      `json:"width"`
	Height              int      `json:"height"`
	GenerationModel     string   `json:"generation_model"`
	PromptJobID         string   `json:"prompt_job_id"`
}

// CreateJob enqueues a generation job. The job starts in queued and moves only
// when a dispatch pass claims it, so the handler kicks one off before
// returning.
func (a *App) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if (req.RowID == "") == (req.VariantRowID == "") {
		a.error(w, http.StatusBadRequest, "bad_request", "exactly one of row_id and variant_row_id is required")
		return
	}
	if req.GenerationModel == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "generation_model is required")
		return
	}
	target, err := gateway.NormalizePath(req.TargetImagePath)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "target_image_path is invalid")
		return
	}
	refs := make([]string, 0, len(req.ReferenceImagePaths))
	for _, p := range req.ReferenceImagePaths {
		normalized, err := gateway.NormalizePath(p)
		if err != nil {
			// References are best-effort all the way through the pipeline.
			a.Logger.Warn().Str("path", p).Msg("dropping invalid reference image path")
			continue
		}
		refs = append(refs, normalized)
	}

	id, err := a.Jobs.InsertJob(r.Context(), store.NewJobParams{
		RowID:        req.RowID,
		VariantRowID: req.VariantRowID,
		TeamID:       req.TeamID,
		PromptJobID:  req.PromptJobID,
		Payload: domain.RequestPayload{
			ReferenceImagePaths: refs,
			TargetImagePath:     target,
			Prompt:              req.Prompt,
			Width:               req.Width,
			Height:              req.Height,
			GenerationModel:     req.GenerationModel,
			VariantRowID:        req.VariantRowID,
		},
	})
	if err != nil {
		a.Logger.Error().Err(err).Msg("insert job failed")
		a.error(w, http.StatusInternalServerError, "internal", "could not enqueue job")
		return
	}
	if a.Trigger != nil {
		a.Trigger.Kick()
	}
	a.json(w, http.StatusCreated, map[string]any{
		"id":     id,
		"status": string(domain.JobStatusQueued),
	})
}

// GetJob polls the job once and reports what the poll observed. Reads are
// provider-driven: this call is what advances the job for clients that do not
// run a worker.
func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := a.Poller.Poll(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", id).Msg("poll failed")
		a.error(w, http.StatusInternalServerError, "internal", "could not read job")
		return
	}

	body := map[string]any{
		"id":     res.JobID,
		"status": string(res.Status),
	}
	if !res.Status.Terminal() {
		body["queue_position"] = res.QueuePosition
	}
	if res.Status == domain.JobStatusFailed && res.Error != "" {
		body["error"] = res.Error
		locale := middleware.LocaleFromContext(r.Context())
		d := faults.Describe(faults.CategoryOf(res.Error), locale)
		body["error_display"] = map[string]string{
			"title":       d.Title,
			"description": d.Description,
			"action":      d.Action,
		}
	}
	a.json(w, http.StatusOK, body)
}

// Dispatch runs one synchronous dispatch pass and reports how many jobs were
// claimed. Exposed for cron-style deployments without a resident worker.
func (a *App) Dispatch(w http.ResponseWriter, r *http.Request) {
	claimed, err := a.Dispatcher.Dispatch(r.Context())
	if err != nil {
		a.Logger.Error().Err(err).Msg("dispatch pass failed")
		a.error(w, http.StatusInternalServerError, "internal", "dispatch failed")
		return
	}
	a.json(w, http.StatusOK, map[string]any{"claimed": claimed})
}
