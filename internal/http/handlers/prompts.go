package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"server/internal/promptqueue"
	"server/internal/store"
)

type promptGenerateRequest struct {
	ReferenceURLs []string `json:"reference_urls"`
	TargetURL     string   `json:"target_url"`
	SwapMode      string   `json:"swap_mode"`
	Priority      int      `json:"priority"`
}

type promptEnhanceRequest struct {
	ExistingPrompt   string   `json:"existing_prompt"`
	UserInstructions string   `json:"user_instructions"`
	ReferenceURLs    []string `json:"reference_urls"`
	TargetURL        string   `json:"target_url"`
	SwapMode         string   `json:"swap_mode"`
	Priority         int      `json:"priority"`
}

// PromptGenerate queues vision analysis that writes a fresh swap prompt.
func (a *App) PromptGenerate(w http.ResponseWriter, r *http.Request) {
	var req promptGenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.TargetURL == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "target_url is required")
		return
	}
	id, err := a.Prompts.EnqueueGeneration(r.Context(), promptqueue.EnqueueParams{
		ReferenceURLs: req.ReferenceURLs,
		TargetURL:     req.TargetURL,
		SwapMode:      req.SwapMode,
		Priority:      req.Priority,
	})
	if err != nil {
		a.Logger.Error().Err(err).Msg("enqueue prompt generation failed")
		a.error(w, http.StatusInternalServerError, "internal", "could not enqueue prompt job")
		return
	}
	a.json(w, http.StatusAccepted, map[string]any{"id": id, "status": "queued"})
}

// PromptEnhance queues an improvement pass over a prompt the caller already has.
func (a *App) PromptEnhance(w http.ResponseWriter, r *http.Request) {
	var req promptEnhanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.ExistingPrompt == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "existing_prompt is required")
		return
	}
	id, err := a.Prompts.EnqueueEnhancement(r.Context(), promptqueue.EnqueueParams{
		ExistingPrompt:   req.ExistingPrompt,
		UserInstructions: req.UserInstructions,
		ReferenceURLs:    req.ReferenceURLs,
		TargetURL:        req.TargetURL,
		SwapMode:         req.SwapMode,
		Priority:         req.Priority,
	})
	if err != nil {
		a.Logger.Error().Err(err).Msg("enqueue prompt enhancement failed")
		a.error(w, http.StatusInternalServerError, "internal", "could not enqueue prompt job")
		return
	}
	a.json(w, http.StatusAccepted, map[string]any{"id": id, "status": "queued"})
}

// GetPrompt reports the state of one prompt job, including the generated text
// once it completes.
func (a *App) GetPrompt(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	pj, err := a.Jobs.GetPromptJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrPromptJobNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "prompt job not found")
			return
		}
		a.Logger.Error().Err(err).Str("prompt_job_id", id).Msg("get prompt job failed")
		a.error(w, http.StatusInternalServerError, "internal", "could not read prompt job")
		return
	}
	body := map[string]any{
		"id":        pj.ID,
		"operation": string(pj.Operation),
		"status":    string(pj.Status),
	}
	if pj.GeneratedPrompt != "" {
		body["prompt"] = pj.GeneratedPrompt
	}
	if pj.ErrorMessage != "" {
		body["error"] = pj.ErrorMessage
	}
	a.json(w, http.StatusOK, body)
}
