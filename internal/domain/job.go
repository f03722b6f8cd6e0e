package domain

import (
	"encoding/json"
	"time"
)

// JobStatus enumerates generation job lifecycle states.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusSubmitted JobStatus = "submitted"
	JobStatusRunning   JobStatus = "running"
	JobStatusSaving    JobStatus = "saving"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// Active reports whether the job occupies a provider concurrency slot.
func (s JobStatus) Active() bool {
	return s == JobStatusSubmitted || s == JobStatusRunning || s == JobStatusSaving
}

// PromptStatus tracks the dependency link between a Job and a PromptGenerationJob.
type PromptStatus string

const (
	PromptStatusGenerating PromptStatus = "generating"
	PromptStatusCompleted  PromptStatus = "completed"
	PromptStatusFailed     PromptStatus = "failed"
)

// RequestPayload is the stored request for a generation job. Reference images
// and the target are storage paths until the dispatcher signs them.
type RequestPayload struct {
	ReferenceImagePaths []string `json:"reference_image_paths,omitempty"`
	TargetImagePath     string   `json:"target_image_path"`
	Prompt              string   `json:"prompt"`
	Width               int      `json:"width"`
	Height              int      `json:"height"`
	GenerationModel     string   `json:"generation_model"`
	VariantRowID        string   `json:"variant_row_id,omitempty"`
}

// Job encapsulates the lifecycle of one image-generation request. Exactly one
// of RowID or VariantRowID identifies the parent aggregate.
type Job struct {
	ID                string
	RowID             string
	VariantRowID      string
	TeamID            string
	Status            JobStatus
	RequestPayload    RequestPayload
	ProviderRequestID string
	PromptJobID       string
	PromptStatus      PromptStatus
	ErrorMessage      string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsVariant reports whether outputs route to the variant-image table.
func (j *Job) IsVariant() bool {
	return j.VariantRowID != ""
}

// Age returns the time elapsed since the job was created.
func (j *Job) Age(now time.Time) time.Duration {
	return now.Sub(j.CreatedAt)
}

// DecodePayload unmarshals raw request payload bytes.
func DecodePayload(raw []byte) (RequestPayload, error) {
	var p RequestPayload
	if len(raw) == 0 {
		return p, nil
	}
	err := json.Unmarshal(raw, &p)
	return p, err
}
