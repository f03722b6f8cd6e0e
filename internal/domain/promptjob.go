package domain

import "time"

// PromptOperation enumerates the two kinds of prompt-text work.
type PromptOperation string

const (
	PromptOpGenerate PromptOperation = "generate"
	PromptOpEnhance  PromptOperation = "enhance"
)

// PromptJobStatus enumerates prompt job lifecycle states.
type PromptJobStatus string

const (
	PromptJobQueued     PromptJobStatus = "queued"
	PromptJobProcessing PromptJobStatus = "processing"
	PromptJobCompleted  PromptJobStatus = "completed"
	PromptJobFailed     PromptJobStatus = "failed"
)

// PromptGenerationJob is one unit of prompt-authoring work consumed by the
// prompt queue. Generate takes the image URLs; enhance additionally takes the
// existing prompt and free-text instructions.
type PromptGenerationJob struct {
	ID               string
	Operation        PromptOperation
	ReferenceURLs    []string
	TargetURL        string
	ExistingPrompt   string
	UserInstructions string
	SwapMode         string
	Status           PromptJobStatus
	Priority         int
	RetryCount       int
	MaxRetries       int
	GeneratedPrompt  string
	ErrorMessage     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// RetriesLeft reports whether another attempt is allowed.
func (p *PromptGenerationJob) RetriesLeft() bool {
	return p.RetryCount < p.MaxRetries
}
