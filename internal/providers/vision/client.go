// Package vision calls a vision-capable chat-completion model to author and
// enhance face-swap prompts from image URLs.
package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrEmptyPrompt indicates the model returned no usable text.
var ErrEmptyPrompt = errors.New("vision: model returned an empty prompt")

// Options configures the vision client.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// Client performs chat-completion calls with image-bearing user messages.
type Client struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

// GenerateRequest produces a fresh face-swap prompt from the input images.
type GenerateRequest struct {
	ReferenceURLs []string
	TargetURL     string
	SwapMode      string
}

// EnhanceRequest rewrites an existing prompt following user instructions.
type EnhanceRequest struct {
	ExistingPrompt   string
	UserInstructions string
	ReferenceURLs    []string
	TargetURL        string
	SwapMode         string
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

const defaultModel = "gpt-4o"

// NewClient constructs a vision client.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("vision: api key is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultModel
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 25 * time.Minute
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Client{
		apiKey:  strings.TrimSpace(opts.APIKey),
		baseURL: baseURL,
		model:   model,
		client:  client,
	}, nil
}

// GeneratePrompt asks the model to describe the edit as a single prompt
// sentence. The reference faces come first, then the target scene.
func (c *Client) GeneratePrompt(ctx context.Context, req GenerateRequest) (string, error) {
	instruction := "Write one concise image-editing prompt that swaps the face(s) " +
		"from the reference image(s) onto the person in the target image. " +
		"Preserve the target's pose, lighting and background. " +
		"Respond with the prompt sentence only."
	if req.SwapMode != "" {
		instruction += " Swap mode: " + req.SwapMode + "."
	}
	parts := []contentPart{{Type: "text", Text: instruction}}
	parts = appendImages(parts, req.ReferenceURLs, req.TargetURL)
	return c.complete(ctx, parts)
}

// EnhancePrompt rewrites an existing prompt under free-text instructions.
func (c *Client) EnhancePrompt(ctx context.Context, req EnhanceRequest) (string, error) {
	instruction := fmt.Sprintf(
		"Improve the following image-editing prompt. Keep its intent, apply the "+
			"user's instructions, and respond with the revised prompt only.\n\n"+
			"Current prompt: %s\n\nInstructions: %s",
		strings.TrimSpace(req.ExistingPrompt), strings.TrimSpace(req.UserInstructions))
	parts := []contentPart{{Type: "text", Text: instruction}}
	parts = appendImages(parts, req.ReferenceURLs, req.TargetURL)
	return c.complete(ctx, parts)
}

func appendImages(parts []contentPart, refs []string, target string) []contentPart {
	for _, u := range refs {
		if strings.TrimSpace(u) == "" {
			continue
		}
		parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: u}})
	}
	if strings.TrimSpace(target) != "" {
		parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: target}})
	}
	return parts
}

func (c *Client) complete(ctx context.Context, parts []contentPart) (string, error) {
	payload := chatRequest{
		Model:       c.model,
		Temperature: 0.4,
		MaxTokens:   400,
		Messages:    []chatMessage{{Role: "user", Content: parts}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("vision: encode request: %w", err)
	}
	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("vision: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("vision: http request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("vision: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var decoded chatResponse
		if err := json.Unmarshal(raw, &decoded); err == nil && decoded.Error.Message != "" {
			return "", fmt.Errorf("vision: status %d: %s", resp.StatusCode, decoded.Error.Message)
		}
		return "", fmt.Errorf("vision: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var decoded chatResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("vision: decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", ErrEmptyPrompt
	}
	text := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyPrompt
	}
	return text, nil
}
