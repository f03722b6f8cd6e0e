package synthesis

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

	"github.com/rs/zerolog"

	"server/internal/infra"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("synthesis: api key is required")

// ErrRequestIDMissing indicates a 2xx submission response that carried no
// provider-assigned identifier in any known shape.
var ErrRequestIDMissing = errors.New("synthesis: provider id missing in response")

// Options configures the image-synthesis provider client.
type Options struct {
	APIKey        string
	BaseURL       string
	SubmitTimeout time.Duration
	PollTimeout   time.Duration
	HTTPClient    *http.Client
	Logger        *infra.Logger
	RetryDelay    time.Duration
}

// Client performs HTTP calls against the synthesis provider: one POST to
// submit a generation and one GET per poll of its result.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	pollClient *http.Client
	logger     *infra.Logger
	retryDelay time.Duration
	sleep      func(time.Duration)
}

// Prediction is the normalized provider result payload.
type Prediction struct {
	ID      string
	Status  string
	Outputs []string
	Error   string
}

// Terminal provider statuses.
const (
	StatusCreated    = "created"
	StatusProcessing = "processing"
	StatusSucceeded  = "succeeded"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Succeeded reports whether the provider considers the prediction done.
func (p *Prediction) Succeeded() bool {
	return p.Status == StatusSucceeded || p.Status == StatusCompleted
}

// InFlight reports whether the provider is still working on the prediction.
// An absent status is treated as in flight.
func (p *Prediction) InFlight() bool {
	return p.Status == StatusCreated || p.Status == StatusProcessing || p.Status == ""
}

type envelope struct {
	Code      json.Number `json:"code"`
	Message   string      `json:"message"`
	ID        string      `json:"id"`
	RequestID string      `json:"request_id"`
	Data      struct {
		ID        string   `json:"id"`
		RequestID string   `json:"request_id"`
		Status    string   `json:"status"`
		Outputs   []string `json:"outputs"`
		Error     string   `json:"error"`
	} `json:"data"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.wavespeed.ai"
	}
	submitTimeout := opts.SubmitTimeout
	if submitTimeout <= 0 {
		submitTimeout = 10 * time.Minute
	}
	pollTimeout := opts.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = 30 * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: submitTimeout}
	}
	pollClient := &http.Client{Timeout: pollTimeout, Transport: httpClient.Transport}
	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		httpClient: httpClient,
		pollClient: pollClient,
		logger:     logger,
		retryDelay: retryDelay,
		sleep:      time.Sleep,
	}, nil
}

// Submit posts a generation request for the given model and returns the
// provider-assigned request id. A retriable outcome (408/429/5xx gateway
// codes, reset or timeout) is retried exactly once after a fixed delay; any
// other failure is terminal for this attempt.
func (c *Client) Submit(ctx context.Context, model string, req Request) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("synthesis: encode request: %w", err)
	}
	endpoint := c.baseURL + "/api/v3/" + strings.TrimLeft(model, "/")

	id, retriable, err := c.submitOnce(ctx, endpoint, body)
	if err == nil {
		return id, nil
	}
	if !retriable {
		return "", err
	}
	c.logger.Warn().Err(err).Str("model", model).Msg("synthesis: retriable submit failure, retrying once")
	c.sleep(c.retryDelay)
	id, _, err = c.submitOnce(ctx, endpoint, body)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (c *Client) submitOnce(ctx context.Context, endpoint string, body []byte) (string, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("synthesis: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", retriableTransportErr(err), fmt.Errorf("synthesis: submit: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", true, fmt.Errorf("synthesis: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		err := &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
		return "", retriableStatus(resp.StatusCode), err
	}
	var decoded envelope
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", false, fmt.Errorf("synthesis: decode response: %w", err)
	}
	id := firstNonEmpty(decoded.Data.ID, decoded.Data.RequestID, decoded.ID, decoded.RequestID)
	if id == "" {
		return "", false, ErrRequestIDMissing
	}
	return id, false, nil
}

// Result fetches the current prediction state. No internal retry: the caller
// polls again on the next pass, and a duplicated side effect is worse than a
// late one.
func (c *Client) Result(ctx context.Context, requestID string) (*Prediction, error) {
	endpoint := fmt.Sprintf("%s/api/v3/predictions/%s/result", c.baseURL, requestID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("synthesis: build result request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.pollClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("synthesis: poll result: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("synthesis: read result: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	var decoded envelope
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("synthesis: decode result: %w", err)
	}
	pred := &Prediction{
		ID:      firstNonEmpty(decoded.Data.ID, decoded.Data.RequestID, requestID),
		Status:  strings.ToLower(strings.TrimSpace(decoded.Data.Status)),
		Outputs: decoded.Data.Outputs,
		Error:   firstNonEmpty(decoded.Data.Error, decoded.Message),
	}
	return pred, nil
}

// StatusError carries a non-2xx provider response for classification.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("synthesis: status %d: %s", e.Code, e.Body)
}

func retriableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func retriableTransportErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "EOF")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
