package faults

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// Category is the closed set of diagnostic categories stored on failed jobs.
type Category string

const (
	CreditsInsufficient    Category = "credits_insufficient"
	QuotaExceeded          Category = "quota_exceeded"
	DimensionsInvalid      Category = "dimensions_invalid"
	DimensionsOutOfRange   Category = "dimensions_out_of_range"
	PromptEmpty            Category = "prompt_empty"
	PromptGenerationFailed Category = "prompt_generation_failed"
	ImageMissing           Category = "image_missing"
	ImagePathInvalid       Category = "image_path_invalid"
	RequestMalformed       Category = "request_malformed"
	NetworkError           Category = "network_error"
	Timeout                Category = "timeout"
	RateLimited            Category = "rate_limited"
	APIBadRequest          Category = "api_bad_request"
	APIUnauthorized        Category = "api_unauthorized"
	APIForbidden           Category = "api_forbidden"
	APIServerError         Category = "api_server_error"
	ProviderIDMissing      Category = "provider_id_missing"
	DatabaseError          Category = "database_error"
	Unknown                Category = "unknown"
)

// Wrap renders the stored form "<category>: <message>".
func Wrap(cat Category, message string) string {
	message = strings.TrimSpace(message)
	if message == "" {
		message = "no detail"
	}
	return fmt.Sprintf("%s: %s", cat, message)
}

// CategoryOf extracts the category prefix from a stored "<category>: <message>"
// string, or Unknown when the prefix is not part of the closed set.
func CategoryOf(stored string) Category {
	idx := strings.Index(stored, ":")
	if idx <= 0 {
		return Unknown
	}
	cat := Category(strings.TrimSpace(stored[:idx]))
	if _, ok := catalog[cat]; ok {
		return cat
	}
	return Unknown
}

// Classify maps a raw outcome to a category. Order is contractual:
// connection-level errors first, then the HTTP status code, then substring
// matching over message and body, then Unknown.
func Classify(err error, statusCode int, body string) Category {
	if cat, ok := classifyConnErr(err); ok {
		return cat
	}
	if cat, ok := classifyStatus(statusCode); ok {
		return cat
	}
	text := body
	if err != nil {
		text = err.Error() + " " + body
	}
	return classifyText(text)
}

// ClassifyError classifies a plain error with no HTTP response attached.
func ClassifyError(err error) Category {
	if err == nil {
		return Unknown
	}
	return Classify(err, 0, "")
}

func classifyConnErr(err error) (Category, bool) {
	if err == nil {
		return Unknown, false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout, true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Timeout, true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return NetworkError, true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return NetworkError, true
	}
	return Unknown, false
}

func classifyStatus(code int) (Category, bool) {
	switch {
	case code == 400:
		return APIBadRequest, true
	case code == 401:
		return APIUnauthorized, true
	case code == 402:
		return CreditsInsufficient, true
	case code == 403:
		return APIForbidden, true
	case code == 429:
		return RateLimited, true
	case code >= 500:
		return APIServerError, true
	}
	return Unknown, false
}

func classifyText(text string) Category {
	lower := strings.ToLower(text)
	contains := func(subs ...string) bool {
		for _, s := range subs {
			if strings.Contains(lower, s) {
				return true
			}
		}
		return false
	}
	switch {
	case contains("insufficient credit", "not enough credit", "balance"):
		return CreditsInsufficient
	case contains("quota"):
		return QuotaExceeded
	case contains("dimension", "resolution") && contains("range", "exceed", "maximum", "minimum"):
		return DimensionsOutOfRange
	case contains("dimension", "resolution", "aspect ratio"):
		return DimensionsInvalid
	case contains("prompt is empty", "empty prompt", "prompt required"):
		return PromptEmpty
	case contains("prompt generation", "prompt_generation"):
		return PromptGenerationFailed
	case contains("image not found", "missing image", "no image"):
		return ImageMissing
	case contains("invalid image path", "invalid path", "unsignable"):
		return ImagePathInvalid
	case contains("timeout", "timed out", "deadline exceeded"):
		return Timeout
	case contains("connection reset", "connection refused", "broken pipe", "no such host", "network"):
		return NetworkError
	case contains("rate limit", "too many requests"):
		return RateLimited
	case contains("provider id", "request id missing", "missing id"):
		return ProviderIDMissing
	case contains("malformed", "invalid request", "bad request", "unprocessable"):
		return RequestMalformed
	case contains("database", "sql", "constraint", "deadlock"):
		return DatabaseError
	default:
		return Unknown
	}
}
