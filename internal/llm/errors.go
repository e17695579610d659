package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/haasonsaas/recallbench/internal/retry"
)

// FailoverReason categorizes why a provider request failed.
type FailoverReason string

const (
	// ReasonBilling indicates payment/quota issues (HTTP 402)
	ReasonBilling FailoverReason = "billing"

	// ReasonRateLimit indicates rate limiting (HTTP 429)
	ReasonRateLimit FailoverReason = "rate_limit"

	// ReasonAuth indicates authentication failure (HTTP 401, 403)
	ReasonAuth FailoverReason = "auth"

	// ReasonTimeout indicates request timeout
	ReasonTimeout FailoverReason = "timeout"

	// ReasonServerError indicates server-side issues (HTTP 5xx)
	ReasonServerError FailoverReason = "server_error"

	// ReasonInvalidRequest indicates client-side issues (HTTP 400)
	ReasonInvalidRequest FailoverReason = "invalid_request"

	// ReasonModelUnavailable indicates the model is not available
	ReasonModelUnavailable FailoverReason = "model_unavailable"

	// ReasonContentFilter indicates content was blocked by safety filters
	ReasonContentFilter FailoverReason = "content_filter"

	// ReasonMalformed indicates a reply that carried no usable answer
	ReasonMalformed FailoverReason = "malformed"

	// ReasonUnknown indicates an unclassified error
	ReasonUnknown FailoverReason = "unknown"
)

// Kind maps the reason onto the retry taxonomy.
func (r FailoverReason) Kind() retry.Kind {
	switch r {
	case ReasonRateLimit:
		return retry.KindRateLimited
	case ReasonTimeout, ReasonServerError, ReasonUnknown:
		return retry.KindTransient
	case ReasonMalformed:
		return retry.KindEmpty
	default:
		return retry.KindPermanent
	}
}

// ProviderError represents a structured error from an LLM provider.
type ProviderError struct {
	Reason   FailoverReason
	Provider string
	Model    string
	Status   int
	Code     string
	Message  string
	// Advised is the provider's Retry-After hint, if any.
	Advised time.Duration
	Cause   error
}

func (e *ProviderError) Error() string {
	parts := []string{fmt.Sprintf("[%s]", e.Reason)}
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Code != "" {
		parts = append(parts, "code="+e.Code)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// RetryKind implements retry.Classifier.
func (e *ProviderError) RetryKind() retry.Kind {
	return e.Reason.Kind()
}

// RetryAfter implements retry.Advisor.
func (e *ProviderError) RetryAfter() time.Duration {
	return e.Advised
}

// NewProviderError creates a ProviderError classified from cause.
func NewProviderError(provider, model string, cause error) *ProviderError {
	err := &ProviderError{
		Provider: provider,
		Model:    model,
		Cause:    cause,
		Reason:   ReasonUnknown,
	}
	if cause != nil {
		err.Message = cause.Error()
		err.Reason = ClassifyError(cause)
	}
	return err
}

// WithStatus adds the HTTP status and reclassifies.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.Status = status
	if reason := classifyStatusCode(status); reason != ReasonUnknown {
		e.Reason = reason
	}
	return e
}

// WithCode adds a provider-specific error code.
func (e *ProviderError) WithCode(code string) *ProviderError {
	e.Code = code
	if reason := classifyErrorCode(code); reason != ReasonUnknown {
		e.Reason = reason
	}
	return e
}

// WithRetryAfter records the provider's advised wait.
func (e *ProviderError) WithRetryAfter(d time.Duration) *ProviderError {
	e.Advised = d
	return e
}

// WithMessage sets the error message.
func (e *ProviderError) WithMessage(msg string) *ProviderError {
	e.Message = msg
	return e
}

// ClassifyError inspects an error message and returns a FailoverReason.
func ClassifyError(err error) FailoverReason {
	if err == nil {
		return ReasonUnknown
	}
	errStr := strings.ToLower(err.Error())

	switch {
	case containsAny(errStr, "timeout", "deadline exceeded", "etimedout"):
		return ReasonTimeout
	case containsAny(errStr, "rate limit", "rate_limit", "too many requests", "throttl", "429"):
		return ReasonRateLimit
	case containsAny(errStr, "unauthorized", "invalid api key", "invalid_api_key", "authentication", "401", "403"):
		return ReasonAuth
	case containsAny(errStr, "billing", "payment", "quota", "insufficient", "402"):
		return ReasonBilling
	case containsAny(errStr, "content_filter", "content policy", "safety", "blocked"):
		return ReasonContentFilter
	case containsAny(errStr, "model not found", "model_not_found", "does not exist"):
		return ReasonModelUnavailable
	case containsAny(errStr, "internal server", "server error", "unavailable", "500", "502", "503", "504"):
		return ReasonServerError
	}
	return ReasonUnknown
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func classifyStatusCode(status int) FailoverReason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ReasonAuth
	case status == http.StatusPaymentRequired:
		return ReasonBilling
	case status == http.StatusTooManyRequests:
		return ReasonRateLimit
	case status == http.StatusBadRequest:
		return ReasonInvalidRequest
	case status == http.StatusNotFound:
		return ReasonModelUnavailable
	case status == http.StatusRequestTimeout:
		return ReasonTimeout
	case status >= 500:
		return ReasonServerError
	default:
		return ReasonUnknown
	}
}

func classifyErrorCode(code string) FailoverReason {
	switch strings.ToLower(code) {
	case "rate_limit_error", "rate_limit_exceeded", "throttlingexception", "resource_exhausted":
		return ReasonRateLimit
	case "authentication_error", "invalid_api_key", "accessdeniedexception", "unauthenticated", "permission_denied":
		return ReasonAuth
	case "billing_error", "insufficient_quota":
		return ReasonBilling
	case "model_not_found", "model_not_available", "resourcenotfoundexception":
		return ReasonModelUnavailable
	case "content_policy_violation", "content_filter":
		return ReasonContentFilter
	case "server_error", "internal_error", "overloaded_error", "internalserverexception",
		"serviceunavailableexception", "modeltimeoutexception", "unavailable":
		return ReasonServerError
	case "invalid_request_error", "validationexception", "invalid_argument":
		return ReasonInvalidRequest
	default:
		return ReasonUnknown
	}
}

// GetProviderError extracts a ProviderError from an error chain.
func GetProviderError(err error) (*ProviderError, bool) {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr, true
	}
	return nil, false
}

// malformed reports a reply that decoded but carried no answer text.
func malformed(provider, model, msg string) *ProviderError {
	return &ProviderError{Reason: ReasonMalformed, Provider: provider, Model: model, Message: msg}
}
