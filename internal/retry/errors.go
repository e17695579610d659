package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Kind classifies the outcome of a single attempt.
type Kind string

const (
	KindOK          Kind = "ok"
	KindRateLimited Kind = "rate_limited"
	KindTransient   Kind = "transient_error"
	KindEmpty       Kind = "empty_response"
	// KindPermanent marks failures retrying cannot repair (bad credentials,
	// malformed requests). The call stops after one attempt.
	KindPermanent Kind = "permanent_error"
	// KindCanceled marks a call abandoned because its context was cancelled.
	KindCanceled Kind = "canceled"
)

// Retryable reports whether another attempt may succeed.
func (k Kind) Retryable() bool {
	switch k {
	case KindRateLimited, KindTransient, KindEmpty:
		return true
	default:
		return false
	}
}

var (
	// ErrRateLimited reports the service asked the caller to slow down.
	ErrRateLimited = errors.New("rate limited")
	// ErrTransient reports a network, timeout or 5xx-class failure.
	ErrTransient = errors.New("transient service error")
	// ErrEmptyResponse reports a call that returned no usable content.
	ErrEmptyResponse = errors.New("empty response")
	// ErrRetriesExhausted reports a call that ran out of attempts.
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// ServiceError is an attempt failure with an explicit classification.
// Service clients return it so the Client does not have to guess.
type ServiceError struct {
	Kind       Kind
	StatusCode int
	// Advised is the wait the service asked for, if any.
	Advised time.Duration
	Err     error
}

func (e *ServiceError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *ServiceError) Is(target error) bool {
	switch target {
	case ErrRateLimited:
		return e.Kind == KindRateLimited
	case ErrTransient:
		return e.Kind == KindTransient
	case ErrEmptyResponse:
		return e.Kind == KindEmpty
	}
	return false
}

// RetryKind implements Classifier.
func (e *ServiceError) RetryKind() Kind {
	return e.Kind
}

// RetryAfter implements Advisor.
func (e *ServiceError) RetryAfter() time.Duration {
	return e.Advised
}

// RateLimited returns a rate-limit failure with an optional advised wait.
func RateLimited(status int, advised time.Duration, err error) error {
	return &ServiceError{Kind: KindRateLimited, StatusCode: status, Advised: advised, Err: err}
}

// Transient returns a retryable failure.
func Transient(status int, err error) error {
	return &ServiceError{Kind: KindTransient, StatusCode: status, Err: err}
}

// Empty returns an empty-response failure.
func Empty(reason string) error {
	return &ServiceError{Kind: KindEmpty, Err: errors.New(reason)}
}

// PermanentError is an error that should not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps an error to indicate it should not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent checks if an error is permanent (shouldn't retry).
func IsPermanent(err error) bool {
	var permanent *PermanentError
	return errors.As(err, &permanent)
}

// Classifier is implemented by errors that know their retry kind.
type Classifier interface {
	RetryKind() Kind
}

// Advisor is implemented by errors that carry a service-advised wait.
type Advisor interface {
	RetryAfter() time.Duration
}

// Classify maps an attempt error onto a Kind and the advised wait.
// Unrecognised errors are treated as transient.
func Classify(err error) (Kind, time.Duration) {
	if err == nil {
		return KindOK, 0
	}

	var advised time.Duration
	var adv Advisor
	if errors.As(err, &adv) {
		advised = adv.RetryAfter()
	}

	if IsPermanent(err) {
		return KindPermanent, 0
	}
	var cls Classifier
	if errors.As(err, &cls) {
		return cls.RetryKind(), advised
	}

	switch {
	case errors.Is(err, context.Canceled):
		return KindCanceled, 0
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited, advised
	case errors.Is(err, ErrEmptyResponse):
		return KindEmpty, 0
	case errors.Is(err, context.DeadlineExceeded):
		return KindTransient, 0
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient, 0
	}
	return KindTransient, advised
}

// EmptyDetector recognises answers that carry no usable content.
type EmptyDetector struct {
	// Sentinels are case-insensitive phrases that mark a non-answer.
	Sentinels []string
}

// DefaultSentinels are phrases assistants emit instead of an answer.
var DefaultSentinels = []string{"having trouble responding"}

// Check returns an empty-response error for blank text or text containing
// a sentinel, and nil otherwise.
func (d EmptyDetector) Check(text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Empty("blank content")
	}
	lower := strings.ToLower(trimmed)
	for _, s := range d.Sentinels {
		if s != "" && strings.Contains(lower, strings.ToLower(s)) {
			return Empty(fmt.Sprintf("sentinel %q", s))
		}
	}
	return nil
}

// MaxRetryAfter is the longest Retry-After value accepted from a service.
const MaxRetryAfter = 24 * time.Hour

// ParseRetryAfter reads a Retry-After header value given either as
// seconds or as an HTTP date. Unparseable, past, non-finite or values
// beyond MaxRetryAfter yield zero.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if math.IsNaN(secs) || math.IsInf(secs, 0) || secs <= 0 || secs > MaxRetryAfter.Seconds() {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := t.Sub(now); d > 0 && d <= MaxRetryAfter {
			return d
		}
	}
	return 0
}
