package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// Sentinel errors classifying LLM call failures. Callers branch on these via
// errors.Is; providers wrap them with call-site detail.
var (
	// ErrTimeout indicates the call exceeded its deadline. Not retryable at
	// the same layer.
	ErrTimeout = errors.New("llm: request timed out")

	// ErrRateLimited indicates the backend rejected the call due to quota.
	// Retryable with jitter.
	ErrRateLimited = errors.New("llm: rate limited")

	// ErrInvalidRequest indicates the request was malformed or rejected by
	// validation. Not retryable.
	ErrInvalidRequest = errors.New("llm: invalid request")

	// ErrContentFiltered indicates the backend refused the content.
	// Not retryable.
	ErrContentFiltered = errors.New("llm: content filtered")
)

// Retryable reports whether err may succeed on a retry with jitter.
func Retryable(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// Classify maps a transport-level error and optional HTTP status code onto one
// of the package sentinels, wrapping the original error. Unrecognised errors
// are returned unchanged.
func Classify(err error, status int) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return errors.Join(ErrTimeout, err)
	case status == http.StatusTooManyRequests:
		return errors.Join(ErrRateLimited, err)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return errors.Join(ErrInvalidRequest, err)
	case status == http.StatusForbidden && strings.Contains(err.Error(), "content"):
		return errors.Join(ErrContentFiltered, err)
	}
	return err
}
