package issue_tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

// Domain failures. These are never retried and always reach the user with a
// specific message.
var (
	ErrNotFound     = errors.New("not found on platform")
	ErrForbidden    = errors.New("permission denied by platform")
	ErrUnauthorized = errors.New("platform credentials rejected")
	ErrValidation   = errors.New("platform rejected the request")
)

// StatusError is a platform call that got an HTTP answer.
type StatusError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrNotFound) and friends match on the status code.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrForbidden:
		return e.StatusCode == http.StatusForbidden
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrValidation:
		return e.StatusCode == http.StatusBadRequest ||
			e.StatusCode == http.StatusConflict ||
			e.StatusCode == http.StatusUnprocessableEntity
	}
	return false
}

func newStatusError(op string, code int, err error) error {
	if code == 0 {
		return fmt.Errorf("%s: %w", op, err)
	}
	return &StatusError{Op: op, StatusCode: code, Err: err}
}

// IsRetryable reports whether a platform call failure is transient: a
// per-call timeout, 429, 5xx, or a network error with no HTTP answer.
func IsRetryable(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var se *StatusError
	if errors.As(err, &se) {
		retry := se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= http.StatusInternalServerError
		if retry {
			slog.WarnContext(ctx, "platform call failed transiently, will retry",
				"op", se.Op, "status_code", se.StatusCode)
		}
		return retry
	}

	return true
}

// UserMessage turns a domain failure into a short sentence for a reply.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "the repository or item could not be found, or the bot cannot see it"
	case errors.Is(err, ErrForbidden):
		return "the bot does not have permission to do that in this repository"
	case errors.Is(err, ErrUnauthorized):
		return "the bot's platform credentials were rejected"
	case errors.Is(err, ErrValidation):
		return "the platform rejected the request as invalid"
	default:
		return "the platform did not respond in time, please try again later"
	}
}
