package llm

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
)

var (
	// ErrEmptyCompletion means the provider answered without any text. It is a
	// failure, never an empty-but-valid result.
	ErrEmptyCompletion = errors.New("llm returned an empty completion")
	// ErrMalformedResponse means the completion could not be parsed into the
	// requested shape.
	ErrMalformedResponse = errors.New("llm response did not match the expected shape")
)

// Client is the contract every AI call site depends on.
type Client interface {
	// Chat asks for a structured answer and decodes it into result.
	Chat(ctx context.Context, req Request, result any) (*Response, error)
	// Complete asks for free text.
	Complete(ctx context.Context, req Request) (*Response, error)
	Model() string
}

type Request struct {
	SystemPrompt string
	UserPrompt   string
	SchemaName   string
	Schema       any
	MaxTokens    int
	Temperature  *float64 // nil = model default, explicit 0 = deterministic
}

type Response struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
}

// IsRetryable classifies an AI call failure. ctx is the caller's context, not
// the per-call timeout context: a per-call deadline is retryable while the
// caller is still alive, a cancelled caller is not.
func IsRetryable(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}

	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		slog.DebugContext(ctx, "llm error not retryable: context cancelled")
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		slog.WarnContext(ctx, "llm call timed out, will retry")
		return true
	}

	if errors.Is(err, ErrEmptyCompletion) || errors.Is(err, ErrMalformedResponse) {
		slog.WarnContext(ctx, "llm response unusable, will retry", "error", err)
		return true
	}

	var openaiErr *openai.Error
	if errors.As(err, &openaiErr) {
		return retryableStatus(ctx, openaiErr.StatusCode)
	}

	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		return retryableStatus(ctx, anthropicErr.StatusCode)
	}

	// Network errors (no API response) are generally retryable
	slog.WarnContext(ctx, "llm network error, will retry", "error", err)
	return true
}

func retryableStatus(ctx context.Context, code int) bool {
	switch {
	case code == http.StatusTooManyRequests:
		slog.WarnContext(ctx, "llm rate limited, will retry", "status_code", code)
		return true
	case code >= http.StatusInternalServerError:
		slog.WarnContext(ctx, "llm server error, will retry", "status_code", code)
		return true
	default:
		slog.ErrorContext(ctx, "llm client error, not retryable", "status_code", code)
		return false
	}
}
