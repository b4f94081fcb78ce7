package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields are attached to every record logged with a context that carries them.
// A pipeline run sets owner/repo/issue once and every stage below it inherits them.
type LogFields struct {
	Owner       *string // Repository owner (namespace on GitLab)
	Repo        *string // Repository name
	IssueNumber *int64  // Issue or merge request the trigger came from
	RunID       *int64  // Snowflake id assigned when the trigger was enqueued
	MessageID   *string // Redis stream message ID
	Task        *string // Resolved pipeline variant (plan, approve, refine, cancel)
	Component   string  // Component name, e.g. "planner.brain.analyzer"
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, newer non-nil/non-empty values win.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, next LogFields) LogFields {
	result := existing

	if next.Owner != nil {
		result.Owner = next.Owner
	}
	if next.Repo != nil {
		result.Repo = next.Repo
	}
	if next.IssueNumber != nil {
		result.IssueNumber = next.IssueNumber
	}
	if next.RunID != nil {
		result.RunID = next.RunID
	}
	if next.MessageID != nil {
		result.MessageID = next.MessageID
	}
	if next.Task != nil {
		result.Task = next.Task
	}
	if next.Component != "" {
		result.Component = next.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful inline: logger.WithLogFields(ctx, logger.LogFields{RunID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate shortens s to maxLen runes, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
