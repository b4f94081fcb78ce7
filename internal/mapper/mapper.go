package mapper

import (
	"context"
	"errors"
)

type CanonicalEventType string

const (
	EventIssueCreated CanonicalEventType = "issue_created"
	EventReply        CanonicalEventType = "reply"
	EventPRCreated    CanonicalEventType = "pull_request_created"
)

var (
	ErrUnsupportedEvent = errors.New("unsupported webhook event")
	// ErrIgnoredNote marks comments that can never be commands, such as
	// system notes or notes on commits and snippets.
	ErrIgnoredNote = errors.New("note is not a command")
)

// EventMapper classifies a provider webhook into a canonical event type.
type EventMapper interface {
	Map(ctx context.Context, body map[string]any, headers map[string]string) (CanonicalEventType, error)
}
