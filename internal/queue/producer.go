package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/larp0/uwularpy-sub000/internal/model"
	"github.com/redis/go-redis/v9"
)

// Stream field names.
const (
	fieldRunID     = "run_id"
	fieldPayload   = "payload"
	fieldAttempt   = "attempt"
	fieldTraceID   = "trace_id"
	fieldLastError = "last_error"
	fieldError     = "error"
)

type TriggerMessage struct {
	RunID   int64
	Trigger model.Trigger
	TraceID *string
	Attempt int
}

type Producer interface {
	Enqueue(ctx context.Context, msg TriggerMessage) error
	Close() error
}

type redisProducer struct {
	client *redis.Client
	stream string
	logger *slog.Logger
}

func NewRedisProducer(client *redis.Client, stream string, logger *slog.Logger) Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisProducer{
		client: client,
		stream: stream,
		logger: logger,
	}
}

func (p *redisProducer) Enqueue(ctx context.Context, msg TriggerMessage) error {
	attempt := msg.Attempt
	if attempt <= 0 {
		attempt = 1
	}

	payload, err := json.Marshal(msg.Trigger)
	if err != nil {
		return fmt.Errorf("encoding trigger: %w", err)
	}

	fields := map[string]any{
		fieldRunID:   msg.RunID,
		fieldPayload: string(payload),
		fieldAttempt: attempt,
	}

	if msg.TraceID != nil && *msg.TraceID != "" {
		fields[fieldTraceID] = *msg.TraceID
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: fields,
	}).Err(); err != nil {
		return fmt.Errorf("enqueue trigger: %w", err)
	}

	p.logger.InfoContext(ctx, "enqueued trigger",
		"run_id", msg.RunID,
		"owner", msg.Trigger.Owner,
		"repo", msg.Trigger.Repo,
		"issue_number", msg.Trigger.IssueNumber,
		"attempt", attempt)
	return nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}
