package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/larp0/uwularpy-sub000/common/id"
	"github.com/larp0/uwularpy-sub000/internal/brain"
	"github.com/larp0/uwularpy-sub000/internal/model"
	"github.com/larp0/uwularpy-sub000/internal/queue"
)

type TriggerIngestParams struct {
	Trigger model.Trigger
	TraceID *string
}

type TriggerIngestResult struct {
	RunID      int64
	Enqueued   bool
	SkipReason string
}

// TriggerIngestService accepts webhook triggers and hands them to the worker.
// Only messages addressed to the bot by someone other than the bot are queued.
type TriggerIngestService interface {
	Ingest(ctx context.Context, params TriggerIngestParams) (*TriggerIngestResult, error)
}

const (
	skipSelf       = "comment by the bot itself"
	skipNotMention = "message does not mention the bot"
)

type triggerIngestService struct {
	queue       queue.Producer
	botUsername string
	logger      *slog.Logger
}

func NewTriggerIngestService(producer queue.Producer, botUsername string, logger *slog.Logger) TriggerIngestService {
	if logger == nil {
		logger = slog.Default()
	}
	return &triggerIngestService{
		queue:       producer,
		botUsername: botUsername,
		logger:      logger,
	}
}

func (s *triggerIngestService) Ingest(ctx context.Context, params TriggerIngestParams) (*TriggerIngestResult, error) {
	trigger := params.Trigger
	if err := trigger.Validate(); err != nil {
		return nil, err
	}

	requester := strings.TrimPrefix(strings.TrimSpace(trigger.Requester), "@")
	if requester != "" && strings.EqualFold(requester, strings.TrimPrefix(s.botUsername, "@")) {
		return &TriggerIngestResult{SkipReason: skipSelf}, nil
	}
	if !brain.ParseCommand(trigger.Message, s.botUsername).IsMention {
		return &TriggerIngestResult{SkipReason: skipNotMention}, nil
	}

	runID := id.New()
	if err := s.queue.Enqueue(ctx, queue.TriggerMessage{
		RunID:   runID,
		Trigger: trigger,
		TraceID: params.TraceID,
		Attempt: 1,
	}); err != nil {
		return nil, fmt.Errorf("enqueueing trigger: %w", err)
	}

	s.logger.InfoContext(ctx, "trigger enqueued",
		"run_id", runID,
		"owner", trigger.Owner,
		"repo", trigger.Repo,
		"issue_number", trigger.IssueNumber)

	return &TriggerIngestResult{RunID: runID, Enqueued: true}, nil
}
