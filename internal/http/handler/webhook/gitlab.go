package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/larp0/uwularpy-sub000/common/logger"
	"github.com/larp0/uwularpy-sub000/internal/http/dto"
	"github.com/larp0/uwularpy-sub000/internal/http/handler"
	"github.com/larp0/uwularpy-sub000/internal/mapper"
	"github.com/larp0/uwularpy-sub000/internal/model"
	"github.com/larp0/uwularpy-sub000/internal/service"
)

type GitLabWebhookHandler struct {
	ingest      service.TriggerIngestService
	mapper      *mapper.GitLabEventMapper
	traceHeader string
}

func NewGitLabWebhookHandler(ingest service.TriggerIngestService, mapper *mapper.GitLabEventMapper, traceHeader string) *GitLabWebhookHandler {
	return &GitLabWebhookHandler{
		ingest:      ingest,
		mapper:      mapper,
		traceHeader: traceHeader,
	}
}

// HandleEvent accepts every GitLab hook so GitLab never disables the
// webhook, but only comments become triggers.
func (h *GitLabWebhookHandler) HandleEvent(c *gin.Context) {
	ctx := c.Request.Context()

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	var bodyMap map[string]any
	if err := json.Unmarshal(body, &bodyMap); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	headers := make(map[string]string)
	for key, values := range c.Request.Header {
		if len(values) > 0 {
			headers[key] = values[0]
		}
	}

	eventType, err := h.mapper.Map(ctx, bodyMap, headers)
	if err != nil {
		slog.InfoContext(ctx, "unsupported gitlab event, ignoring", "error", err)
		c.JSON(http.StatusOK, gin.H{"status": "ignored", "message": "event type not supported"})
		return
	}
	if eventType != mapper.EventReply {
		c.JSON(http.StatusOK, gin.H{"status": "ignored", "event_type": eventType})
		return
	}

	trigger, err := h.mapper.NoteToTrigger(body)
	switch {
	case errors.Is(err, mapper.ErrIgnoredNote):
		c.JSON(http.StatusOK, gin.H{"status": "ignored", "message": err.Error()})
		return
	case errors.Is(err, model.ErrInvalidTrigger):
		slog.WarnContext(ctx, "gitlab note is missing trigger fields", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Owner:       logger.Ptr(trigger.Owner),
		Repo:        logger.Ptr(trigger.Repo),
		IssueNumber: logger.Ptr(trigger.IssueNumber),
	})

	result, err := h.ingest.Ingest(ctx, service.TriggerIngestParams{
		Trigger: trigger,
		TraceID: handler.TraceID(ctx, c.GetHeader(h.traceHeader)),
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to ingest gitlab note", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process event"})
		return
	}

	slog.InfoContext(ctx, "gitlab note processed",
		"requester", trigger.Requester,
		"comment_id", trigger.CommentID,
		"enqueued", result.Enqueued,
		"skip_reason", result.SkipReason)

	c.JSON(http.StatusOK, dto.TriggerResponse{
		RunID:      result.RunID,
		Enqueued:   result.Enqueued,
		SkipReason: result.SkipReason,
	})
}
