package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"github.com/larp0/uwularpy-sub000/internal/http/dto"
	"github.com/larp0/uwularpy-sub000/internal/model"
	"github.com/larp0/uwularpy-sub000/internal/service"
)

type TriggerHandler struct {
	service     service.TriggerIngestService
	traceHeader string
}

func NewTriggerHandler(service service.TriggerIngestService, traceHeader string) *TriggerHandler {
	return &TriggerHandler{
		service:     service,
		traceHeader: traceHeader,
	}
}

func (h *TriggerHandler) Trigger(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.TriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid trigger request", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.service.Ingest(ctx, service.TriggerIngestParams{
		Trigger: req.ToModel(),
		TraceID: TraceID(ctx, c.GetHeader(h.traceHeader)),
	})
	if err != nil {
		if errors.Is(err, model.ErrInvalidTrigger) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		slog.ErrorContext(ctx, "failed to ingest trigger", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to ingest trigger"})
		return
	}

	c.JSON(http.StatusAccepted, dto.TriggerResponse{
		RunID:      result.RunID,
		Enqueued:   result.Enqueued,
		SkipReason: result.SkipReason,
	})
}

// TraceID prefers the caller's trace header and falls back to the active span.
func TraceID(ctx context.Context, header string) *string {
	traceID := header
	if traceID == "" {
		if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.IsValid() {
			traceID = spanCtx.TraceID().String()
		}
	}
	if traceID == "" {
		return nil
	}
	return &traceID
}
