package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/larp0/uwularpy-sub000/common/logger"
	"github.com/larp0/uwularpy-sub000/common/retry"
	"github.com/larp0/uwularpy-sub000/internal/model"
	"github.com/larp0/uwularpy-sub000/internal/queue"
)

// errPanic marks a run that panicked. It is not retried.
var errPanic = errors.New("panic in message processing")

type Config struct {
	MaxAttempts int
}

type Worker struct {
	consumer  Consumer
	processor TriggerProcessor
	cfg       Config

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(consumer Consumer, processor TriggerProcessor, cfg Config) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Worker{
		consumer:  consumer,
		processor: processor,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stoppedCh)

	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "planner.worker"})
	slog.InfoContext(ctx, "worker started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			slog.InfoContext(ctx, "worker stopping")
			return nil
		default:
			if err := w.processOneBatch(ctx); err != nil {
				slog.ErrorContext(ctx, "batch processing error", "error", err)
				// Brief backoff on error
				_ = retry.Sleep(ctx, time.Second)
			}
		}
	}
}

func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.stoppedCh
}

func (w *Worker) processOneBatch(ctx context.Context) error {
	messages, err := w.consumer.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading from stream: %w", err)
	}

	for _, msg := range messages {
		msgCtx := logger.WithLogFields(ctx, logger.LogFields{
			MessageID: logger.Ptr(msg.ID),
			RunID:     logger.Ptr(msg.RunID),
		})
		if err := w.ProcessMessage(msgCtx, msg); err != nil {
			slog.ErrorContext(msgCtx, "message processing failed", "error", err)
			w.handleFailedMessage(msgCtx, msg, err)
		}
	}

	return nil
}

// ProcessMessage runs one trigger and acks it on success. Exported so the
// reclaimer can reuse it.
func (w *Worker) ProcessMessage(ctx context.Context, msg queue.Message) error {
	span := logger.StartSpanFromTraceID(ctx, msg.TraceID, "worker.process_message")
	defer span.End()
	ctx = span.Context()

	slog.InfoContext(ctx, "processing message",
		"message_id", msg.ID,
		"owner", msg.Trigger.Owner,
		"repo", msg.Trigger.Repo,
		"issue_number", msg.Trigger.IssueNumber,
		"attempt", msg.Attempt)

	start := time.Now()
	run, err := w.processSafe(ctx, msg)
	if err != nil {
		span.RecordError(err)
		return err
	}

	if err := w.consumer.Ack(ctx, msg); err != nil {
		// Log but don't fail - message will be reclaimed but that's safe
		slog.WarnContext(ctx, "failed to ACK message",
			"error", err,
			"message_id", msg.ID)
	}

	slog.InfoContext(ctx, "message processed",
		"status", run.Status,
		"task", run.Task,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (w *Worker) processSafe(ctx context.Context, msg queue.Message) (run *model.PipelineRun, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in message processing",
				"panic", r,
				"message_id", msg.ID)
			err = fmt.Errorf("%w: %v", errPanic, r)
		}
	}()
	run, err = w.processor.Process(ctx, msg.RunID, msg.Trigger)
	if err == nil && run == nil {
		run = &model.PipelineRun{RunID: msg.RunID}
	}
	return run, err
}

func (w *Worker) handleFailedMessage(ctx context.Context, msg queue.Message, err error) {
	if msg.Attempt >= w.cfg.MaxAttempts || errors.Is(err, errPanic) || errors.Is(err, model.ErrInvalidTrigger) {
		slog.ErrorContext(ctx, "giving up on message, sending to DLQ",
			"message_id", msg.ID,
			"attempts", msg.Attempt)
		if dlqErr := w.consumer.SendDLQ(ctx, msg, err.Error()); dlqErr != nil {
			slog.ErrorContext(ctx, "failed to send to DLQ", "error", dlqErr)
		}
		return
	}

	slog.WarnContext(ctx, "requeuing failed message",
		"message_id", msg.ID,
		"attempt", msg.Attempt)
	if requeueErr := w.consumer.Requeue(ctx, msg, err.Error()); requeueErr != nil {
		slog.ErrorContext(ctx, "failed to requeue message", "error", requeueErr)
	}
}

// HandleReclaimed processes a message claimed from a dead consumer and applies
// the same requeue and DLQ policy as the main loop.
func (w *Worker) HandleReclaimed(ctx context.Context, msg queue.Message) error {
	if err := w.ProcessMessage(ctx, msg); err != nil {
		w.handleFailedMessage(ctx, msg, err)
		return err
	}
	return nil
}
