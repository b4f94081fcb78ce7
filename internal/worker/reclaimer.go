package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/larp0/uwularpy-sub000/common/logger"
	"github.com/larp0/uwularpy-sub000/internal/queue"
	"github.com/redis/go-redis/v9"
)

type RedisReclaimerConfig struct {
	Stream    string
	Group     string
	Consumer  string
	MinIdle   time.Duration
	Interval  time.Duration
	BatchSize int64
	// MaxAttempts caps how often a trigger is run, counting deliveries that
	// never finished. Zero disables the cap.
	MaxAttempts int
}

// RedisReclaimer hands triggers left pending by a dead worker to a live one.
// A worker that crashes mid-run never acks or requeues, so the stream's
// delivery count is the only record of those lost attempts.
type RedisReclaimer struct {
	client    *redis.Client
	cfg       RedisReclaimerConfig
	consumer  *queue.RedisConsumer
	processor queue.MessageProcessor

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewRedisReclaimer(client *redis.Client, cfg RedisReclaimerConfig, consumer *queue.RedisConsumer, processor queue.MessageProcessor) *RedisReclaimer {
	return &RedisReclaimer{
		client:    client,
		cfg:       cfg,
		consumer:  consumer,
		processor: processor,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Run sweeps the pending list every Interval until ctx ends or Stop is called.
func (r *RedisReclaimer) Run(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "planner.worker.reclaimer"})
	defer close(r.done)

	slog.InfoContext(ctx, "reclaimer running",
		"stream", r.cfg.Stream,
		"group", r.cfg.Group,
		"min_idle", r.cfg.MinIdle,
		"max_attempts", r.cfg.MaxAttempts)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			slog.InfoContext(ctx, "reclaimer stopped")
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// Stop ends Run and waits for an in-flight sweep to finish.
func (r *RedisReclaimer) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
}

func (r *RedisReclaimer) sweep(ctx context.Context) {
	stale, err := r.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: r.cfg.Stream,
		Group:  r.cfg.Group,
		Idle:   r.cfg.MinIdle,
		Start:  "-",
		End:    "+",
		Count:  r.cfg.BatchSize,
	}).Result()
	if err != nil {
		slog.ErrorContext(ctx, "listing stale triggers failed", "error", err)
		return
	}
	if len(stale) > 0 {
		slog.InfoContext(ctx, "stale triggers pending", "count", len(stale))
	}

	for _, entry := range stale {
		if err := r.redeliver(ctx, entry); err != nil {
			slog.WarnContext(ctx, "reclaimed trigger did not complete",
				"message_id", entry.ID,
				"previous_consumer", entry.Consumer,
				"deliveries", entry.RetryCount,
				"error", err)
		}
	}
}

// redeliver claims one stale entry and runs it again as the next attempt.
// Entries that already used up their attempts go to the DLQ unrun.
func (r *RedisReclaimer) redeliver(ctx context.Context, entry redis.XPendingExt) error {
	id := entry.ID
	ctx = logger.WithLogFields(ctx, logger.LogFields{MessageID: &id})

	claimed, err := r.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   r.cfg.Stream,
		Group:    r.cfg.Group,
		Consumer: r.cfg.Consumer,
		MinIdle:  r.cfg.MinIdle,
		Messages: []string{id},
	}).Result()
	if err != nil {
		return fmt.Errorf("claiming %s: %w", id, err)
	}
	if len(claimed) == 0 {
		// Another reclaimer got there first.
		return nil
	}

	msg, err := queue.ParseMessage(claimed[0])
	if err != nil {
		slog.ErrorContext(ctx, "dropping unreadable reclaimed trigger", "error", err)
		return r.consumer.Ack(ctx, queue.Message{ID: id, Raw: claimed[0]})
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		RunID:       &msg.RunID,
		Owner:       &msg.Trigger.Owner,
		Repo:        &msg.Trigger.Repo,
		IssueNumber: &msg.Trigger.IssueNumber,
	})

	// Each delivery of this entry was a run of msg.Attempt or a retry of it.
	tried := attemptsMade(msg.Attempt, entry.RetryCount)
	if r.cfg.MaxAttempts > 0 && tried >= r.cfg.MaxAttempts {
		slog.ErrorContext(ctx, "trigger abandoned too often, sending to DLQ",
			"attempts", tried,
			"deliveries", entry.RetryCount)
		reason := fmt.Sprintf("abandoned by %d workers without completing", entry.RetryCount)
		return r.consumer.SendDLQ(ctx, msg, reason)
	}
	msg.Attempt = tried + 1

	slog.InfoContext(ctx, "running reclaimed trigger",
		"previous_consumer", entry.Consumer,
		"idle", entry.Idle,
		"attempt", msg.Attempt)

	start := time.Now()
	if err := r.processor(ctx, msg); err != nil {
		return err
	}
	slog.InfoContext(ctx, "reclaimed trigger completed", "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// attemptsMade counts the runs already spent on a trigger whose stream entry
// carries attempt and was delivered deliveries times.
func attemptsMade(attempt int, deliveries int64) int {
	attempt = max(attempt, 1)
	if deliveries < 1 {
		return attempt
	}
	return attempt + int(deliveries) - 1
}
