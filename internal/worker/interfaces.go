package worker

import (
	"context"

	"github.com/larp0/uwularpy-sub000/internal/model"
	"github.com/larp0/uwularpy-sub000/internal/queue"
)

// Consumer abstracts the message queue for testability.
type Consumer interface {
	Read(ctx context.Context) ([]queue.Message, error)
	Ack(ctx context.Context, msg queue.Message) error
	Requeue(ctx context.Context, msg queue.Message, errMsg string) error
	SendDLQ(ctx context.Context, msg queue.Message, errMsg string) error
}

// TriggerProcessor abstracts the pipeline for testability. *service.Pipeline
// implements it.
type TriggerProcessor interface {
	Process(ctx context.Context, runID int64, trigger model.Trigger) (*model.PipelineRun, error)
}
