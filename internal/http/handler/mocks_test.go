package handler_test

import (
	"context"

	"github.com/larp0/uwularpy-sub000/internal/service"
)

type mockTriggerService struct {
	ingestFn   func(ctx context.Context, params service.TriggerIngestParams) (*service.TriggerIngestResult, error)
	lastParams *service.TriggerIngestParams
}

func (m *mockTriggerService) Ingest(ctx context.Context, params service.TriggerIngestParams) (*service.TriggerIngestResult, error) {
	m.lastParams = &params
	if m.ingestFn != nil {
		return m.ingestFn(ctx, params)
	}
	return &service.TriggerIngestResult{RunID: 42, Enqueued: true}, nil
}
