package service

import (
	"log/slog"

	"github.com/larp0/uwularpy-sub000/internal/queue"
)

type ServicesConfig struct {
	Producer    queue.Producer
	BotUsername string
	Logger      *slog.Logger
}

// Services hands the HTTP layer the services it routes to.
type Services struct {
	cfg ServicesConfig
}

func NewServices(cfg ServicesConfig) *Services {
	return &Services{cfg: cfg}
}

func (s *Services) Triggers() TriggerIngestService {
	return NewTriggerIngestService(s.cfg.Producer, s.cfg.BotUsername, s.cfg.Logger)
}
