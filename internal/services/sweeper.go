package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// AttemptSweeper periodically abandons in-progress attempts whose time
// limit expired without the client ever reconnecting.
type AttemptSweeper struct {
	attempts AttemptService
	logger   *slog.Logger
	interval time.Duration
	cron     *cron.Cron
	timeout  time.Duration
}

func NewAttemptSweeper(attempts AttemptService, logger *slog.Logger, interval time.Duration) *AttemptSweeper {
	return &AttemptSweeper{
		attempts: attempts,
		logger:   logger,
		interval: interval,
		cron:     cron.New(),
		timeout:  30 * time.Second,
	}
}

func (s *AttemptSweeper) Start() {
	s.cron.Schedule(cron.Every(s.interval), cron.FuncJob(s.sweep))
	s.cron.Start()
	s.logger.Info("Attempt sweeper started", "interval", s.interval)
}

// Stop halts scheduling and waits for an in-flight sweep to finish.
func (s *AttemptSweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Attempt sweeper stopped")
}

func (s *AttemptSweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	swept, err := s.attempts.SweepOverdueAttempts(ctx)
	if err != nil {
		s.logger.Error("Attempt sweep failed", "error", err)
		return
	}
	if swept > 0 {
		s.logger.Info("Swept overdue attempts", "count", swept)
	}
}
