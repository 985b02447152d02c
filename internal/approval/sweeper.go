package approval

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// ExpiredFunc is called once per request the sweeper expires, so the owner
// of the gated execution can cancel it.
type ExpiredFunc func(ctx context.Context, r Request)

// Sweeper expires stale approval requests on a cron schedule.
type Sweeper struct {
	manager   *Manager
	onExpired ExpiredFunc
	logger    *slog.Logger
	cron      *cron.Cron
}

// NewSweeper creates a sweeper over the manager. onExpired may be nil.
func NewSweeper(manager *Manager, onExpired ExpiredFunc, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Sweeper{
		manager:   manager,
		onExpired: onExpired,
		logger:    logger,
		cron:      cron.New(),
	}
}

// Start schedules the sweep on the given cron spec (e.g. "@every 5m") and
// begins running. The returned stop function waits for an in-flight sweep.
func (s *Sweeper) Start(ctx context.Context, spec string) (func(), error) {
	_, err := s.cron.AddFunc(spec, func() { s.sweep(ctx) })
	if err != nil {
		return nil, fmt.Errorf("scheduling approval sweep %q: %w", spec, err)
	}
	s.cron.Start()
	s.logger.InfoContext(ctx, "approval sweeper started", slog.String("schedule", spec))

	return func() {
		stopCtx := s.cron.Stop()
		<-stopCtx.Done()
	}, nil
}

func (s *Sweeper) sweep(ctx context.Context) {
	expired, err := s.manager.SweepExpired(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "approval sweep failed", slog.String("error", err.Error()))
		return
	}
	if s.onExpired == nil {
		return
	}
	for _, r := range expired {
		s.onExpired(ctx, r)
	}
}
