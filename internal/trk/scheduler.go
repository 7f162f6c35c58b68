package trk

import (
	"context"
	"errors"
	"time"
)

// Scheduler triggers ingest passes on a fixed interval. A tick that
// arrives while the previous pass is still running is dropped.
type Scheduler struct {
	service  *IngestService
	logger   Logger
	interval time.Duration
}

func NewScheduler(service *IngestService, logger Logger, interval time.Duration) *Scheduler {
	return &Scheduler{service: service, logger: logger, interval: interval}
}

// Run blocks until ctx is cancelled, running one pass immediately and
// then one per interval.
func (s *Scheduler) Run(ctx context.Context) {
	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	_, err := s.service.RunScan(ctx, "schedule")
	if errors.Is(err, ErrPassInFlight) {
		s.logger.Debug("scheduled pass skipped, previous pass still running")
		return
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("scheduled pass failed", "error", err)
	}
}
