package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"ChannelDigest/internal/domain"
	"ChannelDigest/internal/ports"
)

// Scheduler wires the cron driver with the polling cycle.
type Scheduler struct {
	driver  ports.Scheduler
	service *CycleService
	logger  *slog.Logger
}

// NewScheduler returns a helper to start/stop recurring cycles.
func NewScheduler(driver ports.Scheduler, service *CycleService, logger *slog.Logger) *Scheduler {
	return &Scheduler{driver: driver, service: service, logger: logger}
}

// Start registers the cycle with the provided driver. An overlapping
// trigger while a cycle is still running is dropped, not queued.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.service == nil {
		return nil
	}

	job := func(trigger time.Time) {
		_, err := s.service.Execute(ctx)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrCycleInProgress):
			if s.logger != nil {
				s.logger.Warn("cycle trigger dropped, previous cycle still running", "trigger", trigger)
			}
		default:
			if s.logger != nil {
				s.logger.Error("cycle failed", "trigger", trigger, "error", err)
			}
		}
	}

	return s.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying driver.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}
	return s.driver.Stop(ctx)
}
