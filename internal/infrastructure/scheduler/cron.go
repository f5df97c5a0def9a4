package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"ChannelDigest/internal/ports"
)

// CronScheduler triggers polling cycles on a standard 5-field cron
// expression in a configured timezone.
type CronScheduler struct {
	spec     string
	location *time.Location
	cron     *cron.Cron
}

var _ ports.Scheduler = (*CronScheduler)(nil)

// NewCronScheduler builds a scheduler from a cron expression.
func NewCronScheduler(spec string, location *time.Location) *CronScheduler {
	if location == nil {
		location = time.UTC
	}
	return &CronScheduler{spec: spec, location: location}
}

// Start registers the job and begins the cron loop. The job itself is
// responsible for rejecting overlapping triggers.
func (c *CronScheduler) Start(_ context.Context, job func(time.Time)) error {
	if job == nil {
		return nil
	}
	if c.cron != nil {
		return nil
	}

	c.cron = cron.New(cron.WithLocation(c.location))
	if _, err := c.cron.AddFunc(c.spec, func() { job(time.Now().In(c.location)) }); err != nil {
		c.cron = nil
		return fmt.Errorf("cron spec %q: %w", c.spec, err)
	}
	c.cron.Start()
	return nil
}

// Stop halts the cron loop and waits for a running job to return.
func (c *CronScheduler) Stop(ctx context.Context) error {
	if c.cron == nil {
		return nil
	}
	stopCtx := c.cron.Stop()
	c.cron = nil
	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
