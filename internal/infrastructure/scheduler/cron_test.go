package scheduler

import (
	"context"
	"testing"
	"time"
)

func TestStartRejectsBadSpec(t *testing.T) {
	t.Parallel()

	s := NewCronScheduler("not a cron spec", time.UTC)
	if err := s.Start(context.Background(), func(time.Time) {}); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}

func TestStartNilJobIsNoop(t *testing.T) {
	t.Parallel()

	s := NewCronScheduler("* * * * *", time.UTC)
	if err := s.Start(context.Background(), nil); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
}

func TestStartAndStop(t *testing.T) {
	t.Parallel()

	s := NewCronScheduler("* * * * *", time.UTC)
	if err := s.Start(context.Background(), func(time.Time) {}); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
}
