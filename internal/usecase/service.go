package usecase

import (
	"context"
	"log/slog"

	"ChannelDigest/internal/digest"
	"ChannelDigest/internal/domain"
	"ChannelDigest/internal/ports"
)

// CycleService runs the polling cycle and hands the result to the
// presentation side: the digest artifact is projected from the run's newly
// created records and pushed to every configured publisher. Publisher
// failures are logged, never fatal; the records are already durable.
type CycleService struct {
	orchestrator *Orchestrator
	publishers   []ports.Publisher
	logger       *slog.Logger
}

// NewCycleService wires the orchestrator with outbound publishers.
func NewCycleService(orch *Orchestrator, publishers []ports.Publisher, logger *slog.Logger) *CycleService {
	return &CycleService{orchestrator: orch, publishers: publishers, logger: logger}
}

// Execute performs one cycle and publishes its digest when any video was
// summarized.
func (s *CycleService) Execute(ctx context.Context) (*domain.CycleRun, error) {
	run, err := s.orchestrator.RunCycle(ctx)
	if err != nil {
		return nil, err
	}

	d := digest.FromRun(run)
	if d.Count == 0 {
		return run, nil
	}

	for _, pub := range s.publishers {
		if pubErr := pub.Publish(ctx, d); pubErr != nil && s.logger != nil {
			s.logger.Error("digest publish failed", "run", run.RunID, "error", pubErr)
		}
	}
	return run, nil
}
