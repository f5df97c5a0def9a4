package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ChannelDigest/internal/domain"
	"ChannelDigest/internal/ports"
)

// SourceRegistry tracks monitored sources and their watermarks on top of a
// SourceStore. All watermark movement goes through AdvanceWatermark so the
// monotonic guarantee lives in one place.
type SourceRegistry struct {
	store  ports.SourceStore
	logger *slog.Logger
}

// New wires a registry over the given store.
func New(store ports.SourceStore, logger *slog.Logger) *SourceRegistry {
	return &SourceRegistry{store: store, logger: logger}
}

// ListActiveSources returns monitored sources in registration order.
func (r *SourceRegistry) ListActiveSources(ctx context.Context) ([]domain.Source, error) {
	sources, err := r.store.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	return sources, nil
}

// Watermark returns the current watermark for a source. Unknown sources
// fail with domain.ErrNotFound.
func (r *SourceRegistry) Watermark(ctx context.Context, sourceID string) (time.Time, error) {
	ts, err := r.store.GetWatermark(ctx, sourceID)
	if err != nil {
		return time.Time{}, fmt.Errorf("watermark %s: %w", sourceID, err)
	}
	return ts, nil
}

// AdvanceWatermark moves the watermark to max(current, ts). The store
// applies the merge atomically, so a concurrent caller with an older
// timestamp can never regress the value.
func (r *SourceRegistry) AdvanceWatermark(ctx context.Context, sourceID string, ts time.Time) error {
	if ts.IsZero() {
		return nil
	}
	if err := r.store.SetWatermark(ctx, sourceID, ts); err != nil {
		return fmt.Errorf("advance watermark %s: %w", sourceID, err)
	}
	if r.logger != nil {
		r.logger.Debug("watermark advanced", "source", sourceID, "watermark", ts)
	}
	return nil
}
