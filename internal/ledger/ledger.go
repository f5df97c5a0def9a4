package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"ChannelDigest/internal/domain"
	"ChannelDigest/internal/ports"
)

// DedupLedger is the durable set of video ids that already became a
// ProcessedRecord. Replaying a video id after a crash mid-cycle never
// produces a second summary.
type DedupLedger struct {
	store  ports.DedupStore
	logger *slog.Logger
}

// New wires a ledger over the given store.
func New(store ports.DedupStore, logger *slog.Logger) *DedupLedger {
	return &DedupLedger{store: store, logger: logger}
}

// HasProcessed reports whether a record for videoID exists.
func (l *DedupLedger) HasProcessed(ctx context.Context, videoID string) (bool, error) {
	ok, err := l.store.Exists(ctx, videoID)
	if err != nil {
		return false, fmt.Errorf("dedup lookup %s: %w", videoID, err)
	}
	return ok, nil
}

// MarkProcessed inserts the record. Losing an insert race is treated as
// success: some other writer recorded the same video id, which is exactly
// the state we wanted.
func (l *DedupLedger) MarkProcessed(ctx context.Context, rec domain.ProcessedRecord) error {
	err := l.store.Insert(ctx, rec)
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrAlreadyExists) {
		if l.logger != nil {
			l.logger.Debug("record already present", "video", rec.VideoID)
		}
		return nil
	}
	return fmt.Errorf("mark processed %s: %w", rec.VideoID, err)
}

// Latest returns the most recently processed records, newest first.
func (l *DedupLedger) Latest(ctx context.Context, limit int) ([]domain.ProcessedRecord, error) {
	recs, err := l.store.Latest(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("latest records: %w", err)
	}
	return recs, nil
}
