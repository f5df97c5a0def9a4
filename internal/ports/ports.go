package ports

import (
	"context"
	"time"

	"ChannelDigest/internal/domain"
)

// SourceStore persists monitored channels and their watermarks.
type SourceStore interface {
	// ListActive returns all monitored sources in registration order.
	ListActive(ctx context.Context) ([]domain.Source, error)

	// GetWatermark returns the stored watermark for a source, or
	// domain.ErrNotFound when the source is unknown.
	GetWatermark(ctx context.Context, sourceID string) (time.Time, error)

	// SetWatermark advances the watermark with max-merge semantics: the
	// stored value becomes max(stored, ts), atomically. It never regresses
	// even under concurrent callers.
	SetWatermark(ctx context.Context, sourceID string, ts time.Time) error

	// AddSource registers a new channel for monitoring.
	AddSource(ctx context.Context, src domain.Source) error

	// GetSourceByChannel returns a source by its resolved channel id, or
	// domain.ErrNotFound.
	GetSourceByChannel(ctx context.Context, channelID string) (domain.Source, error)
}

// DedupStore persists processed-video records, unique on video_id.
type DedupStore interface {
	// Exists reports whether a record for videoID has been written.
	Exists(ctx context.Context, videoID string) (bool, error)

	// Insert writes a record, failing with domain.ErrAlreadyExists when a
	// record for the same video_id was raced in.
	Insert(ctx context.Context, rec domain.ProcessedRecord) error

	// Latest returns the most recently processed records, newest first.
	Latest(ctx context.Context, limit int) ([]domain.ProcessedRecord, error)
}

// Discovery finds videos published after the given watermark for a channel.
// Failures are wrapped as domain.TransientError (network, provider) or
// domain.PermanentError (bad channel reference).
type Discovery interface {
	Discover(ctx context.Context, channelID string, since time.Time) ([]domain.VideoCandidate, error)
}

// TranscriptFetcher retrieves caption text for a video. A video without
// captions is a normal miss: ("", false, nil), not an error.
type TranscriptFetcher interface {
	Fetch(ctx context.Context, videoID string) (text string, found bool, err error)
}

// Summarizer condenses transcript text into at most maxLines lines.
// Implementations fail with domain.ErrRateLimited, domain.ErrInvalidInput
// or domain.ErrUnavailable.
type Summarizer interface {
	Summarize(ctx context.Context, title, text string, maxLines int) (string, error)
}

// ChannelResolver turns any YouTube channel URL into its permanent channel
// id and display name.
type ChannelResolver interface {
	Resolve(ctx context.Context, channelURL string) (channelID, name string, err error)
}

// Publisher delivers a finished digest to an outbound channel.
type Publisher interface {
	Publish(ctx context.Context, digest domain.Digest) error
}

// Scheduler controls when polling cycles execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
