package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"ChannelDigest/internal/domain"
	"ChannelDigest/internal/ports"
)

// StageOutcome is the normalized result of one pipeline stage. Every
// collaborator failure is folded into this taxonomy at the stage boundary;
// nothing below the orchestrator raises raw provider errors past it.
type StageOutcome int

const (
	// OutcomeSuccess: the stage produced its output.
	OutcomeSuccess StageOutcome = iota
	// OutcomeUnavailable: the input cannot ever produce output (no
	// captions). Terminal; the candidate is permanently skipped.
	OutcomeUnavailable
	// OutcomeTransient: a retryable failure (network, throttling). The
	// candidate is deferred to a later cycle.
	OutcomeTransient
	// OutcomeFatal: the call itself is invalid and retrying cannot help.
	// Terminal; the candidate is permanently skipped.
	OutcomeFatal
)

func (o StageOutcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeUnavailable:
		return "unavailable"
	case OutcomeTransient:
		return "transient"
	case OutcomeFatal:
		return "fatal"
	}
	return "unknown"
}

// TranscriptStage wraps the transcript collaborator. It bounds every call
// with a timeout and runs the raw captions through the cleaner.
type TranscriptStage struct {
	fetcher ports.TranscriptFetcher
	clean   func(string) string
	timeout time.Duration
	logger  *slog.Logger
}

// NewTranscriptStage wires the stage. clean may be nil to pass raw text
// through.
func NewTranscriptStage(fetcher ports.TranscriptFetcher, clean func(string) string, timeout time.Duration, logger *slog.Logger) *TranscriptStage {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TranscriptStage{fetcher: fetcher, clean: clean, timeout: timeout, logger: logger}
}

// Run fetches and cleans the transcript for a video.
func (s *TranscriptStage) Run(ctx context.Context, videoID string) (string, StageOutcome) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	text, found, err := s.fetcher.Fetch(callCtx, videoID)
	switch {
	case err != nil:
		if domain.IsPermanent(err) {
			s.log(slog.LevelWarn, "transcript fetch failed permanently", videoID, err)
			return "", OutcomeFatal
		}
		s.log(slog.LevelWarn, "transcript fetch failed", videoID, err)
		return "", OutcomeTransient
	case !found:
		s.log(slog.LevelInfo, "no transcript available", videoID, nil)
		return "", OutcomeUnavailable
	}

	if s.clean != nil {
		text = s.clean(text)
	}
	if text == "" {
		return "", OutcomeUnavailable
	}
	return text, OutcomeSuccess
}

func (s *TranscriptStage) log(level slog.Level, msg, videoID string, err error) {
	if s.logger == nil {
		return
	}
	if err != nil {
		s.logger.Log(context.Background(), level, msg, "video", videoID, "error", err)
		return
	}
	s.logger.Log(context.Background(), level, msg, "video", videoID)
}

// SummarizationStage wraps the summarizer collaborator and classifies its
// typed errors.
type SummarizationStage struct {
	summarizer ports.Summarizer
	timeout    time.Duration
	logger     *slog.Logger
}

// NewSummarizationStage wires the stage.
func NewSummarizationStage(summarizer ports.Summarizer, timeout time.Duration, logger *slog.Logger) *SummarizationStage {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &SummarizationStage{summarizer: summarizer, timeout: timeout, logger: logger}
}

// Run asks the summarizer for at most maxLines lines.
func (s *SummarizationStage) Run(ctx context.Context, title, text string, maxLines int) (string, StageOutcome) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	summary, err := s.summarizer.Summarize(callCtx, title, text, maxLines)
	if err == nil {
		return summary, OutcomeSuccess
	}

	outcome := classifySummarizeErr(err)
	if s.logger != nil {
		s.logger.Warn("summarization failed", "title", title, "outcome", outcome.String(), "error", err)
	}
	return "", outcome
}

func classifySummarizeErr(err error) StageOutcome {
	switch {
	case errors.Is(err, domain.ErrRateLimited):
		return OutcomeTransient
	case errors.Is(err, domain.ErrInvalidInput):
		return OutcomeFatal
	case errors.Is(err, domain.ErrUnavailable):
		return OutcomeTransient
	case domain.IsPermanent(err):
		return OutcomeFatal
	default:
		return OutcomeTransient
	}
}
