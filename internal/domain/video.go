package domain

import "time"

// Source is a monitored YouTube channel together with its polling watermark.
// The watermark marks the published_at boundary of already-considered videos
// and only ever moves forward.
type Source struct {
	ID        string
	Name      string
	ChannelID string
	URL       string
	Watermark time.Time
}

// VideoCandidate is a freshly discovered video. It lives only for the
// duration of one cycle; once resolved it becomes a ProcessedRecord.
type VideoCandidate struct {
	VideoID     string
	Title       string
	Link        string
	SourceID    string
	PublishedAt time.Time
}

// SkipReason explains why a candidate was resolved without a summary.
type SkipReason string

const (
	SkipNone                SkipReason = ""
	SkipNoTranscript        SkipReason = "no_transcript"
	SkipSummarizationFailed SkipReason = "summarization_failed"
)

// ProcessedRecord is the durable outcome of a candidate. Exactly one exists
// per video_id; it is never updated after insertion.
type ProcessedRecord struct {
	VideoID     string
	SourceID    string
	Title       string
	Summary     string
	SkipReason  SkipReason
	Link        string
	PublishedAt time.Time
	ProcessedAt time.Time
}

// Summarized reports whether the record carries an actual summary rather
// than a permanent-skip marker.
func (r ProcessedRecord) Summarized() bool {
	return r.SkipReason == SkipNone
}

// DeferReason explains why a candidate was left unresolved this cycle.
// Deferred candidates are not recorded in the ledger and reappear in a
// later cycle's discovery.
type DeferReason string

const (
	DeferDiscoveryFailed     DeferReason = "discovery_failed"
	DeferTranscriptTransient DeferReason = "transcript_transient"
	DeferSummarizeThrottled  DeferReason = "summarize_throttled"
	DeferSummarizeTransient  DeferReason = "summarize_transient"
)

// CycleError is one per-item failure captured during a run. These never
// escalate to a run-level error; they are reported on the CycleRun.
type CycleError struct {
	VideoID  string
	SourceID string
	Stage    string
	Reason   DeferReason
	Message  string
}

// CycleRun summarizes one discover-select-process-finalize execution.
// Created at cycle start, owned by the orchestrator, reported at cycle end.
type CycleRun struct {
	RunID          string
	StartedAt      time.Time
	FinishedAt     time.Time
	QuotaRemaining int
	ProcessedCount int
	SkippedCount   int
	DeferredCount  int
	Errors         []CycleError

	// Records holds the ProcessedRecords created during this run, in
	// processing order. The digest artifact is projected from these.
	Records []ProcessedRecord
}

// Digest is the dated artifact derived from a cycle's newly-created records.
type Digest struct {
	Date  string       `json:"date"`
	Count int          `json:"count"`
	Items []DigestItem `json:"items"`
}

// DigestItem is a single summarized video inside a digest.
type DigestItem struct {
	VideoID     string    `json:"video_id"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	Link        string    `json:"link"`
	PublishedAt time.Time `json:"published_at"`
}
