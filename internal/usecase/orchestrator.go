package usecase

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ChannelDigest/internal/domain"
	"ChannelDigest/internal/ledger"
	"ChannelDigest/internal/pacing"
	"ChannelDigest/internal/ports"
	"ChannelDigest/internal/registry"
)

// CycleState names the phase a running cycle is in. The machine always
// returns to idle, ready for the next external trigger.
type CycleState string

const (
	StateIdle        CycleState = "idle"
	StateDiscovering CycleState = "discovering"
	StateSelecting   CycleState = "selecting"
	StateProcessing  CycleState = "processing"
	StateFinalizing  CycleState = "finalizing"
)

// OrchestratorDeps wires the collaborators into the cycle engine.
type OrchestratorDeps struct {
	Registry  *registry.SourceRegistry
	Ledger    *ledger.DedupLedger
	Governor  *pacing.Governor
	Discovery ports.Discovery

	Transcript *TranscriptStage
	Summarize  *SummarizationStage

	// RetryBudget bounds in-cycle summarization retries per candidate.
	RetryBudget int
	// MaxLines caps the summary length requested from the summarizer.
	MaxLines int

	Logger *slog.Logger
}

// Orchestrator drives one polling cycle: discover new videos per source
// since its watermark, select the oldest candidates under the run quota,
// push each through the transcript and summarization stages strictly one
// at a time, and durably advance per-source state. Candidate processing is
// sequential on purpose: the governor's jitter and backoff pacing is what
// keeps the system under external abuse thresholds, and parallel stage
// calls would defeat it.
type Orchestrator struct {
	registry  *registry.SourceRegistry
	ledger    *ledger.DedupLedger
	governor  *pacing.Governor
	discovery ports.Discovery

	transcript *TranscriptStage
	summarize  *SummarizationStage

	retryBudget int
	maxLines    int
	logger      *slog.Logger

	// runMu serializes cycles; a trigger that loses the race fails fast
	// with ErrCycleInProgress instead of queueing.
	runMu sync.Mutex

	stateMu sync.Mutex
	state   CycleState
}

// NewOrchestrator constructs the cycle engine.
func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	retries := deps.RetryBudget
	if retries < 0 {
		retries = 0
	}
	maxLines := deps.MaxLines
	if maxLines <= 0 {
		maxLines = 6
	}
	return &Orchestrator{
		registry:    deps.Registry,
		ledger:      deps.Ledger,
		governor:    deps.Governor,
		discovery:   deps.Discovery,
		transcript:  deps.Transcript,
		summarize:   deps.Summarize,
		retryBudget: retries,
		maxLines:    maxLines,
		logger:      deps.Logger,
		state:       StateIdle,
	}
}

// State returns the current cycle phase.
func (o *Orchestrator) State() CycleState {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s CycleState) {
	o.stateMu.Lock()
	o.state = s
	o.stateMu.Unlock()
}

// candidate pairs a discovered video with its source's registration index
// for deterministic tie-breaking.
type candidate struct {
	domain.VideoCandidate
	sourceIdx int
}

// RunCycle executes one full cycle and returns its report. Per-item
// failures are contained and enumerated on the report; only store
// unavailability aborts the run, in which case no watermark has been
// advanced. A second concurrent trigger fails with ErrCycleInProgress.
func (o *Orchestrator) RunCycle(ctx context.Context) (*domain.CycleRun, error) {
	if !o.runMu.TryLock() {
		return nil, domain.ErrCycleInProgress
	}
	defer o.runMu.Unlock()
	defer o.setState(StateIdle)

	run := &domain.CycleRun{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	o.governor.BeginRun()

	o.setState(StateDiscovering)
	sources, err := o.registry.ListActiveSources(ctx)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		o.info("no sources to monitor", "run", run.RunID)
		run.FinishedAt = time.Now().UTC()
		run.QuotaRemaining = o.governor.Remaining()
		return run, nil
	}

	candidates, err := o.discover(ctx, sources, run)
	if err != nil {
		return nil, err
	}

	o.setState(StateSelecting)
	selected, leftover := o.selectCandidates(candidates)
	o.info("cycle selected candidates",
		"run", run.RunID,
		"discovered", len(candidates),
		"selected", len(selected),
		"quota_remaining", o.governor.Remaining())

	// marks tracks, per source, the newest published_at among candidates
	// that reached a terminal outcome. Deferred and unselected candidates
	// never contribute: advancing past them would lose them forever.
	marks := newWatermarkTracker()
	for _, cand := range leftover {
		marks.restrict(cand.SourceID, cand.PublishedAt)
	}

	o.setState(StateProcessing)
	for i, cand := range selected {
		// Cancellation is honored only between candidates; an in-flight
		// stage call completes or times out first.
		if ctx.Err() != nil {
			o.info("cycle cancelled", "run", run.RunID)
			for _, rest := range selected[i:] {
				marks.restrict(rest.SourceID, rest.PublishedAt)
			}
			break
		}
		if err := o.processCandidate(ctx, cand.VideoCandidate, run, marks); err != nil {
			return nil, err
		}
	}

	o.setState(StateFinalizing)
	for _, src := range sources {
		ts, ok := marks.get(src.ID)
		if !ok {
			continue
		}
		if err := o.registry.AdvanceWatermark(ctx, src.ID, ts); err != nil {
			return nil, err
		}
	}

	run.FinishedAt = time.Now().UTC()
	run.QuotaRemaining = o.governor.Remaining()
	o.info("cycle finished",
		"run", run.RunID,
		"processed", run.ProcessedCount,
		"skipped", run.SkippedCount,
		"deferred", run.DeferredCount)
	return run, nil
}

// discover queries every source for videos newer than its watermark and
// filters out anything already seen or already recorded. A source whose
// feed fails is skipped for this cycle with its watermark untouched; a
// ledger failure aborts the run.
func (o *Orchestrator) discover(ctx context.Context, sources []domain.Source, run *domain.CycleRun) ([]candidate, error) {
	var out []candidate
	for idx, src := range sources {
		found, err := o.discovery.Discover(ctx, src.ChannelID, src.Watermark)
		if err != nil {
			o.warn("discovery failed", "source", src.ID, "error", err)
			run.Errors = append(run.Errors, domain.CycleError{
				SourceID: src.ID,
				Stage:    "discover",
				Reason:   domain.DeferDiscoveryFailed,
				Message:  err.Error(),
			})
			continue
		}
		for _, v := range found {
			if !v.PublishedAt.After(src.Watermark) {
				continue
			}
			done, err := o.ledger.HasProcessed(ctx, v.VideoID)
			if err != nil {
				return nil, err
			}
			if done {
				continue
			}
			v.SourceID = src.ID
			out = append(out, candidate{VideoCandidate: v, sourceIdx: idx})
		}
	}
	return out, nil
}

// selectCandidates merges candidates across sources oldest-first and
// truncates to the granted quota. Oldest-first bounds staleness and keeps
// a busy channel from starving quiet ones; the tie-breaks make the
// ordering deterministic. The leftover tail is returned so the watermark
// logic can refuse to advance past it.
func (o *Orchestrator) selectCandidates(candidates []candidate) (selected, leftover []candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.PublishedAt.Equal(b.PublishedAt) {
			return a.PublishedAt.Before(b.PublishedAt)
		}
		if a.sourceIdx != b.sourceIdx {
			return a.sourceIdx < b.sourceIdx
		}
		return a.VideoID < b.VideoID
	})

	granted := o.governor.Reserve(len(candidates))
	return candidates[:granted], candidates[granted:]
}

// processCandidate runs one candidate through both stages. Terminal
// outcomes (summary or permanent skip) are recorded in the ledger and move
// the source's terminal high-water mark; transient outcomes defer the
// candidate to a future cycle. Only a ledger write failure returns an
// error, which aborts the whole run.
func (o *Orchestrator) processCandidate(ctx context.Context, v domain.VideoCandidate, run *domain.CycleRun, marks *watermarkTracker) error {
	o.info("processing candidate", "video", v.VideoID, "title", v.Title, "source", v.SourceID)

	if err := o.governor.Acquire(ctx, pacing.StageTranscript); err != nil {
		// Cancelled mid-sleep; the between-candidates check ends the loop.
		marks.restrict(v.SourceID, v.PublishedAt)
		return nil
	}
	text, outcome := o.transcript.Run(ctx, v.VideoID)
	o.governor.Report(pacing.StageTranscript, outcome == OutcomeTransient)

	switch outcome {
	case OutcomeTransient:
		o.deferCandidate(run, marks, v, "transcript", domain.DeferTranscriptTransient, "transcript fetch failed; retrying next cycle")
		return nil
	case OutcomeUnavailable, OutcomeFatal:
		return o.recordSkip(ctx, v, domain.SkipNoTranscript, run, marks)
	}

	summary, res := o.summarizeWithRetries(ctx, v, text, run, marks)
	switch res {
	case summarizeDeferred:
		return nil
	case summarizeFailed:
		return o.recordSkip(ctx, v, domain.SkipSummarizationFailed, run, marks)
	}

	rec := domain.ProcessedRecord{
		VideoID:     v.VideoID,
		SourceID:    v.SourceID,
		Title:       v.Title,
		Summary:     summary,
		Link:        v.Link,
		PublishedAt: v.PublishedAt,
		ProcessedAt: time.Now().UTC(),
	}
	if err := o.ledger.MarkProcessed(ctx, rec); err != nil {
		return err
	}
	run.ProcessedCount++
	run.Records = append(run.Records, rec)
	marks.bump(v.SourceID, v.PublishedAt)
	return nil
}

type summarizeResult int

const (
	summarizeOK summarizeResult = iota
	summarizeFailed
	summarizeDeferred
)

// summarizeWithRetries drives the summarization stage under the governor,
// retrying throttled calls up to the per-candidate budget. Exhausting the
// budget defers the candidate; a fatal provider answer fails it permanently.
func (o *Orchestrator) summarizeWithRetries(ctx context.Context, v domain.VideoCandidate, text string, run *domain.CycleRun, marks *watermarkTracker) (string, summarizeResult) {
	attempts := o.retryBudget + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		// Each retry re-acquires the governor, which applies the
		// escalated backoff accumulated from throttle reports.
		if err := o.governor.Acquire(ctx, pacing.StageSummarize); err != nil {
			o.deferCandidate(run, marks, v, "summarize", domain.DeferSummarizeTransient, "cancelled while pacing")
			return "", summarizeDeferred
		}
		summary, outcome := o.summarize.Run(ctx, v.Title, text, o.maxLines)
		o.governor.Report(pacing.StageSummarize, outcome == OutcomeTransient)

		switch outcome {
		case OutcomeSuccess:
			return summary, summarizeOK
		case OutcomeFatal, OutcomeUnavailable:
			return "", summarizeFailed
		case OutcomeTransient:
			o.warn("summarization throttled", "video", v.VideoID, "attempt", attempt, "budget", attempts)
		}
	}
	o.deferCandidate(run, marks, v, "summarize", domain.DeferSummarizeThrottled, "retry budget exhausted; retrying next cycle")
	return "", summarizeDeferred
}

// recordSkip resolves a candidate as permanently skipped so it is never
// fetched again.
func (o *Orchestrator) recordSkip(ctx context.Context, v domain.VideoCandidate, reason domain.SkipReason, run *domain.CycleRun, marks *watermarkTracker) error {
	rec := domain.ProcessedRecord{
		VideoID:     v.VideoID,
		SourceID:    v.SourceID,
		Title:       v.Title,
		SkipReason:  reason,
		Link:        v.Link,
		PublishedAt: v.PublishedAt,
		ProcessedAt: time.Now().UTC(),
	}
	if err := o.ledger.MarkProcessed(ctx, rec); err != nil {
		return err
	}
	run.SkippedCount++
	run.Records = append(run.Records, rec)
	marks.bump(v.SourceID, v.PublishedAt)
	return nil
}

func (o *Orchestrator) deferCandidate(run *domain.CycleRun, marks *watermarkTracker, v domain.VideoCandidate, stage string, reason domain.DeferReason, msg string) {
	run.DeferredCount++
	run.Errors = append(run.Errors, domain.CycleError{
		VideoID:  v.VideoID,
		SourceID: v.SourceID,
		Stage:    stage,
		Reason:   reason,
		Message:  msg,
	})
	marks.restrict(v.SourceID, v.PublishedAt)
}

// watermarkTracker accumulates, per source, how far the watermark may move
// at cycle end. Terminal outcomes bump it forward; a deferred or unselected
// candidate caps it strictly below its published_at, so the candidate is
// rediscovered next cycle no matter what happens to its newer siblings.
type watermarkTracker struct {
	max map[string]time.Time
	cap map[string]time.Time
}

func newWatermarkTracker() *watermarkTracker {
	return &watermarkTracker{
		max: make(map[string]time.Time),
		cap: make(map[string]time.Time),
	}
}

// restrict forbids advancing the source watermark to ts or beyond.
func (t *watermarkTracker) restrict(sourceID string, ts time.Time) {
	if cur, ok := t.cap[sourceID]; !ok || ts.Before(cur) {
		t.cap[sourceID] = ts
	}
}

// bump records a terminal outcome at ts, unless a restriction at or below
// ts is in place.
func (t *watermarkTracker) bump(sourceID string, ts time.Time) {
	if lim, ok := t.cap[sourceID]; ok && !ts.Before(lim) {
		return
	}
	if cur, ok := t.max[sourceID]; !ok || ts.After(cur) {
		t.max[sourceID] = ts
	}
}

// get returns the watermark the source may advance to, clamped below any
// restriction.
func (t *watermarkTracker) get(sourceID string) (time.Time, bool) {
	ts, ok := t.max[sourceID]
	if !ok {
		return time.Time{}, false
	}
	if lim, restricted := t.cap[sourceID]; restricted && !ts.Before(lim) {
		return time.Time{}, false
	}
	return ts, true
}

func (o *Orchestrator) info(msg string, args ...any) {
	if o.logger != nil {
		o.logger.Info(msg, args...)
	}
}

func (o *Orchestrator) warn(msg string, args ...any) {
	if o.logger != nil {
		o.logger.Warn(msg, args...)
	}
}
