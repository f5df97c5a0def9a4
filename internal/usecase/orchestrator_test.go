package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ChannelDigest/internal/domain"
	"ChannelDigest/internal/ledger"
	"ChannelDigest/internal/pacing"
	"ChannelDigest/internal/ports"
	"ChannelDigest/internal/registry"
)

type memSourceStore struct {
	mu      sync.Mutex
	sources []domain.Source
	marks   map[string]time.Time
}

func newMemSourceStore(sources ...domain.Source) *memSourceStore {
	return &memSourceStore{sources: sources, marks: map[string]time.Time{}}
}

func (s *memSourceStore) ListActive(context.Context) ([]domain.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Source, len(s.sources))
	for i, src := range s.sources {
		src.Watermark = s.marks[src.ID]
		out[i] = src
	}
	return out, nil
}

func (s *memSourceStore) GetWatermark(_ context.Context, sourceID string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, src := range s.sources {
		if src.ID == sourceID {
			return s.marks[sourceID], nil
		}
	}
	return time.Time{}, domain.ErrNotFound
}

func (s *memSourceStore) SetWatermark(_ context.Context, sourceID string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, src := range s.sources {
		if src.ID != sourceID {
			continue
		}
		if ts.After(s.marks[sourceID]) {
			s.marks[sourceID] = ts
		}
		return nil
	}
	return domain.ErrNotFound
}

func (s *memSourceStore) AddSource(_ context.Context, src domain.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.sources {
		if existing.ChannelID == src.ChannelID {
			return domain.ErrAlreadyExists
		}
	}
	s.sources = append(s.sources, src)
	return nil
}

func (s *memSourceStore) GetSourceByChannel(_ context.Context, channelID string) (domain.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, src := range s.sources {
		if src.ChannelID == channelID {
			src.Watermark = s.marks[src.ID]
			return src, nil
		}
	}
	return domain.Source{}, domain.ErrNotFound
}

type memDedupStore struct {
	mu      sync.Mutex
	records map[string]domain.ProcessedRecord
	order   []string
	failAll error
}

func newMemDedupStore() *memDedupStore {
	return &memDedupStore{records: map[string]domain.ProcessedRecord{}}
}

func (s *memDedupStore) Exists(_ context.Context, videoID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll != nil {
		return false, s.failAll
	}
	_, ok := s.records[videoID]
	return ok, nil
}

func (s *memDedupStore) Insert(_ context.Context, rec domain.ProcessedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll != nil {
		return s.failAll
	}
	if _, ok := s.records[rec.VideoID]; ok {
		return domain.ErrAlreadyExists
	}
	s.records[rec.VideoID] = rec
	s.order = append(s.order, rec.VideoID)
	return nil
}

func (s *memDedupStore) Latest(_ context.Context, limit int) ([]domain.ProcessedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ProcessedRecord
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.records[s.order[i]])
	}
	return out, nil
}

type fakeDiscovery struct {
	videos map[string][]domain.VideoCandidate
	errs   map[string]error
	block  chan struct{}
}

func (d *fakeDiscovery) Discover(_ context.Context, channelID string, since time.Time) ([]domain.VideoCandidate, error) {
	if d.block != nil {
		<-d.block
	}
	if err := d.errs[channelID]; err != nil {
		return nil, err
	}
	var out []domain.VideoCandidate
	for _, v := range d.videos[channelID] {
		if v.PublishedAt.After(since) {
			out = append(out, v)
		}
	}
	return out, nil
}

type fetchResult struct {
	text  string
	found bool
	err   error
}

type fakeFetcher struct {
	mu      sync.Mutex
	results map[string]fetchResult
	calls   []string
}

func (f *fakeFetcher) Fetch(_ context.Context, videoID string) (string, bool, error) {
	f.mu.Lock()
	f.calls = append(f.calls, videoID)
	f.mu.Unlock()
	res, ok := f.results[videoID]
	if !ok {
		return "a long enough transcript for " + videoID, true, nil
	}
	return res.text, res.found, res.err
}

type summarizeReply struct {
	summary string
	err     error
}

type fakeSummarizer struct {
	mu     sync.Mutex
	script []summarizeReply
	calls  int
}

func (s *fakeSummarizer) Summarize(_ context.Context, title, _ string, _ int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.script) > 0 {
		reply := s.script[0]
		s.script = s.script[1:]
		return reply.summary, reply.err
	}
	return "summary of " + title, nil
}

type orchFixture struct {
	sources    *memSourceStore
	dedup      *memDedupStore
	discovery  *fakeDiscovery
	fetcher    *fakeFetcher
	summarizer *fakeSummarizer
	orch       *Orchestrator
}

func newFixture(quota, retryBudget int, sources ...domain.Source) *orchFixture {
	f := &orchFixture{
		sources:    newMemSourceStore(sources...),
		dedup:      newMemDedupStore(),
		discovery:  &fakeDiscovery{videos: map[string][]domain.VideoCandidate{}, errs: map[string]error{}},
		fetcher:    &fakeFetcher{results: map[string]fetchResult{}},
		summarizer: &fakeSummarizer{},
	}
	governor := pacing.New(pacing.Config{QuotaPerRun: quota}, nil)
	f.orch = NewOrchestrator(OrchestratorDeps{
		Registry:    registry.New(f.sources, nil),
		Ledger:      ledger.New(f.dedup, nil),
		Governor:    governor,
		Discovery:   f.discovery,
		Transcript:  NewTranscriptStage(f.fetcher, nil, time.Second, nil),
		Summarize:   NewSummarizationStage(f.summarizer, time.Second, nil),
		RetryBudget: retryBudget,
	})
	return f
}

func src(id string) domain.Source {
	return domain.Source{ID: id, Name: id, ChannelID: "ch-" + id, URL: "https://example.com/" + id}
}

func vid(id, channel string, publishedAt time.Time) domain.VideoCandidate {
	return domain.VideoCandidate{
		VideoID:     id,
		Title:       "title " + id,
		Link:        "https://example.com/watch?v=" + id,
		PublishedAt: publishedAt,
	}
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestRunCycleSummarizesNewVideos(t *testing.T) {
	f := newFixture(5, 0, src("s1"))
	f.discovery.videos["ch-s1"] = []domain.VideoCandidate{
		vid("v1", "ch-s1", t0),
		vid("v2", "ch-s1", t0.Add(time.Hour)),
	}

	run, err := f.orch.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, run.ProcessedCount)
	assert.Equal(t, 0, run.SkippedCount)
	assert.Equal(t, 0, run.DeferredCount)
	require.Len(t, run.Records, 2)
	assert.Equal(t, "v1", run.Records[0].VideoID)
	assert.Equal(t, "summary of title v1", run.Records[0].Summary)
	assert.True(t, run.Records[0].Summarized())

	mark, err := f.sources.GetWatermark(context.Background(), "s1")
	require.NoError(t, err)
	assert.True(t, mark.Equal(t0.Add(time.Hour)))
	assert.Equal(t, StateIdle, f.orch.State())
}

func TestRunCycleProcessesOldestFirstUnderQuota(t *testing.T) {
	f := newFixture(2, 0, src("s1"), src("s2"))
	f.discovery.videos["ch-s1"] = []domain.VideoCandidate{
		vid("v-old", "ch-s1", t0),
		vid("v-new", "ch-s1", t0.Add(3*time.Hour)),
	}
	f.discovery.videos["ch-s2"] = []domain.VideoCandidate{
		vid("v-mid", "ch-s2", t0.Add(time.Hour)),
	}

	run, err := f.orch.RunCycle(context.Background())
	require.NoError(t, err)

	require.Len(t, run.Records, 2)
	assert.Equal(t, "v-old", run.Records[0].VideoID)
	assert.Equal(t, "v-mid", run.Records[1].VideoID)
	assert.Equal(t, 0, run.QuotaRemaining)

	// v-new stayed over quota: s1's watermark may only cover v-old.
	mark1, _ := f.sources.GetWatermark(context.Background(), "s1")
	assert.True(t, mark1.Equal(t0))
	mark2, _ := f.sources.GetWatermark(context.Background(), "s2")
	assert.True(t, mark2.Equal(t0.Add(time.Hour)))
}

func TestRunCycleIgnoresAlreadyProcessed(t *testing.T) {
	f := newFixture(5, 0, src("s1"))
	f.discovery.videos["ch-s1"] = []domain.VideoCandidate{vid("v1", "ch-s1", t0)}
	require.NoError(t, f.dedup.Insert(context.Background(), domain.ProcessedRecord{VideoID: "v1"}))

	run, err := f.orch.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, run.ProcessedCount)
	assert.Empty(t, f.fetcher.calls, "a recorded video must never be fetched again")
}

func TestRunCycleSkipsVideoWithoutTranscript(t *testing.T) {
	f := newFixture(5, 0, src("s1"))
	f.discovery.videos["ch-s1"] = []domain.VideoCandidate{vid("v1", "ch-s1", t0)}
	f.fetcher.results["v1"] = fetchResult{found: false}

	run, err := f.orch.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, run.ProcessedCount)
	assert.Equal(t, 1, run.SkippedCount)
	require.Len(t, run.Records, 1)
	assert.Equal(t, domain.SkipNoTranscript, run.Records[0].SkipReason)
	assert.False(t, run.Records[0].Summarized())
	assert.Equal(t, 0, f.summarizer.calls)

	// A permanent skip is terminal: the watermark moves past it.
	mark, _ := f.sources.GetWatermark(context.Background(), "s1")
	assert.True(t, mark.Equal(t0))
}

func TestRunCycleDefersTransientTranscriptFailure(t *testing.T) {
	f := newFixture(5, 0, src("s1"))
	f.discovery.videos["ch-s1"] = []domain.VideoCandidate{vid("v1", "ch-s1", t0)}
	f.fetcher.results["v1"] = fetchResult{err: domain.Transient(errors.New("timeout"))}

	run, err := f.orch.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, run.DeferredCount)
	assert.Empty(t, run.Records)
	require.Len(t, run.Errors, 1)
	assert.Equal(t, domain.DeferTranscriptTransient, run.Errors[0].Reason)

	// Deferred means untouched state: the video reappears next cycle.
	mark, _ := f.sources.GetWatermark(context.Background(), "s1")
	assert.True(t, mark.IsZero())
}

func TestRunCycleDeferredOlderVideoBlocksWatermark(t *testing.T) {
	f := newFixture(5, 0, src("s1"))
	f.discovery.videos["ch-s1"] = []domain.VideoCandidate{
		vid("v-old", "ch-s1", t0),
		vid("v-new", "ch-s1", t0.Add(time.Hour)),
	}
	f.fetcher.results["v-old"] = fetchResult{err: domain.Transient(errors.New("timeout"))}

	run, err := f.orch.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, run.ProcessedCount)
	assert.Equal(t, 1, run.DeferredCount)

	// v-new succeeded, but advancing to it would orphan the deferred v-old.
	mark, _ := f.sources.GetWatermark(context.Background(), "s1")
	assert.True(t, mark.IsZero())
}

func TestRunCycleRetriesThrottledSummarization(t *testing.T) {
	f := newFixture(5, 2, src("s1"))
	f.discovery.videos["ch-s1"] = []domain.VideoCandidate{vid("v1", "ch-s1", t0)}
	f.summarizer.script = []summarizeReply{
		{err: domain.ErrRateLimited},
		{summary: "second attempt"},
	}

	run, err := f.orch.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, run.ProcessedCount)
	require.Len(t, run.Records, 1)
	assert.Equal(t, "second attempt", run.Records[0].Summary)
	assert.Equal(t, 2, f.summarizer.calls)
}

func TestRunCycleDefersWhenRetryBudgetExhausted(t *testing.T) {
	f := newFixture(5, 1, src("s1"))
	f.discovery.videos["ch-s1"] = []domain.VideoCandidate{vid("v1", "ch-s1", t0)}
	f.summarizer.script = []summarizeReply{
		{err: domain.ErrRateLimited},
		{err: domain.ErrRateLimited},
	}

	run, err := f.orch.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, run.DeferredCount)
	assert.Empty(t, run.Records)
	require.Len(t, run.Errors, 1)
	assert.Equal(t, domain.DeferSummarizeThrottled, run.Errors[0].Reason)
	assert.Equal(t, 2, f.summarizer.calls)

	mark, _ := f.sources.GetWatermark(context.Background(), "s1")
	assert.True(t, mark.IsZero())
}

func TestRunCycleSkipsPermanentSummarizationFailure(t *testing.T) {
	f := newFixture(5, 3, src("s1"))
	f.discovery.videos["ch-s1"] = []domain.VideoCandidate{vid("v1", "ch-s1", t0)}
	f.summarizer.script = []summarizeReply{{err: domain.ErrInvalidInput}}

	run, err := f.orch.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, run.SkippedCount)
	require.Len(t, run.Records, 1)
	assert.Equal(t, domain.SkipSummarizationFailed, run.Records[0].SkipReason)
	assert.Equal(t, 1, f.summarizer.calls, "a fatal answer must not burn retries")

	mark, _ := f.sources.GetWatermark(context.Background(), "s1")
	assert.True(t, mark.Equal(t0))
}

func TestRunCycleContainsDiscoveryFailure(t *testing.T) {
	f := newFixture(5, 0, src("s1"), src("s2"))
	f.discovery.errs["ch-s1"] = domain.Transient(errors.New("feed down"))
	f.discovery.videos["ch-s2"] = []domain.VideoCandidate{vid("v2", "ch-s2", t0)}

	run, err := f.orch.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, run.ProcessedCount)
	require.Len(t, run.Errors, 1)
	assert.Equal(t, "discover", run.Errors[0].Stage)
	assert.Equal(t, domain.DeferDiscoveryFailed, run.Errors[0].Reason)

	mark1, _ := f.sources.GetWatermark(context.Background(), "s1")
	assert.True(t, mark1.IsZero())
}

func TestRunCycleAbortsOnLedgerFailure(t *testing.T) {
	f := newFixture(5, 0, src("s1"))
	f.discovery.videos["ch-s1"] = []domain.VideoCandidate{vid("v1", "ch-s1", t0)}
	f.dedup.failAll = errors.New("connection refused")

	run, err := f.orch.RunCycle(context.Background())
	require.Error(t, err)
	assert.Nil(t, run)

	mark, _ := f.sources.GetWatermark(context.Background(), "s1")
	assert.True(t, mark.IsZero(), "an aborted run must not advance watermarks")
}

func TestRunCycleRejectsConcurrentTrigger(t *testing.T) {
	f := newFixture(5, 0, src("s1"))
	f.discovery.block = make(chan struct{})

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		close(started)
		_, _ = f.orch.RunCycle(context.Background())
		close(done)
	}()

	<-started
	// Wait until the first run is provably inside discovery.
	require.Eventually(t, func() bool {
		return f.orch.State() == StateDiscovering
	}, time.Second, time.Millisecond)

	_, err := f.orch.RunCycle(context.Background())
	assert.ErrorIs(t, err, domain.ErrCycleInProgress)

	close(f.discovery.block)
	<-done
	assert.Equal(t, StateIdle, f.orch.State())
}

func TestRunCycleSecondRunIsIdempotent(t *testing.T) {
	f := newFixture(5, 0, src("s1"))
	f.discovery.videos["ch-s1"] = []domain.VideoCandidate{vid("v1", "ch-s1", t0)}

	first, err := f.orch.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, first.ProcessedCount)

	second, err := f.orch.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.ProcessedCount)
	assert.Empty(t, second.Records)
	require.Len(t, f.dedup.order, 1)
}

var _ ports.Discovery = (*fakeDiscovery)(nil)
