package pacing

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Stage identifies one externally-metered call kind. Each stage keeps its
// own jitter window, sustained-rate floor and backoff state.
type Stage string

const (
	StageTranscript Stage = "transcript"
	StageSummarize  Stage = "summarize"
)

// StageConfig bounds the pacing of a single stage.
type StageConfig struct {
	// MinDelay/MaxDelay bound the randomized per-call jitter. Every call
	// sleeps a uniform draw from this window; a fixed delay would make the
	// request pattern detectable upstream.
	MinDelay time.Duration
	MaxDelay time.Duration

	// MinInterval is the sustained floor between calls, enforced with a
	// token bucket independently of jitter. Zero disables the floor.
	MinInterval time.Duration
}

// Config wires the governor.
type Config struct {
	Transcript StageConfig
	Summarize  StageConfig

	// BackoffBase and BackoffCap shape the escalating penalty applied
	// after provider throttling: min(base*2^n, cap) for n consecutive
	// throttle signals.
	BackoffBase time.Duration
	BackoffCap  time.Duration

	// QuotaPerRun caps how many candidates a single cycle may admit.
	QuotaPerRun int
}

type stageState struct {
	cfg     StageConfig
	limiter *rate.Limiter
	strikes int
}

// Governor is the central gate in front of every metered call. It owns the
// per-stage jitter and backoff decisions plus the shared per-run quota, so
// the pipeline stays inside externally-imposed thresholds no matter which
// stage is calling out.
type Governor struct {
	mu     sync.Mutex
	stages map[Stage]*stageState

	base time.Duration
	cap  time.Duration

	quota     int
	remaining int

	sleep  func(context.Context, time.Duration) error
	logger *slog.Logger
}

// New builds a governor from config. A zero BackoffBase disables backoff
// penalties; the jitter windows still apply.
func New(cfg Config, logger *slog.Logger) *Governor {
	g := &Governor{
		stages: map[Stage]*stageState{
			StageTranscript: newStageState(cfg.Transcript),
			StageSummarize:  newStageState(cfg.Summarize),
		},
		base:   cfg.BackoffBase,
		cap:    cfg.BackoffCap,
		quota:  cfg.QuotaPerRun,
		sleep:  sleepCtx,
		logger: logger,
	}
	return g
}

func newStageState(cfg StageConfig) *stageState {
	s := &stageState{cfg: cfg}
	if cfg.MinInterval > 0 {
		s.limiter = rate.NewLimiter(rate.Every(cfg.MinInterval), 1)
	}
	return s
}

// BeginRun arms the shared quota counter for a new cycle.
func (g *Governor) BeginRun() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.remaining = g.quota
}

// Reserve grants up to count units of the run quota and decrements the
// shared counter. The counter never goes negative; once it hits zero no
// further candidates are admitted.
func (g *Governor) Reserve(count int) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if count <= 0 || g.remaining <= 0 {
		return 0
	}
	granted := count
	if granted > g.remaining {
		granted = g.remaining
	}
	g.remaining -= granted
	return granted
}

// Remaining returns the unreserved run quota.
func (g *Governor) Remaining() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.remaining
}

// Acquire blocks until the stage may place its next call: it waits out the
// sustained-rate floor, then sleeps a random jitter from the stage window
// plus the current backoff penalty. Returns early with the context error
// on cancellation.
func (g *Governor) Acquire(ctx context.Context, stage Stage) error {
	g.mu.Lock()
	st, ok := g.stages[stage]
	if !ok {
		g.mu.Unlock()
		return nil
	}
	delay := jitter(st.cfg.MinDelay, st.cfg.MaxDelay) + g.penaltyLocked(st)
	limiter := st.limiter
	g.mu.Unlock()

	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if delay <= 0 {
		return nil
	}
	if g.logger != nil {
		g.logger.Debug("pacing delay", "stage", string(stage), "delay", delay)
	}
	return g.sleep(ctx, delay)
}

// Report feeds a call outcome back into the backoff state machine.
// A throttled call moves the stage from Backoff(n) to Backoff(n+1); any
// success resets it to Normal.
func (g *Governor) Report(stage Stage, throttled bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.stages[stage]
	if !ok {
		return
	}
	if throttled {
		st.strikes++
		if g.logger != nil {
			g.logger.Warn("provider throttling", "stage", string(stage), "strikes", st.strikes)
		}
		return
	}
	st.strikes = 0
}

// penaltyLocked computes min(base*2^n, cap) for the stage's strike count.
// Callers hold g.mu.
func (g *Governor) penaltyLocked(st *stageState) time.Duration {
	if st.strikes == 0 || g.base <= 0 {
		return 0
	}
	p := g.base
	for i := 0; i < st.strikes; i++ {
		p *= 2
		if g.cap > 0 && p >= g.cap {
			return g.cap
		}
	}
	return p
}

func jitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
