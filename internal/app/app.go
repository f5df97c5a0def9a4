package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"ChannelDigest/internal/config"
	"ChannelDigest/internal/digest"
	"ChannelDigest/internal/discovery"
	"ChannelDigest/internal/domain"
	"ChannelDigest/internal/infrastructure/llm"
	"ChannelDigest/internal/infrastructure/scheduler"
	"ChannelDigest/internal/infrastructure/storage"
	"ChannelDigest/internal/infrastructure/telegram"
	"ChannelDigest/internal/infrastructure/transcript"
	"ChannelDigest/internal/infrastructure/youtube"
	"ChannelDigest/internal/ledger"
	"ChannelDigest/internal/logging"
	"ChannelDigest/internal/pacing"
	"ChannelDigest/internal/ports"
	"ChannelDigest/internal/registry"
	"ChannelDigest/internal/textclean"
	"ChannelDigest/internal/usecase"
)

// Application wires configuration into use cases and owns shared resources.
type Application struct {
	cfg    config.Config
	logger *slog.Logger

	db        *sql.DB
	service   *usecase.CycleService
	scheduler *usecase.Scheduler
	channels  *usecase.ChannelManager
	ledger    *ledger.DedupLedger
}

// New builds a runnable application instance. The caller must Close it.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := storage.NewPostgres(db)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	sourceRegistry := registry.New(store, baseLogger.With("component", "registry"))
	dedupLedger := ledger.New(store, baseLogger.With("component", "ledger"))

	governor := pacing.New(pacing.Config{
		Transcript:  stageConfig(cfg.Pacing.Transcript),
		Summarize:   stageConfig(cfg.Pacing.Summarize),
		BackoffBase: cfg.Pacing.BackoffBase.Std(),
		BackoffCap:  cfg.Pacing.BackoffCap.Std(),
		QuotaPerRun: cfg.Pacing.QuotaPerRun,
	}, baseLogger.With("component", "governor"))

	strategies := discovery.NewRegistry()
	strategies.Register(youtube.NewRSSDiscovery(nil, baseLogger.With("component", "discovery.rss")))
	strategy, err := strategies.Resolve("youtube-rss")
	if err != nil {
		db.Close()
		return nil, err
	}

	cache := transcript.NewCache(
		cfg.Transcript.Cache.RedisURL,
		cfg.Transcript.Cache.TTL.Std(),
		cfg.Transcript.Cache.MaxEntries,
		baseLogger.With("component", "transcript.cache"),
	)
	fetcher := transcript.NewFetcher(nil, cfg.Transcript.Language, cache, baseLogger.With("component", "transcript"))
	transcriptStage := usecase.NewTranscriptStage(
		fetcher,
		textclean.Full,
		cfg.Transcript.Timeout.Std(),
		baseLogger.With("component", "stage.transcript"),
	)

	provider, err := cfg.LLM.Active()
	if err != nil {
		db.Close()
		return nil, err
	}
	summarizer := llm.NewClient(llm.Options{
		Endpoint:    provider.Endpoint,
		Model:       provider.Model,
		APIKey:      provider.APIKey,
		Temperature: provider.Temperature,
		MaxTokens:   provider.MaxTokens,
		Timeout:     cfg.LLM.Timeout.Std(),
	})
	summarizeStage := usecase.NewSummarizationStage(summarizer, cfg.LLM.Timeout.Std(), baseLogger.With("component", "stage.summarize"))

	orchestrator := usecase.NewOrchestrator(usecase.OrchestratorDeps{
		Registry:    sourceRegistry,
		Ledger:      dedupLedger,
		Governor:    governor,
		Discovery:   strategy,
		Transcript:  transcriptStage,
		Summarize:   summarizeStage,
		RetryBudget: cfg.LLM.RetryBudget,
		MaxLines:    cfg.LLM.MaxLines,
		Logger:      baseLogger.With("component", "orchestrator"),
	})

	publishers := []ports.Publisher{digest.NewFileWriter(cfg.Digest.OutputDir)}
	if tg := cfg.Notifications.Telegram; tg.BotToken != "" && tg.ChatID != "" {
		publishers = append(publishers, telegram.NewNotifier(tg.BotToken, tg.ChatID))
	}

	service := usecase.NewCycleService(orchestrator, publishers, baseLogger.With("component", "service"))

	driver := scheduler.NewCronScheduler(cfg.Scheduler.CronExpression, cfg.Scheduler.Location())
	sched := usecase.NewScheduler(driver, service, baseLogger.With("component", "scheduler"))

	resolver := youtube.NewPageResolver(nil)
	channels := usecase.NewChannelManager(store, resolver, baseLogger.With("component", "channels"))

	return &Application{
		cfg:       cfg,
		logger:    baseLogger,
		db:        db,
		service:   service,
		scheduler: sched,
		channels:  channels,
		ledger:    dedupLedger,
	}, nil
}

// RunOnce executes a single polling cycle.
func (a *Application) RunOnce(ctx context.Context) error {
	run, err := a.service.Execute(ctx)
	if err != nil {
		return err
	}
	a.logger.Info("cycle report",
		"run", run.RunID,
		"processed", run.ProcessedCount,
		"skipped", run.SkippedCount,
		"deferred", run.DeferredCount,
		"errors", len(run.Errors))
	return nil
}

// Serve starts the cron loop and blocks until ctx is cancelled.
func (a *Application) Serve(ctx context.Context) error {
	if err := a.scheduler.Start(ctx); err != nil {
		return err
	}
	a.logger.Info("scheduler started",
		"cron", a.cfg.Scheduler.CronExpression,
		"timezone", a.cfg.Scheduler.Location().String())

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return a.scheduler.Stop(stopCtx)
}

// Channels exposes channel management for the CLI.
func (a *Application) Channels() *usecase.ChannelManager {
	return a.channels
}

// Recent returns the most recently processed records, newest first.
func (a *Application) Recent(ctx context.Context, limit int) ([]domain.ProcessedRecord, error) {
	return a.ledger.Latest(ctx, limit)
}

// Close releases shared resources.
func (a *Application) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

func stageConfig(s config.StagePacing) pacing.StageConfig {
	return pacing.StageConfig{
		MinDelay:    s.MinDelay.Std(),
		MaxDelay:    s.MaxDelay.Std(),
		MinInterval: s.MinInterval.Std(),
	}
}
