package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultTimezone   = "UTC"
	configPathEnv     = "CHANNEL_DIGEST_CONFIG"
	databaseDSNEnv    = "DATABASE_DSN"
	groqAPIKeyEnv     = "GROQ_API_KEY"
	llmProviderEnv    = "LLM_PROVIDER"
	redisURLEnv       = "REDIS_URL"
	telegramTokenEnv  = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv = "TELEGRAM_CHAT_ID"
)

// Duration lets YAML carry human-readable values like "3s" or "2m".
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std converts to the standard library type.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds high-level settings required across the application.
type Config struct {
	Logging       LoggingConfig      `yaml:"logging"`
	Database      DatabaseConfig     `yaml:"database"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Transcript    TranscriptConfig   `yaml:"transcript"`
	LLM           LLMConfig          `yaml:"llm"`
	Pacing        PacingConfig       `yaml:"pacing"`
	Digest        DigestConfig       `yaml:"digest"`
	Notifications NotificationConfig `yaml:"notifications"`
}

// LoggingConfig selects handler level and format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DatabaseConfig describes Postgres connection details.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// SchedulerConfig defines when polling cycles run.
type SchedulerConfig struct {
	CronExpression string         `yaml:"cronExpression"`
	Timezone       string         `yaml:"timezone"`
	location       *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// TranscriptConfig controls the caption fetcher.
type TranscriptConfig struct {
	Language string      `yaml:"language"`
	Timeout  Duration    `yaml:"timeout"`
	Cache    CacheConfig `yaml:"cache"`
}

// CacheConfig tunes the transcript cache; RedisURL may be empty to run
// memory-only.
type CacheConfig struct {
	RedisURL   string   `yaml:"redisUrl"`
	TTL        Duration `yaml:"ttl"`
	MaxEntries int      `yaml:"maxEntries"`
}

// LLMConfig selects and tunes the summarization provider.
type LLMConfig struct {
	Provider    string         `yaml:"provider"`
	Groq        ProviderConfig `yaml:"groq"`
	Ollama      ProviderConfig `yaml:"ollama"`
	MaxLines    int            `yaml:"maxLines"`
	RetryBudget int            `yaml:"retryBudget"`
	Timeout     Duration       `yaml:"timeout"`
}

// ProviderConfig wires one OpenAI-compatible endpoint.
type ProviderConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"apiKey"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"maxTokens"`
}

// Active returns the provider selected by name.
func (l LLMConfig) Active() (ProviderConfig, error) {
	switch l.Provider {
	case "groq":
		return l.Groq, nil
	case "ollama", "":
		return l.Ollama, nil
	default:
		return ProviderConfig{}, fmt.Errorf("unknown llm provider %q", l.Provider)
	}
}

// StagePacing bounds the jitter window and sustained floor of one stage.
type StagePacing struct {
	MinDelay    Duration `yaml:"minDelay"`
	MaxDelay    Duration `yaml:"maxDelay"`
	MinInterval Duration `yaml:"minInterval"`
}

// PacingConfig tunes the rate governor.
type PacingConfig struct {
	QuotaPerRun int         `yaml:"quotaPerRun"`
	Transcript  StagePacing `yaml:"transcript"`
	Summarize   StagePacing `yaml:"summarize"`
	BackoffBase Duration    `yaml:"backoffBase"`
	BackoffCap  Duration    `yaml:"backoffCap"`
}

// DigestConfig controls the file artifact output.
type DigestConfig struct {
	OutputDir string `yaml:"outputDir"`
}

// NotificationConfig encapsulates outbound channels.
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// Load reads YAML configuration (if present) and applies environment
// overrides.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()
	cfg.bindTimezone()
	return cfg
}

// Validate rejects configurations the application cannot start with.
func (c Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	provider, err := c.LLM.Active()
	if err != nil {
		return err
	}
	if provider.Endpoint == "" || provider.Model == "" {
		return fmt.Errorf("llm provider %q missing endpoint or model", c.LLM.Provider)
	}
	if c.LLM.Provider == "groq" && provider.APIKey == "" {
		return fmt.Errorf("llm provider groq requires an api key")
	}
	if c.Pacing.QuotaPerRun <= 0 {
		return fmt.Errorf("pacing.quotaPerRun must be positive")
	}
	for name, stage := range map[string]StagePacing{"transcript": c.Pacing.Transcript, "summarize": c.Pacing.Summarize} {
		if stage.MaxDelay < stage.MinDelay {
			return fmt.Errorf("pacing.%s: maxDelay below minDelay", name)
		}
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv(groqAPIKeyEnv); v != "" {
		c.LLM.Groq.APIKey = v
	}
	if v := os.Getenv(llmProviderEnv); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv(redisURLEnv); v != "" {
		c.Transcript.Cache.RedisURL = v
	}
	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}
	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("config: unknown timezone %s, reverting to %s", tz, defaultTimezone)
		loc, _ = time.LoadLocation(defaultTimezone)
	}
	c.Scheduler.location = loc
}

func mergeConfig(base, override Config) Config {
	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	if override.Logging.Format != "" {
		base.Logging.Format = override.Logging.Format
	}

	if override.Database.DSN != "" {
		base.Database = override.Database
	}

	if override.Scheduler.CronExpression != "" {
		base.Scheduler.CronExpression = override.Scheduler.CronExpression
	}
	if override.Scheduler.Timezone != "" {
		base.Scheduler.Timezone = override.Scheduler.Timezone
	}

	if override.Transcript.Language != "" {
		base.Transcript.Language = override.Transcript.Language
	}
	if override.Transcript.Timeout != 0 {
		base.Transcript.Timeout = override.Transcript.Timeout
	}
	if override.Transcript.Cache.RedisURL != "" {
		base.Transcript.Cache.RedisURL = override.Transcript.Cache.RedisURL
	}
	if override.Transcript.Cache.TTL != 0 {
		base.Transcript.Cache.TTL = override.Transcript.Cache.TTL
	}
	if override.Transcript.Cache.MaxEntries != 0 {
		base.Transcript.Cache.MaxEntries = override.Transcript.Cache.MaxEntries
	}

	if override.LLM.Provider != "" {
		base.LLM.Provider = override.LLM.Provider
	}
	base.LLM.Groq = mergeProvider(base.LLM.Groq, override.LLM.Groq)
	base.LLM.Ollama = mergeProvider(base.LLM.Ollama, override.LLM.Ollama)
	if override.LLM.MaxLines != 0 {
		base.LLM.MaxLines = override.LLM.MaxLines
	}
	if override.LLM.RetryBudget != 0 {
		base.LLM.RetryBudget = override.LLM.RetryBudget
	}
	if override.LLM.Timeout != 0 {
		base.LLM.Timeout = override.LLM.Timeout
	}

	if override.Pacing.QuotaPerRun != 0 {
		base.Pacing.QuotaPerRun = override.Pacing.QuotaPerRun
	}
	base.Pacing.Transcript = mergeStage(base.Pacing.Transcript, override.Pacing.Transcript)
	base.Pacing.Summarize = mergeStage(base.Pacing.Summarize, override.Pacing.Summarize)
	if override.Pacing.BackoffBase != 0 {
		base.Pacing.BackoffBase = override.Pacing.BackoffBase
	}
	if override.Pacing.BackoffCap != 0 {
		base.Pacing.BackoffCap = override.Pacing.BackoffCap
	}

	if override.Digest.OutputDir != "" {
		base.Digest.OutputDir = override.Digest.OutputDir
	}

	if override.Notifications.Telegram.BotToken != "" {
		base.Notifications.Telegram.BotToken = override.Notifications.Telegram.BotToken
	}
	if override.Notifications.Telegram.ChatID != "" {
		base.Notifications.Telegram.ChatID = override.Notifications.Telegram.ChatID
	}

	return base
}

func mergeProvider(base, override ProviderConfig) ProviderConfig {
	if override.Endpoint != "" {
		base.Endpoint = override.Endpoint
	}
	if override.Model != "" {
		base.Model = override.Model
	}
	if override.APIKey != "" {
		base.APIKey = override.APIKey
	}
	if override.Temperature != 0 {
		base.Temperature = override.Temperature
	}
	if override.MaxTokens != 0 {
		base.MaxTokens = override.MaxTokens
	}
	return base
}

func mergeStage(base, override StagePacing) StagePacing {
	if override.MinDelay != 0 {
		base.MinDelay = override.MinDelay
	}
	if override.MaxDelay != 0 {
		base.MaxDelay = override.MaxDelay
	}
	if override.MinInterval != 0 {
		base.MinInterval = override.MinInterval
	}
	return base
}

func defaultConfig() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Logging:   LoggingConfig{Level: "info", Format: "text"},
		Database:  DatabaseConfig{DSN: ""},
		Scheduler: SchedulerConfig{CronExpression: "0 * * * *", Timezone: defaultTimezone, location: tz},
		Transcript: TranscriptConfig{
			Language: "en",
			Timeout:  Duration(30 * time.Second),
			Cache: CacheConfig{
				TTL:        Duration(24 * time.Hour),
				MaxEntries: 500,
			},
		},
		LLM: LLMConfig{
			Provider: "ollama",
			Groq: ProviderConfig{
				Endpoint:    "https://api.groq.com/openai/v1/chat/completions",
				Model:       "llama-3.3-70b-versatile",
				Temperature: 0.7,
				MaxTokens:   1024,
			},
			Ollama: ProviderConfig{
				Endpoint:  "http://localhost:11434/v1/chat/completions",
				Model:     "gemma3:4b",
				MaxTokens: 1024,
			},
			MaxLines:    6,
			RetryBudget: 2,
			Timeout:     Duration(60 * time.Second),
		},
		Pacing: PacingConfig{
			QuotaPerRun: 5,
			Transcript: StagePacing{
				MinDelay:    Duration(2 * time.Second),
				MaxDelay:    Duration(4 * time.Second),
				MinInterval: Duration(2 * time.Second),
			},
			Summarize: StagePacing{
				MinDelay:    Duration(3 * time.Second),
				MaxDelay:    Duration(7 * time.Second),
				MinInterval: Duration(1 * time.Second),
			},
			BackoffBase: Duration(5 * time.Second),
			BackoffCap:  Duration(5 * time.Minute),
		},
		Digest: DigestConfig{OutputDir: "digests"},
	}
}
