package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(configPathEnv, path)
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Setenv(configPathEnv, "")
	t.Setenv(databaseDSNEnv, "")
	t.Setenv(llmProviderEnv, "")

	cfg := Load()

	if cfg.Logging.Level != "info" {
		t.Fatalf("unexpected log level: %s", cfg.Logging.Level)
	}
	if cfg.Pacing.QuotaPerRun != 5 {
		t.Fatalf("unexpected quota: %d", cfg.Pacing.QuotaPerRun)
	}
	if cfg.LLM.Provider != "ollama" {
		t.Fatalf("unexpected provider: %s", cfg.LLM.Provider)
	}
	if cfg.Transcript.Timeout.Std() != 30*time.Second {
		t.Fatalf("unexpected transcript timeout: %v", cfg.Transcript.Timeout.Std())
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	writeConfigFile(t, `
logging:
  level: warn
scheduler:
  cronExpression: "30 7 * * *"
transcript:
  timeout: 45s
pacing:
  quotaPerRun: 9
  backoffBase: 10s
`)

	cfg := Load()

	if cfg.Logging.Level != "warn" {
		t.Fatalf("unexpected log level: %s", cfg.Logging.Level)
	}
	if cfg.Scheduler.CronExpression != "30 7 * * *" {
		t.Fatalf("unexpected cron: %s", cfg.Scheduler.CronExpression)
	}
	if cfg.Transcript.Timeout.Std() != 45*time.Second {
		t.Fatalf("unexpected timeout: %v", cfg.Transcript.Timeout.Std())
	}
	if cfg.Pacing.QuotaPerRun != 9 {
		t.Fatalf("unexpected quota: %d", cfg.Pacing.QuotaPerRun)
	}
	if cfg.Pacing.BackoffBase.Std() != 10*time.Second {
		t.Fatalf("unexpected backoff base: %v", cfg.Pacing.BackoffBase.Std())
	}

	// Untouched sections keep their defaults.
	if cfg.LLM.MaxLines != 6 {
		t.Fatalf("expected default max lines, got %d", cfg.LLM.MaxLines)
	}
	if cfg.Pacing.Summarize.MinDelay.Std() != 3*time.Second {
		t.Fatalf("expected default summarize jitter, got %v", cfg.Pacing.Summarize.MinDelay.Std())
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv(configPathEnv, "")
	t.Setenv(databaseDSNEnv, "postgres://env-dsn")
	t.Setenv(groqAPIKeyEnv, "env-key")
	t.Setenv(llmProviderEnv, "groq")

	cfg := Load()

	if cfg.Database.DSN != "postgres://env-dsn" {
		t.Fatalf("unexpected dsn: %s", cfg.Database.DSN)
	}
	if cfg.LLM.Provider != "groq" {
		t.Fatalf("unexpected provider: %s", cfg.LLM.Provider)
	}
	if cfg.LLM.Groq.APIKey != "env-key" {
		t.Fatalf("unexpected api key: %s", cfg.LLM.Groq.APIKey)
	}
}

func TestValidate(t *testing.T) {
	base := defaultConfig()
	base.Database.DSN = "postgres://ok"

	if err := base.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	noDSN := base
	noDSN.Database.DSN = ""
	if err := noDSN.Validate(); err == nil {
		t.Fatal("expected error for missing dsn")
	}

	groqNoKey := base
	groqNoKey.LLM.Provider = "groq"
	groqNoKey.LLM.Groq.APIKey = ""
	if err := groqNoKey.Validate(); err == nil {
		t.Fatal("expected error for groq without api key")
	}

	badWindow := base
	badWindow.Pacing.Transcript.MinDelay = Duration(5 * time.Second)
	badWindow.Pacing.Transcript.MaxDelay = Duration(time.Second)
	if err := badWindow.Validate(); err == nil {
		t.Fatal("expected error for inverted jitter window")
	}

	unknownProvider := base
	unknownProvider.LLM.Provider = "mystery"
	if err := unknownProvider.Validate(); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestDurationUnmarshalRejectsGarbage(t *testing.T) {
	writeConfigFile(t, `
transcript:
  timeout: not-a-duration
`)

	// A broken file falls back to defaults instead of crashing startup.
	cfg := Load()
	if cfg.Transcript.Timeout.Std() != 30*time.Second {
		t.Fatalf("expected default timeout, got %v", cfg.Transcript.Timeout.Std())
	}
}
