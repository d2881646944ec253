package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ivankudzin/modqueue/internal/domain/enums"
)

func TestLoadUsesDefaultsAndYAMLOverrides(t *testing.T) {
	clearConfigEnv(t)

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")
	yaml := `
store:
  driver: memory
oracle:
  provider: rules
  timeout: 10s
  rules:
    min_length: 25
    banned_terms: [spam, scam]
    expressions:
      - name: shouting
        expr: 'length > 20 && text.upperAscii() == text'
        violation: shouting
        feedback: Lower your voice, citizen.
worker:
  backlog_threshold: 50
  queues:
    private_message:
      max_jobs: 2
    appeal_review:
      fallback: hold
scheduler:
  stale_after: 4m
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Store.Driver != "memory" {
		t.Fatalf("unexpected store driver: %s", cfg.Store.Driver)
	}
	if cfg.Oracle.Timeout != 10*time.Second {
		t.Fatalf("unexpected oracle timeout: %s", cfg.Oracle.Timeout)
	}
	if cfg.Oracle.Rules.MinLength != 25 {
		t.Fatalf("unexpected min length: %d", cfg.Oracle.Rules.MinLength)
	}
	if len(cfg.Oracle.Rules.BannedTerms) != 2 {
		t.Fatalf("unexpected banned terms: %v", cfg.Oracle.Rules.BannedTerms)
	}
	if len(cfg.Oracle.Rules.Expressions) != 1 || cfg.Oracle.Rules.Expressions[0].Violation != "shouting" {
		t.Fatalf("unexpected rule expressions: %+v", cfg.Oracle.Rules.Expressions)
	}
	if cfg.Worker.BacklogThreshold != 50 {
		t.Fatalf("unexpected backlog threshold: %d", cfg.Worker.BacklogThreshold)
	}
	if cfg.Scheduler.StaleAfter != 4*time.Minute {
		t.Fatalf("unexpected stale_after: %s", cfg.Scheduler.StaleAfter)
	}

	pm := cfg.QueueWorker(enums.QueueTypePrivateMessage)
	if pm.MaxJobs != 2 {
		t.Fatalf("unexpected private_message max_jobs: %d", pm.MaxJobs)
	}
	if pm.JobTimeout != 30*time.Second {
		t.Fatalf("private_message job_timeout default should stay 30s, got %s", pm.JobTimeout)
	}
	appeal := cfg.QueueWorker(enums.QueueTypeAppealReview)
	if appeal.Fallback != enums.FallbackHold {
		t.Fatalf("unexpected appeal fallback: %s", appeal.Fallback)
	}
	if appeal.MaxJobs != 3 {
		t.Fatalf("appeal max_jobs default should stay 3, got %d", appeal.MaxJobs)
	}
	if cfg.QueueWorker(enums.QueueTypePostModeration).MaxJobs != 10 {
		t.Fatalf("post_moderation defaults should be kept when queue is not in file")
	}
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	clearConfigEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load config with missing file: %v", err)
	}

	if cfg.Oracle.Provider != "rules" {
		t.Fatalf("unexpected default oracle provider: %s", cfg.Oracle.Provider)
	}
	if cfg.Worker.MaxRetries != 1 {
		t.Fatalf("unexpected default max retries: %d", cfg.Worker.MaxRetries)
	}
	if cfg.QueueWorker(enums.QueueTypePostTOSScreening).Fallback != enums.FallbackApprove {
		t.Fatalf("tos screening must fail open by default")
	}
	if cfg.QueueWorker(enums.QueueTypeAppealReview).Fallback != enums.FallbackReject {
		t.Fatalf("appeal review must fail closed by default")
	}
	if cfg.Worker.BacklogThreshold != 1000 {
		t.Fatalf("unexpected default backlog threshold: %d", cfg.Worker.BacklogThreshold)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("STORE_DRIVER", "MEMORY")
	t.Setenv("ORACLE_PROVIDER", "llm")
	t.Setenv("ORACLE_API_KEY", "sk-test")
	t.Setenv("ALERT_CHAT_ID", "-100123")
	t.Setenv("REDIS_DB", "4")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Store.Driver != "memory" || cfg.Oracle.Provider != "llm" {
		t.Fatalf("unexpected overrides: store=%s oracle=%s", cfg.Store.Driver, cfg.Oracle.Provider)
	}
	if cfg.Oracle.LLM.APIKey != "sk-test" {
		t.Fatalf("unexpected api key override")
	}
	if cfg.Alert.ChatID != -100123 {
		t.Fatalf("unexpected alert chat id: %d", cfg.Alert.ChatID)
	}
	if cfg.Redis.DB != 4 {
		t.Fatalf("unexpected redis db: %d", cfg.Redis.DB)
	}
}

func TestLoadRejectsBadEnvValue(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("ORACLE_TIMEOUT", "soon")

	if _, err := Load(""); err == nil {
		t.Fatalf("expected duration parse error")
	}
}

func TestValidateRejectsJobTimeoutBelowOracleBudget(t *testing.T) {
	cfg := Default()
	cfg.Oracle.Timeout = 30 * time.Second
	cfg.Worker.Queues[enums.QueueTypePrivateMessage] = QueueWorker{MaxJobs: 8, JobTimeout: 30 * time.Second}

	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for job timeout not exceeding oracle timeout")
	}
}

func TestValidateRejectsStaleAfterWithinJobTimeout(t *testing.T) {
	tests := []struct {
		name       string
		staleAfter time.Duration
		wantErr    bool
	}{
		{name: "below appeal budget", staleAfter: time.Minute, wantErr: true},
		{name: "equal to appeal budget", staleAfter: 180 * time.Second, wantErr: true},
		{name: "above every budget", staleAfter: 181 * time.Second, wantErr: false},
	}
	for _, tt := range tests {
		cfg := Default()
		cfg.Scheduler.StaleAfter = tt.staleAfter
		err := cfg.Validate()
		if tt.wantErr && err == nil {
			t.Fatalf("%s: expected validation error", tt.name)
		}
		if !tt.wantErr && err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.name, err)
		}
	}
}

func TestLoadRejectsShortStaleAfterFromEnv(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("SCHEDULER_STALE_AFTER", "1m")

	if _, err := Load(""); err == nil {
		t.Fatalf("expected stale_after below the appeal job_timeout to be rejected")
	}
}

func TestLongestJobTimeout(t *testing.T) {
	cfg := Default()
	if got := cfg.LongestJobTimeout(); got != 180*time.Second {
		t.Fatalf("unexpected longest job timeout: %s", got)
	}
	cfg.Worker.Queues[enums.QueueTypePrivateMessage] = QueueWorker{MaxJobs: 1, JobTimeout: 4 * time.Minute}
	if got := cfg.LongestJobTimeout(); got != 4*time.Minute {
		t.Fatalf("override should raise the longest job timeout, got %s", got)
	}
}

func TestValidateRejectsUnknownQueueType(t *testing.T) {
	cfg := Default()
	cfg.Worker.Queues["flag_review"] = QueueWorker{MaxJobs: 1, JobTimeout: time.Minute}

	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for unknown queue type")
	}
}

func TestLoadRejectsDefaultSecretInProduction(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("APP_ENV", "prod")

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatalf("expected error when jwt secret is left at default in production")
	}
}

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"APP_ENV",
		"HTTP_ADDR",
		"HTTP_READ_TIMEOUT",
		"HTTP_IDLE_TIMEOUT",
		"LOG_LEVEL",
		"STORE_DRIVER",
		"POSTGRES_DSN",
		"REDIS_ADDR",
		"REDIS_PASSWORD",
		"REDIS_DB",
		"S3_ENDPOINT",
		"S3_ACCESS_KEY",
		"S3_SECRET_KEY",
		"S3_BUCKET",
		"S3_USE_SSL",
		"JWT_SECRET",
		"JWT_ACCESS_TTL",
		"ALERT_BOT_TOKEN",
		"ALERT_CHAT_ID",
		"ORACLE_PROVIDER",
		"ORACLE_API_KEY",
		"ORACLE_TIMEOUT",
		"WORKER_MAX_RETRIES",
		"SCHEDULER_STALE_AFTER",
	} {
		t.Setenv(key, "")
	}
}
