package config

import (
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"
)

var envMu sync.Mutex

func TestLoadAll_HappyPath_NoRedis(t *testing.T) {
	envMu.Lock()
	defer envMu.Unlock()

	clearTestEnv(t)

	t.Setenv("POSTGRES_URL", "postgres://u:p@localhost:5432/db?sslmode=disable")
	t.Setenv("CHANNEL_BASE_URL", "https://graph.example.com/v19.0/12345")
	t.Setenv("CHANNEL_TOKEN", "channel-secret")

	cfg, err := LoadAll()
	if err != nil {
		t.Fatalf("LoadAll() error: %v", err)
	}

	if cfg.Database.PostgresURL != "postgres://u:p@localhost:5432/db?sslmode=disable" {
		t.Fatalf("unexpected PostgresURL: %q", cfg.Database.PostgresURL)
	}
	if cfg.Channel.BaseURL != "https://graph.example.com/v19.0/12345" {
		t.Fatalf("unexpected Channel.BaseURL: %q", cfg.Channel.BaseURL)
	}
	if cfg.Channel.TemplateLocale != "es_MX" {
		t.Fatalf("unexpected TemplateLocale default: %q", cfg.Channel.TemplateLocale)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected Server.Address default: %q", cfg.Server.Address)
	}
	if cfg.Engine.SessionWindow != 24*time.Hour {
		t.Fatalf("unexpected SessionWindow default: %v", cfg.Engine.SessionWindow)
	}
	if cfg.Engine.ApprovalWindow != 24*time.Hour {
		t.Fatalf("unexpected ApprovalWindow default: %v", cfg.Engine.ApprovalWindow)
	}
	if cfg.Scheduler.DispatchInterval != 60*time.Second {
		t.Fatalf("unexpected DispatchInterval default: %v", cfg.Scheduler.DispatchInterval)
	}
	if cfg.Escalation.Threshold != 4*time.Hour {
		t.Fatalf("unexpected Escalation.Threshold default: %v", cfg.Escalation.Threshold)
	}
	if cfg.Escalation.MaxPerDay != 10 {
		t.Fatalf("unexpected Escalation.MaxPerDay default: %d", cfg.Escalation.MaxPerDay)
	}
	if cfg.Escalation.HourStart != 9 || cfg.Escalation.HourEnd != 21 {
		t.Fatalf("unexpected call-hour defaults: %d-%d", cfg.Escalation.HourStart, cfg.Escalation.HourEnd)
	}
	if cfg.Escalation.Timezone != "America/Mexico_City" {
		t.Fatalf("unexpected Timezone default: %q", cfg.Escalation.Timezone)
	}

	if cfg.Redis.Enabled {
		t.Fatalf("expected Redis disabled when REDIS_ADDR not set")
	}
}

func TestLoadAll_HappyPath_WithRedis(t *testing.T) {
	envMu.Lock()
	defer envMu.Unlock()

	clearTestEnv(t)

	setRequired(t)

	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_PASSWORD", "secret")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("REDIS_TTL_SECONDS", "42")

	cfg, err := LoadAll()
	if err != nil {
		t.Fatalf("LoadAll() error: %v", err)
	}

	if !cfg.Redis.Enabled {
		t.Fatalf("expected Redis enabled")
	}
	if cfg.Redis.Address != "localhost:6379" {
		t.Fatalf("unexpected Redis.Address: %q", cfg.Redis.Address)
	}
	if cfg.Redis.Password != "secret" {
		t.Fatalf("unexpected Redis.Password: %q", cfg.Redis.Password)
	}
	if cfg.Redis.DB != 3 {
		t.Fatalf("unexpected Redis.DB: %d", cfg.Redis.DB)
	}
	if cfg.Redis.TTL != 42*time.Second {
		t.Fatalf("unexpected Redis.TTL: %v", cfg.Redis.TTL)
	}
}

func TestLoadAll_RequiredEnvMissing(t *testing.T) {
	envMu.Lock()
	defer envMu.Unlock()

	required := []string{"POSTGRES_URL", "CHANNEL_BASE_URL", "CHANNEL_TOKEN"}

	for _, missing := range required {
		t.Run("missing "+missing, func(t *testing.T) {
			clearTestEnv(t)
			setRequired(t)
			_ = os.Unsetenv(missing)

			_, err := LoadAll()
			if err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !strings.Contains(err.Error(), missing) {
				t.Fatalf("expected error mentioning %s, got: %v", missing, err)
			}
		})
	}
}

func TestLoadAll_InvalidInts(t *testing.T) {
	envMu.Lock()
	defer envMu.Unlock()

	cases := []struct {
		name string
		key  string
		val  string
	}{
		{"invalid SCHED_DISPATCH_SECONDS", "SCHED_DISPATCH_SECONDS", "nope"},
		{"invalid SESSION_WINDOW_HOURS", "SESSION_WINDOW_HOURS", "abc"},
		{"invalid ESCALATION_MAX_CALLS_PER_DAY", "ESCALATION_MAX_CALLS_PER_DAY", "x"},
		{"invalid REDIS_DB", "REDIS_DB", "bad"},
		{"invalid REDIS_TTL_SECONDS", "REDIS_TTL_SECONDS", "bad"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearTestEnv(t)
			setRequired(t)

			if strings.HasPrefix(tc.key, "REDIS_") {
				t.Setenv("REDIS_ADDR", "localhost:6379")
			}

			t.Setenv(tc.key, tc.val)

			_, err := LoadAll()
			if err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.key) {
				t.Fatalf("expected error mentioning %s, got: %v", tc.key, err)
			}
		})
	}
}

func TestLoadAll_ValidationFailures(t *testing.T) {
	envMu.Lock()
	defer envMu.Unlock()

	cases := []struct {
		name string
		key  string
		val  string
		want string
	}{
		{"dispatch interval <= 0", "SCHED_DISPATCH_SECONDS", "0", "SCHED_DISPATCH_SECONDS"},
		{"session window <= 0", "SESSION_WINDOW_HOURS", "0", "SESSION_WINDOW_HOURS"},
		{"approval window <= 0", "APPROVAL_WINDOW_HOURS", "-1", "APPROVAL_WINDOW_HOURS"},
		{"quota <= 0", "ESCALATION_MAX_CALLS_PER_DAY", "0", "ESCALATION_MAX_CALLS_PER_DAY"},
		{"hour start out of range", "ESCALATION_HOUR_START", "25", "ESCALATION_HOUR_START"},
		{"hours inverted", "ESCALATION_HOUR_START", "22", "ESCALATION_HOUR_START must be before"},
		{"bad timezone", "ORG_TIMEZONE", "Mars/Olympus", "ORG_TIMEZONE"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearTestEnv(t)
			setRequired(t)
			t.Setenv(tc.key, tc.val)

			_, err := LoadAll()
			if err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %s, got: %v", tc.want, err)
			}
		})
	}
}

func TestRequireEnv(t *testing.T) {
	envMu.Lock()
	defer envMu.Unlock()

	clearTestEnv(t)

	_, err := requireEnv("MISSING_KEY")
	if err == nil {
		t.Fatalf("expected error, got nil")
	}

	t.Setenv("FOO", "bar")
	v, err := requireEnv("FOO")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "bar" {
		t.Fatalf("expected %q, got %q", "bar", v)
	}
}

func TestGetEnv(t *testing.T) {
	envMu.Lock()
	defer envMu.Unlock()

	clearTestEnv(t)

	if got := getEnv("NOPE", "default"); got != "default" {
		t.Fatalf("expected default, got %q", got)
	}

	t.Setenv("A", "x")
	if got := getEnv("A", "default"); got != "x" {
		t.Fatalf("expected x, got %q", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	envMu.Lock()
	defer envMu.Unlock()

	clearTestEnv(t)

	got, err := getEnvInt("MISSING", 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 7 {
		t.Fatalf("expected default 7, got %d", got)
	}

	t.Setenv("N", "123")
	got, err = getEnvInt("N", 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 123 {
		t.Fatalf("expected 123, got %d", got)
	}

	t.Setenv("BAD", "abc")
	_, err = getEnvInt("BAD", 7)
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "BAD") {
		t.Fatalf("expected error mentioning BAD, got: %v", err)
	}
}

func TestJoinErrors(t *testing.T) {
	if err := joinErrors(nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}

	e1 := errors.New("one")
	e2 := errors.New("two")
	err := joinErrors([]error{e1, e2})
	if err == nil {
		t.Fatalf("expected error, got nil")
	}

	if !errors.Is(err, e1) {
		t.Fatalf("expected errors.Is(err, e1) to be true")
	}
	if !errors.Is(err, e2) {
		t.Fatalf("expected errors.Is(err, e2) to be true")
	}
}

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("POSTGRES_URL", "postgres://u:p@localhost:5432/db?sslmode=disable")
	t.Setenv("CHANNEL_BASE_URL", "https://graph.example.com/v19.0/12345")
	t.Setenv("CHANNEL_TOKEN", "channel-secret")
}

func clearTestEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"POSTGRES_URL",
		"CHANNEL_BASE_URL",
		"CHANNEL_TOKEN",
		"CHANNEL_TEMPLATE_LOCALE",
		"VOICE_BASE_URL",
		"VOICE_API_KEY",
		"VOICE_AGENT_ID",
		"VOICE_FROM_NUMBER",
		"SERVER_ADDRESS",
		"SCHED_DISPATCH_SECONDS",
		"SCHED_EXPIRE_SECONDS",
		"SCHED_ESCALATE_SECONDS",
		"SESSION_WINDOW_HOURS",
		"APPROVAL_WINDOW_HOURS",
		"PHONE_DEFAULT_REGION",
		"ESCALATION_THRESHOLD_HOURS",
		"ESCALATION_MAX_CALLS_PER_DAY",
		"ESCALATION_HOUR_START",
		"ESCALATION_HOUR_END",
		"ORG_TIMEZONE",
		"REDIS_ADDR",
		"REDIS_PASSWORD",
		"REDIS_DB",
		"REDIS_TTL_SECONDS",
		"FOO",
		"A",
		"N",
		"BAD",
	}
	for _, k := range keys {
		_ = os.Unsetenv(k)
	}
}
