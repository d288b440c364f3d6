package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Channel    ChannelConfig
	Voice      VoiceConfig
	Scheduler  SchedulerConfig
	Engine     EngineConfig
	Escalation EscalationConfig
}

type ServerConfig struct {
	Address string
}

type DatabaseConfig struct {
	PostgresURL string
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

// ChannelConfig points at the messaging-channel collaborator. Direct sends
// and template sends go to the same API with different payloads.
type ChannelConfig struct {
	BaseURL        string
	Token          string
	TemplateLocale string
}

type VoiceConfig struct {
	BaseURL    string
	APIKey     string
	AgentID    string
	FromNumber string
}

type SchedulerConfig struct {
	DispatchInterval time.Duration
	ExpireInterval   time.Duration
	EscalateInterval time.Duration
}

// EngineConfig holds the session-window and approval policy knobs.
type EngineConfig struct {
	SessionWindow  time.Duration
	ApprovalWindow time.Duration
	DefaultRegion  string
}

// EscalationConfig bounds the voice-call fallback: how long a queued message
// must sit before a call, how many calls per local day, and the permitted
// hour-of-day range in the organization's timezone.
type EscalationConfig struct {
	Threshold time.Duration
	MaxPerDay int
	HourStart int
	HourEnd   int
	Timezone  string
}

func LoadAll() (*Config, error) {
	var errs []error

	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	postgresURL, err := requireEnv("POSTGRES_URL")
	collect(err)
	channelURL, err := requireEnv("CHANNEL_BASE_URL")
	collect(err)
	channelToken, err := requireEnv("CHANNEL_TOKEN")
	collect(err)

	dispatchSec, err := getEnvInt("SCHED_DISPATCH_SECONDS", 60)
	collect(err)
	expireSec, err := getEnvInt("SCHED_EXPIRE_SECONDS", 300)
	collect(err)
	escalateSec, err := getEnvInt("SCHED_ESCALATE_SECONDS", 600)
	collect(err)

	sessionHours, err := getEnvInt("SESSION_WINDOW_HOURS", 24)
	collect(err)
	approvalHours, err := getEnvInt("APPROVAL_WINDOW_HOURS", 24)
	collect(err)

	thresholdHours, err := getEnvInt("ESCALATION_THRESHOLD_HOURS", 4)
	collect(err)
	maxPerDay, err := getEnvInt("ESCALATION_MAX_CALLS_PER_DAY", 10)
	collect(err)
	hourStart, err := getEnvInt("ESCALATION_HOUR_START", 9)
	collect(err)
	hourEnd, err := getEnvInt("ESCALATION_HOUR_END", 21)
	collect(err)

	redisCfg, err := loadRedisConfig()
	collect(err)

	cfg := &Config{
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8080"),
		},
		Database: DatabaseConfig{
			PostgresURL: postgresURL,
		},
		Redis: redisCfg,
		Channel: ChannelConfig{
			BaseURL:        channelURL,
			Token:          channelToken,
			TemplateLocale: getEnv("CHANNEL_TEMPLATE_LOCALE", "es_MX"),
		},
		Voice: VoiceConfig{
			BaseURL:    getEnv("VOICE_BASE_URL", "https://api.retellai.com"),
			APIKey:     os.Getenv("VOICE_API_KEY"),
			AgentID:    os.Getenv("VOICE_AGENT_ID"),
			FromNumber: os.Getenv("VOICE_FROM_NUMBER"),
		},
		Scheduler: SchedulerConfig{
			DispatchInterval: time.Duration(dispatchSec) * time.Second,
			ExpireInterval:   time.Duration(expireSec) * time.Second,
			EscalateInterval: time.Duration(escalateSec) * time.Second,
		},
		Engine: EngineConfig{
			SessionWindow:  time.Duration(sessionHours) * time.Hour,
			ApprovalWindow: time.Duration(approvalHours) * time.Hour,
			DefaultRegion:  getEnv("PHONE_DEFAULT_REGION", "MX"),
		},
		Escalation: EscalationConfig{
			Threshold: time.Duration(thresholdHours) * time.Hour,
			MaxPerDay: maxPerDay,
			HourStart: hourStart,
			HourEnd:   hourEnd,
			Timezone:  getEnv("ORG_TIMEZONE", "America/Mexico_City"),
		},
	}

	errs = append(errs, validate(cfg)...)

	if err := joinErrors(errs); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) []error {
	var errs []error

	if cfg.Scheduler.DispatchInterval <= 0 {
		errs = append(errs, errors.New("SCHED_DISPATCH_SECONDS must be > 0"))
	}
	if cfg.Scheduler.ExpireInterval <= 0 {
		errs = append(errs, errors.New("SCHED_EXPIRE_SECONDS must be > 0"))
	}
	if cfg.Scheduler.EscalateInterval <= 0 {
		errs = append(errs, errors.New("SCHED_ESCALATE_SECONDS must be > 0"))
	}
	if cfg.Engine.SessionWindow <= 0 {
		errs = append(errs, errors.New("SESSION_WINDOW_HOURS must be > 0"))
	}
	if cfg.Engine.ApprovalWindow <= 0 {
		errs = append(errs, errors.New("APPROVAL_WINDOW_HOURS must be > 0"))
	}
	if cfg.Escalation.Threshold <= 0 {
		errs = append(errs, errors.New("ESCALATION_THRESHOLD_HOURS must be > 0"))
	}
	if cfg.Escalation.MaxPerDay <= 0 {
		errs = append(errs, errors.New("ESCALATION_MAX_CALLS_PER_DAY must be > 0"))
	}
	if cfg.Escalation.HourStart < 0 || cfg.Escalation.HourStart > 23 {
		errs = append(errs, errors.New("ESCALATION_HOUR_START must be within 0-23"))
	}
	if cfg.Escalation.HourEnd < 1 || cfg.Escalation.HourEnd > 24 {
		errs = append(errs, errors.New("ESCALATION_HOUR_END must be within 1-24"))
	}
	if cfg.Escalation.HourStart >= cfg.Escalation.HourEnd {
		errs = append(errs, errors.New("ESCALATION_HOUR_START must be before ESCALATION_HOUR_END"))
	}
	if _, err := time.LoadLocation(cfg.Escalation.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("invalid ORG_TIMEZONE %q: %w", cfg.Escalation.Timezone, err))
	}

	return errs
}

func loadRedisConfig() (RedisConfig, error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}, nil
	}

	db, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return RedisConfig{}, err
	}
	ttlSec, err := getEnvInt("REDIS_TTL_SECONDS", 86400)
	if err != nil {
		return RedisConfig{}, err
	}

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		TTL:      time.Duration(ttlSec) * time.Second,
	}, nil
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid int for env %s: %q", key, v)
	}
	return i, nil
}

func joinErrors(errs []error) error {
	return errors.Join(errs...)
}
