// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"
	_ "time/tzdata" // TIMEZONE must resolve in minimal containers

	"github.com/benvon/smart-reminder/internal/models"
	"github.com/benvon/smart-reminder/internal/policy"
	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DatabaseURL string
	ServerPort  string
	FrontendURL string
	EnableHSTS  bool

	Timezone      string
	Location      *time.Location
	ReminderTimes []models.TimeOfDay
	ExactTimeLead time.Duration

	AIEnabled   bool
	AIBaseURL   string
	AIModel     string
	OpenAIKey   string
	NLPTimeout  time.Duration
	RecentTasks int

	TelegramToken   string
	TelegramChatID  string
	SlackWebhookURL string

	NotifyViaQueue   bool
	RabbitMQURL      string
	RabbitMQPrefetch int
	DLQRetention     time.Duration
	DLQGCSchedule    string

	DeliveryMaxAttempts    int
	DeliveryInitialBackoff time.Duration
	DeliveryMaxBackoff     time.Duration

	GoogleCalendarEnabled bool
	GoogleCredsPath       string
	GoogleTokenPath       string
	GoogleCalendarID      string
	GoogleSyncDays        int
	GoogleSyncInterval    time.Duration

	RedisURL  string
	RateLimit string

	ServerDebugMode bool
	WorkerDebugMode bool
	OTELEnabled     bool
	OTELEndpoint    string
}

// LookupFunc reads one variable, reporting whether it was set
type LookupFunc func(key string) (string, bool)

// Load reads an optional .env file and then the process environment.
// Variables already set in the environment win over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return LoadFrom(os.LookupEnv)
}

// LoadFrom builds and validates a Config from lookup
func LoadFrom(lookup LookupFunc) (*Config, error) {
	e := env{lookup: lookup}
	cfg := &Config{
		DatabaseURL: e.str("DATABASE_URL", "smart_reminder.db"),
		ServerPort:  e.str("SERVER_PORT", "8080"),
		FrontendURL: e.str("FRONTEND_URL", "http://localhost:3000"),
		EnableHSTS:  e.boolean("ENABLE_HSTS", false),

		Timezone:      e.str("TIMEZONE", "America/Chicago"),
		ExactTimeLead: time.Duration(e.integer("EXACT_TIME_LEAD_MINUTES", 5)) * time.Minute,

		AIEnabled:   e.boolean("AI_ENABLED", false),
		AIBaseURL:   e.str("AI_BASE_URL", "https://api.openai.com/v1"),
		AIModel:     e.str("AI_MODEL", "gpt-4o-mini"),
		OpenAIKey:   e.str("OPENAI_API_KEY", ""),
		NLPTimeout:  e.duration("NLP_TIMEOUT", 8*time.Second),
		RecentTasks: e.integer("RECENT_TASKS_CONTEXT", 25),

		TelegramToken:   e.str("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:  e.str("TELEGRAM_CHAT_ID", ""),
		SlackWebhookURL: e.str("SLACK_WEBHOOK_URL", ""),

		NotifyViaQueue:   e.boolean("NOTIFY_VIA_QUEUE", false),
		RabbitMQURL:      e.str("RABBITMQ_URL", ""),
		RabbitMQPrefetch: e.integer("RABBITMQ_PREFETCH", 1),
		DLQRetention:     e.duration("DLQ_RETENTION", 7*24*time.Hour),
		DLQGCSchedule:    e.str("DLQ_GC_SCHEDULE", "@hourly"),

		DeliveryMaxAttempts:    e.integer("DELIVERY_MAX_ATTEMPTS", 5),
		DeliveryInitialBackoff: e.duration("DELIVERY_INITIAL_BACKOFF", 2*time.Second),
		DeliveryMaxBackoff:     e.duration("DELIVERY_MAX_BACKOFF", time.Minute),

		GoogleCalendarEnabled: e.boolean("GOOGLE_CALENDAR_ENABLED", false),
		GoogleCredsPath:       e.str("GOOGLE_CREDS_PATH", "credentials.json"),
		GoogleTokenPath:       e.str("GOOGLE_TOKEN_PATH", "token.json"),
		GoogleCalendarID:      e.str("GOOGLE_CALENDAR_ID", "primary"),
		GoogleSyncDays:        e.integer("GOOGLE_SYNC_DAYS", 7),
		GoogleSyncInterval:    e.duration("GOOGLE_SYNC_INTERVAL", 5*time.Minute),

		RedisURL:  e.str("REDIS_URL", ""),
		RateLimit: e.str("RATE_LIMIT", "10-S"),

		ServerDebugMode: e.boolean("SERVER_DEBUG_MODE", false),
		WorkerDebugMode: e.boolean("WORKER_DEBUG_MODE", false),
		OTELEnabled:     e.boolean("OTEL_ENABLED", false),
		OTELEndpoint:    e.str("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}

	if len(e.errs) > 0 {
		return nil, errors.Join(e.errs...)
	}
	if err := cfg.resolve(e.str("REMINDER_TIMES", "")); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) resolve(reminderTimes string) error {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	c.Location = loc

	if reminderTimes == "" {
		c.ReminderTimes = append([]models.TimeOfDay(nil), policy.DefaultReminderTimes...)
		return nil
	}
	times, err := policy.ParseTimes(reminderTimes)
	if err != nil {
		return fmt.Errorf("invalid REMINDER_TIMES: %w", err)
	}
	c.ReminderTimes = times
	return nil
}

func (c *Config) validate() error {
	var errs []error
	positive := map[string]time.Duration{
		"EXACT_TIME_LEAD_MINUTES":  c.ExactTimeLead,
		"NLP_TIMEOUT":              c.NLPTimeout,
		"DELIVERY_INITIAL_BACKOFF": c.DeliveryInitialBackoff,
		"DELIVERY_MAX_BACKOFF":     c.DeliveryMaxBackoff,
		"DLQ_RETENTION":            c.DLQRetention,
		"GOOGLE_SYNC_INTERVAL":     c.GoogleSyncInterval,
	}
	for key, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", key))
		}
	}
	if c.DeliveryMaxAttempts < 1 {
		errs = append(errs, errors.New("DELIVERY_MAX_ATTEMPTS must be at least 1"))
	}
	if c.DeliveryMaxBackoff < c.DeliveryInitialBackoff {
		errs = append(errs, errors.New("DELIVERY_MAX_BACKOFF must not be below DELIVERY_INITIAL_BACKOFF"))
	}
	if c.RecentTasks < 0 {
		errs = append(errs, errors.New("RECENT_TASKS_CONTEXT must not be negative"))
	}
	if c.RabbitMQPrefetch < 1 {
		errs = append(errs, errors.New("RABBITMQ_PREFETCH must be at least 1"))
	}
	if c.NotifyViaQueue && c.RabbitMQURL == "" {
		errs = append(errs, errors.New("RABBITMQ_URL is required when NOTIFY_VIA_QUEUE is enabled"))
	}
	if c.GoogleCalendarEnabled {
		if c.GoogleCredsPath == "" {
			errs = append(errs, errors.New("GOOGLE_CREDS_PATH is required when GOOGLE_CALENDAR_ENABLED is set"))
		}
		if c.GoogleSyncDays < 1 {
			errs = append(errs, errors.New("GOOGLE_SYNC_DAYS must be at least 1"))
		}
	}
	return errors.Join(errs...)
}

// Policy builds the reminder policy from the configured times, lead and location
func (c *Config) Policy() (*policy.Policy, error) {
	return policy.New(c.ReminderTimes, c.ExactTimeLead, c.Location)
}

// env reads typed values, collecting parse errors instead of silently using defaults
type env struct {
	lookup LookupFunc
	errs   []error
}

func (e *env) str(key, defaultValue string) string {
	if value, ok := e.lookup(key); ok && value != "" {
		return value
	}
	return defaultValue
}

func (e *env) boolean(key string, defaultValue bool) bool {
	value := e.str(key, "")
	switch value {
	case "":
		return defaultValue
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	e.errs = append(e.errs, fmt.Errorf("%s: invalid boolean %q", key, value))
	return defaultValue
}

func (e *env) integer(key string, defaultValue int) int {
	value := e.str(key, "")
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid integer %q", key, value))
		return defaultValue
	}
	return n
}

func (e *env) duration(key string, defaultValue time.Duration) time.Duration {
	value := e.str(key, "")
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid duration %q", key, value))
		return defaultValue
	}
	return d
}
