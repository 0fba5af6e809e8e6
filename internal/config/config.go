// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Session store backends.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	CORSOrigins []string

	OpenAI   OpenAIConfig
	Webhooks WebhookConfig
	Session  SessionConfig
	Run      RunConfig

	DeliveryTimeout    time.Duration
	NotifySource       string
	AutoTriggerWebhook bool

	RateLimit       RateLimitConfig
	MetricsEnabled  bool
	GRPCHealthAddr  string
	ConversationLog ConversationLogConfig
}

// OpenAIConfig holds agent-service credentials.
type OpenAIConfig struct {
	APIKey      string
	AssistantID string
	BaseURL     string // optional, for proxies and tests
}

// WebhookConfig holds one destination URL per notification category.
type WebhookConfig struct {
	Wrap       string
	Escalation string
	Product    string
	Logistics  string
}

// SessionConfig controls the session store and its expiry sweep.
type SessionConfig struct {
	Store         string
	DBPath        string
	TTL           time.Duration
	SweepInterval time.Duration
}

// RunConfig controls the run polling loop.
type RunConfig struct {
	PollInterval time.Duration
	Deadline     time.Duration
	CancelGrace  time.Duration
	SettleDelay  time.Duration
}

// RateLimitConfig throttles POST /api/message per client address.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// ConversationLogConfig controls NDJSON conversation logging.
type ConversationLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:        getEnv("PORT", "3000"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		CORSOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		OpenAI: OpenAIConfig{
			APIKey:      getEnv("OPENAI_API_KEY", ""),
			AssistantID: getEnv("ASSISTANT_ID", ""),
			BaseURL:     getEnv("OPENAI_BASE_URL", ""),
		},
		Webhooks: WebhookConfig{
			Wrap:       getEnv("WRAP_WEBHOOK_URL", ""),
			Escalation: getEnv("ESCALATION_WEBHOOK_URL", ""),
			// The tool-call path historically read SUGGESTION_WEBHOOK_URL.
			Product:   getEnv("PRODUCT_WEBHOOK_URL", getEnv("SUGGESTION_WEBHOOK_URL", "")),
			Logistics: getEnv("LOGISTICS_WEBHOOK_URL", ""),
		},
		Session: SessionConfig{
			Store:         strings.ToLower(getEnv("SESSION_STORE", StoreMemory)),
			DBPath:        getEnv("DB_PATH", "./data/sessions.db"),
			TTL:           getEnvDuration("SESSION_TTL", time.Hour),
			SweepInterval: getEnvDuration("SESSION_SWEEP_INTERVAL", time.Hour),
		},
		Run: RunConfig{
			PollInterval: getEnvDuration("RUN_POLL_INTERVAL", time.Second),
			Deadline:     getEnvDuration("RUN_DEADLINE", 30*time.Second),
			CancelGrace:  getEnvDuration("RUN_CANCEL_GRACE", time.Second),
			SettleDelay:  getEnvDuration("RUN_SETTLE_DELAY", 2*time.Second),
		},
		DeliveryTimeout:    getEnvDuration("DELIVERY_TIMEOUT", 10*time.Second),
		NotifySource:       getEnv("NOTIFY_SOURCE", "AFI Assist Web Chat"),
		AutoTriggerWebhook: getEnvBool("AUTO_TRIGGER_WEBHOOK", false),
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 30),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		MetricsEnabled: getEnvBool("METRICS_ENABLED", true),
		GRPCHealthAddr: getEnv("GRPC_HEALTH_ADDR", ""),
		ConversationLog: ConversationLogConfig{
			Enabled:   getEnvBool("CONVERSATION_LOG_ENABLED", false),
			Dir:       getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			QueueSize: queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	if c.OpenAI.AssistantID == "" {
		return fmt.Errorf("ASSISTANT_ID is required")
	}
	switch c.Session.Store {
	case StoreMemory:
	case StoreSQLite:
		if c.Session.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty when SESSION_STORE=sqlite")
		}
	default:
		return fmt.Errorf("SESSION_STORE must be %q or %q, got %q", StoreMemory, StoreSQLite, c.Session.Store)
	}
	if c.Session.TTL <= 0 || c.Session.SweepInterval <= 0 {
		return fmt.Errorf("SESSION_TTL and SESSION_SWEEP_INTERVAL must be > 0")
	}
	if c.Run.PollInterval <= 0 || c.Run.Deadline <= 0 {
		return fmt.Errorf("RUN_POLL_INTERVAL and RUN_DEADLINE must be > 0")
	}
	if c.Run.CancelGrace < 0 || c.Run.SettleDelay < 0 {
		return fmt.Errorf("RUN_CANCEL_GRACE and RUN_SETTLE_DELAY cannot be negative")
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.DeliveryTimeout <= 0 {
		return fmt.Errorf("DELIVERY_TIMEOUT must be > 0")
	}
	if c.ConversationLog.Enabled && c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// Destinations returns the configured webhook URL per intent name.
// Unset categories are omitted.
func (w WebhookConfig) Destinations() map[string]string {
	out := make(map[string]string, 4)
	for name, url := range map[string]string{
		"wrap":            w.Wrap,
		"escalation":      w.Escalation,
		"product_request": w.Product,
		"logistics":       w.Logistics,
	} {
		if url != "" {
			out[name] = url
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go duration strings ("30s") or bare milliseconds ("1500").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
