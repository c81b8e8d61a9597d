package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	LLMProvider  string // openai, anthropic, ollama
	OpenAIKey    string
	AnthropicKey string
	LLMModel     string
	LLMBaseURL   string // overrides the provider endpoint (OpenAI-compatible gateways)
	OllamaURL    string

	ListenAddr    string
	MaxToolRounds int

	DatabasePath   string
	RetentionCron  string
	RetentionDays  int
	DiscordWebhook string
	AlertRecipient string

	BreakerMaxFailures uint32
	BreakerTimeout     time.Duration

	LogLevel      string
	LogFormat     string // text or json
	TraceExporter string // none or stdout
}

func Load() (*Config, error) {
	_ = godotenv.Load() // ignore error if no .env

	cfg := &Config{
		LLMProvider:    envOr("LLM_PROVIDER", "openai"),
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		AnthropicKey:   os.Getenv("ANTHROPIC_API_KEY"),
		LLMModel:       os.Getenv("LLM_MODEL"),
		LLMBaseURL:     os.Getenv("LLM_BASE_URL"),
		OllamaURL:      envOr("OLLAMA_BASE_URL", "http://localhost:11434/v1"),
		ListenAddr:     envOr("LISTEN_ADDR", ":3000"),
		DatabasePath:   envOr("DATABASE_PATH", "./wattwise.db"),
		RetentionCron:  envOr("RETENTION_CRON", "0 3 * * *"),
		DiscordWebhook: os.Getenv("DISCORD_WEBHOOK_URL"),
		AlertRecipient: envOr("DEFAULT_ALERT_RECIPIENT", "default@tech2c.com"),
		LogLevel:       envOr("LOG_LEVEL", "info"),
		LogFormat:      envOr("LOG_FORMAT", "text"),
		TraceExporter:  envOr("TRACE_EXPORTER", "none"),
	}

	var err error
	if cfg.MaxToolRounds, err = envInt("MAX_TOOL_ROUNDS", 5); err != nil {
		return nil, err
	}
	if cfg.MaxToolRounds < 1 {
		return nil, fmt.Errorf("MAX_TOOL_ROUNDS must be at least 1, got %d", cfg.MaxToolRounds)
	}
	if cfg.RetentionDays, err = envInt("RETENTION_DAYS", 30); err != nil {
		return nil, err
	}
	failures, err := envInt("BREAKER_MAX_FAILURES", 5)
	if err != nil {
		return nil, err
	}
	if failures < 1 {
		return nil, fmt.Errorf("BREAKER_MAX_FAILURES must be at least 1, got %d", failures)
	}
	cfg.BreakerMaxFailures = uint32(failures)
	if cfg.BreakerTimeout, err = envDuration("BREAKER_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	return cfg, nil
}

// APIKey returns the credential for the configured provider.
func (c *Config) APIKey() string {
	switch c.LLMProvider {
	case "anthropic":
		return c.AnthropicKey
	case "ollama":
		return "ollama"
	default:
		return c.OpenAIKey
	}
}

// BaseURL returns the provider endpoint override, if any.
func (c *Config) BaseURL() string {
	if c.LLMProvider == "ollama" && c.LLMBaseURL == "" {
		return c.OllamaURL
	}
	return c.LLMBaseURL
}

// Logger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c *Config) Logger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return d, nil
}
