package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env"
	"github.com/joho/godotenv"
)

// Config holds every setting the service reads at startup.
type Config struct {
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	JWTSecret   string `env:"JWT_SECRET"`

	// Providers
	OpenAIAPIKey     string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL    string `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	AnthropicAPIKey  string `env:"ANTHROPIC_API_KEY"`
	AnthropicBaseURL string `env:"ANTHROPIC_BASE_URL" envDefault:"https://api.anthropic.com"`
	GeminiAPIKey     string `env:"GEMINI_API_KEY"`
	GeminiBaseURL    string `env:"GEMINI_BASE_URL" envDefault:"https://generativelanguage.googleapis.com/v1beta"`
	DeepSeekAPIKey   string `env:"DEEPSEEK_API_KEY"`
	DeepSeekBaseURL  string `env:"DEEPSEEK_BASE_URL" envDefault:"https://api.deepseek.com/v1"`
	GrokAPIKey       string `env:"GROK_API_KEY"`
	GrokBaseURL      string `env:"GROK_BASE_URL" envDefault:"https://api.x.ai/v1"`
	ProviderTimeoutS int    `env:"PROVIDER_TIMEOUT_SECONDS" envDefault:"120"`

	// Retrieval
	RetrievalURL      string `env:"RETRIEVAL_URL"`
	RetrievalAPIKey   string `env:"RETRIEVAL_API_KEY"`
	RetrievalPageSize int    `env:"RETRIEVAL_PAGE_SIZE" envDefault:"5"`

	// Channels
	GraphAPIVersion    string `env:"GRAPH_API_VERSION" envDefault:"v18.0"`
	GraphBaseURL       string `env:"GRAPH_BASE_URL" envDefault:"https://graph.facebook.com"`
	WebhookVerifyToken string `env:"WEBHOOK_VERIFY_TOKEN"`
	DeviceDir          string `env:"WHATSAPP_DEVICE_DIR" envDefault:"devices"`

	// Events
	AMQPURL      string `env:"AMQP_URL"`
	AMQPExchange string `env:"AMQP_EXCHANGE" envDefault:"commercebot.events"`

	// Secrets
	ParamPrefix string `env:"PARAM_PREFIX"`

	// Engine
	SendDelayMS       int `env:"SEND_DELAY_MS" envDefault:"2000"`
	StaleAfterSeconds int `env:"STALE_AFTER_SECONDS" envDefault:"60"`
	DedupeTTLMinutes  int `env:"DEDUPE_TTL_MINUTES" envDefault:"10"`
	WebhookRatePerSec int `env:"WEBHOOK_RATE_PER_SECOND" envDefault:"20"`
	WebhookBurst      int `env:"WEBHOOK_BURST" envDefault:"40"`

	// Logging
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat     string `env:"LOG_FORMAT" envDefault:"json"`
	LogFile       string `env:"LOG_FILE"`
	LogMaxSizeMB  int    `env:"LOG_MAX_SIZE" envDefault:"100"`
	LogMaxBackups int    `env:"LOG_MAX_BACKUPS" envDefault:"7"`
	LogMaxAgeDays int    `env:"LOG_MAX_AGE" envDefault:"7"`
	LogCompress   bool   `env:"LOG_COMPRESS" envDefault:"true"`
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	c.HTTPAddr = strings.TrimSpace(c.HTTPAddr)
	c.ParamPrefix = strings.TrimRight(strings.TrimSpace(c.ParamPrefix), "/")
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
}

// Validate checks the settings the service cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("HTTP_ADDR must not be empty"))
	}
	if c.StaleAfterSeconds <= 0 {
		errs = append(errs, errors.New("STALE_AFTER_SECONDS must be positive"))
	}
	if c.SendDelayMS < 0 {
		errs = append(errs, errors.New("SEND_DELAY_MS must not be negative"))
	}
	if c.RetrievalPageSize <= 0 {
		errs = append(errs, errors.New("RETRIEVAL_PAGE_SIZE must be positive"))
	}
	if !c.hasProviderKey() && c.ParamPrefix == "" {
		errs = append(errs, errors.New("at least one provider API key or PARAM_PREFIX is required"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func (c *Config) hasProviderKey() bool {
	return c.OpenAIAPIKey != "" || c.AnthropicAPIKey != "" || c.GeminiAPIKey != "" ||
		c.DeepSeekAPIKey != "" || c.GrokAPIKey != ""
}

func (c *Config) SendDelay() time.Duration {
	return time.Duration(c.SendDelayMS) * time.Millisecond
}

func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterSeconds) * time.Second
}

func (c *Config) DedupeTTL() time.Duration {
	return time.Duration(c.DedupeTTLMinutes) * time.Minute
}

func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.ProviderTimeoutS) * time.Second
}
