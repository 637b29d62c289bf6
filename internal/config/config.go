package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
)

type LLMProvider string

const (
	ProviderOpenAI LLMProvider = "openai"
	ProviderYandex LLMProvider = "yandex"
)

type DispatchMode string

const (
	DispatchAsync DispatchMode = "async"
	DispatchSync  DispatchMode = "sync"
)

type Config struct {
	Port int    `env:"PORT" envDefault:"8000"`
	Env  string `env:"ENV" envDefault:"dev"`

	// Forwarding
	ZapierForwardURL string        `env:"ZAPIER_FORWARD_URL"`
	ForwardURL       string        `env:"FORWARD_URL"`
	ForwardTimeout   time.Duration `env:"FORWARD_TIMEOUT" envDefault:"10s"`
	TelegramBotToken string        `env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID   int64         `env:"TELEGRAM_CHAT_ID"`

	// LLM settings
	LLMProvider       LLMProvider `env:"LLM_PROVIDER" envDefault:"openai"`
	OpenAIAPIKey      string      `env:"OPENAI_API_KEY"`
	OpenAIBaseURL     string      `env:"OPENAI_BASE_URL"`
	OpenAIModel       string      `env:"OPENAI_MODEL" envDefault:"gpt-4.1-nano"`
	OpenAITemperature float32     `env:"OPENAI_TEMPERATURE" envDefault:"0.2"`
	OpenAIMaxTokens   int         `env:"OPENAI_MAX_TOKENS" envDefault:"80"`
	YandexOAuthToken  string      `env:"YANDEX_OAUTH_TOKEN"`
	YandexFolderID    string      `env:"YANDEX_FOLDER_ID"`

	// OpenRouter (optional)
	OpenRouterReferrer string `env:"OPENROUTER_REFERRER"`
	OpenRouterTitle    string `env:"OPENROUTER_TITLE"`

	// Stores
	EventStoreSize      int `env:"EVENT_STORE_SIZE" envDefault:"100"`
	SessionHistoryLimit int `env:"SESSION_HISTORY_LIMIT" envDefault:"20"`

	// Ingestion
	DefaultSource string   `env:"DEFAULT_SOURCE" envDefault:"zapier"`
	SessionHeader string   `env:"SESSION_HEADER" envDefault:"X-Session-ID"`
	SessionKeys   []string `env:"SESSION_KEYS" envSeparator:"," envDefault:"session_id,session,conversation_id,thread_id,chat_id,user_id,user"`
	MaxBodyBytes  int64    `env:"MAX_BODY_BYTES" envDefault:"1048576"`

	// SessionNestedKeys are checked first when looking for a wrapped chat event.
	SessionNestedKeys []string `env:"SESSION_NESTED_KEYS" envSeparator:"," envDefault:"event"`

	// Reply dispatch
	DispatchMode      DispatchMode  `env:"DISPATCH_MODE" envDefault:"async"`
	DispatchWorkers   int           `env:"DISPATCH_WORKERS" envDefault:"4"`
	DispatchQueueSize int           `env:"DISPATCH_QUEUE_SIZE" envDefault:"64"`
	ReplyTimeout      time.Duration `env:"REPLY_TIMEOUT" envDefault:"30s"`

	// Diagnostics
	LLMLogPath     string `env:"LLM_LOG_PATH" envDefault:"logs/llm_output.jsonl"`
	DigestSchedule string `env:"DIGEST_SCHEDULE"`
}

// Load parses the process environment into a Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func New() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}
	return cfg
}

// ForwardTarget returns the downstream webhook URL, preferring the Zapier-specific variable.
func (c *Config) ForwardTarget() string {
	if s := strings.TrimSpace(c.ZapierForwardURL); s != "" {
		return s
	}
	return strings.TrimSpace(c.ForwardURL)
}

func (c *Config) validate() error {
	switch c.DispatchMode {
	case DispatchAsync, DispatchSync:
	default:
		return fmt.Errorf("unknown dispatch mode: %s", c.DispatchMode)
	}
	if c.EventStoreSize <= 0 {
		return fmt.Errorf("EVENT_STORE_SIZE must be positive, got %d", c.EventStoreSize)
	}
	if c.SessionHistoryLimit <= 0 {
		return fmt.Errorf("SESSION_HISTORY_LIMIT must be positive, got %d", c.SessionHistoryLimit)
	}
	return nil
}
