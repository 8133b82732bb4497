// Package config provides environment configuration for the chat client and
// the development server.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all configuration for the application.
type Config struct {
	Client Client
	Server Server

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Tracing
	TracingEndpoint string `env:"TRACING_ENDPOINT" envDefault:"localhost:4318"`
	TracingEnabled  bool   `env:"TRACING_ENABLED" envDefault:"false"`
}

// Client configures the chat client.
type Client struct {
	APIURL    string `env:"CHAT_API_URL" envDefault:"http://localhost:8080"`
	Token     string `env:"CHAT_TOKEN"`
	TokenFile string `env:"CHAT_TOKEN_FILE"`

	RequestTimeout    time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
	StreamIdleTimeout time.Duration `env:"STREAM_IDLE_TIMEOUT" envDefault:"2m"`
	RetryMaxElapsed   time.Duration `env:"RETRY_MAX_ELAPSED" envDefault:"10s"`
	UseStream         bool          `env:"USE_STREAM" envDefault:"true"`
}

// Server configures the development server.
type Server struct {
	Port         string        `env:"PORT" envDefault:"8080"`
	ReadTimeout  time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"5m"`

	// JWT settings
	JWTSecret     string        `env:"JWT_SECRET" envDefault:"development-secret-change-in-production"`
	JWTExpiration time.Duration `env:"JWT_EXPIRATION" envDefault:"24h"`
	DevUser       string        `env:"DEV_USER" envDefault:"dev"`

	// LLM settings
	AnthropicAPIKey string        `env:"ANTHROPIC_API_KEY"`
	OpenAIAPIKey    string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL   string        `env:"OPENAI_BASE_URL"`
	DefaultLLM      string        `env:"DEFAULT_LLM" envDefault:"mock"`
	LLMModel        string        `env:"LLM_MODEL"`
	MockDelay       time.Duration `env:"MOCK_DELAY" envDefault:"50ms"`
	HistoryLimit    int           `env:"HISTORY_LIMIT" envDefault:"20"`

	// Rate limiting
	RateLimitRequests int           `env:"RATE_LIMIT_REQUESTS" envDefault:"60"`
	RateLimitWindow   time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`

	// NATS journal; an empty URL disables it
	NATSURL         string        `env:"NATS_URL"`
	NATSToken       string        `env:"NATS_TOKEN"`
	NATSCAFile      string        `env:"NATS_CA_FILE"`
	NATSCertFile    string        `env:"NATS_CERT_FILE"`
	NATSKeyFile     string        `env:"NATS_KEY_FILE"`
	JournalMaxAge   time.Duration `env:"JOURNAL_MAX_AGE" envDefault:"168h"`

	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"http://localhost:3000,http://localhost:3001" envSeparator:","`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values env tags cannot express.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Client.APIURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid CHAT_API_URL %q", c.Client.APIURL)
	}
	if c.Client.StreamIdleTimeout < 0 {
		return errors.New("STREAM_IDLE_TIMEOUT must not be negative")
	}
	if c.Server.HistoryLimit <= 0 {
		return errors.New("HISTORY_LIMIT must be positive")
	}
	if c.Server.NATSCertFile != "" && c.Server.NATSKeyFile == "" {
		return errors.New("NATS_KEY_FILE is required with NATS_CERT_FILE")
	}
	if c.Server.RateLimitRequests <= 0 {
		return errors.New("RATE_LIMIT_REQUESTS must be positive")
	}
	return nil
}
