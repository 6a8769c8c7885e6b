package chat

import (
	"log/slog"
	"os"
	"time"

	"github.com/teslashibe/go-voiceline/internal/log"
)

// Default configuration values.
const (
	DefaultBaseURL       = "https://api.openai.com/v1"
	DefaultModel         = "gpt-4o-mini"
	DefaultMaxTokens     = 2048
	DefaultTemperature   = 0.7
	DefaultTimeout       = 30 * time.Second
	DefaultStreamTimeout = 120 * time.Second
	DefaultMaxRetries    = 3
	DefaultRetryDelay    = 100 * time.Millisecond
)

// Config holds client configuration.
type Config struct {
	// BaseURL is the API endpoint. Any OpenAI-compatible server works.
	BaseURL string

	// APIKey authenticates requests. Optional for local servers.
	APIKey string

	// Model is the default model for requests that don't specify one.
	Model string

	// MaxTokens is the default response length limit.
	MaxTokens int

	// Temperature is the default sampling temperature.
	Temperature float64

	// Timeout bounds non-streaming requests.
	Timeout time.Duration

	// StreamTimeout bounds streaming requests end to end.
	StreamTimeout time.Duration

	// MaxRetries is how many times to retry retryable failures.
	MaxRetries int

	// RetryDelay is the base delay between retries, scaled by attempt.
	RetryDelay time.Duration

	// Logger receives client debug output.
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults. The API key is
// read from OPENAI_API_KEY.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:       DefaultBaseURL,
		APIKey:        os.Getenv("OPENAI_API_KEY"),
		Model:         DefaultModel,
		MaxTokens:     DefaultMaxTokens,
		Temperature:   DefaultTemperature,
		Timeout:       DefaultTimeout,
		StreamTimeout: DefaultStreamTimeout,
		MaxRetries:    DefaultMaxRetries,
		RetryDelay:    DefaultRetryDelay,
		Logger:        log.With("component", "chat"),
	}
}

// Option configures the client.
type Option func(*Config)

// Apply applies options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// WithBaseURL sets the API endpoint.
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithModel sets the default model.
func WithModel(model string) Option {
	return func(c *Config) { c.Model = model }
}

// WithMaxTokens sets the default response length limit.
func WithMaxTokens(n int) Option {
	return func(c *Config) { c.MaxTokens = n }
}

// WithTemperature sets the default sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *Config) { c.Temperature = t }
}

// WithTimeout sets the non-streaming request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithStreamTimeout sets the streaming request timeout.
func WithStreamTimeout(d time.Duration) Option {
	return func(c *Config) { c.StreamTimeout = d }
}

// WithMaxRetries sets the retry count for retryable failures.
func WithMaxRetries(n int) Option {
	return func(c *Config) { c.MaxRetries = n }
}

// WithRetryDelay sets the base delay between retries.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Config) { c.RetryDelay = d }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}
