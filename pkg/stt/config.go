package stt

import (
	"net/http"
	"os"
	"time"
)

// Config holds provider settings. Defaults come from the environment so a
// bare New works on a configured host.
type Config struct {
	// APIKey authenticates REST providers (Whisper).
	APIKey string

	// Model is the transcription model for REST providers.
	Model string

	// BaseURL is the API root for REST providers.
	BaseURL string

	// CredentialsFile is a Google service-account key path. When empty,
	// CredentialsJSON and then application-default credentials are tried.
	CredentialsFile string

	// CredentialsJSON is an inline Google service-account key.
	CredentialsJSON string

	// Timeout bounds one request.
	Timeout time.Duration

	// MaxRetries is the attempt budget for retryable failures.
	MaxRetries int

	// RetryDelay is the linear backoff unit between attempts.
	RetryDelay time.Duration

	// HTTPClient overrides the shared client (tests).
	HTTPClient *http.Client
}

// DefaultConfig reads the environment.
func DefaultConfig() *Config {
	return &Config{
		APIKey:          os.Getenv("OPENAI_API_KEY"),
		Model:           "whisper-1",
		BaseURL:         "https://api.openai.com/v1",
		CredentialsFile: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		CredentialsJSON: os.Getenv("GOOGLE_CREDENTIALS_JSON"),
		Timeout:         30 * time.Second,
		MaxRetries:      3,
		RetryDelay:      time.Second,
	}
}

// Option mutates a Config.
type Option func(*Config)

// Apply runs each option in order.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// WithAPIKey sets the REST API key.
func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithModel sets the transcription model.
func WithModel(model string) Option {
	return func(c *Config) { c.Model = model }
}

// WithBaseURL points the provider at a different API root.
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

// WithCredentialsFile sets the Google service-account key path.
func WithCredentialsFile(path string) Option {
	return func(c *Config) { c.CredentialsFile = path }
}

// WithCredentialsJSON sets an inline Google service-account key.
func WithCredentialsJSON(json string) Option {
	return func(c *Config) { c.CredentialsJSON = json }
}

// WithTimeout bounds one request.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithRetryDelay sets the backoff unit.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Config) { c.RetryDelay = d }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) { c.HTTPClient = client }
}
