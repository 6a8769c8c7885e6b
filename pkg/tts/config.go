package tts

import (
	"net/http"
	"os"
	"strings"
	"time"
)

// Config holds provider settings. Defaults come from the environment so a
// bare New works on a configured host.
type Config struct {
	// APIKey authenticates REST providers. When empty, each provider
	// falls back to its own environment variable.
	APIKey string

	// BaseURL is the API root for REST providers.
	BaseURL string

	// VoiceID is the default voice. ElevenLabs preset names are resolved
	// to voice IDs; anything else passes through.
	VoiceID string

	// ModelID is the synthesis model for providers that take one.
	ModelID string

	// LanguageVoices overrides the voice per session language. Keys are
	// lowercase language tags ("ja", "en-GB").
	LanguageVoices map[string]string

	// VoiceSettings tunes voice character where supported.
	VoiceSettings VoiceSettings

	// OutputFormat is the requested audio encoding.
	OutputFormat Encoding

	// CredentialsFile is a Google service-account key path. When empty,
	// CredentialsJSON and then application-default credentials are tried.
	CredentialsFile string

	// CredentialsJSON is an inline Google service-account key.
	CredentialsJSON string

	// Timeout bounds one synthesis request.
	Timeout time.Duration

	// StreamTimeout bounds a streaming request end to end.
	StreamTimeout time.Duration

	// MaxRetries is the attempt budget for retryable failures.
	MaxRetries int

	// RetryDelay is the linear backoff unit between attempts.
	RetryDelay time.Duration

	// HTTPClient overrides the shared client (tests).
	HTTPClient *http.Client
}

// DefaultConfig reads the environment. The output format defaults to
// telephony μ-law so the media path needs no transcoding.
func DefaultConfig() *Config {
	return &Config{
		VoiceID:         os.Getenv("ELEVENLABS_VOICE_ID"),
		ModelID:         ModelFlashV2_5,
		OutputFormat:    EncodingULaw,
		VoiceSettings:   DefaultVoiceSettings(),
		CredentialsFile: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		CredentialsJSON: os.Getenv("GOOGLE_CREDENTIALS_JSON"),
		Timeout:         30 * time.Second,
		StreamTimeout:   60 * time.Second,
		MaxRetries:      3,
		RetryDelay:      100 * time.Millisecond,
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

// WithBaseURL points the provider at a different API root.
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

// WithVoice sets the default voice.
func WithVoice(voiceID string) Option {
	return func(c *Config) { c.VoiceID = voiceID }
}

// WithModel sets the synthesis model.
func WithModel(modelID string) Option {
	return func(c *Config) { c.ModelID = modelID }
}

// WithLanguageVoice pins a voice to a session language, overriding the
// default voice when that language is requested.
func WithLanguageVoice(language, voice string) Option {
	return func(c *Config) {
		if c.LanguageVoices == nil {
			c.LanguageVoices = make(map[string]string)
		}
		c.LanguageVoices[strings.ToLower(language)] = voice
	}
}

// WithOutputFormat sets the requested audio encoding.
func WithOutputFormat(format Encoding) Option {
	return func(c *Config) { c.OutputFormat = format }
}

// WithVoiceSettings tunes voice character.
func WithVoiceSettings(settings VoiceSettings) Option {
	return func(c *Config) { c.VoiceSettings = settings }
}

// WithCredentialsFile sets the Google service-account key path.
func WithCredentialsFile(path string) Option {
	return func(c *Config) { c.CredentialsFile = path }
}

// WithCredentialsJSON sets an inline Google service-account key.
func WithCredentialsJSON(json string) Option {
	return func(c *Config) { c.CredentialsJSON = json }
}

// WithTimeout bounds one synthesis request.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithStreamTimeout bounds a streaming request.
func WithStreamTimeout(d time.Duration) Option {
	return func(c *Config) { c.StreamTimeout = d }
}

// WithRetry sets the attempt budget and backoff unit.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(c *Config) {
		c.MaxRetries = maxRetries
		c.RetryDelay = delay
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) { c.HTTPClient = client }
}

// Validate checks that credentials are present.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrNoAPIKey
	}
	return nil
}

// ValidateWithVoice checks credentials and that a voice is configured.
func (c *Config) ValidateWithVoice() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.VoiceID == "" {
		return ErrNoVoiceID
	}
	return nil
}

// languageVoice looks up a per-language voice override, trying the full tag
// and then the primary subtag.
func (c *Config) languageVoice(language string) (string, bool) {
	if v, ok := c.LanguageVoices[strings.ToLower(language)]; ok {
		return v, true
	}
	v, ok := c.LanguageVoices[iso639(language)]
	return v, ok
}
