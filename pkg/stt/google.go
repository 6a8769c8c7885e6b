package stt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"

	"github.com/teslashibe/go-voiceline/internal/log"
)

const googleScope = "https://www.googleapis.com/auth/cloud-platform"

// Google transcribes with the Cloud Speech-to-Text v1 API. PCM16 goes up as
// LINEAR16 at the stream's native rate.
type Google struct {
	client *speech.Client
	logger *slog.Logger
}

var _ Provider = (*Google)(nil)

// NewGoogle builds the client. Credentials resolve in order: inline JSON,
// key file, application-default credentials.
func NewGoogle(opts ...Option) (*Google, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	ctx := context.Background()
	var clientOpts []option.ClientOption
	switch {
	case cfg.CredentialsJSON != "":
		creds, err := google.CredentialsFromJSON(ctx, []byte(cfg.CredentialsJSON), googleScope)
		if err != nil {
			return nil, fmt.Errorf("stt: parse google credentials: %w", err)
		}
		clientOpts = append(clientOpts, option.WithCredentials(creds))
	case cfg.CredentialsFile != "":
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := speech.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("stt: create google speech client: %w", err)
	}
	return &Google{
		client: client,
		logger: log.With("component", "stt_google"),
	}, nil
}

// Transcribe sends one synchronous recognize request and returns the
// highest-confidence alternative.
func (g *Google) Transcribe(ctx context.Context, pcm []byte, sampleRate int, language string) (string, error) {
	if len(pcm) == 0 {
		return "", ErrEmptyAudio
	}

	code := LanguageCode(language)
	resp, err := g.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:        speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz: int32(sampleRate),
			LanguageCode:    code,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: pcm},
		},
	})
	if err != nil {
		return "", WrapError("google", err)
	}

	var (
		best string
		conf float32 = -1
	)
	for _, result := range resp.Results {
		for _, alt := range result.Alternatives {
			if alt.Confidence > conf {
				conf = alt.Confidence
				best = alt.Transcript
			}
		}
	}
	text := strings.TrimSpace(best)
	g.logger.Debug("transcription complete", "chars", len(text), "language", code, "confidence", conf)
	return text, nil
}

// Health reports whether the speech client was created.
func (g *Google) Health(ctx context.Context) error {
	if g.client == nil {
		return fmt.Errorf("stt: google speech client not initialized")
	}
	return nil
}

// Close releases the gRPC connection.
func (g *Google) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}
