package tts

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/teslashibe/go-voiceline/internal/log"
)

// Chain tries providers in order and returns the first success. The
// configured provider goes first; cheaper or always-available fallbacks
// follow so a vendor outage degrades the voice instead of dropping calls.
type Chain struct {
	providers []Provider
	logger    *slog.Logger
}

var _ Provider = (*Chain)(nil)

// NewChain builds a fallback chain. At least one provider is required.
func NewChain(providers ...Provider) (*Chain, error) {
	if len(providers) == 0 {
		return nil, ErrProviderUnavailable
	}
	return &Chain{
		providers: providers,
		logger:    log.With("component", "tts_chain"),
	}, nil
}

// Synthesize tries each provider until one succeeds.
func (c *Chain) Synthesize(ctx context.Context, text, language string) (*AudioResult, error) {
	var errs []error
	for i, p := range c.providers {
		result, err := p.Synthesize(ctx, text, language)
		if err == nil {
			if i > 0 {
				c.logger.Info("fallback provider served synthesis", "provider_index", i)
			}
			return result, nil
		}
		errs = append(errs, err)
		c.logger.Warn("provider failed, trying next", "provider_index", i, "error", err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, &ChainError{Errors: errs}
}

// Stream tries each provider until one succeeds.
func (c *Chain) Stream(ctx context.Context, text, language string) (AudioStream, error) {
	var errs []error
	for i, p := range c.providers {
		stream, err := p.Stream(ctx, text, language)
		if err == nil {
			if i > 0 {
				c.logger.Info("fallback provider served stream", "provider_index", i)
			}
			return stream, nil
		}
		errs = append(errs, err)
		c.logger.Warn("provider stream failed, trying next", "provider_index", i, "error", err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, &ChainError{Errors: errs}
}

// Health passes while any provider in the chain is healthy.
func (c *Chain) Health(ctx context.Context) error {
	var healthy int
	var lastErr error
	for _, p := range c.providers {
		if err := p.Health(ctx); err != nil {
			lastErr = err
			continue
		}
		healthy++
	}
	if healthy == 0 {
		return fmt.Errorf("tts: all %d providers unhealthy: %w", len(c.providers), lastErr)
	}
	return nil
}

// Close closes every provider and reports the last failure.
func (c *Chain) Close() error {
	var lastErr error
	for _, p := range c.providers {
		if err := p.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Providers returns the chain members in try order.
func (c *Chain) Providers() []Provider {
	return c.providers
}

// ChainError aggregates the per-provider failures of one request.
type ChainError struct {
	Errors []error
}

func (e *ChainError) Error() string {
	switch len(e.Errors) {
	case 0:
		return "tts chain: no errors recorded"
	case 1:
		return fmt.Sprintf("tts chain: %v", e.Errors[0])
	default:
		return fmt.Sprintf("tts chain: all %d providers failed, last: %v", len(e.Errors), e.Errors[len(e.Errors)-1])
	}
}

// Unwrap returns the last provider's error.
func (e *ChainError) Unwrap() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e.Errors[len(e.Errors)-1]
}
