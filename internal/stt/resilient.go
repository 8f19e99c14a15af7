package stt

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/lexiqai/segment-translator/internal/audio"
	"github.com/lexiqai/segment-translator/internal/observability"
	"github.com/lexiqai/segment-translator/internal/resilience"
)

// ResilientTranscriber guards a backend with a circuit breaker and retries
// transient failures inside a single Transcribe call.
type ResilientTranscriber struct {
	next    Transcriber
	breaker *resilience.CircuitBreaker
	retry   *resilience.RetryConfig
	logger  zerolog.Logger
}

// NewResilientTranscriber wraps next. A nil retry config uses the defaults.
func NewResilientTranscriber(next Transcriber, breaker *resilience.CircuitBreaker, retry *resilience.RetryConfig, logger zerolog.Logger) *ResilientTranscriber {
	if retry == nil {
		retry = resilience.DefaultRetryConfig()
	}
	breaker.OnStateChange(func(name string, from, to resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(to))
	})
	return &ResilientTranscriber{
		next:    next,
		breaker: breaker,
		retry:   retry,
		logger:  logger.With().Str("component", "stt").Str("breaker", breaker.Name()).Logger(),
	}
}

// Transcribe implements Transcriber
func (r *ResilientTranscriber) Transcribe(ctx context.Context, payload audio.Payload, languageHint string) (*Transcript, error) {
	var result *Transcript
	attempt := 0

	err := resilience.Retry(ctx, func(ctx context.Context) error {
		attempt++
		return r.breaker.CallContext(ctx, func(ctx context.Context) error {
			transcript, err := r.next.Transcribe(ctx, payload, languageHint)
			if err != nil {
				observability.IncrementCircuitBreakerFailures(r.breaker.Name())
				if attempt > 1 || resilience.IsTransient(err) {
					r.logger.Warn().Err(err).Int("attempt", attempt).Msg("Transcription attempt failed")
				}
				return err
			}
			result = transcript
			return nil
		})
	}, r.retry, resilience.IsTransient)

	if err != nil {
		var transcriptionErr *TranscriptionError
		if errors.As(err, &transcriptionErr) {
			return nil, err
		}
		return nil, newTranscriptionError(r.breaker.Name(), err)
	}
	return result, nil
}
