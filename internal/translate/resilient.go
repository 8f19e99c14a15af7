package translate

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/lexiqai/segment-translator/internal/observability"
	"github.com/lexiqai/segment-translator/internal/resilience"
)

// ResilientTranslator guards a Translator with a circuit breaker and retries
// transient failures.
type ResilientTranslator struct {
	next    Translator
	breaker *resilience.CircuitBreaker
	retry   *resilience.RetryConfig
	logger  zerolog.Logger
}

// NewResilientTranslator wraps next. A nil retry config uses the defaults.
func NewResilientTranslator(next Translator, breaker *resilience.CircuitBreaker, retry *resilience.RetryConfig, logger zerolog.Logger) *ResilientTranslator {
	if retry == nil {
		retry = resilience.DefaultRetryConfig()
	}
	breaker.OnStateChange(func(name string, from, to resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(to))
	})
	return &ResilientTranslator{
		next:    next,
		breaker: breaker,
		retry:   retry,
		logger:  logger.With().Str("component", "translate").Str("breaker", breaker.Name()).Logger(),
	}
}

// Translate implements Translator
func (r *ResilientTranslator) Translate(ctx context.Context, text, targetLanguage string) (string, error) {
	var result string
	attempt := 0

	err := resilience.Retry(ctx, func(ctx context.Context) error {
		attempt++
		return r.breaker.CallContext(ctx, func(ctx context.Context) error {
			translated, err := r.next.Translate(ctx, text, targetLanguage)
			if err != nil {
				observability.IncrementCircuitBreakerFailures(r.breaker.Name())
				r.logger.Warn().Err(err).Int("attempt", attempt).Msg("Translation attempt failed")
				return err
			}
			result = translated
			return nil
		})
	}, r.retry, resilience.IsTransient)

	if err != nil {
		var translationErr *TranslationError
		if errors.As(err, &translationErr) {
			return "", err
		}
		return "", &TranslationError{Provider: r.breaker.Name(), TargetLanguage: targetLanguage, Err: err}
	}
	return result, nil
}
