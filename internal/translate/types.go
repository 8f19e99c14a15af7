package translate

import (
	"context"
	"fmt"
)

// Translator is the text translation capability consumed by the pipeline.
// Implementations must be safe for concurrent use.
type Translator interface {
	Translate(ctx context.Context, text, targetLanguage string) (string, error)
}

// TranslatorFunc adapts a function to the Translator interface
type TranslatorFunc func(ctx context.Context, text, targetLanguage string) (string, error)

// Translate calls f
func (f TranslatorFunc) Translate(ctx context.Context, text, targetLanguage string) (string, error) {
	return f(ctx, text, targetLanguage)
}

// TranslationError reports a failed translation
type TranslationError struct {
	Provider       string
	TargetLanguage string
	Err            error
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("%s translation to %s failed: %v", e.Provider, e.TargetLanguage, e.Err)
}

func (e *TranslationError) Unwrap() error {
	return e.Err
}
