package translate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

const (
	// DefaultModel is the chat model used for translation on Groq
	DefaultModel = "openai/gpt-oss-20b"

	// DefaultTemperature keeps translations close to literal
	DefaultTemperature float32 = 0.1

	systemPromptFormat = "You are a professional translator. Translate the user's text into %s. " +
		"Return only the translation, without explanations or any extra content."
)

var errNoChoices = errors.New("completion returned no choices")

// OpenAIConfig configures an OpenAI-compatible chat completion endpoint
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	Timeout     time.Duration
}

// OpenAITranslator translates text with a single chat completion per request
type OpenAITranslator struct {
	client      *openai.Client
	model       string
	temperature float32
	logger      zerolog.Logger
}

// NewOpenAITranslator creates a chat-completion translator
func NewOpenAITranslator(cfg OpenAIConfig, logger zerolog.Logger) *OpenAITranslator {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.Timeout > 0 {
		clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = DefaultTemperature
	}

	return &OpenAITranslator{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       model,
		temperature: temperature,
		logger:      logger.With().Str("component", "translate").Logger(),
	}
}

// Translate implements Translator
func (t *OpenAITranslator) Translate(ctx context.Context, text, targetLanguage string) (string, error) {
	if targetLanguage == "" {
		targetLanguage = DefaultTargetLanguage
	}

	resp, err := t.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       t.model,
		Temperature: t.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt(targetLanguage)},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
	})
	if err != nil {
		return "", &TranslationError{Provider: "openai", TargetLanguage: targetLanguage, Err: fmt.Errorf("create chat completion: %w", err)}
	}
	if len(resp.Choices) == 0 {
		return "", &TranslationError{Provider: "openai", TargetLanguage: targetLanguage, Err: errNoChoices}
	}

	translated := strings.TrimSpace(resp.Choices[0].Message.Content)
	t.logger.Debug().
		Str("target_language", targetLanguage).
		Int("input_chars", len(text)).
		Int("output_chars", len(translated)).
		Msg("Translation completed")

	return translated, nil
}

// SystemPrompt builds the instruction sent ahead of the user's text
func SystemPrompt(targetLanguage string) string {
	return fmt.Sprintf(systemPromptFormat, LanguageName(targetLanguage))
}
