package stt

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/lexiqai/segment-translator/internal/audio"
)

// DefaultOpenAIModel is the Whisper model served by Groq
const DefaultOpenAIModel = "whisper-large-v3-turbo"

// OpenAIConfig configures an OpenAI-compatible transcription endpoint
type OpenAIConfig struct {
	APIKey  string
	BaseURL string // e.g. https://api.groq.com/openai/v1
	Model   string
	Timeout time.Duration
}

// OpenAITranscriber transcribes segments through an OpenAI-compatible
// /audio/transcriptions endpoint (Groq Whisper by default).
type OpenAITranscriber struct {
	client *openai.Client
	model  string
	logger zerolog.Logger
}

// NewOpenAITranscriber creates a Whisper transcriber
func NewOpenAITranscriber(cfg OpenAIConfig, logger zerolog.Logger) *OpenAITranscriber {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.Timeout > 0 {
		clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}

	return &OpenAITranscriber{
		client: openai.NewClientWithConfig(clientConfig),
		model:  model,
		logger: logger.With().Str("component", "stt").Str("provider", "openai").Logger(),
	}
}

// Transcribe sends the segment audio to Whisper. A supported language hint
// is forwarded; otherwise the backend detects the language.
func (t *OpenAITranscriber) Transcribe(ctx context.Context, payload audio.Payload, languageHint string) (*Transcript, error) {
	if err := payload.Validate(); err != nil {
		return nil, newTranscriptionError("openai", err)
	}

	req := openai.AudioRequest{
		Model:    t.model,
		FilePath: payload.Filename(),
		Format:   openai.AudioResponseFormatVerboseJSON,
		Language: SupportedHint(languageHint),
	}

	reader, err := payload.Open()
	if err != nil {
		return nil, newTranscriptionError("openai", err)
	}
	defer reader.Close()
	req.Reader = reader

	if req.Language != "" {
		t.logger.Debug().Str("language", req.Language).Str("file", req.FilePath).Msg("Transcribing with language hint")
	} else {
		t.logger.Debug().Str("file", req.FilePath).Msg("Transcribing with automatic language detection")
	}

	resp, err := t.client.CreateTranscription(ctx, req)
	if err != nil {
		return nil, newTranscriptionError("openai", fmt.Errorf("create transcription: %w", err))
	}

	language := resp.Language
	if language == "" {
		language = req.Language
	}
	if language == "" {
		language = UnknownLanguage
	}

	return &Transcript{
		Text:     strings.TrimSpace(resp.Text),
		Language: language,
		Duration: resp.Duration,
	}, nil
}

// Ping checks that the endpoint is reachable and the key is accepted
func (t *OpenAITranscriber) Ping(ctx context.Context) (bool, error) {
	if _, err := t.client.ListModels(ctx); err != nil {
		return false, fmt.Errorf("list models: %w", err)
	}
	return true, nil
}
