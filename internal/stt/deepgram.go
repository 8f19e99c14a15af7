package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	prerecorded "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/lexiqai/segment-translator/internal/audio"
)

// DeepgramConfig configures the Deepgram pre-recorded backend
type DeepgramConfig struct {
	APIKey string
	Model  string // nova-2, enhanced, base
}

// DeepgramTranscriber transcribes finished segments with Deepgram's
// pre-recorded REST API.
type DeepgramTranscriber struct {
	client *prerecorded.Client
	model  string
	logger zerolog.Logger
}

// NewDeepgramTranscriber creates a Deepgram transcriber
func NewDeepgramTranscriber(cfg DeepgramConfig, logger zerolog.Logger) *DeepgramTranscriber {
	model := cfg.Model
	if model == "" {
		model = "nova-2"
	}

	restClient := listenClient.NewREST(cfg.APIKey, &interfaces.ClientOptions{})

	return &DeepgramTranscriber{
		client: prerecorded.New(restClient),
		model:  model,
		logger: logger.With().Str("component", "stt").Str("provider", "deepgram").Logger(),
	}
}

// Transcribe uploads the segment audio. Without a hint Deepgram detects the language.
func (d *DeepgramTranscriber) Transcribe(ctx context.Context, payload audio.Payload, languageHint string) (*Transcript, error) {
	reader, err := payload.Open()
	if err != nil {
		return nil, newTranscriptionError("deepgram", err)
	}
	defer reader.Close()

	options := d.options(languageHint)
	d.logger.Debug().
		Str("file", payload.Filename()).
		Str("language", options.Language).
		Bool("detect_language", options.DetectLanguage).
		Msg("Sending segment to Deepgram")

	res, err := d.client.FromStream(ctx, reader, options)
	if err != nil {
		return nil, newTranscriptionError("deepgram", fmt.Errorf("transcribe stream: %w", err))
	}

	// Decode only the fields used here from the SDK response
	raw, err := json.Marshal(res)
	if err != nil {
		return nil, newTranscriptionError("deepgram", fmt.Errorf("encode response: %w", err))
	}
	transcript, err := parseDeepgramResponse(raw)
	if err != nil {
		return nil, newTranscriptionError("deepgram", err)
	}
	if transcript.Language == "" {
		transcript.Language = options.Language
	}
	if transcript.Language == "" {
		transcript.Language = UnknownLanguage
	}
	return transcript, nil
}

func (d *DeepgramTranscriber) options(languageHint string) *interfaces.PreRecordedTranscriptionOptions {
	options := &interfaces.PreRecordedTranscriptionOptions{
		Model:       d.model,
		Punctuate:   true,
		SmartFormat: true,
	}
	if hint := SupportedHint(languageHint); hint != "" {
		options.Language = hint
	} else {
		options.DetectLanguage = true
	}
	return options
}

type deepgramResponse struct {
	Metadata struct {
		Duration float64 `json:"duration"`
	} `json:"metadata"`
	Results *struct {
		Channels []struct {
			DetectedLanguage string `json:"detected_language"`
			Alternatives     []struct {
				Transcript string `json:"transcript"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// parseDeepgramResponse extracts the best transcript of the first channel
func parseDeepgramResponse(data []byte) (*Transcript, error) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.Results == nil || len(resp.Results.Channels) == 0 {
		return nil, fmt.Errorf("response has no channels")
	}

	channel := resp.Results.Channels[0]
	text := ""
	if len(channel.Alternatives) > 0 {
		text = strings.TrimSpace(channel.Alternatives[0].Transcript)
	}

	return &Transcript{
		Text:     text,
		Language: channel.DetectedLanguage,
		Duration: resp.Metadata.Duration,
	}, nil
}
