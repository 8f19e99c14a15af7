package stt

import (
	"context"
	"fmt"

	"github.com/lexiqai/segment-translator/internal/audio"
)

// UnknownLanguage is reported when a backend does not detect a language
const UnknownLanguage = "unknown"

// Transcript is the result of transcribing one segment
type Transcript struct {
	// Text is the transcribed text, possibly empty when the segment held no speech
	Text string

	// Language is the detected (or hinted) source language
	Language string

	// Duration is the audio duration in seconds as reported by the backend, if any
	Duration float64
}

// Transcriber is the speech-to-text capability consumed by the pipeline.
// Implementations must be safe for concurrent use.
type Transcriber interface {
	// Transcribe converts one segment's audio to text. languageHint is optional.
	Transcribe(ctx context.Context, payload audio.Payload, languageHint string) (*Transcript, error)
}

// TranscriberFunc adapts a function to the Transcriber interface
type TranscriberFunc func(ctx context.Context, payload audio.Payload, languageHint string) (*Transcript, error)

// Transcribe calls f
func (f TranscriberFunc) Transcribe(ctx context.Context, payload audio.Payload, languageHint string) (*Transcript, error) {
	return f(ctx, payload, languageHint)
}

// TranscriptionError reports a failed transcription
type TranscriptionError struct {
	Provider string
	Err      error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("%s transcription failed: %v", e.Provider, e.Err)
}

func (e *TranscriptionError) Unwrap() error {
	return e.Err
}

func newTranscriptionError(provider string, err error) error {
	if err == nil {
		return nil
	}
	return &TranscriptionError{Provider: provider, Err: err}
}
