package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/lexiqai/segment-translator/internal/audio"
	"github.com/lexiqai/segment-translator/internal/observability"
)

var (
	// ErrTranscription matches stage errors raised by the transcription stage
	ErrTranscription = errors.New("transcription stage failed")

	// ErrTranslation matches stage errors raised by the translation stage
	ErrTranslation = errors.New("translation stage failed")

	// ErrPipelineClosed is returned by Submit after Close
	ErrPipelineClosed = errors.New("pipeline is closed")

	// ErrInvalidSegment is returned by Submit for segments that cannot be processed
	ErrInvalidSegment = errors.New("invalid segment")

	// ErrDropped is reported for queued work removed by Clear
	ErrDropped = errors.New("dropped from queue before processing")
)

// Segment is one utterance submitted for transcription and translation.
// It must not be modified after Submit.
type Segment struct {
	ID             string
	SessionID      string
	Payload        audio.Payload
	SourceLanguage string // optional transcription hint
	TargetLanguage string // empty skips translation
	CreatedAt      time.Time
	Duration       time.Duration
}

// Validate checks that the segment can be submitted
func (s *Segment) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil segment", ErrInvalidSegment)
	}
	if s.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidSegment)
	}
	if err := s.Payload.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSegment, err)
	}
	return nil
}

// TranslationTask is created from a segment whose transcript was not empty
type TranslationTask struct {
	ID             string
	SessionID      string
	SegmentID      string
	Text           string
	SourceLanguage string
	TargetLanguage string
	CreatedAt      time.Time
}

// TranslationTaskID derives the task id from its segment id
func TranslationTaskID(segmentID string) string {
	return segmentID + "_translation"
}

// StageError is a failure of one segment in one stage
type StageError struct {
	Stage     string
	SegmentID string
	Err       error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed for segment %s: %v", e.Stage, e.SegmentID, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Is matches the stage sentinel errors
func (e *StageError) Is(target error) bool {
	switch target {
	case ErrTranscription:
		return e.Stage == observability.StageTranscription
	case ErrTranslation:
		return e.Stage == observability.StageTranslation
	}
	return false
}

// QueueStatus is a snapshot of both stages
type QueueStatus struct {
	PendingTranscription int `json:"pendingTranscription"`
	PendingTranslation   int `json:"pendingTranslation"`
	ActiveTranscriptions int `json:"activeTranscriptions"`
	ActiveTranslations   int `json:"activeTranslations"`
	TotalActive          int `json:"totalActive"`
	MaxConcurrentJobs    int `json:"maxConcurrentJobs"`
}
