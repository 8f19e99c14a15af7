package transport

import (
	"time"

	"github.com/lexiqai/segment-translator/internal/audio"
	"github.com/lexiqai/segment-translator/internal/pipeline"
)

// Client message types
const (
	MsgStart  = "start"
	MsgAudio  = "audio"
	MsgStop   = "stop"
	MsgStatus = "status"
	MsgConfig = "config"
)

// Reply message types sent only to the requesting client
const (
	ReplySessionStarted = "sessionStarted"
	ReplySessionStopped = "sessionStopped"
	ReplyStatus         = "status"
	ReplyConfigUpdated  = "configUpdated"
	ReplyError          = "error"
)

// ClientMessage is a message from a recording client
type ClientMessage struct {
	Type           string `json:"type"`
	SessionID      string `json:"sessionId,omitempty"`
	SourceLanguage string `json:"sourceLanguage,omitempty"`
	TargetLanguage string `json:"targetLanguage,omitempty"`

	// Audio tick. Energy overrides the level computed from Chunk.
	Energy      *float64 `json:"energy,omitempty"`
	Chunk       string   `json:"chunk,omitempty"` // base64
	Encoding    string   `json:"encoding,omitempty"`
	TimestampMs int64    `json:"timestampMs,omitempty"`

	Segmenter *SegmenterOverrides `json:"segmenter,omitempty"`
}

// SegmenterOverrides changes segmentation settings of a live session
type SegmenterOverrides struct {
	SilenceThreshold         *float64 `json:"silenceThreshold,omitempty"`
	PauseDetectionMs         *int64   `json:"pauseDetectionMs,omitempty"`
	MinSegmentMs             *int64   `json:"minSegmentMs,omitempty"`
	MaxSegmentMs             *int64   `json:"maxSegmentMs,omitempty"`
	ConsecutiveSilenceFrames *int     `json:"consecutiveSilenceFrames,omitempty"`
}

// Apply returns cfg with the overrides set
func (o *SegmenterOverrides) Apply(cfg audio.SegmenterConfig) audio.SegmenterConfig {
	if o == nil {
		return cfg
	}
	if o.SilenceThreshold != nil {
		cfg.SilenceThreshold = *o.SilenceThreshold
	}
	if o.PauseDetectionMs != nil {
		cfg.PauseDetectionTime = time.Duration(*o.PauseDetectionMs) * time.Millisecond
	}
	if o.MinSegmentMs != nil {
		cfg.MinSegmentDuration = time.Duration(*o.MinSegmentMs) * time.Millisecond
	}
	if o.MaxSegmentMs != nil {
		cfg.MaxSegmentDuration = time.Duration(*o.MaxSegmentMs) * time.Millisecond
	}
	if o.ConsecutiveSilenceFrames != nil {
		cfg.ConsecutiveSilenceFrames = *o.ConsecutiveSilenceFrames
	}
	return cfg
}

// ServerMessage is a reply to one client
type ServerMessage struct {
	Type      string                 `json:"type"`
	SessionID string                 `json:"sessionId,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Segmenter *audio.SegmenterStatus `json:"segmenter,omitempty"`
	Queue     *pipeline.QueueStatus  `json:"queue,omitempty"`
}
