package audio

import (
	"fmt"
	"time"
)

// PayloadFormat selects how a closed segment's audio is packaged
type PayloadFormat string

const (
	PayloadFormatRaw PayloadFormat = "raw" // written bytes concatenated as-is
	PayloadFormatWAV PayloadFormat = "wav" // PCM16 mono wrapped in a WAV header
)

// SegmenterConfig holds the thresholds that decide where segments begin and end
type SegmenterConfig struct {
	SilenceThreshold         float64       `yaml:"silence_threshold"` // Energy (0-255) at or below which a tick is silent
	PauseDetectionTime       time.Duration `yaml:"pause_detection_time"`
	MinSegmentDuration       time.Duration `yaml:"min_segment_duration"`
	MaxSegmentDuration       time.Duration `yaml:"max_segment_duration"`
	ConsecutiveSilenceFrames int           `yaml:"consecutive_silence_frames"`

	PreRollBytes  int           `yaml:"pre_roll_bytes"` // 0 disables pre-roll
	PayloadFormat PayloadFormat `yaml:"payload_format"`
	RawExtension  string        `yaml:"raw_extension"` // Filename extension for raw payloads (e.g. ".webm")
	SampleRate    int           `yaml:"sample_rate"`   // Used by the wav format
}

// DefaultSegmenterConfig returns the default segmenter configuration
func DefaultSegmenterConfig() SegmenterConfig {
	return SegmenterConfig{
		SilenceThreshold:         30,
		PauseDetectionTime:       800 * time.Millisecond,
		MinSegmentDuration:       1000 * time.Millisecond,
		MaxSegmentDuration:       30000 * time.Millisecond,
		ConsecutiveSilenceFrames: 8,
		PreRollBytes:             0,
		PayloadFormat:            PayloadFormatRaw,
		RawExtension:             ".webm",
		SampleRate:               16000,
	}
}

// Validate checks the configuration
func (c SegmenterConfig) Validate() error {
	if c.SilenceThreshold <= 0 {
		return fmt.Errorf("silence threshold must be positive, got %v", c.SilenceThreshold)
	}
	if c.PauseDetectionTime <= 0 {
		return fmt.Errorf("pause detection time must be positive, got %v", c.PauseDetectionTime)
	}
	if c.MinSegmentDuration <= 0 {
		return fmt.Errorf("min segment duration must be positive, got %v", c.MinSegmentDuration)
	}
	if c.MaxSegmentDuration <= c.MinSegmentDuration {
		return fmt.Errorf("max segment duration (%v) must exceed min segment duration (%v)", c.MaxSegmentDuration, c.MinSegmentDuration)
	}
	if c.ConsecutiveSilenceFrames <= 0 {
		return fmt.Errorf("consecutive silence frames must be positive, got %d", c.ConsecutiveSilenceFrames)
	}
	if c.PreRollBytes < 0 {
		return fmt.Errorf("pre-roll bytes cannot be negative, got %d", c.PreRollBytes)
	}
	switch c.PayloadFormat {
	case PayloadFormatRaw, "":
	case PayloadFormatWAV:
		if c.SampleRate <= 0 {
			return fmt.Errorf("sample rate must be positive for wav payloads, got %d", c.SampleRate)
		}
	default:
		return fmt.Errorf("unknown payload format %q", c.PayloadFormat)
	}
	return nil
}

// ReadySegment is a closed segment long enough to be processed.
// Payload is empty when no audio was written while the segment was open.
type ReadySegment struct {
	ID        string
	StartedAt time.Time
	Duration  time.Duration
	Payload   Payload
}

// SegmentEnd reports that a segment closed. Discarded is set when the segment
// was shorter than the minimum duration and no ReadySegment was produced.
type SegmentEnd struct {
	ID        string
	Duration  time.Duration
	Discarded bool
	Forced    bool // closed by the max-duration ceiling
}

// SegmentHandler receives segment boundary callbacks. Callbacks run on the
// goroutine driving the segmenter.
type SegmentHandler interface {
	OnSegmentStart(id string, startedAt time.Time)
	OnSegmentReady(seg ReadySegment)
	OnSegmentEnd(end SegmentEnd)
}

// SegmentHandlerFuncs adapts plain functions to SegmentHandler. Nil funcs are skipped.
type SegmentHandlerFuncs struct {
	Start func(id string, startedAt time.Time)
	Ready func(seg ReadySegment)
	End   func(end SegmentEnd)
}

func (h SegmentHandlerFuncs) OnSegmentStart(id string, startedAt time.Time) {
	if h.Start != nil {
		h.Start(id, startedAt)
	}
}

func (h SegmentHandlerFuncs) OnSegmentReady(seg ReadySegment) {
	if h.Ready != nil {
		h.Ready(seg)
	}
}

func (h SegmentHandlerFuncs) OnSegmentEnd(end SegmentEnd) {
	if h.End != nil {
		h.End(end)
	}
}

// SegmenterStatus is a point-in-time view of the segmenter state
type SegmenterStatus struct {
	IsRecording       bool   `json:"isRecording"`
	CurrentSegmentID  string `json:"currentSegmentId,omitempty"`
	SegmentDurationMs int64  `json:"segmentDuration"`
	SegmentCounter    int    `json:"segmentCounter"`
	IsVoiceActive     bool   `json:"isVoiceActive"`
	SilenceFrameCount int    `json:"silenceFrameCount"`
	PreRollBytes      int    `json:"preRollBytes"`
}

// Segmenter splits a stream of per-tick energy samples into utterance segments.
// It is driven from a single goroutine and is not safe for concurrent use.
type Segmenter struct {
	config  SegmenterConfig
	handler SegmentHandler

	recording         bool
	isVoiceActive     bool
	silenceFrameCount int
	segmentCounter    int

	segmentID        string
	segmentStartedAt time.Time
	lastVoiceAt      time.Time
	segmentAudio     []byte

	preRoll *RingBuffer
}

// NewSegmenter creates a new segmenter in the Idle state
func NewSegmenter(config SegmenterConfig, handler SegmentHandler) (*Segmenter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid segmenter config: %w", err)
	}
	if handler == nil {
		handler = SegmentHandlerFuncs{}
	}
	return &Segmenter{
		config:  config,
		handler: handler,
		preRoll: NewRingBuffer(config.PreRollBytes),
	}, nil
}

// Start moves the segmenter from Idle to Recording
func (s *Segmenter) Start(now time.Time) {
	s.reset()
	s.segmentCounter = 0
	s.recording = true
}

// IsRecording returns whether the segmenter is in the Recording state
func (s *Segmenter) IsRecording() bool {
	return s.recording
}

// Config returns the active configuration
func (s *Segmenter) Config() SegmenterConfig {
	return s.config
}

// OnEnergySample processes one tick's energy reading. Samples received while
// Idle are ignored.
func (s *Segmenter) OnEnergySample(sample float64, now time.Time) {
	if !s.recording {
		return
	}

	if sample > s.config.SilenceThreshold {
		s.silenceFrameCount = 0
		if s.segmentID == "" {
			s.openSegment(now)
		}
		s.isVoiceActive = true
		s.lastVoiceAt = now
	} else {
		s.silenceFrameCount++
		if s.isVoiceActive && s.silenceFrameCount >= s.config.ConsecutiveSilenceFrames {
			s.isVoiceActive = false
		}
	}

	if s.segmentID == "" {
		return
	}

	elapsed := now.Sub(s.segmentStartedAt)
	if elapsed >= s.config.MaxSegmentDuration {
		reopen := s.isVoiceActive
		s.closeSegment(now, true)
		if reopen {
			s.openSegment(now)
			s.isVoiceActive = true
			s.lastVoiceAt = now
		}
		return
	}

	// A completed pause closes the segment once it has reached the minimum
	// duration; until then the segment stays open through the silence.
	if !s.isVoiceActive && elapsed >= s.config.MinSegmentDuration &&
		now.Sub(s.lastVoiceAt) >= s.config.PauseDetectionTime {
		s.closeSegment(now, false)
	}
}

// Write accumulates audio into the open segment, or into the pre-roll buffer
// between segments. Audio written while Idle is dropped.
func (s *Segmenter) Write(p []byte) (int, error) {
	if !s.recording {
		return len(p), nil
	}
	if s.segmentID == "" {
		return s.preRoll.Write(p)
	}
	s.segmentAudio = append(s.segmentAudio, p...)
	return len(p), nil
}

// Stop force-closes any open segment, bypassing the pause rule, and returns
// to Idle.
func (s *Segmenter) Stop(now time.Time) {
	if !s.recording {
		return
	}
	if s.segmentID != "" {
		s.closeSegment(now, false)
	}
	s.reset()
	s.recording = false
}

// Status returns a snapshot of the segmenter state
func (s *Segmenter) Status(now time.Time) SegmenterStatus {
	status := SegmenterStatus{
		IsRecording:       s.recording,
		CurrentSegmentID:  s.segmentID,
		SegmentCounter:    s.segmentCounter,
		IsVoiceActive:     s.isVoiceActive,
		SilenceFrameCount: s.silenceFrameCount,
		PreRollBytes:      s.preRoll.Available(),
	}
	if s.segmentID != "" {
		status.SegmentDurationMs = now.Sub(s.segmentStartedAt).Milliseconds()
	}
	return status
}

// UpdateConfig replaces the configuration. An open segment is judged by the
// new thresholds from the next tick on.
func (s *Segmenter) UpdateConfig(config SegmenterConfig) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid segmenter config: %w", err)
	}
	if config.PreRollBytes != s.config.PreRollBytes {
		s.preRoll = NewRingBuffer(config.PreRollBytes)
	}
	s.config = config
	return nil
}

func (s *Segmenter) openSegment(now time.Time) {
	s.segmentCounter++
	s.segmentID = fmt.Sprintf("segment_%d_%d", now.UnixMilli(), s.segmentCounter)
	s.segmentStartedAt = now
	s.lastVoiceAt = now
	s.silenceFrameCount = 0
	s.segmentAudio = s.preRoll.Drain()

	s.handler.OnSegmentStart(s.segmentID, now)
}

func (s *Segmenter) closeSegment(now time.Time, forced bool) {
	id := s.segmentID
	startedAt := s.segmentStartedAt
	data := s.segmentAudio

	duration := now.Sub(startedAt)
	if duration > s.config.MaxSegmentDuration {
		duration = s.config.MaxSegmentDuration
	}

	s.segmentID = ""
	s.segmentStartedAt = time.Time{}
	s.lastVoiceAt = time.Time{}
	s.segmentAudio = nil
	s.isVoiceActive = false
	s.silenceFrameCount = 0

	discarded := duration < s.config.MinSegmentDuration
	if !discarded {
		s.handler.OnSegmentReady(ReadySegment{
			ID:        id,
			StartedAt: startedAt,
			Duration:  duration,
			Payload:   s.finalizePayload(id, data),
		})
	}
	s.handler.OnSegmentEnd(SegmentEnd{
		ID:        id,
		Duration:  duration,
		Discarded: discarded,
		Forced:    forced,
	})
}

// finalizePayload packages segment audio. PCM that cannot be wrapped falls
// back to the raw bytes.
func (s *Segmenter) finalizePayload(id string, data []byte) Payload {
	if len(data) == 0 {
		return Payload{Name: id + s.config.RawExtension}
	}
	if s.config.PayloadFormat == PayloadFormatWAV {
		if wav, err := EncodeWAV(data, s.config.SampleRate); err == nil {
			return NewMemoryPayload(wav, id+".wav")
		}
	}
	return NewMemoryPayload(data, id+s.config.RawExtension)
}

func (s *Segmenter) reset() {
	s.isVoiceActive = false
	s.silenceFrameCount = 0
	s.segmentID = ""
	s.segmentStartedAt = time.Time{}
	s.lastVoiceAt = time.Time{}
	s.segmentAudio = nil
	s.preRoll.Clear()
}
