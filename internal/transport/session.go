package transport

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/segment-translator/internal/audio"
	"github.com/lexiqai/segment-translator/internal/events"
	"github.com/lexiqai/segment-translator/internal/observability"
	"github.com/lexiqai/segment-translator/internal/pipeline"
	"github.com/lexiqai/segment-translator/internal/tracker"
	"github.com/lexiqai/segment-translator/internal/translate"
)

var (
	errNotRecording     = errors.New("no active recording session")
	errAlreadyRecording = errors.New("recording session already active")
)

// recorder is the per-connection recording state. It is driven only from
// the connection's read loop.
type recorder struct {
	server *Server
	client *client
	logger zerolog.Logger

	segmenter      *audio.Segmenter
	segmenterCfg   audio.SegmenterConfig
	sessionID      string
	sourceLanguage string
	targetLanguage string
	metrics        *observability.SessionMetrics

	// lastClientMs is the latest client timestamp seen on this connection
	lastClientMs int64

	// ready holds a finished segment until its end notification is published
	ready *audio.ReadySegment
}

func newRecorder(s *Server, c *client) *recorder {
	return &recorder{
		server:       s,
		client:       c,
		logger:       s.logger,
		segmenterCfg: s.opts.Segmenter,
	}
}

func (r *recorder) handle(data []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		r.replyError(fmt.Errorf("invalid message: %w", err))
		return
	}

	now := r.clock(msg.TimestampMs)
	var err error
	switch msg.Type {
	case MsgStart:
		err = r.start(msg, now)
	case MsgAudio:
		err = r.audio(msg, now)
	case MsgStop:
		err = r.stop(now)
	case MsgStatus:
		r.status(now)
	case MsgConfig:
		err = r.configure(msg.Segmenter)
	default:
		err = fmt.Errorf("unknown message type %q", msg.Type)
	}
	if err != nil {
		r.replyError(err)
	}
}

// clock prefers the client's capture timestamp so segmentation follows audio
// time. Once a client has sent one, unstamped messages reuse the latest.
func (r *recorder) clock(timestampMs int64) time.Time {
	if timestampMs > 0 {
		r.lastClientMs = timestampMs
		return time.UnixMilli(timestampMs)
	}
	if r.lastClientMs > 0 {
		return time.UnixMilli(r.lastClientMs)
	}
	return r.server.now()
}

func (r *recorder) start(msg ClientMessage, now time.Time) error {
	if r.segmenter != nil {
		return errAlreadyRecording
	}

	sessionID := msg.SessionID
	if sessionID == "" {
		sessionID = observability.NewCorrelationID()
	}
	target := msg.TargetLanguage
	if target == "" {
		target = r.server.opts.DefaultTargetLanguage
	}
	if !translate.IsKnownLanguage(target) {
		return fmt.Errorf("unsupported target language %q", target)
	}

	segmenter, err := audio.NewSegmenter(r.segmenterCfg, r)
	if err != nil {
		return fmt.Errorf("create segmenter: %w", err)
	}
	if err := r.server.tracker.StartSession(sessionID, tracker.SessionOptions{
		SourceLanguage: msg.SourceLanguage,
		TargetLanguage: target,
	}); err != nil {
		return fmt.Errorf("start session %s: %w", sessionID, err)
	}

	r.segmenter = segmenter
	r.sessionID = sessionID
	r.sourceLanguage = msg.SourceLanguage
	r.targetLanguage = target
	r.logger = r.server.logger.With().Str("correlation_id", sessionID).Logger()
	r.metrics = observability.NewSessionMetrics(sessionID)
	r.metrics.RecordSessionStart()

	segmenter.Start(now)
	r.logger.Info().
		Str("source_language", r.sourceLanguage).
		Str("target_language", r.targetLanguage).
		Msg("Recording session started")

	r.reply(ServerMessage{Type: ReplySessionStarted, SessionID: sessionID})
	return nil
}

func (r *recorder) audio(msg ClientMessage, now time.Time) error {
	if r.segmenter == nil {
		return errNotRecording
	}

	var chunk []byte
	if msg.Chunk != "" {
		decoded, err := base64.StdEncoding.DecodeString(msg.Chunk)
		if err != nil {
			return fmt.Errorf("decode audio chunk: %w", err)
		}
		chunk = decoded
	}

	var energy float64
	switch {
	case msg.Energy != nil:
		energy = *msg.Energy
	case len(chunk) > 0:
		level, err := audio.EnergyFromChunk(chunk, audio.Encoding(msg.Encoding))
		if err != nil {
			return err
		}
		energy = level
	default:
		return errors.New("audio message needs energy or chunk")
	}

	// Evaluate the tick first so a chunk that opens a segment belongs to it
	r.segmenter.OnEnergySample(energy, now)
	if len(chunk) > 0 {
		encoding := msg.Encoding
		if encoding == "" {
			encoding = string(audio.EncodingOpaque)
		}
		r.metrics.RecordAudioBytes(encoding, len(chunk))
		_, _ = r.segmenter.Write(chunk)
	}
	return nil
}

func (r *recorder) stop(now time.Time) error {
	if r.segmenter == nil {
		return errNotRecording
	}

	r.segmenter.Stop(now)
	if err := r.server.tracker.StopSession(r.sessionID); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to stop tracked session")
	}
	r.metrics.RecordSessionEnd()
	r.logger.Info().Msg("Recording session stopped")

	r.reply(ServerMessage{Type: ReplySessionStopped, SessionID: r.sessionID})
	r.segmenter = nil
	return nil
}

func (r *recorder) status(now time.Time) {
	queue := r.server.pipeline.QueueStatus()
	msg := ServerMessage{Type: ReplyStatus, SessionID: r.sessionID, Queue: &queue}
	if r.segmenter != nil {
		status := r.segmenter.Status(now)
		msg.Segmenter = &status
	}
	r.reply(msg)
}

func (r *recorder) configure(overrides *SegmenterOverrides) error {
	cfg := overrides.Apply(r.segmenterCfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if r.segmenter != nil {
		if err := r.segmenter.UpdateConfig(cfg); err != nil {
			return err
		}
	}
	r.segmenterCfg = cfg
	r.reply(ServerMessage{Type: ReplyConfigUpdated, SessionID: r.sessionID})
	return nil
}

// close stops an open session when the connection goes away
func (r *recorder) close() {
	if r.segmenter != nil {
		_ = r.stop(r.clock(0))
	}
}

// OnSegmentStart implements audio.SegmentHandler
func (r *recorder) OnSegmentStart(id string, startedAt time.Time) {
	observability.RecordSegmentStarted()
	r.server.bus.Publish(events.Event{
		Kind:           events.SegmentStart,
		SessionID:      r.sessionID,
		SegmentID:      id,
		TargetLanguage: r.targetLanguage,
	})
}

// OnSegmentReady implements audio.SegmentHandler
func (r *recorder) OnSegmentReady(seg audio.ReadySegment) {
	observability.RecordSegmentReady(seg.Duration)
	r.ready = &seg
}

// OnSegmentEnd implements audio.SegmentHandler. The end notification is
// published before the segment enters the pipeline.
func (r *recorder) OnSegmentEnd(end audio.SegmentEnd) {
	if end.Discarded {
		observability.RecordSegmentDiscarded()
		r.logger.Debug().Str("segment_id", end.ID).Dur("duration", end.Duration).Msg("Segment too short, discarded")
	}
	r.server.bus.Publish(events.Event{
		Kind:       events.SegmentEnd,
		SessionID:  r.sessionID,
		SegmentID:  end.ID,
		DurationMs: end.Duration.Milliseconds(),
		Discarded:  end.Discarded,
	})

	ready := r.ready
	r.ready = nil
	if ready == nil || ready.ID != end.ID {
		return
	}

	err := r.server.pipeline.Submit(&pipeline.Segment{
		ID:             ready.ID,
		SessionID:      r.sessionID,
		Payload:        ready.Payload,
		SourceLanguage: r.sourceLanguage,
		TargetLanguage: r.targetLanguage,
		CreatedAt:      r.server.now(),
		Duration:       ready.Duration,
	})
	if err != nil {
		r.logger.Error().Err(err).Str("segment_id", ready.ID).Msg("Failed to submit segment")
		_ = ready.Payload.Release()
		r.server.bus.Publish(events.Event{
			Kind:      events.SegmentError,
			SessionID: r.sessionID,
			SegmentID: ready.ID,
			Error:     err.Error(),
			Stage:     observability.StageTranscription,
		})
	}
}

func (r *recorder) reply(msg ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to encode reply")
		return
	}
	r.client.enqueue(data)
}

func (r *recorder) replyError(err error) {
	r.logger.Debug().Err(err).Msg("Rejected client message")
	r.reply(ServerMessage{Type: ReplyError, SessionID: r.sessionID, Message: err.Error()})
}
