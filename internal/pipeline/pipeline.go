package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/segment-translator/internal/audio"
	"github.com/lexiqai/segment-translator/internal/events"
	"github.com/lexiqai/segment-translator/internal/observability"
	"github.com/lexiqai/segment-translator/internal/stt"
	"github.com/lexiqai/segment-translator/internal/translate"
)

// Config holds pipeline settings
type Config struct {
	// MaxConcurrentJobs bounds each stage independently
	MaxConcurrentJobs int

	// DispatchInterval is the fallback dispatch tick. Dispatch also runs on
	// every submit and completion.
	DispatchInterval time.Duration

	// SpillDir, when set, moves in-memory payloads to temp files on submit
	SpillDir string
}

// DefaultConfig returns the default pipeline configuration
func DefaultConfig() Config {
	return Config{
		MaxConcurrentJobs: 3,
		DispatchInterval:  100 * time.Millisecond,
	}
}

// Option customizes a Pipeline
type Option func(*Pipeline)

// WithLogger sets the pipeline logger
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger.With().Str("component", "pipeline").Logger()
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// Pipeline runs segments through transcription then translation. Each stage
// has its own queue and worker ceiling; outcomes are published on the bus.
type Pipeline struct {
	cfg         Config
	transcriber stt.Transcriber
	translator  translate.Translator
	bus         *events.Bus
	logger      zerolog.Logger
	now         func() time.Time

	transcriptions *Queue[*Segment]
	translations   *Queue[*TranslationTask]

	// Job contexts; cancelled only when Close gives up waiting
	ctx    context.Context
	cancel context.CancelFunc
	jobs   sync.WaitGroup

	mu      sync.Mutex
	started bool
	closed  bool
	// abandoned is set once Close stops waiting; no new translations are queued
	abandoned bool
	stop      chan struct{}
	stopped   chan struct{}
}

// New creates a pipeline
func New(cfg Config, transcriber stt.Transcriber, translator translate.Translator, bus *events.Bus, opts ...Option) (*Pipeline, error) {
	if transcriber == nil || translator == nil {
		return nil, errors.New("pipeline requires a transcriber and a translator")
	}
	if bus == nil {
		return nil, errors.New("pipeline requires an event bus")
	}
	if cfg.MaxConcurrentJobs <= 0 {
		return nil, fmt.Errorf("max concurrent jobs must be positive, got %d", cfg.MaxConcurrentJobs)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		cfg:         cfg,
		transcriber: transcriber,
		translator:  translator,
		bus:         bus,
		logger:      observability.Component("pipeline"),
		now:         time.Now,
		// Segment ids are unique per session only
		transcriptions: NewQueue(cfg.MaxConcurrentJobs, func(s *Segment) string {
			return s.SessionID + "/" + s.ID
		}),
		translations: NewQueue(cfg.MaxConcurrentJobs, func(t *TranslationTask) string {
			return t.SessionID + "/" + t.ID
		}),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Start launches the fallback dispatch ticker
func (p *Pipeline) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed || p.cfg.DispatchInterval <= 0 {
		return
	}
	p.started = true
	p.stop = make(chan struct{})
	p.stopped = make(chan struct{})

	go p.tick(p.stop, p.stopped)

	p.logger.Info().
		Int("max_concurrent_jobs", p.cfg.MaxConcurrentJobs).
		Dur("dispatch_interval", p.cfg.DispatchInterval).
		Msg("Pipeline started")
}

func (p *Pipeline) tick(stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(p.cfg.DispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.mu.Lock()
			if !p.closed {
				p.dispatch()
			}
			p.mu.Unlock()
		}
	}
}

// Submit enqueues a segment for transcription. It never waits on a capability call.
func (p *Pipeline) Submit(seg *Segment) error {
	if err := seg.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPipelineClosed
	}

	if p.cfg.SpillDir != "" && !seg.Payload.IsFile() {
		spilled, err := audio.SpillToFile(seg.Payload, p.cfg.SpillDir, seg.ID)
		if err != nil {
			p.logger.Warn().Err(err).Str("segment_id", seg.ID).Msg("Failed to spill payload, keeping it in memory")
		} else {
			seg.Payload = spilled
		}
	}
	if seg.CreatedAt.IsZero() {
		seg.CreatedAt = p.now()
	}

	p.transcriptions.Push(seg)
	p.logger.Debug().
		Str("session_id", seg.SessionID).
		Str("segment_id", seg.ID).
		Dur("duration", seg.Duration).
		Msg("Segment queued for transcription")

	p.dispatch()
	return nil
}

// dispatch starts jobs while both a slot and pending work are available
func (p *Pipeline) dispatch() {
	for {
		job, ok := p.transcriptions.Next(p.now())
		if !ok {
			break
		}
		p.jobs.Add(1)
		go p.runTranscription(job)
	}
	for {
		job, ok := p.translations.Next(p.now())
		if !ok {
			break
		}
		p.jobs.Add(1)
		go p.runTranslation(job)
	}
	p.reportDepth()
}

func (p *Pipeline) reportDepth() {
	pending, active := p.transcriptions.Counts()
	observability.UpdateQueueDepth(observability.StageTranscription, pending, active)
	pending, active = p.translations.Counts()
	observability.UpdateQueueDepth(observability.StageTranslation, pending, active)
}

func (p *Pipeline) runTranscription(job *Job[*Segment]) {
	defer p.jobs.Done()
	seg := job.Item
	logger := p.logger.With().Str("session_id", seg.SessionID).Str("segment_id", seg.ID).Logger()

	timer := observability.StartStage(observability.StageTranscription)
	transcript, err := p.transcribe(seg)
	timer.End(err == nil)

	if releaseErr := seg.Payload.Release(); releaseErr != nil {
		logger.Warn().Err(releaseErr).Msg("Failed to release segment payload")
	}

	if err != nil {
		stageErr := &StageError{Stage: observability.StageTranscription, SegmentID: seg.ID, Err: err}
		logger.Error().Err(stageErr).Msg("Transcription failed")
		observability.RecordError("transcription_failed", "pipeline")
		p.publishError(seg.SessionID, seg.ID, stageErr)
	} else {
		text := strings.TrimSpace(transcript.Text)
		logger.Info().
			Str("language", transcript.Language).
			Int("chars", len(text)).
			Dur("queued_for", job.StartedAt.Sub(seg.CreatedAt)).
			Msg("Segment transcribed")

		p.bus.Publish(events.Event{
			Kind:             events.SegmentTranscribed,
			SessionID:        seg.SessionID,
			SegmentID:        seg.ID,
			OriginalText:     text,
			DetectedLanguage: transcript.Language,
		})

		switch {
		case text == "":
			logger.Debug().Msg("Empty transcript, skipping translation")
		case seg.TargetLanguage == "":
			logger.Debug().Msg("No target language, skipping translation")
		default:
			task := &TranslationTask{
				ID:             TranslationTaskID(seg.ID),
				SessionID:      seg.SessionID,
				SegmentID:      seg.ID,
				Text:           text,
				SourceLanguage: transcript.Language,
				TargetLanguage: seg.TargetLanguage,
				CreatedAt:      p.now(),
			}
			if !p.queueTranslation(task) {
				logger.Debug().Msg("Pipeline abandoned, translation dropped")
				p.publishError(seg.SessionID, seg.ID, &StageError{Stage: observability.StageTranslation, SegmentID: seg.ID, Err: ErrDropped})
			}
		}
	}

	// Release the slot only after the outcome is published so a single
	// worker emits events in submission order
	p.transcriptions.Done(job)
	p.dispatch()
}

// queueTranslation pushes a task unless Close has given up on the pipeline
func (p *Pipeline) queueTranslation(task *TranslationTask) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.abandoned {
		return false
	}
	p.translations.Push(task)
	return true
}

func (p *Pipeline) transcribe(seg *Segment) (transcript *stt.Transcript, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transcriber panicked: %v", r)
		}
	}()

	transcript, err = p.transcriber.Transcribe(p.ctx, seg.Payload, seg.SourceLanguage)
	if err == nil && transcript == nil {
		err = errors.New("transcriber returned no transcript")
	}
	return transcript, err
}

func (p *Pipeline) runTranslation(job *Job[*TranslationTask]) {
	defer p.jobs.Done()
	task := job.Item
	logger := p.logger.With().Str("session_id", task.SessionID).Str("segment_id", task.SegmentID).Logger()

	timer := observability.StartStage(observability.StageTranslation)
	translated, err := p.translate(task)
	timer.End(err == nil)

	if err != nil {
		stageErr := &StageError{Stage: observability.StageTranslation, SegmentID: task.SegmentID, Err: err}
		logger.Error().Err(stageErr).Msg("Translation failed")
		observability.RecordError("translation_failed", "pipeline")
		p.publishError(task.SessionID, task.SegmentID, stageErr)
	} else {
		logger.Info().
			Str("source_language", task.SourceLanguage).
			Str("target_language", task.TargetLanguage).
			Msg("Segment translated")

		p.bus.Publish(events.Event{
			Kind:           events.SegmentTranslated,
			SessionID:      task.SessionID,
			SegmentID:      task.SegmentID,
			OriginalText:   task.Text,
			TranslatedText: translated,
			SourceLanguage: task.SourceLanguage,
			TargetLanguage: task.TargetLanguage,
		})
	}

	p.translations.Done(job)
	p.dispatch()
}

func (p *Pipeline) translate(task *TranslationTask) (translated string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("translator panicked: %v", r)
		}
	}()
	return p.translator.Translate(p.ctx, task.Text, task.TargetLanguage)
}

func (p *Pipeline) publishError(sessionID, segmentID string, err *StageError) {
	p.bus.Publish(events.Event{
		Kind:      events.SegmentError,
		SessionID: sessionID,
		SegmentID: segmentID,
		Error:     err.Err.Error(),
		Stage:     err.Stage,
	})
}

// QueueStatus returns a snapshot of both stages
func (p *Pipeline) QueueStatus() QueueStatus {
	pendingTranscription, activeTranscriptions := p.transcriptions.Counts()
	pendingTranslation, activeTranslations := p.translations.Counts()
	return QueueStatus{
		PendingTranscription: pendingTranscription,
		PendingTranslation:   pendingTranslation,
		ActiveTranscriptions: activeTranscriptions,
		ActiveTranslations:   activeTranslations,
		TotalActive:          activeTranscriptions + activeTranslations,
		MaxConcurrentJobs:    p.transcriptions.Limit(),
	}
}

// Clear drops all pending work in both stages. In-flight jobs keep running.
// Each dropped item is reported as a segment error for its stage.
func (p *Pipeline) Clear() {
	segments := p.transcriptions.Clear()
	tasks := p.translations.Clear()

	for _, seg := range segments {
		if err := seg.Payload.Release(); err != nil {
			p.logger.Warn().Err(err).Str("segment_id", seg.ID).Msg("Failed to release segment payload")
		}
		p.publishError(seg.SessionID, seg.ID, &StageError{Stage: observability.StageTranscription, SegmentID: seg.ID, Err: ErrDropped})
	}
	for _, task := range tasks {
		p.publishError(task.SessionID, task.SegmentID, &StageError{Stage: observability.StageTranslation, SegmentID: task.SegmentID, Err: ErrDropped})
	}

	p.reportDepth()
	p.logger.Info().
		Int("transcriptions", len(segments)).
		Int("translations", len(tasks)).
		Msg("Cleared pending queues")
}

// Close stops accepting segments and waits for queued and in-flight work.
// If ctx ends first, running jobs are cancelled, pending work is dropped and
// ctx.Err() is returned.
func (p *Pipeline) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	stop, stopped := p.stop, p.stopped
	p.mu.Unlock()

	if stop != nil {
		close(stop)
		<-stopped
	}

	done := make(chan struct{})
	go func() {
		p.jobs.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		p.logger.Info().Msg("Pipeline drained")
		return nil
	case <-ctx.Done():
		p.mu.Lock()
		p.abandoned = true
		p.mu.Unlock()
		p.cancel()
		p.Clear()
		p.logger.Warn().Err(ctx.Err()).Interface("status", p.QueueStatus()).Msg("Pipeline close timed out")
		return ctx.Err()
	}
}
