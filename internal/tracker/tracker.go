package tracker

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/segment-translator/internal/events"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionLive     = errors.New("session already live")
	ErrSegmentNotFound = errors.New("segment not found")
)

// SegmentState is where a segment is in its lifecycle
type SegmentState string

const (
	StateRecording   SegmentState = "recording"
	StateQueued      SegmentState = "queued"
	StateTranscribed SegmentState = "transcribed"
	StateTranslated  SegmentState = "translated"
	StateCompleted   SegmentState = "completed" // transcribed, no translation needed
	StateFailed      SegmentState = "failed"
	StateDiscarded   SegmentState = "discarded"
)

func (s SegmentState) rank() int {
	switch s {
	case StateRecording:
		return 0
	case StateQueued:
		return 1
	case StateTranscribed:
		return 2
	default:
		return 3
	}
}

// Terminal reports whether no further transitions are expected
func (s SegmentState) Terminal() bool {
	return s.rank() == 3
}

// SessionOptions are the languages chosen when recording starts
type SessionOptions struct {
	SourceLanguage string
	TargetLanguage string
}

// Session is a snapshot of one recording session
type Session struct {
	ID             string    `json:"id"`
	SourceLanguage string    `json:"sourceLanguage,omitempty"`
	TargetLanguage string    `json:"targetLanguage,omitempty"`
	Live           bool      `json:"live"`
	StartedAt      time.Time `json:"startedAt"`
	StoppedAt      time.Time `json:"stoppedAt,omitempty"`
	SegmentIDs     []string  `json:"segmentIds"`
}

// Segment is a snapshot of one tracked segment
type Segment struct {
	ID               string       `json:"id"`
	SessionID        string       `json:"sessionId"`
	State            SegmentState `json:"state"`
	TargetLanguage   string       `json:"targetLanguage,omitempty"`
	DurationMs       int64        `json:"durationMs"`
	OriginalText     string       `json:"originalText,omitempty"`
	DetectedLanguage string       `json:"detectedLanguage,omitempty"`
	TranslatedText   string       `json:"translatedText,omitempty"`
	Error            string       `json:"error,omitempty"`
	Stage            string       `json:"stage,omitempty"`
	UpdatedAt        time.Time    `json:"updatedAt"`
}

// Option configures a Tracker
type Option func(*Tracker)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// Tracker maps session and segment ids to their current lifecycle state so
// asynchronous pipeline results can be correlated with recording sessions.
type Tracker struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	segments map[string]*Segment
	now      func() time.Time
	logger   zerolog.Logger
}

// New creates an empty tracker
func New(logger zerolog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		sessions: make(map[string]*Session),
		segments: make(map[string]*Segment),
		now:      time.Now,
		logger:   logger.With().Str("component", "tracker").Logger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// StartSession registers a live session. A stopped session with the same id
// is replaced.
func (t *Tracker) StartSession(id string, opts SessionOptions) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.sessions[id]; ok {
		if existing.Live {
			return ErrSessionLive
		}
		t.removeSessionLocked(existing)
	}

	t.sessions[id] = &Session{
		ID:             id,
		SourceLanguage: opts.SourceLanguage,
		TargetLanguage: opts.TargetLanguage,
		Live:           true,
		StartedAt:      t.now(),
	}
	t.logger.Debug().Str("session_id", id).Msg("Session started")
	return nil
}

// StopSession marks a session stopped. Its segments keep receiving results.
func (t *Tracker) StopSession(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	session, ok := t.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if session.Live {
		session.Live = false
		session.StoppedAt = t.now()
	}
	return nil
}

// IsLive reports whether the session is recording
func (t *Tracker) IsLive(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	session, ok := t.sessions[id]
	return ok && session.Live
}

// Session returns a snapshot of one session
func (t *Tracker) Session(id string) (Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	session, ok := t.sessions[id]
	if !ok {
		return Session{}, false
	}
	return copySession(session), true
}

// Sessions returns snapshots of all sessions, oldest first
func (t *Tracker) Sessions() []Session {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Session, 0, len(t.sessions))
	for _, session := range t.sessions {
		out = append(out, copySession(session))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

func segmentKey(sessionID, segmentID string) string {
	return sessionID + "/" + segmentID
}

// TrackSegment registers a segment in the recording state
func (t *Tracker) TrackSegment(sessionID, segmentID, targetLanguage string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.trackLocked(sessionID, segmentID, targetLanguage)
}

func (t *Tracker) trackLocked(sessionID, segmentID, targetLanguage string) *Segment {
	key := segmentKey(sessionID, segmentID)
	if seg, ok := t.segments[key]; ok {
		return seg
	}

	if targetLanguage == "" {
		if session, ok := t.sessions[sessionID]; ok {
			targetLanguage = session.TargetLanguage
		}
	}
	seg := &Segment{
		ID:             segmentID,
		SessionID:      sessionID,
		State:          StateRecording,
		TargetLanguage: targetLanguage,
		UpdatedAt:      t.now(),
	}
	t.segments[key] = seg
	if session, ok := t.sessions[sessionID]; ok {
		session.SegmentIDs = append(session.SegmentIDs, segmentID)
	}
	return seg
}

// SetSegmentState moves a segment forward. Transitions backwards, or out of
// a terminal state, are ignored and reported as false.
func (t *Tracker) SetSegmentState(sessionID, segmentID string, state SegmentState) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	seg, ok := t.segments[segmentKey(sessionID, segmentID)]
	if !ok {
		return false, ErrSegmentNotFound
	}
	return t.advanceLocked(seg, state), nil
}

func (t *Tracker) advanceLocked(seg *Segment, state SegmentState) bool {
	if seg.State.Terminal() || state.rank() < seg.State.rank() {
		return false
	}
	seg.State = state
	seg.UpdatedAt = t.now()
	return true
}

// Segment returns a snapshot of one segment
func (t *Tracker) Segment(sessionID, segmentID string) (Segment, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	seg, ok := t.segments[segmentKey(sessionID, segmentID)]
	if !ok {
		return Segment{}, false
	}
	return *seg, true
}

// SessionSegments returns the session's segments in creation order
func (t *Tracker) SessionSegments(sessionID string) ([]Segment, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	session, ok := t.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	out := make([]Segment, 0, len(session.SegmentIDs))
	for _, id := range session.SegmentIDs {
		if seg, ok := t.segments[segmentKey(sessionID, id)]; ok {
			out = append(out, *seg)
		}
	}
	return out, nil
}

// Attach keeps segment states in step with lifecycle events. The returned
// func detaches the tracker.
func (t *Tracker) Attach(bus *events.Bus) func() {
	return bus.SubscribeAll(t.apply)
}

func (t *Tracker) apply(e events.Event) {
	if e.SegmentID == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	seg := t.trackLocked(e.SessionID, e.SegmentID, e.TargetLanguage)
	switch e.Kind {
	case events.SegmentStart:
		// tracked above
	case events.SegmentEnd:
		seg.DurationMs = e.DurationMs
		if e.Discarded {
			t.advanceLocked(seg, StateDiscarded)
		} else {
			t.advanceLocked(seg, StateQueued)
		}
	case events.SegmentTranscribed:
		seg.OriginalText = e.OriginalText
		seg.DetectedLanguage = e.DetectedLanguage
		if e.OriginalText == "" || seg.TargetLanguage == "" {
			t.advanceLocked(seg, StateCompleted)
		} else {
			t.advanceLocked(seg, StateTranscribed)
		}
	case events.SegmentTranslated:
		seg.TranslatedText = e.TranslatedText
		t.advanceLocked(seg, StateTranslated)
	case events.SegmentError:
		seg.Error = e.Error
		seg.Stage = e.Stage
		t.advanceLocked(seg, StateFailed)
	}
}

// Prune removes sessions stopped for longer than ttl, with their segments.
// It returns the number of sessions removed.
func (t *Tracker) Prune(ttl time.Duration, now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for _, session := range t.sessions {
		if session.Live || now.Sub(session.StoppedAt) < ttl {
			continue
		}
		t.removeSessionLocked(session)
		removed++
	}
	return removed
}

func (t *Tracker) removeSessionLocked(session *Session) {
	for _, id := range session.SegmentIDs {
		delete(t.segments, segmentKey(session.ID, id))
	}
	delete(t.sessions, session.ID)
}

// StartCleanup prunes expired sessions every interval until ctx is done
func (t *Tracker) StartCleanup(ctx context.Context, interval, ttl time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := t.Prune(ttl, t.now()); removed > 0 {
					t.logger.Info().Int("sessions", removed).Msg("Pruned stopped sessions")
				}
			}
		}
	}()
}

func copySession(s *Session) Session {
	out := *s
	out.SegmentIDs = append([]string(nil), s.SegmentIDs...)
	return out
}
