package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Kind names a segment lifecycle event
type Kind string

const (
	SegmentStart       Kind = "segmentStart"
	SegmentEnd         Kind = "segmentEnd"
	SegmentTranscribed Kind = "segmentTranscribed"
	SegmentTranslated  Kind = "segmentTranslated"
	SegmentError       Kind = "segmentError"
)

// Event is a segment lifecycle notification. Fields not relevant to a kind
// are left empty.
type Event struct {
	Kind             Kind      `json:"type"`
	SessionID        string    `json:"sessionId,omitempty"`
	SegmentID        string    `json:"segmentId"`
	DurationMs       int64     `json:"durationMs,omitempty"`
	Discarded        bool      `json:"discarded,omitempty"`
	OriginalText     string    `json:"originalText,omitempty"`
	DetectedLanguage string    `json:"detectedLanguage,omitempty"`
	TranslatedText   string    `json:"translatedText,omitempty"`
	SourceLanguage   string    `json:"sourceLanguage,omitempty"`
	TargetLanguage   string    `json:"targetLanguage,omitempty"`
	Error            string    `json:"error,omitempty"`
	Stage            string    `json:"stage,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// IsTerminal reports whether no further events follow for the segment
func (e Event) IsTerminal() bool {
	return e.Kind == SegmentTranslated || e.Kind == SegmentError
}

// Listener receives published events
type Listener func(Event)

type subscription struct {
	id       uint64
	kind     Kind // empty matches every kind
	listener Listener
}

// Bus delivers events to registered listeners. Multiple listeners per kind
// are supported and delivery is synchronous in registration order.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID uint64
	logger zerolog.Logger
}

// NewBus creates an event bus
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		logger: logger.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers a listener for one kind and returns a func that removes it
func (b *Bus) Subscribe(kind Kind, listener Listener) func() {
	return b.add(kind, listener)
}

// SubscribeAll registers a listener for every kind
func (b *Bus) SubscribeAll(listener Listener) func() {
	return b.add("", listener)
}

func (b *Bus) add(kind Kind, listener Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, kind: kind, listener: listener})

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subs {
		if sub.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers the event to a snapshot of matching listeners. A zero
// timestamp is filled with the current time.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	matching := make([]Listener, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.kind == "" || sub.kind == event.Kind {
			matching = append(matching, sub.listener)
		}
	}
	b.mu.RUnlock()

	for _, listener := range matching {
		b.deliver(listener, event)
	}
}

// ListenerCount returns the number of registered listeners
func (b *Bus) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus) deliver(listener Listener, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Interface("panic", r).
				Str("event", string(event.Kind)).
				Str("segment_id", event.SegmentID).
				Msg("Event listener panicked")
		}
	}()
	listener(event)
}
