package tracker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/segment-translator/internal/events"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestTracker() (*Tracker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	return New(zerolog.Nop(), WithClock(clock.now)), clock
}

func TestTracker_SessionLifecycle(t *testing.T) {
	tr, _ := newTestTracker()

	if err := tr.StartSession("s1", SessionOptions{TargetLanguage: "ja"}); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !tr.IsLive("s1") {
		t.Error("Expected session to be live")
	}
	if err := tr.StartSession("s1", SessionOptions{}); !errors.Is(err, ErrSessionLive) {
		t.Errorf("Expected ErrSessionLive, got %v", err)
	}

	if err := tr.StopSession("s1"); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if tr.IsLive("s1") {
		t.Error("Expected session to be stopped")
	}
	if err := tr.StopSession("missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}

	session, ok := tr.Session("s1")
	if !ok {
		t.Fatal("Expected stopped session to remain queryable")
	}
	if session.TargetLanguage != "ja" || session.StoppedAt.IsZero() {
		t.Errorf("Unexpected session snapshot: %+v", session)
	}

	if err := tr.StartSession("s1", SessionOptions{}); err != nil {
		t.Errorf("Expected restart of stopped session, got %v", err)
	}
}

func TestTracker_FollowsLifecycleEvents(t *testing.T) {
	tr, _ := newTestTracker()
	bus := events.NewBus(zerolog.Nop())
	detach := tr.Attach(bus)
	defer detach()

	if err := tr.StartSession("s1", SessionOptions{TargetLanguage: "zh"}); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	steps := []struct {
		event events.Event
		want  SegmentState
	}{
		{events.Event{Kind: events.SegmentStart, SessionID: "s1", SegmentID: "seg-1"}, StateRecording},
		{events.Event{Kind: events.SegmentEnd, SessionID: "s1", SegmentID: "seg-1", DurationMs: 1800}, StateQueued},
		{events.Event{Kind: events.SegmentTranscribed, SessionID: "s1", SegmentID: "seg-1", OriginalText: "hello", DetectedLanguage: "en"}, StateTranscribed},
		{events.Event{Kind: events.SegmentTranslated, SessionID: "s1", SegmentID: "seg-1", TranslatedText: "你好"}, StateTranslated},
	}

	for _, step := range steps {
		bus.Publish(step.event)
		seg, ok := tr.Segment("s1", "seg-1")
		if !ok {
			t.Fatalf("Expected segment to be tracked after %s", step.event.Kind)
		}
		if seg.State != step.want {
			t.Errorf("After %s expected state %s, got %s", step.event.Kind, step.want, seg.State)
		}
	}

	seg, _ := tr.Segment("s1", "seg-1")
	if seg.DurationMs != 1800 || seg.OriginalText != "hello" || seg.TranslatedText != "你好" || seg.TargetLanguage != "zh" {
		t.Errorf("Unexpected segment snapshot: %+v", seg)
	}

	segments, err := tr.SessionSegments("s1")
	if err != nil || len(segments) != 1 {
		t.Errorf("Expected one session segment, got %d (%v)", len(segments), err)
	}
}

func TestTracker_StatesNeverMoveBackwards(t *testing.T) {
	tr, _ := newTestTracker()
	bus := events.NewBus(zerolog.Nop())
	tr.Attach(bus)
	_ = tr.StartSession("s1", SessionOptions{TargetLanguage: "zh"})

	// Pipeline results can arrive before the segment end notification
	bus.Publish(events.Event{Kind: events.SegmentStart, SessionID: "s1", SegmentID: "seg-1"})
	bus.Publish(events.Event{Kind: events.SegmentTranscribed, SessionID: "s1", SegmentID: "seg-1", OriginalText: "hi"})
	bus.Publish(events.Event{Kind: events.SegmentEnd, SessionID: "s1", SegmentID: "seg-1", DurationMs: 1200})

	seg, _ := tr.Segment("s1", "seg-1")
	if seg.State != StateTranscribed {
		t.Errorf("Expected transcribed to survive a late end event, got %s", seg.State)
	}
	if seg.DurationMs != 1200 {
		t.Errorf("Expected duration recorded, got %d", seg.DurationMs)
	}

	bus.Publish(events.Event{Kind: events.SegmentError, SessionID: "s1", SegmentID: "seg-1", Stage: "translation", Error: "quota"})
	bus.Publish(events.Event{Kind: events.SegmentTranslated, SessionID: "s1", SegmentID: "seg-1"})

	seg, _ = tr.Segment("s1", "seg-1")
	if seg.State != StateFailed || seg.Stage != "translation" {
		t.Errorf("Expected terminal failed state to stick, got %+v", seg)
	}

	changed, err := tr.SetSegmentState("s1", "seg-1", StateQueued)
	if err != nil || changed {
		t.Errorf("Expected no transition out of a terminal state, got changed=%v err=%v", changed, err)
	}
	if _, err := tr.SetSegmentState("s1", "missing", StateQueued); !errors.Is(err, ErrSegmentNotFound) {
		t.Errorf("Expected ErrSegmentNotFound, got %v", err)
	}
}

func TestTracker_DiscardedAndCompleted(t *testing.T) {
	tr, _ := newTestTracker()
	bus := events.NewBus(zerolog.Nop())
	tr.Attach(bus)
	_ = tr.StartSession("s1", SessionOptions{TargetLanguage: "zh"})
	_ = tr.StartSession("s2", SessionOptions{})

	bus.Publish(events.Event{Kind: events.SegmentStart, SessionID: "s1", SegmentID: "short"})
	bus.Publish(events.Event{Kind: events.SegmentEnd, SessionID: "s1", SegmentID: "short", Discarded: true})

	bus.Publish(events.Event{Kind: events.SegmentStart, SessionID: "s1", SegmentID: "silent"})
	bus.Publish(events.Event{Kind: events.SegmentEnd, SessionID: "s1", SegmentID: "silent"})
	bus.Publish(events.Event{Kind: events.SegmentTranscribed, SessionID: "s1", SegmentID: "silent"})

	bus.Publish(events.Event{Kind: events.SegmentStart, SessionID: "s2", SegmentID: "untranslated"})
	bus.Publish(events.Event{Kind: events.SegmentTranscribed, SessionID: "s2", SegmentID: "untranslated", OriginalText: "hello"})

	tests := map[string]SegmentState{
		"short":        StateDiscarded,
		"silent":       StateCompleted,
		"untranslated": StateCompleted,
	}
	sessionOf := map[string]string{"short": "s1", "silent": "s1", "untranslated": "s2"}
	for id, want := range tests {
		seg, ok := tr.Segment(sessionOf[id], id)
		if !ok {
			t.Fatalf("Expected segment %s to be tracked", id)
		}
		if seg.State != want {
			t.Errorf("Expected %s to be %s, got %s", id, want, seg.State)
		}
		if !seg.State.Terminal() {
			t.Errorf("Expected %s to be terminal", want)
		}
	}
}

func TestTracker_Prune(t *testing.T) {
	tr, clock := newTestTracker()
	_ = tr.StartSession("old", SessionOptions{})
	_ = tr.StartSession("live", SessionOptions{})
	tr.TrackSegment("old", "seg-old", "")

	_ = tr.StopSession("old")
	clock.advance(5 * time.Minute)

	if removed := tr.Prune(10*time.Minute, clock.now()); removed != 0 {
		t.Errorf("Expected nothing pruned before ttl, got %d", removed)
	}

	clock.advance(6 * time.Minute)
	if removed := tr.Prune(10*time.Minute, clock.now()); removed != 1 {
		t.Errorf("Expected 1 session pruned, got %d", removed)
	}
	if _, ok := tr.Session("old"); ok {
		t.Error("Expected old session removed")
	}
	if _, ok := tr.Segment("old", "seg-old"); ok {
		t.Error("Expected old session's segments removed")
	}
	if !tr.IsLive("live") {
		t.Error("Expected live session kept")
	}
	if len(tr.Sessions()) != 1 {
		t.Errorf("Expected 1 remaining session, got %d", len(tr.Sessions()))
	}
}

func TestTracker_StartCleanup(t *testing.T) {
	tr := New(zerolog.Nop())
	_ = tr.StartSession("s1", SessionOptions{})
	_ = tr.StopSession("s1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr.StartCleanup(ctx, 5*time.Millisecond, 0)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := tr.Session("s1"); !ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("Expected cleanup to prune the stopped session")
}

func TestTracker_SessionsOrdered(t *testing.T) {
	tr, clock := newTestTracker()
	_ = tr.StartSession("b", SessionOptions{})
	clock.advance(time.Second)
	_ = tr.StartSession("a", SessionOptions{})

	sessions := tr.Sessions()
	if len(sessions) != 2 || sessions[0].ID != "b" || sessions[1].ID != "a" {
		t.Errorf("Expected sessions ordered by start time, got %+v", sessions)
	}
}

func TestTracker_SameSegmentIDAcrossSessions(t *testing.T) {
	tr, _ := newTestTracker()
	_ = tr.StartSession("a", SessionOptions{TargetLanguage: "zh"})
	_ = tr.StartSession("b", SessionOptions{TargetLanguage: "zh"})
	tr.TrackSegment("a", "segment_1_1", "")
	tr.TrackSegment("b", "segment_1_1", "")

	if _, err := tr.SetSegmentState("a", "segment_1_1", StateFailed); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	other, _ := tr.Segment("b", "segment_1_1")
	if other.State != StateRecording {
		t.Errorf("Expected segment in session b untouched, got %s", other.State)
	}
}
