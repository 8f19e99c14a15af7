package transport

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/segment-translator/internal/audio"
	"github.com/lexiqai/segment-translator/internal/events"
	"github.com/lexiqai/segment-translator/internal/pipeline"
	"github.com/lexiqai/segment-translator/internal/stt"
	"github.com/lexiqai/segment-translator/internal/tracker"
	"github.com/lexiqai/segment-translator/internal/translate"
)

const baseTimestampMs int64 = 1_700_000_000_000

type testEnv struct {
	server    *Server
	http      *httptest.Server
	tracker   *tracker.Tracker
	pipeline  *pipeline.Pipeline
	bytesSeen *int64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithLogger(t, zerolog.Nop())
}

func newTestEnvWithLogger(t *testing.T, logger zerolog.Logger) *testEnv {
	t.Helper()
	bus := events.NewBus(logger)
	tr := tracker.New(logger)
	tr.Attach(bus)

	var bytesSeen int64
	transcriber := stt.TranscriberFunc(func(ctx context.Context, payload audio.Payload, hint string) (*stt.Transcript, error) {
		size, err := payload.Size()
		if err != nil {
			return nil, err
		}
		atomic.StoreInt64(&bytesSeen, size)
		return &stt.Transcript{Text: "good morning", Language: "en"}, nil
	})
	translator := translate.TranslatorFunc(func(ctx context.Context, text, target string) (string, error) {
		return "bonjour", nil
	})

	p, err := pipeline.New(pipeline.Config{MaxConcurrentJobs: 2}, transcriber, translator, bus, pipeline.WithLogger(logger))
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}

	srv := NewServer(Options{
		Segmenter:             audio.DefaultSegmenterConfig(),
		DefaultTargetLanguage: "zh",
		MaxMessageBytes:       1 << 20,
	}, p, tr, bus, logger)

	mux := http.NewServeMux()
	srv.Routes(mux)
	httpServer := httptest.NewServer(mux)

	t.Cleanup(func() {
		srv.Hub().CloseAll()
		httpServer.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.Close(ctx)
	})

	return &testEnv{server: srv, http: httpServer, tracker: tr, pipeline: p, bytesSeen: &bytesSeen}
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial WebSocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg interface{}) {
	t.Helper()
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("Failed to send message: %v", err)
	}
}

type received struct {
	Type           string                 `json:"type"`
	SessionID      string                 `json:"sessionId"`
	SegmentID      string                 `json:"segmentId"`
	Message        string                 `json:"message"`
	DurationMs     int64                  `json:"durationMs"`
	Discarded      bool                   `json:"discarded"`
	OriginalText   string                 `json:"originalText"`
	TranslatedText string                 `json:"translatedText"`
	TargetLanguage string                 `json:"targetLanguage"`
	Segmenter      *audio.SegmenterStatus `json:"segmenter"`
	Queue          *pipeline.QueueStatus  `json:"queue"`
}

// readUntil reads messages until one of the given type arrives
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) ([]received, received) {
	t.Helper()
	var seen []received
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg received
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("Failed waiting for %s (seen %+v): %v", msgType, seen, err)
		}
		if msg.Type == msgType {
			return seen, msg
		}
		seen = append(seen, msg)
	}
}

func energy(v float64) *float64 { return &v }

var chunk = base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4})

func TestServer_RecordingSessionEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)

	send(t, conn, ClientMessage{Type: MsgStart, SessionID: "session-e2e", TargetLanguage: "fr"})
	_, started := readUntil(t, conn, ReplySessionStarted)
	if started.SessionID != "session-e2e" {
		t.Fatalf("Expected session-e2e, got %s", started.SessionID)
	}

	// 1.6 s of speech then silence until the pause closes the segment at 2300 ms
	for ms := int64(0); ms <= 1500; ms += 100 {
		send(t, conn, ClientMessage{Type: MsgAudio, Energy: energy(80), Chunk: chunk, TimestampMs: baseTimestampMs + ms})
	}
	for ms := int64(1600); ms <= 2300; ms += 100 {
		send(t, conn, ClientMessage{Type: MsgAudio, Energy: energy(5), Chunk: chunk, TimestampMs: baseTimestampMs + ms})
	}

	before, translated := readUntil(t, conn, string(events.SegmentTranslated))
	if translated.TranslatedText != "bonjour" || translated.OriginalText != "good morning" || translated.TargetLanguage != "fr" {
		t.Errorf("Unexpected translated event: %+v", translated)
	}

	kinds := make(map[string]received)
	for _, msg := range before {
		kinds[msg.Type] = msg
	}
	if _, ok := kinds[string(events.SegmentStart)]; !ok {
		t.Error("Expected segmentStart broadcast")
	}
	end, ok := kinds[string(events.SegmentEnd)]
	if !ok {
		t.Fatal("Expected segmentEnd broadcast")
	}
	if end.DurationMs != 2300 || end.Discarded {
		t.Errorf("Expected a kept 2300 ms segment, got %+v", end)
	}
	if _, ok := kinds[string(events.SegmentTranscribed)]; !ok {
		t.Error("Expected segmentTranscribed broadcast")
	}

	// 16 voiced ticks plus 7 silent ticks before the closing one, 4 bytes each
	if got := atomic.LoadInt64(env.bytesSeen); got != 92 {
		t.Errorf("Expected 92 bytes of segment audio, got %d", got)
	}

	seg, ok := env.tracker.Segment("session-e2e", translated.SegmentID)
	if !ok {
		t.Fatal("Expected segment to be tracked")
	}
	if seg.State != tracker.StateTranslated {
		t.Errorf("Expected tracked state translated, got %s", seg.State)
	}

	send(t, conn, ClientMessage{Type: MsgStop, TimestampMs: baseTimestampMs + 2400})
	readUntil(t, conn, ReplySessionStopped)
	if env.tracker.IsLive("session-e2e") {
		t.Error("Expected session to be stopped")
	}
}

func TestServer_ComputesEnergyFromPCM(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)

	send(t, conn, ClientMessage{Type: MsgStart, SessionID: "session-pcm"})
	readUntil(t, conn, ReplySessionStarted)

	loud := make([]byte, 320)
	for i := 0; i < len(loud); i += 2 {
		binary.LittleEndian.PutUint16(loud[i:], uint16(int16(8000)))
	}
	send(t, conn, ClientMessage{
		Type:        MsgAudio,
		Chunk:       base64.StdEncoding.EncodeToString(loud),
		Encoding:    string(audio.EncodingPCM16),
		TimestampMs: baseTimestampMs,
	})

	_, start := readUntil(t, conn, string(events.SegmentStart))
	if start.SessionID != "session-pcm" || start.TargetLanguage != "zh" {
		t.Errorf("Expected segment start with default target zh, got %+v", start)
	}

	send(t, conn, ClientMessage{Type: MsgStatus, TimestampMs: baseTimestampMs + 500})
	_, status := readUntil(t, conn, ReplyStatus)
	if status.Segmenter == nil || !status.Segmenter.IsVoiceActive || status.Segmenter.SegmentDurationMs != 500 {
		t.Errorf("Expected active segment of 500 ms, got %+v", status.Segmenter)
	}
	if status.Queue == nil {
		t.Error("Expected queue status in reply")
	}

	// Stopping before the minimum duration discards the segment
	send(t, conn, ClientMessage{Type: MsgStop, TimestampMs: baseTimestampMs + 600})
	_, end := readUntil(t, conn, string(events.SegmentEnd))
	if !end.Discarded {
		t.Errorf("Expected discarded segment on early stop, got %+v", end)
	}
}

func TestServer_UnstampedStopKeepsClientClock(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)

	send(t, conn, ClientMessage{Type: MsgStart, SessionID: "session-stamped", TimestampMs: 1000})
	readUntil(t, conn, ReplySessionStarted)
	for ms := int64(1100); ms <= 1300; ms += 100 {
		send(t, conn, ClientMessage{Type: MsgAudio, Energy: energy(80), Chunk: chunk, TimestampMs: ms})
	}

	// No timestamp: the segment must be measured on the client's clock
	send(t, conn, ClientMessage{Type: MsgStop})
	_, end := readUntil(t, conn, string(events.SegmentEnd))
	if !end.Discarded || end.DurationMs != 200 {
		t.Errorf("Expected a discarded 200 ms segment, got %+v", end)
	}
	readUntil(t, conn, ReplySessionStopped)
	if n := env.pipeline.QueueStatus().TotalActive; n != 0 {
		t.Errorf("Expected nothing submitted, got %d active jobs", n)
	}
}

func TestServer_DisconnectKeepsClientClock(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)

	send(t, conn, ClientMessage{Type: MsgStart, SessionID: "session-gone", TimestampMs: baseTimestampMs})
	readUntil(t, conn, ReplySessionStarted)
	for ms := int64(0); ms <= 300; ms += 100 {
		send(t, conn, ClientMessage{Type: MsgAudio, Energy: energy(80), Chunk: chunk, TimestampMs: baseTimestampMs + ms})
	}
	_, start := readUntil(t, conn, string(events.SegmentStart))
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	var state tracker.SegmentState
	for time.Now().Before(deadline) {
		if seg, ok := env.tracker.Segment("session-gone", start.SegmentID); ok {
			state = seg.State
			if state == tracker.StateDiscarded {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	if state != tracker.StateDiscarded {
		t.Errorf("Expected short segment discarded on disconnect, got %q", state)
	}
	if env.tracker.IsLive("session-gone") {
		t.Error("Expected session stopped on disconnect")
	}
}

// lockedBuffer is written by the connection goroutine and read by the test
type lockedBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestServer_SessionLogsUseServerLogger(t *testing.T) {
	var logs lockedBuffer
	env := newTestEnvWithLogger(t, zerolog.New(&logs))
	conn := env.dial(t)

	send(t, conn, ClientMessage{Type: MsgStart, SessionID: "session-log"})
	readUntil(t, conn, ReplySessionStarted)
	send(t, conn, ClientMessage{Type: MsgStop})
	readUntil(t, conn, ReplySessionStopped)

	out := logs.String()
	for _, want := range []string{`"correlation_id":"session-log"`, `"component":"transport"`, "Recording session stopped"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected server logger output to contain %s, got:\n%s", want, out)
		}
	}
}

func TestServer_RejectsInvalidMessages(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)

	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{"malformed json", `{"type":`, "invalid message"},
		{"unknown type", `{"type":"dance"}`, "unknown message type"},
		{"audio before start", `{"type":"audio","energy":50}`, errNotRecording.Error()},
		{"stop before start", `{"type":"stop"}`, errNotRecording.Error()},
		{"unsupported target", `{"type":"start","targetLanguage":"xx"}`, "unsupported target language"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(tt.payload)); err != nil {
				t.Fatalf("Failed to send: %v", err)
			}
			_, reply := readUntil(t, conn, ReplyError)
			if !strings.Contains(reply.Message, tt.want) {
				t.Errorf("Expected error containing %q, got %q", tt.want, reply.Message)
			}
		})
	}

	send(t, conn, ClientMessage{Type: MsgStart})
	_, started := readUntil(t, conn, ReplySessionStarted)
	if started.SessionID == "" {
		t.Error("Expected generated session id")
	}
	send(t, conn, ClientMessage{Type: MsgStart})
	_, reply := readUntil(t, conn, ReplyError)
	if reply.Message != errAlreadyRecording.Error() {
		t.Errorf("Expected %q, got %q", errAlreadyRecording.Error(), reply.Message)
	}
	send(t, conn, ClientMessage{Type: MsgAudio, Chunk: chunk, Encoding: string(audio.EncodingOpaque)})
	readUntil(t, conn, ReplyError)
}

func TestServer_ConfigUpdate(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)

	maxMs := int64(500)
	send(t, conn, ClientMessage{Type: MsgConfig, Segmenter: &SegmenterOverrides{MaxSegmentMs: &maxMs}})
	_, reply := readUntil(t, conn, ReplyError)
	if !strings.Contains(reply.Message, "max") {
		t.Errorf("Expected validation error about max duration, got %q", reply.Message)
	}

	// Defaults would hold the segment open until 1100 ms
	minMs, pauseMs, frames := int64(200), int64(200), 2
	send(t, conn, ClientMessage{Type: MsgConfig, Segmenter: &SegmenterOverrides{
		MinSegmentMs:             &minMs,
		PauseDetectionMs:         &pauseMs,
		ConsecutiveSilenceFrames: &frames,
	}})
	readUntil(t, conn, ReplyConfigUpdated)

	send(t, conn, ClientMessage{Type: MsgStart, SessionID: "session-cfg"})
	readUntil(t, conn, ReplySessionStarted)
	for ms := int64(0); ms <= 300; ms += 100 {
		send(t, conn, ClientMessage{Type: MsgAudio, Energy: energy(90), Chunk: chunk, TimestampMs: baseTimestampMs + ms})
	}
	for ms := int64(400); ms <= 1200; ms += 100 {
		send(t, conn, ClientMessage{Type: MsgAudio, Energy: energy(0), TimestampMs: baseTimestampMs + ms})
	}

	_, end := readUntil(t, conn, string(events.SegmentEnd))
	if end.Discarded || end.DurationMs != 500 {
		t.Errorf("Expected a kept 500 ms segment with lowered minimum, got %+v", end)
	}
}

func TestServer_HTTPEndpoints(t *testing.T) {
	env := newTestEnv(t)
	if err := env.tracker.StartSession("s-http", tracker.SessionOptions{TargetLanguage: "ja"}); err != nil {
		t.Fatalf("Failed to start session: %v", err)
	}
	env.tracker.TrackSegment("s-http", "segment_1_1", "")

	resp, err := http.Get(env.http.URL + "/api/queue-status")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	var status pipeline.QueueStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("Failed to decode queue status: %v", err)
	}
	resp.Body.Close()
	if status.MaxConcurrentJobs != 2 {
		t.Errorf("Expected maxConcurrentJobs 2, got %d", status.MaxConcurrentJobs)
	}

	resp, err = http.Get(env.http.URL + "/api/sessions/s-http")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	var body sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode session: %v", err)
	}
	resp.Body.Close()
	if body.Session.ID != "s-http" || len(body.Segments) != 1 || body.Segments[0].TargetLanguage != "ja" {
		t.Errorf("Unexpected session response: %+v", body)
	}

	resp, err = http.Get(env.http.URL + "/api/sessions/missing")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}

	resp, err = http.Get(env.http.URL + "/api/sessions")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	var sessions []tracker.Session
	if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
		t.Fatalf("Failed to decode sessions: %v", err)
	}
	resp.Body.Close()
	if len(sessions) != 1 {
		t.Errorf("Expected 1 session, got %d", len(sessions))
	}
}

func TestHub_BroadcastReachesAllClients(t *testing.T) {
	env := newTestEnv(t)
	first := env.dial(t)
	second := env.dial(t)

	deadline := time.Now().Add(2 * time.Second)
	for env.server.Hub().Count() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if env.server.Hub().Count() != 2 {
		t.Fatalf("Expected 2 connected clients, got %d", env.server.Hub().Count())
	}

	env.server.bus.Publish(events.Event{Kind: events.SegmentError, SessionID: "s", SegmentID: "x", Error: "boom", Stage: "translation"})

	for _, conn := range []*websocket.Conn{first, second} {
		_, msg := readUntil(t, conn, string(events.SegmentError))
		if msg.SegmentID != "x" {
			t.Errorf("Expected broadcast for segment x, got %+v", msg)
		}
	}
}
