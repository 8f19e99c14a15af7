package main

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/segment-translator/internal/audio"
)

// trace builds samples every 100ms, voiced while from <= offset < to
func trace(endMs int, voiced ...[2]int) []Sample {
	var samples []Sample
	for ms := 0; ms <= endMs; ms += 100 {
		energy := 0.0
		for _, span := range voiced {
			if ms >= span[0] && ms < span[1] {
				energy = 120
			}
		}
		samples = append(samples, Sample{Offset: time.Duration(ms) * time.Millisecond, Energy: energy})
	}
	return samples
}

func TestParseTrace(t *testing.T) {
	input := `# offset_ms energy
0 12.5
100,80

200	0
`
	samples, err := ParseTrace(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(samples) != 3 {
		t.Fatalf("Expected 3 samples, got %d", len(samples))
	}
	if samples[1].Offset != 100*time.Millisecond || samples[1].Energy != 80 {
		t.Errorf("Expected 100ms/80, got %v/%v", samples[1].Offset, samples[1].Energy)
	}
}

func TestParseTrace_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"missing energy", "100\n"},
		{"bad offset", "abc 10\n"},
		{"bad energy", "100 loud\n"},
		{"backwards", "200 10\n100 10\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseTrace(strings.NewReader(tt.input)); err == nil {
				t.Errorf("Expected error for %q", tt.input)
			}
		})
	}
}

func TestReplay_PauseClosesSegment(t *testing.T) {
	rows, err := Replay(trace(2500, [2]int{0, 1600}), audio.DefaultSegmenterConfig(), 4, zerolog.Nop())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("Expected 1 segment, got %d", len(rows))
	}

	row := rows[0]
	if row.Result != "ready" {
		t.Errorf("Expected ready, got %s", row.Result)
	}
	if row.Start != 0 {
		t.Errorf("Expected start 0, got %v", row.Start)
	}
	// Eight silent samples from 1600ms, with 800ms since the last voiced one
	if row.Duration != 2300*time.Millisecond {
		t.Errorf("Expected duration 2300ms, got %v", row.Duration)
	}
	// Chunks written at 0..2200ms
	if row.Bytes != 92 {
		t.Errorf("Expected 92 bytes, got %d", row.Bytes)
	}
}

func TestReplay_TraceEndingEarlyDiscardsShortSegment(t *testing.T) {
	rows, err := Replay(trace(800, [2]int{0, 200}), audio.DefaultSegmenterConfig(), 4, zerolog.Nop())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("Expected 1 segment, got %d", len(rows))
	}
	if rows[0].Result != "discarded" {
		t.Errorf("Expected discarded, got %s", rows[0].Result)
	}
	if rows[0].Bytes != 0 {
		t.Errorf("Expected no bytes for a discarded segment, got %d", rows[0].Bytes)
	}
}

func TestReplay_MaxDurationForcesSplit(t *testing.T) {
	cfg := audio.DefaultSegmenterConfig()
	cfg.MinSegmentDuration = 500 * time.Millisecond
	cfg.MaxSegmentDuration = 2000 * time.Millisecond

	rows, err := Replay(trace(3000, [2]int{0, 3100}), cfg, 0, zerolog.Nop())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Expected 2 segments, got %d", len(rows))
	}

	if rows[0].Result != "forced" || rows[0].Duration != 2000*time.Millisecond {
		t.Errorf("Expected forced 2000ms segment, got %s %v", rows[0].Result, rows[0].Duration)
	}
	if rows[1].Start != 2000*time.Millisecond {
		t.Errorf("Expected second segment to reopen at 2000ms, got %v", rows[1].Start)
	}
	// Closed by the end of the trace
	if rows[1].Result != "ready" || rows[1].Duration != 1000*time.Millisecond {
		t.Errorf("Expected ready 1000ms segment, got %s %v", rows[1].Result, rows[1].Duration)
	}
}

func TestReplay_InvalidConfig(t *testing.T) {
	cfg := audio.DefaultSegmenterConfig()
	cfg.MaxSegmentDuration = cfg.MinSegmentDuration

	if _, err := Replay(nil, cfg, 0, zerolog.Nop()); err == nil {
		t.Error("Expected error for max <= min")
	}
}

func TestRenderTimeline(t *testing.T) {
	var buf bytes.Buffer
	RenderTimeline(&buf, []TimelineRow{
		{Index: 1, Start: 0, Duration: 2300 * time.Millisecond, Result: "ready", Bytes: 92},
		{Index: 2, Start: 4 * time.Second, Duration: 600 * time.Millisecond, Result: "discarded"},
	})

	out := buf.String()
	for _, want := range []string{"2300 ms", "ready", "discarded", "4.00 s", "92"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected output to contain %q, got:\n%s", want, out)
		}
	}

	buf.Reset()
	RenderTimeline(&buf, nil)
	if got := buf.String(); got != fmt.Sprintln("No segments detected.") {
		t.Errorf("Expected empty message, got %q", got)
	}
}
