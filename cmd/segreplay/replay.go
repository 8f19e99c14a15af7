package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"

	"github.com/lexiqai/segment-translator/internal/audio"
)

// Sample is one energy reading at an offset from the start of the trace
type Sample struct {
	Offset time.Duration
	Energy float64
}

// TimelineRow describes one closed segment
type TimelineRow struct {
	Index    int
	Start    time.Duration
	Duration time.Duration
	Result   string // ready, forced, discarded
	Bytes    int64
}

// replayEpoch anchors trace offsets to wall-clock time
var replayEpoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// ParseTrace reads "<offset_ms> <energy>" lines. Commas also separate fields;
// blank lines and lines starting with # are skipped. Offsets must not decrease.
func ParseTrace(r io.Reader) ([]Sample, error) {
	var samples []Sample
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		fields := strings.Fields(strings.ReplaceAll(text, ",", " "))
		if len(fields) != 2 {
			return nil, fmt.Errorf("line %d: expected offset and energy, got %q", line, text)
		}
		offsetMs, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid offset %q", line, fields[0])
		}
		energy, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid energy %q", line, fields[1])
		}

		offset := time.Duration(offsetMs) * time.Millisecond
		if n := len(samples); n > 0 && offset < samples[n-1].Offset {
			return nil, fmt.Errorf("line %d: offset %dms goes backwards", line, offsetMs)
		}
		samples = append(samples, Sample{Offset: offset, Energy: energy})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read trace: %w", err)
	}
	return samples, nil
}

// Replay drives a segmenter with the samples, writing chunkBytes of audio per
// sample, and stops it at the last offset.
func Replay(samples []Sample, cfg audio.SegmenterConfig, chunkBytes int, logger zerolog.Logger) ([]TimelineRow, error) {
	var rows []TimelineRow
	starts := make(map[string]time.Time)
	sizes := make(map[string]int64)

	handler := audio.SegmentHandlerFuncs{
		Start: func(id string, startedAt time.Time) {
			starts[id] = startedAt
			logger.Debug().Str("segment_id", id).Dur("at", startedAt.Sub(replayEpoch)).Msg("Segment started")
		},
		Ready: func(seg audio.ReadySegment) {
			size, _ := seg.Payload.Size()
			sizes[seg.ID] = size
		},
		End: func(end audio.SegmentEnd) {
			result := "ready"
			switch {
			case end.Discarded:
				result = "discarded"
			case end.Forced:
				result = "forced"
			}
			rows = append(rows, TimelineRow{
				Index:    len(rows) + 1,
				Start:    starts[end.ID].Sub(replayEpoch),
				Duration: end.Duration,
				Result:   result,
				Bytes:    sizes[end.ID],
			})
			delete(starts, end.ID)
			delete(sizes, end.ID)
			logger.Debug().Str("segment_id", end.ID).Str("result", result).Dur("duration", end.Duration).Msg("Segment ended")
		},
	}

	segmenter, err := audio.NewSegmenter(cfg, handler)
	if err != nil {
		return nil, err
	}

	segmenter.Start(replayEpoch)
	chunk := make([]byte, chunkBytes)
	last := replayEpoch
	for _, s := range samples {
		last = replayEpoch.Add(s.Offset)
		segmenter.OnEnergySample(s.Energy, last)
		if chunkBytes > 0 {
			segmenter.Write(chunk)
		}
	}
	segmenter.Stop(last)

	return rows, nil
}

// RenderTimeline prints the rows as a table
func RenderTimeline(w io.Writer, rows []TimelineRow) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "No segments detected.")
		return
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"#", "Start", "Duration", "Result", "Bytes"})
	table.SetBorder(false)
	table.SetCenterSeparator("|")
	table.SetColumnSeparator("|")
	table.SetRowSeparator("-")
	table.SetAutoWrapText(false)

	for _, row := range rows {
		table.Append([]string{
			strconv.Itoa(row.Index),
			fmt.Sprintf("%.2f s", row.Start.Seconds()),
			fmt.Sprintf("%d ms", row.Duration.Milliseconds()),
			row.Result,
			strconv.FormatInt(row.Bytes, 10),
		})
	}
	table.Render()
}
