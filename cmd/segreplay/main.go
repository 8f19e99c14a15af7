// Command segreplay replays a recorded energy trace through the segmenter and
// prints where segments would begin and end. It is used to tune thresholds
// offline before changing the server's configuration.
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/lexiqai/segment-translator/internal/audio"
	"github.com/lexiqai/segment-translator/internal/config"
	"github.com/lexiqai/segment-translator/internal/observability"
)

var (
	profilePath string
	chunkBytes  int
	logLevel    string

	threshold float64
	pauseMs   int
	minMs     int
	maxMs     int
	frames    int
)

var rootCmd = &cobra.Command{
	Use:   "segreplay [trace]",
	Short: "Replay an energy trace through the segmenter",
	Long: `Replay a trace of "<offset_ms> <energy>" lines through the voice activity
segmenter and print the resulting segment timeline. Reads stdin when the
trace is "-" or omitted.`,
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE:         runReplay,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&profilePath, "profile", "", "YAML segmenter profile to start from")
	flags.IntVar(&chunkBytes, "chunk-bytes", 320, "Audio bytes written per sample")
	flags.StringVar(&logLevel, "log-level", "warn", "Log level for segment callbacks")

	flags.Float64Var(&threshold, "threshold", 0, "Silence threshold (0-255)")
	flags.IntVar(&pauseMs, "pause-ms", 0, "Pause detection time in milliseconds")
	flags.IntVar(&minMs, "min-ms", 0, "Minimum segment duration in milliseconds")
	flags.IntVar(&maxMs, "max-ms", 0, "Maximum segment duration in milliseconds")
	flags.IntVar(&frames, "frames", 0, "Consecutive silent samples before voice is inactive")
}

func main() {
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runReplay(cmd *cobra.Command, args []string) error {
	logger := observability.NewLogger(cmd.ErrOrStderr(), logLevel, true)

	cfg, err := segmenterConfig(cmd)
	if err != nil {
		return err
	}

	var in io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open trace: %w", err)
		}
		defer f.Close()
		in = f
	}

	samples, err := ParseTrace(in)
	if err != nil {
		return err
	}
	logger.Debug().Int("samples", len(samples)).Msg("Trace loaded")

	rows, err := Replay(samples, cfg, chunkBytes, logger)
	if err != nil {
		return err
	}

	RenderTimeline(cmd.OutOrStdout(), rows)
	return nil
}

// segmenterConfig starts from the defaults, overlays the profile, then the
// flags the user actually set.
func segmenterConfig(cmd *cobra.Command) (audio.SegmenterConfig, error) {
	cfg := audio.DefaultSegmenterConfig()
	if profilePath != "" {
		var err error
		if cfg, err = config.LoadSegmenterProfile(profilePath, cfg); err != nil {
			return cfg, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("threshold") {
		cfg.SilenceThreshold = threshold
	}
	if flags.Changed("pause-ms") {
		cfg.PauseDetectionTime = time.Duration(pauseMs) * time.Millisecond
	}
	if flags.Changed("min-ms") {
		cfg.MinSegmentDuration = time.Duration(minMs) * time.Millisecond
	}
	if flags.Changed("max-ms") {
		cfg.MaxSegmentDuration = time.Duration(maxMs) * time.Millisecond
	}
	if flags.Changed("frames") {
		cfg.ConsecutiveSilenceFrames = frames
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid segmenter settings: %w", err)
	}
	return cfg, nil
}
