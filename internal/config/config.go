package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/lexiqai/segment-translator/internal/audio"
	"github.com/lexiqai/segment-translator/internal/translate"
)

// Transcription backends
const (
	ProviderOpenAI   = "openai" // OpenAI-compatible Whisper endpoint (Groq by default)
	ProviderDeepgram = "deepgram"
)

// Config holds all configuration for the segment translator service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Public base URL for this service, used only when logging the WebSocket endpoint.
	// If unset, logs ws://localhost:PORT/ws.
	PublicURL string `envconfig:"PUBLIC_URL" default:""`

	// Capability backends
	TranscriptionProvider string  `envconfig:"TRANSCRIPTION_PROVIDER" default:"openai"` // openai, deepgram
	GroqAPIKey            string  `envconfig:"GROQ_API_KEY"`
	OpenAIBaseURL         string  `envconfig:"OPENAI_BASE_URL" default:"https://api.groq.com/openai/v1"`
	TranscriptionModel    string  `envconfig:"TRANSCRIPTION_MODEL" default:"whisper-large-v3-turbo"`
	TranslationModel      string  `envconfig:"TRANSLATION_MODEL" default:"openai/gpt-oss-20b"`
	TranslationTemp       float32 `envconfig:"TRANSLATION_TEMPERATURE" default:"0.1"`
	CapabilityTimeout     int     `envconfig:"CAPABILITY_TIMEOUT" default:"60"` // seconds, per HTTP request

	// Deepgram STT API configuration (TRANSCRIPTION_PROVIDER=deepgram)
	DeepgramAPIKey string `envconfig:"DEEPGRAM_API_KEY"`
	DeepgramModel  string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`

	// Session defaults applied when a client does not choose
	DefaultTargetLanguage string `envconfig:"DEFAULT_TARGET_LANGUAGE" default:"zh"`

	// Segmenter configuration
	SilenceThreshold         float64 `envconfig:"SILENCE_THRESHOLD" default:"30"`         // Energy on a 0-255 scale
	PauseDetectionMs         int     `envconfig:"PAUSE_DETECTION_MS" default:"800"`       // Silence that ends an utterance
	MinSegmentMs             int     `envconfig:"MIN_SEGMENT_MS" default:"1000"`          // Shorter segments are discarded
	MaxSegmentMs             int     `envconfig:"MAX_SEGMENT_MS" default:"30000"`         // Hard ceiling per segment
	ConsecutiveSilenceFrames int     `envconfig:"CONSECUTIVE_SILENCE_FRAMES" default:"8"` // Silent ticks before voice is inactive
	PreRollBytes             int     `envconfig:"PRE_ROLL_BYTES" default:"0"`             // Audio kept from before segment start
	PayloadFormat            string  `envconfig:"PAYLOAD_FORMAT" default:"raw"`           // raw, wav
	RawExtension             string  `envconfig:"RAW_EXTENSION" default:".webm"`          // Filename extension for raw payloads
	SampleRate               int     `envconfig:"SAMPLE_RATE" default:"16000"`            // PCM sample rate for wav payloads
	SegmenterProfile         string  `envconfig:"SEGMENTER_PROFILE" default:""`           // Optional YAML overlay

	// Pipeline configuration
	MaxConcurrentJobs  int    `envconfig:"MAX_CONCURRENT_JOBS" default:"3"`    // Per stage
	DispatchIntervalMs int    `envconfig:"DISPATCH_INTERVAL_MS" default:"100"` // Fallback dispatch tick
	PayloadSpillDir    string `envconfig:"PAYLOAD_SPILL_DIR" default:""`       // Write segments to temp files here when set

	// Session tracking
	SessionTTL      int `envconfig:"SESSION_TTL" default:"600"`     // Seconds a stopped session is kept
	CleanupInterval int `envconfig:"CLEANUP_INTERVAL" default:"60"` // Seconds between prune passes

	// Transport
	WSMaxMessageBytes int64 `envconfig:"WS_MAX_MESSAGE_BYTES" default:"1048576"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum attempts per capability call
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
	GRPCHealthPort string `envconfig:"GRPC_HEALTH_PORT" default:""`    // Serve gRPC health checks when set
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks required keys and value ranges
func (c *Config) Validate() error {
	// Translation always goes through the OpenAI-compatible endpoint
	if c.GroqAPIKey == "" {
		return fmt.Errorf("GROQ_API_KEY is required")
	}

	switch c.TranscriptionProvider {
	case ProviderOpenAI:
	case ProviderDeepgram:
		if c.DeepgramAPIKey == "" {
			return fmt.Errorf("DEEPGRAM_API_KEY is required when TRANSCRIPTION_PROVIDER=deepgram")
		}
	default:
		return fmt.Errorf("unknown TRANSCRIPTION_PROVIDER %q (want %s or %s)", c.TranscriptionProvider, ProviderOpenAI, ProviderDeepgram)
	}

	if !translate.IsKnownLanguage(c.DefaultTargetLanguage) {
		return fmt.Errorf("unsupported DEFAULT_TARGET_LANGUAGE %q", c.DefaultTargetLanguage)
	}

	if c.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_JOBS must be positive, got %d", c.MaxConcurrentJobs)
	}
	if c.DispatchIntervalMs <= 0 {
		return fmt.Errorf("DISPATCH_INTERVAL_MS must be positive, got %d", c.DispatchIntervalMs)
	}

	if _, err := c.Segmenter(); err != nil {
		return err
	}

	return nil
}

// Segmenter builds the segmenter configuration from the environment values,
// overlaid with the YAML profile when SEGMENTER_PROFILE is set.
func (c *Config) Segmenter() (audio.SegmenterConfig, error) {
	seg := audio.SegmenterConfig{
		SilenceThreshold:         c.SilenceThreshold,
		PauseDetectionTime:       time.Duration(c.PauseDetectionMs) * time.Millisecond,
		MinSegmentDuration:       time.Duration(c.MinSegmentMs) * time.Millisecond,
		MaxSegmentDuration:       time.Duration(c.MaxSegmentMs) * time.Millisecond,
		ConsecutiveSilenceFrames: c.ConsecutiveSilenceFrames,
		PreRollBytes:             c.PreRollBytes,
		PayloadFormat:            audio.PayloadFormat(c.PayloadFormat),
		RawExtension:             c.RawExtension,
		SampleRate:               c.SampleRate,
	}

	if c.SegmenterProfile != "" {
		var err error
		seg, err = LoadSegmenterProfile(c.SegmenterProfile, seg)
		if err != nil {
			return seg, err
		}
	}

	if err := seg.Validate(); err != nil {
		return seg, fmt.Errorf("invalid segmenter settings: %w", err)
	}
	return seg, nil
}

// segmenterProfile is the YAML document layout of a segmenter profile
type segmenterProfile struct {
	Segmenter audio.SegmenterConfig `yaml:"segmenter"`
}

// LoadSegmenterProfile reads a YAML profile and overlays the keys it sets onto base.
//
//	segmenter:
//	  silence_threshold: 25
//	  pause_detection_time: 600ms
//	  max_segment_duration: 15s
func LoadSegmenterProfile(path string, base audio.SegmenterConfig) (audio.SegmenterConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("failed to read segmenter profile: %w", err)
	}

	// Keys absent from the document keep their base values
	profile := segmenterProfile{Segmenter: base}
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return base, fmt.Errorf("failed to parse segmenter profile %s: %w", path, err)
	}
	return profile.Segmenter, nil
}

// PipelineDispatchInterval returns the fallback dispatch tick
func (c *Config) PipelineDispatchInterval() time.Duration {
	return time.Duration(c.DispatchIntervalMs) * time.Millisecond
}
