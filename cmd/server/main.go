package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lexiqai/segment-translator/internal/config"
	"github.com/lexiqai/segment-translator/internal/events"
	"github.com/lexiqai/segment-translator/internal/observability"
	"github.com/lexiqai/segment-translator/internal/pipeline"
	"github.com/lexiqai/segment-translator/internal/resilience"
	"github.com/lexiqai/segment-translator/internal/stt"
	"github.com/lexiqai/segment-translator/internal/tracker"
	"github.com/lexiqai/segment-translator/internal/translate"
	"github.com/lexiqai/segment-translator/internal/transport"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	segmenterCfg, err := cfg.Segmenter()
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid segmenter configuration")
	}

	logger.Info().
		Str("port", cfg.Port).
		Str("transcription_provider", cfg.TranscriptionProvider).
		Str("translation_model", cfg.TranslationModel).
		Int("max_concurrent_jobs", cfg.MaxConcurrentJobs).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Segment translator starting")

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	bus := events.NewBus(observability.Component("events"))

	sessions := tracker.New(observability.Component("tracker"))
	sessions.Attach(bus)
	sessions.StartCleanup(rootCtx,
		time.Duration(cfg.CleanupInterval)*time.Second,
		time.Duration(cfg.SessionTTL)*time.Second)

	timeout := time.Duration(cfg.CapabilityTimeout) * time.Second
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = cfg.RetryMaxAttempts
	retry.InitialBackoff = time.Duration(cfg.RetryInitialBackoff) * time.Millisecond
	resetTimeout := time.Duration(cfg.CircuitBreakerResetTimeout) * time.Second

	// The OpenAI-compatible endpoint serves translation and, by default, transcription
	whisper := stt.NewOpenAITranscriber(stt.OpenAIConfig{
		APIKey:  cfg.GroqAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.TranscriptionModel,
		Timeout: timeout,
	}, observability.GetLogger())

	var backend stt.Transcriber = whisper
	if cfg.TranscriptionProvider == config.ProviderDeepgram {
		backend = stt.NewDeepgramTranscriber(stt.DeepgramConfig{
			APIKey: cfg.DeepgramAPIKey,
			Model:  cfg.DeepgramModel,
		}, observability.GetLogger())
	}

	sttBreaker := resilience.NewCircuitBreaker("stt_"+cfg.TranscriptionProvider, cfg.CircuitBreakerMaxFailures, resetTimeout)
	transcriber := stt.NewResilientTranscriber(backend, sttBreaker, retry, observability.GetLogger())

	translationBreaker := resilience.NewCircuitBreaker("translation", cfg.CircuitBreakerMaxFailures, resetTimeout)
	translator := translate.NewResilientTranslator(
		translate.NewOpenAITranslator(translate.OpenAIConfig{
			APIKey:      cfg.GroqAPIKey,
			BaseURL:     cfg.OpenAIBaseURL,
			Model:       cfg.TranslationModel,
			Temperature: cfg.TranslationTemp,
			Timeout:     timeout,
		}, observability.GetLogger()),
		translationBreaker, retry, observability.GetLogger())

	segmentPipeline, err := pipeline.New(pipeline.Config{
		MaxConcurrentJobs: cfg.MaxConcurrentJobs,
		DispatchInterval:  cfg.PipelineDispatchInterval(),
		SpillDir:          cfg.PayloadSpillDir,
	}, transcriber, translator, bus, pipeline.WithLogger(observability.GetLogger()))
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create pipeline")
	}
	segmentPipeline.Start()

	server := transport.NewServer(transport.Options{
		Segmenter:             segmenterCfg,
		DefaultTargetLanguage: cfg.DefaultTargetLanguage,
		MaxMessageBytes:       cfg.WSMaxMessageBytes,
	}, segmentPipeline, sessions, bus, observability.GetLogger())

	mux := http.NewServeMux()
	server.Routes(mux)

	mux.HandleFunc("/health", observability.HealthCheckHandler())

	// Readiness probes the shared endpoint and reports open circuits as not ready
	checks := map[string]observability.HealthCheckFunc{
		"openai_endpoint":     whisper.Ping,
		"stt_circuit":         breakerCheck(sttBreaker),
		"translation_circuit": breakerCheck(translationBreaker),
	}
	mux.HandleFunc("/ready", observability.ReadinessHandler(checks))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	var grpcHealth *observability.GRPCHealthServer
	if cfg.GRPCHealthPort != "" {
		grpcHealth, err = observability.NewGRPCHealthServer(":" + cfg.GRPCHealthPort)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create gRPC health server")
		}
		go grpcHealth.WatchReadiness(rootCtx, 15*time.Second, checks)
		go func() {
			logger.Info().Str("addr", grpcHealth.Addr()).Msg("gRPC health server listening")
			if err := grpcHealth.Serve(); err != nil {
				logger.Error().Err(err).Msg("gRPC health server stopped")
			}
		}()
	}

	// WriteTimeout stays unset: WebSocket connections are long-lived
	httpServer := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		endpoint := fmt.Sprintf("ws://localhost:%s/ws", cfg.Port)
		if cfg.PublicURL != "" {
			endpoint = cfg.PublicURL + "/ws"
		}
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", endpoint).
			Msg("Server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server forced to shutdown")
	}
	server.Hub().CloseAll()

	// In-flight segments get the rest of the shutdown window
	if err := segmentPipeline.Close(ctx); err != nil {
		logger.Warn().Err(err).Msg("Pipeline closed before all jobs finished")
	}

	cancelRoot()
	if grpcHealth != nil {
		grpcHealth.Stop()
	}

	logger.Info().Msg("Server exited gracefully")
}

// breakerCheck reports an open circuit as not ready
func breakerCheck(cb *resilience.CircuitBreaker) observability.HealthCheckFunc {
	return func(ctx context.Context) (bool, error) {
		if cb.GetState() != resilience.StateOpen {
			return true, nil
		}
		stats := cb.Stats()
		return false, fmt.Errorf("circuit %s open after %d consecutive failures (%.1f%% of %d calls failed)",
			stats.Name, stats.ConsecutiveFailures, stats.FailureRate(), stats.Requests)
	}
}
