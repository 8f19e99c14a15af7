package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline stage label values
const (
	StageTranscription = "transcription"
	StageTranslation   = "translation"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "segment_translator_active_sessions",
		Help: "Number of recording sessions in progress",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "segment_translator_sessions_total",
		Help: "Total number of recording sessions started",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "segment_translator_session_duration_seconds",
		Help:    "Duration of recording sessions in seconds",
		Buckets: []float64{5, 30, 60, 300, 600, 1800, 3600},
	})

	connectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "segment_translator_connected_clients",
		Help: "Number of connected WebSocket clients",
	})

	// Segmenter metrics
	segmentsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "segment_translator_segments_started_total",
		Help: "Total number of segments opened by the segmenter",
	})

	segmentsReady = promauto.NewCounter(prometheus.CounterOpts{
		Name: "segment_translator_segments_ready_total",
		Help: "Total number of segments handed to the pipeline",
	})

	segmentsDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "segment_translator_segments_discarded_total",
		Help: "Total number of segments discarded as too short",
	})

	segmentDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "segment_translator_segment_duration_seconds",
		Help:    "Duration of ready segments in seconds",
		Buckets: []float64{0.5, 1, 2, 5, 10, 15, 20, 30},
	})

	// Pipeline metrics
	stageRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segment_translator_stage_requests_total",
		Help: "Total number of pipeline stage jobs by outcome",
	}, []string{"stage", "status"})

	stageLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "segment_translator_stage_latency_seconds",
		Help:    "Pipeline stage job latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	}, []string{"stage"})

	queuePending = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "segment_translator_queue_pending",
		Help: "Items waiting in each pipeline queue",
	}, []string{"stage"})

	queueActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "segment_translator_queue_active",
		Help: "Jobs in flight for each pipeline queue",
	}, []string{"stage"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segment_translator_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "segment_translator_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segment_translator_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segment_translator_audio_bytes_total",
		Help: "Total audio bytes received from clients",
	}, []string{"encoding"})
)

// SessionMetrics tracks metrics for a single recording session
type SessionMetrics struct {
	sessionID string
	startTime time.Time
	ended     bool
	mu        sync.Mutex
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(sessionID string) *SessionMetrics {
	return &SessionMetrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *SessionMetrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a session. Repeated calls are ignored.
func (m *SessionMetrics) RecordSessionEnd() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ended {
		return
	}
	m.ended = true
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordAudioBytes records audio bytes received
func (m *SessionMetrics) RecordAudioBytes(encoding string, bytes int) {
	audioBytesReceived.WithLabelValues(encoding).Add(float64(bytes))
}

// RecordError records an error
func (m *SessionMetrics) RecordError(errorType, component string) {
	RecordError(errorType, component)
}

// RecordSegmentStarted counts a segment opened by the segmenter
func RecordSegmentStarted() {
	segmentsStarted.Inc()
}

// RecordSegmentReady counts a segment handed to the pipeline
func RecordSegmentReady(duration time.Duration) {
	segmentsReady.Inc()
	segmentDuration.Observe(duration.Seconds())
}

// RecordSegmentDiscarded counts a segment dropped for being too short
func RecordSegmentDiscarded() {
	segmentsDiscarded.Inc()
}

// StageTimer measures one pipeline stage job
type StageTimer struct {
	stage string
	start time.Time
}

// StartStage starts timing a stage job
func StartStage(stage string) *StageTimer {
	return &StageTimer{stage: stage, start: time.Now()}
}

// End records the job latency and outcome
func (t *StageTimer) End(success bool) {
	stageLatency.WithLabelValues(t.stage).Observe(time.Since(t.start).Seconds())

	status := "success"
	if !success {
		status = "error"
	}
	stageRequests.WithLabelValues(t.stage, status).Inc()
}

// UpdateQueueDepth publishes the pending and in-flight counts of a stage queue
func UpdateQueueDepth(stage string, pending, active int) {
	queuePending.WithLabelValues(stage).Set(float64(pending))
	queueActive.WithLabelValues(stage).Set(float64(active))
}

// ClientConnected increments the connected client gauge
func ClientConnected() {
	connectedClients.Inc()
}

// ClientDisconnected decrements the connected client gauge
func ClientDisconnected() {
	connectedClients.Dec()
}

// RecordError records an error
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
