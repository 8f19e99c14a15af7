package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/segment-translator/internal/audio"
	"github.com/lexiqai/segment-translator/internal/events"
	"github.com/lexiqai/segment-translator/internal/pipeline"
	"github.com/lexiqai/segment-translator/internal/tracker"
)

// Pipeline is the part of the segment pipeline the transport drives
type Pipeline interface {
	Submit(seg *pipeline.Segment) error
	QueueStatus() pipeline.QueueStatus
}

// Options configures the transport
type Options struct {
	Segmenter             audio.SegmenterConfig
	DefaultTargetLanguage string
	MaxMessageBytes       int64
	SendBuffer            int
}

// Server exposes recording sessions over WebSocket plus status endpoints
type Server struct {
	opts     Options
	pipeline Pipeline
	tracker  *tracker.Tracker
	bus      *events.Bus
	hub      *Hub
	upgrader websocket.Upgrader
	logger   zerolog.Logger
	now      func() time.Time
}

// NewServer creates the transport and starts broadcasting bus events
func NewServer(opts Options, p Pipeline, tr *tracker.Tracker, bus *events.Bus, logger zerolog.Logger) *Server {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	logger = logger.With().Str("component", "transport").Logger()

	hub := NewHub(logger)
	hub.Attach(bus)

	return &Server{
		opts:     opts,
		pipeline: p,
		tracker:  tr,
		bus:      bus,
		hub:      hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients are served from other origins during development
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
		now:    time.Now,
	}
}

// Hub returns the broadcast hub
func (s *Server) Hub() *Hub {
	return s.hub
}

// Routes registers the transport endpoints
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.HandleWS)
	mux.HandleFunc("GET /api/queue-status", s.HandleQueueStatus)
	mux.HandleFunc("GET /api/sessions", s.HandleSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.HandleSession)
}

// HandleWS runs one recording connection until the client disconnects
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
		return
	}
	if s.opts.MaxMessageBytes > 0 {
		conn.SetReadLimit(s.opts.MaxMessageBytes)
	}

	c := newClient(conn, s.opts.SendBuffer, s.logger)
	s.hub.register(c)
	go c.writeLoop()

	rec := newRecorder(s, c)
	defer func() {
		rec.close()
		s.hub.unregister(c)
	}()

	s.logger.Info().Str("remote_addr", r.RemoteAddr).Msg("WebSocket client connected")
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}
		rec.handle(data)
	}
}

// HandleQueueStatus reports pipeline queue depths
func (s *Server) HandleQueueStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pipeline.QueueStatus())
}

// HandleSessions lists tracked sessions
func (s *Server) HandleSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tracker.Sessions())
}

type sessionResponse struct {
	Session  tracker.Session   `json:"session"`
	Segments []tracker.Segment `json:"segments"`
}

// HandleSession returns one session and the state of its segments
func (s *Server) HandleSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	session, ok := s.tracker.Session(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": tracker.ErrSessionNotFound.Error()})
		return
	}
	segments, err := s.tracker.SessionSegments(id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, tracker.ErrSessionNotFound) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Session: session, Segments: segments})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
