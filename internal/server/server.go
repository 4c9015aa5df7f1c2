package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ssd-technologies/hardhat/internal/hub"
	"github.com/ssd-technologies/hardhat/internal/ingest"
	"github.com/ssd-technologies/hardhat/internal/metrics"
	"github.com/ssd-technologies/hardhat/internal/telemetry"
)

const maxBodyBytes = 1 << 20

// Config holds the HTTP-level settings.
type Config struct {
	StaticDir       string
	ClientBuffer    int
	IngestRateLimit int // per IP per minute; 0 disables
	WSRateLimit     int // per connection per minute; 0 disables
	SweepInterval   time.Duration
}

// Server is the HTTP and real-time surface of the ingest service.
type Server struct {
	svc     *ingest.Service
	hub     *hub.Hub
	cfg     Config
	limiter *rateLimiter
	logger  *zap.Logger
	metrics *metrics.Metrics
	mux     *http.ServeMux
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics sets the metrics sink and exposes it on /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New creates a new Server with all routes registered.
func New(svc *ingest.Service, h *hub.Hub, cfg Config, opts ...Option) *Server {
	s := &Server{
		svc:    svc,
		hub:    h,
		cfg:    cfg,
		logger: zap.NewNop(),
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if cfg.IngestRateLimit > 0 {
		s.limiter = newRateLimiter(cfg.IngestRateLimit, time.Minute)
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// routes registers all HTTP routes on the server mux.
func (s *Server) routes() {
	// Health
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	// Helmet ingest
	s.mux.HandleFunc("POST /api/sensor-data", s.rateLimited(s.handleSensorData))

	// Workers
	s.mux.HandleFunc("GET /api/workers", s.handleListWorkers)
	s.mux.HandleFunc("GET /api/worker/{workerId}", s.handleGetWorker)

	// Registrations
	s.mux.HandleFunc("POST /api/worker/register", s.handleRegister)
	s.mux.HandleFunc("GET /api/workers/info", s.handleListRegistrations)
	s.mux.HandleFunc("GET /api/workers/info/export", s.handleExportRegistrations)

	// Real-time
	s.mux.HandleFunc("GET /ws", s.handleRealtime)
	s.mux.HandleFunc("GET /socket", s.handleRealtime)

	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}
	if s.cfg.StaticDir != "" {
		s.mux.Handle("GET /", http.FileServer(http.Dir(s.cfg.StaticDir)))
	}
}

type healthResponse struct {
	Status  string           `json:"status"`
	Service string           `json:"service"`
	Phones  ingest.LinkStats `json:"phones"`
}

// handleHealth reports liveness and the phone-link counts.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Service: "hardhat",
		Phones:  s.svc.Links().Stats(),
	})
}

// decodePayload reads a loosely typed JSON object from the request body.
func decodePayload(w http.ResponseWriter, r *http.Request) (telemetry.Payload, error) {
	var p telemetry.Payload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&p); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	if p == nil {
		p = telemetry.Payload{}
	}
	return p, nil
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
