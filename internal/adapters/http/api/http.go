// Package api serves the HTTP surface: event ingest, ranked match reads,
// correlation state and operational endpoints.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/okian/talentmatch/internal/adapters/http/swagger"
	"github.com/okian/talentmatch/internal/domain/model"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

const (
	defaultMaxLimit     = 100
	defaultLimit        = 20
	defaultMaxBodyBytes = 1 << 20
)

// Ingestor accepts one raw upstream event.
type Ingestor interface {
	Accept(ctx context.Context, raw []byte) (model.Event, error)
}

// Reader exposes stored results and correlation records.
type Reader interface {
	GetResult(ctx context.Context, key model.Key) (model.StoredResult, bool, error)
	ListByJob(ctx context.Context, jobID string, limit int) ([]model.MatchResult, error)
	Rank(ctx context.Context, key model.Key) (int, int, error)
	GetPending(ctx context.Context, key model.Key) (model.PendingCorrelation, bool, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler       *HealthHandler
	statsHandler        *StatsHandler
	eventsHandler       *EventsHandler
	matchesHandler      *MatchesHandler
	correlationsHandler *CorrelationsHandler
}

type serverConfig struct {
	maxLimit     int
	maxBodyBytes int64
	limiter      *rate.Limiter
}

// Option configures the Server.
type Option func(*serverConfig)

// WithMaxLimit caps the limit accepted by GET /matches/{jobId}.
func WithMaxLimit(n int) Option {
	return func(c *serverConfig) {
		if n > 0 {
			c.maxLimit = n
		}
	}
}

// WithMaxBodyBytes caps the size of a posted event.
func WithMaxBodyBytes(n int64) Option {
	return func(c *serverConfig) {
		if n > 0 {
			c.maxBodyBytes = n
		}
	}
}

// WithIngestRate limits POST /events. A rate of zero or less leaves it
// unlimited.
func WithIngestRate(perSecond float64, burst int) Option {
	return func(c *serverConfig) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(ingestor Ingestor, reader Reader, stats StatsProvider, opts ...Option) *Server {
	cfg := serverConfig{maxLimit: defaultMaxLimit, maxBodyBytes: defaultMaxBodyBytes}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		healthHandler:       NewHealthHandler(),
		statsHandler:        NewStatsHandler(stats),
		eventsHandler:       NewEventsHandler(ingestor, cfg.limiter, cfg.maxBodyBytes),
		matchesHandler:      NewMatchesHandler(reader, cfg.maxLimit),
		correlationsHandler: NewCorrelationsHandler(reader),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(ctx context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("POST /events", MetricsMiddleware(s.eventsHandler.HandlePostEvent, "events"))
	mux.HandleFunc("GET /matches/{jobId}", MetricsMiddleware(s.matchesHandler.HandleList, "matches_list"))
	mux.HandleFunc("GET /matches/{jobId}/{resumeId}", MetricsMiddleware(s.matchesHandler.HandleGet, "matches_get"))
	mux.HandleFunc("GET /correlations/{jobId}/{resumeId}", MetricsMiddleware(s.correlationsHandler.HandleGet, "correlations"))
	swagger.Register(ctx, mux)
}

// Handler returns the full route table wrapped with OpenTelemetry
// instrumentation.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	s.Register(ctx, mux)
	return otelhttp.NewHandler(mux, "talentmatch.http")
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeErrorDetails(w, err, nil)
}

func writeErrorDetails(w http.ResponseWriter, err error, details any) {
	status, code := statusFor(err)
	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, errorResponse{Code: code, Message: err.Error(), Details: details})
}
