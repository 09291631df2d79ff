// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	service "github.com/okian/custseg/internal/app"
	"github.com/okian/custseg/internal/domain/customer"
	"github.com/okian/custseg/internal/domain/segmentation"
	"github.com/okian/custseg/pkg/logger"
	"github.com/okian/custseg/pkg/metrics"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultMaxBodyBytes   = 32 << 20
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	Predict(ctx context.Context, rows []customer.Row) ([]segmentation.Assignment, service.ModelInfo, error)
	PredictFeatures(ctx context.Context, records []customer.FeatureRecord) ([]int, service.ModelInfo, error)
	Model() (*segmentation.FittedPipeline, service.ModelInfo, error)
	Reload(ctx context.Context) (service.ModelInfo, error)
	Stats(ctx context.Context) service.Stats
}

// Server wires HTTP routes for the segmentation API.
type Server struct {
	healthHandler  *HealthHandler
	statsHandler   *StatsHandler
	predictHandler *PredictHandler
	reloadHandler  *ReloadHandler

	timeout time.Duration
	logger  logger.Logger
}

// Option applies a configuration option to the Server.
type Option func(*Server)

// WithRequestTimeout bounds the time a handler may spend on one request.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLogger sets a custom logger for request logging.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	s := &Server{
		healthHandler:  NewHealthHandler(deps),
		statsHandler:   NewStatsHandler(deps),
		predictHandler: NewPredictHandler(deps, defaultMaxBodyBytes),
		reloadHandler:  NewReloadHandler(deps),
		timeout:        defaultRequestTimeout,
		logger:         logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("http")
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", s.wrap(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/predict", s.wrap(s.predictHandler.HandlePredict, "predict"))
	mux.HandleFunc("/stats", s.wrap(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/reload", s.wrap(s.reloadHandler.HandleReload, "reload"))
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/", s.wrap(s.handleRoot, "root"))
}

// handleRoot dispatches the bare path by method: GET is a health check and
// POST is a prediction.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not_found", nil)
		return
	}
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		s.healthHandler.HandleHealth(w, r)
	case http.MethodPost:
		s.predictHandler.HandlePredict(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
	}
}

func (s *Server) wrap(h http.HandlerFunc, endpoint string) http.HandlerFunc {
	return MetricsMiddleware(RequestMiddleware(h, s.timeout, s.logger), endpoint)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
