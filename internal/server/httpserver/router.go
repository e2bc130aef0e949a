package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/yndnr/annomesh-go/internal/server/httpserver/handler"
	"github.com/yndnr/annomesh-go/internal/telemetry/logger"
	"github.com/yndnr/annomesh-go/internal/telemetry/metric"
	"github.com/yndnr/annomesh-go/internal/telemetry/tracer"
)

// RouterConfig holds configuration for the HTTP router.
type RouterConfig struct {
	// Sessions backs the /v1 admin API.
	Sessions handler.SessionService

	// Gateway serves WebSocket upgrades on /ws. Nil disables the route.
	Gateway http.Handler

	// Ready backs GET /ready. Nil means always ready.
	Ready handler.ReadyFunc

	// Metrics records request metrics and serves MetricsPath.
	Metrics *metric.Registry

	// MetricsPath is where the Prometheus handler is mounted. Empty disables it.
	MetricsPath string

	// Logger for request logging.
	Logger *slog.Logger

	// CORSAllowedOrigins is the list of allowed CORS origins (empty = allow all).
	CORSAllowedOrigins []string

	// RateLimit is the per client IP limit on /v1 in requests per second.
	// Zero disables it.
	RateLimit float64
	RateBurst int

	// EnableAudit enables request logging and request metrics on /v1.
	EnableAudit bool

	// Tracer wraps every route except /ws and MetricsPath in a server
	// span. Nil disables tracing.
	Tracer *tracer.Provider
}

// DefaultRouterConfig returns default router configuration.
func DefaultRouterConfig() *RouterConfig {
	return &RouterConfig{
		MetricsPath: "/metrics",
		RateLimit:   100,
		RateBurst:   200,
		EnableAudit: true,
	}
}

// NewRouter creates and configures the HTTP router with all routes and middleware.
//
// Every route gets Recover and RequestID. /v1 adds CORS, RateLimit and Audit
// in that order. /ws stays out of Audit since a connection lives as long as
// the participant stays.
func NewRouter(cfg *RouterConfig) http.Handler {
	l := logger.OrDiscard(cfg.Logger)
	h := handler.New(cfg.Sessions,
		handler.WithReadyCheck(cfg.Ready),
		handler.WithLogger(l),
	)

	r := mux.NewRouter()
	r.NotFoundHandler = Chain(http.HandlerFunc(h.NotFound), Recover(l), RequestID())
	r.MethodNotAllowedHandler = Chain(http.HandlerFunc(h.MethodNotAllowed), Recover(l), RequestID())
	r.Use(mux.MiddlewareFunc(Recover(l)), mux.MiddlewareFunc(RequestID()))

	h.RegisterHealth(r)

	if cfg.MetricsPath != "" && cfg.Metrics != nil {
		r.Handle(cfg.MetricsPath, cfg.Metrics.Handler()).Methods(http.MethodGet)
	}

	if cfg.Gateway != nil {
		r.Handle("/ws", cfg.Gateway).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/v1").Subrouter()
	api.Use(mux.MiddlewareFunc(CORS(cfg.CORSAllowedOrigins)))
	if cfg.RateLimit > 0 {
		api.Use(mux.MiddlewareFunc(RateLimit(cfg.RateLimit, cfg.RateBurst)))
	}
	if cfg.EnableAudit {
		api.Use(mux.MiddlewareFunc(Audit(l, cfg.Metrics)))
	}
	h.RegisterAPI(api)

	return cfg.Tracer.HTTPHandler(r, "annomesh-http", func(req *http.Request) bool {
		return req.URL.Path == "/ws" || (cfg.MetricsPath != "" && req.URL.Path == cfg.MetricsPath)
	})
}
