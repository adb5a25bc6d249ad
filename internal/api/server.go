package api

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/momo-shadow/shadow-engine/internal/auth"
	"github.com/momo-shadow/shadow-engine/internal/config"
	"github.com/momo-shadow/shadow-engine/internal/metrics"
	"github.com/momo-shadow/shadow-engine/internal/models"
	"github.com/momo-shadow/shadow-engine/internal/recon"
	"github.com/momo-shadow/shadow-engine/internal/storage"
	"github.com/momo-shadow/shadow-engine/internal/validation"
)

// Engine is the capture controller as seen by the API
type Engine interface {
	Snapshot() *models.Snapshot
	SetMode(ctx context.Context, mode models.Mode, target *models.Target) error
	SetTarget(ctx context.Context, target models.Target) error
	StartCapture(ctx context.Context) error
	StopCapture(ctx context.Context) error
	SendDeauth(ctx context.Context, req recon.DeauthRequest) error
	Reset(ctx context.Context) error
}

// Option configures optional server collaborators
type Option func(*RESTServer)

// WithStore serves persisted history; without it only live listings are available
func WithStore(store storage.Store) Option {
	return func(s *RESTServer) { s.store = store }
}

// WithMetrics records HTTP metrics and serves gatherer on the metrics path
func WithMetrics(rec *metrics.Recorder, gatherer prometheus.Gatherer) Option {
	return func(s *RESTServer) {
		s.metrics = rec
		s.gatherer = gatherer
	}
}

// RESTServer represents the REST API server
type RESTServer struct {
	config    *config.Config
	engine    Engine
	store     storage.Store
	auth      *auth.JWTManager
	validator *validation.Validator
	limiter   *rate.Limiter
	metrics   *metrics.Recorder
	gatherer  prometheus.Gatherer
	router    chi.Router
	server    *http.Server
}

// NewRESTServer creates a new REST API server
func NewRESTServer(cfg *config.Config, engine Engine, opts ...Option) *RESTServer {
	s := &RESTServer{
		config:    cfg,
		engine:    engine,
		auth:      auth.NewJWTManager(cfg.Auth),
		validator: validation.NewValidator(),
		limiter:   rate.NewLimiter(rate.Limit(cfg.API.RateLimit), cfg.API.RateBurst),
		router:    chi.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the root handler
func (s *RESTServer) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all routes
func (s *RESTServer) setupRoutes() {
	// Middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))
	if s.metrics != nil {
		s.router.Use(s.metricsMiddleware)
	}

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.API.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// API routes
	s.router.Route("/api/v1", func(r chi.Router) {
		s.setupAPIRoutes(r)
	})

	if s.config.Metrics.Enabled && s.gatherer != nil {
		s.router.Handle(s.config.Metrics.Path, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

// ListenAndServe starts the server
func (s *RESTServer) ListenAndServe(addr string) error {
	s.server.Addr = addr

	// 挂载静态文件服务 (Web UI)
	if webDir := s.config.API.StaticDir; webDir != "" {
		if _, err := os.Stat(webDir); os.IsNotExist(err) {
			log.Warn().Str("dir", webDir).Msg("Web directory not found, Web UI will not be available")
		} else {
			log.Info().Str("dir", webDir).Msg("Serving Web UI from directory")
			s.server.Handler = s.withStatic(webDir)
		}
	}

	log.Info().Str("addr", addr).Msg("Starting REST API server")
	return s.server.ListenAndServe()
}

// withStatic serves the dashboard for every non-API path
func (s *RESTServer) withStatic(webDir string) http.Handler {
	fs := http.FileServer(http.Dir(webDir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// API 路径由 chi 路由处理
		if strings.HasPrefix(r.URL.Path, "/api/") || r.URL.Path == s.config.Metrics.Path {
			s.router.ServeHTTP(w, r)
			return
		}

		// 没有扩展名的路径返回 index.html
		if !strings.Contains(filepath.Base(r.URL.Path), ".") {
			http.ServeFile(w, r, filepath.Join(webDir, "index.html"))
			return
		}

		fs.ServeHTTP(w, r)
	})
}

// Shutdown gracefully shuts down the server
func (s *RESTServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
