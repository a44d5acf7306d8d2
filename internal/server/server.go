// Package server wires the creditlens HTTP API together.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/mbd888/creditlens/internal/analysis"
	"github.com/mbd888/creditlens/internal/config"
	"github.com/mbd888/creditlens/internal/dashboard"
	"github.com/mbd888/creditlens/internal/health"
	"github.com/mbd888/creditlens/internal/identity"
	"github.com/mbd888/creditlens/internal/logging"
	"github.com/mbd888/creditlens/internal/metrics"
	"github.com/mbd888/creditlens/internal/ratelimit"
	"github.com/mbd888/creditlens/internal/realtime"
	"github.com/mbd888/creditlens/internal/retry"
	"github.com/mbd888/creditlens/internal/traces"
)

// Version is reported by the health and info endpoints.
const Version = "0.3.0"

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg         *config.Config
	db          *sqlx.DB      // nil if using in-memory users
	redis       *redis.Client // nil if using in-memory sessions
	identity    *identity.Service
	analyzer    analysis.Analyzer
	client      *analysis.Client
	hub         *realtime.Hub
	views       *dashboard.Registry
	health      *health.Registry
	rateLimiter *ratelimit.Limiter
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger
	drainDelay  time.Duration

	stopTracing  func(context.Context) error
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithAnalyzer replaces the HTTP analysis client (for testing)
func WithAnalyzer(a analysis.Analyzer) Option {
	return func(s *Server) {
		s.analyzer = a
	}
}

// WithDrainDelay sets how long Shutdown waits for load balancers to stop
// sending traffic before closing listeners.
func WithDrainDelay(d time.Duration) Option {
	return func(s *Server) {
		s.drainDelay = d
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		health:     health.NewRegistry(),
		drainDelay: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	users, err := s.openUserStore(ctx)
	if err != nil {
		return nil, err
	}
	tokens, err := s.openTokenStore(ctx)
	if err != nil {
		return nil, err
	}

	s.identity = identity.NewService(users, tokens,
		identity.WithSessionTTL(cfg.SessionTTL),
		identity.WithResolveTimeout(cfg.ResolveTimeout),
		identity.WithSignInRate(cfg.SignInRatePerMinute),
		identity.WithLogger(s.logger),
	)

	s.client = analysis.NewClient(cfg.AnalysisURL, cfg.AnalysisTimeout, s.logger)
	if s.analyzer == nil {
		s.analyzer = s.client
	}
	s.health.RegisterPing("analysis", s.client.Ping)
	s.logger.Info("analysis service configured", "url", cfg.AnalysisURL, "timeout", cfg.AnalysisTimeout)

	s.hub = realtime.NewHub(s.logger, cfg.CORSOrigins...)
	s.views = dashboard.NewRegistry(s.identity, s.analyzer,
		dashboard.WithPublisher(s.hub),
		dashboard.WithLogger(s.logger),
		dashboard.WithAnalysisTimeout(cfg.AnalysisTimeout),
		dashboard.WithIdleTimeout(cfg.ViewIdleTimeout),
		dashboard.WithSessionRecheck(cfg.SessionRecheck),
	)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)
	return s, nil
}

func (s *Server) openUserStore(ctx context.Context) (identity.UserStore, error) {
	if s.cfg.DatabaseURL == "" {
		s.logger.Info("using in-memory user store")
		return identity.NewMemoryUserStore(), nil
	}

	db, err := sqlx.Open("postgres", s.cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := s.startupPolicy("postgres").Do(ctx, db.PingContext); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s.db = db
	store := identity.NewPostgresUserStore(db)
	s.health.RegisterPing("postgres", store.Ping)
	s.logger.Info("using PostgreSQL user store", "url", maskDSN(s.cfg.DatabaseURL))
	return store, nil
}

func (s *Server) openTokenStore(ctx context.Context) (identity.TokenStore, error) {
	if s.cfg.RedisURL == "" {
		s.logger.Info("using in-memory session store")
		return identity.NewMemoryTokenStore(), nil
	}

	opts, err := redis.ParseURL(s.cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	store := identity.NewRedisTokenStore(client)

	if err := s.startupPolicy("redis").Do(ctx, store.Ping); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	s.redis = client
	s.health.RegisterPing("redis", store.Ping)
	s.logger.Info("using Redis session store", "url", maskDSN(s.cfg.RedisURL))
	return store, nil
}

func (s *Server) startupPolicy(dependency string) retry.Policy {
	p := retry.Startup
	p.OnRetry = func(attempt int, err error, wait time.Duration) {
		s.logger.Warn("dependency not ready, retrying",
			"dependency", dependency,
			"attempt", attempt,
			"wait", wait,
			"error", err,
		)
	}
	return p
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.router.GET("/", s.infoHandler)
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	v1 := s.router.Group("/v1")
	v1.Use(identity.Middleware(s.identity))

	authHandler := identity.NewHandler(s.identity)
	authHandler.RegisterRoutes(v1)

	protected := v1.Group("")
	protected.Use(identity.RequireAuth())
	authHandler.RegisterProtectedRoutes(protected)

	dashboard.NewHandler(s.views, s.hub, s.cfg.ResolveTimeout).RegisterRoutes(v1)
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	stopTracing, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("tracing disabled", "error", err)
	} else {
		s.stopTracing = stopTracing
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		// No WriteTimeout: WebSocket streams outlive any fixed deadline.
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env, "version", Version)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.hub.Run(runCtx)
	go s.views.Start(runCtx)
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db.DB, 15*time.Second)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Give load balancers time to stop sending traffic
	if s.drainDelay > 0 {
		time.Sleep(s.drainDelay)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var shutdownErr error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			shutdownErr = err
		}
	}

	// Views go first so no late analysis response is applied or published.
	s.views.Stop()
	s.views.CloseAll()
	s.logger.Info("dashboard views closed")

	// Cancel the context for background goroutines (hub, janitor, collectors)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	s.identity.Close()

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}
	if s.stopTracing != nil {
		if err := s.stopTracing(ctx); err != nil {
			s.logger.Error("tracing shutdown error", "error", err)
		}
	}

	s.logger.Info("server stopped")
	return shutdownErr
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
