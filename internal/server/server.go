// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
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
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/cashxhq/cashx/internal/cache"
	"github.com/cashxhq/cashx/internal/config"
	"github.com/cashxhq/cashx/internal/errtrack"
	"github.com/cashxhq/cashx/internal/exchange"
	"github.com/cashxhq/cashx/internal/gateway"
	"github.com/cashxhq/cashx/internal/health"
	"github.com/cashxhq/cashx/internal/idgen"
	"github.com/cashxhq/cashx/internal/logging"
	"github.com/cashxhq/cashx/internal/matching"
	"github.com/cashxhq/cashx/internal/metrics"
	"github.com/cashxhq/cashx/internal/notify"
	"github.com/cashxhq/cashx/internal/payments"
	"github.com/cashxhq/cashx/internal/presence"
	"github.com/cashxhq/cashx/internal/ratelimit"
	"github.com/cashxhq/cashx/internal/routing"
	"github.com/cashxhq/cashx/internal/security"
	"github.com/cashxhq/cashx/internal/traces"
	"github.com/cashxhq/cashx/internal/users"
	"github.com/cashxhq/cashx/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg         *config.Config
	users       *users.Service
	searches    *matching.Service
	exchange    *exchange.Service
	payments    *payments.Service
	presence    *presence.Tracker
	oracle      routing.Oracle
	hub         *exchange.Hub
	realtime    *exchange.Realtime
	notifier    *notify.Emitter
	reporter    *errtrack.SentryReporter
	rateLimiter *ratelimit.Limiter
	healthReg   *health.Registry
	cacheStore  cache.Store
	memCache    *cache.MemoryStore // non-nil when running without Redis
	redisCache  *cache.RedisStore  // non-nil when REDIS_URL is set
	db          *sql.DB            // nil if using in-memory
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger

	tracesShutdown func(context.Context) error
	cancelRunCtx   context.CancelFunc // cancels background goroutines started in Run

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

// WithOracle sets a custom routing oracle (for testing)
func WithOracle(oracle routing.Oracle) Option {
	return func(s *Server) {
		s.oracle = oracle
	}
}

// exchangeAdapter lets the matcher consult the exchange service for
// busy-status and agent stats. The two services are constructed in
// opposite order, so the adapter is filled in after both exist.
type exchangeAdapter struct {
	svc *exchange.Service
}

func (a *exchangeAdapter) HasActiveTransaction(ctx context.Context, userID string) (bool, error) {
	if a.svc == nil {
		return false, nil
	}
	return a.svc.HasActiveTransaction(ctx, userID)
}

func (a *exchangeAdapter) AgentStats(ctx context.Context, agentID string) (float64, int, error) {
	if a.svc == nil {
		return 0, 0, nil
	}
	return a.svc.AgentStats(ctx, agentID)
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set oracle/logger)
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	reporter, err := errtrack.Init(cfg.SentryDSN, cfg.Env, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init error tracking: %w", err)
	}
	s.reporter = reporter

	// Ephemeral state store (Redis if REDIS_URL set, otherwise in-memory)
	if cfg.RedisURL != "" {
		redisStore, err := cache.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		s.redisCache = redisStore
		s.cacheStore = redisStore
		s.logger.Info("using Redis for ephemeral state")
	} else {
		s.memCache = cache.NewMemoryStore()
		s.cacheStore = s.memCache
		s.logger.Info("using in-memory ephemeral state (single instance only)")
	}

	s.presence = presence.NewTracker(s.cacheStore)

	if s.oracle == nil {
		s.oracle = routing.NewOSRMClient(cfg.OSRMBaseURL, cfg.RouteTimeout)
		s.logger.Info("routing oracle configured", "base_url", cfg.OSRMBaseURL, "timeout", cfg.RouteTimeout)
	}

	// Persistent storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var userStore users.Store
	var exchangeStore exchange.Store
	var paymentStore payments.Store
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		userStore = users.NewPostgresStore(db)
		exchangeStore = exchange.NewPostgresStore(db)
		paymentStore = payments.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		userStore = users.NewMemoryStore()
		exchangeStore = exchange.NewMemoryStore()
		paymentStore = payments.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	s.users = users.NewService(userStore)

	s.notifier = notify.NewEmitter(notify.NewDispatcher(cfg.PushEndpoint, cfg.PushSecret, s.logger))
	if cfg.PushEndpoint != "" {
		s.logger.Info("push notifications enabled")
	}

	s.hub = exchange.NewHub(s.logger)

	// Matching consults the exchange service for busy agents and agent
	// stats; the adapter breaks the construction cycle.
	adapter := &exchangeAdapter{}
	matcher := matching.NewMatcher(s.oracle, adapter, cfg.SearchRadiusM)
	s.searches = matching.NewService(matcher, s.users, s.presence, adapter, s.cacheStore)

	s.exchange = exchange.NewService(exchangeStore, s.users, s.searches, s.oracle, s.hub, s.notifier, s.cacheStore, s.logger)
	adapter.svc = s.exchange

	bank := gateway.NewBankClient(cfg.BankBaseURL, cfg.BankBearerToken, cfg.BankSecretKey)
	card := gateway.NewCardClient(cfg.CardBaseURL, cfg.CardEncryptURL, cfg.CardAPIKey, cfg.CardSecretKey)
	s.payments = payments.NewService(paymentStore, s.users, s.exchange, bank, card, s.hub, s.notifier, s.cacheStore,
		payments.EscrowAccount{AccountNumber: cfg.EscrowAccountNo, BankCode: cfg.EscrowBankCode}, s.logger)
	s.exchange.SetEscrowChecker(s.payments)
	s.logger.Info("escrow payments enabled")

	s.realtime = exchange.NewRealtime(s.hub, s.exchange, s.oracle, s.reporter, s.logger, cfg.ArrivalRadiusM)

	s.healthReg = health.NewRegistry()
	if s.db != nil {
		s.healthReg.Register(health.Database(s.db))
	}
	s.healthReg.Register(health.Cache(s.cacheStore))

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
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
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for development - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	s.rateLimiter = ratelimit.New(ratelimit.DefaultConfig())
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.New()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// presenceMiddleware stamps the caller's liveness marker on every
// identified request. The online window feeds agent matching.
func (s *Server) presenceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID := validation.CallerID(c); userID != "" {
			if err := s.presence.Touch(c.Request.Context(), userID); err != nil {
				logging.L(c.Request.Context()).Warn("presence touch failed", "error", err)
			}
		}
		c.Next()
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	s.router.GET("/api", s.infoHandler)

	usersHandler := users.NewHandler(s.users)
	searchHandler := matching.NewHandler(s.searches)
	exchangeHandler := exchange.NewHandler(s.exchange, s.realtime)
	paymentsHandler := payments.NewHandler(s.payments)

	// V1 API group
	v1 := s.router.Group("/v1")

	// Registration is the only route that precedes an identity
	usersHandler.RegisterPublicRoutes(v1)

	// Everything else requires X-User-ID. This middleware is the
	// integration point for a real token-auth layer.
	identified := v1.Group("")
	identified.Use(validation.UserIDMiddleware(), s.presenceMiddleware())
	{
		usersHandler.RegisterRoutes(identified)
		searchHandler.RegisterRoutes(identified)
		exchangeHandler.RegisterRoutes(identified)
		paymentsHandler.RegisterRoutes(identified)
	}

	// Realtime transaction channel
	exchangeHandler.RegisterWS(identified)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.healthReg.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"checks":    statuses,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "CashX",
		"description": "Peer-to-peer cash exchange",
		"version":     "0.1.0",
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the server and blocks until shutdown
func (s *Server) Run(ctx context.Context) error {
	// Cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	tracesShutdown, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to init tracing", "error", err)
	} else {
		s.tracesShutdown = tracesShutdown
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Realtime hub
	go s.hub.Run(runCtx)

	// DB pool metrics
	if s.db != nil {
		metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

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

	// Stop background goroutines (hub, collectors)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	if s.reporter != nil {
		s.reporter.Flush(2 * time.Second)
	}

	if s.tracesShutdown != nil {
		if err := s.tracesShutdown(ctx); err != nil {
			s.logger.Error("traces shutdown error", "error", err)
		}
	}

	if s.memCache != nil {
		s.memCache.Close()
	}
	if s.redisCache != nil {
		if err := s.redisCache.Close(); err != nil {
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

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
