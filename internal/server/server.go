// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
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

	"github.com/auditoryx/booking-core/internal/accounts"
	"github.com/auditoryx/booking-core/internal/activity"
	"github.com/auditoryx/booking-core/internal/auth"
	"github.com/auditoryx/booking-core/internal/booking"
	"github.com/auditoryx/booking-core/internal/config"
	"github.com/auditoryx/booking-core/internal/dispute"
	"github.com/auditoryx/booking-core/internal/health"
	"github.com/auditoryx/booking-core/internal/logging"
	"github.com/auditoryx/booking-core/internal/metrics"
	"github.com/auditoryx/booking-core/internal/notify"
	"github.com/auditoryx/booking-core/internal/payments"
	"github.com/auditoryx/booking-core/internal/ratelimit"
	"github.com/auditoryx/booking-core/internal/realtime"
	"github.com/auditoryx/booking-core/internal/security"
	"github.com/auditoryx/booking-core/internal/traces"
	"github.com/auditoryx/booking-core/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg            *config.Config
	accountService *accounts.Service
	authMgr        *auth.Manager
	activityLog    *activity.Logger
	gateway        payments.Gateway
	webhookHandler *payments.WebhookHandler
	bookingService *booking.Service
	bookingTimer   *booking.Timer
	disputeService *dispute.Service
	notifyService  *notify.Service
	dispatcher     *notify.Dispatcher
	realtimeHub    *realtime.Hub
	rateLimiter    *ratelimit.Limiter
	healthReg      *health.Registry
	db             *sql.DB // nil if using in-memory
	router         *gin.Engine
	httpSrv        *http.Server
	logger         *slog.Logger
	shutdownTraces func(context.Context) error
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

// WithGateway sets a custom payment gateway (for testing)
func WithGateway(g payments.Gateway) Option {
	return func(s *Server) {
		s.gateway = g
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		logger:    logging.New(cfg.LogLevel, "json"),
		healthReg: health.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		accountStore  accounts.Store
		activityStore activity.Store
		bookingStore  booking.Store
		disputeStore  dispute.Store
		notifyStore   notify.Store
		subStore      notify.SubscriptionStore
		eventStore    payments.ProcessedEventStore
		authStore     auth.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		accountStore = accounts.NewPostgresStore(db)
		activityStore = activity.NewPostgresStore(db)
		bookingStore = booking.NewPostgresStore(db)
		disputeStore = dispute.NewPostgresStore(db)
		notifyStore = notify.NewPostgresStore(db)
		subStore = notify.NewPostgresSubscriptionStore(db)
		eventStore = payments.NewPostgresEventStore(db)
		authStore = auth.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		s.healthReg.Register("database", func(ctx context.Context) health.Status {
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	} else {
		accountStore = accounts.NewMemoryStore()
		activityStore = activity.NewMemoryStore()
		bookingStore = booking.NewMemoryStore()
		disputeStore = dispute.NewMemoryStore()
		notifyStore = notify.NewMemoryStore()
		subStore = notify.NewMemorySubscriptionStore()
		eventStore = payments.NewMemoryEventStore()
		authStore = auth.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	s.accountService = accounts.NewService(accountStore)
	s.authMgr = auth.NewManager(authStore)
	s.activityLog = activity.NewLogger(activityStore)

	// Payment gateway (Stripe in production, fake in bare development)
	if s.gateway == nil {
		if cfg.StripeSecretKey != "" {
			s.gateway = payments.NewStripeGateway(cfg.StripeSecretKey, cfg.GatewayTimeout, cfg.GatewayMaxAttempts)
			s.logger.Info("stripe gateway enabled")
		} else {
			s.gateway = payments.NewFakeGateway()
			s.logger.Warn("no STRIPE_SECRET_KEY set, using in-process fake gateway")
		}
	}

	// Realtime hub for WebSocket streaming
	s.realtimeHub = realtime.NewHub(s.logger)

	// Notifications: in-app feed + live push + signed outbound webhooks
	s.dispatcher = notify.NewDispatcher(subStore)
	s.notifyService = notify.NewService(notifyStore).
		WithPublisher(&hubPublisher{s.realtimeHub}).
		WithDispatcher(s.dispatcher)

	// Booking lifecycle controller
	s.bookingService = booking.NewService(bookingStore, s.gateway).
		WithAccounts(s.accountService).
		WithActivity(s.activityLog).
		WithNotifier(s.notifyService).
		WithPolicy(cfg.Currency, cfg.DefaultRevisions, cfg.AutoReleaseWindow)
	s.bookingTimer = booking.NewTimer(s.bookingService, bookingStore, s.logger)

	// Disputes freeze bookings; the booking service consults them before release
	s.disputeService = dispute.NewService(disputeStore, s.bookingService).
		WithPolicy(dispute.ResolvePolicy(cfg.DisputeResolvePolicy)).
		WithActivity(s.activityLog).
		WithNotifier(s.notifyService)
	s.bookingService.WithDisputes(s.disputeService)

	// Processor webhooks confirm payments asynchronously
	s.webhookHandler = payments.NewWebhookHandler(cfg.StripeWebhookSecret, s.bookingService, eventStore)

	// Tracing (no-op without an OTLP endpoint)
	shutdown, err := traces.Init(ctx, cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.shutdownTraces = shutdown
	}

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

// hubPublisher adapts the realtime hub to the notify.Publisher interface.
type hubPublisher struct {
	hub *realtime.Hub
}

func (p *hubPublisher) Publish(userID string, eventType string, bookingID string, data any) {
	p.hub.Publish(userID, realtime.EventNotification, bookingID, data)
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

	// CORS
	s.router.Use(security.CORSMiddleware([]string{s.cfg.AllowedOrigin}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	rlCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPM > 0 {
		rlCfg.RequestsPerMinute = s.cfg.RateLimitRPM
	}
	s.rateLimiter = ratelimit.New(rlCfg)
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
			requestID = generateRequestID()
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

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// API info
	s.router.GET("/api", s.infoHandler)

	// Payment processor webhooks (signature-verified, no API key auth)
	s.webhookHandler.RegisterRoutes(s.router)

	// WebSocket for real-time streaming. The connection is scoped to
	// the authenticated account.
	ws := s.router.Group("/ws")
	ws.Use(auth.Middleware(s.authMgr), auth.RequireAuth(s.authMgr))
	ws.GET("", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request, auth.GetAuthenticatedAccount(c))
	})

	// V1 API group
	v1 := s.router.Group("/v1")

	bookingHandler := booking.NewHandler(s.bookingService)
	disputeHandler := dispute.NewHandler(s.disputeService)
	accountHandler := accounts.NewHandler(s.accountService)
	activityHandler := activity.NewHandler(s.activityLog)
	notifyHandler := notify.NewHandler(s.notifyService, s.dispatcher)
	authHandler := auth.NewHandler(s.authMgr)

	// PUBLIC ROUTES (no auth required)
	accountHandler.RegisterRoutes(v1)
	bookingHandler.RegisterRoutes(v1)

	// REGISTRATION (public but returns API key)
	v1.POST("/accounts", s.registerAccountWithAPIKey)

	// PROTECTED ROUTES (require API key)
	protected := v1.Group("")
	protected.Use(auth.Middleware(s.authMgr), auth.RequireAuth(s.authMgr))
	{
		bookingHandler.RegisterProtectedRoutes(protected)
		disputeHandler.RegisterProtectedRoutes(protected)
		accountHandler.RegisterProtectedRoutes(protected)
		activityHandler.RegisterProtectedRoutes(protected)
		notifyHandler.RegisterProtectedRoutes(protected)
		authHandler.RegisterProtectedRoutes(protected)
	}

	// ADMIN ROUTES (dispute resolution queue, manual refunds)
	admin := v1.Group("/admin")
	admin.Use(auth.Middleware(s.authMgr), auth.RequireAuth(s.authMgr), auth.RequireAdmin())
	disputeHandler.RegisterAdminRoutes(admin)
}

// registerAccountWithAPIKey handles POST /v1/accounts
// This wraps the standard registration to also generate and return an API key
func (s *Server) registerAccountWithAPIKey(c *gin.Context) {
	ctx := c.Request.Context()

	var req accounts.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	req.DisplayName = validation.SanitizeString(req.DisplayName, 200)

	// Admin accounts are provisioned out of band, never self-registered
	if req.Role == accounts.RoleAdmin {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "Admin accounts cannot be self-registered",
		})
		return
	}

	account, err := s.accountService.Register(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, accounts.ErrEmailTaken):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "email_taken",
				"message": "An account with this email is already registered",
			})
		case errors.Is(err, accounts.ErrInvalidRole):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_role",
				"message": "Role must be client or provider",
			})
		default:
			s.logger.Error("failed to register account", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to register account",
			})
		}
		return
	}

	rawKey, keyInfo, err := s.authMgr.GenerateKey(ctx, account.ID, account.Role, "Primary key")
	if err != nil {
		s.logger.Error("failed to generate API key", "error", err)
		// Account was created but key generation failed
		c.JSON(http.StatusCreated, gin.H{
			"account": account,
			"warning": "Account registered but API key generation failed. Contact support.",
		})
		return
	}

	s.logger.Info("account registered",
		"account_id", account.ID,
		"role", account.Role,
		"key_id", keyInfo.ID,
	)

	c.JSON(http.StatusCreated, gin.H{
		"account": account,
		"apiKey":  rawKey,
		"keyId":   keyInfo.ID,
		"warning": "Store this API key securely. It will not be shown again.",
		"usage":   "Include 'Authorization: Bearer <apiKey>' header in requests.",
	})
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.healthReg.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    statuses,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
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
		"name":        "booking-core",
		"description": "Booking lifecycle and escrow payments for creator marketplaces",
		"version":     "0.1.0",
		"currency":    s.cfg.Currency,
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the server and blocks until shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

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

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Start booking auto-release timer
	go s.bookingTimer.Start(runCtx)

	// Export database pool metrics
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

	// Cancel the context for all background goroutines (hub, timer)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	if s.bookingTimer != nil {
		s.bookingTimer.Stop()
		s.logger.Info("auto-release timer stopped")
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	if s.shutdownTraces != nil {
		if err := s.shutdownTraces(ctx); err != nil {
			s.logger.Error("trace exporter shutdown error", "error", err)
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

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
