// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/chapelhq/chapel/internal/config"
	"github.com/chapelhq/chapel/internal/entitlement"
	"github.com/chapelhq/chapel/internal/health"
	"github.com/chapelhq/chapel/internal/logging"
	"github.com/chapelhq/chapel/internal/meeting"
	"github.com/chapelhq/chapel/internal/metrics"
	"github.com/chapelhq/chapel/internal/provider"
	"github.com/chapelhq/chapel/internal/quota"
	"github.com/chapelhq/chapel/internal/ratelimit"
	"github.com/chapelhq/chapel/internal/security"
	"github.com/chapelhq/chapel/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	resolver     *entitlement.Resolver
	counter      *quota.Counter
	orchestrator *meeting.Orchestrator
	registry     *provider.Registry

	entStore   entitlement.Store
	usageStore quota.UsageStore
	tokenStore meeting.TokenStore
	classStore meeting.ClassStore

	rateLimiter *ratelimit.Limiter
	checks      *health.Registry

	db      *sql.DB // nil if using in-memory
	router  *gin.Engine
	httpSrv *http.Server
	logger  *slog.Logger

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

// WithEntitlementStore sets a custom entitlement store (for testing)
func WithEntitlementStore(store entitlement.Store) Option {
	return func(s *Server) {
		s.entStore = store
	}
}

// WithUsageStore sets a custom usage store (for testing)
func WithUsageStore(store quota.UsageStore) Option {
	return func(s *Server) {
		s.usageStore = store
	}
}

// WithMeetingStores sets custom token and class stores (for testing)
func WithMeetingStores(tokens meeting.TokenStore, classes meeting.ClassStore) Option {
	return func(s *Server) {
		s.tokenStore = tokens
		s.classStore = classes
	}
}

// WithRegistry sets a custom provider registry (for testing)
func WithRegistry(registry *provider.Registry) Option {
	return func(s *Server) {
		s.registry = registry
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set stores/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" && s.entStore == nil {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.entStore = entitlement.NewPostgresStore(db)
		s.usageStore = quota.NewPostgresUsageStore(db)
		meetingStore := meeting.NewPostgresStore(db)
		s.tokenStore = meetingStore
		s.classStore = meetingStore
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	}
	if s.entStore == nil {
		s.entStore = entitlement.NewMemoryStore()
		s.logger.Warn("using in-memory storage (set DATABASE_URL for persistence)")
	}
	if s.usageStore == nil {
		s.usageStore = quota.NewMemoryUsageStore()
	}
	if s.tokenStore == nil || s.classStore == nil {
		meetingStore := meeting.NewMemoryStore()
		s.tokenStore = meetingStore
		s.classStore = meetingStore
	}

	s.resolver = entitlement.NewResolver(s.entStore)
	s.counter = quota.NewCounter(s.resolver, s.usageStore)

	if s.registry == nil {
		s.registry = buildRegistry(cfg, s.logger)
	}
	s.orchestrator = meeting.NewOrchestrator(s.resolver, s.registry, s.tokenStore, s.classStore)

	s.checks = health.NewRegistry()
	if s.db != nil {
		db := s.db
		s.checks.Register("database", func(ctx context.Context) health.Status {
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	}
	s.checks.Register("providers", func(ctx context.Context) health.Status {
		if len(s.registry.Platforms()) == 0 {
			return health.Status{Name: "providers", Healthy: false, Detail: "no meeting providers registered"}
		}
		return health.Status{Name: "providers", Healthy: true}
	})

	s.healthy.Store(true)

	// Set gin mode
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()

	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// buildRegistry wires one adapter per platform with configured credentials.
// Unconfigured platforms are still registered so tenants hit a clear
// refresh-time failure instead of an unknown-platform error.
func buildRegistry(cfg *config.Config, logger *slog.Logger) *provider.Registry {
	for name, client := range map[string]config.OAuthClient{
		"zoom": cfg.Zoom, "teams": cfg.Microsoft, "google_meet": cfg.Google,
	} {
		if !client.Configured() {
			logger.Warn("meeting platform credentials not configured", "platform", name)
		}
	}
	return provider.NewRegistry(
		provider.NewZoom(provider.Credentials(cfg.Zoom)),
		provider.NewTeams(provider.Credentials(cfg.Microsoft), cfg.MicrosoftTenant),
		provider.NewGoogleMeet(provider.Credentials(cfg.Google)),
	)
}

// maskDSN hides credentials in a database URL for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "<unparseable>"
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
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

	// CORS (allow all origins for demo - restrict in production)
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
			requestID = generateRequestID()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
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

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.livenessHandler)
	s.router.GET("/readyz", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	v1 := s.router.Group("/v1")
	{
		v1.GET("/tenants/:tenant_id/entitlement", s.getEntitlement)
		v1.GET("/tenants/:tenant_id/quota/:resource", s.getQuota)

		meetings := v1.Group("/classes/:class_id/meeting")
		meetings.Use(s.adminAuthMiddleware())
		meetings.POST("", s.createMeeting)
		meetings.PATCH("", s.updateMeeting)
		meetings.DELETE("", s.deleteMeeting)
	}
}

// adminAuthMiddleware requires the admin secret on mutating endpoints.
// Without ADMIN_SECRET set (development) the check is skipped.
func (s *Server) adminAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AdminSecret == "" {
			c.Next()
			return
		}
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AdminSecret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Invalid or missing admin credentials",
			})
			return
		}
		c.Next()
	}
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		return
	}
	healthy, statuses := s.checks.CheckAll(c.Request.Context())
	if !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "checks": statuses})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "checks": statuses})
}

// -----------------------------------------------------------------------------
// Entitlement / quota handlers
// -----------------------------------------------------------------------------

func (s *Server) getEntitlement(c *gin.Context) {
	ent, err := s.resolver.Resolve(c.Request.Context(), c.Param("tenant_id"))
	if err != nil {
		logging.L(c.Request.Context()).Error("resolve entitlement", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "entitlement_unavailable",
			"message": "Could not resolve the tenant's entitlement",
		})
		return
	}
	c.JSON(http.StatusOK, ent)
}

func (s *Server) getQuota(c *gin.Context) {
	resource := quota.Resource(c.Param("resource"))
	if !quota.ValidResource(resource) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "unknown_resource",
			"message": fmt.Sprintf("Unknown resource %q", resource),
		})
		return
	}

	usage, err := s.counter.Check(c.Request.Context(), c.Param("tenant_id"), resource)
	if err != nil {
		logging.L(c.Request.Context()).Error("quota check", "error", err, "resource", resource)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "quota_unavailable",
			"message": "Could not check the tenant's quota",
		})
		return
	}
	c.JSON(http.StatusOK, usage)
}

// -----------------------------------------------------------------------------
// Meeting handlers
// -----------------------------------------------------------------------------

// meetingRequest is the JSON body of the meeting endpoints.
type meetingRequest struct {
	TenantID        string               `json:"tenantId" binding:"required"`
	Platform        entitlement.Platform `json:"platform" binding:"required"`
	Title           string               `json:"title"`
	StartTime       time.Time            `json:"startTime"`
	DurationMinutes int                  `json:"durationMinutes"`
	Timezone        string               `json:"timezone"`
	Recurrence      *provider.Recurrence `json:"recurrence,omitempty"`
	CalendarID      string               `json:"calendarId,omitempty"`
	OrganizerEmail  string               `json:"organizerEmail,omitempty"`
}

func (s *Server) bindMeetingRequest(c *gin.Context) (provider.Request, bool) {
	var body meetingRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return provider.Request{}, false
	}

	if c.Request.Method != http.MethodDelete {
		if errs := validation.Validate(
			validation.MaxLength("title", body.Title, validation.MaxTitleLength),
			validation.ValidTimezone("timezone", body.Timezone),
			validation.PositiveDuration("durationMinutes", body.DurationMinutes),
		); len(errs) > 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": errs.Error(),
				"details": errs,
			})
			return provider.Request{}, false
		}
	}
	body.Title = validation.SanitizeString(body.Title, validation.MaxTitleLength)

	return provider.Request{
		ClassID:         c.Param("class_id"),
		TenantID:        body.TenantID,
		Platform:        body.Platform,
		Title:           body.Title,
		StartTime:       body.StartTime,
		DurationMinutes: body.DurationMinutes,
		Timezone:        body.Timezone,
		Recurrence:      body.Recurrence,
		CalendarID:      body.CalendarID,
		OrganizerEmail:  body.OrganizerEmail,
	}, true
}

func (s *Server) createMeeting(c *gin.Context) {
	req, ok := s.bindMeetingRequest(c)
	if !ok {
		return
	}
	writeOutcome(c, s.orchestrator.CreateClassMeeting(c.Request.Context(), req))
}

func (s *Server) updateMeeting(c *gin.Context) {
	req, ok := s.bindMeetingRequest(c)
	if !ok {
		return
	}
	writeOutcome(c, s.orchestrator.UpdateClassMeeting(c.Request.Context(), req))
}

func (s *Server) deleteMeeting(c *gin.Context) {
	req, ok := s.bindMeetingRequest(c)
	if !ok {
		return
	}
	writeOutcome(c, s.orchestrator.DeleteClassMeeting(c.Request.Context(), req))
}

// writeOutcome maps an orchestration outcome to an HTTP status. The body is
// always the outcome itself so callers can branch on the failure kind.
func writeOutcome(c *gin.Context, out meeting.Outcome) {
	if out.OK {
		c.JSON(http.StatusOK, out)
		return
	}

	status := http.StatusInternalServerError
	switch out.Failure.Kind {
	case meeting.FailureIneligible:
		status = http.StatusForbidden
	case meeting.FailureNotConnected, meeting.FailureAuthExpired:
		status = http.StatusConflict
	case meeting.FailureProviderRejected:
		status = http.StatusBadGateway
	}
	c.JSON(status, out)
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

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

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Warn("closing database", "error", err)
		}
	}

	s.logger.Info("shutdown complete")
	return nil
}

// Router returns the gin engine (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}
