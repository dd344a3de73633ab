// Package server sets up the HTTP server with all routes
package server

import (
	"compress/gzip"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/mbd888/agentbroker/internal/config"
	"github.com/mbd888/agentbroker/internal/escrow"
	"github.com/mbd888/agentbroker/internal/executor"
	"github.com/mbd888/agentbroker/internal/health"
	"github.com/mbd888/agentbroker/internal/logging"
	"github.com/mbd888/agentbroker/internal/metrics"
	"github.com/mbd888/agentbroker/internal/money"
	"github.com/mbd888/agentbroker/internal/negotiation"
	"github.com/mbd888/agentbroker/internal/reconciliation"
	"github.com/mbd888/agentbroker/internal/tipping"
	"github.com/mbd888/agentbroker/internal/traces"
	"github.com/mbd888/agentbroker/internal/validation"
	"github.com/mbd888/agentbroker/internal/webhooks"
	"github.com/mbd888/agentbroker/pkg/x402"

	"github.com/mbd888/agentbroker/internal/realtime"
)

// Server wraps the HTTP server and the four engines' dependencies.
type Server struct {
	cfg *config.Config

	escrowService      *escrow.Service
	escrowTimer        *escrow.Timer
	negotiationService *negotiation.Service
	negotiationTimer   *negotiation.Timer
	webhookService     *webhooks.Service
	webhookTimer       *webhooks.Timer
	tippingService     *tipping.Service
	reconcileService   *reconciliation.Service
	reconcileTimer     *reconciliation.Timer
	payoutExecutor     executor.PaymentExecutor

	realtimeHub *realtime.Hub
	healthReg   *health.Registry

	db     *sql.DB // nil if using in-memory/file stores
	router *gin.Engine

	httpSrv        *http.Server
	logger         *slog.Logger
	cancelRunCtx   context.CancelFunc
	tracerShutdown func(context.Context) error

	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// fanoutEmitter implements every engine's narrow Emitter interface: it
// forwards each event to the webhook engine for durable delivery and, best
// effort, broadcasts it on the realtime WS hub for live observers. Escrow,
// Negotiation, and Tipping each declare their own single-method Emitter
// interface but share an identical signature, so one adapter satisfies all
// three without any of those packages importing this one.
type fanoutEmitter struct {
	webhooks *webhooks.Service
	hub      *realtime.Hub
}

func (e *fanoutEmitter) Emit(ctx context.Context, eventType string, data any) error {
	if e.hub != nil {
		e.hub.BroadcastEntity(realtime.EventType(eventType), data)
	}
	if e.webhooks == nil {
		return nil
	}
	return e.webhooks.Emit(ctx, eventType, data)
}

// New builds a Server from cfg: stores (Postgres if DATABASE_URL is set,
// otherwise file-snapshot), the four engines, the payout executor, the
// reconciliation batch, and the realtime hub.
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

	tracerShutdown, err := traces.Init(ctx, cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
		tracerShutdown = func(context.Context) error { return nil }
	}
	s.tracerShutdown = tracerShutdown

	escrowStore, negotiationStore, webhookStores, tippingStore, err := s.buildStores(cfg)
	if err != nil {
		return nil, err
	}

	s.realtimeHub = realtime.NewHub(s.logger)

	webhookSubs, webhookQueue, webhookEvents := webhookStores.subs, webhookStores.queue, webhookStores.events
	s.webhookService = webhooks.NewService(webhookSubs, webhookQueue, webhookEvents, webhooks.NewHTTPSender(
		time.Duration(cfg.RequestTimeoutMs)*time.Millisecond,
	), webhooks.Config{
		MaxRetries:        cfg.MaxRetries,
		InitialDelayMs:    cfg.InitialDelayMs,
		MaxDelayMs:        cfg.MaxDelayMs,
		BackoffMultiplier: cfg.BackoffMultiplier,
		MaxLogEntries:     cfg.MaxLogEntries,
		DeliveryFanOut:    cfg.DeliveryFanOut,
	}).WithLogger(s.logger)

	emitter := &fanoutEmitter{webhooks: s.webhookService, hub: s.realtimeHub}

	s.escrowService = escrow.NewService(escrowStore, emitter, escrow.WithLogger(s.logger))
	s.escrowTimer = escrow.NewTimer(s.escrowService, time.Minute, s.logger)

	s.negotiationService = negotiation.NewService(negotiationStore, s.escrowService, emitter)
	s.negotiationTimer = negotiation.NewTimer(s.negotiationService, time.Minute, s.logger)

	s.tippingService = tipping.NewService(tippingStore, emitter)

	s.webhookTimer = webhooks.NewTimer(
		s.webhookService,
		webhookStores.checkpointer,
		time.Duration(cfg.WorkerTickMs)*time.Millisecond,
		time.Duration(cfg.QueueCheckpointIntervalMs)*time.Millisecond,
		s.logger,
	)

	payoutExecutor, err := buildPayoutExecutor(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build payout executor: %w", err)
	}
	s.payoutExecutor = payoutExecutor
	s.reconcileService = reconciliation.NewService(s.tippingService, s.payoutExecutor, s.logger)
	s.reconcileTimer = reconciliation.NewTimer(s.reconcileService, cfg.ReconcileInterval, s.logger)

	s.registerHealthChecks()

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// tippingEscrowFactory opens a broker escrow on behalf of a tip, used as
// the tipping engine's EscrowFactory collaborator (spec §6's "tips settle
// through an escrow, not a direct transfer" composition).
func (s *Server) tippingEscrowFactory(ctx context.Context, tip *tipping.Tip) (string, error) {
	e, err := s.escrowService.Create(ctx, tip.Tipper, tip.Recipient, tip.AmountDisplay, tip.Message, tip.Token, escrow.Conditions{}, 0)
	if err != nil {
		return "", err
	}
	return e.ID, nil
}

func buildPayoutExecutor(ctx context.Context, cfg *config.Config) (executor.PaymentExecutor, error) {
	switch cfg.PayoutExecutor {
	case "chain":
		return executor.NewChainExecutor(ctx, executor.ChainExecutorConfig{
			RPCURL:         cfg.ChainRPCURL,
			PrivateKeyHex:  cfg.ChainPrivateKeyHex,
			ChainID:        cfg.ChainID,
			StableContract: cfg.StableContract,
		})
	case "stripe":
		return executor.NewStripeExecutor(cfg.StripeSecretKey), nil
	default:
		return executor.Func(func(_ context.Context, req executor.Request) (executor.Result, error) {
			return executor.Result{TxHash: "noop:" + req.TipID + req.EscrowID}, nil
		}), nil
	}
}

func (s *Server) registerHealthChecks() {
	if s.db != nil {
		s.healthReg.Register("database", func(ctx context.Context) health.Status {
			ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			if err := s.db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	}
	s.healthReg.Register("webhook_worker", func(context.Context) health.Status {
		return health.Status{Name: "webhook_worker", Healthy: s.webhookTimer.Running()}
	})
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
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

	s.router.Use(gzipMiddleware())
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))
	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
	s.router.Use(s.timeoutMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
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
			logger.Error("request completed", "method", c.Request.Method, "path", path, "status", status, "latency_ms", latency.Milliseconds())
		case status >= 400:
			logger.Warn("request completed", "method", c.Request.Method, "path", path, "status", status, "latency_ms", latency.Milliseconds())
		default:
			logger.Info("request completed", "method", c.Request.Method, "path", path, "status", status, "latency_ms", latency.Milliseconds())
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.healthzHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	s.router.GET("/api", s.infoHandler)

	v1 := s.router.Group("/v1")

	escrowHandler := escrow.NewHandler(s.escrowService)
	escrowHandler.RegisterRoutes(v1)

	negotiationHandler := negotiation.NewHandler(s.negotiationService)
	negotiationHandler.RegisterRoutes(v1)

	webhookHandler := webhooks.NewHandler(s.webhookService)
	webhookHandler.RegisterRoutes(v1)

	tippingHandler := tipping.NewHandler(s.tippingService, s.tippingEscrowFactory)
	tippingHandler.RegisterRoutes(v1)

	v1.POST("/purchase", s.purchaseHandler)
}

// purchaseHandler implements the signed-payment-header marketplace
// composition (pkg/x402): a seller-side endpoint that receives a payment
// requirement and the caller's X-Payment-Proof header, and fulfils it by
// opening a broker escrow on behalf of payer.
func (s *Server) purchaseHandler(c *gin.Context) {
	var body struct {
		Payer       string `json:"payer" binding:"required"`
		Price       string `json:"price" binding:"required"`
		Token       string `json:"token" binding:"required"`
		Recipient   string `json:"recipient" binding:"required"`
		Description string `json:"description"`
		Nonce       string `json:"nonce"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "message": err.Error()})
		return
	}

	token := money.Token(body.Token)
	if !money.IsSupported(token) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "message": "unsupported token"})
		return
	}

	e, err := s.escrowService.Create(c.Request.Context(), body.Payer, body.Recipient, body.Price, body.Description, token, escrow.Conditions{}, 0)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "escrow_failed", "message": err.Error()})
		return
	}

	proof := x402.NewPaymentProof(e.ID, body.Payer, body.Nonce)
	c.JSON(http.StatusCreated, gin.H{"escrow": e, "proof": proof})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "agentbroker",
		"description": "Token-denominated payments broker for autonomous agents",
		"version":     "0.1.0",
	})
}

func (s *Server) healthzHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.healthReg.CheckAll(ctx)

	httpStatus := http.StatusOK
	if !healthy {
		httpStatus = http.StatusServiceUnavailable
	}
	c.JSON(httpStatus, gin.H{"healthy": healthy, "checks": statuses})
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

	checks := map[string]string{
		"escrow_timer":      timerStatus(s.escrowTimer),
		"negotiation_timer": timerStatus(s.negotiationTimer),
		"webhook_timer":     timerStatus(s.webhookTimer),
		"reconcile_timer":   timerStatus(s.reconcileTimer),
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "checks": checks})
}

type runnable interface{ Running() bool }

func timerStatus(t runnable) string {
	if t == nil {
		return "not_configured"
	}
	if t.Running() {
		return "running"
	}
	return "stopped"
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server and all background timers, blocking until a
// shutdown signal or context cancellation, then gracefully shuts down.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       s.cfg.HTTPReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.cfg.HTTPWriteTimeout,
		IdleTimeout:       s.cfg.HTTPIdleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx)
	go s.escrowTimer.Start(runCtx)
	go s.negotiationTimer.Start(runCtx)
	go s.webhookTimer.Start(runCtx)
	go s.reconcileTimer.Start(runCtx)

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.healthy.Store(true)
		s.logger.Info("server ready")
	}()

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

// Shutdown gracefully stops the server and all background timers.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	s.escrowTimer.Stop()
	s.negotiationTimer.Stop()
	s.webhookTimer.Stop()
	s.reconcileTimer.Stop()

	if s.tracerShutdown != nil {
		if err := s.tracerShutdown(ctx); err != nil {
			s.logger.Error("tracer shutdown error", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func (s *Server) timeoutMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Upgrade") == "websocket" {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.RequestTimeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

type gzipWriter struct {
	gin.ResponseWriter
	writer *gzip.Writer
}

func (w *gzipWriter) Write(data []byte) (int, error) {
	return w.writer.Write(data)
}

func (w *gzipWriter) WriteString(s string) (int, error) {
	return w.writer.Write([]byte(s))
}

func gzipMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !strings.Contains(c.GetHeader("Accept-Encoding"), "gzip") || c.GetHeader("Upgrade") == "websocket" {
			c.Next()
			return
		}
		gz, err := gzip.NewWriterLevel(c.Writer, gzip.DefaultCompression)
		if err != nil {
			c.Next()
			return
		}
		c.Header("Content-Encoding", "gzip")
		c.Header("Vary", "Accept-Encoding")
		c.Writer = &gzipWriter{ResponseWriter: c.Writer, writer: gz}
		defer func() {
			if err := gz.Close(); err != nil {
				_ = c.Error(err)
			}
			c.Header("Content-Length", "")
		}()
		c.Next()
	}
}

func generateRequestID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
