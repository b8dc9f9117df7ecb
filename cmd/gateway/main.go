package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/trace"

	"github.com/khive-ai/khive-gateway/internal/auth"
	"github.com/khive-ai/khive-gateway/internal/config"
	"github.com/khive-ai/khive-gateway/internal/coordination"
	"github.com/khive-ai/khive-gateway/internal/dispatch"
	"github.com/khive-ai/khive-gateway/internal/gateway"
	"github.com/khive-ai/khive-gateway/internal/ingest"
	"github.com/khive-ai/khive-gateway/internal/logging"
	"github.com/khive-ai/khive-gateway/internal/metrics"
	"github.com/khive-ai/khive-gateway/internal/state"
	"github.com/khive-ai/khive-gateway/internal/transport"

	_ "github.com/khive-ai/khive-gateway/docs" // swagger docs
)

// @title khive Gateway API
// @version 1.0
// @description Real-time coordination gateway for the khive multi-agent orchestration daemon.
// @description
// @description The gateway keeps a reconciled mirror of daemon state (sessions, agents,
// @description tasks) over a persistent event stream, serves it to operators, and relays
// @description commands back to the daemon with correlation and timeout handling.

// @contact.name khive
// @contact.email ops@khive.ai

// @license.name Apache 2.0
// @license.url https://www.apache.org/licenses/LICENSE-2.0

// @host localhost:8080
// @BasePath /api

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and the JWT token.

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatal("failed to load configuration", "error", err)
	}

	logger, err := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		log.Fatal("failed to initialize logging", "error", err)
	}
	defer logger.Close()
	log.SetDefault(logger.Logger)

	if err := initTracer(); err != nil {
		logger.Fatal("failed to initialize tracer", "error", err)
	}

	coordMetrics, err := metrics.NewCoordinationMetrics()
	if err != nil {
		logger.Fatal("failed to initialize metrics", "error", err)
	}

	// Daemon sync pipeline: transport feeds the routing loop, which applies
	// events to the store and resolves command results.
	mgr, err := transport.NewManager(transport.Options{
		DaemonURL:         cfg.Daemon.BaseURL,
		EventsPath:        cfg.Daemon.EventsPath,
		HandshakeTimeout:  cfg.Transport.HandshakeTimeout,
		PingInterval:      cfg.Transport.PingInterval,
		PongTimeout:       cfg.Transport.PongTimeout,
		ReconnectInitial:  cfg.Transport.ReconnectInitial,
		ReconnectMax:      cfg.Transport.ReconnectMax,
		DegradedThreshold: cfg.Transport.DegradedThreshold,
		SendBuffer:        cfg.Transport.SendBuffer,
	}, logger.With("component", "transport"), coordMetrics)
	if err != nil {
		logger.Fatal("failed to initialize transport", "error", err)
	}

	daemonClient := coordination.NewDaemonClient(cfg.Daemon.BaseURL, cfg.Daemon.RequestTimeout,
		logger.With("component", "daemon-client"))
	dispatcher := dispatch.NewDispatcher(dispatch.Options{
		CommandTimeout: cfg.Dispatch.CommandTimeout,
		MaxAttempts:    cfg.Dispatch.MaxAttempts,
		RetryBackoff:   cfg.Dispatch.RetryBackoff,
	}, mgr, daemonClient, logger.With("component", "dispatch"), coordMetrics)
	ingestor := ingest.New(cfg.Ingest.DedupWindow, logger.With("component", "ingest"), coordMetrics)
	store := state.New(logger.With("component", "state"), coordMetrics)

	client := coordination.NewClient(store, mgr, dispatcher, ingestor, daemonClient,
		logger.With("component", "coordination"), coordMetrics)
	client.Start(context.Background())

	jwtManager, err := auth.NewJWTManager()
	if err != nil {
		logger.Fatal("failed to initialize JWT manager", "error", err)
	}

	handler := gateway.NewHandler(client, jwtManager, cfg.Auth, logger.With("component", "gateway"))
	hub := gateway.NewHub(client, logger.With("component", "hub"), coordMetrics)
	hub.Start(context.Background())

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogging(logger.With("component", "http")))

	// Health checks MUST be at the root for the WebService standard
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	router.GET("/ready", func(c *gin.Context) {
		// Ready once state is being served: either a snapshot landed or the
		// event stream is up.
		health := client.ConnectionHealth()
		if health.State != transport.StateConnected && client.State().Seq == 0 {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not ready",
				"error":  "no daemon state yet",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	// Swagger documentation (public)
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// API routes
	api := router.Group("/api")

	// Public routes (no authentication required)
	api.POST("/auth/login", handler.Login)

	// Protected routes (require JWT authentication)
	protected := api.Group("")
	protected.Use(auth.RequireAuth(jwtManager))

	// State routes
	protected.GET("/state", handler.GetState)
	protected.GET("/sessions", handler.ListSessions)
	protected.GET("/sessions/:id", handler.GetSession)
	protected.GET("/agents", handler.ListAgents)
	protected.GET("/agents/:id", handler.GetAgent)
	protected.GET("/tasks", handler.ListTasks)
	protected.GET("/daemon", handler.GetDaemon)
	protected.GET("/connection", handler.GetConnection)

	// Command routes
	protected.POST("/commands", handler.SubmitCommand)

	// WebSocket routes (authenticated)
	protected.GET("/ws/state", hub.Attach)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("starting khive gateway", "addr", cfg.Server.Addr, "daemon", cfg.Daemon.BaseURL)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", "error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down gateway")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shut down", "error", err)
	}

	hub.Stop()
	client.Stop()
	logger.Info("gateway exited")
}

// initTracer initializes OpenTelemetry tracing
func initTracer() error {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return err
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
	)

	otel.SetTracerProvider(tp)

	return nil
}

// requestLogging emits one structured log line per request.
func requestLogging(logger *log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		fields := []interface{}{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if operatorID, ok := c.Get("operator_id"); ok {
			fields = append(fields, "operator_id", operatorID)
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "errors", c.Errors.String())
		}

		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			logger.Error("request", fields...)
		case c.Writer.Status() >= http.StatusBadRequest:
			logger.Warn("request", fields...)
		default:
			logger.Info("request", fields...)
		}
	}
}
