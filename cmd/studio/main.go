// Package main is the entry point for the studio backend. The single
// binary serves the chat API, the SSE stream, the agent callbacks, and
// the socket gateway.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentstudio/studio/internal/chat/handlers"
	"github.com/agentstudio/studio/internal/chat/kvstate"
	"github.com/agentstudio/studio/internal/chat/repository/sqlite"
	"github.com/agentstudio/studio/internal/chat/service"
	"github.com/agentstudio/studio/internal/chat/settings"
	"github.com/agentstudio/studio/internal/chat/supervisor"
	"github.com/agentstudio/studio/internal/common/config"
	"github.com/agentstudio/studio/internal/common/httpmw"
	"github.com/agentstudio/studio/internal/common/logger"
	"github.com/agentstudio/studio/internal/common/tracing"
	"github.com/agentstudio/studio/internal/events"
	gateways "github.com/agentstudio/studio/internal/gateway/websocket"
	"github.com/agentstudio/studio/internal/storage"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting studio backend...")

	// 3. Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Initialize event bus (in-memory by default, NATS if configured)
	provided, busCleanup, err := events.Provide(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize event bus", zap.Error(err))
	}
	defer busCleanup()
	eventBus := provided.Bus
	if provided.NATS != nil {
		log.Info("Connected to NATS event bus", zap.String("url", cfg.NATS.URL))
	} else {
		log.Info("Using in-memory event bus")
	}

	// 5. Initialize SQLite repository
	repo, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		log.Fatal("Failed to initialize SQLite database",
			zap.Error(err), zap.String("db_path", cfg.Database.Path))
	}
	defer repo.Close()
	log.Info("SQLite database initialized", zap.String("db_path", cfg.Database.Path))

	// 6. Optional Redis for short-lived reply state
	kv, err := kvstate.New(ctx, cfg.Redis, log)
	if err != nil {
		log.Warn("Redis unavailable, reply snapshots disabled", zap.Error(err))
		kv = nil
	}
	if kv != nil {
		defer kv.Close()
		log.Info("Connected to Redis", zap.String("addr", cfg.Redis.Addr))
	}

	// 7. Agent settings: hidden tools and display names
	filter, err := settings.LoadToolFilter(cfg.Agent.SettingsPath)
	if err != nil {
		log.Fatal("Failed to load agent settings",
			zap.Error(err), zap.String("path", cfg.Agent.SettingsPath))
	}

	// 8. Chat service and agent supervisor
	sup := supervisor.New(cfg.Agent, log)
	chatSvc := service.New(cfg, repo, sup, filter, eventBus, kv, log)
	log.Info("Chat service initialized", zap.String("agent_binary", cfg.Agent.Binary))

	// 9. Upload storage
	uploads, err := storage.NewFileStore(cfg.Storage, log)
	if err != nil {
		log.Fatal("Failed to initialize upload storage", zap.Error(err))
	}
	uploads.StartRetentionLoop(ctx)

	// 10. WebSocket gateway
	hub := gateways.NewHub(log)
	go hub.Run(ctx)
	gateways.RegisterChatNotifications(ctx, eventBus, hub, log)
	wsHandler := gateways.NewHandler(hub, log)

	// 11. HTTP server
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(httpmw.RequestLogger(log, "studio"))
	router.Use(httpmw.OtelTracing("studio"))

	handlers.NewChatHandlers(chatSvc, uploads, cfg, log).RegisterRoutes(router)
	router.GET("/ws/client", wsHandler.HandleClient)
	router.GET("/ws/agent", wsHandler.HandleAgent)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "studio"})
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("HTTP server listening",
			zap.String("host", cfg.Server.Host), zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	log.Info("API configured",
		zap.String("chat", "/api/chat"),
		zap.String("callbacks", "/trpc"),
		zap.String("websocket", "/ws/client"),
		zap.String("health", "/health"),
	)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down studio backend...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := chatSvc.Shutdown(shutdownCtx); err != nil {
		log.Error("Chat service shutdown error", zap.Error(err))
	}

	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Error("Tracing shutdown error", zap.Error(err))
	}

	log.Info("Studio backend stopped")
}
