// Package main is the entry point for the Maestro core: a single process
// exposing the REST API and the WebSocket sync fabric, backed by the JSON
// file store.
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
	"golang.org/x/sync/errgroup"

	"github.com/maestro/maestro/internal/common/besteffort"
	"github.com/maestro/maestro/internal/common/config"
	"github.com/maestro/maestro/internal/common/keylock"
	"github.com/maestro/maestro/internal/common/logger"
	"github.com/maestro/maestro/internal/common/tracing"
	"github.com/maestro/maestro/internal/events"
	gateways "github.com/maestro/maestro/internal/gateway/websocket"
	"github.com/maestro/maestro/internal/storage"

	messagehandlers "github.com/maestro/maestro/internal/message/handlers"
	messagerepo "github.com/maestro/maestro/internal/message/repository"
	messageservice "github.com/maestro/maestro/internal/message/service"
	projecthandlers "github.com/maestro/maestro/internal/project/handlers"
	projectrepo "github.com/maestro/maestro/internal/project/repository"
	projectservice "github.com/maestro/maestro/internal/project/service"
	queuehandlers "github.com/maestro/maestro/internal/queue/handlers"
	queuerepo "github.com/maestro/maestro/internal/queue/repository"
	queueservice "github.com/maestro/maestro/internal/queue/service"
	sessionhandlers "github.com/maestro/maestro/internal/session/handlers"
	sessionrepo "github.com/maestro/maestro/internal/session/repository"
	sessionservice "github.com/maestro/maestro/internal/session/service"
	taskhandlers "github.com/maestro/maestro/internal/task/handlers"
	taskrepo "github.com/maestro/maestro/internal/task/repository"
	taskservice "github.com/maestro/maestro/internal/task/service"
	tmhandlers "github.com/maestro/maestro/internal/teammember/handlers"
	tmrepo "github.com/maestro/maestro/internal/teammember/repository"
	tmservice "github.com/maestro/maestro/internal/teammember/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting Maestro core...")
	startedAt := time.Now().UTC()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Tracing.Enabled {
		if err := tracing.Init(ctx, cfg.Tracing.Endpoint); err != nil {
			log.Warn("Failed to initialize tracing, continuing without", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
				defer done()
				if err := tracing.Shutdown(shutdownCtx); err != nil {
					log.Warn("Tracing shutdown error", zap.Error(err))
				}
			}()
		}
	}

	eventBus, closeBus, err := events.Provide(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize event bus", zap.Error(err))
	}
	defer closeBus()

	store, err := storage.NewStore(cfg.Data.Dir, log)
	if err != nil {
		log.Fatal("Failed to open data directory", zap.Error(err),
			zap.String("dir", cfg.Data.Dir))
	}
	log.Info("Data directory opened", zap.String("dir", cfg.Data.Dir))

	// Repositories replay their directories into memory; corrupt files are
	// quarantined inside Initialize, not fatal here.
	projectRepo := projectrepo.NewFileRepository(store, log)
	taskRepo := taskrepo.NewFileRepository(store, log)
	sessionRepo := sessionrepo.NewFileRepository(store, log)
	teamMemberRepo := tmrepo.NewFileRepository(store, log)
	messageRepo := messagerepo.NewFileRepository(store, log)
	queueRepo := queuerepo.NewFileRepository(store, log)

	for name, init := range map[string]func(context.Context) error{
		"projects":     projectRepo.Initialize,
		"tasks":        taskRepo.Initialize,
		"sessions":     sessionRepo.Initialize,
		"team-members": teamMemberRepo.Initialize,
		"messages":     messageRepo.Initialize,
		"queues":       queueRepo.Initialize,
	} {
		if err := init(ctx); err != nil {
			log.Fatal("Failed to replay repository", zap.String("repository", name), zap.Error(err))
		}
	}

	locks := keylock.New()
	best := besteffort.NewCounter()

	projectSvc := projectservice.NewService(projectRepo, taskRepo, sessionRepo, eventBus, locks, log, best)
	taskSvc := taskservice.NewService(taskRepo, projectSvc, sessionRepo, eventBus, locks, log, best)
	teamMemberSvc := tmservice.NewService(teamMemberRepo, projectSvc, eventBus, locks, log, best)
	sessionSvc := sessionservice.NewService(sessionRepo, taskRepo, projectSvc, teamMemberSvc,
		eventBus, locks, cfg.Spawn, log, best)
	messageSvc := messageservice.NewService(messageRepo, sessionSvc, eventBus, locks, cfg.Messaging, log, best)
	queueSvc := queueservice.NewService(queueRepo, sessionSvc, taskSvc, eventBus, locks, log, best)

	// Cascade wiring: deleting a session (directly or via project delete)
	// drops its inbox and queue; deleting a project also drops its team
	// member files and overrides.
	sessionSvc.AddPurger(messageSvc)
	sessionSvc.AddPurger(queueSvc)
	projectSvc.AddSessionPurger(messageSvc)
	projectSvc.AddSessionPurger(queueSvc)
	projectSvc.AddProjectPurger(teamMemberSvc)

	// Sync fabric: hub fans out, bridge feeds it from the bus.
	hub := gateways.NewHub(log)
	go hub.Run(ctx)
	bridge := gateways.NewBridge(eventBus, hub, log)
	if err := bridge.Start(); err != nil {
		log.Fatal("Failed to start WebSocket bridge", zap.Error(err))
	}
	defer bridge.Stop()

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	wsHandler := gateways.NewHandler(hub, cfg.WebSocket.WriteTimeout(), log)
	router.GET("/ws", wsHandler.HandleConnection)

	projecthandlers.RegisterProjectRoutes(router, projectSvc, log)
	taskhandlers.RegisterTaskRoutes(router, taskSvc, log)
	sessionhandlers.RegisterSessionRoutes(router, sessionSvc, log)
	tmhandlers.RegisterTeamMemberRoutes(router, teamMemberSvc, log)
	messagehandlers.RegisterMessageRoutes(router, messageSvc, log)
	queuehandlers.RegisterQueueRoutes(router, queueSvc, log)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":             "ok",
			"service":            "maestro",
			"uptimeSeconds":      int64(time.Since(startedAt).Seconds()),
			"wsClients":          hub.ClientCount(),
			"busConnected":       eventBus.IsConnected(),
			"bestEffortFailures": best.Failures(),
		})
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info("HTTP server listening",
			zap.String("addr", server.Addr),
			zap.String("websocket", "/ws"),
			zap.String("api", "/api/v1"))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-quit:
			log.Info("Shutting down Maestro...", zap.String("signal", sig.String()))
		case <-groupCtx.Done():
		}
		cancel()

		shutdownCtx, done := context.WithTimeout(context.Background(), 30*time.Second)
		defer done()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Error("Server error", zap.Error(err))
	}

	for name, closer := range map[string]func() error{
		"projects":     projectRepo.Close,
		"tasks":        taskRepo.Close,
		"sessions":     sessionRepo.Close,
		"team-members": teamMemberRepo.Close,
		"messages":     messageRepo.Close,
		"queues":       queueRepo.Close,
	} {
		if err := closer(); err != nil {
			log.Warn("Repository close error", zap.String("repository", name), zap.Error(err))
		}
	}

	log.Info("Maestro stopped")
}

// corsMiddleware allows browser clients (the desktop UI dev server) to talk
// to the local coordinator.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version, Sec-WebSocket-Protocol")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
