package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yungbote/classpulse-backend/internal/config"
	"github.com/yungbote/classpulse-backend/internal/db"
	"github.com/yungbote/classpulse-backend/internal/handlers"
	"github.com/yungbote/classpulse-backend/internal/logger"
	"github.com/yungbote/classpulse-backend/internal/middleware"
	"github.com/yungbote/classpulse-backend/internal/observability"
	"github.com/yungbote/classpulse-backend/internal/repos"
	"github.com/yungbote/classpulse-backend/internal/server"
	"github.com/yungbote/classpulse-backend/internal/services"
	"github.com/yungbote/classpulse-backend/internal/sse"
	"github.com/yungbote/classpulse-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Config
	cfg, err := config.Load(log)
	if err != nil {
		log.Fatal("Config load failed", "error", err)
	}

	// Tracing
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()
	otelShutdown := observability.InitOTel(rootCtx, log, observability.OtelConfig{
		ServiceName: "classpulse-backend",
		Environment: os.Getenv("DEPLOY_ENV"),
		Version:     os.Getenv("SERVICE_VERSION"),
	})

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Fatal("Postgres init failed", "error", err)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Fatal("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up repos...")
	gradeRepo := repos.NewGradeRepo(thePG, log)
	classAnalyticsRepo := repos.NewClassAnalyticsRepo(thePG, log)
	studentAnalyticsRepo := repos.NewStudentAnalyticsRepo(thePG, log)
	documentRepo := repos.NewSemanticDocumentRepo(thePG, log)
	threadRepo := repos.NewChatThreadRepo(thePG, log)
	messageRepo := repos.NewChatMessageRepo(thePG, log)
	lessonPlanRepo := repos.NewLessonPlanRepo(thePG, log)

	// SSE hub + cross-instance bus
	log.Info("Setting up SSE hub...")
	sseHub := sse.NewSSEHub(log)
	var emitter services.SSEEmitter = &services.HubEmitter{Hub: sseHub}
	sseBus, busErr := services.NewRedisSSEBus(log)
	if busErr != nil {
		log.Warn("Redis SSE bus unavailable, running single-instance delivery", "error", busErr)
	} else {
		// All emits go through redis; the forwarder feeds the local hub, so
		// every instance (including this one) delivers exactly once.
		if err := sseBus.StartForwarder(rootCtx, sseHub.Broadcast); err != nil {
			log.Warn("Redis SSE forwarder failed, falling back to local delivery", "error", err)
		} else {
			emitter = &services.BusEmitter{Bus: sseBus}
		}
		defer sseBus.Close()
	}

	// Services
	log.Info("Setting up services...")
	openaiClient, err := services.NewOpenAIClient(log, cfg.Embedding.MaxChars)
	if err != nil {
		log.Fatal("Could not init OpenAIClient", "error", err)
	}

	notifier := services.NewChatNotifier(emitter)
	indexer := services.NewSemanticIndexer(log, openaiClient, documentRepo, classAnalyticsRepo, cfg.Analytics.SupportThreshold)
	analyticsService := services.NewAnalyticsService(log, gradeRepo, classAnalyticsRepo, studentAnalyticsRepo, indexer)
	retrieval := services.NewRetrievalAssembler(log, openaiClient, documentRepo, cfg.Retrieval)
	lessonPlanService := services.NewLessonPlanService(log, openaiClient, classAnalyticsRepo, lessonPlanRepo, indexer, notifier)
	chatService := services.NewChatService(log, threadRepo, messageRepo, retrieval, openaiClient, lessonPlanService, notifier, cfg.Streaming)

	// Middleware + handlers
	authMiddleware, err := middleware.NewAuthMiddleware(log)
	if err != nil {
		log.Fatal("Could not init auth middleware", "error", err)
	}

	router := server.NewRouter(server.RouterConfig{
		AuthMiddleware:    authMiddleware,
		GradeHandler:      handlers.NewGradeHandler(log, analyticsService),
		AnalyticsHandler:  handlers.NewAnalyticsHandler(log, analyticsService),
		ChatHandler:       handlers.NewChatHandler(log, chatService),
		LessonPlanHandler: handlers.NewLessonPlanHandler(log, lessonPlanService),
		SSEHandler:        handlers.NewSSEHandler(log, sseHub),
	})

	port := utils.GetEnv("PORT", "8080", log)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("HTTP server listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server failed", "error", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown error", "error", err)
	}
	if otelShutdown != nil {
		if err := otelShutdown(shutdownCtx); err != nil {
			log.Warn("OTel shutdown error", "error", err)
		}
	}
	rootCancel()
}
