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

	"golang.org/x/sync/errgroup"

	"github.com/slotter-org/ollama-chat-backend/internal/config"
	"github.com/slotter-org/ollama-chat-backend/internal/db"
	"github.com/slotter-org/ollama-chat-backend/internal/handlers"
	"github.com/slotter-org/ollama-chat-backend/internal/logger"
	"github.com/slotter-org/ollama-chat-backend/internal/repos"
	"github.com/slotter-org/ollama-chat-backend/internal/seed"
	"github.com/slotter-org/ollama-chat-backend/internal/server"
	"github.com/slotter-org/ollama-chat-backend/internal/services"
	"github.com/slotter-org/ollama-chat-backend/internal/socket"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// Config Setup
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Logger Setup
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Printf("failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	log.Debug("Config loaded",
		"port", cfg.Port,
		"dbDriver", cfg.DBDriver,
		"ollamaBaseURL", cfg.OllamaBaseURL,
		"contextPolicy", cfg.ContextPolicy,
		"autoTitle", cfg.EnableAutoTitle,
		"redisAddress", cfg.RedisAddress,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database Setup
	log.Info("Setting Up Database from Main now...")
	dbService, err := db.Open(cfg, log)
	if err != nil {
		log.Error("DB init failed", "error", err)
		os.Exit(1)
	}
	defer dbService.Close()
	if err = dbService.AutoMigrateAll(); err != nil {
		log.Error("Auto migration failed", "error", err)
		os.Exit(1)
	}
	theDB := dbService.DB()
	log.Info("Database Setup From Main Successful :)")

	// Repositories Setup
	log.Info("Setting Up Repositories from Main now...")
	chatRepo := repos.NewChatRepo(theDB, log)
	messageRepo := repos.NewMessageRepo(theDB, log)
	projectRepo := repos.NewProjectRepo(theDB, log)
	projectFileRepo := repos.NewProjectFileRepo(theDB, log)
	settingsRepo := repos.NewSettingsRepo(theDB, log)
	backendRepo := repos.NewBackendRepo(theDB, log)
	log.Info("Repositories Set Up From Main Successful :)")

	// Websocket Setup
	log.Info("Setting Up Websocket Hub From Main Now :)")
	wsHub := socket.NewHub(log)

	// Redis PubSub
	redisPubSub, err := socket.NewRedisPubSub(log, cfg.RedisAddress, cfg.RedisPassword, cfg.RedisChannel)
	if err != nil {
		log.Warn("Failed to init redis pubsub, realtime events stay local", "error", err)
	} else if err := redisPubSub.StartSubscriber(wsHub); err != nil {
		log.Warn("Failed to subscribe to Redis pub/sub", "error", err)
		redisPubSub.Stop()
		redisPubSub = nil
	} else {
		wsHub.SetRedisPubSub(redisPubSub)
		log.Info("Redis pubsub is active!")
	}

	// Services Setup
	log.Info("Setting up Services from Main now...")
	bucketService, err := services.NewBucketService(ctx, log, cfg.GCSBucket, cfg.GCSCredentialsFile)
	if err != nil {
		log.Error("Cannot init BucketService", "error", err)
		os.Exit(1)
	}
	defer bucketService.Close()
	avatarService, err := services.NewAvatarService(log, bucketService)
	if err != nil {
		log.Error("Cannot init AvatarService", "error", err)
		os.Exit(1)
	}
	ollamaClient := services.NewOllamaClient(log, cfg.HealthCheckTimeout, cfg.StreamTimeout)
	settingsService := services.NewSettingsService(theDB, log, services.SettingsDefaults{
		DefaultModel:       cfg.DefaultModel,
		SummarizationModel: cfg.TitleGenerationModel,
	}, settingsRepo, chatRepo)
	healthMonitor := services.NewHealthMonitor(theDB, log, backendRepo, ollamaClient, wsHub, cfg.HealthCheckInterval)
	titleGenerator := services.NewTitleGenerator(log, ollamaClient, chatRepo, messageRepo, wsHub, services.TitleGeneratorConfig{
		PromptFile:   cfg.TitlePromptFile,
		DefaultModel: cfg.TitleGenerationModel,
	})
	orchestrator := services.NewStreamOrchestrator(
		theDB, log,
		chatRepo, messageRepo, projectRepo, projectFileRepo, settingsRepo, backendRepo,
		settingsService,
		services.NewContextAssembler(cfg.ContextPolicy),
		ollamaClient,
		titleGenerator,
		services.StreamOrchestratorConfig{
			DefaultBaseURL:  cfg.OllamaBaseURL,
			EnableAutoTitle: cfg.EnableAutoTitle,
		},
	)
	chatService := services.NewChatService(theDB, log, chatRepo, messageRepo, projectRepo, backendRepo, settingsRepo, settingsService, wsHub)
	projectService := services.NewProjectService(theDB, log, projectRepo, projectFileRepo, chatRepo, messageRepo, settingsRepo, avatarService, bucketService)
	backendService := services.NewBackendService(theDB, log, backendRepo, chatRepo, ollamaClient, healthMonitor, cfg.OllamaBaseURL)
	log.Info("Services Set Up From Main Successful :)")

	// Seed Setup
	log.Info("Attempting to Seed The Database From Main now...")
	if err := seed.SeedAll(ctx, theDB, log, settingsService, backendRepo, cfg.OllamaBaseURL); err != nil {
		log.Warn("Failed to seed data :(", "error", err)
	}

	// Handler Setup
	log.Info("Setting Up Handlers from Main now...")
	router := server.NewRouter(server.RouterConfig{
		Log:             log,
		CORSOrigins:     cfg.CORSOrigins,
		ChatHandler:     handlers.NewChatHandler(chatService, settingsService),
		ProjectHandler:  handlers.NewProjectHandler(projectService),
		SettingsHandler: handlers.NewSettingsHandler(settingsService),
		BackendHandler:  handlers.NewBackendHandler(backendService),
		StreamHandler:   handlers.NewStreamHandler(log, orchestrator, cfg.StreamTimeout),
		WsHandler:       handlers.WsHandler(wsHub, log),
	})
	log.Info("Router Set Up From Main Successful :)")

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	healthMonitor.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Server listening", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		healthMonitor.Stop()
		err := httpServer.Shutdown(shutdownCtx)
		if terr := orchestrator.Shutdown(shutdownCtx); terr != nil {
			log.Warn("Pending title jobs cancelled", "error", terr)
		}
		if redisPubSub != nil {
			redisPubSub.Stop()
		}
		return err
	})

	if err := g.Wait(); err != nil {
		log.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("Server stopped cleanly")
}
