package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/observer/parley/internal/api"
	"github.com/observer/parley/internal/auth"
	"github.com/observer/parley/internal/config"
	"github.com/observer/parley/internal/database"
	"github.com/observer/parley/internal/linkpreview"
	"github.com/observer/parley/internal/presence"
	"github.com/observer/parley/internal/pubsub"
	"github.com/observer/parley/internal/server"
	"github.com/observer/parley/internal/storage"
	"github.com/observer/parley/internal/throttle"
	"github.com/observer/parley/internal/websocket"
)

func main() {
	// Structured logging from the start
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Background workers live until SIGINT/SIGTERM
	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Create context for initialization
	ctx, cancel := context.WithTimeout(runCtx, 10*time.Second)
	defer cancel()

	// Connect to database
	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("connected to database")

	if err := database.EnsureSchema(ctx, db, database.Migrations(), logger); err != nil {
		slog.Error("failed to ensure database schema", "error", err)
		os.Exit(1)
	}

	// Initialize repositories
	userRepo := database.NewUserRepository(db)
	chatRepo := database.NewChatRepository(db)
	messageRepo := database.NewMessageRepository(db)

	tokenService, err := auth.NewTokenService(cfg.JWTSigningKey, cfg.JWTTTL)
	if err != nil {
		slog.Error("failed to create token service", "error", err)
		os.Exit(1)
	}
	authService := auth.NewService(userRepo, tokenService)

	// Initialize PubSub: in-memory for a single instance, Redis to fan out across instances
	var ps pubsub.PubSub
	switch cfg.PubSubType {
	case "redis":
		ps, err = pubsub.NewRedisPubSub(ctx, cfg.RedisURL, logger)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		slog.Info("using redis pubsub")
	default:
		ps = pubsub.NewMemoryPubSub(logger)
		slog.Info("using in-memory pubsub")
	}
	defer ps.Close()

	// Broadcaster lets REST handlers push events to sockets
	broadcaster := websocket.NewPubSubBroadcaster(ps)

	guard := throttle.New(cfg.ThrottleInterval, cfg.ThrottleIdleTTL)
	go guard.Run(runCtx)

	// Avatar storage is optional; the avatar route answers 503 without it
	var avatars api.AvatarStorage
	if cfg.StorageEnabled() {
		r2, err := storage.NewR2Storage(storage.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			Bucket:          cfg.R2Bucket,
			Endpoint:        cfg.R2Endpoint,
			PublicURL:       cfg.R2PublicURL,
		})
		if err != nil {
			slog.Error("failed to initialize R2 storage", "error", err)
			os.Exit(1)
		}
		avatars = r2
		slog.Info("R2 storage initialized", "bucket", cfg.R2Bucket)
	} else {
		slog.Warn("R2 storage not configured - avatar uploads disabled")
	}

	// Initialize handlers
	authHandler := api.NewAuthHandler(authService, logger)
	userHandler := api.NewUserHandler(userRepo, avatars, logger)
	chatHandler := api.NewChatHandler(chatRepo, userRepo, broadcaster, logger)
	messageHandler := api.NewMessageHandler(chatRepo, messageRepo, broadcaster, logger)
	previewHandler := api.NewLinkPreviewHandler(linkpreview.NewFetcher(linkpreview.Options{}, logger), logger)

	var oauthHandlers *api.OAuthHandlers
	if cfg.OAuthEnabled {
		oauthService := auth.NewOAuthService(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL, logger)
		go oauthService.Run(runCtx)
		oauthHandlers = api.NewOAuthHandlers(oauthService, authService, cfg.AppBaseURL, logger)
		slog.Info("google sign-in enabled")
	}

	// Initialize WebSocket hub and handler
	hub := websocket.NewHub(websocket.HubConfig{
		Registry:   presence.NewRegistry(),
		PubSub:     ps,
		Users:      userRepo,
		InstanceID: uuid.NewString(),
		Replicate:  cfg.PubSubType == "redis",
		Logger:     logger,
	})
	hubDone := make(chan struct{})
	go func() {
		hub.Run(runCtx)
		close(hubDone)
	}()
	wsHandler := websocket.NewHandler(hub, authService, cfg.WSPongWait, cfg.AllowedOrigins, logger)

	// Create and start server
	srv := server.New(cfg, &server.Dependencies{
		DB:                 db,
		Authenticator:      authService,
		Guard:              guard,
		AuthHandler:        authHandler,
		OAuthHandlers:      oauthHandlers,
		UserHandler:        userHandler,
		ChatHandler:        chatHandler,
		MessageHandler:     messageHandler,
		LinkPreviewHandler: previewHandler,
		WSHandler:          wsHandler,
		Logger:             logger,
	})

	go func() {
		slog.Info("starting server", "addr", cfg.ServerAddr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt
	<-runCtx.Done()
	slog.Info("shutting down gracefully...")

	// Give active connections 10 seconds to finish
	timeoutCtx, timeoutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer timeoutCancel()

	if err := srv.Shutdown(timeoutCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	// Hijacked sockets are not tracked by Shutdown; the hub closes them
	select {
	case <-hubDone:
	case <-timeoutCtx.Done():
	}

	slog.Info("server stopped")
}
