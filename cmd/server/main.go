// Merlin - conversational assistant server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/mkovalev/merlin/internal/api"
	"github.com/mkovalev/merlin/internal/bot"
	"github.com/mkovalev/merlin/internal/config"
	"github.com/mkovalev/merlin/internal/identity"
	"github.com/mkovalev/merlin/internal/middleware"
	"github.com/mkovalev/merlin/internal/model"
	"github.com/mkovalev/merlin/internal/store"
	"github.com/mkovalev/merlin/internal/tools"
	"github.com/mkovalev/merlin/web"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	// Connect the model runner (optional). Without it, tool handlers
	// still answer and generative turns fail gracefully.
	var tok model.Tokenizer
	var gen model.Generator
	genCfg := model.DefaultGenerationConfig()
	genCfg.MaxNewTokens = cfg.MaxNewTokens
	aiEnabled := false
	if cfg.ModelAddr != "" {
		modelClient, err := model.NewClient(model.ClientConfig{
			BaseURL:        cfg.ModelAddr,
			RequestTimeout: cfg.ModelTimeout,
		}, logger)
		if err != nil {
			slog.Warn("Failed to connect to model runner, generative replies disabled", "error", err)
		} else {
			tok = modelClient
			gen = modelClient
			genCfg.PadTokenID = modelClient.PadTokenID()
			aiEnabled = true
		}
	}
	if !aiEnabled {
		slog.Info("Generative replies disabled (MODEL_ADDR not set or runner unreachable)")
	}

	convLog, err := bot.NewConversationLogger(bot.ConversationLogConfig{
		Enabled:   cfg.ConversationLog.Enabled,
		Dir:       cfg.ConversationLog.Dir,
		QueueSize: cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := convLog.Close(); closeErr != nil {
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	// Initialize services.
	router := tools.DefaultRouter(
		tools.NewWeatherHandler(tools.NewWeatherClient(10*time.Second)),
		tools.NewWikiHandler(tools.NewWikiClient(10*time.Second)),
	)
	window := bot.NewContextWindow(tok, cfg.MaxContextTokens)
	svc := bot.NewService(repo, router, window, tok, gen, genCfg, convLog)

	// Initialize handlers.
	rateLimiter := api.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	chatHandler := api.NewHandler(svc, rateLimiter)
	streamHandler := api.NewStreamHandler(svc, cfg.TypingInterval, wsOriginPatterns(cfg))

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(corsOrigins(cfg)))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	chatHandler.RegisterRoutes(r)
	r.Get("/ws/chat", streamHandler.ServeHTTP)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store.StartCleanupWorker(ctx, repo, cfg.ConversationTTL)
	slog.Info("Conversation cleanup worker started", "ttl", cfg.ConversationTTL)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

func corsOrigins(cfg *config.Config) []string {
	if cfg.FrontendURL != "" {
		return []string{cfg.FrontendURL}
	}
	return []string{"*"}
}

func wsOriginPatterns(cfg *config.Config) []string {
	if cfg.IsDevelopment() {
		return []string{"*"}
	}
	if u, err := url.Parse(cfg.FrontendURL); err == nil && u.Host != "" {
		return []string{u.Host}
	}
	return []string{"*"}
}
