package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/questline/session-server-go/internal/config"
	"github.com/questline/session-server-go/internal/database"
	"github.com/questline/session-server-go/internal/gateway"
	"github.com/questline/session-server-go/internal/handler"
	"github.com/questline/session-server-go/internal/jobs"
	"github.com/questline/session-server-go/internal/middleware"
	"github.com/questline/session-server-go/internal/redis"
	"github.com/questline/session-server-go/internal/repository"
	"github.com/questline/session-server-go/internal/service"
	"github.com/questline/session-server-go/internal/session"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	gameRepo := repository.NewGameRepository(db.DB)
	activityRepo := repository.NewActivityLogRepository(db.DB)
	store := repository.NewGameStore(db, gameRepo, activityRepo)

	hub := gateway.NewHub(redisClient)
	defer hub.Close()

	stateService := service.NewStateService()
	registry := session.NewRegistry(store, service.NewStateBroadcaster(stateService, hub))

	authMiddleware := middleware.NewAuthMiddleware()
	rateLimitMiddleware := middleware.NewRedisRateLimitMiddleware(redisClient.Client, cfg.CommandRateLimit)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)

	gameHandler := handler.NewGameHandler(registry, stateService)
	gatewayHandler := gateway.NewHandler(registry, hub, stateService, cfg.PartySecret)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"sessions":  registry.Len(),
			"clients":   hub.TotalClients(),
			"timestamp": time.Now().UnixMilli(),
		})
	})

	// Websocket attach plus the privileged broadcast trigger. No request
	// timeout here: connections are long-lived and authenticate in-band.
	r.Route("/parties/game", func(r chi.Router) {
		r.Mount("/", gatewayHandler.Routes())
	})

	r.Route("/v1/games", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
		r.Use(bodyLimitMiddleware.Handler)
		r.Use(authMiddleware.Handler)
		r.Use(rateLimitMiddleware.Handler)
		r.Mount("/", gameHandler.Routes())
	})

	evictionJob := jobs.NewEvictionJob(registry, cfg.EvictionInterval(), cfg.ActorIdleTTL())
	evictionJob.Start()
	defer evictionJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
