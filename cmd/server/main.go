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
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/filmlobby/groupsync-go/internal/config"
	"github.com/filmlobby/groupsync-go/internal/database"
	"github.com/filmlobby/groupsync-go/internal/feed"
	"github.com/filmlobby/groupsync-go/internal/handler"
	"github.com/filmlobby/groupsync-go/internal/jobs"
	"github.com/filmlobby/groupsync-go/internal/middleware"
	"github.com/filmlobby/groupsync-go/internal/redis"
	"github.com/filmlobby/groupsync-go/internal/repository"
	"github.com/filmlobby/groupsync-go/internal/service"
)

func main() {
	_ = godotenv.Load()

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

	sessionRepo := repository.NewSessionRepository(db.DB)
	participantRepo := repository.NewParticipantRepository(db.DB)

	broker := feed.NewBroker(redisClient)
	defer broker.Close()

	sessionService := service.NewSessionService(sessionRepo, participantRepo, broker, cfg.SessionTTL())
	rateLimiter := service.NewRateLimiter(redisClient)

	createLimit := middleware.NewIPRateLimit(rateLimiter, cfg.CreateRateLimitPerMin, time.Minute, "create")
	joinLimit := middleware.NewIPRateLimit(rateLimiter, cfg.JoinRateLimitPerMin, time.Minute, "join")

	sessionHandler := handler.NewSessionHandler(sessionService)
	participantHandler := handler.NewParticipantHandler(sessionService)
	eventsHandler := handler.NewEventsHandler(broker, sessionService)
	wsHandler := handler.NewWSHandler(broker, sessionService)

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
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/v1/sessions", func(r chi.Router) {
		// Streaming endpoints sit outside the request timeout.
		r.Get("/{code}/events", eventsHandler.ServeHTTP)
		r.Get("/{code}/ws", wsHandler.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
			r.Mount("/", sessionHandler.Routes(createLimit.Handler, joinLimit.Handler))
		})
	})

	r.Route("/v1/participants", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
		r.Mount("/", participantHandler.Routes())
	})

	cleanupJob := jobs.NewCleanupJob(db, sessionRepo, participantRepo, config.RetentionJobInterval)
	cleanupJob.Start()
	defer cleanupJob.Stop()

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
