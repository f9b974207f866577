package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/rahulr8/trailblazer/internal/api"
	"github.com/rahulr8/trailblazer/internal/auth"
	"github.com/rahulr8/trailblazer/internal/config"
	"github.com/rahulr8/trailblazer/internal/connection"
	"github.com/rahulr8/trailblazer/internal/events"
	"github.com/rahulr8/trailblazer/internal/provider"
	"github.com/rahulr8/trailblazer/internal/provider/gateway"
	"github.com/rahulr8/trailblazer/internal/stats"
	"github.com/rahulr8/trailblazer/internal/store/postgres"
	syncpipeline "github.com/rahulr8/trailblazer/internal/sync"
	httptransport "github.com/rahulr8/trailblazer/internal/transport/http"
)

func main() {
	configPath := os.Getenv("TRAILBLAZER_CONFIG")
	cfg, err := config.Load(configPath)
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Str("service", "trailblazer").Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatal().Err(err).Msg("connect to postgres")
	}
	defer pool.Close()

	repo := postgres.NewRepository(pool)
	connections := connection.NewService(repo, log)
	updater := stats.NewUpdater(repo, repo, log)

	var healthProvider provider.Provider = provider.Unavailable{}
	if cfg.GatewayURL != "" {
		client, err := gateway.NewClient(cfg.GatewayURL, cfg.GatewayToken, cfg.FetchTimeout, log)
		if err != nil {
			log.Fatal().Err(err).Msg("build gateway client")
		}
		healthProvider = client
	} else {
		log.Warn().Msg("no gateway configured, health source reads as unavailable")
	}

	var sink syncpipeline.EventSink
	if len(cfg.KafkaBrokers) > 0 {
		writer := events.NewWriter(cfg.KafkaBrokers)
		defer writer.Close()
		sink = events.NewPublisher(writer, log)
	}

	orchestrator := syncpipeline.NewOrchestrator(healthProvider, repo, connections, updater, sink, syncpipeline.Config{
		Lookback:     cfg.Lookback(),
		StepsPerKm:   cfg.StepsPerKm,
		FetchTimeout: cfg.FetchTimeout,
	}, log)

	handler := api.NewHandler(orchestrator, connections, repo, repo, updater, cfg.StepsPerKm, log)

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}, func(r *http.Request) bool {
		return r.URL.Path == "/healthz" || r.URL.Path == "/metrics"
	})

	router := chi.NewRouter()
	router.Use(requestLogger(log), authMiddleware.Wrap)
	handler.RegisterRoutes(router)
	router.Handle("/metrics", promhttp.Handler())

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = httptransport.Run(runCtx, httptransport.ServerConfig{
		Address:         cfg.HTTPAddress,
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}, router, log)
	if err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}

func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			next.ServeHTTP(w, r)
			log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Dur("elapsed", time.Since(started)).Msg("request")
		})
	}
}
