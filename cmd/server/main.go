// Command server runs the overlay backend: EventSub webhook ingestion, the
// per-broadcaster command log, the JSON admin API, and the SSE patch streams.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-overlay-backend/internal/clock"
	"github.com/tbourn/go-overlay-backend/internal/config"
	httpapi "github.com/tbourn/go-overlay-backend/internal/http"
	"github.com/tbourn/go-overlay-backend/internal/observability"
	"github.com/tbourn/go-overlay-backend/internal/repo"
	"github.com/tbourn/go-overlay-backend/internal/services"
	"github.com/tbourn/go-overlay-backend/internal/sse"
	"github.com/tbourn/go-overlay-backend/internal/sysutil"
	"github.com/tbourn/go-overlay-backend/internal/tap"
)

func main() {
	// .env is optional; real deployments use the environment directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	version := sysutil.FirstNonEmpty(os.Getenv("SERVICE_VERSION"), "dev")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.Setup(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("tracing setup failed")
	}

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}
	if cfg.OTEL.Enabled {
		if err := repo.EnableTracing(db); err != nil {
			log.Fatal().Err(err).Msg("database tracing failed")
		}
	}

	clk := clock.System{}
	hub := sse.NewHub(cfg.SSE.RingMax, cfg.SSE.RingTTL, clk.Now)
	tp := tap.New(256)

	exec := &services.Executor{
		DB:    db,
		Sink:  hub,
		Tap:   tp,
		Clock: clk,
		IDs:   clock.UUID{},
	}

	maint := &services.Maintenance{
		DB:       db,
		Clock:    clk,
		Interval: cfg.Retention.Interval,
		TTL:      cfg.Retention.TTL,
		Batch:    cfg.Retention.Batch,
	}
	go maint.Run(ctx)

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		DB:     db,
		Ingest: &services.Ingest{DB: db, Executor: exec, Tap: tp, Clock: clk, IDs: clock.UUID{}},
		State:  &services.State{DB: db, Clock: clk},
		Admin:  &services.Admin{Executor: exec, Clock: clk},
		Debug:  &services.Debug{DB: db, Clock: clk},
		Hub:    hub,
		Tap:    tp,
		Clock:  clk,
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().
			Str("port", cfg.Port).
			Str("version", version).
			Bool("debug_endpoints", cfg.DebugEnabled).
			Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("tracing shutdown failed")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info().Msg("bye")
}
