package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/gateway"
	"github.com/parley-chat/parley/internal/hub"
	"github.com/parley-chat/parley/internal/media"
	"github.com/parley-chat/parley/internal/media/pionengine"
	"github.com/parley-chat/parley/internal/store"
	router "github.com/parley-chat/parley/internal/transport/http"
	"github.com/parley-chat/parley/internal/transport/ws"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer db.Close()

	engineOpts := pionengine.Options{
		ListenIP:   cfg.Media.ListenIP,
		MinPort:    cfg.Media.MinPort,
		MaxPort:    cfg.Media.MaxPort,
		ICEServers: []string{cfg.Media.STUNServer},
	}
	registry := gateway.NewRegistry(cfg.Media.WorkerCapacity, func(ctx context.Context) (media.Engine, error) {
		return pionengine.New(engineOpts)
	})

	gw := gateway.New(hub.NewHub(), db, db, registry)
	ctl := ws.NewController(gw, db, cfg.ReadLimit, cfg.PingPeriod)

	r := router.SetupRouter(ctx, cfg, gw, ctl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Parley realtime server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	for _, w := range registry.Workers() {
		_ = w.Engine().Close()
	}
	log.Info().Msg("Server exited gracefully")
}
