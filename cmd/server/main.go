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

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/WatchParty/internal/adapters/http"
	"github.com/dkeye/WatchParty/internal/adapters/store/gormstore"
	"github.com/dkeye/WatchParty/internal/adapters/store/pgstore"
	"github.com/dkeye/WatchParty/internal/app"
	"github.com/dkeye/WatchParty/internal/app/orch"
	"github.com/dkeye/WatchParty/internal/config"
	"github.com/dkeye/WatchParty/internal/core"
	"github.com/dkeye/WatchParty/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && lvl != zerolog.NoLevel {
		zerolog.SetGlobalLevel(lvl)
	}
	if cfg.Mode == "release" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	store, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("failed to open store")
	}

	persist := app.NewPersister(store, cfg.Rooms.PersistQueue, 5*time.Second)
	go persist.Run()

	manager := app.NewRoomManager(store, persist, app.RoomManagerConfig{IdleTimeout: cfg.Rooms.IdleTimeout})
	reg := app.NewRegistry()
	defaults := domain.DefaultSettings()
	defaults.MaxParticipants = cfg.Rooms.MaxParticipants

	o := orch.NewOrchestrator(reg, manager, app.SimplePolicy{}, persist, defaults)
	janitor := app.NewJanitor(manager, persist, cfg.Rooms.CleanupInterval, cfg.Rooms.IdleTimeout)

	// Connections outlive the signal until the rooms are drained.
	connCtx, connCancel := context.WithCancel(context.Background())
	defer connCancel()
	r := router.SetupRouter(connCtx, cfg, o)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("WatchParty server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return janitor.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		manager.Drain()
		connCancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server error")
	}

	manager.Drain()
	flushCtx, flushCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer flushCancel()
	if err := persist.Stop(flushCtx); err != nil {
		log.Warn().Err(err).Msg("pending store writes abandoned")
	}
	if err := closeStore(); err != nil {
		log.Warn().Err(err).Msg("close store")
	}
	log.Info().Msg("Server exited gracefully")
}

// openStore returns a nil store for the "none" driver; rooms then live only
// in memory.
func openStore(ctx context.Context, cfg config.StoreConfig) (core.Store, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Driver {
	case "sqlite":
		s, err := gormstore.Open(cfg.DSN)
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	case "postgres":
		openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		s, err := pgstore.Open(openCtx, cfg.DSN)
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	default:
		log.Info().Str("module", "store").Msg("persistence disabled")
		return nil, noop, nil
	}
}
