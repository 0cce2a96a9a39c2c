package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/char-123717/lelang/go/internal/config"
)

func main() {
	// Load .env file if it exists
	config.LoadDotEnv()

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	zerolog.SetGlobalLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	services, err := setupServices(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up services")
	}
	defer services.Close()

	server := setupServer(cfg.Port, services)

	log.Info().
		Int("auctions", len(cfg.Auctions)).
		Str("rpc_url", cfg.RPCURL).
		Bool("log_subscription", services.Subscriber != nil).
		Bool("jetstream", cfg.Gateway.JetStreamConfig != nil).
		Str("port", cfg.Port).
		Msg("starting auction relay")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return services.Gateway.Start(ctx) })
	g.Go(func() error { return services.Synchronizer.Run(ctx) })
	g.Go(func() error { return services.Countdown.Run(ctx) })
	if services.Subscriber != nil {
		g.Go(func() error { return services.Subscriber.Run(ctx, services.Synchronizer.LogHandler()) })
	}

	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("received shutdown signal")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown failed")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("auction relay stopped with error")
		services.Close()
		os.Exit(1)
	}
	log.Info().Msg("auction relay shutdown complete")
}
