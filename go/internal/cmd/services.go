package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/char-123717/lelang/go/internal/auction/countdown"
	"github.com/char-123717/lelang/go/internal/auction/gateway"
	"github.com/char-123717/lelang/go/internal/auction/ledger"
	"github.com/char-123717/lelang/go/internal/auction/metrics"
	"github.com/char-123717/lelang/go/internal/auction/store"
	"github.com/char-123717/lelang/go/internal/auction/synchronizer"
	"github.com/char-123717/lelang/go/internal/identity"
)

// Services holds the process-scoped relay components.
type Services struct {
	Store        *store.Store
	Synchronizer *synchronizer.Synchronizer
	Countdown    *countdown.Broadcaster
	Gateway      *gateway.Service
	Subscriber   *ledger.Subscriber
	Metrics      *metrics.Prometheus

	closers []func()
}

// Close releases ledger and database connections.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func setupServices(ctx context.Context, cfg *Config) (*Services, error) {
	// Wire up dependency chain
	// Ledger → Store → Connection manager → Synchronizer → Countdown / Gateway
	s := &Services{}
	clock := clockwork.NewRealClock()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	s.Metrics = metrics.NewPrometheus(registry)

	rpc, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ledger: %w", err)
	}
	s.closers = append(s.closers, rpc.Close)

	reader, err := ledger.NewContractReader(rpc, cfg.Auctions)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to bind auction contracts: %w", err)
	}

	s.Store = store.New(cfg.Auctions)
	cm := gateway.NewConnectionManager(cfg.Gateway.ConnectionConfig, clock, s.Metrics)
	s.Synchronizer = synchronizer.New(reader, s.Store, cm, cm, clock, s.Metrics, cfg.Sync)
	s.Countdown = countdown.New(s.Store, cm, s.Synchronizer, clock)

	verifier, err := setupVerifier(ctx, cfg, clock, s)
	if err != nil {
		s.Close()
		return nil, err
	}

	if cfg.WSRPCURL != "" {
		wsClient, err := ethclient.DialContext(ctx, cfg.WSRPCURL)
		if err != nil {
			log.Warn().Err(err).Msg("ledger event subscription unavailable, relying on polling")
		} else {
			s.closers = append(s.closers, wsClient.Close)
			s.Subscriber, err = ledger.NewSubscriber(wsClient, cfg.Auctions, ledger.DefaultSubscriberConfig(), clock)
			if err != nil {
				s.Close()
				return nil, fmt.Errorf("failed to create ledger subscriber: %w", err)
			}
		}
	}

	s.Gateway = gateway.NewService(cm, cfg.Gateway, s.Store, verifier, s.Synchronizer, s.Synchronizer, clock)
	return s, nil
}

func setupVerifier(ctx context.Context, cfg *Config, clock clockwork.Clock, s *Services) (identity.Verifier, error) {
	if cfg.AuthServiceURL != "" {
		log.Info().Str("url", cfg.AuthServiceURL).Msg("verifying tokens with auth service")
		return identity.NewRemoteVerifier(cfg.AuthServiceURL, cfg.Sync.ReadTimeout), nil
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET or AUTH_SERVICE_URL is required")
	}

	var users identity.UserStore
	if cfg.Database.Enabled() {
		pool, err := pgxpool.New(ctx, cfg.Database.DSN())
		if err != nil {
			return nil, fmt.Errorf("failed to create database pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		s.closers = append(s.closers, pool.Close)
		users = identity.NewPostgresUserStore(pool)
		log.Info().Str("database", cfg.Database.Database).Msg("checking account verification in user database")
	} else {
		log.Warn().Msg("no user database configured, trusting the verified claim in tokens")
	}

	return identity.NewJWTProvider(cfg.JWTSecret, cfg.TokenExpiry, users, clock), nil
}
