package main

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/char-123717/lelang/go/internal/auction/gateway"
	"github.com/char-123717/lelang/go/internal/auction/synchronizer"
	"github.com/char-123717/lelang/go/internal/config"
	"github.com/char-123717/lelang/go/internal/identity"
	"github.com/char-123717/lelang/go/internal/models"
)

// Config is everything the relay reads from the environment.
type Config struct {
	Port           string
	LogLevel       zerolog.Level
	Auctions       []models.AuctionConfig
	RPCURL         string
	WSRPCURL       string
	JWTSecret      string
	TokenExpiry    time.Duration
	AuthServiceURL string
	Database       config.DatabaseConfig
	Sync           synchronizer.Config
	Gateway        gateway.Config
}

func loadConfig() (*Config, error) {
	auctions, err := config.LoadAuctions(config.GetEnv("AUCTIONS_CONFIG", "auctions.yaml"))
	if err != nil {
		return nil, err
	}

	level, err := zerolog.ParseLevel(config.GetEnv("LOG_LEVEL", "info"))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	syncCfg := synchronizer.DefaultConfig()
	syncCfg.PollInterval = config.GetEnvAsDuration("POLL_INTERVAL", syncCfg.PollInterval)
	syncCfg.ReadTimeout = config.GetEnvAsDuration("LEDGER_READ_TIMEOUT", syncCfg.ReadTimeout)
	syncCfg.ReadConcurrency = config.GetEnvAsInt("LEDGER_READ_CONCURRENCY", syncCfg.ReadConcurrency)

	gw := gateway.DefaultConfig()
	gw.WithdrawSettleDelay = config.GetEnvAsDuration("WITHDRAW_SETTLE_DELAY", gw.WithdrawSettleDelay)

	natsURL := config.GetEnv("NATS_URL", "")
	if natsURL != "" {
		js := gateway.DefaultJetStreamConsumerConfig()
		js.URL = natsURL
		js.StreamName = config.GetEnv("NATS_STREAM", js.StreamName)
		js.SubjectFilter = config.GetEnv("NATS_SUBJECT", js.SubjectFilter)
		js.MaxDeliver = config.GetEnvAsInt("NATS_MAX_DELIVER", js.MaxDeliver)
		gw.JetStreamConfig = &js
	}

	return &Config{
		Port:           config.GetEnv("PORT", "3000"),
		LogLevel:       level,
		Auctions:       auctions,
		RPCURL:         config.GetEnv("RPC_URL", "http://localhost:8545"),
		WSRPCURL:       config.GetEnv("WS_RPC_URL", ""),
		JWTSecret:      config.GetEnv("JWT_SECRET", ""),
		TokenExpiry:    config.GetEnvAsDuration("JWT_EXPIRY", identity.DefaultTokenExpiry),
		AuthServiceURL: config.GetEnv("AUTH_SERVICE_URL", ""),
		Database:       config.NewDatabaseConfigFromEnv(),
		Sync:           syncCfg,
		Gateway:        gw,
	}, nil
}
