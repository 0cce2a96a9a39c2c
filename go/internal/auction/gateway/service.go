package gateway

import (
	"context"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/char-123717/lelang/go/internal/auction/metrics"
	"github.com/char-123717/lelang/go/internal/auction/store"
	"github.com/char-123717/lelang/go/internal/identity"
)

// Config holds configuration for the relay gateway
type Config struct {
	ConnectionConfig ConnectionConfig
	// JetStreamConfig is nil when no NATS server is configured.
	JetStreamConfig     *JetStreamConsumerConfig
	WithdrawSettleDelay time.Duration
}

// DefaultConfig returns default configuration for the gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig:    DefaultConnectionConfig(),
		WithdrawSettleDelay: 1500 * time.Millisecond,
	}
}

// Service wires the WebSocket router, the HTTP query endpoints and the optional
// JetStream trigger source around one connection manager.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	stateHandler      *StateHandler
	eventConsumer     *EventConsumer
}

// NewService creates the gateway. The JetStream consumer is best-effort: when it
// cannot connect the service runs without it.
func NewService(cm *ConnectionManager, config Config, st *store.Store, verifier identity.Verifier, reconciler Reconciler, ledgerEvents LedgerEventHandler, clock clockwork.Clock) *Service {
	s := &Service{
		connectionManager: cm,
		wsHandler:         NewWebSocketHandler(cm, st, verifier, clock),
		stateHandler:      NewStateHandler(st, cm, reconciler, clock, config.WithdrawSettleDelay),
	}

	if config.JetStreamConfig != nil && ledgerEvents != nil {
		consumer, err := NewEventConsumer(ledgerEvents, *config.JetStreamConfig)
		if err != nil {
			log.Warn().Err(err).Str("url", config.JetStreamConfig.URL).Msg("JetStream unavailable, continuing without it")
		} else {
			s.eventConsumer = consumer
		}
	}

	return s
}

// Start runs the broadcaster and the optional consumer until ctx is cancelled
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting auction gateway service")

	go s.connectionManager.Start(ctx)

	if s.eventConsumer != nil {
		go func() {
			if err := s.eventConsumer.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("event consumer stopped, relying on polling")
			}
		}()
	}

	<-ctx.Done()

	log.Info().Msg("auction gateway service shutting down")
	return s.Stop()
}

// Stop gracefully shuts down the gateway service
func (s *Service) Stop() error {
	if s.eventConsumer != nil {
		if err := s.eventConsumer.Stop(); err != nil {
			log.Error().Err(err).Msg("failed to stop event consumer")
		}
	}
	log.Info().Msg("auction gateway service stopped")
	return nil
}

// RegisterRoutes registers the WebSocket, REST and Connect routes
func (s *Service) RegisterRoutes(mux *http.ServeMux, collector metrics.Collector, opts ...connect.HandlerOption) {
	s.wsHandler.RegisterRoutes(mux)
	s.stateHandler.RegisterStateRoutes(mux)

	path, handler := NewAuctionServiceHandler(s.stateHandler, opts...)
	mux.Handle(path, handler)

	if p, ok := collector.(*metrics.Prometheus); ok {
		mux.Handle("/metrics", p.Handler())
	}
	log.Info().Msg("auction gateway routes registered")
}
