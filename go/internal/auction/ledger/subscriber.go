package ledger

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/char-123717/lelang/go/internal/auction/events"
	"github.com/char-123717/lelang/go/internal/models"
)

// EventHandler receives decoded ledger events.
type EventHandler func(ctx context.Context, ev events.LedgerEvent)

// SubscriberConfig holds reconnect settings for the log subscription.
type SubscriberConfig struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	BufferLen int
}

// DefaultSubscriberConfig returns default reconnect settings.
func DefaultSubscriberConfig() SubscriberConfig {
	return SubscriberConfig{
		BaseDelay: 2 * time.Second,
		MaxDelay:  time.Minute,
		BufferLen: 128,
	}
}

// Subscriber streams contract logs for every configured auction. Delivery is
// best-effort: a failed or dropped subscription only logs and retries.
type Subscriber struct {
	filterer ethereum.LogFilterer
	auctions map[common.Address]string
	config   SubscriberConfig
	clock    clockwork.Clock
}

// NewSubscriber creates a log subscriber for the configured auctions.
func NewSubscriber(filterer ethereum.LogFilterer, auctions []models.AuctionConfig, config SubscriberConfig, clock clockwork.Clock) (*Subscriber, error) {
	contracts, err := contractAddresses(auctions)
	if err != nil {
		return nil, err
	}
	byAddress := make(map[common.Address]string, len(contracts))
	for id, addr := range contracts {
		byAddress[addr] = id
	}
	return &Subscriber{
		filterer: filterer,
		auctions: byAddress,
		config:   config,
		clock:    clock,
	}, nil
}

// Query returns the log filter covering every auction contract and event kind.
func (s *Subscriber) Query() ethereum.FilterQuery {
	addresses := make([]common.Address, 0, len(s.auctions))
	for addr := range s.auctions {
		addresses = append(addresses, addr)
	}
	topics := make([]common.Hash, 0, len(events.LedgerEventKinds))
	for _, kind := range events.LedgerEventKinds {
		topics = append(topics, EventTopic(kind))
	}
	return ethereum.FilterQuery{
		Addresses: addresses,
		Topics:    [][]common.Hash{topics},
	}
}

// Run subscribes until ctx is cancelled, reconnecting with capped exponential backoff.
func (s *Subscriber) Run(ctx context.Context, handle EventHandler) error {
	delay := s.config.BaseDelay
	for {
		logsCh := make(chan types.Log, s.config.BufferLen)
		sub, err := s.filterer.SubscribeFilterLogs(ctx, s.Query(), logsCh)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn().
				Err(err).
				Dur("retry_in", delay).
				Msg("ledger event subscription unavailable, relying on polling")
			if !s.sleep(ctx, delay) {
				return nil
			}
			delay *= 2
			if delay > s.config.MaxDelay {
				delay = s.config.MaxDelay
			}
			continue
		}

		delay = s.config.BaseDelay
		log.Info().Int("contracts", len(s.auctions)).Msg("ledger event subscription established")

		if err := s.consume(ctx, sub, logsCh, handle); err != nil {
			log.Warn().Err(err).Msg("ledger event subscription dropped")
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (s *Subscriber) consume(ctx context.Context, sub ethereum.Subscription, logsCh <-chan types.Log, handle EventHandler) error {
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sub.Err():
			return err
		case l := <-logsCh:
			ev, ok := s.Decode(l)
			if !ok {
				continue
			}
			log.Debug().
				Str("auction_id", ev.AuctionID).
				Str("event_type", string(ev.Kind)).
				Str("tx_hash", ev.TxHash).
				Msg("ledger event received")
			handle(ctx, ev)
		}
	}
}

func (s *Subscriber) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-s.clock.After(d):
		return true
	}
}

// Decode maps a raw contract log to a ledger event. Unknown contracts or topics are skipped.
func (s *Subscriber) Decode(l types.Log) (events.LedgerEvent, bool) {
	auctionID, ok := s.auctions[l.Address]
	if !ok || len(l.Topics) == 0 {
		return events.LedgerEvent{}, false
	}

	ev := events.LedgerEvent{
		EventID:     l.TxHash.Hex() + ":" + big.NewInt(int64(l.Index)).String(),
		AuctionID:   auctionID,
		TxHash:      l.TxHash.Hex(),
		BlockNumber: l.BlockNumber,
	}

	for _, kind := range events.LedgerEventKinds {
		if l.Topics[0] == EventTopic(kind) {
			ev.Kind = kind
			break
		}
	}
	if ev.Kind == "" {
		return events.LedgerEvent{}, false
	}

	if len(l.Topics) > 1 {
		ev.Bidder = common.BytesToAddress(l.Topics[1].Bytes()).Hex()
	}

	values, err := contractABI.Unpack(string(ev.Kind), l.Data)
	if err != nil {
		// The event still signals a change; amounts are informational only.
		log.Debug().Err(err).Str("event_type", string(ev.Kind)).Msg("failed to unpack ledger event data")
		return ev, true
	}
	for _, v := range values {
		switch val := v.(type) {
		case common.Address:
			ev.Bidder = val.Hex()
		case *big.Int:
			ev.Amount = WeiToEther(val)
		}
	}
	return ev, true
}
