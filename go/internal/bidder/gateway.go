// Package bidder is the participant-side bid submission gateway. It pre-checks
// bids against the last known auction state, writes them to the ledger and
// tracks the outcome until the relay's push updates catch up.
package bidder

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/char-123717/lelang/go/internal/auction/events"
)

var (
	ErrInvalidAmount = errors.New("bid amount must be positive")
	ErrBelowMinimum  = errors.New("total bid is below the minimum bid")
	ErrNotHigher     = errors.New("total bid must be higher than the highest bid")
	ErrAuctionEnded  = errors.New("auction has ended")
	ErrInFlight      = errors.New("another ledger write is still pending")
	ErrWriteRejected = errors.New("ledger write rejected")
)

// LedgerWriter submits the bidder's transactions. *ledger.ContractWriter satisfies it.
type LedgerWriter interface {
	Address() string
	Bid(ctx context.Context, value decimal.Decimal) error
	Withdraw(ctx context.Context) error
	CumulativeBid(ctx context.Context) (decimal.Decimal, error)
}

// Notifier tells the relay about a confirmed withdrawal.
type Notifier interface {
	NotifyWithdrawn(ctx context.Context, auctionID, walletAddress string) error
}

// Status is the outcome of the most recent ledger write.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// State is the bidder's view of one auction.
type State struct {
	AuctionID    string
	MinBid       decimal.Decimal
	HighestBid   decimal.Decimal
	HasAnyBidder bool
	Cumulative   decimal.Decimal
	// Leading is set after a confirmed bid beat the known highest bid, until
	// a push update says otherwise.
	Leading   bool
	Ended     bool
	Status    Status
	LastError string
}

// Gateway serializes one bidder's writes against one auction.
type Gateway struct {
	ledger   LedgerWriter
	notifier Notifier

	mu    sync.Mutex
	state State
}

// NewGateway creates a gateway for auctionID with the given minimum bid.
func NewGateway(auctionID string, minBid decimal.Decimal, ledger LedgerWriter, notifier Notifier) *Gateway {
	return &Gateway{
		ledger:   ledger,
		notifier: notifier,
		state: State{
			AuctionID:  auctionID,
			MinBid:     minBid,
			HighestBid: decimal.Zero,
			Cumulative: decimal.Zero,
			Status:     StatusIdle,
		},
	}
}

// State returns a copy of the current state.
func (g *Gateway) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// ApplyDetails replaces the auction view with a fetched query response.
func (g *Gateway) ApplyDetails(d Details) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state.MinBid = d.MinBidAmount()
	g.state.Ended = g.state.Ended || d.Ended
	g.setHighest(d.HighestBidAmount())
}

// ApplyHighestBid applies a pushed highestBidUpdate. Updates for other auctions are ignored.
func (g *Gateway) ApplyHighestBid(p events.HighestBidUpdatePayload) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p.AuctionID != g.state.AuctionID {
		return
	}
	g.setHighest(p.Value())
}

// ApplyTimer records the end of the auction from a pushed timerUpdate.
func (g *Gateway) ApplyTimer(p events.TimerUpdatePayload) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p.ID == g.state.AuctionID && p.Ended {
		g.state.Ended = true
	}
}

func (g *Gateway) setHighest(amount decimal.Decimal) {
	g.state.HighestBid = amount
	g.state.HasAnyBidder = amount.IsPositive()
	g.state.Leading = g.state.Cumulative.IsPositive() && g.state.Cumulative.GreaterThanOrEqual(amount)
}

// RefreshCumulative reloads the bidder's running total from the ledger.
func (g *Gateway) RefreshCumulative(ctx context.Context) error {
	total, err := g.ledger.CumulativeBid(ctx)
	if err != nil {
		return fmt.Errorf("failed to read cumulative bid: %w", err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state.Cumulative = total
	return nil
}

// ValidateBid returns the cumulative total val would produce, or the reason it
// would be rejected without a ledger write.
func (g *Gateway) ValidateBid(val decimal.Decimal) (decimal.Decimal, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.validate(val)
}

func (g *Gateway) validate(val decimal.Decimal) (decimal.Decimal, error) {
	if !val.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	if g.state.Ended {
		return decimal.Zero, ErrAuctionEnded
	}
	newTotal := g.state.Cumulative.Add(val)
	if !g.state.HasAnyBidder && newTotal.LessThan(g.state.MinBid) {
		return newTotal, fmt.Errorf("%w: %s < %s ETH", ErrBelowMinimum, newTotal, g.state.MinBid)
	}
	if g.state.HasAnyBidder && newTotal.LessThanOrEqual(g.state.HighestBid) {
		return newTotal, fmt.Errorf("%w: the highest bid right now is %s ETH", ErrNotHigher, g.state.HighestBid)
	}
	return newTotal, nil
}

// PlaceBid validates val, writes it to the ledger and applies the result.
func (g *Gateway) PlaceBid(ctx context.Context, val decimal.Decimal) error {
	g.mu.Lock()
	if g.state.Status == StatusPending {
		g.mu.Unlock()
		return ErrInFlight
	}
	newTotal, err := g.validate(val)
	if err != nil {
		g.mu.Unlock()
		return err
	}
	g.state.Status = StatusPending
	g.state.LastError = ""
	g.mu.Unlock()

	log.Info().
		Str("auction_id", g.state.AuctionID).
		Str("value", val.String()).
		Str("new_total", newTotal.String()).
		Msg("submitting bid")

	if err := g.ledger.Bid(ctx, val); err != nil {
		g.fail(err)
		return fmt.Errorf("%w: %v", ErrWriteRejected, err)
	}

	g.mu.Lock()
	g.state.Status = StatusConfirmed
	g.state.Cumulative = newTotal
	if newTotal.GreaterThan(g.state.HighestBid) {
		g.state.HighestBid = newTotal
		g.state.HasAnyBidder = true
		g.state.Leading = true
	}
	g.mu.Unlock()

	if err := g.RefreshCumulative(ctx); err != nil {
		log.Warn().Err(err).Msg("keeping local cumulative bid")
	}
	return nil
}

// Withdraw pulls the bidder's funds and notifies the relay. A failed notice is
// logged only; the relay's next poll catches up.
func (g *Gateway) Withdraw(ctx context.Context) error {
	g.mu.Lock()
	if g.state.Status == StatusPending {
		g.mu.Unlock()
		return ErrInFlight
	}
	g.state.Status = StatusPending
	g.state.LastError = ""
	auctionID := g.state.AuctionID
	g.mu.Unlock()

	if err := g.ledger.Withdraw(ctx); err != nil {
		g.fail(err)
		return fmt.Errorf("%w: %v", ErrWriteRejected, err)
	}

	g.mu.Lock()
	g.state.Status = StatusConfirmed
	g.state.Cumulative = decimal.Zero
	g.state.Leading = false
	g.mu.Unlock()

	if g.notifier != nil {
		if err := g.notifier.NotifyWithdrawn(ctx, auctionID, g.ledger.Address()); err != nil {
			log.Warn().Err(err).Str("auction_id", auctionID).Msg("failed to notify relay of withdrawal")
		}
	}
	return nil
}

func (g *Gateway) fail(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state.Status = StatusFailed
	g.state.LastError = err.Error()
	log.Error().Err(err).Str("auction_id", g.state.AuctionID).Msg("ledger write failed")
}
