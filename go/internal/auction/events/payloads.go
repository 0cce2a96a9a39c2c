package events

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/char-123717/lelang/go/internal/models"
)

// Payload types shared between the relay and the bidder client.

// AuctionStateUpdatePayload is the lobby-wide summary of one auction.
type AuctionStateUpdatePayload struct {
	AuctionID  string  `json:"auctionId"`
	HighestBid float64 `json:"highestBid"`
	Ended      bool    `json:"ended"`
	TimeLeft   int64   `json:"timeLeft"`
}

func (AuctionStateUpdatePayload) EventType() EventType { return EventTypeAuctionStateUpdate }

func (p AuctionStateUpdatePayload) validate() error {
	if p.AuctionID == "" {
		return invalid(EventTypeAuctionStateUpdate, "auctionId is required")
	}
	if p.TimeLeft < 0 {
		return invalid(EventTypeAuctionStateUpdate, "timeLeft is negative")
	}
	return nil
}

// HighestBidUpdatePayload announces the authoritative highest bid of an auction.
// AmountExact carries the same value as a decimal string with full wei precision.
type HighestBidUpdatePayload struct {
	AuctionID   string  `json:"auctionId"`
	Amount      float64 `json:"amount"`
	AmountExact string  `json:"amountExact,omitempty"`
	BidderName  string  `json:"bidderName"`
}

func (HighestBidUpdatePayload) EventType() EventType { return EventTypeHighestBidUpdate }

func (p HighestBidUpdatePayload) validate() error {
	if p.AuctionID == "" {
		return invalid(EventTypeHighestBidUpdate, "auctionId is required")
	}
	if p.Amount < 0 {
		return invalid(EventTypeHighestBidUpdate, "amount is negative")
	}
	if p.AmountExact != "" {
		if _, err := decimal.NewFromString(p.AmountExact); err != nil {
			return invalid(EventTypeHighestBidUpdate, "amountExact is not a decimal")
		}
	}
	return nil
}

// Value returns the highest bid, preferring the exact decimal form.
func (p HighestBidUpdatePayload) Value() decimal.Decimal {
	return ParseAmount(p.AmountExact, p.Amount)
}

// ParseAmount returns exact when it parses as a decimal and approx otherwise.
// Senders that predate the exact fields only provide approx.
func ParseAmount(exact string, approx float64) decimal.Decimal {
	if exact != "" {
		if d, err := decimal.NewFromString(exact); err == nil {
			return d
		}
	}
	return decimal.NewFromFloat(approx)
}

// BidHistoryEntry is the wire form of models.BidEntry.
type BidHistoryEntry struct {
	BidderName    string  `json:"bidderName"`
	WalletAddress string  `json:"walletAddress"`
	Amount        float64 `json:"amount"`
	Timestamp     int64   `json:"ts"` // unix millis
}

// BidHistoryUpdatePayload is the full ranked history, encoded as a bare array.
type BidHistoryUpdatePayload []BidHistoryEntry

func (BidHistoryUpdatePayload) EventType() EventType { return EventTypeBidHistoryUpdate }

func (p BidHistoryUpdatePayload) validate() error {
	for i, e := range p {
		if e.Amount < 0 {
			return invalid(EventTypeBidHistoryUpdate, "negative amount in entry")
		}
		if i > 0 && e.Amount > p[i-1].Amount {
			return invalid(EventTypeBidHistoryUpdate, "entries are not ranked")
		}
	}
	return nil
}

// TimerUpdatePayload carries the shared countdown for one auction room.
type TimerUpdatePayload struct {
	ID      string `json:"id"`
	Seconds int64  `json:"seconds"`
	Ended   bool   `json:"ended"`
}

func (TimerUpdatePayload) EventType() EventType { return EventTypeTimerUpdate }

func (p TimerUpdatePayload) validate() error {
	if p.ID == "" {
		return invalid(EventTypeTimerUpdate, "id is required")
	}
	if p.Seconds < 0 {
		return invalid(EventTypeTimerUpdate, "seconds is negative")
	}
	return nil
}

// PongPayload answers a client ping.
type PongPayload struct {
	ServerTime time.Time `json:"serverTime"`
}

func (PongPayload) EventType() EventType { return EventTypePong }

func (PongPayload) validate() error { return nil }

// NewAuctionStateUpdate builds the lobby summary for a snapshot at now.
func NewAuctionStateUpdate(s models.AuctionSnapshot, now time.Time) AuctionStateUpdatePayload {
	timeLeft := s.TimeLeft(now)
	return AuctionStateUpdatePayload{
		AuctionID:  s.AuctionID,
		HighestBid: s.HighestBid.InexactFloat64(),
		Ended:      s.Ended || (!s.AuctionEndTime.IsZero() && timeLeft <= 0),
		TimeLeft:   timeLeft,
	}
}

// NewHighestBidUpdate builds the room event announcing the highest bid.
func NewHighestBidUpdate(s models.AuctionSnapshot) HighestBidUpdatePayload {
	name := models.NoBidder
	if s.HighestBidder != models.NoBidder {
		name = models.ShortAddress(s.HighestBidder)
		key := models.NormalizeAddress(s.HighestBidder)
		for _, e := range s.BidHistory {
			if models.NormalizeAddress(e.WalletAddress) == key {
				name = e.BidderLabel
				break
			}
		}
	}
	return HighestBidUpdatePayload{
		AuctionID:   s.AuctionID,
		Amount:      s.HighestBid.InexactFloat64(),
		AmountExact: s.HighestBid.String(),
		BidderName:  name,
	}
}

// NewBidHistoryUpdate converts the ranked history to its wire form.
func NewBidHistoryUpdate(history []models.BidEntry) BidHistoryUpdatePayload {
	out := make(BidHistoryUpdatePayload, 0, len(history))
	for _, e := range history {
		out = append(out, BidHistoryEntry{
			BidderName:    e.BidderLabel,
			WalletAddress: e.WalletAddress,
			Amount:        e.Amount.InexactFloat64(),
			Timestamp:     e.ObservedAt.UnixMilli(),
		})
	}
	return out
}

// NewTimerUpdate builds the countdown event for a snapshot at now.
func NewTimerUpdate(s models.AuctionSnapshot, now time.Time) TimerUpdatePayload {
	seconds := s.TimeLeft(now)
	return TimerUpdatePayload{
		ID:      s.AuctionID,
		Seconds: seconds,
		Ended:   s.Ended || (!s.AuctionEndTime.IsZero() && seconds <= 0),
	}
}
