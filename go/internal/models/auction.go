package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// NoBidder is the highest-bidder sentinel used before anyone has bid.
const NoBidder = "-"

// LobbyRoom is the room every lobby observer joins.
const LobbyRoom = "lobby"

// AuctionConfig describes one statically configured auction.
type AuctionConfig struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	ContractAddress string          `json:"contract_address"`
	MinBid          decimal.Decimal `json:"min_bid"`
}

// BidEntry is one row of the ranked bid history.
type BidEntry struct {
	BidderLabel   string          `json:"bidder_label"`
	WalletAddress string          `json:"wallet_address"`
	Amount        decimal.Decimal `json:"amount"`
	ObservedAt    time.Time       `json:"observed_at"`
}

// AuctionSnapshot is the reconciled in-memory view of one auction.
type AuctionSnapshot struct {
	AuctionID       string
	Name            string
	ContractAddress string
	HighestBid      decimal.Decimal
	HighestBidder   string
	BidHistory      []BidEntry
	AuctionEndTime  time.Time
	Ended           bool
	MinBid          decimal.Decimal
	UpdatedAt       time.Time
	Sequence        uint64
}

// NewAuctionSnapshot returns the initial snapshot for a configured auction.
func NewAuctionSnapshot(cfg AuctionConfig) *AuctionSnapshot {
	return &AuctionSnapshot{
		AuctionID:       cfg.ID,
		Name:            cfg.Name,
		ContractAddress: cfg.ContractAddress,
		HighestBid:      decimal.Zero,
		HighestBidder:   NoBidder,
		BidHistory:      []BidEntry{},
		MinBid:          cfg.MinBid,
	}
}

// Clone returns a deep copy safe to hand out to readers.
func (s *AuctionSnapshot) Clone() AuctionSnapshot {
	out := *s
	out.BidHistory = make([]BidEntry, len(s.BidHistory))
	copy(out.BidHistory, s.BidHistory)
	return out
}

// HasBidder reports whether the ledger has recorded any highest bidder.
func (s *AuctionSnapshot) HasBidder() bool {
	return s.HighestBidder != NoBidder && s.HighestBid.IsPositive()
}

// TimeLeft returns the whole seconds remaining at now, never negative.
func (s *AuctionSnapshot) TimeLeft(now time.Time) int64 {
	if s.AuctionEndTime.IsZero() {
		return 0
	}
	left := s.AuctionEndTime.Unix() - now.Unix()
	if left < 0 {
		return 0
	}
	return left
}

// NormalizeAddress returns the lowercase map key for a wallet address.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// ShortAddress renders 0x1234...abcd, or NoBidder for empty input.
func ShortAddress(addr string) string {
	switch {
	case addr == "":
		return NoBidder
	case len(addr) < 10:
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}
