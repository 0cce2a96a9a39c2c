package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/char-123717/lelang/go/internal/models"
)

// ErrUnknownAuction is returned for ids that were not configured at startup.
var ErrUnknownAuction = errors.New("unknown auction")

// Reconciled is the outcome of one reconciliation pass, committed in a single step.
type Reconciled struct {
	Sequence       uint64
	HighestBid     decimal.Decimal
	HighestBidder  string
	BidHistory     []models.BidEntry
	AuctionEndTime time.Time
	Ended          bool
	ObservedAt     time.Time
}

// Store maps auction ids to their reconciled snapshots. Snapshots are created once at
// construction and never removed; readers always receive copies.
type Store struct {
	mu        sync.RWMutex
	snapshots map[string]*models.AuctionSnapshot
	order     []string
}

// New creates a store with one snapshot per configured auction.
func New(auctions []models.AuctionConfig) *Store {
	s := &Store{
		snapshots: make(map[string]*models.AuctionSnapshot, len(auctions)),
		order:     make([]string, 0, len(auctions)),
	}
	for _, cfg := range auctions {
		if _, exists := s.snapshots[cfg.ID]; exists {
			continue
		}
		s.snapshots[cfg.ID] = models.NewAuctionSnapshot(cfg)
		s.order = append(s.order, cfg.ID)
	}
	return s
}

// IDs returns the configured auction ids in configuration order.
func (s *Store) IDs() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Has reports whether id is a configured auction.
func (s *Store) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.snapshots[id]
	return ok
}

// Get returns a copy of the snapshot for id.
func (s *Store) Get(id string) (models.AuctionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[id]
	if !ok {
		return models.AuctionSnapshot{}, ErrUnknownAuction
	}
	return snap.Clone(), nil
}

// All returns copies of every snapshot in configuration order.
func (s *Store) All() []models.AuctionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.AuctionSnapshot, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.snapshots[id].Clone())
	}
	return out
}

// Commit applies a reconciliation result. A result whose sequence is older than the
// last committed one is discarded and Commit reports false. Ended never reverts and the
// end time never moves backwards.
func (s *Store) Commit(id string, r Reconciled) (models.AuctionSnapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.snapshots[id]
	if !ok {
		return models.AuctionSnapshot{}, false, ErrUnknownAuction
	}
	if r.Sequence < snap.Sequence {
		return snap.Clone(), false, nil
	}

	history := make([]models.BidEntry, len(r.BidHistory))
	copy(history, r.BidHistory)

	snap.Sequence = r.Sequence
	snap.HighestBid = r.HighestBid
	snap.HighestBidder = r.HighestBidder
	snap.BidHistory = history
	if r.AuctionEndTime.After(snap.AuctionEndTime) {
		snap.AuctionEndTime = r.AuctionEndTime
	}
	snap.Ended = snap.Ended || r.Ended
	snap.UpdatedAt = r.ObservedAt

	return snap.Clone(), true, nil
}

// MarkEnded sets the ended flag and reports whether this call performed the transition.
func (s *Store) MarkEnded(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.snapshots[id]
	if !ok {
		return false, ErrUnknownAuction
	}
	if snap.Ended {
		return false, nil
	}
	snap.Ended = true
	return true, nil
}

// ZeroEntry zeroes the displayed amount of a withdrawn bidder until the next
// reconciliation and re-ranks the history. HighestBid is untouched. It returns the
// updated history and whether an entry matched.
func (s *Store) ZeroEntry(id, walletAddress string) ([]models.BidEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.snapshots[id]
	if !ok {
		return nil, false, ErrUnknownAuction
	}

	key := models.NormalizeAddress(walletAddress)
	found := false
	for i := range snap.BidHistory {
		if models.NormalizeAddress(snap.BidHistory[i].WalletAddress) == key {
			snap.BidHistory[i].Amount = decimal.Zero
			found = true
			break
		}
	}
	if found {
		SortHistory(snap.BidHistory)
	}

	out := make([]models.BidEntry, len(snap.BidHistory))
	copy(out, snap.BidHistory)
	return out, found, nil
}

// SortHistory ranks entries by amount descending, keeping insertion order for ties.
func SortHistory(history []models.BidEntry) {
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].Amount.GreaterThan(history[j].Amount)
	})
}
