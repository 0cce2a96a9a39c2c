package synchronizer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/char-123717/lelang/go/internal/auction/events"
	"github.com/char-123717/lelang/go/internal/auction/ledger"
	"github.com/char-123717/lelang/go/internal/auction/metrics"
	"github.com/char-123717/lelang/go/internal/auction/store"
	"github.com/char-123717/lelang/go/internal/models"
)

// Emitter delivers events to every connection in a room.
type Emitter interface {
	BroadcastToRoom(room string, event *events.Event)
}

// NameDirectory resolves live display names of connected bidders.
type NameDirectory interface {
	// DisplayNames maps lowercase wallet addresses in the auction room to display names.
	DisplayNames(auctionID string) map[string]string
}

// Config holds synchronizer settings.
type Config struct {
	PollInterval    time.Duration
	ReadTimeout     time.Duration
	ReadConcurrency int
}

// DefaultConfig returns the default synchronizer settings.
func DefaultConfig() Config {
	return Config{
		PollInterval:    30 * time.Second,
		ReadTimeout:     10 * time.Second,
		ReadConcurrency: 8,
	}
}

// Synchronizer reconciles ledger state into the store and broadcasts the result.
// Passes for one auction are serialized by that auction's worker; passes started
// through Reconcile directly are ordered by sequence number in the store.
type Synchronizer struct {
	reader  ledger.Reader
	store   *store.Store
	emitter Emitter
	names   NameDirectory
	clock   clockwork.Clock
	metrics metrics.Collector
	config  Config

	seq  atomic.Uint64
	wake map[string]chan struct{}
}

// New creates a synchronizer for every auction in st.
func New(reader ledger.Reader, st *store.Store, emitter Emitter, names NameDirectory, clock clockwork.Clock, collector metrics.Collector, config Config) *Synchronizer {
	if collector == nil {
		collector = metrics.NoOp{}
	}
	defaults := DefaultConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}
	if config.ReadConcurrency <= 0 {
		config.ReadConcurrency = 1
	}
	wake := make(map[string]chan struct{})
	for _, id := range st.IDs() {
		wake[id] = make(chan struct{}, 1)
	}
	return &Synchronizer{
		reader:  reader,
		store:   st,
		emitter: emitter,
		names:   names,
		clock:   clock,
		metrics: collector,
		config:  config,
		wake:    wake,
	}
}

// Trigger queues a reconciliation pass. Triggers that arrive while one is already
// queued for the same auction coalesce into it.
func (s *Synchronizer) Trigger(auctionID, source string) {
	ch, ok := s.wake[auctionID]
	if !ok {
		log.Debug().Str("auction_id", auctionID).Str("source", source).Msg("ignoring trigger for unknown auction")
		return
	}
	s.metrics.RecordTrigger(source)
	select {
	case ch <- struct{}{}:
	default:
	}
}

// TriggerAfter queues a reconciliation pass once d has elapsed.
func (s *Synchronizer) TriggerAfter(auctionID string, d time.Duration, source string) {
	s.clock.AfterFunc(d, func() {
		s.Trigger(auctionID, source)
	})
}

// TriggerAll queues a pass for every auction.
func (s *Synchronizer) TriggerAll(source string) {
	for _, id := range s.store.IDs() {
		s.Trigger(id, source)
	}
}

// HandleLedgerEvent turns a ledger notification into a reconciliation trigger. A
// reported closure marks the auction ended before the pass runs.
func (s *Synchronizer) HandleLedgerEvent(ctx context.Context, ev events.LedgerEvent, source string) {
	if !s.store.Has(ev.AuctionID) {
		log.Debug().Str("auction_id", ev.AuctionID).Msg("ledger event for unknown auction ignored")
		return
	}
	s.metrics.RecordLedgerEvent(string(ev.Kind))

	if ev.Kind == events.LedgerAuctionEnded {
		if _, err := s.store.MarkEnded(ev.AuctionID); err != nil {
			log.Error().Err(err).Str("auction_id", ev.AuctionID).Msg("failed to mark auction ended")
		}
	}
	s.Trigger(ev.AuctionID, source)
}

// LogHandler adapts HandleLedgerEvent to the ledger subscriber.
func (s *Synchronizer) LogHandler() ledger.EventHandler {
	return func(ctx context.Context, ev events.LedgerEvent) {
		s.HandleLedgerEvent(ctx, ev, metrics.SourceLedgerLog)
	}
}

// Run sweeps every auction once, then on every poll interval, until ctx is cancelled.
func (s *Synchronizer) Run(ctx context.Context) error {
	log.Info().
		Int("auctions", len(s.wake)).
		Dur("poll_interval", s.config.PollInterval).
		Msg("synchronizer started")

	var wg sync.WaitGroup
	for id, ch := range s.wake {
		wg.Add(1)
		go s.worker(ctx, &wg, id, ch)
	}

	s.TriggerAll(metrics.SourceStartup)

	ticker := s.clock.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			log.Info().Msg("synchronizer stopped")
			return nil
		case <-ticker.Chan():
			s.TriggerAll(metrics.SourcePoll)
		}
	}
}

func (s *Synchronizer) worker(ctx context.Context, wg *sync.WaitGroup, auctionID string, wake <-chan struct{}) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-wake:
			if err := s.Reconcile(ctx, auctionID); err != nil {
				log.Warn().Err(err).Str("auction_id", auctionID).Msg("reconciliation failed")
			}
		}
	}
}

// ledgerState is everything one pass reads before it touches the store.
type ledgerState struct {
	endTime       time.Time
	highestBid    decimal.Decimal
	highestBidder string
	bidders       []string
	totals        []decimal.Decimal
}

// Reconcile reads the ledger for one auction, rebuilds its bid history and commits
// the result. On any read failure the snapshot is left untouched.
func (s *Synchronizer) Reconcile(ctx context.Context, auctionID string) error {
	if !s.store.Has(auctionID) {
		return fmt.Errorf("reconcile %s: %w", auctionID, store.ErrUnknownAuction)
	}

	seq := s.seq.Add(1)
	start := s.clock.Now()

	readCtx, cancel := context.WithTimeout(ctx, s.config.ReadTimeout)
	defer cancel()

	state, err := s.read(readCtx, auctionID)
	if err != nil {
		s.metrics.RecordReconcile(auctionID, false, s.clock.Since(start))
		return fmt.Errorf("reconcile %s: %w", auctionID, err)
	}

	now := s.clock.Now()
	history := s.buildHistory(auctionID, state, now)

	snap, applied, err := s.store.Commit(auctionID, store.Reconciled{
		Sequence:       seq,
		HighestBid:     state.highestBid,
		HighestBidder:  state.highestBidder,
		BidHistory:     history,
		AuctionEndTime: state.endTime,
		Ended:          !state.endTime.IsZero() && !now.Before(state.endTime),
		ObservedAt:     now,
	})
	if err != nil {
		return fmt.Errorf("reconcile %s: %w", auctionID, err)
	}
	if !applied {
		s.metrics.RecordReconcileDiscarded(auctionID)
		log.Debug().Str("auction_id", auctionID).Uint64("sequence", seq).Msg("discarded stale reconciliation")
		return nil
	}

	s.metrics.RecordReconcile(auctionID, true, s.clock.Since(start))
	s.broadcast(snap, now)

	log.Debug().
		Str("auction_id", auctionID).
		Str("highest_bid", snap.HighestBid.String()).
		Int("bidders", len(snap.BidHistory)).
		Bool("ended", snap.Ended).
		Msg("auction reconciled")

	return nil
}

func (s *Synchronizer) read(ctx context.Context, auctionID string) (ledgerState, error) {
	var state ledgerState
	var count uint64

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		state.endTime, err = s.reader.AuctionEndTime(gctx, auctionID)
		return err
	})
	g.Go(func() error {
		var err error
		state.highestBid, err = s.reader.HighestBid(gctx, auctionID)
		return err
	})
	g.Go(func() error {
		var err error
		state.highestBidder, err = s.reader.HighestBidder(gctx, auctionID)
		return err
	})
	g.Go(func() error {
		var err error
		count, err = s.reader.BiddersCount(gctx, auctionID)
		return err
	})
	if err := g.Wait(); err != nil {
		return ledgerState{}, err
	}

	state.bidders = make([]string, count)
	state.totals = make([]decimal.Decimal, count)

	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(s.config.ReadConcurrency)
	for i := uint64(0); i < count; i++ {
		g.Go(func() error {
			addr, err := s.reader.Bidder(gctx, auctionID, i)
			if err != nil {
				return err
			}
			total, err := s.reader.Bids(gctx, auctionID, addr)
			if err != nil {
				return err
			}
			state.bidders[i] = addr
			state.totals[i] = total
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ledgerState{}, err
	}
	return state, nil
}

// buildHistory keys bidders by lowercase address in enumeration order, applies the
// highest-bidder merge and ranks the result.
func (s *Synchronizer) buildHistory(auctionID string, state ledgerState, now time.Time) []models.BidEntry {
	var names map[string]string
	if s.names != nil {
		names = s.names.DisplayNames(auctionID)
	}
	label := func(addr string) string {
		if name, ok := names[models.NormalizeAddress(addr)]; ok && name != "" {
			return name
		}
		return models.ShortAddress(addr)
	}

	history := make([]models.BidEntry, 0, len(state.bidders)+1)
	index := make(map[string]int, len(state.bidders)+1)
	for i, addr := range state.bidders {
		total := state.totals[i]
		if !total.IsPositive() {
			continue
		}
		key := models.NormalizeAddress(addr)
		if pos, ok := index[key]; ok {
			history[pos].Amount = total
			continue
		}
		index[key] = len(history)
		history = append(history, models.BidEntry{
			BidderLabel:   label(addr),
			WalletAddress: addr,
			Amount:        total,
			ObservedAt:    now,
		})
	}

	history = mergeHighestBidder(history, index, state.highestBidder, state.highestBid, label(state.highestBidder), now)
	store.SortHistory(history)
	return history
}

// mergeHighestBidder closes the race between the bidder enumeration and the
// highest-bid reads: the ledger's highest pair must appear with at least its amount.
func mergeHighestBidder(history []models.BidEntry, index map[string]int, bidder string, amount decimal.Decimal, label string, now time.Time) []models.BidEntry {
	if bidder == "" || bidder == models.NoBidder || !amount.IsPositive() {
		return history
	}
	key := models.NormalizeAddress(bidder)
	if pos, ok := index[key]; ok {
		if history[pos].Amount.LessThan(amount) {
			history[pos].Amount = amount
		}
		return history
	}
	index[key] = len(history)
	return append(history, models.BidEntry{
		BidderLabel:   label,
		WalletAddress: bidder,
		Amount:        amount,
		ObservedAt:    now,
	})
}

func (s *Synchronizer) broadcast(snap models.AuctionSnapshot, now time.Time) {
	if s.emitter == nil {
		return
	}
	s.emitter.BroadcastToRoom(snap.AuctionID, events.NewEvent(events.NewHighestBidUpdate(snap), now))
	s.emitter.BroadcastToRoom(snap.AuctionID, events.NewEvent(events.NewBidHistoryUpdate(snap.BidHistory), now))
	s.emitter.BroadcastToRoom(models.LobbyRoom, events.NewEvent(events.NewAuctionStateUpdate(snap, now), now))
}
