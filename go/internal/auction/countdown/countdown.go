package countdown

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/char-123717/lelang/go/internal/auction/events"
	"github.com/char-123717/lelang/go/internal/auction/metrics"
	"github.com/char-123717/lelang/go/internal/auction/store"
	"github.com/char-123717/lelang/go/internal/models"
)

// Period is the heartbeat interval.
const Period = time.Second

// Emitter delivers events to every connection in a room.
type Emitter interface {
	BroadcastToRoom(room string, event *events.Event)
}

// Reconciler queues reconciliation passes.
type Reconciler interface {
	Trigger(auctionID, source string)
}

// Broadcaster drives the one shared countdown for every auction. All viewers of an
// auction see the same remaining time because it is computed once per tick here.
type Broadcaster struct {
	store      *store.Store
	emitter    Emitter
	reconciler Reconciler
	clock      clockwork.Clock

	mu        sync.Mutex
	announced map[string]bool
}

// New creates a countdown broadcaster.
func New(st *store.Store, emitter Emitter, reconciler Reconciler, clock clockwork.Clock) *Broadcaster {
	return &Broadcaster{
		store:      st,
		emitter:    emitter,
		reconciler: reconciler,
		clock:      clock,
		announced:  make(map[string]bool),
	}
}

// Run ticks immediately and then once per Period until ctx is cancelled.
func (b *Broadcaster) Run(ctx context.Context) error {
	log.Info().Dur("period", Period).Msg("countdown broadcaster started")

	b.Tick(b.clock.Now())

	ticker := b.clock.NewTicker(Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("countdown broadcaster stopped")
			return nil
		case now := <-ticker.Chan():
			b.Tick(now)
		}
	}
}

// Tick emits one timerUpdate per running auction and its lobby summary. The first
// tick that observes the end marks the auction ended and requests one reconciliation;
// nothing further is emitted for that auction afterwards.
func (b *Broadcaster) Tick(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, snap := range b.store.All() {
		if b.announced[snap.AuctionID] {
			continue
		}
		// End time unknown until the first successful reconciliation.
		if snap.AuctionEndTime.IsZero() && !snap.Ended {
			continue
		}

		timer := events.NewTimerUpdate(snap, now)
		if timer.Ended {
			b.announced[snap.AuctionID] = true
			if !snap.Ended {
				b.markEnded(snap.AuctionID)
				snap.Ended = true
			}
		}

		b.emitter.BroadcastToRoom(snap.AuctionID, events.NewEvent(timer, now))
		b.emitter.BroadcastToRoom(models.LobbyRoom, events.NewEvent(events.NewAuctionStateUpdate(snap, now), now))
	}
}

func (b *Broadcaster) markEnded(auctionID string) {
	transitioned, err := b.store.MarkEnded(auctionID)
	if err != nil {
		log.Error().Err(err).Str("auction_id", auctionID).Msg("failed to mark auction ended")
		return
	}
	if !transitioned {
		return
	}
	log.Info().Str("auction_id", auctionID).Msg("auction countdown reached zero")
	if b.reconciler != nil {
		b.reconciler.Trigger(auctionID, metrics.SourceCountdown)
	}
}
