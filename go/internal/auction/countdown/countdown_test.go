package countdown

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/char-123717/lelang/go/internal/auction/events"
	"github.com/char-123717/lelang/go/internal/auction/store"
	"github.com/char-123717/lelang/go/internal/models"
)

type recordingEmitter struct {
	mu     sync.Mutex
	timers []events.TimerUpdatePayload
	lobby  []events.AuctionStateUpdatePayload
}

func (e *recordingEmitter) BroadcastToRoom(room string, ev *events.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch p := ev.Data.(type) {
	case events.TimerUpdatePayload:
		e.timers = append(e.timers, p)
	case events.AuctionStateUpdatePayload:
		e.lobby = append(e.lobby, p)
	}
}

func (e *recordingEmitter) timerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.timers)
}

type countingReconciler struct {
	mu       sync.Mutex
	triggers map[string]int
}

func (r *countingReconciler) Trigger(auctionID, source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.triggers[auctionID]++
}

func setup(t *testing.T, clock clockwork.Clock, end time.Time) (*store.Store, *recordingEmitter, *countingReconciler, *Broadcaster) {
	t.Helper()
	st := store.New([]models.AuctionConfig{
		{ID: "101", MinBid: decimal.RequireFromString("0.0001")},
		{ID: "102", MinBid: decimal.RequireFromString("0.0001")},
	})
	_, _, err := st.Commit("101", store.Reconciled{Sequence: 1, AuctionEndTime: end})
	assert.NoError(t, err)

	emitter := &recordingEmitter{}
	reconciler := &countingReconciler{triggers: make(map[string]int)}
	return st, emitter, reconciler, New(st, emitter, reconciler, clock)
}

func TestCountdownEmitsEachSecondAndEndsOnce(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	st, emitter, reconciler, b := setup(t, clock, clock.Now().Add(5*time.Second))

	for i := 0; i < 9; i++ {
		b.Tick(clock.Now())
		clock.Advance(time.Second)
	}

	var seconds []int64
	endedCount := 0
	for _, tu := range emitter.timers {
		check.Equal(t, "101", tu.ID)
		check.True(t, tu.Seconds >= 0)
		seconds = append(seconds, tu.Seconds)
		if tu.Ended {
			endedCount++
		}
	}
	check.Equal(t, []int64{5, 4, 3, 2, 1, 0}, seconds)
	check.Equal(t, 1, endedCount)
	check.True(t, emitter.timers[5].Ended)

	snap, err := st.Get("101")
	assert.NoError(t, err)
	check.True(t, snap.Ended)
	check.Equal(t, 1, reconciler.triggers["101"])

	// 102 has no end time yet and is never announced.
	check.Equal(t, 0, reconciler.triggers["102"])
	for _, p := range emitter.lobby {
		check.Equal(t, "101", p.AuctionID)
	}
	check.True(t, emitter.lobby[len(emitter.lobby)-1].Ended)
}

func TestCountdownAlreadyEndedEmitsOnceWithoutTrigger(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	st, emitter, reconciler, b := setup(t, clock, clock.Now().Add(time.Hour))
	_, err := st.MarkEnded("101")
	assert.NoError(t, err)

	b.Tick(clock.Now())
	b.Tick(clock.Now().Add(time.Second))

	check.Equal(t, 1, len(emitter.timers))
	check.True(t, emitter.timers[0].Ended)
	check.Equal(t, 0, reconciler.triggers["101"])
}

func TestRunTicksImmediately(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	_, emitter, _, b := setup(t, clock, clock.Now().Add(10*time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	assert.NoError(t, clock.BlockUntilContext(ctx, 1))
	check.Equal(t, 1, emitter.timerCount())

	clock.Advance(Period)
	deadline := time.Now().Add(2 * time.Second)
	for emitter.timerCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	check.Equal(t, 2, emitter.timerCount())

	cancel()
	check.Nil(t, <-done)
}
