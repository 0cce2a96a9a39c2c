package ledger

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/jonboulle/clockwork"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/char-123717/lelang/go/internal/auction/events"
)

func bidPlacedLog(t *testing.T, bidder common.Address, amount, total *big.Int) types.Log {
	t.Helper()
	data, err := contractABI.Events[string(events.LedgerBidPlaced)].Inputs.NonIndexed().Pack(amount, total)
	assert.NoError(t, err)
	return types.Log{
		Address:     contract101,
		Topics:      []common.Hash{EventTopic(events.LedgerBidPlaced), common.BytesToHash(bidder.Bytes())},
		Data:        data,
		BlockNumber: 42,
		TxHash:      common.HexToHash("0xabc"),
		Index:       3,
	}
}

func TestSubscriberQueryCoversAllKinds(t *testing.T) {
	s, err := NewSubscriber(&fakeFilterer{}, testAuctions(), DefaultSubscriberConfig(), clockwork.NewFakeClock())
	assert.NoError(t, err)

	q := s.Query()
	check.Equal(t, []common.Address{contract101}, q.Addresses)
	check.Equal(t, 1, len(q.Topics))
	check.Equal(t, len(events.LedgerEventKinds), len(q.Topics[0]))
}

func TestSubscriberDecode(t *testing.T) {
	s, err := NewSubscriber(&fakeFilterer{}, testAuctions(), DefaultSubscriberConfig(), clockwork.NewFakeClock())
	assert.NoError(t, err)

	oneEther := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	ev, ok := s.Decode(bidPlacedLog(t, alice, oneEther, new(big.Int).Mul(oneEther, big.NewInt(2))))
	check.True(t, ok)
	check.Equal(t, "101", ev.AuctionID)
	check.Equal(t, events.LedgerBidPlaced, ev.Kind)
	check.Equal(t, alice.Hex(), ev.Bidder)
	check.Equal(t, "2", ev.Amount.String())
	check.Equal(t, uint64(42), ev.BlockNumber)

	ended := types.Log{Address: contract101, Topics: []common.Hash{EventTopic(events.LedgerAuctionEnded)}}
	ended.Data, err = contractABI.Events[string(events.LedgerAuctionEnded)].Inputs.Pack(bob, oneEther)
	assert.NoError(t, err)
	ev, ok = s.Decode(ended)
	check.True(t, ok)
	check.Equal(t, events.LedgerAuctionEnded, ev.Kind)
	check.Equal(t, bob.Hex(), ev.Bidder)

	_, ok = s.Decode(types.Log{Address: common.HexToAddress("0xdead"), Topics: []common.Hash{EventTopic(events.LedgerWithdrawn)}})
	check.False(t, ok)

	_, ok = s.Decode(types.Log{Address: contract101, Topics: []common.Hash{common.HexToHash("0x01")}})
	check.False(t, ok)
}

func TestSubscriberRetriesAfterFailure(t *testing.T) {
	clock := clockwork.NewFakeClock()
	filterer := &fakeFilterer{failures: 1, ready: make(chan struct{})}
	cfg := DefaultSubscriberConfig()
	s, err := NewSubscriber(filterer, testAuctions(), cfg, clock)
	assert.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan events.LedgerEvent, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(_ context.Context, ev events.LedgerEvent) {
			received <- ev
		})
	}()

	assert.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(cfg.BaseDelay)

	select {
	case <-filterer.ready:
	case <-ctx.Done():
		t.Fatal("subscription was not retried")
	}

	filterer.logsCh <- bidPlacedLog(t, alice, big.NewInt(1), big.NewInt(1))

	select {
	case ev := <-received:
		check.Equal(t, "101", ev.AuctionID)
	case <-ctx.Done():
		t.Fatal("event was not delivered")
	}

	cancel()
	check.Nil(t, <-done)
}
