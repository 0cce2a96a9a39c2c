package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
)

// fakeContract answers eth_call for a single auction contract from in-memory state.
type fakeContract struct {
	mu            sync.Mutex
	endTime       int64
	highestBid    *big.Int
	highestBidder common.Address
	bidders       []common.Address
	bids          map[common.Address]*big.Int
	failMethod    string
}

func newFakeContract() *fakeContract {
	return &fakeContract{
		highestBid: big.NewInt(0),
		bids:       make(map[common.Address]*big.Int),
	}
}

func (c *fakeContract) addBid(addr common.Address, ether string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	total, ok := c.bids[addr]
	if !ok {
		total = big.NewInt(0)
		c.bids[addr] = total
		c.bidders = append(c.bidders, addr)
	}
	total.Add(total, EtherToWei(decimal.RequireFromString(ether)))
	if total.Cmp(c.highestBid) > 0 {
		c.highestBid = new(big.Int).Set(total)
		c.highestBidder = addr
	}
}

type fakeCaller struct {
	contracts map[common.Address]*fakeContract
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if msg.To == nil {
		return nil, errors.New("missing to")
	}
	c, ok := f.contracts[*msg.To]
	if !ok {
		return nil, fmt.Errorf("no contract at %s", msg.To.Hex())
	}
	if len(msg.Data) < 4 {
		return nil, errors.New("short call data")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for name, method := range contractABI.Methods {
		if !bytes.Equal(method.ID, msg.Data[:4]) {
			continue
		}
		if name == c.failMethod {
			return nil, errors.New("node unavailable")
		}
		args, err := method.Inputs.Unpack(msg.Data[4:])
		if err != nil {
			return nil, err
		}
		switch name {
		case methodAuctionEndTime:
			return method.Outputs.Pack(big.NewInt(c.endTime))
		case methodHighestBid:
			return method.Outputs.Pack(c.highestBid)
		case methodHighestBidder:
			return method.Outputs.Pack(c.highestBidder)
		case methodBiddersCount:
			return method.Outputs.Pack(big.NewInt(int64(len(c.bidders))))
		case methodBidders:
			idx := args[0].(*big.Int).Int64()
			if idx >= int64(len(c.bidders)) {
				return nil, errors.New("execution reverted")
			}
			return method.Outputs.Pack(c.bidders[idx])
		case methodBids:
			total, ok := c.bids[args[0].(common.Address)]
			if !ok {
				total = big.NewInt(0)
			}
			return method.Outputs.Pack(total)
		}
		return nil, fmt.Errorf("method %s not callable", name)
	}
	return nil, errors.New("unknown selector")
}

type fakeSubscription struct {
	errCh chan error
	once  sync.Once
}

func newFakeSubscription() *fakeSubscription {
	return &fakeSubscription{errCh: make(chan error, 1)}
}

func (s *fakeSubscription) Unsubscribe() {
	s.once.Do(func() { close(s.errCh) })
}

func (s *fakeSubscription) Err() <-chan error {
	return s.errCh
}

// fakeFilterer fails the first failures subscriptions, then hands logs to the
// subscriber through the channel it was given.
type fakeFilterer struct {
	mu       sync.Mutex
	failures int
	attempts int
	logsCh   chan<- types.Log
	ready    chan struct{}
}

func (f *fakeFilterer) FilterLogs(context.Context, ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}

func (f *fakeFilterer) SubscribeFilterLogs(_ context.Context, _ ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.attempts <= f.failures {
		return nil, errors.New("notifications not supported")
	}
	f.logsCh = ch
	close(f.ready)
	return newFakeSubscription(), nil
}
