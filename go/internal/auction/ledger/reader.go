package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/char-123717/lelang/go/internal/models"
)

var (
	// ErrReadFailed wraps every failed ledger query.
	ErrReadFailed = errors.New("ledger read failed")
	// ErrUnknownContract is returned for auction ids without a configured contract.
	ErrUnknownContract = errors.New("no contract configured for auction")
)

// Reader is the read-only query facade over the auction contracts.
type Reader interface {
	AuctionEndTime(ctx context.Context, auctionID string) (time.Time, error)
	HighestBid(ctx context.Context, auctionID string) (decimal.Decimal, error)
	HighestBidder(ctx context.Context, auctionID string) (string, error)
	Bids(ctx context.Context, auctionID, address string) (decimal.Decimal, error)
	Bidder(ctx context.Context, auctionID string, index uint64) (string, error)
	BiddersCount(ctx context.Context, auctionID string) (uint64, error)
}

// ContractReader implements Reader with eth_call against one contract per auction.
type ContractReader struct {
	caller    ethereum.ContractCaller
	contracts map[string]common.Address
}

// NewContractReader maps every configured auction to its contract address.
func NewContractReader(caller ethereum.ContractCaller, auctions []models.AuctionConfig) (*ContractReader, error) {
	contracts, err := contractAddresses(auctions)
	if err != nil {
		return nil, err
	}
	return &ContractReader{
		caller:    caller,
		contracts: contracts,
	}, nil
}

func contractAddresses(auctions []models.AuctionConfig) (map[string]common.Address, error) {
	contracts := make(map[string]common.Address, len(auctions))
	for _, a := range auctions {
		if !common.IsHexAddress(a.ContractAddress) {
			return nil, fmt.Errorf("invalid contract address %q for auction %s", a.ContractAddress, a.ID)
		}
		contracts[a.ID] = common.HexToAddress(a.ContractAddress)
	}
	return contracts, nil
}

// AuctionEndTime returns the zero time when the contract has no end time set.
func (r *ContractReader) AuctionEndTime(ctx context.Context, auctionID string) (time.Time, error) {
	v, err := r.callBig(ctx, auctionID, methodAuctionEndTime)
	if err != nil {
		return time.Time{}, err
	}
	if v.Sign() == 0 {
		return time.Time{}, nil
	}
	return time.Unix(v.Int64(), 0), nil
}

func (r *ContractReader) HighestBid(ctx context.Context, auctionID string) (decimal.Decimal, error) {
	v, err := r.callBig(ctx, auctionID, methodHighestBid)
	if err != nil {
		return decimal.Zero, err
	}
	return WeiToEther(v), nil
}

// HighestBidder returns models.NoBidder while the contract reports the zero address.
func (r *ContractReader) HighestBidder(ctx context.Context, auctionID string) (string, error) {
	addr, err := r.callAddress(ctx, auctionID, methodHighestBidder)
	if err != nil {
		return "", err
	}
	if addr == (common.Address{}) {
		return models.NoBidder, nil
	}
	return addr.Hex(), nil
}

func (r *ContractReader) Bids(ctx context.Context, auctionID, address string) (decimal.Decimal, error) {
	if !common.IsHexAddress(address) {
		return decimal.Zero, fmt.Errorf("%w: invalid bidder address %q", ErrReadFailed, address)
	}
	v, err := r.callBig(ctx, auctionID, methodBids, common.HexToAddress(address))
	if err != nil {
		return decimal.Zero, err
	}
	return WeiToEther(v), nil
}

func (r *ContractReader) Bidder(ctx context.Context, auctionID string, index uint64) (string, error) {
	addr, err := r.callAddress(ctx, auctionID, methodBidders, new(big.Int).SetUint64(index))
	if err != nil {
		return "", err
	}
	return addr.Hex(), nil
}

func (r *ContractReader) BiddersCount(ctx context.Context, auctionID string) (uint64, error) {
	v, err := r.callBig(ctx, auctionID, methodBiddersCount)
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("%w: bidder count overflows uint64", ErrReadFailed)
	}
	return v.Uint64(), nil
}

func (r *ContractReader) callBig(ctx context.Context, auctionID, method string, args ...interface{}) (*big.Int, error) {
	value, err := r.call(ctx, auctionID, method, args...)
	if err != nil {
		return nil, err
	}
	v, ok := value.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: %s returned %T", ErrReadFailed, method, value)
	}
	return v, nil
}

func (r *ContractReader) callAddress(ctx context.Context, auctionID, method string, args ...interface{}) (common.Address, error) {
	value, err := r.call(ctx, auctionID, method, args...)
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := value.(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s returned %T", ErrReadFailed, method, value)
	}
	return addr, nil
}

// call performs one eth_call and returns the single decoded output value.
func (r *ContractReader) call(ctx context.Context, auctionID, method string, args ...interface{}) (interface{}, error) {
	to, ok := r.contracts[auctionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContract, auctionID)
	}

	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	out, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s on auction %s: %v", ErrReadFailed, method, auctionID, err)
	}

	values, err := contractABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("%w: unpack %s: %v", ErrReadFailed, method, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("%w: %s returned %d values", ErrReadFailed, method, len(values))
	}
	return values[0], nil
}
