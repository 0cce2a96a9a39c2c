package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ErrTxReverted is returned when a mined transaction has a failed receipt.
var ErrTxReverted = errors.New("transaction reverted")

// Backend is what ContractWriter needs from a node connection. *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// ContractWriter signs and submits bid and withdraw transactions for one bidder
// against one auction contract.
type ContractWriter struct {
	backend  Backend
	contract *bind.BoundContract
	key      *ecdsa.PrivateKey
	chainID  *big.Int
	from     common.Address
}

// NewContractWriter binds the auction contract at address for the holder of hexKey.
func NewContractWriter(backend Backend, address, hexKey string, chainID *big.Int) (*ContractWriter, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid contract address %q", address)
	}
	key, err := crypto.HexToECDSA(trimHexPrefix(hexKey))
	if err != nil {
		return nil, fmt.Errorf("failed to parse bidder key: %w", err)
	}
	contract := bind.NewBoundContract(common.HexToAddress(address), contractABI, backend, backend, backend)
	return &ContractWriter{
		backend:  backend,
		contract: contract,
		key:      key,
		chainID:  chainID,
		from:     crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Address returns the bidder's wallet address.
func (w *ContractWriter) Address() string {
	return w.from.Hex()
}

// Bid sends value ether to the contract's payable bid method and waits for the receipt.
func (w *ContractWriter) Bid(ctx context.Context, value decimal.Decimal) error {
	opts, err := w.transactOpts(ctx)
	if err != nil {
		return err
	}
	opts.Value = EtherToWei(value)
	return w.transact(ctx, opts, methodBid)
}

// Withdraw calls the contract's withdraw method and waits for the receipt.
func (w *ContractWriter) Withdraw(ctx context.Context) error {
	opts, err := w.transactOpts(ctx)
	if err != nil {
		return err
	}
	return w.transact(ctx, opts, methodWithdraw)
}

// CumulativeBid reads the bidder's own running total from the contract.
func (w *ContractWriter) CumulativeBid(ctx context.Context) (decimal.Decimal, error) {
	var out []interface{}
	err := w.contract.Call(&bind.CallOpts{Context: ctx, From: w.from}, &out, methodBids, w.from)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: bids: %v", ErrReadFailed, err)
	}
	if len(out) != 1 {
		return decimal.Zero, fmt.Errorf("%w: bids returned %d values", ErrReadFailed, len(out))
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: bids returned %T", ErrReadFailed, out[0])
	}
	return WeiToEther(v), nil
}

func (w *ContractWriter) transactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(w.key, w.chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}
	opts.Context = ctx
	return opts, nil
}

func (w *ContractWriter) transact(ctx context.Context, opts *bind.TransactOpts, method string) error {
	tx, err := w.contract.Transact(opts, method)
	if err != nil {
		return fmt.Errorf("failed to send %s: %w", method, err)
	}

	log.Info().
		Str("method", method).
		Str("tx_hash", tx.Hash().Hex()).
		Msg("transaction submitted")

	receipt, err := bind.WaitMined(ctx, w.backend, tx)
	if err != nil {
		return fmt.Errorf("failed waiting for %s receipt: %w", method, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%s %s: %w", method, tx.Hash().Hex(), ErrTxReverted)
	}
	return nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
