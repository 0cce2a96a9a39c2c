package events

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// LedgerEventKind identifies a contract event that should trigger a reconciliation.
type LedgerEventKind string

const (
	LedgerBidPlaced    LedgerEventKind = "BidPlaced"
	LedgerNewHighBid   LedgerEventKind = "NewHighBid"
	LedgerWithdrawn    LedgerEventKind = "Withdrawn"
	LedgerAuctionEnded LedgerEventKind = "AuctionEnded"
)

// LedgerEventKinds lists every kind the relay listens for.
var LedgerEventKinds = []LedgerEventKind{
	LedgerBidPlaced,
	LedgerNewHighBid,
	LedgerWithdrawn,
	LedgerAuctionEnded,
}

// Valid reports whether k is a known kind.
func (k LedgerEventKind) Valid() bool {
	for _, known := range LedgerEventKinds {
		if k == known {
			return true
		}
	}
	return false
}

// LedgerEvent is a best-effort notification that an auction changed on the ledger.
// The relay only uses it as a trigger; amounts are informational.
type LedgerEvent struct {
	EventID     string
	AuctionID   string
	Kind        LedgerEventKind
	Bidder      string
	Amount      decimal.Decimal
	TxHash      string
	BlockNumber uint64
}

// DecodeLedgerEnvelope parses the JSON envelope published on auction.events.* subjects.
func DecodeLedgerEnvelope(data []byte) (LedgerEvent, error) {
	var envelope struct {
		EventID     string          `json:"eventId"`
		EventType   string          `json:"eventType"`
		AuctionID   string          `json:"auctionId"`
		Bidder      string          `json:"bidder"`
		Amount      decimal.Decimal `json:"amount"`
		TxHash      string          `json:"txHash"`
		BlockNumber uint64          `json:"blockNumber"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return LedgerEvent{}, fmt.Errorf("unmarshal ledger envelope: %w", err)
	}

	kind := LedgerEventKind(envelope.EventType)
	if !kind.Valid() {
		return LedgerEvent{}, fmt.Errorf("%w: unknown ledger event type %q", ErrInvalidPayload, envelope.EventType)
	}
	if envelope.AuctionID == "" {
		return LedgerEvent{}, fmt.Errorf("%w: ledger event without auctionId", ErrInvalidPayload)
	}

	return LedgerEvent{
		EventID:     envelope.EventID,
		AuctionID:   envelope.AuctionID,
		Kind:        kind,
		Bidder:      envelope.Bidder,
		Amount:      envelope.Amount,
		TxHash:      envelope.TxHash,
		BlockNumber: envelope.BlockNumber,
	}, nil
}

// ClientCommand is a frame sent by a WebSocket client.
type ClientCommand struct {
	Type string `json:"type"`
}

const ClientCommandPing = "ping"

// DecodeClientCommand parses an inbound client frame.
func DecodeClientCommand(data []byte) (ClientCommand, error) {
	var cmd ClientCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return ClientCommand{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if cmd.Type == "" {
		return ClientCommand{}, fmt.Errorf("%w: command type is required", ErrInvalidPayload)
	}
	return cmd, nil
}
