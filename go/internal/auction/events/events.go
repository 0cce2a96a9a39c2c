package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidPayload is returned when an event fails boundary validation.
var ErrInvalidPayload = errors.New("invalid event payload")

// EventType names a real-time event.
type EventType string

const (
	EventTypeAuctionStateUpdate EventType = "auctionStateUpdate"
	EventTypeHighestBidUpdate   EventType = "highestBidUpdate"
	EventTypeBidHistoryUpdate   EventType = "bidHistoryUpdate"
	EventTypeTimerUpdate        EventType = "timerUpdate"
	EventTypePong               EventType = "pong"
)

// Payload is implemented by every typed event body.
type Payload interface {
	EventType() EventType
	validate() error
}

// Event is the envelope written to WebSocket clients.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      Payload   `json:"data"`
}

// NewEvent wraps a payload in an envelope stamped with at.
func NewEvent(payload Payload, at time.Time) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      payload.EventType(),
		Timestamp: at,
		Data:      payload,
	}
}

// Decode parses an envelope and its payload into the typed variant for its type.
func Decode(raw []byte) (*Event, error) {
	var envelope struct {
		ID        string          `json:"id"`
		Type      EventType       `json:"type"`
		Timestamp time.Time       `json:"timestamp"`
		Data      json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("unmarshal event envelope: %w", err)
	}

	var payload Payload
	var err error
	switch envelope.Type {
	case EventTypeAuctionStateUpdate:
		payload, err = decodePayload[AuctionStateUpdatePayload](envelope.Data)
	case EventTypeHighestBidUpdate:
		payload, err = decodePayload[HighestBidUpdatePayload](envelope.Data)
	case EventTypeBidHistoryUpdate:
		payload, err = decodePayload[BidHistoryUpdatePayload](envelope.Data)
	case EventTypeTimerUpdate:
		payload, err = decodePayload[TimerUpdatePayload](envelope.Data)
	case EventTypePong:
		payload, err = decodePayload[PongPayload](envelope.Data)
	default:
		return nil, fmt.Errorf("%w: unknown event type %q", ErrInvalidPayload, envelope.Type)
	}
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:        envelope.ID,
		Type:      envelope.Type,
		Timestamp: envelope.Timestamp,
		Data:      payload,
	}, nil
}

func decodePayload[T Payload](data json.RawMessage) (Payload, error) {
	var payload T
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := payload.validate(); err != nil {
		return nil, err
	}
	return payload, nil
}

func invalid(t EventType, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidPayload, t, reason)
}
