package bidder

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/char-123717/lelang/go/internal/auction/events"
)

// Details mirrors the relay's GET /api/auction-details response.
type Details struct {
	OK              bool    `json:"ok"`
	AuctionID       string  `json:"auctionId"`
	Name            string  `json:"name"`
	ContractAddress string  `json:"contractAddress"`
	MinBid          float64 `json:"minBid"`
	MinBidExact     string  `json:"minBidExact"`
	HighestBid      float64 `json:"highestBid"`
	HighestBidExact string  `json:"highestBidExact"`
	HighestBidder   string  `json:"highestBidder"`
	AuctionEndTime  int64   `json:"auctionEndTime"`
	Ended           bool    `json:"ended"`
}

func (d Details) MinBidAmount() decimal.Decimal {
	return events.ParseAmount(d.MinBidExact, d.MinBid)
}

func (d Details) HighestBidAmount() decimal.Decimal {
	return events.ParseAmount(d.HighestBidExact, d.HighestBid)
}

// RelayClient talks to the relay's HTTP endpoints.
type RelayClient struct {
	client *resty.Client
}

// NewRelayClient creates a client for the relay at baseURL.
func NewRelayClient(baseURL string, timeout time.Duration) *RelayClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &RelayClient{client: client}
}

// FetchDetails loads the current state of one auction.
func (c *RelayClient) FetchDetails(ctx context.Context, auctionID string) (Details, error) {
	var details Details
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("id", auctionID).
		SetResult(&details).
		Get("/api/auction-details")
	if err != nil {
		return Details{}, fmt.Errorf("failed to fetch auction details: %w", err)
	}
	if resp.IsError() || !details.OK {
		return Details{}, fmt.Errorf("auction details for %s: status %d", auctionID, resp.StatusCode())
	}
	return details, nil
}

// NotifyWithdrawn posts a withdrawal notice so the relay can zero the entry.
func (c *RelayClient) NotifyWithdrawn(ctx context.Context, auctionID, walletAddress string) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"walletAddress": walletAddress,
			"auctionId":     auctionID,
		}).
		Post("/api/withdrawn")
	if err != nil {
		return fmt.Errorf("failed to notify withdrawal: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("withdrawal notice rejected: status %d", resp.StatusCode())
	}
	return nil
}
