package bidder

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/char-123717/lelang/go/internal/auction/events"
)

// PushConfig describes the auction room subscription.
type PushConfig struct {
	RelayURL      string
	AuctionID     string
	Name          string
	WalletAddress string
	Token         string
	ReconnectWait time.Duration
}

// PushClient keeps a WebSocket subscription to one auction room open and hands
// every decoded event to a callback.
type PushClient struct {
	config PushConfig
	dialer *websocket.Dialer
	clock  clockwork.Clock
}

// NewPushClient creates a push client.
func NewPushClient(config PushConfig, clock clockwork.Clock) *PushClient {
	if config.ReconnectWait <= 0 {
		config.ReconnectWait = 2 * time.Second
	}
	return &PushClient{
		config: config,
		dialer: websocket.DefaultDialer,
		clock:  clock,
	}
}

// URL returns the room subscription URL.
func (c *PushClient) URL() (string, error) {
	u, err := url.Parse(c.config.RelayURL)
	if err != nil {
		return "", fmt.Errorf("invalid relay url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/auction"

	q := url.Values{}
	q.Set("id", c.config.AuctionID)
	q.Set("mode", "bid")
	if c.config.Name != "" {
		q.Set("name", c.config.Name)
	}
	if c.config.WalletAddress != "" {
		q.Set("walletAddress", c.config.WalletAddress)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Run subscribes until ctx is cancelled, reconnecting after failures.
func (c *PushClient) Run(ctx context.Context, handle func(*events.Event)) error {
	target, err := c.URL()
	if err != nil {
		return err
	}
	header := http.Header{}
	if c.config.Token != "" {
		header.Set("Authorization", "Bearer "+c.config.Token)
	}

	for {
		if err := c.listen(ctx, target, header, handle); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Str("auction_id", c.config.AuctionID).Msg("push connection lost")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-c.clock.After(c.config.ReconnectWait):
		}
	}
}

func (c *PushClient) listen(ctx context.Context, target string, header http.Header, handle func(*events.Event)) error {
	conn, resp, err := c.dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial relay: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("dial relay: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		ev, err := events.Decode(data)
		if err != nil {
			log.Debug().Err(err).Msg("ignoring undecodable event")
			continue
		}
		handle(ev)
	}
}

// Apply routes pushed events into g.
func Apply(g *Gateway) func(*events.Event) {
	return func(ev *events.Event) {
		switch p := ev.Data.(type) {
		case events.HighestBidUpdatePayload:
			g.ApplyHighestBid(p)
		case events.TimerUpdatePayload:
			g.ApplyTimer(p)
		}
	}
}
