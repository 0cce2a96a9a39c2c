package bidder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/char-123717/lelang/go/internal/auction/events"
)

func TestRelayClient(t *testing.T) {
	var notice map[string]string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auction-details", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id") != "101" {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"ok":false}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true,"auctionId":"101","minBid":0.0001,"minBidExact":"0.0001","highestBid":1.5,"highestBidExact":"1.500000000000000007","highestBidder":"0xabc","auctionEndTime":1700000090,"ended":false}`))
	})
	mux.HandleFunc("/api/withdrawn", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&notice)
		w.Write([]byte(`{"ok":true}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewRelayClient(srv.URL, time.Second)

	details, err := client.FetchDetails(context.Background(), "101")
	assert.NoError(t, err)
	check.Equal(t, 1.5, details.HighestBid)
	check.Equal(t, "1.500000000000000007", details.HighestBidAmount().String())
	check.Equal(t, "0.0001", details.MinBidAmount().String())
	check.Equal(t, int64(1700000090), details.AuctionEndTime)

	_, err = client.FetchDetails(context.Background(), "999")
	check.Error(t, err)

	assert.NoError(t, client.NotifyWithdrawn(context.Background(), "101", wallet))
	check.Equal(t, wallet, notice["walletAddress"])
	check.Equal(t, "101", notice["auctionId"])
}

func TestPushClientURL(t *testing.T) {
	c := NewPushClient(PushConfig{
		RelayURL:      "https://relay.example.com/",
		AuctionID:     "102",
		Name:          "alice",
		WalletAddress: wallet,
	}, clockwork.NewRealClock())

	u, err := c.URL()
	assert.NoError(t, err)
	check.Equal(t, "wss://relay.example.com/ws/auction?id=102&mode=bid&name=alice&walletAddress="+wallet, u)
}

func TestPushClientAppliesEvents(t *testing.T) {
	upgrader := websocket.Upgrader{}
	authCh := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case authCh <- r.Header.Get("Authorization"):
		default:
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		now := time.Now()
		for _, p := range []events.Payload{
			events.HighestBidUpdatePayload{AuctionID: "101", Amount: 4, BidderName: "bob"},
			events.TimerUpdatePayload{ID: "101", Seconds: 0, Ended: true},
		} {
			data, _ := json.Marshal(events.NewEvent(p, now))
			conn.WriteMessage(websocket.TextMessage, data)
		}
		// Hold the connection open until the client goes away.
		conn.ReadMessage()
	}))
	defer srv.Close()

	g := NewGateway("101", d("0.0001"), &fakeLedger{}, nil)
	client := NewPushClient(PushConfig{RelayURL: srv.URL, AuctionID: "101", Token: "tok"}, clockwork.NewRealClock())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx, Apply(g)) }()

	deadline := time.Now().Add(2 * time.Second)
	for !g.State().Ended && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	assert.NoError(t, <-done)

	state := g.State()
	check.True(t, state.Ended)
	check.Equal(t, "4", state.HighestBid.String())
	check.Equal(t, "Bearer tok", <-authCh)
}
