package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/peterldowns/testy/assert"
	"github.com/shopspring/decimal"

	"github.com/char-123717/lelang/go/internal/auction/events"
	"github.com/char-123717/lelang/go/internal/auction/metrics"
	"github.com/char-123717/lelang/go/internal/auction/store"
	"github.com/char-123717/lelang/go/internal/identity"
	"github.com/char-123717/lelang/go/internal/models"
)

const (
	walletA = "0xAAAA000000000000000000000000000000000001"
	walletB = "0xBBBB000000000000000000000000000000000002"
)

type fakeVerifier map[string]identity.Identity

// outageToken makes fakeVerifier fail as if its backing store were down.
const outageToken = "outage"

func (f fakeVerifier) Verify(_ context.Context, token string) (identity.Identity, error) {
	if token == outageToken {
		return identity.Identity{}, errors.New("failed to query user: connection refused")
	}
	id, ok := f[token]
	if !ok {
		return identity.Identity{}, identity.ErrUnauthenticated
	}
	if !id.Verified {
		return id, identity.ErrUnverified
	}
	return id, nil
}

type scheduledPass struct {
	AuctionID string
	Delay     time.Duration
	Source    string
}

type recordingReconciler struct {
	mu     sync.Mutex
	passes []scheduledPass
}

func (r *recordingReconciler) TriggerAfter(auctionID string, d time.Duration, source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.passes = append(r.passes, scheduledPass{AuctionID: auctionID, Delay: d, Source: source})
}

type testRelay struct {
	store      *store.Store
	clock      *clockwork.FakeClock
	cm         *ConnectionManager
	reconciler *recordingReconciler
	server     *httptest.Server
	wsURL      string
}

func newTestRelay(t *testing.T) *testRelay {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	st := store.New([]models.AuctionConfig{
		{ID: "101", Name: "Etherwave", ContractAddress: "0x1000000000000000000000000000000000000101", MinBid: decimal.RequireFromString("0.0001")},
		{ID: "102", Name: "Satoshi", ContractAddress: "0x1000000000000000000000000000000000000102", MinBid: decimal.RequireFromString("0.0001")},
	})
	_, _, err := st.Commit("101", store.Reconciled{
		Sequence:       1,
		HighestBid:     decimal.RequireFromString("2"),
		HighestBidder:  walletA,
		AuctionEndTime: clock.Now().Add(90 * time.Second),
		BidHistory: []models.BidEntry{
			{BidderLabel: "alice", WalletAddress: walletA, Amount: decimal.RequireFromString("2"), ObservedAt: clock.Now()},
			{BidderLabel: models.ShortAddress(walletB), WalletAddress: walletB, Amount: decimal.RequireFromString("1"), ObservedAt: clock.Now()},
		},
		ObservedAt: clock.Now(),
	})
	assert.NoError(t, err)

	verifier := fakeVerifier{
		"good":    {Subject: "u1", Email: "alice@example.com", Verified: true},
		"pending": {Subject: "u2", Email: "bob@example.com"},
	}

	cm := NewConnectionManager(DefaultConnectionConfig(), clock, metrics.NoOp{})
	reconciler := &recordingReconciler{}
	svc := NewService(cm, DefaultConfig(), st, verifier, reconciler, nil, clock)

	mux := http.NewServeMux()
	svc.RegisterRoutes(mux, metrics.NoOp{})
	srv := httptest.NewServer(mux)

	ctx, cancel := context.WithCancel(context.Background())
	go cm.Start(ctx)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	return &testRelay{
		store:      st,
		clock:      clock,
		cm:         cm,
		reconciler: reconciler,
		server:     srv,
		wsURL:      "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/auction",
	}
}

func (r *testRelay) dial(t *testing.T, query string, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	return websocket.DefaultDialer.Dial(r.wsURL+"?"+query, header)
}

func readEvent(t *testing.T, conn *websocket.Conn) *events.Event {
	t.Helper()
	assert.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	assert.NoError(t, err)
	ev, err := events.Decode(data)
	assert.NoError(t, err)
	return ev
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
