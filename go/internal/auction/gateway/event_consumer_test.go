package gateway

import (
	"context"
	"testing"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/peterldowns/testy/check"

	"github.com/char-123717/lelang/go/internal/auction/events"
	"github.com/char-123717/lelang/go/internal/auction/metrics"
)

type fakeMsg struct {
	jetstream.Msg
	data    []byte
	acked   bool
	termed  bool
	subject string
}

func (m *fakeMsg) Data() []byte    { return m.data }
func (m *fakeMsg) Subject() string { return m.subject }
func (m *fakeMsg) Ack() error      { m.acked = true; return nil }
func (m *fakeMsg) Term() error     { m.termed = true; return nil }

type recordingLedgerHandler struct {
	events  []events.LedgerEvent
	sources []string
}

func (h *recordingLedgerHandler) HandleLedgerEvent(_ context.Context, ev events.LedgerEvent, source string) {
	h.events = append(h.events, ev)
	h.sources = append(h.sources, source)
}

func TestProcessMessage(t *testing.T) {
	handler := &recordingLedgerHandler{}
	ec := &EventConsumer{handler: handler, config: DefaultJetStreamConsumerConfig()}

	good := &fakeMsg{
		subject: "auction.events.101",
		data:    []byte(`{"eventId":"0xabc:1","eventType":"BidPlaced","auctionId":"101","bidder":"` + walletA + `","amount":"0.5"}`),
	}
	ec.processMessage(context.Background(), good)

	check.True(t, good.acked)
	check.False(t, good.termed)
	check.Equal(t, 1, len(handler.events))
	check.Equal(t, "101", handler.events[0].AuctionID)
	check.Equal(t, events.LedgerBidPlaced, handler.events[0].Kind)
	check.Equal(t, metrics.SourceJetStream, handler.sources[0])

	bad := &fakeMsg{subject: "auction.events.101", data: []byte(`{"eventType":"Rugpull","auctionId":"101"}`)}
	ec.processMessage(context.Background(), bad)

	check.True(t, bad.termed)
	check.False(t, bad.acked)
	check.Equal(t, 1, len(handler.events))
}
