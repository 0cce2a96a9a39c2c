package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector defines the interface for collecting relay metrics
type Collector interface {
	RecordReconcile(auctionID string, success bool, duration time.Duration)
	RecordReconcileDiscarded(auctionID string)
	RecordTrigger(source string)
	RecordBroadcast(eventType string, recipients int)
	RecordConnection(room string, delta int)
	RecordSlowConsumer(room string)
	RecordLedgerEvent(kind string)
}

// Trigger sources.
const (
	SourcePoll      = "poll"
	SourceLedgerLog = "ledger_log"
	SourceJetStream = "jetstream"
	SourceWithdraw  = "withdraw"
	SourceCountdown = "countdown"
	SourceStartup   = "startup"
)

// NoOp is a no-op implementation for when metrics aren't needed
type NoOp struct{}

func (NoOp) RecordReconcile(auctionID string, success bool, duration time.Duration) {}
func (NoOp) RecordReconcileDiscarded(auctionID string)                              {}
func (NoOp) RecordTrigger(source string)                                            {}
func (NoOp) RecordBroadcast(eventType string, recipients int)                       {}
func (NoOp) RecordConnection(room string, delta int)                                {}
func (NoOp) RecordSlowConsumer(room string)                                         {}
func (NoOp) RecordLedgerEvent(kind string)                                          {}

// Prometheus implements Collector using the Prometheus client library
type Prometheus struct {
	gatherer prometheus.Gatherer

	reconciles       *prometheus.CounterVec
	reconcileLatency *prometheus.HistogramVec
	discarded        *prometheus.CounterVec
	triggers         *prometheus.CounterVec
	broadcasts       *prometheus.CounterVec
	deliveries       *prometheus.CounterVec
	connections      *prometheus.GaugeVec
	slowConsumers    *prometheus.CounterVec
	ledgerEvents     *prometheus.CounterVec
}

// NewPrometheus registers the relay metrics on reg.
func NewPrometheus(reg *prometheus.Registry) *Prometheus {
	factory := promauto.With(reg)
	return &Prometheus{
		gatherer: reg,
		reconciles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auction_relay",
			Name:      "reconciles_total",
			Help:      "Reconciliation passes by auction and outcome.",
		}, []string{"auction_id", "status"}),
		reconcileLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "auction_relay",
			Name:      "reconcile_duration_seconds",
			Help:      "Duration of reconciliation passes.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"auction_id"}),
		discarded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auction_relay",
			Name:      "reconciles_discarded_total",
			Help:      "Reconciliation results discarded because a newer pass already committed.",
		}, []string{"auction_id"}),
		triggers: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auction_relay",
			Name:      "triggers_total",
			Help:      "Reconciliation triggers by source.",
		}, []string{"source"}),
		broadcasts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auction_relay",
			Name:      "broadcasts_total",
			Help:      "Events broadcast to rooms.",
		}, []string{"event_type"}),
		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auction_relay",
			Name:      "deliveries_total",
			Help:      "Event deliveries to individual connections.",
		}, []string{"event_type"}),
		connections: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "auction_relay",
			Name:      "connections",
			Help:      "Open WebSocket connections by room.",
		}, []string{"room"}),
		slowConsumers: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auction_relay",
			Name:      "slow_consumers_total",
			Help:      "Connections dropped because their send buffer was full.",
		}, []string{"room"}),
		ledgerEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auction_relay",
			Name:      "ledger_events_total",
			Help:      "Ledger events received by kind.",
		}, []string{"kind"}),
	}
}

func (m *Prometheus) RecordReconcile(auctionID string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.reconciles.WithLabelValues(auctionID, status).Inc()
	m.reconcileLatency.WithLabelValues(auctionID).Observe(duration.Seconds())
}

func (m *Prometheus) RecordReconcileDiscarded(auctionID string) {
	m.discarded.WithLabelValues(auctionID).Inc()
}

func (m *Prometheus) RecordTrigger(source string) {
	m.triggers.WithLabelValues(source).Inc()
}

func (m *Prometheus) RecordBroadcast(eventType string, recipients int) {
	m.broadcasts.WithLabelValues(eventType).Inc()
	m.deliveries.WithLabelValues(eventType).Add(float64(recipients))
}

func (m *Prometheus) RecordConnection(room string, delta int) {
	m.connections.WithLabelValues(room).Add(float64(delta))
}

func (m *Prometheus) RecordSlowConsumer(room string) {
	m.slowConsumers.WithLabelValues(room).Inc()
}

func (m *Prometheus) RecordLedgerEvent(kind string) {
	m.ledgerEvents.WithLabelValues(kind).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
