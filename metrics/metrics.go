package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.dedis.ch/htlcswap/eventchain"
	"go.dedis.ch/htlcswap/ledger"
)

var (
	// query service

	QueryMatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "htlcswap_query_matches_total",
			Help: "Total number of transactions matched by a registered query",
		},
		[]string{"ledger"},
	)

	// trades

	TradeTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "htlcswap_trade_transitions_total",
			Help: "Total number of events appended to trade chains",
		},
		[]string{"kind"},
	)

	SubmissionRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "htlcswap_submission_retries_total",
			Help: "Total number of ledger submissions retried",
		},
		[]string{"op"},
	)

	StalledTrades = promauto.NewCounter(prometheus.CounterOpts{
		Name: "htlcswap_stalled_trades_total",
		Help: "Total number of trades stopped by a persistent failure",
	})

	// notification

	NATSConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "htlcswap_nats_connection_status",
		Help: "NATS connection status (1=connected, 0=disconnected)",
	})
)

// Recorder feeds the collectors. It implements lqs.MatchRecorder,
// swap.Recorder and eventchain.Sink.
type Recorder struct{}

func (Recorder) RecordMatch(kind ledger.Kind) {
	QueryMatches.WithLabelValues(kind.String()).Inc()
}

func (Recorder) RecordRetry(op string) {
	SubmissionRetries.WithLabelValues(op).Inc()
}

func (Recorder) RecordStalled() {
	StalledTrades.Inc()
}

// Notify implements eventchain.Sink
func (Recorder) Notify(rec eventchain.Record) {
	TradeTransitions.WithLabelValues(string(rec.Kind())).Inc()
}
