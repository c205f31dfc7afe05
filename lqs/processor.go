package lqs

import (
	"github.com/rs/zerolog"
	"go.dedis.ch/htlcswap/ledger"
	"go.dedis.ch/htlcswap/logging"
	"go.dedis.ch/htlcswap/query"
)

// MatchRecorder observes matches. It has no influence on matching.
type MatchRecorder interface {
	RecordMatch(kind ledger.Kind)
}

type noopRecorder struct{}

func (noopRecorder) RecordMatch(ledger.Kind) {}

type TransactionProcessorConf struct {
	Queries *QueryRepository
	Results *ResultRepository
	Metrics MatchRecorder
}

// TransactionProcessor matches transactions against the registered queries
// of their ledger and records the matches.
type TransactionProcessor struct {
	queries *QueryRepository
	results *ResultRepository
	metrics MatchRecorder
	logger  zerolog.Logger
}

func NewTransactionProcessor(conf TransactionProcessorConf) *TransactionProcessor {
	metrics := conf.Metrics
	if metrics == nil {
		metrics = noopRecorder{}
	}
	return &TransactionProcessor{
		queries: conf.Queries,
		results: conf.Results,
		metrics: metrics,
		logger:  logging.RootLogger.With().Str("Component", "TransactionProcessor").Logger(),
	}
}

// Process evaluates tx against every query of its ledger and returns the
// number of new matches. Processing a transaction twice records nothing
// the second time.
func (p *TransactionProcessor) Process(tx query.Transaction) int {
	if tx == nil {
		return 0
	}
	kind := tx.Ledger()
	txid := tx.TxID()
	p.logger.Trace().Str("ledger", kind.String()).Str("txid", txid).Msg("processing transaction")

	matched := 0
	p.queries.All(func(id query.ID, q query.Query) bool {
		if q.Ledger() != kind || !q.Matches(tx) {
			return true
		}
		added := p.results.Add(id, tx)
		if _, err := p.queries.Get(id); err != nil {
			// deleted while matching, drop the set Add may have recreated
			p.results.Delete(id)
			return true
		}
		if added {
			matched++
			p.logger.Info().
				Str("ledger", kind.String()).
				Str("query", string(id)).
				Str("txid", txid).
				Msgf("transaction matches %v", q)
			p.metrics.RecordMatch(kind)
		}
		return true
	})
	return matched
}
