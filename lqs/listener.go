package lqs

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.dedis.ch/htlcswap/ledger"
	"go.dedis.ch/htlcswap/logging"
	"go.dedis.ch/htlcswap/query"
)

// BlockSource feeds the transactions of one ledger, block by block.
type BlockSource interface {
	Ledger() ledger.Kind
	Height(ctx context.Context) (uint64, error)
	Transactions(ctx context.Context, height uint64) ([]query.Transaction, error)
}

type ListenerConf struct {
	Source       BlockSource
	Processor    *TransactionProcessor
	PollInterval time.Duration
	// StartHeight is the first block processed. Zero starts at the tip.
	StartHeight uint64
}

// Listener polls a BlockSource and hands every transaction to the
// processor in ledger order. One listener runs per ledger.
type Listener struct {
	source    BlockSource
	processor *TransactionProcessor
	interval  time.Duration
	start     uint64
	logger    zerolog.Logger
}

func NewListener(conf ListenerConf) *Listener {
	interval := conf.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Listener{
		source:    conf.Source,
		processor: conf.Processor,
		interval:  interval,
		start:     conf.StartHeight,
		logger: logging.RootLogger.With().
			Str("Component", "Listener").
			Str("ledger", conf.Source.Ledger().String()).Logger(),
	}
}

// Start runs the listener until ctx is done. The returned channel is closed
// when it stopped.
func (l *Listener) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})

	go func() {
		defer close(done)

		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()

		// blocks up to handled have been processed
		var handled uint64
		started := false

		for {
			current, err := l.source.Height(ctx)
			if err != nil {
				l.logger.Warn().Err(err).Msg("failed to get block height")
			} else {
				if !started {
					handled = l.initialHandled(current)
					started = true
				}
				handled = l.catchUp(ctx, handled, current)
			}

			select {
			case <-ctx.Done():
				l.logger.Debug().Msg("stopping listener")
				return
			case <-ticker.C:
			}
		}
	}()

	return done
}

func (l *Listener) initialHandled(current uint64) uint64 {
	if l.start == 0 || l.start > current+1 {
		return current
	}
	return l.start - 1
}

// catchUp processes blocks after handled up to current. It stops at the
// first block it can't fetch so that it is retried on the next tick.
func (l *Listener) catchUp(ctx context.Context, handled, current uint64) uint64 {
	for height := handled + 1; height <= current; height++ {
		if ctx.Err() != nil {
			return handled
		}
		txs, err := l.source.Transactions(ctx, height)
		if err != nil {
			l.logger.Warn().Err(err).Uint64("height", height).Msg("failed to fetch block")
			return handled
		}
		matches := 0
		for _, tx := range txs {
			matches += l.processor.Process(tx)
		}
		l.logger.Debug().Uint64("height", height).Int("transactions", len(txs)).
			Int("matches", matches).Msg("processed block")
		handled = height
	}
	return handled
}
