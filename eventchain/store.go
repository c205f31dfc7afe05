package eventchain

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.dedis.ch/htlcswap/logging"
)

// Store keeps one append-only chain per trade. Appends to the same trade
// are serialized, appends to different trades are independent.
type Store interface {
	// Append adds ev at the end of the trade's chain. It fails with a
	// *TransitionError when ev can't follow the current tail, in which case
	// the chain is left unchanged.
	Append(ctx context.Context, trade TradeID, ev Event) (Record, error)
	Events(ctx context.Context, trade TradeID) ([]Record, error)
	State(ctx context.Context, trade TradeID) (TradeState, error)
	Trades(ctx context.Context) ([]TradeID, error)
}

// tradeLocks hands out one mutex per trade.
type tradeLocks struct {
	locks sync.Map // TradeID -> *sync.Mutex
}

func (l *tradeLocks) lock(trade TradeID) func() {
	m, _ := l.locks.LoadOrStore(trade, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// MemoryStore implements Store in memory.
type MemoryStore struct {
	locks  tradeLocks
	mu     sync.RWMutex
	chains map[TradeID][]Record
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chains: make(map[TradeID][]Record),
		now:    time.Now,
	}
}

// Append implements Store
func (s *MemoryStore) Append(_ context.Context, trade TradeID, ev Event) (Record, error) {
	unlock := s.locks.lock(trade)
	defer unlock()

	s.mu.RLock()
	chain := s.chains[trade]
	s.mu.RUnlock()

	var tail *Record
	var tailKind Kind
	if len(chain) > 0 {
		tail = &chain[len(chain)-1]
		tailKind = tail.Kind()
	}
	if !Allowed(tailKind, ev.Kind()) {
		return Record{}, newTransitionError(trade, tailKind, ev.Kind())
	}

	rec, err := newRecord(trade, tail, ev, s.now())
	if err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	s.chains[trade] = append(s.chains[trade], rec)
	s.mu.Unlock()

	return rec, nil
}

// Events implements Store
func (s *MemoryStore) Events(_ context.Context, trade TradeID) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chain, ok := s.chains[trade]
	if !ok {
		return nil, ErrUnknownTrade
	}
	out := make([]Record, len(chain))
	copy(out, chain)
	return out, nil
}

// State implements Store
func (s *MemoryStore) State(ctx context.Context, trade TradeID) (TradeState, error) {
	records, err := s.Events(ctx, trade)
	if err != nil {
		return TradeState{}, err
	}
	return Replay(records)
}

// Trades implements Store
func (s *MemoryStore) Trades(context.Context) ([]TradeID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]TradeID, 0, len(s.chains))
	for id := range s.chains {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Sink is told about every appended record.
type Sink interface {
	Notify(rec Record)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(Record)

func (f SinkFunc) Notify(rec Record) {
	f(rec)
}

type notifyingStore struct {
	Store
	sinks  []Sink
	logger zerolog.Logger
}

// Notifying wraps store so that sinks see every successful append, in
// order, after it was stored.
func Notifying(store Store, sinks ...Sink) Store {
	return &notifyingStore{
		Store:  store,
		sinks:  sinks,
		logger: logging.RootLogger.With().Str("Component", "EventChain").Logger(),
	}
}

func (s *notifyingStore) Append(ctx context.Context, trade TradeID, ev Event) (Record, error) {
	rec, err := s.Store.Append(ctx, trade, ev)
	if err != nil {
		s.logger.Warn().Err(err).Str("trade", string(trade)).Msg("append refused")
		return Record{}, err
	}
	s.logger.Info().Str("trade", string(trade)).Uint64("seq", rec.Seq).Msgf("appended %s", rec.Kind())
	for _, sink := range s.sinks {
		sink.Notify(rec)
	}
	return rec, nil
}
