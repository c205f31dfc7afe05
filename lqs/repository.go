package lqs

import (
	"errors"
	"fmt"
	"sync"

	"go.dedis.ch/htlcswap/query"
)

var ErrUnknownQuery = errors.New("unknown query")

// ErrWildcardQuery is returned when a query without any field is saved
// without AllowWildcard.
var ErrWildcardQuery = errors.New("wildcard query must be registered explicitly")

type saveOptions struct {
	allowWildcard bool
}

// SaveOption tunes QueryRepository.Save
type SaveOption func(*saveOptions)

// AllowWildcard accepts a query matching every transaction of its ledger.
func AllowWildcard() SaveOption {
	return func(o *saveOptions) {
		o.allowWildcard = true
	}
}

// QueryRepository maps query ids to registered queries. Reads never take a
// lock, so the processor can scan it while swaps register and delete
// queries.
type QueryRepository struct {
	queries sync.Map // query.ID -> query.Query
}

func NewQueryRepository() *QueryRepository {
	return &QueryRepository{}
}

// Save stores q under a fresh id.
func (r *QueryRepository) Save(q query.Query, opts ...SaveOption) (query.ID, error) {
	if q == nil {
		return "", fmt.Errorf("%w: nil query", query.ErrMalformedQuery)
	}
	o := saveOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if q.IsWildcard() && !o.allowWildcard {
		return "", ErrWildcardQuery
	}

	for {
		id := query.NewID()
		if _, loaded := r.queries.LoadOrStore(id, q); !loaded {
			return id, nil
		}
	}
}

func (r *QueryRepository) Get(id query.ID) (query.Query, error) {
	q, ok := r.queries.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQuery, id)
	}
	return q.(query.Query), nil
}

func (r *QueryRepository) Delete(id query.ID) error {
	if _, loaded := r.queries.LoadAndDelete(id); !loaded {
		return fmt.Errorf("%w: %s", ErrUnknownQuery, id)
	}
	return nil
}

// All calls fn for every registered query until fn returns false. Queries
// saved or deleted during the scan may or may not be visited.
func (r *QueryRepository) All(fn func(query.ID, query.Query) bool) {
	r.queries.Range(func(key, value any) bool {
		return fn(key.(query.ID), value.(query.Query))
	})
}

type resultSet struct {
	sync.Mutex
	txids   []string
	txs     map[string]query.Transaction
	changed chan struct{}
}

// ResultRepository maps query ids to the ordered transactions that matched
// them. Each query's set has its own lock.
type ResultRepository struct {
	results sync.Map // query.ID -> *resultSet
}

func NewResultRepository() *ResultRepository {
	return &ResultRepository{}
}

func (r *ResultRepository) set(id query.ID) *resultSet {
	s, _ := r.results.LoadOrStore(id, &resultSet{
		txs:     make(map[string]query.Transaction),
		changed: make(chan struct{}),
	})
	return s.(*resultSet)
}

// Add appends tx to the results of id. Adding a transaction already
// recorded for id is a no-op and returns false.
func (r *ResultRepository) Add(id query.ID, tx query.Transaction) bool {
	s := r.set(id)
	txid := tx.TxID()

	s.Lock()
	defer s.Unlock()

	if _, ok := s.txs[txid]; ok {
		return false
	}
	s.txs[txid] = tx
	s.txids = append(s.txids, txid)

	close(s.changed)
	s.changed = make(chan struct{})
	return true
}

// Get returns a copy of the transaction ids matched by id, oldest first.
func (r *ResultRepository) Get(id query.ID) []string {
	s, ok := r.results.Load(id)
	if !ok {
		return []string{}
	}
	set := s.(*resultSet)

	set.Lock()
	defer set.Unlock()

	out := make([]string, len(set.txids))
	copy(out, set.txids)
	return out
}

// Transaction returns a matched transaction of id.
func (r *ResultRepository) Transaction(id query.ID, txid string) (query.Transaction, bool) {
	s, ok := r.results.Load(id)
	if !ok {
		return nil, false
	}
	set := s.(*resultSet)

	set.Lock()
	defer set.Unlock()

	tx, ok := set.txs[txid]
	return tx, ok
}

// Changed returns a channel closed at the next new result of id.
func (r *ResultRepository) Changed(id query.ID) <-chan struct{} {
	s := r.set(id)

	s.Lock()
	defer s.Unlock()

	return s.changed
}

// Delete drops the results of id and wakes up its waiters.
func (r *ResultRepository) Delete(id query.ID) {
	s, loaded := r.results.LoadAndDelete(id)
	if !loaded {
		return
	}
	set := s.(*resultSet)

	set.Lock()
	defer set.Unlock()

	close(set.changed)
	set.changed = make(chan struct{})
}
