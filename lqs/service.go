package lqs

import (
	"context"

	"github.com/rs/zerolog"
	"go.dedis.ch/htlcswap/logging"
	"go.dedis.ch/htlcswap/query"
)

// Service is the query registry: register, look up, await and delete
// queries across all ledgers.
type Service struct {
	queries *QueryRepository
	results *ResultRepository
	logger  zerolog.Logger
}

func NewService(queries *QueryRepository, results *ResultRepository) *Service {
	return &Service{
		queries: queries,
		results: results,
		logger:  logging.RootLogger.With().Str("Component", "QueryService").Logger(),
	}
}

func (s *Service) Register(q query.Query, opts ...SaveOption) (query.ID, error) {
	id, err := s.queries.Save(q, opts...)
	if err != nil {
		return "", err
	}
	s.logger.Debug().Str("query", string(id)).Str("ledger", q.Ledger().String()).Msgf("registered %v", q)
	return id, nil
}

func (s *Service) Query(id query.ID) (query.Query, error) {
	return s.queries.Get(id)
}

// Results returns the transaction ids matched by id so far. An empty slice
// means no match yet.
func (s *Service) Results(id query.ID) ([]string, error) {
	if _, err := s.queries.Get(id); err != nil {
		return nil, err
	}
	return s.results.Get(id), nil
}

// Await blocks until id has at least one match and returns the first
// matching transaction.
func (s *Service) Await(ctx context.Context, id query.ID) (query.Transaction, error) {
	return s.Next(ctx, id, 0)
}

// Next blocks until id has more than seen matches and returns the one at
// position seen, in match order.
func (s *Service) Next(ctx context.Context, id query.ID, seen int) (query.Transaction, error) {
	for {
		changed := s.results.Changed(id)

		if _, err := s.queries.Get(id); err != nil {
			s.results.Delete(id)
			return nil, err
		}
		if txids := s.results.Get(id); len(txids) > seen {
			if tx, ok := s.results.Transaction(id, txids[seen]); ok {
				return tx, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-changed:
		}
	}
}

func (s *Service) Delete(id query.ID) error {
	if err := s.queries.Delete(id); err != nil {
		return err
	}
	s.results.Delete(id)
	s.logger.Debug().Str("query", string(id)).Msg("deleted")
	return nil
}
