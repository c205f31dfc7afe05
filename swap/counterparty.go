package swap

import (
	"context"

	"go.dedis.ch/htlcswap/negotiation"
)

// PeerCounterparty proposes swaps to Peer through a negotiation node.
type PeerCounterparty struct {
	Node *negotiation.Node
	Peer string
}

func (c PeerCounterparty) Propose(ctx context.Context, r Request) (negotiation.Response, error) {
	req, err := EncodeRequest(r)
	if err != nil {
		return negotiation.Response{}, err
	}
	return c.Node.Request(ctx, c.Peer, req)
}

// CounterpartyFunc adapts a function to Counterparty
type CounterpartyFunc func(ctx context.Context, r Request) (negotiation.Response, error)

func (f CounterpartyFunc) Propose(ctx context.Context, r Request) (negotiation.Response, error) {
	return f(ctx, r)
}

// Local proposes straight to a dispatcher in the same process.
func Local(d *Dispatcher) Counterparty {
	return CounterpartyFunc(func(ctx context.Context, r Request) (negotiation.Response, error) {
		req, err := EncodeRequest(r)
		if err != nil {
			return negotiation.Response{}, err
		}
		return d.Dispatch(ctx, req), nil
	})
}
