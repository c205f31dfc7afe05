package eventchain

import (
	"errors"
	"fmt"

	"golang.org/x/xerrors"
)

var ErrInvalidTransition = errors.New("invalid transition")

// ErrUnknownTrade is returned for trades without any event.
var ErrUnknownTrade = errors.New("unknown trade")

// ErrCorruptedChain is returned when a stored chain doesn't replay.
var ErrCorruptedChain = errors.New("corrupted event chain")

// predecessors maps every kind to the kinds it may follow. OfferCreated has
// none: it only starts a chain. Refunded may follow either funded phase,
// since the locking party refunds whether or not the counter HTLC appeared.
var predecessors = map[Kind][]Kind{
	OfferCreated:            nil,
	OrderTaken:              {OfferCreated},
	Rejected:                {OfferCreated},
	ContractDeployed:        {OrderTaken},
	TradeFunded:             {ContractDeployed},
	CounterContractDeployed: {TradeFunded},
	Redeemed:                {CounterContractDeployed},
	Refunded:                {TradeFunded, CounterContractDeployed},
}

// Initial is the kind every chain starts with.
const Initial = OfferCreated

// Allowed tells if next may be appended to a chain whose tail is tail. An
// empty tail stands for an empty chain.
func Allowed(tail, next Kind) bool {
	if tail == "" {
		return next == Initial
	}
	for _, prev := range predecessors[next] {
		if prev == tail {
			return true
		}
	}
	return false
}

// Predecessors returns the kinds next may follow.
func Predecessors(next Kind) []Kind {
	out := make([]Kind, len(predecessors[next]))
	copy(out, predecessors[next])
	return out
}

// Terminal tells if no event may follow k.
func (k Kind) Terminal() bool {
	return k == Redeemed || k == Refunded || k == Rejected
}

// TransitionError describes a refused append. It wraps ErrInvalidTransition.
type TransitionError struct {
	Trade TradeID
	// Tail is empty when the chain was empty.
	Tail  Kind
	Next  Kind
	frame xerrors.Frame
}

func newTransitionError(trade TradeID, tail, next Kind) *TransitionError {
	return &TransitionError{Trade: trade, Tail: tail, Next: next, frame: xerrors.Caller(1)}
}

func (e *TransitionError) Error() string {
	if e.Tail == "" {
		return fmt.Sprintf("%v: trade %s has no events, %s cannot start it", ErrInvalidTransition, e.Trade, e.Next)
	}
	return fmt.Sprintf("%v: trade %s is at %s, %s needs one of %v",
		ErrInvalidTransition, e.Trade, e.Tail, e.Next, predecessors[e.Next])
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

func (e *TransitionError) Format(s fmt.State, v rune) {
	xerrors.FormatError(e, s, v)
}

func (e *TransitionError) FormatError(p xerrors.Printer) error {
	p.Print(e.Error())
	e.frame.Format(p)
	return nil
}
