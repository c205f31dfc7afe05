package swap

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.dedis.ch/htlcswap/htlc"
	"go.dedis.ch/htlcswap/ledger"
)

var ErrUnsafeLocks = errors.New("target lock does not expire before source lock")

// Decision is a handler's verdict on a request.
type Decision struct {
	Accept bool
	Reason string
}

func Accepted() Decision {
	return Decision{Accept: true}
}

func Declined(reason string) Decision {
	return Decision{Reason: reason}
}

// Handler decides on incoming swap requests. Implementations must be pure:
// the same request always gets the same decision.
type Handler interface {
	Handle(r Request) Decision
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(Request) Decision

func (f HandlerFunc) Handle(r Request) Decision {
	return f(r)
}

// RateHandler accepts swaps between Base and Quote at a price, in Base per
// Quote, better than Threshold for this node. When the initiator gives Base
// the node wants more Base per Quote, when it gives Quote the node wants to
// pay less Base per Quote.
type RateHandler struct {
	Base      ledger.Kind
	Quote     ledger.Kind
	Threshold decimal.Decimal
}

// Rate is the price of r in Base per Quote.
func (h RateHandler) Rate(r Request) (decimal.Decimal, bool) {
	var base, quote decimal.Decimal
	switch r.Direction() {
	case Direction{Source: h.Base, Target: h.Quote}:
		base, quote = r.SourceAsset.Quantity(), r.TargetAsset.Quantity()
	case Direction{Source: h.Quote, Target: h.Base}:
		base, quote = r.TargetAsset.Quantity(), r.SourceAsset.Quantity()
	default:
		return decimal.Decimal{}, false
	}
	if quote.IsZero() {
		return decimal.Decimal{}, false
	}
	return base.Div(quote), true
}

func (h RateHandler) Handle(r Request) Decision {
	rate, ok := h.Rate(r)
	if !ok {
		return Declined(fmt.Sprintf("no rate for %s", r.Direction()))
	}
	if r.SourceLedger.Kind() == h.Base {
		if rate.GreaterThan(h.Threshold) {
			return Accepted()
		}
	} else if rate.LessThan(h.Threshold) {
		return Accepted()
	}
	return Declined(fmt.Sprintf("rate %s against threshold %s", rate.String(), h.Threshold.String()))
}

// CheckLocks verifies the HTLC the responder funds expires strictly before
// the one the initiator funds, so the initiator can't redeem the target
// after the responder lost the chance to redeem the source.
func CheckLocks(r Request, a Accept, blockInterval time.Duration) error {
	source := htlc.LockTime(r.SourceLedger.Kind(), r.SourceLock, blockInterval)
	target := htlc.LockTime(r.TargetLedger.Kind(), a.TargetLock, blockInterval)
	if a.TargetLock == 0 || target >= source {
		return fmt.Errorf("%w: %s >= %s", ErrUnsafeLocks, target, source)
	}
	return nil
}

// HalfLock picks a target lock of half the source lock's wall time,
// expressed in the target ledger's unit.
func HalfLock(blockInterval time.Duration) func(Request) htlc.LockDuration {
	return func(r Request) htlc.LockDuration {
		half := htlc.LockTime(r.SourceLedger.Kind(), r.SourceLock, blockInterval) / 2
		var lock htlc.LockDuration
		if r.TargetLedger.Kind() == ledger.KindBitcoin {
			lock = htlc.LockDuration(half / blockInterval)
		} else {
			lock = htlc.LockDuration(half / time.Second)
		}
		if lock == 0 {
			lock = 1
		}
		return lock
	}
}
