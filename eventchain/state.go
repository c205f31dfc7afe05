package eventchain

import (
	"fmt"
	"time"

	"github.com/disiqueira/gotree/v3"
	"go.dedis.ch/htlcswap/htlc"
)

// TradeState is the view of a trade materialized from its events.
type TradeState struct {
	ID    TradeID
	Phase Kind
	Seq   uint64

	Offer  Offer
	Accept *OrderTakenEvent

	SourceLocation *htlc.Location
	TargetLocation *htlc.Location
	FundingTx      string
	CounterTx      string
	SourceDeadline time.Time
	TargetDeadline time.Time

	Secret       *htlc.Secret
	RedeemTx     string
	RefundTx     string
	RejectReason string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Terminal tells if the trade reached Redeemed, Refunded or Rejected.
func (s TradeState) Terminal() bool {
	return s.Phase.Terminal()
}

// Replay folds records into a TradeState. It checks the sequence numbers,
// hash links and transitions, so any chain it accepts could have been
// built by appends.
func Replay(records []Record) (TradeState, error) {
	if len(records) == 0 {
		return TradeState{}, ErrUnknownTrade
	}

	state := TradeState{ID: records[0].Trade}
	var prev *Record

	for i := range records {
		rec := records[i]
		if err := verifyLink(prev, rec); err != nil {
			return TradeState{}, err
		}
		if !Allowed(state.Phase, rec.Kind()) {
			return TradeState{}, fmt.Errorf("%w: %v", ErrCorruptedChain, newTransitionError(rec.Trade, state.Phase, rec.Kind()))
		}
		state.apply(rec)
		prev = &records[i]
	}
	return state, nil
}

func verifyLink(prev *Record, rec Record) error {
	wantSeq, wantPrev := uint64(1), ""
	if prev != nil {
		wantSeq, wantPrev = prev.Seq+1, prev.Hash
		if rec.Trade != prev.Trade {
			return fmt.Errorf("%w: record %d belongs to trade %s", ErrCorruptedChain, rec.Seq, rec.Trade)
		}
	}
	if rec.Seq != wantSeq || rec.PrevHash != wantPrev {
		return fmt.Errorf("%w: record %d does not follow %d", ErrCorruptedChain, rec.Seq, wantSeq-1)
	}
	hash, err := rec.computeHash()
	if err != nil {
		return err
	}
	if hash != rec.Hash {
		return fmt.Errorf("%w: record %d hash mismatch", ErrCorruptedChain, rec.Seq)
	}
	return nil
}

func (s *TradeState) apply(rec Record) {
	s.Phase = rec.Kind()
	s.Seq = rec.Seq
	s.UpdatedAt = rec.At

	switch ev := rec.Event.(type) {
	case OfferCreatedEvent:
		s.Offer = ev.Offer
		s.CreatedAt = rec.At
	case OrderTakenEvent:
		accept := ev
		s.Accept = &accept
	case RejectedEvent:
		s.RejectReason = ev.Reason
	case ContractDeployedEvent:
		loc := ev.Location
		s.SourceLocation = &loc
	case TradeFundedEvent:
		loc := ev.Location
		s.SourceLocation = &loc
		s.FundingTx = ev.TxID
		s.SourceDeadline = ev.Deadline
	case CounterContractDeployedEvent:
		loc := ev.Location
		s.TargetLocation = &loc
		s.CounterTx = ev.TxID
		s.TargetDeadline = ev.Deadline
	case RedeemedEvent:
		secret := ev.Secret
		s.Secret = &secret
		s.RedeemTx = ev.TxID
	case RefundedEvent:
		s.RefundTx = ev.TxID
	}
}

// Display renders a chain as a tree, one node per event.
func Display(records []Record) string {
	if len(records) == 0 {
		return "(empty)\n"
	}
	root := gotree.New(fmt.Sprintf("Trade %s", records[0].Trade))
	for _, rec := range records {
		node := root.Add(fmt.Sprintf("#%d %s @ %s", rec.Seq, rec.Kind(), rec.At.Format(time.RFC3339)))
		node.Add("hash " + short(rec.Hash))
		for _, line := range describe(rec.Event) {
			node.Add(line)
		}
	}
	return root.Print()
}

func describe(ev Event) []string {
	switch e := ev.(type) {
	case OfferCreatedEvent:
		return []string{
			fmt.Sprintf("%s: %s %s -> %s %s", e.Offer.Role, e.Offer.SourceQuantity, e.Offer.SourceAsset,
				e.Offer.TargetQuantity, e.Offer.TargetAsset),
			fmt.Sprintf("ledgers %s -> %s", e.Offer.SourceLedger, e.Offer.TargetLedger),
			"secret hash " + short(e.Offer.SecretHash.String()),
		}
	case OrderTakenEvent:
		return []string{fmt.Sprintf("target lock %d", e.TargetLock)}
	case RejectedEvent:
		return []string{"reason " + e.Reason}
	case ContractDeployedEvent:
		return []string{"location " + e.Location.String(), "tx " + e.TxID}
	case TradeFundedEvent:
		return []string{"location " + e.Location.String(), "tx " + e.TxID, "refundable " + e.Deadline.Format(time.RFC3339)}
	case CounterContractDeployedEvent:
		return []string{"location " + e.Location.String(), "tx " + e.TxID, "refundable " + e.Deadline.Format(time.RFC3339)}
	case RedeemedEvent:
		return []string{"location " + e.Location.String(), "tx " + e.TxID}
	case RefundedEvent:
		return []string{"location " + e.Location.String(), "tx " + e.TxID}
	default:
		return nil
	}
}

func short(s string) string {
	if len(s) <= 12 {
		return s
	}
	return s[:12] + "..."
}
