package eventchain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.dedis.ch/htlcswap/htlc"
)

// TradeID identifies a swap for its whole lifetime.
type TradeID string

func NewTradeID() TradeID {
	return TradeID(uuid.NewString())
}

// ParseTradeID checks s is a valid uuid.
func ParseTradeID(s string) (TradeID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid trade id %q: %w", s, err)
	}
	return TradeID(id.String()), nil
}

// Kind is the type of a trade event. The phase of a trade is the kind of its
// last event.
type Kind string

const (
	OfferCreated            Kind = "OfferCreated"
	OrderTaken              Kind = "OrderTaken"
	Rejected                Kind = "Rejected"
	ContractDeployed        Kind = "ContractDeployed"
	TradeFunded             Kind = "TradeFunded"
	CounterContractDeployed Kind = "CounterContractDeployed"
	Redeemed                Kind = "Redeemed"
	Refunded                Kind = "Refunded"
)

// Event is the payload of one milestone of a trade.
type Event interface {
	Kind() Kind
}

// Role tells which side of the swap this node plays.
type Role string

const (
	// Initiator holds the secret and locks the source asset first.
	Initiator Role = "initiator"
	// Responder locks the target asset once the source is funded.
	Responder Role = "responder"
)

// Offer is the proposal a trade starts from.
type Offer struct {
	Role                  Role              `json:"role"`
	SourceLedger          string            `json:"source_ledger"`
	TargetLedger          string            `json:"target_ledger"`
	SourceAsset           string            `json:"source_asset"`
	TargetAsset           string            `json:"target_asset"`
	SourceQuantity        decimal.Decimal   `json:"source_quantity"`
	TargetQuantity        decimal.Decimal   `json:"target_quantity"`
	SecretHash            htlc.SecretHash   `json:"secret_hash"`
	SourceRefundIdentity  htlc.Identity     `json:"source_refund_identity"`
	TargetSuccessIdentity htlc.Identity     `json:"target_success_identity"`
	SourceLock            htlc.LockDuration `json:"source_lock"`
}

// OfferCreatedEvent is the first event of every chain.
type OfferCreatedEvent struct {
	Offer Offer `json:"offer"`
}

// OrderTakenEvent records the counterparty's acceptance and its identities.
type OrderTakenEvent struct {
	TargetRefundIdentity  htlc.Identity     `json:"target_refund_identity"`
	SourceSuccessIdentity htlc.Identity     `json:"source_success_identity"`
	TargetLock            htlc.LockDuration `json:"target_lock"`
}

type RejectedEvent struct {
	Reason string `json:"reason"`
}

// ContractDeployedEvent records the source HTLC on chain.
type ContractDeployedEvent struct {
	Location htlc.Location `json:"location"`
	TxID     string        `json:"txid"`
}

// TradeFundedEvent records the transaction locking the source asset.
type TradeFundedEvent struct {
	Location htlc.Location `json:"location"`
	TxID     string        `json:"txid"`
	// Deadline is when the source HTLC becomes refundable.
	Deadline time.Time `json:"deadline"`
}

// CounterContractDeployedEvent records the funded target HTLC.
type CounterContractDeployedEvent struct {
	Location htlc.Location `json:"location"`
	TxID     string        `json:"txid"`
	Deadline time.Time     `json:"deadline"`
}

type RedeemedEvent struct {
	Location htlc.Location `json:"location"`
	TxID     string        `json:"txid"`
	Secret   htlc.Secret   `json:"secret"`
}

type RefundedEvent struct {
	Location htlc.Location `json:"location"`
	TxID     string        `json:"txid"`
}

func (OfferCreatedEvent) Kind() Kind            { return OfferCreated }
func (OrderTakenEvent) Kind() Kind              { return OrderTaken }
func (RejectedEvent) Kind() Kind                { return Rejected }
func (ContractDeployedEvent) Kind() Kind        { return ContractDeployed }
func (TradeFundedEvent) Kind() Kind             { return TradeFunded }
func (CounterContractDeployedEvent) Kind() Kind { return CounterContractDeployed }
func (RedeemedEvent) Kind() Kind                { return Redeemed }
func (RefundedEvent) Kind() Kind                { return Refunded }

// Record is an event appended to a trade's chain. Hash covers the event and
// the previous hash, so a replayed chain can be checked for tampering.
type Record struct {
	Trade    TradeID
	Seq      uint64
	At       time.Time
	PrevHash string
	Hash     string
	Event    Event
}

func (r Record) Kind() Kind {
	return r.Event.Kind()
}

func newRecord(trade TradeID, prev *Record, ev Event, at time.Time) (Record, error) {
	rec := Record{Trade: trade, Seq: 1, At: at.UTC().Truncate(time.Microsecond), Event: ev}
	if prev != nil {
		rec.Seq = prev.Seq + 1
		rec.PrevHash = prev.Hash
	}
	hash, err := rec.computeHash()
	if err != nil {
		return Record{}, err
	}
	rec.Hash = hash
	return rec, nil
}

func (r Record) computeHash() (string, error) {
	payload, err := json.Marshal(r.Event)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s: %w", r.Kind(), err)
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%d|%s|%s|", r.Trade, r.Seq, r.At.UnixNano(), r.PrevHash, r.Kind())
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// decodeEvent is the inverse of json.Marshal(ev) for the given kind.
func decodeEvent(kind Kind, payload []byte) (Event, error) {
	var ev Event
	switch kind {
	case OfferCreated:
		var e OfferCreatedEvent
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, err
		}
		ev = e
	case OrderTaken:
		var e OrderTakenEvent
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, err
		}
		ev = e
	case Rejected:
		var e RejectedEvent
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, err
		}
		ev = e
	case ContractDeployed:
		var e ContractDeployedEvent
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, err
		}
		ev = e
	case TradeFunded:
		var e TradeFundedEvent
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, err
		}
		ev = e
	case CounterContractDeployed:
		var e CounterContractDeployedEvent
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, err
		}
		ev = e
	case Redeemed:
		var e RedeemedEvent
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, err
		}
		ev = e
	case Refunded:
		var e RefundedEvent
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, err
		}
		ev = e
	default:
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
	return ev, nil
}
