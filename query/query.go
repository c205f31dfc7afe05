package query

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/xid"
	"go.dedis.ch/htlcswap/ledger"
)

var ErrMalformedQuery = errors.New("malformed query")

// ID identifies a registered query. IDs are never reused.
type ID string

func NewID() ID {
	return ID(xid.New().String())
}

// Query is a ledger specific predicate over transactions. Every field of a
// query is optional and an absent field matches anything.
type Query interface {
	Ledger() ledger.Kind
	// Matches is a pure function of the query and tx. A transaction of
	// another ledger, or one that can't be inspected, doesn't match.
	Matches(tx Transaction) bool
	// IsWildcard tells if every field is absent.
	IsWildcard() bool
}

// BitcoinQuery matches transactions paying to an address, or spending an
// outpoint with or without revealing a secret.
type BitcoinQuery struct {
	ToAddress      *string `json:"to_address"`
	SpendsOutpoint *string `json:"spends_outpoint,omitempty"`
	RevealsSecret  *bool   `json:"reveals_secret,omitempty"`
}

func (BitcoinQuery) Ledger() ledger.Kind {
	return ledger.KindBitcoin
}

func (q BitcoinQuery) IsWildcard() bool {
	return q.ToAddress == nil && q.SpendsOutpoint == nil && q.RevealsSecret == nil
}

func (q BitcoinQuery) Matches(tx Transaction) bool {
	btc, ok := asBitcoin(tx)
	if !ok {
		return false
	}

	if q.ToAddress != nil {
		if _, found := btc.OutputTo(*q.ToAddress); !found {
			return false
		}
	}

	if q.SpendsOutpoint == nil && q.RevealsSecret == nil {
		return true
	}

	for i, in := range btc.Tx.TxIn {
		if q.SpendsOutpoint != nil && in.PreviousOutPoint.String() != *q.SpendsOutpoint {
			continue
		}
		if q.RevealsSecret != nil {
			_, reveals := btc.secretInInput(i)
			if reveals != *q.RevealsSecret {
				continue
			}
		}
		return true
	}
	return false
}

func (q BitcoinQuery) String() string {
	buf, _ := json.Marshal(q)
	return string(buf)
}

// EthereumQuery matches on sender, recipient, contract creation, exact
// payload or payload length.
type EthereumQuery struct {
	FromAddress           *common.Address `json:"from_address"`
	ToAddress             *common.Address `json:"to_address"`
	IsContractCreation    *bool           `json:"is_contract_creation"`
	TransactionData       *hexutil.Bytes  `json:"transaction_data"`
	TransactionDataLength *uint           `json:"transaction_data_length"`
}

func (EthereumQuery) Ledger() ledger.Kind {
	return ledger.KindEthereum
}

func (q EthereumQuery) IsWildcard() bool {
	return q.FromAddress == nil && q.ToAddress == nil && q.IsContractCreation == nil &&
		q.TransactionData == nil && q.TransactionDataLength == nil
}

func (q EthereumQuery) Matches(tx Transaction) bool {
	eth, ok := asEthereum(tx)
	if !ok {
		return false
	}

	if q.FromAddress != nil && *q.FromAddress != eth.From {
		return false
	}
	if q.ToAddress != nil && (eth.To == nil || *eth.To != *q.ToAddress) {
		return false
	}
	if q.IsContractCreation != nil && *q.IsContractCreation != eth.IsContractCreation() {
		return false
	}
	if q.TransactionData != nil && !bytes.Equal(*q.TransactionData, eth.Input) {
		return false
	}
	if q.TransactionDataLength != nil && uint(len(eth.Input)) != *q.TransactionDataLength {
		return false
	}
	return true
}

func (q EthereumQuery) String() string {
	buf, _ := json.Marshal(q)
	return string(buf)
}

// Decode reads the JSON form of a query for the given ledger. Unknown
// fields are refused so that a typo doesn't silently become a wildcard.
func Decode(kind ledger.Kind, data []byte) (Query, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	switch kind {
	case ledger.KindBitcoin:
		var q BitcoinQuery
		if err := dec.Decode(&q); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedQuery, err)
		}
		return q, nil
	case ledger.KindEthereum:
		var q EthereumQuery
		if err := dec.Decode(&q); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedQuery, err)
		}
		return q, nil
	default:
		return nil, fmt.Errorf("%w: %v", ledger.ErrUnknownLedger, kind)
	}
}

func ptr[T any](v T) *T {
	return &v
}
