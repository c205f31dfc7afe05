package htlc

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/ethereum/go-ethereum/common"
	"go.dedis.ch/htlcswap/ledger"
)

// Location is where a deployed HTLC lives: the contract address on
// Ethereum, the funding outpoint on Bitcoin.
type Location struct {
	Kind     ledger.Kind
	Contract common.Address
	Outpoint wire.OutPoint
}

func ContractLocation(addr common.Address) Location {
	return Location{Kind: ledger.KindEthereum, Contract: addr}
}

func OutpointLocation(hash chainhash.Hash, index uint32) Location {
	return Location{Kind: ledger.KindBitcoin, Outpoint: wire.OutPoint{Hash: hash, Index: index}}
}

// ParseLocation reads the String form of a location on the given ledger.
func ParseLocation(kind ledger.Kind, s string) (Location, error) {
	switch kind {
	case ledger.KindEthereum:
		if !common.IsHexAddress(s) {
			return Location{}, fmt.Errorf("%w: contract address %q", ErrMalformedParams, s)
		}
		return ContractLocation(common.HexToAddress(s)), nil
	case ledger.KindBitcoin:
		txid, vout, ok := strings.Cut(s, ":")
		if !ok {
			return Location{}, fmt.Errorf("%w: outpoint %q", ErrMalformedParams, s)
		}
		hash, err := chainhash.NewHashFromStr(txid)
		if err != nil {
			return Location{}, fmt.Errorf("%w: outpoint %q: %v", ErrMalformedParams, s, err)
		}
		index, err := strconv.ParseUint(vout, 10, 32)
		if err != nil {
			return Location{}, fmt.Errorf("%w: outpoint %q: %v", ErrMalformedParams, s, err)
		}
		return OutpointLocation(*hash, uint32(index)), nil
	default:
		return Location{}, fmt.Errorf("%w: %v", ledger.ErrUnknownLedger, kind)
	}
}

func (l Location) IsZero() bool {
	if l.Kind == ledger.KindEthereum {
		return l.Contract == common.Address{}
	}
	return l.Outpoint == wire.OutPoint{}
}

func (l Location) String() string {
	if l.Kind == ledger.KindEthereum {
		return l.Contract.Hex()
	}
	return l.Outpoint.String()
}

type locationJSON struct {
	Ledger   string `json:"ledger"`
	Location string `json:"location"`
}

func (l Location) MarshalJSON() ([]byte, error) {
	return json.Marshal(locationJSON{Ledger: l.Kind.String(), Location: l.String()})
}

func (l *Location) UnmarshalJSON(data []byte) error {
	var raw locationJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	kind, err := ledger.ParseKind(raw.Ledger)
	if err != nil {
		return err
	}
	parsed, err := ParseLocation(kind, raw.Location)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
