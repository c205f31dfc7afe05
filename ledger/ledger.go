package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
)

var ErrUnknownLedger = errors.New("unknown ledger")
var ErrUnknownNetwork = errors.New("unknown bitcoin network")

// Kind enumerates the ledgers a swap can touch.
type Kind int

const (
	KindBitcoin Kind = iota
	KindEthereum
)

func (k Kind) String() string {
	switch k {
	case KindBitcoin:
		return "Bitcoin"
	case KindEthereum:
		return "Ethereum"
	default:
		return "unknown"
	}
}

// ParseKind accepts the ledger names used on the wire and in URLs.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "bitcoin":
		return KindBitcoin, nil
	case "ethereum":
		return KindEthereum, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownLedger, s)
	}
}

// Ledger is a ledger together with its configuration.
type Ledger interface {
	Kind() Kind
	String() string
}

// Network names a bitcoin network.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
	Regtest Network = "regtest"
)

// Params returns the chain parameters used for address encoding.
func (n Network) Params() (*chaincfg.Params, error) {
	switch n {
	case Mainnet:
		return &chaincfg.MainNetParams, nil
	case Testnet:
		return &chaincfg.TestNet3Params, nil
	case Regtest:
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownNetwork, string(n))
	}
}

// Bitcoin implements Ledger
type Bitcoin struct {
	Network Network
}

func (Bitcoin) Kind() Kind {
	return KindBitcoin
}

func (b Bitcoin) String() string {
	return fmt.Sprintf("Bitcoin(%s)", b.Network)
}

// MustParams is Params for networks known to be valid, e.g. from a
// validated configuration.
func (b Bitcoin) MustParams() *chaincfg.Params {
	params, err := b.Network.Params()
	if err != nil {
		panic(err)
	}
	return params
}

// Ethereum implements Ledger
type Ethereum struct {
	ChainID uint64
}

func (Ethereum) Kind() Kind {
	return KindEthereum
}

func (e Ethereum) String() string {
	return fmt.Sprintf("Ethereum(%d)", e.ChainID)
}
