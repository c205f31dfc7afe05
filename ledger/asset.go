package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var ErrInvalidQuantity = errors.New("invalid quantity")

// Asset is a ledger-native quantity of value. Quantity is expressed in the
// asset's major unit (BTC, ETH, whole tokens).
type Asset interface {
	Ledger() Kind
	Name() string
	Quantity() decimal.Decimal
	String() string
}

// BitcoinQuantity counts satoshi.
type BitcoinQuantity uint64

const satoshiExp = -8

// MaxSatoshi is the largest amount a bitcoin output can carry.
const MaxSatoshi = BitcoinQuantity(btcutil.MaxSatoshi)

// MaxWordBits bounds ethereum amounts to an EVM word.
const MaxWordBits = 256

func (BitcoinQuantity) Ledger() Kind {
	return KindBitcoin
}

func (BitcoinQuantity) Name() string {
	return "Bitcoin"
}

func (q BitcoinQuantity) Satoshi() uint64 {
	return uint64(q)
}

func (q BitcoinQuantity) Quantity() decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(uint64(q)), satoshiExp)
}

func (q BitcoinQuantity) String() string {
	return q.Quantity().String() + " BTC"
}

// ParseSatoshi reads a base-10 satoshi amount of at most MaxSatoshi.
func ParseSatoshi(s string) (BitcoinQuantity, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil || BitcoinQuantity(v) > MaxSatoshi {
		return 0, fmt.Errorf("%w: satoshi %q", ErrInvalidQuantity, s)
	}
	return BitcoinQuantity(v), nil
}

// EtherQuantity counts wei.
type EtherQuantity struct {
	Wei *big.Int
}

const weiExp = -18

func NewEtherQuantity(wei *big.Int) EtherQuantity {
	return EtherQuantity{Wei: new(big.Int).Set(wei)}
}

func (EtherQuantity) Ledger() Kind {
	return KindEthereum
}

func (EtherQuantity) Name() string {
	return "Ether"
}

func (q EtherQuantity) Quantity() decimal.Decimal {
	return decimal.NewFromBigInt(q.Wei, weiExp)
}

func (q EtherQuantity) String() string {
	return q.Quantity().String() + " ETH"
}

// ParseWei reads a base-10 wei amount that fits an EVM word.
func ParseWei(s string) (EtherQuantity, error) {
	wei, ok := new(big.Int).SetString(s, 10)
	if !ok || wei.Sign() < 0 || wei.BitLen() > MaxWordBits {
		return EtherQuantity{}, fmt.Errorf("%w: wei %q", ErrInvalidQuantity, s)
	}
	return EtherQuantity{Wei: wei}, nil
}

// Erc20Quantity is an amount of tokens held by an ERC20 contract.
type Erc20Quantity struct {
	Token    common.Address
	Amount   *big.Int
	Decimals int32
}

func (Erc20Quantity) Ledger() Kind {
	return KindEthereum
}

func (Erc20Quantity) Name() string {
	return "ERC20"
}

func (q Erc20Quantity) Quantity() decimal.Decimal {
	return decimal.NewFromBigInt(q.Amount, -q.Decimals)
}

func (q Erc20Quantity) String() string {
	return fmt.Sprintf("%s ERC20(%s)", q.Quantity().String(), q.Token.Hex())
}
