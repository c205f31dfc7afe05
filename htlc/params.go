package htlc

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.dedis.ch/htlcswap/ledger"
)

var ErrMalformedParams = errors.New("malformed htlc params")

// maxRelativeBlocks is the largest block count OP_CHECKSEQUENCEVERIFY encodes.
const maxRelativeBlocks = 0xffff

// Identity is a 20 byte ledger identity: a pubkey hash on Bitcoin, an
// account address on Ethereum.
type Identity [20]byte

// ParseIdentity decodes a hex encoded identity, with or without 0x prefix.
func ParseIdentity(s string) (Identity, error) {
	var id Identity
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil || len(raw) != len(id) {
		return id, fmt.Errorf("%w: identity %q", ErrMalformedParams, s)
	}
	copy(id[:], raw)
	return id, nil
}

func IdentityFromAddress(addr common.Address) Identity {
	return Identity(addr)
}

func (id Identity) Address() common.Address {
	return common.Address(id)
}

func (id Identity) IsZero() bool {
	return id == Identity{}
}

func (id Identity) String() string {
	return hex.EncodeToString(id[:])
}

func (id Identity) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *Identity) UnmarshalText(text []byte) error {
	parsed, err := ParseIdentity(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// LockDuration is relative: blocks on Bitcoin, seconds on Ethereum.
type LockDuration uint64

// Variant is the {ledger x asset} pair an HTLC is built for.
type Variant int

const (
	VariantBitcoin Variant = iota
	VariantEther
	VariantErc20
)

func (v Variant) String() string {
	switch v {
	case VariantBitcoin:
		return "bitcoin"
	case VariantEther:
		return "ether"
	case VariantErc20:
		return "erc20"
	default:
		return "unknown"
	}
}

// Params holds everything an HTLC is derived from. Params are immutable once
// built; Bytecode is a pure function of them, so both parties compute the same
// contract independently.
type Params struct {
	Ledger          ledger.Ledger
	Asset           ledger.Asset
	SecretHash      SecretHash
	RefundIdentity  Identity
	SuccessIdentity Identity
	Lock            LockDuration
}

// Variant selects the derivation for the params' ledger and asset.
func (p Params) Variant() (Variant, error) {
	if p.Ledger == nil || p.Asset == nil {
		return 0, fmt.Errorf("%w: missing ledger or asset", ErrMalformedParams)
	}
	switch l := p.Ledger.(type) {
	case ledger.Bitcoin:
		if _, ok := p.Asset.(ledger.BitcoinQuantity); ok {
			return VariantBitcoin, nil
		}
	case ledger.Ethereum:
		switch p.Asset.(type) {
		case ledger.EtherQuantity:
			return VariantEther, nil
		case ledger.Erc20Quantity:
			return VariantErc20, nil
		}
	default:
		return 0, fmt.Errorf("%w: unsupported ledger %v", ErrMalformedParams, l)
	}
	return 0, fmt.Errorf("%w: asset %s does not live on %s", ErrMalformedParams, p.Asset.Name(), p.Ledger)
}

// Validate runs the ledger specific checks. Nothing is derived from params
// that fail it.
func (p Params) Validate() error {
	variant, err := p.Variant()
	if err != nil {
		return err
	}
	if p.SecretHash.IsZero() {
		return fmt.Errorf("%w: empty secret hash", ErrMalformedParams)
	}
	if p.RefundIdentity.IsZero() || p.SuccessIdentity.IsZero() {
		return fmt.Errorf("%w: empty identity", ErrMalformedParams)
	}
	if p.Lock == 0 {
		return fmt.Errorf("%w: zero lock duration", ErrMalformedParams)
	}

	switch variant {
	case VariantBitcoin:
		if p.Lock > maxRelativeBlocks {
			return fmt.Errorf("%w: %d blocks exceeds relative lock limit", ErrMalformedParams, p.Lock)
		}
		if _, err := p.Ledger.(ledger.Bitcoin).Network.Params(); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedParams, err)
		}
		if p.Asset.(ledger.BitcoinQuantity) == 0 {
			return fmt.Errorf("%w: zero amount", ErrMalformedParams)
		}
		if p.Asset.(ledger.BitcoinQuantity) > ledger.MaxSatoshi {
			return fmt.Errorf("%w: amount exceeds the bitcoin supply", ErrMalformedParams)
		}
	case VariantEther:
		wei := p.Asset.(ledger.EtherQuantity).Wei
		if wei == nil || wei.Sign() <= 0 {
			return fmt.Errorf("%w: zero amount", ErrMalformedParams)
		}
		if wei.BitLen() > ledger.MaxWordBits {
			return fmt.Errorf("%w: amount overflows 256 bits", ErrMalformedParams)
		}
	case VariantErc20:
		token := p.Asset.(ledger.Erc20Quantity)
		if token.Token == (common.Address{}) {
			return fmt.Errorf("%w: missing token contract", ErrMalformedParams)
		}
		if token.Amount == nil || token.Amount.Sign() <= 0 {
			return fmt.Errorf("%w: zero amount", ErrMalformedParams)
		}
		if token.Amount.BitLen() > ledger.MaxWordBits {
			return fmt.Errorf("%w: amount overflows 256 bits", ErrMalformedParams)
		}
	}
	return nil
}

// Bytecode derives the ledger-native contract: the witness script on
// Bitcoin, the deployment code on Ethereum.
func (p Params) Bytecode() ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	variant, _ := p.Variant()
	switch variant {
	case VariantBitcoin:
		return bitcoinScript(p)
	case VariantEther:
		return etherBytecode(p)
	default:
		return erc20Bytecode(p)
	}
}

// LockTime converts a lock duration on the given ledger to wall time,
// counting blockInterval per Bitcoin block.
func LockTime(kind ledger.Kind, lock LockDuration, blockInterval time.Duration) time.Duration {
	if kind == ledger.KindBitcoin {
		return time.Duration(lock) * blockInterval
	}
	return time.Duration(lock) * time.Second
}

// Deadline is when a refund becomes possible. Locks run from the funding
// transaction on both ledgers.
func (p Params) Deadline(fundedAt time.Time, blockInterval time.Duration) time.Time {
	return fundedAt.Add(LockTime(p.Ledger.Kind(), p.Lock, blockInterval))
}
