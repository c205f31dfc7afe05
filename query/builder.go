package query

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.dedis.ch/htlcswap/htlc"
	"go.dedis.ch/htlcswap/ledger"
)

// Builder derives the monitoring queries of one HTLC. The derivation is
// picked from the params' variant, so adding a ledger or asset means adding
// a case here rather than a new builder type.
type Builder struct {
	params  htlc.Params
	variant htlc.Variant
}

// NewBuilder validates params. No query is derived from malformed params.
func NewBuilder(params htlc.Params) (Builder, error) {
	if err := params.Validate(); err != nil {
		return Builder{}, err
	}
	variant, err := params.Variant()
	if err != nil {
		return Builder{}, err
	}
	return Builder{params: params, variant: variant}, nil
}

func (b Builder) Params() htlc.Params {
	return b.params
}

func (b Builder) Variant() htlc.Variant {
	return b.variant
}

// Deployed matches the creation of the HTLC. For assets that are locked on
// creation it is the same as Funded.
func (b Builder) Deployed() (Query, error) {
	switch b.variant {
	case htlc.VariantBitcoin:
		return b.bitcoinFunded()
	default:
		return b.creation()
	}
}

// Funded matches the transaction locking the asset. Only ERC20 HTLCs are
// funded after deployment, the location is ignored for the other variants.
func (b Builder) Funded(location htlc.Location) (Query, error) {
	switch b.variant {
	case htlc.VariantBitcoin:
		return b.bitcoinFunded()
	case htlc.VariantEther:
		return b.creation()
	default:
		if err := b.checkLocation(location); err != nil {
			return nil, err
		}
		payload, err := b.params.FundingPayload(location.Contract)
		if err != nil {
			return nil, err
		}
		token := b.params.Asset.(ledger.Erc20Quantity)
		return EthereumQuery{
			ToAddress:       ptr(token.Token),
			TransactionData: ptr(hexutil.Bytes(payload)),
		}, nil
	}
}

// Refunded matches the refund of the HTLC at location: an empty call on
// Ethereum, a spend without secret on Bitcoin.
func (b Builder) Refunded(location htlc.Location) (Query, error) {
	if err := b.checkLocation(location); err != nil {
		return nil, err
	}
	if b.variant == htlc.VariantBitcoin {
		return BitcoinQuery{
			SpendsOutpoint: ptr(location.Outpoint.String()),
			RevealsSecret:  ptr(false),
		}, nil
	}
	return EthereumQuery{
		ToAddress:          ptr(location.Contract),
		IsContractCreation: ptr(false),
		TransactionData:    ptr(hexutil.Bytes{}),
	}, nil
}

// Redeemed matches the redemption of the HTLC at location. Only the payload
// length is checked on Ethereum: any call of the secret's length to the
// contract is taken as a redemption.
func (b Builder) Redeemed(location htlc.Location) (Query, error) {
	if err := b.checkLocation(location); err != nil {
		return nil, err
	}
	if b.variant == htlc.VariantBitcoin {
		return BitcoinQuery{
			SpendsOutpoint: ptr(location.Outpoint.String()),
			RevealsSecret:  ptr(true),
		}, nil
	}
	return EthereumQuery{
		ToAddress:             ptr(location.Contract),
		IsContractCreation:    ptr(false),
		TransactionDataLength: ptr(uint(htlc.SecretLength)),
	}, nil
}

func (b Builder) bitcoinFunded() (Query, error) {
	addr, err := b.params.BitcoinAddress()
	if err != nil {
		return nil, err
	}
	return BitcoinQuery{ToAddress: ptr(addr.EncodeAddress())}, nil
}

func (b Builder) creation() (Query, error) {
	code, err := b.params.Bytecode()
	if err != nil {
		return nil, err
	}
	return EthereumQuery{
		IsContractCreation: ptr(true),
		TransactionData:    ptr(hexutil.Bytes(code)),
	}, nil
}

func (b Builder) checkLocation(location htlc.Location) error {
	if location.Kind != b.params.Ledger.Kind() || location.IsZero() {
		return fmt.Errorf("%w: location %s is not on %s", htlc.ErrMalformedParams, location, b.params.Ledger)
	}
	return nil
}
