package testing

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/htlcswap/htlc"
	"go.dedis.ch/htlcswap/ledger"
)

// TokenContract is the ERC20 contract used by fixtures.
var TokenContract = common.HexToAddress("0xb97048628db6b661d4c2aa833e95dbe1a905b280")

type configTemplate struct {
	secret   htlc.Secret
	refund   htlc.Identity
	success  htlc.Identity
	lock     htlc.LockDuration
	network  ledger.Network
	chainID  uint64
	satoshi  uint64
	wei      *big.Int
	tokens   *big.Int
	decimals int32
}

func newConfigTemplate() configTemplate {
	var secret htlc.Secret
	for i := range secret {
		secret[i] = byte(i + 1)
	}
	return configTemplate{
		secret:   secret,
		refund:   htlc.Identity{0xaa, 0x01},
		success:  htlc.Identity{0xbb, 0x02},
		network:  ledger.Regtest,
		chainID:  17,
		satoshi:  100_000_000,
		wei:      new(big.Int).Mul(big.NewInt(10), big.NewInt(1_000_000_000_000_000_000)),
		tokens:   big.NewInt(5_000),
		decimals: 18,
	}
}

// Option is a type to configure the fixtures
type Option func(*configTemplate)

// WithSecret sets the secret whose hash the HTLC commits to.
func WithSecret(s htlc.Secret) Option {
	return func(ct *configTemplate) {
		ct.secret = s
	}
}

// WithIdentities sets the refund and success identities.
func WithIdentities(refund, success htlc.Identity) Option {
	return func(ct *configTemplate) {
		ct.refund = refund
		ct.success = success
	}
}

// WithLock sets the lock duration. Each variant has its own default.
func WithLock(lock htlc.LockDuration) Option {
	return func(ct *configTemplate) {
		ct.lock = lock
	}
}

// WithSatoshi sets the bitcoin amount.
func WithSatoshi(amount uint64) Option {
	return func(ct *configTemplate) {
		ct.satoshi = amount
	}
}

// WithWei sets the ether amount.
func WithWei(amount *big.Int) Option {
	return func(ct *configTemplate) {
		ct.wei = amount
	}
}

func build(opts []Option) configTemplate {
	template := newConfigTemplate()
	for _, opt := range opts {
		opt(&template)
	}
	return template
}

// Secret returns the secret the fixtures use.
func Secret(opts ...Option) htlc.Secret {
	return build(opts).secret
}

// BitcoinParams returns valid params of a bitcoin HTLC locking 1 BTC for 144
// blocks by default.
func BitcoinParams(t *testing.T, opts ...Option) htlc.Params {
	template := build(append([]Option{WithLock(144)}, opts...))
	p := htlc.Params{
		Ledger:          ledger.Bitcoin{Network: template.network},
		Asset:           ledger.BitcoinQuantity(template.satoshi),
		SecretHash:      template.secret.Hash(),
		RefundIdentity:  template.refund,
		SuccessIdentity: template.success,
		Lock:            template.lock,
	}
	require.NoError(t, p.Validate())
	return p
}

// EtherParams returns valid params of an ether HTLC locking 10 ETH for an
// hour by default.
func EtherParams(t *testing.T, opts ...Option) htlc.Params {
	template := build(append([]Option{WithLock(3600)}, opts...))
	p := htlc.Params{
		Ledger:          ledger.Ethereum{ChainID: template.chainID},
		Asset:           ledger.NewEtherQuantity(template.wei),
		SecretHash:      template.secret.Hash(),
		RefundIdentity:  template.refund,
		SuccessIdentity: template.success,
		Lock:            template.lock,
	}
	require.NoError(t, p.Validate())
	return p
}

// Erc20Params returns valid params of an ERC20 HTLC on TokenContract.
func Erc20Params(t *testing.T, opts ...Option) htlc.Params {
	template := build(append([]Option{WithLock(3600)}, opts...))
	p := htlc.Params{
		Ledger: ledger.Ethereum{ChainID: template.chainID},
		Asset: ledger.Erc20Quantity{
			Token:    TokenContract,
			Amount:   template.tokens,
			Decimals: template.decimals,
		},
		SecretHash:      template.secret.Hash(),
		RefundIdentity:  template.refund,
		SuccessIdentity: template.success,
		Lock:            template.lock,
	}
	require.NoError(t, p.Validate())
	return p
}
