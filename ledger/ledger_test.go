package ledger

import (
	"math/big"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	k, err := ParseKind("Bitcoin")
	require.NoError(t, err)
	require.Equal(t, KindBitcoin, k)

	k, err = ParseKind("ethereum")
	require.NoError(t, err)
	require.Equal(t, KindEthereum, k)

	_, err = ParseKind("litecoin")
	require.ErrorIs(t, err, ErrUnknownLedger)
}

func TestNetwork_Params(t *testing.T) {
	p, err := Regtest.Params()
	require.NoError(t, err)
	require.Equal(t, chaincfg.RegressionNetParams.Name, p.Name)

	_, err = Network("signet").Params()
	require.ErrorIs(t, err, ErrUnknownNetwork)
}

func TestQuantities(t *testing.T) {
	btc, err := ParseSatoshi("100000000")
	require.NoError(t, err)
	require.Equal(t, "1", btc.Quantity().String())

	_, err = ParseSatoshi("-1")
	require.ErrorIs(t, err, ErrInvalidQuantity)

	eth, err := ParseWei("5000000000000000000")
	require.NoError(t, err)
	require.Equal(t, "5", eth.Quantity().String())

	_, err = ParseWei("abc")
	require.ErrorIs(t, err, ErrInvalidQuantity)

	token := Erc20Quantity{Amount: big.NewInt(1500), Decimals: 3}
	require.Equal(t, "1.5", token.Quantity().String())
}

func TestParse_Bounds(t *testing.T) {
	q, err := ParseSatoshi("2100000000000000")
	require.NoError(t, err)
	require.Equal(t, MaxSatoshi, q)
	require.Equal(t, "21000000", q.Quantity().String())

	_, err = ParseSatoshi("2100000000000001")
	require.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = ParseSatoshi("18446744073709551615")
	require.ErrorIs(t, err, ErrInvalidQuantity)

	word := new(big.Int).Lsh(big.NewInt(1), MaxWordBits)
	_, err = ParseWei(new(big.Int).Sub(word, big.NewInt(1)).String())
	require.NoError(t, err)
	_, err = ParseWei(word.String())
	require.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = ParseWei("-1")
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestBitcoinQuantity_LargeValues(t *testing.T) {
	q := BitcoinQuantity(1 << 63)
	require.True(t, q.Quantity().IsPositive())
}
