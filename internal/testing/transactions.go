package testing

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/htlcswap/htlc"
)

// PayTo builds a transaction with a single output paying satoshi to addr.
func PayTo(t *testing.T, addr string, satoshi int64) *wire.MsgTx {
	decoded, err := btcutil.DecodeAddress(addr, &chaincfg.RegressionNetParams)
	require.NoError(t, err)

	script, err := txscript.PayToAddrScript(decoded)
	require.NoError(t, err)

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Index: 7}, nil, nil))
	tx.AddTxOut(wire.NewTxOut(satoshi, script))
	return tx
}

// RedeemTx spends outpoint through the secret branch of an HTLC script.
func RedeemTx(outpoint wire.OutPoint, secret htlc.Secret) *wire.MsgTx {
	return spend(outpoint, wire.TxWitness{
		bytes.Repeat([]byte{0x30}, 71),
		bytes.Repeat([]byte{0x02}, 33),
		secret[:],
		{0x01},
		bytes.Repeat([]byte{0x63}, 100),
	})
}

// RefundTx spends outpoint through the timeout branch of an HTLC script.
func RefundTx(outpoint wire.OutPoint) *wire.MsgTx {
	return spend(outpoint, wire.TxWitness{
		bytes.Repeat([]byte{0x30}, 71),
		bytes.Repeat([]byte{0x02}, 33),
		{},
		bytes.Repeat([]byte{0x63}, 100),
	})
}

func spend(outpoint wire.OutPoint, witness wire.TxWitness) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	in := wire.NewTxIn(&outpoint, nil, witness)
	in.Sequence = 144
	tx.AddTxIn(in)
	tx.AddTxOut(wire.NewTxOut(99_000_000, []byte{txscript.OP_TRUE}))
	return tx
}
