package htlc

import (
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"go.dedis.ch/htlcswap/ledger"
)

// bitcoinScript builds the witness script:
//
//	OP_IF
//	  OP_SIZE 32 OP_EQUALVERIFY OP_SHA256 <secret hash> OP_EQUALVERIFY
//	  OP_DUP OP_HASH160 <success pubkey hash>
//	OP_ELSE
//	  <lock> OP_CHECKSEQUENCEVERIFY OP_DROP
//	  OP_DUP OP_HASH160 <refund pubkey hash>
//	OP_ENDIF
//	OP_EQUALVERIFY OP_CHECKSIG
func bitcoinScript(p Params) ([]byte, error) {
	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_IF).
		AddOp(txscript.OP_SIZE).AddInt64(SecretLength).AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_SHA256).AddData(p.SecretHash[:]).AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_DUP).AddOp(txscript.OP_HASH160).AddData(p.SuccessIdentity[:]).
		AddOp(txscript.OP_ELSE).
		AddInt64(int64(p.Lock)).AddOp(txscript.OP_CHECKSEQUENCEVERIFY).AddOp(txscript.OP_DROP).
		AddOp(txscript.OP_DUP).AddOp(txscript.OP_HASH160).AddData(p.RefundIdentity[:]).
		AddOp(txscript.OP_ENDIF).
		AddOp(txscript.OP_EQUALVERIFY).AddOp(txscript.OP_CHECKSIG).
		Script()
	if err != nil {
		return nil, fmt.Errorf("failed to build htlc script: %w", err)
	}
	return script, nil
}

// BitcoinAddress is the P2WSH address funding transactions pay to.
func (p Params) BitcoinAddress() (btcutil.Address, error) {
	btc, ok := p.Ledger.(ledger.Bitcoin)
	if !ok {
		return nil, fmt.Errorf("%w: %v has no bitcoin address", ErrMalformedParams, p.Ledger)
	}
	script, err := p.Bytecode()
	if err != nil {
		return nil, err
	}
	chain, err := btc.Network.Params()
	if err != nil {
		return nil, err
	}
	digest := sha256.Sum256(script)
	addr, err := btcutil.NewAddressWitnessScriptHash(digest[:], chain)
	if err != nil {
		return nil, fmt.Errorf("failed to derive htlc address: %w", err)
	}
	return addr, nil
}
