package query

import (
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.dedis.ch/htlcswap/htlc"
	"go.dedis.ch/htlcswap/ledger"
)

// Transaction is a ledger transaction as seen by the matching engine.
type Transaction interface {
	Ledger() ledger.Kind
	TxID() string
}

// BitcoinTransaction pairs a transaction with the network its addresses are
// encoded for.
type BitcoinTransaction struct {
	Tx     *wire.MsgTx
	Params *chaincfg.Params
}

func NewBitcoinTransaction(tx *wire.MsgTx, params *chaincfg.Params) *BitcoinTransaction {
	return &BitcoinTransaction{Tx: tx, Params: params}
}

func (*BitcoinTransaction) Ledger() ledger.Kind {
	return ledger.KindBitcoin
}

func (t *BitcoinTransaction) TxID() string {
	if t.Tx == nil {
		return ""
	}
	return t.Tx.TxHash().String()
}

// OutputTo returns the index of the first output paying to address.
// Outputs whose script can't be decoded are skipped.
func (t *BitcoinTransaction) OutputTo(address string) (uint32, bool) {
	if t.Tx == nil || t.Params == nil {
		return 0, false
	}
	for i, out := range t.Tx.TxOut {
		_, addrs, _, err := txscript.ExtractPkScriptAddrs(out.PkScript, t.Params)
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if addr.EncodeAddress() == address {
				return uint32(i), true
			}
		}
	}
	return 0, false
}

// OutputValue is the amount in satoshi of the output at index.
func (t *BitcoinTransaction) OutputValue(index uint32) (int64, bool) {
	if t.Tx == nil || int(index) >= len(t.Tx.TxOut) {
		return 0, false
	}
	return t.Tx.TxOut[index].Value, true
}

// RevealedSecret returns the secret pushed by the input spending outpoint,
// if any.
func (t *BitcoinTransaction) RevealedSecret(outpoint wire.OutPoint) (htlc.Secret, bool) {
	if t.Tx == nil {
		return htlc.Secret{}, false
	}
	for i, in := range t.Tx.TxIn {
		if in.PreviousOutPoint == outpoint {
			return t.secretInInput(i)
		}
	}
	return htlc.Secret{}, false
}

// secretInInput looks for a witness item of the secret's length. Signatures
// and compressed keys never have that size.
func (t *BitcoinTransaction) secretInInput(i int) (htlc.Secret, bool) {
	for _, item := range t.Tx.TxIn[i].Witness {
		if len(item) == htlc.SecretLength {
			s, err := htlc.SecretFromBytes(item)
			return s, err == nil
		}
	}
	return htlc.Secret{}, false
}

// EthereumTransaction is the part of an Ethereum transaction queries look
// at. To is nil for contract creations and Value is the ether sent in wei.
type EthereumTransaction struct {
	Hash  common.Hash
	From  common.Address
	To    *common.Address
	Nonce uint64
	Value *big.Int
	Input []byte
}

// NewEthereumTransaction recovers the sender of a signed transaction.
func NewEthereumTransaction(tx *types.Transaction) (*EthereumTransaction, error) {
	var signer types.Signer = types.HomesteadSigner{}
	if tx.Protected() {
		signer = types.LatestSignerForChainID(tx.ChainId())
	}
	from, err := types.Sender(signer, tx)
	if err != nil {
		return nil, fmt.Errorf("failed to recover sender of %s: %w", tx.Hash(), err)
	}
	return &EthereumTransaction{
		Hash:  tx.Hash(),
		From:  from,
		To:    tx.To(),
		Nonce: tx.Nonce(),
		Value: tx.Value(),
		Input: tx.Data(),
	}, nil
}

func (*EthereumTransaction) Ledger() ledger.Kind {
	return ledger.KindEthereum
}

func (t *EthereumTransaction) TxID() string {
	return t.Hash.Hex()
}

func (t *EthereumTransaction) IsContractCreation() bool {
	return t.To == nil
}

// ContractAddress is the address a creation transaction deploys to.
func (t *EthereumTransaction) ContractAddress() (common.Address, bool) {
	if !t.IsContractCreation() {
		return common.Address{}, false
	}
	return crypto.CreateAddress(t.From, t.Nonce), true
}

// RevealedSecret returns the call data of a redeem call.
func (t *EthereumTransaction) RevealedSecret() (htlc.Secret, bool) {
	s, err := htlc.SecretFromBytes(t.Input)
	return s, err == nil
}

func asBitcoin(tx Transaction) (*BitcoinTransaction, bool) {
	btc, ok := tx.(*BitcoinTransaction)
	if !ok || btc == nil || btc.Tx == nil {
		return nil, false
	}
	return btc, true
}

func asEthereum(tx Transaction) (*EthereumTransaction, bool) {
	eth, ok := tx.(*EthereumTransaction)
	if !ok || eth == nil {
		return nil, false
	}
	return eth, true
}
