package swap

import (
	"context"
	"encoding/binary"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.dedis.ch/htlcswap/htlc"
	z "go.dedis.ch/htlcswap/internal/testing"
	"go.dedis.ch/htlcswap/ledger"
	"go.dedis.ch/htlcswap/lqs"
	"go.dedis.ch/htlcswap/query"
)

var errRejectedByNode = errors.New("rejected by node")

// blockTime is how long a fake chain takes to include a transaction.
const blockTime = 20 * time.Millisecond

// fakeChain mines every submitted transaction after blockTime into the
// processor shared by the nodes of a test.
type fakeChain struct {
	t         *testing.T
	processor *lqs.TransactionProcessor

	mu        sync.Mutex
	failures  map[string]int
	submitted []string
}

func newFakeChain(t *testing.T, processor *lqs.TransactionProcessor) *fakeChain {
	return &fakeChain{t: t, processor: processor, failures: make(map[string]int)}
}

// failNext makes the next n submissions of op fail.
func (c *fakeChain) failNext(op string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[op] = n
}

func (c *fakeChain) record(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failures[op] > 0 {
		c.failures[op]--
		return errRejectedByNode
	}
	c.submitted = append(c.submitted, op)
	return nil
}

func (c *fakeChain) include(tx query.Transaction) {
	time.AfterFunc(blockTime, func() { c.processor.Process(tx) })
}

func (c *fakeChain) ops() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.submitted...)
}

type fakeBitcoin struct {
	*fakeChain
}

func (fakeBitcoin) Ledger() ledger.Kind {
	return ledger.KindBitcoin
}

func (b fakeBitcoin) mine(op string, build func() query.Transaction) (string, error) {
	if err := b.record("bitcoin " + op); err != nil {
		return "", err
	}
	tx := build()
	b.include(tx)
	return tx.TxID(), nil
}

func (b fakeBitcoin) Deploy(_ context.Context, p htlc.Params) (string, error) {
	addr, err := p.BitcoinAddress()
	if err != nil {
		return "", err
	}
	return b.mine("deploy", func() query.Transaction {
		tx := z.PayTo(b.t, addr.EncodeAddress(), int64(p.Asset.(ledger.BitcoinQuantity)))
		return query.NewBitcoinTransaction(tx, &chaincfg.RegressionNetParams)
	})
}

func (b fakeBitcoin) Fund(context.Context, htlc.Params, htlc.Location) (string, error) {
	return "", errors.New("bitcoin htlcs are funded on deploy")
}

func (b fakeBitcoin) Redeem(_ context.Context, _ htlc.Params, loc htlc.Location, secret htlc.Secret) (string, error) {
	return b.mine("redeem", func() query.Transaction {
		return query.NewBitcoinTransaction(z.RedeemTx(loc.Outpoint, secret), &chaincfg.RegressionNetParams)
	})
}

func (b fakeBitcoin) Refund(_ context.Context, _ htlc.Params, loc htlc.Location) (string, error) {
	return b.mine("refund", func() query.Transaction {
		return query.NewBitcoinTransaction(z.RefundTx(loc.Outpoint), &chaincfg.RegressionNetParams)
	})
}

type fakeEthereum struct {
	*fakeChain
	from common.Address
	// shortfall is withheld from the value of ether deployments
	shortfall *big.Int

	nonce *uint64
	mu    *sync.Mutex
}

func newFakeEthereum(chain *fakeChain, from common.Address) fakeEthereum {
	return fakeEthereum{fakeChain: chain, from: from, nonce: new(uint64), mu: &sync.Mutex{}}
}

func (fakeEthereum) Ledger() ledger.Kind {
	return ledger.KindEthereum
}

// underpaying deploys ether HTLCs holding shortfall less than agreed.
func underpaying(e fakeEthereum, shortfall *big.Int) fakeEthereum {
	e.shortfall = shortfall
	return e
}

func (e fakeEthereum) mine(op string, to *common.Address, value *big.Int, input []byte) (string, error) {
	if err := e.record("ethereum " + op); err != nil {
		return "", err
	}
	e.mu.Lock()
	nonce := *e.nonce
	*e.nonce++
	e.mu.Unlock()

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], nonce)
	tx := &query.EthereumTransaction{
		Hash:  crypto.Keccak256Hash(e.from.Bytes(), buf[:]),
		From:  e.from,
		To:    to,
		Nonce: nonce,
		Value: value,
		Input: input,
	}
	e.include(tx)
	return tx.TxID(), nil
}

func (e fakeEthereum) Deploy(_ context.Context, p htlc.Params) (string, error) {
	code, err := p.Bytecode()
	if err != nil {
		return "", err
	}
	value := new(big.Int)
	if ether, ok := p.Asset.(ledger.EtherQuantity); ok {
		value.Set(ether.Wei)
		if e.shortfall != nil {
			value.Sub(value, e.shortfall)
		}
	}
	return e.mine("deploy", nil, value, code)
}

func (e fakeEthereum) Fund(_ context.Context, p htlc.Params, loc htlc.Location) (string, error) {
	payload, err := p.FundingPayload(loc.Contract)
	if err != nil {
		return "", err
	}
	token := p.Asset.(ledger.Erc20Quantity).Token
	return e.mine("fund", &token, new(big.Int), payload)
}

func (e fakeEthereum) Redeem(_ context.Context, _ htlc.Params, loc htlc.Location, secret htlc.Secret) (string, error) {
	return e.mine("redeem", &loc.Contract, new(big.Int), htlc.RedeemPayload(secret))
}

func (e fakeEthereum) Refund(_ context.Context, _ htlc.Params, loc htlc.Location) (string, error) {
	return e.mine("refund", &loc.Contract, new(big.Int), []byte{})
}
