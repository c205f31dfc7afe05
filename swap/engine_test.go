package swap

import (
	"bytes"
	"context"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/htlcswap/eventchain"
	"go.dedis.ch/htlcswap/htlc"
	z "go.dedis.ch/htlcswap/internal/testing"
	"go.dedis.ch/htlcswap/ledger"
	"go.dedis.ch/htlcswap/lqs"
	"go.dedis.ch/htlcswap/negotiation"
	"go.dedis.ch/htlcswap/query"
)

const testInterval = 50 * time.Millisecond

var (
	aliceAddress = common.HexToAddress("0xa11ce00000000000000000000000000000000001")
	bobAddress   = common.HexToAddress("0xb0b0000000000000000000000000000000000002")
	tokenAddress = common.HexToAddress("0x70ce000000000000000000000000000000000003")
)

// world is what the nodes of a test share: the ledgers and the query
// service watching them.
type world struct {
	service  *lqs.Service
	bitcoin  *fakeChain
	ethereum *fakeChain
}

func newWorld(t *testing.T) world {
	queries := lqs.NewQueryRepository()
	results := lqs.NewResultRepository()
	processor := lqs.NewTransactionProcessor(lqs.TransactionProcessorConf{Queries: queries, Results: results})
	return world{
		service:  lqs.NewService(queries, results),
		bitcoin:  newFakeChain(t, processor),
		ethereum: newFakeChain(t, processor),
	}
}

func (w world) newEngine(t *testing.T, from common.Address, retry RetryPolicy) (*Engine, *eventchain.MemoryStore) {
	return w.newEngineWith(t, retry, fakeBitcoin{w.bitcoin}, newFakeEthereum(w.ethereum, from))
}

func (w world) newEngineWith(t *testing.T, retry RetryPolicy, connectors ...LedgerConnector) (*Engine, *eventchain.MemoryStore) {
	store := eventchain.NewMemoryStore()
	e := NewEngine(EngineConf{
		Store:         store,
		Queries:       w.service,
		Connectors:    connectors,
		Retry:         retry,
		BlockInterval: testInterval,
	})
	t.Cleanup(e.Close)
	return e, store
}

func newResponderDispatcher(t *testing.T, bob *Engine, threshold int64) *Dispatcher {
	return NewDispatcher(DispatcherConf{
		Ledgers:    ledgers,
		Handler:    RateHandler{Base: ledger.KindBitcoin, Quote: ledger.KindEthereum, Threshold: ratio(1, threshold)},
		Executable: []Direction{{Source: ledger.KindBitcoin, Target: ledger.KindEthereum}},
		Identities: map[ledger.Kind]htlc.Identity{
			ledger.KindBitcoin:  mustIdentity(t, bitcoinSuccess),
			ledger.KindEthereum: mustIdentity(t, etherRefund),
		},
		BlockInterval: testInterval,
		Responder:     bob,
	})
}

func tenEther() *big.Int {
	return new(big.Int).Mul(big.NewInt(10), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func bitcoinToEther(t *testing.T, target ledger.Asset) Request {
	return Request{
		SourceLedger:          ledgers.Bitcoin,
		TargetLedger:          ledgers.Ethereum,
		SourceAsset:           ledger.BitcoinQuantity(100_000_000),
		TargetAsset:           target,
		SourceRefundIdentity:  mustIdentity(t, bitcoinRefund),
		TargetSuccessIdentity: mustIdentity(t, etherSuccess),
		SourceLock:            144,
	}
}

func waitDone(t *testing.T, e *Engine, id eventchain.TradeID) {
	select {
	case <-e.Done(id):
	case <-time.After(5 * time.Second):
		state, _ := e.State(context.Background(), id)
		t.Fatalf("trade %s stuck in %s (stalled: %v)", id, state.Phase, e.Stalled(id))
	}
}

func onlyTrade(t *testing.T, store *eventchain.MemoryStore) eventchain.TradeID {
	trades, err := store.Trades(context.Background())
	require.NoError(t, err)
	require.Len(t, trades, 1)
	return trades[0]
}

func TestEngine_SwapRedeemed(t *testing.T) {
	cases := map[string]ledger.Asset{
		"ether": ledger.NewEtherQuantity(tenEther()),
		"erc20": ledger.Erc20Quantity{Token: tokenAddress, Amount: tenEther(), Decimals: 18},
	}

	for name, target := range cases {
		t.Run(name, func(t *testing.T) {
			w := newWorld(t)
			alice, aliceStore := w.newEngine(t, aliceAddress, RetryPolicy{})
			bob, bobStore := w.newEngine(t, bobAddress, RetryPolicy{})
			d := newResponderDispatcher(t, bob, 11)

			secret := z.Secret()
			ctx := context.Background()

			aliceTrade, err := alice.Initiate(ctx, bitcoinToEther(t, target), secret, Local(d))
			require.NoError(t, err)
			bobTrade := onlyTrade(t, bobStore)

			waitDone(t, alice, aliceTrade)
			waitDone(t, bob, bobTrade)

			aliceState, err := aliceStore.State(ctx, aliceTrade)
			require.NoError(t, err)
			require.Equal(t, eventchain.Redeemed, aliceState.Phase)
			require.Equal(t, eventchain.Initiator, aliceState.Offer.Role)
			require.Equal(t, secret, *aliceState.Secret)
			require.NotNil(t, aliceState.SourceLocation)
			require.NotNil(t, aliceState.TargetLocation)
			require.True(t, aliceState.TargetDeadline.Before(aliceState.SourceDeadline))

			bobState, err := bob.State(ctx, bobTrade)
			require.NoError(t, err)
			require.Equal(t, eventchain.Redeemed, bobState.Phase)
			require.Equal(t, eventchain.Responder, bobState.Offer.Role)
			require.Equal(t, secret, *bobState.Secret)
			require.Equal(t, *aliceState.SourceLocation, *bobState.SourceLocation)
			require.Equal(t, *aliceState.TargetLocation, *bobState.TargetLocation)

			require.Equal(t, []string{"bitcoin deploy", "bitcoin redeem"}, w.bitcoin.ops())
			if name == "erc20" {
				require.Equal(t, []string{"ethereum deploy", "ethereum fund", "ethereum redeem"}, w.ethereum.ops())
			} else {
				require.Equal(t, []string{"ethereum deploy", "ethereum redeem"}, w.ethereum.ops())
			}

			require.NoError(t, alice.Stalled(aliceTrade))
			require.NoError(t, bob.Stalled(bobTrade))
			// settled trades are forgotten by the engine, not by the store
			require.False(t, alice.Running(aliceTrade))
			require.False(t, bob.Running(bobTrade))
			require.ErrorIs(t, bob.Terminate(bobTrade), eventchain.ErrUnknownTrade)
			// settled trades leave nothing scheduled
			require.Equal(t, 0, alice.scheduler.Len())
			require.Equal(t, 0, bob.scheduler.Len())
		})
	}
}

func TestEngine_SwapOverNegotiationNodes(t *testing.T) {
	w := newWorld(t)
	alice, aliceStore := w.newEngine(t, aliceAddress, RetryPolicy{})
	bob, bobStore := w.newEngine(t, bobAddress, RetryPolicy{})
	d := newResponderDispatcher(t, bob, 11)

	start := func() *negotiation.Node {
		sock, err := negotiation.Listen("127.0.0.1:0")
		require.NoError(t, err)
		n := negotiation.NewNode(negotiation.NodeConf{Socket: sock, Timeout: 5 * time.Second, RecvTimeout: 20 * time.Millisecond})
		n.Start()
		t.Cleanup(func() { n.Stop() })
		return n
	}
	aliceNode := start()
	bobNode := start()
	bobNode.Handle(MethodSwap, d.Serve)

	cp := PeerCounterparty{Node: aliceNode, Peer: bobNode.Addr()}
	aliceTrade, err := alice.Initiate(context.Background(), bitcoinToEther(t, ledger.NewEtherQuantity(tenEther())), z.Secret(), cp)
	require.NoError(t, err)

	waitDone(t, alice, aliceTrade)
	waitDone(t, bob, onlyTrade(t, bobStore))

	state, err := aliceStore.State(context.Background(), aliceTrade)
	require.NoError(t, err)
	require.Equal(t, eventchain.Redeemed, state.Phase)
}

func TestEngine_Declined(t *testing.T) {
	w := newWorld(t)
	alice, aliceStore := w.newEngine(t, aliceAddress, RetryPolicy{})
	bob, bobStore := w.newEngine(t, bobAddress, RetryPolicy{})
	d := newResponderDispatcher(t, bob, 5)

	ctx := context.Background()
	id, err := alice.Initiate(ctx, bitcoinToEther(t, ledger.NewEtherQuantity(tenEther())), z.Secret(), Local(d))
	require.ErrorIs(t, err, ErrDeclined)
	require.Contains(t, err.Error(), "SE21")

	state, err := aliceStore.State(ctx, id)
	require.NoError(t, err)
	require.Equal(t, eventchain.Rejected, state.Phase)

	bobState, err := bobStore.State(ctx, onlyTrade(t, bobStore))
	require.NoError(t, err)
	require.Equal(t, eventchain.Rejected, bobState.Phase)
	require.NotEmpty(t, bobState.RejectReason)

	require.Empty(t, w.bitcoin.ops())
	require.Empty(t, w.ethereum.ops())
}

func TestEngine_UnsafeAcceptIsRejected(t *testing.T) {
	w := newWorld(t)
	alice, aliceStore := w.newEngine(t, aliceAddress, RetryPolicy{})

	r := bitcoinToEther(t, ledger.NewEtherQuantity(tenEther()))
	cp := CounterpartyFunc(func(_ context.Context, r Request) (negotiation.Response, error) {
		resp := negotiation.NewResponse(StatusAccepted)
		// a day of seconds outlives 144 blocks of testInterval
		err := EncodeAccept(&resp, r, Accept{
			TargetRefundIdentity:  mustIdentity(t, etherRefund),
			SourceSuccessIdentity: mustIdentity(t, bitcoinSuccess),
			TargetLock:            86400,
		})
		return resp, err
	})

	id, err := alice.Initiate(context.Background(), r, z.Secret(), cp)
	require.ErrorIs(t, err, ErrUnsafeLocks)

	state, err := aliceStore.State(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, eventchain.Rejected, state.Phase)
}

// acceptOnly accepts every proposal without executing anything.
func acceptOnly(t *testing.T, targetLock htlc.LockDuration) Counterparty {
	return CounterpartyFunc(func(_ context.Context, r Request) (negotiation.Response, error) {
		resp := negotiation.NewResponse(StatusAccepted)
		err := EncodeAccept(&resp, r, Accept{
			TargetRefundIdentity:  mustIdentity(t, bitcoinRefund),
			SourceSuccessIdentity: mustIdentity(t, etherSuccess),
			TargetLock:            targetLock,
		})
		return resp, err
	})
}

func etherToBitcoin(t *testing.T, lock htlc.LockDuration) Request {
	return Request{
		SourceLedger:          ledgers.Ethereum,
		TargetLedger:          ledgers.Bitcoin,
		SourceAsset:           ledger.NewEtherQuantity(tenEther()),
		TargetAsset:           ledger.BitcoinQuantity(100_000_000),
		SourceRefundIdentity:  mustIdentity(t, etherRefund),
		TargetSuccessIdentity: mustIdentity(t, bitcoinSuccess),
		SourceLock:            lock,
	}
}

func TestEngine_RefundAfterDeadline(t *testing.T) {
	w := newWorld(t)
	alice, aliceStore := w.newEngine(t, aliceAddress, RetryPolicy{})

	// the counterparty never locks its side, so the source lock of one
	// second runs out
	id, err := alice.Initiate(context.Background(), etherToBitcoin(t, 1), z.Secret(), acceptOnly(t, 2))
	require.NoError(t, err)

	waitDone(t, alice, id)

	state, err := aliceStore.State(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, eventchain.Refunded, state.Phase)
	require.NotEmpty(t, state.RefundTx)
	require.Nil(t, state.Secret)
	require.Equal(t, []string{"ethereum deploy", "ethereum refund"}, w.ethereum.ops())
	require.Empty(t, w.bitcoin.ops())
	require.NoError(t, alice.Stalled(id))
}

func TestEngine_RefundRetriedUntilAccepted(t *testing.T) {
	w := newWorld(t)
	alice, aliceStore := w.newEngine(t, aliceAddress, RetryPolicy{Attempts: 1, Backoff: time.Millisecond})
	w.ethereum.failNext("ethereum refund", 3)

	id, err := alice.Initiate(context.Background(), etherToBitcoin(t, 1), z.Secret(), acceptOnly(t, 2))
	require.NoError(t, err)

	waitDone(t, alice, id)

	state, err := aliceStore.State(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, eventchain.Refunded, state.Phase)
}

func TestEngine_StalledSubmission(t *testing.T) {
	w := newWorld(t)
	alice, aliceStore := w.newEngine(t, aliceAddress, RetryPolicy{Attempts: 2, Backoff: time.Millisecond})
	w.bitcoin.failNext("bitcoin deploy", 2)

	id, err := alice.Initiate(context.Background(), bitcoinToEther(t, ledger.NewEtherQuantity(tenEther())), z.Secret(), acceptOnly(t, 3))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return alice.Stalled(id) != nil
	}, 5*time.Second, 10*time.Millisecond)

	err = alice.Stalled(id)
	require.True(t, alice.Running(id))
	require.ErrorIs(t, err, ErrStalled)
	require.ErrorIs(t, err, ErrLedgerSubmission)
	require.ErrorIs(t, err, errRejectedByNode)

	state, err := aliceStore.State(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, eventchain.OrderTaken, state.Phase)

	select {
	case <-alice.Done(id):
		t.Fatal("stalled trade must stay open")
	default:
	}
}

func TestEngine_Terminate(t *testing.T) {
	w := newWorld(t)
	alice, aliceStore := w.newEngine(t, aliceAddress, RetryPolicy{})

	require.ErrorIs(t, alice.Terminate(eventchain.NewTradeID()), eventchain.ErrUnknownTrade)

	id, err := alice.Initiate(context.Background(), etherToBitcoin(t, 3600), z.Secret(), acceptOnly(t, 2))
	require.NoError(t, err)

	// the refund is scheduled once the source htlc is funded
	require.Eventually(t, func() bool {
		_, scheduled := alice.scheduler.Pending(id)
		return scheduled
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, alice.Terminate(id))
	waitDone(t, alice, id)

	_, scheduled := alice.scheduler.Pending(id)
	require.False(t, scheduled)
	require.NoError(t, alice.Stalled(id))
	require.False(t, alice.Running(id))
	require.ErrorIs(t, alice.Terminate(id), eventchain.ErrUnknownTrade)

	state, err := aliceStore.State(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, eventchain.TradeFunded, state.Phase)
}

func TestEngine_MissingConnector(t *testing.T) {
	e := NewEngine(EngineConf{Store: eventchain.NewMemoryStore(), Queries: newWorld(t).service})
	defer e.Close()

	_, err := e.Initiate(context.Background(), etherToBitcoin(t, 10), z.Secret(), acceptOnly(t, 2))
	require.ErrorIs(t, err, ErrNoConnector)
}

func TestEngine_Executable(t *testing.T) {
	e := NewEngine(EngineConf{Store: eventchain.NewMemoryStore(), Queries: newWorld(t).service})
	defer e.Close()
	require.Empty(t, e.Executable())

	w := newWorld(t)
	full, _ := w.newEngine(t, aliceAddress, RetryPolicy{})
	require.ElementsMatch(t, []Direction{
		{Source: ledger.KindBitcoin, Target: ledger.KindEthereum},
		{Source: ledger.KindEthereum, Target: ledger.KindBitcoin},
	}, full.Executable())
}

// respondDirectly hands every proposal to bob with a target lock of
// targetLock seconds.
func respondDirectly(t *testing.T, bob *Engine, targetLock htlc.LockDuration) Counterparty {
	return CounterpartyFunc(func(ctx context.Context, r Request) (negotiation.Response, error) {
		a := Accept{
			TargetRefundIdentity:  mustIdentity(t, etherRefund),
			SourceSuccessIdentity: mustIdentity(t, bitcoinSuccess),
			TargetLock:            targetLock,
		}
		if _, err := bob.Respond(ctx, r, a); err != nil {
			return negotiation.Response{}, err
		}
		resp := negotiation.NewResponse(StatusAccepted)
		err := EncodeAccept(&resp, r, a)
		return resp, err
	})
}

func TestEngine_ResponderRefundsWithoutSecret(t *testing.T) {
	w := newWorld(t)
	alice, _ := w.newEngine(t, aliceAddress, RetryPolicy{Attempts: 1, Backoff: time.Millisecond})
	bob, bobStore := w.newEngine(t, bobAddress, RetryPolicy{})
	// alice's redeem never makes it, so the secret stays hidden
	w.ethereum.failNext("ethereum redeem", 1)

	aliceTrade, err := alice.Initiate(context.Background(), bitcoinToEther(t, ledger.NewEtherQuantity(tenEther())), z.Secret(), respondDirectly(t, bob, 1))
	require.NoError(t, err)
	bobTrade := onlyTrade(t, bobStore)

	waitDone(t, bob, bobTrade)

	state, err := bobStore.State(context.Background(), bobTrade)
	require.NoError(t, err)
	require.Equal(t, eventchain.Refunded, state.Phase)
	require.NotNil(t, state.TargetLocation)
	require.NotEmpty(t, state.RefundTx)
	require.Nil(t, state.Secret)

	require.Equal(t, []string{"ethereum deploy", "ethereum refund"}, w.ethereum.ops())
	require.Equal(t, []string{"bitcoin deploy"}, w.bitcoin.ops())

	require.Eventually(t, func() bool {
		return alice.Stalled(aliceTrade) != nil
	}, 5*time.Second, 10*time.Millisecond)
	require.ErrorIs(t, alice.Stalled(aliceTrade), ErrLedgerSubmission)
}

// registrations reports each query registered through it.
type registrations struct {
	QueryService
	registered chan query.ID
}

func (r registrations) Register(q query.Query, opts ...lqs.SaveOption) (query.ID, error) {
	id, err := r.QueryService.Register(q, opts...)
	r.registered <- id
	return id, err
}

func TestEngine_AwaitSecretSkipsOtherPayloads(t *testing.T) {
	w := newWorld(t)
	queries := registrations{QueryService: w.service, registered: make(chan query.ID, 1)}
	e := NewEngine(EngineConf{Store: eventchain.NewMemoryStore(), Queries: queries, BlockInterval: testInterval})
	defer e.Close()

	secret := z.Secret()
	r := bitcoinToEther(t, ledger.NewEtherQuantity(tenEther()))
	r.SecretHash = secret.Hash()
	a := Accept{
		TargetRefundIdentity:  mustIdentity(t, etherRefund),
		SourceSuccessIdentity: mustIdentity(t, bitcoinSuccess),
		TargetLock:            60,
	}
	target, err := query.NewBuilder(r.TargetParams(a))
	require.NoError(t, err)

	contract := common.HexToAddress("0xc0de000000000000000000000000000000000004")
	tr := e.track(eventchain.NewTradeID(), eventchain.Responder, r, a)

	type revealed struct {
		secret htlc.Secret
		err    error
	}
	results := make(chan revealed, 1)
	go func() {
		s, err := e.awaitSecret(tr, target, htlc.ContractLocation(contract))
		results <- revealed{s, err}
	}()
	<-queries.registered

	call := func(input []byte) {
		w.ethereum.processor.Process(&query.EthereumTransaction{
			Hash:  crypto.Keccak256Hash(input),
			From:  aliceAddress,
			To:    &contract,
			Value: new(big.Int),
			Input: input,
		})
	}

	// same length as a secret, wrong preimage
	call(bytes.Repeat([]byte{0xee}, htlc.SecretLength))
	select {
	case res := <-results:
		t.Fatalf("took %x for the secret", res.secret)
	case <-time.After(5 * blockTime):
	}

	call(htlc.RedeemPayload(secret))
	select {
	case res := <-results:
		require.NoError(t, res.err)
		require.Equal(t, secret, res.secret)
	case <-time.After(5 * time.Second):
		t.Fatal("secret never picked up")
	}
}

func TestEngine_ResponderStallsOnLateFunding(t *testing.T) {
	w := newWorld(t)
	alice, _ := w.newEngine(t, aliceAddress, RetryPolicy{})
	bob, bobStore := w.newEngine(t, bobAddress, RetryPolicy{})

	// the source funding is seen at start but bob only gets to lock the
	// target an hour later
	start := time.Now()
	var calls atomic.Int32
	bob.now = func() time.Time {
		if calls.Add(1) == 1 {
			return start
		}
		return start.Add(time.Hour)
	}
	d := newResponderDispatcher(t, bob, 11)

	_, err := alice.Initiate(context.Background(), bitcoinToEther(t, ledger.NewEtherQuantity(tenEther())), z.Secret(), Local(d))
	require.NoError(t, err)
	bobTrade := onlyTrade(t, bobStore)

	require.Eventually(t, func() bool {
		return bob.Stalled(bobTrade) != nil
	}, 5*time.Second, 10*time.Millisecond)

	err = bob.Stalled(bobTrade)
	require.ErrorIs(t, err, ErrStalled)
	require.ErrorIs(t, err, ErrUnsafeLocks)
	require.True(t, bob.Running(bobTrade))

	state, err := bobStore.State(context.Background(), bobTrade)
	require.NoError(t, err)
	require.Equal(t, eventchain.TradeFunded, state.Phase)
	require.Nil(t, state.TargetLocation)
	require.Empty(t, w.ethereum.ops())
}

func TestEngine_UnderfundedCounterContractIsIgnored(t *testing.T) {
	w := newWorld(t)
	alice, aliceStore := w.newEngine(t, aliceAddress, RetryPolicy{})
	bob, _ := w.newEngineWith(t, RetryPolicy{},
		fakeBitcoin{w.bitcoin},
		underpaying(newFakeEthereum(w.ethereum, bobAddress), big.NewInt(1)))
	d := newResponderDispatcher(t, bob, 11)

	id, err := alice.Initiate(context.Background(), bitcoinToEther(t, ledger.NewEtherQuantity(tenEther())), z.Secret(), Local(d))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(w.ethereum.ops()) > 0
	}, 5*time.Second, 10*time.Millisecond)
	// long enough for the deployment to be mined and looked at
	time.Sleep(10 * blockTime)

	state, err := aliceStore.State(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, eventchain.TradeFunded, state.Phase)
	require.Nil(t, state.TargetLocation)
	require.Nil(t, state.Secret)

	require.Equal(t, []string{"ethereum deploy"}, w.ethereum.ops())
	require.Equal(t, []string{"bitcoin deploy"}, w.bitcoin.ops())
	require.NoError(t, alice.Stalled(id))
	require.True(t, alice.Running(id))
}

func TestCheckLocked(t *testing.T) {
	btc := z.BitcoinParams(t)
	addr, err := btc.BitcoinAddress()
	require.NoError(t, err)

	pay := func(satoshi int64) (*query.BitcoinTransaction, htlc.Location) {
		tx := query.NewBitcoinTransaction(z.PayTo(t, addr.EncodeAddress(), satoshi), &chaincfg.RegressionNetParams)
		loc, err := locate(btc, tx)
		require.NoError(t, err)
		return tx, loc
	}
	tx, loc := pay(100_000_000)
	require.NoError(t, checkLocked(btc, loc, tx))
	tx, loc = pay(100_000_001)
	require.NoError(t, checkLocked(btc, loc, tx))
	tx, loc = pay(99_999_999)
	require.ErrorIs(t, checkLocked(btc, loc, tx), ErrUnderfunded)

	eth := z.EtherParams(t)
	wei := eth.Asset.(ledger.EtherQuantity).Wei
	deploy := func(value *big.Int) *query.EthereumTransaction {
		return &query.EthereumTransaction{From: bobAddress, Value: value}
	}
	loc = htlc.ContractLocation(crypto.CreateAddress(bobAddress, 0))
	require.NoError(t, checkLocked(eth, loc, deploy(wei)))
	require.ErrorIs(t, checkLocked(eth, loc, deploy(new(big.Int).Sub(wei, big.NewInt(1)))), ErrUnderfunded)
	require.ErrorIs(t, checkLocked(eth, loc, deploy(nil)), ErrUnderfunded)
	require.ErrorIs(t, checkLocked(eth, loc, tx), ErrUnexpectedMatch)

	// tokens arrive with the funding transfer
	require.NoError(t, checkLocked(z.Erc20Params(t), loc, deploy(new(big.Int))))
}
