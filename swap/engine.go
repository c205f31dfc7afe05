package swap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.dedis.ch/htlcswap/eventchain"
	"go.dedis.ch/htlcswap/htlc"
	"go.dedis.ch/htlcswap/ledger"
	"go.dedis.ch/htlcswap/logging"
	"go.dedis.ch/htlcswap/lqs"
	"go.dedis.ch/htlcswap/negotiation"
	"go.dedis.ch/htlcswap/query"
)

// DefaultBlockInterval converts Bitcoin block locks to wall time.
const DefaultBlockInterval = 10 * time.Minute

var (
	ErrDeclined    = errors.New("swap declined")
	ErrNoConnector = errors.New("no connector for ledger")
)

// LedgerConnector submits HTLC transactions to one ledger. Each method
// returns the id of the submitted transaction; the engine learns about its
// inclusion through the query service.
type LedgerConnector interface {
	Ledger() ledger.Kind
	// Deploy creates the HTLC. On Bitcoin and for ether this also locks
	// the asset.
	Deploy(ctx context.Context, p htlc.Params) (string, error)
	// Fund moves ERC20 tokens into the HTLC deployed at location.
	Fund(ctx context.Context, p htlc.Params, location htlc.Location) (string, error)
	Redeem(ctx context.Context, p htlc.Params, location htlc.Location, secret htlc.Secret) (string, error)
	Refund(ctx context.Context, p htlc.Params, location htlc.Location) (string, error)
}

// QueryService is the part of lqs.Service the engine waits on.
type QueryService interface {
	Register(q query.Query, opts ...lqs.SaveOption) (query.ID, error)
	Next(ctx context.Context, id query.ID, seen int) (query.Transaction, error)
	Delete(id query.ID) error
}

// Counterparty receives the initiator's proposal.
type Counterparty interface {
	Propose(ctx context.Context, r Request) (negotiation.Response, error)
}

// Recorder is told about retries and stalled trades.
type Recorder interface {
	RecordRetry(op string)
	RecordStalled()
}

type noopRecorder struct{}

func (noopRecorder) RecordRetry(string) {}
func (noopRecorder) RecordStalled()     {}

type EngineConf struct {
	Store      eventchain.Store
	Queries    QueryService
	Connectors []LedgerConnector
	// Retry bounds deploy, fund and redeem submissions. Refunds are retried
	// until they succeed or the trade is terminated.
	Retry         RetryPolicy
	BlockInterval time.Duration
	Metrics       Recorder
}

// Engine executes trades. Each trade runs in its own goroutines which block
// on query matches and append one event per milestone.
type Engine struct {
	zerolog.Logger
	store      eventchain.Store
	queries    QueryService
	connectors map[ledger.Kind]LedgerConnector
	retry      RetryPolicy
	interval   time.Duration
	metrics    Recorder
	scheduler  *Scheduler

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	trades map[eventchain.TradeID]*trade

	now func() time.Time
}

type trade struct {
	id     eventchain.TradeID
	role   eventchain.Role
	req    Request
	accept Accept
	secret htlc.Secret

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	mu      sync.Mutex
	stalled error
}

func NewEngine(conf EngineConf) *Engine {
	if conf.Retry == (RetryPolicy{}) {
		conf.Retry = DefaultRetryPolicy
	}
	if conf.BlockInterval == 0 {
		conf.BlockInterval = DefaultBlockInterval
	}
	if conf.Metrics == nil {
		conf.Metrics = noopRecorder{}
	}
	connectors := make(map[ledger.Kind]LedgerConnector, len(conf.Connectors))
	for _, c := range conf.Connectors {
		connectors[c.Ledger()] = c
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		Logger:     logging.RootLogger.With().Str("Component", "SwapEngine").Logger(),
		store:      conf.Store,
		queries:    conf.Queries,
		connectors: connectors,
		retry:      conf.Retry,
		interval:   conf.BlockInterval,
		metrics:    conf.Metrics,
		scheduler:  NewScheduler(),
		ctx:        ctx,
		cancel:     cancel,
		trades:     make(map[eventchain.TradeID]*trade),
		now:        time.Now,
	}
}

// Close stops every running trade. Their chains stay where they are.
func (e *Engine) Close() {
	e.cancel()
	e.scheduler.Stop()
}

func (e *Engine) connector(kind ledger.Kind) (LedgerConnector, error) {
	c, ok := e.connectors[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoConnector, kind)
	}
	return c, nil
}

// Executable lists the directions the engine has connectors for on both
// ledgers.
func (e *Engine) Executable() []Direction {
	var dirs []Direction
	for source := range e.connectors {
		for target := range e.connectors {
			if source != target {
				dirs = append(dirs, Direction{Source: source, Target: target})
			}
		}
	}
	return dirs
}

func (e *Engine) checkConnectors(r Request) error {
	if _, err := e.connector(r.SourceLedger.Kind()); err != nil {
		return err
	}
	_, err := e.connector(r.TargetLedger.Kind())
	return err
}

func offerOf(role eventchain.Role, r Request) eventchain.Offer {
	return eventchain.Offer{
		Role:                  role,
		SourceLedger:          r.SourceLedger.String(),
		TargetLedger:          r.TargetLedger.String(),
		SourceAsset:           r.SourceAsset.Name(),
		TargetAsset:           r.TargetAsset.Name(),
		SourceQuantity:        r.SourceAsset.Quantity(),
		TargetQuantity:        r.TargetAsset.Quantity(),
		SecretHash:            r.SecretHash,
		SourceRefundIdentity:  r.SourceRefundIdentity,
		TargetSuccessIdentity: r.TargetSuccessIdentity,
		SourceLock:            r.SourceLock,
	}
}

func orderOf(a Accept) eventchain.OrderTakenEvent {
	return eventchain.OrderTakenEvent{
		TargetRefundIdentity:  a.TargetRefundIdentity,
		SourceSuccessIdentity: a.SourceSuccessIdentity,
		TargetLock:            a.TargetLock,
	}
}

// Initiate proposes r, locked to secret, to cp and executes the trade if
// the counterparty accepts. A declined proposal ends the trade with a
// Rejected event and an error wrapping ErrDeclined.
func (e *Engine) Initiate(ctx context.Context, r Request, secret htlc.Secret, cp Counterparty) (eventchain.TradeID, error) {
	r.SecretHash = secret.Hash()
	if err := r.Validate(); err != nil {
		return "", err
	}
	if err := e.checkConnectors(r); err != nil {
		return "", err
	}

	id := eventchain.NewTradeID()
	if _, err := e.store.Append(ctx, id, eventchain.OfferCreatedEvent{Offer: offerOf(eventchain.Initiator, r)}); err != nil {
		return "", err
	}

	reject := func(cause error) (eventchain.TradeID, error) {
		if _, err := e.store.Append(ctx, id, eventchain.RejectedEvent{Reason: cause.Error()}); err != nil {
			e.Err(err).Str("trade", string(id)).Msg("failed to record rejection")
		}
		return id, cause
	}

	resp, err := cp.Propose(ctx, r)
	if err != nil {
		return reject(fmt.Errorf("failed to propose: %w", err))
	}
	if resp.Status != StatusAccepted {
		return reject(fmt.Errorf("%w: %s", ErrDeclined, resp.Status))
	}
	accept, err := DecodeAccept(resp)
	if err != nil {
		return reject(err)
	}
	if err := CheckLocks(r, accept, e.interval); err != nil {
		return reject(err)
	}
	if err := r.CheckParams(accept); err != nil {
		return reject(err)
	}

	if _, err := e.store.Append(ctx, id, orderOf(accept)); err != nil {
		return id, err
	}
	t := e.track(id, eventchain.Initiator, r, accept)
	t.secret = secret
	go e.runInitiator(t)
	return id, nil
}

// Respond executes the responder side of an accepted request.
func (e *Engine) Respond(ctx context.Context, r Request, a Accept) (eventchain.TradeID, error) {
	if err := r.Validate(); err != nil {
		return "", err
	}
	if err := CheckLocks(r, a, e.interval); err != nil {
		return "", err
	}
	if err := r.CheckParams(a); err != nil {
		return "", err
	}
	if err := e.checkConnectors(r); err != nil {
		return "", err
	}

	id := eventchain.NewTradeID()
	if _, err := e.store.Append(ctx, id, eventchain.OfferCreatedEvent{Offer: offerOf(eventchain.Responder, r)}); err != nil {
		return "", err
	}
	if _, err := e.store.Append(ctx, id, orderOf(a)); err != nil {
		return id, err
	}
	t := e.track(id, eventchain.Responder, r, a)
	go e.runResponder(t)
	return id, nil
}

// Reject records a declined request as a trade of its own.
func (e *Engine) Reject(ctx context.Context, r Request, reason string) (eventchain.TradeID, error) {
	id := eventchain.NewTradeID()
	if _, err := e.store.Append(ctx, id, eventchain.OfferCreatedEvent{Offer: offerOf(eventchain.Responder, r)}); err != nil {
		return "", err
	}
	if _, err := e.store.Append(ctx, id, eventchain.RejectedEvent{Reason: reason}); err != nil {
		return id, err
	}
	return id, nil
}

func (e *Engine) track(id eventchain.TradeID, role eventchain.Role, r Request, a Accept) *trade {
	ctx, cancel := context.WithCancel(e.ctx)
	t := &trade{id: id, role: role, req: r, accept: a, ctx: ctx, cancel: cancel, done: make(chan struct{})}
	e.mu.Lock()
	e.trades[id] = t
	e.mu.Unlock()
	return t
}

func (e *Engine) lookup(id eventchain.TradeID) (*trade, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.trades[id]
	return t, ok
}

// State replays the trade's chain.
func (e *Engine) State(ctx context.Context, id eventchain.TradeID) (eventchain.TradeState, error) {
	return e.store.State(ctx, id)
}

// Terminate stops executing the trade, including pending refunds. The
// chain is left as is. Trades that already ended are unknown.
func (e *Engine) Terminate(id eventchain.TradeID) error {
	t, ok := e.lookup(id)
	if !ok {
		return eventchain.ErrUnknownTrade
	}
	e.Info().Str("trade", string(id)).Msg("terminated")
	e.finish(t)
	return nil
}

// Done is closed once the trade reached a terminal event or was
// terminated. Unknown trades return a closed channel.
func (e *Engine) Done(id eventchain.TradeID) <-chan struct{} {
	if t, ok := e.lookup(id); ok {
		return t.done
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}

// Stalled returns the error that stopped the trade's progress, wrapping
// ErrStalled, or nil. Trades that aren't running never stall.
func (e *Engine) Stalled(id eventchain.TradeID) error {
	t, ok := e.lookup(id)
	if !ok {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stalled
}

// Running tells if the trade is executing or stalled on this engine.
func (e *Engine) Running(id eventchain.TradeID) bool {
	_, ok := e.lookup(id)
	return ok
}

// finish stops the trade and forgets it. Its chain keeps the outcome.
func (e *Engine) finish(t *trade) {
	t.once.Do(func() {
		e.scheduler.Cancel(t.id)
		t.cancel()
		e.mu.Lock()
		delete(e.trades, t.id)
		e.mu.Unlock()
		close(t.done)
	})
}

// append records ev and settles the trade on terminal events.
func (e *Engine) append(t *trade, ev eventchain.Event) error {
	if _, err := e.store.Append(t.ctx, t.id, ev); err != nil {
		return err
	}
	if ev.Kind().Terminal() {
		e.finish(t)
	}
	return nil
}

// stall surfaces err on the trade. Pending refunds stay scheduled.
func (e *Engine) stall(t *trade, err error) {
	if t.ctx.Err() != nil {
		// settled or terminated meanwhile
		return
	}
	t.mu.Lock()
	t.stalled = fmt.Errorf("%w: %w", ErrStalled, err)
	t.mu.Unlock()
	e.metrics.RecordStalled()
	e.Error().Err(err).Str("trade", string(t.id)).Msg("trade stalled")
}

func (e *Engine) submit(t *trade, op string, kind ledger.Kind, policy RetryPolicy, fn submitFunc) (string, error) {
	return policy.do(t.ctx, op, kind, fn, func(attempt int, err error) {
		e.metrics.RecordRetry(op)
		e.Warn().Err(err).Str("trade", string(t.id)).Int("attempt", attempt).Msgf("%s on %s failed", op, kind)
	})
}
