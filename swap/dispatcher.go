package swap

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.dedis.ch/htlcswap/eventchain"
	"go.dedis.ch/htlcswap/htlc"
	"go.dedis.ch/htlcswap/ledger"
	"go.dedis.ch/htlcswap/logging"
	"go.dedis.ch/htlcswap/negotiation"
)

var (
	StatusAccepted             = negotiation.OK(20)
	StatusDeclined             = negotiation.SE(21)
	StatusUnsupportedDirection = negotiation.SE(22)
	StatusInternal             = negotiation.RE(2)
)

// Responder starts the responder side of trades. Engine implements it.
type Responder interface {
	Respond(ctx context.Context, r Request, a Accept) (eventchain.TradeID, error)
	Reject(ctx context.Context, r Request, reason string) (eventchain.TradeID, error)
}

type DispatcherConf struct {
	Ledgers Ledgers
	Handler Handler
	// Executable are the directions this node can execute as responder.
	Executable []Direction
	// Identities are this node's refund and success identities per ledger.
	Identities map[ledger.Kind]htlc.Identity
	// TargetLock picks the lock of the HTLC this node funds. Defaults to
	// HalfLock.
	TargetLock    func(Request) htlc.LockDuration
	BlockInterval time.Duration
	Responder     Responder
}

// Dispatcher answers SWAP requests: it decodes them, asks the handler and
// starts a trade for accepted ones.
type Dispatcher struct {
	conf       DispatcherConf
	executable map[Direction]struct{}
	logger     zerolog.Logger
}

func NewDispatcher(conf DispatcherConf) *Dispatcher {
	if conf.BlockInterval == 0 {
		conf.BlockInterval = DefaultBlockInterval
	}
	if conf.TargetLock == nil {
		conf.TargetLock = HalfLock(conf.BlockInterval)
	}
	executable := make(map[Direction]struct{}, len(conf.Executable))
	for _, d := range conf.Executable {
		executable[d] = struct{}{}
	}
	return &Dispatcher{
		conf:       conf,
		executable: executable,
		logger:     logging.RootLogger.With().Str("Component", "Dispatcher").Logger(),
	}
}

// Serve adapts the dispatcher to a negotiation handler.
func (d *Dispatcher) Serve(ctx context.Context, peer string, req negotiation.Request) negotiation.Response {
	return d.Dispatch(ctx, req)
}

// Dispatch maps the handler's decision to a status: OK(20) accepted,
// SE(21) declined, SE(22) accepted in a direction this node can't execute,
// RE(0) malformed, including terms no HTLC can be built from.
func (d *Dispatcher) Dispatch(ctx context.Context, req negotiation.Request) negotiation.Response {
	r, err := DecodeRequest(req, d.conf.Ledgers)
	if err != nil {
		d.logger.Warn().Err(err).Msg("malformed swap request")
		return negotiation.NewResponse(negotiation.StatusMalformed)
	}

	decision := d.conf.Handler.Handle(r)
	if !decision.Accept {
		d.reject(ctx, r, decision.Reason)
		return negotiation.NewResponse(StatusDeclined)
	}

	accept, ok := d.terms(r)
	if !ok {
		d.reject(ctx, r, fmt.Sprintf("can't execute %s", r.Direction()))
		return negotiation.NewResponse(StatusUnsupportedDirection)
	}
	if err := CheckLocks(r, accept, d.conf.BlockInterval); err != nil {
		d.reject(ctx, r, err.Error())
		return negotiation.NewResponse(StatusDeclined)
	}
	if err := r.CheckParams(accept); err != nil {
		d.logger.Warn().Err(err).Msg("malformed swap request")
		return negotiation.NewResponse(negotiation.StatusMalformed)
	}

	trade, err := d.conf.Responder.Respond(ctx, r, accept)
	if err != nil {
		d.logger.Err(err).Msg("failed to start trade")
		return negotiation.NewResponse(StatusInternal)
	}
	d.logger.Info().Str("trade", string(trade)).Msgf("accepted %s", r.Direction())

	resp := negotiation.NewResponse(StatusAccepted)
	if err := EncodeAccept(&resp, r, accept); err != nil {
		d.logger.Err(err).Send()
		return negotiation.NewResponse(StatusInternal)
	}
	return resp
}

// terms are the accept terms this node offers, if it can execute the
// request's direction.
func (d *Dispatcher) terms(r Request) (Accept, bool) {
	if _, ok := d.executable[r.Direction()]; !ok {
		return Accept{}, false
	}
	targetRefund, ok := d.conf.Identities[r.TargetLedger.Kind()]
	if !ok {
		return Accept{}, false
	}
	sourceSuccess, ok := d.conf.Identities[r.SourceLedger.Kind()]
	if !ok {
		return Accept{}, false
	}
	return Accept{
		TargetRefundIdentity:  targetRefund,
		SourceSuccessIdentity: sourceSuccess,
		TargetLock:            d.conf.TargetLock(r),
	}, true
}

func (d *Dispatcher) reject(ctx context.Context, r Request, reason string) {
	d.logger.Info().Str("reason", reason).Msgf("declined %s", r.Direction())
	if d.conf.Responder == nil {
		return
	}
	if _, err := d.conf.Responder.Reject(ctx, r, reason); err != nil {
		d.logger.Err(err).Msg("failed to record rejection")
	}
}
