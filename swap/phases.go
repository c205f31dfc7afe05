package swap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.dedis.ch/htlcswap/eventchain"
	"go.dedis.ch/htlcswap/htlc"
	"go.dedis.ch/htlcswap/ledger"
	"go.dedis.ch/htlcswap/query"
)

var (
	ErrUnexpectedMatch = errors.New("match does not describe the htlc")
	ErrUnderfunded     = errors.New("htlc locks less than agreed")
)

// runInitiator locks the source asset, waits for the counter contract and
// redeems it with the secret.
func (e *Engine) runInitiator(t *trade) {
	source, err := query.NewBuilder(t.req.SourceParams(t.accept))
	if err != nil {
		e.stall(t, err)
		return
	}
	target, err := query.NewBuilder(t.req.TargetParams(t.accept))
	if err != nil {
		e.stall(t, err)
		return
	}

	loc, fundTx, fundedAt, err := e.lock(t, source, true, func(loc htlc.Location, txid string) error {
		return e.append(t, eventchain.ContractDeployedEvent{Location: loc, TxID: txid})
	})
	if err != nil {
		e.stall(t, err)
		return
	}
	deadline := source.Params().Deadline(fundedAt, e.interval)
	if err := e.append(t, eventchain.TradeFundedEvent{Location: loc, TxID: fundTx, Deadline: deadline}); err != nil {
		e.stall(t, err)
		return
	}
	e.scheduleRefund(t, source, loc, deadline)

	tloc, counterTx, counterAt, err := e.lock(t, target, false, nil)
	if err != nil {
		e.stall(t, err)
		return
	}
	err = e.append(t, eventchain.CounterContractDeployedEvent{
		Location: tloc,
		TxID:     counterTx,
		Deadline: target.Params().Deadline(counterAt, e.interval),
	})
	if err != nil {
		e.stall(t, err)
		return
	}

	redeemTx, err := e.redeem(t, target, tloc, t.secret)
	if err != nil {
		e.stall(t, err)
		return
	}
	if err := e.append(t, eventchain.RedeemedEvent{Location: tloc, TxID: redeemTx, Secret: t.secret}); err != nil {
		e.stall(t, err)
	}
}

// runResponder waits for the source asset to be locked, locks the target
// asset, learns the secret from the initiator's redeem and uses it on the
// source HTLC.
func (e *Engine) runResponder(t *trade) {
	source, err := query.NewBuilder(t.req.SourceParams(t.accept))
	if err != nil {
		e.stall(t, err)
		return
	}
	target, err := query.NewBuilder(t.req.TargetParams(t.accept))
	if err != nil {
		e.stall(t, err)
		return
	}

	loc, fundTx, fundedAt, err := e.lock(t, source, false, func(loc htlc.Location, txid string) error {
		return e.append(t, eventchain.ContractDeployedEvent{Location: loc, TxID: txid})
	})
	if err != nil {
		e.stall(t, err)
		return
	}
	sourceDeadline := source.Params().Deadline(fundedAt, e.interval)
	if err := e.append(t, eventchain.TradeFundedEvent{Location: loc, TxID: fundTx, Deadline: sourceDeadline}); err != nil {
		e.stall(t, err)
		return
	}

	// the target htlc must expire before the source one even when funded now
	if !target.Params().Deadline(e.now(), e.interval).Before(sourceDeadline) {
		e.stall(t, fmt.Errorf("%w: source refundable at %s", ErrUnsafeLocks, sourceDeadline))
		return
	}

	tloc, counterTx, counterAt, err := e.lock(t, target, true, nil)
	if err != nil {
		e.stall(t, err)
		return
	}
	targetDeadline := target.Params().Deadline(counterAt, e.interval)
	err = e.append(t, eventchain.CounterContractDeployedEvent{Location: tloc, TxID: counterTx, Deadline: targetDeadline})
	if err != nil {
		e.stall(t, err)
		return
	}
	e.scheduleRefund(t, target, tloc, targetDeadline)

	secret, err := e.awaitSecret(t, target, tloc)
	if err != nil {
		e.stall(t, err)
		return
	}
	redeemTx, err := e.redeem(t, source, loc, secret)
	if err != nil {
		e.stall(t, err)
		return
	}
	if err := e.append(t, eventchain.RedeemedEvent{Location: loc, TxID: redeemTx, Secret: secret}); err != nil {
		e.stall(t, err)
	}
}

// watch registers q, runs submit when set, and waits for the first match
// that passes check. The query is registered first so the submitted
// transaction can't be missed.
func (e *Engine) watch(t *trade, q query.Query, submit func() error, check func(query.Transaction) error) (query.Transaction, error) {
	id, err := e.queries.Register(q)
	if err != nil {
		return nil, err
	}
	defer e.forget(id)

	if submit != nil {
		if err := submit(); err != nil {
			return nil, err
		}
	}
	for seen := 0; ; seen++ {
		tx, err := e.queries.Next(t.ctx, id, seen)
		if err != nil {
			return nil, err
		}
		if check == nil {
			return tx, nil
		}
		if err := check(tx); err != nil {
			e.Warn().Err(err).Str("trade", string(t.id)).Str("tx", tx.TxID()).Msg("match skipped")
			continue
		}
		return tx, nil
	}
}

func (e *Engine) forget(id query.ID) {
	if err := e.queries.Delete(id); err != nil {
		e.Debug().Err(err).Str("query", string(id)).Msg("query already gone")
	}
}

// lock waits for the HTLC of b to be deployed and funded, submitting the
// transactions itself when own is set. deployed is called as soon as the
// location is known.
func (e *Engine) lock(t *trade, b query.Builder, own bool, deployed func(htlc.Location, string) error) (htlc.Location, string, time.Time, error) {
	p := b.Params()
	conn, err := e.connector(p.Ledger.Kind())
	if err != nil {
		return htlc.Location{}, "", time.Time{}, err
	}

	q, err := b.Deployed()
	if err != nil {
		return htlc.Location{}, "", time.Time{}, err
	}
	var submit func() error
	if own {
		submit = func() error {
			_, err := e.submit(t, "deploy", p.Ledger.Kind(), e.retry, func(ctx context.Context) (string, error) {
				return conn.Deploy(ctx, p)
			})
			return err
		}
	}
	var loc htlc.Location
	tx, err := e.watch(t, q, submit, func(tx query.Transaction) error {
		l, err := locate(p, tx)
		if err != nil {
			return err
		}
		if err := checkLocked(p, l, tx); err != nil {
			return err
		}
		loc = l
		return nil
	})
	if err != nil {
		return htlc.Location{}, "", time.Time{}, err
	}
	e.Info().Str("trade", string(t.id)).Str("tx", tx.TxID()).Msgf("htlc deployed at %s", loc)
	if deployed != nil {
		if err := deployed(loc, tx.TxID()); err != nil {
			return htlc.Location{}, "", time.Time{}, err
		}
	}
	if b.Variant() != htlc.VariantErc20 {
		return loc, tx.TxID(), e.now(), nil
	}

	q, err = b.Funded(loc)
	if err != nil {
		return htlc.Location{}, "", time.Time{}, err
	}
	submit = nil
	if own {
		submit = func() error {
			_, err := e.submit(t, "fund", p.Ledger.Kind(), e.retry, func(ctx context.Context) (string, error) {
				return conn.Fund(ctx, p, loc)
			})
			return err
		}
	}
	tx, err = e.watch(t, q, submit, nil)
	if err != nil {
		return htlc.Location{}, "", time.Time{}, err
	}
	return loc, tx.TxID(), e.now(), nil
}

// redeem submits the redeem of the HTLC at loc and waits for it.
func (e *Engine) redeem(t *trade, b query.Builder, loc htlc.Location, secret htlc.Secret) (string, error) {
	p := b.Params()
	conn, err := e.connector(p.Ledger.Kind())
	if err != nil {
		return "", err
	}
	q, err := b.Redeemed(loc)
	if err != nil {
		return "", err
	}
	tx, err := e.watch(t, q, func() error {
		_, err := e.submit(t, "redeem", p.Ledger.Kind(), e.retry, func(ctx context.Context) (string, error) {
			return conn.Redeem(ctx, p, loc, secret)
		})
		return err
	}, nil)
	if err != nil {
		return "", err
	}
	return tx.TxID(), nil
}

// awaitSecret waits for a redeem of the HTLC at loc that reveals the
// preimage of the trade's secret hash. Matches of the redeem query that
// don't are skipped.
func (e *Engine) awaitSecret(t *trade, b query.Builder, loc htlc.Location) (htlc.Secret, error) {
	q, err := b.Redeemed(loc)
	if err != nil {
		return htlc.Secret{}, err
	}
	id, err := e.queries.Register(q)
	if err != nil {
		return htlc.Secret{}, err
	}
	defer e.forget(id)

	for seen := 0; ; seen++ {
		tx, err := e.queries.Next(t.ctx, id, seen)
		if err != nil {
			return htlc.Secret{}, err
		}
		secret, ok := revealedSecret(loc, tx)
		if ok && t.req.SecretHash.Matches(secret) {
			e.Info().Str("trade", string(t.id)).Str("tx", tx.TxID()).Msg("secret revealed")
			return secret, nil
		}
		e.Warn().Str("trade", string(t.id)).Str("tx", tx.TxID()).Msg("redeem candidate without the secret")
	}
}

func (e *Engine) scheduleRefund(t *trade, b query.Builder, loc htlc.Location, at time.Time) {
	e.Debug().Str("trade", string(t.id)).Time("at", at).Msgf("refund of %s scheduled", loc)
	e.scheduler.Schedule(t.id, at, func() { e.refund(t, b, loc) })
}

// refund takes the asset back once the HTLC at loc expired. Submission is
// retried until it succeeds or the trade ends.
func (e *Engine) refund(t *trade, b query.Builder, loc htlc.Location) {
	if t.ctx.Err() != nil {
		return
	}
	p := b.Params()
	conn, err := e.connector(p.Ledger.Kind())
	if err != nil {
		e.stall(t, err)
		return
	}
	q, err := b.Refunded(loc)
	if err != nil {
		e.stall(t, err)
		return
	}
	e.Info().Str("trade", string(t.id)).Msgf("refunding %s", loc)
	tx, err := e.watch(t, q, func() error {
		_, err := e.submit(t, "refund", p.Ledger.Kind(), e.retry.Forever(), func(ctx context.Context) (string, error) {
			return conn.Refund(ctx, p, loc)
		})
		return err
	}, nil)
	if err != nil {
		e.stall(t, err)
		return
	}
	if err := e.append(t, eventchain.RefundedEvent{Location: loc, TxID: tx.TxID()}); err != nil {
		e.stall(t, err)
	}
}

// locate reads where the HTLC of p lives from the transaction deploying it.
func locate(p htlc.Params, tx query.Transaction) (htlc.Location, error) {
	switch tx := tx.(type) {
	case *query.BitcoinTransaction:
		addr, err := p.BitcoinAddress()
		if err != nil {
			return htlc.Location{}, err
		}
		index, ok := tx.OutputTo(addr.EncodeAddress())
		if !ok {
			return htlc.Location{}, fmt.Errorf("%w: %s pays nothing to %s", ErrUnexpectedMatch, tx.TxID(), addr)
		}
		return htlc.OutpointLocation(tx.Tx.TxHash(), index), nil
	case *query.EthereumTransaction:
		addr, ok := tx.ContractAddress()
		if !ok {
			return htlc.Location{}, fmt.Errorf("%w: %s creates no contract", ErrUnexpectedMatch, tx.TxID())
		}
		return htlc.ContractLocation(addr), nil
	default:
		return htlc.Location{}, fmt.Errorf("%w: %T", ErrUnexpectedMatch, tx)
	}
}

// checkLocked verifies the deployment at loc holds at least the agreed
// amount. ERC20 HTLCs hold nothing on deployment, their funding query
// matches the transfer of the exact amount.
func checkLocked(p htlc.Params, loc htlc.Location, tx query.Transaction) error {
	switch asset := p.Asset.(type) {
	case ledger.BitcoinQuantity:
		btc, ok := tx.(*query.BitcoinTransaction)
		if !ok {
			return fmt.Errorf("%w: %T", ErrUnexpectedMatch, tx)
		}
		value, ok := btc.OutputValue(loc.Outpoint.Index)
		if !ok || value < 0 || uint64(value) < asset.Satoshi() {
			return fmt.Errorf("%w: %s pays %d of %d satoshi", ErrUnderfunded, tx.TxID(), value, asset.Satoshi())
		}
	case ledger.EtherQuantity:
		eth, ok := tx.(*query.EthereumTransaction)
		if !ok {
			return fmt.Errorf("%w: %T", ErrUnexpectedMatch, tx)
		}
		if eth.Value == nil || eth.Value.Cmp(asset.Wei) < 0 {
			return fmt.Errorf("%w: %s sends %v of %s wei", ErrUnderfunded, tx.TxID(), eth.Value, asset.Wei)
		}
	}
	return nil
}

func revealedSecret(loc htlc.Location, tx query.Transaction) (htlc.Secret, bool) {
	switch tx := tx.(type) {
	case *query.BitcoinTransaction:
		return tx.RevealedSecret(loc.Outpoint)
	case *query.EthereumTransaction:
		return tx.RevealedSecret()
	default:
		return htlc.Secret{}, false
	}
}
