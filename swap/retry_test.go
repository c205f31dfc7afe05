package swap

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/htlcswap/ledger"
	"golang.org/x/xerrors"
)

func TestRetryPolicy_SucceedsAfterFailures(t *testing.T) {
	p := RetryPolicy{Attempts: 3, Backoff: time.Millisecond}

	calls := 0
	var retried []int
	txid, err := p.do(context.Background(), "deploy", ledger.KindBitcoin, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errRejectedByNode
		}
		return "tx", nil
	}, func(attempt int, err error) {
		require.ErrorIs(t, err, errRejectedByNode)
		retried = append(retried, attempt)
	})

	require.NoError(t, err)
	require.Equal(t, "tx", txid)
	require.Equal(t, []int{1, 2}, retried)
}

func TestRetryPolicy_GivesUp(t *testing.T) {
	p := RetryPolicy{Attempts: 2, Backoff: time.Millisecond}

	_, err := p.do(context.Background(), "redeem", ledger.KindEthereum, func(context.Context) (string, error) {
		return "", errRejectedByNode
	}, nil)

	require.ErrorIs(t, err, ErrLedgerSubmission)
	require.ErrorIs(t, err, errRejectedByNode)

	var subErr *SubmissionError
	require.True(t, xerrors.As(err, &subErr))
	require.Equal(t, "redeem", subErr.Op)
	require.Equal(t, ledger.KindEthereum, subErr.Ledger)
	require.Equal(t, 2, subErr.Attempts)
	require.Contains(t, err.Error(), "redeem on Ethereum failed after 2 attempts")

	// the detailed form carries the caller frame
	require.Contains(t, fmt.Sprintf("%+v", err), "retry.go")
}

func TestRetryPolicy_ForeverStopsWithContext(t *testing.T) {
	p := RetryPolicy{Attempts: 1, Backoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}.Forever()
	require.Equal(t, 0, p.Attempts)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	calls := 0
	_, err := p.do(ctx, "refund", ledger.KindBitcoin, func(context.Context) (string, error) {
		calls++
		return "", errRejectedByNode
	}, nil)

	require.True(t, errors.Is(err, context.DeadlineExceeded))
	require.Greater(t, calls, 2)
}

func TestRetryPolicy_ZeroBackoffStillWaits(t *testing.T) {
	p := RetryPolicy{Attempts: 3}

	start := time.Now()
	_, err := p.do(context.Background(), "refund", ledger.KindBitcoin, func(context.Context) (string, error) {
		return "", errRejectedByNode
	}, nil)

	require.ErrorIs(t, err, ErrLedgerSubmission)
	// MinBackoff then twice that
	require.GreaterOrEqual(t, time.Since(start), 3*MinBackoff)
}
