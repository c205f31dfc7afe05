package swap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.dedis.ch/htlcswap/ledger"
	"golang.org/x/xerrors"
)

var (
	ErrLedgerSubmission = errors.New("ledger submission failed")
	ErrStalled          = errors.New("trade stalled")
)

// SubmissionError is returned when a transaction could not be submitted
// within the retry policy.
type SubmissionError struct {
	Op       string
	Ledger   ledger.Kind
	Attempts int
	Err      error

	frame xerrors.Frame
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("%s on %s failed after %d attempts: %v", e.Op, e.Ledger, e.Attempts, e.Err)
}

func (e *SubmissionError) Is(target error) bool {
	return target == ErrLedgerSubmission
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

func (e *SubmissionError) Format(s fmt.State, v rune) {
	xerrors.FormatError(e, s, v)
}

func (e *SubmissionError) FormatError(p xerrors.Printer) error {
	p.Print(e.Error())
	e.frame.Format(p)
	return nil
}

// RetryPolicy bounds the submission of a transaction. Backoff doubles after
// each failure up to MaxBackoff.
type RetryPolicy struct {
	// Attempts <= 0 retries until the context is done.
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// MinBackoff is the shortest wait between two attempts.
const MinBackoff = 10 * time.Millisecond

// DefaultRetryPolicy is used for zero policies.
var DefaultRetryPolicy = RetryPolicy{Attempts: 5, Backoff: time.Second, MaxBackoff: 30 * time.Second}

// Forever is p without an attempt limit.
func (p RetryPolicy) Forever() RetryPolicy {
	p.Attempts = 0
	return p
}

type submitFunc func(ctx context.Context) (string, error)

// do calls fn until it returns a transaction id. onRetry is told about each
// failed attempt that will be retried.
func (p RetryPolicy) do(ctx context.Context, op string, kind ledger.Kind, fn submitFunc, onRetry func(attempt int, err error)) (string, error) {
	backoff := p.Backoff
	if backoff < MinBackoff {
		backoff = MinBackoff
	}
	var err error
	for attempt := 1; ; attempt++ {
		var txid string
		txid, err = fn(ctx)
		if err == nil {
			return txid, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if p.Attempts > 0 && attempt >= p.Attempts {
			return "", &SubmissionError{Op: op, Ledger: kind, Attempts: attempt, Err: err, frame: xerrors.Caller(1)}
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
			backoff = max(p.MaxBackoff, MinBackoff)
		}
	}
}
