package chain

import "errors"

// OutcomeKind tags the result of confirmation polling. A timeout is
// indeterminate: the transaction may still mine later, so callers must not
// treat it as a definite failure.
type OutcomeKind int

const (
	OutcomeMined OutcomeKind = iota
	OutcomeReverted
	OutcomeTimeout
)

// Outcome is the tagged result of Confirm. Receipt is set for Mined and
// Reverted; Status carries the receipt status code for Reverted.
type Outcome struct {
	Kind    OutcomeKind
	Receipt *Receipt
	Status  uint64
}

// Mined reports whether the transaction executed successfully.
func (o Outcome) Mined() bool { return o.Kind == OutcomeMined }

// Submission-layer errors.
var (
	// ErrTxSubmit marks a broadcast-level failure; the transaction never
	// reached the network.
	ErrTxSubmit = errors.New("chain: transaction submission failed")

	// ErrConfirmTimeout marks an exhausted confirmation poll. The outcome
	// is indeterminate, not failed.
	ErrConfirmTimeout = errors.New("chain: confirmation timed out")

	// ErrReverted marks a mined transaction with a non-success status.
	ErrReverted = errors.New("chain: transaction reverted")
)
