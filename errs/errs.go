// Package errs is the shared error vocabulary for the transaction pool,
// imported by the base pool, rotator, watcher and validated pool so that a
// caller can classify a failure without importing every layer. It plays the
// role sc_transaction_pool_api::error plays in the Substrate transaction
// pool this design is distilled from: one crate (here, one package) owning
// every error kind the pool can surface.
package errs

import (
	"errors"
	"fmt"

	"github.com/oakhollow/txpool/common"
)

// Sentinel errors surfaced by the base pool and validated pool. Each is
// reported per-submission; none abort a batch (spec §7).
var (
	// ErrAlreadyImported is returned when a hash already present in the
	// pool (ready or future) is submitted again.
	ErrAlreadyImported = errors.New("already imported")

	// ErrTemporarilyBanned is returned by a pre-import check when the
	// rotator currently bans the hash.
	ErrTemporarilyBanned = errors.New("temporarily banned")

	// ErrImmediatelyDropped is returned when a transaction is accepted
	// then evicted within the same submit batch by limit enforcement.
	ErrImmediatelyDropped = errors.New("immediately dropped")

	// ErrUnactionable is returned when a non-propagating transaction is
	// submitted to a node that is not currently an authoring validator.
	ErrUnactionable = errors.New("unactionable")

	// ErrCycleDetected is returned by the base pool when accepting a
	// transaction would close a tag-dependency cycle.
	ErrCycleDetected = errors.New("cycle detected")

	// ErrUnknown wraps the opaque error carried by an Unknown verdict.
	ErrUnknown = errors.New("unknown transaction validity")

	// ErrRejectedFutureTransaction is returned by the base pool's Import
	// when a transaction would land in the future partition while future
	// acceptance is disabled (see Options.RejectFutureTransactions).
	ErrRejectedFutureTransaction = errors.New("rejected future transaction")

	// ErrCascadeDemoted labels the watcher reason carried on the invalid(h)
	// events the validated pool fires: for a ready descendant that lost a
	// requirement when its provider was usurped, for every record removed
	// by RemoveInvalid (including stale ones removed by ClearStale), and
	// for a resubmitted record that failed re-import.
	ErrCascadeDemoted = errors.New("requirement no longer satisfied")
)

// TooLowPriorityError is returned when an import would usurp a ready
// provider of higher priority.
type TooLowPriorityError struct {
	Old, New uint64
}

func (e *TooLowPriorityError) Error() string {
	return fmt.Sprintf("too low priority: old %d >= new %d", e.Old, e.New)
}

// InvalidTransactionError wraps a verdict's Invalid reason, and is also the
// signal resubmit_pruned uses to confirm that a submitted extrinsic was
// genuinely consumed on-chain rather than merely unknown.
type InvalidTransactionError struct {
	Hash   common.Hash
	Reason error
}

func (e *InvalidTransactionError) Error() string {
	return fmt.Sprintf("invalid transaction %s: %v", e.Hash, e.Reason)
}

func (e *InvalidTransactionError) Unwrap() error { return e.Reason }

// AsInvalidTransaction reports whether err classifies as an
// InvalidTransaction verdict failure, returning the wrapped reason. This is
// the Go-idiomatic stand-in for the ChainAPI's IntoPoolError conversion
// described in spec §6: rather than a virtual method on every adapter, the
// pool recognizes its own wrapped sentinel via errors.As.
func AsInvalidTransaction(err error) (reason error, ok bool) {
	var it *InvalidTransactionError
	if errors.As(err, &it) {
		return it.Reason, true
	}
	return nil, false
}
