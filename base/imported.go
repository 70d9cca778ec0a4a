package base

import "github.com/oakhollow/txpool/common"

// ImportedKind distinguishes the two outcomes Import can produce.
type ImportedKind uint8

const (
	// ImportedReady means the transaction (and possibly others promoted
	// alongside it) landed in the ready partition.
	ImportedReady ImportedKind = iota
	// ImportedFuture means the transaction landed in the future
	// partition, at least one requirement still being unsatisfied.
	ImportedFuture
)

// Imported is the result of a successful Import call.
//
// For Kind == ImportedReady: Promoted lists future transactions that
// became ready as a side effect (a fixpoint promotion scan), Failed lists
// ready descendants that were cascade-demoted and not reinserted (their
// former provider got usurped) together with promotion candidates that
// lost their priority race or closed a cycle and were dropped, and Removed
// lists the ready records that were usurped outright, whether by the
// imported transaction or by one of the promoted ones.
//
// For Kind == ImportedFuture, only Hash is meaningful.
type Imported struct {
	Kind     ImportedKind
	Hash     common.Hash
	Promoted []common.Hash
	Failed   []common.Hash
	Removed  []*Transaction
}

// PruneStatus is the result of PruneTags.
type PruneStatus struct {
	// Promoted holds one Imported per future transaction that the prune
	// unlocked into the ready partition (each carrying its own cascade
	// of usurpations/demotions, if any).
	Promoted []Imported
	// Failed lists hashes of promotion candidates that became eligible but
	// lost the resulting priority race (or closed a cycle) and so were
	// dropped outright, i.e. promoteFutureLocked's own dropped return
	// value. It is disjoint from every Promoted[i].Failed: a promotion's
	// own cascade-demoted descendants are reported there, and fire_events
	// already dispatches invalid(f) for each when the caller walks
	// Promoted, so they must not also appear here or a cascade-demoted
	// hash would receive two terminal events.
	Failed []common.Hash
	// Pruned lists the ready records removed because the tags they
	// provided were consumed on-chain, plus any ready descendants that
	// lost their last requirement as a result.
	Pruned []*Transaction
}
