package txpool

import "github.com/oakhollow/txpool/common"

// ChainAPI is the contract the validated pool expects from the chain
// collaborator (spec §6): hashing/length for unvalidated extrinsics, used
// by SubmitAndWatch (via watchHash) to recompute a ValidVerdict's hash
// before import, so the watcher it creates never misses the first event
// fired for that hash. A pool constructed with a nil ChainAPI falls back
// to the hash the verdict already carries.
type ChainAPI interface {
	HashAndLength(extrinsic []byte) (common.Hash, int)
}

// ValidatorFunc answers "is this node currently allowed to author blocks?"
// It gates non-propagating submissions (spec §9's "dynamic is-validator
// callable"). The pool only calls it when handling a ValidVerdict whose
// record has Propagate == false.
type ValidatorFunc func() bool

// BlockRef identifies a block by hash and height, the unit clear_stale,
// resubmit_pruned and the finalized/retracted notifications operate on.
type BlockRef struct {
	Hash   common.Hash
	Number uint64
}
