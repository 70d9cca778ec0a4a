package txpool

import (
	"github.com/oakhollow/txpool/base"
	"github.com/oakhollow/txpool/common"
)

// Verdict is the only shape the validated pool accepts for submission:
// the chain API's judgment on one candidate transaction. There are
// exactly three concrete implementations, matching spec §4.V.
type Verdict interface {
	verdict()
}

// ValidVerdict carries a fully-formed record ready for the base pool.
type ValidVerdict struct {
	Record *base.Transaction
}

// InvalidVerdict reports that the chain API rejected the extrinsic
// outright.
type InvalidVerdict struct {
	Hash common.Hash
	Err  error
}

// UnknownVerdict reports that validity could not be determined.
type UnknownVerdict struct {
	Hash common.Hash
	Err  error
}

func (ValidVerdict) verdict()   {}
func (InvalidVerdict) verdict() {}
func (UnknownVerdict) verdict() {}

// Outcome is returned for a successfully submitted transaction.
type Outcome struct {
	Hash     common.Hash
	Priority uint64
}

// SubmitResult pairs one input verdict's outcome with its error, in the
// same order the batch was submitted.
type SubmitResult struct {
	Outcome Outcome
	Err     error
}
