// Package base implements the validated pool's dependency graph: the
// ready/future partitions, the hash and tag indices, and the operations
// that keep them consistent (import, prune, subtree removal, limit
// enforcement). It is the Go counterpart of graph::base_pool in the
// Substrate transaction pool this design is distilled from.
package base

import "github.com/oakhollow/txpool/common"

// Transaction is an immutable record of a validated transaction staged in
// the pool. Re-validation produces a new record with the same hash; the
// pool never mutates one in place.
type Transaction struct {
	Hash      common.Hash
	Data      []byte
	Bytes     uint64
	Source    common.Source
	Priority  uint64
	Requires  []common.Tag
	Provides  []common.Tag
	Propagate bool
	ValidTill uint64
}
