// Package rotator implements the pool's temporary ban list: the mechanism
// that keeps a transaction which is repeatedly resubmitted, or that
// overstayed its validity window, from being re-accepted immediately. It
// is the Go counterpart of graph::PoolRotator in the Substrate transaction
// pool this design is distilled from (spec §4.R).
package rotator

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/oakhollow/txpool/base"
	"github.com/oakhollow/txpool/common"
)

// defaultCapacity bounds the ban list the same way the teacher bounds its
// hash caches (txpool/pool_instance/lookup.go keeps an unbounded map, but
// the teacher's sibling light.BloomRequestsCache and friends all cap
// memory with an LRU); an unbounded ban list is a memory leak against an
// attacker who churns hashes.
const defaultCapacity = 4096

// Rotator bans hashes for a bounded window, so that resubmit_pruned and
// clear_stale don't immediately re-admit a transaction the pool just
// expelled. The underlying LRU bounds memory; ClearTimeouts additionally
// evicts anything whose ban has lapsed, so a ban never outlives its window
// even under light traffic that would otherwise leave it resident.
type Rotator struct {
	mu      sync.Mutex
	banned  *lru.Cache // common.Hash -> time.Time (ban expiry)
	expires time.Duration
}

// New returns a Rotator whose bans last for expires.
func New(expires time.Duration) *Rotator {
	cache, err := lru.New(defaultCapacity)
	if err != nil {
		// Only returned by lru.New for a non-positive size, which
		// defaultCapacity never is.
		panic(err)
	}
	return &Rotator{banned: cache, expires: expires}
}

// Ban marks every hash in hashes as banned from now until now+expires.
func (r *Rotator) Ban(now time.Time, hashes []common.Hash) {
	r.mu.Lock()
	defer r.mu.Unlock()
	until := now.Add(r.expires)
	for _, h := range hashes {
		r.banned.Add(h, until)
	}
}

// IsBanned reports whether h is currently within its ban window.
func (r *Rotator) IsBanned(h common.Hash) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.banned.Peek(h)
	if !ok {
		return false
	}
	return time.Now().Before(v.(time.Time))
}

// ClearTimeouts evicts every ban whose window has lapsed as of now,
// returning how many were cleared. The validated pool calls this on its
// background maintenance tick, mirroring the teacher's periodic
// promoteExecutables / demoteUnexecutables sweep (txpool/pool.go).
func (r *Rotator) ClearTimeouts(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cleared := 0
	for _, key := range r.banned.Keys() {
		v, ok := r.banned.Peek(key)
		if !ok {
			continue
		}
		if now.After(v.(time.Time)) || now.Equal(v.(time.Time)) {
			r.banned.Remove(key)
			cleared++
		}
	}
	return cleared
}

// StaleParams bounds how long a validated transaction may sit in the pool
// before it is treated as stale regardless of its declared validity.
type StaleParams struct {
	// HardDeadline is the maximum age, measured from Source.Arrival, a
	// transaction may reach before it is considered stale even if
	// ValidTill has not been reached.
	HardDeadline time.Duration
}

// IsStale reports whether tx should be treated as stale at (now,
// currentBlock): either its declared validity window has closed, or it
// has overstayed the hard deadline regardless of ValidTill. clear_stale
// (spec §4.V) bans every stale hash it evicts so it is not immediately
// resubmitted.
func IsStale(now time.Time, currentBlock uint64, tx *base.Transaction, params StaleParams) bool {
	if tx.ValidTill != 0 && tx.ValidTill < currentBlock {
		return true
	}
	if params.HardDeadline > 0 && now.Sub(tx.Source.Arrival) > params.HardDeadline {
		return true
	}
	return false
}

// BanIfStale reports whether tx is stale at (now, currentBlock) and, when
// it is, bans its hash in the same call so the caller never has to
// remember to do so separately.
func (r *Rotator) BanIfStale(now time.Time, currentBlock uint64, tx *base.Transaction, params StaleParams) bool {
	if !IsStale(now, currentBlock, tx, params) {
		return false
	}
	r.Ban(now, []common.Hash{tx.Hash})
	return true
}
