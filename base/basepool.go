package base

import (
	"bytes"
	"sort"
	"sync"

	"github.com/oakhollow/txpool/common"
	"github.com/oakhollow/txpool/errs"
)

// PoolLimit bounds a partition by transaction count and total encoded size.
type PoolLimit struct {
	Count      uint64
	TotalBytes uint64
}

// Status is a snapshot of partition occupancy.
type Status struct {
	Ready, ReadyBytes, Future, FutureBytes uint64
}

// BasePool is the dependency graph described in spec §4.B: a ready
// partition (topologically ordered, every requirement satisfied) and a
// future partition (held until promotion), a hash index spanning both, and
// a tag index used to detect satisfaction, usurpation and cycles.
//
// All public methods are safe for concurrent use; a single RWMutex guards
// both partitions and every index, matching the "single reader-writer
// lock" discipline spec §5 requires of the base pool.
type BasePool struct {
	mu sync.RWMutex

	rejectFuture bool

	ready  map[Hash]*Transaction
	future map[Hash]*Transaction
	byHash map[Hash]*Transaction

	readyCount, readyBytes   uint64
	futureCount, futureBytes uint64

	// providedBy maps a tag to the single ready transaction currently
	// providing it.
	providedBy map[TagKey]Hash
	// requiredBy maps a tag to every ready transaction that currently
	// requires it, used to find cascade/cycle candidates when a provider
	// disappears or a new one is about to be inserted.
	requiredBy map[TagKey][]Hash
	// waitingOn maps a tag to every future transaction that was blocked on
	// it when it entered the future partition. It is kept in step with the
	// future partition but is not consulted by the promotion scan, which
	// checks every future transaction with satisfiedLocked.
	waitingOn map[TagKey][]Hash
	// consumed marks tags satisfied by an on-chain effect communicated
	// through PruneTags. Entries are never removed.
	consumed map[TagKey]struct{}
}

// NewBasePool returns an empty base pool.
func NewBasePool() *BasePool {
	return &BasePool{
		ready:      make(map[Hash]*Transaction),
		future:     make(map[Hash]*Transaction),
		byHash:     make(map[Hash]*Transaction),
		providedBy: make(map[TagKey]Hash),
		requiredBy: make(map[TagKey][]Hash),
		waitingOn:  make(map[TagKey][]Hash),
		consumed:   make(map[TagKey]struct{}),
	}
}

// importAccumulator collects the side effects of a single Import call,
// including effects caused transitively by the promotion fixpoint loop.
type importAccumulator struct {
	promoted []Hash
	failed   []Hash
	removed  []*Transaction
}

// Import inserts tx into the pool, see spec §4.B for the full algorithm.
func (p *BasePool) Import(tx *Transaction) (*Imported, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.byHash[tx.Hash]; ok {
		return nil, errs.ErrAlreadyImported
	}

	if !p.satisfiedLocked(tx) {
		if p.rejectFuture {
			return nil, errs.ErrRejectedFutureTransaction
		}
		p.insertFuture(tx)
		return &Imported{Kind: ImportedFuture, Hash: tx.Hash}, nil
	}

	acc := &importAccumulator{}
	if err := p.usurpAndInsert(tx, acc); err != nil {
		return nil, err
	}
	p.promoteAndMergeInto(acc)

	return &Imported{
		Kind:     ImportedReady,
		Hash:     tx.Hash,
		Promoted: acc.promoted,
		Failed:   acc.failed,
		Removed:  acc.removed,
	}, nil
}

// satisfiedLocked reports whether every tag tx requires is either
// chain-consumed or currently provided by a ready transaction.
func (p *BasePool) satisfiedLocked(tx *Transaction) bool {
	for _, r := range tx.Requires {
		k := keyOf(r)
		if _, ok := p.consumed[k]; ok {
			continue
		}
		if _, ok := p.providedBy[k]; ok {
			continue
		}
		return false
	}
	return true
}

func (p *BasePool) insertFuture(tx *Transaction) {
	p.future[tx.Hash] = tx
	p.byHash[tx.Hash] = tx
	p.futureCount++
	p.futureBytes += tx.Bytes
	for _, r := range tx.Requires {
		k := keyOf(r)
		if _, ok := p.consumed[k]; ok {
			continue
		}
		if _, ok := p.providedBy[k]; ok {
			continue
		}
		p.waitingOn[k] = appendUniqueHash(p.waitingOn[k], tx.Hash)
	}
}

func (p *BasePool) removeFuture(h Hash) *Transaction {
	tx, ok := p.future[h]
	if !ok {
		return nil
	}
	delete(p.future, h)
	delete(p.byHash, h)
	p.futureCount--
	p.futureBytes -= tx.Bytes
	for _, r := range tx.Requires {
		k := keyOf(r)
		if _, ok := p.waitingOn[k]; !ok {
			continue
		}
		p.waitingOn[k] = removeHash(p.waitingOn[k], h)
		if len(p.waitingOn[k]) == 0 {
			delete(p.waitingOn, k)
		}
	}
	return tx
}

func (p *BasePool) insertReady(tx *Transaction) {
	p.ready[tx.Hash] = tx
	p.byHash[tx.Hash] = tx
	p.readyCount++
	p.readyBytes += tx.Bytes
	for _, pr := range tx.Provides {
		p.providedBy[keyOf(pr)] = tx.Hash
	}
	for _, r := range tx.Requires {
		k := keyOf(r)
		p.requiredBy[k] = appendUniqueHash(p.requiredBy[k], tx.Hash)
	}
}

func (p *BasePool) removeReady(h Hash) *Transaction {
	tx, ok := p.ready[h]
	if !ok {
		return nil
	}
	delete(p.ready, h)
	delete(p.byHash, h)
	p.readyCount--
	p.readyBytes -= tx.Bytes
	for _, pr := range tx.Provides {
		k := keyOf(pr)
		if p.providedBy[k] == h {
			delete(p.providedBy, k)
		}
	}
	for _, r := range tx.Requires {
		k := keyOf(r)
		p.requiredBy[k] = removeHash(p.requiredBy[k], h)
		if len(p.requiredBy[k]) == 0 {
			delete(p.requiredBy, k)
		}
	}
	return tx
}

// checkCycle reports whether inserting tx (not yet present) would close a
// tag-dependency cycle: tx requires a tag from provider P, and some
// transaction already dependent on one of tx's own provided tags is
// reachable from P by following "provider feeds its dependents" edges.
func (p *BasePool) checkCycle(tx *Transaction) error {
	frontier := map[Hash]struct{}{}
	for _, pr := range tx.Provides {
		for _, d := range p.requiredBy[keyOf(pr)] {
			if d != tx.Hash {
				frontier[d] = struct{}{}
			}
		}
	}
	if len(frontier) == 0 {
		return nil
	}
	providers := map[Hash]struct{}{}
	for _, r := range tx.Requires {
		if h, ok := p.providedBy[keyOf(r)]; ok {
			providers[h] = struct{}{}
		}
	}
	if len(providers) == 0 {
		return nil
	}

	visited := map[Hash]struct{}{}
	queue := make([]Hash, 0, len(frontier))
	for h := range frontier {
		queue = append(queue, h)
	}
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		if _, ok := visited[h]; ok {
			continue
		}
		visited[h] = struct{}{}
		if _, isProvider := providers[h]; isProvider {
			return errs.ErrCycleDetected
		}
		node, ok := p.ready[h]
		if !ok {
			continue
		}
		for _, pr := range node.Provides {
			k := keyOf(pr)
			if p.providedBy[k] != h {
				continue
			}
			for _, d := range p.requiredBy[k] {
				if _, seen := visited[d]; !seen {
					queue = append(queue, d)
				}
			}
		}
	}
	return nil
}

// usurpAndInsert runs the usurpation/priority check (spec §4.B steps 4-6)
// and inserts tx into the ready partition, recording any usurped roots and
// cascade-demoted descendants into acc.
func (p *BasePool) usurpAndInsert(tx *Transaction, acc *importAccumulator) error {
	if err := p.checkCycle(tx); err != nil {
		return err
	}

	usurped := map[Hash]struct{}{}
	for _, pr := range tx.Provides {
		k := keyOf(pr)
		if h, ok := p.providedBy[k]; ok && h != tx.Hash {
			usurped[h] = struct{}{}
		}
	}

	if len(usurped) > 0 {
		var maxPriority uint64
		first := true
		for h := range usurped {
			other := p.ready[h]
			if first || other.Priority > maxPriority {
				maxPriority = other.Priority
				first = false
			}
		}
		if tx.Priority <= maxPriority {
			return &errs.TooLowPriorityError{Old: maxPriority, New: tx.Priority}
		}

		roots := make([]Hash, 0, len(usurped))
		for h := range usurped {
			roots = append(roots, h)
		}
		rootTxs, cascaded := p.usurpLocked(roots)
		acc.removed = append(acc.removed, rootTxs...)
		for _, c := range cascaded {
			acc.failed = append(acc.failed, c.Hash)
		}
	}

	p.insertReady(tx)
	return nil
}

// usurpLocked removes the given ready roots plus any ready descendant that
// loses its last requirement as a result, distinguishing roots (usurped
// outright) from cascaded descendants (demoted).
func (p *BasePool) usurpLocked(roots []Hash) (rootTxs []*Transaction, cascaded []*Transaction) {
	isRoot := make(map[Hash]struct{}, len(roots))
	for _, r := range roots {
		isRoot[r] = struct{}{}
	}
	seen := map[Hash]struct{}{}
	queue := append([]Hash{}, roots...)

	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		tx, ok := p.ready[h]
		if !ok {
			continue
		}

		dependents := map[Hash]struct{}{}
		for _, pr := range tx.Provides {
			k := keyOf(pr)
			if p.providedBy[k] != h {
				continue
			}
			for _, d := range p.requiredBy[k] {
				if d != h {
					dependents[d] = struct{}{}
				}
			}
		}

		p.removeReady(h)
		if _, root := isRoot[h]; root {
			rootTxs = append(rootTxs, tx)
		} else {
			cascaded = append(cascaded, tx)
		}

		for d := range dependents {
			if dt, ok := p.ready[d]; ok && !p.satisfiedLocked(dt) {
				queue = append(queue, d)
			}
		}
	}
	return rootTxs, cascaded
}

// removeSubtreeLocked removes the named hashes (future entries outright,
// ready entries with cascade) and returns every record removed.
func (p *BasePool) removeSubtreeLocked(hashes []Hash) []*Transaction {
	seen := map[Hash]struct{}{}
	queue := append([]Hash{}, hashes...)
	var removed []*Transaction

	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}

		if tx := p.removeFuture(h); tx != nil {
			removed = append(removed, tx)
			continue
		}

		tx, ok := p.ready[h]
		if !ok {
			continue
		}
		dependents := map[Hash]struct{}{}
		for _, pr := range tx.Provides {
			k := keyOf(pr)
			if p.providedBy[k] != h {
				continue
			}
			for _, d := range p.requiredBy[k] {
				if d != h {
					dependents[d] = struct{}{}
				}
			}
		}
		p.removeReady(h)
		removed = append(removed, tx)
		for d := range dependents {
			if dt, ok := p.ready[d]; ok && !p.satisfiedLocked(dt) {
				queue = append(queue, d)
			}
		}
	}
	return removed
}

// pickPromotable returns the highest-priority future transaction whose
// requirements are currently satisfied, or nil.
func (p *BasePool) pickPromotable() *Transaction {
	var best *Transaction
	for _, tx := range p.future {
		if !p.satisfiedLocked(tx) {
			continue
		}
		if best == nil || better(tx, best) {
			best = tx
		}
	}
	return best
}

// promoteFutureLocked runs the fixpoint promotion scan (spec §4.B step 7):
// repeatedly promote the best eligible future candidate until none remain.
// imports holds one Imported per successful promotion (each carrying its
// own usurpation cascade); dropped holds hashes of candidates that became
// eligible but lost the resulting priority race (or closed a cycle) and so
// could not be reinserted anywhere.
func (p *BasePool) promoteFutureLocked() (imports []Imported, dropped []Hash) {
	for {
		tx := p.pickPromotable()
		if tx == nil {
			return imports, dropped
		}
		p.removeFuture(tx.Hash)

		acc := &importAccumulator{}
		if err := p.usurpAndInsert(tx, acc); err != nil {
			dropped = append(dropped, tx.Hash)
			continue
		}
		imports = append(imports, Imported{
			Kind:    ImportedReady,
			Hash:    tx.Hash,
			Failed:  acc.failed,
			Removed: acc.removed,
		})
	}
}

// promoteAndMergeInto runs the promotion fixpoint and folds its effects
// into an in-flight Import's accumulator, flat (hash-only) as Imported.Promoted
// requires.
func (p *BasePool) promoteAndMergeInto(acc *importAccumulator) {
	imports, dropped := p.promoteFutureLocked()
	for _, im := range imports {
		acc.promoted = append(acc.promoted, im.Hash)
		acc.failed = append(acc.failed, im.Failed...)
		acc.removed = append(acc.removed, im.Removed...)
	}
	acc.failed = append(acc.failed, dropped...)
}

// PruneTags marks tags as satisfied by an on-chain effect, removes any
// ready record that provides one of them (plus cascading descendants),
// and runs the promotion fixpoint. See spec §4.B.
func (p *BasePool) PruneTags(tags []common.Tag) *PruneStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	status := &PruneStatus{}
	toRemove := map[Hash]struct{}{}
	for _, t := range tags {
		k := keyOf(t)
		p.consumed[k] = struct{}{}
		if h, ok := p.providedBy[k]; ok {
			toRemove[h] = struct{}{}
		}
	}
	if len(toRemove) > 0 {
		roots := make([]Hash, 0, len(toRemove))
		for h := range toRemove {
			roots = append(roots, h)
		}
		status.Pruned = p.removeSubtreeLocked(roots)
	}

	imports, dropped := p.promoteFutureLocked()
	status.Promoted = imports
	status.Failed = dropped
	return status
}

// RemoveSubtree removes the named records and any ready descendant that
// would lose its last requirement as a result.
func (p *BasePool) RemoveSubtree(hashes []common.Hash) []*Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.removeSubtreeLocked(hashes)
}

// EnforceLimits evicts lowest-priority (oldest-on-tie) records from each
// partition until both its count and byte caps are respected.
func (p *BasePool) EnforceLimits(readyLimit, futureLimit PoolLimit) []*Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()

	var evicted []*Transaction
	for p.readyCount > readyLimit.Count || p.readyBytes > readyLimit.TotalBytes {
		victim := p.worstReady()
		if victim == nil {
			break
		}
		evicted = append(evicted, p.removeSubtreeLocked([]Hash{victim.Hash})...)
	}
	for p.futureCount > futureLimit.Count || p.futureBytes > futureLimit.TotalBytes {
		victim := p.worstFuture()
		if victim == nil {
			break
		}
		evicted = append(evicted, p.removeSubtreeLocked([]Hash{victim.Hash})...)
	}
	return evicted
}

func (p *BasePool) worstReady() *Transaction {
	var worst *Transaction
	for _, tx := range p.ready {
		if worst == nil || worse(tx, worst) {
			worst = tx
		}
	}
	return worst
}

func (p *BasePool) worstFuture() *Transaction {
	var worst *Transaction
	for _, tx := range p.future {
		if worst == nil || worse(tx, worst) {
			worst = tx
		}
	}
	return worst
}

// Ready returns the ready partition in strict topological, priority-first
// order. Calling it twice without an intervening mutation yields an
// identical sequence.
func (p *BasePool) Ready() []*Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.computeReadyOrderLocked()
}

// Futures returns the future partition, ordered by hash for determinism.
func (p *BasePool) Futures() []*Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Transaction, 0, len(p.future))
	for _, tx := range p.future {
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Hash[:], out[j].Hash[:]) < 0 })
	return out
}

// StatusSnapshot reports partition occupancy.
func (p *BasePool) StatusSnapshot() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Status{Ready: p.readyCount, ReadyBytes: p.readyBytes, Future: p.futureCount, FutureBytes: p.futureBytes}
}

// ReadyByHash returns the ready record for h, or nil.
func (p *BasePool) ReadyByHash(h common.Hash) *Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ready[h]
}

// ByHashes resolves a batch of hashes against the combined index, nil for
// any hash not currently present.
func (p *BasePool) ByHashes(hashes []common.Hash) []*Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Transaction, len(hashes))
	for i, h := range hashes {
		out[i] = p.byHash[h]
	}
	return out
}

// IsImported reports whether h is present in either partition.
func (p *BasePool) IsImported(h common.Hash) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.byHash[h]
	return ok
}

// ClearFuture empties the future partition unconditionally and returns
// what was removed.
func (p *BasePool) ClearFuture() []*Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Transaction, 0, len(p.future))
	for h, tx := range p.future {
		out = append(out, tx)
		delete(p.byHash, h)
	}
	p.future = make(map[Hash]*Transaction)
	p.waitingOn = make(map[TagKey][]Hash)
	p.futureCount, p.futureBytes = 0, 0
	return out
}

// SetRejectFutureTransactions toggles whether Import refuses transactions
// that would otherwise land in the future partition.
func (p *BasePool) SetRejectFutureTransactions(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rejectFuture = v
}

// WithFuturesEnabled temporarily allows future transactions for the
// duration of fn, then restores the previous setting. Used by resubmit,
// where dependency order among re-imports is unknown and a dependent may
// be re-imported before its provider.
func (p *BasePool) WithFuturesEnabled(fn func()) {
	p.mu.Lock()
	prev := p.rejectFuture
	p.rejectFuture = false
	p.mu.Unlock()

	fn()

	p.mu.Lock()
	p.rejectFuture = prev
	p.mu.Unlock()
}
