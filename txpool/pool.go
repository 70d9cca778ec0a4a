// Package txpool is the validated transaction pool's orchestration layer
// (spec §4.V): it accepts verdicts from the chain API, drives the base
// pool's import/prune/eviction algorithms, bans and stales hashes through
// the rotator, and fans lifecycle events out through the watcher
// dispatcher. It plays the role SipengXie-Execution/txpool/pool.go's
// LegacyPool plays for an Ethereum-style pool, generalized from a
// nonce/gas-price model to the tag-dependency model this pool implements.
package txpool

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"golang.org/x/time/rate"

	"github.com/oakhollow/txpool/base"
	"github.com/oakhollow/txpool/common"
	"github.com/oakhollow/txpool/errs"
	"github.com/oakhollow/txpool/rotator"
	"github.com/oakhollow/txpool/watcher"
)

// ValidatedPool is the pool's public entry point.
type ValidatedPool struct {
	options Options

	base       *base.BasePool
	rotator    *rotator.Rotator
	dispatcher *watcher.EventDispatcher
	sinks      *sinkRegistry

	chainAPI    ChainAPI
	isValidator ValidatorFunc
	staleParams rotator.StaleParams

	limitTimer  metrics.Timer
	readyGauge  metrics.Gauge
	futureGauge metrics.Gauge
	logLimiter  *rate.Limiter

	chainHeadFeed event.Feed
	scope         event.SubscriptionScope
}

// ChainHeadEvent is sent on every finalized or retracted block, mirroring
// the teacher's own chain-head notification shape (txpool/pool.go's
// unwired txFeed/scope pair, here put to work as the reorg/finality
// notification feed rather than left dormant).
type ChainHeadEvent struct {
	Block     common.Hash
	Retracted bool
}

// SubscribeChainHeadEvent registers ch on the pool's chain-head feed and
// returns a subscription tracked by the pool's scope, so Close tears down
// every outstanding subscription at once.
func (p *ValidatedPool) SubscribeChainHeadEvent(ch chan<- ChainHeadEvent) event.Subscription {
	return p.scope.Track(p.chainHeadFeed.Subscribe(ch))
}

// Close tears down every subscription registered through
// SubscribeChainHeadEvent.
func (p *ValidatedPool) Close() {
	p.scope.Close()
}

// New constructs a ValidatedPool. chainAPI may be nil, in which case
// SubmitAndWatch falls back to a verdict's already-known hash instead of
// computing one through the chain API (only useful in tests that never
// construct the pool against a real chain collaborator). isValidator may
// be nil, meaning the node never authors blocks (every non-propagating
// submission is Unactionable).
func New(options Options, chainAPI ChainAPI, isValidator ValidatorFunc, staleParams rotator.StaleParams) *ValidatedPool {
	options = options.sanitize()

	b := base.NewBasePool()
	b.SetRejectFutureTransactions(options.RejectFutureTransactions)

	return &ValidatedPool{
		options:     options,
		base:        b,
		rotator:     rotator.New(options.BanTime),
		dispatcher:  watcher.NewEventDispatcher(64),
		sinks:       newSinkRegistry(),
		chainAPI:    chainAPI,
		isValidator: isValidator,
		staleParams: staleParams,

		limitTimer:  metrics.NewRegisteredTimer("txpool/enforce_limits", nil),
		readyGauge:  metrics.NewRegisteredGauge("txpool/ready", nil),
		futureGauge: metrics.NewRegisteredGauge("txpool/future", nil),
		logLimiter:  rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// Submit runs submit_one over every verdict in the batch, then enforces
// pool limits once, rewriting any outcome that got evicted in the same
// pass into ImmediatelyDropped (spec §4.V submit).
func (p *ValidatedPool) Submit(verdicts []Verdict) []SubmitResult {
	results := make([]SubmitResult, len(verdicts))
	anyImported := false

	for i, v := range verdicts {
		outcome, err := p.submitOne(v)
		results[i] = SubmitResult{Outcome: outcome, Err: err}
		if err == nil {
			anyImported = true
		}
	}

	if anyImported {
		evicted := p.EnforceLimits()
		for i := range results {
			if results[i].Err != nil {
				continue
			}
			if _, ok := evicted[results[i].Outcome.Hash]; ok {
				results[i].Err = errs.ErrImmediatelyDropped
			}
		}
	}
	return results
}

func (p *ValidatedPool) submitOne(v Verdict) (Outcome, error) {
	switch vv := v.(type) {
	case ValidVerdict:
		tx := vv.Record
		if !tx.Propagate && (p.isValidator == nil || !p.isValidator()) {
			return Outcome{}, errs.ErrUnactionable
		}
		imported, err := p.base.Import(tx)
		if err != nil {
			return Outcome{}, err
		}
		p.fireEvents(imported)
		if imported.Kind == base.ImportedReady {
			p.sinks.notify(imported.Hash)
		}
		return Outcome{Hash: tx.Hash, Priority: tx.Priority}, nil

	case InvalidVerdict:
		p.rotator.Ban(time.Now(), []common.Hash{vv.Hash})
		return Outcome{}, &errs.InvalidTransactionError{Hash: vv.Hash, Reason: vv.Err}

	case UnknownVerdict:
		p.dispatcher.Invalid(vv.Hash, vv.Err)
		return Outcome{}, fmt.Errorf("%w: %v", errs.ErrUnknown, vv.Err)

	default:
		panic("txpool: unrecognized verdict type")
	}
}

// SubmitAndWatch computes the watched hash via the chain API and creates a
// watcher before import, so a watcher never misses the first event fired
// for its hash, then submits v as a one-element batch (spec §4.V
// submit_and_watch).
func (p *ValidatedPool) SubmitAndWatch(v Verdict) (*watcher.Watcher, Outcome, error) {
	w := p.dispatcher.CreateWatcher(p.watchHash(v))
	results := p.Submit([]Verdict{v})
	res := results[0]
	if res.Err != nil {
		w.Unsubscribe()
		return nil, Outcome{}, res.Err
	}
	return w, res.Outcome, nil
}

// watchHash resolves the hash SubmitAndWatch watches. A ValidVerdict's hash
// is recomputed from its raw extrinsic bytes through the chain API, as spec
// §4.V requires; any other verdict shape, or a pool without a configured
// ChainAPI, falls back to the hash the verdict already carries.
func (p *ValidatedPool) watchHash(v Verdict) common.Hash {
	if p.chainAPI != nil {
		if vv, ok := v.(ValidVerdict); ok {
			h, _ := p.chainAPI.HashAndLength(vv.Record.Data)
			return h
		}
	}
	return verdictHash(v)
}

func verdictHash(v Verdict) common.Hash {
	switch vv := v.(type) {
	case ValidVerdict:
		return vv.Record.Hash
	case InvalidVerdict:
		return vv.Hash
	case UnknownVerdict:
		return vv.Hash
	default:
		panic("txpool: unrecognized verdict type")
	}
}

// EnforceLimits checks both partitions against their configured caps,
// evicts the worst offenders via the base pool, bans and dispatches
// limits_enforced for each, and returns the eviction set.
func (p *ValidatedPool) EnforceLimits() map[common.Hash]struct{} {
	start := time.Now()
	status := p.base.StatusSnapshot()

	var evictedTxs []*base.Transaction
	overLimit := status.Ready > p.options.Ready.Count || status.ReadyBytes > p.options.Ready.TotalBytes ||
		status.Future > p.options.Future.Count || status.FutureBytes > p.options.Future.TotalBytes
	if overLimit {
		evictedTxs = p.base.EnforceLimits(p.options.Ready, p.options.Future)
	}
	p.limitTimer.UpdateSince(start)

	evicted := make(map[common.Hash]struct{}, len(evictedTxs))
	if len(evictedTxs) > 0 {
		hashes := make([]common.Hash, len(evictedTxs))
		for i, tx := range evictedTxs {
			hashes[i] = tx.Hash
			evicted[tx.Hash] = struct{}{}
		}
		p.rotator.Ban(time.Now(), hashes)
		for _, h := range hashes {
			p.dispatcher.LimitsEnforced(h)
		}
		if p.logLimiter.Allow() {
			log.Warn("txpool enforced limits", "evicted", len(hashes))
		}
	}

	final := p.base.StatusSnapshot()
	p.readyGauge.Update(int64(final.Ready))
	p.futureGauge.Update(int64(final.Future))
	return evicted
}

// PruneTags delegates to the base pool, then replays its result through
// fire_events and dropped(h) for every outright-dropped candidate (spec
// §4.V prune_tags). Unlike submit_one, prune_tags never touches the
// import-notification sinks.
func (p *ValidatedPool) PruneTags(tags []common.Tag) *base.PruneStatus {
	status := p.base.PruneTags(tags)
	for i := range status.Promoted {
		imported := status.Promoted[i]
		p.fireEvents(&imported)
	}
	for _, h := range status.Failed {
		p.dispatcher.Dropped(h)
	}
	return status
}

// fireEvents is the post-import fan-out described in spec §4.V: given a
// Ready outcome it dispatches ready(hash), invalid(f) for each cascade
// failure, usurped(r.hash, hash) for each record removed to make room,
// and ready(p) for each promoted hash; given a Future outcome it
// dispatches future(hash).
func (p *ValidatedPool) fireEvents(imported *base.Imported) {
	switch imported.Kind {
	case base.ImportedReady:
		p.dispatcher.Ready(imported.Hash)
		for _, f := range imported.Failed {
			p.dispatcher.Invalid(f, errs.ErrCascadeDemoted)
		}
		for _, r := range imported.Removed {
			p.dispatcher.Usurped(r.Hash, imported.Hash)
		}
		for _, pr := range imported.Promoted {
			p.dispatcher.Ready(pr)
		}
	case base.ImportedFuture:
		p.dispatcher.Future(imported.Hash)
	}
}

// recordState is the lifecycle classification resubmit tracks per hash,
// compared before and after the reorg re-import pass.
type recordState uint8

const (
	stateAbsent recordState = iota
	stateReady
	stateFuture
	stateFailed
	stateDropped
)

// ResubmitEntry is one element of resubmit's insertion-ordered input: the
// spec's "ordered map<hash, verdict>" (spec §9 design note), represented
// here as a slice so caller-intended ordering survives unchanged.
type ResubmitEntry struct {
	Hash    common.Hash
	Verdict Verdict
}

// Resubmit re-validates a set of transactions, typically during a reorg
// (spec §4.V resubmit). Every transaction transitively removed as a
// side-effect of removing the named roots is queued for re-import, using
// the caller's replacement verdict when one was supplied. Re-import
// happens with future-acceptance temporarily enabled, since the
// dependency order among the queued re-imports is unknown. Only hashes
// whose final lifecycle state differs from their state just before
// removal get a dispatched event.
func (p *ValidatedPool) Resubmit(updated []ResubmitEntry) {
	remaining := append([]ResubmitEntry(nil), updated...)

	type queued struct {
		hash    common.Hash
		verdict Verdict
	}
	var queue []queued
	initial := make(map[common.Hash]recordState)

	for len(remaining) > 0 {
		h := remaining[0].Hash

		removed := p.base.RemoveSubtree([]common.Hash{h})
		for _, rec := range removed {
			initial[rec.Hash] = stateReady

			var v Verdict
			if idx := indexOfHash(remaining, rec.Hash); idx >= 0 {
				v = remaining[idx].Verdict
				remaining = append(remaining[:idx], remaining[idx+1:]...)
			} else {
				v = ValidVerdict{Record: rec}
			}
			queue = append(queue, queued{hash: rec.Hash, verdict: v})
		}
		// Discard h's entry even when h was no longer in the pool.
		if idx := indexOfHash(remaining, h); idx >= 0 {
			remaining = append(remaining[:idx], remaining[idx+1:]...)
		}
	}

	final := make(map[common.Hash]recordState)
	p.base.WithFuturesEnabled(func() {
		for _, q := range queue {
			switch vv := q.verdict.(type) {
			case ValidVerdict:
				imported, err := p.base.Import(vv.Record)
				if err != nil {
					final[q.hash] = stateFailed
					continue
				}
				if imported.Kind == base.ImportedReady {
					final[imported.Hash] = stateReady
					for _, h := range imported.Promoted {
						final[h] = stateReady
					}
					for _, h := range imported.Failed {
						final[h] = stateFailed
					}
					for _, r := range imported.Removed {
						final[r.Hash] = stateDropped
					}
				} else {
					final[q.hash] = stateFuture
				}
			case InvalidVerdict, UnknownVerdict:
				final[q.hash] = stateFailed
			}
		}
	})

	if p.options.RejectFutureTransactions {
		dropped := p.base.ClearFuture()
		for _, tx := range dropped {
			final[tx.Hash] = stateDropped
		}
	}

	for h, fstate := range final {
		if initial[h] == fstate {
			continue
		}
		switch fstate {
		case stateReady:
			p.dispatcher.Ready(h)
			p.sinks.notify(h)
		case stateFuture:
			p.dispatcher.Future(h)
		case stateFailed:
			p.dispatcher.Invalid(h, errs.ErrCascadeDemoted)
		case stateDropped:
			p.dispatcher.Dropped(h)
		}
	}
}

func indexOfHash(entries []ResubmitEntry, h common.Hash) int {
	for i, e := range entries {
		if e.Hash == h {
			return i
		}
	}
	return -1
}

// ResubmitPruned submits the re-validated pruned extrinsics, determines
// which of pruned_hashes were genuinely consumed on-chain (their verdict's
// error classifies as InvalidTransaction), dispatches in_block for the
// union of those with knownImportedHashes, and finally clears staleness at
// the new block (spec §4.V resubmit_pruned).
func (p *ValidatedPool) ResubmitPruned(at BlockRef, knownImportedHashes []common.Hash, prunedHashes []common.Hash, prunedVerdicts []Verdict) {
	if len(prunedHashes) != len(prunedVerdicts) {
		panic("txpool: resubmit_pruned requires len(prunedHashes) == len(prunedVerdicts)")
	}

	results := p.Submit(prunedVerdicts)
	trulyPruned := make(map[common.Hash]struct{}, len(knownImportedHashes)+len(prunedHashes))
	for _, h := range knownImportedHashes {
		trulyPruned[h] = struct{}{}
	}
	for i, res := range results {
		if res.Err == nil {
			continue
		}
		if _, ok := errs.AsInvalidTransaction(res.Err); ok {
			trulyPruned[prunedHashes[i]] = struct{}{}
		}
	}

	for h := range trulyPruned {
		p.dispatcher.InBlock(h, at.Hash)
	}
	p.ClearStale(at)
}

// ClearStale evicts every ready or future record the rotator classifies as
// stale at (now, at.Number), then sweeps expired bans (spec §4.V
// clear_stale).
func (p *ValidatedPool) ClearStale(at BlockRef) {
	now := time.Now()

	var toRemove []common.Hash
	for _, tx := range p.base.Ready() {
		if p.rotator.BanIfStale(now, at.Number, tx, p.staleParams) {
			toRemove = append(toRemove, tx.Hash)
		}
	}
	for _, tx := range p.base.Futures() {
		if p.rotator.BanIfStale(now, at.Number, tx, p.staleParams) {
			toRemove = append(toRemove, tx.Hash)
		}
	}

	p.RemoveInvalid(toRemove)
	p.rotator.ClearTimeouts(now)
}

// RemoveInvalid removes the named records (and any ready descendant that
// would lose its last requirement), banning the roots and dispatching
// invalid(h) for everything removed (spec §4.V remove_invalid).
func (p *ValidatedPool) RemoveInvalid(hashes []common.Hash) []*base.Transaction {
	if len(hashes) == 0 {
		return nil
	}
	return p.removeSubtree(hashes, true, func(h common.Hash) {
		p.dispatcher.Invalid(h, errs.ErrCascadeDemoted)
	})
}

func (p *ValidatedPool) removeSubtree(hashes []common.Hash, ban bool, onRemove func(common.Hash)) []*base.Transaction {
	if ban {
		p.rotator.Ban(time.Now(), hashes)
	}
	removed := p.base.RemoveSubtree(hashes)
	for _, tx := range removed {
		onRemove(tx.Hash)
	}
	return removed
}

// CheckIsKnown is a fast pre-check for a hash about to be submitted.
func (p *ValidatedPool) CheckIsKnown(hash common.Hash, ignoreBanned bool) error {
	if !ignoreBanned && p.rotator.IsBanned(hash) {
		return errs.ErrTemporarilyBanned
	}
	if p.base.IsImported(hash) {
		return errs.ErrAlreadyImported
	}
	return nil
}

// ExtrinsicsTags reports each known transaction's provides list, in the
// order hashes was given; an unknown hash yields a nil entry.
func (p *ValidatedPool) ExtrinsicsTags(hashes []common.Hash) [][]common.Tag {
	records := p.base.ByHashes(hashes)
	out := make([][]common.Tag, len(records))
	for i, rec := range records {
		if rec != nil {
			out[i] = rec.Provides
		}
	}
	return out
}

// OnBroadcasted dispatches broadcast(h, peers) for every entry.
func (p *ValidatedPool) OnBroadcasted(peersByHash map[common.Hash][]string) {
	for h, peers := range peersByHash {
		p.dispatcher.Broadcast(h, peers)
	}
}

// OnBlockFinalized dispatches finalized(block) to every watcher of a
// transaction recorded as in-block for block. It is the pool's only
// async-flavored operation (spec §5): the context lets a caller bound how
// long it is willing to wait for dispatch to complete, though dispatch
// itself never performs I/O and so never actually blocks on it.
func (p *ValidatedPool) OnBlockFinalized(ctx context.Context, block common.Hash) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	p.dispatcher.Finalized(block)
	p.chainHeadFeed.Send(ChainHeadEvent{Block: block})
	return nil
}

// OnBlockRetracted dispatches retracted(block) to every watcher of a
// transaction recorded as in-block for block.
func (p *ValidatedPool) OnBlockRetracted(block common.Hash) {
	p.dispatcher.Retracted(block)
	p.chainHeadFeed.Send(ChainHeadEvent{Block: block, Retracted: true})
}

// RetriggerNotifications re-emits ready for every ready transaction and
// future for every future transaction, so a freshly attached dispatcher's
// subscribers observe the pool's current state.
func (p *ValidatedPool) RetriggerNotifications() {
	for _, tx := range p.base.Ready() {
		p.dispatcher.Ready(tx.Hash)
	}
	for _, tx := range p.base.Futures() {
		p.dispatcher.Future(tx.Hash)
	}
}

// ImportNotificationStream registers a new bounded sink and returns its
// receive end plus a cancel function to unregister it.
func (p *ValidatedPool) ImportNotificationStream() (<-chan common.Hash, func()) {
	return p.sinks.subscribe()
}

// Status reports current partition occupancy.
func (p *ValidatedPool) Status() base.Status {
	return p.base.StatusSnapshot()
}
