// Package watcher implements per-transaction lifecycle notification: the
// Go counterpart of graph::Watcher and the event dispatcher the validated
// pool drives from submit_and_watch (spec §4.E, §4.W). A Watcher is a
// single subscriber's view of one transaction's journey through the pool;
// an EventDispatcher is the registry that fans a pool-wide event out to
// every interested Watcher.
package watcher

import (
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/oakhollow/txpool/common"
)

// EventKind names a point in a transaction's lifecycle.
type EventKind uint8

const (
	EventFuture EventKind = iota
	EventReady
	EventBroadcast
	EventInBlock
	EventRetracted
	EventFinalized
	EventUsurped
	EventDropped
	EventInvalid
	EventLimitsEnforced
)

func (k EventKind) String() string {
	switch k {
	case EventFuture:
		return "future"
	case EventReady:
		return "ready"
	case EventBroadcast:
		return "broadcast"
	case EventInBlock:
		return "in_block"
	case EventRetracted:
		return "retracted"
	case EventFinalized:
		return "finalized"
	case EventUsurped:
		return "usurped"
	case EventDropped:
		return "dropped"
	case EventInvalid:
		return "invalid"
	case EventLimitsEnforced:
		return "limits_enforced"
	default:
		return "unknown"
	}
}

// Terminal reports whether this event kind ends a transaction's watch: no
// further events for the same hash will follow, so a Watcher closes its
// channel once it has delivered one.
func (k EventKind) Terminal() bool {
	switch k {
	case EventFinalized, EventUsurped, EventDropped, EventInvalid:
		return true
	default:
		return false
	}
}

// Event is a single lifecycle notification. Which extra fields are
// meaningful depends on Kind: Block for InBlock/Retracted/Finalized, By
// for Usurped, Reason for Invalid, Peers for Broadcast.
type Event struct {
	Kind   EventKind
	Hash   common.Hash
	Block  common.Hash
	By     common.Hash
	Reason error
	Peers  []string
}

// Watcher is one subscriber's channel of events for a single transaction
// hash. Call Unsubscribe to stop receiving before a terminal event arrives;
// a Watcher that receives a terminal event closes its own channel and
// unregisters itself.
type Watcher struct {
	hash       common.Hash
	ch         chan Event
	dispatcher *EventDispatcher
	closeOnce  sync.Once
}

// Hash returns the transaction hash this Watcher follows.
func (w *Watcher) Hash() common.Hash { return w.hash }

// Events returns the channel events are delivered on. It is closed once a
// terminal event has been delivered, or after Unsubscribe.
func (w *Watcher) Events() <-chan Event { return w.ch }

// Unsubscribe stops delivery and closes the event channel. Safe to call
// more than once and safe to call after a terminal event has already
// closed the channel.
func (w *Watcher) Unsubscribe() {
	w.dispatcher.remove(w)
	w.closeOnce.Do(func() { close(w.ch) })
}

// EventHandler is an optional external sink (e.g. an RPC subscription
// bridge) that receives every event the dispatcher fires, regardless of
// whether a per-hash Watcher exists for it.
type EventHandler func(Event)

// EventDispatcher is the pool-wide registry of per-hash Watchers. It also
// tracks which transaction hashes were reported in-block for each block
// hash, so that a later Retracted or Finalized call can fan the
// corresponding event out to every affected transaction without the
// caller having to remember the membership itself.
type EventDispatcher struct {
	mu         sync.RWMutex
	watchers   map[common.Hash][]*Watcher
	blockTxs   map[common.Hash][]common.Hash
	bufferSize int
	external   EventHandler
}

// NewEventDispatcher returns a dispatcher whose Watchers buffer up to
// bufferSize pending events before a send is dropped (with a warning)
// rather than blocking the firing goroutine, mirroring the teacher's
// preference for non-blocking event delivery over backpressure on its
// core (txpool/pool.go's txFeed.Send pattern generalized to a per-hash fan-out).
func NewEventDispatcher(bufferSize int) *EventDispatcher {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &EventDispatcher{
		watchers:   make(map[common.Hash][]*Watcher),
		blockTxs:   make(map[common.Hash][]common.Hash),
		bufferSize: bufferSize,
	}
}

// SetExternalHandler installs h as the dispatcher's external sink. It runs
// under recover so a misbehaving handler cannot bring down the firing
// goroutine.
func (d *EventDispatcher) SetExternalHandler(h EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.external = h
}

// CreateWatcher registers a new Watcher for hash.
func (d *EventDispatcher) CreateWatcher(hash common.Hash) *Watcher {
	w := &Watcher{hash: hash, ch: make(chan Event, d.bufferSize), dispatcher: d}
	d.mu.Lock()
	d.watchers[hash] = append(d.watchers[hash], w)
	d.mu.Unlock()
	return w
}

func (d *EventDispatcher) remove(w *Watcher) {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := d.watchers[w.hash]
	for i, existing := range list {
		if existing == w {
			list[i] = list[len(list)-1]
			list = list[:len(list)-1]
			break
		}
	}
	if len(list) == 0 {
		delete(d.watchers, w.hash)
	} else {
		d.watchers[w.hash] = list
	}
}

// fire delivers ev to every Watcher registered for ev.Hash and to the
// external handler, if any. A full Watcher channel is logged and skipped
// rather than blocking the caller (spec §5: event dispatch never blocks
// the base pool lock holder). Watchers that received a terminal event
// close and unregister themselves.
func (d *EventDispatcher) fire(ev Event) {
	d.mu.RLock()
	list := append([]*Watcher(nil), d.watchers[ev.Hash]...)
	external := d.external
	d.mu.RUnlock()

	for _, w := range list {
		select {
		case w.ch <- ev:
		default:
			log.Warn("txpool watcher channel full, dropping event", "hash", ev.Hash, "kind", ev.Kind)
		}
		if ev.Kind.Terminal() {
			w.Unsubscribe()
		}
	}

	if external != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error("txpool external event handler panicked", "recover", r)
				}
			}()
			external(ev)
		}()
	}
}

func (d *EventDispatcher) Future(hash common.Hash)  { d.fire(Event{Kind: EventFuture, Hash: hash}) }
func (d *EventDispatcher) Ready(hash common.Hash)    { d.fire(Event{Kind: EventReady, Hash: hash}) }
func (d *EventDispatcher) Usurped(hash, by common.Hash) {
	d.fire(Event{Kind: EventUsurped, Hash: hash, By: by})
}
func (d *EventDispatcher) Dropped(hash common.Hash) { d.fire(Event{Kind: EventDropped, Hash: hash}) }
func (d *EventDispatcher) Invalid(hash common.Hash, reason error) {
	d.fire(Event{Kind: EventInvalid, Hash: hash, Reason: reason})
}
func (d *EventDispatcher) Broadcast(hash common.Hash, peers []string) {
	d.fire(Event{Kind: EventBroadcast, Hash: hash, Peers: peers})
}
func (d *EventDispatcher) LimitsEnforced(hash common.Hash) {
	d.fire(Event{Kind: EventLimitsEnforced, Hash: hash})
}

// InBlock records that hash was included in block, firing EventInBlock and
// remembering the association for a later Retracted or Finalized call.
func (d *EventDispatcher) InBlock(hash, block common.Hash) {
	d.mu.Lock()
	d.blockTxs[block] = appendUnique(d.blockTxs[block], hash)
	d.mu.Unlock()
	d.fire(Event{Kind: EventInBlock, Hash: hash, Block: block})
}

// Retracted fires EventRetracted for every transaction previously recorded
// as included in block, because the block has left the best chain. The
// association is kept, so a later Finalized call for the same block still
// reaches these transactions.
func (d *EventDispatcher) Retracted(block common.Hash) {
	d.mu.RLock()
	hashes := append([]common.Hash(nil), d.blockTxs[block]...)
	d.mu.RUnlock()
	for _, h := range hashes {
		d.fire(Event{Kind: EventRetracted, Hash: h, Block: block})
	}
}

// Finalized fires EventFinalized for every transaction recorded as
// included in block, then forgets the association: finalization is
// terminal for every Watcher it reaches, so there is nothing further to
// track for this block.
func (d *EventDispatcher) Finalized(block common.Hash) {
	d.mu.Lock()
	hashes := append([]common.Hash(nil), d.blockTxs[block]...)
	delete(d.blockTxs, block)
	d.mu.Unlock()
	for _, h := range hashes {
		d.fire(Event{Kind: EventFinalized, Hash: h, Block: block})
	}
}

func appendUnique(hashes []common.Hash, h common.Hash) []common.Hash {
	for _, existing := range hashes {
		if existing == h {
			return hashes
		}
	}
	return append(hashes, h)
}
