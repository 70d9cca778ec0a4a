package txpool

import (
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/oakhollow/txpool/common"
)

// sinkBuffer is the fixed capacity spec §5/§3 assigns to every
// import-notification channel.
const sinkBuffer = 1024

// notificationSink is one subscriber's channel of newly-ready hashes, plus
// the bookkeeping needed to drop it once the caller is done with it. Go
// channels have no receiver-side "I'm done" signal the sender can observe,
// so closure is explicit (via cancel), the same shape as
// event.Subscription.Unsubscribe in github.com/ethereum/go-ethereum/event,
// which the teacher imports directly in txpool/pool.go.
type notificationSink struct {
	ch        chan common.Hash
	cancelled bool
}

// sinkRegistry holds every subscriber to the import-notification stream.
// Guarded by a plain mutex, not the base pool's RWMutex: spec §5 places it
// after the event dispatcher and before the rotator in lock order,
// independent of the base pool's own lock.
type sinkRegistry struct {
	mu    sync.Mutex
	sinks []*notificationSink
}

func newSinkRegistry() *sinkRegistry {
	return &sinkRegistry{}
}

// subscribe registers a new sink and returns its receive end plus a cancel
// function that unregisters and closes it.
func (r *sinkRegistry) subscribe() (<-chan common.Hash, func()) {
	sink := &notificationSink{ch: make(chan common.Hash, sinkBuffer)}
	r.mu.Lock()
	r.sinks = append(r.sinks, sink)
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if sink.cancelled {
			return
		}
		sink.cancelled = true
		for i, s := range r.sinks {
			if s == sink {
				r.sinks[i] = r.sinks[len(r.sinks)-1]
				r.sinks = r.sinks[:len(r.sinks)-1]
				break
			}
		}
		close(sink.ch)
	}
	return sink.ch, cancel
}

// notify pushes h to every live sink. A full channel is warned about and
// kept, never blocked on; a cancelled sink found during iteration (a race
// with a concurrent cancel) is skipped silently.
func (r *sinkRegistry) notify(h common.Hash) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sink := range r.sinks {
		if sink.cancelled {
			continue
		}
		select {
		case sink.ch <- h:
		default:
			log.Warn("txpool import-notification sink full, dropping", "hash", h)
		}
	}
}
