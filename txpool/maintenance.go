package txpool

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// Maintenance tick intervals, adapted from the teacher's own
// evictionInterval/statsReportInterval constants
// (SipengXie-Execution/txpool/params.go): there, they gated a
// nonce-pool's periodic eviction and stats-report loop; here they drive
// the equivalent periodic staleness sweep and status log for the
// tag-dependency pool.
const (
	evictionInterval    = time.Minute
	statsReportInterval = 8 * time.Second
)

// RunMaintenance runs clear_stale on every eviction tick and logs pool
// occupancy on every stats tick, until ctx is cancelled. currentBlock
// supplies the chain head clear_stale should judge staleness against.
// Callers typically run this in its own goroutine for the pool's
// lifetime.
func (p *ValidatedPool) RunMaintenance(ctx context.Context, currentBlock func() BlockRef) {
	evictionTicker := time.NewTicker(evictionInterval)
	statsTicker := time.NewTicker(statsReportInterval)
	defer evictionTicker.Stop()
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-evictionTicker.C:
			p.ClearStale(currentBlock())
		case <-statsTicker.C:
			status := p.Status()
			log.Info("txpool status", "ready", status.Ready, "future", status.Future,
				"readyBytes", status.ReadyBytes, "futureBytes", status.FutureBytes)
		}
	}
}
