package txpool

import (
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/oakhollow/txpool/base"
)

// Options are the configuration parameters of the validated pool,
// grounded on the teacher's Config/sanitize pattern
// (SipengXie-Execution/txpool/pool.go).
type Options struct {
	Ready  base.PoolLimit
	Future base.PoolLimit

	// RejectFutureTransactions, when set, causes Import to fail rather
	// than stage a transaction in the future partition.
	RejectFutureTransactions bool

	// BanTime is how long a hash stays in the rotator's ban list after
	// being declared invalid, stale, or evicted by limit enforcement.
	BanTime time.Duration
}

// TotalCount is the sum of the ready and future count caps, a helper the
// external interface contract (spec §6) calls out explicitly.
func (o Options) TotalCount() uint64 {
	return o.Ready.Count + o.Future.Count
}

// DefaultOptions mirrors the teacher's DefaultConfig: generous but
// non-zero caps so a pool constructed without tuning still behaves
// sanely.
var DefaultOptions = Options{
	Ready:   base.PoolLimit{Count: 4096, TotalBytes: 32 << 20},
	Future:  base.PoolLimit{Count: 1024, TotalBytes: 8 << 20},
	BanTime: time.Hour,
}

// sanitize checks the provided options and corrects anything unworkable,
// exactly as the teacher's Config.sanitize does.
func (o Options) sanitize() Options {
	conf := o
	if conf.Ready.Count == 0 {
		log.Warn("Sanitizing invalid txpool ready count limit", "provided", conf.Ready.Count, "updated", DefaultOptions.Ready.Count)
		conf.Ready.Count = DefaultOptions.Ready.Count
	}
	if conf.Ready.TotalBytes == 0 {
		log.Warn("Sanitizing invalid txpool ready byte limit", "provided", conf.Ready.TotalBytes, "updated", DefaultOptions.Ready.TotalBytes)
		conf.Ready.TotalBytes = DefaultOptions.Ready.TotalBytes
	}
	if conf.Future.Count == 0 {
		log.Warn("Sanitizing invalid txpool future count limit", "provided", conf.Future.Count, "updated", DefaultOptions.Future.Count)
		conf.Future.Count = DefaultOptions.Future.Count
	}
	if conf.Future.TotalBytes == 0 {
		log.Warn("Sanitizing invalid txpool future byte limit", "provided", conf.Future.TotalBytes, "updated", DefaultOptions.Future.TotalBytes)
		conf.Future.TotalBytes = DefaultOptions.Future.TotalBytes
	}
	if conf.BanTime < time.Second {
		log.Warn("Sanitizing invalid txpool ban time", "provided", conf.BanTime, "updated", DefaultOptions.BanTime)
		conf.BanTime = DefaultOptions.BanTime
	}
	return conf
}
