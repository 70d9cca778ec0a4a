package txpool

import (
	"context"
	"testing"
	"time"

	"github.com/oakhollow/txpool/base"
	"github.com/oakhollow/txpool/common"
	"github.com/oakhollow/txpool/errs"
	"github.com/oakhollow/txpool/rotator"
)

func testOptions() Options {
	return Options{
		Ready:   base.PoolLimit{Count: 100, TotalBytes: 1 << 20},
		Future:  base.PoolLimit{Count: 100, TotalBytes: 1 << 20},
		BanTime: time.Minute,
	}
}

func newTx(h byte, priority uint64, requires, provides []string) *base.Transaction {
	tag := func(s string) common.Tag { return common.Tag(s) }
	req := make([]common.Tag, len(requires))
	for i, s := range requires {
		req[i] = tag(s)
	}
	prov := make([]common.Tag, len(provides))
	for i, s := range provides {
		prov[i] = tag(s)
	}
	var hash common.Hash
	hash[common.HashLength-1] = h
	return &base.Transaction{
		Hash:      hash,
		Bytes:     100,
		Source:    common.NewSource(common.Local),
		Priority:  priority,
		Requires:  req,
		Provides:  prov,
		Propagate: true,
	}
}

// S1 — promotion via prune: tx1 requires "a", provides "b"; it starts in
// future, then prune_tags({"a"}) promotes it to ready.
func TestScenarioPromotionViaPrune(t *testing.T) {
	p := New(testOptions(), nil, nil, rotator.StaleParams{})
	tx1 := newTx(1, 10, []string{"a"}, []string{"b"})

	w := p.dispatcher.CreateWatcher(tx1.Hash)
	results := p.Submit([]Verdict{ValidVerdict{Record: tx1}})
	if results[0].Err != nil {
		t.Fatalf("unexpected error: %v", results[0].Err)
	}

	select {
	case ev := <-w.Events():
		if ev.Kind.String() != "future" {
			t.Fatalf("expected future event, got %v", ev.Kind)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for future event")
	}

	status := p.Status()
	if status.Future != 1 || status.Ready != 0 {
		t.Fatalf("unexpected status after step 1: %+v", status)
	}

	p.PruneTags([]common.Tag{common.Tag("a")})

	select {
	case ev := <-w.Events():
		if ev.Kind.String() != "ready" {
			t.Fatalf("expected ready event, got %v", ev.Kind)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for ready event")
	}

	status = p.Status()
	if status.Ready != 1 || status.Future != 0 {
		t.Fatalf("unexpected status after step 2: %+v", status)
	}
}

// S2 — usurpation: tx1 provides "x" priority 5 goes ready, then tx2
// provides "x" priority 10 usurps it.
func TestScenarioUsurpation(t *testing.T) {
	p := New(testOptions(), nil, nil, rotator.StaleParams{})
	tx1 := newTx(1, 5, nil, []string{"x"})
	tx2 := newTx(2, 10, nil, []string{"x"})

	w1 := p.dispatcher.CreateWatcher(tx1.Hash)
	results := p.Submit([]Verdict{ValidVerdict{Record: tx1}})
	if results[0].Err != nil {
		t.Fatalf("unexpected error: %v", results[0].Err)
	}
	<-w1.Events() // ready(h1)

	results = p.Submit([]Verdict{ValidVerdict{Record: tx2}})
	if results[0].Err != nil {
		t.Fatalf("unexpected error: %v", results[0].Err)
	}

	select {
	case ev := <-w1.Events():
		if ev.Kind.String() != "usurped" || ev.By != tx2.Hash {
			t.Fatalf("expected usurped(h1, h2), got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for usurped event")
	}

	status := p.Status()
	if status.Ready != 1 {
		t.Fatalf("unexpected status: %+v", status)
	}
}

// S3 — low-priority rejection: tx2 priority 10 is imported first, then
// tx1 priority 5 attempts to usurp and is rejected; no ban recorded.
func TestScenarioLowPriorityRejection(t *testing.T) {
	p := New(testOptions(), nil, nil, rotator.StaleParams{})
	tx2 := newTx(2, 10, nil, []string{"x"})
	tx1 := newTx(1, 5, nil, []string{"x"})

	if results := p.Submit([]Verdict{ValidVerdict{Record: tx2}}); results[0].Err != nil {
		t.Fatalf("unexpected error: %v", results[0].Err)
	}

	results := p.Submit([]Verdict{ValidVerdict{Record: tx1}})
	var tooLow *errs.TooLowPriorityError
	if results[0].Err == nil {
		t.Fatalf("expected TooLowPriorityError, got nil")
	}
	te, ok := results[0].Err.(*errs.TooLowPriorityError)
	if !ok {
		t.Fatalf("expected *errs.TooLowPriorityError, got %T: %v", results[0].Err, results[0].Err)
	}
	tooLow = te
	if tooLow.Old != 10 || tooLow.New != 5 {
		t.Fatalf("unexpected priorities: %+v", tooLow)
	}
	if p.rotator.IsBanned(tx1.Hash) {
		t.Fatalf("rejected low-priority challenger must not be banned")
	}
}

// S4 — immediately dropped: ready.count=2, submit 3 independent
// transactions; the lowest priority is evicted within the same batch.
func TestScenarioImmediatelyDropped(t *testing.T) {
	options := testOptions()
	options.Ready.Count = 2
	p := New(options, nil, nil, rotator.StaleParams{})

	a := newTx(1, 1, nil, []string{"a"})
	b := newTx(2, 2, nil, []string{"b"})
	c := newTx(3, 3, nil, []string{"c"})

	results := p.Submit([]Verdict{
		ValidVerdict{Record: a},
		ValidVerdict{Record: b},
		ValidVerdict{Record: c},
	})

	if results[0].Err != errs.ErrImmediatelyDropped {
		t.Fatalf("expected a to be immediately dropped, got %v", results[0].Err)
	}
	if results[1].Err != nil || results[2].Err != nil {
		t.Fatalf("expected b and c to succeed, got %v, %v", results[1].Err, results[2].Err)
	}
	status := p.Status()
	if status.Ready != 2 {
		t.Fatalf("expected 2 ready transactions, got %+v", status)
	}
}

// S5 — stale clearance.
func TestScenarioStaleClearance(t *testing.T) {
	p := New(testOptions(), nil, nil, rotator.StaleParams{})
	tx := newTx(1, 10, nil, []string{"a"})
	tx.ValidTill = 100

	if results := p.Submit([]Verdict{ValidVerdict{Record: tx}}); results[0].Err != nil {
		t.Fatalf("unexpected error: %v", results[0].Err)
	}

	w := p.dispatcher.CreateWatcher(tx.Hash)
	p.ClearStale(BlockRef{Number: 200})

	select {
	case ev := <-w.Events():
		if ev.Kind.String() != "invalid" {
			t.Fatalf("expected invalid event, got %v", ev.Kind)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for invalid event")
	}

	if !p.rotator.IsBanned(tx.Hash) {
		t.Fatalf("expected stale transaction to be banned")
	}
	if p.base.IsImported(tx.Hash) {
		t.Fatalf("expected stale transaction to be removed")
	}
}

// S6 — reorg resubmission: tx1 (ready, provides a), tx2 (ready, requires
// a, provides b). Resubmit both with identical replacement verdicts;
// since both land back in the same final state, no events fire.
func TestScenarioReorgResubmission(t *testing.T) {
	p := New(testOptions(), nil, nil, rotator.StaleParams{})
	tx1 := newTx(1, 10, nil, []string{"a"})
	tx2 := newTx(2, 10, []string{"a"}, []string{"b"})

	if results := p.Submit([]Verdict{ValidVerdict{Record: tx1}, ValidVerdict{Record: tx2}}); results[0].Err != nil || results[1].Err != nil {
		t.Fatalf("unexpected errors: %v %v", results[0].Err, results[1].Err)
	}

	w1 := p.dispatcher.CreateWatcher(tx1.Hash)
	w2 := p.dispatcher.CreateWatcher(tx2.Hash)

	tx1Prime := newTx(1, 10, nil, []string{"a"})
	tx2Prime := newTx(2, 10, []string{"a"}, []string{"b"})
	p.Resubmit([]ResubmitEntry{
		{Hash: tx1.Hash, Verdict: ValidVerdict{Record: tx1Prime}},
		{Hash: tx2.Hash, Verdict: ValidVerdict{Record: tx2Prime}},
	})

	status := p.Status()
	if status.Ready != 2 {
		t.Fatalf("expected both transactions ready after resubmit, got %+v", status)
	}

	select {
	case ev := <-w1.Events():
		t.Fatalf("expected no event for tx1 (final == initial), got %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
	select {
	case ev := <-w2.Events():
		t.Fatalf("expected no event for tx2 (final == initial), got %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestOnBlockFinalizedRespectsContext(t *testing.T) {
	p := New(testOptions(), nil, nil, rotator.StaleParams{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.OnBlockFinalized(ctx, common.Hash{}); err == nil {
		t.Fatalf("expected cancelled context to produce an error")
	}
}

// PruneTags unlocking a future transaction that itself usurps a ready
// provider must dispatch the usurpation's cascade-demoted descendant
// exactly once: fire_events already reports it via invalid(h) while
// walking Promoted, so PruneTags's own top-level Failed bucket must never
// also contain it (a second Dropped(h) after the first terminal event
// would violate the watcher contract).
func TestPruneTagsCascadeFailureFiresOnce(t *testing.T) {
	p := New(testOptions(), nil, nil, rotator.StaleParams{})

	c := newTx(1, 5, nil, []string{"a"})
	d := newTx(2, 5, []string{"a"}, []string{"d"})
	if results := p.Submit([]Verdict{ValidVerdict{Record: c}, ValidVerdict{Record: d}}); results[0].Err != nil || results[1].Err != nil {
		t.Fatalf("unexpected errors: %v %v", results[0].Err, results[1].Err)
	}

	a := newTx(3, 100, []string{"z"}, []string{"a"})
	if results := p.Submit([]Verdict{ValidVerdict{Record: a}}); results[0].Err != nil {
		t.Fatalf("unexpected error: %v", results[0].Err)
	}

	wd := p.dispatcher.CreateWatcher(d.Hash)
	status := p.PruneTags([]common.Tag{common.Tag("z")})
	if len(status.Failed) != 0 {
		t.Fatalf("expected no top-level dropped hashes, got %+v", status.Failed)
	}

	select {
	case ev := <-wd.Events():
		if ev.Kind.String() != "invalid" {
			t.Fatalf("expected invalid event for cascade-demoted d, got %v", ev.Kind)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for invalid event")
	}

	select {
	case ev, open := <-wd.Events():
		if open {
			t.Fatalf("expected exactly one terminal event for d, got second event %+v", ev)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatalf("timed out waiting for channel close after terminal event")
	}
}

func TestCheckIsKnown(t *testing.T) {
	p := New(testOptions(), nil, nil, rotator.StaleParams{})
	tx := newTx(1, 10, nil, []string{"a"})
	if err := p.CheckIsKnown(tx.Hash, false); err != nil {
		t.Fatalf("unexpected error for unknown hash: %v", err)
	}
	if results := p.Submit([]Verdict{ValidVerdict{Record: tx}}); results[0].Err != nil {
		t.Fatalf("unexpected error: %v", results[0].Err)
	}
	if err := p.CheckIsKnown(tx.Hash, false); err != errs.ErrAlreadyImported {
		t.Fatalf("expected ErrAlreadyImported, got %v", err)
	}
}
