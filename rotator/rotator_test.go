package rotator

import (
	"testing"
	"time"

	"github.com/oakhollow/txpool/base"
	"github.com/oakhollow/txpool/common"
)

func TestBanAndIsBanned(t *testing.T) {
	r := New(time.Minute)
	h := common.BytesToHash([]byte{1})
	now := time.Now()

	if r.IsBanned(h) {
		t.Fatalf("hash should not be banned before Ban is called")
	}
	r.Ban(now, []common.Hash{h})
	if !r.IsBanned(h) {
		t.Fatalf("expected hash to be banned")
	}
}

func TestClearTimeoutsEvictsExpired(t *testing.T) {
	r := New(time.Millisecond)
	h := common.BytesToHash([]byte{1})
	now := time.Now()
	r.Ban(now, []common.Hash{h})

	time.Sleep(2 * time.Millisecond)
	cleared := r.ClearTimeouts(time.Now())
	if cleared != 1 {
		t.Fatalf("expected 1 ban cleared, got %d", cleared)
	}
	if r.IsBanned(h) {
		t.Fatalf("expired ban must no longer report as banned")
	}
}

func TestIsStaleByValidTill(t *testing.T) {
	tx := &base.Transaction{
		Source:    common.NewSource(common.Local),
		ValidTill: 100,
	}
	if IsStale(time.Now(), 50, tx, StaleParams{}) {
		t.Fatalf("transaction valid until block 100 must not be stale at block 50")
	}
	if !IsStale(time.Now(), 200, tx, StaleParams{}) {
		t.Fatalf("transaction valid until block 100 must be stale at block 200")
	}
}

func TestIsStaleByHardDeadline(t *testing.T) {
	tx := &base.Transaction{
		Source: common.Source{Origin: common.Local, Arrival: time.Now().Add(-time.Hour)},
	}
	if !IsStale(time.Now(), 0, tx, StaleParams{HardDeadline: time.Minute}) {
		t.Fatalf("transaction older than hard deadline must be stale")
	}
	if IsStale(time.Now(), 0, tx, StaleParams{HardDeadline: 2 * time.Hour}) {
		t.Fatalf("transaction younger than hard deadline must not be stale")
	}
}
