package watcher

import (
	"errors"
	"testing"
	"time"

	"github.com/oakhollow/txpool/common"
)

func TestFutureThenReadyThenFinalizedClosesChannel(t *testing.T) {
	d := NewEventDispatcher(8)
	h := common.BytesToHash([]byte{1})
	block := common.BytesToHash([]byte{9})
	w := d.CreateWatcher(h)

	d.Future(h)
	d.Ready(h)
	d.InBlock(h, block)
	d.Finalized(block)

	kinds := drain(t, w)
	want := []EventKind{EventFuture, EventReady, EventInBlock, EventFinalized}
	if len(kinds) != len(want) {
		t.Fatalf("expected %d events, got %d: %v", len(want), len(kinds), kinds)
	}
	for i, k := range want {
		if kinds[i] != k {
			t.Fatalf("event %d: expected %v, got %v", i, k, kinds[i])
		}
	}

	select {
	case _, open := <-w.Events():
		if open {
			t.Fatalf("channel should be closed after terminal event")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for channel close")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	d := NewEventDispatcher(8)
	h := common.BytesToHash([]byte{1})
	w := d.CreateWatcher(h)
	w.Unsubscribe()

	d.Ready(h) // must not panic or block despite no receiver
}

func TestInvalidCarriesReason(t *testing.T) {
	d := NewEventDispatcher(8)
	h := common.BytesToHash([]byte{1})
	w := d.CreateWatcher(h)
	reason := errors.New("boom")

	d.Invalid(h, reason)
	ev := <-w.Events()
	if ev.Kind != EventInvalid || ev.Reason != reason {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestRetractedOnlyFiresForRecordedBlock(t *testing.T) {
	d := NewEventDispatcher(8)
	h := common.BytesToHash([]byte{1})
	block := common.BytesToHash([]byte{9})
	w := d.CreateWatcher(h)

	d.Retracted(common.BytesToHash([]byte{8})) // never recorded: reaches no watcher
	d.InBlock(h, block)
	d.Retracted(block)

	if ev := <-w.Events(); ev.Kind != EventInBlock {
		t.Fatalf("expected in_block first, got %+v", ev)
	}
	ev := <-w.Events()
	if ev.Kind != EventRetracted || ev.Block != block {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func drain(t *testing.T, w *Watcher) []EventKind {
	t.Helper()
	var kinds []EventKind
	for i := 0; i < 4; i++ {
		select {
		case ev := <-w.Events():
			kinds = append(kinds, ev.Kind)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
	return kinds
}
