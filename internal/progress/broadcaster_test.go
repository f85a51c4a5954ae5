package progress_test

import (
	"testing"
	"time"

	"subforge/internal/progress"
	"subforge/internal/task"
)

func snap(id string, status task.Status, pct float64, label string) progress.Snapshot {
	return progress.Snapshot{TaskID: id, Status: status, Progress: pct, StageLabel: label}
}

func TestSubscriberReceivesSnapshotsInOrder(t *testing.T) {
	b := progress.NewBroadcaster()
	ch, cancel := b.Subscribe("t1")
	defer cancel()

	b.Publish(snap("t1", task.StatusRunning, 10, "extracting"))
	b.Publish(snap("t1", task.StatusRunning, 40, "transcribing"))
	b.Publish(snap("t1", task.StatusCompleted, 100, "completed"))

	var got []progress.Snapshot
	for s := range ch {
		got = append(got, s)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 snapshots, got %d: %+v", len(got), got)
	}
	last := -1.0
	for _, s := range got {
		if s.Progress < last {
			t.Fatalf("progress regressed in delivery: %+v", got)
		}
		last = s.Progress
	}
	if got[2].Status != task.StatusCompleted {
		t.Fatalf("expected terminal last, got %+v", got[2])
	}
}

func TestLateJoinerGetsOneTerminalSnapshotThenClose(t *testing.T) {
	b := progress.NewBroadcaster()
	b.Publish(snap("t1", task.StatusRunning, 50, "transcribing"))
	b.Publish(snap("t1", task.StatusFailed, 50, "failed"))

	ch, cancel := b.Subscribe("t1")
	defer cancel()

	select {
	case s, ok := <-ch:
		if !ok {
			t.Fatal("expected one terminal snapshot before close")
		}
		if s.Status != task.StatusFailed {
			t.Fatalf("expected failed snapshot, got %+v", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for terminal snapshot")
	}
	if _, ok := <-ch; ok {
		t.Fatal("expected stream closed after terminal snapshot")
	}
}

func TestMidFlightJoinerGetsLatestFirst(t *testing.T) {
	b := progress.NewBroadcaster()
	b.Publish(snap("t1", task.StatusRunning, 30, "transcribing"))

	ch, cancel := b.Subscribe("t1")
	defer cancel()

	select {
	case s := <-ch:
		if s.Progress != 30 {
			t.Fatalf("expected latest snapshot replay, got %+v", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for replayed snapshot")
	}
}

func TestSlowSubscriberIsCoalescedNotBlocking(t *testing.T) {
	b := progress.NewBroadcaster()
	ch, cancel := b.Subscribe("t1")
	defer cancel()

	// Publish far more snapshots than the subscriber buffer holds; the
	// publisher must never block and the newest snapshot must survive.
	for i := 1; i <= 200; i++ {
		b.Publish(snap("t1", task.StatusRunning, float64(i)/2, "transcribing"))
	}
	b.Publish(snap("t1", task.StatusCompleted, 100, "completed"))

	var got []progress.Snapshot
	for s := range ch {
		got = append(got, s)
	}
	if len(got) == 0 {
		t.Fatal("expected at least one delivered snapshot")
	}
	last := -1.0
	for _, s := range got {
		if s.Progress < last {
			t.Fatalf("coalesced delivery regressed: %+v", got)
		}
		last = s.Progress
	}
	if got[len(got)-1].Status != task.StatusCompleted {
		t.Fatalf("expected terminal snapshot last, got %+v", got[len(got)-1])
	}
}

func TestIndependentSubscribers(t *testing.T) {
	b := progress.NewBroadcaster()
	fast, cancelFast := b.Subscribe("t1")
	slow, cancelSlow := b.Subscribe("t1")
	defer cancelFast()
	defer cancelSlow()

	b.Publish(snap("t1", task.StatusRunning, 10, "extracting"))

	select {
	case <-fast:
	case <-time.After(time.Second):
		t.Fatal("fast subscriber starved")
	}
	// Slow subscriber has not read anything; publishing more must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(snap("t1", task.StatusRunning, float64(10+i), "transcribing"))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on slow subscriber")
	}
	_ = slow
}

func TestForgetClosesSubscribers(t *testing.T) {
	b := progress.NewBroadcaster()
	ch, cancel := b.Subscribe("t1")
	defer cancel()

	b.Forget("t1")
	if _, ok := <-ch; ok {
		t.Fatal("expected closed stream after Forget")
	}
	if _, ok := b.Latest("t1"); ok {
		t.Fatal("expected no state after Forget")
	}
}
