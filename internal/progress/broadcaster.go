// Package progress fans task progress snapshots out to any number of
// subscribers. Publishing never blocks: slow subscribers are coalesced
// to the newest snapshot rather than buffered without bound.
package progress

import (
	"sync"

	"subforge/internal/task"
)

// Snapshot is one observed point of a task's execution.
type Snapshot struct {
	TaskID     string
	Status     task.Status
	Progress   float64
	StageLabel string
}

const subscriberBuffer = 16

type subscriber struct {
	ch chan Snapshot
}

type taskStream struct {
	latest    Snapshot
	hasLatest bool
	terminal  bool
	subs      map[*subscriber]struct{}
}

// Broadcaster is the process-wide progress fan-out.
type Broadcaster struct {
	mu    sync.Mutex
	tasks map[string]*taskStream
}

// NewBroadcaster returns an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{tasks: make(map[string]*taskStream)}
}

// Publish delivers a snapshot to every subscriber of the task. A
// terminal snapshot closes all subscriber streams after delivery.
func (b *Broadcaster) Publish(snap Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	stream, ok := b.tasks[snap.TaskID]
	if !ok {
		stream = &taskStream{subs: make(map[*subscriber]struct{})}
		b.tasks[snap.TaskID] = stream
	}
	if stream.terminal {
		return
	}
	stream.latest = snap
	stream.hasLatest = true
	for sub := range stream.subs {
		sub.deliver(snap)
	}
	if snap.Status.IsTerminal() {
		stream.terminal = true
		for sub := range stream.subs {
			close(sub.ch)
		}
		stream.subs = make(map[*subscriber]struct{})
	}
}

// Subscribe returns a snapshot stream for the task and a cancel
// function. A subscriber joining after the task settled receives
// exactly one terminal snapshot before the stream closes; a mid-flight
// subscriber first receives the latest known snapshot.
func (b *Broadcaster) Subscribe(taskID string) (<-chan Snapshot, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	stream, ok := b.tasks[taskID]
	if !ok {
		stream = &taskStream{subs: make(map[*subscriber]struct{})}
		b.tasks[taskID] = stream
	}

	sub := &subscriber{ch: make(chan Snapshot, subscriberBuffer)}
	if stream.terminal {
		sub.ch <- stream.latest
		close(sub.ch)
		return sub.ch, func() {}
	}
	if stream.hasLatest {
		sub.deliver(stream.latest)
	}
	stream.subs[sub] = struct{}{}

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if current, ok := b.tasks[taskID]; ok {
			if _, still := current.subs[sub]; still {
				delete(current.subs, sub)
				close(sub.ch)
			}
		}
	}
	return sub.ch, cancel
}

// Latest returns the most recent snapshot for a task, if any.
func (b *Broadcaster) Latest(taskID string) (Snapshot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	stream, ok := b.tasks[taskID]
	if !ok || !stream.hasLatest {
		return Snapshot{}, false
	}
	return stream.latest, true
}

// Forget drops all broadcast state for a task. Called when the registry
// evicts the task; open subscriptions are closed.
func (b *Broadcaster) Forget(taskID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	stream, ok := b.tasks[taskID]
	if !ok {
		return
	}
	for sub := range stream.subs {
		close(sub.ch)
	}
	delete(b.tasks, taskID)
}

// deliver attempts a non-blocking send, replacing the oldest queued
// snapshot with the newest when the subscriber is full.
func (s *subscriber) deliver(snap Snapshot) {
	select {
	case s.ch <- snap:
		return
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- snap:
	default:
	}
}
