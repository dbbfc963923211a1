// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ktrace is the kernel-wide listener facility.  The scheduler and
// the blocking locks report run-queue insertions and removals, scheduling
// decisions, lock initialization and lock waiter queueing to every
// registered Listener, exactly once per state change.
//
// Listeners are called with the reporting subsystem's spinlock held and
// interrupts disabled: they must be quick and must never block on a
// kernel lock.
package ktrace

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Kind identifies the state change an Event reports.
type Kind int

const (
	ThreadEnqueued     Kind = iota // thread inserted into a run queue
	ThreadRemoved                  // thread removed from a run queue without being scheduled
	ThreadScheduled                // CPU switched from Previous to Thread
	LockInitialized                // lock created
	LockDestroyed                  // lock destroyed
	LockWaiterEnqueued             // thread queued on a lock
	LockWaiterDequeued             // thread dequeued from a lock
	numKinds
)

var kindNames = [numKinds]string{
	ThreadEnqueued:     "enqueue",
	ThreadRemoved:      "remove",
	ThreadScheduled:    "schedule",
	LockInitialized:    "lock-init",
	LockDestroyed:      "lock-destroy",
	LockWaiterEnqueued: "lock-wait",
	LockWaiterDequeued: "lock-wake",
}

func (k Kind) String() string {
	if k >= 0 && k < numKinds {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Event describes a single state change.  Fields that do not apply to
// the Kind are left zero; CPU is -1 when the change is not bound to a
// processor.
type Event struct {
	Kind     Kind
	Time     time.Time
	CPU      int
	Thread   int64  // thread the change applies to
	Name     string // thread name
	Priority int32

	// Previous is the outgoing thread of a ThreadScheduled event.
	Previous     int64
	PreviousName string

	// Lock identifies the lock of the Lock* kinds.
	Lock     uintptr
	LockName string
	Writer   bool // waiter is a writer on a reader-writer lock
}

// A Listener receives kernel events.
type Listener interface {
	KernelEvent(e *Event)
}

var (
	mu        sync.Mutex   // serializes Add and Remove
	listeners atomic.Value // []Listener, replaced on every change
)

// Add registers l.  Adding the same listener twice delivers every
// event to it twice.
func Add(l Listener) {
	mu.Lock()
	defer mu.Unlock()
	old, _ := listeners.Load().([]Listener)
	n := make([]Listener, len(old), len(old)+1)
	copy(n, old)
	listeners.Store(append(n, l))
}

// Remove unregisters the first registration of l.
func Remove(l Listener) {
	mu.Lock()
	defer mu.Unlock()
	old, _ := listeners.Load().([]Listener)
	for i, o := range old {
		if o == l {
			n := make([]Listener, 0, len(old)-1)
			n = append(n, old[:i]...)
			listeners.Store(append(n, old[i+1:]...))
			return
		}
	}
}

// Active returns whether any listener is registered.  Reporters use it to
// avoid building events nobody will see.
func Active() bool {
	l, _ := listeners.Load().([]Listener)
	return len(l) != 0
}

// Notify delivers *e to every registered listener.
func Notify(e *Event) {
	l, _ := listeners.Load().([]Listener)
	for _, o := range l {
		o.KernelEvent(e)
	}
}
