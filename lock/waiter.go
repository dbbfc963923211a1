// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lock

import (
	"v.io/x/ksched/sched"
	"v.io/x/ksched/spinlock"
)

// A waiter represents a single thread queued on a lock.
//
// To wait: obtain a waiter with newWaiter, push it on the lock's list,
// prepare the thread to block, release the lock's spinlock and Block.
// The thread that dequeues the waiter reads it, records why it was
// dequeued while still holding the lock's spinlock, and unblocks the
// waiting thread; it never touches the waiter afterwards.  The waiting
// thread returns it with freeWaiter.
type waiter struct {
	t         *sched.Thread
	next      *waiter
	last      *waiter // the list's tail; valid on the list head only
	writer    bool    // waiting for the write side of an RWLock
	destroyed bool    // dequeued by Destroy rather than handed the lock
}

// A waiterList is a FIFO of waiters.  The head carries the tail pointer so
// that push is O(1).
type waiterList struct {
	head *waiter
}

func (l *waiterList) empty() bool { return l.head == nil }

func (l *waiterList) push(w *waiter) {
	w.next = nil
	if l.head == nil {
		w.last = w
		l.head = w
		return
	}
	l.head.last.next = w
	l.head.last = w
}

func (l *waiterList) pop() *waiter {
	w := l.head
	if w == nil {
		return nil
	}
	l.head = w.next
	if l.head != nil {
		l.head.last = w.last
	}
	w.next, w.last = nil, nil
	return w
}

// remove unlinks w, returning false if w is not in the list.
func (l *waiterList) remove(w *waiter) bool {
	if l.head == w {
		l.pop()
		return true
	}
	var prev *waiter
	for c := l.head; c != nil; c = c.next {
		if c == w {
			prev.next = c.next
			if l.head.last == c {
				l.head.last = prev
			}
			c.next, c.last = nil, nil
			return true
		}
		prev = c
	}
	return false
}

func (l *waiterList) each(fn func(*waiter)) {
	for c := l.head; c != nil; c = c.next {
		fn(c)
	}
}

var (
	freeWaitersMu spinlock.Spinlock // protects freeWaiters
	freeWaiters   *waiter           // free list linked through next
)

// newWaiter returns an unused waiter for t.
func newWaiter(t *sched.Thread, writer bool) *waiter {
	freeWaitersMu.Lock()
	w := freeWaiters
	if w != nil {
		freeWaiters = w.next
	}
	freeWaitersMu.Unlock()
	if w == nil {
		w = new(waiter)
	}
	w.t, w.writer, w.next, w.last = t, writer, nil, nil
	w.destroyed = false
	return w
}

// freeWaiter returns an unused waiter to the free pool.
func freeWaiter(w *waiter) {
	w.t, w.last = nil, nil
	freeWaitersMu.Lock()
	w.next = freeWaiters
	freeWaiters = w
	freeWaitersMu.Unlock()
}
