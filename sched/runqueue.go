// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sched

// A runQueue is an intrusive singly-linked list of ready threads ordered by
// descending priority, FIFO among threads of equal priority.  It is
// guarded by the scheduler lock.
type runQueue struct {
	cpu   int // owning CPU, or -1 for shared queues
	head  *Thread
	count int
}

// insert places t behind every queued thread of equal or higher priority.
func (q *runQueue) insert(t *Thread) {
	var prev *Thread
	for c := q.head; c != nil && c.priority >= t.priority; c = c.queueNext {
		prev = c
	}
	if prev == nil {
		t.queueNext = q.head
		q.head = t
	} else {
		t.queueNext = prev.queueNext
		prev.queueNext = t
	}
	t.queuedIn = q
	q.count++
}

// remove unlinks t, returning false if t is not in q.
func (q *runQueue) remove(t *Thread) bool {
	if t.queuedIn != q {
		return false
	}
	var prev *Thread
	for c := q.head; c != nil; c = c.queueNext {
		if c == t {
			if prev == nil {
				q.head = c.queueNext
			} else {
				prev.queueNext = c.queueNext
			}
			t.queueNext = nil
			t.queuedIn = nil
			q.count--
			return true
		}
		prev = c
	}
	return false
}

// popHead removes and returns the first thread, or nil.
func (q *runQueue) popHead() *Thread {
	t := q.head
	if t != nil {
		q.remove(t)
	}
	return t
}

// each calls fn on the queued threads in order until fn returns false.
func (q *runQueue) each(fn func(*Thread) bool) {
	for c := q.head; c != nil; c = c.queueNext {
		if !fn(c) {
			return
		}
	}
}
