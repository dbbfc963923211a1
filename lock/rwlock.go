// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lock

import (
	"fmt"
	"io"
	"sync/atomic"

	"v.io/x/ksched/klog"
	"v.io/x/ksched/ktrace"
	"v.io/x/ksched/sched"
	"v.io/x/ksched/spinlock"
)

// An RWLock is a reader-writer lock with writer preference: once a writer
// queues, readers arriving later queue behind it.  The write holder may
// take the lock again for reading or writing.
type RWLock struct {
	spin   spinlock.Spinlock // protects the fields below
	name   string
	reason string
	addr   uintptr

	waiters waiterList
	holder  atomic.Pointer[sched.Thread]
	// Number of threads holding the lock for reading.
	readerCount int
	// Number of writers holding or waiting for the lock.
	writerCount int
	// Recursive acquisitions by the write holder, reads included.
	ownerCount int
}

// Init initializes l as an unlocked reader-writer lock named name.  Like
// Mutex.Init it registers l until Destroy is called.
func (l *RWLock) Init(name string) {
	l.name = name
	l.reason = "rwlock " + name
	l.waiters = waiterList{}
	l.holder.Store(nil)
	l.readerCount, l.writerCount, l.ownerCount = 0, 0, 0
	l.addr = register(KindRWLock, l)
}

// Name returns the lock's name.
func (l *RWLock) Name() string { return l.name }

// Holder returns the write holder, or nil.
func (l *RWLock) Holder() *sched.Thread { return l.holder.Load() }

// Counts returns the reader, writer and owner counts.
func (l *RWLock) Counts() (readers, writers, owners int) {
	l.spin.Lock()
	defer l.spin.Unlock()
	return l.readerCount, l.writerCount, l.ownerCount
}

// ReadLock acquires l for reading.  It blocks while a writer holds or
// waits for l, unless cur is the write holder.
func (l *RWLock) ReadLock(cur *sched.Thread) error {
	checkInterrupts(cur, KindRWLock, l.name)
	cur.PreemptionPoint()
	state := cur.DisableInterrupts()
	l.spin.Lock()
	if l.tryReadLocked(cur) {
		l.spin.Unlock()
		cur.RestoreInterrupts(state)
		return nil
	}
	return l.wait(cur, false, state)
}

// TryReadLock is like ReadLock but returns ErrWouldBlock instead of
// blocking.
func (l *RWLock) TryReadLock(cur *sched.Thread) error {
	state := cur.DisableInterrupts()
	l.spin.Lock()
	ok := l.tryReadLocked(cur)
	l.spin.Unlock()
	cur.RestoreInterrupts(state)
	if !ok {
		return ErrWouldBlock
	}
	return nil
}

func (l *RWLock) tryReadLocked(cur *sched.Thread) bool {
	if l.writerCount == 0 {
		l.readerCount++
		return true
	}
	if l.holder.Load() == cur {
		l.ownerCount++
		return true
	}
	return false
}

// ReadUnlock releases a read acquisition of l.
func (l *RWLock) ReadUnlock(cur *sched.Thread) {
	state := cur.DisableInterrupts()
	l.spin.Lock()
	if l.holder.Load() == cur {
		l.ownerCount--
		if l.ownerCount == 0 {
			// The read acquisition outlived the write acquisitions.
			l.writerCount--
			l.holder.Store(nil)
			l.unblockLocked(cur)
		}
	} else {
		if l.readerCount <= 0 {
			l.spin.Unlock()
			cur.RestoreInterrupts(state)
			klog.Panicf("rwlock %q (%#x): read unlock by %v with no readers", l.name, l.addr, cur)
		}
		l.readerCount--
		l.unblockLocked(cur)
	}
	l.spin.Unlock()
	cur.RestoreInterrupts(state)
	cur.PreemptionPoint()
}

// WriteLock acquires l for writing, blocking while readers or another
// writer hold it.  The write holder may call it again.
func (l *RWLock) WriteLock(cur *sched.Thread) error {
	checkInterrupts(cur, KindRWLock, l.name)
	cur.PreemptionPoint()
	state := cur.DisableInterrupts()
	l.spin.Lock()
	if l.tryWriteLocked(cur) {
		l.spin.Unlock()
		cur.RestoreInterrupts(state)
		return nil
	}
	l.writerCount++
	return l.wait(cur, true, state)
}

// TryWriteLock is like WriteLock but returns ErrWouldBlock instead of
// blocking.
func (l *RWLock) TryWriteLock(cur *sched.Thread) error {
	state := cur.DisableInterrupts()
	l.spin.Lock()
	ok := l.tryWriteLocked(cur)
	l.spin.Unlock()
	cur.RestoreInterrupts(state)
	if !ok {
		return ErrWouldBlock
	}
	return nil
}

func (l *RWLock) tryWriteLocked(cur *sched.Thread) bool {
	if l.readerCount == 0 && l.writerCount == 0 {
		l.writerCount++
		l.holder.Store(cur)
		l.ownerCount = 1
		return true
	}
	if l.holder.Load() == cur {
		l.ownerCount++
		return true
	}
	return false
}

// WriteUnlock releases a write acquisition of l.
func (l *RWLock) WriteUnlock(cur *sched.Thread) {
	state := cur.DisableInterrupts()
	l.spin.Lock()
	if h := l.holder.Load(); h != cur {
		l.spin.Unlock()
		cur.RestoreInterrupts(state)
		klog.Panicf("rwlock %q (%#x): write unlock by %v, holder is %s", l.name, l.addr, cur, holderString(h))
	}
	l.ownerCount--
	if l.ownerCount == 0 {
		l.writerCount--
		l.holder.Store(nil)
		l.unblockLocked(cur)
	}
	l.spin.Unlock()
	cur.RestoreInterrupts(state)
	cur.PreemptionPoint()
}

// wait queues cur and blocks.  Called with the spinlock held and
// interrupts disabled; returns with neither.
func (l *RWLock) wait(cur *sched.Thread, writer bool, state bool) error {
	w := newWaiter(cur, writer)
	l.waiters.push(w)
	notifyWaiter(ktrace.LockWaiterEnqueued, l.addr, l.name, cur, writer)
	cur.PrepareToBlock(false, l.reason)
	l.spin.Unlock()
	cur.RestoreInterrupts(state)
	err := cur.Block()
	freeWaiter(w)
	return err
}

// unblockLocked wakes the writer at the head of the queue if nobody holds
// the lock, or else the run of readers at the head.
func (l *RWLock) unblockLocked(cur *sched.Thread) int {
	w := l.waiters.head
	if w == nil || l.holder.Load() != nil {
		return 0
	}
	if w.writer {
		if l.readerCount > 0 {
			return 0
		}
		l.waiters.pop()
		t := w.t
		l.holder.Store(t)
		l.ownerCount = 1
		notifyWaiter(ktrace.LockWaiterDequeued, l.addr, l.name, t, true)
		cur.Kernel().Unblock(cur, t, nil)
		return 1
	}
	n := 0
	for w = l.waiters.head; w != nil && !w.writer; w = l.waiters.head {
		l.waiters.pop()
		t := w.t
		l.readerCount++
		n++
		notifyWaiter(ktrace.LockWaiterDequeued, l.addr, l.name, t, false)
		cur.Kernel().Unblock(cur, t, nil)
	}
	return n
}

// Destroy wakes any remaining waiters with ErrDestroyed and unregisters l.
// Destroying a lock with waiters is only allowed to its write holder;
// release builds acquire the write lock first instead.
func (l *RWLock) Destroy(cur *sched.Thread) {
	state := cur.DisableInterrupts()
	l.spin.Lock()
	if !l.waiters.empty() && l.holder.Load() != cur {
		h := l.holder.Load()
		l.spin.Unlock()
		cur.RestoreInterrupts(state)
		if debugLocks {
			klog.Panicf("rwlock %q (%#x): destroyed by %v with waiters, holder is %s", l.name, l.addr, cur, holderString(h))
		}
		l.WriteLock(cur)
		state = cur.DisableInterrupts()
		l.spin.Lock()
	}
	for w := l.waiters.pop(); w != nil; w = l.waiters.pop() {
		t := w.t
		notifyWaiter(ktrace.LockWaiterDequeued, l.addr, l.name, t, w.writer)
		cur.Kernel().Unblock(cur, t, ErrDestroyed)
	}
	l.holder.Store(nil)
	l.readerCount, l.writerCount, l.ownerCount = 0, 0, 0
	l.spin.Unlock()
	cur.RestoreInterrupts(state)
	unregister(l)
	klog.VI(2).Infof("lock: destroyed rwlock %q", l.name)
}

// Dump writes l's name, holder, counts and waiters to w.
func (l *RWLock) Dump(w io.Writer) {
	type entry struct {
		id     sched.ID
		writer bool
	}
	l.spin.Lock()
	h := l.holder.Load()
	readers, writers, owners := l.readerCount, l.writerCount, l.ownerCount
	var waiting []entry
	l.waiters.each(func(wt *waiter) { waiting = append(waiting, entry{wt.t.ID(), wt.writer}) })
	l.spin.Unlock()
	fmt.Fprintf(w, "rw lock %#x:\n", l.addr)
	fmt.Fprintf(w, "  name:            %s\n", l.name)
	fmt.Fprintf(w, "  holder:          %s\n", holderString(h))
	fmt.Fprintf(w, "  reader count:    %d\n", readers)
	fmt.Fprintf(w, "  writer count:    %d\n", writers)
	fmt.Fprintf(w, "  owner count:     %d\n", owners)
	fmt.Fprintf(w, "  waiting threads:")
	for _, e := range waiting {
		kind := "r"
		if e.writer {
			kind = "w"
		}
		fmt.Fprintf(w, " %d/%s", e.id, kind)
	}
	fmt.Fprintln(w)
}
