// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package lock provides the kernel's blocking locks: Mutex, RecursiveLock
// and RWLock.  Waiters queue in FIFO order and an unlock hands ownership
// directly to the first waiter.  Every method takes the calling kernel
// thread.
//
// Default builds track the holder of every lock and report contract
// violations, such as unlocking a lock the caller does not hold, as kernel
// panics.  Builds with -tags ksched_release use a lock-free count for
// uncontended Mutex operations instead.
package lock

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"v.io/x/ksched/klog"
	"v.io/x/ksched/ktrace"
	"v.io/x/ksched/sched"
	"v.io/x/ksched/spinlock"
)

var (
	ErrWouldBlock = errors.New("lock: would block")
	ErrDestroyed  = errors.New("lock: destroyed while waiting")
)

// A Mutex is a blocking mutual-exclusion lock.  It must be initialized
// with Init before use and must not be copied.
type Mutex struct {
	spin   spinlock.Spinlock // protects the fields below
	name   string
	reason string // wait reason shown in thread dumps
	addr   uintptr

	holder atomic.Pointer[sched.Thread]
	// Lock-free fast path: count is minus the number of threads holding
	// or trying to acquire the mutex.
	count             atomic.Int32
	released          bool // unlocked while a locker was on its way to the waiter list
	ignoreUnlockCount int  // slow unlocks owed to interrupted waiters
	waiters           waiterList
}

// Init initializes m as an unlocked mutex named name and registers it
// for lookup and dumps.  The registry keeps m alive until Destroy is
// called, so every initialized mutex must be destroyed.
func (m *Mutex) Init(name string) {
	m.init(name)
	m.addr = register(KindMutex, m)
}

func (m *Mutex) init(name string) {
	m.name = name
	m.reason = "mutex " + name
	m.holder.Store(nil)
	m.count.Store(0)
	m.released = false
	m.ignoreUnlockCount = 0
	m.waiters = waiterList{}
}

// Name returns the mutex's name.
func (m *Mutex) Name() string { return m.name }

// Holder returns the thread holding m, or nil.  Release builds only know
// the holder of a contended mutex.
func (m *Mutex) Holder() *sched.Thread { return m.holder.Load() }

// Lock acquires m, blocking while another thread holds it.
func (m *Mutex) Lock(cur *sched.Thread) error {
	return m.lock(nil, cur)
}

// LockContext is like Lock, but the wait is interrupted when ctx is done,
// in which case it returns sched.ErrInterrupted.  If ownership was handed
// to cur before the interruption took effect, LockContext succeeds.
func (m *Mutex) LockContext(ctx context.Context, cur *sched.Thread) error {
	return m.lock(ctx, cur)
}

func (m *Mutex) lock(ctx context.Context, cur *sched.Thread) error {
	checkInterrupts(cur, KindMutex, m.name)
	cur.PreemptionPoint()
	if !debugLocks && m.count.Add(-1) == -1 {
		m.holder.Store(cur)
		return nil
	}
	state := cur.DisableInterrupts()
	m.spin.Lock()
	if m.acquireLocked(cur) {
		m.spin.Unlock()
		cur.RestoreInterrupts(state)
		return nil
	}
	w := m.enqueueLocked(cur)
	seq := cur.PrepareToBlock(ctx != nil, m.reason)
	m.spin.Unlock()
	cur.RestoreInterrupts(state)
	return m.wait(ctx, cur, w, seq)
}

// acquireLocked takes m if it is free, after the fast path failed.
func (m *Mutex) acquireLocked(cur *sched.Thread) bool {
	if debugLocks {
		switch m.holder.Load() {
		case nil:
			m.holder.Store(cur)
			return true
		case cur:
			m.spin.Unlock()
			klog.Panicf("mutex %q (%#x): double lock by %v", m.name, m.addr, cur)
		}
		return false
	}
	if m.released {
		m.released = false
		m.holder.Store(cur)
		return true
	}
	return false
}

func (m *Mutex) enqueueLocked(cur *sched.Thread) *waiter {
	w := newWaiter(cur, false)
	m.waiters.push(w)
	notifyWaiter(ktrace.LockWaiterEnqueued, m.addr, m.name, cur, false)
	return w
}

// wait blocks until w is handed the mutex, the mutex is destroyed, or the
// wait is interrupted.
func (m *Mutex) wait(ctx context.Context, cur *sched.Thread, w *waiter, seq uint64) error {
	if ctx != nil {
		stop := context.AfterFunc(ctx, func() {
			cur.Kernel().InterruptWait(cur, seq)
		})
		defer stop()
	}
	err := cur.Block()
	if err == nil || errors.Is(err, ErrDestroyed) {
		freeWaiter(w)
		return err
	}
	state := cur.DisableInterrupts()
	m.spin.Lock()
	if !m.waiters.remove(w) {
		// Dequeued before the interruption: either an unlock handed us m
		// or Destroy woke us.
		destroyed := w.destroyed
		m.spin.Unlock()
		cur.RestoreInterrupts(state)
		freeWaiter(w)
		if destroyed {
			return ErrDestroyed
		}
		return nil
	}
	notifyWaiter(ktrace.LockWaiterDequeued, m.addr, m.name, cur, false)
	if !debugLocks && m.count.Add(1) == 0 {
		// The holder already committed to a slow unlock on our behalf.
		m.ignoreUnlockCount++
	}
	m.spin.Unlock()
	cur.RestoreInterrupts(state)
	freeWaiter(w)
	return err
}

// TryLock acquires m only if it is free, returning ErrWouldBlock otherwise.
func (m *Mutex) TryLock(cur *sched.Thread) error {
	if !debugLocks {
		if !m.count.CompareAndSwap(0, -1) {
			return ErrWouldBlock
		}
		m.holder.Store(cur)
		return nil
	}
	state := cur.DisableInterrupts()
	m.spin.Lock()
	defer func() {
		m.spin.Unlock()
		cur.RestoreInterrupts(state)
	}()
	if m.holder.Load() != nil {
		return ErrWouldBlock
	}
	m.holder.Store(cur)
	return nil
}

// Unlock releases m.  If threads are waiting, the first of them becomes the
// holder.
func (m *Mutex) Unlock(cur *sched.Thread) {
	m.unlock(cur)
	cur.PreemptionPoint()
}

func (m *Mutex) unlock(cur *sched.Thread) {
	if !debugLocks {
		m.holder.Store(nil)
		if m.count.Add(1) >= 0 {
			return
		}
	}
	state := cur.DisableInterrupts()
	m.spin.Lock()
	if debugLocks {
		if h := m.holder.Load(); h != cur {
			m.spin.Unlock()
			cur.RestoreInterrupts(state)
			klog.Panicf("mutex %q (%#x): unlocked by %v, holder is %s", m.name, m.addr, cur, holderString(h))
		}
	} else if m.ignoreUnlockCount > 0 {
		m.ignoreUnlockCount--
		m.spin.Unlock()
		cur.RestoreInterrupts(state)
		return
	}
	m.handOffLocked(cur)
	m.spin.Unlock()
	cur.RestoreInterrupts(state)
}

// handOffLocked passes m to the first waiter or marks it free.
func (m *Mutex) handOffLocked(cur *sched.Thread) {
	w := m.waiters.pop()
	if w == nil {
		m.holder.Store(nil)
		if !debugLocks {
			m.released = true
		}
		return
	}
	t := w.t
	m.holder.Store(t)
	notifyWaiter(ktrace.LockWaiterDequeued, m.addr, m.name, t, false)
	cur.Kernel().Unblock(cur, t, nil)
}

// SwitchLock releases from and acquires m, queueing cur on m before from
// is released so that no thread can take m ahead of cur in between.
func (m *Mutex) SwitchLock(from *Mutex, cur *sched.Thread) error {
	checkInterrupts(cur, KindMutex, m.name)
	state := cur.DisableInterrupts()
	m.spin.Lock()
	acquired := false
	if !debugLocks {
		acquired = m.count.Add(-1) == -1
		if acquired {
			m.holder.Store(cur)
		}
	}
	if !acquired {
		acquired = m.acquireLocked(cur)
	}
	if acquired {
		m.spin.Unlock()
		from.unlock(cur)
		cur.RestoreInterrupts(state)
		cur.PreemptionPoint()
		return nil
	}
	w := m.enqueueLocked(cur)
	cur.PrepareToBlock(false, m.reason)
	m.spin.Unlock()
	from.unlock(cur)
	cur.RestoreInterrupts(state)
	return m.wait(nil, cur, w, 0)
}

// Destroy wakes any remaining waiters with ErrDestroyed and unregisters m.
// Destroying a mutex with waiters is only allowed to its holder; release
// builds acquire it first instead.
func (m *Mutex) Destroy(cur *sched.Thread) {
	state := cur.DisableInterrupts()
	m.spin.Lock()
	if !m.waiters.empty() && m.holder.Load() != cur {
		h := m.holder.Load()
		m.spin.Unlock()
		cur.RestoreInterrupts(state)
		if debugLocks {
			klog.Panicf("mutex %q (%#x): destroyed by %v with waiters, holder is %s", m.name, m.addr, cur, holderString(h))
		}
		m.Lock(cur)
		state = cur.DisableInterrupts()
		m.spin.Lock()
	}
	m.wakeAllLocked(cur)
	m.holder.Store(nil)
	m.spin.Unlock()
	cur.RestoreInterrupts(state)
	unregister(m)
	klog.VI(2).Infof("lock: destroyed mutex %q", m.name)
}

func (m *Mutex) wakeAllLocked(cur *sched.Thread) {
	for w := m.waiters.pop(); w != nil; w = m.waiters.pop() {
		t := w.t
		w.destroyed = true
		notifyWaiter(ktrace.LockWaiterDequeued, m.addr, m.name, t, false)
		cur.Kernel().Unblock(cur, t, ErrDestroyed)
	}
}

// Dump writes m's name, holder and waiters to w.
func (m *Mutex) Dump(w io.Writer) {
	m.spin.Lock()
	h := m.holder.Load()
	var waiting []*sched.Thread
	m.waiters.each(func(wt *waiter) { waiting = append(waiting, wt.t) })
	m.spin.Unlock()
	fmt.Fprintf(w, "mutex %#x:\n", m.addr)
	fmt.Fprintf(w, "  name:    %s\n", m.name)
	fmt.Fprintf(w, "  holder:  %s\n", holderString(h))
	fmt.Fprintf(w, "  waiting threads:")
	for _, t := range waiting {
		fmt.Fprintf(w, " %d", t.ID())
	}
	fmt.Fprintln(w)
}
