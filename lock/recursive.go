// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lock

import (
	"fmt"
	"io"
	"sync/atomic"

	"v.io/x/ksched/klog"
	"v.io/x/ksched/sched"
)

// A RecursiveLock is a mutex its holder may acquire again; it is released
// when the holder has unlocked it as many times as it locked it.
type RecursiveLock struct {
	m      Mutex
	holder atomic.Pointer[sched.Thread]
	depth  int // guarded by holding m
}

// Init initializes r as an unlocked recursive lock named name.  Like
// Mutex.Init it registers r until Destroy is called.
func (r *RecursiveLock) Init(name string) {
	r.m.init(name)
	r.holder.Store(nil)
	r.depth = 0
	r.m.addr = register(KindRecursive, r)
}

// Name returns the lock's name.
func (r *RecursiveLock) Name() string { return r.m.name }

// Holder returns the thread holding r, or nil.
func (r *RecursiveLock) Holder() *sched.Thread { return r.holder.Load() }

// Depth returns the holder's recursion depth.  Only meaningful to the
// holder.
func (r *RecursiveLock) Depth() int { return r.depth }

// Lock acquires r, or increments the recursion depth if cur holds it.
func (r *RecursiveLock) Lock(cur *sched.Thread) error {
	if r.holder.Load() == cur {
		r.depth++
		return nil
	}
	if err := r.m.Lock(cur); err != nil {
		return err
	}
	r.holder.Store(cur)
	r.depth = 1
	return nil
}

// TryLock is like Lock but returns ErrWouldBlock instead of blocking.
func (r *RecursiveLock) TryLock(cur *sched.Thread) error {
	if r.holder.Load() == cur {
		r.depth++
		return nil
	}
	if err := r.m.TryLock(cur); err != nil {
		return err
	}
	r.holder.Store(cur)
	r.depth = 1
	return nil
}

// Unlock decrements the recursion depth and releases r when it reaches
// zero.
func (r *RecursiveLock) Unlock(cur *sched.Thread) {
	if h := r.holder.Load(); h != cur {
		klog.Panicf("recursive lock %q (%#x): unlocked by %v, holder is %s", r.m.name, r.m.addr, cur, holderString(h))
	}
	r.depth--
	if r.depth > 0 {
		return
	}
	r.holder.Store(nil)
	r.m.Unlock(cur)
}

// Destroy wakes any remaining waiters with ErrDestroyed and unregisters r.
func (r *RecursiveLock) Destroy(cur *sched.Thread) {
	state := cur.DisableInterrupts()
	r.m.spin.Lock()
	if !r.m.waiters.empty() && r.holder.Load() != cur {
		h := r.holder.Load()
		r.m.spin.Unlock()
		cur.RestoreInterrupts(state)
		if debugLocks {
			klog.Panicf("recursive lock %q (%#x): destroyed by %v with waiters, holder is %s", r.m.name, r.m.addr, cur, holderString(h))
		}
		r.Lock(cur)
		state = cur.DisableInterrupts()
		r.m.spin.Lock()
	}
	r.m.wakeAllLocked(cur)
	r.m.holder.Store(nil)
	r.holder.Store(nil)
	r.depth = 0
	r.m.spin.Unlock()
	cur.RestoreInterrupts(state)
	unregister(r)
	klog.VI(2).Infof("lock: destroyed recursive lock %q", r.m.name)
}

// Dump writes r's name, holder, depth and waiters to w.
func (r *RecursiveLock) Dump(w io.Writer) {
	r.m.spin.Lock()
	h := r.holder.Load()
	depth := r.depth
	var waiting []*sched.Thread
	r.m.waiters.each(func(wt *waiter) { waiting = append(waiting, wt.t) })
	r.m.spin.Unlock()
	fmt.Fprintf(w, "recursive lock %#x:\n", r.m.addr)
	fmt.Fprintf(w, "  name:    %s\n", r.m.name)
	fmt.Fprintf(w, "  holder:  %s\n", holderString(h))
	fmt.Fprintf(w, "  depth:   %d\n", depth)
	fmt.Fprintf(w, "  waiting threads:")
	for _, t := range waiting {
		fmt.Fprintf(w, " %d", t.ID())
	}
	fmt.Fprintln(w)
}
