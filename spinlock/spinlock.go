// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package spinlock provides the low-level mutual exclusion primitive used by
// the scheduler and by the blocking locks to protect their own metadata.
//
// A Spinlock busy-waits and never blocks the calling thread.  Critical
// sections must be short, must not block, and must be entered with
// interrupts disabled on the calling thread (see sched.Thread's
// DisableInterrupts).  A Spinlock is not owned: the kernel's context switch
// acquires the scheduler's Spinlock in one thread and releases it in
// another.
package spinlock

import (
	"runtime"
	"sync/atomic"
)

// A Spinlock is a busy-waiting lock.  Its zero value is unlocked.
type Spinlock struct {
	word uint32 // 1 while held; read and written atomically
}

// delay is used in spinloops to delay resumption of the loop.
// Usage:
//
//	var attempts uint
//	for try_something {
//	   attempts = delay(attempts)
//	}
func delay(attempts uint) uint {
	if attempts < 7 {
		for i := 0; i != 1<<attempts; i++ {
		}
		attempts++
	} else {
		runtime.Gosched()
	}
	return attempts
}

// Lock spins until *l is free and then acquires it.  It performs an acquire
// barrier.
func (l *Spinlock) Lock() {
	var attempts uint
	for atomic.LoadUint32(&l.word) != 0 || !atomic.CompareAndSwapUint32(&l.word, 0, 1) { // acquire CAS
		attempts = delay(attempts)
	}
}

// TryLock attempts to acquire *l without spinning, and returns whether it
// succeeded.
func (l *Spinlock) TryLock() bool {
	return atomic.LoadUint32(&l.word) == 0 && atomic.CompareAndSwapUint32(&l.word, 0, 1)
}

// Unlock releases *l.  Unlocking a free Spinlock panics.
func (l *Spinlock) Unlock() {
	if !atomic.CompareAndSwapUint32(&l.word, 1, 0) { // release CAS
		panic("attempt to Unlock a free spinlock.Spinlock")
	}
}

// IsLocked returns whether *l is currently held by someone.
func (l *Spinlock) IsLocked() bool {
	return atomic.LoadUint32(&l.word) != 0
}

// AssertHeld panics if *l is not held.
func (l *Spinlock) AssertHeld() {
	if !l.IsLocked() {
		panic("spinlock.Spinlock not held")
	}
}
