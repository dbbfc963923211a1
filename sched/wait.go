// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sched

import "time"

// The wait protocol lets a thread block on an object without losing a
// wakeup that races with its decision to sleep:
//
//	seq := cur.PrepareToBlock(true, "mutex foo")
//	... queue cur on the object, release the object's lock ...
//	err := cur.Block()
//
// A waker calls Kernel.Unblock; if that happens before Block, Block
// returns at once.

// PrepareToBlock marks t, which must be the calling thread, as about to
// wait, and returns the wait's sequence number for InterruptWait.  reason
// describes the object waited on in dumps.
func (t *Thread) PrepareToBlock(interruptible bool, reason string) uint64 {
	t.k.lock.Lock()
	t.wait.seq++
	t.wait.waiting = true
	t.wait.interruptible = interruptible
	t.wait.err = nil
	t.wait.reason = reason
	seq := t.wait.seq
	t.k.lock.Unlock()
	return seq
}

// Block switches away from t, which must be the calling thread, until the
// wait prepared by PrepareToBlock is ended, and returns the status it was
// ended with.
func (t *Thread) Block() error {
	state := t.DisableInterrupts()
	t.k.lock.Lock()
	if t.wait.waiting {
		t.nextState = StateWaiting
		t.k.reschedule(t.cpu)
	}
	err := t.wait.err
	t.wait.reason = ""
	t.k.lock.Unlock()
	t.RestoreInterrupts(state)
	return err
}

// Unblock ends t's current wait with status err and makes t ready if it
// has already blocked.  It returns false if t was not waiting.  cur is
// the calling thread, or nil from interrupt context.
func (k *Kernel) Unblock(cur, t *Thread, err error) bool {
	k.lock.Lock()
	ok := k.unblockLocked(cpuOf(cur), t, err)
	k.lock.Unlock()
	return ok
}

func (k *Kernel) unblockLocked(cur *CPU, t *Thread, err error) bool {
	if !t.wait.waiting {
		return false
	}
	t.wait.waiting = false
	t.wait.err = err
	if t.state == StateWaiting {
		t.state = StateReady
		k.policy.enqueue(cur, t)
	}
	return true
}

// InterruptWait ends t's wait with ErrInterrupted if it is still the
// interruptible wait numbered seq.
func (k *Kernel) InterruptWait(t *Thread, seq uint64) bool {
	k.lock.Lock()
	defer k.lock.Unlock()
	if !t.wait.interruptible || t.wait.seq != seq {
		return false
	}
	return k.unblockLocked(nil, t, ErrInterrupted)
}

// Interrupt ends t's current wait with ErrInterrupted if it is
// interruptible.
func (t *Thread) Interrupt() bool {
	t.k.lock.Lock()
	defer t.k.lock.Unlock()
	if !t.wait.interruptible {
		return false
	}
	return t.k.unblockLocked(nil, t, ErrInterrupted)
}

// WaitReason returns what t is waiting on, or "" if it is not waiting.
func (t *Thread) WaitReason() string {
	t.k.lock.Lock()
	defer t.k.lock.Unlock()
	if !t.wait.waiting {
		return ""
	}
	return t.wait.reason
}

// Snooze blocks t, which must be the calling thread, for d.  It returns
// ErrInterrupted if the sleep was interrupted.
func (t *Thread) Snooze(d time.Duration) error {
	t.PreemptionPoint()
	seq := t.PrepareToBlock(true, "snooze")
	timer := time.AfterFunc(d, func() {
		t.k.lock.Lock()
		if t.wait.seq == seq {
			t.k.unblockLocked(nil, t, nil)
		}
		t.k.lock.Unlock()
	})
	err := t.Block()
	timer.Stop()
	return err
}
