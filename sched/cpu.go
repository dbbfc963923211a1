// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sched

import (
	"math"
	"sync/atomic"
	"time"
)

// A CPU is a logical processor.  Unless noted otherwise, fields are
// guarded by the kernel's scheduler lock.
type CPU struct {
	k     *Kernel
	index int

	disabled bool
	running  *Thread
	bootIdle *Thread // the idle thread whose goroutine boots this CPU

	activeTime time.Duration // non-idle time run on this CPU

	// Interrupt state; set from timer callbacks and other CPUs.
	preempted       atomic.Bool
	invokeScheduler atomic.Bool
	wake            binarySemaphore

	// One outstanding quantum timer.  A callback whose deadline is in the
	// future belongs to a cancelled arming and is ignored.
	timer    *time.Timer
	deadline atomic.Int64
	timerGen uint64 // number of armings and cancellations
	ipis     atomic.Uint64
}

func newCPU(k *Kernel, index int) *CPU {
	c := &CPU{
		k:     k,
		index: index,
		wake:  newBinarySemaphore(),
	}
	c.deadline.Store(math.MaxInt64)
	c.timer = time.AfterFunc(time.Duration(math.MaxInt64), c.quantumExpired)
	c.timer.Stop()
	return c
}

// Index returns the CPU's index.
func (c *CPU) Index() int { return c.index }

// armQuantum starts a one-shot quantum of length d, cancelling the
// previous one.
func (c *CPU) armQuantum(d time.Duration) {
	c.cancelQuantum()
	c.deadline.Store(time.Now().Add(d).UnixNano())
	c.timer.Reset(d)
}

func (c *CPU) cancelQuantum() {
	c.timerGen++
	c.deadline.Store(math.MaxInt64)
	c.timer.Stop()
}

// quantumExpired runs in interrupt context.
func (c *CPU) quantumExpired() {
	if time.Now().UnixNano() < c.deadline.Load() {
		return
	}
	c.deadline.Store(math.MaxInt64)
	c.preempted.Store(true)
	c.latchReschedule()
}

// latchReschedule asks c to reschedule at its next preemption point and
// wakes it if it is halted in its idle loop.
func (c *CPU) latchReschedule() {
	c.invokeScheduler.Store(true)
	c.wake.V()
}
