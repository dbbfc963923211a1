// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sched

import (
	"time"

	"v.io/x/ksched/klog"
	"v.io/x/ksched/ktrace"
)

// reschedule switches cpu from its running thread to the next thread the
// policy picks.  It is called by the running thread with the scheduler
// lock held and its interrupts disabled, after it set its nextState.
// When the caller resumes, possibly on another CPU, reschedule returns
// with the scheduler lock held again.  A thread leaving with
// StateFreeOnResched is destroyed and its call returns without the lock.
func (k *Kernel) reschedule(cpu *CPU) {
	old := cpu.running
	now := k.now()
	cpu.invokeScheduler.Store(false)
	cpu.preempted.Store(false)

	elapsed := old.chargeTime(now)
	if !old.idle {
		cpu.activeTime += elapsed
		if s := old.stats; s != nil && !s.quantumStart.IsZero() {
			used := now.Sub(s.quantumStart)
			if s.quantumLength > 0 && used > s.quantumLength {
				used = s.quantumLength
			}
			s.record(used)
		}
	}

	switch old.nextState {
	case StateReady:
		old.state = StateReady
		k.policy.requeue(cpu, old)
	case StateWaiting, StateSuspended, StateFreeOnResched:
		old.state = old.nextState
	default:
		k.lock.Unlock()
		klog.Panicf("sched: %v leaving cpu %d with next state %v", old, cpu.index, old.nextState)
	}

	next := k.policy.pickNext(cpu)
	if next == nil {
		k.lock.Unlock()
		klog.Panicf("sched: cpu %d has nothing to run, not even an idle thread", cpu.index)
	}
	next.state = StateRunning
	next.nextState = StateReady
	next.cpu = cpu
	next.previousCPU = cpu
	next.lastTime = now
	cpu.running = next
	k.armQuantum(cpu, next, now)
	k.notifyScheduled(cpu, old, next, now)

	if next == old {
		return
	}
	k.stats.contextSwitches.Add(1)
	if old.debugged && k.cfg.Debugger != nil {
		k.cfg.Debugger.ThreadUnscheduled(old)
	}
	old.cpu = nil
	if old.state == StateFreeOnResched {
		k.destroy(old)
		next.sem.V()
		return
	}
	next.sem.V()
	old.sem.P()
	if old.debugged && k.cfg.Debugger != nil {
		k.cfg.Debugger.ThreadRescheduled(old)
	}
}

// armQuantum starts next's quantum on cpu.  Idle threads run untimed.
func (k *Kernel) armQuantum(cpu *CPU, next *Thread, now time.Time) {
	q := k.policy.quantumFor(next)
	next.stats.quantumStart = now
	next.stats.quantumLength = q
	if q == 0 || k.isHalted() {
		cpu.cancelQuantum()
		return
	}
	cpu.armQuantum(q)
}

// destroy releases a thread that has left its CPU for good.
func (k *Kernel) destroy(t *Thread) {
	k.policy.onThreadDestroy(t)
	k.unregister(t)
	close(t.done)
}

func (k *Kernel) notifyScheduled(cpu *CPU, old, next *Thread, now time.Time) {
	if !ktrace.Active() {
		return
	}
	ktrace.Notify(&ktrace.Event{
		Kind:         ktrace.ThreadScheduled,
		Time:         now,
		CPU:          cpu.index,
		Thread:       int64(next.id),
		Name:         next.name,
		Priority:     next.priority,
		Previous:     int64(old.id),
		PreviousName: old.name,
	})
}
