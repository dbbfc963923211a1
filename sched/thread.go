// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sched

import (
	"fmt"
	"runtime"
	"time"

	"v.io/x/ksched/klog"
)

// Priorities.  Higher is more urgent.
const (
	IdlePriority          = 0
	LowestActivePriority  = 1
	NormalPriority        = 10
	FirstRealTimePriority = 100
	MaxPriority           = 120
)

// ID identifies a thread.
type ID int64

// State is a thread's scheduling state.
type State int

const (
	StateReady         State = iota // queued, not running
	StateRunning                    // executing on a CPU
	StateWaiting                    // blocked on a wait, not queued
	StateSuspended                  // blocked until resumed, not queued
	StateFreeOnResched              // terminal; destroyed while switching away
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateWaiting:
		return "waiting"
	case StateSuspended:
		return "suspended"
	case StateFreeOnResched:
		return "free-on-resched"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ThreadOpt is an option accepted by Kernel.Spawn.
type ThreadOpt interface {
	ThreadOpt()
}

// Pinned restricts a thread to the CPU with the given index.
type Pinned int

// Debugged marks a thread as attached to a user debugger; the kernel's
// Debugger is told whenever it is unscheduled or rescheduled.
type Debugged bool

func (Pinned) ThreadOpt()   {}
func (Debugged) ThreadOpt() {}

// waitState describes a thread's current or last wait.  All fields are
// guarded by the scheduler lock.
type waitState struct {
	waiting       bool
	interruptible bool
	seq           uint64
	err           error
	reason        string
}

// A Thread is a kernel thread.  Unless noted otherwise, fields are guarded
// by the kernel's scheduler lock.
type Thread struct {
	k    *Kernel
	id   ID
	name string
	idle bool // constant after creation

	priority    int32
	state       State
	nextState   State
	pinned      int // CPU index, or -1
	debugged    bool
	cpu         *CPU // CPU running the thread, nil unless running
	previousCPU *CPU

	// Run-queue linkage; the queue holding the thread owns queueNext.
	queueNext *Thread
	queuedIn  *runQueue

	kernelTime time.Duration
	userTime   time.Duration
	userMode   bool
	lastTime   time.Time

	stats *threadStats // policy statistics block
	wait  waitState

	// Accessed only by the thread itself.
	interruptsEnabled bool

	sem  binarySemaphore // the thread parks here while switched out
	done chan struct{}
}

func (k *Kernel) newThread(name string, priority int32) *Thread {
	return &Thread{
		k:         k,
		id:        ID(k.nextID.Add(1)),
		name:      name,
		priority:  priority,
		state:     StateSuspended,
		nextState: StateReady,
		pinned:    -1,
		sem:       newBinarySemaphore(),
		done:      make(chan struct{}),
	}
}

// ID returns the thread's identity.
func (t *Thread) ID() ID { return t.id }

// Name returns the thread's name.
func (t *Thread) Name() string { return t.name }

// Kernel returns the kernel the thread belongs to.
func (t *Thread) Kernel() *Kernel { return t.k }

// IsIdle returns whether t is one of the kernel's idle threads.
func (t *Thread) IsIdle() bool { return t.idle }

// PinnedCPU returns the CPU t is pinned to, or -1.
func (t *Thread) PinnedCPU() int { return t.pinned }

// Done returns a channel that is closed once the thread has been destroyed.
func (t *Thread) Done() <-chan struct{} { return t.done }

// Priority returns the thread's current priority.
func (t *Thread) Priority() int32 {
	t.k.lock.Lock()
	defer t.k.lock.Unlock()
	return t.priority
}

// State returns the thread's current state.
func (t *Thread) State() State {
	t.k.lock.Lock()
	defer t.k.lock.Unlock()
	return t.state
}

// CPU returns the index of the CPU running t, or -1 if t is not running.
func (t *Thread) CPU() int {
	t.k.lock.Lock()
	defer t.k.lock.Unlock()
	if t.cpu == nil {
		return -1
	}
	return t.cpu.index
}

// Times returns the kernel and user time t has accumulated up to its
// last switch.
func (t *Thread) Times() (kernel, user time.Duration) {
	t.k.lock.Lock()
	defer t.k.lock.Unlock()
	return t.kernelTime, t.userTime
}

func (t *Thread) String() string {
	return fmt.Sprintf("thread %d (%s)", t.id, t.name)
}

// InterruptsEnabled reports whether interrupts are enabled on the calling
// thread, which must be t.
func (t *Thread) InterruptsEnabled() bool {
	return t.interruptsEnabled
}

// DisableInterrupts disables interrupt delivery on the calling thread,
// which must be t, and returns the previous state for RestoreInterrupts.
func (t *Thread) DisableInterrupts() bool {
	prev := t.interruptsEnabled
	t.interruptsEnabled = false
	return prev
}

// RestoreInterrupts restores the state returned by DisableInterrupts.
func (t *Thread) RestoreInterrupts(state bool) {
	t.interruptsEnabled = state
}

// SetUserMode charges the time since the last accounting point to the
// current mode and switches t, which must be the calling thread, to user
// or kernel mode.
func (t *Thread) SetUserMode(user bool) {
	t.k.lock.Lock()
	now := t.k.now()
	t.chargeTime(now)
	t.userMode = user
	t.k.lock.Unlock()
}

// chargeTime adds the time since t.lastTime to the current mode.
func (t *Thread) chargeTime(now time.Time) time.Duration {
	if t.lastTime.IsZero() {
		t.lastTime = now
		return 0
	}
	elapsed := now.Sub(t.lastTime)
	if elapsed < 0 {
		elapsed = 0
	}
	if t.userMode {
		t.userTime += elapsed
	} else {
		t.kernelTime += elapsed
	}
	t.lastTime = now
	return elapsed
}

// run is the body of the goroutine backing a spawned thread.
func (t *Thread) run(fn func(*Thread)) {
	t.sem.P()
	// Switched in for the first time: the scheduler lock was handed over
	// by the thread we replaced.
	t.k.lock.Unlock()
	t.interruptsEnabled = true
	defer func() {
		if r := recover(); r != nil {
			t.k.halt(t, r)
			return
		}
		t.exit()
	}()
	fn(t)
}

// Exit terminates t, which must be the calling thread.  Deferred calls of
// the thread's body run before the thread is destroyed.
func (t *Thread) Exit() {
	runtime.Goexit()
}

// exit destroys the calling thread.  The scheduler lock is handed to the
// next thread and never returned.
func (t *Thread) exit() {
	klog.VI(2).Infof("sched: %v exiting", t)
	t.DisableInterrupts()
	t.k.lock.Lock()
	t.nextState = StateFreeOnResched
	t.k.reschedule(t.cpu)
}

// Yield gives up the CPU; t, which must be the calling thread, stays
// ready and is requeued behind threads of equal priority.
func (t *Thread) Yield() {
	state := t.DisableInterrupts()
	t.k.lock.Lock()
	t.nextState = StateReady
	t.k.reschedule(t.cpu)
	t.k.lock.Unlock()
	t.RestoreInterrupts(state)
}

// PreemptionPoint delivers pending interrupts to t, which must be the
// calling thread: if its quantum has expired, or another processor asked
// this one to reschedule, t is preempted.  Interrupts are only delivered
// at preemption points, and only if enabled.
func (t *Thread) PreemptionPoint() {
	if !t.interruptsEnabled {
		return
	}
	cpu := t.cpu
	if cpu == nil || !cpu.invokeScheduler.Load() {
		return
	}
	t.interruptsEnabled = false
	t.k.lock.Lock()
	if cpu.invokeScheduler.Load() {
		if cpu.preempted.Load() {
			t.k.stats.preemptions.Add(1)
		}
		t.nextState = StateReady
		t.k.reschedule(cpu)
	}
	t.k.lock.Unlock()
	t.interruptsEnabled = true
}
