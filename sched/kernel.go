// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sched implements a multiprocessor kernel's thread scheduler.
//
// Kernel threads are backed by goroutines, but a thread only executes while
// one of the kernel's logical CPUs has switched to it, so at most
// Config.CPUs threads run at once and every scheduling decision is the
// kernel's.  A context switch hands the scheduler lock from the outgoing
// thread to the incoming one.
//
// Interrupts are modelled per CPU: quantum expiry and inter-processor
// reschedule requests are latched and delivered at preemption points
// (Thread.PreemptionPoint, Yield, Snooze and every lock operation) of
// threads that have interrupts enabled.
//
// Two policies are available: "affine" keeps per-CPU run queues and
// steals work when a CPU runs dry; "simple" shares one run queue among all
// CPUs and preempts the CPU running the lowest-priority thread.
package sched

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"v.io/x/ksched/klog"
	"v.io/x/ksched/ktrace"
	"v.io/x/ksched/spinlock"
)

var (
	ErrInterrupted  = errors.New("sched: wait interrupted")
	ErrBadPriority  = errors.New("sched: priority out of range")
	ErrBadCPU       = errors.New("sched: no such cpu")
	ErrLastCPU      = errors.New("sched: cannot disable the last enabled cpu")
	ErrStarted      = errors.New("sched: kernel already started")
	ErrNotSuspended = errors.New("sched: thread is not suspended")
	ErrBadPolicy    = errors.New("sched: unknown scheduling policy")
)

// Defaults for Config fields left zero.
const (
	DefaultQuantum    = 3 * time.Millisecond
	DefaultMaxThreads = 4096
)

// A Debugger is told when threads spawned with Debugged(true) are
// switched out and back in.  Its methods are called with the scheduler
// lock held and must not block.
type Debugger interface {
	ThreadUnscheduled(t *Thread)
	ThreadRescheduled(t *Thread)
}

// Config describes the machine and scheduler to boot.
type Config struct {
	CPUs    int    // number of logical CPUs, 1 if zero
	Policy  string // PolicyAffine or PolicySimpleSMP; chosen by CPU count if empty
	Quantum time.Duration
	// FairnessSkip is the probability with which picking passes over the
	// highest-priority non real-time thread; zero makes picking
	// deterministic.
	FairnessSkip float64
	MaxThreads   int
	Seed         uint32 // fairness skip seed; seeded from Clock if zero
	Clock        func() time.Time
	Debugger     Debugger
}

func (c Config) withDefaults() Config {
	if c.CPUs == 0 {
		c.CPUs = 1
	}
	if c.Policy == "" {
		c.Policy = PolicySimpleSMP
		if c.CPUs > 1 {
			c.Policy = PolicyAffine
		}
	}
	if c.Quantum == 0 {
		c.Quantum = DefaultQuantum
	}
	if c.MaxThreads == 0 {
		c.MaxThreads = DefaultMaxThreads
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

// Validate checks c after defaults have been applied.
func (c Config) Validate() error {
	c = c.withDefaults()
	switch {
	case c.CPUs < 0:
		return fmt.Errorf("sched: invalid cpu count %d", c.CPUs)
	case c.Policy != PolicyAffine && c.Policy != PolicySimpleSMP:
		return fmt.Errorf("%w: %q", ErrBadPolicy, c.Policy)
	case c.Quantum < 0:
		return fmt.Errorf("sched: invalid quantum %v", c.Quantum)
	case math.IsNaN(c.FairnessSkip) || c.FairnessSkip < 0 || c.FairnessSkip >= 1:
		return fmt.Errorf("sched: fairness skip %v not in [0, 1)", c.FairnessSkip)
	case c.MaxThreads < c.CPUs:
		return fmt.Errorf("sched: max threads %d is less than the cpu count %d", c.MaxThreads, c.CPUs)
	}
	return nil
}

// Stats are the kernel's scheduling counters.
type Stats struct {
	ContextSwitches uint64
	IPIs            uint64
	Steals          uint64
	Preemptions     uint64
}

type counters struct {
	contextSwitches atomic.Uint64
	ipis            atomic.Uint64
	steals          atomic.Uint64
	preemptions     atomic.Uint64
}

// A Kernel is a booted (or bootable) set of CPUs and the threads they run.
type Kernel struct {
	cfg    Config
	lock   spinlock.Spinlock // the scheduler lock
	cpus   []*CPU
	policy policy
	nextID atomic.Int64
	stats  counters

	tableLock spinlock.Spinlock // guards threads; ordered after lock
	threads   map[ID]*Thread

	started  atomic.Bool
	haltOnce sync.Once
	halted   chan struct{}
	panicVal atomic.Value // *panicRecord
}

type panicRecord struct {
	thread *Thread
	value  interface{}
}

// New creates a kernel for cfg with one idle thread per CPU.  No thread
// runs until Start.
func New(cfg Config) (*Kernel, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	k := &Kernel{
		cfg:     cfg,
		threads: make(map[ID]*Thread),
		halted:  make(chan struct{}),
	}
	k.cpus = make([]*CPU, cfg.CPUs)
	for i := range k.cpus {
		k.cpus[i] = newCPU(k, i)
	}
	switch cfg.Policy {
	case PolicyAffine:
		k.policy = newAffine(k)
	case PolicySimpleSMP:
		k.policy = newSimpleSMP(k)
	}
	for _, c := range k.cpus {
		idle := k.newThread(fmt.Sprintf("idle thread %d", c.index+1), IdlePriority)
		idle.idle = true
		k.policy.onThreadCreate(idle)
		k.policy.onThreadInit(idle)
		k.register(idle)
		c.bootIdle = idle
	}
	klog.VI(1).Infof("sched: %d cpus, %s policy, quantum %v", cfg.CPUs, cfg.Policy, cfg.Quantum)
	return k, nil
}

// Config returns the configuration the kernel was created with, defaults
// applied.
func (k *Kernel) Config() Config { return k.cfg }

// NumCPUs returns the number of logical CPUs.
func (k *Kernel) NumCPUs() int { return len(k.cpus) }

// Started reports whether the kernel has booted.
func (k *Kernel) Started() bool { return k.started.Load() }

// Halted returns a channel closed when the kernel shuts down or panics.
func (k *Kernel) Halted() <-chan struct{} { return k.halted }

// Panicked returns the value a kernel thread panicked with and the thread,
// or nil if no thread has panicked.
func (k *Kernel) Panicked() (interface{}, *Thread) {
	r, _ := k.panicVal.Load().(*panicRecord)
	if r == nil {
		return nil, nil
	}
	return r.value, r.thread
}

// Stats returns a snapshot of the scheduling counters.
func (k *Kernel) Stats() Stats {
	return Stats{
		ContextSwitches: k.stats.contextSwitches.Load(),
		IPIs:            k.stats.ipis.Load(),
		Steals:          k.stats.steals.Load(),
		Preemptions:     k.stats.preemptions.Load(),
	}
}

func (k *Kernel) now() time.Time { return k.cfg.Clock() }

// Now returns the kernel clock's current time.
func (k *Kernel) Now() time.Time { return k.cfg.Clock() }

func (k *Kernel) isHalted() bool {
	select {
	case <-k.halted:
		return true
	default:
		return false
	}
}

// halt stops the kernel after a kernel thread panicked with r.
func (k *Kernel) halt(t *Thread, r interface{}) {
	k.panicVal.CompareAndSwap(nil, &panicRecord{thread: t, value: r})
	klog.Errorf("sched: %v panicked, kernel halted: %v", t, r)
	k.haltOnce.Do(func() { close(k.halted) })
	for _, c := range k.cpus {
		c.wake.V()
	}
}

func (k *Kernel) register(t *Thread) {
	k.tableLock.Lock()
	k.threads[t.id] = t
	k.tableLock.Unlock()
}

func (k *Kernel) unregister(t *Thread) {
	k.tableLock.Lock()
	delete(k.threads, t.id)
	k.tableLock.Unlock()
}

// Thread returns the live thread with the given ID, or nil.
func (k *Kernel) Thread(id ID) *Thread {
	k.tableLock.Lock()
	defer k.tableLock.Unlock()
	return k.threads[id]
}

// Threads returns the live threads, idle threads included, in no
// particular order.
func (k *Kernel) Threads() []*Thread {
	k.tableLock.Lock()
	defer k.tableLock.Unlock()
	all := make([]*Thread, 0, len(k.threads))
	for _, t := range k.threads {
		all = append(all, t)
	}
	return all
}

func cpuOf(t *Thread) *CPU {
	if t == nil {
		return nil
	}
	return t.cpu
}

func validPriority(prio int32) bool {
	return prio >= LowestActivePriority && prio <= MaxPriority
}

// Spawn creates a thread running fn at the given priority and makes it
// ready.  The thread is destroyed when fn returns or calls Exit.
func (k *Kernel) Spawn(name string, prio int32, fn func(*Thread), opts ...ThreadOpt) (*Thread, error) {
	if !validPriority(prio) {
		return nil, fmt.Errorf("%w: %d", ErrBadPriority, prio)
	}
	if k.isHalted() {
		return nil, fmt.Errorf("sched: spawn %q: kernel halted", name)
	}
	t := k.newThread(name, prio)
	for _, o := range opts {
		switch v := o.(type) {
		case Pinned:
			if int(v) < 0 || int(v) >= len(k.cpus) {
				return nil, fmt.Errorf("%w: %d", ErrBadCPU, int(v))
			}
			t.pinned = int(v)
		case Debugged:
			t.debugged = bool(v)
		}
	}
	k.policy.onThreadCreate(t)
	k.policy.onThreadInit(t)
	k.register(t)
	klog.VI(2).Infof("sched: spawned %v priority %d", t, prio)
	go t.run(fn)
	k.lock.Lock()
	t.state = StateReady
	k.policy.enqueue(nil, t)
	k.lock.Unlock()
	return t, nil
}

// Start boots every CPU: each CPU's idle thread performs the first
// reschedule and then runs the idle loop whenever nothing else is ready.
func (k *Kernel) Start() error {
	if !k.started.CompareAndSwap(false, true) {
		return ErrStarted
	}
	var wg sync.WaitGroup
	wg.Add(len(k.cpus))
	for _, c := range k.cpus {
		go k.bootCPU(c, &wg)
	}
	wg.Wait()
	klog.VI(1).Infof("sched: booted %d cpus", len(k.cpus))
	return nil
}

func (k *Kernel) bootCPU(c *CPU, wg *sync.WaitGroup) {
	idle := c.bootIdle
	k.lock.Lock()
	idle.state = StateRunning
	idle.cpu = c
	idle.previousCPU = c
	idle.lastTime = k.now()
	c.running = idle
	wg.Done()
	idle.nextState = StateReady
	k.reschedule(c)
	k.lock.Unlock()
	idle.interruptsEnabled = true
	idle.idleLoop()
}

// idleLoop halts the CPU until an interrupt arrives.
func (t *Thread) idleLoop() {
	for !t.k.isHalted() {
		t.cpu.wake.P()
		t.PreemptionPoint()
	}
}

// Shutdown stops the idle loops and quantum timers.  Threads that are
// running keep running until they block.
func (k *Kernel) Shutdown() {
	k.haltOnce.Do(func() { close(k.halted) })
	k.lock.Lock()
	for _, c := range k.cpus {
		c.cancelQuantum()
	}
	k.lock.Unlock()
	for _, c := range k.cpus {
		c.wake.V()
	}
	klog.VI(1).Infof("sched: shut down")
}

// preempt asks target to reschedule: a local request when target is the
// caller's CPU, an inter-processor interrupt otherwise.  Called with the
// scheduler lock held.
func (k *Kernel) preempt(cur, target *CPU) {
	if target == cur {
		target.invokeScheduler.Store(true)
		return
	}
	k.stats.ipis.Add(1)
	target.ipis.Add(1)
	target.latchReschedule()
}

// Enqueue makes t, which must be neither queued, running nor waiting,
// ready to run.  cur is the calling thread, or nil.
func (k *Kernel) Enqueue(cur, t *Thread) {
	k.lock.Lock()
	k.enqueueLocked(cpuOf(cur), t)
	k.lock.Unlock()
}

func (k *Kernel) enqueueLocked(cur *CPU, t *Thread) {
	if t.queuedIn != nil || t.state == StateRunning || t.state == StateFreeOnResched {
		k.lock.Unlock()
		klog.Panicf("sched: enqueue of %v in state %v (queued %v)", t, t.state, t.queuedIn != nil)
	}
	t.state = StateReady
	k.policy.enqueue(cur, t)
}

// SetPriority changes t's priority, requeueing it if it is queued.
func (k *Kernel) SetPriority(cur, t *Thread, prio int32) error {
	if !validPriority(prio) || t.idle {
		return fmt.Errorf("%w: %d", ErrBadPriority, prio)
	}
	k.lock.Lock()
	defer k.lock.Unlock()
	old := t.priority
	if t.queuedIn != nil {
		k.policy.dequeue(t)
		k.notifyRemoved(t)
		t.priority = prio
		k.policy.enqueue(cpuOf(cur), t)
		return nil
	}
	t.priority = prio
	if t.state == StateRunning && prio < old {
		k.preempt(cpuOf(cur), t.cpu)
	}
	return nil
}

// Suspend blocks the calling thread cur until another thread resumes it.
func (k *Kernel) Suspend(cur *Thread) {
	state := cur.DisableInterrupts()
	k.lock.Lock()
	cur.nextState = StateSuspended
	k.reschedule(cur.cpu)
	k.lock.Unlock()
	cur.RestoreInterrupts(state)
}

// Resume makes the suspended thread t ready.
func (k *Kernel) Resume(cur, t *Thread) error {
	k.lock.Lock()
	defer k.lock.Unlock()
	if t.state != StateSuspended || t.queuedIn != nil {
		return fmt.Errorf("%w: %v is %v", ErrNotSuspended, t, t.state)
	}
	t.state = StateReady
	k.policy.enqueue(cpuOf(cur), t)
	return nil
}

// ResetThread reinitializes t's scheduling statistics, as when the thread
// starts a new program.
func (k *Kernel) ResetThread(t *Thread) {
	k.lock.Lock()
	if t.stats == nil || t.state == StateFreeOnResched {
		k.lock.Unlock()
		klog.Panicf("sched: reset of exited thread %v", t)
	}
	k.policy.onThreadInit(t)
	k.lock.Unlock()
}

// SetCPUEnabled takes a CPU offline or brings it back.  Queued unpinned
// threads of a disabled CPU move elsewhere; the last enabled CPU cannot be
// disabled.
func (k *Kernel) SetCPUEnabled(cur *Thread, index int, enabled bool) error {
	if index < 0 || index >= len(k.cpus) {
		return fmt.Errorf("%w: %d", ErrBadCPU, index)
	}
	c := k.cpus[index]
	k.lock.Lock()
	if !enabled && !c.disabled {
		n := 0
		for _, o := range k.cpus {
			if !o.disabled {
				n++
			}
		}
		if n == 1 {
			k.lock.Unlock()
			return ErrLastCPU
		}
	}
	changed := c.disabled == enabled
	c.disabled = !enabled
	if changed {
		if !enabled {
			k.policy.cpuDisabled(cpuOf(cur), c)
		}
		k.preempt(cpuOf(cur), c)
	}
	k.lock.Unlock()
	if changed {
		klog.VI(1).Infof("sched: cpu %d enabled=%v", index, enabled)
	}
	return nil
}

// CPUEnabled reports whether the CPU with the given index is online.
func (k *Kernel) CPUEnabled(index int) bool {
	k.lock.Lock()
	defer k.lock.Unlock()
	return !k.cpus[index].disabled
}

func (k *Kernel) notifyEnqueued(t *Thread, cpu int) {
	if !ktrace.Active() {
		return
	}
	ktrace.Notify(&ktrace.Event{
		Kind:     ktrace.ThreadEnqueued,
		Time:     k.now(),
		CPU:      cpu,
		Thread:   int64(t.id),
		Name:     t.name,
		Priority: t.priority,
	})
}

func (k *Kernel) notifyRemoved(t *Thread) {
	if !ktrace.Active() {
		return
	}
	cpu := -1
	if t.previousCPU != nil {
		cpu = t.previousCPU.index
	}
	ktrace.Notify(&ktrace.Event{
		Kind:     ktrace.ThreadRemoved,
		Time:     k.now(),
		CPU:      cpu,
		Thread:   int64(t.id),
		Name:     t.name,
		Priority: t.priority,
	})
}
