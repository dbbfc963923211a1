// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sched

import (
	"time"

	"v.io/x/ksched/klog"
	"v.io/x/ksched/spinlock"
)

// Names of the scheduling policies accepted by Config.Policy.
const (
	PolicyAffine    = "affine"
	PolicySimpleSMP = "simple"
)

// quantumHistory is the number of quanta whose usage is averaged when
// sizing a thread's next quantum.
const quantumHistory = 5

// backgroundQuantumFactor widens the quantum of CPU bound threads below
// NormalPriority.
const backgroundQuantumFactor = 4

// A policy decides where ready threads queue and which thread a CPU runs
// next.  Every method is called with the scheduler lock held.
type policy interface {
	name() string
	// enqueue queues t, which is ready and in no queue, and asks a CPU to
	// reschedule if t should preempt what it runs.  cur is the caller's
	// CPU, or nil outside kernel threads.
	enqueue(cur *CPU, t *Thread)
	// requeue queues the thread cpu is switching away from.
	requeue(cpu *CPU, t *Thread)
	// dequeue removes t from whatever queue holds it.
	dequeue(t *Thread) bool
	// pickNext removes and returns the thread cpu runs next.
	pickNext(cpu *CPU) *Thread
	// cpuDisabled migrates work away from a CPU just taken offline.
	cpuDisabled(cur, cpu *CPU)
	// queueSnapshot describes the run queues for dumps.
	queueSnapshot() []QueueSnapshot

	onThreadCreate(t *Thread)
	onThreadInit(t *Thread)
	onThreadDestroy(t *Thread)
	quantumFor(t *Thread) time.Duration
}

// threadStats is the per-thread statistics block the policies keep.
type threadStats struct {
	usage         [quantumHistory]time.Duration
	next          int
	filled        int
	quantumStart  time.Time
	quantumLength time.Duration
}

func (s *threadStats) record(used time.Duration) {
	s.usage[s.next] = used
	s.next = (s.next + 1) % quantumHistory
	if s.filled < quantumHistory {
		s.filled++
	}
}

// averageUsage returns the mean quantum consumed over the recorded quanta.
func (s *threadStats) averageUsage() time.Duration {
	if s.filled == 0 {
		return 0
	}
	var sum time.Duration
	for i := 0; i < s.filled; i++ {
		sum += s.usage[i]
	}
	return sum / time.Duration(s.filled)
}

// statsPool is a fixed pool of statistics blocks allocated at boot.
type statsPool struct {
	mu   spinlock.Spinlock
	free []*threadStats
}

func newStatsPool(n int) *statsPool {
	blocks := make([]threadStats, n)
	p := &statsPool{free: make([]*threadStats, n)}
	for i := range blocks {
		p.free[i] = &blocks[n-1-i]
	}
	return p
}

func (p *statsPool) get() *threadStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.free)
	if n == 0 {
		return nil
	}
	s := p.free[n-1]
	p.free = p.free[:n-1]
	return s
}

func (p *statsPool) put(s *threadStats) {
	p.mu.Lock()
	p.free = append(p.free, s)
	p.mu.Unlock()
}

func (p *statsPool) available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// lcg is the fairness skip's pseudo-random source.
type lcg struct {
	seed uint32
}

func (r *lcg) next(now func() time.Time) uint32 {
	if r.seed == 0 {
		r.seed = uint32(now().UnixNano())
	}
	r.seed = r.seed*1103515245 + 12345
	return (r.seed >> 16) & 0x7fff
}

// base is the part of a policy both implementations share: statistics
// blocks, quantum sizing and picking with the fairness skip.
type base struct {
	k         *Kernel
	pool      *statsPool
	rng       lcg
	threshold uint32 // skip when rng output is below this
}

func newBase(k *Kernel) base {
	return base{
		k:         k,
		pool:      newStatsPool(k.cfg.MaxThreads),
		rng:       lcg{seed: k.cfg.Seed},
		threshold: uint32(k.cfg.FairnessSkip * 0x8000),
	}
}

func (b *base) onThreadCreate(t *Thread) {
	s := b.pool.get()
	if s == nil {
		klog.Panicf("sched: out of thread statistics blocks creating %v (max %d)", t, b.k.cfg.MaxThreads)
	}
	t.stats = s
}

func (b *base) onThreadInit(t *Thread) {
	*t.stats = threadStats{}
}

func (b *base) onThreadDestroy(t *Thread) {
	if t.stats != nil {
		b.pool.put(t.stats)
		t.stats = nil
	}
}

func (b *base) quantumFor(t *Thread) time.Duration {
	if t.idle {
		return 0
	}
	q := b.k.cfg.Quantum
	if t.priority < NormalPriority && t.stats.averageUsage() > q/2 {
		return q * backgroundQuantumFactor
	}
	return q
}

// eligible reports whether cpu may run t.
func eligible(t *Thread, cpu *CPU) bool {
	if t.pinned >= 0 {
		return t.pinned == cpu.index
	}
	return !cpu.disabled || t.idle
}

func (b *base) skip() bool {
	if b.threshold == 0 {
		return false
	}
	return b.rng.next(b.k.now) < b.threshold
}

// pickFrom removes and returns the first thread of q that cpu may run.
// With the configured probability a non real-time choice is passed over
// in favour of the next eligible thread of strictly lower, non-idle
// priority.
func (b *base) pickFrom(q *runQueue, cpu *CPU) *Thread {
	var first *Thread
	q.each(func(t *Thread) bool {
		if eligible(t, cpu) {
			first = t
			return false
		}
		return true
	})
	if first == nil {
		return nil
	}
	pick := first
	if first.priority > IdlePriority && first.priority < FirstRealTimePriority && b.skip() {
		for c := first.queueNext; c != nil; c = c.queueNext {
			if c.priority <= IdlePriority {
				break
			}
			if c.priority < first.priority && eligible(c, cpu) {
				pick = c
				break
			}
		}
	}
	q.remove(pick)
	return pick
}

// QueueSnapshot describes one run queue.
type QueueSnapshot struct {
	Name    string // "cpu 0", "idle", "global"
	CPU     int    // owning CPU, or -1
	Threads []QueuedThread
}

// QueuedThread describes one queued thread.
type QueuedThread struct {
	ID              ID
	Name            string
	Priority        int32
	PinnedCPU       int
	Idle            bool
	AverageQuantum  time.Duration
	QuantumsTracked int
}

func snapshotQueue(name string, cpu int, q *runQueue) QueueSnapshot {
	s := QueueSnapshot{Name: name, CPU: cpu}
	q.each(func(t *Thread) bool {
		qt := QueuedThread{
			ID:        t.id,
			Name:      t.name,
			Priority:  t.priority,
			PinnedCPU: t.pinned,
			Idle:      t.idle,
		}
		if t.stats != nil {
			qt.AverageQuantum = t.stats.averageUsage()
			qt.QuantumsTracked = t.stats.filled
		}
		s.Threads = append(s.Threads, qt)
		return true
	})
	return s
}
