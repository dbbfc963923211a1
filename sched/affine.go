// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sched

import "fmt"

// affine keeps one run queue per CPU plus a shared pool of idle threads.
// Threads stay on the CPU they last ran on; a CPU that runs out of work
// steals from the busiest one.
type affine struct {
	base
	queues []runQueue
	idle   runQueue
}

func newAffine(k *Kernel) *affine {
	a := &affine{base: newBase(k)}
	a.queues = make([]runQueue, len(k.cpus))
	for i := range a.queues {
		a.queues[i].cpu = i
	}
	a.idle.cpu = -1
	return a
}

func (a *affine) name() string { return PolicyAffine }

// targetCPU chooses the queue for t: its pinned CPU, else the CPU it last
// ran on if that is online, else the online CPU with the fewest queued
// threads.
func (a *affine) targetCPU(t *Thread) int {
	if t.pinned >= 0 {
		return t.pinned
	}
	if prev := t.previousCPU; prev != nil && !prev.disabled {
		return prev.index
	}
	best := -1
	for _, c := range a.k.cpus {
		if c.disabled {
			continue
		}
		if best < 0 || a.queues[c.index].count < a.queues[best].count {
			best = c.index
		}
	}
	return best
}

func (a *affine) enqueue(cur *CPU, t *Thread) {
	if t.idle {
		a.idle.insert(t)
		return
	}
	target := a.k.cpus[a.targetCPU(t)]
	a.queues[target.index].insert(t)
	a.k.notifyEnqueued(t, target.index)
	if running := target.running; running == nil || t.priority > running.priority {
		a.k.preempt(cur, target)
	}
}

func (a *affine) requeue(cpu *CPU, t *Thread) {
	switch {
	case t.idle:
		a.idle.insert(t)
	case cpu.disabled && t.pinned != cpu.index:
		a.enqueue(cpu, t)
	default:
		a.queues[cpu.index].insert(t)
		a.k.notifyEnqueued(t, cpu.index)
	}
}

func (a *affine) dequeue(t *Thread) bool {
	q := t.queuedIn
	if q == nil {
		return false
	}
	return q.remove(t)
}

func (a *affine) pickNext(cpu *CPU) *Thread {
	if t := a.pickFrom(&a.queues[cpu.index], cpu); t != nil {
		return t
	}
	if !cpu.disabled {
		if t := a.steal(cpu); t != nil {
			return t
		}
	}
	return a.idle.popHead()
}

// steal takes the highest-priority unpinned thread from the online CPU
// with the most queued threads.
func (a *affine) steal(cpu *CPU) *Thread {
	var victim *Thread
	most := 0
	for _, c := range a.k.cpus {
		q := &a.queues[c.index]
		if c == cpu || c.disabled || q.count <= most {
			continue
		}
		var first *Thread
		q.each(func(t *Thread) bool {
			if t.pinned < 0 {
				first = t
				return false
			}
			return true
		})
		if first != nil {
			victim, most = first, q.count
		}
	}
	if victim == nil {
		return nil
	}
	victim.queuedIn.remove(victim)
	a.k.notifyRemoved(victim)
	a.k.stats.steals.Add(1)
	return victim
}

func (a *affine) cpuDisabled(cur, cpu *CPU) {
	q := &a.queues[cpu.index]
	var moving []*Thread
	q.each(func(t *Thread) bool {
		if t.pinned != cpu.index {
			moving = append(moving, t)
		}
		return true
	})
	for _, t := range moving {
		q.remove(t)
		a.k.notifyRemoved(t)
		a.enqueue(cur, t)
	}
}

func (a *affine) queueSnapshot() []QueueSnapshot {
	s := make([]QueueSnapshot, 0, len(a.queues)+1)
	for i := range a.queues {
		s = append(s, snapshotQueue(fmt.Sprintf("cpu %d", i), i, &a.queues[i]))
	}
	return append(s, snapshotQueue("idle", -1, &a.idle))
}
