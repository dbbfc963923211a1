// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sched

// simpleSMP keeps a single run queue, idle threads included, shared by all
// CPUs.  A newly ready thread preempts whichever online CPU runs the
// lowest-priority thread.
type simpleSMP struct {
	base
	queue runQueue
}

func newSimpleSMP(k *Kernel) *simpleSMP {
	s := &simpleSMP{base: newBase(k)}
	s.queue.cpu = -1
	return s
}

func (s *simpleSMP) name() string { return PolicySimpleSMP }

func (s *simpleSMP) enqueue(cur *CPU, t *Thread) {
	s.queue.insert(t)
	if t.idle {
		return
	}
	s.k.notifyEnqueued(t, -1)
	var target *CPU
	lowest := t.priority
	for _, c := range s.k.cpus {
		if c.disabled && t.pinned != c.index {
			continue
		}
		if t.pinned >= 0 && t.pinned != c.index {
			continue
		}
		prio := int32(-1)
		if c.running != nil {
			prio = c.running.priority
		}
		if prio < lowest {
			target, lowest = c, prio
		}
	}
	if target != nil {
		s.k.preempt(cur, target)
	}
}

func (s *simpleSMP) requeue(cpu *CPU, t *Thread) {
	s.queue.insert(t)
	if !t.idle {
		s.k.notifyEnqueued(t, -1)
	}
}

func (s *simpleSMP) dequeue(t *Thread) bool {
	return s.queue.remove(t)
}

func (s *simpleSMP) pickNext(cpu *CPU) *Thread {
	return s.pickFrom(&s.queue, cpu)
}

// cpuDisabled has nothing to migrate: a disabled CPU simply stops picking
// unpinned threads from the shared queue.
func (s *simpleSMP) cpuDisabled(cur, cpu *CPU) {}

func (s *simpleSMP) queueSnapshot() []QueueSnapshot {
	return []QueueSnapshot{snapshotQueue("global", -1, &s.queue)}
}
