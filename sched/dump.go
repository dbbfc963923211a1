// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sched

import (
	"fmt"
	"io"
	"sort"
	"time"
)

// RunQueues returns a snapshot of the policy's run queues.
func (k *Kernel) RunQueues() []QueueSnapshot {
	k.lock.Lock()
	defer k.lock.Unlock()
	return k.policy.queueSnapshot()
}

// QueuedCount returns the number of non-idle threads queued.
func (k *Kernel) QueuedCount() int {
	n := 0
	for _, q := range k.RunQueues() {
		for _, t := range q.Threads {
			if !t.Idle {
				n++
			}
		}
	}
	return n
}

// DumpRunQueues writes the run queues to w, highest priority first.
func (k *Kernel) DumpRunQueues(w io.Writer) {
	queues := k.RunQueues()
	fmt.Fprintf(w, "%s policy\n", k.cfg.Policy)
	for _, q := range queues {
		fmt.Fprintf(w, "%s run queue: %d threads\n", q.Name, len(q.Threads))
		if len(q.Threads) == 0 {
			continue
		}
		fmt.Fprintf(w, "  %-8s %-4s %-6s %-12s %s\n", "thread", "prio", "pinned", "avg quantum", "name")
		for _, t := range q.Threads {
			pinned := "-"
			if t.PinnedCPU >= 0 {
				pinned = fmt.Sprint(t.PinnedCPU)
			}
			avg := "-"
			if t.QuantumsTracked > 0 {
				avg = t.AverageQuantum.Round(time.Microsecond).String()
			}
			fmt.Fprintf(w, "  %-8d %-4d %-6s %-12s %s\n", t.ID, t.Priority, pinned, avg, t.Name)
		}
	}
}

// ThreadInfo describes a thread for dumps.
type ThreadInfo struct {
	ID         ID
	Name       string
	Priority   int32
	State      State
	CPU        int // running CPU, or -1
	PinnedCPU  int
	KernelTime time.Duration
	UserTime   time.Duration
	WaitReason string
	Idle       bool
}

// ThreadInfos returns a snapshot of every live thread ordered by ID.
func (k *Kernel) ThreadInfos() []ThreadInfo {
	threads := k.Threads()
	k.lock.Lock()
	infos := make([]ThreadInfo, 0, len(threads))
	for _, t := range threads {
		ti := ThreadInfo{
			ID:         t.id,
			Name:       t.name,
			Priority:   t.priority,
			State:      t.state,
			CPU:        -1,
			PinnedCPU:  t.pinned,
			KernelTime: t.kernelTime,
			UserTime:   t.userTime,
			Idle:       t.idle,
		}
		if t.cpu != nil {
			ti.CPU = t.cpu.index
		}
		if t.wait.waiting {
			ti.WaitReason = t.wait.reason
		}
		infos = append(infos, ti)
	}
	k.lock.Unlock()
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// DumpThreads writes one line per live thread to w.
func (k *Kernel) DumpThreads(w io.Writer) {
	fmt.Fprintf(w, "%-8s %-4s %-16s %-4s %-12s %-12s %s\n", "thread", "prio", "state", "cpu", "kernel", "user", "name")
	for _, t := range k.ThreadInfos() {
		cpu := "-"
		if t.CPU >= 0 {
			cpu = fmt.Sprint(t.CPU)
		}
		name := t.Name
		if t.WaitReason != "" {
			name += " (waiting on " + t.WaitReason + ")"
		}
		fmt.Fprintf(w, "%-8d %-4d %-16s %-4s %-12v %-12v %s\n", t.ID, t.Priority, t.State, cpu,
			t.KernelTime.Round(time.Microsecond), t.UserTime.Round(time.Microsecond), name)
	}
}

// CPUInfo describes a CPU for dumps.
type CPUInfo struct {
	Index       int
	Enabled     bool
	Running     ID
	RunningIdle bool
	ActiveTime  time.Duration
	IPIs        uint64
	Quanta      uint64 // quantum timer armings and cancellations
}

// CPUInfos returns a snapshot of every CPU.
func (k *Kernel) CPUInfos() []CPUInfo {
	k.lock.Lock()
	defer k.lock.Unlock()
	infos := make([]CPUInfo, len(k.cpus))
	for i, c := range k.cpus {
		infos[i] = CPUInfo{
			Index:      c.index,
			Enabled:    !c.disabled,
			ActiveTime: c.activeTime,
			IPIs:       c.ipis.Load(),
			Quanta:     c.timerGen,
		}
		if c.running != nil {
			infos[i].Running = c.running.id
			infos[i].RunningIdle = c.running.idle
		}
	}
	return infos
}

// DumpCPUs writes one line per CPU followed by the kernel counters.
func (k *Kernel) DumpCPUs(w io.Writer) {
	fmt.Fprintf(w, "%-4s %-8s %-8s %-12s %s\n", "cpu", "enabled", "running", "active", "ipis")
	for _, c := range k.CPUInfos() {
		running := fmt.Sprint(c.Running)
		if c.RunningIdle {
			running += "*"
		}
		fmt.Fprintf(w, "%-4d %-8v %-8s %-12v %d\n", c.Index, c.Enabled, running,
			c.ActiveTime.Round(time.Microsecond), c.IPIs)
	}
	s := k.Stats()
	fmt.Fprintf(w, "context switches %d, ipis %d, steals %d, preemptions %d\n",
		s.ContextSwitches, s.IPIs, s.Steals, s.Preemptions)
}
