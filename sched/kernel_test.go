// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sched_test

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"v.io/x/ksched/ktrace"
	"v.io/x/ksched/sched"
)

func boot(t *testing.T, cfg sched.Config) *sched.Kernel {
	k, err := sched.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := k.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(k.Shutdown)
	return k
}

func spawn(t *testing.T, k *sched.Kernel, name string, prio int32, fn func(*sched.Thread), opts ...sched.ThreadOpt) *sched.Thread {
	th, err := k.Spawn(name, prio, fn, opts...)
	if err != nil {
		t.Fatalf("Spawn(%q): %v", name, err)
	}
	return th
}

func waitDone(t *testing.T, threads ...*sched.Thread) {
	for _, th := range threads {
		select {
		case <-th.Done():
		case <-time.After(10 * time.Second):
			t.Fatalf("%v did not exit", th)
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestBootRunsThreads(t *testing.T) {
	for _, policy := range []string{sched.PolicyAffine, sched.PolicySimpleSMP} {
		k := boot(t, sched.Config{CPUs: 4, Policy: policy, FairnessSkip: 0.2})
		var n, concurrent, maxConcurrent atomic.Int32
		var threads []*sched.Thread
		for i := 0; i < 16; i++ {
			threads = append(threads, spawn(t, k, fmt.Sprintf("worker-%d", i), sched.NormalPriority, func(th *sched.Thread) {
				for j := 0; j < 50; j++ {
					c := concurrent.Add(1)
					for {
						m := maxConcurrent.Load()
						if c <= m || maxConcurrent.CompareAndSwap(m, c) {
							break
						}
					}
					n.Add(1)
					concurrent.Add(-1)
					th.Yield()
				}
			}))
		}
		waitDone(t, threads...)
		if got, want := n.Load(), int32(16*50); got != want {
			t.Errorf("%s: got %d, want %d", policy, got, want)
		}
		if got := maxConcurrent.Load(); got > 4 {
			t.Errorf("%s: %d threads ran at once on 4 cpus", policy, got)
		}
		if k.Stats().ContextSwitches == 0 {
			t.Errorf("%s: no context switches", policy)
		}
	}
}

// A thread that never blocks is preempted when its quantum expires.
func TestQuantumPreemption(t *testing.T) {
	k := boot(t, sched.Config{CPUs: 1, Quantum: time.Millisecond})
	var flag atomic.Bool
	spinner := spawn(t, k, "spinner", sched.NormalPriority, func(th *sched.Thread) {
		for !flag.Load() {
			th.PreemptionPoint()
		}
	})
	setter := spawn(t, k, "setter", sched.NormalPriority, func(th *sched.Thread) {
		flag.Store(true)
	})
	waitDone(t, spinner, setter)
	if k.Stats().Preemptions == 0 {
		t.Errorf("no preemptions recorded")
	}
}

// A higher priority thread preempts a lower one at its next preemption
// point.
func TestPriorityPreemption(t *testing.T) {
	k := boot(t, sched.Config{CPUs: 1, Quantum: time.Hour})
	var stop atomic.Bool
	var order []string
	low := spawn(t, k, "low", sched.LowestActivePriority, func(th *sched.Thread) {
		for !stop.Load() {
			th.PreemptionPoint()
		}
		order = append(order, "low")
	})
	waitFor(t, "low to run", func() bool { return low.State() == sched.StateRunning })
	high := spawn(t, k, "high", 50, func(th *sched.Thread) {
		order = append(order, "high")
		stop.Store(true)
	})
	waitDone(t, high, low)
	if got, want := strings.Join(order, ","), "high,low"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestSnooze(t *testing.T) {
	k := boot(t, sched.Config{CPUs: 2})
	var short, long error
	var slept atomic.Int64
	sleeper := spawn(t, k, "sleeper", sched.NormalPriority, func(th *sched.Thread) {
		start := time.Now()
		short = th.Snooze(5 * time.Millisecond)
		slept.Store(int64(time.Since(start)))
		long = th.Snooze(time.Hour)
	})
	waitFor(t, "second snooze", func() bool {
		return slept.Load() > 0 && sleeper.WaitReason() == "snooze" && sleeper.State() == sched.StateWaiting
	})
	if !sleeper.Interrupt() {
		t.Errorf("Interrupt returned false")
	}
	waitDone(t, sleeper)
	if d := time.Duration(slept.Load()); short != nil || d < 5*time.Millisecond {
		t.Errorf("short snooze: got %v after %v", short, d)
	}
	if !errors.Is(long, sched.ErrInterrupted) {
		t.Errorf("got %v, want %v", long, sched.ErrInterrupted)
	}
}

func TestSuspendResume(t *testing.T) {
	k := boot(t, sched.Config{CPUs: 1})
	var phase atomic.Int32
	th := spawn(t, k, "suspender", sched.NormalPriority, func(th *sched.Thread) {
		phase.Store(1)
		th.Kernel().Suspend(th)
		phase.Store(2)
	})
	waitFor(t, "suspend", func() bool { return th.State() == sched.StateSuspended })
	if got, want := phase.Load(), int32(1); got != want {
		t.Fatalf("got %d, want %d", got, want)
	}
	if err := k.Resume(nil, th); err != nil {
		t.Fatal(err)
	}
	waitDone(t, th)
	if got, want := phase.Load(), int32(2); got != want {
		t.Errorf("got %d, want %d", got, want)
	}
	if err := k.Resume(nil, th); !errors.Is(err, sched.ErrNotSuspended) {
		t.Errorf("got %v, want %v", err, sched.ErrNotSuspended)
	}
	if got := k.Thread(th.ID()); got != nil {
		t.Errorf("exited thread still in the thread table")
	}
}

func TestExit(t *testing.T) {
	k := boot(t, sched.Config{CPUs: 1})
	var deferred, after bool
	th := spawn(t, k, "exiter", sched.NormalPriority, func(th *sched.Thread) {
		defer func() { deferred = true }()
		th.Exit()
		after = true
	})
	waitDone(t, th)
	if !deferred || after {
		t.Errorf("got deferred=%v after=%v, want true, false", deferred, after)
	}
}

func TestPinned(t *testing.T) {
	k := boot(t, sched.Config{CPUs: 3})
	var wrong atomic.Int32
	var threads []*sched.Thread
	for i := 0; i < 6; i++ {
		cpu := i % 3
		threads = append(threads, spawn(t, k, "pinned", sched.NormalPriority, func(th *sched.Thread) {
			for j := 0; j < 20; j++ {
				if th.CPU() != cpu {
					wrong.Add(1)
				}
				th.Yield()
			}
		}, sched.Pinned(cpu)))
	}
	waitDone(t, threads...)
	if n := wrong.Load(); n != 0 {
		t.Errorf("pinned threads ran on the wrong cpu %d times", n)
	}
	if _, err := k.Spawn("bad", sched.NormalPriority, func(*sched.Thread) {}, sched.Pinned(3)); !errors.Is(err, sched.ErrBadCPU) {
		t.Errorf("got %v, want %v", err, sched.ErrBadCPU)
	}
	if _, err := k.Spawn("bad", sched.IdlePriority, func(*sched.Thread) {}); !errors.Is(err, sched.ErrBadPriority) {
		t.Errorf("got %v, want %v", err, sched.ErrBadPriority)
	}
}

func TestPanicHaltsKernel(t *testing.T) {
	k := boot(t, sched.Config{CPUs: 2})
	th := spawn(t, k, "doomed", sched.NormalPriority, func(th *sched.Thread) {
		panic("boom")
	})
	select {
	case <-k.Halted():
	case <-time.After(10 * time.Second):
		t.Fatal("kernel did not halt")
	}
	v, pt := k.Panicked()
	if v != "boom" || pt != th {
		t.Errorf("got %v from %v, want boom from %v", v, pt, th)
	}
}

type countingDebugger struct {
	unscheduled, rescheduled atomic.Int32
}

func (d *countingDebugger) ThreadUnscheduled(*sched.Thread) { d.unscheduled.Add(1) }
func (d *countingDebugger) ThreadRescheduled(*sched.Thread) { d.rescheduled.Add(1) }

func TestDebuggerHooks(t *testing.T) {
	d := &countingDebugger{}
	k, err := sched.New(sched.Config{CPUs: 1, Debugger: d})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(k.Shutdown)
	body := func(th *sched.Thread) {
		for i := 0; i < 5; i++ {
			th.Yield()
		}
	}
	// Both are queued before boot so that they alternate.
	a := spawn(t, k, "debugged", sched.NormalPriority, body, sched.Debugged(true))
	b := spawn(t, k, "plain", sched.NormalPriority, body)
	if err := k.Start(); err != nil {
		t.Fatal(err)
	}
	waitDone(t, a, b)
	un, re := d.unscheduled.Load(), d.rescheduled.Load()
	if un != re+1 || re == 0 {
		t.Errorf("got %d unscheduled and %d rescheduled", un, re)
	}
}

func TestTraceAndDumps(t *testing.T) {
	rec := ktrace.NewRecorder(100)
	ktrace.Add(rec)
	defer ktrace.Remove(rec)
	k := boot(t, sched.Config{CPUs: 2, Policy: sched.PolicyAffine})
	th := spawn(t, k, "traced", sched.NormalPriority, func(th *sched.Thread) {
		th.Yield()
	})
	waitDone(t, th)
	if rec.Count(ktrace.ThreadScheduled) == 0 || rec.Count(ktrace.ThreadEnqueued) == 0 {
		t.Errorf("got %d schedule and %d enqueue events", rec.Count(ktrace.ThreadScheduled), rec.Count(ktrace.ThreadEnqueued))
	}
	var buf bytes.Buffer
	k.DumpRunQueues(&buf)
	k.DumpThreads(&buf)
	k.DumpCPUs(&buf)
	for _, want := range []string{"affine policy", "cpu 0 run queue", "idle run queue", "idle thread 1", "context switches"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("dump does not contain %q:\n%s", want, buf.String())
		}
	}
}
