// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ktrace_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"v.io/x/ksched/ktrace"
)

func sched(cpu int, id int64, name string, at time.Time) *ktrace.Event {
	return &ktrace.Event{Kind: ktrace.ThreadScheduled, CPU: cpu, Thread: id, Name: name, Time: at}
}

func TestRecorderTimeline(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC)
	r := ktrace.NewRecorder(0)
	r.KernelEvent(sched(0, 1, "idle", t0))
	r.KernelEvent(sched(0, 5, "worker", t0.Add(10*time.Millisecond)))
	r.KernelEvent(sched(0, 5, "worker", t0.Add(20*time.Millisecond))) // still the same thread
	r.KernelEvent(sched(0, 1, "idle", t0.Add(40*time.Millisecond)))
	r.KernelEvent(&ktrace.Event{Kind: ktrace.ThreadEnqueued, CPU: 0, Thread: 5})

	tl := r.Timeline(0)
	if got, want := len(tl), 3; got != want {
		t.Fatalf("got %d intervals, want %d", got, want)
	}
	if got, want := tl[1].Duration(t0), 30*time.Millisecond; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if !tl[2].End.IsZero() {
		t.Errorf("last interval should still be open")
	}
	if got, want := r.Count(ktrace.ThreadScheduled), uint64(4); got != want {
		t.Errorf("got %d, want %d", got, want)
	}
	if got, want := r.Count(ktrace.ThreadEnqueued), uint64(1); got != want {
		t.Errorf("got %d, want %d", got, want)
	}
	rt := r.RunTime(t0.Add(50 * time.Millisecond))
	if got, want := rt[5], 30*time.Millisecond; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := rt[1], 20*time.Millisecond; got != want {
		t.Errorf("got %v, want %v", got, want)
	}

	var out bytes.Buffer
	if err := r.Print(&out, t0.Add(50*time.Millisecond)); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	for _, want := range []string{"cpu0", "worker/5", "0.030s", "------now", "schedule:"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output %q does not contain %q", out.String(), want)
		}
	}
}

func TestRecorderLimit(t *testing.T) {
	t0 := time.Now()
	r := ktrace.NewRecorder(2)
	for i := int64(0); i < 5; i++ {
		r.KernelEvent(sched(1, i, "t", t0.Add(time.Duration(i)*time.Millisecond)))
	}
	tl := r.Timeline(1)
	if got, want := len(tl), 2; got != want {
		t.Fatalf("got %d, want %d", got, want)
	}
	if got, want := tl[1].Thread, int64(4); got != want {
		t.Errorf("got %d, want %d", got, want)
	}
}

type counter struct{ n int }

func (c *counter) KernelEvent(*ktrace.Event) { c.n++ }

func TestAddRemove(t *testing.T) {
	c := &counter{}
	ktrace.Add(c)
	if !ktrace.Active() {
		t.Fatalf("no listener active after Add")
	}
	ktrace.Notify(&ktrace.Event{Kind: ktrace.LockInitialized})
	ktrace.Remove(c)
	ktrace.Notify(&ktrace.Event{Kind: ktrace.LockInitialized})
	if got, want := c.n, 1; got != want {
		t.Errorf("got %d, want %d", got, want)
	}
	if got, want := ktrace.ThreadScheduled.String(), "schedule"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
