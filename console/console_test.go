// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package console_test

import (
	"bytes"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"v.io/x/ksched/console"
	"v.io/x/ksched/ktrace"
	"v.io/x/ksched/lock"
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

func spawn(t *testing.T, k *sched.Kernel, name string, fn func(*sched.Thread)) *sched.Thread {
	th, err := k.Spawn(name, sched.NormalPriority, fn)
	if err != nil {
		t.Fatalf("Spawn(%q): %v", name, err)
	}
	return th
}

func waitFor(t *testing.T, what string, cond func() bool) {
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(100 * time.Microsecond)
	}
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

func run(t *testing.T, c *console.Console, out *bytes.Buffer, line string) string {
	out.Reset()
	if err := c.Execute(line); err != nil {
		t.Fatalf("%q: %v", line, err)
	}
	return out.String()
}

func wantContains(t *testing.T, what, got string, want ...string) {
	t.Helper()
	for _, w := range want {
		if !strings.Contains(got, w) {
			t.Errorf("%s: %q does not contain %q", what, got, w)
		}
	}
}

func TestHelp(t *testing.T) {
	k := boot(t, sched.Config{CPUs: 1})
	out := &bytes.Buffer{}
	c := console.New(k, nil, out)

	got := run(t, c, out, "help")
	wantContains(t, "help", got, "kdebug <command>", "run_queue", "recursive_lock", "rwlock", "Dump a mutex")

	got = run(t, c, out, "help mutex")
	wantContains(t, "help mutex", got, "kdebug mutex <address>", "in hex with a 0x prefix")

	got = run(t, c, out, "help ...")
	if got, want := strings.Count(got, strings.Repeat("=", 80)), 10; got != want {
		t.Errorf("help ...: got %d sections, want %d", got, want)
	}

	if got := run(t, c, out, "   "); got != "" {
		t.Errorf("empty line: got %q", got)
	}

	for _, line := range []string{"bogus", "threads extra", "mutex", "help bogus"} {
		out.Reset()
		if got, want := c.Execute(line), console.ErrUsage; got != want {
			t.Errorf("%q: got %v, want %v", line, got, want)
		}
		wantContains(t, line, out.String(), "ERROR: ", "Usage:")
	}
}

func TestSchedulerCommands(t *testing.T) {
	k := boot(t, sched.Config{CPUs: 2, Policy: sched.PolicyAffine})
	out := &bytes.Buffer{}
	c := console.New(k, nil, out)

	var stop atomic.Bool
	th := spawn(t, k, "spinner", func(th *sched.Thread) {
		for !stop.Load() {
			th.Snooze(100 * time.Microsecond)
		}
	})
	defer waitDone(t, th)
	defer stop.Store(true)

	wantContains(t, "run_queue", run(t, c, out, "run_queue"),
		"affine policy", "cpu 0 run queue", "cpu 1 run queue", "idle run queue")
	wantContains(t, "threads", run(t, c, out, "threads"),
		"idle thread 1", "idle thread 2", "spinner")
	wantContains(t, "cpus", run(t, c, out, "cpus"),
		"enabled", "context switches")

	out.Reset()
	if err := c.Execute("trace"); err == nil || !strings.Contains(err.Error(), "not enabled") {
		t.Errorf("trace without a recorder: got %v", err)
	}
}

func TestTrace(t *testing.T) {
	rec := ktrace.NewRecorder(1000)
	ktrace.Add(rec)
	defer ktrace.Remove(rec)
	k := boot(t, sched.Config{CPUs: 1})
	th := spawn(t, k, "traced", func(th *sched.Thread) { th.Yield() })
	waitDone(t, th)

	out := &bytes.Buffer{}
	c := console.New(k, rec, out)
	wantContains(t, "trace", run(t, c, out, "trace"), "cpu0", "schedule:")
}

func TestLockCommands(t *testing.T) {
	k := boot(t, sched.Config{CPUs: 2})
	out := &bytes.Buffer{}
	c := console.New(k, nil, out)

	var m lock.Mutex
	m.Init("console test mutex")
	var rw lock.RWLock
	rw.Init("console test rwlock")
	var r lock.RecursiveLock
	r.Init("console test recursive")

	var held, release atomic.Bool
	holder := spawn(t, k, "holder", func(th *sched.Thread) {
		if err := m.Lock(th); err != nil {
			panic(err)
		}
		held.Store(true)
		for !release.Load() {
			th.Snooze(100 * time.Microsecond)
		}
		m.Unlock(th)
	})
	waitFor(t, "holder to lock", held.Load)
	waiter := spawn(t, k, "waiter", func(th *sched.Thread) {
		if err := m.Lock(th); err != nil {
			panic(err)
		}
		m.Unlock(th)
	})
	waitFor(t, "waiter to block", func() bool { return waiter.WaitReason() == "mutex console test mutex" })

	addr := lock.Address(&m)
	for _, arg := range []string{fmt.Sprintf("%#x", addr), fmt.Sprint(addr)} {
		got := run(t, c, out, "mutex "+arg)
		wantContains(t, "mutex "+arg, got,
			fmt.Sprintf("mutex %#x:", addr),
			"name:    console test mutex",
			"holder:  "+holder.String(),
			fmt.Sprintf("waiting threads: %d", waiter.ID()))
	}

	wantContains(t, "locks", run(t, c, out, "locks"),
		fmt.Sprintf("%#x", addr), "console test rwlock", "recursive_lock")

	wantContains(t, "rwlock", run(t, c, out, fmt.Sprintf("rwlock %#x", lock.Address(&rw))), "console test rwlock")
	wantContains(t, "recursive_lock", run(t, c, out, fmt.Sprintf("recursive_lock %#x", lock.Address(&r))), "console test recursive")

	for _, tc := range []struct {
		line, err string
	}{
		{fmt.Sprintf("rwlock %#x", addr), "is a mutex, not a rwlock"},
		{"mutex 0x1", "no lock at 0x1"},
		{"mutex nonesuch", `no mutex named "nonesuch"`},
	} {
		err := c.Execute(tc.line)
		if err == nil || !strings.Contains(err.Error(), tc.err) {
			t.Errorf("%q: got %v, want error containing %q", tc.line, err, tc.err)
		}
	}

	release.Store(true)
	waitDone(t, holder, waiter)
	destroyer := spawn(t, k, "destroyer", func(th *sched.Thread) {
		m.Destroy(th)
		rw.Destroy(th)
		r.Destroy(th)
	})
	waitDone(t, destroyer)
	if err := c.Execute(fmt.Sprintf("mutex %#x", addr)); err == nil {
		t.Errorf("destroyed mutex is still visible")
	}
}

func TestLookupByName(t *testing.T) {
	k := boot(t, sched.Config{CPUs: 1})
	out := &bytes.Buffer{}
	c := console.New(k, nil, out)

	var a, b lock.Mutex
	a.Init("console-by-name")
	wantContains(t, "by name", run(t, c, out, "mutex console-by-name"), "name:    console-by-name")
	b.Init("console-by-name")
	if err := c.Execute("mutex console-by-name"); err == nil || !strings.Contains(err.Error(), "use an address") {
		t.Errorf("ambiguous name: got %v", err)
	}
	th := spawn(t, k, "destroyer", func(th *sched.Thread) {
		a.Destroy(th)
		b.Destroy(th)
	})
	waitDone(t, th)
}

func TestServe(t *testing.T) {
	k := boot(t, sched.Config{CPUs: 1})
	out := &bytes.Buffer{}
	c := console.New(k, nil, out)
	in := strings.NewReader("cpus\nmutex 0x1\n\nquit\nthreads\n")
	if err := c.Serve(in); err != nil {
		t.Fatal(err)
	}
	got := out.String()
	wantContains(t, "serve", got, console.Prompt+"cpu ", "ERROR: no lock at 0x1")
	if strings.Contains(got, "idle thread 1") {
		t.Errorf("commands after quit were executed: %q", got)
	}
	if got, want := strings.Count(got, console.Prompt), 4; got != want {
		t.Errorf("got %d prompts, want %d", got, want)
	}
}
