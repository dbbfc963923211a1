// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command kschedsim boots a simulated kernel, runs a contended workload
// over its locks and dumps the scheduler's state.
//
// Usage:
//
//	kschedsim [flags]
//
// The kernel is configured with the boot options --cpus, --scheduler,
// --quantum, --fairness-skip, --max-threads and --seed.  The workload
// starts --workers threads that increment a counter under a mutex
// --iterations times each, --readers threads that scan a table under a
// reader-writer lock while the workers update it, one thread pinned to
// every processor and a low-priority background thread.  When the
// workload finishes the run queues, threads, processors and locks are
// dumped, followed by the run timelines if --trace is set.
//
// --trace-db names a trace database configuration file, in the format
// described by the tracedb package; every kernel event is then written to
// the database.  --interactive starts the kernel debugger on stdin once
// the workload is done.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/spf13/pflag"
	"v.io/x/ksched/bootcfg"
	"v.io/x/ksched/console"
	"v.io/x/ksched/klog"
	"v.io/x/ksched/ktrace"
	"v.io/x/ksched/lock"
	"v.io/x/ksched/sched"
	"v.io/x/ksched/tracedb"
)

type workloadFlags struct {
	Workers     int    `kconfig:"workers,8,number of threads contending on the counter mutex"`
	Iterations  int    `kconfig:"iterations,200,increments performed by each worker"`
	Readers     int    `kconfig:"readers,4,number of threads reading the shared table"`
	Trace       bool   `kconfig:"trace,false,record and print the per-processor run timelines"`
	TraceDB     string `kconfig:"trace-db,,trace database configuration file"`
	Interactive bool   `kconfig:"interactive,false,start the kernel debugger on stdin when the workload is done"`
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		klog.FlushLog()
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
	klog.FlushLog()
}

func run(args []string) error {
	var (
		opts  bootcfg.Options
		wl    workloadFlags
		lf    klog.LoggingFlags
		logFS = flag.NewFlagSet("log", flag.ContinueOnError)
	)
	fs := pflag.NewFlagSet("kschedsim", pflag.ContinueOnError)
	if err := bootcfg.RegisterFlags(fs, &opts); err != nil {
		return err
	}
	if err := bootcfg.RegisterFlagsInStruct(fs, bootcfg.Tag, &wl); err != nil {
		return err
	}
	klog.RegisterLoggingFlags(logFS, &lf, "")
	fs.AddGoFlagSet(logFS)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := klog.Log.ConfigureFromLoggingFlags(&lf); err != nil {
		return err
	}
	cfg, err := opts.SchedConfig()
	if err != nil {
		return err
	}

	var rec *ktrace.Recorder
	if wl.Trace {
		rec = ktrace.NewRecorder(100000)
		ktrace.Add(rec)
		defer ktrace.Remove(rec)
	}
	if len(wl.TraceDB) > 0 {
		sink, err := openTraceDB(wl.TraceDB)
		if err != nil {
			return err
		}
		ktrace.Add(sink)
		defer func() {
			ktrace.Remove(sink)
			if err := sink.Close(); err != nil {
				klog.Errorf("trace database: %v", err)
			}
			klog.Infof("wrote %d events to the trace database, dropped %d", sink.Written(), sink.Dropped())
		}()
	}

	k, err := sched.New(cfg)
	if err != nil {
		return err
	}
	if err := k.Start(); err != nil {
		return err
	}
	defer k.Shutdown()

	start := time.Now()
	w := newWorkload(k, wl)
	if err := w.start(); err != nil {
		return err
	}
	if err := w.wait(); err != nil {
		return err
	}
	fmt.Printf("workload finished in %v: counter %d (want %d), %d table scans, %d table updates\n",
		time.Since(start).Round(time.Millisecond), w.counter, wl.Workers*wl.Iterations, w.scans.Load(), w.updates.Load())

	out := console.New(k, rec, os.Stdout)
	for _, cmd := range []string{"run_queue", "cpus", "threads", "locks"} {
		fmt.Printf("\n%s%s\n", console.Prompt, cmd)
		if err := out.Execute(cmd); err != nil {
			return err
		}
	}
	if rec != nil {
		fmt.Printf("\n%strace\n", console.Prompt)
		if err := out.Execute("trace"); err != nil {
			return err
		}
	}
	if wl.Interactive {
		if err := out.Serve(os.Stdin); err != nil {
			return err
		}
	}
	if err := w.destroy(); err != nil {
		return err
	}
	if got, want := w.counter, wl.Workers*wl.Iterations; got != want {
		return fmt.Errorf("mutual exclusion violated: counter is %d, want %d", got, want)
	}
	return nil
}

func openTraceDB(file string) (*tracedb.Sink, error) {
	config, err := tracedb.ParseConfigFile(file)
	if err != nil {
		return nil, err
	}
	db, err := tracedb.Open(config)
	if err != nil {
		return nil, err
	}
	if err := tracedb.CreateTable(context.Background(), db, config.Table); err != nil {
		return nil, err
	}
	return tracedb.NewSink(db, tracedb.Options{Table: config.Table})
}

type workload struct {
	k   *sched.Kernel
	cfg workloadFlags

	counterLock lock.Mutex
	counter     int // guarded by counterLock

	tableLock lock.RWLock
	table     []int // guarded by tableLock

	statsLock lock.RecursiveLock
	updates   atomic.Int64
	scans     atomic.Int64

	stop    atomic.Bool
	threads []*sched.Thread
	readers []*sched.Thread
}

func newWorkload(k *sched.Kernel, cfg workloadFlags) *workload {
	w := &workload{k: k, cfg: cfg, table: make([]int, 64)}
	w.counterLock.Init("counter")
	w.tableLock.Init("table")
	w.statsLock.Init("stats")
	return w
}

func (w *workload) spawn(name string, prio int32, fn func(*sched.Thread), opts ...sched.ThreadOpt) error {
	t, err := w.k.Spawn(name, prio, fn, opts...)
	if err != nil {
		return fmt.Errorf("failed to spawn %s: %v", name, err)
	}
	w.threads = append(w.threads, t)
	return nil
}

func (w *workload) start() error {
	for i := 0; i < w.cfg.Workers; i++ {
		if err := w.spawn(fmt.Sprintf("worker %d", i), sched.NormalPriority, w.worker); err != nil {
			return err
		}
	}
	for i := 0; i < w.k.NumCPUs(); i++ {
		if err := w.spawn(fmt.Sprintf("pinned %d", i), sched.NormalPriority+5, w.pinned, sched.Pinned(i)); err != nil {
			return err
		}
	}
	if err := w.spawn("background", sched.LowestActivePriority, w.background); err != nil {
		return err
	}
	for i := 0; i < w.cfg.Readers; i++ {
		t, err := w.k.Spawn(fmt.Sprintf("reader %d", i), sched.NormalPriority, w.reader)
		if err != nil {
			return fmt.Errorf("failed to spawn reader: %v", err)
		}
		w.readers = append(w.readers, t)
	}
	return nil
}

// wait waits for the workers to finish, then stops the readers and the
// background thread.
func (w *workload) wait() error {
	for _, t := range w.threads {
		if t.Name() == "background" {
			continue
		}
		select {
		case <-t.Done():
		case <-w.k.Halted():
			return w.panicked()
		}
	}
	w.stop.Store(true)
	for _, t := range append(w.readers, w.threads...) {
		select {
		case <-t.Done():
		case <-w.k.Halted():
			return w.panicked()
		}
	}
	return nil
}

func (w *workload) panicked() error {
	v, t := w.k.Panicked()
	return fmt.Errorf("kernel halted by %v: %v", t, v)
}

func (w *workload) worker(t *sched.Thread) {
	for i := 0; i < w.cfg.Iterations; i++ {
		if err := w.counterLock.Lock(t); err != nil {
			klog.Errorf("%v: %v", t, err)
			return
		}
		v := w.counter
		t.PreemptionPoint()
		w.counter = v + 1
		w.counterLock.Unlock(t)

		if i%10 == 0 {
			if err := w.tableLock.WriteLock(t); err != nil {
				klog.Errorf("%v: %v", t, err)
				return
			}
			w.table[i%len(w.table)]++
			w.tableLock.WriteUnlock(t)
			w.record(t, &w.updates)
		}
		t.SetUserMode(true)
		spin(20 * time.Microsecond)
		t.SetUserMode(false)
		t.PreemptionPoint()
	}
}

func (w *workload) reader(t *sched.Thread) {
	for !w.stop.Load() {
		if err := w.tableLock.ReadLock(t); err != nil {
			klog.Errorf("%v: %v", t, err)
			return
		}
		sum := 0
		for _, v := range w.table {
			sum += v
		}
		_ = sum
		w.tableLock.ReadUnlock(t)
		w.record(t, &w.scans)
		t.Snooze(200 * time.Microsecond)
	}
}

// record counts an operation under the recursive stats lock, taking it
// twice as nested helpers do.
func (w *workload) record(t *sched.Thread, c *atomic.Int64) {
	if err := w.statsLock.Lock(t); err != nil {
		return
	}
	if err := w.statsLock.Lock(t); err == nil {
		c.Add(1)
		w.statsLock.Unlock(t)
	}
	w.statsLock.Unlock(t)
}

func (w *workload) pinned(t *sched.Thread) {
	for i := 0; i < w.cfg.Iterations/10+1; i++ {
		spin(50 * time.Microsecond)
		t.Snooze(time.Millisecond)
	}
}

func (w *workload) background(t *sched.Thread) {
	for !w.stop.Load() {
		t.SetUserMode(true)
		spin(time.Millisecond)
		t.SetUserMode(false)
		t.PreemptionPoint()
	}
}

func (w *workload) destroy() error {
	done := make(chan struct{})
	_, err := w.k.Spawn("teardown", sched.NormalPriority, func(t *sched.Thread) {
		defer close(done)
		w.counterLock.Destroy(t)
		w.tableLock.Destroy(t)
		w.statsLock.Destroy(t)
	})
	if err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-w.k.Halted():
		return w.panicked()
	}
}

// spin busy-waits for d, standing in for computation.
func spin(d time.Duration) {
	for end := time.Now().Add(d); time.Now().Before(end); {
	}
}
