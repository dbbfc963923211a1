// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package console implements the kernel debugger's command line.  It
// knows the commands
//
//	run_queue                 dump every run queue of the active policy
//	threads                   list every live thread
//	cpus                      show per-processor state and the scheduling counters
//	locks                     list every live lock
//	mutex <address>           dump a mutex
//	recursive_lock <address>  dump a recursive lock
//	rwlock <address>          dump a reader-writer lock
//	trace                     print the per-processor run timelines
//	help [command ...]        describe the commands
//
// Lock addresses are those printed by locks and by the lock dumps; a
// lock's name is accepted too.
package console

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"v.io/x/ksched/ktrace"
	"v.io/x/ksched/lock"
	"v.io/x/ksched/sched"
)

// Prompt is written before each line read by Serve.
const Prompt = "kdebug> "

// Console is a kernel debugger bound to one kernel.
type Console struct {
	k    *sched.Kernel
	rec  *ktrace.Recorder
	root *Command
}

// New returns a debugger for k that writes to out.  rec, if not nil, backs
// the trace command.
func New(k *sched.Kernel, rec *ktrace.Recorder, out io.Writer) *Console {
	c := &Console{k: k, rec: rec}
	c.root = &Command{
		Name: "kdebug",
		Long: "The kernel debugger inspects the scheduler and the kernel's locks.",
		Children: []*Command{
			{
				Name:  "run_queue",
				Short: "Dump the run queues",
				Long:  "Run_queue lists every thread queued in every run queue of the active policy, in scheduling order.",
				Run: func(cmd *Command, _ []string) error {
					c.k.DumpRunQueues(cmd.Output())
					return nil
				},
			},
			{
				Name:  "threads",
				Short: "List the live threads",
				Run: func(cmd *Command, _ []string) error {
					c.k.DumpThreads(cmd.Output())
					return nil
				},
			},
			{
				Name:  "cpus",
				Short: "Show the processors",
				Run: func(cmd *Command, _ []string) error {
					c.k.DumpCPUs(cmd.Output())
					return nil
				},
			},
			{
				Name:  "locks",
				Short: "List the live locks",
				Run:   c.runLocks,
			},
			lockCommand(lock.KindMutex, "Dump a mutex"),
			lockCommand(lock.KindRecursive, "Dump a recursive lock"),
			lockCommand(lock.KindRWLock, "Dump a reader-writer lock"),
			{
				Name:  "trace",
				Short: "Print the per-processor run timelines",
				Run:   c.runTrace,
			},
		},
	}
	c.root.Init(nil, out)
	return c
}

// Execute runs a single command line.
func (c *Console) Execute(line string) error {
	args := strings.Fields(line)
	if len(args) == 0 {
		return nil
	}
	return c.root.Execute(args)
}

// Serve reads command lines from r until EOF or the "quit" command,
// executing each in turn.  Command errors are reported and do not stop
// the loop.
func (c *Console) Serve(r io.Reader) error {
	out := c.root.Output()
	sc := bufio.NewScanner(r)
	for {
		fmt.Fprint(out, Prompt)
		if !sc.Scan() {
			fmt.Fprintln(out)
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		if line == "quit" || line == "exit" {
			return nil
		}
		if err := c.Execute(line); err != nil && err != ErrUsage {
			fmt.Fprintf(out, "ERROR: %v\n", err)
		}
	}
}

func lockCommand(kind, short string) *Command {
	return &Command{
		Name:     kind,
		Short:    short,
		ArgsName: "<address>",
		ArgsLong: "<address> is the lock's address, in hex with a 0x prefix or in decimal, or its name.",
		Run: func(cmd *Command, args []string) error {
			if len(args) != 1 {
				return cmd.UsageErrorf("%s: expected one argument, got %d", kind, len(args))
			}
			r, err := findLock(kind, args[0])
			if err != nil {
				return err
			}
			r.Lock.Dump(cmd.Output())
			return nil
		},
	}
}

func findLock(kind, arg string) (lock.Registered, error) {
	if addr, err := strconv.ParseUint(arg, 0, 64); err == nil {
		r, ok := lock.Lookup(uintptr(addr))
		if !ok {
			return r, fmt.Errorf("no lock at %#x", addr)
		}
		if r.Kind != kind {
			return r, fmt.Errorf("lock at %#x is a %s, not a %s", addr, r.Kind, kind)
		}
		return r, nil
	}
	var found []lock.Registered
	for _, r := range lock.All() {
		if r.Kind == kind && r.Lock.Name() == arg {
			found = append(found, r)
		}
	}
	switch len(found) {
	case 0:
		return lock.Registered{}, fmt.Errorf("no %s named %q", kind, arg)
	case 1:
		return found[0], nil
	}
	return lock.Registered{}, fmt.Errorf("%d locks named %q, use an address", len(found), arg)
}

func (c *Console) runLocks(cmd *Command, _ []string) error {
	w := cmd.Output()
	all := lock.All()
	fmt.Fprintf(w, "%-18s %-15s %s\n", "address", "kind", "name")
	for _, r := range all {
		fmt.Fprintf(w, "%#-18x %-15s %s\n", r.Address, r.Kind, r.Lock.Name())
	}
	fmt.Fprintf(w, "%d locks\n", len(all))
	return nil
}

func (c *Console) runTrace(cmd *Command, _ []string) error {
	if c.rec == nil {
		return fmt.Errorf("tracing is not enabled")
	}
	return c.rec.Print(cmd.Output(), c.k.Now())
}
