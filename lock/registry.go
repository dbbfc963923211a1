// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lock

import (
	"io"
	"reflect"
	"sort"
	"sync"
	"time"

	"v.io/x/ksched/klog"
	"v.io/x/ksched/ktrace"
	"v.io/x/ksched/sched"
)

// Kinds of registered locks.
const (
	KindMutex     = "mutex"
	KindRecursive = "recursive_lock"
	KindRWLock    = "rwlock"
)

// A Dumper is a lock that can describe itself to the kernel debugger.
type Dumper interface {
	Name() string
	Dump(w io.Writer)
}

// Registered describes a live lock.
type Registered struct {
	Address uintptr
	Kind    string
	Lock    Dumper
}

var registry struct {
	sync.Mutex
	locks map[uintptr]Registered
}

// Address returns the address a lock is registered under.
func Address(l Dumper) uintptr {
	return reflect.ValueOf(l).Pointer()
}

func register(kind string, l Dumper) uintptr {
	addr := Address(l)
	registry.Lock()
	if registry.locks == nil {
		registry.locks = make(map[uintptr]Registered)
	}
	registry.locks[addr] = Registered{Address: addr, Kind: kind, Lock: l}
	registry.Unlock()
	notifyLock(ktrace.LockInitialized, addr, l.Name())
	return addr
}

func unregister(l Dumper) {
	addr := Address(l)
	registry.Lock()
	delete(registry.locks, addr)
	registry.Unlock()
	notifyLock(ktrace.LockDestroyed, addr, l.Name())
}

// Lookup returns the live lock registered at addr.
func Lookup(addr uintptr) (Registered, bool) {
	registry.Lock()
	defer registry.Unlock()
	r, ok := registry.locks[addr]
	return r, ok
}

// All returns the live locks ordered by address.
func All() []Registered {
	registry.Lock()
	all := make([]Registered, 0, len(registry.locks))
	for _, r := range registry.locks {
		all = append(all, r)
	}
	registry.Unlock()
	sort.Slice(all, func(i, j int) bool { return all[i].Address < all[j].Address })
	return all
}

func notifyLock(kind ktrace.Kind, addr uintptr, name string) {
	if !ktrace.Active() {
		return
	}
	ktrace.Notify(&ktrace.Event{
		Kind:     kind,
		Time:     time.Now(),
		CPU:      -1,
		Lock:     addr,
		LockName: name,
	})
}

// notifyWaiter reports a waiter queued on, or dequeued from, the lock at
// addr.  Called with the lock's spinlock held.
func notifyWaiter(kind ktrace.Kind, addr uintptr, name string, t *sched.Thread, writer bool) {
	if !ktrace.Active() {
		return
	}
	ktrace.Notify(&ktrace.Event{
		Kind:     kind,
		Time:     t.Kernel().Now(),
		CPU:      -1,
		Thread:   int64(t.ID()),
		Name:     t.Name(),
		Lock:     addr,
		LockName: name,
		Writer:   writer,
	})
}

// checkInterrupts reports a blocking lock call with interrupts disabled
// once the kernel has booted.
func checkInterrupts(cur *sched.Thread, kind, name string) {
	if cur.Kernel().Started() && !cur.InterruptsEnabled() {
		klog.Panicf("%s %q: lock called with interrupts disabled by %v", kind, name, cur)
	}
}

func holderString(t *sched.Thread) string {
	if t == nil {
		return "none"
	}
	return t.String()
}
