// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ktrace

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// Interval is a period during which Thread ran on a CPU.  End is zero
// while the interval is still open.
type Interval struct {
	Thread int64
	Name   string
	Start  time.Time
	End    time.Time
}

// Duration returns the length of the interval, measured up to now if it
// is still open.
func (i Interval) Duration(now time.Time) time.Duration {
	if i.End.IsZero() {
		return now.Sub(i.Start)
	}
	return i.End.Sub(i.Start)
}

// Recorder is a Listener that keeps a run-interval timeline per CPU and a
// count of every event kind, for offline performance analysis.
type Recorder struct {
	mu        sync.Mutex
	timelines map[int][]Interval
	counts    [numKinds]uint64
	limit     int
}

// NewRecorder returns a Recorder keeping at most limit intervals per CPU;
// zero means no limit.
func NewRecorder(limit int) *Recorder {
	return &Recorder{timelines: make(map[int][]Interval), limit: limit}
}

// KernelEvent implements Listener.
func (r *Recorder) KernelEvent(e *Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.Kind >= 0 && e.Kind < numKinds {
		r.counts[e.Kind]++
	}
	if e.Kind != ThreadScheduled || e.CPU < 0 {
		return
	}
	tl := r.timelines[e.CPU]
	if n := len(tl); n > 0 && tl[n-1].End.IsZero() {
		if tl[n-1].Thread == e.Thread {
			return
		}
		tl[n-1].End = e.Time
	}
	if r.limit > 0 && len(tl) >= r.limit {
		tl = append(tl[:0], tl[1:]...)
	}
	r.timelines[e.CPU] = append(tl, Interval{Thread: e.Thread, Name: e.Name, Start: e.Time})
}

// Count returns the number of events of kind k seen so far.
func (r *Recorder) Count(k Kind) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if k < 0 || k >= numKinds {
		return 0
	}
	return r.counts[k]
}

// Timeline returns a copy of the intervals recorded for cpu.
func (r *Recorder) Timeline(cpu int) []Interval {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Interval(nil), r.timelines[cpu]...)
}

// RunTime returns, per thread id, the total time recorded on all CPUs.
func (r *Recorder) RunTime(now time.Time) map[int64]time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := make(map[int64]time.Duration)
	for _, tl := range r.timelines {
		for _, i := range tl {
			total[i.Thread] += i.Duration(now)
		}
	}
	return total
}

// Print writes the timelines to w, one block per CPU, in the form:
//
//	00:00:01.000 cpu0           0.040s ------now
//	00:00:01.000    idle/0         0.010s 00:00:01.010
//	00:00:01.010    worker-3       0.030s 00:00:01.040
//
// followed by the event counts.
func (r *Recorder) Print(w io.Writer, now time.Time) error {
	const timeFormat = "15:04:05.000"
	r.mu.Lock()
	cpus := make([]int, 0, len(r.timelines))
	for cpu := range r.timelines {
		cpus = append(cpus, cpu)
	}
	sort.Ints(cpus)
	timelines := make([][]Interval, len(cpus))
	for i, cpu := range cpus {
		timelines[i] = append([]Interval(nil), r.timelines[cpu]...)
	}
	counts := r.counts
	r.mu.Unlock()

	nameWidth := len("cpu00")
	for _, tl := range timelines {
		for _, i := range tl {
			if n := len(i.label()) + 3; n > nameWidth {
				nameWidth = n
			}
		}
	}
	nowLabel := strings.Repeat("-", len(timeFormat)-3) + "now"
	endLabel := func(t time.Time) string {
		if t.IsZero() {
			return nowLabel
		}
		return t.Format(timeFormat)
	}
	for c, tl := range timelines {
		if len(tl) == 0 {
			continue
		}
		root := Interval{Start: tl[0].Start, End: tl[len(tl)-1].End}
		if _, err := fmt.Fprintf(w, "%s %-*s %9.3fs %s\n", root.Start.Format(timeFormat), nameWidth, fmt.Sprintf("cpu%d", cpus[c]), root.Duration(now).Seconds(), endLabel(root.End)); err != nil {
			return err
		}
		for _, i := range tl {
			if _, err := fmt.Fprintf(w, "%s    %-*s %9.3fs %s\n", i.Start.Format(timeFormat), nameWidth-3, i.label(), i.Duration(now).Seconds(), endLabel(i.End)); err != nil {
				return err
			}
		}
	}
	for k := Kind(0); k < numKinds; k++ {
		if _, err := fmt.Fprintf(w, "%-12s %d\n", k.String()+":", counts[k]); err != nil {
			return err
		}
	}
	return nil
}

func (i Interval) label() string {
	return fmt.Sprintf("%s/%d", i.Name, i.Thread)
}
