// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package klog_test

import (
	"flag"
	"io/ioutil"
	"os"
	"strings"
	"testing"

	"v.io/x/ksched/klog"
)

func ExampleVI() {
	klog.Errorf("%s", "error")
	if klog.V(2) {
		klog.Info("some spammy message")
	}
	klog.VI(2).Infof("another spammy message")
}

func TestConfigureOnce(t *testing.T) {
	dir, err := ioutil.TempDir("", "klogtest")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	defer os.RemoveAll(dir)
	logger := klog.NewLogger("configure")
	if err := logger.Configure(klog.LogDir(dir), klog.Level(2)); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if got, want := logger.LogDir(), dir; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if err := logger.Configure(klog.Level(1)); err != klog.ErrConfigured {
		t.Errorf("got %v, want %v", err, klog.ErrConfigured)
	}
	if err := logger.Configure(klog.Level(3), klog.OverridePriorConfiguration(true)); err != nil {
		t.Errorf("unexpected error: %s", err)
	}
	if !logger.V(3) || logger.V(4) {
		t.Errorf("verbosity not applied")
	}
}

func TestPanicf(t *testing.T) {
	logger := klog.NewLogger("panic")
	logger.Configure(klog.LogToStderr(false), klog.LogDir(os.TempDir()))
	defer func() {
		r := recover()
		perr, ok := r.(*klog.PanicError)
		if !ok {
			t.Fatalf("got %T (%v), want *klog.PanicError", r, r)
		}
		if !strings.Contains(perr.Error(), "mutex 0x10 unlocked by thread 7") {
			t.Errorf("unexpected panic message: %v", perr)
		}
	}()
	logger.Panicf("mutex %#x unlocked by thread %d", 0x10, 7)
}

func TestRegisterLoggingFlags(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var lf klog.LoggingFlags
	klog.RegisterLoggingFlags(fs, &lf, "kernel-")
	if err := fs.Parse([]string{"--kernel-v=3", "--kernel-logtostderr=true"}); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if got, want := int(lf.Verbosity), 3; got != want {
		t.Errorf("got %d, want %d", got, want)
	}
	if !lf.ToStderr {
		t.Errorf("logtostderr was not set")
	}
	logger := klog.NewLogger("flags")
	if err := logger.ConfigureFromLoggingFlags(&lf); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
}

func TestStderrThresholdAndModuleSpec(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want string
		ok   bool
	}{
		{"error", "ERROR", true},
		{"WARNING", "WARNING", true},
		{"3", "FATAL", true},
		{"7", "", false},
		{"loud", "", false},
	} {
		var s klog.StderrThreshold
		err := s.Set(tc.in)
		if got, want := err == nil, tc.ok; got != want {
			t.Errorf("%q: got ok %v, want %v (%v)", tc.in, got, want, err)
			continue
		}
		if tc.ok {
			if got, want := s.String(), tc.want; got != want {
				t.Errorf("%q: got %q, want %q", tc.in, got, want)
			}
		}
	}
	for _, tc := range []struct {
		in string
		ok bool
	}{
		{"runqueue=2,affine=3,rw*=3", true},
		{"", true},
		{"runqueue", false},
		{"runqueue=x", false},
		{"=2", false},
	} {
		var m klog.ModuleSpec
		if got, want := m.Set(tc.in) == nil, tc.ok; got != want {
			t.Errorf("%q: got ok %v, want %v", tc.in, got, want)
		}
	}
}

func TestConfigureSetsProcessFlags(t *testing.T) {
	logger := klog.NewLogger("process")
	var threshold klog.StderrThreshold
	threshold.Set("warning")
	if err := logger.Configure(klog.AlsoLogToStderr(true), threshold); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	defer flag.Set("alsologtostderr", "false")
	defer flag.Set("stderrthreshold", "ERROR")
	if got, want := flag.Lookup("alsologtostderr").Value.String(), "true"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if got, want := flag.Lookup("stderrthreshold").Value.String(), "1"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
