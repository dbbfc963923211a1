// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package klog is the kernel log.  It provides leveled logging on top of
// glog and the kernel panic used to report programming-contract
// violations.
//
// Nothing in the scheduler's hot path logs: messages are emitted on boot,
// on processor and thread lifecycle changes, and when a contract violation
// is about to halt the system.
package klog

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"
)

const stackSkip = 1

// Logger is a kernel log instance.  Verbosity is per logger; the output
// destinations and the vmodule table are process-wide, as glog keeps them
// on flag.CommandLine.
type Logger struct {
	name       string
	level      atomic.Int32
	mu         sync.Mutex // guards updates to the vars below.
	autoFlush  bool
	logDir     string
	configured bool
}

var (
	// Log is the kernel-wide logger used by the scheduler and the locks.
	Log = NewLogger("ksched")

	// ErrConfigured is returned by Configure if the logger has already
	// been configured.
	ErrConfigured = errors.New("logger has already been configured")
)

// NewLogger creates a new, unconfigured, logger.
func NewLogger(name string) *Logger {
	return &Logger{name: name}
}

func (l *Logger) maybeFlush() {
	l.mu.Lock()
	flush := l.autoFlush
	l.mu.Unlock()
	if flush {
		glog.Flush()
	}
}

// setGlobal sets one of the flags glog registers on flag.CommandLine.
func setGlobal(name, value string) error {
	if err := flag.Set(name, value); err != nil {
		return fmt.Errorf("klog: setting --%s=%q: %v", name, value, err)
	}
	return nil
}

// Configure configures all future logging.  ErrConfigured is returned
// if Configure has already been called unless the
// OverridePriorConfiguration option is included.
func (l *Logger) Configure(opts ...LoggingOpts) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	override := false
	for _, o := range opts {
		if v, ok := o.(OverridePriorConfiguration); ok {
			override = bool(v)
		}
	}
	if l.configured && !override {
		return ErrConfigured
	}
	for _, o := range opts {
		var err error
		switch v := o.(type) {
		case AlsoLogToStderr:
			err = setGlobal("alsologtostderr", strconv.FormatBool(bool(v)))
		case Level:
			l.level.Store(int32(v))
		case LogDir:
			l.logDir = string(v)
			if len(l.logDir) > 0 {
				err = setGlobal("log_dir", l.logDir)
			}
		case LogToStderr:
			err = setGlobal("logtostderr", strconv.FormatBool(bool(v)))
		case ModuleSpec:
			if len(v.spec) > 0 {
				err = setGlobal("vmodule", v.spec)
			}
		case StderrThreshold:
			err = setGlobal("stderrthreshold", v.String())
		case AutoFlush:
			l.autoFlush = bool(v)
		}
		if err != nil {
			return err
		}
	}
	l.configured = true
	return nil
}

// LogDir returns the directory where the log files are written.
func (l *Logger) LogDir() string {
	if len(l.logDir) != 0 {
		return l.logDir
	}
	return os.TempDir()
}

// Info logs to the INFO log.
// Arguments are handled in the manner of fmt.Print; a newline is appended if missing.
func (l *Logger) Info(args ...interface{}) {
	glog.InfoDepth(stackSkip, args...)
	l.maybeFlush()
}

// Infof logs to the INFO log.
// Arguments are handled in the manner of fmt.Printf; a newline is appended if missing.
func (l *Logger) Infof(format string, args ...interface{}) {
	glog.InfoDepthf(stackSkip, format, args...)
	l.maybeFlush()
}

// V returns true if the configured logging level is greater than or equal to its parameter.
// The process-wide --v and --vmodule settings can also enable a level.
func (l *Logger) V(v Level) bool {
	return l.enabled(v)
}

func (l *Logger) enabled(v Level) bool {
	if Level(l.level.Load()) >= v {
		return true
	}
	return bool(glog.VDepth(stackSkip+1, glog.Level(v)))
}

type discardInfo struct{}

func (*discardInfo) Info(args ...interface{})                 {}
func (*discardInfo) Infof(format string, args ...interface{}) {}

// VI is like V, except that it returns an InfoLog that either logs (if
// level >= the configured level) or discards its parameters.  This allows
// for logger.VI(2).Info style usage.
func (l *Logger) VI(v Level) InfoLog {
	if l.enabled(v) {
		return l
	}
	return &discardInfo{}
}

// FlushLog flushes all pending log I/O.
func (l *Logger) FlushLog() {
	glog.Flush()
}

// Error logs to the ERROR and INFO logs.
// Arguments are handled in the manner of fmt.Print; a newline is appended if missing.
func (l *Logger) Error(args ...interface{}) {
	glog.ErrorDepth(stackSkip, args...)
	l.maybeFlush()
}

// Errorf logs to the ERROR and INFO logs.
// Arguments are handled in the manner of fmt.Printf; a newline is appended if missing.
func (l *Logger) Errorf(format string, args ...interface{}) {
	glog.ErrorDepthf(stackSkip, format, args...)
	l.maybeFlush()
}

// Fatalf logs to the FATAL, ERROR and INFO logs,
// including a stack trace of all running goroutines, then calls os.Exit(255).
func (l *Logger) Fatalf(format string, args ...interface{}) {
	glog.FatalDepthf(stackSkip, format, args...)
}

// Panicf is the kernel panic: it logs the message to the ERROR log,
// flushes, and then panics with a *PanicError carrying the same message.
func (l *Logger) Panicf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	glog.ErrorDepthf(stackSkip, "%s: kernel panic: %s", l.name, msg)
	glog.Flush()
	panic(&PanicError{Msg: msg})
}

// PanicError is the value passed to panic by Panicf.
type PanicError struct {
	Msg string
}

func (e *PanicError) Error() string {
	return "kernel panic: " + e.Msg
}
