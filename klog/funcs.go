// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package klog

// Info logs to the INFO log of the kernel logger.
func Info(args ...interface{}) {
	Log.Info(args...)
}

// Infof logs to the INFO log of the kernel logger.
func Infof(format string, args ...interface{}) {
	Log.Infof(format, args...)
}

// V returns true if the kernel logger's level is at least level.
func V(level Level) bool {
	return Log.V(level)
}

// VI is the package-level equivalent of Logger.VI.
func VI(level Level) InfoLog {
	return Log.VI(level)
}

// Errorf logs to the ERROR and INFO logs of the kernel logger.
func Errorf(format string, args ...interface{}) {
	Log.Errorf(format, args...)
}

// Panicf reports a programming-contract violation and halts the calling
// thread with a kernel panic.
func Panicf(format string, args ...interface{}) {
	Log.Panicf(format, args...)
}

// FlushLog flushes all pending log I/O of the kernel logger.
func FlushLog() {
	Log.FlushLog()
}
