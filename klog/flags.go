// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package klog

import "flag"

// LoggingFlags represents all of the flags that can be used to configure
// the kernel log.
type LoggingFlags struct {
	ToStderr        bool
	AlsoToStderr    bool
	LogDir          string
	Verbosity       Level
	StderrThreshold StderrThreshold
	VModule         ModuleSpec
}

// RegisterLoggingFlags registers the logging flags with the specified
// flagset and with prefix prepended to their flag names.
//
//	--<prefix>v
//	--<prefix>log_dir
//	--<prefix>logtostderr
//	--<prefix>alsologtostderr
//	--<prefix>stderrthreshold
//	--<prefix>vmodule
//
// If --test.v is already defined (as it is under go test) the verbosity
// flag is registered as --<prefix>vlevel instead.
func RegisterLoggingFlags(fs *flag.FlagSet, lf *LoggingFlags, prefix string) {
	vflag := prefix + "v"
	if fs.Lookup("test.v") != nil {
		vflag = prefix + "vlevel"
	}
	lf.StderrThreshold = ErrorSeverity
	fs.Var(&lf.Verbosity, vflag, "log level for V logs")
	fs.StringVar(&lf.LogDir, prefix+"log_dir", "", "if non-empty, write log files to this directory")
	fs.BoolVar(&lf.ToStderr, prefix+"logtostderr", false, "log to standard error instead of files")
	fs.BoolVar(&lf.AlsoToStderr, prefix+"alsologtostderr", false, "log to standard error as well as files")
	fs.Var(&lf.StderrThreshold, prefix+"stderrthreshold", "logs at or above this threshold go to stderr")
	fs.Var(&lf.VModule, prefix+"vmodule", "comma-separated list of globpattern=N settings for filename-filtered logging (without the .go suffix)")
}

// ConfigureFromLoggingFlags configures the logger using the specified
// LoggingFlags followed by any extra options.
func (l *Logger) ConfigureFromLoggingFlags(lf *LoggingFlags, opts ...LoggingOpts) error {
	all := []LoggingOpts{
		LogToStderr(lf.ToStderr),
		AlsoLogToStderr(lf.AlsoToStderr),
		LogDir(lf.LogDir),
		Level(lf.Verbosity),
		StderrThreshold(lf.StderrThreshold),
		ModuleSpec(lf.VModule),
	}
	all = append(all, opts...)
	return l.Configure(all...)
}
