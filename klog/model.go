// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package klog

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/golang/glog"
)

// InfoLog is the subset of the Logger returned by VI.
type InfoLog interface {
	// Info logs to the INFO log.
	// Arguments are handled in the manner of fmt.Print; a newline is appended if missing.
	Info(args ...interface{})

	// Infof logs to the INFO log.
	// Arguments are handled in the manner of fmt.Printf; a newline is appended if missing.
	Infof(format string, args ...interface{})
}

// Level specifies a level of verbosity for V logs.
// It implements the flag.Value interface to support command line option parsing.
type Level glog.Level

// Set is part of the flag.Value interface.
func (l *Level) Set(v string) error {
	return (*glog.Level)(l).Set(v)
}

// Get is part of the flag.Getter interface.
func (l *Level) Get() interface{} {
	return *l
}

// String is part of the flag.Value interface.
func (l *Level) String() string {
	return (*glog.Level)(l).String()
}

// StderrThreshold identifies the sort of log: info, warning etc.
// It implements the flag.Value interface to support command line option parsing.
type StderrThreshold int32

const (
	InfoSeverity StderrThreshold = iota
	WarningSeverity
	ErrorSeverity
	FatalSeverity
)

var severityName = []string{"INFO", "WARNING", "ERROR", "FATAL"}

// Set is part of the flag.Value interface.
func (s *StderrThreshold) Set(v string) error {
	for i, name := range severityName {
		if strings.EqualFold(v, name) {
			*s = StderrThreshold(i)
			return nil
		}
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("unknown severity %q", v)
	}
	if n < int(InfoSeverity) || n > int(FatalSeverity) {
		return fmt.Errorf("severity %d out of range (min %d, max %d)", n, InfoSeverity, FatalSeverity)
	}
	*s = StderrThreshold(n)
	return nil
}

// Get is part of the flag.Getter interface.
func (s *StderrThreshold) Get() interface{} {
	return *s
}

// String is part of the flag.Value interface.
func (s *StderrThreshold) String() string {
	if *s < InfoSeverity || *s > FatalSeverity {
		return strconv.Itoa(int(*s))
	}
	return severityName[*s]
}

// ModuleSpec allows for the setting of specific log levels for specific
// files.  The syntax is runqueue=2,affine=3,rw*=3
type ModuleSpec struct {
	spec string
}

// Set is part of the flag.Value interface.
func (m *ModuleSpec) Set(v string) error {
	for _, pat := range strings.Split(v, ",") {
		if len(pat) == 0 {
			continue
		}
		parts := strings.Split(pat, "=")
		if len(parts) != 2 || len(parts[0]) == 0 {
			return fmt.Errorf("syntax error: expect comma-separated list of filename=N, got %q", pat)
		}
		if _, err := strconv.Atoi(parts[1]); err != nil {
			return fmt.Errorf("syntax error: %q: level %q is not a number", pat, parts[1])
		}
	}
	m.spec = v
	return nil
}

// Get is part of the flag.Getter interface.
func (m *ModuleSpec) Get() interface{} {
	return *m
}

// String is part of the flag.Value interface.
func (m *ModuleSpec) String() string {
	return m.spec
}
