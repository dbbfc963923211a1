// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bootcfg provides the kernel's boot options.  Options are
// declared as tagged struct fields and registered as command line flags:
//
//	var opts bootcfg.Options
//	fs := pflag.NewFlagSet("kschedsim", pflag.ExitOnError)
//	if err := bootcfg.RegisterFlags(fs, &opts); err != nil { ... }
//	fs.Parse(os.Args[1:])
//	cfg, err := opts.SchedConfig()
package bootcfg

import (
	"fmt"
	"math"
	"time"

	"github.com/spf13/pflag"
	"v.io/x/ksched/sched"
)

// Tag is the struct tag key boot options are declared with.
const Tag = "kconfig"

// MaxCPUs bounds the cpus option.
const MaxCPUs = 256

// Options are the kernel's boot options.
type Options struct {
	CPUs         int           `kconfig:"cpus,4,number of logical processors"`
	Scheduler    string        `kconfig:"scheduler,affine,'scheduling policy, affine or simple'"`
	Quantum      time.Duration `kconfig:"quantum,3ms,default time slice"`
	FairnessSkip float64       `kconfig:"fairness-skip,0.2,probability with which the highest-priority non real-time thread is passed over"`
	MaxThreads   int           `kconfig:"max-threads,4096,number of thread statistics blocks allocated at boot"`
	Seed         uint32        `kconfig:"seed,0,fairness skip seed; zero seeds from the clock"`
}

// RegisterFlags registers o's fields as flags on fs, setting them to their
// defaults.
func RegisterFlags(fs *pflag.FlagSet, o *Options) error {
	return RegisterFlagsInStruct(fs, Tag, o)
}

// Defaults returns the default boot options.
func Defaults() Options {
	var o Options
	if err := RegisterFlags(pflag.NewFlagSet("defaults", pflag.ContinueOnError), &o); err != nil {
		panic(fmt.Sprintf("bootcfg: invalid option tags: %v", err))
	}
	return o
}

// Validate checks the options.
func (o Options) Validate() error {
	switch {
	case o.CPUs < 1 || o.CPUs > MaxCPUs:
		return fmt.Errorf("bootcfg: --cpus=%d: must be between 1 and %d", o.CPUs, MaxCPUs)
	case o.Scheduler != sched.PolicyAffine && o.Scheduler != sched.PolicySimpleSMP:
		return fmt.Errorf("bootcfg: --scheduler=%q: must be %q or %q", o.Scheduler, sched.PolicyAffine, sched.PolicySimpleSMP)
	case o.Quantum <= 0:
		return fmt.Errorf("bootcfg: --quantum=%v: must be positive", o.Quantum)
	case math.IsNaN(o.FairnessSkip) || o.FairnessSkip < 0 || o.FairnessSkip >= 1:
		return fmt.Errorf("bootcfg: --fairness-skip=%v: must be in [0, 1)", o.FairnessSkip)
	case o.MaxThreads < o.CPUs:
		return fmt.Errorf("bootcfg: --max-threads=%d: must be at least --cpus", o.MaxThreads)
	}
	return nil
}

// SchedConfig validates the options and converts them to a scheduler
// configuration.
func (o Options) SchedConfig() (sched.Config, error) {
	if err := o.Validate(); err != nil {
		return sched.Config{}, err
	}
	cfg := sched.Config{
		CPUs:         o.CPUs,
		Policy:       o.Scheduler,
		Quantum:      o.Quantum,
		FairnessSkip: o.FairnessSkip,
		MaxThreads:   o.MaxThreads,
		Seed:         o.Seed,
	}
	if err := cfg.Validate(); err != nil {
		return sched.Config{}, fmt.Errorf("bootcfg: %v", err)
	}
	return cfg, nil
}
