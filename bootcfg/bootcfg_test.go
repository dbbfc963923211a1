// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bootcfg_test

import (
	"fmt"
	"math"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"v.io/x/ksched/bootcfg"
	"v.io/x/ksched/sched"
)

func ExampleRegisterFlags() {
	var opts bootcfg.Options
	fs := pflag.NewFlagSet("kschedsim", pflag.ContinueOnError)
	if err := bootcfg.RegisterFlags(fs, &opts); err != nil {
		panic(err)
	}
	fmt.Println(opts.CPUs, opts.Scheduler, opts.Quantum)
	fs.Parse([]string{"--cpus=2", "--scheduler=simple"})
	fmt.Println(opts.CPUs, opts.Scheduler, opts.Quantum)
	// Output:
	// 4 affine 3ms
	// 2 simple 3ms
}

func TestParseTag(t *testing.T) {
	for _, tc := range []struct {
		tag              string
		name, val, usage string
		err              string
	}{
		{"", "", "", "", "empty or missing tag"},
		{",", "", "", "", "empty field for <name>"},
		{"n,", "", "", "", "more fields expected after <default-value>"},
		{"n,,", "", "", "", "empty field for <usage>"},
		{"nn,xx", "", "", "", "more fields expected after <default-value>"},
		{"'xxxx,", "", "", "", "missing close quote (') for <name>"},
		{"xxxx,'xx','xx", "", "", "", "missing close quote (') for <usage>"},
		{"nn,,u", "nn", "", "u", ""},
		{"'n,n',,u", "n,n", "", "u", ""},
		{"n,,yy\\'s", "n", "", "yy's", ""},
		{"n,'xx,yy','usage, more'", "n", "xx,yy", "usage, more", ""},
		{"n,xx,aa,bb", "", "", "", "spurious text after <usage>"},
	} {
		n, v, u, err := bootcfg.ParseTag(tc.tag)
		if err != nil || len(tc.err) > 0 {
			if err == nil {
				t.Errorf("tag %q: expected error %q", tc.tag, tc.err)
				continue
			}
			if got, want := err.Error(), tc.err; got != want {
				t.Errorf("tag %q: got %v, want %v", tc.tag, got, want)
			}
			continue
		}
		if got, want := n, tc.name; got != want {
			t.Errorf("tag %q: got %q, want %q", tc.tag, got, want)
		}
		if got, want := v, tc.val; got != want {
			t.Errorf("tag %q: got %q, want %q", tc.tag, got, want)
		}
		if got, want := u, tc.usage; got != want {
			t.Errorf("tag %q: got %q, want %q", tc.tag, got, want)
		}
	}
}

func TestDefaults(t *testing.T) {
	o := bootcfg.Defaults()
	want := bootcfg.Options{
		CPUs:         4,
		Scheduler:    sched.PolicyAffine,
		Quantum:      3 * time.Millisecond,
		FairnessSkip: 0.2,
		MaxThreads:   4096,
	}
	if got := o; got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if err := o.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestRegisterFlags(t *testing.T) {
	var opts bootcfg.Options
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if err := bootcfg.RegisterFlags(fs, &opts); err != nil {
		t.Fatal(err)
	}
	err := fs.Parse([]string{
		"--cpus=8",
		"--scheduler=simple",
		"--quantum=10ms",
		"--fairness-skip=0",
		"--max-threads=64",
		"--seed=7",
	})
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := opts.SchedConfig()
	if err != nil {
		t.Fatal(err)
	}
	if got, want := cfg.CPUs, 8; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := cfg.Policy, sched.PolicySimpleSMP; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := cfg.Quantum, 10*time.Millisecond; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := cfg.FairnessSkip, 0.0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := cfg.MaxThreads, 64; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := cfg.Seed, uint32(7); got != want {
		t.Errorf("got %v, want %v", got, want)
	}

	// Registering twice on the same flag set is an error.
	if err := bootcfg.RegisterFlags(fs, &opts); err == nil || !strings.Contains(err.Error(), "already defined") {
		t.Errorf("missing or wrong error: %v", err)
	}
}

func TestRegisterFlagsInStruct(t *testing.T) {
	os.Setenv("KSCHED_TEST_CPUS", "3")
	defer os.Unsetenv("KSCHED_TEST_CPUS")

	type embedded struct {
		Verbose bool `kconfig:"verbose,true,be chatty"`
	}
	s := struct {
		embedded
		CPUs  int    `kconfig:"cpus,$KSCHED_TEST_CPUS,processors"`
		Label string `kconfig:"label,'a,b',a label"`
		Skip  int
	}{Skip: 23}
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if err := bootcfg.RegisterFlagsInStruct(fs, bootcfg.Tag, &s); err != nil {
		t.Fatal(err)
	}
	if got, want := s.CPUs, 3; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := fs.Lookup("cpus").DefValue, "$KSCHED_TEST_CPUS"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := s.Label, "a,b"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := s.Verbose, true; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := s.Skip, 23; got != want {
		t.Errorf("got %v, want %v", got, want)
	}

	for _, tc := range []struct {
		val interface{}
		err string
	}{
		{s, "is not a pointer to a struct"},
		{&struct {
			A int `kconfig:"a,x,usage"`
		}{}, "failed to set initial default value"},
		{&struct {
			A complex64 `kconfig:"a,,usage"`
		}{}, "unsupported type"},
		{&struct {
			A int `kconfig:",,usage"`
		}{}, "empty field for <name>"},
	} {
		err := bootcfg.RegisterFlagsInStruct(pflag.NewFlagSet("test", pflag.ContinueOnError), bootcfg.Tag, tc.val)
		if err == nil || !strings.Contains(err.Error(), tc.err) {
			t.Errorf("%T: got %v, want error containing %q", tc.val, err, tc.err)
		}
	}
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		modify func(o *bootcfg.Options)
		err    string
	}{
		{func(o *bootcfg.Options) {}, ""},
		{func(o *bootcfg.Options) { o.CPUs = 0 }, "--cpus=0"},
		{func(o *bootcfg.Options) { o.CPUs = bootcfg.MaxCPUs + 1 }, "--cpus=257"},
		{func(o *bootcfg.Options) { o.Scheduler = "fifo" }, `--scheduler="fifo"`},
		{func(o *bootcfg.Options) { o.Quantum = 0 }, "--quantum=0s"},
		{func(o *bootcfg.Options) { o.FairnessSkip = 1 }, "--fairness-skip=1"},
		{func(o *bootcfg.Options) { o.FairnessSkip = -0.5 }, "--fairness-skip=-0.5"},
		{func(o *bootcfg.Options) { o.FairnessSkip = math.NaN() }, "--fairness-skip=NaN"},
		{func(o *bootcfg.Options) { o.MaxThreads = 2 }, "--max-threads=2"},
	} {
		o := bootcfg.Defaults()
		tc.modify(&o)
		err := o.Validate()
		if len(tc.err) == 0 {
			if err != nil {
				t.Errorf("%+v: unexpected error: %v", o, err)
			}
			continue
		}
		if err == nil || !strings.Contains(err.Error(), tc.err) {
			t.Errorf("%+v: got %v, want error containing %q", o, err, tc.err)
		}
		if _, err := o.SchedConfig(); err == nil {
			t.Errorf("%+v: SchedConfig accepted invalid options", o)
		}
	}
}
