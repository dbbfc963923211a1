// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !ksched_release

package lock

// debugLocks selects strict holder tracking and the invariant checks that
// go with it.  Build with -tags ksched_release to use the counting fast
// path instead.
const debugLocks = true
