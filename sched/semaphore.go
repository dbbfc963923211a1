// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sched

// A binarySemaphore is a binary semaphore; it can have values 0 and 1.
// Threads park on one while they are not running, and processors park on
// one while halted in their idle loop.
type binarySemaphore struct {
	ch chan struct{}
}

func newBinarySemaphore() binarySemaphore {
	return binarySemaphore{ch: make(chan struct{}, 1)}
}

// P waits until the count of semaphore *s is 1 and decrements the
// count to 0.
func (s *binarySemaphore) P() {
	<-s.ch
}

// V ensures that the semaphore count of *s is 1.
func (s *binarySemaphore) V() {
	select {
	case s.ch <- struct{}{}:
	default: // Don't block if the semaphore count is already 1.
	}
}
