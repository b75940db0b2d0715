// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ksync

import "sync"

// Scheduler is a single-CPU cooperative run queue: at most one registered
// Thread may be "running" at a time, and whenever the CPU is released the
// highest-effective-priority waiting thread is chosen next. It is the
// concrete realization of spec.md §5's "single-CPU preemptive kernel" and
// "any ready thread strictly higher in effective priority than the running
// thread preempts on the next yield point" — Go's runtime scheduler has no
// notion of our threads' donated priorities, so this type supplies the
// ordering guarantee the spec requires on top of it. It is optional: code
// that only needs the donation bookkeeping (not CPU-occupancy ordering)
// can pass a nil *Scheduler to Lock.Release.
type Scheduler struct {
	mu      sync.Mutex
	current *Thread
	waiting map[*Thread]chan struct{}
}

// NewScheduler creates an empty, idle scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{waiting: make(map[*Thread]chan struct{})}
}

// Enter requests the CPU for t, blocking until no other thread is running.
// If the CPU is idle, t acquires it immediately.
func (s *Scheduler) Enter(t *Thread) {
	s.mu.Lock()
	if s.current == nil {
		s.current = t
		s.mu.Unlock()
		return
	}

	gate := make(chan struct{})
	s.waiting[t] = gate
	s.mu.Unlock()

	<-gate
}

// Done releases the CPU from t, scheduling the highest-effective-priority
// waiting thread next, if any.
func (s *Scheduler) Done(t *Thread) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != t {
		return
	}
	s.current = nil
	s.scheduleNextLocked()
}

// YieldIfPreempted hands the CPU to a strictly-higher-priority waiting
// thread than t, if one exists, leaving t as current otherwise. This is
// what lock_release and sema_up call to realize "yield if a higher
// priority thread becomes ready" without a full context switch away from
// the calling goroutine (the goroutine keeps running user code; only the
// logical "current thread" bookkeeping changes, which is sufficient for
// the ordering properties spec.md §8 tests).
func (s *Scheduler) YieldIfPreempted(t *Thread) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != t || len(s.waiting) == 0 {
		return
	}

	best := s.bestWaitingLocked()
	if best == nil || best.EffectivePriority() <= t.EffectivePriority() {
		return
	}

	s.current = nil
	s.scheduleNextLocked()
}

func (s *Scheduler) bestWaitingLocked() *Thread {
	var best *Thread
	for th := range s.waiting {
		if best == nil || th.EffectivePriority() > best.EffectivePriority() {
			best = th
		}
	}
	return best
}

// scheduleNextLocked must be called with s.mu held and s.current == nil.
func (s *Scheduler) scheduleNextLocked() {
	best := s.bestWaitingLocked()
	if best == nil {
		return
	}
	gate := s.waiting[best]
	delete(s.waiting, best)
	s.current = best
	close(gate)
}

// Current returns the thread currently holding the CPU, or nil if idle.
func (s *Scheduler) Current() *Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}
