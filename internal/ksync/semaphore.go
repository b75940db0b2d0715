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

import (
	"context"
	"fmt"
	"sync"
)

// Semaphore is spec.md §4.10's counting semaphore: Down blocks while the
// count is zero then decrements; Up selects the highest-effective-priority
// waiter (not FIFO) to wake, matching the scheduler's waiter-selection
// policy (§5 "Waiter selection at sema_up is by current effective
// priority, not insertion order").
//
// Go has no interrupt-disable primitive to borrow, so the critical section
// spec.md describes ("down disables interrupts, blocks while count==0,
// decrements, restores") is realized with a plain sync.Mutex guarding the
// counter and wait list; the blocking wait itself is a channel receive
// outside the mutex, exactly where the real kernel would have already
// re-enabled interrupts.
type Semaphore struct {
	mu      sync.Mutex
	value   int
	waiters []*semWaiter
}

type semWaiter struct {
	thread *Thread
	ch     chan struct{}
}

// NewSemaphore creates a semaphore with the given initial count.
func NewSemaphore(value int) *Semaphore {
	if value < 0 {
		panic(fmt.Sprintf("ksync: negative initial semaphore value %d", value))
	}
	return &Semaphore{value: value}
}

// TryDown attempts a non-blocking decrement, used by Lock.Acquire's
// initial fast path and by interrupt handlers (spec.md §5: "Interrupt
// handlers may call sema_up and sema_try_down but never anything that
// blocks").
func (s *Semaphore) TryDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.value > 0 {
		s.value--
		return true
	}
	return false
}

// Down blocks until the semaphore can be decremented. t identifies the
// calling thread so that a future Up can select it by priority; t may be
// nil for call sites that never participate in priority scheduling. A nil
// waiter counts as priority 0, and waiters of equal priority are woken in
// arrival order. (The filesystem and swap global locks are not built on
// Semaphore: they use syncutil.InvariantMutex and sync.Mutex.)
func (s *Semaphore) Down(ctx context.Context, t *Thread) error {
	s.mu.Lock()
	if s.value > 0 {
		s.value--
		s.mu.Unlock()
		return nil
	}

	w := &semWaiter{thread: t, ch: make(chan struct{})}
	s.waiters = append(s.waiters, w)
	s.mu.Unlock()

	select {
	case <-w.ch:
		return nil
	case <-ctx.Done():
		s.removeWaiter(w)
		return ctx.Err()
	}
}

func (s *Semaphore) removeWaiter(target *semWaiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, w := range s.waiters {
		if w == target {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return
		}
	}
	// Already woken by a concurrent Up; give back the unit it granted us.
	s.value++
}

// Up increments the semaphore, waking the highest-effective-priority
// waiter if any are queued.
func (s *Semaphore) Up() {
	s.mu.Lock()

	if len(s.waiters) == 0 {
		s.value++
		s.mu.Unlock()
		return
	}

	best := 0
	for i := 1; i < len(s.waiters); i++ {
		if priorityOf(s.waiters[i].thread) > priorityOf(s.waiters[best].thread) {
			best = i
		}
	}

	w := s.waiters[best]
	s.waiters = append(s.waiters[:best], s.waiters[best+1:]...)
	s.mu.Unlock()

	close(w.ch)
}

// Value reports the current count, for tests and invariant checks only.
func (s *Semaphore) Value() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

func priorityOf(t *Thread) int {
	if t == nil {
		return 0
	}
	return t.EffectivePriority()
}
