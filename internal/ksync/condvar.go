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
	"sync"
)

// CondVar is spec.md §4.10's monitor-style condition variable: a wait
// queue of per-waiter binary semaphores, so that Signal can target exactly
// one of them rather than waking every waiter (as a single shared
// semaphore would).
type CondVar struct {
	mu      sync.Mutex
	waiters []*cvWaiter
}

type cvWaiter struct {
	sem    *Semaphore
	thread *Thread
}

// NewCondVar creates an empty condition variable.
func NewCondVar() *CondVar {
	return &CondVar{}
}

// Wait enqueues a fresh waiter, releases lock, blocks on the waiter's own
// semaphore, then reacquires lock before returning — exactly spec.md
// §4.10's sequence. The caller must hold lock on entry and, on a nil
// error, holds it again on return.
func (cv *CondVar) Wait(ctx context.Context, lock *Lock, t *Thread, sched *Scheduler) error {
	w := &cvWaiter{sem: NewSemaphore(0), thread: t}

	cv.mu.Lock()
	cv.waiters = append(cv.waiters, w)
	cv.mu.Unlock()

	lock.Release(t, sched)

	waitErr := w.sem.Down(ctx, t)

	if err := lock.Acquire(context.Background(), t); err != nil && waitErr == nil {
		waitErr = err
	}

	return waitErr
}

// Signal wakes the waiter whose thread currently has the highest effective
// priority, per spec.md §4.10.
func (cv *CondVar) Signal() {
	cv.mu.Lock()
	if len(cv.waiters) == 0 {
		cv.mu.Unlock()
		return
	}

	best := 0
	for i := 1; i < len(cv.waiters); i++ {
		if cv.waiters[i].thread.EffectivePriority() > cv.waiters[best].thread.EffectivePriority() {
			best = i
		}
	}

	w := cv.waiters[best]
	cv.waiters = append(cv.waiters[:best], cv.waiters[best+1:]...)
	cv.mu.Unlock()

	w.sem.Up()
}

// Broadcast wakes every waiter.
func (cv *CondVar) Broadcast() {
	cv.mu.Lock()
	ws := cv.waiters
	cv.waiters = nil
	cv.mu.Unlock()

	for _, w := range ws {
		w.sem.Up()
	}
}

// WaiterCount reports the number of threads currently queued, for tests.
func (cv *CondVar) WaiterCount() int {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	return len(cv.waiters)
}
