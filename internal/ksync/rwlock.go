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

import "context"

// RWLock is spec.md §4.10's writer-preferring readers-writer monitor: one
// Lock, two CondVars (read/write), and four counters. Readers block while
// any writer is active or waiting; writers block while any reader or
// writer is active. Explicitly NOT a fair scheduler (spec.md §1 lists
// "fair readers-writer scheduling" as a non-goal): a steady stream of
// writers can starve readers indefinitely, matching the original's
// documented trade-off.
type RWLock struct {
	mu    *Lock
	read  *CondVar
	write *CondVar

	activeReaders  int
	waitingReaders int
	activeWriters  int
	waitingWriters int
}

// NewRWLock creates an unheld readers-writer lock.
func NewRWLock() *RWLock {
	return &RWLock{mu: NewLock(), read: NewCondVar(), write: NewCondVar()}
}

// RLock acquires the lock for reading.
func (rw *RWLock) RLock(ctx context.Context, t *Thread, sched *Scheduler) error {
	if err := rw.mu.Acquire(ctx, t); err != nil {
		return err
	}

	rw.waitingReaders++
	for rw.activeWriters > 0 || rw.waitingWriters > 0 {
		if err := rw.read.Wait(ctx, rw.mu, t, sched); err != nil {
			rw.waitingReaders--
			rw.mu.Release(t, sched)
			return err
		}
	}
	rw.waitingReaders--
	rw.activeReaders++

	rw.mu.Release(t, sched)
	return nil
}

// RUnlock releases a read hold.
func (rw *RWLock) RUnlock(ctx context.Context, t *Thread, sched *Scheduler) {
	_ = rw.mu.Acquire(ctx, t)

	rw.activeReaders--
	if rw.activeReaders == 0 && rw.waitingWriters > 0 {
		rw.write.Signal()
	}

	rw.mu.Release(t, sched)
}

// Lock acquires the lock for writing.
func (rw *RWLock) Lock(ctx context.Context, t *Thread, sched *Scheduler) error {
	if err := rw.mu.Acquire(ctx, t); err != nil {
		return err
	}

	rw.waitingWriters++
	for rw.activeReaders > 0 || rw.activeWriters > 0 {
		if err := rw.write.Wait(ctx, rw.mu, t, sched); err != nil {
			rw.waitingWriters--
			rw.mu.Release(t, sched)
			return err
		}
	}
	rw.waitingWriters--
	rw.activeWriters++

	rw.mu.Release(t, sched)
	return nil
}

// Unlock releases a write hold. On release, a waiting writer is preferred
// over readers; only if none is waiting are all blocked readers woken.
func (rw *RWLock) Unlock(ctx context.Context, t *Thread, sched *Scheduler) {
	_ = rw.mu.Acquire(ctx, t)

	rw.activeWriters--
	if rw.waitingWriters > 0 {
		rw.write.Signal()
	} else if rw.waitingReaders > 0 {
		rw.read.Broadcast()
	}

	rw.mu.Release(t, sched)
}

// Stats returns the four counters, for tests and invariant checks.
func (rw *RWLock) Stats() (activeReaders, waitingReaders, activeWriters, waitingWriters int) {
	return rw.activeReaders, rw.waitingReaders, rw.activeWriters, rw.waitingWriters
}
