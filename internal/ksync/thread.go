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

// Package ksync is the kernel's synchronization core: semaphores, locks
// with nested priority donation, condition variables, readers-writer
// locks, and a small cooperative scheduler, as described in spec.md §4.10
// and §5. Every goroutine that participates in donation carries a *Thread;
// donation is a property of Threads, not of the raw goroutines running
// them.
package ksync

import (
	"sort"
	"sync"
)

// Thread is the per-thread priority unit from spec.md §3 ("Thread priority
// unit"): a base priority, the lock (if any) the thread is currently
// blocked acquiring, and the donations it has received via locks it holds.
type Thread struct {
	Name string

	mu           sync.Mutex
	basePriority int
	waitingOn    *Lock
	donations    []donation
}

// donation is spec.md §3's "Lock donation": {lock, effective_priority}.
type donation struct {
	lock     *Lock
	priority int
}

// NewThread creates a thread with the given base (original) priority.
func NewThread(name string, basePriority int) *Thread {
	return &Thread{Name: name, basePriority: basePriority}
}

// BasePriority returns the thread's original priority, ignoring donations.
func (t *Thread) BasePriority() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.basePriority
}

// SetBasePriority changes the thread's base priority (e.g. via a priority
// syscall). It does not by itself affect outstanding donations.
func (t *Thread) SetBasePriority(p int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.basePriority = p
}

// EffectivePriority is spec.md §8's invariant:
// max(base, max(donations)) at any point outside an in-flight donation
// update.
func (t *Thread) EffectivePriority() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.effectivePriorityLocked()
}

func (t *Thread) effectivePriorityLocked() int {
	best := t.basePriority
	for _, d := range t.donations {
		if d.priority > best {
			best = d.priority
		}
	}
	return best
}

// WaitingOn returns the lock this thread is currently blocked trying to
// acquire, or nil.
func (t *Thread) WaitingOn() *Lock {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.waitingOn
}

func (t *Thread) setWaitingOn(l *Lock) {
	t.mu.Lock()
	t.waitingOn = l
	t.mu.Unlock()
}

// receiveDonation records or raises a donation of priority scoped to lock,
// keeping the donation list ordered descending by priority as spec.md §3
// requires. It is a no-op if an existing donation for the same lock is
// already at least as high.
func (t *Thread) receiveDonation(lock *Lock, priority int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.donations {
		if t.donations[i].lock == lock {
			if t.donations[i].priority >= priority {
				return
			}
			t.donations[i].priority = priority
			t.sortDonationsLocked()
			return
		}
	}

	t.donations = append(t.donations, donation{lock: lock, priority: priority})
	t.sortDonationsLocked()
}

// clearDonationsForLock removes every donation entry scoped to lock,
// spec.md §4.10's "release" step.
func (t *Thread) clearDonationsForLock(lock *Lock) {
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.donations[:0]
	for _, d := range t.donations {
		if d.lock != lock {
			kept = append(kept, d)
		}
	}
	t.donations = kept
}

func (t *Thread) sortDonationsLocked() {
	sort.Slice(t.donations, func(i, j int) bool {
		return t.donations[i].priority > t.donations[j].priority
	})
}
