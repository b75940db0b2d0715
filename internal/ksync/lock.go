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

// maxDonationChain bounds the nested-donation walk (spec.md §4.10
// "acquire") against a cyclic lock graph, which would otherwise be a
// caller bug (a thread can never legally wait on a lock it already holds).
const maxDonationChain = 64

// Lock wraps a binary Semaphore plus a holder pointer, implementing
// spec.md §4.10's nested priority donation: acquiring a held lock walks
// holder → lock-it-is-waiting-on → its holder → ... raising every
// blocker's effective priority that is lower than the acquirer's.
type Lock struct {
	sem *Semaphore

	mu     sync.Mutex
	holder *Thread
}

// NewLock creates an unheld lock.
func NewLock() *Lock {
	return &Lock{sem: NewSemaphore(1)}
}

// Holder returns the thread currently holding the lock, or nil.
func (l *Lock) Holder() *Thread {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holder
}

// Acquire acquires the lock for t, donating t's priority up the chain of
// locks standing between t and the thread ultimately blocking it, as
// spec.md §4.10 describes. It blocks until the lock is free or ctx is
// done.
func (l *Lock) Acquire(ctx context.Context, t *Thread) error {
	if l.sem.TryDown() {
		l.mu.Lock()
		l.holder = t
		l.mu.Unlock()
		return nil
	}

	t.setWaitingOn(l)
	donateChain(t, l)

	err := l.sem.Down(ctx, t)
	t.setWaitingOn(nil)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.holder = t
	l.mu.Unlock()
	return nil
}

// Release releases the lock held by t, clearing any donations t received
// that were scoped to this lock and recomputing its effective priority
// (falling back to base priority if no donation remains), per spec.md
// §4.10. sched, if non-nil, is asked to yield the CPU if a higher-priority
// thread has become ready — the concrete realization of "release must
// yield if a higher-priority thread becomes ready".
func (l *Lock) Release(t *Thread, sched *Scheduler) {
	l.mu.Lock()
	l.holder = nil
	l.mu.Unlock()

	t.clearDonationsForLock(l)
	l.sem.Up()

	if sched != nil {
		sched.YieldIfPreempted(t)
	}
}

// donateChain implements spec.md §4.10's nested donation walk. donor is
// the thread that just started waiting on firstLock.
func donateChain(donor *Thread, firstLock *Lock) {
	donorPriority := donor.EffectivePriority()
	cur := firstLock

	for i := 0; cur != nil && i < maxDonationChain; i++ {
		cur.mu.Lock()
		holder := cur.holder
		cur.mu.Unlock()

		if holder == nil || holder == donor {
			return
		}

		holder.receiveDonation(cur, donorPriority)
		cur = holder.WaitingOn()
	}
}
