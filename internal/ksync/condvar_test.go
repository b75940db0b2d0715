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

package ksync_test

import (
	"context"
	"sync"
	"testing"

	"github.com/pintosgo/kernel/internal/ksync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCondVarSignalWakesOneWaiter checks that Signal releases exactly one
// of several waiters, and that the waiter re-acquires the lock before Wait
// returns.
func TestCondVarSignalWakesOneWaiter(t *testing.T) {
	ctx := context.Background()
	l := ksync.NewLock()
	cv := ksync.NewCondVar()

	ready := false
	var wg sync.WaitGroup
	results := make(chan int, 2)

	waiter := func(id int) {
		defer wg.Done()
		th := ksync.NewThread("w", 10)
		require.NoError(t, l.Acquire(ctx, th))
		for !ready {
			require.NoError(t, cv.Wait(ctx, l, th, nil))
		}
		l.Release(th, nil)
		results <- id
	}

	wg.Add(2)
	go waiter(1)
	go waiter(2)

	waitUntil(t, func() bool { return cv.WaiterCount() == 2 })

	setter := ksync.NewThread("setter", 10)
	require.NoError(t, l.Acquire(ctx, setter))
	ready = true
	cv.Signal()
	l.Release(setter, nil)

	select {
	case <-results:
	case <-context.Background().Done():
	}
	assert.Equal(t, 1, cv.WaiterCount())

	// Release the remaining waiter too so the goroutine doesn't leak.
	setter2 := ksync.NewThread("setter2", 10)
	require.NoError(t, l.Acquire(ctx, setter2))
	cv.Signal()
	l.Release(setter2, nil)

	wg.Wait()
	close(results)
}

// TestCondVarBroadcastWakesAll verifies Broadcast releases every waiter.
func TestCondVarBroadcastWakesAll(t *testing.T) {
	ctx := context.Background()
	l := ksync.NewLock()
	cv := ksync.NewCondVar()

	ready := false
	const n = 4
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			th := ksync.NewThread("w", 10)
			require.NoError(t, l.Acquire(ctx, th))
			for !ready {
				require.NoError(t, cv.Wait(ctx, l, th, nil))
			}
			l.Release(th, nil)
		}()
	}

	waitUntil(t, func() bool { return cv.WaiterCount() == n })

	setter := ksync.NewThread("setter", 10)
	require.NoError(t, l.Acquire(ctx, setter))
	ready = true
	cv.Broadcast()
	l.Release(setter, nil)

	wg.Wait()
	assert.Equal(t, 0, cv.WaiterCount())
}
