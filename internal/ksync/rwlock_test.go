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

func TestRWLockMultipleReaders(t *testing.T) {
	ctx := context.Background()
	rw := ksync.NewRWLock()

	r1 := ksync.NewThread("r1", 10)
	r2 := ksync.NewThread("r2", 10)

	require.NoError(t, rw.RLock(ctx, r1, nil))
	require.NoError(t, rw.RLock(ctx, r2, nil))

	active, waiting, activeW, waitingW := rw.Stats()
	assert.Equal(t, 2, active)
	assert.Equal(t, 0, waiting)
	assert.Equal(t, 0, activeW)
	assert.Equal(t, 0, waitingW)

	rw.RUnlock(ctx, r1, nil)
	rw.RUnlock(ctx, r2, nil)
}

func TestRWLockWriterExcludesReaders(t *testing.T) {
	ctx := context.Background()
	rw := ksync.NewRWLock()

	writer := ksync.NewThread("writer", 10)
	require.NoError(t, rw.Lock(ctx, writer, nil))

	reader := ksync.NewThread("reader", 10)
	done := make(chan struct{})
	go func() {
		require.NoError(t, rw.RLock(ctx, reader, nil))
		close(done)
		rw.RUnlock(ctx, reader, nil)
	}()

	waitUntil(t, func() bool {
		_, waiting, _, _ := rw.Stats()
		return waiting == 1
	})

	select {
	case <-done:
		t.Fatalf("reader acquired lock while writer held it")
	default:
	}

	rw.Unlock(ctx, writer, nil)
	<-done
}

func TestRWLockWriterPreferredOverReaders(t *testing.T) {
	ctx := context.Background()
	rw := ksync.NewRWLock()

	writer1 := ksync.NewThread("writer1", 10)
	require.NoError(t, rw.Lock(ctx, writer1, nil))

	var wg sync.WaitGroup
	order := make(chan string, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		reader := ksync.NewThread("reader", 10)
		require.NoError(t, rw.RLock(ctx, reader, nil))
		order <- "reader"
		rw.RUnlock(ctx, reader, nil)
	}()
	waitUntil(t, func() bool {
		_, waiting, _, _ := rw.Stats()
		return waiting == 1
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		writer2 := ksync.NewThread("writer2", 10)
		require.NoError(t, rw.Lock(ctx, writer2, nil))
		order <- "writer2"
		rw.Unlock(ctx, writer2, nil)
	}()
	waitUntil(t, func() bool {
		_, _, _, waitingW := rw.Stats()
		return waitingW == 1
	})

	rw.Unlock(ctx, writer1, nil)

	first := <-order
	assert.Equal(t, "writer2", first, "writer must be preferred over a waiting reader")
	<-order
	wg.Wait()
}
