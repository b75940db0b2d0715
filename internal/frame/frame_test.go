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

package frame_test

import (
	"context"
	"testing"

	"github.com/pintosgo/kernel/internal/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOwner struct {
	accessed map[uint32]bool
	dirty    map[uint32]bool
	cleared  map[uint32]bool
	lazy     map[uint32]bool
}

func newFakeOwner() *fakeOwner {
	return &fakeOwner{
		accessed: map[uint32]bool{},
		dirty:    map[uint32]bool{},
		cleared:  map[uint32]bool{},
		lazy:     map[uint32]bool{},
	}
}

func (o *fakeOwner) IsAccessed(uaddr uint32) bool     { return o.accessed[uaddr] }
func (o *fakeOwner) SetAccessed(uaddr uint32, v bool) { o.accessed[uaddr] = v }
func (o *fakeOwner) IsDirty(uaddr uint32) bool        { return o.dirty[uaddr] }
func (o *fakeOwner) ClearPage(uaddr uint32)           { o.cleared[uaddr] = true }
func (o *fakeOwner) SetLazy(uaddr uint32, lazy bool)  { o.lazy[uaddr] = lazy }
func (o *fakeOwner) AVL(uaddr uint32) uint8           { return 0 }

type recordingEvictor struct {
	evicted []uint32
}

func (e *recordingEvictor) Evict(ctx context.Context, owner frame.PageOwner, kaddr, uaddr uint32, dirty bool) error {
	e.evicted = append(e.evicted, uaddr)
	return nil
}

func TestGetMultipleFromFreePool(t *testing.T) {
	table := frame.NewTable(4, nil, nil)
	table.Mu.Lock()
	defer table.Mu.Unlock()

	kaddrs, ok := table.GetMultiple(2)
	require.True(t, ok)
	assert.Len(t, kaddrs, 2)

	_, ok = table.GetMultiple(10)
	assert.False(t, ok)
}

func TestClockSkipsAccessedThenEvictsUnaccessed(t *testing.T) {
	ev := &recordingEvictor{}
	table := frame.NewTable(2, ev, nil)
	table.Mu.Lock()

	kaddrs, ok := table.GetMultiple(2)
	require.True(t, ok)
	table.Create(kaddrs[0], false)
	table.Create(kaddrs[1], false)

	accessedOwner := newFakeOwner()
	accessedOwner.SetAccessed(0x1000, true)
	unaccessedOwner := newFakeOwner()

	require.NoError(t, table.SetOwner(kaddrs[0], accessedOwner, 0x1000))
	require.NoError(t, table.SetOwner(kaddrs[1], unaccessedOwner, 0x2000))
	table.Mu.Unlock()

	table.Mu.Lock()
	defer table.Mu.Unlock()
	_, err := table.FullGet(context.Background(), 1)
	require.NoError(t, err)

	// The accessed frame's bit should have been cleared by the clock
	// sweep even though it wasn't chosen as the victim this pass.
	assert.False(t, accessedOwner.IsAccessed(0x1000))
	assert.Contains(t, ev.evicted, uint32(0x2000))
}

func TestPinnedFrameNeverEvicted(t *testing.T) {
	ev := &recordingEvictor{}
	table := frame.NewTable(1, ev, nil)
	table.Mu.Lock()

	kaddrs, ok := table.GetMultiple(1)
	require.True(t, ok)
	table.Create(kaddrs[0], true)
	owner := newFakeOwner()
	require.NoError(t, table.SetOwner(kaddrs[0], owner, 0x3000))
	table.Mu.Unlock()

	table.Mu.Lock()
	defer table.Mu.Unlock()
	assert.Panics(t, func() {
		table.FullGet(context.Background(), 1)
	})
}
