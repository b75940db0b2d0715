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

package inode_test

import (
	"context"
	"testing"

	"github.com/pintosgo/kernel/internal/blockdev"
	"github.com/pintosgo/kernel/internal/freemap"
	"github.com/pintosgo/kernel/internal/inode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFixture(t *testing.T, sectors uint32) (*inode.Table, *freemap.Map) {
	t.Helper()
	dev := blockdev.NewMemDevice(sectors)
	fm := freemap.New(sectors)
	return inode.NewTable(dev, fm), fm
}

// TestReadAtAfterWriteAtRoundTrips is spec.md §8's universal invariant:
// read_at(write_at(o, data), o, |data|) == data.
func TestReadAtAfterWriteAtRoundTrips(t *testing.T) {
	ctx := context.Background()
	table, _ := newFixture(t, 64)

	in, err := table.Create(ctx, 2, 0, false, false)
	require.NoError(t, err)

	data := []byte("hello, pintos")
	n, err := in.WriteAt(ctx, data, 10)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)

	got := make([]byte, len(data))
	n, err = in.ReadAt(ctx, got, 10)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.Equal(t, data, got)
}

// TestWritePastEOFZeroFillsGap is scenario 1 from spec.md §8: lazy file
// growth, reading the untouched region back as zeros.
func TestWritePastEOFZeroFillsGap(t *testing.T) {
	ctx := context.Background()
	table, fm := newFixture(t, 512)

	in, err := table.Create(ctx, 1, 0, false, false)
	require.NoError(t, err)

	_, err = in.WriteAt(ctx, []byte{'X'}, 100_000)
	require.NoError(t, err)
	assert.EqualValues(t, 100_001, in.Length())

	zeros := make([]byte, 100_000)
	n, err := in.ReadAt(ctx, zeros, 0)
	require.NoError(t, err)
	assert.Equal(t, 100_000, n)
	for i, b := range zeros {
		if b != 0 {
			t.Fatalf("byte %d not zero", i)
		}
	}

	last := make([]byte, 1)
	_, err = in.ReadAt(ctx, last, 100_000)
	require.NoError(t, err)
	assert.Equal(t, byte('X'), last[0])

	// The untouched region must not have consumed real sectors it didn't
	// need to: most of the 196 logical sectors stay unallocated.
	assert.Less(t, fm.FreeCount(), uint32(512))
	assert.Greater(t, fm.FreeCount(), uint32(480))
}

// TestCreateOpenCloseRemoveLeavesNoLeakedSectors is spec.md §8's
// create/open/close/remove free-map neutrality property.
func TestCreateOpenCloseRemoveLeavesNoLeakedSectors(t *testing.T) {
	ctx := context.Background()
	table, fm := newFixture(t, 64)

	before := fm.FreeCount()

	in, err := table.Create(ctx, 5, 0, false, false)
	require.NoError(t, err)

	_, err = in.WriteAt(ctx, make([]byte, 4000), 0)
	require.NoError(t, err)

	reopened, err := table.Open(ctx, 5)
	require.NoError(t, err)
	require.Same(t, in, reopened)

	in.Remove()
	require.NoError(t, in.Close(ctx))
	// Still open once more (from table.Open above).
	assert.Less(t, fm.FreeCount(), before)

	require.NoError(t, reopened.Close(ctx))
	assert.Equal(t, before, fm.FreeCount())
}

// TestLengthEqualsDescriptorCoveredBytes is spec.md §8's chunk-list
// invariant, exercised across a sequence of expanding writes.
func TestLengthEqualsDescriptorCoveredBytes(t *testing.T) {
	ctx := context.Background()
	table, _ := newFixture(t, 4096)

	in, err := table.Create(ctx, 3, 0, false, false)
	require.NoError(t, err)

	offsets := []uint32{0, 1000, 50_000, 200_000}
	for _, off := range offsets {
		_, err := in.WriteAt(ctx, []byte{1, 2, 3, 4}, off)
		require.NoError(t, err)
	}

	assert.EqualValues(t, 200_004, in.Length())
}

// TestWriteDeniedWhileDenyWriterHeld checks the ELF-loader deny-write
// contract (spec.md §3 "File handle").
func TestWriteDeniedWhileDenyWriterHeld(t *testing.T) {
	ctx := context.Background()
	table, _ := newFixture(t, 16)

	in, err := table.Create(ctx, 1, 100, true, false)
	require.NoError(t, err)

	in.DenyWrite()
	_, err = in.WriteAt(ctx, []byte{9}, 0)
	assert.ErrorIs(t, err, inode.ErrWriteDenied)

	in.AllowWrite()
	_, err = in.WriteAt(ctx, []byte{9}, 0)
	assert.NoError(t, err)
}

// TestPreallocatedCreateConsumesRealSectors verifies the ELF loader's
// preallocate=true path actually materializes every sector up front.
func TestPreallocatedCreateConsumesRealSectors(t *testing.T) {
	ctx := context.Background()
	table, fm := newFixture(t, 32)
	before := fm.FreeCount()

	in, err := table.Create(ctx, 1, 4096, true, false)
	require.NoError(t, err)
	assert.EqualValues(t, 4096, in.Length())
	// One sector for the inode's own identity chunk plus eight data sectors.
	assert.Equal(t, before-9, fm.FreeCount())
}
