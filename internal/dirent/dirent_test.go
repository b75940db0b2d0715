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

package dirent_test

import (
	"context"
	"testing"

	"github.com/pintosgo/kernel/internal/blockdev"
	"github.com/pintosgo/kernel/internal/dirent"
	"github.com/pintosgo/kernel/internal/freemap"
	"github.com/pintosgo/kernel/internal/inode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFixture(t *testing.T, sectors uint32) *inode.Table {
	t.Helper()
	dev := blockdev.NewMemDevice(sectors)
	fm := freemap.New(sectors)
	return inode.NewTable(dev, fm)
}

func TestRootDirectoryHasDotAndDotDot(t *testing.T) {
	ctx := context.Background()
	table := newFixture(t, 64)

	root, err := dirent.Create(ctx, table, 1, 1)
	require.NoError(t, err)
	defer root.Close(ctx)

	entries, err := root.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	names := map[string]uint32{}
	for _, e := range entries {
		names[e.Name] = e.Sector
	}
	assert.Equal(t, uint32(1), names["."])
	assert.Equal(t, uint32(1), names[".."])
}

func TestAddLookupRemove(t *testing.T) {
	ctx := context.Background()
	table := newFixture(t, 64)

	root, err := dirent.Create(ctx, table, 1, 1)
	require.NoError(t, err)
	defer root.Close(ctx)

	file, err := table.Create(ctx, 2, 10, false, false)
	require.NoError(t, err)
	require.NoError(t, file.Close(ctx))

	ok, err := root.Add(ctx, "foo.txt", 2)
	require.NoError(t, err)
	assert.True(t, ok)

	// Duplicate add is refused.
	ok, err = root.Add(ctx, "foo.txt", 2)
	require.NoError(t, err)
	assert.False(t, ok)

	sector, found, err := root.Lookup(ctx, "foo.txt")
	require.NoError(t, err)
	require.True(t, found)
	assert.EqualValues(t, 2, sector)

	removed, err := root.Remove(ctx, "foo.txt", table)
	require.NoError(t, err)
	assert.True(t, removed)

	_, found, err = root.Lookup(ctx, "foo.txt")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRemoveNonEmptyDirectoryRefused(t *testing.T) {
	ctx := context.Background()
	table := newFixture(t, 64)

	root, err := dirent.Create(ctx, table, 1, 1)
	require.NoError(t, err)
	defer root.Close(ctx)

	sub, err := dirent.Create(ctx, table, 2, 1)
	require.NoError(t, err)

	ok, err := root.Add(ctx, "sub", 2)
	require.NoError(t, err)
	require.True(t, ok)

	child, err := table.Create(ctx, 3, 4, false, false)
	require.NoError(t, err)
	require.NoError(t, child.Close(ctx))

	ok, err = sub.Add(ctx, "child.txt", 3)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, sub.Close(ctx))

	removed, err := root.Remove(ctx, "sub", table)
	assert.ErrorIs(t, err, dirent.ErrDirNotEmpty)
	assert.False(t, removed)
}

func TestRemoveOpenDirectoryRefused(t *testing.T) {
	ctx := context.Background()
	table := newFixture(t, 64)

	root, err := dirent.Create(ctx, table, 1, 1)
	require.NoError(t, err)
	defer root.Close(ctx)

	sub, err := dirent.Create(ctx, table, 2, 1)
	require.NoError(t, err)

	ok, err := root.Add(ctx, "sub", 2)
	require.NoError(t, err)
	require.True(t, ok)

	// sub is still open (we hold the handle): a second open bumps the
	// count, simulating another process cd'd into it.
	again, err := table.Open(ctx, 2)
	require.NoError(t, err)

	removed, err := root.Remove(ctx, "sub", table)
	assert.ErrorIs(t, err, dirent.ErrDirOpen)
	assert.False(t, removed)

	require.NoError(t, sub.Close(ctx))
	require.NoError(t, again.Close(ctx))
}

func TestNameTooLongRejected(t *testing.T) {
	ctx := context.Background()
	table := newFixture(t, 64)

	root, err := dirent.Create(ctx, table, 1, 1)
	require.NoError(t, err)
	defer root.Close(ctx)

	_, err = root.Add(ctx, "this-name-is-way-too-long-for-one-record", 2)
	assert.ErrorIs(t, err, dirent.ErrNameTooLong)
}
