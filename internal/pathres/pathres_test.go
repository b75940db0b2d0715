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

package pathres_test

import (
	"context"
	"testing"

	"github.com/pintosgo/kernel/internal/blockdev"
	"github.com/pintosgo/kernel/internal/dirent"
	"github.com/pintosgo/kernel/internal/freemap"
	"github.com/pintosgo/kernel/internal/inode"
	"github.com/pintosgo/kernel/internal/pathres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFixture(t *testing.T, sectors uint32) (*inode.Table, *dirent.Directory) {
	t.Helper()
	dev := blockdev.NewMemDevice(sectors)
	fm := freemap.New(sectors)
	table := inode.NewTable(dev, fm)
	root, err := dirent.Create(context.Background(), table, 1, 1)
	require.NoError(t, err)
	return table, root
}

func TestResolveAbsoluteNestedPath(t *testing.T) {
	ctx := context.Background()
	table, root := newFixture(t, 64)
	defer root.Close(ctx)

	sub, err := dirent.Create(ctx, table, 2, 1)
	require.NoError(t, err)
	ok, err := root.Add(ctx, "sub", 2)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, sub.Close(ctx))

	res, err := pathres.Resolve(ctx, table, root, nil, "/sub/file.txt")
	require.NoError(t, err)
	defer res.Dir.Close(ctx)

	assert.Equal(t, "file.txt", res.Name)
	assert.EqualValues(t, 2, res.Dir.Inode().Sector())
}

func TestResolveEmptyPathYieldsDot(t *testing.T) {
	ctx := context.Background()
	table, root := newFixture(t, 32)
	defer root.Close(ctx)

	res, err := pathres.Resolve(ctx, table, root, nil, "")
	require.NoError(t, err)
	defer res.Dir.Close(ctx)

	assert.Equal(t, ".", res.Name)
	assert.EqualValues(t, 1, res.Dir.Inode().Sector())
}

func TestResolveMissingIntermediateFails(t *testing.T) {
	ctx := context.Background()
	table, root := newFixture(t, 32)
	defer root.Close(ctx)

	_, err := pathres.Resolve(ctx, table, root, nil, "/nope/file.txt")
	assert.ErrorIs(t, err, pathres.ErrNotFound)
}

func TestResolveThroughNonDirectoryFails(t *testing.T) {
	ctx := context.Background()
	table, root := newFixture(t, 32)
	defer root.Close(ctx)

	file, err := table.Create(ctx, 2, 4, false, false)
	require.NoError(t, err)
	require.NoError(t, file.Close(ctx))
	ok, err := root.Add(ctx, "plain.txt", 2)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = pathres.Resolve(ctx, table, root, nil, "/plain.txt/file.txt")
	assert.ErrorIs(t, err, pathres.ErrNotDirectory)
}

func TestResolveRejectsRemovedStartDir(t *testing.T) {
	ctx := context.Background()
	table, root := newFixture(t, 32)
	defer root.Close(ctx)

	sub, err := dirent.Create(ctx, table, 2, 1)
	require.NoError(t, err)
	ok, err := root.Add(ctx, "sub", 2)
	require.NoError(t, err)
	require.True(t, ok)

	sub.Inode().Remove()

	_, err = pathres.Resolve(ctx, table, root, sub, "file.txt")
	assert.ErrorIs(t, err, pathres.ErrStartDirRemoved)

	require.NoError(t, sub.Close(ctx))
}
