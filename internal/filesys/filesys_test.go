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

package filesys_test

import (
	"context"
	"testing"

	"github.com/pintosgo/kernel/internal/blockdev"
	"github.com/pintosgo/kernel/internal/filesys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateOpenRemoveRoundTrip(t *testing.T) {
	ctx := context.Background()
	dev := blockdev.NewMemDevice(128)
	fs, err := filesys.Format(ctx, dev)
	require.NoError(t, err)
	defer fs.Close(ctx)

	require.NoError(t, fs.Create(ctx, nil, "hello.txt", 0))

	in, err := fs.Open(ctx, nil, "hello.txt")
	require.NoError(t, err)

	n, err := in.WriteAt(ctx, []byte("hi"), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, in.Close(ctx))

	require.ErrorIs(t, fs.Create(ctx, nil, "hello.txt", 0), filesys.ErrExists)

	require.NoError(t, fs.Remove(ctx, nil, "hello.txt"))

	_, err = fs.Open(ctx, nil, "hello.txt")
	assert.ErrorIs(t, err, filesys.ErrNotFound)
}

func TestMkdirAndChdir(t *testing.T) {
	ctx := context.Background()
	dev := blockdev.NewMemDevice(128)
	fs, err := filesys.Format(ctx, dev)
	require.NoError(t, err)
	defer fs.Close(ctx)

	require.NoError(t, fs.Mkdir(ctx, nil, "sub"))

	sub, err := fs.Chdir(ctx, nil, "sub")
	require.NoError(t, err)
	defer sub.Close(ctx)

	require.NoError(t, fs.Create(ctx, sub, "nested.txt", 0))

	in, err := fs.Open(ctx, sub, "nested.txt")
	require.NoError(t, err)
	require.NoError(t, in.Close(ctx))

	in, err = fs.Open(ctx, nil, "sub/nested.txt")
	require.NoError(t, err)
	require.NoError(t, in.Close(ctx))
}

func TestMkdirDuplicateRefused(t *testing.T) {
	ctx := context.Background()
	dev := blockdev.NewMemDevice(128)
	fs, err := filesys.Format(ctx, dev)
	require.NoError(t, err)
	defer fs.Close(ctx)

	require.NoError(t, fs.Mkdir(ctx, nil, "a"))
	assert.ErrorIs(t, fs.Mkdir(ctx, nil, "a"), filesys.ErrExists)
}

func TestCreateThenRemoveLeavesNameUnresolvable(t *testing.T) {
	ctx := context.Background()
	dev := blockdev.NewMemDevice(128)
	fs, err := filesys.Format(ctx, dev)
	require.NoError(t, err)
	defer fs.Close(ctx)

	require.NoError(t, fs.Create(ctx, nil, "f.txt", 4096))
	require.NoError(t, fs.Remove(ctx, nil, "f.txt"))

	_, err = fs.Open(ctx, nil, "f.txt")
	assert.ErrorIs(t, err, filesys.ErrNotFound)
}
