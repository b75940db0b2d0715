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

package process_test

import (
	"context"
	"testing"

	"github.com/pintosgo/kernel/internal/fault"
	"github.com/pintosgo/kernel/internal/frame"
	"github.com/pintosgo/kernel/internal/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFile struct {
	closed bool
}

func (f *fakeFile) ReadAt(ctx context.Context, p []byte, offset uint32) (int, error)  { return 0, nil }
func (f *fakeFile) WriteAt(ctx context.Context, p []byte, offset uint32) (int, error) { return len(p), nil }
func (f *fakeFile) Close(ctx context.Context) error                                  { f.closed = true; return nil }

func newTable() *process.Table {
	ft := frame.NewTable(4, nil, nil)
	fh := fault.NewHandler(ft, nil, nil)
	return process.NewTable(ft, fh)
}

func TestExecuteInstallsExecutableAtFD2(t *testing.T) {
	table := newTable()
	exe := &fakeFile{}

	p, err := table.Execute(context.Background(), "echo", exe)
	require.NoError(t, err)
	assert.NotEmpty(t, p.TraceID)

	f, err := p.File(process.FDExecutable)
	require.NoError(t, err)
	assert.Same(t, exe, f)
}

func TestAddFileStartsAtFirstUserFD(t *testing.T) {
	table := newTable()
	p, err := table.Execute(context.Background(), "echo", &fakeFile{})
	require.NoError(t, err)

	fd := p.AddFile(&fakeFile{})
	assert.Equal(t, 3, fd)

	fd2 := p.AddFile(&fakeFile{})
	assert.Equal(t, 4, fd2)
}

func TestCloseFileForgetsFD(t *testing.T) {
	table := newTable()
	p, err := table.Execute(context.Background(), "echo", &fakeFile{})
	require.NoError(t, err)

	f := &fakeFile{}
	fd := p.AddFile(f)

	require.NoError(t, p.CloseFile(context.Background(), fd))
	assert.True(t, f.closed)

	_, err = p.File(fd)
	assert.ErrorIs(t, err, process.ErrBadFD)
}

func TestWaitOnNonChildReturnsError(t *testing.T) {
	table := newTable()
	parent, err := table.Execute(context.Background(), "parent", &fakeFile{})
	require.NoError(t, err)

	_, err = table.Wait(context.Background(), parent, 999)
	assert.ErrorIs(t, err, process.ErrNotAChild)
}

func TestExitWakesWaitingParentWithStatus(t *testing.T) {
	table := newTable()
	parent, err := table.Execute(context.Background(), "parent", &fakeFile{})
	require.NoError(t, err)
	child, err := table.Execute(context.Background(), "child", &fakeFile{})
	require.NoError(t, err)

	table.RecordChild(parent, child)

	done := make(chan int, 1)
	go func() {
		status, err := table.Wait(context.Background(), parent, child.PID)
		require.NoError(t, err)
		done <- status
	}()

	require.NoError(t, table.Exit(context.Background(), child, 42, parent))
	assert.Equal(t, 42, <-done)
}

func TestExitClosesOpenFilesAndFlushesMmaps(t *testing.T) {
	table := newTable()
	p, err := table.Execute(context.Background(), "proc", &fakeFile{})
	require.NoError(t, err)

	f := &fakeFile{}
	p.AddFile(f)

	require.NoError(t, table.Exit(context.Background(), p, 0, nil))
	assert.True(t, f.closed)
}
