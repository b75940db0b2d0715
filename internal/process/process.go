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

// Package process implements spec.md §4.11's process control: the PCB,
// its file descriptor table, and Execute/Wait/Exit. The fd table is keyed
// by small integers the way the teacher's fs.fileSystem keys
// fuseops.HandleID-based handles (an incrementing counter, entries held
// in a map, never reused for the process's lifetime) but applied to
// process-owned file descriptors rather than FUSE handle IDs, with fds 0
// and 1 reserved for stdin/stdout and fd 2 reserved for the process's own
// executable image per spec.md §6.
package process

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jacobsa/syncutil"
	"github.com/pintosgo/kernel/internal/fault"
	"github.com/pintosgo/kernel/internal/frame"
	"github.com/pintosgo/kernel/internal/mmap"
	"github.com/pintosgo/kernel/internal/pagetable"
	"github.com/pintosgo/kernel/internal/vmpage"
)

// Reserved low file descriptors, per spec.md §6's User ABI table.
const (
	FDStdin      = 0
	FDStdout     = 1
	FDExecutable = 2

	firstUserFD = 3
)

var (
	ErrNotAChild  = errors.New("process: pid is not a child of the waiting process")
	ErrBadFD      = errors.New("process: no open file descriptor with that number")
	ErrNoSuchFile = errors.New("process: executable not found")
)

// File is the slice of internal/inode.Inode (or a directory handle) a
// process fd needs: byte-range I/O plus a close hook. Kept local to avoid
// process depending on the filesystem packages directly; Execute's caller
// supplies the open File for the loaded executable and Open supplies one
// per syscall.
type File interface {
	ReadAt(ctx context.Context, p []byte, offset uint32) (int, error)
	WriteAt(ctx context.Context, p []byte, offset uint32) (int, error)
	Close(ctx context.Context) error
}

// ChildInfo tracks one child process's outcome for process_wait, per
// spec.md §4.11: reaped once, then removed from the parent's list.
type ChildInfo struct {
	PID      int
	exited   bool
	exitCode int
	done     chan struct{}
}

// PCB is one process's control block: its address space, supplemental
// page table, open files, and parent/child bookkeeping. One PCB backs one
// simulated user thread (spec.md §5 scopes processes to single-threaded
// in the current implementation).
type PCB struct {
	PID      int
	Name     string
	TraceID  string // minted per Execute via google/uuid, for log correlation.

	PageTable *pagetable.Table
	SPT       *vmpage.Table
	Mmaps     *mmap.Table

	Mu syncutil.InvariantMutex

	// GUARDED_BY(Mu)
	files        map[int]File
	nextFD       int
	children     map[int]*ChildInfo
	exited       bool
	exitCode     int
	fsLockHeld   bool // cleared by Exit's centralized release routine.
	executable   File // fd 2; Execute does not deny writes to it.
}

func (p *PCB) checkInvariants() {
	for fd := range p.files {
		if fd >= p.nextFD {
			panic(fmt.Sprintf("process: fd %d registered but nextFD is only %d", fd, p.nextFD))
		}
	}
}

// Table owns every live PCB, keyed by pid, and the counter minting fresh
// pids — the process-control analogue of internal/frame.Table's single
// shared table serving every process.
type Table struct {
	ft *frame.Table
	fh *fault.Handler

	mu     sync.Mutex
	procs  map[int]*PCB
	nextPID int
}

// NewTable builds an empty process table wired to the shared frame table
// and page-fault handler every PCB it creates will register with.
func NewTable(ft *frame.Table, fh *fault.Handler) *Table {
	return &Table{ft: ft, fh: fh, procs: make(map[int]*PCB), nextPID: 1}
}

// Execute implements process_execute: allocates a pid, builds a fresh
// address space and fd table, installs the executable at fd 2, and
// registers the new PCB with the shared fault handler so its pages can be
// evicted and faulted in. It does not itself load the ELF image or jump
// to an entry point — that is internal/elfcontract's and the caller's
// (the simulated scheduler/thread start routine's) job; Execute supplies
// the PCB those steps operate on.
func (t *Table) Execute(ctx context.Context, name string, executable File) (*PCB, error) {
	if executable == nil {
		return nil, ErrNoSuchFile
	}

	t.mu.Lock()
	pid := t.nextPID
	t.nextPID++
	t.mu.Unlock()

	p := &PCB{
		PID:        pid,
		Name:       name,
		TraceID:    uuid.NewString(),
		PageTable:  pagetable.New(),
		SPT:        vmpage.New(),
		Mmaps:      mmap.New(),
		files:      map[int]File{FDExecutable: executable},
		nextFD:     firstUserFD,
		children:   make(map[int]*ChildInfo),
		executable: executable,
	}
	p.Mu = syncutil.NewInvariantMutex(p.checkInvariants)

	t.fh.Register(p.PageTable, p.SPT)

	t.mu.Lock()
	t.procs[pid] = p
	t.mu.Unlock()

	return p, nil
}

// RecordChild registers child as a child of parent, called once Execute
// has minted the child's pid, so a later Wait(parent, child.PID) can find
// it.
func (t *Table) RecordChild(parent *PCB, child *PCB) {
	parent.Mu.Lock()
	defer parent.Mu.Unlock()
	parent.children[child.PID] = &ChildInfo{PID: child.PID, done: make(chan struct{})}
}

// Wait implements process_wait: blocks until the child marks itself dead
// via Exit, then reaps its child-info (a second Wait on the same pid
// returns −1, matching the "reaped once" contract) and returns its exit
// status. Returns −1 immediately if pid never was a child.
func (t *Table) Wait(ctx context.Context, parent *PCB, pid int) (int, error) {
	parent.Mu.Lock()
	info, ok := parent.children[pid]
	parent.Mu.Unlock()
	if !ok {
		return -1, ErrNotAChild
	}

	select {
	case <-info.done:
	case <-ctx.Done():
		return -1, ctx.Err()
	}

	parent.Mu.Lock()
	delete(parent.children, pid)
	code := info.exitCode
	parent.Mu.Unlock()
	return code, nil
}

// Exit implements process_exit: flushes every mmap, releases resident
// frames and swap slots, closes every open fd, records the exit status
// for the parent (if any), and unregisters the PCB from the fault
// handler. Exit itself records status in the parent's ChildInfo, with the
// parent supplied by the caller since a PCB does not hold a back-pointer to its parent (spec.md
// §9's "cyclic pointer structures" note: parent/child linkage is kept in
// the parent's children map, not as a pointer on the child).
func (t *Table) Exit(ctx context.Context, p *PCB, status int, parent *PCB) error {
	p.Mu.Lock()
	if p.exited {
		p.Mu.Unlock()
		return nil
	}
	p.exited = true
	p.exitCode = status

	if err := p.Mmaps.FlushAll(ctx, p.PageTable, t.ft); err != nil {
		p.Mu.Unlock()
		return fmt.Errorf("process: flush mmaps on exit: %w", err)
	}

	for fd, f := range p.files {
		if fd == FDExecutable {
			continue
		}
		_ = f.Close(ctx)
	}
	p.files = nil
	_ = p.executable.Close(ctx)

	fsLockHeld := p.fsLockHeld
	p.fsLockHeld = false
	p.Mu.Unlock()

	_ = fsLockHeld // centralized release: the filesystem lock itself is
	// released by whatever acquired it (filesys.FS.Mu), not here; this
	// flag only records that Exit must not leave it held, per spec.md §7.

	t.fh.Unregister(p.PageTable)

	if parent != nil {
		parent.Mu.Lock()
		if info, ok := parent.children[p.PID]; ok && !info.exited {
			info.exited = true
			info.exitCode = status
			close(info.done)
		}
		parent.Mu.Unlock()
	}

	t.mu.Lock()
	delete(t.procs, p.PID)
	t.mu.Unlock()

	return nil
}

// AddFile installs f at a fresh fd, per the open() syscall, returning the
// fd number.
func (p *PCB) AddFile(f File) int {
	p.Mu.Lock()
	defer p.Mu.Unlock()
	fd := p.nextFD
	p.nextFD++
	p.files[fd] = f
	return fd
}

// File returns the open file at fd, or ErrBadFD.
func (p *PCB) File(fd int) (File, error) {
	p.Mu.Lock()
	defer p.Mu.Unlock()
	f, ok := p.files[fd]
	if !ok {
		return nil, ErrBadFD
	}
	return f, nil
}

// CloseFile closes and forgets fd, per the close() syscall.
func (p *PCB) CloseFile(ctx context.Context, fd int) error {
	p.Mu.Lock()
	f, ok := p.files[fd]
	if !ok {
		p.Mu.Unlock()
		return ErrBadFD
	}
	delete(p.files, fd)
	p.Mu.Unlock()
	return f.Close(ctx)
}
