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

// Package frame implements spec.md §4.7's frame manager: a global table
// over the simulated user-pool frames, clock eviction, and pin/unpin.
// Grounded on the teacher's fs/inode lookup-count/reference-accounting
// style (a guarded struct with an explicit in-use/free-pool lifecycle)
// but reused here for physical-frame ownership instead of GCS object
// lookup counts.
package frame

import (
	"context"
	"errors"
	"fmt"

	"github.com/jacobsa/syncutil"
	"github.com/pintosgo/kernel/internal/metrics"
	"github.com/pintosgo/kernel/internal/pagetable"
)

var (
	ErrNoFreeFrames = errors.New("frame: free pool exhausted")
	ErrNotOwned     = errors.New("frame: kaddr has no registered owner")
)

// PageSize is the size in bytes of one frame, reusing
// internal/pagetable's constant so both packages agree on it without a
// second definition.
const PageSize = pagetable.PageSize

// PageOwner is the narrow slice of a process's simulated page table this
// package depends on to run clock eviction: querying and clearing the
// hardware-style accessed/dirty bits and converting a victim's PTE back
// to lazy. internal/pagetable.Table satisfies this structurally.
type PageOwner interface {
	IsAccessed(uaddr uint32) bool
	SetAccessed(uaddr uint32, accessed bool)
	IsDirty(uaddr uint32) bool
	ClearPage(uaddr uint32)
	SetLazy(uaddr uint32, lazy bool)
	AVL(uaddr uint32) uint8
}

// Evictor performs the content-specific half of eviction spec.md §4.7
// describes ("Eviction action"): writing a dirty frame's contents to swap
// or back to its file, or discarding it. internal/fault implements this,
// keeping frame free of any dependency on internal/swap, internal/vmpage,
// or internal/mmap. kaddr is passed so the evictor can read the victim's
// live bytes via Table.Page before the frame is reclaimed.
type Evictor interface {
	Evict(ctx context.Context, owner PageOwner, kaddr, uaddr uint32, dirty bool) error
}

// Frame is one user-pool frame's bookkeeping.
type Frame struct {
	KAddr      uint32
	Pinned     bool
	Owner      PageOwner
	OwnerUAddr uint32
}

// Table is the global frame table over a simulated user pool of kaddrs
// [0, poolSize).
type Table struct {
	Mu syncutil.InvariantMutex

	poolSize uint32
	evictor  Evictor
	metrics  *metrics.Registry

	// GUARDED_BY(Mu)
	frames    []*Frame // frames[kaddr] is nil when free.
	freeList  []uint32
	clockHand uint32

	// mem is the simulated physical user pool backing every frame's
	// bytes: there is no real RAM underneath this process, so the frame
	// table itself owns a byte pool indexed by kaddr, the way a real
	// kaddr would index into physical memory.
	mem []byte
}

// NewTable builds a frame table over poolSize simulated user-pool frames,
// all initially free. evictor and reg may be nil; with a nil evictor,
// FullGet fails once the free pool is exhausted whenever the chosen victim
// frame has an owner (a frame without an owner is still reclaimed), and a
// nil reg skips eviction-counter observations.
func NewTable(poolSize uint32, evictor Evictor, reg *metrics.Registry) *Table {
	t := &Table{
		poolSize: poolSize,
		evictor:  evictor,
		metrics:  reg,
		frames:   make([]*Frame, poolSize),
		mem:      make([]byte, uint64(poolSize)*PageSize),
	}
	for i := uint32(0); i < poolSize; i++ {
		t.freeList = append(t.freeList, i)
	}
	t.Mu = syncutil.NewInvariantMutex(t.checkInvariants)
	return t
}

// Page returns the byte slice backing kaddr's frame. Valid whether or not
// the frame is currently owned; callers obtained kaddr from GetMultiple or
// FullGet and are responsible for zeroing it if they need a clean page.
func (t *Table) Page(kaddr uint32) []byte {
	return t.mem[uint64(kaddr)*PageSize : uint64(kaddr+1)*PageSize]
}

func (t *Table) checkInvariants() {
	inUse := 0
	for _, f := range t.frames {
		if f != nil {
			inUse++
		}
	}
	if inUse+len(t.freeList) != int(t.poolSize) {
		panic(fmt.Sprintf("frame: accounting mismatch: %d in use + %d free != %d pool size", inUse, len(t.freeList), t.poolSize))
	}
}

// Create registers a fresh frame at kaddr (already obtained from
// GetMultiple/FullGet), per spec.md §4.7's create(kaddr, pinned). Mu must
// be held.
func (t *Table) Create(kaddr uint32, pinned bool) {
	t.frames[kaddr] = &Frame{KAddr: kaddr, Pinned: pinned}
}

// SetOwner records which process/uaddr a frame backs, per set_owner. Mu
// must be held.
func (t *Table) SetOwner(kaddr uint32, owner PageOwner, uaddr uint32) error {
	f := t.frames[kaddr]
	if f == nil {
		return ErrNotOwned
	}
	f.Owner = owner
	f.OwnerUAddr = uaddr
	return nil
}

// SetPinned toggles a frame's pin state, per spec.md §4.7's pinning
// section: pages of a syscall read/write buffer are pinned for the
// duration of the I/O to avoid the self-deadlock of paging in a buffer
// page while the filesystem lock is held. Mu must be held.
func (t *Table) SetPinned(kaddr uint32, pinned bool) {
	if f := t.frames[kaddr]; f != nil {
		f.Pinned = pinned
	}
}

// SetEvictor wires the content-eviction policy after construction, for
// callers that must build the frame table before the evictor that depends
// on it exists (internal/fault.Handler takes a *Table in its constructor,
// so NewTable is called first with a nil evictor and SetEvictor closes the
// cycle). Mu must be held.
func (t *Table) SetEvictor(evictor Evictor) {
	t.evictor = evictor
}

// Free returns kaddr to the free pool. Mu must be held.
func (t *Table) Free(kaddr uint32) {
	t.frames[kaddr] = nil
	t.freeList = append(t.freeList, kaddr)
}

// GetMultiple pops n frames from the free pool without eviction. ok is
// false (and the pool is left untouched) if fewer than n are free. Mu
// must be held.
func (t *Table) GetMultiple(n uint32) (kaddrs []uint32, ok bool) {
	if uint32(len(t.freeList)) < n {
		return nil, false
	}
	kaddrs = append([]uint32(nil), t.freeList[:n]...)
	t.freeList = t.freeList[n:]
	return kaddrs, true
}

// FullGet evicts n contiguous frames via clock eviction when the free
// pool cannot satisfy the request directly, per spec.md §4.7. Mu must be
// held; Evict callbacks run with Mu held, matching the teacher's
// single-global-lock discipline for inode mutation during eviction.
func (t *Table) FullGet(ctx context.Context, n uint32) ([]uint32, error) {
	if kaddrs, ok := t.GetMultiple(n); ok {
		return kaddrs, nil
	}
	if n > t.poolSize {
		return nil, fmt.Errorf("frame: request for %d frames exceeds pool size %d", n, t.poolSize)
	}

	maxScans := 2 * t.poolSize
	for scans := uint32(0); scans < maxScans; scans++ {
		if t.clockHand+n > t.poolSize {
			t.clockHand = 0
			continue
		}

		victims, ok := t.findContiguousVictims(n)
		if !ok {
			t.clockHand++
			continue
		}

		kaddrs := make([]uint32, 0, n)
		for _, kaddr := range victims {
			if err := t.evict(ctx, kaddr); err != nil {
				return nil, err
			}
			kaddrs = append(kaddrs, kaddr)
		}
		return kaddrs, nil
	}

	panic("frame: clock eviction scanned twice the pool size without finding a victim")
}

// findContiguousVictims runs the clock algorithm starting at clockHand,
// looking for n frames in a row that are reclaimable right now (not
// pinned, and either unused or with its accessed bit cleared on this
// pass). Mu must be held.
func (t *Table) findContiguousVictims(n uint32) ([]uint32, bool) {
	start := t.clockHand
	for i := uint32(0); i < n; i++ {
		kaddr := start + i
		f := t.frames[kaddr]
		if f == nil {
			continue
		}
		if f.Pinned {
			t.clockHand = kaddr + 1
			return nil, false
		}
		if f.Owner != nil && f.Owner.IsAccessed(f.OwnerUAddr) {
			f.Owner.SetAccessed(f.OwnerUAddr, false)
			t.clockHand = kaddr + 1
			return nil, false
		}
	}

	victims := make([]uint32, n)
	for i := uint32(0); i < n; i++ {
		victims[i] = start + i
	}
	t.clockHand = start + n
	return victims, true
}

func (t *Table) evict(ctx context.Context, kaddr uint32) error {
	f := t.frames[kaddr]
	if f == nil {
		return nil
	}

	if f.Owner != nil {
		if t.evictor == nil {
			return fmt.Errorf("frame: no evictor configured to reclaim kaddr %d", kaddr)
		}
		dirty := f.Owner.IsDirty(f.OwnerUAddr)
		if err := t.evictor.Evict(ctx, f.Owner, kaddr, f.OwnerUAddr, dirty); err != nil {
			return fmt.Errorf("frame: evict kaddr %d: %w", kaddr, err)
		}
		f.Owner.ClearPage(f.OwnerUAddr)
		f.Owner.SetLazy(f.OwnerUAddr, true)
	}

	if t.metrics != nil {
		t.metrics.FrameEvictionsTotal.WithLabelValues("clock").Inc()
	}

	t.frames[kaddr] = nil
	return nil
}
