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

// Package fault implements spec.md §4.6's page-fault dispatch and §4.7's
// eviction-writeback half, grounded on
// original_source/userprog/exception.c's page_fault/handle_lazy_load/
// stack_extensible. It is the one package that sits on top of
// internal/pagetable, internal/vmpage, internal/frame, and internal/swap
// at once, wiring them into the lazy-load and stack-growth paths and
// implementing frame.Evictor for the write-back side of eviction.
package fault

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pintosgo/kernel/internal/frame"
	"github.com/pintosgo/kernel/internal/metrics"
	"github.com/pintosgo/kernel/internal/pagetable"
	"github.com/pintosgo/kernel/internal/swap"
	"github.com/pintosgo/kernel/internal/tracing"
	"github.com/pintosgo/kernel/internal/vmpage"
)

// PhysBase is the simulated top of the user address space, the stand-in
// for Pintos's PHYS_BASE. A process's initial stack page is the one
// immediately below it.
const PhysBase = 0xC0000000

// maxExtend bounds how far a single faulting access may grow the stack
// below its lowest currently mapped page, per original_source's
// MAX_EXTEND (4 * PGSIZE, the maximum growth a single PUSHA underflow can
// need).
const maxExtend = 4 * pagetable.PageSize

// ErrKill means the fault is not a legal lazy-load or stack growth and the
// faulting process must be terminated. A kernel-space fault address is
// never reported this way: original_source treats that as a kernel bug
// and panics instead of killing the process.
var ErrKill = errors.New("fault: access is not a valid page fault, process must be killed")

// ProcessState is the per-process pair of tables the fault handler needs
// to resolve a fault: the hardware-style page table and the supplemental
// page table holding lazy-load descriptors. internal/process registers
// one of these per live process.
type ProcessState struct {
	PageTable *pagetable.Table
	SPT       *vmpage.Table
}

// Handler dispatches page faults and performs eviction write-back, per
// spec.md §4.6 and §4.7. One Handler serves every process sharing the
// frame table, the way the kernel's single page_fault() entry point
// serves every thread.
type Handler struct {
	ft      *frame.Table
	sw      *swap.Manager
	metrics *metrics.Registry

	mu     sync.Mutex
	states map[*pagetable.Table]*ProcessState
}

// NewHandler builds a fault handler wired to the shared frame table and
// swap manager. reg may be nil to skip metrics.
func NewHandler(ft *frame.Table, sw *swap.Manager, reg *metrics.Registry) *Handler {
	return &Handler{
		ft:      ft,
		sw:      sw,
		metrics: reg,
		states:  make(map[*pagetable.Table]*ProcessState),
	}
}

// Register associates a process's page table and supplemental page table
// with this handler, so that a later eviction of one of its frames can
// find the owning process's lazy-load descriptors. Call once per process
// at process start.
func (h *Handler) Register(pt *pagetable.Table, vt *vmpage.Table) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.states[pt] = &ProcessState{PageTable: pt, SPT: vt}
}

// Unregister drops a process's state, called at process exit once every
// frame it owned has been released.
func (h *Handler) Unregister(pt *pagetable.Table) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.states, pt)
}

func (h *Handler) observeFault(kind string) {
	if h.metrics != nil {
		h.metrics.PageFaultsTotal.WithLabelValues(kind).Inc()
	}
}

// HandleFault implements spec.md §4.6's page-fault dispatch:
//
//  1. A present-page fault (notPresent is false) is a permission
//     violation and always kills the process.
//  2. A fault address at or above PhysBase is a kernel bug (panic).
//  3. A lazy PTE dispatches to the supplemental page table entry.
//  4. Otherwise the fault is tested for legal stack growth.
//  5. Anything else kills the process.
func (h *Handler) HandleFault(ctx context.Context, pt *pagetable.Table, vt *vmpage.Table, faultAddr uint32, notPresent bool, userEsp uint32) error {
	ctx, span := tracing.StartPageFault(ctx, uint64(faultAddr))
	defer span.End()

	if !notPresent {
		h.observeFault("permission_violation")
		return ErrKill
	}
	if faultAddr >= PhysBase {
		panic(fmt.Sprintf("fault: fault address %#x is in kernel space", faultAddr))
	}

	faultPage := faultAddr - faultAddr%pagetable.PageSize

	if pt.IsLazy(faultPage) {
		if err := h.handleLazyLoad(ctx, pt, vt, faultPage); err != nil {
			return err
		}
		h.observeFault("lazy_load")
		return nil
	}

	if h.tryStackGrowth(ctx, pt, vt, faultAddr, faultPage, userEsp) {
		h.observeFault("stack_growth")
		return nil
	}

	h.observeFault("kill")
	return ErrKill
}

// handleLazyLoad resolves a fault on a page whose PTE has the lazy bit
// set, per handle_lazy_load: obtain a frame, read the supplemental page
// table entry the PTE's AVL value points at, fill the frame according to
// its kind, and install the mapping.
func (h *Handler) handleLazyLoad(ctx context.Context, pt *pagetable.Table, vt *vmpage.Table, uaddr uint32) error {
	avl := pt.AVL(uaddr)

	vt.Mu.Lock()
	entry := *vt.MustLookup(avl, uaddr)
	vt.Mu.Unlock()

	h.ft.Mu.Lock()
	kaddrs, err := h.ft.FullGet(ctx, 1)
	if err != nil {
		h.ft.Mu.Unlock()
		return fmt.Errorf("fault: no frame available for lazy load at %#x: %w", uaddr, err)
	}
	kaddr := kaddrs[0]
	page := h.ft.Page(kaddr)

	switch entry.Kind {
	case vmpage.Swap:
		h.ft.Mu.Unlock()
		if err := h.sw.In(ctx, entry.SwapSlot, page); err != nil {
			return fmt.Errorf("fault: swap in for %#x: %w", uaddr, err)
		}
		h.ft.Mu.Lock()

	case vmpage.File, vmpage.Mmap:
		h.ft.Mu.Unlock()
		n, err := entry.File.ReadAt(ctx, page[:entry.ReadBytes], entry.Offset)
		if err != nil {
			return fmt.Errorf("fault: read file-backed page at %#x: %w", uaddr, err)
		}
		for i := n; i < pagetable.PageSize; i++ {
			page[i] = 0
		}
		h.ft.Mu.Lock()

	case vmpage.Zero:
		for i := range page {
			page[i] = 0
		}

	default:
		h.ft.Mu.Unlock()
		panic(fmt.Sprintf("fault: supplemental page table entry for %#x has unknown kind %v", uaddr, entry.Kind))
	}

	h.ft.Create(kaddr, false)
	if err := h.ft.SetOwner(kaddr, pt, uaddr); err != nil {
		h.ft.Mu.Unlock()
		return fmt.Errorf("fault: set owner for %#x: %w", uaddr, err)
	}
	h.ft.Mu.Unlock()

	pt.SetPage(uaddr, kaddr, entry.Writable)
	pt.SetAVL(uaddr, avl)
	return nil
}

// tryStackGrowth implements stack_extensible: an access below the lowest
// currently mapped stack page is a legal extension only if it does not
// grow the stack by more than maxExtend in one fault and it lands at or
// above the conventional 32-byte margin below the user stack pointer (a
// PUSHA instruction can fault up to 32 bytes below esp before esp itself
// moves). On success, the fault page is mapped immediately and every
// intervening page between it and the old stack top is lazily registered
// as zero-fill-on-demand, so a later fault deeper in the gap resolves the
// same way without re-running this growth check.
func (h *Handler) tryStackGrowth(ctx context.Context, pt *pagetable.Table, vt *vmpage.Table, faultAddr, faultPage uint32, userEsp uint32) bool {
	initStackPage := PhysBase - pagetable.PageSize
	stackTop, found := pt.LowestMappedAtOrBelow(initStackPage)
	if !found {
		return false
	}
	if stackTop-faultPage > maxExtend {
		return false
	}
	if faultAddr < userEsp-32 {
		return false
	}

	h.ft.Mu.Lock()
	kaddrs, ok := h.ft.GetMultiple(1)
	if !ok {
		var err error
		kaddrs, err = h.ft.FullGet(ctx, 1)
		if err != nil {
			h.ft.Mu.Unlock()
			panic(fmt.Sprintf("fault: no frame available for stack growth at %#x: %v", faultPage, err))
		}
	}
	kaddr := kaddrs[0]
	page := h.ft.Page(kaddr)
	for i := range page {
		page[i] = 0
	}
	h.ft.Create(kaddr, false)
	if err := h.ft.SetOwner(kaddr, pt, faultPage); err != nil {
		h.ft.Mu.Unlock()
		panic(fmt.Sprintf("fault: set owner for stack page %#x: %v", faultPage, err))
	}
	h.ft.Mu.Unlock()

	pt.SetPage(faultPage, kaddr, true)

	vt.Mu.Lock()
	avl := vt.Register(vmpage.Entry{UserPage: faultPage, Kind: vmpage.Swap, Writable: true})
	for gapPage := faultPage + pagetable.PageSize; gapPage < stackTop; gapPage += pagetable.PageSize {
		gapAVL := vt.Register(vmpage.Entry{UserPage: gapPage, Kind: vmpage.Zero, Writable: true})
		pt.SetAVL(gapPage, gapAVL)
		pt.SetLazy(gapPage, true)
	}
	vt.Mu.Unlock()

	pt.SetAVL(faultPage, avl)
	return true
}

// Evict implements frame.Evictor: writing a victim frame's contents
// somewhere durable (or discarding them) according to its supplemental
// page table entry's kind, per spec.md §4.7's eviction action table.
func (h *Handler) Evict(ctx context.Context, owner frame.PageOwner, kaddr, uaddr uint32, dirty bool) error {
	pt, ok := owner.(*pagetable.Table)
	if !ok {
		return fmt.Errorf("fault: evict owner is not a *pagetable.Table")
	}

	h.mu.Lock()
	state, ok := h.states[pt]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("fault: no registered process state for evicted owner")
	}

	avl := owner.AVL(uaddr)
	state.SPT.Mu.Lock()
	entry, ok := state.SPT.Lookup(avl, uaddr)
	if !ok {
		state.SPT.Mu.Unlock()
		return fmt.Errorf("fault: no supplemental entry for evicted page %#x", uaddr)
	}

	page := h.ft.Page(kaddr)

	switch entry.Kind {
	case vmpage.Swap:
		state.SPT.Mu.Unlock()
		slot, err := h.sw.Out(ctx, page)
		if err != nil {
			return fmt.Errorf("fault: swap out evicted page %#x: %w", uaddr, err)
		}
		state.SPT.Mu.Lock()
		entry, ok = state.SPT.Lookup(avl, uaddr)
		if ok {
			entry.SwapSlot = slot
		}
		state.SPT.Mu.Unlock()

	case vmpage.File, vmpage.Zero:
		state.SPT.Mu.Unlock()
		if dirty {
			slot, err := h.sw.Out(ctx, page)
			if err != nil {
				return fmt.Errorf("fault: swap out evicted page %#x: %w", uaddr, err)
			}
			state.SPT.Mu.Lock()
			entry, ok = state.SPT.Lookup(avl, uaddr)
			if ok {
				entry.Kind = vmpage.Swap
				entry.SwapSlot = slot
			}
			state.SPT.Mu.Unlock()
		}

	case vmpage.Mmap:
		file, offset, readBytes := entry.File, entry.Offset, entry.ReadBytes
		state.SPT.Mu.Unlock()
		if dirty {
			if _, err := file.WriteAt(ctx, page[:readBytes], offset); err != nil {
				return fmt.Errorf("fault: flush evicted mmap page %#x: %w", uaddr, err)
			}
		}

	default:
		state.SPT.Mu.Unlock()
		return fmt.Errorf("fault: evicted page %#x has unknown supplemental kind %v", uaddr, entry.Kind)
	}

	return nil
}
