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

// Package pagetable simulates one process's hardware page directory, the
// way original_source/userprog/pagedir.c models it: present/writable/
// accessed/dirty bits, a "lazy" bit reusing an otherwise-free PTE bit to
// mark a page as present-in-the-supplemental-page-table-but-not-in-memory
// (spec.md §4.5), and a 3-bit AVL field carrying `index mod 8` into the
// owning process's supplemental page table. Since there is no real MMU to
// simulate against, a map keyed by page number stands in for the
// two-level directory/table walk; the bit semantics are what matters.
package pagetable

import (
	"sync"
)

// PageSize is the simulated hardware page size (spec.md §4.5/§4.6's
// PAGE_SIZE).
const PageSize = 4096

// PTE is one simulated page table entry. Present and Frame are mutually
// exclusive with Lazy: a page is either mapped to a real frame or marked
// lazy for the fault handler to resolve, never both.
type PTE struct {
	Present  bool
	Writable bool
	Accessed bool
	Dirty    bool
	Lazy     bool
	AVL      uint8  // index mod 8 into the process's supplemental page table.
	Frame    uint32 // kernel frame identifier when Present.
}

// Table is one process's simulated page directory.
type Table struct {
	mu      sync.Mutex
	entries map[uint32]*PTE // keyed by user page number (uaddr / PageSize).
}

// New creates an empty page table, the moral equivalent of
// pagedir_create's fresh copy of the kernel mappings (user mappings start
// empty either way).
func New() *Table {
	return &Table{entries: make(map[uint32]*PTE)}
}

func pageNumber(uaddr uint32) uint32 { return uaddr / PageSize }

func (t *Table) lookup(uaddr uint32, create bool) *PTE {
	pn := pageNumber(uaddr)
	pte, ok := t.entries[pn]
	if !ok {
		if !create {
			return nil
		}
		pte = &PTE{}
		t.entries[pn] = pte
	}
	return pte
}

// SetPage installs a mapping from user page uaddr to frame, per
// pagedir_set_page. uaddr must not already be mapped present.
func (t *Table) SetPage(uaddr uint32, frame uint32, writable bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pte := t.lookup(uaddr, true)
	pte.Present = true
	pte.Writable = writable
	pte.Frame = frame
	pte.Lazy = false
}

// GetPage returns the frame backing uaddr and whether it is mapped
// present, per pagedir_get_page.
func (t *Table) GetPage(uaddr uint32) (frame uint32, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pte := t.lookup(uaddr, false)
	if pte == nil || !pte.Present {
		return 0, false
	}
	return pte.Frame, true
}

// ClearPage marks uaddr not-present without discarding its other bits
// (AVL, dirty), per pagedir_clear_page — used when a frame is evicted.
func (t *Table) ClearPage(uaddr uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pte := t.lookup(uaddr, false)
	if pte != nil {
		pte.Present = false
	}
}

// HadPage reports whether uaddr has ever been mapped, present or lazy,
// per pagedir_had_page.
func (t *Table) HadPage(uaddr uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	pte := t.lookup(uaddr, false)
	return pte != nil && (pte.Present || pte.Lazy)
}

// IsDirty / SetDirty mirror pagedir_is_dirty / pagedir_set_dirty.
func (t *Table) IsDirty(uaddr uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	pte := t.lookup(uaddr, false)
	return pte != nil && pte.Dirty
}

func (t *Table) SetDirty(uaddr uint32, dirty bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if pte := t.lookup(uaddr, false); pte != nil {
		pte.Dirty = dirty
	}
}

// IsAccessed / SetAccessed mirror pagedir_is_accessed / pagedir_set_accessed.
func (t *Table) IsAccessed(uaddr uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	pte := t.lookup(uaddr, false)
	return pte != nil && pte.Accessed
}

func (t *Table) SetAccessed(uaddr uint32, accessed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if pte := t.lookup(uaddr, false); pte != nil {
		pte.Accessed = accessed
	}
}

// AVL / SetAVL mirror pagedir_get_avl / pagedir_set_avl: the low 3 bits
// store the page's slot index (mod 8) into the owning process's
// supplemental page table, per spec.md §4.5.
func (t *Table) AVL(uaddr uint32) uint8 {
	t.mu.Lock()
	defer t.mu.Unlock()
	pte := t.lookup(uaddr, false)
	if pte == nil {
		return 0
	}
	return pte.AVL
}

func (t *Table) SetAVL(uaddr uint32, avl uint8) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if pte := t.lookup(uaddr, true); pte != nil {
		pte.AVL = avl & 0x7
	}
}

// IsLazy / SetLazy mirror pagedir_is_lazy / pagedir_set_lazy: lazy marks a
// page present-in-spt-but-not-in-memory, per spec.md §4.5/§4.6.
func (t *Table) IsLazy(uaddr uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	pte := t.lookup(uaddr, false)
	return pte != nil && pte.Lazy
}

func (t *Table) SetLazy(uaddr uint32, lazy bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pte := t.lookup(uaddr, true)
	if lazy {
		pte.Present = false
	}
	pte.Lazy = lazy
}

// LowestMappedAtOrBelow walks downward from upage, returning the lowest
// currently-present page at or below it with no gap in presence, per
// pagedir_down_loaded — used by the fault handler's stack-growth check
// (spec.md §4.6's stack_top).
func (t *Table) LowestMappedAtOrBelow(upage uint32) (uint32, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	addr := upage
	var lastLoaded uint32
	found := false
	for {
		pte := t.lookup(addr, false)
		if pte == nil || !pte.Present {
			return lastLoaded, found
		}
		lastLoaded = addr
		found = true
		if addr < PageSize {
			return lastLoaded, found
		}
		addr -= PageSize
	}
}
