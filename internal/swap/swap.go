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

// Package swap manages the swap partition (spec.md §2.9/§4.7): a bitmap
// of page-sized slots over a second internal/blockdev.Device, reusing
// internal/freemap's bitset type rather than inventing a second one.
package swap

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pintosgo/kernel/internal/blockdev"
	"github.com/pintosgo/kernel/internal/freemap"
	"github.com/pintosgo/kernel/internal/metrics"
	"github.com/pintosgo/kernel/internal/pagetable"
)

// sectorsPerSlot is how many blockdev sectors one page-sized swap slot
// occupies.
const sectorsPerSlot = pagetable.PageSize / blockdev.SectorSize

var ErrNoSlots = errors.New("swap: no free swap slots")

// Manager owns the swap device's slot bitmap. One lock serializes slot
// allocation the way spec.md §2.9 describes ("one lock").
type Manager struct {
	dev     blockdev.Device
	fm      *freemap.Map
	mu      sync.Mutex
	metrics *metrics.Registry // nil is valid; observations are skipped.
}

// NewManager builds a Manager over dev, sized by its sector count. reg may
// be nil if the caller does not want swap occupancy observed.
func NewManager(dev blockdev.Device, reg *metrics.Registry) *Manager {
	slots := dev.SectorCount() / sectorsPerSlot
	return &Manager{dev: dev, fm: freemap.New(slots), metrics: reg}
}

func (m *Manager) observeOccupancy() {
	if m.metrics == nil {
		return
	}
	m.metrics.SwapSlotsInUse.Set(float64(m.fm.Len() - m.fm.FreeCount()))
}

// Out writes one page's worth of data to a freshly allocated slot and
// returns the slot index, per spec.md §4.7's "always write the frame to a
// freshly allocated swap slot; remember the slot".
func (m *Manager) Out(ctx context.Context, page []byte) (uint32, error) {
	if len(page) != pagetable.PageSize {
		return 0, fmt.Errorf("swap: page must be %d bytes, got %d", pagetable.PageSize, len(page))
	}

	m.mu.Lock()
	slot, ok := m.fm.AllocateContiguous(1)
	m.mu.Unlock()
	if !ok {
		return 0, ErrNoSlots
	}

	base := slot * sectorsPerSlot
	for i := uint32(0); i < sectorsPerSlot; i++ {
		off := i * blockdev.SectorSize
		if err := m.dev.WriteSector(ctx, base+i, page[off:off+blockdev.SectorSize]); err != nil {
			m.mu.Lock()
			m.fm.Release(slot)
			m.mu.Unlock()
			return 0, fmt.Errorf("swap: write slot %d: %w", slot, err)
		}
	}

	m.observeOccupancy()
	return slot, nil
}

// In reads slot back into page and releases the slot, per spec.md §4.6's
// SWAP fault-in path.
func (m *Manager) In(ctx context.Context, slot uint32, page []byte) error {
	if len(page) != pagetable.PageSize {
		return fmt.Errorf("swap: page must be %d bytes, got %d", pagetable.PageSize, len(page))
	}

	base := slot * sectorsPerSlot
	for i := uint32(0); i < sectorsPerSlot; i++ {
		off := i * blockdev.SectorSize
		if err := m.dev.ReadSector(ctx, base+i, page[off:off+blockdev.SectorSize]); err != nil {
			return fmt.Errorf("swap: read slot %d: %w", slot, err)
		}
	}

	m.mu.Lock()
	m.fm.Release(slot)
	m.mu.Unlock()

	m.observeOccupancy()
	return nil
}

// Clean releases slot without reading it back, used when a process exits
// or exec's over a page that was swapped out but never faulted back in
// (original_source/pagedir.c's swap_clean call in pagedir_destroy).
func (m *Manager) Clean(slot uint32) {
	m.mu.Lock()
	m.fm.Release(slot)
	m.mu.Unlock()
	m.observeOccupancy()
}
