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

package blockdev

import (
	"context"
	"fmt"
	"sync"
)

// MemDevice is an in-memory Device, used in tests the way the teacher uses
// a fake GCS bucket in place of a real one.
type MemDevice struct {
	mu      sync.Mutex
	sectors [][]byte
}

func NewMemDevice(sectorCount uint32) *MemDevice {
	sectors := make([][]byte, sectorCount)
	for i := range sectors {
		sectors[i] = make([]byte, SectorSize)
	}
	return &MemDevice{sectors: sectors}
}

func (d *MemDevice) SectorCount() uint32 { return uint32(len(d.sectors)) }

func (d *MemDevice) ReadSector(_ context.Context, sector uint32, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if sector >= uint32(len(d.sectors)) {
		return fmt.Errorf("blockdev: sector %d out of range [0,%d)", sector, len(d.sectors))
	}
	copy(buf, d.sectors[sector])
	return nil
}

func (d *MemDevice) WriteSector(_ context.Context, sector uint32, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if sector >= uint32(len(d.sectors)) {
		return fmt.Errorf("blockdev: sector %d out of range [0,%d)", sector, len(d.sectors))
	}
	copy(d.sectors[sector], buf)
	return nil
}

func (d *MemDevice) Close() error { return nil }

var _ Device = (*MemDevice)(nil)
