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

package inode

import (
	"encoding/binary"
	"fmt"

	"github.com/pintosgo/kernel/internal/blockdev"
)

// magic tags a sector as a valid inode chunk, the way the original guards
// against reading garbage as an inode.
const magic = 0x494e4f44 // "INOD"

// Descriptor is spec.md §3's {start_sector, sector_count} pair. Start==0
// marks a lazy (unallocated) extent.
type Descriptor struct {
	Start uint32
	Count uint32
}

func (d Descriptor) lazy() bool { return d.Start == 0 }

// descriptorSize is the on-disk size of one Descriptor: two uint32s.
const descriptorSize = 8

// chunkHeaderSize is every fixed-width field in diskChunk before the
// descriptor array: Length, Magic, NextSector, SectorsInChunk,
// DescriptorCount, IsDir, DirEntryCount.
const chunkHeaderSize = 7 * 4

// MaxDescriptors is how many {start,count} pairs fit in one 512-byte
// chunk alongside the header, per spec.md §3 ("array of up to ~60
// descriptors").
const MaxDescriptors = (blockdev.SectorSize - chunkHeaderSize) / descriptorSize

// diskChunk is the exact 512-byte on-disk layout of one inode chunk
// (spec.md §3 "Inode (on-disk chunk)").
type diskChunk struct {
	Length          uint32
	Magic           uint32
	NextSector      uint32
	SectorsInChunk  uint32
	DescriptorCount uint32
	IsDir           uint32
	DirEntryCount   uint32
	Descriptors     [MaxDescriptors]Descriptor
}

func (c *diskChunk) encode() []byte {
	buf := make([]byte, blockdev.SectorSize)
	binary.LittleEndian.PutUint32(buf[0:], c.Length)
	binary.LittleEndian.PutUint32(buf[4:], c.Magic)
	binary.LittleEndian.PutUint32(buf[8:], c.NextSector)
	binary.LittleEndian.PutUint32(buf[12:], c.SectorsInChunk)
	binary.LittleEndian.PutUint32(buf[16:], c.DescriptorCount)
	binary.LittleEndian.PutUint32(buf[20:], c.IsDir)
	binary.LittleEndian.PutUint32(buf[24:], c.DirEntryCount)
	off := chunkHeaderSize
	for i := 0; i < MaxDescriptors; i++ {
		binary.LittleEndian.PutUint32(buf[off:], c.Descriptors[i].Start)
		binary.LittleEndian.PutUint32(buf[off+4:], c.Descriptors[i].Count)
		off += descriptorSize
	}
	return buf
}

func decodeChunk(buf []byte) (*diskChunk, error) {
	if len(buf) != blockdev.SectorSize {
		return nil, fmt.Errorf("inode: chunk buffer must be %d bytes, got %d", blockdev.SectorSize, len(buf))
	}
	c := &diskChunk{
		Length:          binary.LittleEndian.Uint32(buf[0:]),
		Magic:           binary.LittleEndian.Uint32(buf[4:]),
		NextSector:      binary.LittleEndian.Uint32(buf[8:]),
		SectorsInChunk:  binary.LittleEndian.Uint32(buf[12:]),
		DescriptorCount: binary.LittleEndian.Uint32(buf[16:]),
		IsDir:           binary.LittleEndian.Uint32(buf[20:]),
		DirEntryCount:   binary.LittleEndian.Uint32(buf[24:]),
	}
	off := chunkHeaderSize
	for i := 0; i < MaxDescriptors; i++ {
		c.Descriptors[i] = Descriptor{
			Start: binary.LittleEndian.Uint32(buf[off:]),
			Count: binary.LittleEndian.Uint32(buf[off+4:]),
		}
		off += descriptorSize
	}
	if c.Magic != magic {
		return nil, fmt.Errorf("inode: bad magic %#x", c.Magic)
	}
	return c, nil
}

// chunk is the in-memory copy of one on-disk chunk, linked into the
// inode's chain via next (the transient in-memory pointer spec.md §3
// calls out separately from the persisted NextSector).
type chunk struct {
	sector uint32 // 0 if not yet allocated (only possible for a brand new tail chunk mid-construction)
	disk   diskChunk
	next   *chunk
}

// innerSectorCount is the number of logical sectors this chunk's
// descriptors describe (real and lazy), used when walking the chunk list
// to locate the chunk owning a given logical sector (spec.md §4.1
// "Offset → sector").
func (c *chunk) innerSectorCount() uint32 {
	var n uint32
	for i := uint32(0); i < c.disk.DescriptorCount; i++ {
		n += c.disk.Descriptors[i].Count
	}
	return n
}

// hasSpareDescriptor reports whether another descriptor can be appended to
// this chunk without allocating a new one (spec.md §4.1 "Chunk allocation").
func (c *chunk) hasSpareDescriptor() bool {
	return c.disk.DescriptorCount < MaxDescriptors
}
