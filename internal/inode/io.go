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
	"context"

	"github.com/pintosgo/kernel/internal/blockdev"
)

// location pinpoints the chunk and descriptor slot covering one logical
// sector of the file, plus that sector's position within the descriptor's
// run.
type location struct {
	c          *chunk
	descIdx    int
	offsetInRD uint32 // sector offset within the descriptor's run
}

// locate walks the chunk chain to find the descriptor covering logical
// sector s, per spec.md §4.1 "Offset → sector". Mu must be held.
func (in *Inode) locate(s uint32) (location, bool) {
	for c := in.head; c != nil; c = c.next {
		n := c.innerSectorCount()
		if s >= n {
			s -= n
			continue
		}
		for i := uint32(0); i < c.disk.DescriptorCount; i++ {
			d := c.disk.Descriptors[i]
			if s < d.Count {
				return location{c: c, descIdx: int(i), offsetInRD: s}, true
			}
			s -= d.Count
		}
		return location{}, false
	}
	return location{}, false
}

// physicalSector returns the real disk sector for a (possibly materialized)
// location. Caller must have already materialized any lazy descriptor it
// intends to read/write for real.
func (l location) physicalSector() uint32 {
	d := l.c.disk.Descriptors[l.descIdx]
	return d.Start + l.offsetInRD
}

func (l location) lazy() bool {
	return l.c.disk.Descriptors[l.descIdx].lazy()
}

// ReadAt reads up to len(p) bytes starting at offset, per spec.md §4.1/§8:
// bytes at or beyond the current length read as nothing further (n is
// truncated); bytes within a lazy (never-written) extent read as zero
// without materializing it — a pure read must not allocate sectors.
func (in *Inode) ReadAt(ctx context.Context, p []byte, offset uint32) (int, error) {
	in.Mu.Lock()
	defer in.Mu.Unlock()

	length := in.head.disk.Length
	if offset >= length {
		return 0, nil
	}
	want := len(p)
	if uint32(want) > length-offset {
		want = int(length - offset)
	}

	read := 0
	for read < want {
		pos := offset + uint32(read)
		sector := pos / blockdev.SectorSize
		within := pos % blockdev.SectorSize

		loc, ok := in.locate(sector)
		if !ok {
			break
		}

		chunkLen := blockdev.SectorSize - within
		if remaining := uint32(want - read); chunkLen > remaining {
			chunkLen = remaining
		}

		if loc.lazy() {
			for i := uint32(0); i < chunkLen; i++ {
				p[read+int(i)] = 0
			}
		} else {
			buf := make([]byte, blockdev.SectorSize)
			if err := in.dev.ReadSector(ctx, loc.physicalSector(), buf); err != nil {
				return read, err
			}
			copy(p[read:read+int(chunkLen)], buf[within:within+chunkLen])
		}
		read += int(chunkLen)
	}

	return read, nil
}

// WriteAt writes len(p) bytes starting at offset, expanding the file per
// spec.md §4.1 "Write past EOF (expansion)" if offset+len(p) exceeds the
// current length, and materializing any lazy descriptor it touches. On any
// allocation failure the file is left exactly as it was before the call
// (spec.md §4.1: "no partial expansion is ever visible").
func (in *Inode) WriteAt(ctx context.Context, p []byte, offset uint32) (int, error) {
	in.Mu.Lock()
	defer in.Mu.Unlock()

	if in.denyWriteCount > 0 {
		return 0, ErrWriteDenied
	}

	size := uint32(len(p))
	if size == 0 {
		return 0, nil
	}

	if offset+size > in.head.disk.Length {
		if err := in.expandForWrite(ctx, offset, size); err != nil {
			return 0, err
		}
	}

	written := 0
	for uint32(written) < size {
		pos := offset + uint32(written)
		sector := pos / blockdev.SectorSize
		within := pos % blockdev.SectorSize

		loc, ok := in.locate(sector)
		if !ok {
			break
		}

		if loc.lazy() {
			if err := in.materializeDescriptor(ctx, loc.c, loc.descIdx); err != nil {
				return written, err
			}
			loc, ok = in.locate(sector)
			if !ok {
				return written, ErrBadSector
			}
		}

		chunkLen := blockdev.SectorSize - within
		if remaining := size - uint32(written); chunkLen > remaining {
			chunkLen = remaining
		}

		buf := make([]byte, blockdev.SectorSize)
		if within != 0 || chunkLen != blockdev.SectorSize {
			if err := in.dev.ReadSector(ctx, loc.physicalSector(), buf); err != nil {
				return written, err
			}
		}
		copy(buf[within:within+chunkLen], p[written:written+int(chunkLen)])
		if err := in.dev.WriteSector(ctx, loc.physicalSector(), buf); err != nil {
			return written, err
		}

		written += int(chunkLen)
	}

	return written, nil
}
