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

// lazyRunThreshold is spec.md §4.1 step 1's "≥ 8" cutoff (one page's worth
// of sectors) below which a short gap is left for step 3 to fill with real
// sectors instead of a dedicated lazy descriptor.
const lazyRunThreshold = 8

// expandForWrite grows the inode to cover a write of size bytes at offset,
// following spec.md §4.1's four-step algorithm exactly. Mu must be held by
// the caller. On any failure the inode (length, chunk chain, free map) is
// left exactly as before the call.
func (in *Inode) expandForWrite(ctx context.Context, offset, size uint32) error {
	origLength := in.head.disk.Length
	origTail := in.tail
	origTailDescCount := origTail.disk.DescriptorCount
	origTailDescs := origTail.disk.Descriptors

	var newChunks []*chunk // chunks allocated (and their sectors consumed) this call
	var realRuns []runAlloc

	rollback := func() {
		for _, r := range realRuns {
			in.fm.ReleaseRun(r.start, r.count)
		}
		for _, c := range newChunks {
			in.fm.Release(c.sector)
		}
		origTail.disk.DescriptorCount = origTailDescCount
		origTail.disk.Descriptors = origTailDescs
		in.tail = origTail
		in.tail.next = nil
	}

	length := origLength

	// Step 1: a long gap between the old EOF and offset becomes one lazy
	// descriptor.
	if offset > length {
		expandSectors := (offset - length) / blockdev.SectorSize
		if expandSectors >= lazyRunThreshold {
			tail, err := in.ensureSpareDescriptor(ctx)
			if err != nil {
				rollback()
				return err
			}
			if tail != origTail && !containsChunk(newChunks, tail) {
				newChunks = append(newChunks, tail)
			}
			tail.disk.Descriptors[tail.disk.DescriptorCount] = Descriptor{Start: 0, Count: expandSectors}
			tail.disk.DescriptorCount++
			length += expandSectors * blockdev.SectorSize
		}
	}

	newEnd := offset + size

	// Step 2: residual real sectors needed beyond what step 1 covered. A
	// fresh chunk is appended only if step 1 ran or the tail ends in a lazy
	// descriptor; otherwise the tail is reused when it has a spare slot.
	need := sectorsFor(newEnd) - sectorsFor(length)
	if need > 0 {
		tail := origTail
		tailLazy := origTailDescCount > 0 && origTail.disk.Descriptors[origTailDescCount-1].lazy()
		if len(newChunks) > 0 || origTail.disk.DescriptorCount != origTailDescCount || tailLazy || !origTail.hasSpareDescriptor() {
			fresh, err := in.allocateFreshChunk(ctx)
			if err != nil {
				rollback()
				return err
			}
			newChunks = append(newChunks, fresh)
			tail = fresh
		}

		runs, ok := in.fm.AllocateLongestRuns(need)
		if !ok {
			rollback()
			return ErrNoSpace
		}
		if int(tail.disk.DescriptorCount)+len(runs) > MaxDescriptors {
			for _, r := range runs {
				in.fm.ReleaseRun(r.Start, r.Count)
			}
			rollback()
			return ErrTooManyRuns
		}
		for _, r := range runs {
			if err := zeroSectors(ctx, in.dev, r.Start, r.Count); err != nil {
				for _, rr := range runs {
					in.fm.ReleaseRun(rr.Start, rr.Count)
				}
				rollback()
				return err
			}
			realRuns = append(realRuns, runAlloc{start: r.Start, count: r.Count})
			tail.disk.Descriptors[tail.disk.DescriptorCount] = Descriptor{Start: r.Start, Count: r.Count}
			tail.disk.DescriptorCount++
		}
	}

	// Commit: link any newly allocated chunks into the chain, persist every
	// touched chunk, and update the authoritative length on the head chunk.
	for i, c := range newChunks {
		var prev *chunk
		if i == 0 {
			prev = origTail
		} else {
			prev = newChunks[i-1]
		}
		prev.disk.NextSector = c.sector
		prev.next = c
		if err := in.persistChunk(ctx, prev); err != nil {
			rollback()
			return err
		}
	}
	if len(newChunks) > 0 {
		in.tail = newChunks[len(newChunks)-1]
	} else if origTail.disk.DescriptorCount != origTailDescCount {
		// Step 1 or step 2 appended in place to the existing tail; persist it.
		if err := in.persistChunk(ctx, origTail); err != nil {
			rollback()
			return err
		}
	}
	if err := in.persistChunk(ctx, in.tail); err != nil {
		rollback()
		return err
	}

	in.head.disk.Length = newEnd
	if err := in.persistChunk(ctx, in.head); err != nil {
		in.head.disk.Length = origLength
		rollback()
		return err
	}

	return nil
}

type runAlloc struct {
	start, count uint32
}

func containsChunk(cs []*chunk, c *chunk) bool {
	for _, x := range cs {
		if x == c {
			return true
		}
	}
	return false
}

// ensureSpareDescriptor returns the chunk to append a descriptor to: the
// current tail if it has room, otherwise a freshly allocated chunk linked
// after it, per spec.md §4.1 "Chunk allocation".
func (in *Inode) ensureSpareDescriptor(ctx context.Context) (*chunk, error) {
	if in.tail.hasSpareDescriptor() {
		return in.tail, nil
	}
	return in.allocateFreshChunk(ctx)
}

// allocateFreshChunk grabs one sector from the free map to host a brand
// new (unlinked) chunk. The caller links it into the chain.
func (in *Inode) allocateFreshChunk(ctx context.Context) (*chunk, error) {
	sector, ok := in.fm.AllocateContiguous(1)
	if !ok {
		return nil, ErrNoSpace
	}
	c := &chunk{sector: sector}
	c.disk.Magic = magic
	return c, nil
}

// materializeDescriptor replaces the lazy descriptor at c.Descriptors[idx]
// with one or more real descriptors covering the same sector span, per
// spec.md §4.1 "Lazy materialization". Mu must be held.
func (in *Inode) materializeDescriptor(ctx context.Context, c *chunk, idx int) error {
	d := c.disk.Descriptors[idx]

	if start, ok := in.fm.AllocateContiguous(d.Count); ok {
		if err := zeroSectors(ctx, in.dev, start, d.Count); err != nil {
			in.fm.ReleaseRun(start, d.Count)
			return err
		}
		c.disk.Descriptors[idx] = Descriptor{Start: start, Count: d.Count}
		in.coalesceWithPrevious(c, idx)
		return in.persistChunk(ctx, c)
	}

	runs, ok := in.fm.AllocateLongestRuns(d.Count)
	if !ok {
		return ErrNoSpace
	}

	extra := len(runs) - 1 // one slot is already occupied by the lazy descriptor being replaced
	if int(c.disk.DescriptorCount)+extra > MaxDescriptors {
		for _, r := range runs {
			in.fm.ReleaseRun(r.Start, r.Count)
		}
		return ErrTooManyRuns
	}

	for _, r := range runs {
		if err := zeroSectors(ctx, in.dev, r.Start, r.Count); err != nil {
			for _, rr := range runs {
				in.fm.ReleaseRun(rr.Start, rr.Count)
			}
			return err
		}
	}

	// Shift descriptors after idx right by `extra` slots, then fill
	// [idx, idx+len(runs)) with the real runs.
	for i := int(c.disk.DescriptorCount) - 1; i > idx; i-- {
		c.disk.Descriptors[i+extra] = c.disk.Descriptors[i]
	}
	for i, r := range runs {
		c.disk.Descriptors[idx+i] = Descriptor{Start: r.Start, Count: r.Count}
	}
	c.disk.DescriptorCount += uint32(extra)

	return in.persistChunk(ctx, c)
}

// coalesceWithPrevious merges c.Descriptors[idx] into the preceding
// descriptor if they describe physically adjacent sectors, per spec.md
// §4.1's coalescing rule.
func (in *Inode) coalesceWithPrevious(c *chunk, idx int) {
	if idx == 0 {
		return
	}
	prev := c.disk.Descriptors[idx-1]
	cur := c.disk.Descriptors[idx]
	if prev.lazy() || cur.lazy() || prev.Start+prev.Count != cur.Start {
		return
	}
	c.disk.Descriptors[idx-1] = Descriptor{Start: prev.Start, Count: prev.Count + cur.Count}
	for i := idx; i < int(c.disk.DescriptorCount)-1; i++ {
		c.disk.Descriptors[i] = c.disk.Descriptors[i+1]
	}
	c.disk.DescriptorCount--
}
