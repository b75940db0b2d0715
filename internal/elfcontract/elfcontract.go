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

// Package elfcontract defines the external collaborator contract spec.md
// §6's Executable format section describes: a minimal ELF32 program-
// header reader that turns PT_LOAD segments into the {file, offset,
// read_bytes, writable} tuples internal/vmpage's FILE-kind entries need.
// This is deliberately not a full loader: no relocation, no dynamic
// linking, no symbol resolution, per SPEC_FULL.md §2.14.
package elfcontract

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pintosgo/kernel/internal/pagetable"
)

const (
	ehdrSize = 52
	phdrSize = 32

	ptLoad = 1
	pfW    = 2
)

var (
	ErrBadMagic   = errors.New("elfcontract: not a little-endian ELF32 executable")
	ErrBadPhdr    = errors.New("elfcontract: unexpected program header size")
	ErrTooManyPhs = errors.New("elfcontract: too many program headers")
	ErrBadSegment = errors.New("elfcontract: PT_LOAD segment fails validation")
)

// ELFLoader is the slice of internal/inode.Inode the loader needs: random
// access plus the file's total length (to validate p_offset against it).
type ELFLoader interface {
	ReadAt(ctx context.Context, p []byte, offset uint32) (int, error)
	Length() uint32
}

// Segment is one validated PT_LOAD program header, reduced to the tuple
// the fault handler's FILE-kind supplemental entries need: read ReadBytes
// starting at Offset in the file, covering ReadBytes+ZeroBytes bytes (a
// whole number of pages) starting at VAddr (page-aligned down),
// zero-filling the remainder, writable per Writable.
type Segment struct {
	VAddr     uint32 // page-aligned down from p_vaddr.
	Offset    uint32 // page-aligned down from p_offset.
	ReadBytes uint32
	ZeroBytes uint32
	Writable  bool
}

// LoadSegments reads and validates every program header of an ELF32
// little-endian, machine=386, version=1 executable with at most 1024
// program headers, per spec.md §6, returning one Segment per PT_LOAD
// entry that passes validate_segment's checks. PT_DYNAMIC/PT_INTERP/
// PT_SHLIB abort the load (this is not a dynamic linker); every other
// segment type is ignored, matching original_source/userprog/process.c's
// switch on p_type.
func LoadSegments(ctx context.Context, f ELFLoader) ([]Segment, error) {
	var ehdr [ehdrSize]byte
	if n, err := f.ReadAt(ctx, ehdr[:], 0); err != nil || n != ehdrSize {
		return nil, ErrBadMagic
	}
	if string(ehdr[0:4]) != "\x7fELF" || ehdr[4] != 1 || ehdr[5] != 1 {
		return nil, ErrBadMagic
	}
	etype := binary.LittleEndian.Uint16(ehdr[16:18])
	emachine := binary.LittleEndian.Uint16(ehdr[18:20])
	eversion := binary.LittleEndian.Uint32(ehdr[20:24])
	ephoff := binary.LittleEndian.Uint32(ehdr[28:32])
	ephentsize := binary.LittleEndian.Uint16(ehdr[42:44])
	ephnum := binary.LittleEndian.Uint16(ehdr[44:46])

	if etype != 2 || emachine != 3 || eversion != 1 {
		return nil, ErrBadMagic
	}
	if ephentsize != phdrSize {
		return nil, ErrBadPhdr
	}
	if ephnum > 1024 {
		return nil, ErrTooManyPhs
	}

	var segments []Segment
	offset := ephoff
	for i := uint16(0); i < ephnum; i++ {
		if offset > f.Length() {
			return nil, fmt.Errorf("elfcontract: program header %d offset beyond file", i)
		}
		var phdr [phdrSize]byte
		if n, err := f.ReadAt(ctx, phdr[:], offset); err != nil || n != phdrSize {
			return nil, fmt.Errorf("elfcontract: read program header %d: %w", i, err)
		}
		offset += phdrSize

		ptype := binary.LittleEndian.Uint32(phdr[0:4])
		switch ptype {
		case 2, 3, 10: // PT_DYNAMIC, PT_INTERP, PT_SHLIB
			return nil, ErrBadSegment
		case ptLoad:
			seg, err := validateSegment(phdr, f.Length())
			if err != nil {
				return nil, err
			}
			segments = append(segments, seg)
		default:
			// PT_NULL, PT_NOTE, PT_PHDR, PT_STACK, and anything else: ignored.
		}
	}
	return segments, nil
}

func validateSegment(phdr [phdrSize]byte, fileLen uint32) (Segment, error) {
	pOffset := binary.LittleEndian.Uint32(phdr[4:8])
	pVAddr := binary.LittleEndian.Uint32(phdr[8:12])
	pFilesz := binary.LittleEndian.Uint32(phdr[16:20])
	pMemsz := binary.LittleEndian.Uint32(phdr[20:24])
	pFlags := binary.LittleEndian.Uint32(phdr[24:28])

	const pageMask = pagetable.PageSize - 1

	if pOffset&pageMask != pVAddr&pageMask {
		return Segment{}, ErrBadSegment
	}
	if pOffset > fileLen {
		return Segment{}, ErrBadSegment
	}
	if pMemsz < pFilesz {
		return Segment{}, ErrBadSegment
	}
	if pMemsz == 0 {
		return Segment{}, ErrBadSegment
	}
	if pVAddr+pMemsz < pVAddr {
		return Segment{}, ErrBadSegment
	}
	if pVAddr < pagetable.PageSize {
		return Segment{}, ErrBadSegment
	}

	writable := pFlags&pfW != 0
	filePage := pOffset &^ pageMask
	memPage := pVAddr &^ pageMask
	pageOffset := pVAddr & pageMask

	var readBytes, zeroBytes uint32
	if pFilesz > 0 {
		readBytes = pageOffset + pFilesz
		zeroBytes = roundUp(pageOffset+pMemsz, pagetable.PageSize) - readBytes
	} else {
		readBytes = 0
		zeroBytes = roundUp(pageOffset+pMemsz, pagetable.PageSize)
	}

	return Segment{
		VAddr:     memPage,
		Offset:    filePage,
		ReadBytes: readBytes,
		ZeroBytes: zeroBytes,
		Writable:  writable,
	}, nil
}

func roundUp(n, multiple uint32) uint32 {
	return (n + multiple - 1) &^ (multiple - 1)
}
