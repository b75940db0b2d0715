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

package elfcontract_test

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/pintosgo/kernel/internal/elfcontract"
	"github.com/pintosgo/kernel/internal/pagetable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeELF is an in-memory ELFLoader backed by a byte buffer, assembled by
// hand rather than produced by a real toolchain (the Go toolchain is never
// invoked in this exercise).
type fakeELF struct {
	buf []byte
}

func (f *fakeELF) ReadAt(ctx context.Context, p []byte, offset uint32) (int, error) {
	n := copy(p, f.buf[offset:])
	return n, nil
}

func (f *fakeELF) Length() uint32 { return uint32(len(f.buf)) }

func putEhdr(buf []byte, phoff uint32, phnum uint16) {
	copy(buf[0:4], "\x7fELF")
	buf[4] = 1
	buf[5] = 1
	binary.LittleEndian.PutUint16(buf[16:18], 2) // e_type = ET_EXEC
	binary.LittleEndian.PutUint16(buf[18:20], 3) // e_machine = EM_386
	binary.LittleEndian.PutUint32(buf[20:24], 1) // e_version
	binary.LittleEndian.PutUint32(buf[28:32], phoff)
	binary.LittleEndian.PutUint16(buf[42:44], 32) // e_phentsize
	binary.LittleEndian.PutUint16(buf[44:46], phnum)
}

func putPhdr(buf []byte, off uint32, pType, pOffset, pVAddr, pFilesz, pMemsz, pFlags uint32) {
	binary.LittleEndian.PutUint32(buf[off:], pType)
	binary.LittleEndian.PutUint32(buf[off+4:], pOffset)
	binary.LittleEndian.PutUint32(buf[off+8:], pVAddr)
	binary.LittleEndian.PutUint32(buf[off+16:], pFilesz)
	binary.LittleEndian.PutUint32(buf[off+20:], pMemsz)
	binary.LittleEndian.PutUint32(buf[off+24:], pFlags)
}

func TestLoadSegmentsParsesSinglePTLoad(t *testing.T) {
	const phoff = 52
	// p_offset's page-offset (0x40) must match p_vaddr's page-offset (0x40);
	// the two need not share the same page number.
	const pOffset = pagetable.PageSize + 0x40
	const pVAddr = 3*pagetable.PageSize + 0x40
	buf := make([]byte, pOffset+256)
	putEhdr(buf, phoff, 1)
	putPhdr(buf, phoff, 1 /* PT_LOAD */, pOffset, pVAddr, 100, 200, 5 /* R+X */)

	segs, err := elfcontract.LoadSegments(context.Background(), &fakeELF{buf: buf})
	require.NoError(t, err)
	require.Len(t, segs, 1)

	seg := segs[0]
	assert.EqualValues(t, 3*pagetable.PageSize, seg.VAddr)
	assert.EqualValues(t, pagetable.PageSize, seg.Offset)
	assert.EqualValues(t, 0x40+100, seg.ReadBytes)
	assert.EqualValues(t, pagetable.PageSize-(0x40+100), seg.ZeroBytes)
	assert.False(t, seg.Writable)
}

func TestLoadSegmentsWritableSegment(t *testing.T) {
	const phoff = 52
	const segOffset = 52 + 32
	buf := make([]byte, segOffset+64)
	putEhdr(buf, phoff, 1)
	putPhdr(buf, phoff, 1, segOffset, 2*pagetable.PageSize+segOffset, 10, 10, 2 /* W only */)

	segs, err := elfcontract.LoadSegments(context.Background(), &fakeELF{buf: buf})
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.True(t, segs[0].Writable)
}

func TestLoadSegmentsIgnoresNonLoadTypes(t *testing.T) {
	const phoff = 52
	buf := make([]byte, phoff+2*32)
	putEhdr(buf, phoff, 2)
	putPhdr(buf, phoff, 6 /* PT_PHDR */, 0, 0, 0, 0, 0)
	putPhdr(buf, phoff+32, 4 /* PT_NOTE */, 0, 0, 0, 0, 0)

	segs, err := elfcontract.LoadSegments(context.Background(), &fakeELF{buf: buf})
	require.NoError(t, err)
	assert.Empty(t, segs)
}

func TestLoadSegmentsRejectsDynamicSegment(t *testing.T) {
	const phoff = 52
	buf := make([]byte, phoff+32)
	putEhdr(buf, phoff, 1)
	putPhdr(buf, phoff, 2 /* PT_DYNAMIC */, 0, pagetable.PageSize, 1, 1, 0)

	_, err := elfcontract.LoadSegments(context.Background(), &fakeELF{buf: buf})
	assert.ErrorIs(t, err, elfcontract.ErrBadSegment)
}

func TestLoadSegmentsRejectsBadMagic(t *testing.T) {
	buf := make([]byte, 52)
	_, err := elfcontract.LoadSegments(context.Background(), &fakeELF{buf: buf})
	assert.ErrorIs(t, err, elfcontract.ErrBadMagic)
}

func TestLoadSegmentsRejectsNullPageSegment(t *testing.T) {
	const phoff = 52
	buf := make([]byte, phoff+32+16)
	putEhdr(buf, phoff, 1)
	putPhdr(buf, phoff, 1, 0, 0 /* p_vaddr below PGSIZE */, 10, 10, 5)

	_, err := elfcontract.LoadSegments(context.Background(), &fakeELF{buf: buf})
	assert.ErrorIs(t, err, elfcontract.ErrBadSegment)
}

func TestLoadSegmentsRejectsMismatchedPageOffsets(t *testing.T) {
	const phoff = 52
	buf := make([]byte, phoff+32+16)
	putEhdr(buf, phoff, 1)
	// p_offset % PGSIZE (=4) != p_vaddr % PGSIZE (=0): must fail.
	putPhdr(buf, phoff, 1, 4, pagetable.PageSize, 10, 10, 5)

	_, err := elfcontract.LoadSegments(context.Background(), &fakeELF{buf: buf})
	assert.ErrorIs(t, err, elfcontract.ErrBadSegment)
}
