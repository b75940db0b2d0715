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

// Package mmap installs spec.md §2.11's MMAP supplemental-page-table
// entries over an open file handle, flushing dirty pages back on unmap
// and on process exit. Grounded on gcsproxy/mutable_content.go's
// dirty-threshold tracking idea (track only what has actually been
// touched since the mapping was installed, so unmap only ever writes back
// what changed) adapted from a single byte-offset threshold to a
// page-granularity dirty set, since a memory mapping's unit of faulting
// and writeback is a page, not a byte range.
package mmap

import (
	"context"
	"errors"
	"fmt"

	"github.com/pintosgo/kernel/internal/frame"
	"github.com/pintosgo/kernel/internal/pagetable"
	"github.com/pintosgo/kernel/internal/vmpage"
)

var (
	ErrOverlap  = errors.New("mmap: mapping would overlap an existing page")
	ErrNotFound = errors.New("mmap: no such mapping id")
)

// FileReadWriter is the slice of internal/inode.Inode a memory mapping
// needs: read to fault pages in, write to flush dirty pages back out.
type FileReadWriter interface {
	ReadAt(ctx context.Context, p []byte, offset uint32) (int, error)
	WriteAt(ctx context.Context, p []byte, offset uint32) (int, error)
}

// Mapping is one active mmap installation.
type Mapping struct {
	ID     int
	File   FileReadWriter
	Length uint32
	Pages  []uint32 // page-aligned user virtual addresses, in order.
}

// Table tracks every active mapping for one process.
type Table struct {
	mappings map[int]*Mapping
	nextID   int
}

// New constructs an empty mapping table.
func New() *Table {
	return &Table{mappings: make(map[int]*Mapping)}
}

// Mmap installs length bytes of file starting at byte 0, mapped
// read/write starting at uaddr (which must be page-aligned), registering
// one vmpage.Mmap entry per page and marking each page lazy in pt so the
// first touch faults it in. vt.Mu must be held by the caller around this
// call (pt locks itself per call), matching the rest of the corpus's
// per-process locking discipline.
func (t *Table) Mmap(pt *pagetable.Table, vt *vmpage.Table, file FileReadWriter, length uint32, uaddr uint32) (*Mapping, error) {
	if uaddr%pagetable.PageSize != 0 {
		return nil, fmt.Errorf("mmap: uaddr %#x is not page-aligned", uaddr)
	}

	numPages := (length + pagetable.PageSize - 1) / pagetable.PageSize
	pages := make([]uint32, 0, numPages)
	for i := uint32(0); i < numPages; i++ {
		page := uaddr + i*pagetable.PageSize
		if pt.HadPage(page) {
			return nil, ErrOverlap
		}
		pages = append(pages, page)
	}

	id := t.nextID
	t.nextID++
	m := &Mapping{ID: id, File: file, Length: length, Pages: pages}

	for i, page := range pages {
		offset := uint32(i) * pagetable.PageSize
		readBytes := pagetable.PageSize
		if remaining := length - offset; remaining < pagetable.PageSize {
			readBytes = remaining
		}
		avl := vt.Register(vmpage.Entry{
			UserPage:  page,
			Kind:      vmpage.Mmap,
			Writable:  true,
			File:      file,
			Offset:    offset,
			ReadBytes: readBytes,
			MmapID:    id,
		})
		pt.SetAVL(page, avl)
		pt.SetLazy(page, true)
	}

	t.mappings[id] = m
	return m, nil
}

// Munmap flushes every dirty page of mapping id back to its file and
// removes the pages from pt, per spec.md §2.11's flush-on-unmap. pt gives a
// present page's current kaddr and ft supplies that frame's live bytes
// for writeback (a page that was never faulted in is never dirty, so it
// is simply dropped).
func (t *Table) Munmap(ctx context.Context, id int, pt *pagetable.Table, ft *frame.Table) error {
	m, ok := t.mappings[id]
	if !ok {
		return ErrNotFound
	}

	for i, page := range m.Pages {
		offset := uint32(i) * pagetable.PageSize
		if kaddr, present := pt.GetPage(page); present {
			if pt.IsDirty(page) {
				readBytes := pagetable.PageSize
				if remaining := m.Length - offset; remaining < pagetable.PageSize {
					readBytes = remaining
				}
				if _, err := m.File.WriteAt(ctx, ft.Page(kaddr)[:readBytes], offset); err != nil {
					return fmt.Errorf("mmap: flush page %#x: %w", page, err)
				}
			}
		}
		pt.ClearPage(page)
		pt.SetLazy(page, false)
	}

	delete(t.mappings, id)
	return nil
}

// FlushAll writes back every dirty page of every still-open mapping,
// per spec.md §2.11's flush-on-exit.
func (t *Table) FlushAll(ctx context.Context, pt *pagetable.Table, ft *frame.Table) error {
	for id := range t.mappings {
		if err := t.Munmap(ctx, id, pt, ft); err != nil {
			return err
		}
	}
	return nil
}

// Lookup returns the mapping whose pages include page, if any. It does
// not report the page's byte offset within the mapping's file.
func (t *Table) Lookup(page uint32) (*Mapping, bool) {
	for _, m := range t.mappings {
		for _, p := range m.Pages {
			if p == page {
				return m, true
			}
		}
	}
	return nil, false
}
