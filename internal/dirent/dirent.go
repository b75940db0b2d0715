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

// Package dirent implements spec.md §4.2's directory layer: a directory is
// a file (backed by internal/inode) whose contents are fixed-size entry
// records, each {name, inode_sector, in_use}. Grounded on the teacher's
// fs/inode/dir.go directory-entry enumeration style, but with Pintos's
// on-disk record format in place of GCS object listings.
package dirent

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pintosgo/kernel/internal/inode"
)

// NameMax bounds one path component's length, matching the original
// Pintos NAME_MAX so a directory entry record stays small and fixed-size.
const NameMax = 14

// recordSize is one fixed-size directory-entry record: NameMax+1 bytes of
// NUL-padded name, a 4-byte inode sector, and a 1-byte in-use flag.
const recordSize = NameMax + 1 + 4 + 1

var (
	ErrNameTooLong  = errors.New("dirent: name exceeds NameMax")
	ErrNotDirectory = errors.New("dirent: inode is not a directory")
	ErrDuplicate    = errors.New("dirent: name already exists")
	ErrNotFound     = errors.New("dirent: name not found")
	ErrDirNotEmpty  = errors.New("dirent: directory is not empty")
	ErrDirOpen      = errors.New("dirent: directory is open elsewhere")
)

// Entry is one decoded directory record.
type Entry struct {
	Name   string
	Sector uint32
	InUse  bool
}

func encode(e Entry) ([]byte, error) {
	if len(e.Name) > NameMax {
		return nil, ErrNameTooLong
	}
	buf := make([]byte, recordSize)
	copy(buf[0:NameMax+1], e.Name)
	binary.LittleEndian.PutUint32(buf[NameMax+1:], e.Sector)
	if e.InUse {
		buf[NameMax+1+4] = 1
	}
	return buf, nil
}

func decode(buf []byte) Entry {
	nameBuf := buf[0 : NameMax+1]
	nul := bytes.IndexByte(nameBuf, 0)
	if nul < 0 {
		nul = len(nameBuf)
	}
	return Entry{
		Name:   string(nameBuf[:nul]),
		Sector: binary.LittleEndian.Uint32(buf[NameMax+1:]),
		InUse:  buf[NameMax+1+4] != 0,
	}
}

// Directory wraps an inode known to carry spec.md §3's is_directory flag.
type Directory struct {
	in *inode.Inode
}

// Create lays down a brand-new directory inode at sector and installs its
// "." and ".." entries, per spec.md §4.2. For the root directory, pass
// parentSector == sector so ".." resolves to the root itself.
func Create(ctx context.Context, table *inode.Table, sector, parentSector uint32) (*Directory, error) {
	in, err := table.Create(ctx, sector, 0, false, true)
	if err != nil {
		return nil, err
	}
	d := &Directory{in: in}

	if _, err := d.addLocked(ctx, ".", sector, true); err != nil {
		in.Remove()
		in.Close(ctx)
		return nil, err
	}
	if _, err := d.addLocked(ctx, "..", parentSector, true); err != nil {
		in.Remove()
		in.Close(ctx)
		return nil, err
	}

	return d, nil
}

// Open wraps an already-open directory inode.
func Open(in *inode.Inode) (*Directory, error) {
	if !in.IsDir() {
		return nil, ErrNotDirectory
	}
	return &Directory{in: in}, nil
}

// Inode returns the backing inode (callers close it through the
// directory, not separately).
func (d *Directory) Inode() *inode.Inode { return d.in }

// Close releases the directory's hold on its backing inode.
func (d *Directory) Close(ctx context.Context) error { return d.in.Close(ctx) }

// Entries returns every in-use record, for readdir and emptiness checks.
func (d *Directory) Entries(ctx context.Context) ([]Entry, error) {
	length := d.in.Length()
	n := int(length) / recordSize
	entries := make([]Entry, 0, n)
	buf := make([]byte, recordSize)
	for i := 0; i < n; i++ {
		nr, err := d.in.ReadAt(ctx, buf, uint32(i*recordSize))
		if err != nil {
			return nil, err
		}
		if nr < recordSize {
			break
		}
		e := decode(buf)
		if e.InUse {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// Lookup scans for name, returning its inode sector if present.
func (d *Directory) Lookup(ctx context.Context, name string) (uint32, bool, error) {
	entries, err := d.Entries(ctx)
	if err != nil {
		return 0, false, err
	}
	for _, e := range entries {
		if e.Name == name {
			return e.Sector, true, nil
		}
	}
	return 0, false, nil
}

// Add refuses duplicate names (spec.md §4.2 "dir_add(name, sector) refuses
// duplicates"), reusing the first unused slot or appending.
func (d *Directory) Add(ctx context.Context, name string, sector uint32) (bool, error) {
	return d.addLocked(ctx, name, sector, false)
}

func (d *Directory) addLocked(ctx context.Context, name string, sector uint32, allowDotNames bool) (bool, error) {
	if len(name) > NameMax {
		return false, ErrNameTooLong
	}
	if !allowDotNames && (name == "." || name == "..") {
		return false, fmt.Errorf("dirent: %q is a reserved name", name)
	}

	length := d.in.Length()
	n := int(length) / recordSize
	buf := make([]byte, recordSize)
	firstFree := -1

	for i := 0; i < n; i++ {
		if _, err := d.in.ReadAt(ctx, buf, uint32(i*recordSize)); err != nil {
			return false, err
		}
		e := decode(buf)
		if e.InUse {
			if e.Name == name {
				return false, nil
			}
		} else if firstFree < 0 {
			firstFree = i
		}
	}

	slot := firstFree
	if slot < 0 {
		slot = n
	}

	rec, err := encode(Entry{Name: name, Sector: sector, InUse: true})
	if err != nil {
		return false, err
	}
	if _, err := d.in.WriteAt(ctx, rec, uint32(slot*recordSize)); err != nil {
		return false, err
	}
	return true, nil
}

// Remove clears name's slot, refusing a non-empty directory or one that is
// open elsewhere (other than the implicit "." / ".." self-references),
// per spec.md §4.2.
func (d *Directory) Remove(ctx context.Context, name string, table *inode.Table) (bool, error) {
	if name == "." || name == ".." {
		return false, fmt.Errorf("dirent: cannot remove reserved name %q", name)
	}

	length := d.in.Length()
	n := int(length) / recordSize
	buf := make([]byte, recordSize)

	for i := 0; i < n; i++ {
		if _, err := d.in.ReadAt(ctx, buf, uint32(i*recordSize)); err != nil {
			return false, err
		}
		e := decode(buf)
		if !e.InUse || e.Name != name {
			continue
		}

		target, err := table.Open(ctx, e.Sector)
		if err != nil {
			return false, err
		}

		if target.IsDir() {
			sub, err := Open(target)
			if err != nil {
				target.Close(ctx)
				return false, err
			}
			entries, err := sub.Entries(ctx)
			if err != nil {
				target.Close(ctx)
				return false, err
			}
			for _, se := range entries {
				if se.Name != "." && se.Name != ".." {
					target.Close(ctx)
					return false, ErrDirNotEmpty
				}
			}
			if target.OpenCount() > 1 {
				target.Close(ctx)
				return false, ErrDirOpen
			}
		}

		target.Remove()
		if err := target.Close(ctx); err != nil {
			return false, err
		}

		cleared, err := encode(Entry{})
		if err != nil {
			return false, err
		}
		if _, err := d.in.WriteAt(ctx, cleared, uint32(i*recordSize)); err != nil {
			return false, err
		}
		return true, nil
	}

	return false, nil
}
