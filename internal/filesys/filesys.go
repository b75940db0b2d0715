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

// Package filesys is the top-level facade of spec.md §4.4: every
// operation acquires one global filesystem lock, invokes the path
// resolver, performs its directory manipulation under the lock, and
// releases. Grounded on the teacher's fs/fs.go single-FS-lock structure
// (fs.mu syncutil.InvariantMutex guarding the whole inode/dentry graph).
package filesys

import (
	"context"
	"errors"
	"fmt"

	"github.com/jacobsa/syncutil"
	"github.com/pintosgo/kernel/internal/blockdev"
	"github.com/pintosgo/kernel/internal/dirent"
	"github.com/pintosgo/kernel/internal/freemap"
	"github.com/pintosgo/kernel/internal/inode"
	"github.com/pintosgo/kernel/internal/pathres"
)

const rootSector = 1

var (
	ErrExists       = errors.New("filesys: name already exists")
	ErrNotFound     = errors.New("filesys: name not found")
	ErrNotDirectory = errors.New("filesys: not a directory")
	ErrIsDirectory  = errors.New("filesys: is a directory")
)

// FS is the simulated filesystem's single entry point. One global lock
// (Mu) serializes every top-level operation, per spec.md §4.4.
type FS struct {
	dev blockdev.Device
	fm  *freemap.Map

	table *inode.Table

	Mu syncutil.InvariantMutex

	// GUARDED_BY(Mu)
	root *dirent.Directory
}

func (fs *FS) checkInvariants() {
	if fs.root == nil {
		panic("filesys: root directory not initialized")
	}
}

// Format initializes a brand-new filesystem on dev: builds the free map
// from the device's sector count and lays down the root directory at a
// fixed sector, per the original mkfs path in original_source/filesys.c.
func Format(ctx context.Context, dev blockdev.Device) (*FS, error) {
	sectors := dev.SectorCount()
	fm := freemap.New(sectors)
	fm.MarkUsed(0) // sector 0 is reserved as the boot/free-map sector.

	table := inode.NewTable(dev, fm)
	root, err := dirent.Create(ctx, table, rootSector, rootSector)
	if err != nil {
		return nil, fmt.Errorf("filesys: format root directory: %w", err)
	}

	fs := &FS{dev: dev, fm: fm, table: table, root: root}
	fs.Mu = syncutil.NewInvariantMutex(fs.checkInvariants)
	return fs, nil
}

// Open mounts an already-formatted filesystem on dev.
func Open(ctx context.Context, dev blockdev.Device) (*FS, error) {
	sectors := dev.SectorCount()
	fm := freemap.New(sectors)
	fm.MarkUsed(0)
	fm.MarkUsed(rootSector)

	table := inode.NewTable(dev, fm)
	rootInode, err := table.Open(ctx, rootSector)
	if err != nil {
		return nil, fmt.Errorf("filesys: open root directory: %w", err)
	}
	root, err := dirent.Open(rootInode)
	if err != nil {
		rootInode.Close(ctx)
		return nil, err
	}

	fs := &FS{dev: dev, fm: fm, table: table, root: root}
	fs.Mu = syncutil.NewInvariantMutex(fs.checkInvariants)
	return fs, nil
}

// Close unmounts, releasing the root directory's handle.
func (fs *FS) Close(ctx context.Context) error {
	fs.Mu.Lock()
	defer fs.Mu.Unlock()
	return fs.root.Close(ctx)
}

// Root returns the root directory handle (not closed by the caller; it
// is owned by fs for its lifetime).
func (fs *FS) Root() *dirent.Directory {
	fs.Mu.Lock()
	defer fs.Mu.Unlock()
	return fs.root
}

// releaseOnErr closes dir unless keep is true; used at error-exit points
// so every early return still releases the resolver's open handle, per
// spec.md §4.4's "a utility routine releases the lock if still held
// during error exit" discipline, generalized to directory handles too.
func releaseOnErr(ctx context.Context, dir *dirent.Directory, keep *bool) {
	if !*keep {
		dir.Close(ctx)
	}
}

// Create makes a regular file of the given initial length at path,
// relative to startDir (nil meaning the filesystem root).
func (fs *FS) Create(ctx context.Context, startDir *dirent.Directory, path string, length uint32) error {
	fs.Mu.Lock()
	defer fs.Mu.Unlock()

	res, err := pathres.Resolve(ctx, fs.table, fs.root, startDir, path)
	if err != nil {
		return err
	}
	keep := false
	defer releaseOnErr(ctx, res.Dir, &keep)

	if _, found, err := res.Dir.Lookup(ctx, res.Name); err != nil {
		return err
	} else if found {
		return ErrExists
	}

	sector, ok := fs.fm.AllocateContiguous(1)
	if !ok {
		return inode.ErrNoSpace
	}

	in, err := fs.table.Create(ctx, sector, length, false, false)
	if err != nil {
		fs.fm.Release(sector)
		return err
	}
	if err := in.Close(ctx); err != nil {
		return err
	}

	added, err := res.Dir.Add(ctx, res.Name, sector)
	if err != nil {
		fs.removeOrphan(ctx, sector)
		return err
	}
	if !added {
		fs.removeOrphan(ctx, sector)
		return ErrExists
	}

	return nil
}

// removeOrphan frees a just-created inode's sector when a directory-add
// step fails after the inode was already persisted.
func (fs *FS) removeOrphan(ctx context.Context, sector uint32) {
	in, err := fs.table.Open(ctx, sector)
	if err != nil {
		return
	}
	in.Remove()
	in.Close(ctx)
}

// Open resolves path and opens the target inode.
func (fs *FS) Open(ctx context.Context, startDir *dirent.Directory, path string) (*inode.Inode, error) {
	fs.Mu.Lock()
	defer fs.Mu.Unlock()

	res, err := pathres.Resolve(ctx, fs.table, fs.root, startDir, path)
	if err != nil {
		return nil, err
	}
	defer res.Dir.Close(ctx)

	sector, found, err := res.Dir.Lookup(ctx, res.Name)
	if err != nil {
		return nil, err
	}
	if !found {
		if res.Name == "." {
			return res.Dir.Inode(), nil
		}
		return nil, ErrNotFound
	}

	return fs.table.Open(ctx, sector)
}

// Remove unlinks path; refuses a non-empty or still-open directory per
// spec.md §4.2, delegated to dirent.Directory.Remove.
func (fs *FS) Remove(ctx context.Context, startDir *dirent.Directory, path string) error {
	fs.Mu.Lock()
	defer fs.Mu.Unlock()

	res, err := pathres.Resolve(ctx, fs.table, fs.root, startDir, path)
	if err != nil {
		return err
	}
	defer res.Dir.Close(ctx)

	removed, err := res.Dir.Remove(ctx, res.Name, fs.table)
	if err != nil {
		return err
	}
	if !removed {
		return ErrNotFound
	}
	return nil
}

// Mkdir creates a new directory at path, installing its "."/".." entries
// atomically: on any failure the newly allocated sector is freed, per
// spec.md §4.4.
func (fs *FS) Mkdir(ctx context.Context, startDir *dirent.Directory, path string) error {
	fs.Mu.Lock()
	defer fs.Mu.Unlock()

	res, err := pathres.Resolve(ctx, fs.table, fs.root, startDir, path)
	if err != nil {
		return err
	}
	keep := false
	defer releaseOnErr(ctx, res.Dir, &keep)

	if _, found, err := res.Dir.Lookup(ctx, res.Name); err != nil {
		return err
	} else if found {
		return ErrExists
	}

	sector, ok := fs.fm.AllocateContiguous(1)
	if !ok {
		return inode.ErrNoSpace
	}

	sub, err := dirent.Create(ctx, fs.table, sector, res.Dir.Inode().Sector())
	if err != nil {
		fs.fm.Release(sector)
		return err
	}
	if err := sub.Close(ctx); err != nil {
		return err
	}

	added, err := res.Dir.Add(ctx, res.Name, sector)
	if err != nil {
		fs.removeOrphan(ctx, sector)
		return err
	}
	if !added {
		fs.removeOrphan(ctx, sector)
		return ErrExists
	}

	return nil
}

// RawTableOpen opens the inode at sector directly, bypassing path
// resolution. Exposed for internal/fuseadapter, which must navigate by
// fuseops.InodeID (here, sector number) rather than by path.
func (fs *FS) RawTableOpen(ctx context.Context, sector uint32) (*inode.Inode, error) {
	fs.Mu.Lock()
	defer fs.Mu.Unlock()
	return fs.table.Open(ctx, sector)
}

// Chdir resolves path to a directory handle the caller owns (e.g. a
// process's PCB cwd), without mutating fs state.
func (fs *FS) Chdir(ctx context.Context, startDir *dirent.Directory, path string) (*dirent.Directory, error) {
	fs.Mu.Lock()
	defer fs.Mu.Unlock()

	res, err := pathres.Resolve(ctx, fs.table, fs.root, startDir, path)
	if err != nil {
		return nil, err
	}

	sector, found, err := res.Dir.Lookup(ctx, res.Name)
	if err != nil {
		res.Dir.Close(ctx)
		return nil, err
	}
	if !found {
		if res.Name == "." {
			return res.Dir, nil
		}
		res.Dir.Close(ctx)
		return nil, ErrNotFound
	}
	defer res.Dir.Close(ctx)

	target, err := fs.table.Open(ctx, sector)
	if err != nil {
		return nil, err
	}
	if !target.IsDir() {
		target.Close(ctx)
		return nil, ErrNotDirectory
	}
	return dirent.Open(target)
}
