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

// Package pathres implements spec.md §4.3's path resolver: it walks every
// component of a path but the last, returning the open directory handle
// the last component lives in plus the last component's bare name.
// Grounded on the teacher's fs/fs.go LookUpOrCreateChildInode-style
// component walking, minus GCS's implicit-directory semantics.
package pathres

import (
	"context"
	"errors"
	"strings"

	"github.com/pintosgo/kernel/internal/dirent"
	"github.com/pintosgo/kernel/internal/inode"
)

// MaxComponents bounds how many "/"-separated components a path may carry,
// per spec.md §4.3.
const MaxComponents = 30

var (
	// ErrStartDirRemoved is returned when the caller's starting directory
	// has already been unlinked, per spec.md §4.3's closing sentence.
	ErrStartDirRemoved = errors.New("pathres: starting directory has been removed")

	ErrTooManyComponents = errors.New("pathres: path has too many components")
	ErrNameTooLong       = errors.New("pathres: path component exceeds NameMax")
	ErrNotFound          = errors.New("pathres: intermediate component not found")
	ErrNotDirectory      = errors.New("pathres: intermediate component is not a directory")
)

// Result is the resolver's output: the directory the leaf component lives
// in (caller must Close it) plus the leaf's bare name. An empty-component
// path (e.g. "/" or "") yields Name == ".".
type Result struct {
	Dir  *dirent.Directory
	Name string
}

// Resolve walks path starting from start (nil means the root directory),
// per spec.md §4.3: splits on "/", starts from the root if the path is
// absolute or start is nil, otherwise reopens start; walks every
// component but the last, requiring each intermediate to exist and be a
// directory; returns the open parent directory and the leaf name.
func Resolve(ctx context.Context, table *inode.Table, root *dirent.Directory, start *dirent.Directory, path string) (*Result, error) {
	components := splitPath(path)
	if len(components) > MaxComponents {
		return nil, ErrTooManyComponents
	}
	for _, c := range components {
		if len(c) > dirent.NameMax {
			return nil, ErrNameTooLong
		}
	}

	var cur *dirent.Directory
	if strings.HasPrefix(path, "/") || start == nil {
		reopened, err := table.Open(ctx, root.Inode().Sector())
		if err != nil {
			return nil, err
		}
		cur, err = dirent.Open(reopened)
		if err != nil {
			reopened.Close(ctx)
			return nil, err
		}
	} else {
		if start.Inode().Removed() {
			return nil, ErrStartDirRemoved
		}
		reopened, err := table.Open(ctx, start.Inode().Sector())
		if err != nil {
			return nil, err
		}
		cur, err = dirent.Open(reopened)
		if err != nil {
			reopened.Close(ctx)
			return nil, err
		}
	}

	if len(components) == 0 {
		return &Result{Dir: cur, Name: "."}, nil
	}

	for _, c := range components[:len(components)-1] {
		sector, found, err := cur.Lookup(ctx, c)
		if err != nil {
			cur.Close(ctx)
			return nil, err
		}
		if !found {
			cur.Close(ctx)
			return nil, ErrNotFound
		}

		next, err := table.Open(ctx, sector)
		if err != nil {
			cur.Close(ctx)
			return nil, err
		}
		if !next.IsDir() {
			next.Close(ctx)
			cur.Close(ctx)
			return nil, ErrNotDirectory
		}
		nextDir, err := dirent.Open(next)
		if err != nil {
			next.Close(ctx)
			cur.Close(ctx)
			return nil, err
		}

		cur.Close(ctx)
		cur = nextDir
	}

	return &Result{Dir: cur, Name: components[len(components)-1]}, nil
}

func splitPath(path string) []string {
	var out []string
	for _, part := range strings.Split(path, "/") {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
