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

// Package blockdev is the sector-addressed block device abstraction both
// the filesystem and swap partitions are built on (spec.md §2 "Block
// device abstraction", §6 "On-disk format"/"Swap format"). Its interface
// is modeled on the teacher's gcs.Bucket: a small surface
// (ReadSector/WriteSector/SectorCount) with one real, file-backed
// implementation.
package blockdev

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sync/semaphore"
)

// SectorSize is fixed by spec.md §3: one inode chunk is exactly one sector.
const SectorSize = 512

// Device is a fixed-size array of 512-byte sectors. Implementations must be
// safe for concurrent use; the real implementation bounds concurrency with
// a weighted semaphore to simulate a single-queue-depth controller.
type Device interface {
	ReadSector(ctx context.Context, sector uint32, buf []byte) error
	WriteSector(ctx context.Context, sector uint32, buf []byte) error
	SectorCount() uint32
	Close() error
}

// FileDevice backs a Device with a real file on the host filesystem,
// pre-sized to sectorCount*SectorSize bytes.
type FileDevice struct {
	f           *os.File
	sectorCount uint32
	inflight    *semaphore.Weighted
}

// maxInFlight caps concurrent sector operations, mirroring how the teacher
// bounds concurrent requests against a single GCS bucket connection.
const maxInFlight = 8

// Open opens or creates path, truncating/extending it to hold sectorCount
// sectors.
func Open(path string, sectorCount uint32) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("blockdev: open %s: %w", path, err)
	}

	size := int64(sectorCount) * SectorSize
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("blockdev: truncate %s to %d bytes: %w", path, size, err)
	}

	return &FileDevice{
		f:           f,
		sectorCount: sectorCount,
		inflight:    semaphore.NewWeighted(maxInFlight),
	}, nil
}

func (d *FileDevice) SectorCount() uint32 { return d.sectorCount }

func (d *FileDevice) ReadSector(ctx context.Context, sector uint32, buf []byte) error {
	if len(buf) != SectorSize {
		return fmt.Errorf("blockdev: read buffer must be %d bytes, got %d", SectorSize, len(buf))
	}
	if sector >= d.sectorCount {
		return fmt.Errorf("blockdev: sector %d out of range [0,%d)", sector, d.sectorCount)
	}

	if err := d.inflight.Acquire(ctx, 1); err != nil {
		return err
	}
	defer d.inflight.Release(1)

	_, err := d.f.ReadAt(buf, int64(sector)*SectorSize)
	if err != nil {
		return fmt.Errorf("blockdev: read sector %d: %w", sector, err)
	}
	return nil
}

func (d *FileDevice) WriteSector(ctx context.Context, sector uint32, buf []byte) error {
	if len(buf) != SectorSize {
		return fmt.Errorf("blockdev: write buffer must be %d bytes, got %d", SectorSize, len(buf))
	}
	if sector >= d.sectorCount {
		return fmt.Errorf("blockdev: sector %d out of range [0,%d)", sector, d.sectorCount)
	}

	if err := d.inflight.Acquire(ctx, 1); err != nil {
		return err
	}
	defer d.inflight.Release(1)

	_, err := d.f.WriteAt(buf, int64(sector)*SectorSize)
	if err != nil {
		return fmt.Errorf("blockdev: write sector %d: %w", sector, err)
	}
	return nil
}

func (d *FileDevice) Close() error { return d.f.Close() }

var _ Device = (*FileDevice)(nil)
