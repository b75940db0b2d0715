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

package cfg

import "fmt"

// Validate enforces the cross-field invariants the teacher's cfg/validate.go
// enforces for mount options: sizes must be whole numbers of sectors/pages,
// and at least one user frame must exist or nothing can ever be paged in.
func Validate(c *Config) error {
	if c.FileSystem.Size%ByteSize(SectorSize) != 0 {
		return fmt.Errorf("cfg: file-system.size %d is not a multiple of sector size %d", c.FileSystem.Size, SectorSize)
	}

	const pageSize = 4096
	if c.Swap.Size%ByteSize(pageSize) != 0 {
		return fmt.Errorf("cfg: swap.size %d is not a multiple of page size %d", c.Swap.Size, pageSize)
	}

	if c.VirtualMemory.UserFrames <= 0 {
		return fmt.Errorf("cfg: virtual-memory.user-frames must be positive, got %d", c.VirtualMemory.UserFrames)
	}

	if c.VirtualMemory.KernelFrames < 0 {
		return fmt.Errorf("cfg: virtual-memory.kernel-frames must not be negative, got %d", c.VirtualMemory.KernelFrames)
	}

	if c.VirtualMemory.MaxStackGrowthPages <= 0 {
		return fmt.Errorf("cfg: virtual-memory.max-stack-growth-pages must be positive, got %d", c.VirtualMemory.MaxStackGrowthPages)
	}

	switch c.Logging.Severity {
	case "TRACE", "DEBUG", "INFO", "WARNING", "ERROR", "OFF":
	default:
		return fmt.Errorf("cfg: unknown logging.severity %q", c.Logging.Severity)
	}

	return nil
}
