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

package cmd

import (
	"context"
	"fmt"

	"github.com/pintosgo/kernel/cfg"
	"github.com/pintosgo/kernel/internal/blockdev"
	"github.com/pintosgo/kernel/internal/filesys"
	"github.com/spf13/cobra"
)

func newFormatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "format",
		Short: "Lay down the free-sector map and root directory on a fresh disk image",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFormat(cmd.Context())
		},
	}
}

func runFormat(ctx context.Context) error {
	sectors := uint32(config.FileSystem.Size / cfg.SectorSize)

	dev, err := blockdev.Open(config.FileSystem.ImagePath, sectors)
	if err != nil {
		return fmt.Errorf("cmd format: open disk image: %w", err)
	}
	defer dev.Close()

	fs, err := filesys.Format(ctx, dev)
	if err != nil {
		return fmt.Errorf("cmd format: %w", err)
	}
	defer fs.Close(ctx)

	fmt.Printf("formatted %s: %d sectors (%d bytes)\n", config.FileSystem.ImagePath, sectors, config.FileSystem.Size)
	return nil
}
