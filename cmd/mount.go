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
	"os/signal"
	"syscall"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/pintosgo/kernel/cfg"
	"github.com/pintosgo/kernel/internal/blockdev"
	"github.com/pintosgo/kernel/internal/filesys"
	"github.com/pintosgo/kernel/internal/fuseadapter"
	"github.com/spf13/cobra"
)

func newMountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mount <dir>",
		Short: "Export the simulated filesystem over a real FUSE mount for interactive exploration",
		Long: `mount is purely additive (SPEC_FULL.md §2.6): it is not required by any
spec.md invariant, but lets a developer explore an already-formatted disk
image with ordinary shell tools.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMount(cmd.Context(), args[0])
		},
	}
}

func runMount(ctx context.Context, dir string) error {
	sectors := uint32(config.FileSystem.Size / cfg.SectorSize)
	dev, err := blockdev.Open(config.FileSystem.ImagePath, sectors)
	if err != nil {
		return fmt.Errorf("mount: open disk image: %w", err)
	}
	defer dev.Close()

	fs, err := filesys.Open(ctx, dev)
	if err != nil {
		return fmt.Errorf("mount: open filesystem (did you run `pintosgo format` first?): %w", err)
	}

	adapter := fuseadapter.New(fs)
	server := fuseutil.NewFileSystemServer(adapter)

	mfs, err := fuse.Mount(dir, server, &fuse.MountConfig{})
	if err != nil {
		return fmt.Errorf("mount: %w", err)
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-sigCtx.Done()
		fuse.Unmount(dir)
	}()

	fmt.Printf("mounted %s on %s; ctrl-c to unmount\n", config.FileSystem.ImagePath, dir)
	return mfs.Join(ctx)
}
