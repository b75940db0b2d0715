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
	"net/http"
	"os"

	"github.com/pintosgo/kernel/cfg"
	"github.com/pintosgo/kernel/internal/blockdev"
	"github.com/pintosgo/kernel/internal/fault"
	"github.com/pintosgo/kernel/internal/filesys"
	"github.com/pintosgo/kernel/internal/frame"
	"github.com/pintosgo/kernel/internal/klog"
	"github.com/pintosgo/kernel/internal/metrics"
	"github.com/pintosgo/kernel/internal/scenario"
	"github.com/pintosgo/kernel/internal/swap"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newRunCmd() *cobra.Command {
	var debugAddr string

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Boot the kernel simulation and run a scenario file against it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(cmd.Context(), args[0], debugAddr)
		},
	}
	cmd.Flags().StringVar(&debugAddr, "debug-addr", "", "if set, serve /metrics on this address while the scenario runs")
	return cmd
}

// bootResult bundles the two independently loadable pieces of kernel boot
// state. internal/blockdev.Open for the filesystem and swap images don't
// depend on each other, so they're fanned out with errgroup the way the
// teacher's boot helpers fan out independent GCS calls via syncutil.Bundle.
type bootResult struct {
	fsDev   *blockdev.FileDevice
	swapDev *blockdev.FileDevice
}

func bootDevices(ctx context.Context) (*bootResult, error) {
	var g errgroup.Group
	var fsDev, swapDev *blockdev.FileDevice

	g.Go(func() error {
		sectors := uint32(config.FileSystem.Size / cfg.SectorSize)
		dev, err := blockdev.Open(config.FileSystem.ImagePath, sectors)
		if err != nil {
			return fmt.Errorf("run: open filesystem image: %w", err)
		}
		fsDev = dev
		return nil
	})
	g.Go(func() error {
		sectors := uint32(config.Swap.Size / cfg.SectorSize)
		dev, err := blockdev.Open(config.Swap.ImagePath, sectors)
		if err != nil {
			return fmt.Errorf("run: open swap image: %w", err)
		}
		swapDev = dev
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &bootResult{fsDev: fsDev, swapDev: swapDev}, nil
}

func runScenario(ctx context.Context, path, debugAddr string) error {
	logger := klog.New(config.Logging)
	promReg := prometheus.NewRegistry()
	reg := metrics.NewRegistry(promReg)

	if debugAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
		go http.ListenAndServe(debugAddr, mux)
	}

	boot, err := bootDevices(ctx)
	if err != nil {
		return err
	}
	defer boot.fsDev.Close()
	defer boot.swapDev.Close()

	// Boot the virtual memory half of the simulation over the swap image
	// bootDevices just opened: a shared frame table sized by
	// config.VirtualMemory.UserFrames, a swap manager over boot.swapDev,
	// and the fault handler tying frame eviction to swap write-back. The
	// frame table is built before its evictor exists (the fault handler
	// needs the frame table itself), so SetEvictor closes that cycle,
	// per spec.md §1.2's "frame-table sizing" boot step.
	swapMgr := swap.NewManager(boot.swapDev, reg)
	frameTable := frame.NewTable(uint32(config.VirtualMemory.UserFrames), nil, reg)
	faultHandler := fault.NewHandler(frameTable, swapMgr, reg)
	frameTable.Mu.Lock()
	frameTable.SetEvictor(faultHandler)
	frameTable.Mu.Unlock()
	vm := scenario.NewVM(frameTable, faultHandler, swapMgr)

	fs, err := filesys.Open(ctx, boot.fsDev)
	if err != nil {
		logger.Info("no existing filesystem found, formatting", "image", config.FileSystem.ImagePath)
		fs, err = filesys.Format(ctx, boot.fsDev)
		if err != nil {
			return fmt.Errorf("run: format filesystem: %w", err)
		}
	}
	defer fs.Close(ctx)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("run: read scenario file: %w", err)
	}
	sc, err := scenario.Parse(data)
	if err != nil {
		return err
	}

	logger.Info("running scenario", "name", sc.Name, "steps", len(sc.Steps))
	results, err := scenario.Run(ctx, fs, sc, vm)
	reg.SectorsAllocated.Set(float64(len(results)))
	if err != nil {
		for _, r := range results {
			logger.Debug("step", "op", r.Step.Op, "path", r.Step.Path, "err", r.Err)
		}
		return err
	}

	fmt.Printf("scenario %q: %d steps passed\n", sc.Name, len(results))
	return nil
}
