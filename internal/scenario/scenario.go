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

// Package scenario runs a yaml-described sequence of steps against an
// internal/filesys.FS and, when a VM is supplied, against the virtual
// memory subsystem cmd/run.go boots (internal/frame, internal/fault,
// internal/swap, internal/vmpage, internal/mmap, internal/ksync),
// grounded on spec.md §8's end-to-end scenario list: lazy file growth and
// nested directories (filesystem-only ops), stack growth, eviction
// correctness, priority donation, and mmap round-trip (VM ops, below).
// Each step is a thin wrapper around a handful of lower-layer calls; the
// runner's job is sequencing and assertion, not reimplementing any
// subsystem's semantics.
package scenario

import (
	"context"
	"fmt"
	"time"

	"github.com/pintosgo/kernel/internal/dirent"
	"github.com/pintosgo/kernel/internal/fault"
	"github.com/pintosgo/kernel/internal/filesys"
	"github.com/pintosgo/kernel/internal/frame"
	"github.com/pintosgo/kernel/internal/ksync"
	"github.com/pintosgo/kernel/internal/mmap"
	"github.com/pintosgo/kernel/internal/pagetable"
	"github.com/pintosgo/kernel/internal/swap"
	"github.com/pintosgo/kernel/internal/vmpage"
	"gopkg.in/yaml.v3"
)

// Step is one yaml-decoded scenario action. Exactly one group of fields
// relevant to Op is populated; unused fields are left at their zero
// value, mirroring the teacher's flat-struct-with-omitempty yaml
// decoding style used for its config file.
type Step struct {
	Op      string `yaml:"op"`
	Path    string `yaml:"path"`
	Dir     string `yaml:"dir"` // decoded but read by no op; only the chdir op changes directory
	Size    uint32 `yaml:"size"`
	Offset  uint32 `yaml:"offset"`
	Data    string `yaml:"data"`
	Length  int    `yaml:"length"`
	Want    string `yaml:"want"`
	WantErr string `yaml:"want_err"`

	// Addr is a page-aligned user virtual address, for stack_access (the
	// faulting address) and mmap_roundtrip (the mapping's base address).
	Addr uint32 `yaml:"addr"`

	// Pages is a page count, for evict_roundtrip (how many pages to fill
	// the user pool with).
	Pages int `yaml:"pages"`

	// Low and High are the donor/holder base priorities for
	// priority_donation; zero means spec.md §8's default pair (1, 63).
	Low  int `yaml:"low"`
	High int `yaml:"high"`
}

// Scenario is the top-level yaml document: a named sequence of steps.
type Scenario struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// Parse decodes a scenario document, per SPEC_FULL.md §1.2's use of
// gopkg.in/yaml.v3 (already in the teacher's dependency set for its own
// mount-config parsing).
func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("scenario: parse: %w", err)
	}
	return &sc, nil
}

// Result records one step's outcome for the runner's caller to report.
type Result struct {
	Step Step
	Err  error
}

// VM bundles the virtual-memory subsystem a scenario's VM ops exercise:
// the shared frame table and fault handler cmd/run.go boots at process
// start, plus one simulated process's hardware page table and
// supplemental page table, registered with the fault handler exactly the
// way internal/process would register a live process's tables. A nil
// *VM is valid for a scenario that only uses the filesystem ops; passing
// one to a VM op then fails with a clear error instead of a nil pointer
// panic.
type VM struct {
	FT    *frame.Table
	Fault *fault.Handler
	Swap  *swap.Manager

	PT   *pagetable.Table
	SPT  *vmpage.Table
	Mmap *mmap.Table
}

// NewVM builds one simulated process's page tables over the given frame
// table and fault handler and registers them, per fault.Handler.Register's
// contract that every process's tables must be registered before any of
// its pages can be evicted.
func NewVM(ft *frame.Table, fh *fault.Handler, sw *swap.Manager) *VM {
	pt := pagetable.New()
	spt := vmpage.New()
	fh.Register(pt, spt)
	return &VM{FT: ft, Fault: fh, Swap: sw, PT: pt, SPT: spt, Mmap: mmap.New()}
}

// Run executes every step of sc against fs in order, starting from
// fs.Root(). It stops at the first step whose error does not match that
// step's WantErr expectation (empty WantErr means the step must
// succeed), returning the partial results plus that error. vm may be nil
// if sc contains no VM ops.
func Run(ctx context.Context, fs *filesys.FS, sc *Scenario, vm *VM) ([]Result, error) {
	cwd := fs.Root()

	var results []Result
	for _, step := range sc.Steps {
		err := runStep(ctx, fs, &cwd, vm, step)
		results = append(results, Result{Step: step, Err: err})

		if step.WantErr != "" {
			if err == nil || err.Error() != step.WantErr {
				return results, fmt.Errorf("scenario: step %+v: expected error %q, got %v", step, step.WantErr, err)
			}
			continue
		}
		if err != nil {
			return results, fmt.Errorf("scenario: step %+v: %w", step, err)
		}
	}
	return results, nil
}

func runStep(ctx context.Context, fs *filesys.FS, cwd **dirent.Directory, vm *VM, step Step) error {
	switch step.Op {
	case "create":
		return fs.Create(ctx, *cwd, step.Path, step.Size)
	case "mkdir":
		return fs.Mkdir(ctx, *cwd, step.Path)
	case "remove":
		return fs.Remove(ctx, *cwd, step.Path)
	case "chdir":
		next, err := fs.Chdir(ctx, *cwd, step.Path)
		if err != nil {
			return err
		}
		*cwd = next
		return nil
	case "write":
		in, err := fs.Open(ctx, *cwd, step.Path)
		if err != nil {
			return err
		}
		defer in.Close(ctx)
		_, err = in.WriteAt(ctx, []byte(step.Data), step.Offset)
		return err
	case "read":
		in, err := fs.Open(ctx, *cwd, step.Path)
		if err != nil {
			return err
		}
		defer in.Close(ctx)
		buf := make([]byte, step.Length)
		n, err := in.ReadAt(ctx, buf, step.Offset)
		if err != nil {
			return err
		}
		if got := string(buf[:n]); got != step.Want {
			return fmt.Errorf("scenario: read %s@%d: got %q, want %q", step.Path, step.Offset, got, step.Want)
		}
		return nil
	case "expect_length":
		in, err := fs.Open(ctx, *cwd, step.Path)
		if err != nil {
			return err
		}
		defer in.Close(ctx)
		if in.Length() != step.Size {
			return fmt.Errorf("scenario: length of %s: got %d, want %d", step.Path, in.Length(), step.Size)
		}
		return nil
	case "stack_init":
		return runStackInit(ctx, vm)
	case "stack_access":
		return runStackAccess(ctx, vm, step)
	case "evict_roundtrip":
		return runEvictRoundTrip(ctx, vm, step)
	case "mmap_roundtrip":
		return runMmapRoundTrip(ctx, fs, vm, *cwd, step)
	case "priority_donation":
		return runPriorityDonation(step)
	default:
		return fmt.Errorf("scenario: unknown op %q", step.Op)
	}
}

// touchPage simulates the MMU setting a page's hardware accessed bit
// (and dirty bit for a write), the way a real CPU does on every memory
// access. Nothing in this package's non-test code calls SetAccessed or
// SetDirty except internal/frame's clock algorithm (clearing accessed)
// and internal/mmap's eviction write-back (reading dirty); a scenario
// step simulating a user-space touch of a page has to play that role
// itself, exactly as real hardware would.
func touchPage(pt *pagetable.Table, uaddr uint32, write bool) {
	pt.SetAccessed(uaddr, true)
	if write {
		pt.SetDirty(uaddr, true)
	}
}

// runStackInit maps a process's initial stack page, per spec.md §4.6: the
// page immediately below fault.PhysBase is eagerly mapped at process
// start, not lazily registered, so later faults below it can find a
// mapped stack_top to grow from.
func runStackInit(ctx context.Context, vm *VM) error {
	if vm == nil {
		return fmt.Errorf("scenario: stack_init requires a VM")
	}
	initStackPage := uint32(fault.PhysBase - pagetable.PageSize)

	vm.FT.Mu.Lock()
	kaddrs, err := vm.FT.FullGet(ctx, 1)
	if err != nil {
		vm.FT.Mu.Unlock()
		return fmt.Errorf("scenario: stack_init: %w", err)
	}
	kaddr := kaddrs[0]
	page := vm.FT.Page(kaddr)
	for i := range page {
		page[i] = 0
	}
	vm.FT.Create(kaddr, false)
	if err := vm.FT.SetOwner(kaddr, vm.PT, initStackPage); err != nil {
		vm.FT.Mu.Unlock()
		return fmt.Errorf("scenario: stack_init: %w", err)
	}
	vm.FT.Mu.Unlock()

	vm.PT.SetPage(initStackPage, kaddr, true)
	return nil
}

// runStackAccess drives step.Addr through the fault handler as a
// not-present access with the user stack pointer pinned at the fault
// address itself (so the 32-byte PUSHA margin always holds), exercising
// spec.md §4.6's stack-growth path end to end.
func runStackAccess(ctx context.Context, vm *VM, step Step) error {
	if vm == nil {
		return fmt.Errorf("scenario: stack_access requires a VM")
	}
	faultPage := step.Addr - step.Addr%pagetable.PageSize
	_, present := vm.PT.GetPage(faultPage)
	if err := vm.Fault.HandleFault(ctx, vm.PT, vm.SPT, step.Addr, !present, step.Addr); err != nil {
		return fmt.Errorf("scenario: stack_access: %w", err)
	}
	touchPage(vm.PT, faultPage, false)
	return nil
}

// runEvictRoundTrip registers step.Pages zero-fill pages starting at
// step.Addr and faults each one in, deliberately exceeding the frame
// table's pool size so that later pages force clock eviction of earlier
// ones. It then re-faults the first page and checks its contents
// survived the round trip through swap untouched, per spec.md §8's
// eviction-correctness scenario. Registered as vmpage.Zero rather than
// vmpage.Swap: a freshly registered entry has no swap slot allocated yet,
// and internal/fault's own stack-growth gap pages make the same choice
// for the same reason — eviction legitimately promotes a dirty Zero entry
// to Swap once it is actually written out.
func runEvictRoundTrip(ctx context.Context, vm *VM, step Step) error {
	if vm == nil {
		return fmt.Errorf("scenario: evict_roundtrip requires a VM")
	}
	n := step.Pages
	if n == 0 {
		n = 1
	}

	vm.SPT.Mu.Lock()
	avls := make([]uint8, n)
	for i := 0; i < n; i++ {
		page := step.Addr + uint32(i)*pagetable.PageSize
		avls[i] = vm.SPT.Register(vmpage.Entry{UserPage: page, Kind: vmpage.Zero, Writable: true})
	}
	vm.SPT.Mu.Unlock()

	for i := 0; i < n; i++ {
		page := step.Addr + uint32(i)*pagetable.PageSize
		vm.PT.SetAVL(page, avls[i])
		vm.PT.SetLazy(page, true)
		if err := vm.Fault.HandleFault(ctx, vm.PT, vm.SPT, page, true, 0); err != nil {
			return fmt.Errorf("scenario: evict_roundtrip: fault in page %d: %w", i, err)
		}
		touchPage(vm.PT, page, true)
	}

	first := step.Addr
	if _, present := vm.PT.GetPage(first); !present {
		if err := vm.Fault.HandleFault(ctx, vm.PT, vm.SPT, first, true, 0); err != nil {
			return fmt.Errorf("scenario: evict_roundtrip: re-fault page 0: %w", err)
		}
	}
	kaddr, ok := vm.PT.GetPage(first)
	if !ok {
		return fmt.Errorf("scenario: evict_roundtrip: page 0 not mapped after re-fault")
	}
	for _, b := range vm.FT.Page(kaddr) {
		if b != 0 {
			return fmt.Errorf("scenario: evict_roundtrip: page 0 contents corrupted by eviction round trip")
		}
	}
	return nil
}

// runMmapRoundTrip maps step.Path into the user address space at
// step.Addr, faults every page in, dirties each with a simulated write,
// and unmaps, exercising spec.md §2.11's flush-on-unmap write-back.
func runMmapRoundTrip(ctx context.Context, fs *filesys.FS, vm *VM, cwd *dirent.Directory, step Step) error {
	if vm == nil {
		return fmt.Errorf("scenario: mmap_roundtrip requires a VM")
	}
	in, err := fs.Open(ctx, cwd, step.Path)
	if err != nil {
		return err
	}
	defer in.Close(ctx)

	vm.SPT.Mu.Lock()
	mapping, err := vm.Mmap.Mmap(vm.PT, vm.SPT, in, in.Length(), step.Addr)
	vm.SPT.Mu.Unlock()
	if err != nil {
		return fmt.Errorf("scenario: mmap_roundtrip: mmap: %w", err)
	}

	for _, page := range mapping.Pages {
		if err := vm.Fault.HandleFault(ctx, vm.PT, vm.SPT, page, true, 0); err != nil {
			return fmt.Errorf("scenario: mmap_roundtrip: fault in page %#x: %w", page, err)
		}
		touchPage(vm.PT, page, true)
	}

	if err := vm.Mmap.Munmap(ctx, mapping.ID, vm.PT, vm.FT); err != nil {
		return fmt.Errorf("scenario: mmap_roundtrip: munmap: %w", err)
	}
	return nil
}

// runPriorityDonation demonstrates spec.md §8's single-donation scenario
// using only internal/ksync primitives: a low-priority thread holding a
// lock has its effective priority raised to a high-priority thread's
// level for as long as the high thread is blocked on it, and reverts to
// its base priority once it releases the lock. Polling with waitUntil
// mirrors internal/ksync's own lock_test.go, since there is no channel
// to block on for "a goroutine's donation has landed".
func runPriorityDonation(step Step) error {
	low := step.Low
	if low == 0 {
		low = 1
	}
	high := step.High
	if high == 0 {
		high = 63
	}

	ctx := context.Background()
	l := ksync.NewLock()
	lowThread := ksync.NewThread("scenario-low", low)
	highThread := ksync.NewThread("scenario-high", high)

	if err := l.Acquire(ctx, lowThread); err != nil {
		return fmt.Errorf("scenario: priority_donation: low acquire: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := l.Acquire(ctx, highThread); err != nil {
			errCh <- err
			return
		}
		l.Release(highThread, nil)
		errCh <- nil
	}()

	if !waitUntil(func() bool { return lowThread.EffectivePriority() == high }) {
		return fmt.Errorf("scenario: priority_donation: low thread never received donation to %d", high)
	}

	l.Release(lowThread, nil)
	if err := <-errCh; err != nil {
		return fmt.Errorf("scenario: priority_donation: high acquire: %w", err)
	}

	if !waitUntil(func() bool { return lowThread.EffectivePriority() == low }) {
		return fmt.Errorf("scenario: priority_donation: low thread never reverted to base priority %d", low)
	}
	return nil
}

func waitUntil(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}
