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

import (
	"strconv"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the top-level configuration for a pintosgo kernel simulation
// run, bound from flags and an optional YAML file by cfg.BindFlags.
type Config struct {
	FileSystem FileSystemConfig `yaml:"file-system"`

	VirtualMemory VirtualMemoryConfig `yaml:"virtual-memory"`

	Swap SwapConfig `yaml:"swap"`

	Logging LoggingConfig `yaml:"logging"`

	Debug DebugConfig `yaml:"debug"`
}

// FileSystemConfig controls the on-disk filesystem (internal/filesys,
// internal/inode, internal/freemap).
type FileSystemConfig struct {
	// Path to the disk image backing the filesystem partition.
	ImagePath string `yaml:"image-path"`

	// Total size of the filesystem partition. Accepts human sizes such as
	// "8MiB"; decoded by byteSizeHookFunc into a byte count.
	Size ByteSize `yaml:"size"`

	// Bound to a flag and a config key, but not read by any other package:
	// filesys.Create always creates files with lazy descriptors.
	PreallocateExecutables bool `yaml:"preallocate-executables"`
}

// VirtualMemoryConfig sizes the frame table and supplemental page table
// (internal/frame, internal/vmpage, internal/fault).
type VirtualMemoryConfig struct {
	// Number of physical page frames in the user pool.
	UserFrames int `yaml:"user-frames"`

	// Number of physical page frames permanently pinned in the kernel pool.
	KernelFrames int `yaml:"kernel-frames"`

	// Stack growth bound in pages. Validated as positive but not read by
	// internal/fault, which applies its own fixed bound of four pages.
	MaxStackGrowthPages int `yaml:"max-stack-growth-pages"`
}

// SwapConfig sizes the swap partition (internal/swap).
type SwapConfig struct {
	ImagePath string   `yaml:"image-path"`
	Size      ByteSize `yaml:"size"`
}

// LoggingConfig controls internal/klog.
type LoggingConfig struct {
	Severity string `yaml:"severity"`

	// Empty means log to stderr only.
	FilePath string `yaml:"file-path"`

	LogRotate LogRotateConfig `yaml:"log-rotate"`
}

// LogRotateConfig mirrors the teacher's lumberjack-backed log rotation
// settings.
type LogRotateConfig struct {
	MaxFileSizeMB   int  `yaml:"max-file-size-mb"`
	BackupFileCount int  `yaml:"backup-file-count"`
	Compress        bool `yaml:"compress"`
}

// DebugConfig mirrors the teacher's DebugConfig. ExitOnInvariantViolation
// and LogDonations are bound to flags and config keys but not read by any
// other package; only CrashLogPath takes effect.
type DebugConfig struct {
	ExitOnInvariantViolation bool `yaml:"exit-on-invariant-violation"`
	LogDonations             bool `yaml:"log-donations"`

	// Path a panic during command execution is appended to before being
	// re-raised, per cmd.Execute's crash-dump sink.
	CrashLogPath string `yaml:"crash-log-path"`
}

// BindFlags registers one flat, human-friendly flag per Config field on
// fs and binds each to its dotted viper key, mirroring the exact pattern
// of the teacher's generated cfg.BindFlags: flagSet.<Type>P(name, ...)
// followed by viper.BindPFlag(dottedKey, flagSet.Lookup(name)). Defaults
// come from Default() so an unset flag and an absent config file agree.
func BindFlags(fs *pflag.FlagSet) error {
	d := Default()

	fs.StringP("image-path", "", d.FileSystem.ImagePath, "Path to the filesystem disk image.")
	if err := viper.BindPFlag("file-system.image-path", fs.Lookup("image-path")); err != nil {
		return err
	}

	fs.StringP("fs-size", "", d.FileSystem.Size.String(), "Filesystem partition size, e.g. 8MiB.")
	if err := viper.BindPFlag("file-system.size", fs.Lookup("fs-size")); err != nil {
		return err
	}

	fs.BoolP("preallocate-executables", "", d.FileSystem.PreallocateExecutables, "Recorded in the config only; no other package reads it.")
	if err := viper.BindPFlag("file-system.preallocate-executables", fs.Lookup("preallocate-executables")); err != nil {
		return err
	}

	fs.IntP("user-frames", "", d.VirtualMemory.UserFrames, "Number of physical page frames in the user pool.")
	if err := viper.BindPFlag("virtual-memory.user-frames", fs.Lookup("user-frames")); err != nil {
		return err
	}

	fs.IntP("kernel-frames", "", d.VirtualMemory.KernelFrames, "Number of physical page frames permanently pinned in the kernel pool.")
	if err := viper.BindPFlag("virtual-memory.kernel-frames", fs.Lookup("kernel-frames")); err != nil {
		return err
	}

	fs.IntP("max-stack-growth-pages", "", d.VirtualMemory.MaxStackGrowthPages, "Stack growth bound in pages; validated but not read by the fault handler, which uses a fixed 4-page bound.")
	if err := viper.BindPFlag("virtual-memory.max-stack-growth-pages", fs.Lookup("max-stack-growth-pages")); err != nil {
		return err
	}

	fs.StringP("swap-image-path", "", d.Swap.ImagePath, "Path to the swap disk image.")
	if err := viper.BindPFlag("swap.image-path", fs.Lookup("swap-image-path")); err != nil {
		return err
	}

	fs.StringP("swap-size", "", d.Swap.Size.String(), "Swap partition size, e.g. 4MiB.")
	if err := viper.BindPFlag("swap.size", fs.Lookup("swap-size")); err != nil {
		return err
	}

	fs.StringP("log-severity", "", d.Logging.Severity, "Log severity: TRACE, DEBUG, INFO, WARNING, ERROR, OFF.")
	if err := viper.BindPFlag("logging.severity", fs.Lookup("log-severity")); err != nil {
		return err
	}

	fs.StringP("log-file", "", d.Logging.FilePath, "Path to a rotating log file; empty logs to stderr only.")
	if err := viper.BindPFlag("logging.file-path", fs.Lookup("log-file")); err != nil {
		return err
	}

	fs.IntP("log-max-size-mb", "", d.Logging.LogRotate.MaxFileSizeMB, "Max size in MB before the log file is rotated.")
	if err := viper.BindPFlag("logging.log-rotate.max-file-size-mb", fs.Lookup("log-max-size-mb")); err != nil {
		return err
	}

	fs.IntP("log-backup-count", "", d.Logging.LogRotate.BackupFileCount, "Number of rotated log files to retain.")
	if err := viper.BindPFlag("logging.log-rotate.backup-file-count", fs.Lookup("log-backup-count")); err != nil {
		return err
	}

	fs.BoolP("log-compress", "", d.Logging.LogRotate.Compress, "Gzip rotated log files.")
	if err := viper.BindPFlag("logging.log-rotate.compress", fs.Lookup("log-compress")); err != nil {
		return err
	}

	fs.BoolP("debug-invariants", "", d.Debug.ExitOnInvariantViolation, "Recorded in the config only; no other package reads it.")
	if err := viper.BindPFlag("debug.exit-on-invariant-violation", fs.Lookup("debug-invariants")); err != nil {
		return err
	}

	fs.BoolP("debug-log-donations", "", d.Debug.LogDonations, "Recorded in the config only; no other package reads it.")
	if err := viper.BindPFlag("debug.log-donations", fs.Lookup("debug-log-donations")); err != nil {
		return err
	}

	fs.StringP("crash-log-path", "", d.Debug.CrashLogPath, "Path a panic during command execution is appended to before being re-raised.")
	if err := viper.BindPFlag("debug.crash-log-path", fs.Lookup("crash-log-path")); err != nil {
		return err
	}

	return nil
}

func (b ByteSize) String() string {
	switch {
	case b != 0 && b%ByteSize(GiB) == 0:
		return strconv.FormatInt(int64(b/GiB), 10) + "GiB"
	case b != 0 && b%ByteSize(MiB) == 0:
		return strconv.FormatInt(int64(b/MiB), 10) + "MiB"
	case b != 0 && b%ByteSize(KiB) == 0:
		return strconv.FormatInt(int64(b/KiB), 10) + "KiB"
	default:
		return strconv.FormatInt(int64(b), 10)
	}
}
