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

// Default sector size for both the filesystem and swap block devices;
// fixed by spec.md §3/§6, not configurable.
const SectorSize = 512

// Default returns the configuration used when no flags or config file
// override it, mirroring the teacher's GetDefaultLoggingConfig and friends.
func Default() Config {
	return Config{
		FileSystem: FileSystemConfig{
			ImagePath:              "pintosgo.img",
			Size:                   8 * MiB,
			PreallocateExecutables: true,
		},
		VirtualMemory: VirtualMemoryConfig{
			UserFrames:          64,
			KernelFrames:        8,
			MaxStackGrowthPages: 4,
		},
		Swap: SwapConfig{
			ImagePath: "pintosgo.swap",
			Size:      4 * MiB,
		},
		Logging: LoggingConfig{
			Severity: "INFO",
			LogRotate: LogRotateConfig{
				MaxFileSizeMB:   64,
				BackupFileCount: 5,
				Compress:        true,
			},
		},
		Debug: DebugConfig{
			ExitOnInvariantViolation: true,
			CrashLogPath:             "pintosgo-crash.log",
		},
	}
}
