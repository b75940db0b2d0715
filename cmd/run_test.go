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
	"os"
	"path/filepath"
	"testing"

	"github.com/pintosgo/kernel/cfg"
	"github.com/stretchr/testify/require"
)

const sampleScenario = `
name: lazy-growth
steps:
  - {op: create, path: /a, size: 0}
  - {op: write, path: /a, offset: 100000, data: "X"}
  - {op: expect_length, path: /a, size: 100001}
  - {op: read, path: /a, offset: 0, length: 4, want: "\x00\x00\x00\x00"}
`

func TestRunScenario_LazyGrowth(t *testing.T) {
	dir := t.TempDir()

	config = cfg.Default()
	config.FileSystem.ImagePath = filepath.Join(dir, "fs.img")
	config.Swap.ImagePath = filepath.Join(dir, "swap.img")
	config.FileSystem.Size = 2 * cfg.MiB
	config.Swap.Size = 512 * cfg.KiB

	scPath := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(scPath, []byte(sampleScenario), 0o644))

	err := runScenario(context.Background(), scPath, "")
	require.NoError(t, err)
}

func TestRunScenario_MissingFileErrors(t *testing.T) {
	dir := t.TempDir()

	config = cfg.Default()
	config.FileSystem.ImagePath = filepath.Join(dir, "fs.img")
	config.Swap.ImagePath = filepath.Join(dir, "swap.img")
	config.FileSystem.Size = 2 * cfg.MiB
	config.Swap.Size = 512 * cfg.KiB

	err := runScenario(context.Background(), filepath.Join(dir, "missing.yaml"), "")
	require.Error(t, err)
}
