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

func TestRunFormat_CreatesImageOfConfiguredSize(t *testing.T) {
	dir := t.TempDir()
	imgPath := filepath.Join(dir, "fs.img")

	config = cfg.Default()
	config.FileSystem.ImagePath = imgPath
	config.FileSystem.Size = 64 * cfg.KiB

	err := runFormat(context.Background())
	require.NoError(t, err)

	info, err := os.Stat(imgPath)
	require.NoError(t, err)
	require.Equal(t, int64(64*1024), info.Size())
}
