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
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetViper clears viper's global state between tests, since NewRootCmd
// binds flags into the package-level viper instance the same way the
// teacher's cfg.BindFlags does for its own global viper.
func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
}

func TestNewRootCmd_DefaultsApplyWithoutFlags(t *testing.T) {
	resetViper(t)
	root := NewRootCmd()
	root.SetArgs([]string{"format"})

	err := root.PersistentPreRunE(root, nil)
	require.NoError(t, err)

	assert.Equal(t, "pintosgo.img", config.FileSystem.ImagePath)
	assert.Equal(t, 64, config.VirtualMemory.UserFrames)
}

func TestNewRootCmd_ConfigFileOverridesDefaults(t *testing.T) {
	resetViper(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "pintosgo.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("file-system:\n  image-path: custom.img\n"), 0o644))

	root := NewRootCmd()
	cfgFile = cfgPath
	defer func() { cfgFile = "" }()

	err := root.PersistentPreRunE(root, nil)
	require.NoError(t, err)

	assert.Equal(t, "custom.img", config.FileSystem.ImagePath)
}

func TestNewRootCmd_InvalidConfigFailsValidation(t *testing.T) {
	resetViper(t)
	root := NewRootCmd()
	require.NoError(t, root.PersistentFlags().Set("user-frames", "0"))

	err := root.PersistentPreRunE(root, nil)
	assert.Error(t, err)
}

func TestRunGuarded_DumpsPanicToCrashLogAndRepanics(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "crash.log")

	orig := config
	config.Debug.CrashLogPath = path
	defer func() { config = orig }()

	require.Panics(t, func() {
		_ = runGuarded(func() error { panic("boom") })
	})

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(contents), "panic: boom")
}

func TestRunGuarded_PassesThroughErrorWithoutPanicking(t *testing.T) {
	err := runGuarded(func() error { return assert.AnError })
	assert.Equal(t, assert.AnError, err)
}
