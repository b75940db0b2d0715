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

// Package cmd is the pintosgo command-line tree, modeled on the teacher's
// rootCmd/mountCmd cobra split (SPEC_FULL.md §1.2): one persistent
// --config-file flag plus per-subcommand flags, all bound into a single
// cfg.Config via viper.
package cmd

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/pintosgo/kernel/cfg"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	config  cfg.Config
)

// NewRootCmd builds the pintosgo command tree. Exposed as a constructor
// (rather than a single package-level var) so tests can build independent
// instances without cobra/viper's global state colliding across them,
// mirroring the teacher's NewRootCmd(f) test seam in cmd/root_test.go.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pintosgo",
		Short: "Simulate the Pintos project 3/4 virtual memory and filesystem core",
		Long: `pintosgo is an in-process simulation of the Pintos teaching kernel's
demand-paged virtual memory, clock eviction, swap, and on-disk filesystem
with sparse multi-chunk inodes and hierarchical directories.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config-file", "", "path to a YAML config file")
	if err := cfg.BindFlags(root.PersistentFlags()); err != nil {
		panic(fmt.Sprintf("cmd: bind flags: %v", err))
	}

	root.AddCommand(newFormatCmd())
	root.AddCommand(newRunCmd())
	root.AddCommand(newMountCmd())

	return root
}

func loadConfig(cmd *cobra.Command) error {
	config = cfg.Default()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		viper.SetConfigType("yaml")
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("cmd: reading config file %s: %w", cfgFile, err)
		}
	}

	if err := viper.Unmarshal(&config, viper.DecodeHook(cfg.DecodeHook()), cfg.TagName); err != nil {
		return fmt.Errorf("cmd: unmarshal config: %w", err)
	}

	if err := cfg.Validate(&config); err != nil {
		return err
	}
	return nil
}

// Execute runs the pintosgo CLI, writing any top-level error to stderr
// and exiting non-zero, per the teacher's cmd.Execute entry point. A panic
// anywhere during command execution is first appended to the configured
// crash log via CrashWriter, then re-raised so it still surfaces as a
// nonzero exit with a stack trace on stderr.
func Execute() {
	if err := runGuarded(func() error { return NewRootCmd().Execute() }); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runGuarded(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			dumpCrash(r)
			panic(r)
		}
	}()
	return fn()
}

// dumpCrash writes r and its stack trace through a CrashWriter pointed at
// config.Debug.CrashLogPath, falling back to the default path if Execute
// panicked before loadConfig ran.
func dumpCrash(r any) {
	path := config.Debug.CrashLogPath
	if path == "" {
		path = cfg.Default().Debug.CrashLogPath
	}
	cw := &CrashWriter{fileName: path}
	fmt.Fprintf(cw, "panic: %v\n\n%s\n", r, debug.Stack())
}
