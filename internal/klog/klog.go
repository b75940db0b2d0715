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

// Package klog builds the structured logger shared by every kernel
// subsystem, modeled on the teacher's internal/logger package: a
// leveled slog.Logger that writes to stderr by default and to a rotating
// file (via lumberjack) when cfg.LoggingConfig names one.
package klog

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/pintosgo/kernel/cfg"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// New builds a *slog.Logger per the given configuration. Severity levels
// follow the teacher's set (TRACE maps to a level below slog's debug).
func New(c cfg.LoggingConfig) *slog.Logger {
	level := new(slog.LevelVar)
	level.Set(parseSeverity(c.Severity))

	var w io.Writer = os.Stderr
	if c.FilePath != "" {
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   c.FilePath,
			MaxSize:    maxOr(c.LogRotate.MaxFileSizeMB, 64),
			MaxBackups: c.LogRotate.BackupFileCount,
			Compress:   c.LogRotate.Compress,
		})
	}

	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(h)
}

func maxOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func parseSeverity(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "TRACE":
		return slog.LevelDebug - 4
	case "DEBUG":
		return slog.LevelDebug
	case "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	case "OFF":
		return slog.Level(1 << 20)
	default:
		return slog.LevelInfo
	}
}
