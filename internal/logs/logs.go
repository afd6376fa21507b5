// Copyright 2025 The Custard Authors
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

// Package logs defines the logging level type shared between the
// configuration parser and [log/slog]. It adds a Trace level below
// [slog.LevelDebug] for very chatty diagnostic logging.
package logs

import (
	"fmt"
	"log/slog"
	"strings"
)

// Level wraps [slog.Level] so it can implement [encoding.TextUnmarshaler] for
// the composition file and command-line flag parsers, and so an extra Trace
// level can sit below [slog.LevelDebug].
type Level slog.Level

// Severity levels used throughout custard. LevelTrace is intentionally below
// the lowest level slog defines natively.
const (
	LevelTrace Level = Level(slog.LevelDebug) - 4
	LevelDebug Level = Level(slog.LevelDebug)
	LevelInfo  Level = Level(slog.LevelInfo)
	LevelWarn  Level = Level(slog.LevelWarn)
	LevelError Level = Level(slog.LevelError)
)

// Level returns the [slog.Level] equivalent of l.
func (l Level) Level() slog.Level {
	return slog.Level(l)
}

// String returns the canonical, lower-case name of l.
func (l Level) String() string {
	switch {
	case l == LevelTrace:
		return "trace"
	case l == LevelDebug:
		return "debug"
	case l == LevelInfo:
		return "info"
	case l == LevelWarn:
		return "warn"
	case l == LevelError:
		return "error"
	default:
		return slog.Level(l).String()
	}
}

// UnmarshalText implements [encoding.TextUnmarshaler] so Level can be decoded
// directly from the composition file or an environment variable.
func (l *Level) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "trace":
		*l = LevelTrace
	case "debug":
		*l = LevelDebug
	case "info", "":
		*l = LevelInfo
	case "warn", "warning":
		*l = LevelWarn
	case "error":
		*l = LevelError
	default:
		return fmt.Errorf("unknown log level: %q", string(text))
	}

	return nil
}
