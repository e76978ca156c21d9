// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

package logging

import (
	"io"
	"os"
	"strings"

	"github.com/pterm/pterm"
)

// New builds the process logger. Level is one of trace, debug, info, warn,
// error; format "json" switches to one JSON object per line for servers.
func New(level, format string, w io.Writer) *pterm.Logger {
	if w == nil {
		w = os.Stderr
	}
	l := pterm.DefaultLogger.
		WithLevel(ParseLevel(level)).
		WithWriter(w).
		WithTime(true)
	if strings.EqualFold(format, "json") {
		l = l.WithFormatter(pterm.LogFormatterJSON)
	}
	return l
}

// Discard returns a logger that drops everything, for tests and library use.
func Discard() *pterm.Logger {
	return pterm.DefaultLogger.WithLevel(pterm.LogLevelDisabled).WithWriter(io.Discard)
}

// ParseLevel maps a config level name to a pterm level; unknown names are info.
func ParseLevel(level string) pterm.LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return pterm.LogLevelTrace
	case "debug":
		return pterm.LogLevelDebug
	case "warn", "warning":
		return pterm.LogLevelWarn
	case "error":
		return pterm.LogLevelError
	case "off", "disabled":
		return pterm.LogLevelDisabled
	default:
		return pterm.LogLevelInfo
	}
}
