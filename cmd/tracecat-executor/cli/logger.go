// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// NewLogger returns the executor's logger on stderr: text when stderr
// is a terminal, JSON otherwise so supervisors and log shippers can
// parse it. Debug level is enabled when TRACECAT_DEBUG is set.
func NewLogger() *slog.Logger {
	return newLogger(os.Stderr, term.IsTerminal(int(os.Stderr.Fd())), os.Getenv("TRACECAT_DEBUG") != "")
}

func newLogger(w io.Writer, terminal, debug bool) *slog.Logger {
	options := &slog.HandlerOptions{Level: slog.LevelInfo}
	if debug {
		options.Level = slog.LevelDebug
	}
	if terminal {
		return slog.New(slog.NewTextHandler(w, options))
	}
	return slog.New(slog.NewJSONHandler(w, options))
}
