// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"os"
)

// Fatal exits the process for the error returned by a binary's run().
// An error carrying an ExitCode method exits with that code silently,
// since the command has already reported the outcome. Anything else is
// printed as "error: err" and exits 1.
func Fatal(err error) {
	os.Exit(report(err))
}

func report(err error) int {
	var coder interface{ ExitCode() int }
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	return 1
}
