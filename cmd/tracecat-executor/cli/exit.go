// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import "fmt"

// ExitError makes main exit with Code without printing anything more.
// Commands return it when they have already reported the outcome, such
// as a probe with failed checks or an action that ran and failed.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

func (e *ExitError) ExitCode() int {
	return e.Code
}
