// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package worker

// State is the server lifecycle state.
type State int32

const (
	// StateStarting: the socket is not yet bound.
	StateStarting State = iota
	// StateListening: accepting connections, nothing in flight.
	StateListening
	// StateHandling: at least one request in flight.
	StateHandling
	// StateTerminated: shut down after in-flight requests drained.
	StateTerminated
	// StateKilled: shut down with requests abandoned after the grace
	// period.
	StateKilled
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "STARTING"
	case StateListening:
		return "LISTENING"
	case StateHandling:
		return "HANDLING"
	case StateTerminated:
		return "TERMINATED"
	case StateKilled:
		return "KILLED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateTerminated || s == StateKilled
}
