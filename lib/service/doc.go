// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

// Package service holds the HTTP surface of long-running executor
// processes: a metrics server exposing /metrics in the Prometheus text
// format and /healthz backed by a caller-supplied health check.
package service
