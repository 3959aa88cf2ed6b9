// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

// Package action executes one resolved action and normalizes the
// outcome into a [schema.ExecutorResult]. Every backend ends up here:
// in-process for the test backend, inside a worker process for the
// others.
//
// Actions come from two places. Builtin actions are Go functions
// ([Func]) registered in a [Registry] under "module.name" and served
// for the builtin origin. Actions from any other origin are
// executables shipped in an extracted registry bundle at
// <bundle>/actions/<module>; they are invoked as "<exe> <function>"
// with {"args": ...} on stdin and reply with {"result": ...} or
// {"error": {...}} on stdout. A [Loader] resolves implementations and
// memoizes the resolution for the life of the process.
//
// Secrets never touch the process environment. Builtins read them
// through [Call]; executables receive them as NAME__KEY variables in
// their own environment only. String arguments may reference
// ${{ SECRETS.name.key }} and ${{ VARS.name.key }}; [Runner] substitutes
// them before the call.
//
// [Runner.Run] never panics and never returns an error: template
// actions are rejected, application errors carry provenance, and
// panics are recovered into failures.
package action
