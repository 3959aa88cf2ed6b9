// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry resolves registry artifacts (packaged bundles of
// action code) into extracted local directories.
//
// An [ArtifactSource] answers which bundles a run may load: either the
// versions pinned by a registry lock or the current versions visible to
// a workspace. [ManifestSource] implements it from a YAML manifest and
// doubles as the action catalog consulted by the context resolver.
//
// An [Environment] owns a cache directory. [Environment.Ensure]
// downloads a tarball (file://, bare path, http, https), extracts it
// into <root>/<blake3(uri)>, and records it in a CBOR index. Extraction
// is idempotent and concurrent callers for the same URI share one
// download. Tarballs may be plain or compressed with gzip, zstd, or
// lz4. Entries that would land outside the target directory are
// rejected.
//
// Bundle order is deterministic: the builtin origin first, then
// lexicographic by origin, so import resolution is reproducible.
package registry
