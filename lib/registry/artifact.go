// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"slices"
	"strings"

	"github.com/tracecathq/executor/lib/schema"
)

// Artifact is one packaged bundle of action code.
type Artifact struct {
	Origin     string `yaml:"origin" json:"origin"`
	TarballURI string `yaml:"tarball_uri" json:"tarball_uri"`
}

// ArtifactSource lists the bundles a run may load.
type ArtifactSource interface {
	// ArtifactsForLock returns the bundles pinned by lock.
	ArtifactsForLock(ctx context.Context, lock *schema.RegistryLock) ([]Artifact, error)

	// ArtifactsCached returns the current bundles visible to role.
	// Implementations may cache per workspace.
	ArtifactsCached(ctx context.Context, role schema.Role) ([]Artifact, error)
}

// SortArtifacts orders artifacts in place: the builtin origin first,
// then lexicographic by origin, then by URI.
func SortArtifacts(artifacts []Artifact) {
	slices.SortStableFunc(artifacts, func(a, b Artifact) int {
		aBuiltin, bBuiltin := a.Origin == schema.BuiltinOrigin, b.Origin == schema.BuiltinOrigin
		switch {
		case aBuiltin && !bBuiltin:
			return -1
		case bBuiltin && !aBuiltin:
			return 1
		}
		if order := strings.Compare(a.Origin, b.Origin); order != 0 {
			return order
		}
		return strings.Compare(a.TarballURI, b.TarballURI)
	})
}

// SortBundles orders bundle references the same way SortArtifacts
// orders artifacts.
func SortBundles(bundles []schema.BundleRef) {
	slices.SortStableFunc(bundles, func(a, b schema.BundleRef) int {
		aBuiltin, bBuiltin := a.Origin == schema.BuiltinOrigin, b.Origin == schema.BuiltinOrigin
		switch {
		case aBuiltin && !bBuiltin:
			return -1
		case bBuiltin && !aBuiltin:
			return 1
		}
		if order := strings.Compare(a.Origin, b.Origin); order != 0 {
			return order
		}
		return strings.Compare(a.Dir, b.Dir)
	})
}
