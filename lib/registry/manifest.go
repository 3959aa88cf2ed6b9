// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tracecathq/executor/lib/clock"
	"github.com/tracecathq/executor/lib/schema"
)

// ErrActionNotFound is returned by Lookup for unknown actions.
var ErrActionNotFound = errors.New("action not found in registry")

// Manifest is the YAML description of registry origins and actions.
type Manifest struct {
	Origins map[string]OriginEntry `yaml:"origins"`
	Actions map[string]ActionEntry `yaml:"actions"`
}

// OriginEntry lists the published versions of one origin.
type OriginEntry struct {
	// Current is the version used when no lock pins the origin.
	Current string `yaml:"current"`

	// Versions maps version to tarball URI. The builtin origin may
	// have no versions: its actions are compiled into the worker.
	Versions map[string]string `yaml:"versions"`
}

// ActionEntry describes one action.
type ActionEntry struct {
	Origin   string   `yaml:"origin"`
	Module   string   `yaml:"module"`
	Function string   `yaml:"function"`
	Secrets  []string `yaml:"secrets"`

	// Template is set for template actions instead of Module/Function.
	Template *schema.TemplateAction `yaml:"template"`
}

// ManifestSource serves artifacts and action implementations from a
// Manifest. Workspace artifact lists are cached for a TTL.
type ManifestSource struct {
	manifest Manifest
	clock    clock.Clock
	ttl      time.Duration

	mu    sync.Mutex
	cache map[string]cachedArtifacts
}

type cachedArtifacts struct {
	artifacts []Artifact
	expires   time.Time
}

// LoadManifest reads a manifest file.
func LoadManifest(path string, clk clock.Clock, ttl time.Duration) (*ManifestSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading registry manifest: %w", err)
	}
	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parsing registry manifest %s: %w", path, err)
	}
	return NewManifestSource(manifest, clk, ttl)
}

// NewManifestSource validates manifest and wraps it.
func NewManifestSource(manifest Manifest, clk clock.Clock, ttl time.Duration) (*ManifestSource, error) {
	for name, origin := range manifest.Origins {
		if origin.Current != "" {
			if _, ok := origin.Versions[origin.Current]; !ok {
				return nil, fmt.Errorf("origin %q: current version %q is not published", name, origin.Current)
			}
		}
	}
	for name, action := range manifest.Actions {
		if action.Origin == "" {
			return nil, fmt.Errorf("action %q: origin is required", name)
		}
		if action.Template == nil && action.Function == "" {
			return nil, fmt.Errorf("action %q: function or template is required", name)
		}
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &ManifestSource{
		manifest: manifest,
		clock:    clk,
		ttl:      ttl,
		cache:    make(map[string]cachedArtifacts),
	}, nil
}

// ArtifactsForLock returns the tarballs for every origin version the
// lock pins. Unknown origins or versions are errors: a lock must be
// reproducible or fail.
func (s *ManifestSource) ArtifactsForLock(_ context.Context, lock *schema.RegistryLock) ([]Artifact, error) {
	if lock == nil {
		return nil, fmt.Errorf("registry lock is required")
	}
	var artifacts []Artifact
	for originName, version := range lock.Origins {
		origin, ok := s.manifest.Origins[originName]
		if !ok {
			if originName == schema.BuiltinOrigin {
				continue
			}
			return nil, fmt.Errorf("locked origin %q is not in the registry", originName)
		}
		uri, ok := origin.Versions[version]
		if !ok {
			if originName == schema.BuiltinOrigin && len(origin.Versions) == 0 {
				continue
			}
			return nil, fmt.Errorf("locked origin %q has no version %q", originName, version)
		}
		artifacts = append(artifacts, Artifact{Origin: originName, TarballURI: uri})
	}
	SortArtifacts(artifacts)
	return artifacts, nil
}

// ArtifactsCached returns the current version of every origin. The
// list is cached per workspace for the source's TTL.
func (s *ManifestSource) ArtifactsCached(_ context.Context, role schema.Role) ([]Artifact, error) {
	key := role.WorkspaceID
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.cache[key]; ok && now.Before(entry.expires) {
		return slices.Clone(entry.artifacts), nil
	}

	var artifacts []Artifact
	for name, origin := range s.manifest.Origins {
		if origin.Current == "" {
			continue
		}
		artifacts = append(artifacts, Artifact{Origin: name, TarballURI: origin.Versions[origin.Current]})
	}
	SortArtifacts(artifacts)
	s.cache[key] = cachedArtifacts{artifacts: artifacts, expires: now.Add(s.ttl)}
	return slices.Clone(artifacts), nil
}

// Lookup returns the implementation of action and the secret names it
// declares.
func (s *ManifestSource) Lookup(_ context.Context, action string) (schema.ActionImpl, []string, error) {
	entry, ok := s.manifest.Actions[action]
	if !ok {
		return schema.ActionImpl{}, nil, fmt.Errorf("%w: %s", ErrActionNotFound, action)
	}
	if entry.Template != nil {
		return schema.ActionImpl{
			Type:           schema.ActionImplTemplate,
			Origin:         entry.Origin,
			Name:           action,
			TemplateAction: entry.Template,
		}, slices.Clone(entry.Secrets), nil
	}
	module := entry.Module
	if module == "" {
		// "core.transform.reshape" → module "core.transform".
		if index := strings.LastIndex(action, "."); index > 0 {
			module = action[:index]
		}
	}
	return schema.ActionImpl{
		Type:   schema.ActionImplUDF,
		Module: module,
		Name:   entry.Function,
		Origin: entry.Origin,
	}, slices.Clone(entry.Secrets), nil
}
