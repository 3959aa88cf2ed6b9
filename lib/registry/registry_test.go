// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/tracecathq/executor/lib/clock"
	"github.com/tracecathq/executor/lib/schema"
)

type tarEntry struct {
	name     string
	body     string
	mode     int64
	typeflag byte
	linkname string
}

func buildTar(t *testing.T, entries []tarEntry) []byte {
	t.Helper()
	var buffer bytes.Buffer
	writer := tar.NewWriter(&buffer)
	for _, entry := range entries {
		typeflag := entry.typeflag
		if typeflag == 0 {
			typeflag = tar.TypeReg
		}
		mode := entry.mode
		if mode == 0 {
			mode = 0o644
		}
		header := &tar.Header{
			Name:     entry.name,
			Mode:     mode,
			Size:     int64(len(entry.body)),
			Typeflag: typeflag,
			Linkname: entry.linkname,
		}
		if typeflag != tar.TypeReg {
			header.Size = 0
		}
		if err := writer.WriteHeader(header); err != nil {
			t.Fatalf("WriteHeader(%s): %v", entry.name, err)
		}
		if typeflag == tar.TypeReg {
			if _, err := writer.Write([]byte(entry.body)); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}
	return buffer.Bytes()
}

func compress(t *testing.T, kind string, data []byte) []byte {
	t.Helper()
	var buffer bytes.Buffer
	var writer io.WriteCloser
	switch kind {
	case "none":
		return data
	case "gzip":
		writer = gzip.NewWriter(&buffer)
	case "zstd":
		encoder, err := zstd.NewWriter(&buffer)
		if err != nil {
			t.Fatal(err)
		}
		writer = encoder
	case "lz4":
		writer = lz4.NewWriter(&buffer)
	default:
		t.Fatalf("unknown compression %q", kind)
	}
	if _, err := writer.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}
	return buffer.Bytes()
}

func bundleEntries() []tarEntry {
	return []tarEntry{
		{name: "./", typeflag: tar.TypeDir},
		{name: "actions/", typeflag: tar.TypeDir},
		{name: "actions/custom", body: "#!/bin/sh\necho '{\"result\": 1}'\n", mode: 0o755},
		{name: "README", body: "custom actions"},
		{name: "actions/alias", typeflag: tar.TypeSymlink, linkname: "custom"},
	}
}

func newEnvironment(t *testing.T) *Environment {
	t.Helper()
	environment, err := NewEnvironment(EnvironmentConfig{Root: t.TempDir()})
	if err != nil {
		t.Fatalf("NewEnvironment: %v", err)
	}
	return environment
}

func writeTarball(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestEnsureExtractsEveryCompression(t *testing.T) {
	archive := buildTar(t, bundleEntries())
	for _, kind := range []string{"none", "gzip", "zstd", "lz4"} {
		t.Run(kind, func(t *testing.T) {
			environment := newEnvironment(t)
			path := writeTarball(t, "bundle.tar", compress(t, kind, archive))

			directory, err := environment.Ensure(context.Background(), "file://"+path)
			if err != nil {
				t.Fatalf("Ensure: %v", err)
			}
			info, err := os.Stat(filepath.Join(directory, "actions", "custom"))
			if err != nil {
				t.Fatalf("extracted executable missing: %v", err)
			}
			if info.Mode().Perm()&0o100 == 0 {
				t.Errorf("executable bit lost: %v", info.Mode())
			}
			link, err := os.Readlink(filepath.Join(directory, "actions", "alias"))
			if err != nil || link != "custom" {
				t.Errorf("symlink = %q, %v", link, err)
			}

			index, err := environment.Index()
			if err != nil {
				t.Fatalf("Index: %v", err)
			}
			entry, ok := index[filepath.Base(directory)]
			if !ok {
				t.Fatalf("index has no entry for %s", directory)
			}
			if entry.Compression != kind || entry.Files != 2 || entry.ContentDigest == "" {
				t.Errorf("index entry = %+v", entry)
			}
		})
	}
}

func TestEnsureIsIdempotentAndKeyedByURI(t *testing.T) {
	environment := newEnvironment(t)
	path := writeTarball(t, "bundle.tar", buildTar(t, bundleEntries()))

	first, err := environment.Ensure(context.Background(), path)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	second, err := environment.Ensure(context.Background(), path)
	if err != nil {
		t.Fatalf("second Ensure after source removed: %v", err)
	}
	if first != second {
		t.Errorf("directories differ: %s vs %s", first, second)
	}
	if filepath.Base(first) != Digest(path) {
		t.Errorf("directory %s is not keyed by Digest(uri)", first)
	}
}

func TestEnsureSharesConcurrentDownloads(t *testing.T) {
	archive := compress(t, "gzip", buildTar(t, bundleEntries()))
	var requests atomic.Int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		<-release
		w.Write(archive)
	}))
	defer server.Close()

	environment := newEnvironment(t)
	uri := server.URL + "/custom-1.0.tar.gz"

	const callers = 8
	var wait sync.WaitGroup
	directories := make([]string, callers)
	errs := make([]error, callers)
	for index := range callers {
		wait.Add(1)
		go func() {
			defer wait.Done()
			directories[index], errs[index] = environment.Ensure(context.Background(), uri)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wait.Wait()

	for index := range callers {
		if errs[index] != nil {
			t.Fatalf("caller %d: %v", index, errs[index])
		}
		if directories[index] != directories[0] {
			t.Errorf("caller %d got %s, want %s", index, directories[index], directories[0])
		}
	}
	if got := requests.Load(); got != 1 {
		t.Errorf("server saw %d requests, want 1", got)
	}
}

func TestEnsureHTTPStatusError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()
	_, err := newEnvironment(t).Ensure(context.Background(), server.URL+"/missing.tar")
	if err == nil || !strings.Contains(err.Error(), "HTTP 404") {
		t.Fatalf("error = %v, want HTTP 404", err)
	}
}

func TestEnsureRejectsEscapingEntries(t *testing.T) {
	tests := []struct {
		name  string
		entry tarEntry
	}{
		{"parent traversal", tarEntry{name: "../evil", body: "x"}},
		{"nested traversal", tarEntry{name: "actions/../../evil", body: "x"}},
		{"absolute path", tarEntry{name: "/etc/evil", body: "x"}},
		{"control character", tarEntry{name: "actions/\x01evil", body: "x"}},
		{"absolute symlink", tarEntry{name: "link", typeflag: tar.TypeSymlink, linkname: "/etc/passwd"}},
		{"escaping symlink", tarEntry{name: "actions/link", typeflag: tar.TypeSymlink, linkname: "../../outside"}},
		{"hard link", tarEntry{name: "hard", typeflag: tar.TypeLink, linkname: "README"}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			environment := newEnvironment(t)
			path := writeTarball(t, "evil.tar", buildTar(t, []tarEntry{test.entry}))
			if _, err := environment.Ensure(context.Background(), path); err == nil {
				t.Fatal("expected extraction to be rejected")
			}
			if isDir(filepath.Join(environment.Root(), Digest(path))) {
				t.Error("rejected bundle was installed")
			}
			entries, _ := os.ReadDir(environment.Root())
			for _, entry := range entries {
				if strings.HasPrefix(entry.Name(), ".staging-") {
					t.Errorf("staging directory %s left behind", entry.Name())
				}
			}
		})
	}
}

func TestExtractConfinesSymlinkChains(t *testing.T) {
	tests := []struct {
		name    string
		entries []tarEntry
		want    string
	}{
		{
			name: "file through chained directory symlinks",
			entries: []tarEntry{
				{name: "a", typeflag: tar.TypeSymlink, linkname: "."},
				{name: "a/a/esc", typeflag: tar.TypeSymlink, linkname: "../outside"},
				{name: "esc/evil.sh", body: "pwned"},
			},
			want: "beneath symlink",
		},
		{
			name: "target climbing back through a later symlink",
			entries: []tarEntry{
				{name: "esc", typeflag: tar.TypeSymlink, linkname: "l1/../../outside"},
			},
			want: "climbs after descending",
		},
		{
			name: "target climbing back through an earlier symlink",
			entries: []tarEntry{
				{name: "l1", typeflag: tar.TypeSymlink, linkname: "."},
				{name: "esc", typeflag: tar.TypeSymlink, linkname: "l1/../outside"},
			},
			want: "climbs after descending",
		},
		{
			name: "directory beneath a symlink",
			entries: []tarEntry{
				{name: "up", typeflag: tar.TypeSymlink, linkname: "."},
				{name: "up/sub/", typeflag: tar.TypeDir},
			},
			want: "beneath symlink",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			base := t.TempDir()
			target := filepath.Join(base, "bundle")
			if err := os.Mkdir(target, 0o755); err != nil {
				t.Fatal(err)
			}
			_, err := extract(bytes.NewReader(buildTar(t, test.entries)), target)
			if err == nil || !strings.Contains(err.Error(), test.want) {
				t.Fatalf("extract error = %v, want %q", err, test.want)
			}
			if _, err := os.Lstat(filepath.Join(base, "outside")); !errors.Is(err, os.ErrNotExist) {
				t.Errorf("extraction touched %s: %v", filepath.Join(base, "outside"), err)
			}
		})
	}
}

func TestExtractAllowsContainedSymlinks(t *testing.T) {
	target := t.TempDir()
	entries := []tarEntry{
		{name: "shared/lib.sh", body: "echo shared"},
		{name: "actions/lib", typeflag: tar.TypeSymlink, linkname: "../shared/lib.sh"},
		{name: "actions/self", typeflag: tar.TypeSymlink, linkname: "./lib"},
	}
	if _, err := extract(bytes.NewReader(buildTar(t, entries)), target); err != nil {
		t.Fatalf("extract: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(target, "actions", "self"))
	if err != nil || string(data) != "echo shared" {
		t.Fatalf("reading through symlinks = %q, %v", data, err)
	}
}

func TestEnsureUnsupportedScheme(t *testing.T) {
	_, err := newEnvironment(t).Ensure(context.Background(), "s3://bucket/bundle.tar")
	if err == nil || !strings.Contains(err.Error(), "unsupported scheme") {
		t.Fatalf("error = %v", err)
	}
}

func TestSortArtifacts(t *testing.T) {
	artifacts := []Artifact{
		{Origin: "zeta", TarballURI: "z"},
		{Origin: "git+ssh://alpha", TarballURI: "a"},
		{Origin: schema.BuiltinOrigin, TarballURI: "builtin"},
		{Origin: "custom", TarballURI: "c"},
	}
	SortArtifacts(artifacts)
	var origins []string
	for _, artifact := range artifacts {
		origins = append(origins, artifact.Origin)
	}
	want := []string{schema.BuiltinOrigin, "custom", "git+ssh://alpha", "zeta"}
	if !reflect.DeepEqual(origins, want) {
		t.Errorf("order = %v, want %v", origins, want)
	}
}

func TestBundlesSortedAndRelative(t *testing.T) {
	environment := newEnvironment(t)
	archive := buildTar(t, bundleEntries())
	artifacts := []Artifact{
		{Origin: "zeta", TarballURI: writeTarball(t, "zeta.tar", archive)},
		{Origin: schema.BuiltinOrigin, TarballURI: writeTarball(t, "builtin.tar", archive)},
		{Origin: "alpha", TarballURI: writeTarball(t, "alpha.tar", archive)},
	}
	bundles, err := environment.Bundles(context.Background(), artifacts)
	if err != nil {
		t.Fatalf("Bundles: %v", err)
	}
	if len(bundles) != 3 || bundles[0].Origin != schema.BuiltinOrigin || bundles[1].Origin != "alpha" || bundles[2].Origin != "zeta" {
		t.Fatalf("bundles = %+v", bundles)
	}
	for _, bundle := range bundles {
		if filepath.IsAbs(bundle.Dir) {
			t.Errorf("bundle dir %q should be relative to the cache root", bundle.Dir)
		}
		if !isDir(environment.Dir(bundle)) {
			t.Errorf("bundle %s not extracted", bundle.Dir)
		}
	}
}

const sampleManifest = `
origins:
  tracecat_registry:
    current: ""
  custom:
    current: "1.1"
    versions:
      "1.0": file:///bundles/custom-1.0.tar.gz
      "1.1": file:///bundles/custom-1.1.tar.gz
actions:
  core.http_request:
    origin: tracecat_registry
    module: core
    function: http_request
  custom.enrich.lookup_ip:
    origin: custom
    function: lookup_ip
    secrets: [virustotal]
  custom.playbooks.triage:
    origin: custom
    template:
      name: triage
      steps:
        - ref: enrich
          action: custom.enrich.lookup_ip
`

func loadSample(t *testing.T, clk clock.Clock) *ManifestSource {
	t.Helper()
	path := filepath.Join(t.TempDir(), "manifest.yaml")
	if err := os.WriteFile(path, []byte(sampleManifest), 0o644); err != nil {
		t.Fatal(err)
	}
	source, err := LoadManifest(path, clk, time.Minute)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	return source
}

func TestManifestLookup(t *testing.T) {
	source := loadSample(t, nil)
	ctx := context.Background()

	impl, secrets, err := source.Lookup(ctx, "custom.enrich.lookup_ip")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	want := schema.ActionImpl{Type: schema.ActionImplUDF, Module: "custom.enrich", Name: "lookup_ip", Origin: "custom"}
	if !reflect.DeepEqual(impl, want) {
		t.Errorf("impl = %+v, want %+v", impl, want)
	}
	if !reflect.DeepEqual(secrets, []string{"virustotal"}) {
		t.Errorf("secrets = %v", secrets)
	}

	template, _, err := source.Lookup(ctx, "custom.playbooks.triage")
	if err != nil {
		t.Fatalf("Lookup template: %v", err)
	}
	if template.Type != schema.ActionImplTemplate || template.TemplateAction == nil || len(template.TemplateAction.Steps) != 1 {
		t.Errorf("template impl = %+v", template)
	}

	if _, _, err := source.Lookup(ctx, "missing.action"); err == nil {
		t.Error("expected ErrActionNotFound")
	}
}

func TestArtifactsForLock(t *testing.T) {
	source := loadSample(t, nil)
	artifacts, err := source.ArtifactsForLock(context.Background(), &schema.RegistryLock{
		Origins: map[string]string{"custom": "1.0", schema.BuiltinOrigin: "0.9"},
	})
	if err != nil {
		t.Fatalf("ArtifactsForLock: %v", err)
	}
	if len(artifacts) != 1 || artifacts[0].TarballURI != "file:///bundles/custom-1.0.tar.gz" {
		t.Errorf("artifacts = %+v", artifacts)
	}

	if _, err := source.ArtifactsForLock(context.Background(), &schema.RegistryLock{
		Origins: map[string]string{"custom": "9.9"},
	}); err == nil {
		t.Error("expected error for an unpublished locked version")
	}
}

func TestArtifactsCachedExpires(t *testing.T) {
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	source := loadSample(t, fake)
	role := schema.Role{Type: "service", WorkspaceID: "ws-1"}
	ctx := context.Background()

	first, err := source.ArtifactsCached(ctx, role)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 1 || first[0].TarballURI != "file:///bundles/custom-1.1.tar.gz" {
		t.Fatalf("artifacts = %+v", first)
	}

	// Mutating the manifest is only visible once the cache entry expires.
	source.manifest.Origins["custom"] = OriginEntry{
		Current:  "1.0",
		Versions: source.manifest.Origins["custom"].Versions,
	}
	cached, _ := source.ArtifactsCached(ctx, role)
	if cached[0].TarballURI != first[0].TarballURI {
		t.Error("cache entry was not reused within the TTL")
	}
	fake.Advance(2 * time.Minute)
	refreshed, _ := source.ArtifactsCached(ctx, role)
	if refreshed[0].TarballURI != "file:///bundles/custom-1.0.tar.gz" {
		t.Errorf("after expiry artifacts = %+v", refreshed)
	}
}
