// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zeebo/blake3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/tracecathq/executor/lib/clock"
	"github.com/tracecathq/executor/lib/codec"
	"github.com/tracecathq/executor/lib/schema"
)

// indexFileName is the CBOR index inside the cache root.
const indexFileName = "index.cbor"

// fetchTimeout bounds one download and extraction. Fetches are shared
// between callers, so they do not inherit any single caller's context.
const fetchTimeout = 5 * time.Minute

// IndexEntry records one extracted bundle.
type IndexEntry struct {
	URI           string    `cbor:"uri"`
	Digest        string    `cbor:"digest"`
	ContentDigest string    `cbor:"content_digest"`
	Compression   string    `cbor:"compression"`
	Files         int       `cbor:"files"`
	Bytes         int64     `cbor:"bytes"`
	ExtractedAt   time.Time `cbor:"extracted_at"`
}

// EnvironmentConfig configures an Environment.
type EnvironmentConfig struct {
	// Root is the cache directory. Created if missing.
	Root string

	// Client fetches http(s) tarballs. Default: http.DefaultClient.
	Client *http.Client

	Clock  clock.Clock
	Logger *slog.Logger
}

// Environment extracts registry tarballs into a cache directory.
type Environment struct {
	root   string
	client *http.Client
	clock  clock.Clock
	logger *slog.Logger

	group   singleflight.Group
	indexMu sync.Mutex
}

// NewEnvironment creates the cache root and returns an Environment.
func NewEnvironment(config EnvironmentConfig) (*Environment, error) {
	if config.Root == "" {
		return nil, fmt.Errorf("registry cache root is required")
	}
	root, err := filepath.Abs(config.Root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating registry cache %s: %w", root, err)
	}
	environment := &Environment{
		root:   root,
		client: config.Client,
		clock:  config.Clock,
		logger: config.Logger,
	}
	if environment.client == nil {
		environment.client = http.DefaultClient
	}
	if environment.clock == nil {
		environment.clock = clock.Real()
	}
	if environment.logger == nil {
		environment.logger = slog.New(slog.DiscardHandler)
	}
	return environment, nil
}

// Root returns the absolute cache directory.
func (e *Environment) Root() string {
	return e.root
}

// Digest returns the cache key for uri: the first 128 bits of the
// blake3 hash of the URI string, hex encoded.
func Digest(uri string) string {
	sum := blake3.Sum256([]byte(uri))
	return hex.EncodeToString(sum[:16])
}

// Dir returns the absolute directory of a bundle reference.
func (e *Environment) Dir(bundle schema.BundleRef) string {
	return filepath.Join(e.root, bundle.Dir)
}

// Ensure returns the extracted directory for uri, downloading and
// extracting it first if needed. Concurrent calls for the same URI
// share one fetch; each caller still returns early if its own ctx
// ends.
func (e *Environment) Ensure(ctx context.Context, uri string) (string, error) {
	digest := Digest(uri)
	directory := filepath.Join(e.root, digest)
	if isDir(directory) {
		return directory, nil
	}

	results := e.group.DoChan(digest, func() (any, error) {
		if isDir(directory) {
			return directory, nil
		}
		fetchContext, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()
		return directory, e.fetch(fetchContext, uri, digest, directory)
	})
	select {
	case result := <-results:
		if result.Err != nil {
			return "", result.Err
		}
		return directory, nil
	case <-ctx.Done():
		return "", fmt.Errorf("ensuring registry bundle %s: %w", uri, ctx.Err())
	}
}

func (e *Environment) fetch(ctx context.Context, uri, digest, directory string) error {
	started := e.clock.Now()
	source, err := e.open(ctx, uri)
	if err != nil {
		return err
	}
	defer source.Close()

	staging, err := os.MkdirTemp(e.root, ".staging-"+digest+"-*")
	if err != nil {
		return fmt.Errorf("creating staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	hasher := blake3.New()
	tee := io.TeeReader(source, hasher)
	stats, err := extract(tee, staging)
	if err != nil {
		return fmt.Errorf("extracting %s: %w", uri, err)
	}
	// Trailing padding after the tar end marker still counts toward
	// the content digest.
	if _, err := io.Copy(io.Discard, tee); err != nil {
		return fmt.Errorf("reading %s: %w", uri, err)
	}

	if err := os.Rename(staging, directory); err != nil {
		if !isDir(directory) {
			return fmt.Errorf("installing bundle %s: %w", uri, err)
		}
		// Another process installed it first.
	}

	entry := IndexEntry{
		URI:           uri,
		Digest:        digest,
		ContentDigest: hex.EncodeToString(hasher.Sum(nil)),
		Compression:   stats.Compression,
		Files:         stats.Files,
		Bytes:         stats.Bytes,
		ExtractedAt:   e.clock.Now().UTC(),
	}
	if err := e.record(entry); err != nil {
		e.logger.Warn("recording registry index entry failed", "uri", uri, "error", err)
	}
	e.logger.Info("registry bundle extracted",
		"uri", uri,
		"digest", digest,
		"files", stats.Files,
		"bytes", stats.Bytes,
		"duration", e.clock.Since(started),
	)
	return nil
}

// open returns a reader for a file://, bare path, or http(s) URI.
func (e *Environment) open(ctx context.Context, uri string) (io.ReadCloser, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("parsing tarball uri %q: %w", uri, err)
	}
	switch parsed.Scheme {
	case "":
		return os.Open(uri)
	case "file":
		return os.Open(parsed.Path)
	case "http", "https":
		request, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
		if err != nil {
			return nil, err
		}
		response, err := e.client.Do(request)
		if err != nil {
			return nil, fmt.Errorf("downloading %s: %w", uri, err)
		}
		if response.StatusCode != http.StatusOK {
			response.Body.Close()
			return nil, fmt.Errorf("downloading %s: HTTP %d", uri, response.StatusCode)
		}
		return response.Body, nil
	default:
		return nil, fmt.Errorf("tarball uri %q: unsupported scheme %q", uri, parsed.Scheme)
	}
}

// record adds entry to the on-disk index.
func (e *Environment) record(entry IndexEntry) error {
	e.indexMu.Lock()
	defer e.indexMu.Unlock()
	index, err := e.readIndex()
	if err != nil {
		return err
	}
	index[entry.Digest] = entry
	return codec.WriteFile(filepath.Join(e.root, indexFileName), index)
}

// Index returns the recorded bundles keyed by digest.
func (e *Environment) Index() (map[string]IndexEntry, error) {
	e.indexMu.Lock()
	defer e.indexMu.Unlock()
	return e.readIndex()
}

func (e *Environment) readIndex() (map[string]IndexEntry, error) {
	index := make(map[string]IndexEntry)
	err := codec.ReadFile(filepath.Join(e.root, indexFileName), &index)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return index, nil
}

// Bundles ensures every artifact concurrently and returns references
// in deterministic import order.
func (e *Environment) Bundles(ctx context.Context, artifacts []Artifact) ([]schema.BundleRef, error) {
	bundles := make([]schema.BundleRef, len(artifacts))
	group, groupContext := errgroup.WithContext(ctx)
	for index, artifact := range artifacts {
		group.Go(func() error {
			directory, err := e.Ensure(groupContext, artifact.TarballURI)
			if err != nil {
				return fmt.Errorf("origin %s: %w", artifact.Origin, err)
			}
			bundles[index] = schema.BundleRef{Origin: artifact.Origin, Dir: filepath.Base(directory)}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	SortBundles(bundles)
	return bundles, nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
