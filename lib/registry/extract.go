// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"archive/tar"
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// maxExtractedBytes bounds the total size of regular files in one
// bundle.
const maxExtractedBytes = 1 << 30

// Compression magic numbers.
var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	lz4Magic  = []byte{0x04, 0x22, 0x4d, 0x18}
)

// extractStats summarizes an extraction.
type extractStats struct {
	Compression string
	Files       int
	Bytes       int64
}

// decompress wraps r according to the compression its first bytes
// identify. Uncompressed input is returned as is.
func decompress(r io.Reader) (io.ReadCloser, string, error) {
	buffered := bufio.NewReader(r)
	head, err := buffered.Peek(4)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, "", fmt.Errorf("reading archive header: %w", err)
	}
	switch {
	case bytes.HasPrefix(head, gzipMagic):
		reader, err := gzip.NewReader(buffered)
		if err != nil {
			return nil, "", fmt.Errorf("opening gzip stream: %w", err)
		}
		return reader, "gzip", nil
	case bytes.HasPrefix(head, zstdMagic):
		decoder, err := zstd.NewReader(buffered)
		if err != nil {
			return nil, "", fmt.Errorf("opening zstd stream: %w", err)
		}
		return decoder.IOReadCloser(), "zstd", nil
	case bytes.HasPrefix(head, lz4Magic):
		return io.NopCloser(lz4.NewReader(buffered)), "lz4", nil
	default:
		return io.NopCloser(buffered), "none", nil
	}
}

// extract unpacks the tar stream r into target, which must exist.
// Every file operation goes through an os.Root on target, and entries
// beneath a previously extracted symlink are refused.
func extract(r io.Reader, target string) (extractStats, error) {
	var stats extractStats
	root, err := os.OpenRoot(target)
	if err != nil {
		return stats, err
	}
	defer root.Close()

	stream, compression, err := decompress(r)
	if err != nil {
		return stats, err
	}
	stats.Compression = compression
	defer stream.Close()

	archive := tar.NewReader(stream)
	for {
		header, err := archive.Next()
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		if err != nil {
			return stats, fmt.Errorf("reading archive: %w", err)
		}
		name, err := entryName(header.Name)
		if err != nil {
			return stats, err
		}
		if name == "" || header.Typeflag == tar.TypeXGlobalHeader {
			continue
		}
		if err := checkParents(root, name); err != nil {
			return stats, err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := root.MkdirAll(filepath.FromSlash(name), 0o755); err != nil {
				return stats, err
			}
		case tar.TypeReg:
			if stats.Bytes+header.Size > maxExtractedBytes {
				return stats, fmt.Errorf("archive exceeds %d extracted bytes", maxExtractedBytes)
			}
			if err := writeEntry(root, name, archive, header); err != nil {
				return stats, err
			}
			stats.Files++
			stats.Bytes += header.Size
		case tar.TypeSymlink:
			if err := linkEntry(root, name, header.Linkname); err != nil {
				return stats, err
			}
		default:
			return stats, fmt.Errorf("archive entry %q: unsupported type %q", header.Name, header.Typeflag)
		}
	}
}

// checkParents fails if any directory above name is a symlink.
func checkParents(root *os.Root, name string) error {
	components := strings.Split(name, "/")
	for i := 1; i < len(components); i++ {
		prefix := strings.Join(components[:i], "/")
		info, err := root.Lstat(filepath.FromSlash(prefix))
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if info.Mode()&fs.ModeSymlink != 0 {
			return fmt.Errorf("archive entry %q is beneath symlink %q", name, prefix)
		}
	}
	return nil
}

// entryName cleans an archive path and rejects absolute paths, parent
// references, and control characters. The archive root maps to "".
func entryName(raw string) (string, error) {
	for _, character := range raw {
		if character < 0x20 || character == 0x7f {
			return "", fmt.Errorf("archive entry %q contains a control character", raw)
		}
	}
	if strings.HasPrefix(raw, "/") {
		return "", fmt.Errorf("archive entry %q is absolute", raw)
	}
	for _, component := range strings.Split(raw, "/") {
		if component == ".." {
			return "", fmt.Errorf("archive entry %q escapes the bundle directory", raw)
		}
	}
	cleaned := path.Clean(raw)
	if cleaned == "." {
		return "", nil
	}
	return cleaned, nil
}

func writeEntry(root *os.Root, name string, source io.Reader, header *tar.Header) error {
	if err := mkdirParent(root, name); err != nil {
		return err
	}
	// Only the owner-executable bit is carried over; bundles are
	// read-only code.
	mode := os.FileMode(0o644)
	if header.FileInfo().Mode()&0o100 != 0 {
		mode = 0o755
	}
	file, err := root.OpenFile(filepath.FromSlash(name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, mode)
	if err != nil {
		return fmt.Errorf("creating %s: %w", header.Name, err)
	}
	if _, err := io.CopyN(file, source, header.Size); err != nil {
		file.Close()
		return fmt.Errorf("writing %s: %w", header.Name, err)
	}
	return file.Close()
}

// linkEntry creates a symlink whose target may climb out of the link's
// directory with leading ".." components, never above the bundle root,
// and then only descend. A ".." after a descent could step back out
// through a symlinked directory, so it is refused.
func linkEntry(root *os.Root, name, linkname string) error {
	if linkname == "" || path.IsAbs(linkname) {
		return fmt.Errorf("symlink %q has absolute or empty target %q", name, linkname)
	}
	depth := strings.Count(name, "/")
	descended := false
	for _, component := range strings.Split(linkname, "/") {
		switch component {
		case "", ".":
		case "..":
			if descended {
				return fmt.Errorf("symlink %q target %q climbs after descending", name, linkname)
			}
			depth--
			if depth < 0 {
				return fmt.Errorf("symlink %q points outside the bundle (%q)", name, linkname)
			}
		default:
			descended = true
		}
	}
	if err := mkdirParent(root, name); err != nil {
		return err
	}
	return root.Symlink(linkname, filepath.FromSlash(name))
}

func mkdirParent(root *os.Root, name string) error {
	parent := path.Dir(name)
	if parent == "." {
		return nil
	}
	return root.MkdirAll(filepath.FromSlash(parent), 0o755)
}
