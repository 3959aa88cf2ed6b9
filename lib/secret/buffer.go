// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// ErrClosed is returned when a closed Buffer is read.
var ErrClosed = errors.New("secret: buffer is closed")

// Buffer is mmap-backed storage for plaintext secrets. It must not be
// copied. Close releases it.
type Buffer struct {
	mu     sync.Mutex
	region []byte
	length int
	locked bool
	closed bool
}

// pageSize rounds allocations so the whole region can be locked.
var pageSize = os.Getpagesize()

// New allocates a zero-filled buffer with capacity for size bytes.
func New(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("secret: buffer size must be positive, got %d", size)
	}
	mapped := (size + pageSize - 1) / pageSize * pageSize
	region, err := unix.Mmap(-1, 0, mapped, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("secret: mmap: %w", err)
	}
	if err := unix.Madvise(region, unix.MADV_DONTDUMP); err != nil {
		unix.Munmap(region)
		return nil, fmt.Errorf("secret: madvise(MADV_DONTDUMP): %w", err)
	}
	// Containers commonly run with a small RLIMIT_MEMLOCK. An unlocked
	// region is still off-heap and excluded from dumps.
	locked := unix.Mlock(region) == nil
	return &Buffer{region: region, length: size, locked: locked}, nil
}

// FromBytes copies source into a new Buffer and zeroes source.
func FromBytes(source []byte) (*Buffer, error) {
	if len(source) == 0 {
		return nil, fmt.Errorf("secret: empty source")
	}
	buffer, err := New(len(source))
	if err != nil {
		return nil, err
	}
	copy(buffer.region, source)
	Zero(source)
	return buffer, nil
}

// ReadAll reads r to EOF into a Buffer. Reads beyond limit bytes fail.
// Intermediate chunks live only in the protected region.
func ReadAll(r io.Reader, limit int) (*Buffer, error) {
	buffer, err := New(limit)
	if err != nil {
		return nil, err
	}
	total := 0
	for {
		if total == limit {
			var probe [1]byte
			if n, _ := r.Read(probe[:]); n > 0 {
				buffer.Close()
				return nil, fmt.Errorf("secret: input exceeds %d bytes", limit)
			}
			break
		}
		n, err := r.Read(buffer.region[total:limit])
		total += n
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			buffer.Close()
			return nil, fmt.Errorf("secret: reading: %w", err)
		}
	}
	if total == 0 {
		buffer.Close()
		return nil, fmt.Errorf("secret: input is empty")
	}
	buffer.length = total
	return buffer, nil
}

// ReadFile reads the file at path into a Buffer.
func ReadFile(path string) (*Buffer, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return nil, err
	}
	return ReadAll(file, int(info.Size())+1)
}

// Bytes returns the plaintext. The slice aliases the protected region
// and must not be retained past Close.
func (b *Buffer) Bytes() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	return b.region[:b.length], nil
}

// Len returns the plaintext length.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.length
}

// Locked reports whether the region is locked into RAM.
func (b *Buffer) Locked() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.locked
}

// Close zeroes and unmaps the region. It is idempotent.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	Zero(b.region)
	if b.locked {
		unix.Munlock(b.region)
	}
	err := unix.Munmap(b.region)
	b.region = nil
	if err != nil {
		return fmt.Errorf("secret: munmap: %w", err)
	}
	return nil
}

// Zero overwrites data with zeros.
func Zero(data []byte) {
	clear(data)
}
