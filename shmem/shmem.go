/*
 *
 * Copyright 2026 The shmstage Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

// Package shmem provides fixed-capacity byte buffers backed by shared
// memory, together with the allocator interface consumed by the segment
// writer. On Linux the buffers are files under /dev/shm mapped with
// MAP_SHARED, so the same bytes can be mapped by a consumer process using
// only the buffer's Handle. A heap-backed allocator is provided for tests
// and for platforms without a shared memory implementation.
package shmem

import (
	"errors"
	"fmt"
	"os"
)

// ErrAllocFailed is the cause of every allocation error returned by an
// Allocator. Callers match it with errors.Is to distinguish resource
// exhaustion from programming errors.
var ErrAllocFailed = errors.New("shmem: allocation failed")

// Handle identifies a shared buffer across process boundaries. It carries
// everything a consumer needs to map the same bytes: the backing name and
// the buffer's size.
type Handle struct {
	Name string
	Size uint32
}

// Allocator hands out shared buffers. Chunk allocations are the
// fixed-capacity segments the writer packs small payloads into; large
// allocations are dedicated buffers sized to exactly one oversized payload.
//
// Implementations must return an explicit error on failure, never a nil
// buffer with a nil error.
type Allocator interface {
	// AllocChunk allocates a fixed-capacity buffer of the given size.
	AllocChunk(size int) (*Buffer, error)

	// AllocLarge allocates a dedicated buffer of exactly the given size.
	AllocLarge(size int) (*Buffer, error)
}

// Buffer is a fixed-capacity byte region with a stable address, optionally
// backed by a shared memory mapping. The zero value is not usable; buffers
// come from an Allocator or from Open.
type Buffer struct {
	handle Handle
	data   []byte
	file   *os.File // nil for heap-backed buffers
	mapped bool
	closed bool
}

// Bytes returns the buffer's full byte region. The slice stays valid until
// Close.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Capacity returns the buffer's size in bytes.
func (b *Buffer) Capacity() int {
	return len(b.data)
}

// Handle returns the cross-process identifier for this buffer.
func (b *Buffer) Handle() Handle {
	return b.handle
}

// Close releases the local view of the buffer. For mapped buffers this
// unmaps the region and closes the backing file; the backing file itself is
// left in place so a consumer holding the Handle can still map it. Close is
// idempotent.
func (b *Buffer) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	if b.mapped {
		if err := unmapBuffer(b.data); err != nil {
			return fmt.Errorf("unmap %s: %w", b.handle.Name, err)
		}
	}
	b.data = nil
	if b.file != nil {
		if err := b.file.Close(); err != nil {
			return fmt.Errorf("close %s: %w", b.handle.Name, err)
		}
	}
	return nil
}

// Remove unlinks the buffer's backing file. The producer calls this once
// the consumer has mapped the buffer (or when aborting a batch that was
// never transmitted). Heap buffers have nothing to remove.
func (b *Buffer) Remove() error {
	if b.file == nil {
		return nil
	}
	if err := os.Remove(b.file.Name()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", b.handle.Name, err)
	}
	return nil
}
