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

package shmem

import (
	"fmt"

	"github.com/pkg/errors"
)

// HeapAllocator hands out plain heap slices with synthetic handles. The
// buffers are not shareable across processes; the allocator exists for
// tests and for single-process use of the staging layer.
type HeapAllocator struct {
	next int
}

// NewHeapAllocator returns an empty heap allocator.
func NewHeapAllocator() *HeapAllocator {
	return &HeapAllocator{}
}

// AllocChunk implements Allocator.
func (a *HeapAllocator) AllocChunk(size int) (*Buffer, error) {
	return a.alloc(size)
}

// AllocLarge implements Allocator.
func (a *HeapAllocator) AllocLarge(size int) (*Buffer, error) {
	return a.alloc(size)
}

func (a *HeapAllocator) alloc(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, errors.Wrapf(ErrAllocFailed, "invalid size %d", size)
	}
	a.next++
	return &Buffer{
		handle: Handle{Name: fmt.Sprintf("heap-%d", a.next), Size: uint32(size)},
		data:   make([]byte, size),
	}, nil
}

// FailingAllocator wraps an Allocator and fails every allocation once the
// budget is spent. Used by tests to exercise abort paths.
type FailingAllocator struct {
	Inner  Allocator
	Budget int // number of allocations allowed before failing
}

// AllocChunk implements Allocator.
func (a *FailingAllocator) AllocChunk(size int) (*Buffer, error) {
	if a.Budget <= 0 {
		return nil, errors.Wrap(ErrAllocFailed, "allocation budget exhausted")
	}
	a.Budget--
	return a.Inner.AllocChunk(size)
}

// AllocLarge implements Allocator.
func (a *FailingAllocator) AllocLarge(size int) (*Buffer, error) {
	if a.Budget <= 0 {
		return nil, errors.Wrap(ErrAllocFailed, "allocation budget exhausted")
	}
	a.Budget--
	return a.Inner.AllocLarge(size)
}
