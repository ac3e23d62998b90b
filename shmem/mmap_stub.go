//go:build !linux

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

import "github.com/pkg/errors"

// ErrNotSupported is returned on platforms without a shared memory
// implementation. The HeapAllocator still works everywhere.
var ErrNotSupported = errors.New("shmem: shared memory not supported on this platform")

// MmapAllocator is a stub on non-Linux platforms; every allocation fails
// with ErrNotSupported.
type MmapAllocator struct{}

// NewMmapAllocator returns the stub allocator.
func NewMmapAllocator(dir, prefix string) *MmapAllocator {
	return &MmapAllocator{}
}

// AllocChunk implements Allocator.
func (a *MmapAllocator) AllocChunk(size int) (*Buffer, error) {
	return nil, errors.Wrap(ErrAllocFailed, ErrNotSupported.Error())
}

// AllocLarge implements Allocator.
func (a *MmapAllocator) AllocLarge(size int) (*Buffer, error) {
	return nil, errors.Wrap(ErrAllocFailed, ErrNotSupported.Error())
}

// Open is a stub on non-Linux platforms.
func Open(dir string, h Handle) (*Buffer, error) {
	return nil, ErrNotSupported
}

func unmapBuffer(data []byte) error {
	return nil
}
