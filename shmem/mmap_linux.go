//go:build linux

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
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// DefaultNamePrefix is prepended to every generated buffer name so stale
// buffers are easy to identify and sweep from /dev/shm.
const DefaultNamePrefix = "shmstage_"

// MmapAllocator allocates buffers as memory-mapped files. New files go
// under dir (defaulting to /dev/shm when available, the temp directory
// otherwise) and are named prefix + a random uuid, so concurrent producers
// never collide.
type MmapAllocator struct {
	dir    string
	prefix string
}

// NewMmapAllocator returns an allocator writing into dir with the given
// name prefix. Empty arguments select the defaults.
func NewMmapAllocator(dir, prefix string) *MmapAllocator {
	if dir == "" {
		dir = defaultShmDir()
	}
	if prefix == "" {
		prefix = DefaultNamePrefix
	}
	return &MmapAllocator{dir: dir, prefix: prefix}
}

// AllocChunk implements Allocator.
func (a *MmapAllocator) AllocChunk(size int) (*Buffer, error) {
	return a.alloc(size)
}

// AllocLarge implements Allocator.
func (a *MmapAllocator) AllocLarge(size int) (*Buffer, error) {
	return a.alloc(size)
}

func (a *MmapAllocator) alloc(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, errors.Wrapf(ErrAllocFailed, "invalid size %d", size)
	}
	name := a.prefix + uuid.NewString()
	path := filepath.Join(a.dir, name)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	if err != nil {
		return nil, errors.Wrapf(ErrAllocFailed, "create %s: %v", path, err)
	}
	if err := file.Truncate(int64(size)); err != nil {
		file.Close()
		os.Remove(path)
		return nil, errors.Wrapf(ErrAllocFailed, "resize %s to %d: %v", path, size, err)
	}
	data, err := unix.Mmap(int(file.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		os.Remove(path)
		return nil, errors.Wrapf(ErrAllocFailed, "mmap %s: %v", path, err)
	}
	return &Buffer{
		handle: Handle{Name: name, Size: uint32(size)},
		data:   data,
		file:   file,
		mapped: true,
	}, nil
}

// Open maps an existing buffer read-only on the consumer side. dir must
// match the producer's allocator directory; an empty dir selects the same
// default the producer used.
func Open(dir string, h Handle) (*Buffer, error) {
	if dir == "" {
		dir = defaultShmDir()
	}
	path := filepath.Join(dir, h.Name)
	file, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "open buffer %s", h.Name)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, errors.Wrapf(err, "stat buffer %s", h.Name)
	}
	if info.Size() < int64(h.Size) {
		file.Close()
		return nil, errors.Errorf("buffer %s is %d bytes, handle says %d", h.Name, info.Size(), h.Size)
	}
	data, err := unix.Mmap(int(file.Fd()), 0, int(h.Size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, errors.Wrapf(err, "mmap buffer %s", h.Name)
	}
	return &Buffer{handle: h, data: data, file: file, mapped: true}, nil
}

func unmapBuffer(data []byte) error {
	return unix.Munmap(data)
}

// defaultShmDir prefers /dev/shm, which gives page-backed files without
// disk writeback, and falls back to the temp directory.
func defaultShmDir() string {
	info, err := os.Stat("/dev/shm")
	if err == nil && info.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}
