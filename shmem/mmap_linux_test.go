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

package shmem_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/mmBabol/shmstage/shmem"
)

func TestMmapAllocatorRoundTrip(t *testing.T) {
	dir := t.TempDir()
	alloc := shmem.NewMmapAllocator(dir, "test_")

	buf, err := alloc.AllocChunk(4096)
	if err != nil {
		t.Fatalf("AllocChunk: %v", err)
	}
	defer func() {
		buf.Close()
		buf.Remove()
	}()

	if buf.Capacity() != 4096 {
		t.Fatalf("capacity = %d, want 4096", buf.Capacity())
	}
	if !strings.HasPrefix(buf.Handle().Name, "test_") {
		t.Fatalf("handle name %q missing prefix", buf.Handle().Name)
	}

	payload := []byte("staged through a shared mapping")
	copy(buf.Bytes(), payload)

	// A consumer maps the same bytes using only the handle.
	view, err := shmem.Open(dir, buf.Handle())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer view.Close()

	if !bytes.Equal(view.Bytes()[:len(payload)], payload) {
		t.Fatal("consumer view does not see producer bytes")
	}

	// Writes after the consumer mapped must still be visible; the region
	// is MAP_SHARED on both sides.
	copy(buf.Bytes()[8:], []byte("ANOTHER"))
	if !bytes.Equal(view.Bytes()[8:15], []byte("ANOTHER")) {
		t.Fatal("consumer view missed a later producer write")
	}
}

func TestMmapAllocatorFailurePropagates(t *testing.T) {
	// A nonexistent directory makes file creation fail; the error must
	// carry ErrAllocFailed as its cause.
	alloc := shmem.NewMmapAllocator("/nonexistent-shmstage-dir", "test_")
	if _, err := alloc.AllocChunk(4096); !errors.Is(err, shmem.ErrAllocFailed) {
		t.Fatalf("error = %v, want ErrAllocFailed cause", err)
	}
}

func TestOpenUnknownHandle(t *testing.T) {
	if _, err := shmem.Open(t.TempDir(), shmem.Handle{Name: "missing", Size: 64}); err == nil {
		t.Fatal("Open of a missing buffer succeeded")
	}
}

func TestOpenRejectsShortFile(t *testing.T) {
	dir := t.TempDir()
	alloc := shmem.NewMmapAllocator(dir, "test_")
	buf, err := alloc.AllocChunk(64)
	if err != nil {
		t.Fatalf("AllocChunk: %v", err)
	}
	defer func() {
		buf.Close()
		buf.Remove()
	}()

	h := buf.Handle()
	h.Size = 4096 // handle lies about the size
	if _, err := shmem.Open(dir, h); err == nil {
		t.Fatal("Open accepted a handle larger than the backing file")
	}
}
