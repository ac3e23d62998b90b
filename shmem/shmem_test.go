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
	"errors"
	"testing"

	"github.com/mmBabol/shmstage/shmem"
)

func TestHeapAllocator(t *testing.T) {
	alloc := shmem.NewHeapAllocator()

	chunk, err := alloc.AllocChunk(128)
	if err != nil {
		t.Fatalf("AllocChunk: %v", err)
	}
	if chunk.Capacity() != 128 {
		t.Fatalf("capacity = %d, want 128", chunk.Capacity())
	}
	if chunk.Handle().Size != 128 {
		t.Fatalf("handle size = %d, want 128", chunk.Handle().Size)
	}

	large, err := alloc.AllocLarge(4096)
	if err != nil {
		t.Fatalf("AllocLarge: %v", err)
	}
	if large.Handle().Name == chunk.Handle().Name {
		t.Fatalf("duplicate handle name %q", large.Handle().Name)
	}

	if err := chunk.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := chunk.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := chunk.Remove(); err != nil {
		t.Fatalf("Remove: %v", err)
	}
}

func TestHeapAllocatorRejectsInvalidSize(t *testing.T) {
	alloc := shmem.NewHeapAllocator()
	for _, size := range []int{0, -1} {
		if _, err := alloc.AllocChunk(size); !errors.Is(err, shmem.ErrAllocFailed) {
			t.Fatalf("AllocChunk(%d) error = %v, want ErrAllocFailed", size, err)
		}
	}
}

func TestFailingAllocatorBudget(t *testing.T) {
	alloc := &shmem.FailingAllocator{Inner: shmem.NewHeapAllocator(), Budget: 2}

	if _, err := alloc.AllocChunk(16); err != nil {
		t.Fatalf("first alloc: %v", err)
	}
	if _, err := alloc.AllocLarge(16); err != nil {
		t.Fatalf("second alloc: %v", err)
	}
	if _, err := alloc.AllocChunk(16); !errors.Is(err, shmem.ErrAllocFailed) {
		t.Fatal("third alloc succeeded, want budget exhaustion")
	}
	if _, err := alloc.AllocLarge(16); !errors.Is(err, shmem.ErrAllocFailed) {
		t.Fatal("fourth alloc succeeded, want budget exhaustion")
	}
}
