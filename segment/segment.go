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

// Package segment packs byte payloads into a sequence of fixed-capacity
// shared buffers for transmission to a consumer process.
//
// The Writer bump-allocates small payloads into chunks and gives every
// oversized payload a dedicated buffer. Each write returns a Range, a
// location descriptor the paired Reader resolves against the buffer lists
// produced by the same Flush. Writer and Reader are single-threaded; the
// producer builds one batch at a time and flushes it whole.
package segment

import (
	"unsafe"

	"github.com/pkg/errors"

	"github.com/mmBabol/shmstage/metrics"
	"github.com/mmBabol/shmstage/shmem"
)

// RangeKind says which buffer list a Range points into.
type RangeKind uint8

const (
	// RangeSmall addresses the logical concatenation of all small chunks.
	RangeSmall RangeKind = 0x00
	// RangeLarge addresses one dedicated large buffer by index.
	RangeLarge RangeKind = 0x01
)

// Range locates a payload inside a flushed batch. For RangeSmall, Start is
// a global byte offset across all small chunks in allocation order, counted
// in capacity units (chunk index times chunk size plus in-chunk offset).
// For RangeLarge, Start is the index into the large-allocation list.
//
// A Range is only meaningful against the buffer lists emitted by the same
// Flush that produced it.
type Range struct {
	Kind   RangeKind
	Start  uint32
	Length uint32
}

// Writer places payloads into shared buffers obtained from an Allocator.
//
// Not safe for concurrent use; the producing side builds one batch from one
// goroutine.
type Writer struct {
	alloc     shmem.Allocator
	chunkSize int
	cursor    int // bytes used in the last chunk
	small     []*shmem.Buffer
	large     []*shmem.Buffer
}

// NewWriter returns a Writer packing small payloads into chunks of
// chunkSize bytes. The paired Reader must be constructed with the same
// chunk size or every small Range will resolve to the wrong bytes.
func NewWriter(alloc shmem.Allocator, chunkSize int) *Writer {
	return &Writer{alloc: alloc, chunkSize: chunkSize}
}

// ChunkSize returns the configured chunk capacity.
func (w *Writer) ChunkSize() int {
	return w.chunkSize
}

// ChunkCount returns the number of small chunks allocated so far.
func (w *Writer) ChunkCount() int {
	return len(w.small)
}

// LargeCount returns the number of large allocations so far.
func (w *Writer) LargeCount() int {
	return len(w.large)
}

// Cursor returns the number of bytes used in the current chunk.
func (w *Writer) Cursor() int {
	return w.cursor
}

// Write copies data into shared memory and returns its location. Payloads
// larger than the chunk size get a dedicated buffer; everything else is
// bump-allocated into the current chunk, or into a fresh one when the
// remainder is too small. The abandoned remainder is never backfilled.
//
// On allocation failure the writer's state is unchanged and the returned
// error wraps shmem.ErrAllocFailed.
func (w *Writer) Write(data []byte) (Range, error) {
	if len(data) > w.chunkSize {
		return w.writeLarge(data)
	}
	if len(data) == 0 {
		// An empty payload needs no storage; it reads back as empty from
		// any offset, so point it at the current end of the small space.
		return Range{Kind: RangeSmall, Start: w.globalCursor(), Length: 0}, nil
	}
	if len(w.small) == 0 || w.chunkSize-w.cursor < len(data) {
		buf, err := w.alloc.AllocChunk(w.chunkSize)
		if err != nil {
			metrics.WriteFailures.Inc()
			return Range{}, errors.Wrap(err, "alloc chunk")
		}
		if len(w.small) > 0 {
			metrics.BytesWasted.Add(float64(w.chunkSize - w.cursor))
		}
		w.small = append(w.small, buf)
		w.cursor = 0
		metrics.ChunksAllocated.Inc()
	}
	chunk := w.small[len(w.small)-1]
	copy(chunk.Bytes()[w.cursor:], data)
	start := w.globalCursor()
	w.cursor += len(data)
	metrics.BytesWritten.Add(float64(len(data)))
	return Range{Kind: RangeSmall, Start: start, Length: uint32(len(data))}, nil
}

func (w *Writer) writeLarge(data []byte) (Range, error) {
	buf, err := w.alloc.AllocLarge(len(data))
	if err != nil {
		metrics.WriteFailures.Inc()
		return Range{}, errors.Wrap(err, "alloc large buffer")
	}
	copy(buf.Bytes(), data)
	w.large = append(w.large, buf)
	metrics.LargeAllocated.Inc()
	metrics.BytesWritten.Add(float64(len(data)))
	return Range{Kind: RangeLarge, Start: uint32(len(w.large) - 1), Length: uint32(len(data))}, nil
}

// globalCursor is the next small-space offset, in capacity units.
func (w *Writer) globalCursor() uint32 {
	if len(w.small) == 0 {
		return 0
	}
	return uint32((len(w.small)-1)*w.chunkSize + w.cursor)
}

// WriteSlice writes a slice of fixed-size elements as raw bytes. No byte
// order conversion happens; producer and consumer run on the same machine
// by construction of the transport, so the element layout is preserved
// verbatim.
func WriteSlice[T any](w *Writer, vals []T) (Range, error) {
	if len(vals) == 0 {
		return w.Write(nil)
	}
	size := int(unsafe.Sizeof(vals[0]))
	data := unsafe.Slice((*byte)(unsafe.Pointer(&vals[0])), len(vals)*size)
	return w.Write(data)
}

// ReadSlice reinterprets raw payload bytes as a slice of fixed-size
// elements, reversing WriteSlice. The byte length must be an exact
// multiple of the element size.
func ReadSlice[T any](data []byte) ([]T, error) {
	var zero T
	size := int(unsafe.Sizeof(zero))
	if len(data)%size != 0 {
		return nil, errors.Errorf("payload length %d is not a multiple of element size %d", len(data), size)
	}
	if len(data) == 0 {
		return nil, nil
	}
	out := make([]T, len(data)/size)
	copy(unsafe.Slice((*byte)(unsafe.Pointer(&out[0])), len(data)), data)
	return out, nil
}

// Flush move-appends the chunk list to outSmall and the large-allocation
// list to outLarge, in allocation order, then resets the writer to its
// initial state. Ownership of the buffers passes to the caller; the writer
// keeps no references and is immediately reusable for the next batch.
func (w *Writer) Flush(outSmall, outLarge *[]*shmem.Buffer) {
	*outSmall = append(*outSmall, w.small...)
	*outLarge = append(*outLarge, w.large...)
	w.reset()
}

// Clear discards all writer state without producing output, closing and
// removing every buffer. Used on abort paths; nothing was transmitted, so
// the backing files are unlinked here.
func (w *Writer) Clear() {
	for _, buf := range w.small {
		buf.Close()
		buf.Remove()
	}
	for _, buf := range w.large {
		buf.Close()
		buf.Remove()
	}
	w.reset()
}

func (w *Writer) reset() {
	w.small = nil
	w.large = nil
	w.cursor = 0
}
