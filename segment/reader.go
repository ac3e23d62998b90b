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

package segment

import (
	"github.com/pkg/errors"

	"github.com/mmBabol/shmstage/shmem"
)

// ErrRangeOutOfBounds reports a Range that does not fit the supplied buffer
// lists. It means the batch is corrupted or the reader was constructed with
// the wrong chunk size; the whole batch must be discarded, never silently
// truncated.
var ErrRangeOutOfBounds = errors.New("segment: range out of bounds")

// Reader reconstructs payloads from the buffer lists produced by a matching
// Writer.Flush. It must be given the same chunk size the writer used, since
// small-range offsets are interpreted in chunk-capacity units.
//
// The reader never mutates the buffers and may be used for any number of
// reads over the same flushed batch.
type Reader struct {
	small     []*shmem.Buffer
	large     []*shmem.Buffer
	chunkSize int
}

// NewReader returns a Reader over one flushed batch.
func NewReader(small, large []*shmem.Buffer, chunkSize int) *Reader {
	return &Reader{small: small, large: large, chunkSize: chunkSize}
}

// Read copies out the exact bytes a Range refers to. Small ranges may span
// chunk boundaries; the copy continues from the start of the next chunk in
// order. Any index, offset, or length that does not fit the buffer lists
// fails with ErrRangeOutOfBounds.
func (r *Reader) Read(rg Range) ([]byte, error) {
	switch rg.Kind {
	case RangeLarge:
		return r.readLarge(rg)
	case RangeSmall:
		return r.readSmall(rg)
	default:
		return nil, errors.Wrapf(ErrRangeOutOfBounds, "unknown range kind %d", rg.Kind)
	}
}

func (r *Reader) readLarge(rg Range) ([]byte, error) {
	if int(rg.Start) >= len(r.large) {
		return nil, errors.Wrapf(ErrRangeOutOfBounds, "large index %d of %d buffers", rg.Start, len(r.large))
	}
	buf := r.large[rg.Start]
	if int(rg.Length) > buf.Capacity() {
		return nil, errors.Wrapf(ErrRangeOutOfBounds, "length %d exceeds large buffer of %d", rg.Length, buf.Capacity())
	}
	out := make([]byte, rg.Length)
	copy(out, buf.Bytes())
	return out, nil
}

func (r *Reader) readSmall(rg Range) ([]byte, error) {
	if rg.Length == 0 {
		return nil, nil
	}
	chunk := int(rg.Start) / r.chunkSize
	offset := int(rg.Start) % r.chunkSize
	out := make([]byte, 0, rg.Length)
	remaining := int(rg.Length)
	for remaining > 0 {
		if chunk >= len(r.small) {
			return nil, errors.Wrapf(ErrRangeOutOfBounds, "offset %d length %d exhausts %d chunks", rg.Start, rg.Length, len(r.small))
		}
		data := r.small[chunk].Bytes()
		n := r.chunkSize - offset
		if n > remaining {
			n = remaining
		}
		if offset+n > len(data) {
			return nil, errors.Wrapf(ErrRangeOutOfBounds, "chunk %d is %d bytes, need %d", chunk, len(data), offset+n)
		}
		out = append(out, data[offset:offset+n]...)
		remaining -= n
		chunk++
		offset = 0
	}
	return out, nil
}
