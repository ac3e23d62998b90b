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

package wire_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mmBabol/shmstage/segment"
	"github.com/mmBabol/shmstage/shmem"
	"github.com/mmBabol/shmstage/update"
	"github.com/mmBabol/shmstage/wire"
)

const testChunkSize = 128

// stageBatch builds a representative batch through the real queue so the
// encoded records carry real ranges.
func stageBatch(t *testing.T) (*wire.Batch, []*shmem.Buffer, []*shmem.Buffer) {
	t.Helper()
	q := update.NewQueueWithChunkSize(shmem.NewHeapAllocator(), testChunkSize)

	imgKey := update.ImageKey{Namespace: 3, ID: 1}
	desc := update.ImageDescriptor{Format: 1, Width: 16, Height: 16, Stride: 64, Opaque: 1}
	img := make([]byte, 90)
	for i := range img {
		img[i] = byte(i)
	}
	font := make([]byte, testChunkSize*2)
	for i := range font {
		font[i] = byte(i * 3)
	}

	require.NoError(t, q.AddImage(imgKey, desc, img))
	require.NoError(t, q.AddRawFont(update.FontKey{Namespace: 3, ID: 2}, font, 1))
	require.NoError(t, q.AddFontInstance(
		update.FontInstanceKey{Namespace: 3, ID: 3},
		update.FontKey{Namespace: 3, ID: 2},
		12.5,
		&update.FontInstanceOptions{RenderMode: 1, Flags: 0x3, BgColor: 0xFF00FF00},
		&update.FontInstancePlatformOptions{LCDFilter: 1, Hinting: 2},
		[]update.FontVariation{{Tag: 0x77676874, Value: 400}},
	))
	require.NoError(t, q.UpdateExternalImage(imgKey, desc, 77, update.ExternalImageBuffer, 2))
	require.NoError(t, q.DeleteFont(update.FontKey{Namespace: 3, ID: 2}))

	var records []update.Record
	var small, large []*shmem.Buffer
	q.Flush(&records, &small, &large)
	return wire.NewBatch(testChunkSize, records, small, large), small, large
}

func TestBatchEncodeDecodeRoundTrip(t *testing.T) {
	batch, small, large := stageBatch(t)

	var buf bytes.Buffer
	require.NoError(t, batch.Encode(&buf))

	decoded, err := wire.Decode(&buf, testChunkSize)
	require.NoError(t, err)

	require.Equal(t, batch.ChunkSize, decoded.ChunkSize)
	require.Equal(t, batch.Records, decoded.Records)
	require.Equal(t, batch.Small, decoded.Small)
	require.Equal(t, batch.Large, decoded.Large)
	require.Equal(t, batch.SmallDigests, decoded.SmallDigests)
	require.Equal(t, batch.LargeDigests, decoded.LargeDigests)

	// The decoded records resolve against the flushed buffers exactly as
	// the originals do.
	r := segment.NewReader(small, large, testChunkSize)
	for i, rec := range decoded.Records {
		if !rec.HasPayload {
			continue
		}
		data, err := r.Read(rec.Payload)
		require.NoErrorf(t, err, "record %d payload", i)
		require.Equal(t, int(rec.Payload.Length), len(data))
	}
}

func TestVerifyBuffers(t *testing.T) {
	batch, small, large := stageBatch(t)

	require.NoError(t, batch.VerifyBuffers(small, large))

	// Flip one byte in a small chunk; verification must fail with the
	// fatal-to-the-batch error.
	small[0].Bytes()[3] ^= 0xFF
	err := batch.VerifyBuffers(small, large)
	require.ErrorIs(t, err, segment.ErrRangeOutOfBounds)
	small[0].Bytes()[3] ^= 0xFF

	require.ErrorIs(t, batch.VerifyBuffers(small, nil), segment.ErrRangeOutOfBounds)
}

func TestDecodeRejectsChunkSizeMismatch(t *testing.T) {
	batch, _, _ := stageBatch(t)

	var buf bytes.Buffer
	require.NoError(t, batch.Encode(&buf))

	_, err := wire.Decode(&buf, testChunkSize*2)
	require.ErrorIs(t, err, wire.ErrBadBatch)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := wire.Decode(bytes.NewReader([]byte("not a batch header at all...")), 0)
	require.ErrorIs(t, err, wire.ErrBadBatch)
}

func TestDecodeRejectsTruncatedStream(t *testing.T) {
	batch, _, _ := stageBatch(t)

	var buf bytes.Buffer
	require.NoError(t, batch.Encode(&buf))
	encoded := buf.Bytes()

	_, err := wire.Decode(bytes.NewReader(encoded[:len(encoded)-10]), 0)
	require.ErrorIs(t, err, wire.ErrBadBatch)
}

func TestDecodeAcceptsAnyChunkSizeWhenUnpinned(t *testing.T) {
	batch, _, _ := stageBatch(t)

	var buf bytes.Buffer
	require.NoError(t, batch.Encode(&buf))

	decoded, err := wire.Decode(&buf, 0)
	require.NoError(t, err)
	require.Equal(t, uint32(testChunkSize), decoded.ChunkSize)
}
