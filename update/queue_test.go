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

package update_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mmBabol/shmstage/segment"
	"github.com/mmBabol/shmstage/shmem"
	"github.com/mmBabol/shmstage/update"
)

const testChunkSize = 256

func newTestQueue() *update.Queue {
	return update.NewQueueWithChunkSize(shmem.NewHeapAllocator(), testChunkSize)
}

func payload(n, seed int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte((i*13 + seed) % 256)
	}
	return data
}

func TestCommandOrderPreserved(t *testing.T) {
	q := newTestQueue()
	key := update.ImageKey{Namespace: 1, ID: 7}
	desc := update.ImageDescriptor{Format: 1, Width: 4, Height: 4, Stride: 16}

	require.NoError(t, q.AddImage(key, desc, payload(64, 1)))
	require.NoError(t, q.UpdateImageBuffer(key, desc, payload(64, 2)))
	require.NoError(t, q.DeleteImage(key))

	var records []update.Record
	var small, large []*shmem.Buffer
	q.Flush(&records, &small, &large)

	require.Len(t, records, 3)
	require.Equal(t, update.KindAddImage, records[0].Kind)
	require.Equal(t, update.KindUpdateImageBuffer, records[1].Kind)
	require.Equal(t, update.KindDeleteImage, records[2].Kind)
	for _, rec := range records {
		require.Equal(t, key, rec.Image)
	}
}

func TestInvalidKeysRejected(t *testing.T) {
	q := newTestQueue()
	desc := update.ImageDescriptor{}

	require.ErrorIs(t, q.AddImage(update.ImageKey{}, desc, payload(8, 1)), update.ErrInvalidKey)
	require.ErrorIs(t, q.AddBlobImage(update.ImageKey{}, desc, payload(8, 1)), update.ErrInvalidKey)
	require.ErrorIs(t, q.AddExternalImage(9, update.ImageKey{}), update.ErrInvalidKey)
	require.ErrorIs(t, q.UpdateImageBuffer(update.ImageKey{}, desc, nil), update.ErrInvalidKey)
	require.ErrorIs(t, q.UpdateBlobImage(update.ImageKey{}, desc, nil), update.ErrInvalidKey)
	require.ErrorIs(t, q.UpdateExternalImage(update.ImageKey{}, desc, 9, update.ExternalImageTexture, 0), update.ErrInvalidKey)
	require.ErrorIs(t, q.DeleteImage(update.ImageKey{}), update.ErrInvalidKey)
	require.ErrorIs(t, q.AddRawFont(update.FontKey{}, payload(8, 1), 0), update.ErrInvalidKey)
	require.ErrorIs(t, q.DeleteFont(update.FontKey{}), update.ErrInvalidKey)
	require.ErrorIs(t, q.AddFontInstance(update.FontInstanceKey{}, update.FontKey{Namespace: 1, ID: 1}, 12, nil, nil, nil), update.ErrInvalidKey)
	require.ErrorIs(t, q.AddFontInstance(update.FontInstanceKey{Namespace: 1, ID: 1}, update.FontKey{}, 12, nil, nil, nil), update.ErrInvalidKey)
	require.ErrorIs(t, q.DeleteFontInstance(update.FontInstanceKey{}), update.ErrInvalidKey)

	require.Zero(t, q.Len(), "rejected commands must not append records")
}

func TestWriterFailureAppendsNoRecord(t *testing.T) {
	alloc := &shmem.FailingAllocator{Inner: shmem.NewHeapAllocator(), Budget: 0}
	q := update.NewQueueWithChunkSize(alloc, testChunkSize)
	key := update.ImageKey{Namespace: 1, ID: 1}

	err := q.AddImage(key, update.ImageDescriptor{}, payload(32, 1))
	require.ErrorIs(t, err, shmem.ErrAllocFailed)
	require.Zero(t, q.Len())

	// The queue stays usable: commands without payloads need no
	// allocation and still succeed.
	require.NoError(t, q.DeleteImage(key))
	require.Equal(t, 1, q.Len())
}

func TestFlushRoundTrip(t *testing.T) {
	q := newTestQueue()

	imgKey := update.ImageKey{Namespace: 2, ID: 11}
	fontKey := update.FontKey{Namespace: 2, ID: 12}
	instKey := update.FontInstanceKey{Namespace: 2, ID: 13}
	desc := update.ImageDescriptor{Format: 3, Width: 8, Height: 8, Stride: 32, Opaque: 1}

	imgData := payload(100, 1)
	fontData := payload(testChunkSize * 3, 2) // forces the large path
	variations := []update.FontVariation{
		{Tag: 0x77676874, Value: 650},
		{Tag: 0x6F70737A, Value: 17},
	}
	opts := &update.FontInstanceOptions{RenderMode: 2, Flags: 0x11}

	require.NoError(t, q.AddImage(imgKey, desc, imgData))
	require.NoError(t, q.AddRawFont(fontKey, fontData, 0))
	require.NoError(t, q.AddFontInstance(instKey, fontKey, 14, opts, nil, variations))
	require.NoError(t, q.AddExternalImage(42, update.ImageKey{Namespace: 2, ID: 14}))

	var records []update.Record
	var small, large []*shmem.Buffer
	q.Flush(&records, &small, &large)

	require.Len(t, records, 4)
	require.Zero(t, q.Len(), "flush must clear the record list")
	require.Zero(t, q.Writer().ChunkCount(), "flush must reset the writer")

	r := segment.NewReader(small, large, testChunkSize)

	img, err := r.Read(records[0].Payload)
	require.NoError(t, err)
	require.Equal(t, imgData, img)
	require.Equal(t, desc, records[0].Descriptor)

	require.Equal(t, segment.RangeLarge, records[1].Payload.Kind)
	font, err := r.Read(records[1].Payload)
	require.NoError(t, err)
	require.Equal(t, fontData, font)

	varBytes, err := r.Read(records[2].Payload)
	require.NoError(t, err)
	gotVars, err := segment.ReadSlice[update.FontVariation](varBytes)
	require.NoError(t, err)
	require.Equal(t, variations, gotVars)
	require.Equal(t, float32(14), records[2].GlyphSize)
	require.Equal(t, opts, records[2].Options)

	require.False(t, records[3].HasPayload)
	require.Equal(t, update.ExternalImageID(42), records[3].External)

	// The queue is immediately reusable for the next batch.
	require.NoError(t, q.AddImage(imgKey, desc, payload(10, 9)))
	var records2 []update.Record
	var small2, large2 []*shmem.Buffer
	q.Flush(&records2, &small2, &large2)
	require.Len(t, records2, 1)
	require.Zero(t, records2[0].Payload.Start, "new batch must start at offset zero")
}

func TestClearDiscardsBatch(t *testing.T) {
	q := newTestQueue()
	require.NoError(t, q.AddImage(update.ImageKey{Namespace: 1, ID: 1}, update.ImageDescriptor{}, payload(32, 1)))
	require.Equal(t, 1, q.Len())

	q.Clear()
	require.Zero(t, q.Len())
	require.Zero(t, q.Writer().ChunkCount())

	var records []update.Record
	var small, large []*shmem.Buffer
	q.Flush(&records, &small, &large)
	require.Empty(t, records)
	require.Empty(t, small)
	require.Empty(t, large)
}
