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

package update

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mmBabol/shmstage/config"
	"github.com/mmBabol/shmstage/metrics"
	"github.com/mmBabol/shmstage/segment"
	"github.com/mmBabol/shmstage/shmem"
)

// ErrInvalidKey reports a structurally invalid command, such as an
// unassigned resource key. Rejected at the call site, never deferred.
var ErrInvalidKey = errors.New("update: invalid resource key")

// Queue accumulates resource-update commands for one batch. Commands are
// appended in call order and that order is preserved through Flush; a later
// update or delete for a key must be applied after the add that created it.
//
// If a command fails (allocation failure in the writer), no record is
// appended and the queue stays valid for further commands. The recommended
// caller policy is to Clear the whole batch and retry later, since a
// half-written batch has no partial-application semantics.
//
// Not safe for concurrent use.
type Queue struct {
	writer  *segment.Writer
	records []Record
}

// NewQueue returns a queue staging payloads through the given allocator
// with the default chunk size.
func NewQueue(alloc shmem.Allocator) *Queue {
	return NewQueueWithChunkSize(alloc, config.DefaultChunkSize)
}

// NewQueueWithChunkSize is NewQueue with an explicit chunk size. The
// consumer must construct its reader with the same size.
func NewQueueWithChunkSize(alloc shmem.Allocator, chunkSize int) *Queue {
	return &Queue{writer: segment.NewWriter(alloc, chunkSize)}
}

// Len returns the number of pending records.
func (q *Queue) Len() int {
	return len(q.records)
}

// Writer exposes the queue's segment writer for diagnostics.
func (q *Queue) Writer() *segment.Writer {
	return q.writer
}

// AddImage stages image data and queues a command adding it under key.
func (q *Queue) AddImage(key ImageKey, desc ImageDescriptor, data []byte) error {
	if key.IsZero() {
		return errors.Wrap(ErrInvalidKey, "add image")
	}
	rng, err := q.writer.Write(data)
	if err != nil {
		return errors.Wrap(err, "add image")
	}
	q.records = append(q.records, Record{
		Kind:       KindAddImage,
		Image:      key,
		Descriptor: desc,
		Payload:    rng,
		HasPayload: true,
	})
	return nil
}

// AddBlobImage stages serialized blob commands and queues a command adding
// the blob image under key.
func (q *Queue) AddBlobImage(key ImageKey, desc ImageDescriptor, data []byte) error {
	if key.IsZero() {
		return errors.Wrap(ErrInvalidKey, "add blob image")
	}
	rng, err := q.writer.Write(data)
	if err != nil {
		return errors.Wrap(err, "add blob image")
	}
	q.records = append(q.records, Record{
		Kind:       KindAddBlobImage,
		Image:      key,
		Descriptor: desc,
		Payload:    rng,
		HasPayload: true,
	})
	return nil
}

// AddExternalImage queues a command binding an externally-owned image to
// key. There is no payload; only the identifiers cross the boundary.
func (q *Queue) AddExternalImage(ext ExternalImageID, key ImageKey) error {
	if key.IsZero() {
		return errors.Wrap(ErrInvalidKey, "add external image")
	}
	q.records = append(q.records, Record{
		Kind:     KindAddExternalImage,
		Image:    key,
		External: ext,
	})
	return nil
}

// UpdateImageBuffer stages replacement pixels for an existing image.
func (q *Queue) UpdateImageBuffer(key ImageKey, desc ImageDescriptor, data []byte) error {
	if key.IsZero() {
		return errors.Wrap(ErrInvalidKey, "update image buffer")
	}
	rng, err := q.writer.Write(data)
	if err != nil {
		return errors.Wrap(err, "update image buffer")
	}
	q.records = append(q.records, Record{
		Kind:       KindUpdateImageBuffer,
		Image:      key,
		Descriptor: desc,
		Payload:    rng,
		HasPayload: true,
	})
	return nil
}

// UpdateBlobImage stages replacement blob commands for an existing blob
// image.
func (q *Queue) UpdateBlobImage(key ImageKey, desc ImageDescriptor, data []byte) error {
	if key.IsZero() {
		return errors.Wrap(ErrInvalidKey, "update blob image")
	}
	rng, err := q.writer.Write(data)
	if err != nil {
		return errors.Wrap(err, "update blob image")
	}
	q.records = append(q.records, Record{
		Kind:       KindUpdateBlobImage,
		Image:      key,
		Descriptor: desc,
		Payload:    rng,
		HasPayload: true,
	})
	return nil
}

// UpdateExternalImage queues a rebind of an existing key to an external
// image. No payload.
func (q *Queue) UpdateExternalImage(key ImageKey, desc ImageDescriptor, ext ExternalImageID, bufferType ExternalImageType, channel uint8) error {
	if key.IsZero() {
		return errors.Wrap(ErrInvalidKey, "update external image")
	}
	q.records = append(q.records, Record{
		Kind:       KindUpdateExternalImage,
		Image:      key,
		Descriptor: desc,
		External:   ext,
		BufferType: bufferType,
		Channel:    channel,
	})
	return nil
}

// DeleteImage queues removal of an image key. No payload.
func (q *Queue) DeleteImage(key ImageKey) error {
	if key.IsZero() {
		return errors.Wrap(ErrInvalidKey, "delete image")
	}
	q.records = append(q.records, Record{Kind: KindDeleteImage, Image: key})
	return nil
}

// AddRawFont stages raw font bytes and queues a command adding the font
// under key. index selects the face within a font collection.
func (q *Queue) AddRawFont(key FontKey, data []byte, index uint32) error {
	if key.IsZero() {
		return errors.Wrap(ErrInvalidKey, "add raw font")
	}
	rng, err := q.writer.Write(data)
	if err != nil {
		return errors.Wrap(err, "add raw font")
	}
	q.records = append(q.records, Record{
		Kind:       KindAddFont,
		Font:       key,
		FontIndex:  index,
		Payload:    rng,
		HasPayload: true,
	})
	return nil
}

// DeleteFont queues removal of a font key. No payload.
func (q *Queue) DeleteFont(key FontKey) error {
	if key.IsZero() {
		return errors.Wrap(ErrInvalidKey, "delete font")
	}
	q.records = append(q.records, Record{Kind: KindDeleteFont, Font: key})
	return nil
}

// AddFontInstance queues creation of a sized font instance. The variation
// list is the variable-length part and is staged through the writer; the
// option blocks are small and fixed-size, so they ride inline.
func (q *Queue) AddFontInstance(
	key FontInstanceKey,
	fontKey FontKey,
	glyphSize float32,
	options *FontInstanceOptions,
	platformOptions *FontInstancePlatformOptions,
	variations []FontVariation,
) error {
	if key.IsZero() || fontKey.IsZero() {
		return errors.Wrap(ErrInvalidKey, "add font instance")
	}
	rng, err := segment.WriteSlice(q.writer, variations)
	if err != nil {
		return errors.Wrap(err, "add font instance")
	}
	q.records = append(q.records, Record{
		Kind:            KindAddFontInstance,
		FontInstance:    key,
		Font:            fontKey,
		GlyphSize:       glyphSize,
		Options:         options,
		PlatformOptions: platformOptions,
		Payload:         rng,
		HasPayload:      true,
	})
	return nil
}

// DeleteFontInstance queues removal of a font instance key. No payload.
func (q *Queue) DeleteFontInstance(key FontInstanceKey) error {
	if key.IsZero() {
		return errors.Wrap(ErrInvalidKey, "delete font instance")
	}
	q.records = append(q.records, Record{Kind: KindDeleteFontInstance, FontInstance: key})
	return nil
}

// Clear discards the pending batch: the record list is emptied and every
// staged buffer is released. Used to abort a partially built batch.
func (q *Queue) Clear() {
	if len(q.records) > 0 {
		logrus.WithField("records", len(q.records)).Debug("discarding staged update batch")
	}
	q.records = nil
	q.writer.Clear()
}

// Flush appends the record list in original command order to outRecords,
// then flushes the writer's buffers into outSmall and outLarge. Afterwards
// the queue is empty and immediately reusable; ownership of records and
// buffers passes to the caller. This is the single point where a batch
// becomes transmittable.
func (q *Queue) Flush(outRecords *[]Record, outSmall, outLarge *[]*shmem.Buffer) {
	*outRecords = append(*outRecords, q.records...)
	q.records = nil
	q.writer.Flush(outSmall, outLarge)
	metrics.BatchesFlushed.Inc()
}
