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

// Package wire serializes a flushed update batch for the transport. The
// transport itself (sockets, pipes, whatever carries the bytes) is not this
// package's business; it only turns the triple of records, small-buffer
// handles, and large-buffer handles into a byte stream and back.
//
// Batch header layout (32 bytes, little-endian):
//
//	[8]byte magic      // "SHMSTAGE"
//	uint32  version    // protocol version
//	uint32  chunkSize  // writer chunk capacity, in bytes
//	uint32  records    // record count
//	uint32  small      // small-buffer count
//	uint32  large      // large-buffer count
//	uint32  reserved   // set to zero
//
// Each buffer handle travels with a blake3 digest of the buffer contents so
// the consumer can reject a corrupted or mismatched mapping before reading
// any range out of it.
package wire

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
	"lukechampine.com/blake3"

	"github.com/mmBabol/shmstage/segment"
	"github.com/mmBabol/shmstage/shmem"
	"github.com/mmBabol/shmstage/update"
)

const (
	// Version is the current batch protocol version.
	Version = uint32(1)

	batchHeaderSize = 32
	maxHandleName   = 255
)

var batchMagic = [8]byte{'S', 'H', 'M', 'S', 'T', 'A', 'G', 'E'}

// ErrBadBatch reports a batch stream that cannot be decoded: wrong magic,
// wrong version, truncated data, or a chunk size disagreeing with the
// consumer's expectation. Fatal to the batch.
var ErrBadBatch = errors.New("wire: malformed batch")

// DigestSize is the size of a buffer digest in bytes.
const DigestSize = 32

// Batch is one flushed accumulate-then-emit cycle in transmissible form.
type Batch struct {
	ChunkSize uint32
	Records   []update.Record

	Small        []shmem.Handle
	Large        []shmem.Handle
	SmallDigests [][DigestSize]byte
	LargeDigests [][DigestSize]byte
}

// NewBatch captures a flushed triple, computing the per-buffer digests.
func NewBatch(chunkSize int, records []update.Record, small, large []*shmem.Buffer) *Batch {
	b := &Batch{
		ChunkSize: uint32(chunkSize),
		Records:   records,
	}
	for _, buf := range small {
		b.Small = append(b.Small, buf.Handle())
		b.SmallDigests = append(b.SmallDigests, blake3.Sum256(buf.Bytes()))
	}
	for _, buf := range large {
		b.Large = append(b.Large, buf.Handle())
		b.LargeDigests = append(b.LargeDigests, blake3.Sum256(buf.Bytes()))
	}
	return b
}

// VerifyBuffers checks re-mapped consumer-side buffers against the digests
// carried in the batch. Any mismatch means the mapping is corrupted or the
// wrong buffers were mapped; the whole batch must be discarded.
func (b *Batch) VerifyBuffers(small, large []*shmem.Buffer) error {
	if len(small) != len(b.Small) || len(large) != len(b.Large) {
		return errors.Wrapf(segment.ErrRangeOutOfBounds,
			"buffer count mismatch: %d/%d small, %d/%d large",
			len(small), len(b.Small), len(large), len(b.Large))
	}
	for i, buf := range small {
		if blake3.Sum256(buf.Bytes()) != b.SmallDigests[i] {
			return errors.Wrapf(segment.ErrRangeOutOfBounds, "small buffer %d digest mismatch", i)
		}
	}
	for i, buf := range large {
		if blake3.Sum256(buf.Bytes()) != b.LargeDigests[i] {
			return errors.Wrapf(segment.ErrRangeOutOfBounds, "large buffer %d digest mismatch", i)
		}
	}
	return nil
}

// Encode writes the batch to w.
func (b *Batch) Encode(w io.Writer) error {
	enc := &encoder{}
	enc.bytes(batchMagic[:])
	enc.u32(Version)
	enc.u32(b.ChunkSize)
	enc.u32(uint32(len(b.Records)))
	enc.u32(uint32(len(b.Small)))
	enc.u32(uint32(len(b.Large)))
	enc.u32(0) // reserved

	for i := range b.Records {
		if err := encodeRecord(enc, &b.Records[i]); err != nil {
			return err
		}
	}
	for i, h := range b.Small {
		if err := encodeHandle(enc, h, b.SmallDigests[i]); err != nil {
			return err
		}
	}
	for i, h := range b.Large {
		if err := encodeHandle(enc, h, b.LargeDigests[i]); err != nil {
			return err
		}
	}
	if _, err := w.Write(enc.buf); err != nil {
		return errors.Wrap(err, "write batch")
	}
	return nil
}

// Decode reads one batch from r. expectChunkSize is the consumer's
// configured chunk size; a batch produced with a different size is rejected
// here rather than misread later. Pass 0 to accept any chunk size.
func Decode(r io.Reader, expectChunkSize int) (*Batch, error) {
	var hdr [batchHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, errors.Wrapf(ErrBadBatch, "read header: %v", err)
	}
	dec := &decoder{buf: hdr[:]}
	var magic [8]byte
	dec.bytes(magic[:])
	if magic != batchMagic {
		return nil, errors.Wrapf(ErrBadBatch, "bad magic %q", magic)
	}
	if v := dec.u32(); v != Version {
		return nil, errors.Wrapf(ErrBadBatch, "unsupported version %d", v)
	}
	b := &Batch{ChunkSize: dec.u32()}
	recordCount := dec.u32()
	smallCount := dec.u32()
	largeCount := dec.u32()
	dec.u32() // reserved
	if dec.err != nil {
		return nil, dec.err
	}
	if expectChunkSize != 0 && b.ChunkSize != uint32(expectChunkSize) {
		return nil, errors.Wrapf(ErrBadBatch, "chunk size %d, consumer expects %d", b.ChunkSize, expectChunkSize)
	}

	body := &decoder{r: r}
	for i := uint32(0); i < recordCount; i++ {
		rec, err := decodeRecord(body)
		if err != nil {
			return nil, err
		}
		b.Records = append(b.Records, rec)
	}
	for i := uint32(0); i < smallCount; i++ {
		h, digest, err := decodeHandle(body)
		if err != nil {
			return nil, err
		}
		b.Small = append(b.Small, h)
		b.SmallDigests = append(b.SmallDigests, digest)
	}
	for i := uint32(0); i < largeCount; i++ {
		h, digest, err := decodeHandle(body)
		if err != nil {
			return nil, err
		}
		b.Large = append(b.Large, h)
		b.LargeDigests = append(b.LargeDigests, digest)
	}
	return b, nil
}

// Record flags
const (
	flagHasPayload      = uint8(0x01)
	flagHasOptions      = uint8(0x02)
	flagHasPlatformOpts = uint8(0x04)
)

func encodeRecord(enc *encoder, rec *update.Record) error {
	enc.u8(uint8(rec.Kind))
	var flags uint8
	if rec.HasPayload {
		flags |= flagHasPayload
	}
	if rec.Options != nil {
		flags |= flagHasOptions
	}
	if rec.PlatformOptions != nil {
		flags |= flagHasPlatformOpts
	}
	enc.u8(flags)

	switch rec.Kind {
	case update.KindAddImage, update.KindAddBlobImage,
		update.KindUpdateImageBuffer, update.KindUpdateBlobImage:
		enc.u32(rec.Image.Namespace)
		enc.u32(rec.Image.ID)
		encodeDescriptor(enc, rec.Descriptor)
		encodeRange(enc, rec.Payload)
	case update.KindAddExternalImage:
		enc.u32(rec.Image.Namespace)
		enc.u32(rec.Image.ID)
		enc.u64(uint64(rec.External))
	case update.KindUpdateExternalImage:
		enc.u32(rec.Image.Namespace)
		enc.u32(rec.Image.ID)
		encodeDescriptor(enc, rec.Descriptor)
		enc.u64(uint64(rec.External))
		enc.u8(uint8(rec.BufferType))
		enc.u8(rec.Channel)
	case update.KindDeleteImage:
		enc.u32(rec.Image.Namespace)
		enc.u32(rec.Image.ID)
	case update.KindAddFont:
		enc.u32(rec.Font.Namespace)
		enc.u32(rec.Font.ID)
		enc.u32(rec.FontIndex)
		encodeRange(enc, rec.Payload)
	case update.KindDeleteFont:
		enc.u32(rec.Font.Namespace)
		enc.u32(rec.Font.ID)
	case update.KindAddFontInstance:
		enc.u32(rec.FontInstance.Namespace)
		enc.u32(rec.FontInstance.ID)
		enc.u32(rec.Font.Namespace)
		enc.u32(rec.Font.ID)
		enc.f32(rec.GlyphSize)
		if rec.Options != nil {
			enc.u8(rec.Options.RenderMode)
			enc.u16(rec.Options.Flags)
			enc.u8(rec.Options.SyntheticItalic)
			enc.u32(rec.Options.BgColor)
		}
		if rec.PlatformOptions != nil {
			enc.u8(rec.PlatformOptions.LCDFilter)
			enc.u8(rec.PlatformOptions.Hinting)
			enc.u16(rec.PlatformOptions.Reserved)
		}
		encodeRange(enc, rec.Payload)
	case update.KindDeleteFontInstance:
		enc.u32(rec.FontInstance.Namespace)
		enc.u32(rec.FontInstance.ID)
	default:
		return errors.Wrapf(ErrBadBatch, "cannot encode record kind %d", rec.Kind)
	}
	return nil
}

func decodeRecord(dec *decoder) (update.Record, error) {
	kind := update.RecordKind(dec.u8())
	flags := dec.u8()
	rec := update.Record{
		Kind:       kind,
		HasPayload: flags&flagHasPayload != 0,
	}

	switch kind {
	case update.KindAddImage, update.KindAddBlobImage,
		update.KindUpdateImageBuffer, update.KindUpdateBlobImage:
		rec.Image.Namespace = dec.u32()
		rec.Image.ID = dec.u32()
		rec.Descriptor = decodeDescriptor(dec)
		rec.Payload = decodeRange(dec)
	case update.KindAddExternalImage:
		rec.Image.Namespace = dec.u32()
		rec.Image.ID = dec.u32()
		rec.External = update.ExternalImageID(dec.u64())
	case update.KindUpdateExternalImage:
		rec.Image.Namespace = dec.u32()
		rec.Image.ID = dec.u32()
		rec.Descriptor = decodeDescriptor(dec)
		rec.External = update.ExternalImageID(dec.u64())
		rec.BufferType = update.ExternalImageType(dec.u8())
		rec.Channel = dec.u8()
	case update.KindDeleteImage:
		rec.Image.Namespace = dec.u32()
		rec.Image.ID = dec.u32()
	case update.KindAddFont:
		rec.Font.Namespace = dec.u32()
		rec.Font.ID = dec.u32()
		rec.FontIndex = dec.u32()
		rec.Payload = decodeRange(dec)
	case update.KindDeleteFont:
		rec.Font.Namespace = dec.u32()
		rec.Font.ID = dec.u32()
	case update.KindAddFontInstance:
		rec.FontInstance.Namespace = dec.u32()
		rec.FontInstance.ID = dec.u32()
		rec.Font.Namespace = dec.u32()
		rec.Font.ID = dec.u32()
		rec.GlyphSize = dec.f32()
		if flags&flagHasOptions != 0 {
			rec.Options = &update.FontInstanceOptions{
				RenderMode:      dec.u8(),
				Flags:           dec.u16(),
				SyntheticItalic: dec.u8(),
				BgColor:         dec.u32(),
			}
		}
		if flags&flagHasPlatformOpts != 0 {
			rec.PlatformOptions = &update.FontInstancePlatformOptions{
				LCDFilter: dec.u8(),
				Hinting:   dec.u8(),
				Reserved:  dec.u16(),
			}
		}
		rec.Payload = decodeRange(dec)
	case update.KindDeleteFontInstance:
		rec.FontInstance.Namespace = dec.u32()
		rec.FontInstance.ID = dec.u32()
	default:
		return rec, errors.Wrapf(ErrBadBatch, "unknown record kind %d", kind)
	}
	if dec.err != nil {
		return rec, errors.Wrapf(ErrBadBatch, "decode %s record: %v", kind, dec.err)
	}
	return rec, nil
}

func encodeDescriptor(enc *encoder, d update.ImageDescriptor) {
	enc.u32(d.Format)
	enc.u32(uint32(d.Width))
	enc.u32(uint32(d.Height))
	enc.u32(uint32(d.Stride))
	enc.u8(d.Opaque)
}

func decodeDescriptor(dec *decoder) update.ImageDescriptor {
	return update.ImageDescriptor{
		Format: dec.u32(),
		Width:  int32(dec.u32()),
		Height: int32(dec.u32()),
		Stride: int32(dec.u32()),
		Opaque: dec.u8(),
	}
}

func encodeRange(enc *encoder, r segment.Range) {
	enc.u8(uint8(r.Kind))
	enc.u32(r.Start)
	enc.u32(r.Length)
}

func decodeRange(dec *decoder) segment.Range {
	return segment.Range{
		Kind:   segment.RangeKind(dec.u8()),
		Start:  dec.u32(),
		Length: dec.u32(),
	}
}

func encodeHandle(enc *encoder, h shmem.Handle, digest [DigestSize]byte) error {
	if len(h.Name) > maxHandleName {
		return errors.Wrapf(ErrBadBatch, "handle name %q too long", h.Name)
	}
	enc.u8(uint8(len(h.Name)))
	enc.bytes([]byte(h.Name))
	enc.u32(h.Size)
	enc.bytes(digest[:])
	return nil
}

func decodeHandle(dec *decoder) (shmem.Handle, [DigestSize]byte, error) {
	var digest [DigestSize]byte
	nameLen := dec.u8()
	name := make([]byte, nameLen)
	dec.bytes(name)
	h := shmem.Handle{Name: string(name), Size: dec.u32()}
	dec.bytes(digest[:])
	if dec.err != nil {
		return h, digest, errors.Wrapf(ErrBadBatch, "decode handle: %v", dec.err)
	}
	return h, digest, nil
}

// String summarizes the batch for logs.
func (b *Batch) String() string {
	return fmt.Sprintf("batch{records=%d small=%d large=%d chunk=%d}",
		len(b.Records), len(b.Small), len(b.Large), b.ChunkSize)
}
