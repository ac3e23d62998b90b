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

// Package update batches resource-update commands for transmission to a
// rendering consumer. Each command's variable-length payload (raw image
// bytes, font bytes, variation lists) is staged through a segment.Writer;
// the command itself becomes a small fixed-size Record referencing the
// payload's Range. The contents of descriptors and payloads are opaque
// here; this layer only moves bytes.
package update

import (
	"github.com/mmBabol/shmstage/segment"
)

// RecordKind discriminates the update-record union, one value per command.
type RecordKind uint8

const (
	KindAddImage            RecordKind = 0x01
	KindAddBlobImage        RecordKind = 0x02
	KindAddExternalImage    RecordKind = 0x03
	KindUpdateImageBuffer   RecordKind = 0x04
	KindUpdateBlobImage     RecordKind = 0x05
	KindUpdateExternalImage RecordKind = 0x06
	KindDeleteImage         RecordKind = 0x07
	KindAddFont             RecordKind = 0x08
	KindDeleteFont          RecordKind = 0x09
	KindAddFontInstance     RecordKind = 0x0A
	KindDeleteFontInstance  RecordKind = 0x0B
)

// String returns the command name.
func (k RecordKind) String() string {
	switch k {
	case KindAddImage:
		return "AddImage"
	case KindAddBlobImage:
		return "AddBlobImage"
	case KindAddExternalImage:
		return "AddExternalImage"
	case KindUpdateImageBuffer:
		return "UpdateImageBuffer"
	case KindUpdateBlobImage:
		return "UpdateBlobImage"
	case KindUpdateExternalImage:
		return "UpdateExternalImage"
	case KindDeleteImage:
		return "DeleteImage"
	case KindAddFont:
		return "AddFont"
	case KindDeleteFont:
		return "DeleteFont"
	case KindAddFontInstance:
		return "AddFontInstance"
	case KindDeleteFontInstance:
		return "DeleteFontInstance"
	default:
		return "Unknown"
	}
}

// ImageKey identifies an image resource. Keys are issued per producer
// namespace so two producers never collide.
type ImageKey struct {
	Namespace uint32
	ID        uint32
}

// IsZero reports whether the key is unassigned.
func (k ImageKey) IsZero() bool { return k == ImageKey{} }

// FontKey identifies a font resource.
type FontKey struct {
	Namespace uint32
	ID        uint32
}

// IsZero reports whether the key is unassigned.
func (k FontKey) IsZero() bool { return k == FontKey{} }

// FontInstanceKey identifies a sized instance of a font.
type FontInstanceKey struct {
	Namespace uint32
	ID        uint32
}

// IsZero reports whether the key is unassigned.
func (k FontInstanceKey) IsZero() bool { return k == FontInstanceKey{} }

// ExternalImageID identifies an image whose pixels live outside the
// staging layer (a GPU texture, a platform surface). Only the identifier
// crosses the process boundary.
type ExternalImageID uint64

// ExternalImageType says how the consumer should bind an external image.
type ExternalImageType uint8

const (
	ExternalImageTexture ExternalImageType = 0x00
	ExternalImageBuffer  ExternalImageType = 0x01
)

// ImageDescriptor is the fixed-size image metadata carried inline with a
// record. Its fields are opaque to the staging layer.
type ImageDescriptor struct {
	Format uint32
	Width  int32
	Height int32
	Stride int32
	Opaque uint8
}

// FontInstanceOptions is an optional fixed-size block of rendering options
// for a font instance.
type FontInstanceOptions struct {
	RenderMode      uint8
	Flags           uint16
	SyntheticItalic uint8
	BgColor         uint32
}

// FontInstancePlatformOptions is an optional fixed-size block of
// platform-specific font options.
type FontInstancePlatformOptions struct {
	LCDFilter uint8
	Hinting   uint8
	Reserved  uint16
}

// FontVariation is one variable-font axis setting. The list of variations
// for a font instance is the variable-length part of AddFontInstance.
type FontVariation struct {
	Tag   uint32
	Value float32
}

// Record is one resource-update command, a tagged union over Kind. Only
// the fields relevant to the command's kind are meaningful; everything else
// stays zero. Records are plain data; the only thing ever done with one
// after creation is serializing it at flush time.
type Record struct {
	Kind RecordKind

	Image        ImageKey
	Font         FontKey
	FontInstance FontInstanceKey
	External     ExternalImageID

	Descriptor ImageDescriptor
	BufferType ExternalImageType
	Channel    uint8
	FontIndex  uint32
	GlyphSize  float32

	Options         *FontInstanceOptions
	PlatformOptions *FontInstancePlatformOptions

	// Payload locates the command's variable-length bytes (image or font
	// data, or the variation list for AddFontInstance). Valid only for
	// kinds that carry a payload.
	Payload segment.Range
	// HasPayload distinguishes a zero-length payload from no payload.
	HasPayload bool
}
