// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2025 Canonical Ltd
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 3 as
 * published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package testutil

import (
	"encoding/binary"
	"math/bits"

	"github.com/pierrec/lz4/v4"
)

// SquashFS on-disk constants used when assembling test images.
const (
	SuperblockSize    = 96
	MetadataBlockSize = 8192

	MetadataUncompressed  = 1 << 15
	BlockSizeUncompressed = 1 << 24

	InvalidFragment = 0xffffffff

	CompressionLzo = 3
	CompressionLz4 = 5
)

// DataBlock is one data block of a file under construction.
type DataBlock struct {
	// Payload is stored in the data area verbatim; for compressed
	// blocks it must already be valid compressed data.
	Payload []byte
	// Uncompressed marks the block's size word accordingly.
	Uncompressed bool
	// Sparse emits a zero-length size word and no payload.
	Sparse bool
}

type fileRecord struct {
	fileSize uint64
	fragment uint32
	blocks   []DataBlock
	startRel uint64
}

type inodeItem struct {
	raw  []byte
	file *fileRecord
}

type fragmentRecord struct {
	payload      []byte
	uncompressed bool
	offsetRel    uint64
}

// ImageBuilder assembles a minimal but structurally valid SquashFS
// 4.0 image, one on-disk record at a time. Metadata is written as
// uncompressed metadata blocks unless CompressMetadata is set.
type ImageBuilder struct {
	// BlockSize is the data block size (default 128 KiB).
	BlockSize uint32
	// Compression is the superblock compression id.
	Compression uint16
	// Options is the raw compression-options blob, nil for none.
	Options []byte
	// CompressMetadata stores the metadata stream as LZ4-compressed
	// metadata blocks instead of uncompressed ones.
	CompressMetadata bool

	data      []byte
	items     []inodeItem
	fragments []*fragmentRecord
}

// NewImageBuilder returns a builder for an image using the given
// compression id and options blob.
func NewImageBuilder(compression uint16, options []byte) *ImageBuilder {
	return &ImageBuilder{
		BlockSize:   128 * 1024,
		Compression: compression,
		Options:     options,
	}
}

func le16(v uint16) []byte {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return b[:]
}

func le32(v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return b[:]
}

func le64(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}

func inodeBase(inodeType uint16, ino uint32) []byte {
	base := le16(inodeType)
	base = append(base, le16(0644)...) // mode
	base = append(base, le16(0)...)    // uid
	base = append(base, le16(0)...)    // guid
	base = append(base, le32(0)...)    // mtime
	base = append(base, le32(ino)...)  // inode_number
	return base
}

// AddDirectory appends a basic directory inode.
func (b *ImageBuilder) AddDirectory() {
	rec := inodeBase(1, uint32(len(b.items)+1))
	rec = append(rec, le32(0)...) // start_block
	rec = append(rec, le32(2)...) // nlink
	rec = append(rec, le16(3)...) // file_size (empty)
	rec = append(rec, le16(0)...) // offset
	rec = append(rec, le32(1)...) // parent_inode
	b.items = append(b.items, inodeItem{raw: rec})
}

// AddSymlink appends a symlink inode pointing at target.
func (b *ImageBuilder) AddSymlink(target string) {
	rec := inodeBase(3, uint32(len(b.items)+1))
	rec = append(rec, le32(1)...)                   // nlink
	rec = append(rec, le32(uint32(len(target)))...) // symlink_size
	rec = append(rec, target...)
	b.items = append(b.items, inodeItem{raw: rec})
}

// AddRawInode appends an arbitrary inode record verbatim, for
// corruption tests.
func (b *ImageBuilder) AddRawInode(record []byte) {
	b.items = append(b.items, inodeItem{raw: record})
}

// AddRegularFile appends a regular-file inode with the given data
// blocks, storing their payloads in the data area.
func (b *ImageBuilder) AddRegularFile(fileSize uint64, fragment uint32, blocks []DataBlock) {
	file := &fileRecord{
		fileSize: fileSize,
		fragment: fragment,
		blocks:   blocks,
		startRel: uint64(len(b.data)),
	}
	for _, blk := range blocks {
		if !blk.Sparse {
			b.data = append(b.data, blk.Payload...)
		}
	}
	b.items = append(b.items, inodeItem{file: file})
}

// AddFragment appends one fragment entry whose payload is stored in
// the data area.
func (b *ImageBuilder) AddFragment(payload []byte, uncompressed bool) {
	b.fragments = append(b.fragments, &fragmentRecord{
		payload:      payload,
		uncompressed: uncompressed,
		offsetRel:    uint64(len(b.data)),
	})
	b.data = append(b.data, payload...)
}

// packMetadata splits a logical stream into metadata blocks.
func (b *ImageBuilder) packMetadata(stream []byte) []byte {
	var out []byte
	for len(stream) > 0 {
		chunk := stream
		if len(chunk) > MetadataBlockSize {
			chunk = chunk[:MetadataBlockSize]
		}
		stream = stream[len(chunk):]

		if b.CompressMetadata {
			compressed := make([]byte, lz4.CompressBlockBound(len(chunk)))
			var c lz4.Compressor
			n, err := c.CompressBlock(chunk, compressed)
			if err == nil && n > 0 && n < len(chunk) {
				out = append(out, le16(uint16(n))...)
				out = append(out, compressed[:n]...)
				continue
			}
			// incompressible, store it raw
		}
		out = append(out, le16(uint16(len(chunk))|MetadataUncompressed)...)
		out = append(out, chunk...)
	}
	return out
}

// Build assembles the image.
func (b *ImageBuilder) Build() []byte {
	headerLen := uint64(SuperblockSize)
	if b.Options != nil {
		headerLen += 2 + uint64(len(b.Options))
	}
	dataStart := headerLen

	// assemble the inode stream now that data offsets are absolute
	var stream []byte
	for i, item := range b.items {
		if item.file == nil {
			stream = append(stream, item.raw...)
			continue
		}

		file := item.file
		rec := inodeBase(2, uint32(i+1))
		rec = append(rec, le32(uint32(dataStart+file.startRel))...) // start_block
		rec = append(rec, le32(file.fragment)...)
		rec = append(rec, le32(0)...) // offset in fragment
		rec = append(rec, le32(uint32(file.fileSize))...)
		for _, blk := range file.blocks {
			word := uint32(0)
			if !blk.Sparse {
				word = uint32(len(blk.Payload))
				if blk.Uncompressed {
					word |= BlockSizeUncompressed
				}
			}
			rec = append(rec, le32(word)...)
		}
		stream = append(stream, rec...)
	}
	inodeTable := b.packMetadata(stream)

	// fragment entries and their index
	var fragmentStream []byte
	for _, frag := range b.fragments {
		word := uint32(len(frag.payload))
		if frag.uncompressed {
			word |= BlockSizeUncompressed
		}
		fragmentStream = append(fragmentStream, le64(dataStart+frag.offsetRel)...)
		fragmentStream = append(fragmentStream, le32(word)...)
		fragmentStream = append(fragmentStream, le32(0)...)
	}
	fragmentTable := b.packMetadata(fragmentStream)

	inodeTableStart := dataStart + uint64(len(b.data))
	fragmentStreamStart := inodeTableStart + uint64(len(inodeTable))
	fragmentTableStart := fragmentStreamStart + uint64(len(fragmentTable))
	length := fragmentTableStart
	if len(b.fragments) > 0 {
		length += 8
	}

	flags := uint16(0)
	if b.Options != nil {
		flags |= 1 << 10
	}

	image := make([]byte, 0, length)
	image = append(image, 'h', 's', 'q', 's')
	image = append(image, le32(uint32(len(b.items)))...)
	image = append(image, le32(0)...) // mkfs_time
	image = append(image, le32(b.BlockSize)...)
	image = append(image, le32(uint32(len(b.fragments)))...)
	image = append(image, le16(b.Compression)...)
	image = append(image, le16(uint16(bits.TrailingZeros32(b.BlockSize)))...)
	image = append(image, le16(flags)...)
	image = append(image, le16(1)...) // no_ids
	image = append(image, le16(4)...) // s_major
	image = append(image, le16(0)...) // s_minor
	image = append(image, le64(0)...) // root_inode
	image = append(image, le64(length)...)
	image = append(image, le64(0)...) // id_table_start
	image = append(image, le64(0)...) // xattr_id_table_start
	image = append(image, le64(inodeTableStart)...)
	image = append(image, le64(0)...) // directory_table_start
	image = append(image, le64(fragmentTableStart)...)
	image = append(image, le64(0)...) // lookup_table_start

	if b.Options != nil {
		image = append(image, le16(uint16(len(b.Options))|MetadataUncompressed)...)
		image = append(image, b.Options...)
	}
	image = append(image, b.data...)
	image = append(image, inodeTable...)
	image = append(image, fragmentTable...)
	if len(b.fragments) > 0 {
		image = append(image, le64(fragmentStreamStart)...)
	}

	return image
}
