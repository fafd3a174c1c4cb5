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

package squashfs

import (
	"fmt"
	"io"

	"github.com/twmb/murmur3"
)

// metadataBlock records the provenance of one on-disk metadata block:
// where its payload lives in the image and whether it was compressed.
// Compressed blocks are fingerprinted from the payload bytes as they
// are read, so the extent collector can reuse them directly.
type metadataBlock struct {
	offset      int64
	length      uint32
	compressed  bool
	fingerprint uint32
}

// metaBlockReader reads raw metadata blocks: a 16-bit little-endian
// header whose high bit marks the payload uncompressed and whose
// remaining bits give the on-disk payload length, followed by the
// payload, decompressed on the fly when needed.
type metaBlockReader struct {
	source  *ByteSource
	backend CompressionBackend

	blocks []metadataBlock
}

func newMetaBlockReader(source *ByteSource, backend CompressionBackend, offset int64) (*metaBlockReader, error) {
	f := source.Dup()
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}
	return &metaBlockReader{source: f, backend: backend}, nil
}

// readBlock reads the next metadata block into dst and returns the
// number of logical bytes produced (at most metadataBlockSize).
func (m *metaBlockReader) readBlock(dst []byte) (int, error) {
	header, err := m.source.ReadUint16()
	if err != nil {
		return 0, err
	}

	length := uint32(header &^ metadataUncompressed)
	compressed := header&metadataUncompressed == 0
	offset := m.source.Position()

	data, err := m.source.ReadSlice(int(length))
	if err != nil {
		return 0, err
	}

	block := metadataBlock{offset: offset, length: length, compressed: compressed}

	var n int
	if compressed {
		block.fingerprint = murmur3.SeedSum32(0, data)
		n, err = m.backend.Decompress(data, dst)
		if err != nil {
			return 0, err
		}
	} else {
		if int(length) > len(dst) {
			return 0, fmt.Errorf("%w: metadata block larger than the output window", ErrCorruptMetadata)
		}
		n = copy(dst, data)
	}

	m.blocks = append(m.blocks, block)
	return n, nil
}

// metaReader exposes the metadata stream as a logical byte sequence
// through a sliding window of two metadata blocks: a refill only starts
// while less than 8 KiB is unread, and the already-read prefix is
// compacted to the front before each refill past the midpoint.
type metaReader struct {
	f *metaBlockReader

	buf    [2 * metadataBlockSize]byte
	start  int
	filled int
}

func newMetaReader(source *ByteSource, backend CompressionBackend, offset int64) (*metaReader, error) {
	f, err := newMetaBlockReader(source, backend, offset)
	if err != nil {
		return nil, err
	}
	return &metaReader{f: f}, nil
}

func (m *metaReader) poll() error {
	// if the fill cursor is past half the buffer, shift the unread
	// content to the front; it is at most half the buffer, so the
	// areas cannot overlap
	if m.start+m.filled > metadataBlockSize {
		copy(m.buf[:], m.buf[m.start:m.start+m.filled])
		m.start = 0
	}

	n, err := m.f.readBlock(m.buf[m.start+m.filled:])
	if err != nil {
		return err
	}
	m.filled += n
	return nil
}

// peek returns a view of the next length unread bytes, refilling from
// the block stream as needed.
func (m *metaReader) peek(length int) ([]byte, error) {
	if length > metadataBlockSize {
		return nil, fmt.Errorf("%w: oversized metadata record (%d bytes)", ErrCorruptMetadata, length)
	}
	for m.filled < length {
		if err := m.poll(); err != nil {
			return nil, err
		}
	}
	return m.buf[m.start : m.start+length], nil
}

// consume advances past length bytes previously peeked.
func (m *metaReader) consume(length int) {
	m.start += length
	m.filled -= length
}

func (m *metaReader) readUint16() (uint16, error) {
	data, err := m.peek(2)
	if err != nil {
		return 0, err
	}
	m.consume(2)
	return readUint16(data), nil
}

func (m *metaReader) readUint32() (uint32, error) {
	data, err := m.peek(4)
	if err != nil {
		return 0, err
	}
	m.consume(4)
	return readUint32(data), nil
}

func (m *metaReader) readUint64() (uint64, error) {
	data, err := m.peek(8)
	if err != nil {
		return 0, err
	}
	m.consume(8)
	return readUint64(data), nil
}

// blockCount returns the number of metadata blocks consumed from the
// image. The logical stream must have been read in full, with no
// unread bytes left in the window.
func (m *metaReader) blockCount() (int, error) {
	if m.filled > 0 {
		return 0, ErrTruncatedMetadata
	}
	return len(m.f.blocks), nil
}

// inputBlocks returns the provenance of every metadata block read so
// far.
func (m *metaReader) inputBlocks() []metadataBlock {
	return m.f.blocks
}
