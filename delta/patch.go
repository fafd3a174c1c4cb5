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

package delta

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/snapcore/squashdelta/squashfs"
)

// The patch envelope: a 16-byte header and one 12-byte record per
// block, all big-endian on the wire. The shipped patch carries the
// envelope at the front, followed by the differ's output; expanded
// temporary images carry the record list and then the header at the
// very end, so that their leading bytes stay aligned with the
// original image's offsets.
const (
	envelopeMagic      = 0x5371ceb4
	envelopeHeaderSize = 16
	envelopeRecordSize = 12
)

var (
	// ErrNotPatch is returned when the patch magic does not match.
	ErrNotPatch = errors.New("not a valid squashdelta patch (no magic)")

	// ErrCodecMismatch is returned when source and target images
	// use different compressor variants.
	ErrCodecMismatch = errors.New("source and target images use different compressors")
)

type envelope struct {
	flags          uint32
	compressionTag uint32
	blocks         []squashfs.Extent
}

func putHeader(data []byte, e *envelope) {
	binary.BigEndian.PutUint32(data[0:], envelopeMagic)
	binary.BigEndian.PutUint32(data[4:], e.flags)
	binary.BigEndian.PutUint32(data[8:], e.compressionTag)
	binary.BigEndian.PutUint32(data[12:], uint32(len(e.blocks)))
}

func putRecords(data []byte, blocks []squashfs.Extent) {
	for i, b := range blocks {
		rec := data[i*envelopeRecordSize:]
		binary.BigEndian.PutUint32(rec[0:], uint32(b.Offset))
		binary.BigEndian.PutUint32(rec[4:], b.Length)
		binary.BigEndian.PutUint32(rec[8:], b.UncompressedLength)
	}
}

// checkOffsets rejects extents whose offsets do not fit the 32-bit
// record format; such images cannot be represented in a patch.
func checkOffsets(blocks []squashfs.Extent) error {
	for _, b := range blocks {
		if b.Offset > math.MaxUint32 {
			return fmt.Errorf("cannot encode extent at offset %#x: patch offsets are 32-bit", b.Offset)
		}
	}
	return nil
}

// writeEnvelopeFront writes the header-at-front orientation used by
// the shipped patch.
func writeEnvelopeFront(w io.Writer, e *envelope) error {
	if err := checkOffsets(e.blocks); err != nil {
		return err
	}

	data := make([]byte, envelopeHeaderSize+len(e.blocks)*envelopeRecordSize)
	putHeader(data, e)
	putRecords(data[envelopeHeaderSize:], e.blocks)

	_, err := w.Write(data)
	return err
}

// writeEnvelopeEnd writes the header-at-end orientation used by the
// expanded temporary images: records first, trailing header.
func writeEnvelopeEnd(w io.Writer, e *envelope) error {
	if err := checkOffsets(e.blocks); err != nil {
		return err
	}

	data := make([]byte, len(e.blocks)*envelopeRecordSize+envelopeHeaderSize)
	putRecords(data, e.blocks)
	putHeader(data[len(e.blocks)*envelopeRecordSize:], e)

	_, err := w.Write(data)
	return err
}

func parseHeader(data []byte) (*envelope, error) {
	if len(data) < envelopeHeaderSize {
		return nil, io.ErrUnexpectedEOF
	}
	if binary.BigEndian.Uint32(data[0:]) != envelopeMagic {
		return nil, ErrNotPatch
	}
	return &envelope{
		flags:          binary.BigEndian.Uint32(data[4:]),
		compressionTag: binary.BigEndian.Uint32(data[8:]),
		blocks:         make([]squashfs.Extent, binary.BigEndian.Uint32(data[12:])),
	}, nil
}

func parseRecords(data []byte, blocks []squashfs.Extent) error {
	if len(data) < len(blocks)*envelopeRecordSize {
		return io.ErrUnexpectedEOF
	}
	for i := range blocks {
		rec := data[i*envelopeRecordSize:]
		blocks[i] = squashfs.Extent{
			Offset:             uint64(binary.BigEndian.Uint32(rec[0:])),
			Length:             binary.BigEndian.Uint32(rec[4:]),
			UncompressedLength: binary.BigEndian.Uint32(rec[8:]),
		}
	}
	return nil
}

// parseEnvelopeFront parses a header-at-front envelope from the start
// of data and returns it along with the number of bytes it occupied.
func parseEnvelopeFront(data []byte) (*envelope, int, error) {
	e, err := parseHeader(data)
	if err != nil {
		return nil, 0, err
	}
	if err := parseRecords(data[envelopeHeaderSize:], e.blocks); err != nil {
		return nil, 0, err
	}
	return e, envelopeHeaderSize + len(e.blocks)*envelopeRecordSize, nil
}

// parseEnvelopeEnd parses a header-at-end envelope from the tail of
// data and returns it along with the offset where the envelope (and
// before it, the appended decompressed payloads) begins.
func parseEnvelopeEnd(data []byte) (*envelope, int64, error) {
	if len(data) < envelopeHeaderSize {
		return nil, 0, io.ErrUnexpectedEOF
	}
	e, err := parseHeader(data[len(data)-envelopeHeaderSize:])
	if err != nil {
		return nil, 0, err
	}

	start := len(data) - envelopeHeaderSize - len(e.blocks)*envelopeRecordSize
	if start < 0 {
		return nil, 0, io.ErrUnexpectedEOF
	}
	if err := parseRecords(data[start:], e.blocks); err != nil {
		return nil, 0, err
	}
	return e, int64(start), nil
}
