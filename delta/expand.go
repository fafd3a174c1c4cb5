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
	"bytes"
	"fmt"
	"io"
	"sort"

	"github.com/snapcore/squashdelta/logger"
	"github.com/snapcore/squashdelta/osutil"
	"github.com/snapcore/squashdelta/squashfs"
)

const metadataBlockSize = 8192

// scratchSize returns the decompression buffer size for an image:
// data blocks decompress to at most the block size, metadata blocks
// to at most 8 KiB, whichever is larger.
func scratchSize(blockSize uint32) int {
	if blockSize < metadataBlockSize {
		return metadataBlockSize
	}
	return int(blockSize)
}

// recordedScratchSize sizes the decompression buffer from an
// envelope's recorded uncompressed lengths, for the apply path where
// the image's block size is not re-derived.
func recordedScratchSize(blocks []squashfs.Extent) int {
	size := metadataBlockSize
	for _, b := range blocks {
		if int(b.UncompressedLength) > size {
			size = int(b.UncompressedLength)
		}
	}
	return size
}

// writeExpanded streams the expanded form of an image: byte-identical
// to the original except that each residual extent's payload is
// replaced by a sparse hole, with its decompressed bytes appended
// after the tail of the original image, followed by the header-at-end
// envelope describing the extents. The residual list is sorted by
// offset and each extent's UncompressedLength is filled in.
func writeExpanded(out *osutil.SparseFileWriter, source *squashfs.ByteSource, backend squashfs.CompressionBackend, scratchLen int, tag uint32, residual []squashfs.Extent) error {
	backend.Reset()
	sort.Slice(residual, func(i, j int) bool { return residual[i].Offset < residual[j].Offset })

	// pass 1: the punched image
	f := source.Dup()
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	for _, e := range residual {
		if err := out.CopyFrom(f, int64(e.Offset)-f.Position()); err != nil {
			return err
		}
		if err := out.WriteSparse(int64(e.Length)); err != nil {
			return err
		}
		if _, err := f.Seek(int64(e.Length), io.SeekCurrent); err != nil {
			return err
		}
	}
	if err := out.CopyFrom(f, f.Length()-f.Position()); err != nil {
		return err
	}

	// pass 2: the decompressed payloads
	scratch := make([]byte, scratchLen)
	for i := range residual {
		e := &residual[i]
		if _, err := f.Seek(int64(e.Offset), io.SeekStart); err != nil {
			return err
		}
		data, err := f.ReadSlice(int(e.Length))
		if err != nil {
			return err
		}
		n, err := backend.Decompress(data, scratch)
		if err != nil {
			return err
		}
		e.UncompressedLength = uint32(n)
		if _, err := out.Write(scratch[:n]); err != nil {
			return err
		}
	}

	return writeEnvelopeEnd(out, &envelope{compressionTag: tag, blocks: residual})
}

// recompress reconstructs the original image from its expanded form:
// the leading length bytes are copied through (holes read back as
// zeros), then every recorded extent is re-compressed from its
// appended decompressed payload back into place. The result must
// reproduce the original compressed stream bit-for-bit; a length
// mismatch means the codec cannot and is reported as corruption
// rather than silently committed.
func recompress(out *osutil.SparseFileWriter, expanded []byte, length int64, e *envelope, backend squashfs.CompressionBackend) error {
	if length > int64(len(expanded)) {
		return io.ErrUnexpectedEOF
	}
	if err := out.CopyFrom(bytes.NewReader(expanded[:length]), length); err != nil {
		return err
	}

	backend.Reset()
	outFile := out.File()
	scratch := make([]byte, 0)
	tailOffset := length
	for i := range e.blocks {
		b := &e.blocks[i]
		if tailOffset+int64(b.UncompressedLength) > int64(len(expanded)) {
			return io.ErrUnexpectedEOF
		}
		data := expanded[tailOffset : tailOffset+int64(b.UncompressedLength)]
		tailOffset += int64(b.UncompressedLength)

		if cap(scratch) < int(b.Length) {
			scratch = make([]byte, b.Length)
		}
		scratch = scratch[:b.Length]
		n, err := backend.Compress(data, scratch)
		if err != nil {
			return err
		}
		if uint32(n) != b.Length {
			return fmt.Errorf("%w: block at %#x re-compressed to %d bytes, expected %d",
				squashfs.ErrCodecIdentityMismatch, b.Offset, n, b.Length)
		}
		if _, err := outFile.WriteAt(scratch[:n], int64(b.Offset)); err != nil {
			return err
		}
	}

	logger.Debugf("re-compressed %d blocks", len(e.blocks))
	return nil
}
