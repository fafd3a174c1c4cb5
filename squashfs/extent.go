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
	"io"
	"sort"

	"github.com/twmb/murmur3"

	"github.com/snapcore/squashdelta/logger"
)

// Extent is one compressed byte range of the image: its absolute
// offset, on-disk length and content fingerprint. UncompressedLength
// is filled in during expansion.
type Extent struct {
	Offset             uint64
	Length             uint32
	UncompressedLength uint32
	Fingerprint        uint32
}

// CollectExtents walks the inode and fragment tables and returns
// every compressed extent of the image: the data blocks and fragments
// they reference, plus the compressed metadata blocks read during the
// walk itself. Walking also settles the codec identity, so the
// image's CompressionTag is final once CollectExtents returns.
func (im *Image) CollectExtents() ([]Extent, error) {
	im.backend.Reset()

	ir, err := newInodeReader(im.source, im.backend, im.sb)
	if err != nil {
		return nil, err
	}

	// data blocks of every regular file
	var data []Extent
	for i := uint32(0); i < im.sb.inodes; i++ {
		file, err := ir.read()
		if err != nil {
			return nil, err
		}
		if file == nil {
			continue
		}

		offset := file.startBlock
		for _, word := range file.blockSizes {
			length := word &^ blockSizeUncompressed
			if length == 0 {
				// sparse block, occupies no space
				continue
			}
			if word&blockSizeUncompressed == 0 {
				data = append(data, Extent{Offset: offset, Length: length})
			}
			offset += uint64(length)
		}
	}
	inodeBlocks, err := ir.blockNum()
	if err != nil {
		return nil, err
	}

	// fragments
	fr, err := newFragmentReader(im.source, im.backend, im.sb)
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < im.sb.fragments; i++ {
		entry, err := fr.read()
		if err != nil {
			return nil, err
		}
		length := entry.size &^ blockSizeUncompressed
		if entry.size&blockSizeUncompressed == 0 && length > 0 {
			data = append(data, Extent{Offset: entry.startBlock, Length: length})
		}
	}
	fragmentBlocks, err := fr.blockNum()
	if err != nil {
		return nil, err
	}

	// hash the data extents from the image, in offset order so the
	// mapping is touched sequentially
	sort.Slice(data, func(i, j int) bool { return data[i].Offset < data[j].Offset })
	f := im.source.Dup()
	for i := range data {
		if _, err := f.Seek(int64(data[i].Offset), io.SeekStart); err != nil {
			return nil, err
		}
		raw, err := f.ReadSlice(int(data[i].Length))
		if err != nil {
			return nil, err
		}
		data[i].Fingerprint = murmur3.SeedSum32(0, raw)
	}

	// the compressed metadata blocks were fingerprinted as they
	// were decompressed
	extents := data
	for _, blocks := range [][]metadataBlock{ir.f.inputBlocks(), fr.f.inputBlocks()} {
		for _, b := range blocks {
			if !b.compressed {
				continue
			}
			extents = append(extents, Extent{
				Offset:      uint64(b.offset),
				Length:      b.length,
				Fingerprint: b.fingerprint,
			})
		}
	}

	logger.Debugf("collected %d extents (%d inode table blocks, %d fragment table blocks)",
		len(extents), inodeBlocks, fragmentBlocks)
	return extents, nil
}
