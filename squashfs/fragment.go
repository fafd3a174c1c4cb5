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
)

const fragmentEntrySize = 16

// fragmentEntry is one fixed 16-byte record of the fragment table:
// the absolute offset of the fragment block and its size word, using
// the same encoding as a data block-size word.
type fragmentEntry struct {
	startBlock uint64
	size       uint32
}

// fragmentReader walks the fragment-entry metadata stream. The stream
// is addressed through an index: a 64-bit little-endian pointer at
// fragment_table_start locates its first metadata block.
type fragmentReader struct {
	f *metaReader

	entryNum  uint32
	noEntries uint32
}

// fragmentTableOffset locates the fragment-entry stream. An image
// without fragments has no index to read; the image length is used
// instead so that a stray read fails cleanly at end of file.
func fragmentTableOffset(source *ByteSource, sb *superblock) (int64, error) {
	if sb.fragments == 0 {
		return source.Length(), nil
	}

	f := source.Dup()
	if _, err := f.Seek(sb.fragmentTableStart, io.SeekStart); err != nil {
		return 0, err
	}
	offset, err := f.ReadUint64()
	if err != nil {
		return 0, err
	}
	return int64(offset), nil
}

func newFragmentReader(source *ByteSource, backend CompressionBackend, sb *superblock) (*fragmentReader, error) {
	offset, err := fragmentTableOffset(source, sb)
	if err != nil {
		return nil, err
	}

	f, err := newMetaReader(source, backend, offset)
	if err != nil {
		return nil, err
	}
	return &fragmentReader{f: f, noEntries: sb.fragments}, nil
}

func (fr *fragmentReader) read() (fragmentEntry, error) {
	if fr.entryNum >= fr.noEntries {
		return fragmentEntry{}, fmt.Errorf("internal error: trying to read past the last fragment")
	}

	data, err := fr.f.peek(fragmentEntrySize)
	if err != nil {
		return fragmentEntry{}, err
	}
	entry := fragmentEntry{
		startBlock: readUint64(data[0:]),
		size:       readUint32(data[8:]),
	}
	fr.f.consume(fragmentEntrySize)

	fr.entryNum++
	return entry, nil
}

func (fr *fragmentReader) blockNum() (int, error) {
	return fr.f.blockCount()
}
