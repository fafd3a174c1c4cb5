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
)

// Fixed inode record sizes per variant, including the 16-byte base
// header shared by all of them. Regular files, symlinks and extended
// directories carry a variable tail on top of these.
const (
	inodeBaseSize = 16

	inodeDirSize      = 32
	inodeRegSize      = 32
	inodeSymlinkSize  = 24
	inodeDevSize      = 24
	inodeIpcSize      = 20
	inodeLdirSize     = 40
	inodeLregSize     = 56
	inodeLdevSize     = 28
	inodeLipcSize     = 24
	inodeLsymlinkSize = 24

	dirIndexSize = 12
)

func inodeFixedSize(inodeType uint16) int {
	switch inodeType {
	case inodeTypeDirectory:
		return inodeDirSize
	case inodeTypeFile:
		return inodeRegSize
	case inodeTypeSymlink:
		return inodeSymlinkSize
	case inodeTypeExtendedSymlink:
		return inodeLsymlinkSize
	case inodeTypeBlockDev, inodeTypeCharDev:
		return inodeDevSize
	case inodeTypeFifo, inodeTypeSocket:
		return inodeIpcSize
	case inodeTypeExtendedDirectory:
		return inodeLdirSize
	case inodeTypeExtendedFile:
		return inodeLregSize
	case inodeTypeExtendedBlockDev, inodeTypeExtendedCharDev:
		return inodeLdevSize
	case inodeTypeExtendedFifo, inodeTypeExtendedSocket:
		return inodeLipcSize
	}
	return 0
}

// regularFile describes one regular-file inode: where its data blocks
// start and the raw block-size words listing them.
type regularFile struct {
	startBlock uint64
	fragment   uint32
	fileSize   uint64
	blockSizes []uint32
}

// blockCount returns the number of data blocks backing a file: the
// final sub-block tail lives in a fragment when one is referenced,
// otherwise it rounds up to a full block.
func blockCount(fileSize uint64, fragment uint32, blockSize uint32, blockLog uint16) uint32 {
	blocks := fileSize
	if fragment == invalidFragment {
		blocks += uint64(blockSize) - 1
	}
	return uint32(blocks >> blockLog)
}

// inodeReader walks the inode table and yields its regular files.
type inodeReader struct {
	f *metaReader

	inodeNum  uint32
	noInodes  uint32
	blockSize uint32
	blockLog  uint16
}

func newInodeReader(source *ByteSource, backend CompressionBackend, sb *superblock) (*inodeReader, error) {
	f, err := newMetaReader(source, backend, sb.inodeTableStart)
	if err != nil {
		return nil, err
	}
	return &inodeReader{
		f:         f,
		noInodes:  sb.inodes,
		blockSize: sb.blockSize,
		blockLog:  sb.blockLog,
	}, nil
}

// skip streams past length bytes of inode tail (symlink targets and
// similar content that only matters for its size). The tail may be
// longer than the metadata window, so it is consumed in block-sized
// chunks.
func (ir *inodeReader) skip(length int) error {
	for length > 0 {
		chunk := length
		if chunk > metadataBlockSize {
			chunk = metadataBlockSize
		}
		if _, err := ir.f.peek(chunk); err != nil {
			return err
		}
		ir.f.consume(chunk)
		length -= chunk
	}
	return nil
}

// read consumes the next inode and returns its file description, or
// nil for inode types that carry no data blocks.
func (ir *inodeReader) read() (*regularFile, error) {
	if ir.inodeNum >= ir.noInodes {
		return nil, fmt.Errorf("internal error: trying to read past the last inode")
	}

	base, err := ir.f.peek(inodeBaseSize)
	if err != nil {
		return nil, err
	}
	inodeType := readUint16(base)

	fixedLen := inodeFixedSize(inodeType)
	if fixedLen == 0 {
		return nil, fmt.Errorf("%w: invalid inode type %d", ErrCorruptInode, inodeType)
	}

	data, err := ir.f.peek(fixedLen)
	if err != nil {
		return nil, err
	}

	// parse what the tail size depends on, then consume the fixed
	// part and stream the tail
	var file *regularFile
	tail := 0
	switch inodeType {
	case inodeTypeFile:
		file = &regularFile{
			startBlock: uint64(readUint32(data[16:])),
			fragment:   readUint32(data[20:]),
			fileSize:   uint64(readUint32(data[28:])),
		}
	case inodeTypeExtendedFile:
		file = &regularFile{
			startBlock: readUint64(data[16:]),
			fragment:   readUint32(data[44:]),
			fileSize:   readUint64(data[24:]),
		}
	case inodeTypeSymlink, inodeTypeExtendedSymlink:
		tail = int(readUint32(data[20:]))
	case inodeTypeExtendedDirectory:
		// the fixed header is followed by i_count directory
		// indexes, each a fixed header plus a size+1 byte name
		indexes := int(readUint16(data[32:]))
		ir.f.consume(fixedLen)
		for i := 0; i < indexes; i++ {
			idx, err := ir.f.peek(dirIndexSize)
			if err != nil {
				return nil, err
			}
			nameLen := int(readUint32(idx[8:])) + 1
			ir.f.consume(dirIndexSize)
			if err := ir.skip(nameLen); err != nil {
				return nil, err
			}
		}
		ir.inodeNum++
		return nil, nil
	}

	ir.f.consume(fixedLen)

	if file != nil {
		count := blockCount(file.fileSize, file.fragment, ir.blockSize, ir.blockLog)
		file.blockSizes = make([]uint32, count)
		for i := range file.blockSizes {
			if file.blockSizes[i], err = ir.f.readUint32(); err != nil {
				return nil, err
			}
		}
	} else if err := ir.skip(tail); err != nil {
		return nil, err
	}

	ir.inodeNum++
	return file, nil
}

func (ir *inodeReader) blockNum() (int, error) {
	return ir.f.blockCount()
}
