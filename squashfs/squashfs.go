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
 * https://www.kernel.org/doc/html/v5.8/filesystems/squashfs.html
 */

package squashfs

import (
	"fmt"
	"io"
)

const (
	// https://github.com/plougher/squashfs-tools/blob/master/squashfs-tools/squashfs_fs.h
	superblockSize    = 96
	metadataBlockSize = 8192

	// 16-bit metadata block headers and 32-bit data block-size
	// words mark uncompressed payloads with these bits; the
	// remaining bits are the on-disk length.
	metadataUncompressed  = 1 << 15
	blockSizeUncompressed = 1 << 24

	invalidFragment = 0xffffffff

	// Inode types supported by squashfs
	inodeTypeDirectory         = 1
	inodeTypeFile              = 2
	inodeTypeSymlink           = 3
	inodeTypeBlockDev          = 4
	inodeTypeCharDev           = 5
	inodeTypeFifo              = 6
	inodeTypeSocket            = 7
	inodeTypeExtendedDirectory = 8
	inodeTypeExtendedFile      = 9
	inodeTypeExtendedSymlink   = 10
	inodeTypeExtendedBlockDev  = 11
	inodeTypeExtendedCharDev   = 12
	inodeTypeExtendedFifo      = 13
	inodeTypeExtendedSocket    = 14

	// Compression types supported by squashfs
	compressionZlib = 1
	compressionLzma = 2
	compressionLzo  = 3
	compressionXz   = 4
	compressionLz4  = 5
	compressionZstd = 6

	// superblock flag: a compression options block follows the
	// superblock
	flagCompressorOptions = 1 << 10
)

// magic is the magic prefix of squashfs images ("hsqs" on disk, i.e.
// 0x73717368 little-endian).
var magic = [4]byte{'h', 's', 'q', 's'}

type superblock struct {
	inodes              uint32
	mkfsTime            uint32
	blockSize           uint32
	fragments           uint32
	compressionType     uint16
	blockLog            uint16
	flags               uint16
	noIDs               uint16
	major               uint16
	minor               uint16
	rootIno             uint64
	bytesUsed           int64
	idTableStart        int64
	xattrIDTableStart   int64
	inodeTableStart     int64
	directoryTableStart int64
	fragmentTableStart  int64
	lookupTableStart    int64
}

func parseSuperblock(data []byte) (*superblock, error) {
	if len(data) < len(magic) {
		return nil, io.ErrUnexpectedEOF
	}
	if data[0] != magic[0] || data[1] != magic[1] || data[2] != magic[2] || data[3] != magic[3] {
		return nil, ErrNotSquashFS
	}
	if len(data) < superblockSize {
		return nil, io.ErrUnexpectedEOF
	}

	sb := &superblock{
		inodes:              readUint32(data[4:]),
		mkfsTime:            readUint32(data[8:]),
		blockSize:           readUint32(data[12:]),
		fragments:           readUint32(data[16:]),
		compressionType:     readUint16(data[20:]),
		blockLog:            readUint16(data[22:]),
		flags:               readUint16(data[24:]),
		noIDs:               readUint16(data[26:]),
		major:               readUint16(data[28:]),
		minor:               readUint16(data[30:]),
		rootIno:             readUint64(data[32:]),
		bytesUsed:           readInt64(data[40:]),
		idTableStart:        readInt64(data[48:]),
		xattrIDTableStart:   readInt64(data[56:]),
		inodeTableStart:     readInt64(data[64:]),
		directoryTableStart: readInt64(data[72:]),
		fragmentTableStart:  readInt64(data[80:]),
		lookupTableStart:    readInt64(data[88:]),
	}

	if sb.major != 4 || sb.minor != 0 {
		return nil, fmt.Errorf("%w (found %d.%d)", ErrWrongVersion, sb.major, sb.minor)
	}
	if sb.blockLog > 30 || uint32(1)<<sb.blockLog != sb.blockSize {
		return nil, fmt.Errorf("%w: block_size %d does not match block_log %d",
			ErrCorruptMetadata, sb.blockSize, sb.blockLog)
	}

	return sb, nil
}

// Image is an opened SquashFS 4.0 image ready to be walked for
// compressed extents.
type Image struct {
	source  *ByteSource
	sb      *superblock
	backend CompressionBackend
}

// Open maps the given image, parses its superblock, reads the
// compression options blob if present and sets up the matching codec.
func Open(path string) (*Image, error) {
	source, err := OpenByteSource(path)
	if err != nil {
		return nil, err
	}

	im, err := open(source)
	if err != nil {
		source.Close()
		return nil, err
	}
	return im, nil
}

func open(source *ByteSource) (*Image, error) {
	// a file shorter than a superblock is still judged by its magic
	n := int64(superblockSize)
	if source.Length() < n {
		n = source.Length()
	}
	data, err := source.PeekSlice(int(n))
	if err != nil {
		return nil, err
	}

	sb, err := parseSuperblock(data)
	if err != nil {
		return nil, err
	}

	options, err := readCompressorOptions(source, sb)
	if err != nil {
		return nil, err
	}

	backend, err := createCompressionBackend(sb.compressionType, options)
	if err != nil {
		return nil, err
	}

	return &Image{source: source, sb: sb, backend: backend}, nil
}

// readCompressorOptions returns the raw compression-options blob, or
// nil when the superblock does not carry one. The blob is stored
// immediately after the superblock as an uncompressed metadata block:
// a 16-bit little-endian length (with the uncompressed bit set)
// followed by that many bytes.
func readCompressorOptions(source *ByteSource, sb *superblock) ([]byte, error) {
	if sb.flags&flagCompressorOptions == 0 {
		return nil, nil
	}

	f := source.Dup()
	if _, err := f.Seek(superblockSize, io.SeekStart); err != nil {
		return nil, err
	}
	header, err := f.ReadUint16()
	if err != nil {
		return nil, err
	}
	return f.ReadSlice(int(header &^ metadataUncompressed))
}

// Close releases the image mapping.
func (im *Image) Close() error {
	return im.source.Close()
}

// BlockSize returns the data block size of the image.
func (im *Image) BlockSize() uint32 {
	return im.sb.blockSize
}

// Backend returns the codec the image was opened with.
func (im *Image) Backend() CompressionBackend {
	return im.backend
}

// CompressionTag returns the 32-bit tag identifying the compressor
// variant of this image. For LZO the optimize verdict is part of the
// tag, so the tag is only final once the image has been walked.
func (im *Image) CompressionTag() uint32 {
	return im.backend.CompressionTag()
}

// Source returns the underlying byte source.
func (im *Image) Source() *ByteSource {
	return im.source
}
