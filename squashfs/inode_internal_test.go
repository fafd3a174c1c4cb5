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
	"encoding/binary"

	. "gopkg.in/check.v1"
)

type inodeSuite struct{}

var _ = Suite(&inodeSuite{})

func (s *inodeSuite) TestFixedSizes(c *C) {
	sizes := map[uint16]int{
		1: 32, 2: 32, 3: 24, 4: 24, 5: 24, 6: 20, 7: 20,
		8: 40, 9: 56, 10: 24, 11: 28, 12: 28, 13: 24, 14: 24,
	}
	for inodeType, size := range sizes {
		c.Check(inodeFixedSize(inodeType), Equals, size,
			Commentf("inode type %d", inodeType))
	}
	c.Check(inodeFixedSize(0), Equals, 0)
	c.Check(inodeFixedSize(15), Equals, 0)
}

func (s *inodeSuite) TestBlockCountFormula(c *C) {
	const blockSize, blockLog = 131072, 17

	// fragment absent: round up
	c.Check(blockCount(0, invalidFragment, blockSize, blockLog), Equals, uint32(0))
	c.Check(blockCount(1, invalidFragment, blockSize, blockLog), Equals, uint32(1))
	c.Check(blockCount(blockSize, invalidFragment, blockSize, blockLog), Equals, uint32(1))
	c.Check(blockCount(blockSize+1, invalidFragment, blockSize, blockLog), Equals, uint32(2))

	// fragment present: the tail lives there
	c.Check(blockCount(1, 0, blockSize, blockLog), Equals, uint32(0))
	c.Check(blockCount(blockSize, 7, blockSize, blockLog), Equals, uint32(1))
	c.Check(blockCount(blockSize+1, 7, blockSize, blockLog), Equals, uint32(1))
}

func le16w(v uint16) []byte {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return b[:]
}

func le32w(v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return b[:]
}

func le64w(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}

func baseInode(inodeType uint16) []byte {
	rec := le16w(inodeType)
	rec = append(rec, le16w(0755)...)
	rec = append(rec, le16w(0)...)
	rec = append(rec, le16w(0)...)
	rec = append(rec, le32w(0)...)
	rec = append(rec, le32w(1)...)
	return rec
}

// inodeReaderOver frames a logical inode stream as one uncompressed
// metadata block and serves it through an inodeReader.
func inodeReaderOver(c *C, stream []byte, inodes uint32) *inodeReader {
	framed := packUncompressed(stream)
	sb := &superblock{
		inodes:    inodes,
		blockSize: 131072,
		blockLog:  17,
	}
	ir, err := newInodeReader(memSource(framed), nil, sb)
	c.Assert(err, IsNil)
	return ir
}

func (s *inodeSuite) TestReadLregInode(c *C) {
	rec := baseInode(inodeTypeExtendedFile)
	rec = append(rec, le64w(0x123456789)...) // start_block
	rec = append(rec, le64w(200000)...)      // file_size
	rec = append(rec, le64w(0)...)           // sparse
	rec = append(rec, le32w(1)...)           // nlink
	rec = append(rec, le32w(invalidFragment)...)
	rec = append(rec, le32w(0)...) // offset
	rec = append(rec, le32w(0)...) // xattr
	// ceil(200000 / 131072) = 2 block-size words
	rec = append(rec, le32w(1000)...)
	rec = append(rec, le32w(2000|blockSizeUncompressed)...)

	ir := inodeReaderOver(c, rec, 1)
	file, err := ir.read()
	c.Assert(err, IsNil)
	c.Assert(file, NotNil)
	c.Check(file.startBlock, Equals, uint64(0x123456789))
	c.Check(file.fileSize, Equals, uint64(200000))
	c.Check(file.fragment, Equals, uint32(invalidFragment))
	c.Check(file.blockSizes, DeepEquals, []uint32{1000, 2000 | blockSizeUncompressed})

	n, err := ir.blockNum()
	c.Assert(err, IsNil)
	c.Check(n, Equals, 1)
}

func (s *inodeSuite) TestReadSymlinkSkipsTarget(c *C) {
	target := "a/rather/long/link/target"
	rec := baseInode(inodeTypeSymlink)
	rec = append(rec, le32w(1)...) // nlink
	rec = append(rec, le32w(uint32(len(target)))...)
	rec = append(rec, target...)
	// follow with a regular file to prove the walker stays aligned
	rec = append(rec, baseInode(inodeTypeFile)...)
	rec = append(rec, le32w(96)...)  // start_block
	rec = append(rec, le32w(invalidFragment)...)
	rec = append(rec, le32w(0)...)   // offset
	rec = append(rec, le32w(100)...) // file_size: one block
	rec = append(rec, le32w(50)...)

	ir := inodeReaderOver(c, rec, 2)

	file, err := ir.read()
	c.Assert(err, IsNil)
	c.Check(file, IsNil)

	file, err = ir.read()
	c.Assert(err, IsNil)
	c.Assert(file, NotNil)
	c.Check(file.startBlock, Equals, uint64(96))
	c.Check(file.blockSizes, DeepEquals, []uint32{50})
}

func (s *inodeSuite) TestReadLdirIndexes(c *C) {
	rec := baseInode(inodeTypeExtendedDirectory)
	rec = append(rec, le32w(2)...)    // nlink
	rec = append(rec, le32w(1000)...) // file_size
	rec = append(rec, le32w(0)...)    // start_block
	rec = append(rec, le32w(1)...)    // parent_inode
	rec = append(rec, le16w(2)...)    // i_count
	rec = append(rec, le16w(0)...)    // offset
	rec = append(rec, le32w(0)...)    // xattr
	for _, name := range []string{"first", "second-entry"} {
		rec = append(rec, le32w(0)...) // index
		rec = append(rec, le32w(0)...) // start_block
		// size is length-1, and the name is stored with one
		// extra byte
		rec = append(rec, le32w(uint32(len(name)-1))...)
		rec = append(rec, name...)
	}
	rec = append(rec, baseInode(inodeTypeFifo)...)
	rec = append(rec, le32w(1)...) // nlink

	ir := inodeReaderOver(c, rec, 2)

	file, err := ir.read()
	c.Assert(err, IsNil)
	c.Check(file, IsNil)

	// the fifo after the indexes parses cleanly
	file, err = ir.read()
	c.Assert(err, IsNil)
	c.Check(file, IsNil)

	n, err := ir.blockNum()
	c.Assert(err, IsNil)
	c.Check(n, Equals, 1)
}

func (s *inodeSuite) TestReadInvalidType(c *C) {
	ir := inodeReaderOver(c, baseInode(0), 1)
	_, err := ir.read()
	c.Assert(err, ErrorMatches, ".*invalid inode type 0.*")
}
