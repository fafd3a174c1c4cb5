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
	"bytes"
	"encoding/binary"
	"io"

	. "gopkg.in/check.v1"
)

type metadataSuite struct{}

var _ = Suite(&metadataSuite{})

// memSource builds a ByteSource directly over in-memory bytes.
func memSource(data []byte) *ByteSource {
	return &ByteSource{data: data}
}

// packUncompressed frames payloads as uncompressed metadata blocks.
func packUncompressed(payloads ...[]byte) []byte {
	var out []byte
	for _, p := range payloads {
		var header [2]byte
		binary.LittleEndian.PutUint16(header[:], uint16(len(p))|metadataUncompressed)
		out = append(out, header[:]...)
		out = append(out, p...)
	}
	return out
}

func (s *metadataSuite) TestReadAcrossBlocks(c *C) {
	// a record split across two metadata blocks
	first := append(bytes.Repeat([]byte{0xaa}, 100), 0x34)
	second := append([]byte{0x12}, bytes.Repeat([]byte{0xbb}, 50)...)

	m, err := newMetaReader(memSource(packUncompressed(first, second)), nil, 0)
	c.Assert(err, IsNil)

	data, err := m.peek(100)
	c.Assert(err, IsNil)
	c.Check(data, DeepEquals, bytes.Repeat([]byte{0xaa}, 100))
	m.consume(100)

	// this u16 straddles the block boundary
	v, err := m.readUint16()
	c.Assert(err, IsNil)
	c.Check(v, Equals, uint16(0x1234))

	m.consume(50)
	n, err := m.blockCount()
	c.Assert(err, IsNil)
	c.Check(n, Equals, 2)
}

func (s *metadataSuite) TestBlockCountUnreadBytes(c *C) {
	m, err := newMetaReader(memSource(packUncompressed([]byte{1, 2, 3, 4})), nil, 0)
	c.Assert(err, IsNil)

	_, err = m.peek(2)
	c.Assert(err, IsNil)
	m.consume(2)

	_, err = m.blockCount()
	c.Assert(err, Equals, ErrTruncatedMetadata)
}

func (s *metadataSuite) TestWindowCompaction(c *C) {
	// four full blocks force repeated compaction; the window must
	// keep yielding the right bytes
	var payloads [][]byte
	var logical []byte
	for i := 0; i < 4; i++ {
		p := bytes.Repeat([]byte{byte(i + 1)}, metadataBlockSize)
		payloads = append(payloads, p)
		logical = append(logical, p...)
	}

	m, err := newMetaReader(memSource(packUncompressed(payloads...)), nil, 0)
	c.Assert(err, IsNil)

	var got []byte
	for len(got) < len(logical) {
		chunk := 1000
		if rest := len(logical) - len(got); rest < chunk {
			chunk = rest
		}
		data, err := m.peek(chunk)
		c.Assert(err, IsNil)
		got = append(got, data...)
		m.consume(chunk)
	}
	c.Check(bytes.Equal(got, logical), Equals, true)

	n, err := m.blockCount()
	c.Assert(err, IsNil)
	c.Check(n, Equals, 4)
}

func (s *metadataSuite) TestTruncatedBlock(c *C) {
	// header declares 100 bytes, only 10 present
	var header [2]byte
	binary.LittleEndian.PutUint16(header[:], 100|metadataUncompressed)
	data := append(header[:], make([]byte, 10)...)

	m, err := newMetaReader(memSource(data), nil, 0)
	c.Assert(err, IsNil)

	_, err = m.peek(1)
	c.Assert(err, Equals, io.ErrUnexpectedEOF)
}

func (s *metadataSuite) TestOversizedRecord(c *C) {
	m, err := newMetaReader(memSource(nil), nil, 0)
	c.Assert(err, IsNil)

	_, err = m.peek(metadataBlockSize + 1)
	c.Assert(err, ErrorMatches, ".*oversized metadata record.*")
}

func (s *metadataSuite) TestProvenanceRecorded(c *C) {
	stream := packUncompressed([]byte{1, 2}, []byte{3, 4, 5})
	m, err := newMetaReader(memSource(stream), nil, 0)
	c.Assert(err, IsNil)

	_, err = m.peek(5)
	c.Assert(err, IsNil)
	m.consume(5)

	blocks := m.inputBlocks()
	c.Assert(blocks, HasLen, 2)
	c.Check(blocks[0].offset, Equals, int64(2))
	c.Check(blocks[0].length, Equals, uint32(2))
	c.Check(blocks[0].compressed, Equals, false)
	c.Check(blocks[1].offset, Equals, int64(2+2+2))
	c.Check(blocks[1].length, Equals, uint32(3))
}
