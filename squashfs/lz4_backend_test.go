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

package squashfs_test

import (
	"bytes"

	. "gopkg.in/check.v1"

	"github.com/snapcore/squashdelta/squashfs"
)

type lz4Suite struct{}

var _ = Suite(&lz4Suite{})

func (s *lz4Suite) TestRoundTrip(c *C) {
	payload := bytes.Repeat([]byte("roundtrip data "), 300)

	for _, tag := range []uint32{0x02000000, 0x02000001} {
		backend, err := squashfs.BackendFromTag(tag)
		c.Assert(err, IsNil)

		compressed := make([]byte, len(payload))
		n, err := backend.Compress(payload, compressed)
		c.Assert(err, IsNil)
		c.Assert(n > 0, Equals, true)

		decompressed := make([]byte, len(payload))
		m, err := backend.Decompress(compressed[:n], decompressed)
		c.Assert(err, IsNil)
		c.Check(decompressed[:m], DeepEquals, payload)
	}
}

func (s *lz4Suite) TestCompressDeterministic(c *C) {
	// patch application relies on re-compression reproducing the
	// very same bytes
	payload := bytes.Repeat([]byte("deterministic"), 200)

	backend, err := squashfs.BackendFromTag(0x02000000)
	c.Assert(err, IsNil)

	first := make([]byte, len(payload))
	n1, err := backend.Compress(payload, first)
	c.Assert(err, IsNil)
	second := make([]byte, len(payload))
	n2, err := backend.Compress(payload, second)
	c.Assert(err, IsNil)

	c.Check(first[:n1], DeepEquals, second[:n2])
}

func (s *lz4Suite) TestDecompressCorrupt(c *C) {
	backend, err := squashfs.BackendFromTag(0x02000000)
	c.Assert(err, IsNil)

	dst := make([]byte, 64)
	_, err = backend.Decompress([]byte{0xff, 0xff, 0xff, 0xff}, dst)
	c.Assert(err, ErrorMatches, ".*decompression failed.*")
}
