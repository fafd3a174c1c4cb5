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
	"os"
	"path/filepath"

	"github.com/pierrec/lz4/v4"
	. "gopkg.in/check.v1"

	"github.com/snapcore/squashdelta/osutil"
	"github.com/snapcore/squashdelta/squashfs"
)

type expandSuite struct{}

var _ = Suite(&expandSuite{})

func compressBlock(c *C, payload []byte) []byte {
	buf := make([]byte, lz4.CompressBlockBound(len(payload)))
	var comp lz4.Compressor
	n, err := comp.CompressBlock(payload, buf)
	c.Assert(err, IsNil)
	c.Assert(n > 0, Equals, true)
	return buf[:n]
}

// buildRaw assembles a pretend image: filler, two compressed
// payloads, more filler. Only the extent list gives it structure.
func (s *expandSuite) buildRaw(c *C) (image []byte, payloads [][]byte, residual []squashfs.Extent) {
	payloads = [][]byte{
		bytes.Repeat([]byte("first block "), 300),
		bytes.Repeat([]byte("second block "), 200),
	}
	blocks := [][]byte{compressBlock(c, payloads[0]), compressBlock(c, payloads[1])}

	image = append(image, bytes.Repeat([]byte{0x11}, 200)...)
	off0 := uint64(len(image))
	image = append(image, blocks[0]...)
	image = append(image, bytes.Repeat([]byte{0x22}, 77)...)
	off1 := uint64(len(image))
	image = append(image, blocks[1]...)
	image = append(image, bytes.Repeat([]byte{0x33}, 50)...)

	residual = []squashfs.Extent{
		// deliberately unsorted
		{Offset: off1, Length: uint32(len(blocks[1]))},
		{Offset: off0, Length: uint32(len(blocks[0]))},
	}
	return image, payloads, residual
}

func (s *expandSuite) TestExpandAndRecompressRoundTrip(c *C) {
	image, payloads, residual := s.buildRaw(c)

	dir := c.MkDir()
	imagePath := filepath.Join(dir, "image")
	c.Assert(os.WriteFile(imagePath, image, 0644), IsNil)

	source, err := squashfs.OpenByteSource(imagePath)
	c.Assert(err, IsNil)
	defer source.Close()

	backend, err := squashfs.BackendFromTag(0x02000000)
	c.Assert(err, IsNil)

	out, err := osutil.Create(filepath.Join(dir, "expanded"))
	c.Assert(err, IsNil)
	err = writeExpanded(out, source, backend, 64*1024, 0x02000000, residual)
	c.Assert(err, IsNil)
	c.Assert(out.Sync(), IsNil)
	c.Assert(out.Close(), IsNil)

	expanded, err := os.ReadFile(filepath.Join(dir, "expanded"))
	c.Assert(err, IsNil)

	// residual got sorted and annotated
	c.Check(residual[0].Offset < residual[1].Offset, Equals, true)
	c.Check(residual[0].UncompressedLength, Equals, uint32(len(payloads[0])))
	c.Check(residual[1].UncompressedLength, Equals, uint32(len(payloads[1])))

	// the leading region matches the image, with holes over the
	// extents
	c.Assert(len(expanded) > len(image), Equals, true)
	punched := append([]byte(nil), image...)
	for _, e := range residual {
		for i := uint32(0); i < e.Length; i++ {
			punched[e.Offset+uint64(i)] = 0
		}
	}
	c.Check(bytes.Equal(expanded[:len(image)], punched), Equals, true)

	// then the decompressed payloads in offset order
	tail := expanded[len(image):]
	c.Check(bytes.Equal(tail[:len(payloads[0])], payloads[0]), Equals, true)
	tail = tail[len(payloads[0]):]
	c.Check(bytes.Equal(tail[:len(payloads[1])], payloads[1]), Equals, true)

	// then the envelope
	env, payloadStart, err := parseEnvelopeEnd(expanded)
	c.Assert(err, IsNil)
	c.Check(env.compressionTag, Equals, uint32(0x02000000))
	c.Check(env.blocks, DeepEquals, residual)
	c.Check(payloadStart, Equals, int64(len(image)+len(payloads[0])+len(payloads[1])))

	// and the inverse reproduces the original image bit-for-bit
	restored, err := osutil.Create(filepath.Join(dir, "restored"))
	c.Assert(err, IsNil)
	err = recompress(restored, expanded, int64(len(image)), env, backend)
	c.Assert(err, IsNil)
	c.Assert(restored.Sync(), IsNil)
	c.Assert(restored.Close(), IsNil)

	restoredData, err := os.ReadFile(filepath.Join(dir, "restored"))
	c.Assert(err, IsNil)
	c.Check(bytes.Equal(restoredData, image), Equals, true)
}

func (s *expandSuite) TestExpandEmptyResidual(c *C) {
	image := bytes.Repeat([]byte{0x5a}, 333)
	dir := c.MkDir()
	imagePath := filepath.Join(dir, "image")
	c.Assert(os.WriteFile(imagePath, image, 0644), IsNil)

	source, err := squashfs.OpenByteSource(imagePath)
	c.Assert(err, IsNil)
	defer source.Close()

	backend, err := squashfs.BackendFromTag(0x02000000)
	c.Assert(err, IsNil)

	out, err := osutil.Create(filepath.Join(dir, "expanded"))
	c.Assert(err, IsNil)
	err = writeExpanded(out, source, backend, 8192, 0x02000000, nil)
	c.Assert(err, IsNil)
	c.Assert(out.Close(), IsNil)

	expanded, err := os.ReadFile(filepath.Join(dir, "expanded"))
	c.Assert(err, IsNil)
	c.Check(bytes.Equal(expanded[:len(image)], image), Equals, true)

	env, start, err := parseEnvelopeEnd(expanded)
	c.Assert(err, IsNil)
	c.Check(env.blocks, HasLen, 0)
	c.Check(start, Equals, int64(len(image)))
}

func (s *expandSuite) TestRecompressLengthMismatch(c *C) {
	image, _, residual := s.buildRaw(c)

	dir := c.MkDir()
	imagePath := filepath.Join(dir, "image")
	c.Assert(os.WriteFile(imagePath, image, 0644), IsNil)

	source, err := squashfs.OpenByteSource(imagePath)
	c.Assert(err, IsNil)
	defer source.Close()

	backend, err := squashfs.BackendFromTag(0x02000000)
	c.Assert(err, IsNil)

	out, err := osutil.Create(filepath.Join(dir, "expanded"))
	c.Assert(err, IsNil)
	err = writeExpanded(out, source, backend, 64*1024, 0x02000000, residual)
	c.Assert(err, IsNil)
	c.Assert(out.Close(), IsNil)

	expanded, err := os.ReadFile(filepath.Join(dir, "expanded"))
	c.Assert(err, IsNil)

	env, _, err := parseEnvelopeEnd(expanded)
	c.Assert(err, IsNil)

	// a record whose length cannot be reproduced by re-compression
	// must be caught, not committed
	env.blocks[0].Length--

	restored, err := osutil.Create(filepath.Join(dir, "restored"))
	c.Assert(err, IsNil)
	defer restored.Close()
	err = recompress(restored, expanded, int64(len(image)), env, backend)
	c.Assert(err, NotNil)
}
