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
	"fmt"

	"github.com/rasky/go-lzo"

	"github.com/snapcore/squashdelta/logger"
)

// LZO options record (8 bytes): algorithm, compression_level.
const (
	lzoOptionsSize = 8

	lzoAlgorithmLzo1x1   = 0
	lzoAlgorithmLzo1x111 = 1
	lzoAlgorithmLzo1x112 = 2
	lzoAlgorithmLzo1x115 = 3
	lzoAlgorithmLzo1x999 = 4

	lzoDefaultLevel = 8

	// tag layout: bits 0-3 level, bit 4 optimize post-pass
	lzoTagLevelMask = 0x0f
	lzoTagOptimized = 0x10
)

// The optimize verdict is latched per image walk: mksquashfs applies
// the lzo1x_optimize post-pass to every block or to none, so the
// first discriminating block decides for the whole image.
type lzoOptimizeState int

const (
	optimizeUnknown lzoOptimizeState = iota
	optimizeKnownPlain
	optimizeKnownOptimized
)

type lzoBackend struct {
	level int
	state lzoOptimizeState

	// pinned backends were reconstructed from a compression tag;
	// their verdict is authoritative and survives Reset
	pinned bool
}

func newLzoBackend() *lzoBackend {
	return &lzoBackend{level: lzoDefaultLevel}
}

func newLzoBackendFromTag(tag uint32) (*lzoBackend, error) {
	level := int(tag & lzoTagLevelMask)
	if level < 1 || level > 9 {
		return nil, fmt.Errorf("invalid compression level %d in tag %#08x", level, tag)
	}

	state := optimizeKnownPlain
	if tag&lzoTagOptimized != 0 {
		state = optimizeKnownOptimized
	}
	return &lzoBackend{level: level, state: state, pinned: true}, nil
}

func (lb *lzoBackend) Setup(options []byte) error {
	if options == nil {
		return nil
	}
	if len(options) < lzoOptionsSize {
		return fmt.Errorf("%w: LZO compression options too short", ErrCorruptMetadata)
	}

	algorithm := readUint32(options[0:])
	level := readUint32(options[4:])

	if algorithm != lzoAlgorithmLzo1x999 {
		return fmt.Errorf("%w: only the lzo1x_999 algorithm is supported", ErrUnsupportedCompression)
	}
	if level < 1 || level > 9 {
		return fmt.Errorf("%w: invalid LZO compression level %d", ErrCorruptMetadata, level)
	}

	lb.level = int(level)
	return nil
}

func (lb *lzoBackend) Reset() {
	if lb.pinned {
		return
	}
	lb.state = optimizeUnknown
}

func (lb *lzoBackend) Decompress(src []byte, dst []byte) (int, error) {
	out, err := lzoDecompress(src, len(dst))
	if err != nil {
		return 0, fmt.Errorf("%w: LZO: %v", ErrCodec, err)
	}
	n := copy(dst, out)
	if n < len(out) {
		return 0, fmt.Errorf("%w: LZO output exceeds the declared size", ErrCorruptMetadata)
	}

	if lb.state == optimizeUnknown {
		if err := lb.identify(src, out); err != nil {
			return 0, err
		}
	}
	return n, nil
}

// identify determines whether the image was produced with the
// lzo1x_optimize post-pass by re-compressing the decompressed output
// at the configured level and comparing candidates against the
// original input. A block on which optimization is a no-op cannot
// discriminate; the verdict then stays unknown and the next block is
// tried.
func (lb *lzoBackend) identify(src, decompressed []byte) error {
	cbuf := lzoRecompress(decompressed, lb.level)
	if len(cbuf) != len(src) {
		return fmt.Errorf("%w: test re-compression resulted in a different size", ErrCodecIdentityMismatch)
	}

	obuf := append([]byte(nil), cbuf...)
	if err := lzoOptimize(obuf, decompressed); err != nil {
		return fmt.Errorf("%w: test re-optimization failed: %v", ErrCodecIdentityMismatch, err)
	}
	discriminating := !bytes.Equal(obuf, cbuf)

	switch {
	case bytes.Equal(src, cbuf):
		// matches the plain re-compression; if the optimize pass
		// would have changed it, the image cannot be optimized
		if discriminating {
			lb.state = optimizeKnownPlain
		}
	case discriminating && bytes.Equal(src, obuf):
		lb.state = optimizeKnownOptimized
	default:
		return ErrCodecIdentityMismatch
	}
	return nil
}

func (lb *lzoBackend) Compress(src []byte, dst []byte) (int, error) {
	out := lzoRecompress(src, lb.level)
	if lb.state == optimizeKnownOptimized {
		if err := lzoOptimize(out, src); err != nil {
			return 0, fmt.Errorf("%w: LZO: %v", ErrCodec, err)
		}
	}
	if len(out) > len(dst) {
		return 0, fmt.Errorf("%w: LZO re-compressed block does not fit the original extent", ErrCodecIdentityMismatch)
	}
	return copy(dst, out), nil
}

func (lb *lzoBackend) CompressionTag() uint32 {
	tag := uint32(tagCompressorLzo) | uint32(lb.level)

	if lb.state == optimizeUnknown {
		// every block in the image round-trips identically with
		// and without the optimize pass, so either verdict
		// reproduces the image; report plain
		logger.Noticef("LZO optimize post-pass could not be detected; assuming it was not used")
	}
	if lb.state == optimizeKnownOptimized {
		tag |= lzoTagOptimized
	}
	return tag
}

// Seams for the optimize-detection tests.
var (
	lzoDecompress = func(src []byte, maxSize int) ([]byte, error) {
		return lzo.Decompress1X(bytes.NewReader(src), len(src), maxSize)
	}
	lzoRecompress = func(src []byte, level int) []byte {
		return lzo.Compress1X999Level(src, level)
	}
)
