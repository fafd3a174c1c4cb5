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

	"github.com/pierrec/lz4/v4"
)

// LZ4 options record (8 bytes): stream version, flags. squashfs only
// ever wrote the legacy stream format; the single known flag selects
// the high-compression match finder.
const (
	lz4OptionsSize = 8

	lz4VersionLegacy = 1

	lz4FlagHc   = 1
	lz4FlagMask = lz4FlagHc

	// tag layout: bit 0 high-compression
	lz4TagHc = 0x01
)

type lz4Backend struct {
	hc bool
}

func newLz4Backend() *lz4Backend {
	return &lz4Backend{}
}

func newLz4BackendFromTag(tag uint32) (*lz4Backend, error) {
	return &lz4Backend{hc: tag&lz4TagHc != 0}, nil
}

func (lb *lz4Backend) Setup(options []byte) error {
	if options == nil {
		return fmt.Errorf("%w: no compression options for LZ4 found", ErrCorruptMetadata)
	}
	if len(options) < lz4OptionsSize {
		return fmt.Errorf("%w: LZ4 compression options too short", ErrCorruptMetadata)
	}

	version := readUint32(options[0:])
	flags := readUint32(options[4:])

	if version != lz4VersionLegacy {
		return fmt.Errorf("%w: unsupported LZ4 stream version %d", ErrUnsupportedCompression, version)
	}
	if flags&^uint32(lz4FlagMask) != 0 {
		return fmt.Errorf("%w: unknown LZ4 flags %#x", ErrCorruptMetadata, flags)
	}

	lb.hc = flags&lz4FlagHc != 0
	return nil
}

func (lb *lz4Backend) Reset() {
	// LZ4 has no latched per-image state
}

func (lb *lz4Backend) Decompress(src []byte, dst []byte) (int, error) {
	n, err := lz4.UncompressBlock(src, dst)
	if err != nil {
		return 0, fmt.Errorf("%w: LZ4: %v", ErrCodec, err)
	}
	return n, nil
}

func (lb *lz4Backend) Compress(src []byte, dst []byte) (int, error) {
	var n int
	var err error
	if lb.hc {
		c := lz4.CompressorHC{Level: lz4.Level9}
		n, err = c.CompressBlock(src, dst)
	} else {
		var c lz4.Compressor
		n, err = c.CompressBlock(src, dst)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: LZ4: %v", ErrCodec, err)
	}
	return n, nil
}

func (lb *lz4Backend) CompressionTag() uint32 {
	tag := uint32(tagCompressorLz4)
	if lb.hc {
		tag |= lz4TagHc
	}
	return tag
}
