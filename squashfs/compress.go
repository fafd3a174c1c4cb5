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

// CompressionBackend is the codec seam shared by the metadata walkers
// and the delta expander. A backend knows how to decompress blocks of
// one image and how to compress them back so that the original bytes
// are reproduced exactly.
type CompressionBackend interface {
	// Setup configures the backend from the image's raw
	// compression-options blob (nil when the image carries none).
	Setup(options []byte) error
	// Reset clears per-image latched state (the LZO optimize
	// verdict); it must be called before walking another image or
	// re-walking the same one.
	Reset()
	// Decompress inflates src into dst, returning the number of
	// bytes produced.
	Decompress(src []byte, dst []byte) (int, error)
	// Compress deflates src into dst so that the output matches
	// what the image's original compressor produced, returning the
	// number of bytes written.
	Compress(src []byte, dst []byte) (int, error)
	// CompressionTag encodes the compressor identity, including
	// variant flags, into a 32-bit tag.
	CompressionTag() uint32
}

// Compressor identity occupies the top byte of a compression tag; the
// low bytes carry per-compressor variant flags.
const (
	tagCompressorLzo  = 0x01 << 24
	tagCompressorLz4  = 0x02 << 24
	tagCompressorMask = 0xff << 24
)

func createCompressionBackend(compressionType uint16, options []byte) (CompressionBackend, error) {
	var backend CompressionBackend
	switch compressionType {
	case compressionLzo:
		backend = newLzoBackend()
	case compressionLz4:
		backend = newLz4Backend()
	default:
		return nil, fmt.Errorf("%w (compression id %d)", ErrUnsupportedCompression, compressionType)
	}

	if err := backend.Setup(options); err != nil {
		return nil, err
	}
	return backend, nil
}

// BackendFromTag reconstructs the codec identified by a compression
// tag, ready to reproduce the original compressed byte streams during
// patch application.
func BackendFromTag(tag uint32) (CompressionBackend, error) {
	switch tag & tagCompressorMask {
	case tagCompressorLzo:
		return newLzoBackendFromTag(tag)
	case tagCompressorLz4:
		return newLz4BackendFromTag(tag)
	}
	return nil, fmt.Errorf("%w (tag %#08x)", ErrUnsupportedCompression, tag)
}
