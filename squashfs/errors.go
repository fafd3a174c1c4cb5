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
	"errors"
)

var (
	// ErrNotSquashFS is returned when the superblock magic does not
	// match.
	ErrNotSquashFS = errors.New("not a valid SquashFS image (no magic)")

	// ErrWrongVersion is returned for any on-disk version other
	// than 4.0.
	ErrWrongVersion = errors.New("unsupported SquashFS version (only 4.0 is supported)")

	// ErrUnsupportedCompression is returned when the image uses a
	// compression algorithm other than lzo or lz4.
	ErrUnsupportedCompression = errors.New("unsupported compression algorithm")

	// ErrCorruptMetadata indicates a structurally inconsistent
	// metadata stream.
	ErrCorruptMetadata = errors.New("corrupted metadata")

	// ErrCorruptInode indicates an inode with an invalid type.
	ErrCorruptInode = errors.New("corrupted inode")

	// ErrTruncatedMetadata is returned when the expected metadata
	// ended mid-block.
	ErrTruncatedMetadata = errors.New("expected metadata ended mid-block (file likely corrupted)")

	// ErrCodec is returned when a decompressor rejects its input.
	ErrCodec = errors.New("decompression failed (corrupted data?)")

	// ErrCodecIdentityMismatch is returned when re-compressing
	// decompressed data cannot reproduce the original byte stream,
	// making a lossless round trip impossible.
	ErrCodecIdentityMismatch = errors.New("input compressed data does not match re-compressed optimized nor non-optimized data")
)
