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
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// ByteSource is a random-access, bounds-checked view over an image
// file. The file is memory-mapped; reads are served straight from the
// mapping through an implicit cursor. A source can be duplicated
// cheaply to obtain an independent cursor over the same mapping; only
// the original owns (and unmaps) the mapping.
type ByteSource struct {
	data  []byte
	pos   int64
	owner bool
}

// OpenByteSource memory-maps the given regular file read-only.
func OpenByteSource(path string) (*ByteSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if !fi.Mode().IsRegular() {
		return nil, fmt.Errorf("cannot map %q: not a regular file", path)
	}

	var data []byte
	if size := fi.Size(); size > 0 {
		data, err = unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
		if err != nil {
			return nil, fmt.Errorf("cannot map %q: %v", path, err)
		}
	}

	return &ByteSource{data: data, owner: true}, nil
}

// Dup returns an independent cursor over the same mapping. The
// duplicate must not be used after the owning source is closed.
func (b *ByteSource) Dup() *ByteSource {
	return &ByteSource{data: b.data, pos: b.pos}
}

// Close unmaps the file. Closing a duplicate is a no-op.
func (b *ByteSource) Close() error {
	if !b.owner || b.data == nil {
		return nil
	}
	data := b.data
	b.data = nil
	return unix.Munmap(data)
}

// Length returns the length of the underlying file.
func (b *ByteSource) Length() int64 {
	return int64(len(b.data))
}

// Position returns the current cursor position.
func (b *ByteSource) Position() int64 {
	return b.pos
}

// Seek repositions the cursor; whence is one of io.SeekStart,
// io.SeekCurrent or io.SeekEnd. Seeking outside the file fails with
// io.ErrUnexpectedEOF.
func (b *ByteSource) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = b.pos + offset
	case io.SeekEnd:
		pos = b.Length() + offset
	default:
		return b.pos, fmt.Errorf("internal error: invalid whence %d", whence)
	}

	if pos < 0 || pos > b.Length() {
		return b.pos, io.ErrUnexpectedEOF
	}
	b.pos = pos
	return pos, nil
}

// ReadSlice returns a view of the next n bytes and advances the
// cursor. The returned slice aliases the mapping and must not be
// modified.
func (b *ByteSource) ReadSlice(n int) ([]byte, error) {
	if n < 0 || b.pos+int64(n) > b.Length() {
		return nil, io.ErrUnexpectedEOF
	}
	data := b.data[b.pos : b.pos+int64(n)]
	b.pos += int64(n)
	return data, nil
}

// PeekSlice is ReadSlice without advancing the cursor.
func (b *ByteSource) PeekSlice(n int) ([]byte, error) {
	if n < 0 || b.pos+int64(n) > b.Length() {
		return nil, io.ErrUnexpectedEOF
	}
	return b.data[b.pos : b.pos+int64(n)], nil
}

// Read implements io.Reader over the mapping, so the source can feed
// plain stream copies. It returns io.EOF at the end of the file.
func (b *ByteSource) Read(p []byte) (int, error) {
	if b.pos >= b.Length() {
		return 0, io.EOF
	}
	n := copy(p, b.data[b.pos:])
	b.pos += int64(n)
	return n, nil
}

// ReadUint16 reads a little-endian 16-bit word at the cursor.
func (b *ByteSource) ReadUint16() (uint16, error) {
	data, err := b.ReadSlice(2)
	if err != nil {
		return 0, err
	}
	return readUint16(data), nil
}

// ReadUint32 reads a little-endian 32-bit word at the cursor.
func (b *ByteSource) ReadUint32() (uint32, error) {
	data, err := b.ReadSlice(4)
	if err != nil {
		return 0, err
	}
	return readUint32(data), nil
}

// ReadUint64 reads a little-endian 64-bit word at the cursor.
func (b *ByteSource) ReadUint64() (uint64, error) {
	data, err := b.ReadSlice(8)
	if err != nil {
		return 0, err
	}
	return readUint64(data), nil
}
