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

package osutil

import (
	"fmt"
	"io"
	"os"
)

// SparseFileWriter writes a file sequentially while allowing regions
// to be skipped over without allocating disk blocks. Skipped regions
// read back as zeros.
type SparseFileWriter struct {
	file   *os.File
	offset int64
}

// NewSparseFileWriter wraps the given file, which must be positioned
// at its beginning.
func NewSparseFileWriter(f *os.File) *SparseFileWriter {
	return &SparseFileWriter{file: f}
}

// Create creates the named file and returns a sparse writer over it.
func Create(path string) (*SparseFileWriter, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		return nil, err
	}
	return NewSparseFileWriter(f), nil
}

// Write writes the given bytes at the current offset.
func (w *SparseFileWriter) Write(data []byte) (int, error) {
	n, err := w.file.Write(data)
	w.offset += int64(n)
	return n, err
}

// WriteSparse advances the file by length bytes without writing them.
// The file is extended first so that the logical length covers the
// hole even if nothing is written after it.
func (w *SparseFileWriter) WriteSparse(length int64) error {
	past := w.offset + length

	if err := w.file.Truncate(past); err != nil {
		return fmt.Errorf("cannot extend sparse file: %v", err)
	}
	if _, err := w.file.Seek(length, io.SeekCurrent); err != nil {
		return fmt.Errorf("cannot seek past sparse region: %v", err)
	}

	w.offset = past
	return nil
}

// CopyFrom copies length bytes from the given reader to the current
// offset.
func (w *SparseFileWriter) CopyFrom(r io.Reader, length int64) error {
	n, err := io.CopyN(w.file, r, length)
	w.offset += n
	return err
}

// Offset returns the current write offset.
func (w *SparseFileWriter) Offset() int64 {
	return w.offset
}

// Sync flushes the file to stable storage.
func (w *SparseFileWriter) Sync() error {
	return w.file.Sync()
}

// File returns the underlying file.
func (w *SparseFileWriter) File() *os.File {
	return w.file
}

// Close closes the underlying file.
func (w *SparseFileWriter) Close() error {
	return w.file.Close()
}

// TemporarySparseFile is a sparse writer over a temporary file that is
// unlinked when no longer needed. The unlink is guarded by the process
// id of the creator so that forked helpers never remove the parent's
// temporaries.
type TemporarySparseFile struct {
	SparseFileWriter

	path      string
	parentPid int
}

// NewTemporarySparseFile creates a temporary file with the given name
// pattern under TMPDIR (or /tmp).
func NewTemporarySparseFile(pattern string) (*TemporarySparseFile, error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return nil, fmt.Errorf("cannot create temporary file: %v", err)
	}

	return &TemporarySparseFile{
		SparseFileWriter: SparseFileWriter{file: f},
		path:             f.Name(),
		parentPid:        os.Getpid(),
	}, nil
}

// Name returns the path of the temporary file.
func (t *TemporarySparseFile) Name() string {
	return t.path
}

// Unlink removes the temporary file if called by the creating process.
// It is safe to call more than once.
func (t *TemporarySparseFile) Unlink() error {
	if t.path == "" || os.Getpid() != t.parentPid {
		return nil
	}
	path := t.path
	t.path = ""
	return os.Remove(path)
}
