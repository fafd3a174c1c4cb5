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

// Package delta produces and applies compact binary deltas between
// SquashFS images. Both images are rewritten into an expanded form in
// which every compressed block that is not shared between them is
// replaced by its decompressed payload; the external xdelta3 differ
// then sees byte-identical regions wherever the uncompressed content
// matches, and its output shrinks accordingly.
package delta

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/snapcore/squashdelta/logger"
	"github.com/snapcore/squashdelta/osutil"
	"github.com/snapcore/squashdelta/squashfs"
)

// ErrChildFailed is returned when the external differ exits non-zero.
var ErrChildFailed = errors.New("xdelta3 failed")

// xdelta3Path allows overriding the differ binary, mostly for tests.
func xdelta3Path() string {
	return osutil.Getenv("SQUASHDELTA_XDELTA3", "xdelta3")
}

// Diff writes to patchPath a patch that reconstructs the target image
// from the source image.
func Diff(sourcePath, targetPath, patchPath string) error {
	source, err := squashfs.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("cannot open %s: %v", sourcePath, err)
	}
	defer source.Close()

	target, err := squashfs.Open(targetPath)
	if err != nil {
		return fmt.Errorf("cannot open %s: %v", targetPath, err)
	}
	defer target.Close()

	sourceExtents, err := source.CollectExtents()
	if err != nil {
		return fmt.Errorf("cannot walk %s: %v", sourcePath, err)
	}
	targetExtents, err := target.CollectExtents()
	if err != nil {
		return fmt.Errorf("cannot walk %s: %v", targetPath, err)
	}

	// the tags are final only after both walks
	sourceTag := source.CompressionTag()
	targetTag := target.CompressionTag()
	if sourceTag != targetTag {
		return fmt.Errorf("%w (%#08x vs %#08x)", ErrCodecMismatch, sourceTag, targetTag)
	}

	residualSource, residualTarget := Match(sourceExtents, targetExtents)
	logger.Debugf("%d + %d residual extents after matching %d + %d",
		len(residualSource), len(residualTarget), len(sourceExtents), len(targetExtents))

	expandedSource, err := osutil.NewTemporarySparseFile("squashdelta-source-")
	if err != nil {
		return err
	}
	defer expandedSource.Unlink()
	defer expandedSource.Close()

	expandedTarget, err := osutil.NewTemporarySparseFile("squashdelta-target-")
	if err != nil {
		return err
	}
	defer expandedTarget.Unlink()
	defer expandedTarget.Close()

	if err := writeExpanded(&expandedSource.SparseFileWriter, source.Source(), source.Backend(),
		scratchSize(source.BlockSize()), sourceTag, residualSource); err != nil {
		return fmt.Errorf("cannot expand %s: %v", sourcePath, err)
	}
	if err := writeExpanded(&expandedTarget.SparseFileWriter, target.Source(), target.Backend(),
		scratchSize(target.BlockSize()), targetTag, residualTarget); err != nil {
		return fmt.Errorf("cannot expand %s: %v", targetPath, err)
	}
	if err := expandedSource.Sync(); err != nil {
		return err
	}
	if err := expandedTarget.Sync(); err != nil {
		return err
	}

	patch, err := os.OpenFile(patchPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		return fmt.Errorf("cannot create %s: %v", patchPath, err)
	}
	defer patch.Close()

	// the applier rebuilds the expanded source from this list; the
	// target's own list travels inside the delta, as the trailing
	// envelope of the reconstructed expanded target
	if err := writeEnvelopeFront(patch, &envelope{compressionTag: sourceTag, blocks: residualSource}); err != nil {
		return err
	}

	// the differ writes the delta straight into the patch file,
	// after the envelope
	cmd := exec.Command(xdelta3Path(), "-v", "-9", "-S", "djw", "-s",
		expandedSource.Name(), expandedTarget.Name())
	cmd.Stdout = patch
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %v", ErrChildFailed, err)
	}

	return patch.Sync()
}

// Apply reconstructs the target image at targetPath from the source
// image and a patch produced by Diff.
func Apply(sourcePath, patchPath, targetPath string) error {
	patchData, err := os.ReadFile(patchPath)
	if err != nil {
		return fmt.Errorf("cannot read %s: %v", patchPath, err)
	}
	env, deltaStart, err := parseEnvelopeFront(patchData)
	if err != nil {
		return fmt.Errorf("cannot parse %s: %v", patchPath, err)
	}

	backend, err := squashfs.BackendFromTag(env.compressionTag)
	if err != nil {
		return err
	}

	source, err := squashfs.OpenByteSource(sourcePath)
	if err != nil {
		return fmt.Errorf("cannot open %s: %v", sourcePath, err)
	}
	defer source.Close()

	// rebuild the expanded source exactly as Diff wrote it
	expandedSource, err := osutil.NewTemporarySparseFile("squashmerge-source-")
	if err != nil {
		return err
	}
	defer expandedSource.Unlink()
	defer expandedSource.Close()

	expanded := make([]squashfs.Extent, len(env.blocks))
	copy(expanded, env.blocks)
	if err := writeExpanded(&expandedSource.SparseFileWriter, source, backend,
		recordedScratchSize(env.blocks), env.compressionTag, expanded); err != nil {
		return fmt.Errorf("cannot expand %s: %v", sourcePath, err)
	}
	for i := range expanded {
		if expanded[i].UncompressedLength != env.blocks[i].UncompressedLength {
			return fmt.Errorf("%w: block at %#x decompressed to %d bytes, expected %d",
				squashfs.ErrCodecIdentityMismatch, expanded[i].Offset,
				expanded[i].UncompressedLength, env.blocks[i].UncompressedLength)
		}
	}
	if err := expandedSource.Sync(); err != nil {
		return err
	}

	// hand the delta to xdelta3 to reconstruct the expanded target
	deltaFile, err := osutil.NewTemporarySparseFile("squashmerge-delta-")
	if err != nil {
		return err
	}
	defer deltaFile.Unlink()
	defer deltaFile.Close()
	if err := deltaFile.CopyFrom(bytes.NewReader(patchData[deltaStart:]),
		int64(len(patchData))-int64(deltaStart)); err != nil {
		return err
	}
	if err := deltaFile.Sync(); err != nil {
		return err
	}

	expandedTarget, err := osutil.NewTemporarySparseFile("squashmerge-target-")
	if err != nil {
		return err
	}
	defer expandedTarget.Unlink()
	defer expandedTarget.Close()

	cmd := exec.Command(xdelta3Path(), "-d", "-f", "-s",
		expandedSource.Name(), deltaFile.Name(), expandedTarget.Name())
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrChildFailed, osutil.OutputErr(output, err))
	}

	// the reconstructed expanded target ends with its own envelope;
	// everything before the appended payloads is the image to
	// rebuild
	expandedData, err := squashfs.OpenByteSource(expandedTarget.Name())
	if err != nil {
		return err
	}
	defer expandedData.Close()
	data, err := expandedData.PeekSlice(int(expandedData.Length()))
	if err != nil {
		return err
	}

	targetEnv, payloadStart, err := parseEnvelopeEnd(data)
	if err != nil {
		return fmt.Errorf("cannot parse reconstructed image: %v", err)
	}
	if targetEnv.compressionTag != env.compressionTag {
		return fmt.Errorf("%w (%#08x vs %#08x)", ErrCodecMismatch,
			targetEnv.compressionTag, env.compressionTag)
	}
	var payloads int64
	for _, b := range targetEnv.blocks {
		payloads += int64(b.UncompressedLength)
	}
	imageLength := payloadStart - payloads
	if imageLength < 0 {
		return io.ErrUnexpectedEOF
	}

	out, err := osutil.Create(targetPath)
	if err != nil {
		return fmt.Errorf("cannot create %s: %v", targetPath, err)
	}
	defer out.Close()

	if err := recompress(out, data, imageLength, targetEnv, backend); err != nil {
		return err
	}
	return out.Sync()
}
