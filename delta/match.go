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
	"sort"

	"github.com/snapcore/squashdelta/squashfs"
)

func sortByIdentity(extents []squashfs.Extent) {
	sort.Slice(extents, func(i, j int) bool {
		if extents[i].Length != extents[j].Length {
			return extents[i].Length < extents[j].Length
		}
		return extents[i].Fingerprint < extents[j].Fingerprint
	})
}

func sameIdentity(a, b squashfs.Extent) bool {
	return a.Length == b.Length && a.Fingerprint == b.Fingerprint
}

// identityRun returns the index just past the run of extents sharing
// the identity of extents[i].
func identityRun(extents []squashfs.Extent, i int) int {
	j := i + 1
	for j < len(extents) && sameIdentity(extents[i], extents[j]) {
		j++
	}
	return j
}

// Match removes from both extent lists the blocks common to source
// and target, pairing them by (length, fingerprint). The residuals
// are exactly the blocks the patch has to represent. When an identity
// appears multiple times on both sides, both runs are dropped
// entirely: shared content that survives in the expanded images only
// helps the external differ.
func Match(source, target []squashfs.Extent) (residualSource, residualTarget []squashfs.Extent) {
	sortByIdentity(source)
	sortByIdentity(target)

	residualSource = source[:0]
	residualTarget = target[:0]

	i, j := 0, 0
	for i < len(source) && j < len(target) {
		s, t := source[i], target[j]
		switch {
		case sameIdentity(s, t):
			i = identityRun(source, i)
			j = identityRun(target, j)
		case s.Length < t.Length || (s.Length == t.Length && s.Fingerprint < t.Fingerprint):
			residualSource = append(residualSource, s)
			i++
		default:
			residualTarget = append(residualTarget, t)
			j++
		}
	}
	residualSource = append(residualSource, source[i:]...)
	residualTarget = append(residualTarget, target[j:]...)

	return residualSource, residualTarget
}
