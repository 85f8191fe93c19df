// SPDX-License-Identifier: GPL-2.0-or-later

package atom

import "bytes"

// Tag is a four character atom type.
type Tag [4]byte

// Atom types that carry a timescale and duration.
var (
	TagMvhd = Tag{'m', 'v', 'h', 'd'}
	TagMdhd = Tag{'m', 'd', 'h', 'd'}
)

// Tags are patched in this order.
var Tags = []Tag{TagMvhd, TagMdhd}

func (t Tag) String() string {
	return string(t[:])
}

// FindTag returns the index of the first occurrence of tag at or after
// from, or -1 if there is none. The match may be payload data that just
// happens to spell the tag, FindTag knows nothing about atoms.
func FindTag(buf []byte, tag Tag, from int) int {
	if from < 0 {
		from = 0
	}
	if from >= len(buf) {
		return -1
	}
	i := bytes.Index(buf[from:], tag[:])
	if i == -1 {
		return -1
	}
	return from + i
}
