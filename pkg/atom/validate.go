// SPDX-License-Identifier: GPL-2.0-or-later

package atom

// Reject is the reason a tag match was not patched.
type Reject uint8

// Rejections.
const (
	rejectNone Reject = iota
	RejectHeaderBeforeStart
	RejectHeaderOutOfBounds
	RejectBoxTooSmall
	RejectNoVersionByte
	RejectUnsupportedVersion
	RejectFieldsOutOfBounds
	RejectZeroTimescale
	RejectBadScale
)

func (r Reject) String() string {
	switch r {
	case rejectNone:
		return "none"
	case RejectHeaderBeforeStart:
		return "header before start of file"
	case RejectHeaderOutOfBounds:
		return "header out of bounds"
	case RejectBoxTooSmall:
		return "box size too small"
	case RejectNoVersionByte:
		return "no room for version byte"
	case RejectUnsupportedVersion:
		return "unsupported version"
	case RejectFieldsOutOfBounds:
		return "timing fields out of bounds"
	case RejectZeroTimescale:
		return "zero timescale"
	case RejectBadScale:
		return "scaled value not finite"
	}
	return "unknown"
}

// diagnostic reports if the rejection concerns what looks like a real
// atom, as opposed to a stray tag match in payload data.
func (r Reject) diagnostic() bool {
	return r == RejectUnsupportedVersion ||
		r == RejectZeroTimescale ||
		r == RejectBadScale
}

// Minimum box size, the size and type fields.
const headerSize = 8

// header of a candidate atom.
type header struct {
	tag       Tag
	tagOffset int
	offset    int // Start of the size field.
	size      uint32
	version   uint8
}

// validate checks the tag match at tagOffset. The declared size is
// checked but never used to skip ahead, a corrupt size must not hide
// a real atom further along.
func validate(buf buffer, tag Tag, tagOffset int) (header, Reject) {
	h := header{
		tag:       tag,
		tagOffset: tagOffset,
		offset:    tagOffset - 4,
	}
	if h.offset < 0 {
		return h, RejectHeaderBeforeStart
	}

	size, ok := buf.readUint32(h.offset)
	if !ok {
		return h, RejectHeaderOutOfBounds
	}
	h.size = size
	if h.size < headerSize {
		return h, RejectBoxTooSmall
	}

	if h.offset+headerSize >= len(buf) {
		return h, RejectNoVersionByte
	}
	h.version = buf[h.offset+headerSize]
	if h.version > 1 {
		return h, RejectUnsupportedVersion
	}
	return h, rejectNone
}
