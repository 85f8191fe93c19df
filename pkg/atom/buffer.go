// SPDX-License-Identifier: GPL-2.0-or-later

package atom

import "encoding/binary"

// buffer is a whole file held in memory. Every accessor checks the
// offset and width against the buffer length and reports false
// instead of panicking, the bytes are never trusted.
type buffer []byte

func (b buffer) fits(pos int, width int) bool {
	return pos >= 0 && width >= 0 && pos <= len(b)-width
}

func (b buffer) readUint32(pos int) (uint32, bool) {
	if !b.fits(pos, 4) {
		return 0, false
	}
	return binary.BigEndian.Uint32(b[pos:]), true
}

func (b buffer) readUint64(pos int) (uint64, bool) {
	if !b.fits(pos, 8) {
		return 0, false
	}
	return binary.BigEndian.Uint64(b[pos:]), true
}

// readUint reads a 4 or 8 byte field.
func (b buffer) readUint(pos int, width int) (uint64, bool) {
	switch width {
	case 4:
		v, ok := b.readUint32(pos)
		return uint64(v), ok
	case 8:
		return b.readUint64(pos)
	}
	return 0, false
}

// writeUint writes the low width bytes of v, the rest is discarded.
func (b buffer) writeUint(pos int, width int, v uint64) bool {
	if !b.fits(pos, width) {
		return false
	}
	switch width {
	case 4:
		binary.BigEndian.PutUint32(b[pos:], uint32(v))
	case 8:
		binary.BigEndian.PutUint64(b[pos:], v)
	default:
		return false
	}
	return true
}
