// SPDX-License-Identifier: GPL-2.0-or-later

// Package mp4 marshals a small subset of ISOBMFF boxes. It's used to
// build well formed files for the patcher's tests and fixtures.
package mp4

import (
	"bytes"
	"io"

	"github.com/icza/bitio"
)

// BoxType is mpeg box type.
type BoxType [4]byte

// ImmutableBox is common interface of box.
type ImmutableBox interface {
	// Type returns the BoxType.
	Type() BoxType

	// Size returns the marshaled size in bytes, excluding the header.
	Size() int

	// Marshal box to writer.
	Marshal(w *Writer) error
}

// Boxes is a structure of boxes that can be marshaled together.
type Boxes struct {
	Box      ImmutableBox
	Children []Boxes
}

// Size returns the total size of the box including header and children.
func (b *Boxes) Size() int {
	total := b.Box.Size() + 8
	for _, child := range b.Children {
		total += child.Size()
	}
	return total
}

// Marshal box including children.
func (b *Boxes) Marshal(w *Writer) error {
	typ := b.Box.Type()
	w.TryWriteUint32(uint32(b.Size()))
	w.TryWrite(typ[:])
	if w.TryError != nil {
		return w.TryError
	}

	if err := b.Box.Marshal(w); err != nil {
		return err
	}
	for _, child := range b.Children {
		if err := child.Marshal(w); err != nil {
			return err
		}
	}
	return nil
}

// Marshal returns the boxes as a file.
func Marshal(boxes ...Boxes) ([]byte, error) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, b := range boxes {
		if err := b.Marshal(w); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Writer writes big-endian fields. The first error is kept in
// TryError and later writes are skipped.
type Writer struct {
	bw *bitio.Writer

	// TryError holds the first error occurred in TryXXX() methods.
	TryError error
}

// NewWriter returns a new Writer using the specified io.Writer as the output.
func NewWriter(out io.Writer) *Writer {
	return &Writer{bw: bitio.NewWriter(out)}
}

// TryWrite tries to write len(p) bytes.
func (w *Writer) TryWrite(p []byte) {
	if w.TryError == nil {
		_, w.TryError = w.bw.Write(p)
	}
}

// TryWriteBits tries to write the n lowest bits of r.
func (w *Writer) TryWriteBits(r uint64, n uint8) {
	if w.TryError == nil {
		w.TryError = w.bw.WriteBits(r, n)
	}
}

// TryWriteByte tries to write 1 byte.
func (w *Writer) TryWriteByte(b byte) {
	w.TryWriteBits(uint64(b), 8)
}

// TryWriteUint16 tries to write 16 bits.
func (w *Writer) TryWriteUint16(r uint16) {
	w.TryWriteBits(uint64(r), 16)
}

// TryWriteUint32 tries to write 32 bits.
func (w *Writer) TryWriteUint32(r uint32) {
	w.TryWriteBits(uint64(r), 32)
}

// TryWriteUint64 tries to write 64 bits.
func (w *Writer) TryWriteUint64(r uint64) {
	w.TryWriteBits(r, 64)
}

// Close flushes the writer.
func (w *Writer) Close() error {
	if w.TryError != nil {
		return w.TryError
	}
	return w.bw.Close()
}
