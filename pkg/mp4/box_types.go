// SPDX-License-Identifier: GPL-2.0-or-later

package mp4

/************************* FullBox **************************/

// FullBox is ISOBMFF FullBox.
type FullBox struct {
	Version uint8
	Flags   [3]byte
}

// MarshalField box to writer.
func (b *FullBox) MarshalField(w *Writer) {
	w.TryWriteByte(b.Version)
	w.TryWrite(b.Flags[:])
}

// Wide fields are 64 bits in version 1 and 32 bits otherwise.
func (b *FullBox) tryWriteWide(w *Writer, v uint64) {
	if b.Version == 1 {
		w.TryWriteUint64(v)
	} else {
		w.TryWriteUint32(uint32(v))
	}
}

/*************************** ftyp ****************************/

// Ftyp is ISOBMFF ftyp box type.
type Ftyp struct {
	MajorBrand       [4]byte
	MinorVersion     uint32
	CompatibleBrands [][4]byte
}

// Type returns the BoxType.
func (*Ftyp) Type() BoxType {
	return [4]byte{'f', 't', 'y', 'p'}
}

// Size returns the marshaled size in bytes.
func (b *Ftyp) Size() int {
	return 8 + len(b.CompatibleBrands)*4
}

// Marshal box to writer.
func (b *Ftyp) Marshal(w *Writer) error {
	w.TryWrite(b.MajorBrand[:])
	w.TryWriteUint32(b.MinorVersion)
	for _, brand := range b.CompatibleBrands {
		w.TryWrite(brand[:])
	}
	return w.TryError
}

/************************ containers *************************/

// Container is a box without fields of its own, moov, trak, mdia, etc.
type Container BoxType

// Container boxes.
var (
	Moov = Container{'m', 'o', 'o', 'v'}
	Trak = Container{'t', 'r', 'a', 'k'}
	Mdia = Container{'m', 'd', 'i', 'a'}
	Udta = Container{'u', 'd', 't', 'a'}
)

// Type returns the BoxType.
func (c Container) Type() BoxType {
	return BoxType(c)
}

// Size returns the marshaled size in bytes.
func (Container) Size() int {
	return 0
}

// Marshal is a no-op, the children are marshaled by Boxes.
func (Container) Marshal(w *Writer) error {
	return nil
}

/************************** opaque ***************************/

// Opaque is a box with an arbitrary type and payload. mdat, free and
// deliberately malformed boxes.
type Opaque struct {
	BoxType BoxType
	Data    []byte
}

// Mdat returns a mdat box with data.
func Mdat(data []byte) *Opaque {
	return &Opaque{BoxType: BoxType{'m', 'd', 'a', 't'}, Data: data}
}

// Free returns a free box with data.
func Free(data []byte) *Opaque {
	return &Opaque{BoxType: BoxType{'f', 'r', 'e', 'e'}, Data: data}
}

// Type returns the BoxType.
func (b *Opaque) Type() BoxType {
	return b.BoxType
}

// Size returns the marshaled size in bytes.
func (b *Opaque) Size() int {
	return len(b.Data)
}

// Marshal box to writer.
func (b *Opaque) Marshal(w *Writer) error {
	w.TryWrite(b.Data)
	return w.TryError
}

/*************************** mdhd ****************************/

// Mdhd is ISOBMFF mdhd box type.
type Mdhd struct {
	FullBox
	CreationTime     uint64
	ModificationTime uint64
	Timescale        uint32
	Duration         uint64
	Language         [3]byte // ISO-639-2/T language code
}

// Type returns the BoxType.
func (*Mdhd) Type() BoxType {
	return [4]byte{'m', 'd', 'h', 'd'}
}

// Size returns the marshaled size in bytes.
func (b *Mdhd) Size() int {
	if b.FullBox.Version == 1 {
		return 36
	}
	return 24
}

// Marshal box to writer.
func (b *Mdhd) Marshal(w *Writer) error {
	b.FullBox.MarshalField(w)
	b.tryWriteWide(w, b.CreationTime)
	b.tryWriteWide(w, b.ModificationTime)
	w.TryWriteUint32(b.Timescale)
	b.tryWriteWide(w, b.Duration)

	// Pad bit followed by three 5 bit characters.
	var lang uint16
	for _, c := range b.Language {
		lang = lang<<5 | uint16(c-0x60)&0x1f
	}
	w.TryWriteUint16(lang)
	w.TryWriteUint16(0) // Pre defined.
	return w.TryError
}

/*************************** mvhd ****************************/

// Mvhd is ISOBMFF mvhd box type.
type Mvhd struct {
	FullBox
	CreationTime     uint64
	ModificationTime uint64
	Timescale        uint32
	Duration         uint64
	NextTrackID      uint32
}

// Type returns the BoxType.
func (*Mvhd) Type() BoxType {
	return [4]byte{'m', 'v', 'h', 'd'}
}

// Size returns the marshaled size in bytes.
func (b *Mvhd) Size() int {
	if b.FullBox.Version == 1 {
		return 112
	}
	return 100
}

var unityMatrix = [9]uint32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000}

// Marshal box to writer.
func (b *Mvhd) Marshal(w *Writer) error {
	b.FullBox.MarshalField(w)
	b.tryWriteWide(w, b.CreationTime)
	b.tryWriteWide(w, b.ModificationTime)
	w.TryWriteUint32(b.Timescale)
	b.tryWriteWide(w, b.Duration)
	w.TryWriteUint32(0x00010000) // Rate 1.0
	w.TryWriteUint16(0x0100)     // Volume 1.0
	w.TryWrite(make([]byte, 10)) // Reserved.
	for _, m := range unityMatrix {
		w.TryWriteUint32(m)
	}
	w.TryWrite(make([]byte, 24)) // Pre defined.
	w.TryWriteUint32(b.NextTrackID)
	return w.TryError
}
