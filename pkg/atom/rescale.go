// SPDX-License-Identifier: GPL-2.0-or-later

package atom

import (
	"math"
	"strconv"
)

// DefaultTimescale is the timescale a derived scale factor aims for.
const DefaultTimescale = 30000.0

// ScaleFactor multiplies both timescale and duration. The zero value
// is a derived factor.
type ScaleFactor struct {
	value    float64
	explicit bool
}

// Explicit returns a fixed scale factor.
func Explicit(f float64) ScaleFactor {
	return ScaleFactor{value: f, explicit: true}
}

// Derived returns a factor that is computed for every atom as
// DefaultTimescale divided by the atom's current timescale.
func Derived() ScaleFactor {
	return ScaleFactor{}
}

// IsDerived reports if the factor is computed per atom.
func (s ScaleFactor) IsDerived() bool {
	return !s.explicit
}

// Value returns the explicit factor, or 0 if derived.
func (s ScaleFactor) Value() float64 {
	if !s.explicit {
		return 0
	}
	return s.value
}

func (s ScaleFactor) String() string {
	if !s.explicit {
		return "derived"
	}
	return strconv.FormatFloat(s.value, 'g', -1, 64)
}

// Valid reports if an explicit factor is positive and finite.
func (s ScaleFactor) Valid() bool {
	if !s.explicit {
		return true
	}
	return s.value > 0 && !math.IsInf(s.value, 0) && !math.IsNaN(s.value)
}

func (s ScaleFactor) effective(oldTimescale uint32) (float64, Reject) {
	if s.explicit {
		return s.value, rejectNone
	}
	if oldTimescale == 0 {
		return 0, RejectZeroTimescale
	}
	return DefaultTimescale / float64(oldTimescale), rejectNone
}

// layout of the timing fields relative to the start of the atom.
type layout struct {
	timescale     int
	duration      int
	durationWidth int
}

// Indexed by version.
var layouts = [2]layout{
	{timescale: 20, duration: 24, durationWidth: 4},
	{timescale: 28, duration: 32, durationWidth: 8},
}

func (l layout) end() int {
	return l.duration + l.durationWidth
}

// Patch describes a rewritten atom.
type Patch struct {
	Tag          Tag
	Offset       int
	Version      uint8
	Scale        float64
	OldTimescale uint32
	NewTimescale uint32
	OldDuration  uint64
	NewDuration  uint64
}

// rescale rewrites the timescale and duration of a validated atom.
// Nothing is written unless the whole field range is in bounds.
func rescale(buf buffer, h header, scale ScaleFactor) (Patch, Reject) {
	l := layouts[h.version]
	if !buf.fits(h.offset, l.end()) {
		return Patch{}, RejectFieldsOutOfBounds
	}

	oldTimescale, _ := buf.readUint32(h.offset + l.timescale)
	oldDuration, _ := buf.readUint(h.offset+l.duration, l.durationWidth)

	factor, reject := scale.effective(oldTimescale)
	if reject != rejectNone {
		return Patch{}, reject
	}

	newTimescale, ok := scaleField(uint64(oldTimescale), factor)
	if !ok {
		return Patch{}, RejectBadScale
	}
	newDuration, ok := scaleField(oldDuration, factor)
	if !ok {
		return Patch{}, RejectBadScale
	}

	buf.writeUint(h.offset+l.timescale, 4, newTimescale)
	buf.writeUint(h.offset+l.duration, l.durationWidth, newDuration)

	return Patch{
		Tag:          h.tag,
		Offset:       h.offset,
		Version:      h.version,
		Scale:        factor,
		OldTimescale: oldTimescale,
		NewTimescale: uint32(newTimescale),
		OldDuration:  oldDuration,
		NewDuration:  truncate(newDuration, l.durationWidth),
	}, rejectNone
}

const twoPow64 = 1 << 64

// scaleField returns floor(v*scale) modulo 2^64. The caller truncates
// the result to the field width, so values wrap instead of saturating.
func scaleField(v uint64, scale float64) (uint64, bool) {
	scaled := math.Floor(float64(v) * scale)
	if math.IsInf(scaled, 0) || math.IsNaN(scaled) || scaled < 0 {
		return 0, false
	}
	if scaled >= twoPow64 {
		scaled = math.Mod(scaled, twoPow64)
	}
	return uint64(scaled), true
}

func truncate(v uint64, width int) uint64 {
	if width == 4 {
		return uint64(uint32(v))
	}
	return v
}
