// SPDX-License-Identifier: GPL-2.0-or-later

package atom

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/icza/bitio"
)

// Info is the decoded timing prefix of a mvhd or mdhd atom.
type Info struct {
	Tag              Tag
	Offset           int
	Size             uint32
	Version          uint8
	Flags            uint32
	CreationTime     uint64
	ModificationTime uint64
	Timescale        uint32
	Duration         uint64
}

// Seconds returns the duration in seconds, or 0 if the timescale is 0.
func (i Info) Seconds() float64 {
	if i.Timescale == 0 {
		return 0
	}
	return float64(i.Duration) / float64(i.Timescale)
}

func (i Info) String() string {
	return fmt.Sprintf("%v v%v at %v: size %v, timescale %v, duration %v (%.3fs)",
		i.Tag, i.Version, i.Offset, i.Size, i.Timescale, i.Duration, i.Seconds())
}

// Inspect returns every atom PatchBuffer would patch, sorted by
// offset. The buffer is not modified.
func Inspect(buf []byte) ([]Info, error) {
	var infos []Info
	for _, tag := range Tags {
		for pos := 0; ; {
			tagOffset := FindTag(buf, tag, pos)
			if tagOffset == -1 {
				break
			}
			pos = tagOffset + 4

			h, reject := validate(buffer(buf), tag, tagOffset)
			if reject != rejectNone {
				continue
			}
			end := h.offset + layouts[h.version].end()
			if end > len(buf) {
				continue
			}

			info, err := decodeInfo(buf[h.offset:end])
			if err != nil {
				return nil, fmt.Errorf("decode %v at %v: %w", tag, h.offset, err)
			}
			info.Offset = h.offset
			infos = append(infos, info)
		}
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Offset < infos[j].Offset
	})
	return infos, nil
}

func decodeInfo(raw []byte) (Info, error) {
	br := bitio.NewReader(bytes.NewReader(raw))

	var info Info
	size, err := br.ReadBits(32)
	if err != nil {
		return Info{}, err
	}
	info.Size = uint32(size)

	if _, err := br.Read(info.Tag[:]); err != nil {
		return Info{}, err
	}

	version, err := br.ReadBits(8)
	if err != nil {
		return Info{}, err
	}
	info.Version = uint8(version)

	flags, err := br.ReadBits(24)
	if err != nil {
		return Info{}, err
	}
	info.Flags = uint32(flags)

	// Times and duration are 32 bits in version 0 and 64 bits in version 1.
	width := uint8(32)
	if info.Version == 1 {
		width = 64
	}

	if info.CreationTime, err = br.ReadBits(width); err != nil {
		return Info{}, err
	}
	if info.ModificationTime, err = br.ReadBits(width); err != nil {
		return Info{}, err
	}

	timescale, err := br.ReadBits(32)
	if err != nil {
		return Info{}, err
	}
	info.Timescale = uint32(timescale)

	if info.Duration, err = br.ReadBits(width); err != nil {
		return Info{}, err
	}
	return info, nil
}
