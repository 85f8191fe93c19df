// SPDX-License-Identifier: GPL-2.0-or-later

package mp4

// Movie returns a minimal progressive file: ftyp, a moov holding mvhd
// and one trak per media header, followed by mdat.
func Movie(mvhd *Mvhd, mdhds []*Mdhd, mdat []byte) ([]byte, error) {
	moov := Boxes{
		Box:      Moov,
		Children: []Boxes{{Box: mvhd}},
	}
	for _, mdhd := range mdhds {
		moov.Children = append(moov.Children, Boxes{
			Box: Trak,
			Children: []Boxes{{
				Box:      Mdia,
				Children: []Boxes{{Box: mdhd}},
			}},
		})
	}

	ftyp := &Ftyp{
		MajorBrand:       [4]byte{'i', 's', 'o', 'm'},
		MinorVersion:     0x200,
		CompatibleBrands: [][4]byte{{'i', 's', 'o', 'm'}, {'m', 'p', '4', '1'}},
	}
	return Marshal(
		Boxes{Box: ftyp},
		moov,
		Boxes{Box: Mdat(mdat)},
	)
}
