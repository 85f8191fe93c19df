// SPDX-License-Identifier: GPL-2.0-or-later

package atom

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// LogFunc receives human readable progress lines.
type LogFunc func(string)

func (f LogFunc) printf(format string, v ...interface{}) {
	if f != nil {
		f(fmt.Sprintf(format, v...))
	}
}

// ErrInvalidScale explicit scale factor is not positive and finite.
var ErrInvalidScale = errors.New("scale factor must be positive and finite")

// Result of a patch operation.
type Result struct {
	Patches  []Patch
	Rejected map[Reject]int
}

// Patched returns the number of rewritten atoms.
func (r Result) Patched() int {
	return len(r.Patches)
}

func (r *Result) reject(reason Reject) {
	if r.Rejected == nil {
		r.Rejected = make(map[Reject]int)
	}
	r.Rejected[reason]++
}

// PatchBuffer rescales every mvhd and mdhd atom in buf in place.
// Each tag gets its own pass from the start of the buffer.
func PatchBuffer(buf []byte, scale ScaleFactor, logf LogFunc) (Result, error) {
	if !scale.Valid() {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidScale, scale.Value())
	}

	var res Result
	for _, tag := range Tags {
		patchTag(buffer(buf), tag, scale, logf, &res)
	}

	if res.Patched() == 0 {
		logf.printf("warning: no mvhd/mdhd atoms patched, output is a copy of the input")
	} else {
		logf.printf("patched %v atoms", res.Patched())
	}
	return res, nil
}

// patchTag scans for one tag left to right. The next search always
// starts 4 bytes after the current match, whether it was patched or not.
func patchTag(buf buffer, tag Tag, scale ScaleFactor, logf LogFunc, res *Result) {
	for pos := 0; ; {
		tagOffset := FindTag(buf, tag, pos)
		if tagOffset == -1 {
			return
		}
		pos = tagOffset + 4

		h, reject := validate(buf, tag, tagOffset)
		if reject == rejectNone {
			var p Patch
			p, reject = rescale(buf, h, scale)
			if reject == rejectNone {
				res.Patches = append(res.Patches, p)
				logf.printf("%v v%v at %v: timescale %v -> %v, duration %v -> %v, scale %v",
					tag, p.Version, p.Offset,
					p.OldTimescale, p.NewTimescale,
					p.OldDuration, p.NewDuration,
					p.Scale)
				continue
			}
		}

		res.reject(reject)
		if reject.diagnostic() {
			logf.printf("skipping %v at %v: %v (version %v)", tag, h.offset, reject, h.version)
		}
	}
}

// Patcher reads, patches and writes whole files.
type Patcher struct {
	Scale ScaleFactor
	Log   LogFunc

	// CheckSize is called with the input size before it's read.
	CheckSize func(size int64) error

	stat      func(string) (fs.FileInfo, error)
	readFile  func(string) ([]byte, error)
	writeFile func(string, []byte, fs.FileMode) error
}

// NewPatcher returns a patcher that uses the file system.
func NewPatcher(scale ScaleFactor, logf LogFunc) *Patcher {
	return &Patcher{
		Scale:     scale,
		Log:       logf,
		stat:      os.Stat,
		readFile:  os.ReadFile,
		writeFile: os.WriteFile,
	}
}

// PatchFile reads inputPath into memory, patches it and writes the
// result to outputPath, which may be the same file. The output is
// written even if nothing was patched. Nothing is written on error
// before the write, the input file is only touched by the final write.
func (p *Patcher) PatchFile(inputPath string, outputPath string) (Result, error) {
	if !p.Scale.Valid() {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidScale, p.Scale.Value())
	}

	info, err := p.stat(inputPath)
	if err != nil {
		return Result{}, fmt.Errorf("stat input: %w", err)
	}
	if info.IsDir() {
		return Result{}, fmt.Errorf("input %v: %w", inputPath, ErrIsDir)
	}
	if p.CheckSize != nil {
		if err := p.CheckSize(info.Size()); err != nil {
			return Result{}, fmt.Errorf("input %v: %w", inputPath, err)
		}
	}

	buf, err := p.readFile(inputPath)
	if err != nil {
		return Result{}, fmt.Errorf("read input: %w", err)
	}
	p.Log.printf("read %v bytes from %v", len(buf), inputPath)

	res, err := PatchBuffer(buf, p.Scale, p.Log)
	if err != nil {
		return Result{}, err
	}

	if err := p.writeFile(outputPath, buf, info.Mode().Perm()); err != nil {
		return res, fmt.Errorf("write output: %w", err)
	}
	p.Log.printf("wrote %v", outputPath)
	return res, nil
}

// ErrIsDir input is a directory.
var ErrIsDir = errors.New("is a directory")

// PatchFile patches inputPath into outputPath using the file system.
func PatchFile(inputPath string, outputPath string, scale ScaleFactor, logf LogFunc) (Result, error) {
	return NewPatcher(scale, logf).PatchFile(inputPath, outputPath)
}

// PatchTimingAtoms is PatchFile with the error reported to logf.
// Returns true if both the read and the write succeeded, even if no
// atoms were patched.
func PatchTimingAtoms(inputPath string, outputPath string, scale ScaleFactor, logf LogFunc) bool {
	if _, err := PatchFile(inputPath, outputPath, scale, logf); err != nil {
		logf.printf("error: %v", err)
		return false
	}
	return true
}
