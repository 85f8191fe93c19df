// SPDX-License-Identifier: GPL-2.0-or-later

package system

import (
	"errors"
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"
)

type ramFunc func() (*mem.VirtualMemoryStat, error)

// ErrNotEnoughMemory file does not fit in available memory.
var ErrNotEnoughMemory = errors.New("not enough memory")

// MemoryGuard refuses files that would not fit in available memory.
type MemoryGuard struct {
	// Headroom that must remain available after the file is loaded.
	minFree uint64

	ram ramFunc
}

// NewMemoryGuard returns a guard that keeps minFree bytes available.
func NewMemoryGuard(minFree uint64) *MemoryGuard {
	return &MemoryGuard{
		minFree: minFree,
		ram:     mem.VirtualMemory,
	}
}

// CheckSize returns ErrNotEnoughMemory if size bytes plus the
// headroom exceed available memory.
func (g *MemoryGuard) CheckSize(size int64) error {
	if size < 0 {
		return fmt.Errorf("invalid size: %v", size)
	}
	stat, err := g.ram()
	if err != nil {
		return fmt.Errorf("could not get ram usage: %w", err)
	}

	need := uint64(size) + g.minFree
	if need > stat.Available {
		return fmt.Errorf("%w: need %v, available %v",
			ErrNotEnoughMemory, FormatBytes(need), FormatBytes(stat.Available))
	}
	return nil
}

// FormatBytes formats bytes as a short human readable string.
func FormatBytes(b uint64) string {
	const unit = 1024
	units := []string{"KiB", "MiB", "GiB", "TiB"}

	if b < unit {
		return fmt.Sprintf("%vB", b)
	}
	value := float64(b) / unit
	i := 0
	for value >= unit && i < len(units)-1 {
		value /= unit
		i++
	}
	return fmt.Sprintf("%.1f%v", value, units[i])
}
