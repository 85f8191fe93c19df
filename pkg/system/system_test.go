// SPDX-License-Identifier: GPL-2.0-or-later

package system

import (
	"errors"
	"testing"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/stretchr/testify/require"
)

func mockRAM(available uint64) ramFunc {
	return func() (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{Available: available}, nil
	}
}

func TestMemoryGuard(t *testing.T) {
	testCases := []struct {
		name      string
		minFree   uint64
		available uint64
		size      int64
		expected  error
	}{
		{"fits", 100, 1000, 900, nil},
		{"tooBig", 100, 1000, 901, ErrNotEnoughMemory},
		{"noHeadroom", 0, 1000, 1000, nil},
		{"empty", 2000, 1000, 0, ErrNotEnoughMemory},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			g := NewMemoryGuard(tc.minFree)
			g.ram = mockRAM(tc.available)
			require.ErrorIs(t, g.CheckSize(tc.size), tc.expected)
		})
	}
	t.Run("ramErr", func(t *testing.T) {
		errMock := errors.New("mock")
		g := NewMemoryGuard(0)
		g.ram = func() (*mem.VirtualMemoryStat, error) { return nil, errMock }
		require.ErrorIs(t, g.CheckSize(1), errMock)
	})
	t.Run("negativeSize", func(t *testing.T) {
		g := NewMemoryGuard(0)
		g.ram = mockRAM(1000)
		require.Error(t, g.CheckSize(-1))
	})
	t.Run("message", func(t *testing.T) {
		g := NewMemoryGuard(64 * 1024 * 1024)
		g.ram = mockRAM(32 * 1024 * 1024)
		err := g.CheckSize(0)
		require.EqualError(t, err, "not enough memory: need 64.0MiB, available 32.0MiB")
	})
}

func TestFormatBytes(t *testing.T) {
	testCases := []struct {
		input    uint64
		expected string
	}{
		{0, "0B"},
		{1023, "1023B"},
		{1024, "1.0KiB"},
		{1536, "1.5KiB"},
		{5 * 1024 * 1024, "5.0MiB"},
		{3 * 1024 * 1024 * 1024, "3.0GiB"},
		{2048 * 1024 * 1024 * 1024 * 1024, "2048.0TiB"},
	}
	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			require.Equal(t, tc.expected, FormatBytes(tc.input))
		})
	}
}
