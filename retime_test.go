// SPDX-License-Identifier: GPL-2.0-or-later

package retime

import (
	"bytes"
	"context"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"retime/pkg/atom"
	"retime/pkg/journal"
	"retime/pkg/mp4"

	"github.com/stretchr/testify/require"
)

func testMovie(t *testing.T, timescale uint32, duration uint64) []byte {
	t.Helper()
	buf, err := mp4.Movie(
		&mp4.Mvhd{Timescale: timescale, Duration: duration},
		[]*mp4.Mdhd{{Timescale: timescale, Duration: duration}},
		[]byte("frames"))
	require.NoError(t, err)
	return buf
}

func writeTestFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, data, 0o600))
}

func readTestFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func TestRun(t *testing.T) {
	t.Run("explicitScale", func(t *testing.T) {
		dir := t.TempDir()
		inPath := filepath.Join(dir, "in.mp4")
		outPath := filepath.Join(dir, "out.mp4")
		writeTestFile(t, inPath, testMovie(t, 600, 6000))

		stdout := &bytes.Buffer{}
		args := []string{"-in", inPath, "-out", outPath, "-scale", "0.5"}
		require.NoError(t, run(context.Background(), args, stdout))

		require.Equal(t, testMovie(t, 300, 3000), readTestFile(t, outPath))
		require.Equal(t, testMovie(t, 600, 6000), readTestFile(t, inPath))
		require.Contains(t, stdout.String(),
			"[INFO] in.mp4: Patch: mvhd v0 at 32: timescale 600 -> 300, duration 6000 -> 3000, scale 0.5")
		require.Contains(t, stdout.String(), "[INFO] in.mp4: Patch: patched 2 atoms")
	})
	t.Run("inPlaceDerived", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "in.mp4")
		writeTestFile(t, path, testMovie(t, 15000, 15000))

		require.NoError(t, run(context.Background(), []string{"-in", path}, &bytes.Buffer{}))
		require.Equal(t, testMovie(t, 30000, 30000), readTestFile(t, path))
	})
	t.Run("configScale", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "in.mp4")
		configPath := filepath.Join(dir, "retime.yaml")
		writeTestFile(t, path, testMovie(t, 600, 6000))
		writeTestFile(t, configPath, []byte("scale: 2"))

		args := []string{"-config", configPath, "-in", path}
		require.NoError(t, run(context.Background(), args, &bytes.Buffer{}))
		require.Equal(t, testMovie(t, 1200, 12000), readTestFile(t, path))
	})
	t.Run("noAtoms", func(t *testing.T) {
		dir := t.TempDir()
		inPath := filepath.Join(dir, "in.mp4")
		outPath := filepath.Join(dir, "out.mp4")
		writeTestFile(t, inPath, []byte("not an mp4"))

		stdout := &bytes.Buffer{}
		args := []string{"-in", inPath, "-out", outPath}
		require.NoError(t, run(context.Background(), args, stdout))
		require.Equal(t, []byte("not an mp4"), readTestFile(t, outPath))
		require.Contains(t, stdout.String(), "[WARNING] in.mp4: Patch: no mvhd/mdhd atoms patched")
	})
	t.Run("logLevel", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "in.mp4")
		writeTestFile(t, path, []byte("not an mp4"))

		stdout := &bytes.Buffer{}
		args := []string{"-in", path, "-log-level", "error"}
		require.NoError(t, run(context.Background(), args, stdout))
		require.Empty(t, stdout.String())
	})
	t.Run("dryRun", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "in.mp4")
		input := testMovie(t, 600, 6000)
		writeTestFile(t, path, input)

		stdout := &bytes.Buffer{}
		args := []string{"-in", path, "-dry-run", "-scale", "0.5"}
		require.NoError(t, run(context.Background(), args, stdout))

		require.Equal(t, input, readTestFile(t, path))
		require.Contains(t, stdout.String(),
			"[INFO] in.mp4: Inspect: mvhd v0 at 32: size 108, timescale 600, duration 6000 (10.000s)")
		require.Contains(t, stdout.String(),
			"[INFO] in.mp4: Dry-run: mdhd v0 at 156: timescale 600 -> 300, duration 6000 -> 3000, scale 0.5")
	})
	t.Run("missingInput", func(t *testing.T) {
		dir := t.TempDir()
		args := []string{"-in", filepath.Join(dir, "nil.mp4")}
		err := run(context.Background(), args, &bytes.Buffer{})
		require.ErrorIs(t, err, os.ErrNotExist)
	})
	t.Run("invalidScale", func(t *testing.T) {
		args := []string{"-in", "in.mp4", "-scale", "-1"}
		err := run(context.Background(), args, &bytes.Buffer{})
		require.ErrorIs(t, err, atom.ErrInvalidScale)
	})
	t.Run("invalidLogLevel", func(t *testing.T) {
		args := []string{"-in", "in.mp4", "-log-level", "loud"}
		err := run(context.Background(), args, &bytes.Buffer{})
		require.Error(t, err)
	})
	t.Run("usage", func(t *testing.T) {
		stdout := &bytes.Buffer{}
		require.NoError(t, run(context.Background(), nil, stdout))
		require.True(t, strings.HasPrefix(stdout.String(), usage))
	})
	t.Run("unexpectedArgs", func(t *testing.T) {
		err := run(context.Background(), []string{"-in", "a.mp4", "b.mp4"}, &bytes.Buffer{})
		require.ErrorIs(t, err, ErrUnexpectedArgs)
	})
	t.Run("noJournal", func(t *testing.T) {
		err := run(context.Background(), []string{"-history", "5"}, &bytes.Buffer{})
		require.ErrorIs(t, err, ErrNoJournal)
	})
}

func TestRunJournal(t *testing.T) {
	dir := t.TempDir()
	inPath := filepath.Join(dir, "in.mp4")
	outPath := filepath.Join(dir, "out.mp4")
	journalPath := filepath.Join(dir, "journal.db")
	configPath := filepath.Join(dir, "retime.yaml")
	writeTestFile(t, inPath, testMovie(t, 600, 6000))
	writeTestFile(t, configPath, []byte("journalPath: "+journalPath))

	args := []string{"-config", configPath, "-in", inPath, "-out", outPath, "-scale", "0.5"}
	require.NoError(t, run(context.Background(), args, &bytes.Buffer{}))

	args = []string{"-config", configPath, "-in", inPath, "-dry-run"}
	require.NoError(t, run(context.Background(), args, &bytes.Buffer{}))

	// The database is closed when run returns.
	ctx, cancel := context.WithCancel(context.Background())
	wg := &sync.WaitGroup{}
	j := journal.NewDB(journalPath, wg)
	require.NoError(t, j.Open(ctx))

	entries, err := j.Query(journal.Query{})
	require.NoError(t, err)
	cancel()
	wg.Wait()

	require.Len(t, entries, 2)
	require.True(t, entries[0].DryRun)
	require.Equal(t, "derived", entries[0].Scale)
	require.Len(t, entries[0].Atoms, 2)

	require.False(t, entries[1].DryRun)
	require.Equal(t, inPath, entries[1].Input)
	require.Equal(t, outPath, entries[1].Output)
	require.Equal(t, "0.5", entries[1].Scale)
	require.Equal(t, uint32(300), entries[1].Atoms[0].NewTimescale)

	stdout := &bytes.Buffer{}
	args = []string{"-config", configPath, "-history", "1"}
	require.NoError(t, run(context.Background(), args, stdout))
	require.Contains(t, stdout.String(), inPath+" (dry-run), scale derived, patched 2, rejected 0")
	require.NotContains(t, stdout.String(), "scale 0.5")
}

func TestRunWatch(t *testing.T) {
	dir := t.TempDir()
	inDir := filepath.Join(dir, "in")
	outDir := filepath.Join(dir, "out")
	require.NoError(t, os.Mkdir(inDir, 0o700))
	require.NoError(t, os.Mkdir(outDir, 0o700))

	configPath := filepath.Join(dir, "retime.yaml")
	writeTestFile(t, configPath, []byte(
		"scale: 0.5\nwatchDir: "+inDir+"\noutputDir: "+outDir+"\nsuffix: _fixed\nsettleTime: 50ms"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- run(ctx, []string{"-config", configPath, "-watch"}, &bytes.Buffer{})
	}()

	outPath := filepath.Join(outDir, "a_fixed.mp4")
	expected := testMovie(t, 300, 3000)

	// Wait for the watcher to start, then keep dropping the file until
	// the patched copy shows up.
	deadline := time.After(10 * time.Second)
	for {
		writeTestFile(t, filepath.Join(inDir, "a.mp4"), testMovie(t, 600, 6000))
		select {
		case <-time.After(200 * time.Millisecond):
		case <-deadline:
			t.Fatal("timeout")
		}
		out, err := os.ReadFile(outPath)
		if err == nil && bytes.Equal(expected, out) {
			break
		}
	}

	cancel()
	require.NoError(t, <-done)
}

func TestParseScale(t *testing.T) {
	testCases := []struct {
		name        string
		flagValue   string
		configValue float64
		expected    atom.ScaleFactor
		err         error
	}{
		{"default", "", 0, atom.Derived(), nil},
		{"config", "", 0.5, atom.Explicit(0.5), nil},
		{"flag", "2", 0.5, atom.Explicit(2), nil},
		{"flagDerived", "Derived", 0.5, atom.Derived(), nil},
		{"zero", "0", 0, atom.ScaleFactor{}, atom.ErrInvalidScale},
		{"nan", "NaN", 0, atom.ScaleFactor{}, atom.ErrInvalidScale},
		{"text", "half", 0, atom.ScaleFactor{}, atom.ErrInvalidScale},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			scale, err := parseScale(tc.flagValue, tc.configValue)
			require.ErrorIs(t, err, tc.err)
			require.Equal(t, tc.expected, scale)
		})
	}
}

func TestParseFlags(t *testing.T) {
	opts, err := parseFlags([]string{"-in", "a.mp4"}, &bytes.Buffer{})
	require.NoError(t, err)
	require.Equal(t, "a.mp4", opts.output)

	_, err = parseFlags([]string{"-nil"}, &bytes.Buffer{})
	require.Error(t, err)

	_, err = parseFlags(nil, &bytes.Buffer{})
	require.ErrorIs(t, err, flag.ErrHelp)
}
