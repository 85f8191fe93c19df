// SPDX-License-Identifier: GPL-2.0-or-later

package watch

// Watch patches every mp4 file written to the input directory into the
// output directory. A file is patched once no events have been seen for
// it during the settle time, so files are not read while being copied.

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"retime/pkg/log"

	"github.com/fsnotify/fsnotify"
)

// PatchFunc patches inputPath into outputPath.
type PatchFunc func(inputPath string, outputPath string) error

// Config watcher config.
type Config struct {
	InputDir   string
	OutputDir  string
	Suffix     string
	SettleTime time.Duration
}

// Watcher .
type Watcher struct {
	cfg   Config
	patch PatchFunc

	log *log.Logger
	wg  *sync.WaitGroup
}

// ErrSameDir output would be written back into the watched directory.
var ErrSameDir = errors.New("input and output directory must differ")

// New returns a watcher, it does nothing until started.
func New(cfg Config, patch PatchFunc, logger *log.Logger, wg *sync.WaitGroup) *Watcher {
	return &Watcher{
		cfg:   cfg,
		patch: patch,
		log:   logger,
		wg:    wg,
	}
}

// OutputPath returns the output path for inputPath.
// "/in/a.mp4" -> "/out/a_suffix.mp4"
func (w *Watcher) OutputPath(inputPath string) string {
	name := filepath.Base(inputPath)
	ext := filepath.Ext(name)
	name = strings.TrimSuffix(name, ext) + w.cfg.Suffix + ext
	return filepath.Join(w.cfg.OutputDir, name)
}

func isMP4(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".mp4")
}

// Start watching the input directory. The directory is watched before
// Start returns. Stops when ctx is canceled.
func (w *Watcher) Start(ctx context.Context) error {
	if filepath.Clean(w.cfg.InputDir) == filepath.Clean(w.cfg.OutputDir) {
		return ErrSameDir
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("new watcher: %w", err)
	}
	if err := watcher.Add(w.cfg.InputDir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %v: %w", w.cfg.InputDir, err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer watcher.Close()
		w.run(ctx, watcher)
	}()

	w.log.Info().Src("watch").Msgf("watching %v", w.cfg.InputDir)
	return nil
}

func (w *Watcher) run(ctx context.Context, watcher *fsnotify.Watcher) {
	ready := make(chan string)
	timers := make(map[string]*time.Timer)
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()

	for {
		select {
		case event := <-watcher.Events:
			w.onEvent(ctx, event, timers, ready)

		case err := <-watcher.Errors:
			w.log.Error().Src("watch").Msgf("watcher: %v", err)

		case path := <-ready:
			delete(timers, path)
			w.patchFile(path)

		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) onEvent(
	ctx context.Context,
	event fsnotify.Event,
	timers map[string]*time.Timer,
	ready chan<- string,
) {
	path := event.Name
	if !isMP4(path) {
		return
	}

	if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		if t, exists := timers[path]; exists {
			t.Stop()
			delete(timers, path)
		}
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}

	if t, exists := timers[path]; exists {
		t.Reset(w.cfg.SettleTime)
		return
	}
	timers[path] = time.AfterFunc(w.cfg.SettleTime, func() {
		select {
		case ready <- path:
		case <-ctx.Done():
		}
	})
}

func (w *Watcher) patchFile(inputPath string) {
	outputPath := w.OutputPath(inputPath)
	name := filepath.Base(inputPath)

	w.log.Info().Src("watch").File(name).Msgf("patching into %v", outputPath)
	if err := w.patch(inputPath, outputPath); err != nil {
		w.log.Error().Src("watch").File(name).Msgf("patch failed: %v", err)
	}
}
