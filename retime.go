// SPDX-License-Identifier: GPL-2.0-or-later

package retime

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"retime/pkg/atom"
	"retime/pkg/config"
	"retime/pkg/journal"
	"retime/pkg/log"
	"retime/pkg/system"
	"retime/pkg/watch"
)

const usage = `rescale the timescale and duration of mp4 mvhd and mdhd atoms
examples:
  retime -in in.mp4 -out out.mp4 -scale 0.5
  retime -in in.mp4                     in place, derived scale
  retime -in in.mp4 -dry-run
  retime -config retime.yaml -watch
  retime -config retime.yaml -history 10`

// Run .
func Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	return run(ctx, os.Args[1:], os.Stdout)
}

type options struct {
	input      string
	output     string
	scale      string
	configPath string
	logLevel   string
	dryRun     bool
	watch      bool
	history    int
}

func parseFlags(args []string, stdout io.Writer) (*options, error) {
	fs := flag.NewFlagSet("retime", flag.ContinueOnError)
	fs.SetOutput(stdout)
	fs.Usage = func() {
		fmt.Fprintln(stdout, usage)
		fs.PrintDefaults()
	}

	var o options
	fs.StringVar(&o.input, "in", "", "input file")
	fs.StringVar(&o.output, "out", "", "output file, defaults to the input file")
	fs.StringVar(&o.scale, "scale", "",
		`scale factor, "derived" scales every atom to a 30000 timescale`)
	fs.StringVar(&o.configPath, "config", "", "path to retime.yaml")
	fs.StringVar(&o.logLevel, "log-level", "", "error, warning, info or debug")
	fs.BoolVar(&o.dryRun, "dry-run", false, "print the atoms and the changes, write nothing")
	fs.BoolVar(&o.watch, "watch", false, "patch files dropped into the watch directory")
	fs.IntVar(&o.history, "history", 0, "print the last n journal entries")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != 0 {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedArgs, fs.Args())
	}
	if o.input == "" && !o.watch && o.history == 0 {
		fs.Usage()
		return nil, flag.ErrHelp
	}
	if o.output == "" {
		o.output = o.input
	}
	return &o, nil
}

// ErrUnexpectedArgs positional arguments are not used.
var ErrUnexpectedArgs = errors.New("unexpected arguments")

// parseScale returns the flag value if set, the config value otherwise.
func parseScale(flagValue string, configValue float64) (atom.ScaleFactor, error) {
	var scale atom.ScaleFactor
	switch {
	case flagValue == "" && configValue == 0:
		scale = atom.Derived()
	case flagValue == "":
		scale = atom.Explicit(configValue)
	case strings.EqualFold(flagValue, "derived"):
		scale = atom.Derived()
	default:
		f, err := strconv.ParseFloat(flagValue, 64)
		if err != nil {
			return atom.ScaleFactor{}, fmt.Errorf("%w: %q", atom.ErrInvalidScale, flagValue)
		}
		scale = atom.Explicit(f)
	}

	if !scale.Valid() {
		return atom.ScaleFactor{}, fmt.Errorf("%w: %v", atom.ErrInvalidScale, scale)
	}
	return scale, nil
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	opts, err := parseFlags(args, stdout)
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}

	if opts.input != "" {
		if opts.input, err = filepath.Abs(opts.input); err != nil {
			return fmt.Errorf("could not get absolute path of input: %w", err)
		}
		if opts.output, err = filepath.Abs(opts.output); err != nil {
			return fmt.Errorf("could not get absolute path of output: %w", err)
		}
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("could not load config: %w", err)
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	scale, err := parseScale(opts.scale, cfg.Scale)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	wg := &sync.WaitGroup{}
	defer func() {
		cancel()
		wg.Wait()
	}()

	app, err := newApp(ctx, cfg, scale, wg, stdout, level)
	if err != nil {
		return err
	}

	switch {
	case opts.history != 0:
		return app.printHistory(opts.history, opts.input)
	case opts.watch:
		return app.watch(ctx)
	case opts.dryRun:
		return app.dryRun(opts.input)
	default:
		return app.patch(opts.input, opts.output)
	}
}

// App .
type App struct {
	cfg   *config.Config
	scale atom.ScaleFactor

	Logger  *log.Logger
	journal *journal.DB // Nil if disabled.
	guard   *system.MemoryGuard
	wg      *sync.WaitGroup
	stdout  io.Writer
}

func newApp(
	ctx context.Context,
	cfg *config.Config,
	scale atom.ScaleFactor,
	wg *sync.WaitGroup,
	stdout io.Writer,
	level log.Level,
) (*App, error) {
	logger := log.NewLogger(wg)
	logger.Start(ctx)
	logger.LogToWriter(stdout, level)

	app := &App{
		cfg:    cfg,
		scale:  scale,
		Logger: logger,
		guard:  system.NewMemoryGuard(cfg.MinFreeMemory),
		wg:     wg,
		stdout: stdout,
	}

	if cfg.JournalPath != "" {
		j := journal.NewDB(cfg.JournalPath, wg)
		if err := j.Open(ctx); err != nil {
			return nil, fmt.Errorf("could not open journal: %w", err)
		}
		app.journal = j
	}
	return app, nil
}

func (app *App) patcher(src string, file string) *atom.Patcher {
	p := atom.NewPatcher(app.scale, app.Logger.Sink(log.LevelInfo, src, file))
	p.CheckSize = app.guard.CheckSize
	return p
}

func (app *App) patch(inputPath string, outputPath string) error {
	res, err := app.patcher("patch", filepath.Base(inputPath)).PatchFile(inputPath, outputPath)
	app.record(journal.NewEntry(inputPath, outputPath, app.scale, res, err))
	return err
}

// dryRun prints the atoms and the changes a patch would make.
func (app *App) dryRun(inputPath string) error {
	name := filepath.Base(inputPath)

	stat, err := os.Stat(inputPath)
	if err != nil {
		return fmt.Errorf("stat input: %w", err)
	}
	if err := app.guard.CheckSize(stat.Size()); err != nil {
		return fmt.Errorf("input %v: %w", inputPath, err)
	}
	buf, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	infos, err := atom.Inspect(buf)
	if err != nil {
		return fmt.Errorf("inspect: %w", err)
	}
	for _, info := range infos {
		app.Logger.Info().Src("inspect").File(name).Msg(info.String())
	}

	res, err := atom.PatchBuffer(buf, app.scale, app.Logger.Sink(log.LevelInfo, "dry-run", name))
	entry := journal.NewEntry(inputPath, "", app.scale, res, err)
	entry.DryRun = true
	app.record(entry)
	return err
}

func (app *App) record(entry journal.Entry) {
	if app.journal == nil {
		return
	}
	if err := app.journal.Save(&entry); err != nil {
		app.Logger.Error().Src("journal").Msgf("could not save entry: %v", err)
	}
}

func (app *App) watch(ctx context.Context) error {
	if err := app.cfg.CheckWatch(); err != nil {
		return err
	}

	watchCfg := watch.Config{
		InputDir:   app.cfg.WatchDir,
		OutputDir:  app.cfg.OutputDir,
		Suffix:     app.cfg.Suffix,
		SettleTime: app.cfg.SettleTime,
	}
	w := watch.New(watchCfg, app.patch, app.Logger, app.wg)
	if err := w.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	app.Logger.Info().Src("app").Msg("stopping")
	return nil
}

func (app *App) printHistory(limit int, input string) error {
	if app.journal == nil {
		return ErrNoJournal
	}
	entries, err := app.journal.Query(journal.Query{Input: input, Limit: limit})
	if err != nil {
		return fmt.Errorf("could not query journal: %w", err)
	}
	for _, e := range entries {
		fmt.Fprintln(app.stdout, formatEntry(e))
	}
	return nil
}

// ErrNoJournal journalPath is not configured.
var ErrNoJournal = errors.New("journal is disabled, set journalPath")

func formatEntry(e journal.Entry) string {
	t := time.Unix(0, e.Time*1000).UTC().Format("2006-01-02 15:04:05")

	var b strings.Builder
	fmt.Fprintf(&b, "%v %v %v", t, e.ID, e.Input)
	if e.DryRun {
		b.WriteString(" (dry-run)")
	} else if e.Output != e.Input {
		fmt.Fprintf(&b, " -> %v", e.Output)
	}
	fmt.Fprintf(&b, ", scale %v, patched %v, rejected %v", e.Scale, len(e.Atoms), e.Rejected)
	if e.Error != "" {
		fmt.Fprintf(&b, ", error: %v", e.Error)
	}
	return b.String()
}
