// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config stores the patcher configuration.
type Config struct {
	// Scale factor applied to every atom. Zero means derived per atom.
	Scale float64 `yaml:"scale"`

	LogLevel string `yaml:"logLevel" split_words:"true"`

	// Patch history database, empty disables it.
	JournalPath string `yaml:"journalPath" split_words:"true"`

	// Watch mode, patched files are written to OutputDir.
	WatchDir   string        `yaml:"watchDir" split_words:"true"`
	OutputDir  string        `yaml:"outputDir" split_words:"true"`
	Suffix     string        `yaml:"suffix"`
	SettleTime time.Duration `yaml:"settleTime" split_words:"true"`

	// Free memory required on top of the file size before it's loaded.
	MinFreeMemory uint64 `yaml:"minFreeMemory" split_words:"true"`
}

// Environment variables are prefixed with this, RETIME_SCALE etc.
const envPrefix = "retime"

// Defaults.
const (
	DefaultLogLevel      = "info"
	DefaultSettleTime    = 2 * time.Second
	DefaultMinFreeMemory = 64 * 1024 * 1024
)

// Errors.
var (
	ErrPathNotAbsolute = errors.New("path is not absolute")
	ErrInvalidScale    = errors.New("scale must be zero or positive")
	ErrSameDir         = errors.New("watchDir and outputDir must differ")
)

// Load reads the YAML config at path and applies environment
// overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	var raw []byte
	if path != "" {
		var err error
		raw, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return New(raw)
}

// New parses the YAML config, applies environment overrides and
// fills in defaults.
func New(raw []byte) (*Config, error) {
	var c Config
	if err := yaml.UnmarshalStrict(raw, &c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := envconfig.Process(envPrefix, &c); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}

	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.SettleTime == 0 {
		c.SettleTime = DefaultSettleTime
	}
	if c.MinFreeMemory == 0 {
		c.MinFreeMemory = DefaultMinFreeMemory
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) validate() error {
	if c.Scale < 0 || math.IsInf(c.Scale, 0) || math.IsNaN(c.Scale) {
		return fmt.Errorf("%w: %v", ErrInvalidScale, c.Scale)
	}

	paths := []struct {
		name string
		path string
	}{
		{"journalPath", c.JournalPath},
		{"watchDir", c.WatchDir},
		{"outputDir", c.OutputDir},
	}
	for _, p := range paths {
		if p.path != "" && !filepath.IsAbs(p.path) {
			return fmt.Errorf("%v '%v': %w", p.name, p.path, ErrPathNotAbsolute)
		}
	}

	if c.WatchDir != "" && filepath.Clean(c.WatchDir) == filepath.Clean(c.OutputDir) {
		return ErrSameDir
	}
	return nil
}

// ErrNoWatchDirs watchDir or outputDir is missing.
var ErrNoWatchDirs = errors.New("watch mode needs both watchDir and outputDir")

// CheckWatch checks that the watch directories are configured.
func (c *Config) CheckWatch() error {
	if c.WatchDir == "" || c.OutputDir == "" {
		return ErrNoWatchDirs
	}
	return nil
}
