// Package config handles kestrel.toml engine configuration.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/chazu/kestrel/vm"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/tliron/commonlog"
)

// FileName is the configuration file looked up by Load and FindAndLoad.
const FileName = "kestrel.toml"

var log = commonlog.GetLogger("kestrel.config")

// Config represents a kestrel.toml file.
type Config struct {
	VM  VMConfig  `toml:"vm"`
	GC  GCConfig  `toml:"gc"`
	Log LogConfig `toml:"log"`

	// Path is the file the configuration was read from, empty for defaults.
	Path string `toml:"-"`
}

// VMConfig bounds the interpreter.
type VMConfig struct {
	MaxFrames        int `toml:"max_frames"`
	MaxNativeDepth   int `toml:"max_native_depth"`
	MaxTasksPerDrain int `toml:"max_tasks_per_drain"`
}

// GCConfig tunes the collector.
type GCConfig struct {
	MinThreshold int     `toml:"min_threshold"`
	GrowthFactor float64 `toml:"growth_factor"`
	MaxObjects   int     `toml:"max_objects"`
	Stress       bool    `toml:"stress"`
}

// LogConfig configures commonlog. Path empty means stderr.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	Path      string `toml:"path"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load parses a kestrel.toml file from the given directory.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, FileName))
}

// LoadFile parses the configuration at path. Unset values take their
// defaults; the result is validated.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read %s", path)
	}

	var c Config
	md, err := toml.Decode(string(data), &c)
	if err != nil {
		return nil, errors.Wrapf(err, "parse error in %s", path)
	}
	for _, key := range md.Undecoded() {
		log.Warningf("%s: unknown key %s", path, key)
	}

	if c.Path, err = filepath.Abs(path); err != nil {
		return nil, errors.Wrapf(err, "cannot resolve path %s", path)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid %s", path)
	}
	log.Debugf("loaded %s", c.Path)
	return &c, nil
}

// FindAndLoad walks up from startDir to find a kestrel.toml file, then loads
// and returns it. Returns the defaults if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			log.Debugf("no %s above %s, using defaults", FileName, startDir)
			return Default(), nil
		}
		dir = parent
	}
}

func (c *Config) applyDefaults() {
	vmDefaults := vm.DefaultOptions()
	if c.VM.MaxFrames == 0 {
		c.VM.MaxFrames = vmDefaults.MaxFrames
	}
	if c.VM.MaxNativeDepth == 0 {
		c.VM.MaxNativeDepth = vmDefaults.MaxNativeDepth
	}
	if c.GC.MinThreshold == 0 {
		c.GC.MinThreshold = vmDefaults.GC.MinThreshold
	}
	if c.GC.GrowthFactor == 0 {
		c.GC.GrowthFactor = vmDefaults.GC.GrowthFactor
	}
}

// Validate reports every out-of-range setting.
func (c *Config) Validate() error {
	var errs *multierror.Error
	if c.VM.MaxFrames < 1 {
		errs = multierror.Append(errs, errors.Errorf("vm.max_frames must be positive, got %d", c.VM.MaxFrames))
	}
	if c.VM.MaxNativeDepth < 1 {
		errs = multierror.Append(errs, errors.Errorf("vm.max_native_depth must be positive, got %d", c.VM.MaxNativeDepth))
	}
	if c.VM.MaxTasksPerDrain < 0 {
		errs = multierror.Append(errs, errors.Errorf("vm.max_tasks_per_drain must not be negative, got %d", c.VM.MaxTasksPerDrain))
	}
	if c.GC.MinThreshold < 1 {
		errs = multierror.Append(errs, errors.Errorf("gc.min_threshold must be positive, got %d", c.GC.MinThreshold))
	}
	if c.GC.GrowthFactor < 1 {
		errs = multierror.Append(errs, errors.Errorf("gc.growth_factor must be at least 1, got %g", c.GC.GrowthFactor))
	}
	if c.GC.MaxObjects < 0 {
		errs = multierror.Append(errs, errors.Errorf("gc.max_objects must not be negative, got %d", c.GC.MaxObjects))
	}
	if c.GC.MaxObjects > 0 && c.GC.MaxObjects < c.GC.MinThreshold {
		errs = multierror.Append(errs, errors.Errorf("gc.max_objects %d is below gc.min_threshold %d", c.GC.MaxObjects, c.GC.MinThreshold))
	}
	return errs.ErrorOrNil()
}

// VMOptions converts the configuration to VM options.
func (c *Config) VMOptions() vm.Options {
	return vm.Options{
		MaxFrames:        c.VM.MaxFrames,
		MaxNativeDepth:   c.VM.MaxNativeDepth,
		MaxTasksPerDrain: c.VM.MaxTasksPerDrain,
		GC: vm.GCOptions{
			MinThreshold: c.GC.MinThreshold,
			GrowthFactor: c.GC.GrowthFactor,
			MaxObjects:   c.GC.MaxObjects,
			Stress:       c.GC.Stress,
		},
	}
}

// ConfigureLogging applies the [log] section to commonlog.
func (c *Config) ConfigureLogging() {
	var path *string
	if c.Log.Path != "" {
		path = &c.Log.Path
	}
	commonlog.Configure(c.Log.Verbosity, path)
}
