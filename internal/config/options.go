package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// GC mode names accepted in Options.GC.Mode
const (
	GCModeIncremental  = "incremental"
	GCModeGenerational = "generational"
)

// Options configures a runtime instance. The zero value is not usable;
// start from Default() and override.
type Options struct {
	// MaxStack bounds the number of value slots of a single thread.
	MaxStack int `yaml:"max_stack" toml:"max_stack"`

	// MaxCCalls bounds nested host calls before "C stack overflow".
	MaxCCalls int `yaml:"max_ccalls" toml:"max_ccalls"`

	// APICheck turns usage-contract violations (bad indices, wrong arity)
	// into panics carrying *vm.APIError. When false they are contained:
	// set-style operations on invalid indices are ignored.
	APICheck bool `yaml:"api_check" toml:"api_check"`

	// Warnings enables the warning channel at startup.
	Warnings bool `yaml:"warnings" toml:"warnings"`

	// GC holds collector parameters.
	GC GCOptions `yaml:"gc" toml:"gc"`
}

// GCOptions holds collector parameters.
type GCOptions struct {
	// Mode is "incremental" or "generational".
	Mode string `yaml:"mode" toml:"mode"`

	// Pause is the percentage of memory growth that starts a new cycle.
	Pause int `yaml:"pause" toml:"pause"`

	// StepMul is the collector speed relative to allocation, in percent.
	StepMul int `yaml:"step_mul" toml:"step_mul"`

	// StepSize is log2 of the bytes allocated between steps.
	StepSize int `yaml:"step_size" toml:"step_size"`

	// MinorMul is the growth percentage that triggers a minor collection.
	MinorMul int `yaml:"minor_mul" toml:"minor_mul"`

	// MajorMul is the growth percentage that triggers a major collection.
	MajorMul int `yaml:"major_mul" toml:"major_mul"`
}

// Default returns the built-in options.
func Default() Options {
	return Options{
		MaxStack:  DefaultMaxStack,
		MaxCCalls: MaxCCalls,
		APICheck:  true,
		GC: GCOptions{
			Mode:     GCModeIncremental,
			Pause:    DefaultGCPause,
			StepMul:  DefaultGCStepMul,
			StepSize: DefaultGCStepSize,
			MinorMul: DefaultGenMinor,
			MajorMul: DefaultGenMajor,
		},
	}
}

// Load reads options from a YAML (.yaml, .yml) or TOML (.toml) file.
// Keys missing from the file keep their default values.
func Load(path string) (Options, error) {
	opts := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return opts, fmt.Errorf("cannot read %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &opts); err != nil {
			return opts, fmt.Errorf("parse error in %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &opts); err != nil {
			return opts, fmt.Errorf("parse error in %s: %w", path, err)
		}
	default:
		return opts, fmt.Errorf("%s: unsupported config format (want .yaml, .yml or .toml)", path)
	}

	if err := opts.Validate(); err != nil {
		return opts, fmt.Errorf("%s: %w", path, err)
	}
	return opts, nil
}

// Validate checks that every limit is in range.
func (o *Options) Validate() error {
	if o.MaxStack < BasicStackSize || o.MaxStack > DefaultMaxStack {
		return fmt.Errorf("max_stack must be between %d and %d, got %d",
			BasicStackSize, DefaultMaxStack, o.MaxStack)
	}
	if o.MaxCCalls < 10 || o.MaxCCalls > 10000 {
		return fmt.Errorf("max_ccalls must be between 10 and 10000, got %d", o.MaxCCalls)
	}
	switch o.GC.Mode {
	case "", GCModeIncremental, GCModeGenerational:
	default:
		return fmt.Errorf("gc.mode must be %q or %q, got %q",
			GCModeIncremental, GCModeGenerational, o.GC.Mode)
	}
	for _, p := range []struct {
		name string
		val  int
		max  int
	}{
		{"gc.pause", o.GC.Pause, 1023},
		{"gc.step_mul", o.GC.StepMul, 1023},
		{"gc.step_size", o.GC.StepSize, 40},
		{"gc.minor_mul", o.GC.MinorMul, 255},
		{"gc.major_mul", o.GC.MajorMul, 1023},
	} {
		if p.val < 0 || p.val > p.max {
			return fmt.Errorf("%s must be between 0 and %d, got %d", p.name, p.max, p.val)
		}
	}
	return nil
}
