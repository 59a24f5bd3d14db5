package util

import (
	"fmt"
	"io"
	"math"
	"os"
	"runtime"

	"github.com/BurntSushi/toml"
)

type Configuration struct {
	Version          string  `toml:"version"`
	DefaultThreshold float64 `toml:"default_threshold"`
	HighThreshold    float64 `toml:"high_threshold"`
	MediumThreshold  float64 `toml:"medium_threshold"`
	DecayRate        float64 `toml:"decay_rate"`
	Workers          int     `toml:"workers"`
	LogLevel         string  `toml:"log_level"`
	LogFile          string  `toml:"log_file"`

	// Output receives print output; nil means stdout.
	Output io.Writer `toml:"-"`
}

func DefaultConfiguration() Configuration {
	return Configuration{
		DefaultThreshold: 0.5,
		HighThreshold:    0.8,
		MediumThreshold:  0.5,
		DecayRate:        0.1,
		Workers:          runtime.GOMAXPROCS(0),
		LogLevel:         "error",
		Output:           os.Stdout,
	}
}

// LoadConfiguration decodes a TOML file over the defaults.
func LoadConfiguration(path string) (Configuration, error) {
	cfg := DefaultConfiguration()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("load configuration %s: %w", path, err)
	}
	if err := checkDecoded(md); err != nil {
		return cfg, fmt.Errorf("load configuration %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// DecodeConfiguration is LoadConfiguration for an in-memory document.
func DecodeConfiguration(r io.Reader) (Configuration, error) {
	cfg := DefaultConfiguration()
	md, err := toml.NewDecoder(r).Decode(&cfg)
	if err != nil {
		return cfg, fmt.Errorf("decode configuration: %w", err)
	}
	if err := checkDecoded(md); err != nil {
		return cfg, fmt.Errorf("decode configuration: %w", err)
	}
	return cfg, cfg.Validate()
}

func checkDecoded(md toml.MetaData) error {
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown keys %v", undecoded)
	}
	return nil
}

func (c Configuration) Validate() error {
	for name, v := range map[string]float64{
		"default_threshold": c.DefaultThreshold,
		"high_threshold":    c.HighThreshold,
		"medium_threshold":  c.MediumThreshold,
		"decay_rate":        c.DecayRate,
	} {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("%s must be within [0,1], got %v", name, v)
		}
	}
	if c.MediumThreshold > c.HighThreshold {
		return fmt.Errorf("medium_threshold %v exceeds high_threshold %v", c.MediumThreshold, c.HighThreshold)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	return nil
}
