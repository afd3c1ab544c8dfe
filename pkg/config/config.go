// Package config provides configuration loading and management for fsabeam.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"fsabeam/internal/models"
	"fsabeam/pkg/decoder"
)

// ErrInvalidConfig is wrapped by every validation failure
var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumWorkers is the number of goroutines used by the decoder and
		// beamformer; <= 0 selects runtime.NumCPU()
		NumWorkers int `yaml:"numWorkers"`

		// PhaseConvention is "direct" or "conjugate"
		PhaseConvention string `yaml:"phaseConvention"`

		// PhaseNormalization is "bins" or "samples"
		PhaseNormalization string `yaml:"phaseNormalization"`

		// TransmitStride keeps every n-th transmit event
		TransmitStride int `yaml:"transmitStride"`
	} `yaml:"processing"`

	// Imaging grid in meters
	Grid struct {
		XMin float64 `yaml:"xMin"`
		XMax float64 `yaml:"xMax"`
		NX   int     `yaml:"nx"`
		ZMin float64 `yaml:"zMin"`
		ZMax float64 `yaml:"zMax"`
		NZ   int     `yaml:"nz"`
	} `yaml:"grid"`

	// Post-processing parameters
	PostProcessing struct {
		// HighPassCutoff in Hz; 0 disables the filter
		HighPassCutoff float64 `yaml:"highPassCutoff"`

		HighPassOrder int `yaml:"highPassOrder"`

		// Envelope enables Hilbert envelope detection
		Envelope bool `yaml:"envelope"`

		// DynamicRange of the rendered image in dB
		DynamicRange float64 `yaml:"dynamicRange"`
	} `yaml:"postProcessing"`

	// Output parameters
	Output struct {
		ImageFile string `yaml:"imageFile"`
		ArrayFile string `yaml:"arrayFile"`

		// SaveIntermediaryResults determines whether to save intermediary processing results
		SaveIntermediaryResults bool   `yaml:"saveIntermediaryResults"`
		IntermediaryDir         string `yaml:"intermediaryDir"`

		// Verbose controls the level of logging output
		Verbose  bool   `yaml:"verbose"`
		LogLevel string `yaml:"logLevel"`

		// MetricsFile receives the Prometheus text exposition after a run
		MetricsFile string `yaml:"metricsFile"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.NumWorkers = runtime.NumCPU()
	cfg.Processing.PhaseConvention = decoder.Direct.String()
	cfg.Processing.PhaseNormalization = decoder.NormalizeByBins.String()
	cfg.Processing.TransmitStride = 1

	cfg.Grid.XMin = -0.015
	cfg.Grid.XMax = 0.015
	cfg.Grid.NX = 200
	cfg.Grid.ZMin = 0.015
	cfg.Grid.ZMax = 0.060
	cfg.Grid.NZ = 500

	cfg.PostProcessing.HighPassCutoff = 500e3
	cfg.PostProcessing.HighPassOrder = 2
	cfg.PostProcessing.Envelope = true
	cfg.PostProcessing.DynamicRange = 50

	cfg.Output.ImageFile = "bmode.png"
	cfg.Output.ArrayFile = "image.bin"
	cfg.Output.SaveIntermediaryResults = false
	cfg.Output.IntermediaryDir = "intermediary_results"
	cfg.Output.Verbose = true
	cfg.Output.LogLevel = "info"

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// Validate reports every invalid field at once
func (c *Config) Validate() error {
	var err error
	invalid := func(format string, args ...any) {
		err = multierr.Append(err, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if _, perr := decoder.ParsePhaseConvention(c.Processing.PhaseConvention); perr != nil {
		invalid("processing.phaseConvention: %v", perr)
	}
	if _, perr := decoder.ParsePhaseNormalization(c.Processing.PhaseNormalization); perr != nil {
		invalid("processing.phaseNormalization: %v", perr)
	}
	if c.Processing.TransmitStride < 1 {
		invalid("processing.transmitStride must be >= 1, got %d", c.Processing.TransmitStride)
	}

	if c.Grid.NX < 1 || c.Grid.NZ < 1 {
		invalid("grid must have at least one pixel per axis, got nx=%d nz=%d", c.Grid.NX, c.Grid.NZ)
	}
	if c.Grid.NX > 1 && !(c.Grid.XMax > c.Grid.XMin) {
		invalid("grid.xMax (%g) must exceed grid.xMin (%g)", c.Grid.XMax, c.Grid.XMin)
	}
	if c.Grid.NZ > 1 && !(c.Grid.ZMax > c.Grid.ZMin) {
		invalid("grid.zMax (%g) must exceed grid.zMin (%g)", c.Grid.ZMax, c.Grid.ZMin)
	}

	if c.PostProcessing.HighPassCutoff < 0 {
		invalid("postProcessing.highPassCutoff must be non-negative, got %g", c.PostProcessing.HighPassCutoff)
	}
	if c.PostProcessing.HighPassCutoff > 0 && c.PostProcessing.HighPassOrder < 1 {
		invalid("postProcessing.highPassOrder must be >= 1, got %d", c.PostProcessing.HighPassOrder)
	}
	if !(c.PostProcessing.DynamicRange > 0) {
		invalid("postProcessing.dynamicRange must be positive, got %g", c.PostProcessing.DynamicRange)
	}

	if _, lerr := zapcore.ParseLevel(c.Output.LogLevel); lerr != nil {
		invalid("output.logLevel: %v", lerr)
	}

	return err
}

// DecoderOptions converts the processing section into decoder options.
// Call Validate first; unknown names fall back to the defaults.
func (c *Config) DecoderOptions() decoder.Options {
	convention, _ := decoder.ParsePhaseConvention(c.Processing.PhaseConvention)
	normalization, _ := decoder.ParsePhaseNormalization(c.Processing.PhaseNormalization)
	return decoder.Options{
		Workers:       c.Processing.NumWorkers,
		Convention:    convention,
		Normalization: normalization,
	}
}

// ImagingGrid returns the pixel grid described by the grid section
func (c *Config) ImagingGrid() models.Grid {
	return models.Grid{
		X: models.Linspace(c.Grid.XMin, c.Grid.XMax, c.Grid.NX),
		Z: models.Linspace(c.Grid.ZMin, c.Grid.ZMax, c.Grid.NZ),
	}
}
