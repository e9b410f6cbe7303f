// Package config provides configuration loading and management for segcomplete.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"segcomplete/pkg/fractional"
	"segcomplete/pkg/growcut"
	"segcomplete/pkg/volume"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Growth parameters
	Growth struct {
		// Iterations is the maximum number of growth passes
		Iterations int `yaml:"iterations"`

		// Connectivity is the neighbourhood size, 6 or 26
		Connectivity int `yaml:"connectivity"`

		// Similarity selects the intensity falloff ("linear" or "gaussian")
		Similarity string `yaml:"similarity"`

		// Sigma is the gaussian width as a fraction of the intensity range
		Sigma float64 `yaml:"sigma"`

		// NumWorkers specifies how many goroutines grow each pass
		NumWorkers int `yaml:"numWorkers"`

		// StopWhenStable ends growth after a pass that changes nothing
		StopWhenStable bool `yaml:"stopWhenStable"`
	} `yaml:"growth"`

	// Geometry parameters
	Geometry struct {
		// Margin is the number of voxels added around the segments on each side
		Margin int `yaml:"margin"`

		// MinimumSegments is the number of non-empty visible segments required
		MinimumSegments int `yaml:"minimumSegments"`
	} `yaml:"geometry"`

	// Fractional labelmap parameters
	Fractional struct {
		// Enabled stores segments as fractional labelmaps
		Enabled bool `yaml:"enabled"`

		// OversamplingFactor is the number of sub-voxels per axis
		OversamplingFactor int `yaml:"oversamplingFactor"`

		// ScalarMin and ScalarMax encode empty and full occupancy
		ScalarMin float64 `yaml:"scalarMin"`
		ScalarMax float64 `yaml:"scalarMax"`

		// Threshold is the value at which the segment surface lies
		Threshold float64 `yaml:"threshold"`
	} `yaml:"fractional"`

	// Session parameters
	Session struct {
		// AutoUpdate recomputes the preview after segments change
		AutoUpdate bool `yaml:"autoUpdate"`

		// AutoUpdateDelaySec is the quiet period before an automatic update
		AutoUpdateDelaySec float64 `yaml:"autoUpdateDelaySec"`

		// PreviewOpacity is the opacity of the preview; the segmentation gets the rest
		PreviewOpacity float64 `yaml:"previewOpacity"`
	} `yaml:"session"`

	// Output parameters
	Output struct {
		// Directory receives exported slices and volumes
		Directory string `yaml:"directory"`

		// SliceAxis is the axis exported slices are taken across ("x", "y" or "z")
		SliceAxis string `yaml:"sliceAxis"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default growth parameters
	cfg.Growth.Iterations = growcut.DefaultIterations
	cfg.Growth.Connectivity = int(growcut.DefaultConnectivity)
	cfg.Growth.Similarity = growcut.LinearSimilarity.String()
	cfg.Growth.Sigma = growcut.DefaultGaussianSigma
	cfg.Growth.NumWorkers = runtime.NumCPU() // Use all available cores by default
	cfg.Growth.StopWhenStable = true

	// Set default geometry parameters
	cfg.Geometry.Margin = 17
	cfg.Geometry.MinimumSegments = 2

	// Set default fractional parameters
	params := fractional.DefaultParams()
	cfg.Fractional.Enabled = false
	cfg.Fractional.OversamplingFactor = fractional.DefaultOversamplingFactor
	cfg.Fractional.ScalarMin = params.ScalarRange[0]
	cfg.Fractional.ScalarMax = params.ScalarRange[1]
	cfg.Fractional.Threshold = params.Threshold

	// Set default session parameters
	cfg.Session.AutoUpdate = true
	cfg.Session.AutoUpdateDelaySec = 1.0
	cfg.Session.PreviewOpacity = 0.6

	// Set default output parameters
	cfg.Output.Directory = "output"
	cfg.Output.SliceAxis = "z"
	cfg.Output.Verbose = true

	return cfg
}

// Validate checks every value for range errors
func (c *Config) Validate() error {
	if c.Growth.Iterations < 0 {
		return volume.InvalidParameter("growth.iterations", c.Growth.Iterations, "must not be negative")
	}
	if c.Growth.Connectivity != 6 && c.Growth.Connectivity != 26 {
		return volume.InvalidParameter("growth.connectivity", c.Growth.Connectivity, "must be 6 or 26")
	}
	if _, err := growcut.ParseSimilarity(c.Growth.Similarity); err != nil {
		return volume.InvalidParameter("growth.similarity", c.Growth.Similarity, err.Error())
	}
	if c.Growth.Sigma <= 0 {
		return volume.InvalidParameter("growth.sigma", c.Growth.Sigma, "must be positive")
	}
	if c.Geometry.Margin < 0 {
		return volume.InvalidParameter("geometry.margin", c.Geometry.Margin, "must not be negative")
	}
	if c.Geometry.MinimumSegments < 0 {
		return volume.InvalidParameter("geometry.minimumSegments", c.Geometry.MinimumSegments, "must not be negative")
	}
	if c.Fractional.OversamplingFactor <= 0 {
		return volume.InvalidParameter("fractional.oversamplingFactor", c.Fractional.OversamplingFactor, "must be positive")
	}
	if err := fractional.ValidateParams(c.FractionalParams()); err != nil {
		return err
	}
	if c.Session.AutoUpdateDelaySec < 0 {
		return volume.InvalidParameter("session.autoUpdateDelaySec", c.Session.AutoUpdateDelaySec, "must not be negative")
	}
	if c.Session.PreviewOpacity < 0 || c.Session.PreviewOpacity > 1 {
		return volume.InvalidParameter("session.previewOpacity", c.Session.PreviewOpacity, "must lie in [0, 1]")
	}
	switch c.Output.SliceAxis {
	case "x", "y", "z":
	default:
		return volume.InvalidParameter("output.sliceAxis", c.Output.SliceAxis, `must be "x", "y" or "z"`)
	}
	return nil
}

// GrowthOptions converts the growth section into engine options
func (c *Config) GrowthOptions() (growcut.Options, error) {
	kind, err := growcut.ParseSimilarity(c.Growth.Similarity)
	if err != nil {
		return growcut.Options{}, err
	}
	return growcut.Options{
		Connectivity:   growcut.Connectivity(c.Growth.Connectivity),
		Similarity:     kind,
		Sigma:          c.Growth.Sigma,
		Workers:        c.Growth.NumWorkers,
		StopWhenStable: c.Growth.StopWhenStable,
	}, nil
}

// FractionalParams returns the metadata written into fractional labelmaps
func (c *Config) FractionalParams() volume.FractionalParams {
	return volume.FractionalParams{
		ScalarRange:   [2]float64{c.Fractional.ScalarMin, c.Fractional.ScalarMax},
		Threshold:     c.Fractional.Threshold,
		Interpolation: volume.LinearInterpolation,
	}
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
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
