// Package config loads the YAML description of a sensitivity analysis.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/permafrost.glue/internal/forcing"
	"github.com/banshee-data/permafrost.glue/internal/glue"
	"github.com/banshee-data/permafrost.glue/internal/sandbox"
	"github.com/banshee-data/permafrost.glue/internal/simulation"
)

// DefaultConfigPath is the example analysis shipped with the repository.
const DefaultConfigPath = "config/glue.example.yaml"

// Backend names.
const (
	BackendGIPL = "gipl"
	BackendTTOP = "ttop"
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Defaults applied by the Get* accessors.
const (
	DefaultSamples      = 100
	DefaultSeed         = 42
	DefaultTimeout      = 10 * time.Minute
	DefaultWorkDir      = "temp/run_GIPL_GLUE"
	DefaultCommand      = "./gipl.exe"
	DefaultOutputDir    = "out"
	DefaultMinGroupSize = 1
)

// AnalysisConfig is the root of an analysis file. Optional scalars are
// pointers so that omitted fields fall back to the Get* defaults.
type AnalysisConfig struct {
	Samples      *int              `yaml:"samples,omitempty"`
	Seed         *uint64           `yaml:"seed,omitempty"`
	Centered     *bool             `yaml:"centered,omitempty"`
	Workers      *int              `yaml:"workers,omitempty"`
	MinGroupSize *int              `yaml:"min_group_size,omitempty"`
	Observed     []float64         `yaml:"observed"`
	Backend      string            `yaml:"backend,omitempty"`
	Parameters   []ParameterConfig `yaml:"parameters"`
	Forcing      ForcingConfig     `yaml:"forcing,omitempty"`
	GIPL         GIPLConfig        `yaml:"gipl,omitempty"`
	TTOP         TTOPConfig        `yaml:"ttop,omitempty"`
	Output       OutputConfig      `yaml:"output,omitempty"`

	baseDir string
}

// ParameterConfig is one calibrated parameter.
type ParameterConfig struct {
	Name   string  `yaml:"name"`
	Lower  float64 `yaml:"lower"`
	Upper  float64 `yaml:"upper"`
	Degree int     `yaml:"degree,omitempty"`
}

// ForcingConfig points at the monthly climate series.
type ForcingConfig struct {
	Temperature   string `yaml:"temperature,omitempty"`
	Precipitation string `yaml:"precipitation,omitempty"`
	Months        *int   `yaml:"months,omitempty"`
}

// GIPLConfig configures the external thermal model.
type GIPLConfig struct {
	Template           string   `yaml:"template,omitempty"`
	WorkDir            string   `yaml:"work_dir,omitempty"`
	Command            string   `yaml:"command,omitempty"`
	Args               []string `yaml:"args,omitempty"`
	OutputFile         string   `yaml:"output_file,omitempty"`
	Timeout            string   `yaml:"timeout,omitempty"` // duration string like "10m"
	InitialTemperature *float64 `yaml:"initial_temperature,omitempty"`
	MaxDepth           *float64 `yaml:"max_depth,omitempty"`
	SnowDensity        *float64 `yaml:"snow_density,omitempty"`
	KeepRuns           *bool    `yaml:"keep_runs,omitempty"`
}

// TTOPConfig holds the degree-day sums of the closed-form model.
type TTOPConfig struct {
	FDD *float64 `yaml:"fdd,omitempty"`
	TDD *float64 `yaml:"tdd,omitempty"`
}

// OutputConfig selects the artefacts written after a run.
type OutputConfig struct {
	Dir      string `yaml:"dir,omitempty"`
	Database string `yaml:"database,omitempty"` // empty disables persistence
	Plots    *bool  `yaml:"plots,omitempty"`
	HTML     *bool  `yaml:"html,omitempty"`
	CSV      *bool  `yaml:"csv,omitempty"`
}

// LoadAnalysisConfig loads and validates an analysis from a YAML file.
// Relative paths inside the file are resolved against its directory.
func LoadAnalysisConfig(path string) (*AnalysisConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.baseDir = filepath.Dir(cleanPath)
	return cfg, nil
}

// Parse decodes and validates YAML. Unknown keys are rejected.
func Parse(data []byte) (*AnalysisConfig, error) {
	cfg := &AnalysisConfig{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching parent
// directories. Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *AnalysisConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadAnalysisConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *AnalysisConfig) Validate() error {
	if c.Samples != nil && *c.Samples <= 0 {
		return fmt.Errorf("samples must be positive, got %d", *c.Samples)
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}
	if c.MinGroupSize != nil && *c.MinGroupSize < 1 {
		return fmt.Errorf("min_group_size must be at least 1, got %d", *c.MinGroupSize)
	}
	if len(c.Observed) == 0 {
		return errors.New("observed must list at least one value")
	}
	for i, v := range c.Observed {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("observed[%d] must be finite, got %v", i, v)
		}
	}
	if len(c.Parameters) == 0 {
		return errors.New("parameters must list at least one parameter")
	}
	seen := make(map[string]bool, len(c.Parameters))
	for _, b := range c.Bounds() {
		if err := b.Validate(); err != nil {
			return err
		}
		if seen[b.Name] {
			return fmt.Errorf("duplicate parameter %q", b.Name)
		}
		seen[b.Name] = true
	}
	if c.Forcing.Months != nil && *c.Forcing.Months <= 0 {
		return fmt.Errorf("forcing.months must be positive, got %d", *c.Forcing.Months)
	}

	switch c.GetBackend() {
	case BackendGIPL:
		if c.Forcing.Temperature == "" || c.Forcing.Precipitation == "" {
			return errors.New("gipl backend requires forcing.temperature and forcing.precipitation")
		}
		for _, name := range sandbox.SoilParameters {
			if !seen[name] {
				return fmt.Errorf("gipl backend requires parameter %q", name)
			}
		}
	case BackendTTOP:
		for _, name := range []string{simulation.ParamNF, simulation.ParamNT, simulation.ParamRK} {
			if !seen[name] {
				return fmt.Errorf("ttop backend requires parameter %q", name)
			}
		}
	default:
		return fmt.Errorf("unknown backend %q (want %s or %s)", c.Backend, BackendGIPL, BackendTTOP)
	}

	if c.GIPL.Timeout != "" {
		d, err := time.ParseDuration(c.GIPL.Timeout)
		if err != nil {
			return fmt.Errorf("invalid gipl.timeout '%s': %w", c.GIPL.Timeout, err)
		}
		if d < 0 {
			return fmt.Errorf("gipl.timeout must be non-negative, got %s", c.GIPL.Timeout)
		}
	}
	if c.GIPL.MaxDepth != nil && *c.GIPL.MaxDepth <= 0 {
		return fmt.Errorf("gipl.max_depth must be positive, got %g", *c.GIPL.MaxDepth)
	}
	if c.GIPL.SnowDensity != nil && *c.GIPL.SnowDensity <= 0 {
		return fmt.Errorf("gipl.snow_density must be positive, got %g", *c.GIPL.SnowDensity)
	}
	return nil
}

// Bounds converts the parameter list into sampler bounds.
func (c *AnalysisConfig) Bounds() []glue.ParameterBound {
	out := make([]glue.ParameterBound, len(c.Parameters))
	for i, p := range c.Parameters {
		out[i] = glue.ParameterBound{Name: p.Name, Lower: p.Lower, Upper: p.Upper, Degree: p.Degree}
	}
	return out
}

// ResolvePath returns p relative to the directory of the loaded file.
// Absolute paths and configs not loaded from disk are returned unchanged.
func (c *AnalysisConfig) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) || c.baseDir == "" {
		return p
	}
	return filepath.Join(c.baseDir, p)
}

// GetSamples returns the sample count or the default.
func (c *AnalysisConfig) GetSamples() int {
	if c.Samples == nil {
		return DefaultSamples
	}
	return *c.Samples
}

// GetSeed returns the sampling seed or the default.
func (c *AnalysisConfig) GetSeed() uint64 {
	if c.Seed == nil {
		return DefaultSeed
	}
	return *c.Seed
}

// GetCentered reports whether samples sit at stratum midpoints.
func (c *AnalysisConfig) GetCentered() bool {
	return c.Centered != nil && *c.Centered
}

// GetWorkers returns the worker count, defaulting to the CPU count.
func (c *AnalysisConfig) GetWorkers() int {
	if c.Workers == nil || *c.Workers == 0 {
		return runtime.NumCPU()
	}
	return *c.Workers
}

// GetMinGroupSize returns the smallest group kept by the grouped means.
func (c *AnalysisConfig) GetMinGroupSize() int {
	if c.MinGroupSize == nil {
		return DefaultMinGroupSize
	}
	return *c.MinGroupSize
}

// GetBackend returns the backend name, defaulting to gipl.
func (c *AnalysisConfig) GetBackend() string {
	if c.Backend == "" {
		return BackendGIPL
	}
	return c.Backend
}

// GetMonths returns the forcing horizon.
func (c *ForcingConfig) GetMonths() int {
	if c.Months == nil {
		return forcing.DefaultMonths
	}
	return *c.Months
}

// GetTimeout parses and returns the per-sample timeout.
func (c *GIPLConfig) GetTimeout() time.Duration {
	if c.Timeout == "" {
		return DefaultTimeout
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return DefaultTimeout // default on parse error
	}
	return d
}

// GetWorkDir returns the directory holding run sandboxes.
func (c *GIPLConfig) GetWorkDir() string {
	if c.WorkDir == "" {
		return DefaultWorkDir
	}
	return c.WorkDir
}

// GetCommand returns the model executable.
func (c *GIPLConfig) GetCommand() string {
	if c.Command == "" {
		return DefaultCommand
	}
	return c.Command
}

// GetOutputFile returns the model result table, relative to the run dir.
func (c *GIPLConfig) GetOutputFile() string {
	if c.OutputFile == "" {
		return simulation.DefaultOutputFile
	}
	return c.OutputFile
}

// GetInitialTemperature returns the reference temperature of the initial
// profile.
func (c *GIPLConfig) GetInitialTemperature() float64 {
	if c.InitialTemperature == nil {
		return sandbox.DefaultInitialTemperature
	}
	return *c.InitialTemperature
}

// GetMaxDepth returns the model base depth.
func (c *GIPLConfig) GetMaxDepth() float64 {
	if c.MaxDepth == nil {
		return sandbox.DefaultMaxDepth
	}
	return *c.MaxDepth
}

// GetSnowDensity returns the snow density factor.
func (c *GIPLConfig) GetSnowDensity() float64 {
	if c.SnowDensity == nil {
		return sandbox.DefaultSnowDensity
	}
	return *c.SnowDensity
}

// GetKeepRuns reports whether run directories survive the batch.
func (c *GIPLConfig) GetKeepRuns() bool {
	return c.KeepRuns != nil && *c.KeepRuns
}

// GetFDD returns the freezing degree-day sum.
func (c *TTOPConfig) GetFDD() float64 {
	if c.FDD == nil {
		return simulation.DefaultFDD
	}
	return *c.FDD
}

// GetTDD returns the thawing degree-day sum.
func (c *TTOPConfig) GetTDD() float64 {
	if c.TDD == nil {
		return simulation.DefaultTDD
	}
	return *c.TDD
}

// GetDir returns the report directory.
func (c *OutputConfig) GetDir() string {
	if c.Dir == "" {
		return DefaultOutputDir
	}
	return c.Dir
}

// GetPlots reports whether PNG plots are written.
func (c *OutputConfig) GetPlots() bool {
	return c.Plots == nil || *c.Plots
}

// GetHTML reports whether the interactive HTML page is written.
func (c *OutputConfig) GetHTML() bool {
	return c.HTML == nil || *c.HTML
}

// GetCSV reports whether CSV tables are written.
func (c *OutputConfig) GetCSV() bool {
	return c.CSV == nil || *c.CSV
}
