// Package config loads and validates the YAML analysis configuration: the
// observation data source, per-variable tail and bulk models, the fitted
// copulas, and the simulation and design-event settings.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/driftline/compex/internal/copula"
	"github.com/driftline/compex/internal/gpd"
	"github.com/driftline/compex/internal/marginal"
)

// Config is the root of the analysis file.
type Config struct {
	Version    int              `yaml:"version" validate:"min=0"`
	Data       DataConfig       `yaml:"data" validate:"required"`
	Variables  []VariableConfig `yaml:"variables" validate:"required,min=1,dive"`
	Copula     ModelConfig      `yaml:"copula"` // joint copula for full-distribution simulation
	Simulation SimulationConfig `yaml:"simulation"`
	Design     DesignConfig     `yaml:"design"`
}

// DataConfig points at the observation table.
type DataConfig struct {
	File       string `yaml:"file" validate:"required"`
	DateColumn string `yaml:"date_column"`
}

// VariableConfig carries one hazard variable's fitted models. Column
// defaults to Name when empty.
type VariableConfig struct {
	Name        string            `yaml:"name" validate:"required"`
	Column      string            `yaml:"column"`
	Tail        TailConfig        `yaml:"tail" validate:"required"`
	Bulk        ModelConfig       `yaml:"bulk" validate:"required"`
	Conditional ConditionalConfig `yaml:"conditional"`
}

// TailConfig holds externally fitted GPD tail parameters.
type TailConfig struct {
	Threshold float64 `yaml:"threshold"`
	Scale     float64 `yaml:"scale" validate:"gt=0"`
	Shape     float64 `yaml:"shape"`
	Rate      float64 `yaml:"rate" validate:"gt=0,lte=1"`
}

// ModelConfig names a fitted parametric model: a marginal family or a copula
// family plus its parameter vector.
type ModelConfig struct {
	Family string    `yaml:"family"`
	Params []float64 `yaml:"params"`
}

// ConditionalConfig describes one conditioning regime: the conditional
// sample gathered while this variable exceeded its threshold, and the copula
// fitted to that sample.
type ConditionalConfig struct {
	File   string      `yaml:"file"`
	Copula ModelConfig `yaml:"copula"`
}

// SimulationConfig drives the joint simulator.
type SimulationConfig struct {
	Mu    float64 `yaml:"mu" validate:"omitempty,gt=0"`    // mean events per year
	Years float64 `yaml:"years" validate:"omitempty,gt=0"` // simulation horizon
	Seed  uint64  `yaml:"seed"`
}

// DesignConfig drives the design-event estimator. Zero values defer to the
// estimator's defaults.
type DesignConfig struct {
	ReturnPeriods []float64 `yaml:"return_periods" validate:"omitempty,dive,gt=0"`
	YearsOfRecord float64   `yaml:"years_of_record" validate:"omitempty,gt=0"`
	GridStep      float64   `yaml:"grid_step" validate:"omitempty,gt=0,lt=1"`
	MergeStep     float64   `yaml:"merge_step" validate:"omitempty,gt=0"`
	PoolSize      int       `yaml:"pool_size" validate:"omitempty,min=2"`
	EnsembleSize  int       `yaml:"ensemble_size" validate:"omitempty,min=1"`
	Seed          uint64    `yaml:"seed"`
}

// Load reads, defaults, and validates an analysis file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read analysis config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates raw YAML.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode analysis YAML: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	for i := range c.Variables {
		if c.Variables[i].Column == "" {
			c.Variables[i].Column = c.Variables[i].Name
		}
	}
}

// Validate runs the struct tag rules and the semantic checks the tags cannot
// express: unique variable names and resolvable family names.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("analysis config: %w", err)
	}

	seen := make(map[string]bool, len(c.Variables))
	for _, v := range c.Variables {
		if seen[v.Name] {
			return fmt.Errorf("analysis config: duplicate variable name %q", v.Name)
		}
		seen[v.Name] = true

		if _, err := marginal.Parse(v.Bulk.Family); err != nil {
			return fmt.Errorf("analysis config: variable %s: %w", v.Name, err)
		}
		if v.Conditional.Copula.Family != "" {
			if _, err := copula.Parse(v.Conditional.Copula.Family); err != nil {
				return fmt.Errorf("analysis config: variable %s: %w", v.Name, err)
			}
		}
	}
	if c.Copula.Family != "" {
		if _, err := copula.Parse(c.Copula.Family); err != nil {
			return fmt.Errorf("analysis config: joint copula: %w", err)
		}
	}
	return nil
}

// GPDTail converts the tail section to its domain form.
func (t TailConfig) GPDTail() gpd.Tail {
	return gpd.Tail{Threshold: t.Threshold, Scale: t.Scale, Shape: t.Shape, Rate: t.Rate}
}

// BuildMarginal materializes the named bulk family.
func (m ModelConfig) BuildMarginal() (marginal.Distribution, error) {
	fam, err := marginal.Parse(m.Family)
	if err != nil {
		return nil, err
	}
	return marginal.New(fam, m.Params)
}

// BuildCopula materializes the named copula at the given dimension.
func (m ModelConfig) BuildCopula(dim int) (copula.Model, error) {
	fam, err := copula.Parse(m.Family)
	if err != nil {
		return nil, err
	}
	return copula.New(fam, dim, m.Params)
}

// Variable returns the named variable section.
func (c *Config) Variable(name string) (VariableConfig, error) {
	for _, v := range c.Variables {
		if v.Name == name {
			return v, nil
		}
	}
	return VariableConfig{}, fmt.Errorf("analysis config: no variable named %q", name)
}
