// Package config loads the experiment configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all srpoc configuration.
type Config struct {
	Kernel     KernelConfig     `yaml:"kernel"`
	Function   ExpressionConfig `yaml:"function"`
	Guess      ExpressionConfig `yaml:"guess"`
	Solve      SolveConfig      `yaml:"solve"`
	Sample     SampleConfig     `yaml:"sample"`
	Regression RegressionConfig `yaml:"regression"`
	Logging    LoggingConfig    `yaml:"logging"`
	History    HistoryConfig    `yaml:"history"`
}

// KernelConfig locates the engine executable.
type KernelConfig struct {
	Path         string        `yaml:"path"` // empty: srpoc-kernel next to the running binary, then $PATH
	Args         []string      `yaml:"args,omitempty"`
	StartTimeout time.Duration `yaml:"start_timeout"`
	CallTimeout  time.Duration `yaml:"call_timeout"`
}

// ExpressionConfig is a right-hand side and its display prototype.
type ExpressionConfig struct {
	RHS       string `yaml:"rhs"`
	Prototype string `yaml:"prototype"`
}

// SolveConfig is the initial value problem y' = rhs, y(constraint_x) = constraint_y.
type SolveConfig struct {
	Name        string  `yaml:"name"`
	ConstraintX float64 `yaml:"constraint_x"`
	ConstraintY float64 `yaml:"constraint_y"`
	StartX      float64 `yaml:"start_x"`
	EndX        float64 `yaml:"end_x"`
	Step        float64 `yaml:"step"`
}

// SampleConfig is the grid the solution is sampled on. It should lie inside
// the solve range; points outside it fail in the kernel and the run continues
// without samples.
type SampleConfig struct {
	Start float64 `yaml:"start"`
	End   float64 `yaml:"end"`
	Count int     `yaml:"count"`
}

// RegressionConfig is shared by all three fits; the operator sets differ per
// fit and are not configurable.
type RegressionConfig struct {
	Niterations          int               `yaml:"niterations"`
	BinaryOperators      []string          `yaml:"binary_operators"`
	Populations          int               `yaml:"populations"`
	PopulationSize       int               `yaml:"population_size"`
	NcyclesPerIteration  int               `yaml:"ncycles_per_iteration"`
	ModelSelection       string            `yaml:"model_selection"` // best, accuracy, score
	ExtraMappings        map[string]string `yaml:"extra_mappings"`
	Maxsize              int               `yaml:"maxsize"`
	ParsimonyCoefficient float64           `yaml:"parsimony_coefficient"`
	Seed                 int64             `yaml:"seed"`
}

// HistoryConfig enables the run history database when Path is set.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// DefaultConfig returns the configuration of the reference experiment.
func DefaultConfig() *Config {
	return &Config{
		Kernel: KernelConfig{
			StartTimeout: 30 * time.Second,
			CallTimeout:  time.Minute,
		},
		Function: ExpressionConfig{RHS: "3*x^2 - 7*x + 3", Prototype: "f(x)"},
		Guess:    ExpressionConfig{RHS: "x^3 + 3*x", Prototype: "f(x)"},
		Solve: SolveConfig{
			Name: "function",
			EndX: 100,
			Step: 0.01,
		},
		Sample: SampleConfig{End: 100, Count: 101},
		Regression: RegressionConfig{
			Niterations:          30,
			BinaryOperators:      []string{"+", "*", "-", "/"},
			Populations:          300,
			PopulationSize:       33,
			NcyclesPerIteration:  100,
			ModelSelection:       "best",
			ExtraMappings:        map[string]string{"f": "x**3 + 3*x"},
			Maxsize:              20,
			ParsimonyCoefficient: 0.0032,
		},
		Logging: LoggingConfig{Level: "info", Format: "console"},
	}
}

// Load reads a YAML file over the defaults. A missing file yields the
// defaults. Environment overrides apply in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() error {
	if path := os.Getenv("SRPOC_KERNEL"); path != "" {
		c.Kernel.Path = path
	}
	if path := os.Getenv("SRPOC_HISTORY"); path != "" {
		c.History.Path = path
	}
	if s := os.Getenv("SRPOC_SEED"); s != "" {
		seed, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("SRPOC_SEED: %w", err)
		}
		c.Regression.Seed = seed
	}
	return nil
}

// Validate checks values that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	switch {
	case c.Solve.Name == "":
		return errors.New("solve.name must not be empty")
	case c.Solve.Step <= 0:
		return fmt.Errorf("solve.step must be positive, got %g", c.Solve.Step)
	case c.Solve.StartX >= c.Solve.EndX:
		return fmt.Errorf("solve range [%g, %g] is empty", c.Solve.StartX, c.Solve.EndX)
	case !(c.Sample.Start < c.Sample.End):
		return fmt.Errorf("sample range [%g, %g] is empty", c.Sample.Start, c.Sample.End)
	case c.Sample.Count < 2:
		return fmt.Errorf("sample.count must be at least 2, got %d", c.Sample.Count)
	case c.Regression.Niterations <= 0:
		return errors.New("regression.niterations must be positive")
	case c.Regression.Populations <= 0:
		return errors.New("regression.populations must be positive")
	case c.Kernel.StartTimeout < 0 || c.Kernel.CallTimeout < 0:
		return errors.New("kernel timeouts must not be negative")
	}
	switch c.Regression.ModelSelection {
	case "best", "accuracy", "score":
	default:
		return fmt.Errorf("regression.model_selection %q is not one of best, accuracy, score", c.Regression.ModelSelection)
	}
	return c.Logging.validate()
}
