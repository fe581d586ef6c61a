// Package config loads and validates the bofit run configuration.
package config

import (
	"os"
	"strings"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"

	"github.com/bofitdev/bofit/internal/errors"
	"github.com/bofitdev/bofit/internal/logging"
	"github.com/bofitdev/bofit/internal/searchspace"
)

// Acquisition names accepted by search.score.
const (
	ScoreTS = "TS"
	ScoreEI = "EI"
	ScorePI = "PI"
)

// Param is one tunable parameter range in the config file.
type Param struct {
	Name   string  `yaml:"name"`
	Min    float64 `yaml:"min"`
	Max    float64 `yaml:"max"`
	Points int     `yaml:"points"`
}

// Search configures the optimization loop.
type Search struct {
	// MaxItr is the total number of iterations to run.
	MaxItr int `yaml:"max_itr"`
	// Seed seeds every random draw in the run.
	Seed int64 `yaml:"seed"`
	// Score selects the acquisition: TS, EI or PI.
	Score string `yaml:"score"`
	// Params lists the tunable parameters and their grids.
	Params []Param `yaml:"params"`
	// NumSearchEachProbe is the number of candidates evaluated per iteration.
	NumSearchEachProbe int `yaml:"num_search_each_probe"`
	// Interval is the hyperparameter retraining period in iterations.
	// 0 keeps the engine default, negative disables retraining.
	Interval int `yaml:"interval"`
	// NumRandBasis sizes the random feature basis of the surrogate.
	NumRandBasis int `yaml:"num_rand_basis"`
	// NumRandom is the number of seeded-random iterations before the
	// Bayesian phase starts.
	NumRandom int `yaml:"num_random"`
	// Restart resumes from an existing run directory when one is found.
	Restart *bool `yaml:"restart"`
	// Log is the run log subdirectory name inside the run directory.
	Log string `yaml:"log"`
	// TieBreak decides which of two equal best scores wins: the earliest
	// or the latest find.
	TieBreak string `yaml:"tie_break"`
}

// Tie-break policies for equal best scores.
const (
	TieBreakEarliest = "earliest"
	TieBreakLatest   = "latest"
)

// Solver configures the external solver invocation.
type Solver struct {
	// Command is the solver executable.
	Command string `yaml:"command"`
	// Args are passed to the solver before the input file path.
	Args []string `yaml:"args"`
	// SweepParam is the name of the swept independent variable.
	SweepParam string `yaml:"sweep_param"`
	// Workers bounds concurrent sweep-point solves within one iteration.
	Workers int `yaml:"workers"`
	// Fixed holds model parameters written to every input file as-is.
	Fixed map[string]float64 `yaml:"fixed"`
	// KeepWork retains the transient work directory of failed solves.
	KeepWork bool `yaml:"keep_work"`
}

// Paths configures file locations.
type Paths struct {
	// TargetCSV is the observed target curve file.
	TargetCSV string `yaml:"target_csv"`
	// RunDir is the run directory root.
	RunDir string `yaml:"run_dir"`
}

// Status configures the optional HTTP status endpoint.
type Status struct {
	Enabled bool   `yaml:"enabled" env:"BOFIT_STATUS_ENABLED"`
	Addr    string `yaml:"addr" env:"BOFIT_STATUS_ADDR"`
}

// Config is the full run configuration.
type Config struct {
	Search  Search         `yaml:"search"`
	Solver  Solver         `yaml:"solver"`
	Paths   Paths          `yaml:"paths"`
	Logging logging.Config `yaml:"logging"`
	Status  Status         `yaml:"status"`
}

// Default returns a Config with every optional field at its default value.
func Default() Config {
	restart := true
	return Config{
		Search: Search{
			Seed:               1,
			Score:              ScoreTS,
			NumSearchEachProbe: 1,
			NumRandBasis:       5000,
			NumRandom:          3,
			Restart:            &restart,
			Log:                "log",
			TieBreak:           TieBreakEarliest,
		},
		Solver: Solver{
			SweepParam: "H",
			Workers:    1,
		},
		Paths: Paths{
			RunDir: "run",
		},
		Logging: logging.DefaultConfig(),
		Status: Status{
			Addr: ":8080",
		},
	}
}

// Load reads the YAML file at path, applies defaults and environment
// overrides, and validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, errors.KindConfig, "read config file")
	}
	return Parse(data)
}

// Parse decodes YAML config bytes on top of the defaults.
func Parse(data []byte) (Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, errors.Wrap(err, errors.KindConfig, "parse config")
	}

	if err := env.Parse(&cfg.Logging); err != nil {
		return Config{}, errors.Wrap(err, errors.KindConfig, "parse logging environment")
	}
	if err := env.Parse(&cfg.Status); err != nil {
		return Config{}, errors.Wrap(err, errors.KindConfig, "parse status environment")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks required fields and value ranges.
func (c Config) Validate() error {
	if c.Search.MaxItr < 1 {
		return errors.New(errors.KindConfig, "search.max_itr must be at least 1")
	}
	switch c.Search.Score {
	case ScoreTS, ScoreEI, ScorePI:
	default:
		return errors.Newf(errors.KindConfig,
			"search.score must be one of TS, EI, PI, got %q", c.Search.Score)
	}
	if len(c.Search.Params) == 0 {
		return errors.New(errors.KindConfig, "search.params is required")
	}
	seen := make(map[string]bool, len(c.Search.Params))
	for _, p := range c.Search.Params {
		if p.Name == "" {
			return errors.New(errors.KindConfig, "search.params entries need a name")
		}
		if seen[p.Name] {
			return errors.Newf(errors.KindConfig, "duplicate parameter %q", p.Name)
		}
		seen[p.Name] = true
		if p.Points < 1 {
			return errors.Newf(errors.KindConfig,
				"parameter %s: points must be at least 1", p.Name)
		}
		if p.Min > p.Max {
			return errors.Newf(errors.KindConfig,
				"parameter %s: min %g exceeds max %g", p.Name, p.Min, p.Max)
		}
		if p.Name == c.Solver.SweepParam {
			return errors.Newf(errors.KindConfig,
				"parameter %s collides with solver.sweep_param", p.Name)
		}
	}
	if c.Search.NumSearchEachProbe < 1 {
		return errors.New(errors.KindConfig, "search.num_search_each_probe must be at least 1")
	}
	if c.Search.NumRandom < 0 {
		return errors.New(errors.KindConfig, "search.num_random must not be negative")
	}
	switch c.Search.TieBreak {
	case TieBreakEarliest, TieBreakLatest:
	default:
		return errors.Newf(errors.KindConfig,
			"search.tie_break must be earliest or latest, got %q", c.Search.TieBreak)
	}
	if c.Search.NumRandBasis < 1 {
		return errors.New(errors.KindConfig, "search.num_rand_basis must be at least 1")
	}
	if c.Solver.Command == "" {
		return errors.New(errors.KindConfig, "solver.command is required")
	}
	if c.Solver.SweepParam == "" {
		return errors.New(errors.KindConfig, "solver.sweep_param must not be empty")
	}
	if c.Solver.Workers < 1 {
		return errors.New(errors.KindConfig, "solver.workers must be at least 1")
	}
	if c.Paths.TargetCSV == "" {
		return errors.New(errors.KindConfig, "paths.target_csv is required")
	}
	if c.Paths.RunDir == "" {
		return errors.New(errors.KindConfig, "paths.run_dir must not be empty")
	}
	return nil
}

// RestartEnabled reports whether resume from a prior run is allowed.
func (c Config) RestartEnabled() bool {
	return c.Search.Restart == nil || *c.Search.Restart
}

// Specs converts the configured parameters into search-space specs.
func (c Config) Specs() []searchspace.ParameterSpec {
	specs := make([]searchspace.ParameterSpec, len(c.Search.Params))
	for i, p := range c.Search.Params {
		specs[i] = searchspace.ParameterSpec{
			Name:   p.Name,
			Min:    p.Min,
			Max:    p.Max,
			Points: p.Points,
		}
	}
	return specs
}
