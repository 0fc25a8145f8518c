// Package config loads YAML experiment files.
package config

import (
	"os"

	"github.com/markphelps/optional"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/marcelo-torres/green-scheduler-sub000/internal/cluster"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/energy"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/scheduler"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/workflow"
)

// Config is one experiment file.
type Config struct {
	Workflow     string  `yaml:"workflow"`
	DefaultPower float64 `yaml:"default_power"`
	PowerMin     float64 `yaml:"power_min"`
	PowerMax     float64 `yaml:"power_max"`
	Seed         int64   `yaml:"seed"`

	// Deadline is absent when it should be derived.
	Deadline         *int    `yaml:"deadline"`
	DeadlineFactor   float64 `yaml:"deadline_factor"`
	DeadlineBase     string  `yaml:"deadline_base"`
	C                float64 `yaml:"c"`
	TaskSort         string  `yaml:"task_sort"`
	ShiftMode        string  `yaml:"shift_mode"`
	BoundaryStrategy string  `yaml:"boundary_strategy"`

	Cluster     Cluster     `yaml:"cluster"`
	Experiments Experiments `yaml:"experiments"`
}

// Cluster describes the machines and the green power supply.
type Cluster struct {
	ID       string                `yaml:"id"`
	Power    energy.PowerSeries    `yaml:"power"`
	Machines []cluster.MachineSpec `yaml:"machines"`
}

// Experiments is the parameter grid of the experiment command. Empty lists
// fall back to the single value of the enclosing Config.
type Experiments struct {
	MaxParallel        int       `yaml:"max_parallel"`
	TaskSorts          []string  `yaml:"task_sorts"`
	ShiftModes         []string  `yaml:"shift_modes"`
	BoundaryStrategies []string  `yaml:"boundary_strategies"`
	CValues            []float64 `yaml:"c_values"`
}

// Default returns a Config with every default filled in.
func Default() *Config {
	return &Config{
		DeadlineFactor:   scheduler.DefaultDeadlineFactor,
		DeadlineBase:     scheduler.BaseCriticalPath.String(),
		TaskSort:         scheduler.SortEnergy.String(),
		ShiftMode:        scheduler.ShiftNone.String(),
		BoundaryStrategy: "default",
		Cluster:          Cluster{ID: "local"},
	}
}

// Load reads a YAML config file over the defaults and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config file")
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "parsing config file")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all config values are valid.
func (c *Config) Validate() error {
	if _, err := c.Options(); err != nil {
		return err
	}
	if c.DefaultPower < 0 {
		return errors.Errorf("default_power must not be negative, got %g", c.DefaultPower)
	}
	if c.PowerMax < c.PowerMin {
		return errors.Errorf("power_max (%g) is below power_min (%g)", c.PowerMax, c.PowerMin)
	}
	if _, err := c.BuildCluster(); err != nil {
		return err
	}
	if c.Experiments.MaxParallel < 0 {
		return errors.Errorf("experiments.max_parallel must not be negative, got %d", c.Experiments.MaxParallel)
	}
	for _, name := range c.Experiments.TaskSorts {
		if _, err := scheduler.ParseTaskSort(name); err != nil {
			return err
		}
	}
	for _, name := range c.Experiments.ShiftModes {
		if _, err := scheduler.ParseShiftMode(name); err != nil {
			return err
		}
	}
	for _, name := range c.Experiments.BoundaryStrategies {
		if _, err := scheduler.ParseBoundaryStrategy(name); err != nil {
			return err
		}
	}
	for _, v := range c.Experiments.CValues {
		if v < 0 || v > 1 {
			return errors.Wrapf(scheduler.ErrInvalidOption, "c must be within [0, 1], got %g", v)
		}
	}
	return nil
}

// Options converts the scheduling fields into scheduler options. The logger
// is left unset.
func (c *Config) Options() (scheduler.Options, error) {
	var (
		opts scheduler.Options
		err  error
	)
	if c.Deadline != nil {
		if *c.Deadline < 0 {
			return opts, errors.Wrapf(scheduler.ErrInvalidOption, "deadline must not be negative, got %d", *c.Deadline)
		}
		opts.Deadline = optional.NewInt(*c.Deadline)
	}
	if c.DeadlineFactor < 0 {
		return opts, errors.Wrapf(scheduler.ErrInvalidOption, "deadline_factor must not be negative, got %g", c.DeadlineFactor)
	}
	opts.DeadlineFactor = c.DeadlineFactor
	if c.C < 0 || c.C > 1 {
		return opts, errors.Wrapf(scheduler.ErrInvalidOption, "c must be within [0, 1], got %g", c.C)
	}
	opts.C = c.C

	if opts.DeadlineBase, err = scheduler.ParseDeadlineBase(c.DeadlineBase); err != nil {
		return opts, err
	}
	if opts.TaskSort, err = scheduler.ParseTaskSort(c.TaskSort); err != nil {
		return opts, err
	}
	if opts.ShiftMode, err = scheduler.ParseShiftMode(c.ShiftMode); err != nil {
		return opts, err
	}
	if opts.BoundaryStrategy, err = scheduler.ParseBoundaryStrategy(c.BoundaryStrategy); err != nil {
		return opts, err
	}
	return opts, nil
}

// BuildCluster creates a fresh cluster from the cluster section.
func (c *Config) BuildCluster() (*cluster.Cluster, error) {
	return cluster.New(c.Cluster.ID, c.Cluster.Power, c.Cluster.Machines...)
}

// WorkflowOptions returns the ingestion options for the workflow file.
func (c *Config) WorkflowOptions() workflow.Options {
	return workflow.Options{
		DefaultPower: c.DefaultPower,
		PowerMin:     c.PowerMin,
		PowerMax:     c.PowerMax,
		Seed:         c.Seed,
	}
}
