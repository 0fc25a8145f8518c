package experiment

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/marcelo-torres/green-scheduler-sub000/internal/boundary"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/metrics"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/results"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/scheduler"
)

// Config holds runner configuration.
type Config struct {
	MaxParallel   int
	TimeoutPerRun time.Duration
	ResultsDir    string

	// Logger receives run events. Nil discards them. Per-task placement
	// logging of the scheduler stays off.
	Logger logrus.FieldLogger
	// Metrics records finished runs when set.
	Metrics *metrics.Recorder
}

// Algorithm selects what a run executes.
type Algorithm string

const (
	AlgorithmBoundary Algorithm = "boundary"
	AlgorithmLPT      Algorithm = "lpt"
	AlgorithmTaskFlow Algorithm = "taskflow"
)

// RunSpec is one point of the experiment grid.
type RunSpec struct {
	ID        string
	Algorithm Algorithm
	Options   scheduler.Options
}

// strategyLabel names the run for metrics: the boundary strategy for the
// bounded search, the algorithm otherwise.
func (s RunSpec) strategyLabel() string {
	if s.Algorithm == AlgorithmBoundary {
		return s.Options.BoundaryStrategy.String()
	}
	return string(s.Algorithm)
}

// Grid is the cartesian product of the listed parameter values. Empty lists
// take the value of Base.
type Grid struct {
	Base       scheduler.Options
	TaskSorts  []scheduler.TaskSort
	ShiftModes []scheduler.ShiftMode
	Strategies []boundary.Strategy
	CValues    []float64

	// Baselines adds one LPT and one task-flow run.
	Baselines bool
}

// Specs expands the grid in a fixed order: task sort, shift mode, strategy,
// then c.
func (g Grid) Specs() []RunSpec {
	sorts := g.TaskSorts
	if len(sorts) == 0 {
		sorts = []scheduler.TaskSort{g.Base.TaskSort}
	}
	shifts := g.ShiftModes
	if len(shifts) == 0 {
		shifts = []scheduler.ShiftMode{g.Base.ShiftMode}
	}
	strategies := g.Strategies
	if len(strategies) == 0 {
		strategies = []boundary.Strategy{g.Base.BoundaryStrategy}
	}
	cs := g.CValues
	if len(cs) == 0 {
		cs = []float64{g.Base.C}
	}

	var specs []RunSpec
	for _, ts := range sorts {
		for _, sm := range shifts {
			for _, st := range strategies {
				for _, c := range cs {
					opts := g.Base
					opts.TaskSort, opts.ShiftMode, opts.BoundaryStrategy, opts.C = ts, sm, st, c
					specs = append(specs, RunSpec{
						ID:        fmt.Sprintf("%s_%s_%s_c%.2f", ts, sm, st, c),
						Algorithm: AlgorithmBoundary,
						Options:   opts,
					})
				}
			}
		}
	}
	if g.Baselines {
		specs = append(specs,
			RunSpec{ID: "baseline_lpt", Algorithm: AlgorithmLPT, Options: g.Base},
			RunSpec{ID: "baseline_taskflow", Algorithm: AlgorithmTaskFlow, Options: g.Base},
		)
	}
	return specs
}

// runResult communicates run completion from worker goroutines to the main
// event loop.
type runResult struct {
	ID     string
	Record *results.RunRecord
	Err    error
}
