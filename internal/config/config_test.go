package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcelo-torres/green-scheduler-sub000/internal/boundary"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/scheduler"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "experiment.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const full = `
workflow: workflows/blast.json
default_power: 12.5
deadline: 300
c: 0.5
task_sort: runtime_ascending
shift_mode: right-left
boundary_strategy: lpt-full
cluster:
  id: lab
  power:
    interval: 60
    values: [0, 100, 200]
  machines:
    - id: m1
      cores: 4
    - id: m2
      cores: 2
experiments:
  max_parallel: 3
  task_sorts: [energy, power]
  shift_modes: [none, left]
  boundary_strategies: [single, lpt]
  c_values: [0, 0.25]
`

func TestLoadFull(t *testing.T) {
	cfg, err := Load(writeConfig(t, full))
	require.NoError(t, err)

	assert.Equal(t, "workflows/blast.json", cfg.Workflow)
	assert.Equal(t, 12.5, cfg.DefaultPower)
	assert.Equal(t, 60, cfg.Cluster.Power.Interval)
	assert.Len(t, cfg.Cluster.Machines, 2)
	assert.Equal(t, 3, cfg.Experiments.MaxParallel)
	assert.Equal(t, []float64{0, 0.25}, cfg.Experiments.CValues)

	opts, err := cfg.Options()
	require.NoError(t, err)
	d, err := opts.Deadline.Get()
	require.NoError(t, err)
	assert.Equal(t, 300, d)
	assert.Equal(t, 0.5, opts.C)
	assert.Equal(t, scheduler.SortRuntimeAscending, opts.TaskSort)
	assert.Equal(t, scheduler.ShiftRightLeft, opts.ShiftMode)
	assert.Equal(t, boundary.LPTFull, opts.BoundaryStrategy)

	cl, err := cfg.BuildCluster()
	require.NoError(t, err)
	assert.Equal(t, 6, cl.TotalCores())
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
cluster:
  machines:
    - id: m1
      cores: 1
`))
	require.NoError(t, err)

	opts, err := cfg.Options()
	require.NoError(t, err)
	assert.False(t, opts.Deadline.Present())
	assert.Equal(t, scheduler.DefaultDeadlineFactor, opts.DeadlineFactor)
	assert.Equal(t, scheduler.BaseCriticalPath, opts.DeadlineBase)
	assert.Equal(t, scheduler.SortEnergy, opts.TaskSort)
	assert.Equal(t, scheduler.ShiftNone, opts.ShiftMode)
	assert.Equal(t, boundary.Default, opts.BoundaryStrategy)
	assert.Equal(t, 0.0, opts.C)
	assert.Equal(t, "local", cfg.Cluster.ID)
}

func TestLoadRejectsInvalid(t *testing.T) {
	machines := "\ncluster:\n  machines:\n    - id: m1\n      cores: 1\n"
	cases := map[string]string{
		"unknown sort":     "task_sort: random" + machines,
		"unknown shift":    "shift_mode: sideways" + machines,
		"unknown strategy": "boundary_strategy: greedy" + machines,
		"unknown base":     "deadline_base: makespan" + machines,
		"c out of range":   "c: 1.5" + machines,
		"negative power":   "default_power: -1" + machines,
		"no machines":      "c: 0.5\n",
		"zero cores":       "cluster:\n  machines:\n    - id: m1\n      cores: 0\n",
		"grid sort":        "experiments:\n  task_sorts: [bogus]" + machines,
		"grid c":           "experiments:\n  c_values: [2]" + machines,
		"malformed":        "cluster: [",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestUnknownOptionIsSentinel(t *testing.T) {
	cfg := Default()
	cfg.TaskSort = "bogus"
	_, err := cfg.Options()
	assert.ErrorIs(t, err, scheduler.ErrInvalidOption)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestWorkflowOptions(t *testing.T) {
	cfg := Default()
	cfg.DefaultPower = 3
	cfg.PowerMin, cfg.PowerMax, cfg.Seed = 1, 2, 9
	wo := cfg.WorkflowOptions()
	assert.Equal(t, 3.0, wo.DefaultPower)
	assert.Equal(t, int64(9), wo.Seed)
}
