package placement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcelo-torres/green-scheduler-sub000/internal/energy"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/graph"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/machine"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/schedule"
)

func twoTasks(t *testing.T) (*graph.Task, *graph.Task) {
	t.Helper()
	g := graph.New()
	a, err := g.CreateTask("a", 40, 10)
	require.NoError(t, err)
	b, err := g.CreateTask("b", 40, 10)
	require.NoError(t, err)
	return a, b
}

func TestPlanPlaceAndUncommit(t *testing.T) {
	a, b := twoTasks(t)
	m := machine.New("m1", 1)
	p := NewPlan([]*machine.Machine{m}, energy.PowerSeries{Interval: 40, Values: []float64{0, 10, 0, 10}})

	c, err := p.Place(a, 0, 200, Earliest)
	require.NoError(t, err)
	assert.Equal(t, 40, c.Start)
	assert.Equal(t, schedule.Placement{Start: 40, Machine: "m1"}, p.Schedule["a"])

	// the first green window is taken by a on the only core
	c, err = p.Place(b, 0, 200, Earliest)
	require.NoError(t, err)
	assert.Equal(t, 120, c.Start)
	assert.InDelta(t, 0.0, p.Brown(), 1e-9)

	pl, err := p.Uncommit(a)
	require.NoError(t, err)
	assert.Equal(t, 40, pl.Start)
	assert.Equal(t, 1, m.FreeCoresAt(40))
	assert.False(t, p.Ledger.Has("a"))

	_, err = p.Uncommit(a)
	assert.Error(t, err)
}

func TestPlanCommitLeavesNothingOnFailure(t *testing.T) {
	a, b := twoTasks(t)
	m := machine.New("m1", 1)
	p := NewPlan([]*machine.Machine{m}, energy.PowerSeries{})

	require.NoError(t, p.Commit(a, m, 0))
	assert.Error(t, p.Commit(b, m, 20))
	assert.Error(t, p.Commit(a, m, 100))

	assert.Len(t, p.Schedule, 1)
	assert.False(t, p.Ledger.Has("b"))
	assert.Equal(t, []machine.Breakpoint{{Time: 0, Free: 0}, {Time: 40, Free: 1}}, m.Breakpoints())
}

func TestPlanSnapshotRestore(t *testing.T) {
	a, b := twoTasks(t)
	m := machine.New("m1", 2)
	p := NewPlan([]*machine.Machine{m}, energy.PowerSeries{})
	require.NoError(t, p.Commit(a, m, 0))

	snap := p.Snapshot()
	before := m.Breakpoints()

	_, err := p.Uncommit(a)
	require.NoError(t, err)
	require.NoError(t, p.Commit(a, m, 10))
	require.NoError(t, p.Commit(b, m, 10))

	p.Restore(snap)
	assert.Equal(t, schedule.Schedule{"a": {Start: 0, Machine: "m1"}}, p.Schedule)
	assert.Equal(t, before, m.Breakpoints())
	assert.Same(t, m, p.Machines()[0])
	assert.True(t, p.Ledger.Has("a"))
	assert.False(t, p.Ledger.Has("b"))
	assert.InDelta(t, 400.0, p.Brown(), 1e-9)
}
