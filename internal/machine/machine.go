// Package machine tracks the free cores of a compute machine over time.
//
// The state of a machine is a step function stored as ordered breakpoints
// (time, free cores). The first breakpoint is at time 0 and the last one
// always restores full capacity. Breakpoints are kept canonical: no two
// consecutive breakpoints carry the same free-core count, so a Reserve
// followed by the matching Release restores the exact prior breakpoints.
package machine

import (
	"github.com/google/btree"
	"github.com/pkg/errors"
)

// CoresPerTask is the number of cores a single task occupies while running.
const CoresPerTask = 1

// ErrCapacity is returned when a reservation or release would take the free
// core count outside [0, cores].
var ErrCapacity = errors.New("machine capacity exceeded")

// Breakpoint is the free-core count from Time until the next breakpoint.
type Breakpoint struct {
	Time int
	Free int
}

func lessBreakpoint(a, b Breakpoint) bool {
	return a.Time < b.Time
}

// Machine is a compute resource with a fixed number of cores.
type Machine struct {
	ID    string
	Cores int

	state *btree.BTreeG[Breakpoint]
}

// New returns an idle machine.
func New(id string, cores int) *Machine {
	m := &Machine{
		ID:    id,
		Cores: cores,
		state: btree.NewG[Breakpoint](16, lessBreakpoint),
	}
	m.state.ReplaceOrInsert(Breakpoint{Time: 0, Free: cores})
	return m
}

// Clone returns an independent copy of the machine and its state.
func (m *Machine) Clone() *Machine {
	return &Machine{
		ID:    m.ID,
		Cores: m.Cores,
		state: m.state.Clone(),
	}
}

// Restore replaces the state of m with a copy of the state of src.
func (m *Machine) Restore(src *Machine) {
	m.Cores = src.Cores
	m.state = src.state.Clone()
}

// Breakpoints returns the current state in time order.
func (m *Machine) Breakpoints() []Breakpoint {
	out := make([]Breakpoint, 0, m.state.Len())
	m.state.Ascend(func(bp Breakpoint) bool {
		out = append(out, bp)
		return true
	})
	return out
}

// FreeCoresAt returns the number of free cores at time t.
func (m *Machine) FreeCoresAt(t int) int {
	bp, ok := m.floor(t)
	if !ok {
		return m.Cores
	}
	return bp.Free
}

// MinFreeCoresIn returns the minimum number of free cores over [start, end).
// An empty interval reports the free cores at start.
func (m *Machine) MinFreeCoresIn(start, end int) int {
	lowest := m.FreeCoresAt(start)
	if end <= start {
		return lowest
	}
	m.state.AscendRange(Breakpoint{Time: start + 1}, Breakpoint{Time: end}, func(bp Breakpoint) bool {
		if bp.Free < lowest {
			lowest = bp.Free
		}
		return true
	})
	return lowest
}

// NextEvent returns the first breakpoint time strictly after t.
func (m *Machine) NextEvent(t int) (int, bool) {
	var next Breakpoint
	found := false
	m.state.AscendGreaterOrEqual(Breakpoint{Time: t + 1}, func(bp Breakpoint) bool {
		next, found = bp, true
		return false
	})
	return next.Time, found
}

// PrevEvent returns the last breakpoint time strictly before t.
func (m *Machine) PrevEvent(t int) (int, bool) {
	bp, ok := m.floor(t - 1)
	return bp.Time, ok
}

// Reserve marks cores busy over [start, start+duration). Nothing is modified
// when fewer than cores are free anywhere in the interval.
func (m *Machine) Reserve(start, duration, cores int) error {
	if duration <= 0 || cores <= 0 {
		return nil
	}
	end := start + duration
	if free := m.MinFreeCoresIn(start, end); free < cores {
		return errors.Wrapf(ErrCapacity, "machine %s: reserve %d cores over [%d, %d) with %d free", m.ID, cores, start, end, free)
	}
	m.apply(start, end, -cores)
	return nil
}

// Release is the exact inverse of Reserve.
func (m *Machine) Release(start, duration, cores int) error {
	if duration <= 0 || cores <= 0 {
		return nil
	}
	end := start + duration
	if m.maxFreeIn(start, end)+cores > m.Cores {
		return errors.Wrapf(ErrCapacity, "machine %s: release %d cores over [%d, %d) not held", m.ID, cores, start, end)
	}
	m.apply(start, end, cores)
	return nil
}

// ScheduleTask reserves the cores of one task running over [start, start+runtime).
func (m *Machine) ScheduleTask(start, runtime int) error {
	return m.Reserve(start, runtime, CoresPerTask)
}

// UnscheduleTask releases the cores of one task placed with ScheduleTask.
func (m *Machine) UnscheduleTask(start, runtime int) error {
	return m.Release(start, runtime, CoresPerTask)
}

// apply adds delta to the free cores over [start, end) and restores the
// canonical form at both edges.
func (m *Machine) apply(start, end, delta int) {
	m.split(start)
	m.split(end)

	var touched []Breakpoint
	m.state.AscendRange(Breakpoint{Time: start}, Breakpoint{Time: end}, func(bp Breakpoint) bool {
		touched = append(touched, bp)
		return true
	})
	for _, bp := range touched {
		bp.Free += delta
		m.state.ReplaceOrInsert(bp)
	}

	m.merge(end)
	m.merge(start)
}

// split makes sure a breakpoint exists exactly at t.
func (m *Machine) split(t int) {
	if _, ok := m.state.Get(Breakpoint{Time: t}); ok {
		return
	}
	m.state.ReplaceOrInsert(Breakpoint{Time: t, Free: m.FreeCoresAt(t)})
}

// merge drops the breakpoint at t when it repeats the value before it.
func (m *Machine) merge(t int) {
	bp, ok := m.state.Get(Breakpoint{Time: t})
	if !ok || t == 0 {
		return
	}
	prev, ok := m.floor(t - 1)
	if ok && prev.Free == bp.Free {
		m.state.Delete(bp)
	}
}

func (m *Machine) maxFreeIn(start, end int) int {
	highest := m.FreeCoresAt(start)
	m.state.AscendRange(Breakpoint{Time: start + 1}, Breakpoint{Time: end}, func(bp Breakpoint) bool {
		if bp.Free > highest {
			highest = bp.Free
		}
		return true
	})
	return highest
}

func (m *Machine) floor(t int) (Breakpoint, bool) {
	var out Breakpoint
	found := false
	m.state.DescendLessOrEqual(Breakpoint{Time: t}, func(bp Breakpoint) bool {
		out, found = bp, true
		return false
	})
	return out, found
}
