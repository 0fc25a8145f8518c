package machine

import (
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMachineIsIdle(t *testing.T) {
	m := New("m1", 4)
	assert.Equal(t, []Breakpoint{{Time: 0, Free: 4}}, m.Breakpoints())
	assert.Equal(t, 4, m.FreeCoresAt(1000))
	assert.Equal(t, 4, m.MinFreeCoresIn(0, 1000))
}

func TestReserveAndRelease(t *testing.T) {
	m := New("m1", 2)

	require.NoError(t, m.Reserve(10, 20, 1))
	assert.Equal(t, []Breakpoint{{0, 2}, {10, 1}, {30, 2}}, m.Breakpoints())

	require.NoError(t, m.Reserve(20, 20, 1))
	assert.Equal(t, []Breakpoint{{0, 2}, {10, 1}, {20, 0}, {30, 1}, {40, 2}}, m.Breakpoints())
	assert.Equal(t, 0, m.MinFreeCoresIn(0, 100))
	assert.Equal(t, 1, m.MinFreeCoresIn(30, 100))
	assert.Equal(t, 0, m.FreeCoresAt(25))

	require.NoError(t, m.Release(10, 20, 1))
	assert.Equal(t, []Breakpoint{{0, 2}, {20, 1}, {40, 2}}, m.Breakpoints())

	require.NoError(t, m.Release(20, 20, 1))
	assert.Equal(t, []Breakpoint{{0, 2}}, m.Breakpoints())
}

func TestReserveAdjacentMerges(t *testing.T) {
	m := New("m1", 1)
	require.NoError(t, m.ScheduleTask(0, 10))
	require.NoError(t, m.ScheduleTask(10, 10))
	assert.Equal(t, []Breakpoint{{0, 0}, {20, 1}}, m.Breakpoints())

	require.NoError(t, m.UnscheduleTask(0, 10))
	assert.Equal(t, []Breakpoint{{0, 1}, {10, 0}, {20, 1}}, m.Breakpoints())
}

func TestReserveBeyondCapacityLeavesStateUntouched(t *testing.T) {
	m := New("m1", 1)
	require.NoError(t, m.ScheduleTask(5, 10))
	before := m.Breakpoints()

	err := m.ScheduleTask(0, 6)
	assert.True(t, errors.Is(err, ErrCapacity))
	assert.Equal(t, before, m.Breakpoints())

	err = m.UnscheduleTask(20, 5)
	assert.True(t, errors.Is(err, ErrCapacity))
	assert.Equal(t, before, m.Breakpoints())
}

func TestZeroDurationIsNoop(t *testing.T) {
	m := New("m1", 1)
	require.NoError(t, m.ScheduleTask(3, 0))
	assert.Equal(t, []Breakpoint{{0, 1}}, m.Breakpoints())
}

func TestReserveReleaseRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	m := New("m1", 3)

	type res struct{ start, dur int }
	var placed []res
	for i := 0; i < 200; i++ {
		start, dur := rng.Intn(500), 1+rng.Intn(60)
		if m.MinFreeCoresIn(start, start+dur) == 0 {
			continue
		}
		before := m.Breakpoints()
		require.NoError(t, m.ScheduleTask(start, dur))

		// a reservation immediately released must restore the exact state
		probe, probeDur := rng.Intn(500), 1+rng.Intn(60)
		if m.MinFreeCoresIn(probe, probe+probeDur) > 0 {
			mid := m.Breakpoints()
			require.NoError(t, m.ScheduleTask(probe, probeDur))
			require.NoError(t, m.UnscheduleTask(probe, probeDur))
			require.Equal(t, mid, m.Breakpoints())
		}
		require.NotEqual(t, before, m.Breakpoints())
		placed = append(placed, res{start, dur})
	}

	for i := len(placed) - 1; i >= 0; i-- {
		require.NoError(t, m.UnscheduleTask(placed[i].start, placed[i].dur))
	}
	assert.Equal(t, []Breakpoint{{0, 3}}, m.Breakpoints())
}

func TestCloneIsIndependent(t *testing.T) {
	m := New("m1", 1)
	require.NoError(t, m.ScheduleTask(0, 10))

	c := m.Clone()
	require.NoError(t, c.UnscheduleTask(0, 10))
	require.NoError(t, c.ScheduleTask(50, 10))

	assert.Equal(t, []Breakpoint{{0, 0}, {10, 1}}, m.Breakpoints())
	assert.Equal(t, []Breakpoint{{0, 1}, {50, 0}, {60, 1}}, c.Breakpoints())
}

func TestNextAndPrevEvent(t *testing.T) {
	m := New("m1", 1)
	require.NoError(t, m.ScheduleTask(10, 10))

	next, ok := m.NextEvent(0)
	assert.True(t, ok)
	assert.Equal(t, 10, next)
	next, ok = m.NextEvent(10)
	assert.True(t, ok)
	assert.Equal(t, 20, next)
	_, ok = m.NextEvent(20)
	assert.False(t, ok)

	prev, ok := m.PrevEvent(20)
	assert.True(t, ok)
	assert.Equal(t, 10, prev)
	_, ok = m.PrevEvent(0)
	assert.False(t, ok)
}

func TestSearchIntervals(t *testing.T) {
	m := New("m1", 1)
	require.NoError(t, m.ScheduleTask(10, 10))
	require.NoError(t, m.ScheduleTask(25, 5))
	require.NoError(t, m.ScheduleTask(60, 10))

	tests := []struct {
		name    string
		runtime int
		lb, ub  int
		want    []Interval
	}{
		{"all gaps", 1, 0, 100, []Interval{{0, 10}, {20, 25}, {30, 60}, {70, 100}}},
		{"long enough only", 6, 0, 100, []Interval{{0, 10}, {30, 60}, {70, 100}}},
		{"clipped to bounds", 2, 5, 65, []Interval{{5, 10}, {20, 25}, {30, 60}}},
		{"starting inside busy region", 1, 12, 40, []Interval{{20, 25}, {30, 40}}},
		{"nothing fits", 40, 0, 70, nil},
		{"zero runtime ignores occupancy", 0, 12, 15, []Interval{{12, 15}}},
		{"empty range", 1, 50, 40, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.SearchIntervals(tt.runtime, tt.lb, tt.ub).All())
		})
	}
}

func TestSearchIntervalsIsRestartable(t *testing.T) {
	m := New("m1", 1)
	require.NoError(t, m.ScheduleTask(10, 10))

	it := m.SearchIntervals(5, 0, 50)
	first, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, Interval{0, 10}, first)

	it.Reset()
	again, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, first, again)
}

func TestGuardReleasesOnScopeExit(t *testing.T) {
	m1, m2 := New("m1", 1), New("m2", 2)
	require.NoError(t, m2.ScheduleTask(0, 5))
	before1, before2 := m1.Breakpoints(), m2.Breakpoints()

	fail := func() error {
		var g Guard
		defer g.Release()

		if err := g.ScheduleTask(m1, 0, 10); err != nil {
			return err
		}
		if err := g.ScheduleTask(m2, 3, 10); err != nil {
			return err
		}
		// m1 is full at 5: the error must not leak the two earlier reservations
		return g.ScheduleTask(m1, 5, 1)
	}

	err := fail()
	assert.True(t, errors.Is(err, ErrCapacity))
	assert.Equal(t, before1, m1.Breakpoints())
	assert.Equal(t, before2, m2.Breakpoints())
}
