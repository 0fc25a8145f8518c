// Package boundary bounds the start window of a task so that precedence is
// respected and the slack of the deadline is shared across the DAG instead
// of being consumed by whichever task is placed first.
//
// For a task T with deadline D the calculator returns four distances:
//
//	lcb  earliest finish of T's predecessors, measured from 0
//	rcb  latest start of T's successors, measured back from D
//	lvb  share of the remaining slack kept free on the left of T
//	rvb  share kept free on the right of T
//
// T may start anywhere in [lcb+lvb, D-rcb-rvb-runtime].
package boundary

import (
	"math"
	"sort"

	"github.com/pkg/errors"

	"github.com/marcelo-torres/green-scheduler-sub000/internal/cpm"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/graph"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/machine"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/schedule"
)

// Boundaries of one task.
type Boundaries struct {
	LCB int
	LVB int
	RCB int
	RVB int

	// LimitedLeft is set when the latest finishing predecessor is already
	// scheduled; LimitedRight when the earliest starting successor is.
	LimitedLeft  bool
	LimitedRight bool
}

// Window returns the first and last feasible start of a task.
func (b Boundaries) Window(deadline, runtime int) (lb, rb int) {
	return b.LCB + b.LVB, deadline - b.RCB - b.RVB - runtime
}

// Calculator computes boundaries against a partial schedule. The machines
// are the live machines of the run: multi-machine strategies reserve
// capacity on them while estimating and release it before returning.
type Calculator struct {
	g        *graph.TaskGraph
	deadline int
	c        float64
	strategy Strategy
	machines []*machine.Machine

	order   []*graph.Task // ascending rank, arena order within a rank
	levels  []cpm.Level
	bottom  []int
	top     []int
	horizon int
}

// NewCalculator prepares the rank and level tables of g.
func NewCalculator(g *graph.TaskGraph, deadline int, c float64, strategy Strategy, machines []*machine.Machine) (*Calculator, error) {
	if c < 0 || c > 1 {
		return nil, errors.Errorf("c must be within [0, 1], got %g", c)
	}
	if strategy != Single && len(machines) == 0 {
		return nil, errors.Errorf("boundary strategy %s needs at least one machine", strategy)
	}
	order, err := cpm.SortTopologically(g, false)
	if err != nil {
		return nil, err
	}
	levels, err := cpm.CalcLevels(g)
	if err != nil {
		return nil, err
	}
	bottom, err := cpm.BottomLevels(g)
	if err != nil {
		return nil, err
	}
	top, err := cpm.TopLevels(g)
	if err != nil {
		return nil, err
	}

	horizon := deadline
	for _, t := range g.Tasks() {
		horizon += t.Runtime
	}

	return &Calculator{
		g:        g,
		deadline: deadline,
		c:        c,
		strategy: strategy,
		machines: machines,
		order:    order,
		levels:   levels,
		bottom:   bottom,
		top:      top,
		horizon:  horizon,
	}, nil
}

// Deadline returns the deadline the calculator was built for.
func (c *Calculator) Deadline() int {
	return c.deadline
}

// Calculate returns the boundaries of t given the tasks already in s. With
// ignoreVariable only the constant boundaries are computed, as when shifting
// an already complete schedule.
func (c *Calculator) Calculate(t *graph.Task, s schedule.Schedule, ignoreVariable bool) (Boundaries, error) {
	lcb, limitedLeft, err := c.leftConstant(t, s)
	if err != nil {
		return Boundaries{}, err
	}
	rcb, limitedRight, err := c.rightConstant(t, s)
	if err != nil {
		return Boundaries{}, err
	}
	if lcb+rcb+t.Runtime > c.deadline {
		return Boundaries{}, errors.Wrapf(schedule.ErrInfeasible,
			"task %s: lcb %d + runtime %d + rcb %d exceeds deadline %d", t.ID, lcb, t.Runtime, rcb, c.deadline)
	}

	b := Boundaries{LCB: lcb, RCB: rcb, LimitedLeft: limitedLeft, LimitedRight: limitedRight}
	if !ignoreVariable {
		b.LVB, b.RVB = c.variable(t, lcb, rcb, limitedLeft, limitedRight)
	}
	return b, nil
}

// variable splits the part of the free window that c withholds between the
// two sides of the task, weighted by its level in the DAG.
func (c *Calculator) variable(t *graph.Task, lcb, rcb int, limitedLeft, limitedRight bool) (int, int) {
	available := c.deadline - lcb - rcb
	used := int(math.Round((1 - c.c) * float64(available)))
	slack := used - available
	if slack < 0 {
		slack = -slack
	}

	level := c.levels[t.Index]
	var leftC float64
	if c.strategy == Single {
		if level.MaxRank > 0 {
			leftC = float64(level.Rank) / float64(level.MaxRank)
		}
	} else {
		leftC = float64(level.Rank) / float64(level.MaxRank+1)
	}

	lvb := int(math.Round(leftC * float64(slack)))
	rvb := slack - lvb
	if lcb == 0 || limitedLeft {
		lvb = 0
	}
	if rcb == 0 || limitedRight {
		rvb = 0
	}
	if c.deadline-(lcb+lvb)-(rcb+rvb) < t.Runtime {
		return 0, 0
	}
	return lvb, rvb
}

func (c *Calculator) leftConstant(t *graph.Task, s schedule.Schedule) (int, bool, error) {
	ef := c.earliestFinishes(s)
	if c.strategy != Single {
		var guard machine.Guard
		defer guard.Release()
		for _, a := range c.leftSet(t, s) {
			est := 0
			for _, p := range a.Predecessors {
				if ef[p] > est {
					est = ef[p]
				}
			}
			m, start, err := c.earliestFit(a, est)
			if err != nil {
				return 0, false, err
			}
			if err := guard.ScheduleTask(m, start, a.Runtime); err != nil {
				return 0, false, err
			}
			ef[a.Index] = start + a.Runtime
		}
	}

	lcb, limited := 0, false
	for _, p := range t.Predecessors {
		_, scheduled := s[c.g.TaskAt(p).ID]
		switch {
		case ef[p] > lcb:
			lcb, limited = ef[p], scheduled
		case ef[p] == lcb && scheduled:
			limited = true
		}
	}
	return lcb, limited && lcb > 0, nil
}

func (c *Calculator) rightConstant(t *graph.Task, s schedule.Schedule) (int, bool, error) {
	fromEnd := c.latestStartsFromEnd(s)
	if c.strategy != Single {
		var guard machine.Guard
		defer guard.Release()
		for _, d := range c.rightSet(t, s) {
			latestFinish := c.deadline
			for _, succ := range d.Successors {
				if ls := c.deadline - fromEnd[succ]; ls < latestFinish {
					latestFinish = ls
				}
			}
			m, start, err := c.latestFit(d, latestFinish)
			if err != nil {
				return 0, false, err
			}
			if err := guard.ScheduleTask(m, start, d.Runtime); err != nil {
				return 0, false, err
			}
			fromEnd[d.Index] = c.deadline - start
		}
	}

	rcb, limited := 0, false
	for _, succ := range t.Successors {
		_, scheduled := s[c.g.TaskAt(succ).ID]
		switch {
		case fromEnd[succ] > rcb:
			rcb, limited = fromEnd[succ], scheduled
		case fromEnd[succ] == rcb && scheduled:
			limited = true
		}
	}
	return rcb, limited && rcb > 0, nil
}

// earliestFinishes returns, per task, its actual finish when scheduled and
// otherwise its earliest finish with unlimited capacity.
func (c *Calculator) earliestFinishes(s schedule.Schedule) []int {
	ef := make([]int, c.g.TaskCount())
	for _, t := range c.order {
		if p, ok := s[t.ID]; ok {
			ef[t.Index] = p.Start + t.Runtime
			continue
		}
		est := 0
		for _, pred := range t.Predecessors {
			if ef[pred] > est {
				est = ef[pred]
			}
		}
		ef[t.Index] = est + t.Runtime
	}
	return ef
}

// latestStartsFromEnd mirrors earliestFinishes: the distance from the
// deadline back to the latest start of every task.
func (c *Calculator) latestStartsFromEnd(s schedule.Schedule) []int {
	fromEnd := make([]int, c.g.TaskCount())
	for k := len(c.order) - 1; k >= 0; k-- {
		t := c.order[k]
		if p, ok := s[t.ID]; ok {
			fromEnd[t.Index] = c.deadline - p.Start
			continue
		}
		tail := 0
		for _, succ := range t.Successors {
			if fromEnd[succ] > tail {
				tail = fromEnd[succ]
			}
		}
		fromEnd[t.Index] = tail + t.Runtime
	}
	return fromEnd
}

// earliestFit returns the machine and start of the earliest slot at or after
// est, first machine on ties.
func (c *Calculator) earliestFit(t *graph.Task, est int) (*machine.Machine, int, error) {
	m, start, ok := machine.EarliestFit(c.machines, t.Runtime, est, c.horizon)
	if !ok {
		return nil, 0, errors.Wrapf(schedule.ErrInfeasible, "estimating task %s: no slot after %d", t.ID, est)
	}
	return m, start, nil
}

// latestFit returns the machine and start of the latest slot finishing at or
// before latestFinish, first machine on ties.
func (c *Calculator) latestFit(t *graph.Task, latestFinish int) (*machine.Machine, int, error) {
	var (
		best  *machine.Machine
		start int
	)
	for _, m := range c.machines {
		intervals := m.SearchIntervals(t.Runtime, 0, latestFinish).All()
		if len(intervals) == 0 {
			continue
		}
		s := intervals[len(intervals)-1].End - t.Runtime
		if best == nil || s > start {
			best, start = m, s
		}
	}
	if best == nil {
		return nil, 0, errors.Wrapf(schedule.ErrInfeasible, "estimating task %s: no slot before %d", t.ID, latestFinish)
	}
	return best, start, nil
}

// leftSet returns the unscheduled tasks simulated before t, in simulation
// order.
func (c *Calculator) leftSet(t *graph.Task, s schedule.Schedule) []*graph.Task {
	rank := c.levels[t.Index].Rank
	var members map[int]bool
	switch c.strategy {
	case LPTFull:
		members = c.filter(s, func(u *graph.Task) bool { return c.levels[u.Index].Rank < rank })
	case LPTPath:
		members = c.withSiblings(c.closure(t, s, true), s)
	default:
		members = c.closure(t, s, true)
	}

	out := c.ordered(members)
	if c.strategy != Default {
		sort.SliceStable(out, func(a, b int) bool {
			ta, tb := out[a], out[b]
			ra, rb := c.levels[ta.Index].Rank, c.levels[tb.Index].Rank
			if ra != rb {
				return ra < rb
			}
			if c.bottom[ta.Index] != c.bottom[tb.Index] {
				return c.bottom[ta.Index] > c.bottom[tb.Index]
			}
			return ta.Runtime > tb.Runtime
		})
	}
	return out
}

// rightSet returns the unscheduled tasks simulated after t, in simulation
// order (descending rank).
func (c *Calculator) rightSet(t *graph.Task, s schedule.Schedule) []*graph.Task {
	rank := c.levels[t.Index].Rank
	var members map[int]bool
	switch c.strategy {
	case LPTFull:
		members = c.filter(s, func(u *graph.Task) bool { return c.levels[u.Index].Rank > rank })
	case LPTPath:
		members = c.withSiblings(c.closure(t, s, false), s)
	default:
		members = c.closure(t, s, false)
	}

	out := c.ordered(members)
	sort.SliceStable(out, func(a, b int) bool {
		ta, tb := out[a], out[b]
		ra, rb := c.levels[ta.Index].Rank, c.levels[tb.Index].Rank
		if ra != rb {
			return ra > rb
		}
		if c.strategy == Default {
			return false
		}
		if c.top[ta.Index] != c.top[tb.Index] {
			return c.top[ta.Index] > c.top[tb.Index]
		}
		return ta.Runtime > tb.Runtime
	})
	return out
}

// closure walks predecessors (or successors) of t and collects the
// unscheduled ones. Scheduled tasks stop the walk.
func (c *Calculator) closure(t *graph.Task, s schedule.Schedule, up bool) map[int]bool {
	members := make(map[int]bool)
	next := func(u *graph.Task) []int {
		if up {
			return u.Predecessors
		}
		return u.Successors
	}
	stack := append([]int(nil), next(t)...)
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if members[i] {
			continue
		}
		u := c.g.TaskAt(i)
		if _, ok := s[u.ID]; ok {
			continue
		}
		members[i] = true
		stack = append(stack, next(u)...)
	}
	return members
}

// withSiblings adds the unscheduled tasks sharing a rank with a member.
func (c *Calculator) withSiblings(members map[int]bool, s schedule.Schedule) map[int]bool {
	ranks := make(map[int]bool)
	for i := range members {
		ranks[c.levels[i].Rank] = true
	}
	for i := range c.filter(s, func(u *graph.Task) bool { return ranks[c.levels[u.Index].Rank] }) {
		members[i] = true
	}
	return members
}

func (c *Calculator) filter(s schedule.Schedule, keep func(*graph.Task) bool) map[int]bool {
	members := make(map[int]bool)
	for _, u := range c.g.Tasks() {
		if _, ok := s[u.ID]; !ok && keep(u) {
			members[u.Index] = true
		}
	}
	return members
}

// ordered returns the members in ascending rank, arena order within a rank.
func (c *Calculator) ordered(members map[int]bool) []*graph.Task {
	out := make([]*graph.Task, 0, len(members))
	for _, u := range c.order {
		if members[u.Index] {
			out = append(out, u)
		}
	}
	return out
}
