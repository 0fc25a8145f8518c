package placement

import (
	"github.com/pkg/errors"

	"github.com/marcelo-torres/green-scheduler-sub000/internal/cpm"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/graph"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/machine"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/schedule"
)

// Completion places every task not yet committed to a plan so that, together
// with the committed ones, precedence, capacity and the deadline all hold.
// A plan that keeps a completion can always be finished: a commit is only
// accepted when a new completion of the remaining tasks is found, and each
// task's own slot is a commit that needs no new one.
type Completion struct {
	g        *graph.TaskGraph
	order    []*graph.Task
	deadline int
	slots    schedule.Schedule
}

func newCompletion(g *graph.TaskGraph, deadline int) (*Completion, error) {
	order, err := cpm.SortTopologically(g, false)
	if err != nil {
		return nil, err
	}
	return &Completion{g: g, order: order, deadline: deadline}, nil
}

// Slot returns where the completion runs t.
func (c *Completion) Slot(t *graph.Task) (schedule.Placement, bool) {
	pl, ok := c.slots[t.ID]
	return pl, ok
}

func (c *Completion) clone() *Completion {
	out := *c
	out.slots = c.slots.Clone()
	return &out
}

// fit returns the completion of the uncommitted tasks of p once t runs on m
// from start. Candidates equal to t's slot keep the current completion.
func (c *Completion) fit(p *Plan, t *graph.Task, m *machine.Machine, start int) (schedule.Schedule, error) {
	if pl, ok := c.slots[t.ID]; ok && pl.Start == start && pl.Machine == m.ID {
		rest := c.slots.Clone()
		delete(rest, t.ID)
		return rest, nil
	}
	return c.list(p, t, m, start)
}

// list schedules the uncommitted tasks of p, except t when given, at their
// earliest slot in topological order. Every reservation is undone before
// returning.
func (c *Completion) list(p *Plan, t *graph.Task, m *machine.Machine, start int) (schedule.Schedule, error) {
	var guard machine.Guard
	defer guard.Release()

	placed := func(u *graph.Task) (schedule.Placement, bool) {
		if t != nil && u.Index == t.Index {
			return schedule.Placement{Start: start, Machine: m.ID}, true
		}
		pl, ok := p.Schedule[u.ID]
		return pl, ok
	}
	if t != nil {
		if err := c.ordered(p, t, start); err != nil {
			return nil, err
		}
		if err := guard.ScheduleTask(m, start, t.Runtime); err != nil {
			return nil, err
		}
	}

	finish := make([]int, c.g.TaskCount())
	slots := make(schedule.Schedule)
	for _, u := range c.order {
		if pl, ok := placed(u); ok {
			finish[u.Index] = pl.Start + u.Runtime
			continue
		}
		est := 0
		for _, pred := range u.Predecessors {
			if finish[pred] > est {
				est = finish[pred]
			}
		}
		latest := c.deadline
		for _, succ := range u.Successors {
			if pl, ok := placed(c.g.TaskAt(succ)); ok && pl.Start < latest {
				latest = pl.Start
			}
		}

		um, s, ok := machine.EarliestFit(p.machines, u.Runtime, est, latest)
		if !ok {
			return nil, errors.Wrapf(schedule.ErrInfeasible, "task %s does not fit within [%d, %d]", u.ID, est, latest)
		}
		if err := guard.ScheduleTask(um, s, u.Runtime); err != nil {
			return nil, err
		}
		finish[u.Index] = s + u.Runtime
		slots[u.ID] = schedule.Placement{Start: s, Machine: um.ID}
	}
	return slots, nil
}

// ordered checks t starting at start against its committed neighbours and
// the deadline.
func (c *Completion) ordered(p *Plan, t *graph.Task, start int) error {
	end := start + t.Runtime
	if end > c.deadline {
		return errors.Wrapf(schedule.ErrInfeasible, "task %s finishes at %d after deadline %d", t.ID, end, c.deadline)
	}
	for _, pred := range t.Predecessors {
		if f, ok := p.Schedule.Finish(c.g.TaskAt(pred)); ok && f > start {
			return errors.Wrapf(schedule.ErrInfeasible, "task %s starts at %d before a predecessor finishes at %d", t.ID, start, f)
		}
	}
	for _, succ := range t.Successors {
		if pl, ok := p.Schedule[c.g.TaskAt(succ).ID]; ok && pl.Start < end {
			return errors.Wrapf(schedule.ErrInfeasible, "task %s finishes at %d after a successor starts at %d", t.ID, end, pl.Start)
		}
	}
	return nil
}
