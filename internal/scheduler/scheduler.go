// Package scheduler places the tasks of a DAG on a cluster so that as much
// of their energy as possible comes from green power, without missing the
// deadline.
//
// Tasks are placed one at a time, heaviest first. Each task gets a start
// window from the boundary calculator and the start (and machine) inside it
// that draws the least brown energy against what is left of the green power
// curve. A slot is only taken when the tasks still unplaced can be list
// scheduled around it by the deadline; when no slot in the window allows
// that, the task takes its place in the list schedule. An optional shift
// pass then re-places every task with only the hard precedence boundaries,
// keeping the result only when brown energy drops.
package scheduler

import (
	"context"
	"math"
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/marcelo-torres/green-scheduler-sub000/internal/baseline"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/boundary"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/cluster"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/cpm"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/energy"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/graph"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/logging"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/machine"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/placement"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/schedule"
)

// Result is the outcome of one scheduling run.
type Result struct {
	Schedule schedule.Schedule
	Deadline int
	Makespan int
	Usage    energy.Usage

	// BrownBeforeShift is the brown energy right after placement. With no
	// shift pass it equals Usage.Brown.
	BrownBeforeShift float64
	// ShiftKept is set when a shift pass ran and improved the schedule.
	ShiftKept bool

	// Machines hold the reservations of the final schedule. They belong to a
	// private copy of the cluster.
	Machines []*machine.Machine
}

// Schedule runs the bounded boundary search on a private copy of cl. The
// context is checked between task placements.
func Schedule(ctx context.Context, g *graph.TaskGraph, cl *cluster.Cluster, opts Options) (*Result, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	log := logging.OrDiscard(opts.Logger)

	deadline, err := ResolveDeadline(g, cl, opts)
	if err != nil {
		return nil, err
	}

	work := cl.Clone()
	calc, err := boundary.NewCalculator(g, deadline, opts.C, opts.BoundaryStrategy, work.Machines)
	if err != nil {
		return nil, err
	}
	r := &run{
		g:    g,
		calc: calc,
		plan: placement.NewPlan(work.Machines, work.Power),
		log:  log,
	}
	if err := r.plan.Completable(g, deadline); err != nil {
		if !errors.Is(err, schedule.ErrInfeasible) {
			return nil, err
		}
		log.WithError(err).Debug("No list schedule meets the deadline, placing without a completion")
	}

	log.WithFields(logrus.Fields{
		"tasks":    g.TaskCount(),
		"deadline": deadline,
		"c":        opts.C,
		"sort":     opts.TaskSort.String(),
		"strategy": opts.BoundaryStrategy.String(),
		"shift":    opts.ShiftMode.String(),
	}).Debug("Scheduling workflow")

	for _, t := range sortTasks(g, opts.TaskSort) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := r.place(t, false, placement.Earliest); err != nil {
			return nil, err
		}
	}

	res := &Result{Deadline: deadline}
	res.BrownBeforeShift = r.plan.Brown()
	if opts.ShiftMode != ShiftNone {
		kept, err := r.shift(ctx, opts.ShiftMode)
		if err != nil {
			return nil, err
		}
		res.ShiftKept = kept
	}

	res.Schedule = r.plan.Schedule
	res.Usage = r.plan.Ledger.Usage()
	res.Makespan = schedule.Makespan(res.Schedule, g)
	res.Machines = work.Machines
	return res, nil
}

// ResolveDeadline returns the deadline of opts, or derives one from the
// critical path length or the LPT makespan of g on cl.
func ResolveDeadline(g *graph.TaskGraph, cl *cluster.Cluster, opts Options) (int, error) {
	if d, err := opts.Deadline.Get(); err == nil {
		return d, nil
	}
	factor := opts.DeadlineFactor
	if factor == 0 {
		factor = DefaultDeadlineFactor
	}

	var (
		base int
		err  error
	)
	switch opts.DeadlineBase {
	case BaseLPT:
		base, err = baseline.LPTMakespan(g, cl.Machines)
	default:
		base, err = cpm.CriticalPathLength(g)
	}
	if err != nil {
		return 0, errors.Wrapf(err, "derive deadline from %s", opts.DeadlineBase)
	}
	return int(math.Ceil(factor * float64(base))), nil
}

type run struct {
	g    *graph.TaskGraph
	calc *boundary.Calculator
	plan *placement.Plan
	log  logrus.FieldLogger
}

func (r *run) place(t *graph.Task, ignoreVariable bool, tie placement.Tie) error {
	b, err := r.calc.Calculate(t, r.plan.Schedule, ignoreVariable)
	if err != nil {
		if r.plan.Completion() == nil || !errors.Is(err, schedule.ErrInfeasible) {
			return errors.Wrapf(err, "boundaries of task %s", t.ID)
		}
		// The estimate is pessimistic; the completion already holds a slot.
		c, ferr := r.plan.Fallback(t)
		if ferr != nil {
			return errors.Wrapf(ferr, "place task %s", t.ID)
		}
		r.log.WithError(err).WithFields(logrus.Fields{
			"task":    t.ID,
			"start":   c.Start,
			"machine": c.Machine.ID,
		}).Debug("Placed task at its completion slot")
		return nil
	}
	lb, rb := b.Window(r.calc.Deadline(), t.Runtime)
	c, err := r.plan.Place(t, lb, rb, tie)
	if err != nil {
		return errors.Wrapf(err, "place task %s in [%d, %d]", t.ID, lb, rb)
	}
	r.log.WithFields(logrus.Fields{
		"task":     t.ID,
		"start":    c.Start,
		"machine":  c.Machine.ID,
		"brown":    c.Brown,
		"lcb":      b.LCB,
		"lvb":      b.LVB,
		"rcb":      b.RCB,
		"rvb":      b.RVB,
		"fallback": c.Fallback,
	}).Debug("Placed task")
	return nil
}

// shift runs the shift passes of mode and rolls them back unless brown
// energy strictly dropped. It reports whether the shifted schedule was kept.
func (r *run) shift(ctx context.Context, mode ShiftMode) (bool, error) {
	before := r.plan.Brown()
	snap := r.plan.Snapshot()

	if mode == ShiftRightLeft {
		if err := r.shiftPass(ctx, placement.Latest); err != nil {
			return false, err
		}
	}
	if err := r.shiftPass(ctx, placement.Earliest); err != nil {
		return false, err
	}

	after := r.plan.Brown()
	fields := logrus.Fields{"mode": mode.String(), "before": before, "after": after}
	if after < before-1e-9*math.Max(1, before) {
		r.log.WithFields(fields).Info("Shift pass kept")
		return true, nil
	}
	r.plan.Restore(snap)
	r.log.WithFields(fields).Info("Shift pass rolled back")
	return false, nil
}

// shiftPass re-places every task within its constant boundaries. A pass
// toward the left visits tasks by ascending start, a pass toward the right by
// descending start.
func (r *run) shiftPass(ctx context.Context, tie placement.Tie) error {
	tasks := append([]*graph.Task(nil), r.g.Tasks()...)
	starts := r.plan.Schedule
	sort.SliceStable(tasks, func(a, b int) bool {
		sa, sb := starts[tasks[a].ID].Start, starts[tasks[b].ID].Start
		if tie == placement.Latest {
			return sa > sb
		}
		return sa < sb
	})

	for _, t := range tasks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := r.plan.Uncommit(t); err != nil {
			return err
		}
		if err := r.place(t, true, tie); err != nil {
			return err
		}
	}
	return nil
}

// sortTasks orders tasks by descending key, or ascending runtime for
// SortRuntimeAscending. Ties keep arena order.
func sortTasks(g *graph.TaskGraph, by TaskSort) []*graph.Task {
	tasks := append([]*graph.Task(nil), g.Tasks()...)
	key := func(t *graph.Task) float64 {
		switch by {
		case SortPower:
			return t.Power
		case SortRuntime:
			return float64(t.Runtime)
		case SortRuntimeAscending:
			return -float64(t.Runtime)
		default:
			return t.Energy()
		}
	}
	sort.SliceStable(tasks, func(a, b int) bool {
		return key(tasks[a]) > key(tasks[b])
	})
	return tasks
}
