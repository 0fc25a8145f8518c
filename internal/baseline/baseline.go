// Package baseline implements the schedulers the energy-aware algorithm is
// compared against: an LPT list scheduler and the critical-path driven
// task-flow scheduler.
package baseline

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/marcelo-torres/green-scheduler-sub000/internal/boundary"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/cluster"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/cpm"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/graph"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/logging"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/machine"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/placement"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/schedule"
)

// LPT schedules g on copies of machines, ignoring energy. Tasks are visited
// by ascending rank, longest runtime first within a rank, and each one
// starts as early as precedence and capacity allow.
func LPT(g *graph.TaskGraph, machines []*machine.Machine) (schedule.Schedule, error) {
	if len(machines) == 0 {
		return nil, errors.New("lpt: no machines")
	}
	ranks, err := cpm.UpwardRank(g)
	if err != nil {
		return nil, err
	}

	tasks := append([]*graph.Task(nil), g.Tasks()...)
	sort.SliceStable(tasks, func(a, b int) bool {
		ta, tb := tasks[a], tasks[b]
		if ranks[ta.Index] != ranks[tb.Index] {
			return ranks[ta.Index] < ranks[tb.Index]
		}
		return ta.Runtime > tb.Runtime
	})

	work := make([]*machine.Machine, len(machines))
	horizon := 0
	for i, m := range machines {
		work[i] = m.Clone()
		for _, bp := range m.Breakpoints() {
			if bp.Time > horizon {
				horizon = bp.Time
			}
		}
	}
	for _, t := range tasks {
		horizon += t.Runtime
	}

	s := make(schedule.Schedule, len(tasks))
	for _, t := range tasks {
		est := 0
		for _, p := range t.Predecessors {
			if f, ok := s.Finish(g.TaskAt(p)); ok && f > est {
				est = f
			}
		}

		var (
			best  *machine.Machine
			start int
		)
		for _, m := range work {
			iv, ok := m.SearchIntervals(t.Runtime, est, est+horizon).Next()
			if ok && (best == nil || iv.Start < start) {
				best, start = m, iv.Start
			}
		}
		if best == nil {
			return nil, errors.Wrapf(schedule.ErrInfeasible, "lpt: no slot for task %s after %d", t.ID, est)
		}
		if err := best.ScheduleTask(start, t.Runtime); err != nil {
			return nil, err
		}
		s[t.ID] = schedule.Placement{Start: start, Machine: best.ID}
	}
	return s, nil
}

// LPTMakespan returns the makespan of the LPT schedule of g.
func LPTMakespan(g *graph.TaskGraph, machines []*machine.Machine) (int, error) {
	s, err := LPT(g, machines)
	if err != nil {
		return 0, err
	}
	return schedule.Makespan(s, g), nil
}

// TaskFlow pins the zero-slack tasks of g at their earliest start and places
// the remaining tasks by minimum brown energy inside the slack the pinned
// skeleton leaves. A deadline of zero or less means the critical path
// length. The machines of cl are modified in place.
func TaskFlow(ctx context.Context, g *graph.TaskGraph, cl *cluster.Cluster, deadline int, log logrus.FieldLogger) (schedule.Schedule, error) {
	log = logging.OrDiscard(log)
	res, err := cpm.Analyze(g)
	if err != nil {
		return nil, err
	}
	if deadline <= 0 {
		deadline = res.Length
		if res.TotalDuration > deadline {
			deadline = res.TotalDuration
		}
	}

	calc, err := boundary.NewCalculator(g, deadline, 0, boundary.Default, cl.Machines)
	if err != nil {
		return nil, err
	}
	plan := placement.NewPlan(cl.Machines, cl.Power)
	if err := plan.Completable(g, deadline); err != nil {
		if !errors.Is(err, schedule.ErrInfeasible) {
			return nil, err
		}
		log.WithError(err).Debug("No list schedule meets the deadline, placing without a completion")
	}

	var critical, rest []*graph.Task
	for _, i := range res.TopoOrder {
		t := g.TaskAt(i)
		if res.Tasks[i].Slack == 0 {
			critical = append(critical, t)
		} else {
			rest = append(rest, t)
		}
	}
	sort.SliceStable(critical, func(a, b int) bool {
		return res.Tasks[critical[a].Index].ES < res.Tasks[critical[b].Index].ES
	})
	sort.SliceStable(rest, func(a, b int) bool {
		return rest[a].Energy() > rest[b].Energy()
	})

	for _, t := range critical {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		es := res.Tasks[t.Index].ES
		if m := firstFree(cl.Machines, es, t.Runtime); m != nil && readyAt(g, plan.Schedule, t, es) {
			err := plan.Commit(t, m, es)
			if err == nil {
				log.WithFields(logrus.Fields{"task": t.ID, "start": es, "machine": m.ID}).Debug("Pinned critical task")
				continue
			}
			if !errors.Is(err, schedule.ErrInfeasible) {
				return nil, err
			}
		}
		if err := placeBounded(calc, plan, t, log); err != nil {
			return nil, err
		}
	}
	for _, t := range rest {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := placeBounded(calc, plan, t, log); err != nil {
			return nil, err
		}
	}
	return plan.Schedule, nil
}

func placeBounded(calc *boundary.Calculator, plan *placement.Plan, t *graph.Task, log logrus.FieldLogger) error {
	var c placement.Choice
	b, err := calc.Calculate(t, plan.Schedule, false)
	switch {
	case err == nil:
		lb, rb := b.Window(calc.Deadline(), t.Runtime)
		if c, err = plan.Place(t, lb, rb, placement.Earliest); err != nil {
			return err
		}
	case plan.Completion() != nil && errors.Is(err, schedule.ErrInfeasible):
		if c, err = plan.Fallback(t); err != nil {
			return err
		}
	default:
		return err
	}
	log.WithFields(logrus.Fields{"task": t.ID, "start": c.Start, "machine": c.Machine.ID, "brown": c.Brown}).Debug("Placed task")
	return nil
}

// readyAt reports whether every scheduled predecessor of t finishes by start.
func readyAt(g *graph.TaskGraph, s schedule.Schedule, t *graph.Task, start int) bool {
	for _, p := range t.Predecessors {
		if f, ok := s.Finish(g.TaskAt(p)); ok && f > start {
			return false
		}
	}
	return true
}

func firstFree(machines []*machine.Machine, start, runtime int) *machine.Machine {
	for _, m := range machines {
		if runtime == 0 || m.MinFreeCoresIn(start, start+runtime) >= machine.CoresPerTask {
			return m
		}
	}
	return nil
}
