package placement

import (
	"github.com/pkg/errors"

	"github.com/marcelo-torres/green-scheduler-sub000/internal/energy"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/graph"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/machine"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/schedule"
)

// Plan is the mutable state of one scheduling run: the partial schedule,
// the machine reservations behind it and the energy ledger. Commit and
// Uncommit keep the three in step.
type Plan struct {
	Schedule schedule.Schedule
	Ledger   *energy.Ledger

	machines []*machine.Machine
	byID     map[string]*machine.Machine
	done     *Completion
}

// NewPlan returns an empty plan over the given machines. The machines are
// used, and modified, in place.
func NewPlan(machines []*machine.Machine, series energy.PowerSeries) *Plan {
	p := &Plan{
		Schedule: make(schedule.Schedule),
		Ledger:   energy.NewLedger(series),
		machines: machines,
		byID:     make(map[string]*machine.Machine, len(machines)),
	}
	for _, m := range machines {
		p.byID[m.ID] = m
	}
	return p
}

// Machines returns the machines of the plan in search order.
func (p *Plan) Machines() []*machine.Machine {
	return p.machines
}

// Completable makes the plan keep a completion of the tasks of g not yet
// committed, finishing by deadline. From then on a commit is refused when
// the remaining tasks no longer fit. It fails with ErrInfeasible when the
// list schedule of those tasks misses the deadline, and the plan is then
// left as it was.
func (p *Plan) Completable(g *graph.TaskGraph, deadline int) error {
	c, err := newCompletion(g, deadline)
	if err != nil {
		return err
	}
	slots, err := c.list(p, nil, nil, 0)
	if err != nil {
		return err
	}
	c.slots = slots
	p.done = c
	return nil
}

// Completion returns the completion kept by the plan, or nil.
func (p *Plan) Completion() *Completion {
	return p.done
}

// Place commits t at the cheapest slot with a start in [lb, rb] that leaves
// the remaining tasks a completion. When no such slot exists t goes to its
// own slot in the completion.
func (p *Plan) Place(t *graph.Task, lb, rb int, tie Tie) (Choice, error) {
	choices, err := Candidates(p.machines, t, lb, rb, p.Ledger.GreenPowerAvailable(), tie)
	if err != nil && (p.done == nil || !errors.Is(err, schedule.ErrInfeasible)) {
		return Choice{}, err
	}
	for _, c := range choices {
		err := p.Commit(t, c.Machine, c.Start)
		if err == nil {
			return c, nil
		}
		if p.done == nil || !errors.Is(err, schedule.ErrInfeasible) {
			return Choice{}, err
		}
	}
	return p.Fallback(t)
}

// Fallback commits t at its slot in the completion, whatever its window.
func (p *Plan) Fallback(t *graph.Task) (Choice, error) {
	if p.done == nil {
		return Choice{}, errors.Wrapf(schedule.ErrInfeasible, "task %s: plan keeps no completion", t.ID)
	}
	pl, ok := p.done.Slot(t)
	if !ok {
		return Choice{}, errors.Errorf("task %s has no slot in the completion", t.ID)
	}
	m, ok := p.byID[pl.Machine]
	if !ok {
		return Choice{}, errors.Errorf("task %s completed on unknown machine %s", t.ID, pl.Machine)
	}
	_, brown, err := MinBrownEnergy(t.Runtime, t.Power, pl.Start, pl.Start, p.Ledger.GreenPowerAvailable(), Earliest)
	if err != nil {
		return Choice{}, err
	}
	if err := p.Commit(t, m, pl.Start); err != nil {
		return Choice{}, err
	}
	return Choice{Machine: m, Start: pl.Start, Brown: brown, Fallback: true}, nil
}

// Commit records t as running on m from start. Nothing changes on error.
func (p *Plan) Commit(t *graph.Task, m *machine.Machine, start int) error {
	if _, ok := p.Schedule[t.ID]; ok {
		return errors.Errorf("task %s already scheduled", t.ID)
	}
	var rest schedule.Schedule
	if p.done != nil {
		var err error
		if rest, err = p.done.fit(p, t, m, start); err != nil {
			return errors.Wrapf(err, "task %s at %d on %s leaves no completion", t.ID, start, m.ID)
		}
	}
	if err := m.ScheduleTask(start, t.Runtime); err != nil {
		return err
	}
	if err := p.Ledger.AddScheduledTask(t.ID, start, t.Runtime, t.Power); err != nil {
		if rerr := m.UnscheduleTask(start, t.Runtime); rerr != nil {
			return errors.Wrap(rerr, err.Error())
		}
		return err
	}
	p.Schedule[t.ID] = schedule.Placement{Start: start, Machine: m.ID}
	if p.done != nil {
		p.done.slots = rest
	}
	return nil
}

// Uncommit removes t from the plan and returns where it was.
func (p *Plan) Uncommit(t *graph.Task) (schedule.Placement, error) {
	pl, ok := p.Schedule[t.ID]
	if !ok {
		return schedule.Placement{}, errors.Errorf("task %s is not scheduled", t.ID)
	}
	m, ok := p.byID[pl.Machine]
	if !ok {
		return schedule.Placement{}, errors.Errorf("task %s placed on unknown machine %s", t.ID, pl.Machine)
	}
	if err := m.UnscheduleTask(pl.Start, t.Runtime); err != nil {
		return schedule.Placement{}, err
	}
	if err := p.Ledger.RemoveScheduledTask(t.ID); err != nil {
		return schedule.Placement{}, err
	}
	delete(p.Schedule, t.ID)
	if p.done != nil {
		p.done.slots[t.ID] = pl
	}
	return pl, nil
}

// Brown returns the brown energy of the tasks committed so far.
func (p *Plan) Brown() float64 {
	return p.Ledger.Usage().Brown
}

// Snapshot is a frozen copy of a plan.
type Snapshot struct {
	schedule schedule.Schedule
	ledger   *energy.Ledger
	machines []*machine.Machine
	done     *Completion
}

// Snapshot copies the current state of the plan.
func (p *Plan) Snapshot() *Snapshot {
	s := &Snapshot{
		schedule: p.Schedule.Clone(),
		ledger:   p.Ledger.Clone(),
		machines: make([]*machine.Machine, len(p.machines)),
	}
	for i, m := range p.machines {
		s.machines[i] = m.Clone()
	}
	if p.done != nil {
		s.done = p.done.clone()
	}
	return s
}

// Restore puts the plan back to the snapshot. The plan keeps its machine
// objects so that anything holding them sees the restored state.
func (p *Plan) Restore(s *Snapshot) {
	p.Schedule = s.schedule.Clone()
	p.Ledger = s.ledger.Clone()
	p.done = nil
	if s.done != nil {
		p.done = s.done.clone()
	}
	for i, m := range p.machines {
		m.Restore(s.machines[i])
	}
}
