// Package energy keeps the green/brown energy bookkeeping of a schedule.
//
// A Ledger merges two streams of step events on one timeline: green power
// levels from a PowerSeries, and the power of scheduled tasks (+power at
// start, -power at finish). Integrating between consecutive event times
// gives the brown energy drawn, the green energy wasted and the total
// energy consumed.
package energy

import (
	"math"

	"github.com/google/btree"
	"github.com/pkg/errors"

	"github.com/marcelo-torres/green-scheduler-sub000/internal/graph"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/schedule"
)

// requestedEpsilon absorbs rounding left by adding and removing task power.
const requestedEpsilon = 1e-9

type eventKind uint8

const (
	greenEvent eventKind = iota
	taskEvent
)

type event struct {
	Time   int
	Seq    uint64
	Kind   eventKind
	TaskID string
	Power  float64 // green: level; task: signed delta
}

func lessEvent(a, b event) bool {
	if a.Time != b.Time {
		return a.Time < b.Time
	}
	return a.Seq < b.Seq
}

// Usage is the energy balance of a schedule, in joules.
type Usage struct {
	Brown       float64 `json:"brown"`
	GreenUnused float64 `json:"green_unused"`
	Total       float64 `json:"total"`
}

// GreenUsed returns the part of the consumed energy covered by green power.
func (u Usage) GreenUsed() float64 {
	return u.Total - u.Brown
}

// Ledger is the event store of one scheduling run. It is not safe for
// concurrent use.
type Ledger struct {
	events *btree.BTreeG[event]
	tasks  map[string][2]event
	seq    uint64
}

// NewLedger returns a ledger holding the green power of series and no tasks.
func NewLedger(series PowerSeries) *Ledger {
	l := &Ledger{
		events: btree.NewG[event](16, lessEvent),
		tasks:  make(map[string][2]event),
	}
	for _, s := range series.Steps() {
		l.insert(event{Time: s.Time, Kind: greenEvent, Power: s.Power})
	}
	return l
}

// Clone returns an independent copy of the ledger.
func (l *Ledger) Clone() *Ledger {
	tasks := make(map[string][2]event, len(l.tasks))
	for id, pair := range l.tasks {
		tasks[id] = pair
	}
	return &Ledger{
		events: l.events.Clone(),
		tasks:  tasks,
		seq:    l.seq,
	}
}

// Has reports whether the task is recorded in the ledger.
func (l *Ledger) Has(taskID string) bool {
	_, ok := l.tasks[taskID]
	return ok
}

// AddScheduledTask records the power drawn by a task over [start, start+runtime).
func (l *Ledger) AddScheduledTask(taskID string, start, runtime int, power float64) error {
	if l.Has(taskID) {
		return errors.Errorf("task %q already in energy ledger", taskID)
	}
	begin := l.insert(event{Time: start, Kind: taskEvent, TaskID: taskID, Power: power})
	end := l.insert(event{Time: start + runtime, Kind: taskEvent, TaskID: taskID, Power: -power})
	l.tasks[taskID] = [2]event{begin, end}
	return nil
}

// RemoveScheduledTask deletes the two events of a task added earlier. Events
// are matched by task identity, never by power and time alone.
func (l *Ledger) RemoveScheduledTask(taskID string) error {
	pair, ok := l.tasks[taskID]
	if !ok {
		return errors.Errorf("task %q not in energy ledger", taskID)
	}
	l.events.Delete(pair[0])
	l.events.Delete(pair[1])
	delete(l.tasks, taskID)
	return nil
}

// Usage integrates the ledger over its whole timeline.
func (l *Ledger) Usage() Usage {
	var u Usage
	l.walk(func(from, to int, green, requested float64) {
		d := float64(to - from)
		u.Brown += d * math.Max(0, requested-green)
		u.GreenUnused += d * math.Max(0, green-requested)
		u.Total += d * requested
	}, nil)
	return u
}

// GreenPowerAvailable returns the residual green power curve: at every
// breakpoint, green supply minus requested power, floored at zero. Equal
// consecutive levels are collapsed.
func (l *Ledger) GreenPowerAvailable() []Step {
	var steps []Step
	l.walk(nil, func(t int, green, requested float64) {
		steps = appendStep(steps, Step{Time: t, Power: math.Max(0, green-requested)})
	})
	if len(steps) == 0 || steps[0].Time > 0 {
		steps = append([]Step{{Time: 0, Power: 0}}, steps...)
	}
	return steps
}

// RequestedPower returns the step curve of the power requested by tasks.
func (l *Ledger) RequestedPower() []Step {
	var steps []Step
	l.walk(nil, func(t int, _, requested float64) {
		steps = appendStep(steps, Step{Time: t, Power: requested})
	})
	return steps
}

// walk visits the timeline in order. span is called for every interval
// between consecutive distinct event times, level after all events of a time
// have been applied.
func (l *Ledger) walk(span func(from, to int, green, requested float64), level func(t int, green, requested float64)) {
	var (
		green, requested float64
		prev             int
		started          bool
	)
	flush := func() {
		if level != nil {
			level(prev, green, requested)
		}
	}
	l.events.Ascend(func(e event) bool {
		if !started || e.Time != prev {
			if started {
				flush()
				if span != nil {
					span(prev, e.Time, green, requested)
				}
			}
			prev, started = e.Time, true
		}
		switch e.Kind {
		case greenEvent:
			green = e.Power
		case taskEvent:
			requested += e.Power
			if math.Abs(requested) < requestedEpsilon {
				requested = 0
			}
		}
		return true
	})
	if started {
		flush()
	}
}

func (l *Ledger) insert(e event) event {
	l.seq++
	e.Seq = l.seq
	l.events.ReplaceOrInsert(e)
	return e
}

// Evaluate rebuilds a ledger from scratch for a complete schedule and returns
// its energy balance.
func Evaluate(s schedule.Schedule, g *graph.TaskGraph, series PowerSeries) (Usage, error) {
	l := NewLedger(series)
	for _, t := range g.Tasks() {
		p, ok := s[t.ID]
		if !ok {
			return Usage{}, errors.Errorf("task %q is not scheduled", t.ID)
		}
		if err := l.AddScheduledTask(t.ID, p.Start, t.Runtime, t.Power); err != nil {
			return Usage{}, err
		}
	}
	return l.Usage(), nil
}
