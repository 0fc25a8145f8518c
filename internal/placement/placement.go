// Package placement finds the start time, and machine, at which a task
// consumes the least brown energy given the residual green power curve.
//
// The brown energy of a task started at s is the integral of
// max(0, power - green(t)) over [s, s+runtime). Against a step curve this is
// piecewise linear in s, with kinks only where s or s+runtime crosses a
// breakpoint of the curve. Evaluating those starts, plus both window edges,
// is therefore enough to find the minimum.
package placement

import (
	"math"
	"sort"

	"github.com/pkg/errors"

	"github.com/marcelo-torres/green-scheduler-sub000/internal/energy"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/graph"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/machine"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/schedule"
)

// Tie selects which start wins among placements with equal brown energy.
type Tie int

const (
	Earliest Tie = iota
	Latest
)

const relEpsilon = 1e-9

// Choice is a placement candidate.
type Choice struct {
	Machine *machine.Machine
	Start   int
	Brown   float64

	// Fallback is set when no slot in the window kept the plan completable
	// and the task went to its slot in the completion instead.
	Fallback bool
}

// MinBrownEnergy returns the start in [lb, rb] minimizing the brown energy of
// a task of the given runtime and power, and that energy.
func MinBrownEnergy(runtime int, power float64, lb, rb int, avail []energy.Step, tie Tie) (int, float64, error) {
	if rb < lb {
		return 0, 0, errors.Wrapf(schedule.ErrInfeasible, "empty start window [%d, %d]", lb, rb)
	}
	if power == 0 || runtime == 0 {
		if tie == Latest {
			return rb, 0, nil
		}
		return lb, 0, nil
	}

	d := newDeficit(power, avail)
	best, bestBrown := lb, math.Inf(1)
	for _, s := range d.candidates(lb, rb, runtime) {
		brown := d.integral(s+runtime) - d.integral(s)
		if better(brown, bestBrown, s, best, tie) {
			best, bestBrown = s, brown
		}
	}
	return best, bestBrown, nil
}

// Best searches every machine for the free interval and start within
// [lb, rb] that minimizes the brown energy of the task. Ties on energy go to
// the earliest (or latest) start, then to the first machine.
func Best(machines []*machine.Machine, task *graph.Task, lb, rb int, avail []energy.Step, tie Tie) (Choice, error) {
	choices, err := Candidates(machines, task, lb, rb, avail, tie)
	if err != nil {
		return Choice{}, err
	}
	return choices[0], nil
}

// Candidates returns the cheapest start of every free interval of every
// machine within [lb, rb], best first. Callers that must reject a choice
// move on to the next one.
func Candidates(machines []*machine.Machine, task *graph.Task, lb, rb int, avail []energy.Step, tie Tie) ([]Choice, error) {
	var choices []Choice
	for _, m := range machines {
		it := m.SearchIntervals(task.Runtime, lb, rb+task.Runtime)
		for iv, ok := it.Next(); ok; iv, ok = it.Next() {
			wlb := maxInt(lb, iv.Start)
			wrb := minInt(rb, iv.End-task.Runtime)
			if wlb > wrb {
				continue
			}
			start, brown, err := MinBrownEnergy(task.Runtime, task.Power, wlb, wrb, avail, tie)
			if err != nil {
				return nil, err
			}
			choices = append(choices, Choice{Machine: m, Start: start, Brown: brown})
		}
	}
	if len(choices) == 0 {
		return nil, errors.Wrapf(schedule.ErrInfeasible,
			"task %s: no machine has %ds free within [%d, %d]", task.ID, task.Runtime, lb, rb+task.Runtime)
	}
	// Stable keeps machine order among equal choices.
	sort.SliceStable(choices, func(a, b int) bool {
		return better(choices[a].Brown, choices[b].Brown, choices[a].Start, choices[b].Start, tie)
	})
	return choices, nil
}

func better(brown, bestBrown float64, start, bestStart int, tie Tie) bool {
	eps := relEpsilon * math.Max(1, math.Abs(bestBrown))
	if math.IsInf(bestBrown, 1) {
		return true
	}
	if brown < bestBrown-eps {
		return true
	}
	if brown > bestBrown+eps {
		return false
	}
	if tie == Latest {
		return start > bestStart
	}
	return start < bestStart
}

// deficit is the prefix integral of max(0, power - avail(t)) from time 0.
type deficit struct {
	power float64
	times []int
	rates []float64
	cum   []float64
}

func newDeficit(power float64, avail []energy.Step) *deficit {
	d := &deficit{power: power}
	if len(avail) == 0 || avail[0].Time > 0 {
		d.times = append(d.times, 0)
		d.rates = append(d.rates, power)
	}
	for _, s := range avail {
		d.times = append(d.times, s.Time)
		d.rates = append(d.rates, math.Max(0, power-s.Power))
	}
	d.cum = make([]float64, len(d.times))
	for i := 1; i < len(d.times); i++ {
		d.cum[i] = d.cum[i-1] + d.rates[i-1]*float64(d.times[i]-d.times[i-1])
	}
	return d
}

func (d *deficit) integral(x int) float64 {
	i := sort.Search(len(d.times), func(i int) bool { return d.times[i] > x }) - 1
	if i < 0 {
		return -d.power * float64(d.times[0]-x)
	}
	return d.cum[i] + d.rates[i]*float64(x-d.times[i])
}

// candidates returns, in ascending order, the window edges and every start
// at which the task begins or ends on a breakpoint.
func (d *deficit) candidates(lb, rb, runtime int) []int {
	seen := map[int]bool{lb: true, rb: true}
	out := []int{lb}
	if rb != lb {
		out = append(out, rb)
	}
	for _, t := range d.times {
		for _, s := range [2]int{t, t - runtime} {
			if s > lb && s < rb && !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	sort.Ints(out)
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
