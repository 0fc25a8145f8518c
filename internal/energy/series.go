package energy

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// PowerSeries is a green power supply given as values held constant for
// Interval seconds each, starting at time 0. Supply is zero after the last
// interval.
type PowerSeries struct {
	Interval int       `yaml:"interval" json:"interval"`
	Values   []float64 `yaml:"values" json:"values"`
}

// Validate checks that the series is usable.
func (s PowerSeries) Validate() error {
	if len(s.Values) > 0 && s.Interval <= 0 {
		return errors.Errorf("power series interval must be positive, got %d", s.Interval)
	}
	for i, v := range s.Values {
		if v < 0 {
			return errors.Errorf("power series value %d is negative (%g)", i, v)
		}
	}
	return nil
}

// End returns the time at which the series stops supplying power.
func (s PowerSeries) End() int {
	return len(s.Values) * s.Interval
}

// At returns the green power at time t.
func (s PowerSeries) At(t int) float64 {
	if t < 0 || s.Interval <= 0 {
		return 0
	}
	i := t / s.Interval
	if i >= len(s.Values) {
		return 0
	}
	return s.Values[i]
}

// TotalEnergy returns the energy the series supplies over its whole span.
func (s PowerSeries) TotalEnergy() float64 {
	return floats.Sum(s.Values) * float64(s.Interval)
}

// Steps returns the series as a collapsed step curve ending with a zero step.
func (s PowerSeries) Steps() []Step {
	var steps []Step
	for i, v := range s.Values {
		steps = appendStep(steps, Step{Time: i * s.Interval, Power: v})
	}
	return appendStep(steps, Step{Time: s.End(), Power: 0})
}

// Step is a power level holding from Time until the next step.
type Step struct {
	Time  int
	Power float64
}

func appendStep(steps []Step, s Step) []Step {
	if n := len(steps); n > 0 {
		if steps[n-1].Power == s.Power {
			return steps
		}
		if steps[n-1].Time == s.Time {
			steps[n-1] = s
			return collapseTail(steps)
		}
	}
	return append(steps, s)
}

func collapseTail(steps []Step) []Step {
	if n := len(steps); n > 1 && steps[n-1].Power == steps[n-2].Power {
		return steps[:n-1]
	}
	return steps
}

// PowerAt returns the level of a step curve at time t, zero before the first
// step.
func PowerAt(steps []Step, t int) float64 {
	p := 0.0
	for _, s := range steps {
		if s.Time > t {
			break
		}
		p = s.Power
	}
	return p
}
