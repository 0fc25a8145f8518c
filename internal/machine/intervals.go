package machine

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start int
	End   int
}

// Len returns the length of the interval.
func (iv Interval) Len() int {
	return iv.End - iv.Start
}

// IntervalIter lazily walks the maximal sub-intervals of [lb, ub) where at
// least CoresPerTask cores stay free and that are long enough for a task.
type IntervalIter struct {
	m       *Machine
	runtime int
	lb, ub  int

	cur  int
	done bool
}

// SearchIntervals returns an iterator over the free intervals within
// [lb, ub) that can hold a task of the given runtime, in time order.
// A zero-runtime task needs no core and fits anywhere in the range.
func (m *Machine) SearchIntervals(runtime, lb, ub int) *IntervalIter {
	it := &IntervalIter{m: m, runtime: runtime, lb: lb, ub: ub}
	it.Reset()
	return it
}

// Reset restarts the iteration from the lower bound.
func (it *IntervalIter) Reset() {
	it.cur = it.lb
	it.done = it.lb > it.ub
}

// Next returns the next interval, or false when none is left.
func (it *IntervalIter) Next() (Interval, bool) {
	if it.done {
		return Interval{}, false
	}
	if it.runtime == 0 {
		it.done = true
		return Interval{Start: it.lb, End: it.ub}, true
	}

	for it.cur < it.ub {
		if it.m.FreeCoresAt(it.cur) < CoresPerTask {
			next, ok := it.m.NextEvent(it.cur)
			if !ok || next >= it.ub {
				break
			}
			it.cur = next
			continue
		}

		start := it.cur
		end := it.ub
		t := it.cur
		for {
			next, ok := it.m.NextEvent(t)
			if !ok || next >= it.ub {
				break
			}
			if it.m.FreeCoresAt(next) < CoresPerTask {
				end = next
				break
			}
			t = next
		}
		it.cur = end

		if end-start >= it.runtime {
			return Interval{Start: start, End: end}, true
		}
	}

	it.done = true
	return Interval{}, false
}

// All drains the iterator.
func (it *IntervalIter) All() []Interval {
	var out []Interval
	for iv, ok := it.Next(); ok; iv, ok = it.Next() {
		out = append(out, iv)
	}
	return out
}

// EarliestFit returns the machine and start of the earliest slot for a task
// of the given runtime within [lb, ub), first machine on ties.
func EarliestFit(machines []*Machine, runtime, lb, ub int) (*Machine, int, bool) {
	var (
		best  *Machine
		start int
	)
	for _, m := range machines {
		iv, ok := m.SearchIntervals(runtime, lb, ub).Next()
		if ok && (best == nil || iv.Start < start) {
			best, start = m, iv.Start
		}
	}
	return best, start, best != nil
}
