package machine

import "github.com/pkg/errors"

type held struct {
	m       *Machine
	start   int
	runtime int
}

// Guard collects tentative task reservations and undoes all of them on
// Release. Call Release with defer right after creating the guard.
type Guard struct {
	held []held
}

// ScheduleTask reserves a task slot on m and remembers it for Release.
func (g *Guard) ScheduleTask(m *Machine, start, runtime int) error {
	if err := m.ScheduleTask(start, runtime); err != nil {
		return err
	}
	g.held = append(g.held, held{m: m, start: start, runtime: runtime})
	return nil
}

// Len returns the number of reservations currently held.
func (g *Guard) Len() int {
	return len(g.held)
}

// Release undoes every reservation in reverse order. A failing release means
// the machine state was modified behind the guard's back.
func (g *Guard) Release() {
	for i := len(g.held) - 1; i >= 0; i-- {
		h := g.held[i]
		if err := h.m.UnscheduleTask(h.start, h.runtime); err != nil {
			panic(errors.Wrap(err, "release tentative reservation"))
		}
	}
	g.held = nil
}
