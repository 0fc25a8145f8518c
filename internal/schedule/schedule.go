// Package schedule holds the output of the schedulers and the read-only
// metrics and checks computed from it.
package schedule

import (
	"sort"

	"github.com/marcelo-torres/green-scheduler-sub000/internal/graph"
)

// Placement is where and when a task runs.
type Placement struct {
	Start   int    `json:"start"`
	Machine string `json:"machine"`
}

// Schedule maps task id to its placement.
type Schedule map[string]Placement

// Clone returns a copy of the schedule.
func (s Schedule) Clone() Schedule {
	out := make(Schedule, len(s))
	for id, p := range s {
		out[id] = p
	}
	return out
}

// Finish returns the finish time of a scheduled task.
func (s Schedule) Finish(t *graph.Task) (int, bool) {
	p, ok := s[t.ID]
	if !ok {
		return 0, false
	}
	return p.Start + t.Runtime, true
}

// Makespan returns the latest finish time over all scheduled tasks.
func Makespan(s Schedule, g *graph.TaskGraph) int {
	makespan := 0
	for _, t := range g.Tasks() {
		if f, ok := s.Finish(t); ok && f > makespan {
			makespan = f
		}
	}
	return makespan
}

// Violation describes a scheduling constraint broken by a schedule.
type Violation struct {
	Kind        string `json:"kind"` // "precedence", "unscheduled" or "capacity"
	TaskID      string `json:"task_id"`
	Predecessor string `json:"predecessor,omitempty"`
	Machine     string `json:"machine,omitempty"`
	Time        int    `json:"time"`
	Detail      int    `json:"detail"` // predecessor finish, or tasks running at Time
}

// Check returns every precedence violation of the schedule: a task starting
// before one of its predecessors finishes, or a task missing from the
// schedule. An empty result means the schedule respects the graph.
func Check(s Schedule, g *graph.TaskGraph) []Violation {
	var violations []Violation
	for _, t := range g.Tasks() {
		p, ok := s[t.ID]
		if !ok {
			violations = append(violations, Violation{Kind: "unscheduled", TaskID: t.ID})
			continue
		}
		for _, pi := range t.Predecessors {
			pred := g.TaskAt(pi)
			finish, ok := s.Finish(pred)
			if !ok {
				continue
			}
			if p.Start < finish {
				violations = append(violations, Violation{
					Kind:        "precedence",
					TaskID:      t.ID,
					Predecessor: pred.ID,
					Time:        p.Start,
					Detail:      finish,
				})
			}
		}
	}
	return violations
}

// CheckCapacity reports every time a machine runs more tasks than it has
// cores. cores maps machine id to core count.
func CheckCapacity(s Schedule, g *graph.TaskGraph, cores map[string]int) []Violation {
	type edge struct {
		time  int
		delta int
	}
	perMachine := make(map[string][]edge)
	for _, t := range g.Tasks() {
		p, ok := s[t.ID]
		if !ok || t.Runtime == 0 {
			continue
		}
		perMachine[p.Machine] = append(perMachine[p.Machine],
			edge{p.Start, 1}, edge{p.Start + t.Runtime, -1})
	}

	machines := make([]string, 0, len(perMachine))
	for id := range perMachine {
		machines = append(machines, id)
	}
	sort.Strings(machines)

	var violations []Violation
	for _, id := range machines {
		edges := perMachine[id]
		// Finishes before starts at equal times: [start, finish) intervals
		sort.Slice(edges, func(a, b int) bool {
			if edges[a].time != edges[b].time {
				return edges[a].time < edges[b].time
			}
			return edges[a].delta < edges[b].delta
		})
		running := 0
		for i, e := range edges {
			running += e.delta
			last := i == len(edges)-1 || edges[i+1].time != e.time
			if last && running > cores[id] {
				violations = append(violations, Violation{
					Kind:    "capacity",
					Machine: id,
					Time:    e.time,
					Detail:  running,
				})
			}
		}
	}
	return violations
}
