package graph

import (
	"sort"

	"github.com/pkg/errors"
)

// StartTaskID is the id of the sentinel start task added by EnsureStartTask.
const StartTaskID = "__start__"

// New returns an empty TaskGraph.
func New() *TaskGraph {
	return &TaskGraph{
		index: make(map[string]int),
		start: -1,
	}
}

// CreateTask adds a task to the graph. Ids must be unique.
func (g *TaskGraph) CreateTask(id string, runtime int, power float64) (*Task, error) {
	if _, ok := g.index[id]; ok {
		return nil, errors.Wrapf(ErrDuplicateTask, "task %q", id)
	}
	if runtime < 0 || power < 0 {
		return nil, errors.Errorf("task %q: runtime and power must be non-negative (runtime=%d, power=%g)", id, runtime, power)
	}
	t := &Task{ID: id, Runtime: runtime, Power: power, Index: len(g.tasks)}
	g.tasks = append(g.tasks, t)
	g.index[id] = t.Index
	return t, nil
}

// SetStartTask marks the task with the given id as the start task.
func (g *TaskGraph) SetStartTask(id string) error {
	i, ok := g.index[id]
	if !ok {
		return errors.Wrapf(ErrUnknownTask, "start task %q", id)
	}
	g.start = i
	return nil
}

// CreateDependency adds the edge from -> to: to cannot start before from finishes.
// Adding an existing edge is a no-op.
func (g *TaskGraph) CreateDependency(from, to string) error {
	fi, ok := g.index[from]
	if !ok {
		return errors.Wrapf(ErrUnknownTask, "dependency source %q", from)
	}
	ti, ok := g.index[to]
	if !ok {
		return errors.Wrapf(ErrUnknownTask, "dependency target %q", to)
	}
	if fi == ti {
		return errors.Wrapf(ErrCycle, "self dependency on %q", from)
	}
	for _, s := range g.tasks[fi].Successors {
		if s == ti {
			return nil
		}
	}
	g.tasks[fi].Successors = append(g.tasks[fi].Successors, ti)
	g.tasks[ti].Predecessors = append(g.tasks[ti].Predecessors, fi)
	return nil
}

// RemoveDependency deletes the edge from -> to if present.
func (g *TaskGraph) RemoveDependency(from, to string) error {
	fi, ok := g.index[from]
	if !ok {
		return errors.Wrapf(ErrUnknownTask, "dependency source %q", from)
	}
	ti, ok := g.index[to]
	if !ok {
		return errors.Wrapf(ErrUnknownTask, "dependency target %q", to)
	}
	g.tasks[fi].Successors = removeIndex(g.tasks[fi].Successors, ti)
	g.tasks[ti].Predecessors = removeIndex(g.tasks[ti].Predecessors, fi)
	return nil
}

// RemoveTask deletes a task and all of its edges. The arena is compacted, so
// indices of tasks created after the removed one shift down by one.
func (g *TaskGraph) RemoveTask(id string) error {
	ri, ok := g.index[id]
	if !ok {
		return errors.Wrapf(ErrUnknownTask, "task %q", id)
	}

	remap := func(list []int) []int {
		out := list[:0]
		for _, i := range list {
			switch {
			case i == ri:
			case i > ri:
				out = append(out, i-1)
			default:
				out = append(out, i)
			}
		}
		return out
	}

	g.tasks = append(g.tasks[:ri], g.tasks[ri+1:]...)
	delete(g.index, id)
	for i, t := range g.tasks {
		t.Index = i
		t.Predecessors = remap(t.Predecessors)
		t.Successors = remap(t.Successors)
		g.index[t.ID] = i
	}

	switch {
	case g.start == ri:
		g.start = -1
	case g.start > ri:
		g.start--
	}
	return nil
}

// Task returns the task with the given id.
func (g *TaskGraph) Task(id string) (*Task, bool) {
	i, ok := g.index[id]
	if !ok {
		return nil, false
	}
	return g.tasks[i], true
}

// TaskAt returns the task stored at arena index i.
func (g *TaskGraph) TaskAt(i int) *Task {
	return g.tasks[i]
}

// Tasks returns all tasks in arena order. The slice must not be modified.
func (g *TaskGraph) Tasks() []*Task {
	return g.tasks
}

// TaskCount returns the number of tasks in the graph.
func (g *TaskGraph) TaskCount() int {
	return len(g.tasks)
}

// StartTask returns the designated start task.
func (g *TaskGraph) StartTask() (*Task, error) {
	if len(g.tasks) == 0 {
		return nil, ErrEmptyGraph
	}
	if g.start < 0 {
		return nil, ErrNoStartTask
	}
	return g.tasks[g.start], nil
}

// Roots returns the indices of tasks without predecessors.
func (g *TaskGraph) Roots() []int {
	var roots []int
	for _, t := range g.tasks {
		if len(t.Predecessors) == 0 {
			roots = append(roots, t.Index)
		}
	}
	return roots
}

// Leaves returns the indices of tasks without successors.
func (g *TaskGraph) Leaves() []int {
	var leaves []int
	for _, t := range g.tasks {
		if len(t.Successors) == 0 {
			leaves = append(leaves, t.Index)
		}
	}
	return leaves
}

// EnsureStartTask designates a start task. A single root becomes the start
// task; several roots get a zero-runtime, zero-power sentinel wired to each.
func (g *TaskGraph) EnsureStartTask() error {
	roots := g.Roots()
	switch len(roots) {
	case 0:
		if len(g.tasks) == 0 {
			return ErrEmptyGraph
		}
		return errors.Wrap(ErrCycle, "no task without predecessors")
	case 1:
		g.start = roots[0]
		return nil
	}

	start, err := g.CreateTask(StartTaskID, 0, 0)
	if err != nil {
		return err
	}
	for _, r := range roots {
		if err := g.CreateDependency(start.ID, g.tasks[r].ID); err != nil {
			return err
		}
	}
	g.start = start.Index
	return nil
}

// Validate checks the invariants the scheduler relies on: a designated start
// task that is the only task without predecessors, and no cycles.
func (g *TaskGraph) Validate() error {
	st, err := g.StartTask()
	if err != nil {
		return err
	}
	for _, t := range g.tasks {
		if len(t.Predecessors) == 0 && t.Index != st.Index {
			return errors.Errorf("task %q has no predecessors but is not the start task %q", t.ID, st.ID)
		}
	}
	if cycle := g.DetectCycle(); cycle != nil {
		return errors.Wrapf(ErrCycle, "%v", cycle)
	}
	return nil
}

// BuildFromRaw constructs a TaskGraph from ingested raw tasks and designates
// a start task.
func BuildFromRaw(raw []RawTask) (*TaskGraph, error) {
	g := New()
	for i := range raw {
		if _, err := g.CreateTask(raw[i].ID, raw[i].Runtime, raw[i].Power); err != nil {
			return nil, err
		}
	}

	// Parents outside the task set are ignored
	for i := range raw {
		parents := append([]string(nil), raw[i].Parents...)
		sort.Strings(parents)
		for _, p := range parents {
			if _, ok := g.index[p]; !ok {
				continue
			}
			if err := g.CreateDependency(p, raw[i].ID); err != nil {
				return nil, err
			}
		}
	}

	if cycle := g.DetectCycle(); cycle != nil {
		return nil, errors.Wrapf(ErrCycle, "%v", cycle)
	}
	if err := g.EnsureStartTask(); err != nil {
		return nil, err
	}
	return g, nil
}

// DetectCycle returns the cycle path if one exists, or nil if the graph is acyclic.
// Uses DFS with coloring: white (unvisited), gray (in progress), black (done).
func (g *TaskGraph) DetectCycle() []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	color := make([]int, len(g.tasks))
	parent := make([]int, len(g.tasks))

	var dfs func(node int) []string
	dfs = func(node int) []string {
		color[node] = gray
		for _, next := range g.tasks[node].Successors {
			if color[next] == gray {
				cycle := []string{g.tasks[next].ID, g.tasks[node].ID}
				cur := node
				for cur != next {
					cur = parent[cur]
					cycle = append(cycle, g.tasks[cur].ID)
				}
				for i, j := 0, len(cycle)-1; i < j; i, j = i+1, j-1 {
					cycle[i], cycle[j] = cycle[j], cycle[i]
				}
				return cycle
			}
			if color[next] == white {
				parent[next] = node
				if cycle := dfs(next); cycle != nil {
					return cycle
				}
			}
		}
		color[node] = black
		return nil
	}

	for i := range g.tasks {
		if color[i] == white {
			if cycle := dfs(i); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

func removeIndex(list []int, v int) []int {
	out := list[:0]
	for _, i := range list {
		if i != v {
			out = append(out, i)
		}
	}
	return out
}
