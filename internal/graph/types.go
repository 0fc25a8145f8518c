package graph

import "github.com/pkg/errors"

var (
	ErrDuplicateTask = errors.New("duplicate task id")
	ErrUnknownTask   = errors.New("unknown task id")
	ErrNoStartTask   = errors.New("graph has no start task")
	ErrEmptyGraph    = errors.New("graph has no tasks")
	ErrCycle         = errors.New("dependency cycle detected")
)

// Task is a unit of work in a workflow. Runtime is in seconds, Power in watts.
//
// Predecessors and Successors hold arena indices into the owning TaskGraph,
// not ownership.
type Task struct {
	ID      string
	Runtime int
	Power   float64

	Index        int
	Predecessors []int
	Successors   []int
}

// Energy is the energy drawn by the task over its whole runtime.
func (t *Task) Energy() float64 {
	return t.Power * float64(t.Runtime)
}

// TaskGraph is a directed acyclic graph of tasks stored in an arena.
type TaskGraph struct {
	tasks []*Task
	index map[string]int
	start int // arena index of the start task, -1 when unset
}

// RawTask is the ingestion-side description of a task before it is indexed.
type RawTask struct {
	ID      string
	Runtime int
	Power   float64
	Parents []string
}
