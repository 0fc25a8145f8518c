package scheduler

import (
	"github.com/markphelps/optional"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/marcelo-torres/green-scheduler-sub000/internal/boundary"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/schedule"
)

var (
	// ErrInfeasible is returned when the deadline and resources leave no room
	// for a task.
	ErrInfeasible = schedule.ErrInfeasible
	// ErrInvalidOption is returned for an unknown task sort, shift mode,
	// boundary strategy or deadline base.
	ErrInvalidOption = errors.New("invalid scheduler option")
)

// TaskSort is the priority key tasks are placed by.
type TaskSort int

const (
	SortEnergy TaskSort = iota
	SortPower
	SortRuntime
	SortRuntimeAscending
)

// ShiftMode selects the post-placement shift passes.
type ShiftMode int

const (
	ShiftNone ShiftMode = iota
	ShiftLeft
	ShiftRightLeft
)

// DeadlineBase is what a derived deadline is a multiple of.
type DeadlineBase int

const (
	BaseCriticalPath DeadlineBase = iota
	BaseLPT
)

var (
	taskSortNames = []string{
		SortEnergy:           "energy",
		SortPower:            "power",
		SortRuntime:          "runtime",
		SortRuntimeAscending: "runtime_ascending",
	}
	shiftModeNames = []string{
		ShiftNone:      "none",
		ShiftLeft:      "left",
		ShiftRightLeft: "right-left",
	}
	deadlineBaseNames = []string{
		BaseCriticalPath: "critical-path",
		BaseLPT:          "lpt",
	}
)

func (s TaskSort) String() string     { return nameOf(taskSortNames, int(s)) }
func (s ShiftMode) String() string    { return nameOf(shiftModeNames, int(s)) }
func (b DeadlineBase) String() string { return nameOf(deadlineBaseNames, int(b)) }

func nameOf(names []string, i int) string {
	if i < 0 || i >= len(names) {
		return "unknown"
	}
	return names[i]
}

func indexOf(names []string, kind, name string) (int, error) {
	for i, n := range names {
		if n == name {
			return i, nil
		}
	}
	return 0, errors.Wrapf(ErrInvalidOption, "unknown %s %q", kind, name)
}

// ParseTaskSort parses "energy", "power", "runtime" or "runtime_ascending".
func ParseTaskSort(name string) (TaskSort, error) {
	i, err := indexOf(taskSortNames, "task sort", name)
	return TaskSort(i), err
}

// ParseShiftMode parses "none", "left" or "right-left".
func ParseShiftMode(name string) (ShiftMode, error) {
	i, err := indexOf(shiftModeNames, "shift mode", name)
	return ShiftMode(i), err
}

// ParseDeadlineBase parses "critical-path" or "lpt".
func ParseDeadlineBase(name string) (DeadlineBase, error) {
	i, err := indexOf(deadlineBaseNames, "deadline base", name)
	return DeadlineBase(i), err
}

// ParseBoundaryStrategy parses "single", "default", "lpt-path", "lpt" or
// "lpt-full".
func ParseBoundaryStrategy(name string) (boundary.Strategy, error) {
	s, ok := boundary.ParseStrategy(name)
	if !ok {
		return 0, errors.Wrapf(ErrInvalidOption, "unknown boundary strategy %q", name)
	}
	return s, nil
}

// DefaultDeadlineFactor multiplies the deadline base when no deadline is set.
const DefaultDeadlineFactor = 2.0

// Options configures one scheduling run. The zero value places tasks by
// energy with the default boundary strategy, c = 0 and no shifting.
type Options struct {
	// Deadline of the whole workflow. Absent means DeadlineFactor times the
	// DeadlineBase of the graph.
	Deadline       optional.Int
	DeadlineFactor float64
	DeadlineBase   DeadlineBase

	// C is the share of each task's free window withheld for its neighbours.
	C float64

	TaskSort         TaskSort
	ShiftMode        ShiftMode
	BoundaryStrategy boundary.Strategy

	// Logger receives placement and shift events. Nil discards them.
	Logger logrus.FieldLogger
}

func (o Options) validate() error {
	if int(o.TaskSort) < 0 || int(o.TaskSort) >= len(taskSortNames) {
		return errors.Wrapf(ErrInvalidOption, "task sort %d", o.TaskSort)
	}
	if int(o.ShiftMode) < 0 || int(o.ShiftMode) >= len(shiftModeNames) {
		return errors.Wrapf(ErrInvalidOption, "shift mode %d", o.ShiftMode)
	}
	if int(o.DeadlineBase) < 0 || int(o.DeadlineBase) >= len(deadlineBaseNames) {
		return errors.Wrapf(ErrInvalidOption, "deadline base %d", o.DeadlineBase)
	}
	if o.BoundaryStrategy.String() == "unknown" {
		return errors.Wrapf(ErrInvalidOption, "boundary strategy %d", o.BoundaryStrategy)
	}
	if o.C < 0 || o.C > 1 {
		return errors.Wrapf(ErrInvalidOption, "c must be within [0, 1], got %g", o.C)
	}
	if o.DeadlineFactor < 0 {
		return errors.Wrapf(ErrInvalidOption, "deadline factor must not be negative, got %g", o.DeadlineFactor)
	}
	if d, err := o.Deadline.Get(); err == nil && d < 0 {
		return errors.Wrapf(ErrInvalidOption, "deadline must not be negative, got %d", d)
	}
	return nil
}
