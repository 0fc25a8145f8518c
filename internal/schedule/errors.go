package schedule

import "github.com/pkg/errors"

// ErrInfeasible is returned when a task cannot be placed: its boundaries
// exceed the deadline, or no machine has a free core in its window.
var ErrInfeasible = errors.New("no feasible placement")
