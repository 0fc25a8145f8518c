package boundary

// Strategy selects how constant boundaries are estimated.
type Strategy int

const (
	// Default simulates the unscheduled ancestor (or descendant) closure on
	// the machines in topological order.
	Default Strategy = iota
	// Single ignores machine capacity.
	Single
	// LPTPath simulates the closure plus the unscheduled tasks sharing a
	// rank with it, longest remaining path first.
	LPTPath
	// LPT simulates the closure, longest remaining path first.
	LPT
	// LPTFull simulates every unscheduled task on the near side of the task,
	// longest remaining path first.
	LPTFull
)

var strategyNames = map[Strategy]string{
	Default: "default",
	Single:  "single",
	LPTPath: "lpt-path",
	LPT:     "lpt",
	LPTFull: "lpt-full",
}

// Strategies lists every strategy in declaration order.
var Strategies = []Strategy{Default, Single, LPTPath, LPT, LPTFull}

func (s Strategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return "unknown"
}

// ParseStrategy returns the strategy with the given name.
func ParseStrategy(name string) (Strategy, bool) {
	for s, n := range strategyNames {
		if n == name {
			return s, true
		}
	}
	return 0, false
}
