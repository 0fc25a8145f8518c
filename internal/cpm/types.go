package cpm

// CPMResult holds the complete critical path analysis of a task graph under
// unlimited parallel capacity.
type CPMResult struct {
	Tasks         []TaskSchedule // indexed by task arena index
	CriticalPath  []string       // ordered task IDs with zero total float
	Length        int            // critical path length, see CriticalPathLength
	TotalDuration int            // longest path through the graph
	Waves         []Wave         // tasks grouped by rank
	TopoOrder     []int
}

// TaskSchedule holds the scheduling info for a single task.
type TaskSchedule struct {
	TaskID     string
	ES, EF     int // earliest start/finish
	LS, LF     int // latest start/finish against TotalDuration
	Slack      int // min successor ES - EF; see Slack
	Rank       int
	IsCritical bool
}

// Level places a task in the DAG: its own rank and the largest rank
// reachable from it downstream (itself included).
type Level struct {
	Rank    int
	MaxRank int
}

// Wave represents a group of tasks sharing the same rank.
type Wave struct {
	Index      int
	TaskIDs    []string
	IsCritical bool // true if wave contains critical path tasks
}
