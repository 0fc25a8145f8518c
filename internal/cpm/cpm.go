package cpm

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/marcelo-torres/green-scheduler-sub000/internal/graph"
)

// Analyze performs critical path method analysis on a task graph, assuming
// unlimited parallel capacity.
func Analyze(g *graph.TaskGraph) (*CPMResult, error) {
	if _, err := g.StartTask(); err != nil {
		return nil, err
	}
	order, err := topoSort(g)
	if err != nil {
		return nil, err
	}
	ranks := ranksFromOrder(g, order)

	result := &CPMResult{
		Tasks:     make([]TaskSchedule, g.TaskCount()),
		TopoOrder: order,
	}
	for _, t := range g.Tasks() {
		result.Tasks[t.Index] = TaskSchedule{TaskID: t.ID, Rank: ranks[t.Index]}
	}

	// Forward pass: compute ES and EF
	for _, i := range order {
		ts := &result.Tasks[i]
		es := 0
		for _, pred := range g.TaskAt(i).Predecessors {
			if ef := result.Tasks[pred].EF; ef > es {
				es = ef
			}
		}
		ts.ES = es
		ts.EF = es + g.TaskAt(i).Runtime
		if ts.EF > result.TotalDuration {
			result.TotalDuration = ts.EF
		}
	}

	// Backward pass: compute LS and LF in reverse topological order
	for k := len(order) - 1; k >= 0; k-- {
		i := order[k]
		ts := &result.Tasks[i]
		lf := result.TotalDuration
		for _, succ := range g.TaskAt(i).Successors {
			if ls := result.Tasks[succ].LS; ls < lf {
				lf = ls
			}
		}
		ts.LF = lf
		ts.LS = lf - g.TaskAt(i).Runtime
		ts.IsCritical = ts.LS == ts.ES
	}

	slack := slackFrom(g, result.Tasks, result.TotalDuration)
	for i := range result.Tasks {
		result.Tasks[i].Slack = slack[i]
	}

	for _, i := range order {
		if result.Tasks[i].IsCritical {
			result.CriticalPath = append(result.CriticalPath, result.Tasks[i].TaskID)
		}
	}

	result.Length = criticalPathLength(g, ranks, slack)
	result.Waves = computeWaves(result)
	return result, nil
}

// UpwardRank returns, per task index, the length in hops of the longest path
// from the start task to the task. The start task has rank 0.
func UpwardRank(g *graph.TaskGraph) ([]int, error) {
	if _, err := g.StartTask(); err != nil {
		return nil, err
	}
	order, err := topoSort(g)
	if err != nil {
		return nil, err
	}
	return ranksFromOrder(g, order), nil
}

// SortTopologically orders tasks by ascending rank, or descending rank when
// reverse is set. Ties keep arena order.
func SortTopologically(g *graph.TaskGraph, reverse bool) ([]*graph.Task, error) {
	ranks, err := UpwardRank(g)
	if err != nil {
		return nil, err
	}
	tasks := append([]*graph.Task(nil), g.Tasks()...)
	sort.SliceStable(tasks, func(a, b int) bool {
		ra, rb := ranks[tasks[a].Index], ranks[tasks[b].Index]
		if reverse {
			return ra > rb
		}
		return ra < rb
	})
	return tasks, nil
}

// CalcLevels returns the rank of every task together with the largest rank
// reachable downstream of it.
func CalcLevels(g *graph.TaskGraph) ([]Level, error) {
	if _, err := g.StartTask(); err != nil {
		return nil, err
	}
	order, err := topoSort(g)
	if err != nil {
		return nil, err
	}
	ranks := ranksFromOrder(g, order)

	levels := make([]Level, g.TaskCount())
	for k := len(order) - 1; k >= 0; k-- {
		i := order[k]
		maxRank := ranks[i]
		for _, succ := range g.TaskAt(i).Successors {
			if levels[succ].MaxRank > maxRank {
				maxRank = levels[succ].MaxRank
			}
		}
		levels[i] = Level{Rank: ranks[i], MaxRank: maxRank}
	}
	return levels, nil
}

// EarliestStarts returns the earliest start time of every task when capacity
// is unlimited.
func EarliestStarts(g *graph.TaskGraph) ([]int, error) {
	order, err := topoSort(g)
	if err != nil {
		return nil, err
	}
	es := make([]int, g.TaskCount())
	for _, i := range order {
		for _, pred := range g.TaskAt(i).Predecessors {
			if f := es[pred] + g.TaskAt(pred).Runtime; f > es[i] {
				es[i] = f
			}
		}
	}
	return es, nil
}

// Slack returns, per task, the time it can be delayed without delaying the
// earliest start of any of its children:
//
//	min(child ES) - ES - runtime
//
// Exit tasks measure against the longest path of the graph. A task with zero
// slack lies on a longest path to one of its children.
func Slack(g *graph.TaskGraph) ([]int, error) {
	res, err := Analyze(g)
	if err != nil {
		return nil, err
	}
	slack := make([]int, len(res.Tasks))
	for i, ts := range res.Tasks {
		slack[i] = ts.Slack
	}
	return slack, nil
}

// CriticalPathLength sums, across ranks, the longest runtime among tasks of
// that rank with zero slack. With unlimited capacity it is a lower bound on
// the makespan of the graph.
func CriticalPathLength(g *graph.TaskGraph) (int, error) {
	res, err := Analyze(g)
	if err != nil {
		return 0, err
	}
	return res.Length, nil
}

// BottomLevels returns, per task, the longest runtime-weighted path from the
// task (inclusive) to an exit task.
func BottomLevels(g *graph.TaskGraph) ([]int, error) {
	order, err := topoSort(g)
	if err != nil {
		return nil, err
	}
	bl := make([]int, g.TaskCount())
	for k := len(order) - 1; k >= 0; k-- {
		i := order[k]
		longest := 0
		for _, succ := range g.TaskAt(i).Successors {
			if bl[succ] > longest {
				longest = bl[succ]
			}
		}
		bl[i] = longest + g.TaskAt(i).Runtime
	}
	return bl, nil
}

// TopLevels returns, per task, the longest runtime-weighted path from the
// start task to the task (inclusive).
func TopLevels(g *graph.TaskGraph) ([]int, error) {
	es, err := EarliestStarts(g)
	if err != nil {
		return nil, err
	}
	tl := make([]int, len(es))
	for i := range es {
		tl[i] = es[i] + g.TaskAt(i).Runtime
	}
	return tl, nil
}

func slackFrom(g *graph.TaskGraph, tasks []TaskSchedule, total int) []int {
	slack := make([]int, len(tasks))
	for i := range tasks {
		t := g.TaskAt(i)
		limit := total
		if len(t.Successors) > 0 {
			limit = tasks[t.Successors[0]].ES
			for _, succ := range t.Successors[1:] {
				if es := tasks[succ].ES; es < limit {
					limit = es
				}
			}
		}
		slack[i] = limit - tasks[i].ES - t.Runtime
	}
	return slack
}

func criticalPathLength(g *graph.TaskGraph, ranks, slack []int) int {
	longest := make(map[int]int)
	for i, r := range ranks {
		if slack[i] != 0 {
			continue
		}
		if rt := g.TaskAt(i).Runtime; rt > longest[r] {
			longest[r] = rt
		}
	}
	length := 0
	for _, rt := range longest {
		length += rt
	}
	return length
}

// ranksFromOrder relaxes hop distances along a topological order, so a task
// reached by a longer path always ends with the larger rank.
func ranksFromOrder(g *graph.TaskGraph, order []int) []int {
	ranks := make([]int, g.TaskCount())
	for _, i := range order {
		for _, succ := range g.TaskAt(i).Successors {
			if r := ranks[i] + 1; r > ranks[succ] {
				ranks[succ] = r
			}
		}
	}
	return ranks
}

// topoSort performs Kahn's algorithm for topological sorting. Ready tasks are
// released in arena order for determinism.
func topoSort(g *graph.TaskGraph) ([]int, error) {
	if g.TaskCount() == 0 {
		return nil, graph.ErrEmptyGraph
	}
	inDegree := make([]int, g.TaskCount())
	var queue []int
	for _, t := range g.Tasks() {
		inDegree[t.Index] = len(t.Predecessors)
		if inDegree[t.Index] == 0 {
			queue = append(queue, t.Index)
		}
	}

	order := make([]int, 0, g.TaskCount())
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		var newReady []int
		for _, succ := range g.TaskAt(node).Successors {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				newReady = append(newReady, succ)
			}
		}
		sort.Ints(newReady)
		queue = append(queue, newReady...)
	}

	if len(order) != g.TaskCount() {
		return nil, errors.Wrapf(graph.ErrCycle, "topological sort failed (%d of %d tasks sorted)", len(order), g.TaskCount())
	}
	return order, nil
}

// computeWaves groups tasks by rank.
func computeWaves(result *CPMResult) []Wave {
	byRank := make(map[int][]int)
	maxRank := 0
	for _, i := range result.TopoOrder {
		r := result.Tasks[i].Rank
		byRank[r] = append(byRank[r], i)
		if r > maxRank {
			maxRank = r
		}
	}

	waves := make([]Wave, 0, maxRank+1)
	for r := 0; r <= maxRank; r++ {
		members := byRank[r]
		// Sort critical tasks first within wave
		sort.SliceStable(members, func(a, b int) bool {
			return result.Tasks[members[a]].IsCritical && !result.Tasks[members[b]].IsCritical
		})

		w := Wave{Index: r}
		for _, i := range members {
			w.TaskIDs = append(w.TaskIDs, result.Tasks[i].TaskID)
			if result.Tasks[i].IsCritical {
				w.IsCritical = true
			}
		}
		waves = append(waves, w)
	}
	return waves
}
