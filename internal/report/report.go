// Package report renders schedules and experiments for the terminal and as
// JSON.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/floats"

	"github.com/marcelo-torres/green-scheduler-sub000/internal/cpm"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/energy"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/graph"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/results"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/schedule"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/ui"
)

// Reporter renders one schedule of a graph.
type Reporter struct {
	Graph    *graph.TaskGraph
	Schedule schedule.Schedule
	Usage    energy.Usage
	Deadline int
	Cores    map[string]int

	analysis   *cpm.CPMResult
	violations []schedule.Violation
}

// New analyses g and checks s against it and the machine core counts.
func New(g *graph.TaskGraph, s schedule.Schedule, usage energy.Usage, deadline int, cores map[string]int) (*Reporter, error) {
	analysis, err := cpm.Analyze(g)
	if err != nil {
		return nil, err
	}
	violations := schedule.Check(s, g)
	violations = append(violations, schedule.CheckCapacity(s, g, cores)...)
	return &Reporter{
		Graph:      g,
		Schedule:   s,
		Usage:      usage,
		Deadline:   deadline,
		Cores:      cores,
		analysis:   analysis,
		violations: violations,
	}, nil
}

// Violations returns the precedence and capacity violations of the schedule.
func (r *Reporter) Violations() []schedule.Violation {
	return r.violations
}

// Stats summarises a schedule.
type Stats struct {
	Makespan    int     `json:"makespan"`
	Deadline    int     `json:"deadline"`
	Brown       float64 `json:"brown_energy"`
	GreenUsed   float64 `json:"green_used"`
	GreenUnused float64 `json:"green_unused"`
	Total       float64 `json:"total_energy"`
	Violations  int     `json:"violations"`

	// Start delay is how long after its earliest start a task begins.
	MedianDelay float64 `json:"median_start_delay"`
	P95Delay    float64 `json:"p95_start_delay"`

	// Utilisation is busy core-seconds over available core-seconds up to
	// the makespan, averaged over machines.
	Utilisation float64 `json:"utilisation"`
}

// Stats computes the summary of the schedule.
func (r *Reporter) Stats() Stats {
	st := Stats{
		Makespan:    schedule.Makespan(r.Schedule, r.Graph),
		Deadline:    r.Deadline,
		Brown:       r.Usage.Brown,
		GreenUsed:   r.Usage.GreenUsed(),
		GreenUnused: r.Usage.GreenUnused,
		Total:       r.Usage.Total,
		Violations:  len(r.violations),
	}

	var delays []float64
	busy := make(map[string]float64, len(r.Cores))
	for _, t := range r.tasks() {
		p := r.Schedule[t.ID]
		delays = append(delays, float64(p.Start-r.analysis.Tasks[t.Index].ES))
		busy[p.Machine] += float64(t.Runtime)
	}
	if len(delays) > 0 {
		st.MedianDelay, _ = stats.Median(delays)
		st.P95Delay, _ = stats.Percentile(delays, 95)
	}

	if st.Makespan > 0 && len(r.Cores) > 0 {
		var shares []float64
		for id, cores := range r.Cores {
			shares = append(shares, busy[id]/float64(cores*st.Makespan))
		}
		st.Utilisation, _ = stats.Mean(shares)
	}
	return st
}

// tasks returns the scheduled tasks other than the start sentinel, ordered
// by start time then id.
func (r *Reporter) tasks() []*graph.Task {
	var out []*graph.Task
	for _, t := range r.Graph.Tasks() {
		if t.ID == graph.StartTaskID {
			continue
		}
		if _, ok := r.Schedule[t.ID]; ok {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		sa, sb := r.Schedule[out[a].ID].Start, r.Schedule[out[b].ID].Start
		if sa != sb {
			return sa < sb
		}
		return out[a].ID < out[b].ID
	})
	return out
}

// PrintSchedule writes the placements grouped by rank.
func (r *Reporter) PrintSchedule(w io.Writer) {
	fmt.Fprintf(w, "%s: %d tasks, deadline %d\n\n",
		ui.BoldGreen("🌱 Schedule"), len(r.tasks()), r.Deadline)

	for _, wave := range r.analysis.Waves {
		var lines []*graph.Task
		for _, id := range wave.TaskIDs {
			if t, ok := r.Graph.Task(id); ok && id != graph.StartTaskID {
				lines = append(lines, t)
			}
		}
		if len(lines) == 0 {
			continue
		}
		fmt.Fprintf(w, "  %s %d\n", ui.BoldWhite("RANK"), wave.Index)
		for _, t := range lines {
			r.printTask(w, t)
		}
		fmt.Fprintln(w)
	}
}

func (r *Reporter) printTask(w io.Writer, t *graph.Task) {
	critical := " "
	if r.analysis.Tasks[t.Index].IsCritical {
		critical = ui.BoldYellow("⚡")
	}

	id := t.ID
	if len(id) > 24 {
		id = id[:21] + "..."
	}

	p, ok := r.Schedule[t.ID]
	if !ok {
		fmt.Fprintf(w, "    %s %-24s %s  %s\n", ui.StatusIcon("pending"), ui.BoldMagenta(id), critical, ui.Dim("[unscheduled]"))
		return
	}
	fmt.Fprintf(w, "    %s %-24s %s  %6d → %-6d %s %s\n",
		ui.StatusIcon("completed"), ui.BoldMagenta(id), critical,
		p.Start, p.Start+t.Runtime, ui.MachineTag(p.Machine),
		ui.Dim(fmt.Sprintf("%.0f J", t.Energy())))
}

// PrintSummary writes the summary footer and returns it as a string.
func (r *Reporter) PrintSummary(w io.Writer) string {
	var b strings.Builder
	mw := io.MultiWriter(w, &b)

	st := r.Stats()

	statusText := ui.BoldGreen("feasible")
	statusEmoji := "✅"
	if st.Violations > 0 || st.Makespan > st.Deadline {
		statusText = ui.BoldRed("violated")
		statusEmoji = "❌"
	}

	fmt.Fprintf(mw, "\n%s %s\n", statusEmoji, ui.BoldCyan("Schedule Summary"))
	fmt.Fprintf(mw, "%s\n", ui.Cyan("══════════════════════════"))
	fmt.Fprintf(mw, "Status:    %s\n", statusText)
	fmt.Fprintf(mw, "Makespan:  %s / deadline %d\n", ui.Bold(st.Makespan), st.Deadline)
	fmt.Fprintf(mw, "Energy:    %.1f J total, %s green, %s brown (%s)\n",
		st.Total,
		ui.Green(fmt.Sprintf("%.1f J", st.GreenUsed)),
		ui.Red(fmt.Sprintf("%.1f J", st.Brown)),
		ui.BrownShare(st.Brown, st.Total))
	fmt.Fprintf(mw, "Unused:    %.1f J of green power\n", st.GreenUnused)
	fmt.Fprintf(mw, "Delay:     median %.1f s, p95 %.1f s after earliest start\n", st.MedianDelay, st.P95Delay)
	fmt.Fprintf(mw, "Cores:     %.1f%% utilised\n", 100*st.Utilisation)

	if len(r.analysis.CriticalPath) > 0 {
		var path []string
		for _, id := range r.analysis.CriticalPath {
			if id != graph.StartTaskID {
				path = append(path, id)
			}
		}
		fmt.Fprintf(mw, "Critical:  %s\n", ui.BoldYellow("⚡ "+strings.Join(path, " → ")))
	}

	if st.Violations > 0 {
		fmt.Fprintf(mw, "\n%s\n", ui.BoldRed("Violations:"))
		for _, v := range r.violations {
			fmt.Fprintf(mw, "  %s %s %s\n", ui.Red("✗"), ui.BoldMagenta(v.TaskID), ui.Dim(describe(v)))
		}
	}
	return b.String()
}

func describe(v schedule.Violation) string {
	switch v.Kind {
	case "precedence":
		return fmt.Sprintf("starts at %d before %s finishes at %d", v.Time, v.Predecessor, v.Detail)
	case "capacity":
		return fmt.Sprintf("machine %s runs %d tasks at %d", v.Machine, v.Detail, v.Time)
	default:
		return v.Kind
	}
}

// JSON returns the schedule and its summary in machine-readable form.
func (r *Reporter) JSON() ([]byte, error) {
	type taskPlacement struct {
		TaskID     string  `json:"task_id"`
		Start      int     `json:"start"`
		Finish     int     `json:"finish"`
		Machine    string  `json:"machine"`
		Power      float64 `json:"power"`
		IsCritical bool    `json:"is_critical"`
	}

	type output struct {
		Stats      Stats                `json:"summary"`
		Tasks      []taskPlacement      `json:"tasks"`
		Violations []schedule.Violation `json:"violations,omitempty"`
	}

	o := output{Stats: r.Stats(), Violations: r.violations}
	for _, t := range r.tasks() {
		p := r.Schedule[t.ID]
		o.Tasks = append(o.Tasks, taskPlacement{
			TaskID:     t.ID,
			Start:      p.Start,
			Finish:     p.Start + t.Runtime,
			Machine:    p.Machine,
			Power:      t.Power,
			IsCritical: r.analysis.Tasks[t.Index].IsCritical,
		})
	}
	return json.MarshalIndent(o, "", "  ")
}

// RequestedEnergy returns the energy the tasks of g draw in total.
func RequestedEnergy(g *graph.TaskGraph) float64 {
	energies := make([]float64, 0, g.TaskCount())
	for _, t := range g.Tasks() {
		energies = append(energies, t.Energy())
	}
	return floats.Sum(energies)
}

// PrintExperiment writes one line per run of an experiment and marks the
// run with the least brown energy.
func PrintExperiment(w io.Writer, e *results.Experiment) {
	fmt.Fprintf(w, "\n%s %s\n", "🧪", ui.BoldCyan("Experiment "+e.ID))
	fmt.Fprintf(w, "%s\n", ui.Cyan("══════════════════════════"))
	fmt.Fprintf(w, "Workflow:  %s\n", ui.Dim(e.Workflow))
	fmt.Fprintf(w, "Status:    %s\n", e.Status)
	fmt.Fprintf(w, "Runs:      %d\n\n", e.TotalRuns)

	bestID, _, hasBest := e.Best()
	counts := make(map[results.RunStatus]int)
	for _, id := range e.RunIDs() {
		run := e.GetRun(id)
		counts[run.Status]++

		marker := " "
		if hasBest && id == bestID {
			marker = ui.BoldGreen("★")
		}
		detail := ""
		switch run.Status {
		case results.StatusCompleted:
			detail = fmt.Sprintf("brown %9.1f J (%s)  makespan %6d / %-6d",
				run.Brown, ui.BrownShare(run.Brown, run.Total), run.Makespan, run.Deadline)
			if run.ShiftKept {
				detail += ui.Dim(fmt.Sprintf("  shift saved %.1f J", run.BrownBeforeShift-run.Brown))
			}
		default:
			detail = ui.Dim(run.Error)
		}
		fmt.Fprintf(w, "  %s %s %-28s %-18s %-10s %-8s c=%-5.2f %s\n",
			ui.StatusIcon(string(run.Status)), marker, ui.BoldMagenta(id),
			run.TaskSort, run.ShiftMode, run.Strategy, run.C, detail)
	}

	fmt.Fprintf(w, "\n%s\n", ui.Cyan("──────────────────────────"))
	fmt.Fprintf(w, "Totals:  %s  %s  %s",
		ui.Green(fmt.Sprintf("%d completed", counts[results.StatusCompleted])),
		ui.Yellow(fmt.Sprintf("%d infeasible", counts[results.StatusInfeasible])),
		ui.Red(fmt.Sprintf("%d failed", counts[results.StatusFailed])))
	if n := counts[results.StatusCancelled]; n > 0 {
		fmt.Fprintf(w, "  %s", ui.Dim(fmt.Sprintf("%d cancelled", n)))
	}
	fmt.Fprintln(w)
}
