package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/marcelo-torres/green-scheduler-sub000/internal/baseline"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/cluster"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/config"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/cpm"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/energy"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/experiment"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/graph"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/metrics"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/report"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/results"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/schedule"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/scheduler"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/ui"
)

func scheduleCmd() *cobra.Command {
	var (
		flagAlgorithm string
		flagOutput    string
	)

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Schedule a workflow and report its energy balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			g, err := loadWorkflow(cfg)
			if err != nil {
				return err
			}
			cl, err := cfg.BuildCluster()
			if err != nil {
				return err
			}
			opts, err := cfg.Options()
			if err != nil {
				return err
			}
			log, err := newLogger()
			if err != nil {
				return err
			}
			opts.Logger = log

			ctx, cancel := signalContext()
			defer cancel()

			s, usage, deadline, err := runAlgorithm(ctx, experiment.Algorithm(flagAlgorithm), g, cl, opts, log)
			if err != nil {
				return err
			}

			if flagOutput != "" {
				data, err := json.MarshalIndent(s, "", "  ")
				if err != nil {
					return err
				}
				if err := os.WriteFile(flagOutput, data, 0644); err != nil {
					return errors.Wrap(err, "write schedule")
				}
			}

			rpt, err := report.New(g, s, usage, deadline, cl.Cores())
			if err != nil {
				return err
			}
			if flagJSON {
				data, err := rpt.JSON()
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}
			rpt.PrintSchedule(os.Stdout)
			rpt.PrintSummary(os.Stdout)
			return nil
		},
	}

	cmd.Flags().StringVar(&flagAlgorithm, "algorithm", string(experiment.AlgorithmBoundary), "Scheduler: boundary, lpt or taskflow")
	cmd.Flags().StringVarP(&flagOutput, "output", "o", "", "Write the schedule as JSON to this file")

	return cmd
}

// runAlgorithm schedules g on a copy of cl and returns the schedule, its
// energy balance and the deadline it was built for.
func runAlgorithm(ctx context.Context, alg experiment.Algorithm, g *graph.TaskGraph, cl *cluster.Cluster, opts scheduler.Options, log logrus.FieldLogger) (schedule.Schedule, energy.Usage, int, error) {
	if alg == experiment.AlgorithmBoundary {
		res, err := scheduler.Schedule(ctx, g, cl, opts)
		if err != nil {
			return nil, energy.Usage{}, 0, err
		}
		if res.ShiftKept {
			log.WithFields(logrus.Fields{"before": res.BrownBeforeShift, "after": res.Usage.Brown}).Info("Shift pass reduced brown energy")
		}
		return res.Schedule, res.Usage, res.Deadline, nil
	}

	deadline, err := scheduler.ResolveDeadline(g, cl, opts)
	if err != nil {
		return nil, energy.Usage{}, 0, err
	}
	var s schedule.Schedule
	switch alg {
	case experiment.AlgorithmLPT:
		s, err = baseline.LPT(g, cl.Machines)
	case experiment.AlgorithmTaskFlow:
		s, err = baseline.TaskFlow(ctx, g, cl.Clone(), deadline, log)
	default:
		err = errors.Wrapf(scheduler.ErrInvalidOption, "unknown algorithm %q", alg)
	}
	if err != nil {
		return nil, energy.Usage{}, 0, err
	}
	usage, err := energy.Evaluate(s, g, cl.Power)
	if err != nil {
		return nil, energy.Usage{}, 0, err
	}
	return s, usage, deadline, nil
}

func analyzeCmd() *cobra.Command {
	var flagFormat string

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Show the critical path, ranks and derived deadlines of a workflow",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			g, err := loadWorkflow(cfg)
			if err != nil {
				return err
			}
			cl, err := cfg.BuildCluster()
			if err != nil {
				return err
			}
			result, err := cpm.Analyze(g)
			if err != nil {
				return errors.Wrap(err, "CPM analysis")
			}

			switch flagFormat {
			case "dot":
				printDOT(g, result)
				return nil
			case "", "text":
			default:
				return errors.Errorf("unknown format %q (text or dot)", flagFormat)
			}

			lpt, err := baseline.LPTMakespan(g, cl.Machines)
			if err != nil {
				return err
			}
			opts, err := cfg.Options()
			if err != nil {
				return err
			}
			deadline, err := scheduler.ResolveDeadline(g, cl, opts)
			if err != nil {
				return err
			}

			if flagJSON {
				return outputJSON(struct {
					CriticalPath       []string   `json:"critical_path"`
					CriticalPathLength int        `json:"critical_path_length"`
					LongestPath        int        `json:"longest_path"`
					LPTMakespan        int        `json:"lpt_makespan"`
					Deadline           int        `json:"deadline"`
					RequestedEnergy    float64    `json:"requested_energy"`
					Waves              []cpm.Wave `json:"waves"`
				}{result.CriticalPath, result.Length, result.TotalDuration, lpt, deadline, report.RequestedEnergy(g), result.Waves})
			}
			printAnalysis(g, cl, result, lpt, deadline)
			return nil
		},
	}

	cmd.Flags().StringVar(&flagFormat, "format", "text", "Output format: text or dot")

	return cmd
}

func experimentCmd() *cobra.Command {
	var (
		flagMaxParallel int
		flagBaselines   bool
		flagMetricsAddr string
		flagResultsDir  string
		flagTimeout     time.Duration
		flagID          string
	)

	cmd := &cobra.Command{
		Use:   "experiment",
		Short: "Run the configured grid of scheduler settings concurrently",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			g, err := loadWorkflow(cfg)
			if err != nil {
				return err
			}
			cl, err := cfg.BuildCluster()
			if err != nil {
				return err
			}
			grid, err := buildGrid(cfg)
			if err != nil {
				return err
			}
			grid.Baselines = flagBaselines
			log, err := newLogger()
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			rec := metrics.NewRecorder()
			if flagMetricsAddr != "" {
				go func() {
					if err := rec.Serve(ctx, flagMetricsAddr, log); err != nil {
						log.WithError(err).Error("Metrics server stopped")
					}
				}()
			}

			maxParallel := cfg.Experiments.MaxParallel
			if cmd.Flags().Changed("max-parallel") || maxParallel == 0 {
				maxParallel = flagMaxParallel
			}
			if flagID == "" {
				flagID = "exp-" + time.Now().Format("20060102-150405")
			}

			if !flagJSON {
				ui.PrintBanner(os.Stderr)
			}
			specs := grid.Specs()
			fmt.Fprintf(os.Stderr, "🚀 %s %s runs over %s tasks (max %d parallel)\n",
				ui.BoldCyan("Experiment:"), ui.Bold(len(specs)), ui.Bold(g.TaskCount()), maxParallel)

			runner := experiment.New(g, cl, experiment.Config{
				MaxParallel:   maxParallel,
				TimeoutPerRun: flagTimeout,
				ResultsDir:    flagResultsDir,
				Logger:        log,
				Metrics:       rec,
			})
			exp, runErr := runner.Run(ctx, flagID, cfg.Workflow, specs)
			if exp == nil {
				return runErr
			}

			if flagJSON {
				if err := outputJSON(exp); err != nil {
					return err
				}
			} else {
				report.PrintExperiment(os.Stdout, exp)
			}
			return runErr
		},
	}

	cmd.Flags().IntVar(&flagMaxParallel, "max-parallel", 4, "Max concurrent scheduling runs")
	cmd.Flags().BoolVar(&flagBaselines, "baselines", false, "Add LPT and task-flow baseline runs")
	cmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :2112")
	cmd.Flags().StringVar(&flagResultsDir, "results-dir", results.DefaultDir, "Directory for experiment results")
	cmd.Flags().DurationVar(&flagTimeout, "timeout", 10*time.Minute, "Per-run timeout")
	cmd.Flags().StringVar(&flagID, "id", "", "Experiment id (default: timestamp)")

	return cmd
}

// buildGrid turns the experiments section of cfg into a run grid.
func buildGrid(cfg *config.Config) (experiment.Grid, error) {
	base, err := cfg.Options()
	if err != nil {
		return experiment.Grid{}, err
	}
	grid := experiment.Grid{Base: base, CValues: cfg.Experiments.CValues}
	for _, name := range cfg.Experiments.TaskSorts {
		ts, err := scheduler.ParseTaskSort(name)
		if err != nil {
			return grid, err
		}
		grid.TaskSorts = append(grid.TaskSorts, ts)
	}
	for _, name := range cfg.Experiments.ShiftModes {
		sm, err := scheduler.ParseShiftMode(name)
		if err != nil {
			return grid, err
		}
		grid.ShiftModes = append(grid.ShiftModes, sm)
	}
	for _, name := range cfg.Experiments.BoundaryStrategies {
		st, err := scheduler.ParseBoundaryStrategy(name)
		if err != nil {
			return grid, err
		}
		grid.Strategies = append(grid.Strategies, st)
	}
	return grid, nil
}

func checkCmd() *cobra.Command {
	var flagSchedule string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check a schedule file against the workflow and the cluster",
		RunE: func(cmd *cobra.Command, args []string) error {
			if flagSchedule == "" {
				return errors.New("--schedule is required")
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			g, err := loadWorkflow(cfg)
			if err != nil {
				return err
			}
			cl, err := cfg.BuildCluster()
			if err != nil {
				return err
			}

			data, err := os.ReadFile(flagSchedule)
			if err != nil {
				return errors.Wrap(err, "read schedule")
			}
			var s schedule.Schedule
			if err := json.Unmarshal(data, &s); err != nil {
				return errors.Wrap(err, "parse schedule")
			}
			// A schedule written for a workflow with several roots has no
			// entry for the sentinel start task.
			if _, ok := s[graph.StartTaskID]; !ok {
				if _, ok := g.Task(graph.StartTaskID); ok {
					s[graph.StartTaskID] = schedule.Placement{Start: 0, Machine: cl.Machines[0].ID}
				}
			}

			opts, err := cfg.Options()
			if err != nil {
				return err
			}
			deadline, err := scheduler.ResolveDeadline(g, cl, opts)
			if err != nil {
				return err
			}

			// Energy is only defined for complete schedules; missing tasks
			// show up as violations.
			usage, _ := energy.Evaluate(s, g, cl.Power)
			rpt, err := report.New(g, s, usage, deadline, cl.Cores())
			if err != nil {
				return err
			}

			if flagJSON {
				data, err := rpt.JSON()
				if err != nil {
					return err
				}
				fmt.Println(string(data))
			} else {
				rpt.PrintSummary(os.Stdout)
			}

			if n := len(rpt.Violations()); n > 0 {
				return errors.Errorf("schedule has %d violations", n)
			}
			if st := rpt.Stats(); st.Makespan > deadline {
				return errors.Errorf("makespan %d exceeds deadline %d", st.Makespan, deadline)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&flagSchedule, "schedule", "s", "", "Schedule JSON file (task id to start and machine)")

	return cmd
}

func statusCmd() *cobra.Command {
	var (
		flagResultsDir string
		flagArchived   string
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the results of the last (or an archived) experiment",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				exp *results.Experiment
				err error
			)
			if flagArchived != "" {
				exp, err = results.LoadArchived(flagResultsDir, flagArchived)
			} else {
				if !results.Exists(flagResultsDir) {
					fmt.Println("No experiment results found.")
					return nil
				}
				exp, err = results.Load(flagResultsDir)
			}
			if err != nil {
				return err
			}

			if flagJSON {
				return outputJSON(exp)
			}
			report.PrintExperiment(os.Stdout, exp)
			return nil
		},
	}

	cmd.Flags().StringVar(&flagResultsDir, "results-dir", results.DefaultDir, "Directory for experiment results")
	cmd.Flags().StringVar(&flagArchived, "archived", "", "Show an archived experiment by id")

	return cmd
}

func printAnalysis(g *graph.TaskGraph, cl *cluster.Cluster, result *cpm.CPMResult, lpt, deadline int) {
	maxWaveWidth := 0
	for _, w := range result.Waves {
		if len(w.TaskIDs) > maxWaveWidth {
			maxWaveWidth = len(w.TaskIDs)
		}
	}

	fmt.Printf("🎯 %s\n", ui.BoldCyan("Workflow Analysis"))
	fmt.Println(ui.Cyan("═══════════════════════════"))
	fmt.Println()
	fmt.Printf("Tasks:     %s (%s cores on %d machines)\n", ui.Bold(g.TaskCount()), ui.Bold(cl.TotalCores()), len(cl.Machines))
	fmt.Printf("⚡ Critical path: %s (%d tasks, longest path %d s)\n",
		ui.BoldYellow(joinIDs(result.CriticalPath)), len(result.CriticalPath), result.TotalDuration)
	fmt.Printf("CPL:       %s s (sum of the longest runtime per rank)\n", ui.Bold(result.Length))
	fmt.Printf("LPT:       %s s makespan on this cluster\n", ui.Bold(lpt))
	fmt.Printf("Deadline:  %s s\n", ui.Bold(deadline))
	fmt.Printf("Energy:    %.1f J requested\n", report.RequestedEnergy(g))
	fmt.Printf("Ranks:     %s (%d tasks in widest rank)\n", ui.Bold(len(result.Waves)), maxWaveWidth)
	fmt.Println()

	for _, wave := range result.Waves {
		fmt.Printf("🌊 %s %d (%d tasks):\n", ui.BoldWhite("Rank"), wave.Index, len(wave.TaskIDs))
		for _, id := range wave.TaskIDs {
			t, _ := g.Task(id)
			crit := ""
			if result.Tasks[t.Index].IsCritical {
				crit = "  " + ui.BoldYellow("⚡ critical")
			}
			ts := result.Tasks[t.Index]
			fmt.Printf("  %s  %s%s\n", ui.BoldMagenta(id),
				ui.Dim(fmt.Sprintf("%ds × %.0fW, ES %d, slack %d", t.Runtime, t.Power, ts.ES, ts.Slack)), crit)
		}
		fmt.Println()
	}
}

func joinIDs(ids []string) string {
	out := ""
	for _, id := range ids {
		if id == graph.StartTaskID {
			continue
		}
		if out != "" {
			out += " → "
		}
		out += id
	}
	return out
}

func printDOT(g *graph.TaskGraph, result *cpm.CPMResult) {
	fmt.Println("digraph greensched {")
	fmt.Println("  rankdir=LR;")
	fmt.Println("  node [shape=box, style=rounded];")
	fmt.Println()

	for _, t := range g.Tasks() {
		label := fmt.Sprintf("%s\\n%ds, %.0fW", t.ID, t.Runtime, t.Power)
		attrs := fmt.Sprintf(`label="%s"`, label)
		if result.Tasks[t.Index].IsCritical {
			attrs += `, style="rounded,bold", color=red`
		}
		fmt.Printf("  %q [%s];\n", t.ID, attrs)
	}

	fmt.Println()

	for _, t := range g.Tasks() {
		for _, si := range t.Successors {
			succ := g.TaskAt(si)
			style := ""
			if result.Tasks[t.Index].IsCritical && result.Tasks[si].IsCritical {
				style = ` [color=red, penwidth=2]`
			}
			fmt.Printf("  %q -> %q%s;\n", t.ID, succ.ID, style)
		}
	}

	fmt.Println("}")
}
