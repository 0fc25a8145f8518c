package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/marcelo-torres/green-scheduler-sub000/internal/cluster"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/config"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/graph"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/logging"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/ui"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/workflow"
)

var (
	flagConfig   string
	flagLogLevel string
	flagJSON     bool

	flagWorkflow      string
	flagDefaultPower  float64
	flagDeadline      int
	flagFactor        float64
	flagDeadlineBase  string
	flagC             float64
	flagTaskSort      string
	flagShiftMode     string
	flagStrategy      string
	flagMachines      string
	flagPowerInterval int
	flagPowerValues   []float64
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "greensched",
		Short: "Schedule workflows onto green power without missing the deadline",
		Long: `Greensched reads a workflow DAG and a cluster with a green power forecast,
then places every task so that as much of its energy as possible comes from
green power while the whole workflow still finishes by the deadline.`,
		SilenceUsage: true,
	}

	// Global flags
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "YAML experiment file")
	pf.StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.BoolVar(&flagJSON, "json", false, "Machine-readable JSON output")

	pf.StringVar(&flagWorkflow, "workflow", "", "Workflow JSON file")
	pf.Float64Var(&flagDefaultPower, "default-power", 0, "Power of tasks without a power attribute (W)")
	pf.IntVar(&flagDeadline, "deadline", 0, "Workflow deadline in seconds (derived when unset)")
	pf.Float64Var(&flagFactor, "deadline-factor", 0, "Multiplier of the deadline base when no deadline is set")
	pf.StringVar(&flagDeadlineBase, "deadline-base", "", "Deadline base: critical-path or lpt")
	pf.Float64Var(&flagC, "c", 0, "Share of each task's free window withheld for its neighbours, in [0, 1]")
	pf.StringVar(&flagTaskSort, "task-sort", "", "Placement order: energy, power, runtime, runtime_ascending")
	pf.StringVar(&flagShiftMode, "shift-mode", "", "Shift passes: none, left, right-left")
	pf.StringVar(&flagStrategy, "strategy", "", "Boundary strategy: default, single, lpt-path, lpt, lpt-full")
	pf.StringVar(&flagMachines, "machines", "", "Machines as id=cores pairs, e.g. m1=4,m2=2")
	pf.IntVar(&flagPowerInterval, "power-interval", 0, "Seconds each green power value holds")
	pf.Float64SliceVar(&flagPowerValues, "power-values", nil, "Green power values (W)")

	rootCmd.AddCommand(scheduleCmd())
	rootCmd.AddCommand(analyzeCmd())
	rootCmd.AddCommand(experimentCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(statusCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads --config when given and applies every flag the user set
// on top of it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if flagConfig != "" {
		var err error
		if cfg, err = config.Load(flagConfig); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("workflow") {
		cfg.Workflow = flagWorkflow
	}
	if flags.Changed("default-power") {
		cfg.DefaultPower = flagDefaultPower
	}
	if flags.Changed("deadline") {
		d := flagDeadline
		cfg.Deadline = &d
	}
	if flags.Changed("deadline-factor") {
		cfg.DeadlineFactor = flagFactor
	}
	if flags.Changed("deadline-base") {
		cfg.DeadlineBase = flagDeadlineBase
	}
	if flags.Changed("c") {
		cfg.C = flagC
	}
	if flags.Changed("task-sort") {
		cfg.TaskSort = flagTaskSort
	}
	if flags.Changed("shift-mode") {
		cfg.ShiftMode = flagShiftMode
	}
	if flags.Changed("strategy") {
		cfg.BoundaryStrategy = flagStrategy
	}
	if flags.Changed("machines") {
		specs, err := parseMachines(flagMachines)
		if err != nil {
			return nil, err
		}
		cfg.Cluster.Machines = specs
	}
	if flags.Changed("power-interval") {
		cfg.Cluster.Power.Interval = flagPowerInterval
	}
	if flags.Changed("power-values") {
		cfg.Cluster.Power.Values = flagPowerValues
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseMachines parses "m1=4,m2=2". A bare id gets one core.
func parseMachines(s string) ([]cluster.MachineSpec, error) {
	var specs []cluster.MachineSpec
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, cores, found := strings.Cut(part, "=")
		spec := cluster.MachineSpec{ID: id, Cores: 1}
		if found {
			n, err := strconv.Atoi(cores)
			if err != nil {
				return nil, errors.Wrapf(err, "machine %s: cores", id)
			}
			spec.Cores = n
		}
		specs = append(specs, spec)
	}
	if len(specs) == 0 {
		return nil, errors.Errorf("no machines in %q", s)
	}
	return specs, nil
}

// loadWorkflow reads the workflow file named by cfg.
func loadWorkflow(cfg *config.Config) (*graph.TaskGraph, error) {
	if cfg.Workflow == "" {
		return nil, errors.New("no workflow given (use --workflow or the config file)")
	}
	g, err := workflow.Load(cfg.Workflow, cfg.WorkflowOptions())
	if err != nil {
		return nil, errors.Wrap(err, "load workflow")
	}
	return g, nil
}

func newLogger() (*logrus.Logger, error) {
	return logging.New(flagLogLevel, os.Stderr)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintf(os.Stderr, "\n🛑 %s\n", ui.Yellow("Received interrupt, cancelling..."))
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

// --- Output helpers ---

func outputJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
