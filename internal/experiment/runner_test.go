package experiment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/markphelps/optional"

	"github.com/marcelo-torres/green-scheduler-sub000/internal/boundary"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/cluster"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/energy"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/graph"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/metrics"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/results"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/scheduler"
)

func diamondFan(t *testing.T) *graph.TaskGraph {
	t.Helper()
	g, err := graph.BuildFromRaw([]graph.RawTask{
		{ID: "1", Runtime: 10, Power: 10},
		{ID: "2", Runtime: 7, Power: 10, Parents: []string{"1"}},
		{ID: "3", Runtime: 2, Power: 10, Parents: []string{"1"}},
		{ID: "4", Runtime: 4, Power: 10, Parents: []string{"2", "3"}},
		{ID: "5", Runtime: 8, Power: 10, Parents: []string{"4"}},
		{ID: "6", Runtime: 9, Power: 10, Parents: []string{"4"}},
		{ID: "7", Runtime: 1, Power: 10, Parents: []string{"5", "6"}},
	})
	if err != nil {
		t.Fatalf("BuildFromRaw: %v", err)
	}
	return g
}

func wideCluster(t *testing.T) *cluster.Cluster {
	t.Helper()
	cl, err := cluster.New("c1", energy.PowerSeries{Interval: 10, Values: []float64{0, 20, 40, 20}},
		cluster.MachineSpec{ID: "m1", Cores: 8},
		cluster.MachineSpec{ID: "m2", Cores: 1})
	if err != nil {
		t.Fatalf("cluster.New: %v", err)
	}
	return cl
}

func TestNew_Defaults(t *testing.T) {
	r := New(nil, nil, Config{})
	if r.Config.MaxParallel != 4 {
		t.Errorf("expected default max parallel 4, got %d", r.Config.MaxParallel)
	}
	if r.Config.TimeoutPerRun != 10*time.Minute {
		t.Errorf("expected default timeout 10m, got %v", r.Config.TimeoutPerRun)
	}
	if r.Config.ResultsDir != results.DefaultDir {
		t.Errorf("expected default results dir, got %q", r.Config.ResultsDir)
	}
}

func TestNew_Custom(t *testing.T) {
	r := New(nil, nil, Config{MaxParallel: 8, TimeoutPerRun: time.Hour, ResultsDir: "out"})
	if r.Config.MaxParallel != 8 {
		t.Errorf("expected 8, got %d", r.Config.MaxParallel)
	}
	if r.Config.ResultsDir != "out" {
		t.Errorf("expected out, got %q", r.Config.ResultsDir)
	}
}

func TestGridSpecs(t *testing.T) {
	g := Grid{
		Base:       scheduler.Options{ShiftMode: scheduler.ShiftLeft},
		TaskSorts:  []scheduler.TaskSort{scheduler.SortEnergy, scheduler.SortPower},
		Strategies: []boundary.Strategy{boundary.Default, boundary.LPT},
		CValues:    []float64{0, 0.5},
		Baselines:  true,
	}
	specs := g.Specs()
	if len(specs) != 10 {
		t.Fatalf("expected 10 specs, got %d", len(specs))
	}
	if specs[0].ID != "energy_left_default_c0.00" {
		t.Errorf("unexpected first id %q", specs[0].ID)
	}
	if specs[7].ID != "power_left_lpt_c0.50" {
		t.Errorf("unexpected last grid id %q", specs[7].ID)
	}
	if specs[8].Algorithm != AlgorithmLPT || specs[9].Algorithm != AlgorithmTaskFlow {
		t.Error("expected baselines at the end")
	}

	seen := make(map[string]bool)
	for _, s := range specs {
		if seen[s.ID] {
			t.Errorf("duplicate spec id %q", s.ID)
		}
		seen[s.ID] = true
	}
}

func TestGridSpecs_FallsBackToBase(t *testing.T) {
	specs := Grid{Base: scheduler.Options{C: 0.25, BoundaryStrategy: boundary.Single}}.Specs()
	if len(specs) != 1 {
		t.Fatalf("expected a single spec, got %d", len(specs))
	}
	if specs[0].Options.C != 0.25 || specs[0].Options.BoundaryStrategy != boundary.Single {
		t.Errorf("expected base options, got %+v", specs[0].Options)
	}
}

func TestRun_RecordsEveryRun(t *testing.T) {
	dir := t.TempDir()
	rec := metrics.NewRecorder()
	cl := wideCluster(t)
	before := cl.Machines[0].Breakpoints()

	r := New(diamondFan(t), cl, Config{MaxParallel: 2, ResultsDir: dir, Metrics: rec})
	specs := Grid{
		ShiftModes: []scheduler.ShiftMode{scheduler.ShiftNone, scheduler.ShiftRightLeft},
		Strategies: boundary.Strategies,
		CValues:    []float64{0, 0.5},
		Baselines:  true,
	}.Specs()

	exp, err := r.Run(context.Background(), "exp-1", "diamond.json", specs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if exp.Status != "completed" {
		t.Errorf("expected completed, got %s", exp.Status)
	}

	ids := exp.RunIDs()
	if len(ids) != len(specs) {
		t.Fatalf("expected %d runs, got %d", len(specs), len(ids))
	}
	for _, id := range ids {
		run := exp.GetRun(id)
		if run.Status != results.StatusCompleted {
			t.Errorf("run %s: expected completed, got %s (%s)", id, run.Status, run.Error)
			continue
		}
		if run.Violations != 0 {
			t.Errorf("run %s: %d violations", id, run.Violations)
		}
		if run.Total != 410 {
			t.Errorf("run %s: expected total energy 410, got %g", id, run.Total)
		}
		if run.Brown > run.BrownBeforeShift+1e-9 {
			t.Errorf("run %s: shift increased brown energy", id)
		}
		if run.StartedAt == nil || run.FinishedAt == nil {
			t.Errorf("run %s: missing timestamps", id)
		}
	}

	loaded, err := results.Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded.Runs) != len(specs) {
		t.Errorf("expected %d persisted runs, got %d", len(specs), len(loaded.Runs))
	}

	families, err := rec.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var counted float64
	for _, f := range families {
		if f.GetName() != "greensched_runs_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			counted += m.GetCounter().GetValue()
		}
	}
	if int(counted) != len(specs) {
		t.Errorf("expected %d counted runs, got %g", len(specs), counted)
	}

	after := cl.Machines[0].Breakpoints()
	if len(after) != len(before) {
		t.Error("runs must not modify the shared cluster")
	}
}

func TestRun_Infeasible(t *testing.T) {
	r := New(diamondFan(t), wideCluster(t), Config{ResultsDir: t.TempDir()})
	specs := Grid{Base: scheduler.Options{Deadline: optional.NewInt(20)}}.Specs()

	exp, err := r.Run(context.Background(), "exp-2", "diamond.json", specs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	run := exp.GetRun(specs[0].ID)
	if run.Status != results.StatusInfeasible {
		t.Errorf("expected infeasible, got %s", run.Status)
	}
	if run.Error == "" {
		t.Error("expected error message")
	}
}

func TestRun_Cancelled(t *testing.T) {
	r := New(diamondFan(t), wideCluster(t), Config{MaxParallel: 1, ResultsDir: t.TempDir()})
	specs := Grid{CValues: []float64{0, 0.5, 1}}.Specs()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exp, err := r.Run(ctx, "exp-3", "diamond.json", specs)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if exp.Status != "cancelled" {
		t.Errorf("expected cancelled, got %s", exp.Status)
	}
	for _, id := range exp.RunIDs() {
		if s := exp.GetRun(id).Status; s != results.StatusCancelled {
			t.Errorf("run %s: expected cancelled, got %s", id, s)
		}
	}
}
