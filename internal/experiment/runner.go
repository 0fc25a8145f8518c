// Package experiment runs independent scheduling runs of one workflow
// concurrently and records their outcomes.
package experiment

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/marcelo-torres/green-scheduler-sub000/internal/baseline"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/cluster"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/energy"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/graph"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/logging"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/metrics"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/results"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/schedule"
	"github.com/marcelo-torres/green-scheduler-sub000/internal/scheduler"
)

// Runner executes the runs of an experiment. The graph is shared read-only;
// every run works on its own copy of the cluster.
type Runner struct {
	Graph   *graph.TaskGraph
	Cluster *cluster.Cluster
	Config  Config

	log logrus.FieldLogger
}

// New creates a new Runner.
func New(g *graph.TaskGraph, cl *cluster.Cluster, cfg Config) *Runner {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 4
	}
	if cfg.TimeoutPerRun == 0 {
		cfg.TimeoutPerRun = 10 * time.Minute
	}
	if cfg.ResultsDir == "" {
		cfg.ResultsDir = results.DefaultDir
	}
	return &Runner{
		Graph:   g,
		Cluster: cl,
		Config:  cfg,
		log:     logging.OrDiscard(cfg.Logger),
	}
}

// Run executes specs with at most MaxParallel runs in flight and persists
// every outcome under the experiment id. Runs not started when ctx is done
// are recorded as cancelled.
func (r *Runner) Run(ctx context.Context, id, workflow string, specs []RunSpec) (*results.Experiment, error) {
	exp, err := results.New(r.Config.ResultsDir, id, workflow, len(specs))
	if err != nil {
		return nil, errors.Wrap(err, "init results")
	}
	for _, s := range specs {
		if err := exp.UpdateRun(s.ID, r.pendingRecord(s)); err != nil {
			return nil, err
		}
	}

	done := make(chan runResult, len(specs))
	sem := make(chan struct{}, r.Config.MaxParallel)

	r.log.WithFields(logrus.Fields{
		"experiment":   id,
		"runs":         len(specs),
		"max_parallel": r.Config.MaxParallel,
	}).Info("Experiment started")

	// Timelines must not be cloned concurrently from one source
	for _, s := range specs {
		r.dispatch(ctx, s, r.Cluster.Clone(), sem, done)
	}

	var failed int
	for range specs {
		res := <-done
		if err := exp.UpdateRun(res.ID, res.Record); err != nil {
			r.log.WithError(err).WithField("run", res.ID).Warn("Could not persist run")
		}
		if res.Err != nil && res.Record.Status == results.StatusFailed {
			failed++
		}
	}

	if err := ctx.Err(); err != nil {
		exp.SetStatus("cancelled")
		return exp, errors.Wrap(err, "cancelled")
	}
	exp.SetStatus("completed")
	r.log.WithFields(logrus.Fields{"experiment": id, "failed": failed}).Info("Experiment finished")
	return exp, nil
}

// dispatch launches a run in a goroutine: acquire semaphore, execute, send
// the record on done.
func (r *Runner) dispatch(ctx context.Context, spec RunSpec, cl *cluster.Cluster, sem chan struct{}, done chan<- runResult) {
	go func() {
		select {
		case sem <- struct{}{}: // acquire semaphore
		case <-ctx.Done():
			rec := r.pendingRecord(spec)
			rec.Status = results.StatusCancelled
			rec.Error = ctx.Err().Error()
			done <- runResult{ID: spec.ID, Record: rec, Err: ctx.Err()}
			return
		}
		defer func() { <-sem }() // release semaphore

		rec, err := r.execute(ctx, spec, cl)
		done <- runResult{ID: spec.ID, Record: rec, Err: err}
	}()
}

func (r *Runner) pendingRecord(s RunSpec) *results.RunRecord {
	rec := &results.RunRecord{
		Status:    results.StatusPending,
		TaskSort:  s.Options.TaskSort.String(),
		ShiftMode: s.Options.ShiftMode.String(),
		Strategy:  s.strategyLabel(),
		C:         s.Options.C,
	}
	if s.Algorithm != AlgorithmBoundary {
		rec.TaskSort, rec.ShiftMode = "", ""
	}
	return rec
}

// execute runs one spec with the per-run timeout and classifies the outcome.
func (r *Runner) execute(ctx context.Context, spec RunSpec, cl *cluster.Cluster) (*results.RunRecord, error) {
	runCtx, cancel := context.WithTimeout(ctx, r.Config.TimeoutPerRun)
	defer cancel()

	rec := r.pendingRecord(spec)
	startedAt := time.Now()
	rec.StartedAt = &startedAt
	log := r.log.WithField("run", spec.ID)

	err := r.schedule(runCtx, spec, cl, rec, log)

	finishedAt := time.Now()
	rec.FinishedAt = &finishedAt
	elapsed := finishedAt.Sub(startedAt)

	outcome := metrics.OutcomeOK
	switch {
	case err == nil:
		rec.Status = results.StatusCompleted
		log.WithFields(logrus.Fields{
			"brown":    rec.Brown,
			"makespan": rec.Makespan,
			"elapsed":  elapsed.Round(time.Millisecond),
		}).Info("Run completed")
	case errors.Is(err, scheduler.ErrInfeasible):
		rec.Status = results.StatusInfeasible
		outcome = metrics.OutcomeInfeasible
		log.WithError(err).Info("Run infeasible")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		rec.Status = results.StatusCancelled
		outcome = metrics.OutcomeCancelled
		log.WithError(err).Warn("Run cancelled")
	default:
		rec.Status = results.StatusFailed
		outcome = metrics.OutcomeError
		log.WithError(err).Error("Run failed")
	}
	if err != nil {
		rec.Error = err.Error()
	}

	if r.Config.Metrics != nil {
		r.Config.Metrics.Observe(spec.ID, spec.strategyLabel(), outcome, elapsed, rec.Brown, rec.Makespan)
	}
	return rec, err
}

// schedule runs spec on cl, which it may modify, and fills the outcome
// fields of rec.
func (r *Runner) schedule(ctx context.Context, spec RunSpec, cl *cluster.Cluster, rec *results.RunRecord, log logrus.FieldLogger) error {
	opts := spec.Options
	opts.Logger = log

	var (
		s     schedule.Schedule
		usage energy.Usage
	)
	switch spec.Algorithm {
	case AlgorithmBoundary:
		res, err := scheduler.Schedule(ctx, r.Graph, cl, opts)
		if err != nil {
			return err
		}
		s, usage = res.Schedule, res.Usage
		rec.Deadline = res.Deadline
		rec.BrownBeforeShift = res.BrownBeforeShift
		rec.ShiftKept = res.ShiftKept

	case AlgorithmLPT:
		deadline, err := scheduler.ResolveDeadline(r.Graph, cl, opts)
		if err != nil {
			return err
		}
		if s, err = baseline.LPT(r.Graph, cl.Machines); err != nil {
			return err
		}
		rec.Deadline = deadline

	case AlgorithmTaskFlow:
		deadline, err := scheduler.ResolveDeadline(r.Graph, cl, opts)
		if err != nil {
			return err
		}
		if s, err = baseline.TaskFlow(ctx, r.Graph, cl, deadline, log); err != nil {
			return err
		}
		rec.Deadline = deadline

	default:
		return errors.Wrapf(scheduler.ErrInvalidOption, "unknown algorithm %q", spec.Algorithm)
	}

	if spec.Algorithm != AlgorithmBoundary {
		var err error
		if usage, err = energy.Evaluate(s, r.Graph, cl.Power); err != nil {
			return err
		}
		rec.BrownBeforeShift = usage.Brown
	}

	rec.Makespan = schedule.Makespan(s, r.Graph)
	rec.Brown = usage.Brown
	rec.GreenUnused = usage.GreenUnused
	rec.Total = usage.Total
	rec.Violations = len(schedule.Check(s, r.Graph)) +
		len(schedule.CheckCapacity(s, r.Graph, cl.Cores()))
	return nil
}
