// Package metrics exposes experiment runs as Prometheus metrics.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Outcome labels of a finished run.
const (
	OutcomeOK         = "ok"
	OutcomeInfeasible = "infeasible"
	OutcomeError      = "error"
	OutcomeCancelled  = "cancelled"
)

// Recorder holds the run metrics on a private registry.
type Recorder struct {
	registry *prometheus.Registry

	runs     *prometheus.CounterVec
	brown    *prometheus.GaugeVec
	makespan *prometheus.GaugeVec
	duration *prometheus.HistogramVec
}

// NewRecorder creates and registers the run metrics.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "greensched_runs_total",
				Help: "Scheduling runs by boundary strategy and outcome.",
			},
			[]string{"strategy", "outcome"},
		),
		brown: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "greensched_brown_energy_joules",
				Help: "Brown energy of the last successful run of an experiment.",
			},
			[]string{"experiment"},
		),
		makespan: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "greensched_makespan_seconds",
				Help: "Makespan of the last successful run of an experiment.",
			},
			[]string{"experiment"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "greensched_schedule_duration_seconds",
				Help:    "Wall time spent scheduling one run.",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"strategy"},
		),
	}
	r.registry.MustRegister(r.runs, r.brown, r.makespan, r.duration)
	return r
}

// Observe records one finished run.
func (r *Recorder) Observe(experiment, strategy, outcome string, elapsed time.Duration, brown float64, makespan int) {
	r.runs.WithLabelValues(strategy, outcome).Inc()
	r.duration.WithLabelValues(strategy).Observe(elapsed.Seconds())
	if outcome == OutcomeOK {
		r.brown.WithLabelValues(experiment).Set(brown)
		r.makespan.WithLabelValues(experiment).Set(float64(makespan))
	}
}

// Registry returns the registry the metrics live on.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (r *Recorder) Serve(ctx context.Context, addr string, log logrus.FieldLogger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdown)
	}()

	log.WithField("addr", addr).Info("Serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "metrics server")
	}
	return nil
}
