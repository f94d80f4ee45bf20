package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/gather-vision/internal/progress"
)

// PrometheusSink exports run and fetch counters per source.
type PrometheusSink struct {
	runsStarted  *prometheus.CounterVec
	runsFinished *prometheus.CounterVec
	runsActive   prometheus.Gauge
	runDuration  *prometheus.HistogramVec
	items        *prometheus.CounterVec

	fetches       *prometheus.CounterVec
	fetchErrors   *prometheus.CounterVec
	fetchBytes    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
}

// NewPrometheusSink registers the collectors against reg (the default registerer when nil).
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gather_runs_started_total",
			Help: "Source runs started.",
		}, []string{"source"}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gather_runs_finished_total",
			Help: "Source runs finished partitioned by final state.",
		}, []string{"source", "state"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gather_runs_active",
			Help: "Source runs currently in progress.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gather_run_duration_seconds",
			Help:    "Wall time per finished source run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"source", "state"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gather_items_total",
			Help: "Items forwarded to the sink per source.",
		}, []string{"source"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gather_fetches_total",
			Help: "Fetch completions partitioned by site and status class.",
		}, []string{"site", "status_class"}),
		fetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gather_fetch_errors_total",
			Help: "Fetches that failed before a response was available.",
		}, []string{"site"}),
		fetchBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gather_fetch_bytes_total",
			Help: "Response bytes downloaded per site.",
		}, []string{"site"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gather_fetch_duration_seconds",
			Help:    "Fetch latency partitioned by site.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"site"}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted, s.runsFinished, s.runsActive, s.runDuration, s.items,
		s.fetches, s.fetchErrors, s.fetchBytes, s.fetchDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			s.runsStarted.WithLabelValues(evt.Source).Inc()
			s.runsActive.Inc()
		case progress.StageRunDone, progress.StageRunAbort:
			state := "completed"
			if evt.Stage == progress.StageRunAbort {
				state = "aborted"
			}
			s.runsFinished.WithLabelValues(evt.Source, state).Inc()
			s.runsActive.Dec()
			if evt.Dur > 0 {
				s.runDuration.WithLabelValues(evt.Source, state).Observe(evt.Dur.Seconds())
			}
			if evt.Items > 0 {
				s.items.WithLabelValues(evt.Source).Add(float64(evt.Items))
			}
		case progress.StageFetchDone:
			s.fetches.WithLabelValues(site(evt), string(evt.StatusClass)).Inc()
			if evt.Bytes > 0 {
				s.fetchBytes.WithLabelValues(site(evt)).Add(float64(evt.Bytes))
			}
			if evt.Dur > 0 {
				s.fetchDuration.WithLabelValues(site(evt)).Observe(evt.Dur.Seconds())
			}
		case progress.StageFetchError:
			s.fetchErrors.WithLabelValues(site(evt)).Inc()
		}
	}
	return nil
}

// Close is a no-op.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

func site(evt progress.Event) string {
	if evt.Site == "" {
		return "unknown"
	}
	return evt.Site
}
