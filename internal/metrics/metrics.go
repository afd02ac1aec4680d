// Package metrics holds the run's prometheus counters. A run has no listener; counters are
// optionally written to a node-exporter textfile when it ends.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are registered on their own registry, never the global one.
type Metrics struct {
	Registry *prometheus.Registry

	CandidatesTotal  *prometheus.CounterVec   // site
	OutcomesTotal    *prometheus.CounterVec   // site, status
	AttemptsTotal    *prometheus.CounterVec   // site
	FallbackTotal    *prometheus.CounterVec   // site
	TransitionsTotal *prometheus.CounterVec   // site, state
	LogoProbesTotal  *prometheus.CounterVec   // result
	RunDuration      *prometheus.HistogramVec // site
	PeakPages        *prometheus.GaugeVec     // site
	LastSuccess      *prometheus.GaugeVec     // site
}

// New returns fresh metrics on a new registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		CandidatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "iptvresolve_candidates_total",
				Help: "Candidates discovered",
			},
			[]string{"site"},
		),
		OutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "iptvresolve_outcomes_total",
				Help: "Candidate outcomes by final status",
			},
			[]string{"site", "status"},
		),
		AttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "iptvresolve_attempts_total",
				Help: "Navigation attempts across all targets",
			},
			[]string{"site"},
		),
		FallbackTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "iptvresolve_content_fallback_total",
				Help: "Addresses found by scanning page content instead of observed requests",
			},
			[]string{"site"},
		),
		TransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "iptvresolve_resolver_transitions_total",
				Help: "Resolver state transitions by destination state",
			},
			[]string{"site", "state"},
		),
		LogoProbesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "iptvresolve_logo_choices_total",
				Help: "Logo decisions: kept the site logo or replaced it with the category fallback",
			},
			[]string{"result"},
		),
		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "iptvresolve_site_duration_seconds",
				Help:    "Wall time of one site run",
				Buckets: prometheus.ExponentialBuckets(5, 2, 10),
			},
			[]string{"site"},
		),
		PeakPages: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "iptvresolve_peak_pages",
				Help: "Highest number of resolvers holding a page at once",
			},
			[]string{"site"},
		),
		LastSuccess: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "iptvresolve_last_success_timestamp_seconds",
				Help: "Unix time the site last wrote a playlist",
			},
			[]string{"site"},
		),
	}
	m.Registry.MustRegister(
		m.CandidatesTotal,
		m.OutcomesTotal,
		m.AttemptsTotal,
		m.FallbackTotal,
		m.TransitionsTotal,
		m.LogoProbesTotal,
		m.RunDuration,
		m.PeakPages,
		m.LastSuccess,
	)
	return m
}

// Succeeded stamps the site's last successful write.
func (m *Metrics) Succeeded(site string, at time.Time) {
	m.LastSuccess.WithLabelValues(site).Set(float64(at.Unix()))
}

// WriteTextfile writes every metric in text exposition format to path (atomically). Empty path is a no-op.
func (m *Metrics) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.Registry)
}
