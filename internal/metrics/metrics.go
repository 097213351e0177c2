// Package metrics exposes Prometheus instrumentation for the card
// pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/titlecardmaker/titlecardmaker/internal/library"
)

// Metrics holds the pipeline's Prometheus collectors.
type Metrics struct {
	JobRuns       *prometheus.CounterVec
	CardsBuilt    prometheus.Counter
	CardsUploaded prometheus.Counter
	SeriesSynced  prometheus.Counter

	snapshotSeries    prometheus.Gauge
	snapshotEpisodes  prometheus.Gauge
	snapshotCards     prometheus.Gauge
	snapshotLoaded    prometheus.Gauge
	snapshotCardBytes prometheus.Gauge
}

// New creates and registers the collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tcm",
			Name:      "job_runs_total",
			Help:      "Job firings by job name and outcome.",
		}, []string{"job", "outcome"}),
		CardsBuilt: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tcm",
			Name:      "cards_built_total",
			Help:      "Card artifacts rendered.",
		}),
		CardsUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tcm",
			Name:      "cards_uploaded_total",
			Help:      "Card artifacts accepted by media servers.",
		}),
		SeriesSynced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tcm",
			Name:      "series_synced_total",
			Help:      "Series upserted by sync runs.",
		}),
		snapshotSeries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tcm",
			Name:      "snapshot_series",
			Help:      "Series count at the last snapshot.",
		}),
		snapshotEpisodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tcm",
			Name:      "snapshot_episodes",
			Help:      "Live episode count at the last snapshot.",
		}),
		snapshotCards: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tcm",
			Name:      "snapshot_cards",
			Help:      "Active card count at the last snapshot.",
		}),
		snapshotLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tcm",
			Name:      "snapshot_loaded",
			Help:      "Loaded upload records at the last snapshot.",
		}),
		snapshotCardBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tcm",
			Name:      "snapshot_card_bytes",
			Help:      "Total bytes of active cards at the last snapshot.",
		}),
	}

	reg.MustRegister(m.JobRuns, m.CardsBuilt, m.CardsUploaded, m.SeriesSynced,
		m.snapshotSeries, m.snapshotEpisodes, m.snapshotCards, m.snapshotLoaded,
		m.snapshotCardBytes)
	return m
}

// ObserveSnapshot publishes a snapshot row's counts as gauges.
func (m *Metrics) ObserveSnapshot(s *library.Snapshot) {
	m.snapshotSeries.Set(float64(s.Series))
	m.snapshotEpisodes.Set(float64(s.Episodes))
	m.snapshotCards.Set(float64(s.Cards))
	m.snapshotLoaded.Set(float64(s.Loaded))
	m.snapshotCardBytes.Set(float64(s.CardBytes))
}
