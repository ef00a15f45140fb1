package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters and histograms for ingestion runs.
type Metrics struct {
	registry *prometheus.Registry

	PeriodsFetched   *prometheus.CounterVec // labels: outcome={data,empty,error}
	RecordsExtracted prometheus.Counter
	RecordsSaved     prometheus.Counter
	RecordsSkipped   prometheus.Counter
	RowErrors        prometheus.Counter
	PublishErrors    prometheus.Counter
	FetchDuration    prometheus.Histogram
	LastRunSuccess   *prometheus.GaugeVec // labels: mode
	LastRunTimestamp *prometheus.GaugeVec // labels: mode
}

// NewMetrics creates the ingestion metrics on a dedicated registry. A cron
// run is short-lived, so the registry is written to a textfile rather than
// scraped.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		PeriodsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "prtr_etl",
			Name:      "periods_fetched_total",
			Help:      "Periods requested from the open-data API by outcome.",
		}, []string{"outcome"}),
		RecordsExtracted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "prtr_etl",
			Name:      "records_extracted_total",
			Help:      "Records decoded from API responses.",
		}),
		RecordsSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "prtr_etl",
			Name:      "records_saved_total",
			Help:      "Record files written.",
		}),
		RecordsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "prtr_etl",
			Name:      "records_skipped_total",
			Help:      "Records without a usable unique id.",
		}),
		RowErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "prtr_etl",
			Name:      "row_errors_total",
			Help:      "Records that failed to serialize or write.",
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "prtr_etl",
			Name:      "publish_errors_total",
			Help:      "Failed downstream notifications.",
		}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "prtr_etl",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of a single upstream request.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		LastRunSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "prtr_etl",
			Name:      "last_run_success",
			Help:      "1 if the last run of the mode succeeded, 0 otherwise.",
		}, []string{"mode"}),
		LastRunTimestamp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "prtr_etl",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run of the mode finished.",
		}, []string{"mode"}),
	}

	m.registry.MustRegister(
		m.PeriodsFetched,
		m.RecordsExtracted,
		m.RecordsSaved,
		m.RecordsSkipped,
		m.RowErrors,
		m.PublishErrors,
		m.FetchDuration,
		m.LastRunSuccess,
		m.LastRunTimestamp,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes the current metric values in the text exposition
// format, atomically replacing path (node_exporter textfile collector).
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
