// ============================================================================
// Storage Core Metrics - Prometheus Monitoring
// ============================================================================
//
// Package: internal/metrics
// Purpose: Expose journal health and maintenance activity to Prometheus.
// Repair outcomes, compaction runs, and the per-journal statistics that
// feed the compaction recommendation are exactly the things an operator
// wants alerted on.
//
// Monitoring philosophy: RED (rate, errors, duration) for the
// maintenance operations (repair, compaction) and USE (utilization) for
// per-journal size/redundancy.
//
// Metric Categories:
//
//   1. Per-journal gauges (set by ObserveStats; the compact command calls
//      it for each journal it rewrites):
//      - storecore_journal_file_size_bytes
//      - storecore_journal_server_events
//      - storecore_journal_driver_events
//      - storecore_journal_redundant_records
//
//   2. Maintenance counters (cumulative, monotonically increasing):
//      - storecore_repairs_total
//      - storecore_repair_lost_bytes_total
//      - storecore_compactions_total
//
// Prometheus Query Examples:
//
//   # Journals with high redundancy relative to server events
//   storecore_journal_redundant_records / storecore_journal_server_events
//
//   # Total bytes ever lost to repair across the fleet
//   storecore_repair_lost_bytes_total
//
// ============================================================================

package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nimbusdb/storecore/pkg/storecore"
)

// Collector collects Prometheus metrics for the storage core.
type Collector struct {
	fileSize         *prometheus.GaugeVec
	serverEvents     *prometheus.GaugeVec
	driverEvents     *prometheus.GaugeVec
	redundantRecords *prometheus.GaugeVec
	repairsTotal     prometheus.Counter
	repairLostBytes  prometheus.Counter
	compactionsTotal prometheus.Counter
}

// NewCollector creates and registers a new metrics collector.
func NewCollector() *Collector {
	c := &Collector{
		fileSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "storecore_journal_file_size_bytes",
			Help: "Current on-disk size of a journal file",
		}, []string{"path"}),
		serverEvents: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "storecore_journal_server_events",
			Help: "Server events observed in a journal as of its last scan",
		}, []string{"path"}),
		driverEvents: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "storecore_journal_driver_events",
			Help: "Driver events (Closed/Reopened) observed in a journal as of its last scan",
		}, []string{"path"}),
		redundantRecords: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "storecore_journal_redundant_records",
			Help: "Update/delete records observed in a journal as of its last scan",
		}, []string{"path"}),
		repairsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storecore_repairs_total",
			Help: "Total number of journal repair operations performed",
		}),
		repairLostBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storecore_repair_lost_bytes_total",
			Help: "Total bytes discarded across all repair operations",
		}),
		compactionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storecore_compactions_total",
			Help: "Total number of journal compaction operations performed",
		}),
	}

	prometheus.MustRegister(
		c.fileSize, c.serverEvents, c.driverEvents, c.redundantRecords,
		c.repairsTotal, c.repairLostBytes, c.compactionsTotal,
	)

	return c
}

// ObserveStats records a journal's statistics as of its last scan/open,
// labeled by path.
func (c *Collector) ObserveStats(path string, s storecore.Stats) {
	c.fileSize.WithLabelValues(path).Set(float64(s.FileSize))
	c.serverEvents.WithLabelValues(path).Set(float64(s.ServerEventCount))
	c.driverEvents.WithLabelValues(path).Set(float64(s.DriverEventCount))
	c.redundantRecords.WithLabelValues(path).Set(float64(s.RedundantRecordCount))
}

// RecordRepair records one repair operation's outcome.
func (c *Collector) RecordRepair(outcome storecore.RepairOutcome) {
	c.repairsTotal.Inc()
	if !outcome.NoErrors {
		c.repairLostBytes.Add(float64(outcome.LostBytes))
	}
}

// RecordCompaction records one compaction operation.
func (c *Collector) RecordCompaction() {
	c.compactionsTotal.Inc()
}

// StartServer starts the Prometheus /metrics HTTP endpoint.
func StartServer(port int) error {
	http.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	return http.ListenAndServe(addr, nil)
}
