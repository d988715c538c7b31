// Package metrics holds the Prometheus collectors of the ledger and its workers.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/Nzyazin/arenapay/internal/core/models"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "arenapay"

type Metrics struct {
	workerPasses   *prometheus.CounterVec
	workerDuration *prometheus.HistogramVec
	workerItems    *prometheus.CounterVec
	parkedItems    *prometheus.GaugeVec
	ledgerEntries  *prometheus.CounterVec
	ledgerCents    *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		workerPasses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "passes_total",
			Help:      "Worker passes by result (ok, failed, skipped).",
		}, []string{"worker", "result"}),
		workerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "pass_duration_seconds",
			Help:      "Duration of completed worker passes.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"worker"}),
		workerItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "items_total",
			Help:      "Items handled by workers by outcome.",
		}, []string{"worker", "outcome"}),
		parkedItems: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "parked_items",
			Help:      "Items skipped after exceeding the configured failure budget.",
		}, []string{"worker"}),
		ledgerEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "entries_total",
			Help:      "Committed ledger entries by type.",
		}, []string{"entry_type", "direction"}),
		ledgerCents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "amount_cents_total",
			Help:      "Committed ledger amounts by type, in cents.",
		}, []string{"entry_type", "direction"}),
	}
	if reg != nil {
		reg.MustRegister(m.workerPasses, m.workerDuration, m.workerItems, m.parkedItems, m.ledgerEntries, m.ledgerCents)
	}
	return m
}

func (m *Metrics) ObservePass(worker, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.workerPasses.WithLabelValues(worker, result).Inc()
	if result != "skipped" {
		m.workerDuration.WithLabelValues(worker).Observe(d.Seconds())
	}
}

func (m *Metrics) IncItem(worker, outcome string) {
	if m == nil {
		return
	}
	m.workerItems.WithLabelValues(worker, outcome).Inc()
}

func (m *Metrics) SetParked(worker string, n int) {
	if m == nil {
		return
	}
	m.parkedItems.WithLabelValues(worker).Set(float64(n))
}

// ObserveEntries records entries after their transaction committed.
func (m *Metrics) ObserveEntries(entries ...*models.LedgerEntry) {
	if m == nil {
		return
	}
	for _, e := range entries {
		m.ledgerEntries.WithLabelValues(string(e.EntryType), string(e.Direction)).Inc()
		m.ledgerCents.WithLabelValues(string(e.EntryType), string(e.Direction)).Add(float64(e.AmountCents))
	}
}
