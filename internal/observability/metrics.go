// Package observability exposes the vault's Prometheus metrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// Metrics collects the vault-level Prometheus series. A nil *Metrics is
// valid and records nothing, so services can run without a registry in
// tests.
type Metrics struct {
	httpRequests     *prometheus.CounterVec
	settlements      *prometheus.CounterVec
	shareRatio       prometheus.Gauge
	totalValue       prometheus.Gauge
	totalShares      prometheus.Gauge
	epochLoss        prometheus.Gauge
	emergencyResets  prometheus.Counter
	valuationErrors  prometheus.Counter
}

// New registers the vault metric series on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultflow_http_requests_total",
			Help: "HTTP requests by route and status class.",
		}, []string{"route", "status"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultflow_settlements_total",
			Help: "Executed, cancelled and submitted requests by kind and outcome.",
		}, []string{"kind", "outcome"}),
		shareRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vaultflow_share_ratio",
			Help: "Share ratio captured at the last settlement execution.",
		}),
		totalValue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vaultflow_total_value_usd",
			Help: "Unchecked total USD value recorded at the last settlement execution.",
		}),
		totalShares: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vaultflow_total_shares",
			Help: "Outstanding share supply.",
		}),
		epochLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vaultflow_epoch_loss_usd",
			Help: "Cumulative loss charged in the current epoch.",
		}),
		emergencyResets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vaultflow_emergency_resets_total",
			Help: "Administrative emergency resets of a stuck operation.",
		}),
		valuationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vaultflow_valuation_errors_total",
			Help: "Failed valuation refreshes.",
		}),
	}
	reg.MustRegister(
		m.httpRequests, m.settlements, m.shareRatio, m.totalValue,
		m.totalShares, m.epochLoss, m.emergencyResets, m.valuationErrors,
	)
	return m
}

// ObserveHTTP counts one handled HTTP request.
func (m *Metrics) ObserveHTTP(route, status string) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, status).Inc()
}

// ObserveSettlement counts one settlement event.
func (m *Metrics) ObserveSettlement(kind, outcome string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(kind, outcome).Inc()
}

// SetLedgerGauges records the ratio and totals captured at execution time.
func (m *Metrics) SetLedgerGauges(ratio, total, shares, epochLoss decimal.Decimal) {
	if m == nil {
		return
	}
	m.shareRatio.Set(ratio.InexactFloat64())
	m.totalValue.Set(total.InexactFloat64())
	m.totalShares.Set(shares.InexactFloat64())
	m.epochLoss.Set(epochLoss.InexactFloat64())
}

// ObserveEmergencyReset counts one emergency reset.
func (m *Metrics) ObserveEmergencyReset() {
	if m == nil {
		return
	}
	m.emergencyResets.Inc()
}

// ObserveValuationError counts one failed refresh.
func (m *Metrics) ObserveValuationError() {
	if m == nil {
		return
	}
	m.valuationErrors.Inc()
}
