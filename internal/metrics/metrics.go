// Package metrics holds the Prometheus collectors of the service. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tipvault"

// Metrics groups service collectors.
type Metrics struct {
	depositsCredited   prometheus.Counter
	depositUnits       prometheus.Counter
	depositsDuplicated prometheus.Counter
	depositsFailed     prometheus.Counter
	pendingDeposits    prometheus.Gauge
	stableTopoheight   prometheus.Gauge
	engineRestarts     prometheus.Counter
	transfers          *prometheus.CounterVec
	withdrawals        *prometheus.CounterVec
	notifications      *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		depositsCredited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "deposits_credited_total",
			Help: "Confirmed deposits credited to the ledger.",
		}),
		depositUnits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "deposit_units_total",
			Help: "Atomic units credited from deposits.",
		}),
		depositsDuplicated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "deposits_duplicate_total",
			Help: "Confirmed deposits skipped because they were already credited.",
		}),
		depositsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "deposits_failed_total",
			Help: "Deposit applications that failed and were requeued.",
		}),
		pendingDeposits: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pending_deposits",
			Help: "Deposits observed but not yet stable.",
		}),
		stableTopoheight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "stable_topoheight",
			Help: "Last stable topoheight processed by the reconciliation engine.",
		}),
		engineRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "engine_restarts_total",
			Help: "Reconciliation loop restarts after an error.",
		}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "transfers_total",
			Help: "Off-chain transfers by result.",
		}, []string{"result"}),
		withdrawals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "withdrawals_total",
			Help: "Withdrawals by result.",
		}, []string{"result"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "notifications_total",
			Help: "Notifications by kind and result.",
		}, []string{"kind", "result"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.depositsCredited, m.depositUnits, m.depositsDuplicated, m.depositsFailed,
			m.pendingDeposits, m.stableTopoheight, m.engineRestarts,
			m.transfers, m.withdrawals, m.notifications,
		)
	}
	return m
}

func (m *Metrics) DepositCredited(units uint64) {
	if m == nil {
		return
	}
	m.depositsCredited.Inc()
	m.depositUnits.Add(float64(units))
}

func (m *Metrics) DepositDuplicate() {
	if m == nil {
		return
	}
	m.depositsDuplicated.Inc()
}

func (m *Metrics) DepositFailed() {
	if m == nil {
		return
	}
	m.depositsFailed.Inc()
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pendingDeposits.Set(float64(n))
}

func (m *Metrics) SetStableTopoheight(h uint64) {
	if m == nil {
		return
	}
	m.stableTopoheight.Set(float64(h))
}

func (m *Metrics) EngineRestarted() {
	if m == nil {
		return
	}
	m.engineRestarts.Inc()
}

func (m *Metrics) Transfer(result string) {
	if m == nil {
		return
	}
	m.transfers.WithLabelValues(result).Inc()
}

func (m *Metrics) Withdrawal(result string) {
	if m == nil {
		return
	}
	m.withdrawals.WithLabelValues(result).Inc()
}

func (m *Metrics) Notification(kind, result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(kind, result).Inc()
}
