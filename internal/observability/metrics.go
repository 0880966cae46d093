// Package observability holds the process's Prometheus metrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are registered once at wire time and shared by reference.
type Metrics struct {
	OperationsTotal *prometheus.CounterVec // terminal operations by type and status
	UserOpsTotal    *prometheus.CounterVec // bundler sends by provider and outcome
	LoopTicksTotal  *prometheus.CounterVec // loop ticks by loop name and outcome
	BackupsTotal    *prometheus.CounterVec // backup runs by outcome
}

// NewMetrics registers the fleet metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		OperationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetd_operations_total",
			Help: "Terminal operations by type and final status.",
		}, []string{"type", "status"}),
		UserOpsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetd_user_operations_total",
			Help: "Bundler send attempts by provider and outcome.",
		}, []string{"provider", "outcome"}),
		LoopTicksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetd_loop_ticks_total",
			Help: "Background loop ticks by loop and outcome.",
		}, []string{"loop", "outcome"}),
		BackupsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetd_backups_total",
			Help: "Store backup runs by outcome.",
		}, []string{"outcome"}),
	}
}

// The recording helpers tolerate a nil receiver so components can run
// without a registry in tests.

// RecordOperation counts one operation reaching a terminal status.
func (m *Metrics) RecordOperation(opType, status string) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(opType, status).Inc()
}

// RecordUserOpAttempt counts one bundler send attempt.
func (m *Metrics) RecordUserOpAttempt(provider string, ok bool) {
	if m == nil {
		return
	}
	m.UserOpsTotal.WithLabelValues(provider, outcome(ok)).Inc()
}

// RecordLoopTick counts one background loop tick.
func (m *Metrics) RecordLoopTick(loop string, ok bool) {
	if m == nil {
		return
	}
	m.LoopTicksTotal.WithLabelValues(loop, outcome(ok)).Inc()
}

func outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
