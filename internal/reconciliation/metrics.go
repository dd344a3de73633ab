package reconciliation

import "github.com/prometheus/client_golang/prometheus"

var (
	reconcileTipsSettled = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "agentbroker",
		Subsystem: "reconciliation",
		Name:      "tips_settled_total",
		Help:      "Total tips successfully settled by the nightly batch.",
	})

	reconcileSettlementErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "agentbroker",
		Subsystem: "reconciliation",
		Name:      "settlement_errors_total",
		Help:      "Total tip settlement failures in the nightly batch.",
	})
)

func init() {
	prometheus.MustRegister(
		reconcileTipsSettled,
		reconcileSettlementErrors,
	)
}
